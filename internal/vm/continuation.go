package vm

import "github.com/idio-lang/idio/internal/value"

// continuation.go implements call/cc as an escape-only (upward) non-local
// exit: invoking a captured continuation unwinds the Go call stack back to
// the point call/cc was entered, exactly like ESCAPE_FROM, but the target
// is recorded in the value.Continuation itself rather than looked up by a
// compile-time label.
//
// This is a deliberate simplification from a fully re-entrant call/cc
// (invocable after its dynamic extent has already returned, any number of
// times): doing that faithfully would require copying Go's own growable
// goroutine stack, which the runtime does not expose. See the package doc
// and DESIGN.md. Early returns and generator-style escapes only need the
// escape-only form.

// CallCC implements the `call/cc` primitive: it invokes fn with a single
// argument, a continuation that, if invoked, makes CallCC itself return
// that argument.
func (th *Thread) CallCC(fn value.Value) (value.Value, error) {
	target := len(th.Stack)

	th.Stack = append(th.Stack, escaperRecord{
		label: -1,
		xi:    th.XI,
		pc:    th.PC,
		frame: th.Frame,
		mod:   th.Module,
	})

	k := &value.Continuation{Snapshot: target, Label: "k"}

	// An invoked continuation panics past this frame and the dispatch frame
	// that recovers it drops the record; only a normal return unwinds here.
	v, err := th.Invoke(fn, []value.Value{k})
	if len(th.Stack) > target {
		th.unwindTo(target)
	}

	return v, err
}

// invokeContinuation is invokeValue's helper for the *value.Continuation
// case: it escapes to the captured point with val as the resumed value.
func (th *Thread) invokeContinuation(k *value.Continuation, val value.Value) {
	target, ok := k.Snapshot.(int)
	if ok && target < len(th.Stack) {
		_, ok = th.Stack[target].(escaperRecord)
	}

	if !ok || target >= len(th.Stack) {
		panic(raiseSignal{value.NewCondition(value.CondEvaluationError, th.location(), "stale continuation")})
	}

	panic(escapeSignal{target: target, val: val})
}
