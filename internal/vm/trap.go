package vm

import "github.com/idio-lang/idio/internal/value"

// trap.go implements condition raising and trap/escaper selection.

// findTrap returns the stack index of the nearest (innermost) trapRecord
// whose condition kind is an ancestor-or-self match for kind, scanning from
// the top of the control stack down.
func (th *Thread) findTrap(kind value.ConditionKind) (int, bool) {
	for i := len(th.Stack) - 1; i >= 0; i-- {
		if tr, ok := th.Stack[i].(trapRecord); ok && kind.IsA(tr.kind) {
			return i, true
		}
	}

	return 0, false
}

// handleRaise services a non-continuable raise for the trap record found
// on the shared control stack, if any belongs to this dispatch frame's
// tenure (stack index >= base). Matching longjmp semantics, the handler's
// result becomes the value of the %trap form itself: execution resumes
// just past the trap's POP_TRAP, not at the raising instruction.
func (th *Thread) handleRaise(base int, cond *value.Condition) (val value.Value, owned bool, err error) {
	ti, ok := th.findTrap(cond.Kind)
	if !ok || ti < base {
		return nil, false, nil
	}

	tr := th.Stack[ti].(trapRecord)
	th.unwindTo(ti)

	args := value.NewFrame(nil, 1)
	args.Args[0] = cond

	result, ierr := th.invokeValue(tr.handler, args)
	if ierr != nil {
		return nil, true, ierr
	}

	th.XI, th.PC, th.Frame, th.Module = tr.xi, tr.pc, tr.frame, tr.mod
	th.Val = result

	return result, true, nil
}

// RaiseContinuable services a continuable condition synchronously: if a
// matching trap is installed, its handler runs and its return value becomes
// RaiseContinuable's own return value -- an ordinary Go call, since nothing
// needs to be abandoned. No built-in primitive in primitives.go calls it;
// they report faults as error returns.
func (th *Thread) RaiseContinuable(cond *value.Condition) (value.Value, error) {
	ti, ok := th.findTrap(cond.Kind)
	if !ok {
		return nil, cond
	}

	tr := th.Stack[ti].(trapRecord)

	// The handler runs with its own trap record out of the running: a
	// re-raise of the same condition inside the handler selects the next
	// trap out, not itself.
	th.Stack[ti] = callMark{}
	defer func() {
		if ti < len(th.Stack) {
			th.Stack[ti] = tr
		}
	}()

	args := value.NewFrame(nil, 1)
	args.Args[0] = cond

	return th.invokeValue(tr.handler, args)
}

// escapeTo unwinds to the nearest escaperRecord matching label, panicking
// with escapeSignal to cross however many Go call frames of nested
// dispatch/invoke lie between here and the frame that owns it (see the
// package doc's note on PRESERVE_STATE/RESTORE_STATE for why this needs
// panic/recover rather than a plain return).
func (th *Thread) escapeTo(label int, val value.Value) {
	for i := len(th.Stack) - 1; i >= 0; i-- {
		if er, ok := th.Stack[i].(escaperRecord); ok && er.label == label {
			panic(escapeSignal{target: i, val: val})
		}
	}

	panic(raiseSignal{value.NewCondition(value.CondEvaluationError, th.location(), "escape to unknown label")})
}

// Invoke implements eval.Invoker: it runs fn with args, used by the
// evaluator to re-enter the VM for template expansion and operator
// invocation. Since invoke is just
// another nested Go call into dispatch, no real OS thread or setjmp is
// needed -- the call stack IS the expander thread's stack for the duration
// of the call.
func (th *Thread) Invoke(fn value.Value, args []value.Value) (value.Value, error) {
	callerXI, callerPC, callerFrame, callerFunc, callerMod := th.XI, th.PC, th.Frame, th.Func, th.Module

	frame := value.NewFrame(nil, len(args))
	copy(frame.Args, args)

	result, err := th.invokeValue(fn, frame)

	th.XI, th.PC, th.Frame, th.Func, th.Module = callerXI, callerPC, callerFrame, callerFunc, callerMod

	return result, err
}

// Apply is the public, user-facing entry point for the `apply` primitive:
// identical to Invoke but named for what primitives.go installs it as.
func (th *Thread) Apply(fn value.Value, args []value.Value) (value.Value, error) {
	return th.Invoke(fn, args)
}
