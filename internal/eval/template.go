package eval

import (
	"fmt"
	"sort"
	"sync"

	"github.com/idio-lang/idio/internal/codegen"
	"github.com/idio-lang/idio/internal/value"
)

// template.go implements templates and infix/postfix operators. Both
// features compile a name to a fresh toplevel binding the same way
// `define` does, but the *compiler* -- not just the running program --
// treats the bound name specially from then on: a template's name, once
// its define-template form has been compiled and run, causes subsequent
// occurrences as a list head to be rewritten by calling the installed
// closure; an operator's name causes subsequent occurrences as a list
// element to trigger operator-expand.
//
// Both follow the same two-pass pattern used throughout internal/eval: a
// compile-time table (here, Evaluator.expanders/operators) mirrors a
// runtime value slot (vi), the same si->ci->vi indirection resolve.go uses
// for ordinary bindings, so that by the time the *next* top-level form is
// compiled the previous one has already run and the table's vi now holds
// a live closure.

// expanderEntry records a template's value slot and its uncompiled source,
// the latter kept only for introspection/error messages.
type expanderEntry struct {
	vi     int
	source value.Value
}

// operatorEntry records one infix or postfix operator's priority and value
// slot. Built-in operators (the assignment family and the arithmetic/
// comparison rewrites) carry a native Go function instead of a vi.
type operatorEntry struct {
	sym      *value.Symbol
	priority int
	vi       int
	postfix  bool
	native   nativeOperatorFn
}

// nativeOperatorFn rewrites (before... op after...) without re-entering the
// VM.
type nativeOperatorFn func(op *value.Symbol, before, after []value.Value) (value.Value, error)

// operatorTable is the priority-grouped registry operator-expand walks.
// Priorities are walked from highest to lowest and the form is split at
// the first operator found, so a low-priority
// operator (e.g. multiplication) binds tighter than a high-priority one
// (e.g. the built-in assignment operators installed at priority 1000),
// matching the usual precedence-climbing convention where assignment is
// the loosest-binding, outermost operator.
type operatorTable struct {
	mu         sync.Mutex
	byName     map[*value.Symbol]*operatorEntry
	byPriority map[int][]*operatorEntry
	priorities []int
}

func newOperatorTable() *operatorTable {
	return &operatorTable{
		byName:     make(map[*value.Symbol]*operatorEntry),
		byPriority: make(map[int][]*operatorEntry),
	}
}

func (t *operatorTable) install(sym *value.Symbol, priority, vi int, postfix bool) {
	t.installEntry(&operatorEntry{sym: sym, priority: priority, vi: vi, postfix: postfix})
}

func (t *operatorTable) installNative(sym *value.Symbol, priority int, fn nativeOperatorFn) {
	t.installEntry(&operatorEntry{sym: sym, priority: priority, native: fn})
}

func (t *operatorTable) installEntry(e *operatorEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sym, priority := e.sym, e.priority

	if old, ok := t.byName[sym]; ok {
		// Redefinition at a (possibly different) priority: drop the old
		// group entry for this symbol before reinserting, so a group
		// never carries two records for the same name.
		group := t.byPriority[old.priority]

		for i, g := range group {
			if g.sym == sym {
				t.byPriority[old.priority] = append(group[:i:i], group[i+1:]...)
				break
			}
		}
	}

	if _, ok := t.byPriority[priority]; !ok {
		t.priorities = append(t.priorities, priority)
		sort.Ints(t.priorities)
	}

	t.byName[sym] = e
	t.byPriority[priority] = append(t.byPriority[priority], e)
}

func (t *operatorTable) lookup(sym *value.Symbol) (*operatorEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byName[sym]

	return e, ok
}

// group returns the operator entries installed at priority, in the order
// they were added.
func (t *operatorTable) group(priority int) []*operatorEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]*operatorEntry(nil), t.byPriority[priority]...)
}

// prioritiesAscending returns the installed priority values, lowest (most
// tightly binding) first.
func (t *operatorTable) prioritiesAscending() []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]int(nil), t.priorities...)
}

// installExpander registers sym as a template name with value slot vi.
// Called at compile time, before the defining form has actually run --
// expandTemplates only consults the slot's live value, not this map's
// mere presence, so a self-referential template body (which could only
// ever see the placeholder #<undef>) still fails the way it should: before
// dispatching on a form's head symbol, that symbol is expanded only if its
// value slot already holds a live closure.
func (ev *Evaluator) installExpander(sym *value.Symbol, vi int, source value.Value) {
	ev.expanders[sym] = &expanderEntry{vi: vi, source: source}
}

// compileTemplateDef compiles `(define-template name value)`. name becomes an ordinary toplevel binding -- so `name` itself
// can still be referenced as a value -- plus an entry in ev.expanders so
// that future occurrences of name as a list head are expanded rather than
// treated as a call.
func (ev *Evaluator) compileTemplateDef(env Env, args []value.Value) (*codegen.Node, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("eval: define-template takes a name and a value")
	}

	sym, tmpl, err := ev.desugarTemplate(args)
	if err != nil {
		return nil, err
	}

	valNode, err := ev.Meaning(env.tail(false), tmpl)
	if err != nil {
		return nil, err
	}

	si := installDefine(env, sym, "template")
	ev.installExpander(sym, si.ValIndex, tmpl)

	defNode := &codegen.Node{Kind: codegen.KExpanderDef, SI: localSI(env, sym, si)}

	return sequenceValueThenSet(valNode, defNode), nil
}

// desugarTemplate turns define-template's argument list into (name,
// expander-function). The plain form names an explicit 2-arg (x e)
// expander; the pattern form `(define-template (name p...) body...)` wraps
// body in a function over p... applied to the expanded form's tail, so the
// body sees the use site's sub-forms bound by position.
func (ev *Evaluator) desugarTemplate(args []value.Value) (*value.Symbol, value.Value, error) {
	head, ok := args[0].(*value.Pair)
	if !ok {
		sym, ok := args[0].(*value.Symbol)
		if !ok {
			return nil, nil, fmt.Errorf("eval: define-template's target must be a symbol")
		}

		if len(args) != 2 {
			return nil, nil, fmt.Errorf("eval: define-template takes a name and a value")
		}

		return sym, args[1], nil
	}

	sym, ok := head.Head.(*value.Symbol)
	if !ok {
		return nil, nil, fmt.Errorf("eval: define-template's target must be a symbol")
	}

	formArg := ev.rt.Symbols.Gensym("template-form")
	nextArg := ev.rt.Symbols.Gensym("template-next")

	inner := &value.Pair{
		Head: ev.sym("function"),
		Tail: &value.Pair{Head: head.Tail, Tail: value.List(args[1:]...)},
	}

	tmpl := value.List(
		ev.sym("function"),
		value.List(formArg, nextArg),
		value.List(ev.sym("apply"), inner, value.List(ev.sym("pt"), formArg)),
	)

	return sym, tmpl, nil
}

// compileOperatorDef compiles `(define-infix-operator name priority body)`
// or, for postfix, `(define-postfix-operator name priority body)`.
// priority must be a literal fixnum: operator-expand needs to
// know every installed priority at compile time, before the defining
// form's own code has run, to group this operator correctly against
// operators defined in forms compiled afterwards.
func (ev *Evaluator) compileOperatorDef(env Env, args []value.Value, postfix bool) (*codegen.Node, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("eval: define-infix-operator/define-postfix-operator takes a name, a priority and a body")
	}

	sym, ok := args[0].(*value.Symbol)
	if !ok {
		return nil, fmt.Errorf("eval: operator's target must be a symbol")
	}

	prio, ok := args[1].(value.Fixnum)
	if !ok {
		return nil, fmt.Errorf("eval: operator priority must be a literal fixnum")
	}

	bodyNode, err := ev.Meaning(env.tail(false), args[2])
	if err != nil {
		return nil, err
	}

	si := installDefine(env, sym, "operator")
	ev.operators.install(sym, int(prio), si.ValIndex, postfix)

	defNode := &codegen.Node{
		Kind:     codegen.KOperatorDef,
		SI:       localSI(env, sym, si),
		NFormals: int(prio),
	}

	return sequenceValueThenSet(bodyNode, defNode), nil
}

// opaqueToOperators names the heads whose forms operator-expand must leave
// alone.
var opaqueToOperators = map[string]bool{
	"quote":                   true,
	"quasiquote":              true,
	"define-template":         true,
	"define-infix-operator":   true,
	"define-postfix-operator": true,
}

// expandTemplates is the pre-processing step run before dispatching on a
// form's head symbol: first operator-expand, then template expansion,
// iterated to a fixpoint. Both rewrite src into a fresh form
// which must itself be re-checked (an operator's result can itself start
// with a template name, and vice versa), so the two passes share one loop
// rather than running once each.
func (ev *Evaluator) expandTemplates(env Env, src value.Value) (value.Value, error) {
	for {
		pair, ok := src.(*value.Pair)
		if !ok {
			return src, nil
		}

		if head, ok := pair.Head.(*value.Symbol); ok && opaqueToOperators[head.Name()] {
			// Quoting forms take their arguments literally, and the operator
			// definition forms name an operator as a direct element; neither
			// may be rewritten out from under themselves.
			return src, nil
		}

		expanded, did, err := ev.operatorExpand(env, pair)
		if err != nil {
			return nil, err
		}

		if did {
			src = expanded
			continue
		}

		sym, ok := pair.Head.(*value.Symbol)
		if !ok {
			return src, nil
		}

		entry, ok := ev.expanders[sym]
		if !ok {
			return src, nil
		}

		fn := ev.rt.GetValue(entry.vi)
		if fn == nil || fn == value.Undef {
			return src, nil
		}

		if ev.invoker == nil {
			return nil, fmt.Errorf("eval: template %s used before the VM invoker was installed", sym.Name())
		}

		nextFn := ev.nextExpanderPrimitive(env)

		expanded, err = ev.invoker.Invoke(fn, []value.Value{src, nextFn})
		if err != nil {
			return nil, fmt.Errorf("eval: expanding template %s: %w", sym.Name(), err)
		}

		src = expanded
	}
}

// nextExpanderPrimitive builds the "next expander" callback an expander
// function's second argument (the e of its (x e) parameters) is bound to:
// a one-argument primitive. Calling it re-runs expandTemplates on its
// argument, letting a template explicitly request full expansion of a
// sub-form it spliced in rather than leaving that to its own return
// value's eventual re-scan.
func (ev *Evaluator) nextExpanderPrimitive(env Env) *value.Primitive {
	return &value.Primitive{
		Name:  "%expander-next",
		Arity: 1,
		Fn: func(args []value.Value) (value.Value, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("eval: next-expander takes exactly one argument")
			}

			return ev.expandTemplates(env, args[0])
		},
	}
}

// operatorExpand walks the priority groups from the highest priority value
// (loosest-binding) down, and within a group scans form's elements
// left-to-right for the first symbol naming an installed operator there.
// A postfix operator only matches as the last element. On a match, the
// operator's function is invoked with (op, before-fragment,
// after-fragment) -- or (op, before-fragment) for postfix, there being no
// after-fragment -- and its result becomes the new form, to be re-expanded
// by the caller's loop.
func (ev *Evaluator) operatorExpand(env Env, form value.Value) (value.Value, bool, error) {
	elems, ok := value.Slice(form)
	if !ok || len(elems) < 2 {
		return form, false, nil
	}

	prios := ev.operators.prioritiesAscending()

	for i := len(prios) - 1; i >= 0; i-- {
		for _, entry := range ev.operators.group(prios[i]) {
			idx, ok := findOperatorSymbol(elems, entry)
			if !ok {
				continue
			}

			if entry.native != nil {
				result, err := entry.native(entry.sym, elems[:idx], elems[idx+1:])
				if err != nil {
					return nil, false, err
				}

				return result, true, nil
			}

			fn := ev.rt.GetValue(entry.vi)
			if fn == nil || fn == value.Undef {
				continue
			}

			if ev.invoker == nil {
				return nil, false, fmt.Errorf("eval: operator %s used before the VM invoker was installed", entry.sym.Name())
			}

			before := value.List(elems[:idx]...)
			after := value.List(elems[idx+1:]...)

			var callArgs []value.Value
			if entry.postfix {
				callArgs = []value.Value{entry.sym, before}
			} else {
				callArgs = []value.Value{entry.sym, before, after}
			}

			result, err := ev.invoker.Invoke(fn, callArgs)
			if err != nil {
				return nil, false, fmt.Errorf("eval: expanding operator %s: %w", entry.sym.Name(), err)
			}

			return result, true, nil
		}
	}

	return form, false, nil
}

// findOperatorSymbol scans elems for entry's symbol, honouring the
// postfix constraint that it must be the final element.
func findOperatorSymbol(elems []value.Value, entry *operatorEntry) (int, bool) {
	for i, e := range elems {
		if i == 0 {
			// Head position is an ordinary application (or special form) of
			// the same name, never an operator use.
			continue
		}

		sym, ok := e.(*value.Symbol)
		if !ok || sym != entry.sym {
			continue
		}

		if entry.postfix && i != len(elems)-1 {
			continue
		}

		if !entry.postfix && i == len(elems)-1 {
			// An infix operator needs something to its right.
			continue
		}

		return i, true
	}

	return 0, false
}
