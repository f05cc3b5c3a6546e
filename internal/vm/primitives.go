package vm

import (
	"fmt"

	"github.com/idio-lang/idio/internal/module"
	"github.com/idio-lang/idio/internal/value"
	"github.com/idio-lang/idio/internal/xenv"
)

// primitives.go bootstraps the predefined bindings that give the VM
// something to PRIMCALL into: arithmetic, comparison, the three equivalence
// predicates, pair/list construction, `apply`/`call/cc`, and `print`.

// predef is one row of the bootstrap table.
type predef struct {
	name    string
	arity   int // -1: any arity.
	varargs bool
	fn      value.PrimitiveFn
}

// Bootstrap installs every predefined primitive into rt's root module and
// xenv 0's value table, called once by the CLI driver before loading any
// user source. th is the thread predefs needing VM re-entry (apply,
// call/cc) are bound against.
func Bootstrap(rt *xenv.Runtime, th *Thread) {
	for _, p := range predefs(th) {
		installPredef(rt, p)
	}
}

func installPredef(rt *xenv.Runtime, p predef) {
	root := rt.Modules.Root()
	sym := rt.Symbols.Intern(p.name)

	prim := &value.Primitive{Name: p.name, Arity: p.arity, Varargs: p.varargs, Fn: p.fn}

	x := rt.Bootstrap()
	ci := x.ConstantsLookupOrExtend(sym)
	symIndex := x.ExtendTables(rt, ci)
	vi := x.VT(symIndex)
	rt.SetValue(vi, prim)

	si := module.SI{
		Scope:       module.ScopePredef,
		XI:          x.Index,
		SymIndex:    symIndex,
		ConstIndex:  ci,
		ValIndex:    vi,
		ModuleIndex: rt.Modules.IndexOf(root),
		Description: fmt.Sprintf("predefined %s", p.name),
	}

	root.Define(sym, si)
	root.Export(sym)
}

func predefs(th *Thread) []predef {
	return []predef{
		{"+", -1, true, primAdd},
		{"-", -1, true, primSub},
		{"*", -1, true, primMul},
		{"/", -1, true, primDiv},

		{"eq?", 2, false, primEq},
		{"eqv?", 2, false, primEqv},
		{"equal?", 2, false, primEqual},

		{"<", -1, true, primLt},
		{"<=", -1, true, primLe},
		{">", -1, true, primGt},
		{">=", -1, true, primGe},
		{"=", -1, true, primNumEq},

		{"pair?", 1, false, primPairP},
		{"null?", 1, false, primNullP},
		{"cons", 2, false, primCons},
		{"ph", 1, false, primPh},
		{"pt", 1, false, primPt},
		{"set-ph!", 2, false, primSetPh},
		{"set-pt!", 2, false, primSetPt},
		{"list", -1, true, primList},
		{"append", -1, true, primAppend},
		{"length", 1, false, primLength},

		{"not", 1, false, primNot},

		{"raise", 1, false, primRaise},
		{"%%vm-trace", 1, false, func(args []value.Value) (value.Value, error) {
			th.SetTrace(value.IsTrue(args[0]))
			return value.Unspec, nil
		}},

		{"apply", -1, true, func(args []value.Value) (value.Value, error) { return primApply(th, args) }},
		{"call/cc", 1, false, func(args []value.Value) (value.Value, error) { return th.CallCC(args[0]) }},
		{"call-with-current-continuation", 1, false, func(args []value.Value) (value.Value, error) { return th.CallCC(args[0]) }},

		{"print", -1, true, func(args []value.Value) (value.Value, error) { return primPrint(th, args) }},
		{"display", -1, true, func(args []value.Value) (value.Value, error) { return primPrint(th, args) }},

		{"type-name", 1, false, func(args []value.Value) (value.Value, error) { return vtableCall(th, "typename", args[0]) }},
		{"2string", 1, false, func(args []value.Value) (value.Value, error) { return vtableCall(th, "2string", args[0]) }},
		{"vtable-members", 1, false, func(args []value.Value) (value.Value, error) { return primVtableMembers(th, args[0]) }},
	}
}

// vtableCall dispatches a named method on v's vtable, raising
// ^rt-vtable-method-unbound-error on a miss.
func vtableCall(th *Thread, name string, v value.Value) (value.Value, error) {
	entry, err := th.Vtables.ForValue(v).Lookup(name, false)
	if err != nil {
		return nil, value.NewCondition(value.CondRTVtableMethodUnbound, "", err.Error())
	}

	return entry.Invoke(v)
}

func primVtableMembers(th *Thread, v value.Value) (value.Value, error) {
	names := th.Vtables.ForValue(v).Members()
	elems := make([]value.Value, len(names))

	for i, n := range names {
		elems[i] = value.NewString(n)
	}

	return value.List(elems...), nil
}

func asFixnum(v value.Value, pos int, who string) (value.Fixnum, error) {
	f, ok := v.(value.Fixnum)
	if !ok {
		return 0, value.NewCondition(value.CondEvaluationError, "", fmt.Sprintf("%s: argument %d is not a fixnum: %s", who, pos, value.SafeString(v)))
	}

	return f, nil
}

func primAdd(args []value.Value) (value.Value, error) {
	var sum value.Fixnum

	for i, a := range args {
		f, err := asFixnum(a, i, "+")
		if err != nil {
			return nil, err
		}

		sum += f
	}

	return sum, nil
}

func primSub(args []value.Value) (value.Value, error) {
	if len(args) == 0 {
		return nil, value.ArityError("-", 1, 0)
	}

	first, err := asFixnum(args[0], 0, "-")
	if err != nil {
		return nil, err
	}

	if len(args) == 1 {
		return -first, nil
	}

	acc := first

	for i, a := range args[1:] {
		f, err := asFixnum(a, i+1, "-")
		if err != nil {
			return nil, err
		}

		acc -= f
	}

	return acc, nil
}

func primMul(args []value.Value) (value.Value, error) {
	acc := value.Fixnum(1)

	for i, a := range args {
		f, err := asFixnum(a, i, "*")
		if err != nil {
			return nil, err
		}

		acc *= f
	}

	return acc, nil
}

func primDiv(args []value.Value) (value.Value, error) {
	if len(args) == 0 {
		return nil, value.ArityError("/", 1, 0)
	}

	first, err := asFixnum(args[0], 0, "/")
	if err != nil {
		return nil, err
	}

	if len(args) == 1 {
		if first == 0 {
			return nil, value.NewCondition(value.CondEvaluationError, "", "/: division by zero")
		}

		return value.Fixnum(1) / first, nil
	}

	acc := first

	for i, a := range args[1:] {
		f, err := asFixnum(a, i+1, "/")
		if err != nil {
			return nil, err
		}

		if f == 0 {
			return nil, value.NewCondition(value.CondEvaluationError, "", "/: division by zero")
		}

		acc /= f
	}

	return acc, nil
}

func primEq(args []value.Value) (value.Value, error) {
	return value.Boolean(value.Eq(args[0], args[1])), nil
}

func primEqv(args []value.Value) (value.Value, error) {
	return value.Boolean(value.Eqv(args[0], args[1])), nil
}

func primEqual(args []value.Value) (value.Value, error) {
	return value.Boolean(value.Equal(args[0], args[1])), nil
}

func chainCompare(who string, args []value.Value, ok func(a, b value.Fixnum) bool) (value.Value, error) {
	for i := 0; i+1 < len(args); i++ {
		a, err := asFixnum(args[i], i, who)
		if err != nil {
			return nil, err
		}

		b, err := asFixnum(args[i+1], i+1, who)
		if err != nil {
			return nil, err
		}

		if !ok(a, b) {
			return value.False, nil
		}
	}

	return value.True, nil
}

func primLt(args []value.Value) (value.Value, error) {
	return chainCompare("<", args, func(a, b value.Fixnum) bool { return a < b })
}

func primLe(args []value.Value) (value.Value, error) {
	return chainCompare("<=", args, func(a, b value.Fixnum) bool { return a <= b })
}

func primGt(args []value.Value) (value.Value, error) {
	return chainCompare(">", args, func(a, b value.Fixnum) bool { return a > b })
}

func primGe(args []value.Value) (value.Value, error) {
	return chainCompare(">=", args, func(a, b value.Fixnum) bool { return a >= b })
}

func primNumEq(args []value.Value) (value.Value, error) {
	return chainCompare("=", args, func(a, b value.Fixnum) bool { return a == b })
}

func primPairP(args []value.Value) (value.Value, error) {
	_, ok := args[0].(*value.Pair)
	return value.Boolean(ok), nil
}

func primNullP(args []value.Value) (value.Value, error) {
	c, ok := args[0].(value.Constant)
	return value.Boolean(ok && c == value.Nil), nil
}

func primCons(args []value.Value) (value.Value, error) {
	return &value.Pair{Head: args[0], Tail: args[1]}, nil
}

func primPh(args []value.Value) (value.Value, error) {
	h, ok := value.Ph(args[0])
	if !ok {
		return nil, value.NewCondition(value.CondEvaluationError, "", "ph: not a pair: "+value.SafeString(args[0]))
	}

	return h, nil
}

func primPt(args []value.Value) (value.Value, error) {
	t, ok := value.Pt(args[0])
	if !ok {
		return nil, value.NewCondition(value.CondEvaluationError, "", "pt: not a pair: "+value.SafeString(args[0]))
	}

	return t, nil
}

func primSetPh(args []value.Value) (value.Value, error) {
	p, ok := args[0].(*value.Pair)
	if !ok {
		return nil, value.NewCondition(value.CondEvaluationError, "", "set-ph!: not a pair")
	}

	p.Head = args[1]

	return value.Unspec, nil
}

func primSetPt(args []value.Value) (value.Value, error) {
	p, ok := args[0].(*value.Pair)
	if !ok {
		return nil, value.NewCondition(value.CondEvaluationError, "", "set-pt!: not a pair")
	}

	p.Tail = args[1]

	return value.Unspec, nil
}

func primList(args []value.Value) (value.Value, error) {
	return value.List(args...), nil
}

// primAppend concatenates proper lists; the final argument becomes the tail
// of the result unchanged, so (append '(1) 2) is the improper (1 . 2).
func primAppend(args []value.Value) (value.Value, error) {
	if len(args) == 0 {
		return value.Nil, nil
	}

	var result value.Value = args[len(args)-1]

	for i := len(args) - 2; i >= 0; i-- {
		elems, ok := value.Slice(args[i])
		if !ok {
			return nil, value.NewCondition(value.CondEvaluationError, "", "append: not a list: "+value.SafeString(args[i]))
		}

		for j := len(elems) - 1; j >= 0; j-- {
			result = &value.Pair{Head: elems[j], Tail: result}
		}
	}

	return result, nil
}

func primLength(args []value.Value) (value.Value, error) {
	n := value.Length(args[0])
	if n < 0 {
		return nil, value.NewCondition(value.CondEvaluationError, "", "length: not a list: "+value.SafeString(args[0]))
	}

	return value.Fixnum(n), nil
}

func primNot(args []value.Value) (value.Value, error) {
	return value.Boolean(!value.IsTrue(args[0])), nil
}

// primRaise raises a condition: either a condition value re-raised as-is,
// or a symbol naming a condition type (e.g. '^rt-module-error), from which
// a fresh non-continuable condition is built.
func primRaise(args []value.Value) (value.Value, error) {
	switch c := args[0].(type) {
	case *value.Condition:
		return nil, c
	case *value.Symbol:
		return nil, value.NewCondition(value.ConditionKind(c.Name()), "", "raised")
	default:
		return nil, value.NewCondition(value.CondEvaluationError, "", "raise: not a condition: "+value.SafeString(args[0]))
	}
}

// primApply implements `(apply fn arg... rest-list)`: every argument but
// the last is passed through directly, the last is spread.
func primApply(th *Thread, args []value.Value) (value.Value, error) {
	if len(args) < 1 {
		return nil, value.ArityError("apply", 1, len(args))
	}

	fn := args[0]
	rest := args[1:]

	if len(rest) == 0 {
		return th.Apply(fn, nil)
	}

	last := rest[len(rest)-1]
	spread, ok := value.Slice(last)

	if !ok {
		return nil, value.NewCondition(value.CondEvaluationError, "", "apply: last argument is not a list")
	}

	call := append(append([]value.Value(nil), rest[:len(rest)-1]...), spread...)

	return th.Apply(fn, call)
}

func primPrint(th *Thread, args []value.Value) (value.Value, error) {
	out := th.Handles[1]
	if out == nil {
		return value.Unspec, nil
	}

	for _, a := range args {
		if s, ok := a.(*value.String); ok {
			out.WriteString(s.Go())
		} else {
			out.WriteString(value.SafeString(a))
		}
	}

	out.WriteString("\n")

	return value.Unspec, nil
}
