package eval

import (
	"fmt"

	"github.com/idio-lang/idio/internal/value"
)

// operator.go installs the built-in operators every fresh Evaluator
// carries: infix arithmetic and comparison rewrites at tight-binding
// priorities, and the assignment family at priority 1000, the
// loosest-binding group. User operators defined with
// define-infix-operator/define-postfix-operator land in the same table
// (template.go) and are walked by the same groups.

// builtinOperator describes one native rewrite: an infix spelling and the
// prefix name it rewrites to.
type builtinOperator struct {
	spelling string
	target   string
	priority int
}

var builtinOperators = []builtinOperator{
	{"*", "*", 500},
	{"/", "/", 500},
	{"+", "+", 600},
	{"-", "-", 600},
	{"lt", "<", 700},
	{"le", "<=", 700},
	{"gt", ">", 700},
	{"ge", ">=", 700},
	{"eq", "eq?", 700},
}

// assignmentOperators is the built-in family installed at priority 1000.
var assignmentOperators = []string{"=", ":=", ":+", ":~", ":*", ":$"}

func (ev *Evaluator) installBuiltinOperators() {
	for _, b := range builtinOperators {
		target := ev.sym(b.target)
		ev.operators.installNative(ev.sym(b.spelling), b.priority, rewriteToPrefix(target))
	}

	for _, name := range assignmentOperators {
		op := ev.sym(name)
		ev.operators.installNative(op, 1000, rewriteAssignment(op))
	}
}

// rewriteToPrefix turns `(a... op b...)` into `(target a' b')`, where a
// one-element fragment stands for itself and a longer one for the
// application it spells.
func rewriteToPrefix(target *value.Symbol) nativeOperatorFn {
	return func(op *value.Symbol, before, after []value.Value) (value.Value, error) {
		if len(before) == 0 || len(after) == 0 {
			return nil, fmt.Errorf("eval: operator %s needs operands on both sides", op.Name())
		}

		return value.List(target, fragmentExpr(before), fragmentExpr(after)), nil
	}
}

// rewriteAssignment turns `(name op v...)` into `(op name v')`; the
// left-hand fragment must be a single symbol.
func rewriteAssignment(target *value.Symbol) nativeOperatorFn {
	return func(op *value.Symbol, before, after []value.Value) (value.Value, error) {
		if len(before) != 1 {
			return nil, fmt.Errorf("eval: %s takes a single name on its left", op.Name())
		}

		if _, ok := before[0].(*value.Symbol); !ok {
			return nil, fmt.Errorf("eval: %s target must be a symbol", op.Name())
		}

		if len(after) == 0 {
			return nil, fmt.Errorf("eval: %s needs a value on its right", op.Name())
		}

		if target.Name() == ":$" {
			// `name :$ getter setter` keeps its operands separate.
			return value.List(append([]value.Value{target, before[0]}, after...)...), nil
		}

		return value.List(target, before[0], fragmentExpr(after)), nil
	}
}

func fragmentExpr(frag []value.Value) value.Value {
	if len(frag) == 1 {
		return frag[0]
	}

	return value.List(frag...)
}
