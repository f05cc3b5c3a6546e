package vm

import (
	"strings"
	"testing"

	"github.com/idio-lang/idio/internal/codegen"
	"github.com/idio-lang/idio/internal/eval"
	"github.com/idio-lang/idio/internal/reader"
	"github.com/idio-lang/idio/internal/value"
	"github.com/idio-lang/idio/internal/xenv"
)

// testEngine drives the full reader -> evaluator -> codegen -> VM pipeline
// the way the CLI does, against a private Runtime per test.
type testEngine struct {
	rt *xenv.Runtime
	ev *eval.Evaluator
	th *Thread
}

func newTestEngine(tt *testing.T) *testEngine {
	tt.Helper()

	rt := xenv.NewRuntime()
	ev := eval.NewEvaluator(rt)
	th := NewThread(rt, ev)

	Bootstrap(rt, th)

	return &testEngine{rt: rt, ev: ev, th: th}
}

// evalAll compiles and runs each top-level form of src in order, returning
// the last value produced.
func (e *testEngine) evalAll(src string) (value.Value, error) {
	rd := reader.New(src, e.rt.Symbols, e.rt.Keywords)

	forms, err := rd.ReadAll()
	if err != nil {
		return nil, err
	}

	x := e.rt.Bootstrap()
	result := value.Value(value.Void)

	for _, form := range forms {
		env := e.ev.TopEnv(x, e.rt.Modules.Root())

		node, err := e.ev.Meaning(env, form.Expr)
		if err != nil {
			return nil, err
		}

		seIdx := x.ExtendSrcExprs(form.Expr, nil)
		gen := codegen.NewGenerator(x, e.rt)

		pc, err := gen.GenerateExpr(node, seIdx)
		if err != nil {
			return nil, err
		}

		x.AppendByteCode(byte(codegen.FINISH))

		if err := e.th.RunFrom(x.Index, pc, nil); err != nil {
			return nil, err
		}

		result = e.th.Val
	}

	return result, nil
}

func (e *testEngine) mustEval(tt *testing.T, src string) value.Value {
	tt.Helper()

	v, err := e.evalAll(src)
	if err != nil {
		tt.Fatalf("eval %q: %v", src, err)
	}

	return v
}

func wantFixnum(tt *testing.T, got value.Value, want int64) {
	tt.Helper()

	f, ok := got.(value.Fixnum)
	if !ok || int64(f) != want {
		tt.Errorf("got %s, want %d", value.SafeString(got), want)
	}
}

func TestPrimitiveAddition(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)
	wantFixnum(tt, e.mustEval(tt, "(+ 1 2)"), 3)
}

func TestPrimCallShortCircuit(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	// cons is a fixed-arity, non-varargs predef, so (cons 1 2) compiles to
	// a PRIMCALL2 node, skipping frame allocation entirely.
	rd := reader.New("(cons 1 2)", e.rt.Symbols, e.rt.Keywords)

	forms, err := rd.ReadAll()
	if err != nil {
		tt.Fatalf("read: %v", err)
	}

	env := e.ev.TopEnv(e.rt.Bootstrap(), e.rt.Modules.Root())

	node, err := e.ev.Meaning(env, forms[0].Expr)
	if err != nil {
		tt.Fatalf("meaning: %v", err)
	}

	if node.Kind != codegen.KPrimCall || node.PrimN != 2 {
		tt.Errorf("node kind %d primN %d, want KPrimCall/2", node.Kind, node.PrimN)
	}

	v := e.mustEval(tt, "(cons 1 2)")

	p, ok := v.(*value.Pair)
	if !ok {
		tt.Fatalf("got %s, want a pair", value.SafeString(v))
	}

	wantFixnum(tt, p.Head, 1)
	wantFixnum(tt, p.Tail, 2)
}

func TestClosureAndTailCall(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	v := e.mustEval(tt, `
		(define (fact n) (if (n le 1) 1 (n * (fact (n - 1)))))
		(fact 5)
	`)
	wantFixnum(tt, v, 120)
}

func TestTailCallDoesNotGrowStack(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	v := e.mustEval(tt, `
		(define (loop n) (if (n le 0) 'done (loop (n - 1))))
		(loop 50000)
	`)

	if v != e.rt.Symbols.Intern("done") {
		tt.Errorf("got %s, want done", value.SafeString(v))
	}
}

func TestTemplateExpansion(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	v := e.mustEval(tt, `
		(define-template (my-if c t e) (list 'if c t e))
		(my-if #t 1 2)
	`)
	wantFixnum(tt, v, 1)

	v = e.mustEval(tt, "(my-if #f 1 2)")
	wantFixnum(tt, v, 2)
}

func TestQuasiquote(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	v := e.mustEval(tt, "`(1 2 ,(+ 1 2))")
	if value.SafeString(v) != "(1 2 3)" {
		tt.Errorf("got %s, want (1 2 3)", value.SafeString(v))
	}

	v = e.mustEval(tt, "`(1 ,@(list 2 3) 4)")
	if value.SafeString(v) != "(1 2 3 4)" {
		tt.Errorf("got %s, want (1 2 3 4)", value.SafeString(v))
	}

	// Round trip: a quasiquote free of unquotes evaluates to the quoted
	// structure itself.
	v = e.mustEval(tt, "`(a (b c))")
	if value.SafeString(v) != "(a (b c))" {
		tt.Errorf("got %s, want (a (b c))", value.SafeString(v))
	}
}

func TestTrapCatchesUnbound(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	depthBefore := len(e.th.Stack)

	v := e.mustEval(tt, "(%trap ^rt-variable-unbound (function (c) 'caught) (+ 1 undefined-name))")

	if v != e.rt.Symbols.Intern("caught") {
		tt.Errorf("got %s, want caught", value.SafeString(v))
	}

	if got := len(e.th.Stack); got != depthBefore {
		tt.Errorf("stack leak: depth %d before, %d after", depthBefore, got)
	}
}

func TestTrapInnerWinsOverOuter(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	v := e.mustEval(tt, `
		(%trap ^rt-variable-unbound (function (c) 'outer)
			(%trap ^rt-variable-unbound (function (c) 'inner)
				(+ 1 undefined-name)))
	`)

	if v != e.rt.Symbols.Intern("inner") {
		tt.Errorf("got %s, want inner", value.SafeString(v))
	}
}

func TestTrapAncestryMatch(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	// A trap for ^rt-module-error catches a raise of its descendant
	// ^rt-module-symbol-unbound-error.
	v := e.mustEval(tt, "(%trap ^rt-module-error (function (c) 'caught) (raise '^rt-module-symbol-unbound-error))")
	if v != e.rt.Symbols.Intern("caught") {
		tt.Errorf("got %s, want caught", value.SafeString(v))
	}

	// An unrelated condition passes straight through.
	_, err := e.evalAll("(%trap ^rt-module-error (function (c) 'wrong) (+ 1 undefined-name))")
	if err == nil {
		tt.Fatalf("expected ^rt-variable-unbound to pass an unrelated trap")
	}

	if !strings.Contains(err.Error(), "rt-variable-unbound") {
		tt.Errorf("unexpected error: %v", err)
	}
}

func TestDynamicLet(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	v := e.mustEval(tt, "(dynamic-let (D 7) (dynamic D))")
	wantFixnum(tt, v, 7)

	// After the extent ends the binding is gone again.
	if _, err := e.evalAll("(dynamic D)"); err == nil {
		tt.Fatalf("expected ^rt-variable-unbound after dynamic-let returned")
	}
}

func TestDynamicLetUnwindsOnCondition(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	depthBefore := len(e.th.Stack)

	_, err := e.evalAll("(dynamic-let (D 7) (+ 1 undefined-name))")
	if err == nil {
		tt.Fatalf("expected the condition to propagate")
	}

	if got := len(e.th.Stack); got != depthBefore {
		tt.Errorf("stack leak: depth %d before, %d after", depthBefore, got)
	}

	if _, err := e.evalAll("(dynamic D)"); err == nil {
		tt.Errorf("expected D to be unbound after abnormal exit")
	}
}

func TestToplevelDynamicDefine(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	v := e.mustEval(tt, `
		(:~ D 41)
		(dynamic-let (D 7) (dynamic D))
	`)
	wantFixnum(tt, v, 7)

	// The toplevel value is restored once the extent ends.
	wantFixnum(tt, e.mustEval(tt, "(dynamic D)"), 41)
}

func TestEnvironLet(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	v := e.mustEval(tt, "(environ-let (PATH 7) PATH)")
	wantFixnum(tt, v, 7)
}

func TestInfixOperatorDefinition(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	v := e.mustEval(tt, `
		(define-infix-operator ++ 500 (function (op b a) (list '+ (ph b) (ph a))))
		(1 ++ 2)
	`)
	wantFixnum(tt, v, 3)
}

func TestAssignmentOperators(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	v := e.mustEval(tt, `
		(define x 1)
		(x = 41)
		(+ x 1)
	`)
	wantFixnum(tt, v, 42)
}

func TestEscaper(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	v := e.mustEval(tt, "(escape out (+ 1 (escape-from out 42)))")
	wantFixnum(tt, v, 42)

	// escape-from with no enclosing escape of that label is a static
	// (compile-time) error.
	if _, err := e.evalAll("(escape-from nowhere 1)"); err == nil {
		tt.Fatalf("expected a static error for an unbound escape label")
	}
}

func TestCallCC(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	v := e.mustEval(tt, "(call/cc (function (k) (+ 1 (k 41))))")
	wantFixnum(tt, v, 41)

	// A continuation that is never invoked: call/cc returns the body's
	// value.
	v = e.mustEval(tt, "(call/cc (function (k) 7))")
	wantFixnum(tt, v, 7)
}

func TestComputedVariable(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	v := e.mustEval(tt, `
		(define cell 2)
		(:$ C (function () (* cell 2)) (function (v) (set! cell v)))
		C
	`)
	wantFixnum(tt, v, 4)

	v = e.mustEval(tt, `
		(set! C 10)
		C
	`)
	wantFixnum(tt, v, 20)
}

func TestClosedApplicationEquivalence(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	direct := e.mustEval(tt, "((function (a b) (+ a b)) 20 22)")
	let := e.mustEval(tt, "(let ((a 20) (b 22)) (+ a b))")

	if !value.Eqv(direct, let) {
		tt.Errorf("closed application %s != let %s", value.SafeString(direct), value.SafeString(let))
	}

	wantFixnum(tt, direct, 42)
}

func TestLetForms(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	wantFixnum(tt, e.mustEval(tt, "(let* ((a 1) (b (+ a 1))) (+ a b))"), 3)
	wantFixnum(tt, e.mustEval(tt, `
		(letrec ((even? (function (n) (if (eq? n 0) #t (odd? (- n 1)))))
		         (odd?  (function (n) (if (eq? n 0) #f (even? (- n 1))))))
			(if (even? 10) 1 0))
	`), 1)
	wantFixnum(tt, e.mustEval(tt, `
		(let sum ((n 10) (acc 0))
			(if (eq? n 0) acc (sum (- n 1) (+ acc n))))
	`), 55)
}

func TestBodyRewriting(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	// Interior defines hoist into a letrec over the remaining body.
	wantFixnum(tt, e.mustEval(tt, `
		((function ()
			(define a 40)
			(define b 2)
			(+ a b)))
	`), 42)

	// := introduces a nested let scope at body position.
	wantFixnum(tt, e.mustEval(tt, `
		((function (x)
			(:= y (+ x 1))
			(+ x y))
		 20)
	`), 41)
}

func TestBlock(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	wantFixnum(tt, e.mustEval(tt, "(block (define t 6) (* t 7))"), 42)
}

func TestCondForms(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	wantFixnum(tt, e.mustEval(tt, "(cond (#f 1) (#t 2) (else 3))"), 2)
	wantFixnum(tt, e.mustEval(tt, "(cond (#f 1) (else 3))"), 3)

	// Lone-test clause: the test's own value is the result.
	wantFixnum(tt, e.mustEval(tt, "(cond (#f) (7))"), 7)

	// => clause: the receiver gets the test's value.
	wantFixnum(tt, e.mustEval(tt, "(cond ((+ 1 2) => (function (v) (* v 2))) (else 0))"), 6)
}

func TestAndOrNot(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	wantFixnum(tt, e.mustEval(tt, "(and 1 2 3)"), 3)

	if v := e.mustEval(tt, "(and 1 #f 3)"); v != value.False {
		tt.Errorf("(and 1 #f 3) = %s, want #f", value.SafeString(v))
	}

	wantFixnum(tt, e.mustEval(tt, "(or #f 2 3)"), 2)

	if v := e.mustEval(tt, "(not #f)"); v != value.True {
		tt.Errorf("(not #f) = %s, want #t", value.SafeString(v))
	}
}

func TestVarargs(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	v := e.mustEval(tt, `
		(define (rest-of first . rest) rest)
		(rest-of 1 2 3)
	`)

	if value.SafeString(v) != "(2 3)" {
		tt.Errorf("got %s, want (2 3)", value.SafeString(v))
	}

	// Empty rest still binds to the empty list.
	v = e.mustEval(tt, "(rest-of 1)")
	if v != value.Nil {
		tt.Errorf("got %s, want #n", value.SafeString(v))
	}
}

func TestApply(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	wantFixnum(tt, e.mustEval(tt, "(apply + 1 (list 2 3))"), 6)
}

func TestArityErrors(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	if _, err := e.evalAll("((function (a b) a) 1)"); err == nil {
		tt.Fatalf("expected an arity error")
	}
}

func TestVtableDispatchPrimitives(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	v := e.mustEval(tt, "(type-name 'a)")
	s, ok := v.(*value.String)
	if !ok || s.Go() != "symbol" {
		tt.Errorf("(type-name 'a) = %s, want \"symbol\"", value.SafeString(v))
	}

	v = e.mustEval(tt, "(2string (list 1 2))")
	s, ok = v.(*value.String)
	if !ok || s.Go() != "(1 2)" {
		tt.Errorf("(2string (list 1 2)) = %s, want \"(1 2)\"", value.SafeString(v))
	}
}

func TestInvariantsHoldAfterRun(tt *testing.T) {
	tt.Parallel()

	e := newTestEngine(tt)

	e.mustEval(tt, `
		(define (fib n) (if (n le 1) n (+ (fib (- n 1)) (fib (- n 2)))))
		(fib 10)
	`)

	if err := e.rt.CheckInvariants(); err != nil {
		tt.Errorf("runtime invariants: %v", err)
	}
}
