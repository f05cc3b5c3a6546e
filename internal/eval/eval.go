package eval

import (
	"fmt"

	"github.com/idio-lang/idio/internal/codegen"
	"github.com/idio-lang/idio/internal/module"
	"github.com/idio-lang/idio/internal/value"
	"github.com/idio-lang/idio/internal/xenv"
)

// Env is meaning's "flags" parameter bundle: the pieces of
// context that change as meaning recurses into sub-forms, as opposed to
// Evaluator's fields, which are process-wide.
type Env struct {
	Runtime  *xenv.Runtime
	XEnv     *xenv.XEnv
	Module   *module.Module
	Names    *NameTree
	Escapes  *escapeChain
	Tail     bool
	DefScope value.Constant // scope the next `define` installs at; 0 means toplevel.
}

func (e Env) tail(t bool) Env               { e.Tail = t; return e }
func (e Env) names(nt *NameTree) Env        { e.Names = nt; return e }
func (e Env) defScope(s value.Constant) Env { e.DefScope = s; return e }
func (e Env) escape(l *value.Symbol) Env    { e.Escapes = &escapeChain{label: l, up: e.Escapes}; return e }

// escapeChain tracks the escape labels lexically in scope, so escape-from
// with no enclosing escape of that label is rejected at compile time.
type escapeChain struct {
	label *value.Symbol
	up    *escapeChain
}

func (c *escapeChain) has(l *value.Symbol) bool {
	for ; c != nil; c = c.up {
		if c.label == l {
			return true
		}
	}

	return false
}

// Invoker runs a closure value during compilation, used for template
// expansion and operator invocation. It is implemented by internal/vm's Thread and supplied to the
// Evaluator after the VM is constructed, since the VM in turn needs an
// Evaluator to compile the code it runs: vm.NewThread installs the new
// Thread with SetInvoker, so this package never imports internal/vm.
type Invoker interface {
	Invoke(fn value.Value, args []value.Value) (value.Value, error)
}

// Evaluator holds the process-wide state meaning needs across every call:
// the symbol table shortcuts it uses constantly, and the installed
// expander/operator tables.
type Evaluator struct {
	rt      *xenv.Runtime
	invoker Invoker

	expanders map[*value.Symbol]*expanderEntry
	operators *operatorTable
}

// NewEvaluator creates an Evaluator bound to rt. SetInvoker must be called
// before any form using templates or operators is compiled.
func NewEvaluator(rt *xenv.Runtime) *Evaluator {
	ev := &Evaluator{
		rt:        rt,
		expanders: make(map[*value.Symbol]*expanderEntry),
		operators: newOperatorTable(),
	}

	ev.installBuiltinOperators()

	return ev
}

// SetInvoker installs the callback meaning uses to run expander and
// operator functions.
func (ev *Evaluator) SetInvoker(inv Invoker) { ev.invoker = inv }

// sym interns name in the process-wide symbol table, so symbols spliced
// into rewritten forms are eq? with the ones the reader produces.
func (ev *Evaluator) sym(name string) *value.Symbol { return ev.rt.Symbols.Intern(name) }

// TopEnv builds the Env for compiling a fresh top-level form against mod
// in x.
func (ev *Evaluator) TopEnv(x *xenv.XEnv, mod *module.Module) Env {
	return Env{Runtime: ev.rt, XEnv: x, Module: mod, DefScope: value.ScopeToplevel}
}

// Meaning is meaning(src, e, nametree, flags, eenv) -> IR.
func (ev *Evaluator) Meaning(env Env, src value.Value) (*codegen.Node, error) {
	src, err := ev.expandTemplates(env, src)
	if err != nil {
		return nil, err
	}

	switch t := src.(type) {
	case *value.Symbol:
		return resolveRef(env, t)

	case *value.Pair:
		return ev.meaningApplicationOrForm(env, t)

	case nil:
		return &codegen.Node{Kind: codegen.KConstant, Const: value.Nil}, nil

	default:
		// Self-evaluating literal: fixnum, string, constant, keyword,...
		return &codegen.Node{Kind: codegen.KConstant, Const: t}, nil
	}
}

// MeaningSequence compiles a list of forms for a body position, producing
// a single Sequence node.
func (ev *Evaluator) MeaningSequence(env Env, forms []value.Value) (*codegen.Node, error) {
	if len(forms) == 0 {
		return &codegen.Node{Kind: codegen.KConstant, Const: value.Void}, nil
	}

	kids := make([]*codegen.Node, 0, len(forms))

	for i, f := range forms {
		n, err := ev.Meaning(env.tail(env.Tail && i == len(forms)-1), f)
		if err != nil {
			return nil, err
		}

		kids = append(kids, n)
	}

	if len(kids) == 1 {
		return kids[0], nil
	}

	return &codegen.Node{Kind: codegen.KSequence, Kids: kids}, nil
}

func (ev *Evaluator) meaningApplicationOrForm(env Env, p *value.Pair) (*codegen.Node, error) {
	head := p.Head

	if sym, ok := head.(*value.Symbol); ok {
		if fn, ok := specialForms[sym.Name()]; ok {
			args, ok := value.Slice(p.Tail)
			if !ok {
				return nil, fmt.Errorf("eval: improper special-form argument list for %s", sym.Name())
			}

			return fn(ev, env, args)
		}
	}

	return ev.meaningApplication(env, p)
}

// meaningApplication compiles a procedure call, including the closed-
// application optimisation for an immediate lambda.
func (ev *Evaluator) meaningApplication(env Env, p *value.Pair) (*codegen.Node, error) {
	args, ok := value.Slice(p.Tail)
	if !ok {
		return nil, fmt.Errorf("eval: improper application argument list")
	}

	if lp, ok := p.Head.(*value.Pair); ok {
		if headSym, ok := lp.Head.(*value.Symbol); ok && (headSym.Name() == "function" || headSym.Name() == "function/name") {
			return ev.meaningClosedApplication(env, lp, args)
		}
	}

	if n, ok, err := ev.meaningPrimCall(env, p, args); ok || err != nil {
		return n, err
	}

	fnNode, err := ev.Meaning(env.tail(false), p.Head)
	if err != nil {
		return nil, err
	}

	kids := make([]*codegen.Node, 0, len(args)+1)
	kids = append(kids, fnNode)

	for _, a := range args {
		n, err := ev.Meaning(env.tail(false), a)
		if err != nil {
			return nil, err
		}

		kids = append(kids, n)
	}

	kind := codegen.KApplication
	if env.Tail {
		kind = codegen.KTailApplication
	}

	return &codegen.Node{Kind: kind, Kids: kids}, nil
}

// meaningClosedApplication compiles `((function (formals) body) args)` as
// a direct let-binding rather than a heap-allocated closure call.
func (ev *Evaluator) meaningClosedApplication(env Env, lambda *value.Pair, args []value.Value) (*codegen.Node, error) {
	lambdaArgs, ok := value.Slice(lambda.Tail)
	if !ok || len(lambdaArgs) < 1 {
		return nil, fmt.Errorf("eval: malformed function form in closed application")
	}

	formals := lambdaArgs[0]
	body := lambdaArgs[1:]

	names, varargs, err := formalNames(formals)
	if err != nil {
		return nil, err
	}

	if varargs || len(names) != len(args) {
		// Not a fixed-arity match: fall back to a regular application via
		// the closure path rather than guessing at rest-arg packing here.
		fnNode, err := ev.Meaning(env.tail(false), lambda)
		if err != nil {
			return nil, err
		}

		kids := []*codegen.Node{fnNode}

		for _, a := range args {
			n, err := ev.Meaning(env.tail(false), a)
			if err != nil {
				return nil, err
			}

			kids = append(kids, n)
		}

		kind := codegen.KApplication
		if env.Tail {
			kind = codegen.KTailApplication
		}

		return &codegen.Node{Kind: kind, Kids: kids}, nil
	}

	bindings := make([]*codegen.Node, len(args))

	for i, a := range args {
		n, err := ev.Meaning(env.tail(false), a)
		if err != nil {
			return nil, err
		}

		bindings[i] = n
	}

	inner := env.names(ExtendFrame(env.Names, names))

	bodyNode, err := ev.meaningBody(inner, body)
	if err != nil {
		return nil, err
	}

	return &codegen.Node{
		Kind:     codegen.KFixLet,
		NFormals: len(names),
		Bindings: bindings,
		Body:     bodyNode,
	}, nil
}

// meaningBody compiles a lambda/let body, first applying rewrite-body (core
// design ) to turn leading/interior defines into a letrec.
func (ev *Evaluator) meaningBody(env Env, body []value.Value) (*codegen.Node, error) {
	rewritten, err := ev.rewriteBody(body)
	if err != nil {
		return nil, err
	}

	return ev.MeaningSequence(env.tail(true), rewritten)
}

// formalNames splits a lambda-list into its fixed names and whether it
// ends in a rest parameter (dotted tail or bare symbol).
func formalNames(formals value.Value) (names []*value.Symbol, varargs bool, err error) {
	for {
		switch t := formals.(type) {
		case value.Constant:
			if t == value.Nil {
				return names, varargs, nil
			}

			return nil, false, fmt.Errorf("eval: malformed formals list")

		case *value.Symbol:
			names = append(names, t)
			return names, true, nil

		case *value.Pair:
			sym, ok := t.Head.(*value.Symbol)
			if !ok {
				return nil, false, fmt.Errorf("eval: non-symbol formal parameter")
			}

			names = append(names, sym)
			formals = t.Tail

		default:
			return nil, false, fmt.Errorf("eval: malformed formals list")
		}
	}
}

// meaningPrimCall emits the primitive short-circuit: a head naming a predef
// whose fixed arity matches the call exactly (and which is not varargs)
// compiles to a PRIMCALLn that skips frame allocation entirely. ok is false
// when the call must take the general path.
func (ev *Evaluator) meaningPrimCall(env Env, p *value.Pair, args []value.Value) (*codegen.Node, bool, error) {
	sym, isSym := p.Head.(*value.Symbol)
	if !isSym {
		return nil, false, nil
	}

	if _, _, lexical := env.Names.Resolve(sym); lexical {
		return nil, false, nil
	}

	si, _, found := env.Module.Lookup(sym)
	if !found || si.Scope != value.ScopePredef {
		return nil, false, nil
	}

	prim, isPrim := env.Runtime.GetValue(si.ValIndex).(*value.Primitive)
	if !isPrim || prim.Varargs || prim.Arity != len(args) || len(args) > 2 {
		return nil, false, nil
	}

	kids := make([]*codegen.Node, 0, len(args))

	for _, a := range args {
		n, err := ev.Meaning(env.tail(false), a)
		if err != nil {
			return nil, false, err
		}

		kids = append(kids, n)
	}

	return &codegen.Node{
		Kind:   codegen.KPrimCall,
		PrimVI: si.ValIndex,
		PrimN:  len(args),
		Kids:   kids,
	}, true, nil
}
