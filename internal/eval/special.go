package eval

import (
	"fmt"

	"github.com/idio-lang/idio/internal/codegen"
	"github.com/idio-lang/idio/internal/value"
)

// special.go implements the fixed special-form table.

// specialFormFn compiles one special form's argument list (the form's
// head, a known keyword, already stripped) into an IR node.
type specialFormFn func(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error)

var specialForms map[string]specialFormFn

func init() {
	specialForms = map[string]specialFormFn{
		"quote":                   sfQuote,
		"quasiquote":              sfQuasiquote,
		"if":                      sfIf,
		"cond":                    sfCond,
		"begin":                   sfBegin,
		"and":                     sfAnd,
		"or":                      sfOr,
		"not":                     sfNot,
		"escape":                  sfEscape,
		"function":                sfFunction,
		"function/name":           sfFunctionName,
		"function+":               sfFunctionPlus,
		"set!":                    sfSet,
		"=":                       sfSet,
		"define":                  sfDefine,
		"define-template":         sfDefineTemplate,
		"define-infix-operator":   sfDefineInfixOperator,
		"define-postfix-operator": sfDefinePostfixOperator,
		":=":                      sfDefine,
		":+":                      sfDefine,
		":~":                      sfDefineDynamic,
		":*":                      sfDefineEnviron,
		":$":                      sfDefineComputed,
		"let":                     sfLet,
		"let*":                    sfLetStar,
		"letrec":                  sfLetrec,
		"escape-from":             sfEscapeFrom,
		"block":                   sfBlock,
		"dynamic":                 sfDynamic,
		"dynamic-let":             sfDynamicLet,
		"dynamic-unset":           sfDynamicUnset,
		"environ-let":             sfEnvironLet,
		"environ-unset":           sfEnvironUnset,
		"%trap":                   sfTrap,
		"include":                 sfInclude,
		"template-expand":         sfTemplateExpand,
	}
}

func sfQuote(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("eval: quote takes exactly one argument")
	}

	return &codegen.Node{Kind: codegen.KConstant, Const: args[0]}, nil
}

// sfQuasiquote expands `x into nested cons/list calls, tracking unquote
// depth so a nested quasiquote's own unquotes are left alone. For an x free
// of unquote/unquote-splicing the expansion evaluates back to x itself.
func sfQuasiquote(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("eval: quasiquote takes exactly one argument")
	}

	expanded, err := ev.deQuasiquote(args[0], 1)
	if err != nil {
		return nil, err
	}

	return ev.Meaning(env, expanded)
}

func (ev *Evaluator) deQuasiquote(form value.Value, depth int) (value.Value, error) {
	p, ok := form.(*value.Pair)
	if !ok {
		return value.List(ev.sym("quote"), form), nil
	}

	if sym, ok := p.Head.(*value.Symbol); ok {
		switch sym.Name() {
		case "unquote":
			arg := nthArg(p.Tail, 0)
			if depth == 1 {
				return arg, nil
			}

			inner, err := ev.deQuasiquote(arg, depth-1)
			if err != nil {
				return nil, err
			}

			return value.List(ev.sym("list"), value.List(ev.sym("quote"), sym), inner), nil

		case "unquote-splicing":
			return nil, fmt.Errorf("eval: unquote-splicing not valid in this context")

		case "quasiquote":
			inner, err := ev.deQuasiquote(nthArg(p.Tail, 0), depth+1)
			if err != nil {
				return nil, err
			}

			return value.List(ev.sym("list"), value.List(ev.sym("quote"), sym), inner), nil
		}
	}

	// Splicing is only meaningful as the head of a sub-list cell.
	if hp, ok := p.Head.(*value.Pair); ok {
		if sym, ok := hp.Head.(*value.Symbol); ok && sym.Name() == "unquote-splicing" && depth == 1 {
			rest, err := ev.deQuasiquote(p.Tail, depth)
			if err != nil {
				return nil, err
			}

			return value.List(ev.sym("append"), nthArg(hp.Tail, 0), rest), nil
		}
	}

	head, err := ev.deQuasiquote(p.Head, depth)
	if err != nil {
		return nil, err
	}

	tail, err := ev.deQuasiquote(p.Tail, depth)
	if err != nil {
		return nil, err
	}

	return value.List(ev.sym("cons"), head, tail), nil
}

func nthArg(list value.Value, n int) value.Value {
	vs, _ := value.Slice(list)
	if n < len(vs) {
		return vs[n]
	}

	return value.Nil
}

func sfIf(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, fmt.Errorf("eval: if takes 2 or 3 arguments")
	}

	test, err := ev.Meaning(env.tail(false), args[0])
	if err != nil {
		return nil, err
	}

	then, err := ev.Meaning(env, args[1])
	if err != nil {
		return nil, err
	}

	var els *codegen.Node
	if len(args) == 3 {
		els, err = ev.Meaning(env, args[2])
	} else {
		els = &codegen.Node{Kind: codegen.KConstant, Const: value.Void}
	}

	if err != nil {
		return nil, err
	}

	return &codegen.Node{Kind: codegen.KIf, Test: test, Then: then, Else: els}, nil
}

// sfCond rewrites cond into nested ifs, handling the `=>` clause form (the
// test's value is bound via a gensym'd let and passed to the receiver
// function) and a lone-test clause (the test's own value is returned).
func sfCond(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	form, err := rewriteCond(ev, args)
	if err != nil {
		return nil, err
	}

	return ev.Meaning(env, form)
}

func rewriteCond(ev *Evaluator, clauses []value.Value) (value.Value, error) {
	if len(clauses) == 0 {
		return value.Void, nil
	}

	clause, ok := clauses[0].(*value.Pair)
	if !ok {
		return nil, fmt.Errorf("eval: malformed cond clause")
	}

	rest, err := rewriteCond(ev, clauses[1:])
	if err != nil {
		return nil, err
	}

	parts, _ := value.Slice(clause.Tail)

	if sym, ok := clause.Head.(*value.Symbol); ok && sym.Name() == "else" {
		return value.List(append([]value.Value{ev.sym("begin")}, parts...)...), nil
	}

	// `=>` form: (test => receiver)
	if len(parts) == 2 {
		if s, ok := parts[0].(*value.Symbol); ok && s.Name() == "=>" {
			tmp := ev.rt.Symbols.Gensym("cond")
			return value.List(
				ev.sym("let"),
				value.List(value.List(tmp, clause.Head)),
				value.List(ev.sym("if"), tmp, value.List(parts[1], tmp), rest),
			), nil
		}
	}

	if len(parts) == 0 {
		tmp := ev.rt.Symbols.Gensym("cond")
		return value.List(
			ev.sym("let"),
			value.List(value.List(tmp, clause.Head)),
			value.List(ev.sym("if"), tmp, tmp, rest),
		), nil
	}

	body := append([]value.Value{ev.sym("begin")}, parts...)

	return value.List(ev.sym("if"), clause.Head, value.List(body...), rest), nil
}

func sfBegin(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	return ev.MeaningSequence(env, args)
}

func sfAnd(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	if len(args) == 0 {
		return &codegen.Node{Kind: codegen.KConstant, Const: value.True}, nil
	}

	kids, err := meaningEach(ev, env, args)
	if err != nil {
		return nil, err
	}

	return &codegen.Node{Kind: codegen.KAnd, Kids: kids}, nil
}

func sfOr(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	if len(args) == 0 {
		return &codegen.Node{Kind: codegen.KConstant, Const: value.False}, nil
	}

	kids, err := meaningEach(ev, env, args)
	if err != nil {
		return nil, err
	}

	return &codegen.Node{Kind: codegen.KOr, Kids: kids}, nil
}

func sfNot(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("eval: not takes exactly one argument")
	}

	n, err := ev.Meaning(env.tail(false), args[0])
	if err != nil {
		return nil, err
	}

	return &codegen.Node{Kind: codegen.KNot, Kids: []*codegen.Node{n}}, nil
}

func meaningEach(ev *Evaluator, env Env, forms []value.Value) ([]*codegen.Node, error) {
	kids := make([]*codegen.Node, 0, len(forms))

	for i, f := range forms {
		n, err := ev.Meaning(env.tail(env.Tail && i == len(forms)-1), f)
		if err != nil {
			return nil, err
		}

		kids = append(kids, n)
	}

	return kids, nil
}

// sfEscape compiles `(escape label body)` as a PUSH_ESCAPER around body; an
// `escape-from` with no enclosing escape of that label is a static error.
func sfEscape(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("eval: escape takes a label and a body")
	}

	label, ok := args[0].(*value.Symbol)
	if !ok {
		return nil, fmt.Errorf("eval: escape label must be a symbol")
	}

	ci := env.XEnv.ConstantsLookupOrExtend(label)

	body, err := ev.Meaning(env.escape(label).tail(false), args[1])
	if err != nil {
		return nil, err
	}

	return &codegen.Node{Kind: codegen.KEscaperPush, SI: ci, PCAfter: body}, nil
}

func sfFunction(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	return compileLambda(ev, env, args, "")
}

func sfFunctionName(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("eval: function/name takes a name, formals and a body")
	}

	name, ok := args[0].(*value.Symbol)
	if !ok {
		return nil, fmt.Errorf("eval: function/name's first argument must be a symbol")
	}

	return compileLambda(ev, env, args[1:], name.Name())
}

// sfFunctionPlus compiles a local-application lambda identically to
// function; the local-vs-toplevel application distinction only matters for
// how the *caller* emits the call, not how the lambda itself compiles.
func sfFunctionPlus(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	return compileLambda(ev, env, args, "")
}

func compileLambda(ev *Evaluator, env Env, args []value.Value, name string) (*codegen.Node, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("eval: function takes a formals list and a body")
	}

	names, varargs, err := formalNames(args[0])
	if err != nil {
		return nil, err
	}

	inner := env.names(ExtendFrame(env.Names, names)).tail(true)

	bodyNode, err := ev.meaningBody(inner, args[1:])
	if err != nil {
		return nil, err
	}

	return &codegen.Node{
		Kind:     codegen.KLambda,
		NFormals: len(names),
		Varargs:  varargs,
		Body:     bodyNode,
		Name:     name,
	}, nil
}

func sfSet(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("eval: set! takes a name and a value")
	}

	sym, ok := args[0].(*value.Symbol)
	if !ok {
		return nil, fmt.Errorf("eval: set! target must be a symbol")
	}

	valNode, err := ev.Meaning(env.tail(false), args[1])
	if err != nil {
		return nil, err
	}

	target, err := resolveSet(env, sym)
	if err != nil {
		return nil, err
	}

	return sequenceValueThenSet(valNode, target), nil
}

// sequenceValueThenSet sequences [value-expr, set-node]: the Set node
// itself (KSymSet etc.) consumes whatever is currently in the val register,
// so the two must run back to back with nothing else emitted between them.
func sequenceValueThenSet(val, set *codegen.Node) *codegen.Node {
	return &codegen.Node{Kind: codegen.KSequence, Kids: []*codegen.Node{val, set}}
}

func sfDefine(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("eval: define takes a name and a value")
	}

	// `(define (f a b) body...)` is sugar for
	// `(define f (function (a b) body...))`.
	sym, val, err := ev.desugarDefine(args)
	if err != nil {
		return nil, err
	}

	valNode, err := ev.Meaning(env.tail(false), val)
	if err != nil {
		return nil, err
	}

	defNode, err := resolveDefine(env, sym, "")
	if err != nil {
		return nil, err
	}

	return sequenceValueThenSet(valNode, defNode), nil
}

func sfDefineDynamic(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	return sfDefineScoped(ev, env, args, value.ScopeDynamic)
}

func sfDefineEnviron(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	return sfDefineScoped(ev, env, args, value.ScopeEnviron)
}

func sfDefineScoped(ev *Evaluator, env Env, args []value.Value, scope value.Constant) (*codegen.Node, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("eval: define requires a name and a value")
	}

	sym, ok := args[0].(*value.Symbol)
	if !ok {
		return nil, fmt.Errorf("eval: define's target must be a symbol")
	}

	valNode, err := ev.Meaning(env.tail(false), args[1])
	if err != nil {
		return nil, err
	}

	defNode, err := resolveDefine(env.defScope(scope), sym, "")
	if err != nil {
		return nil, err
	}

	return sequenceValueThenSet(valNode, defNode), nil
}

// sfDefineComputed compiles `(:$ name getter setter)` into a COMPUTED_DEFINE.
func sfDefineComputed(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("eval: :$ takes a name, a getter and a setter")
	}

	sym, ok := args[0].(*value.Symbol)
	if !ok {
		return nil, fmt.Errorf("eval: :$'s target must be a symbol")
	}

	getter, err := ev.Meaning(env.tail(false), args[1])
	if err != nil {
		return nil, err
	}

	setter, err := ev.Meaning(env.tail(false), args[2])
	if err != nil {
		return nil, err
	}

	defNode, err := resolveDefine(env.defScope(value.ScopeComputed), sym, "")
	if err != nil {
		return nil, err
	}

	defNode.Kids = []*codegen.Node{getter, setter}

	return defNode, nil
}

func sfDefineTemplate(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	return ev.compileTemplateDef(env, args)
}

func sfDefineInfixOperator(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	return ev.compileOperatorDef(env, args, false)
}

func sfDefinePostfixOperator(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	return ev.compileOperatorDef(env, args, true)
}

// sfBlock compiles a lexical block: a body rewritten the same way a lambda
// body is (leading/interior defines become a letrec) but with no frame of
// its own.
func sfBlock(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	return ev.meaningBody(env, args)
}

func sfDynamic(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("eval: dynamic takes exactly one name")
	}

	sym, ok := args[0].(*value.Symbol)
	if !ok {
		return nil, fmt.Errorf("eval: dynamic's argument must be a symbol")
	}

	return resolveRef(env, sym)
}

// sfDynamicLet compiles `(dynamic-let (name value) body)`: push name's
// dynamic binding for body's extent, restoring the prior value (or
// unbinding it) regardless of how body exits.
func sfDynamicLet(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	return compileScopedLet(ev, env, args, value.ScopeDynamic, codegen.KDynamicLet)
}

func sfEnvironLet(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	return compileScopedLet(ev, env, args, value.ScopeEnviron, codegen.KEnvironLet)
}

func compileScopedLet(ev *Evaluator, env Env, args []value.Value, scope value.Constant, kind codegen.Kind) (*codegen.Node, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("eval: dynamic-let/environ-let takes a binding and a body")
	}

	binding, ok := args[0].(*value.Pair)
	if !ok {
		return nil, fmt.Errorf("eval: malformed dynamic-let/environ-let binding")
	}

	sym, ok := binding.Head.(*value.Symbol)
	if !ok {
		return nil, fmt.Errorf("eval: dynamic-let/environ-let name must be a symbol")
	}

	valNode, err := ev.Meaning(env.tail(false), nthArg(binding.Tail, 0))
	if err != nil {
		return nil, err
	}

	si, owner, ok := env.Module.Lookup(sym)
	if !ok {
		si, owner = defineForwardRef(env, sym, scope)
	}

	_ = owner

	bodyNode, err := ev.MeaningSequence(env, args[1:])
	if err != nil {
		return nil, err
	}

	return &codegen.Node{Kind: kind, SI: localSI(env, sym, si), Kids: []*codegen.Node{valNode}, Body: bodyNode}, nil
}

// sfDynamicUnset/sfEnvironUnset compile to the body alone: they push and
// remove no binding, so a dynamic/environ binding that an enclosing
// dynamic-let/environ-let made live for the name stays visible inside the
// body. A reference fails as unbound only when no PUSH_DYNAMIC/PUSH_ENVIRON
// is live for that vi.
func sfDynamicUnset(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	return ev.MeaningSequence(env, args[1:])
}

func sfEnvironUnset(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	return ev.MeaningSequence(env, args[1:])
}

// sfTrap compiles `(%trap cond-or-list handler body)`. A list of condition
// types installs one trap record per type, all sharing the same resume
// point, innermost entry matched first exactly as a single trap would be.
func sfTrap(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("eval: %%trap takes a condition, a handler and a body")
	}

	kinds, err := trapConditionKinds(args[0])
	if err != nil {
		return nil, err
	}

	handlerNode, err := ev.Meaning(env.tail(false), args[1])
	if err != nil {
		return nil, err
	}

	handlerSym := ev.rt.Symbols.Gensym("trap-handler")

	handlerDefNode, err := resolveDefine(env, handlerSym, "trap handler")
	if err != nil {
		return nil, err
	}

	handlerSI, _ := env.Module.LocalLookup(handlerSym)

	bodyNode, err := ev.Meaning(env, args[2])
	if err != nil {
		return nil, err
	}

	for i := len(kinds) - 1; i >= 0; i-- {
		condSym := ev.rt.Symbols.Intern(string(kinds[i]))
		condCI := env.XEnv.ConstantsLookupOrExtend(condSym)

		bodyNode = &codegen.Node{
			Kind:      codegen.KTrap,
			CondCI:    condCI,
			HandlerVI: handlerSI.ValIndex,
			Body:      bodyNode,
		}
	}

	return &codegen.Node{
		Kind: codegen.KSequence,
		Kids: []*codegen.Node{
			sequenceValueThenSet(handlerNode, handlerDefNode),
			bodyNode,
		},
	}, nil
}

func trapConditionKinds(form value.Value) ([]value.ConditionKind, error) {
	if sym, ok := form.(*value.Symbol); ok {
		return []value.ConditionKind{value.ConditionKind(sym.Name())}, nil
	}

	syms, ok := value.Slice(form)
	if !ok {
		return nil, fmt.Errorf("eval: %%trap condition must be a symbol or a list of symbols")
	}

	kinds := make([]value.ConditionKind, 0, len(syms))

	for _, s := range syms {
		sym, ok := s.(*value.Symbol)
		if !ok {
			return nil, fmt.Errorf("eval: %%trap condition list must contain only symbols")
		}

		kinds = append(kinds, value.ConditionKind(sym.Name()))
	}

	return kinds, nil
}

// sfInclude compiles `(include path)`. Loading and reading the named file
// is the driver's job: the CLI expands includes before forms ever reach
// Meaning, so by the time this form is seen it has already been replaced.
// The no-op keeps a unit containing an unresolved include compiling, e.g.
// in isolated tests.
func sfInclude(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	return &codegen.Node{Kind: codegen.KConstant, Const: value.Void}, nil
}

func sfTemplateExpand(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("eval: template-expand takes exactly one form")
	}

	expanded, err := ev.expandTemplates(env, args[0])
	if err != nil {
		return nil, err
	}

	return &codegen.Node{Kind: codegen.KConstant, Const: expanded}, nil
}
