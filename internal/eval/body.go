package eval

import (
	"fmt"

	"github.com/idio-lang/idio/internal/codegen"
	"github.com/idio-lang/idio/internal/value"
)

// body.go implements the source-to-source rewrites that turn binding forms
// into the closed applications the code generator compiles frames for:
// let/let*/letrec, and rewrite-body, which hoists a body's define/:+ forms
// into a letrec, expands := into a nested let, and lets
// dynamic-let/environ-let absorb the forms that follow them.

// rewriteBody rewrites a lambda/let/block body. The first define (or :+)
// turns everything from there on into a single letrec whose bindings are
// every definition collected from the remaining forms, in order; a := at
// body position scopes the remaining forms under a nested let; a
// dynamic-let/environ-let (or the -unset forms) absorbs the remaining
// forms as its body.
func (ev *Evaluator) rewriteBody(forms []value.Value) ([]value.Value, error) {
	for i, form := range forms {
		p, ok := form.(*value.Pair)
		if !ok {
			continue
		}

		head, ok := p.Head.(*value.Symbol)
		if !ok {
			continue
		}

		switch head.Name() {
		case "define", ":+":
			bindings, body, err := ev.collectDefinitions(forms[i:])
			if err != nil {
				return nil, err
			}

			letrec := value.List(append([]value.Value{ev.sym("letrec"), value.List(bindings...)}, body...)...)

			return append(append([]value.Value(nil), forms[:i]...), letrec), nil

		case ":=":
			args, ok := value.Slice(p.Tail)
			if !ok || len(args) != 2 {
				return nil, fmt.Errorf("eval: := takes a name and a value")
			}

			rest, err := ev.rewriteBody(forms[i+1:])
			if err != nil {
				return nil, err
			}

			let := value.List(append([]value.Value{
				ev.sym("let"),
				value.List(value.List(args[0], args[1])),
			}, rest...)...)

			return append(append([]value.Value(nil), forms[:i]...), let), nil

		case "dynamic-let", "environ-let", "dynamic-unset", "environ-unset":
			if i == len(forms)-1 {
				continue
			}

			elems, ok := value.Slice(form)
			if !ok {
				continue
			}

			wrapped := value.List(append(elems, forms[i+1:]...)...)

			return append(append([]value.Value(nil), forms[:i]...), wrapped), nil
		}
	}

	return forms, nil
}

// collectDefinitions splits forms into the (name value) bindings of its
// define/:+ forms, in order, and the remaining (non-definition) forms.
func (ev *Evaluator) collectDefinitions(forms []value.Value) (bindings, body []value.Value, err error) {
	for _, form := range forms {
		p, ok := form.(*value.Pair)
		if !ok {
			body = append(body, form)
			continue
		}

		head, ok := p.Head.(*value.Symbol)
		if !ok || (head.Name() != "define" && head.Name() != ":+") {
			body = append(body, form)
			continue
		}

		args, ok := value.Slice(p.Tail)
		if !ok || len(args) < 2 {
			return nil, nil, fmt.Errorf("eval: malformed %s in body", head.Name())
		}

		name, lambda, err := ev.desugarDefine(args)
		if err != nil {
			return nil, nil, err
		}

		bindings = append(bindings, value.List(name, lambda))
	}

	return bindings, body, nil
}

// desugarDefine turns a define's argument list into a plain (name, value)
// pair, expanding the `(define (f a b) body...)` procedure shorthand.
func (ev *Evaluator) desugarDefine(args []value.Value) (*value.Symbol, value.Value, error) {
	if head, ok := args[0].(*value.Pair); ok {
		name, ok := head.Head.(*value.Symbol)
		if !ok {
			return nil, nil, fmt.Errorf("eval: define's target must be a symbol")
		}

		lambda := &value.Pair{
			Head: ev.sym("function"),
			Tail: &value.Pair{Head: head.Tail, Tail: value.List(args[1:]...)},
		}

		return name, lambda, nil
	}

	name, ok := args[0].(*value.Symbol)
	if !ok {
		return nil, nil, fmt.Errorf("eval: define's target must be a symbol")
	}

	if len(args) != 2 {
		return nil, nil, fmt.Errorf("eval: define takes a name and a value")
	}

	return name, args[1], nil
}

// splitBindings decomposes a let-style binding list into parallel name and
// init-expression slices.
func splitBindings(form value.Value) (names []*value.Symbol, inits []value.Value, err error) {
	bindings, ok := value.Slice(form)
	if !ok {
		return nil, nil, fmt.Errorf("eval: malformed binding list")
	}

	for _, b := range bindings {
		parts, ok := value.Slice(b)
		if !ok || len(parts) != 2 {
			return nil, nil, fmt.Errorf("eval: malformed binding %s", value.SafeString(b))
		}

		name, ok := parts[0].(*value.Symbol)
		if !ok {
			return nil, nil, fmt.Errorf("eval: binding name must be a symbol")
		}

		names = append(names, name)
		inits = append(inits, parts[1])
	}

	return names, inits, nil
}

// sfLet rewrites `(let ((n v)...) body...)` into the closed application
// `((function (n...) body...) v...)`, which compiles to a direct
// let-binding with no closure allocation. The named form
// `(let loop ((n v)...) body...)` goes through letrec so the loop name is
// in scope inside its own body.
func sfLet(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("eval: let takes a binding list and a body")
	}

	if loop, ok := args[0].(*value.Symbol); ok {
		if len(args) < 2 {
			return nil, fmt.Errorf("eval: named let takes a binding list and a body")
		}

		names, inits, err := splitBindings(args[1])
		if err != nil {
			return nil, err
		}

		nameVals := make([]value.Value, len(names))
		for i, n := range names {
			nameVals[i] = n
		}

		fn := value.List(append([]value.Value{ev.sym("function"), value.List(nameVals...)}, args[2:]...)...)
		call := value.List(append([]value.Value{value.Value(loop)}, inits...)...)
		form := value.List(ev.sym("letrec"), value.List(value.List(loop, fn)), call)

		return ev.Meaning(env, form)
	}

	names, inits, err := splitBindings(args[0])
	if err != nil {
		return nil, err
	}

	nameVals := make([]value.Value, len(names))
	for i, n := range names {
		nameVals[i] = n
	}

	lambda := value.List(append([]value.Value{ev.sym("function"), value.List(nameVals...)}, args[1:]...)...)
	form := value.List(append([]value.Value{lambda}, inits...)...)

	return ev.Meaning(env, form)
}

// sfLetStar nests one let per binding.
func sfLetStar(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("eval: let* takes a binding list and a body")
	}

	bindings, ok := value.Slice(args[0])
	if !ok {
		return nil, fmt.Errorf("eval: malformed binding list")
	}

	if len(bindings) <= 1 {
		return sfLet(ev, env, args)
	}

	inner := value.List(append([]value.Value{ev.sym("let*"), value.List(bindings[1:]...)}, args[1:]...)...)
	form := value.List(ev.sym("let"), value.List(bindings[0]), inner)

	return ev.Meaning(env, form)
}

// sfLetrec binds every name to #<undef> first, then assigns the init
// expressions in order, so each init sees every binding in scope --
// mutual recursion included.
func sfLetrec(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("eval: letrec takes a binding list and a body")
	}

	names, inits, err := splitBindings(args[0])
	if err != nil {
		return nil, err
	}

	nameVals := make([]value.Value, len(names))
	undefs := make([]value.Value, len(names))
	body := make([]value.Value, 0, len(names)+len(args)-1)

	for i, n := range names {
		nameVals[i] = n
		undefs[i] = value.Undef
		body = append(body, value.List(ev.sym("set!"), n, inits[i]))
	}

	body = append(body, args[1:]...)

	lambda := value.List(append([]value.Value{ev.sym("function"), value.List(nameVals...)}, body...)...)
	form := value.List(append([]value.Value{lambda}, undefs...)...)

	return ev.Meaning(env, form)
}

// sfEscapeFrom compiles `(escape-from label expr)`: expr's value goes to
// the val register, then ESCAPE_FROM unwinds to the matching escaper. A
// label with no lexically enclosing `escape` is a static error.
func sfEscapeFrom(ev *Evaluator, env Env, args []value.Value) (*codegen.Node, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("eval: escape-from takes a label and an expression")
	}

	label, ok := args[0].(*value.Symbol)
	if !ok {
		return nil, fmt.Errorf("eval: escape-from label must be a symbol")
	}

	if !env.Escapes.has(label) {
		return nil, fmt.Errorf("eval: escape-from: unbound label %s", label.Name())
	}

	exprNode, err := ev.Meaning(env.tail(false), args[1])
	if err != nil {
		return nil, err
	}

	ci := env.XEnv.ConstantsLookupOrExtend(label)

	return &codegen.Node{
		Kind: codegen.KSequence,
		Kids: []*codegen.Node{exprNode, {Kind: codegen.KEscapeFrom, SI: ci}},
	}, nil
}
