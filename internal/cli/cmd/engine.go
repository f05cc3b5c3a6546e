// engine.go wires the reader, evaluator, code generator and VM into the
// single pipeline every CLI sub-command drives: read one form, compile it
// against xenv 0, append a FINISH opcode, and run it to get a value back.
package cmd

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/idio-lang/idio/internal/cache"
	"github.com/idio-lang/idio/internal/codegen"
	"github.com/idio-lang/idio/internal/eval"
	"github.com/idio-lang/idio/internal/reader"
	"github.com/idio-lang/idio/internal/value"
	"github.com/idio-lang/idio/internal/vm"
	"github.com/idio-lang/idio/internal/xenv"
)

// buildCommit stands in for the build-time commit identifiers the cache
// format records; a release process would stamp this via -ldflags.
var buildCommit = "v0.9.0"

func buildInfo() cache.BuildInfo {
	return cache.BuildInfo{CompilerCommit: buildCommit, AssemblerCommit: buildCommit}
}

// engine bundles the process-wide state a CLI command needs across several
// top-level forms: one Runtime, one Evaluator, one Thread, all sharing
// xenv 0. Every sub-command constructs its own engine rather than reaching
// for package-level globals, so commands never interfere with each other
// even if invoked repeatedly within the same test process.
type engine struct {
	rt *xenv.Runtime
	ev *eval.Evaluator
	th *vm.Thread
}

// newEngine creates a fresh Runtime with the predefined primitives
// installed and its expander thread wired up.
func newEngine() *engine {
	rt := xenv.NewRuntime()
	ev := eval.NewEvaluator(rt)
	th := vm.NewThread(rt, ev,
		vm.WithHandles(
			value.NewInputHandle("*stdin*", os.Stdin),
			value.NewOutputHandle("*stdout*", os.Stdout),
			value.NewOutputHandle("*stderr*", os.Stderr),
		))

	vm.Bootstrap(rt, th)

	return &engine{rt: rt, ev: ev, th: th}
}

// evalForm compiles and runs one top-level form in x, returning the value
// left in the thread's VAL register.
func (e *engine) evalForm(x *xenv.XEnv, form value.Value, prop *xenv.SourceProp) (value.Value, error) {
	env := e.ev.TopEnv(x, e.rt.Modules.Root())

	node, err := e.ev.Meaning(env, form)
	if err != nil {
		return nil, fmt.Errorf("eval: %w", err)
	}

	seIdx := x.ExtendSrcExprs(form, prop)
	gen := codegen.NewGenerator(x, e.rt)

	pc, err := gen.GenerateExpr(node, seIdx)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	x.AppendByteCode(byte(codegen.FINISH))

	if err := e.th.RunFrom(x.Index, pc, nil); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}

	return e.th.Val, nil
}

// evalSource reads every top-level form out of src and evaluates them in
// order against xenv 0, returning the last value produced (or value.Void
// for an empty source). A syntax error aborts before any form is
// evaluated, matching the reader's own "collect every error, then refuse
// to proceed" contract. name is recorded in each form's source property.
func (e *engine) evalSource(src, name string) (value.Value, error) {
	rd := reader.New(src, e.rt.Symbols, e.rt.Keywords)

	forms, err := rd.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	x := e.rt.Bootstrap()
	fileCI := x.ConstantsLookupOrExtend(value.NewString(name))
	result := value.Value(value.Void)

	for _, form := range forms {
		if path, ok := includePath(form); ok {
			result, err = e.evalInclude(path)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", name, form.Line, err)
			}

			continue
		}

		result, err = e.evalForm(x, form.Expr, &xenv.SourceProp{FileCI: fileCI, Line: form.Line})
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, form.Line, err)
		}
	}

	return result, nil
}

// includePath recognises a top-level `(include "path")` form, which the
// driver expands itself before the evaluator ever sees it.
func includePath(form reader.Form) (string, bool) {
	elems, ok := value.Slice(form.Expr)
	if !ok || len(elems) != 2 {
		return "", false
	}

	head, ok := elems[0].(*value.Symbol)
	if !ok || head.Name() != "include" {
		return "", false
	}

	str, ok := elems[1].(*value.String)
	if !ok {
		return "", false
	}

	return str.Go(), true
}

func (e *engine) evalInclude(path string) (value.Value, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("include: %w", err)
	}

	return e.evalSource(string(b), path)
}

// compileSource compiles src into a fresh xenv without running it and
// returns the cache file recording that unit's tables. Templates defined
// and used within the same unit still require a live run, so `compile`
// suits units whose compile-time dependencies are already installed.
func (e *engine) compileSource(src, name string, checksum bool) (*cache.File, error) {
	rd := reader.New(src, e.rt.Symbols, e.rt.Keywords)

	forms, err := rd.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	x, _ := e.rt.NewXEnv()
	env := e.ev.TopEnv(x, e.rt.Modules.Root())
	fileCI := x.ConstantsLookupOrExtend(value.NewString(name))
	gen := codegen.NewGenerator(x, e.rt)

	for _, form := range forms {
		node, err := e.ev.Meaning(env, form.Expr)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: eval: %w", name, form.Line, err)
		}

		seIdx := x.ExtendSrcExprs(form.Expr, &xenv.SourceProp{FileCI: fileCI, Line: form.Line})

		if _, err := gen.GenerateExpr(node, seIdx); err != nil {
			return nil, fmt.Errorf("%s:%d: compile: %w", name, form.Line, err)
		}
	}

	x.AppendByteCode(byte(codegen.FINISH))

	f := &cache.File{
		CompilerCommit:  buildCommit,
		Timestamp:       cache.NewTimestamp(time.Now()),
		AssemblerCommit: buildCommit,
		Constants:       x.Constants(),
		EntryPC:         0,
		ByteCode:        x.ByteCode(),
		SourceExprs:     x.SourceExprs(),
		SourceProps:     x.SourceProps(),
	}

	if checksum {
		f.SourceChecksum = cache.Checksum([]byte(src))
	}

	for si := 0; si < x.Len(); si++ {
		ci := x.ST(si)
		f.Bindings = append(f.Bindings, cache.Binding{SI: si, CI: ci, HasCI: ci >= 0})
	}

	return f, nil
}

// runCache loads a pre-compiled cache file into a fresh xenv and runs it
// from its recorded entry pc.
func (e *engine) runCache(data []byte) (value.Value, error) {
	f, err := cache.Load(bytes.NewReader(data), buildInfo(), e.rt.Symbols, e.rt.Keywords)
	if err != nil {
		return nil, err
	}

	x, entry, err := cache.PopulateXEnv(e.rt, f)
	if err != nil {
		return nil, err
	}

	if err := e.th.RunFrom(x.Index, entry, nil); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}

	return e.th.Val, nil
}
