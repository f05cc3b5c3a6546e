package vm

import (
	"fmt"

	"github.com/idio-lang/idio/internal/codegen"
	"github.com/idio-lang/idio/internal/module"
	"github.com/idio-lang/idio/internal/value"
)

// ErrHalted marks the normal FINISH exit from a dispatch loop; Run
// translates it to a nil return.
var ErrHalted = fmt.Errorf("vm: halted")

// raiseSignal unwinds the Go call stack from the point a condition is
// raised back to the dispatch frame whose own tenure (base) covers the
// matching trap record, the panic/recover analogue of a longjmp (see the
// package doc's note on PRESERVE_STATE/RESTORE_STATE).
type raiseSignal struct {
	cond *value.Condition
}

// escapeSignal is the non-local-exit analogue of raiseSignal for ESCAPE_FROM
// and continuation invocation.
type escapeSignal struct {
	target int // stack index of the escaper/abort record being unwound to.
	val    value.Value
}

// Run executes from the thread's current XI/PC until FINISH, returning nil,
// or until an uncaught condition propagates out, returning that error.
func (th *Thread) Run() (err error) {
	defer func() {
		// Backstop: a raise/escape with no matching trap/escaper anywhere on
		// the stack propagates past every dispatch frame, including this
		// top-level one. Report it as a normal error instead of crashing.
		r := recover()
		if r == nil {
			return
		}

		switch sig := r.(type) {
		case raiseSignal:
			err = sig.cond
		case escapeSignal:
			err = fmt.Errorf("vm: escape to unknown label (stack index %d)", sig.target)
		default:
			panic(r)
		}
	}()

	_, rerr := th.dispatch(len(th.Stack))
	if rerr == ErrHalted {
		return nil
	}

	return rerr
}

// RunFrom positions the thread at xi/pc and runs it, the entry point the
// cache/CLI driver uses for each freshly generated top-level form. It is
// the outermost abort frame: an uncaught condition resets the control
// stack (and any half-built argument frames) to the depth it had on entry,
// so the driver can keep going.
func (th *Thread) RunFrom(xi, pc int, _ *value.Value) error {
	th.XI = xi
	th.PC = pc

	sp0 := len(th.Stack)
	pend0 := len(th.pending)

	err := th.Run()

	if err != nil {
		if len(th.Stack) > sp0 {
			th.unwindTo(sp0)
		}

		if len(th.pending) > pend0 {
			th.pending = th.pending[:pend0]
		}
	}

	return err
}

func (th *Thread) code() []byte { return th.RT.XEnv(th.XI).ByteCode() }

func (th *Thread) fetchByte() byte {
	b := th.code()[th.PC]
	th.PC++

	return b
}

func (th *Thread) fetchVaruint() uint64 {
	n, used, err := codegen.Varuint(th.code()[th.PC:])
	if err != nil {
		panic(raiseSignal{value.NewCondition(value.CondEvaluationError, th.location(), err.Error())})
	}

	th.PC += used

	return n
}

func (th *Thread) fetchUint16() uint16 {
	n, used, err := codegen.Uint16(th.code()[th.PC:])
	if err != nil {
		panic(raiseSignal{value.NewCondition(value.CondEvaluationError, th.location(), err.Error())})
	}

	th.PC += used

	return n
}

// fetchJump decodes the fixed 2-byte big-endian signed relative offset
// GOTO/GOTO_FALSE/GOTO_TRUE carry (see codegen's reserveJump()).
func (th *Thread) fetchJump() int {
	hi, lo := th.code()[th.PC], th.code()[th.PC+1]
	th.PC += 2

	return int(int16(uint16(hi)<<8 | uint16(lo)))
}

// fetch3ByteLen decodes CREATE_CLOSURE's fixed 3-byte body length.
func (th *Thread) fetch3ByteLen() int {
	b := th.code()
	n := int(b[th.PC])<<16 | int(b[th.PC+1])<<8 | int(b[th.PC+2])
	th.PC += 3

	return n
}

// unwindTo truncates the control stack to sp, restoring the prior value of
// every dynamic/environ record dropped on the way so abnormal exits keep
// the binding-stack discipline a POP would have provided.
func (th *Thread) unwindTo(sp int) {
	for i := len(th.Stack) - 1; i >= sp; i-- {
		switch rec := th.Stack[i].(type) {
		case dynamicRecord:
			if rec.hadPrior {
				th.dynamic[rec.vi] = rec.prior
			} else {
				delete(th.dynamic, rec.vi)
			}
		case environRecord:
			if rec.hadPrior {
				th.environ[rec.vi] = rec.prior
			} else {
				delete(th.environ, rec.vi)
			}
		}
	}

	th.Stack = th.Stack[:sp]
}

func (th *Thread) pendingTop() *value.Frame {
	return th.pending[len(th.pending)-1]
}

func (th *Thread) popPending() *value.Frame {
	n := len(th.pending) - 1
	f := th.pending[n]
	th.pending = th.pending[:n]

	return f
}

func (th *Thread) location() string {
	return fmt.Sprintf("xi=%d pc=%#04x", th.XI, th.PC)
}

// dispatch is the fetch-decode-execute loop, one Go call frame per non-tail
// INVOKE (see the package doc). base is the control-stack length this
// invocation started at: a trap/escaper whose record lives at an index
// below base belongs to an outer invocation and must be let to propagate.
func (th *Thread) dispatch(base int) (value.Value, error) {
	for {
		val, halt, err := th.step(base)
		if err != nil {
			return nil, err
		}

		if halt {
			return val, nil
		}
	}
}

// step fetches and executes exactly one opcode, recovering raiseSignal and
// escapeSignal panics that belong to this dispatch frame (see dispatch's
// base parameter) and re-panicking ones that don't. halt is true once the
// loop should stop because a RETURN or FINISH was executed for this frame.
func (th *Thread) step(base int) (val value.Value, halt bool, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		switch sig := r.(type) {
		case raiseSignal:
			v, handled, rerr := th.handleRaise(base, sig.cond)
			if !handled {
				panic(r) // not ours: let an outer dispatch frame try.
			}

			if rerr != nil {
				err = rerr
				return
			}

			val, halt = v, false

		case escapeSignal:
			if sig.target < base {
				panic(r)
			}

			rec := th.Stack[sig.target].(escaperRecord)
			th.unwindTo(sig.target)
			th.XI, th.PC, th.Frame, th.Module = rec.xi, rec.pc, rec.frame, rec.mod
			th.Val = sig.val
			val, halt = sig.val, false

		default:
			panic(r)
		}
	}()

	if n := th.RT.PendingSignal(); n >= 0 {
		panic(raiseSignal{value.NewCondition(value.CondRTSignal, th.location(), fmt.Sprintf("signal %d delivered", n))})
	}

	op := codegen.Op(th.fetchByte())

	if th.trace {
		th.logf("exec", "OP", op.String())
	}

	switch op {
	case codegen.CONSTANT_0, codegen.CONSTANT_1, codegen.CONSTANT_2, codegen.CONSTANT_3, codegen.CONSTANT_4:
		ci := int(op - codegen.CONSTANT_0)
		th.Val = th.RT.XEnv(th.XI).Constant(ci)

	case codegen.CONSTANT_REF:
		th.Val = th.RT.XEnv(th.XI).Constant(int(th.fetchVaruint()))

	case codegen.FIXNUM:
		th.Val = value.Fixnum(th.fetchVaruint())

	case codegen.NEG_FIXNUM:
		th.Val = value.Fixnum(-int64(th.fetchVaruint()))

	case codegen.SHALLOW_ARGUMENT_REF:
		th.Val = th.Frame.At(0, int(th.fetchVaruint()))

	case codegen.SHALLOW_ARGUMENT_SET:
		th.Frame.SetAt(0, int(th.fetchVaruint()), th.Val)

	case codegen.DEEP_ARGUMENT_REF:
		depth := int(th.fetchVaruint())
		slot := int(th.fetchVaruint())
		th.Val = th.Frame.At(depth, slot)

	case codegen.DEEP_ARGUMENT_SET:
		depth := int(th.fetchVaruint())
		slot := int(th.fetchVaruint())
		th.Frame.SetAt(depth, slot, th.Val)

	case codegen.SYM_REF:
		th.Val = th.symRef(int(th.fetchUint16()))

	case codegen.SYM_SET:
		th.symSet(int(th.fetchUint16()), th.Val)

	case codegen.SYM_DEF:
		scope := value.Constant(th.fetchByte())
		si := int(th.fetchUint16())
		_ = scope
		vi := th.RT.XEnv(th.XI).VT(si)
		th.RT.SetValue(vi, th.Val)

	case codegen.VAL_REF:
		th.Val = th.RT.GetValue(int(th.fetchUint16()))

	case codegen.VAL_SET:
		th.RT.SetValue(int(th.fetchUint16()), th.Val)

	case codegen.PUSH_VALUE:
		th.VStack = append(th.VStack, th.Val)

	case codegen.GOTO:
		off := th.fetchJump()
		th.PC += off

	case codegen.GOTO_FALSE:
		off := th.fetchJump()
		if !value.IsTrue(th.Val) {
			th.PC += off
		}

	case codegen.GOTO_TRUE:
		off := th.fetchJump()
		if value.IsTrue(th.Val) {
			th.PC += off
		}

	case codegen.NOT:
		th.Val = value.Boolean(!value.IsTrue(th.Val))

	case codegen.ALLOCATE_FRAME:
		n := int(th.fetchVaruint())
		th.pending = append(th.pending, value.NewFrame(nil, n))

	case codegen.EXTEND_FRAME:
		n := int(th.fetchVaruint())
		f := th.pendingTop()
		f.Args = append(f.Args, make([]value.Value, n)...)
		f.Nalloc += n

	case codegen.REUSE_FRAME:
	// Tail position: the pending frame replaces the current one outright.

	case codegen.POP_FRAME:
		th.Frame = th.Frame.Next

	case codegen.LINK_FRAME:
		f := th.popPending()
		f.Next = th.Frame
		th.Frame = f

	case codegen.UNLINK_FRAME:
		th.Frame = th.Frame.Next

	case codegen.STORE_ARGUMENT:
		slot := int(th.fetchVaruint())
		th.pendingTop().Args[slot] = th.Val

	case codegen.LIST_ARGUMENT:
		slot := int(th.fetchVaruint())
		rest := value.List(th.Frame.Args[slot:]...)
		args := append(append([]value.Value(nil), th.Frame.Args[:slot]...), rest)
		th.Frame.Args = args
		th.Frame.Nalloc = len(args)

	case codegen.ARITY1P, codegen.ARITY2P, codegen.ARITY3P, codegen.ARITY4P:
		want := int(op-codegen.ARITY1P) + 1
		th.checkArity(want, false)

	case codegen.ARITYEQP:
		th.checkArity(int(th.fetchVaruint()), false)

	case codegen.ARITYGEP:
		th.checkArity(int(th.fetchVaruint()), true)

	case codegen.CREATE_CLOSURE, codegen.CREATE_CLOSURE_NESTED:
		length := th.fetch3ByteLen()
		pc := th.PC
		th.PC += length
		th.Val = &value.Closure{
			XI:    th.XI,
			PC:    pc,
			Len:   length,
			Frame: th.Frame,
			Env:   th.Module,
			Props: &value.Properties{SourceCI: -1},
		}

	case codegen.PRIMCALL0, codegen.PRIMCALL1, codegen.PRIMCALL2:
		n := int(op - codegen.PRIMCALL0)
		vi := int(th.fetchUint16())
		th.execPrimCall(n, vi)

	case codegen.PRESERVE_STATE:
		th.Stack = append(th.Stack, callMark{xi: th.XI, pc: th.PC, fn: th.Func, expr: th.Expr})

	case codegen.RESTORE_STATE:
		n := len(th.Stack) - 1
		th.Stack = th.Stack[:n]

	case codegen.INVOKE:
		th.invokeOpcode(base)

	case codegen.TAIL_CALL:
		th.tailCallOpcode()

	case codegen.RETURN:
		return th.Val, true, nil

	case codegen.FINISH:
		th.halted = true
		return th.Val, true, ErrHalted

	case codegen.PUSH_ABORT:
		label := int(th.fetchVaruint())
		_ = label
		th.Stack = append(th.Stack, abortRecord{xi: th.XI, pc: th.PC, sp: len(th.Stack)})

	case codegen.POP_ABORT:
		th.Stack = th.Stack[:len(th.Stack)-1]

	case codegen.PUSH_TRAP:
		condCI := int(th.fetchUint16())
		handlerVI := int(th.fetchVaruint())
		resumePC := th.fetchJump16()
		kind := th.conditionKind(condCI)
		th.Stack = append(th.Stack, trapRecord{
			kind:    kind,
			handler: th.RT.GetValue(handlerVI),
			xi:      th.XI,
			pc:      resumePC,
			frame:   th.Frame,
			mod:     th.Module,
		})

	case codegen.POP_TRAP:
		th.Stack = th.Stack[:len(th.Stack)-1]

	case codegen.PUSH_ESCAPER:
		label := int(th.fetchUint16())
		resumePC := th.fetchJump16()
		th.Stack = append(th.Stack, escaperRecord{label: label, xi: th.XI, pc: resumePC, frame: th.Frame, mod: th.Module})

	case codegen.POP_ESCAPER:
		th.Stack = th.Stack[:len(th.Stack)-1]

	case codegen.ESCAPE_FROM:
		label := int(th.fetchUint16())
		th.escapeTo(label, th.Val)

	case codegen.PUSH_DYNAMIC:
		si := int(th.fetchUint16())
		vi := th.RT.XEnv(th.XI).VT(si)
		prior, had := th.dynamic[vi]
		th.Stack = append(th.Stack, dynamicRecord{vi: vi, prior: prior, hadPrior: had})
		th.dynamic[vi] = th.Val

	case codegen.POP_DYNAMIC:
		n := len(th.Stack) - 1
		rec := th.Stack[n].(dynamicRecord)
		th.Stack = th.Stack[:n]

		if rec.hadPrior {
			th.dynamic[rec.vi] = rec.prior
		} else {
			delete(th.dynamic, rec.vi)
		}

	case codegen.DYNAMIC_REF:
		si := int(th.fetchUint16())
		vi := th.RT.XEnv(th.XI).VT(si)

		v, ok := th.dynamic[vi]
		if !ok {
			// No live push: fall back to the value table, where a toplevel
			// :~ definition lives.
			v = th.RT.GetValue(vi)
		}

		if v == nil || v == value.Undef {
			panic(raiseSignal{value.NewCondition(value.CondRTVariableUnbound, th.location(), "dynamic variable unbound")})
		}

		th.Val = v

	case codegen.DYNAMIC_SET:
		si := int(th.fetchUint16())
		vi := th.RT.XEnv(th.XI).VT(si)

		if _, ok := th.dynamic[vi]; ok {
			th.dynamic[vi] = th.Val
		} else {
			th.RT.SetValue(vi, th.Val)
		}

	case codegen.PUSH_ENVIRON:
		si := int(th.fetchUint16())
		vi := th.RT.XEnv(th.XI).VT(si)
		prior, had := th.environ[vi]
		th.Stack = append(th.Stack, environRecord{vi: vi, prior: prior, hadPrior: had})
		th.environ[vi] = th.Val

	case codegen.POP_ENVIRON:
		n := len(th.Stack) - 1
		rec := th.Stack[n].(environRecord)
		th.Stack = th.Stack[:n]

		if rec.hadPrior {
			th.environ[rec.vi] = rec.prior
		} else {
			delete(th.environ, rec.vi)
		}

	case codegen.ENVIRON_REF:
		si := int(th.fetchUint16())
		vi := th.RT.XEnv(th.XI).VT(si)

		v, ok := th.environ[vi]
		if !ok {
			v = th.RT.GetValue(vi)
		}

		if v == nil || v == value.Undef {
			panic(raiseSignal{value.NewCondition(value.CondRTVariableUnbound, th.location(), "environ variable unbound")})
		}

		th.Val = v

	case codegen.ENVIRON_SET:
		si := int(th.fetchUint16())
		vi := th.RT.XEnv(th.XI).VT(si)

		if _, ok := th.environ[vi]; ok {
			th.environ[vi] = th.Val
		} else {
			th.RT.SetValue(vi, th.Val)
		}

	case codegen.COMPUTED_REF:
		si := int(th.fetchUint16())
		vi := th.RT.XEnv(th.XI).VT(si)

		c, ok := th.RT.GetValue(vi).(*value.Computed)
		if !ok {
			panic(raiseSignal{value.NewCondition(value.CondRTVariableUnbound, th.location(), "computed variable unbound")})
		}

		v, err := th.Invoke(c.Get, nil)
		if err != nil {
			panic(raiseSignal{asCondition(err)})
		}

		th.Val = v

	case codegen.COMPUTED_SET:
		si := int(th.fetchUint16())
		vi := th.RT.XEnv(th.XI).VT(si)

		c, ok := th.RT.GetValue(vi).(*value.Computed)
		if !ok || c.Set == nil {
			panic(raiseSignal{value.NewCondition(value.CondRTVariableUnbound, th.location(), "computed variable has no setter")})
		}

		if _, err := th.Invoke(c.Set, []value.Value{th.Val}); err != nil {
			panic(raiseSignal{asCondition(err)})
		}

	case codegen.COMPUTED_DEFINE:
		setter := th.Val
		n := len(th.VStack) - 1
		getter := th.VStack[n]
		th.VStack = th.VStack[:n]

		si := int(th.fetchUint16())
		vi := th.RT.XEnv(th.XI).VT(si)
		th.RT.SetValue(vi, &value.Computed{Get: getter, Set: setter})

	case codegen.EXPANDER:
		si := int(th.fetchUint16())
		vi := th.RT.XEnv(th.XI).VT(si)
		th.RT.SetValue(vi, th.Val)

	case codegen.OPERATOR:
		si := int(th.fetchUint16())
		_ = th.fetchVaruint() // priority: installed by the eval package's operator table at compile time.
		vi := th.RT.XEnv(th.XI).VT(si)
		th.RT.SetValue(vi, th.Val)

	case codegen.SRC_EXPR:
		idx := int(th.fetchVaruint())
		th.Expr = th.RT.XEnv(th.XI).SourceExprs()[idx]

	case codegen.SUPPRESS_RCSE, codegen.POP_RCSE:
	// Debug/tracing no-ops in this VM; nothing observes them.

	default:
		panic(raiseSignal{value.NewCondition(value.CondEvaluationError, th.location(), fmt.Sprintf("unknown opcode %s", op))})
	}

	return nil, false, nil
}

// fetchJump16 reads PUSH_TRAP/PUSH_ESCAPER's fixed 2-byte unsigned resume pc.
func (th *Thread) fetchJump16() int {
	hi, lo := th.code()[th.PC], th.code()[th.PC+1]
	th.PC += 2

	return int(uint16(hi)<<8 | uint16(lo))
}

func (th *Thread) symRef(si int) value.Value {
	vi := th.RT.XEnv(th.XI).VT(si)
	if vi <= 0 {
		panic(raiseSignal{value.NewCondition(value.CondRTVariableUnbound, th.location(), "unbound variable")})
	}

	v := th.RT.GetValue(vi)
	if v == value.Undef {
		panic(raiseSignal{value.NewCondition(value.CondRTVariableUnbound, th.location(), "unbound variable")})
	}

	return v
}

func (th *Thread) symSet(si int, v value.Value) {
	vi := th.RT.XEnv(th.XI).VT(si)
	if vi <= 0 {
		panic(raiseSignal{value.NewCondition(value.CondRTVariableUnbound, th.location(), "unbound variable")})
	}

	th.RT.SetValue(vi, v)
}

func (th *Thread) conditionKind(ci int) value.ConditionKind {
	sym, ok := th.RT.XEnv(th.XI).Constant(ci).(*value.Symbol)
	if !ok {
		return value.ConditionKind("")
	}

	return value.ConditionKind(sym.Name())
}

func (th *Thread) checkArity(want int, atLeast bool) {
	got := 0
	if th.Frame != nil {
		got = th.Frame.Nalloc
	}

	if atLeast {
		if got < want {
			panic(raiseSignal{value.ArityError(th.location(), want, got)})
		}

		return
	}

	if got != want {
		panic(raiseSignal{value.ArityError(th.location(), want, got)})
	}
}

// invokeOpcode runs INVOKE: th.Val is the callee, the top pending frame the
// argument frame ALLOCATE_FRAME/STORE_ARGUMENT built. Non-tail calls
// recurse through Go's own stack (see the package doc).
func (th *Thread) invokeOpcode(base int) {
	callerXI, callerPC, callerFrame, callerFunc, callerMod := th.XI, th.PC, th.Frame, th.Func, th.Module

	result, err := th.invokeValue(th.Val, th.popPending())

	if err != nil {
		panic(raiseSignal{asCondition(err)})
	}

	th.XI, th.PC, th.Frame, th.Func, th.Module = callerXI, callerPC, callerFrame, callerFunc, callerMod
	th.Val = result
}

// tailCallOpcode runs TAIL_CALL: the pending frame replaces the current
// one and the dispatch loop resumes at the callee's entry with no new Go
// call frame, giving true tail-call elimination.
func (th *Thread) tailCallOpcode() {
	callee := th.Val
	args := th.popPending()

	switch fn := callee.(type) {
	case *value.Closure:
		args.Next = fn.Frame
		th.Frame = args
		th.Func = fn

		if mod, ok := fn.Env.(*module.Module); ok {
			th.Module = mod
		}

		th.XI = fn.XI
		th.PC = fn.PC

	case *value.Primitive:
		result, err := callPrimitive(fn, args.Args)
		if err != nil {
			panic(raiseSignal{asCondition(err)})
		}

		th.Val = result

	// A primitive has no byte code to jump into; synthesize a RETURN by
	// letting the caller's own RESTORE_STATE-less tail path fall through:
	// the enclosing dispatch loop simply continues past this point, same
	// as if the call had returned immediately.

	case *value.Continuation:
		var v value.Value
		if len(args.Args) > 0 {
			v = args.Args[0]
		}

		th.invokeContinuation(fn, v)

	default:
		panic(raiseSignal{value.NewCondition(value.CondEvaluationError, th.location(), "apply of non-procedure")})
	}
}

// invokeValue runs fn with a pre-built argument frame (or builds one from
// args for the Invoke/apply path), returning its result without touching
// this Thread's registers beyond a nested dispatch call.
func (th *Thread) invokeValue(fn value.Value, args *value.Frame) (value.Value, error) {
	switch f := fn.(type) {
	case *value.Closure:
		args.Next = f.Frame
		th.Frame = args
		th.Func = f

		if mod, ok := f.Env.(*module.Module); ok {
			th.Module = mod
		}

		th.XI = f.XI
		th.PC = f.PC

		return th.dispatch(len(th.Stack))

	case *value.Primitive:
		return callPrimitive(f, args.Args)

	case *value.Continuation:
		var v value.Value
		if len(args.Args) > 0 {
			v = args.Args[0]
		}

		th.invokeContinuation(f, v)

		return nil, nil // unreachable: invokeContinuation always panics.

	default:
		return nil, value.NewCondition(value.CondEvaluationError, th.location(), "apply of non-procedure")
	}
}

func callPrimitive(p *value.Primitive, args []value.Value) (value.Value, error) {
	if !p.Varargs && len(args) != p.Arity && p.Arity >= 0 {
		return nil, value.ArityError(p.Name, p.Arity, len(args))
	}

	return p.Fn(args)
}

func asCondition(err error) *value.Condition {
	if c, ok := err.(*value.Condition); ok {
		return c
	}

	return value.NewCondition(value.CondEvaluationError, "", err.Error())
}

// execPrimCall pops n staged operands (all but the last, which sits in the
// val register) and invokes the primitive at vi.
func (th *Thread) execPrimCall(n int, vi int) {
	args := make([]value.Value, n)

	if n > 0 {
		args[n-1] = th.Val

		for i := n - 2; i >= 0; i-- {
			top := len(th.VStack) - 1
			args[i] = th.VStack[top]
			th.VStack = th.VStack[:top]
		}
	}

	fn := th.RT.GetValue(vi)

	prim, ok := fn.(*value.Primitive)
	if !ok {
		panic(raiseSignal{value.NewCondition(value.CondEvaluationError, th.location(), "PRIMCALL target is not a primitive")})
	}

	result, err := prim.Fn(args)
	if err != nil {
		panic(raiseSignal{asCondition(err)})
	}

	th.Val = result
}
