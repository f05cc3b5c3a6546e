package codegen

import (
	"fmt"

	"github.com/idio-lang/idio/internal/value"
	"github.com/idio-lang/idio/internal/xenv"
)

// Generator linearises an IR tree into an xenv's byte code, one expression
// at a time: a small struct holding the tables it writes through plus an
// entry point that runs to completion or returns a wrapped error.
type Generator struct {
	x  *xenv.XEnv
	rt *xenv.Runtime
}

// NewGenerator creates a Generator writing into x, using rt to resolve
// fresh value-table slots for newly-extended symbols.
func NewGenerator(x *xenv.XEnv, rt *xenv.Runtime) *Generator {
	return &Generator{x: x, rt: rt}
}

// Generate appends the byte code for n and returns the pc it starts at.
func (g *Generator) Generate(n *Node) (int, error) {
	start := len(g.x.ByteCode())

	if err := g.emit(n, false); err != nil {
		return start, fmt.Errorf("codegen: %w", err)
	}

	return start, nil
}

// GenerateExpr appends the byte code for a top-level form: a PUSH_ABORT/
// POP_ABORT pair bracketing the whole form, a SRC_EXPR prefix updating the
// thread's expr register to seIdx (an index into the xenv's ses/sps
// arrays), then n itself. It returns the pc the form's code starts at.
func (g *Generator) GenerateExpr(n *Node, seIdx int) (int, error) {
	start := len(g.x.ByteCode())
	g.put1(PUSH_ABORT, uint64(seIdx))
	g.put1(SRC_EXPR, uint64(seIdx))

	if err := g.emit(n, false); err != nil {
		return start, fmt.Errorf("codegen: %w", err)
	}

	g.x.AppendByteCode(byte(POP_ABORT))

	return start, nil
}

// emit compiles n, appending to the xenv's byte code. tail indicates the
// node is in tail position, which for applications emits REUSE_FRAME and
// TAIL_CALL in place of PRESERVE_STATE, INVOKE and RESTORE_STATE.
func (g *Generator) emit(n *Node, tail bool) error {
	if n == nil {
		return nil
	}

	switch n.Kind {
	case KConstant:
		return g.emitConstant(n.Const)

	case KShallowRef:
		g.put1(SHALLOW_ARGUMENT_REF, uint64(n.Slot))
		return nil

	case KShallowSet:
		g.put1(SHALLOW_ARGUMENT_SET, uint64(n.Slot))
		return nil

	case KDeepRef:
		g.put2(DEEP_ARGUMENT_REF, uint64(n.Depth), uint64(n.Slot))
		return nil

	case KDeepSet:
		g.put2(DEEP_ARGUMENT_SET, uint64(n.Depth), uint64(n.Slot))
		return nil

	case KSymRef:
		g.putIdx16(SYM_REF, uint16(n.SI))
		return nil

	case KSymSet:
		g.putIdx16(SYM_SET, uint16(n.SI))
		return nil

	case KSymDef:
		buf := []byte{byte(SYM_DEF), byte(n.Scope)}
		buf = PutUint16(buf, uint16(n.SI))
		g.x.AppendByteCode(buf...)

		return nil

	case KValRef:
		g.putIdx16(VAL_REF, uint16(n.SI))
		return nil

	case KIf:
		return g.emitIf(n, tail)

	case KSequence:
		for i, k := range n.Kids {
			if err := g.emit(k, tail && i == len(n.Kids)-1); err != nil {
				return err
			}
		}

		return nil

	case KAnd:
		return g.emitAndOr(n, tail, GOTO_FALSE)

	case KOr:
		return g.emitAndOr(n, tail, GOTO_TRUE)

	case KNot:
		if err := g.emit(n.Kids[0], false); err != nil {
			return err
		}

		g.x.AppendByteCode(byte(NOT))

		return nil

	case KLambda:
		return g.emitLambda(n)

	case KFixLet:
		return g.emitFixLet(n, tail)

	case KApplication:
		return g.emitApplication(n, tail)

	case KTailApplication:
		return g.emitApplication(n, true)

	case KPrimCall:
		return g.emitPrimCall(n)

	case KDynamicLet:
		return g.emitDynamicLet(n, PUSH_DYNAMIC, POP_DYNAMIC)

	case KEnvironLet:
		return g.emitDynamicLet(n, PUSH_ENVIRON, POP_ENVIRON)

	case KDynamicRef:
		g.putIdx16(DYNAMIC_REF, uint16(n.SI))
		return nil

	case KEnvironRef:
		g.putIdx16(ENVIRON_REF, uint16(n.SI))
		return nil

	case KDynamicSet:
		g.putIdx16(DYNAMIC_SET, uint16(n.SI))
		return nil

	case KEnvironSet:
		g.putIdx16(ENVIRON_SET, uint16(n.SI))
		return nil

	case KComputedRef:
		g.putIdx16(COMPUTED_REF, uint16(n.SI))
		return nil

	case KComputedSet:
		g.putIdx16(COMPUTED_SET, uint16(n.SI))
		return nil

	case KComputedDef:
		// Kids holds [getter, setter]; the VM pairs them into one accessor
		// value, so the getter must survive the setter's evaluation.
		if err := g.emit(n.Kids[0], false); err != nil {
			return err
		}

		g.x.AppendByteCode(byte(PUSH_VALUE))

		if err := g.emit(n.Kids[1], false); err != nil {
			return err
		}

		g.putIdx16(COMPUTED_DEFINE, uint16(n.SI))

		return nil

	case KTrap:
		return g.emitTrap(n)

	case KEscaperPush:
		return g.emitEscaperPush(n)

	case KEscapeFrom:
		g.putIdx16(ESCAPE_FROM, uint16(n.SI))
		return nil

	case KExpanderDef:
		g.putIdx16(EXPANDER, uint16(n.SI))
		return nil

	case KOperatorDef:
		buf := PutUint16(nil, uint16(n.SI))
		buf = PutVaruint(buf, uint64(n.NFormals)) // priority, reusing NFormals as the scalar payload.
		g.x.AppendByteCode(byte(OPERATOR))
		g.x.AppendByteCode(buf...)

		return nil

	default:
		return fmt.Errorf("unhandled IR kind %d", n.Kind)
	}
}

func (g *Generator) emitConstant(v value.Value) error {
	if f, ok := v.(value.Fixnum); ok {
		if f < 0 {
			g.put1(NEG_FIXNUM, uint64(-int64(f)))
		} else {
			g.put1(FIXNUM, uint64(f))
		}

		return nil
	}

	ci := g.x.ConstantsLookupOrExtend(v)

	switch ci {
	case 0:
		g.x.AppendByteCode(byte(CONSTANT_0))
	case 1:
		g.x.AppendByteCode(byte(CONSTANT_1))
	case 2:
		g.x.AppendByteCode(byte(CONSTANT_2))
	case 3:
		g.x.AppendByteCode(byte(CONSTANT_3))
	case 4:
		g.x.AppendByteCode(byte(CONSTANT_4))
	default:
		g.put1(CONSTANT_REF, uint64(ci))
	}

	return nil
}

func (g *Generator) emitIf(n *Node, tail bool) error {
	if err := g.emit(n.Test, false); err != nil {
		return err
	}

	g.x.AppendByteCode(byte(GOTO_FALSE))
	elsePatch := g.reserveJump()

	if err := g.emit(n.Then, tail); err != nil {
		return err
	}

	g.x.AppendByteCode(byte(GOTO))
	endPatch := g.reserveJump()

	g.patchJumpHere(elsePatch)

	if err := g.emit(n.Else, tail); err != nil {
		return err
	}

	g.patchJumpHere(endPatch)

	return nil
}

func (g *Generator) emitAndOr(n *Node, tail bool, shortCircuit Op) error {
	var patches []int

	for i, k := range n.Kids {
		last := i == len(n.Kids)-1
		if err := g.emit(k, tail && last); err != nil {
			return err
		}

		if !last {
			g.x.AppendByteCode(byte(shortCircuit))
			patches = append(patches, g.reserveJump())
		}
	}

	for _, p := range patches {
		g.patchJumpHere(p)
	}

	return nil
}

func (g *Generator) emitLambda(n *Node) error {
	// Body is generated into a fresh region of the same xenv; CREATE_CLOSURE
	// carries the length of that region so the VM can skip over it at
	// definition time and later jump into it at call time.
	lenPatchPC := g.x.AppendByteCode(byte(CREATE_CLOSURE))
	lenPlaceholder := g.reserveLenSlot()

	bodyStart := len(g.x.ByteCode())

	if n.Varargs {
		// The last formal is the rest parameter: at least NFormals-1 fixed
		// arguments must be supplied, and whatever arrived at or beyond
		// slot NFormals-1 is packed into a single list stored there.
		g.put1(ARITYGEP, uint64(n.NFormals-1))
		g.put1(LIST_ARGUMENT, uint64(n.NFormals-1))
	} else if n.NFormals >= 1 && n.NFormals <= 4 {
		g.x.AppendByteCode(byte(ARITY1P) + byte(n.NFormals-1))
	} else {
		g.put1(ARITYEQP, uint64(n.NFormals))
	}

	if err := g.emit(n.Body, true); err != nil {
		return err
	}

	g.x.AppendByteCode(byte(RETURN))

	bodyLen := len(g.x.ByteCode()) - bodyStart
	g.patchLenSlot(lenPlaceholder, uint64(bodyLen))
	_ = lenPatchPC

	return nil
}

func (g *Generator) emitFixLet(n *Node, tail bool) error {
	g.put1(ALLOCATE_FRAME, uint64(n.NFormals))

	for i, b := range n.Bindings {
		if err := g.emit(b, false); err != nil {
			return err
		}

		g.put1(STORE_ARGUMENT, uint64(i))
	}

	g.x.AppendByteCode(byte(LINK_FRAME))

	if err := g.emit(n.Body, tail); err != nil {
		return err
	}

	g.x.AppendByteCode(byte(UNLINK_FRAME))

	return nil
}

func (g *Generator) emitApplication(n *Node, tail bool) error {
	fn := n.Kids[0]
	args := n.Kids[1:]

	g.put1(ALLOCATE_FRAME, uint64(len(args)))

	for i, a := range args {
		if err := g.emit(a, false); err != nil {
			return err
		}

		g.put1(STORE_ARGUMENT, uint64(i))
	}

	if err := g.emit(fn, false); err != nil {
		return err
	}

	// Tail calls reuse the current frame and do not push a return address:
	// PRESERVE_STATE/RESTORE_STATE only bracket the non-tail path.
	if tail {
		g.x.AppendByteCode(byte(REUSE_FRAME))
		g.x.AppendByteCode(byte(TAIL_CALL))
	} else {
		g.x.AppendByteCode(byte(PRESERVE_STATE))
		g.x.AppendByteCode(byte(INVOKE))
		g.x.AppendByteCode(byte(RESTORE_STATE))
	}

	return nil
}

func (g *Generator) emitPrimCall(n *Node) error {
	// Each argument is evaluated into the val register in turn, so all but
	// the last must be staged on the operand stack or they'd be clobbered
	// by the next argument's evaluation.
	for i, a := range n.Kids {
		if err := g.emit(a, false); err != nil {
			return err
		}

		if i < len(n.Kids)-1 {
			g.x.AppendByteCode(byte(PUSH_VALUE))
		}
	}

	switch n.PrimN {
	case 0:
		g.putIdx16(PRIMCALL0, uint16(n.PrimVI))
	case 1:
		g.putIdx16(PRIMCALL1, uint16(n.PrimVI))
	case 2:
		g.putIdx16(PRIMCALL2, uint16(n.PrimVI))
	default:
		return fmt.Errorf("codegen: PRIMCALL only supports arity 0-2, got %d", n.PrimN)
	}

	return nil
}

func (g *Generator) emitDynamicLet(n *Node, push, pop Op) error {
	if err := g.emit(n.Kids[0], false); err != nil { // initial value expression
		return err
	}

	g.putIdx16(push, uint16(n.SI))

	if err := g.emit(n.Body, false); err != nil {
		return err
	}

	g.x.AppendByteCode(byte(pop))

	return nil
}

func (g *Generator) emitTrap(n *Node) error {
	buf := PutUint16(nil, uint16(n.CondCI))
	buf = PutVaruint(buf, uint64(n.HandlerVI))
	g.x.AppendByteCode(byte(PUSH_TRAP))
	g.x.AppendByteCode(buf...)

	afterPatch := len(g.x.ByteCode())
	g.x.AppendByteCode(0, 0) // fixed 2-byte resume-pc placeholder, patched below.

	if err := g.emit(n.Body, false); err != nil {
		return err
	}

	g.x.AppendByteCode(byte(POP_TRAP))
	resumePC := len(g.x.ByteCode())

	bc := g.x.ByteCode()
	bc[afterPatch] = byte(resumePC >> 8)
	bc[afterPatch+1] = byte(resumePC)

	return nil
}

func (g *Generator) emitEscaperPush(n *Node) error {
	buf := PutUint16(nil, uint16(n.SI))
	g.x.AppendByteCode(byte(PUSH_ESCAPER))
	afterPatch := len(g.x.ByteCode())
	buf = append(buf, 0, 0) // fixed 2-byte resume-pc placeholder, patched below.
	g.x.AppendByteCode(buf...)

	if err := g.emit(n.PCAfter, false); err != nil {
		return err
	}

	g.x.AppendByteCode(byte(POP_ESCAPER))
	resumePC := len(g.x.ByteCode())

	bc := g.x.ByteCode()
	bc[afterPatch+2] = byte(resumePC >> 8)
	bc[afterPatch+3] = byte(resumePC)

	return nil
}

// --- small byte-emission helpers -----------------------------------------

func (g *Generator) put1(op Op, a uint64) {
	buf := []byte{byte(op)}
	buf = PutVaruint(buf, a)
	g.x.AppendByteCode(buf...)
}

func (g *Generator) put2(op Op, a, b uint64) {
	buf := []byte{byte(op)}
	buf = PutVaruint(buf, a)
	buf = PutVaruint(buf, b)
	g.x.AppendByteCode(buf...)
}

func (g *Generator) putIdx16(op Op, idx uint16) {
	buf := []byte{byte(op)}
	buf = PutUint16(buf, idx)
	g.x.AppendByteCode(buf...)
}

// reserveJump reserves a fixed 2-byte big-endian relative-offset slot right
// after a jump opcode and returns its position. Jumps use a fixed-width
// encoding rather than the general varuint form so that
// backpatching doesn't need to shift already-emitted code when a computed
// offset needs more bytes than initially guessed.
func (g *Generator) reserveJump() int {
	pos := len(g.x.ByteCode())
	g.x.AppendByteCode(0, 0)

	return pos
}

func (g *Generator) patchJumpHere(pos int) {
	target := len(g.x.ByteCode())
	offset := target - (pos + 2)
	bc := g.x.ByteCode()
	bc[pos] = byte(int16(offset) >> 8)
	bc[pos+1] = byte(int16(offset))
}

// reserveLenSlot reserves a fixed 3-byte slot (enough for lengths up to
// ~16M) for a value only known after the fact, such as a closure body's
// length.
func (g *Generator) reserveLenSlot() int {
	pos := len(g.x.ByteCode())
	g.x.AppendByteCode(0, 0, 0)

	return pos
}

func (g *Generator) patchLenSlot(pos int, n uint64) {
	bc := g.x.ByteCode()
	bc[pos] = byte(n >> 16)
	bc[pos+1] = byte(n >> 8)
	bc[pos+2] = byte(n)
}
