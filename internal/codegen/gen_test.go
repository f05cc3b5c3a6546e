package codegen

import (
	"testing"

	"github.com/idio-lang/idio/internal/value"
	"github.com/idio-lang/idio/internal/xenv"
)

func newTestGen() (*Generator, *xenv.XEnv, *xenv.Runtime) {
	rt := xenv.NewRuntime()
	x := rt.Bootstrap()

	return NewGenerator(x, rt), x, rt
}

func TestFixnumConstantsUseFixnumOpcodes(tt *testing.T) {
	tt.Parallel()

	g, x, _ := newTestGen()

	if _, err := g.Generate(&Node{Kind: KConstant, Const: value.Fixnum(3)}); err != nil {
		tt.Fatalf("generate: %v", err)
	}

	bc := x.ByteCode()
	if len(bc) != 2 || Op(bc[0]) != FIXNUM || bc[1] != 3 {
		tt.Errorf("byte code = % x, want FIXNUM 3", bc)
	}

	// Fixnums never go through the constants table.
	if len(x.Constants()) != 0 {
		tt.Errorf("constants table grew: %v", x.Constants())
	}
}

func TestNegativeFixnum(tt *testing.T) {
	tt.Parallel()

	g, x, _ := newTestGen()

	if _, err := g.Generate(&Node{Kind: KConstant, Const: value.Fixnum(-5)}); err != nil {
		tt.Fatalf("generate: %v", err)
	}

	bc := x.ByteCode()
	if len(bc) != 2 || Op(bc[0]) != NEG_FIXNUM || bc[1] != 5 {
		tt.Errorf("byte code = % x, want NEG-FIXNUM 5", bc)
	}
}

func TestSmallConstantIndexesGetShortOpcodes(tt *testing.T) {
	tt.Parallel()

	g, x, _ := newTestGen()

	for i := 0; i < 5; i++ {
		if _, err := g.Generate(&Node{Kind: KConstant, Const: value.NewString(string(rune('a' + i)))}); err != nil {
			tt.Fatalf("generate: %v", err)
		}
	}

	bc := x.ByteCode()
	want := []Op{CONSTANT_0, CONSTANT_1, CONSTANT_2, CONSTANT_3, CONSTANT_4}

	if len(bc) != len(want) {
		tt.Fatalf("byte code = % x", bc)
	}

	for i, op := range want {
		if Op(bc[i]) != op {
			tt.Errorf("bc[%d] = %s, want %s", i, Op(bc[i]), op)
		}
	}
}

func TestIfEmitsPatchedJumps(tt *testing.T) {
	tt.Parallel()

	g, x, _ := newTestGen()

	n := &Node{
		Kind: KIf,
		Test: &Node{Kind: KConstant, Const: value.True},
		Then: &Node{Kind: KConstant, Const: value.Fixnum(1)},
		Else: &Node{Kind: KConstant, Const: value.Fixnum(2)},
	}

	if _, err := g.Generate(n); err != nil {
		tt.Fatalf("generate: %v", err)
	}

	bc := x.ByteCode()

	// CONSTANT_n(test) GOTO_FALSE hi lo FIXNUM 1 GOTO hi lo FIXNUM 2
	if Op(bc[1]) != GOTO_FALSE {
		tt.Fatalf("bc[1] = %s, want GOTO-FALSE; code % x", Op(bc[1]), bc)
	}

	// The GOTO_FALSE offset must land exactly on the else branch.
	off := int(int16(uint16(bc[2])<<8 | uint16(bc[3])))
	elsePC := 4 + off

	if Op(bc[elsePC]) != FIXNUM || bc[elsePC+1] != 2 {
		tt.Errorf("GOTO-FALSE lands at pc=%d (% x), not the else branch", elsePC, bc)
	}
}

func TestApplicationShape(tt *testing.T) {
	tt.Parallel()

	g, x, _ := newTestGen()

	call := &Node{
		Kind: KApplication,
		Kids: []*Node{
			{Kind: KShallowRef, Slot: 0}, // callee
			{Kind: KConstant, Const: value.Fixnum(1)},
		},
	}

	if _, err := g.Generate(call); err != nil {
		tt.Fatalf("generate: %v", err)
	}

	ops := decodeOps(tt, x.ByteCode())

	want := []Op{ALLOCATE_FRAME, FIXNUM, STORE_ARGUMENT, SHALLOW_ARGUMENT_REF, PRESERVE_STATE, INVOKE, RESTORE_STATE}
	if !opsEqual(ops, want) {
		tt.Errorf("ops = %v, want %v", ops, want)
	}
}

func TestTailApplicationShape(tt *testing.T) {
	tt.Parallel()

	g, x, _ := newTestGen()

	call := &Node{
		Kind: KTailApplication,
		Kids: []*Node{
			{Kind: KShallowRef, Slot: 0},
		},
	}

	if _, err := g.Generate(call); err != nil {
		tt.Fatalf("generate: %v", err)
	}

	ops := decodeOps(tt, x.ByteCode())

	want := []Op{ALLOCATE_FRAME, SHALLOW_ARGUMENT_REF, REUSE_FRAME, TAIL_CALL}
	if !opsEqual(ops, want) {
		tt.Errorf("ops = %v, want %v", ops, want)
	}
}

func TestLambdaVarargsPrologue(tt *testing.T) {
	tt.Parallel()

	g, x, _ := newTestGen()

	lambda := &Node{
		Kind:     KLambda,
		NFormals: 2, // one fixed formal plus the rest parameter
		Varargs:  true,
		Body:     &Node{Kind: KShallowRef, Slot: 1},
	}

	if _, err := g.Generate(lambda); err != nil {
		tt.Fatalf("generate: %v", err)
	}

	bc := x.ByteCode()

	// CREATE_CLOSURE len3 | ARITYGEP 1 LIST_ARGUMENT 1 body RETURN
	if Op(bc[0]) != CREATE_CLOSURE {
		tt.Fatalf("bc[0] = %s", Op(bc[0]))
	}

	body := bc[4:]
	if Op(body[0]) != ARITYGEP || body[1] != 1 {
		tt.Errorf("prologue arity = %s %d, want ARITYGEP 1", Op(body[0]), body[1])
	}

	if Op(body[2]) != LIST_ARGUMENT || body[3] != 1 {
		tt.Errorf("rest packing = %s %d, want LIST-ARGUMENT 1", Op(body[2]), body[3])
	}

	if Op(body[len(body)-1]) != RETURN {
		tt.Errorf("body does not end in RETURN: % x", body)
	}
}

// decodeOps walks a byte stream opcode by opcode, skipping operands, and
// returns the opcode sequence.
func decodeOps(tt *testing.T, bc []byte) []Op {
	tt.Helper()

	var ops []Op

	pc := 0
	for pc < len(bc) {
		op := Op(bc[pc])
		ops = append(ops, op)
		pc++

		switch op {
		case CONSTANT_REF, FIXNUM, NEG_FIXNUM, SHALLOW_ARGUMENT_REF, SHALLOW_ARGUMENT_SET,
			ALLOCATE_FRAME, EXTEND_FRAME, STORE_ARGUMENT, LIST_ARGUMENT,
			ARITYEQP, ARITYGEP, PUSH_ABORT, SRC_EXPR:
			_, used, err := Varuint(bc[pc:])
			if err != nil {
				tt.Fatalf("operand decode at pc=%d: %v", pc, err)
			}

			pc += used

		case DEEP_ARGUMENT_REF, DEEP_ARGUMENT_SET:
			for i := 0; i < 2; i++ {
				_, used, err := Varuint(bc[pc:])
				if err != nil {
					tt.Fatalf("operand decode at pc=%d: %v", pc, err)
				}

				pc += used
			}

		case SYM_REF, SYM_SET, VAL_REF, VAL_SET, PRIMCALL0, PRIMCALL1, PRIMCALL2,
			DYNAMIC_REF, DYNAMIC_SET, ENVIRON_REF, ENVIRON_SET,
			COMPUTED_REF, COMPUTED_SET, COMPUTED_DEFINE, ESCAPE_FROM, EXPANDER:
			pc += 2

		case GOTO, GOTO_FALSE, GOTO_TRUE:
			pc += 2

		case CREATE_CLOSURE, CREATE_CLOSURE_NESTED:
			pc += 3

		case SYM_DEF:
			pc += 3 // scope byte + uint16

		default:
			// no operand
		}
	}

	return ops
}

func opsEqual(a, b []Op) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
