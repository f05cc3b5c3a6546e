package value

import "fmt"

// Properties holds metadata shared between closures compiled from the same
// lambda expression: two closures over one lambda share code and stats.
type Properties struct {
	Name     string // Best-effort name for backtraces, from `define` or `function/name`.
	Arity    int    // Number of fixed formals.
	Varargs  bool   // True if the lambda has a rest parameter.
	SourceCI int    // constants-table index of the originating source expression, or -1.
}

// Closure is a compiled procedure value: a code address in some xenv, a
// captured lexical frame, and the module it closes over for toplevel
// lookups. XI is the xenv index rather than a pointer so that closures
// remain serialisable by the pre-compilation writer.
type Closure struct {
	XI    int // xenv index the code lives in.
	PC    int // entry program counter within that xenv's byte code.
	Len   int // code length, for bounds-checked disassembly/printing.
	Frame *Frame
	Env   Value // defining module (lexical environment for free references).
	Props *Properties
}

func (*Closure) Type() Type { return TypeClosure }

func (c *Closure) String() string {
	name := "anonymous"
	if c.Props != nil && c.Props.Name != "" {
		name = c.Props.Name
	}

	return fmt.Sprintf("#<CLOS %s @%d:%#04x>", name, c.XI, c.PC)
}

// PrimitiveFn is the Go implementation of a predefined binding, invoked
// through the lightweight PRIMCALL protocol.
type PrimitiveFn func(args []Value) (Value, error)

// Primitive is a built-in binding. Arity is the fixed argument count, or -1
// to mean "accepts any arity" (still varargs-eligible).
type Primitive struct {
	Name    string
	Arity   int
	Varargs bool
	Fn      PrimitiveFn
}

func (*Primitive) Type() Type { return TypePrimitive }

func (p *Primitive) String() string {
	return fmt.Sprintf("#<PRIM %s/%d>", p.Name, p.Arity)
}

// Continuation captures a VM stack and jump target for non-local exits. The
// stack snapshot and resume point are opaque to this package; the vm
// package is responsible for filling them in because only it knows the
// shape of its own stack machine state.
type Continuation struct {
	Snapshot any // *vm.Snapshot, boxed to avoid an import cycle.
	Label    string
}

func (*Continuation) Type() Type { return TypeContinuation }

func (c *Continuation) String() string {
	return fmt.Sprintf("#<CONTINUATION %s>", c.Label)
}
