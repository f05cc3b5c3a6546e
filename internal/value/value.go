// Package value implements Idio's polymorphic value model: the tagged
// union of immediate and heap values, plus the interning tables for
// symbols and keywords that every name resolution in the evaluator and
// module system is built on.
//
// Heap values are ordinary Go values reached through the Value interface;
// Go's garbage collector stands in for a hand-rolled collector. Method
// dispatch over values goes through the per-type vtables in
// internal/vtable, keyed by the Type tag each value carries, so lookup
// works uniformly over every type, immediate or not.
package value

import "fmt"

// Value is implemented by every Idio runtime value, immediate or heap.
type Value interface {
	// Type returns the runtime type tag used by equality, printing and
	// vtable dispatch.
	Type() Type

	// String renders the value the way the reader would need to read it
	// back, as closely as the type allows.
	String() string
}

// Type tags every Value variant.
type Type uint8

const (
	TypeFixnum Type = iota
	TypeConstantIdio
	TypeConstantToken
	TypeConstantICode
	TypeConstantUnicode
	TypeBignum
	TypePair
	TypeString
	TypeSubstring
	TypeSymbol
	TypeKeyword
	TypeArray
	TypeHash
	TypeClosure
	TypePrimitive
	TypeModule
	TypeFrame
	TypeHandle
	TypeStructType
	TypeStructInstance
	TypeThread
	TypeContinuation
	TypeBitset
	TypeCPointer
)

var typeNames = [...]string{
	TypeFixnum:          "fixnum",
	TypeConstantIdio:    "constant",
	TypeConstantToken:   "constant-token",
	TypeConstantICode:   "constant-icode",
	TypeConstantUnicode: "unicode",
	TypeBignum:          "bignum",
	TypePair:            "pair",
	TypeString:          "string",
	TypeSubstring:       "substring",
	TypeSymbol:          "symbol",
	TypeKeyword:         "keyword",
	TypeArray:           "array",
	TypeHash:            "hash",
	TypeClosure:         "closure",
	TypePrimitive:       "primitive",
	TypeModule:          "module",
	TypeFrame:           "frame",
	TypeHandle:          "handle",
	TypeStructType:      "struct-type",
	TypeStructInstance:  "struct-instance",
	TypeThread:          "thread",
	TypeContinuation:    "continuation",
	TypeBitset:          "bitset",
	TypeCPointer:        "C-pointer",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}

	return fmt.Sprintf("type(%d)", uint8(t))
}

// Fixnum is a small tagged integer; it is immediate and never heap-allocated.
type Fixnum int64

func (Fixnum) Type() Type { return TypeFixnum }

func (f Fixnum) String() string { return fmt.Sprintf("%d", int64(f)) }

// Constant is one of the reader/evaluator singleton tokens: #n, #t, #f, the
// scope tags, and the unspecified/undefined/not-reached markers.
type Constant uint8

const (
	Nil Constant = iota
	True
	False
	Void
	Unspec
	Undef
	NotReached

	// Scope tags, used as the second element of frame-free references and
	// recorded in SI tuples (see module.Scope).
	ScopeToplevel
	ScopePredef
	ScopeDynamic
	ScopeEnviron
	ScopeComputed
	ScopeParam
	ScopeLocal
)

var constantNames = [...]string{
	Nil: "#n", True: "#t", False: "#f", Void: "#<void>", Unspec: "#<unspec>",
	Undef: "#<undef>", NotReached: "#<notreached>",
	ScopeToplevel: "toplevel", ScopePredef: "predef", ScopeDynamic: "dynamic",
	ScopeEnviron: "environ", ScopeComputed: "computed", ScopeParam: "param",
	ScopeLocal: "local",
}

func (Constant) Type() Type { return TypeConstantIdio }

func (c Constant) String() string {
	if int(c) < len(constantNames) {
		return constantNames[c]
	}

	return fmt.Sprintf("#<constant %d>", uint8(c))
}

// IsTrue reports whether v is a "true" value for conditional purposes: every
// value is true except #f, matching the evaluation semantics.
func IsTrue(v Value) bool {
	c, ok := v.(Constant)
	return !(ok && c == False)
}

// Boolean converts a Go bool to the corresponding Idio constant.
func Boolean(b bool) Constant {
	if b {
		return True
	}

	return False
}
