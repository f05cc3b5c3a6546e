package value

import "fmt"

// StructType describes a user-defined struct, with single-parent
// inheritance mirroring the vtable's inheritance model.
type StructType struct {
	Name   *Symbol
	Parent *StructType
	Fields []*Symbol
}

func (*StructType) Type() Type { return TypeStructType }

func (s *StructType) String() string { return fmt.Sprintf("#<STRUCT-TYPE %s>", s.Name) }

// AllFields returns the type's fields prefixed by its parent chain's
// fields, outermost ancestor first.
func (s *StructType) AllFields() []*Symbol {
	var fields []*Symbol
	if s.Parent != nil {
		fields = append(fields, s.Parent.AllFields()...)
	}

	return append(fields, s.Fields...)
}

// IsA reports whether s is t or a descendant of t.
func (s *StructType) IsA(t *StructType) bool {
	for cur := s; cur != nil; cur = cur.Parent {
		if cur == t {
			return true
		}
	}

	return false
}

// StructInstance is an instance of a StructType; field values are stored
// positionally according to the type's AllFields order.
type StructInstance struct {
	StructType *StructType
	Fields     []Value
}

func (*StructInstance) Type() Type { return TypeStructInstance }

func (s *StructInstance) String() string {
	return fmt.Sprintf("#<SI %s>", s.StructType.Name)
}

// Ref returns the value of a named field, walking the parent chain.
func (s *StructInstance) Ref(name *Symbol) (Value, bool) {
	for i, f := range s.StructType.AllFields() {
		if f == name {
			return s.Fields[i], true
		}
	}

	return nil, false
}

// Bignum is an arbitrary-precision number, represented here as a minimal
// decimal-string-backed carrier sufficient for printing, equality, and
// round-tripping through the reader/writer contract. Arithmetic is the
// surface bignum library's job; the core only ferries the values.
type Bignum struct {
	Sign   int // -1, 0, or 1
	Digits string
	Exp    int
}

func (*Bignum) Type() Type { return TypeBignum }

func (b *Bignum) String() string {
	sign := ""
	if b.Sign < 0 {
		sign = "-"
	}

	return fmt.Sprintf("%s%se%d", sign, b.Digits, b.Exp)
}
