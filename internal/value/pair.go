package value

import "strings"

// Pair is a cons cell, the backbone of Idio source forms and lists.
type Pair struct {
	Head Value
	Tail Value
}

func (*Pair) Type() Type { return TypePair }

func (p *Pair) String() string {
	var b strings.Builder

	b.WriteByte('(')
	writePairBody(&b, p)
	b.WriteByte(')')

	return b.String()
}

func writePairBody(b *strings.Builder, p *Pair) {
	b.WriteString(printOrNil(p.Head))

	switch tail := p.Tail.(type) {
	case nil:
		b.WriteString(" . #n")
	case Constant:
		if tail != Nil {
			b.WriteString(" . ")
			b.WriteString(tail.String())
		}
	case *Pair:
		b.WriteByte(' ')
		writePairBody(b, tail)
	default:
		b.WriteString(" . ")
		b.WriteString(tail.String())
	}
}

func printOrNil(v Value) string {
	if v == nil {
		return "#n"
	}

	return v.String()
}

// List builds a proper list out of vs, terminated by Nil.
func List(vs ...Value) Value {
	var tail Value = Nil

	for i := len(vs) - 1; i >= 0; i-- {
		tail = &Pair{Head: vs[i], Tail: tail}
	}

	return tail
}

// Ph returns the head ("car") of a pair.
func Ph(v Value) (Value, bool) {
	p, ok := v.(*Pair)
	if !ok {
		return nil, false
	}

	return p.Head, true
}

// Pt returns the tail ("cdr") of a pair.
func Pt(v Value) (Value, bool) {
	p, ok := v.(*Pair)
	if !ok {
		return nil, false
	}

	return p.Tail, true
}

// Slice collects a proper list into a Go slice. ok is false if v is not a
// proper, nil-terminated list.
func Slice(v Value) (vs []Value, ok bool) {
	for {
		switch t := v.(type) {
		case Constant:
			if t == Nil {
				return vs, true
			}

			return vs, false
		case *Pair:
			vs = append(vs, t.Head)
			v = t.Tail
		default:
			return vs, false
		}
	}
}

// IsList reports whether v is a proper, nil-terminated list.
func IsList(v Value) bool {
	_, ok := Slice(v)
	return ok
}

// Length returns the length of a proper list, or -1 if v is not one.
func Length(v Value) int {
	vs, ok := Slice(v)
	if !ok {
		return -1
	}

	return len(vs)
}
