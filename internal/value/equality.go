package value

// equality.go implements the three equivalence predicates named in the
// data model invariant: eq? is identity, eqv? adds
// immediate-value comparison, equal? is structural.

// Eq implements `eq?`: identity for heap values, same-bits for immediates.
func Eq(a, b Value) bool {
	switch at := a.(type) {
	case Fixnum:
		bt, ok := b.(Fixnum)
		return ok && at == bt
	case Constant:
		bt, ok := b.(Constant)
		return ok && at == bt
	default:
		return a == b
	}
}

// Eqv implements `eqv?`: eq? plus numeric and character equality.
func Eqv(a, b Value) bool {
	if Eq(a, b) {
		return true
	}

	switch at := a.(type) {
	case *Bignum:
		bt, ok := b.(*Bignum)
		return ok && at.String() == bt.String()
	default:
		return false
	}
}

// Equal implements `equal?`: full structural comparison, recursing through
// pairs, strings, and arrays. Like [HashKey], this does not detect cycles;
// see DESIGN.md for the rationale.
func Equal(a, b Value) bool {
	return equal(a, b, 0)
}

func equal(a, b Value, depth int) bool {
	if depth > maxHashDepth {
		panic("value: equal? recursion too deep (cyclic structure?)")
	}

	if Eqv(a, b) {
		return true
	}

	switch at := a.(type) {
	case *Pair:
		bt, ok := b.(*Pair)
		return ok && equal(at.Head, bt.Head, depth+1) && equal(at.Tail, bt.Tail, depth+1)
	case *String:
		bt, ok := b.(*String)
		return ok && at.Go() == bt.Go()
	case *Substring:
		bt, ok := b.(*Substring)
		return ok && at.Go() == bt.Go()
	case *Array:
		bt, ok := b.(*Array)
		if !ok || len(at.Elems) != len(bt.Elems) {
			return false
		}

		for i := range at.Elems {
			if !equal(at.Elems[i], bt.Elems[i], depth+1) {
				return false
			}
		}

		return true
	default:
		return false
	}
}
