package value

import "fmt"

// Equivalence selects the comparison a Hash uses for its keys.
type Equivalence uint8

const (
	EqEq Equivalence = iota
	EqEqv
	EqEqual
)

// Hash is Idio's hash table. It is implemented as a Go map keyed by a
// string computed by [HashKey] under the table's chosen equivalence; this
// keeps hashing out of the value package's public surface while still
// supporting eq?/eqv?/equal? tables uniformly.
type Hash struct {
	Equiv   Equivalence
	entries map[string]hashEntry
}

type hashEntry struct {
	key Value
	val Value
}

func NewHash(equiv Equivalence) *Hash {
	return &Hash{Equiv: equiv, entries: make(map[string]hashEntry)}
}

func (*Hash) Type() Type { return TypeHash }

func (h *Hash) String() string { return fmt.Sprintf("#<HASH %d>", len(h.entries)) }

func (h *Hash) Len() int { return len(h.entries) }

// Set stores key/val under the table's equivalence.
func (h *Hash) Set(key, val Value) {
	h.entries[HashKey(key, h.Equiv)] = hashEntry{key: key, val: val}
}

// Get looks up val for key. ok is false if absent.
func (h *Hash) Get(key Value) (Value, bool) {
	e, ok := h.entries[HashKey(key, h.Equiv)]
	if !ok {
		return nil, false
	}

	return e.val, true
}

// Delete removes key, reporting whether it was present.
func (h *Hash) Delete(key Value) bool {
	k := HashKey(key, h.Equiv)

	if _, ok := h.entries[k]; !ok {
		return false
	}

	delete(h.entries, k)

	return true
}

// Keys returns the table's keys in unspecified order.
func (h *Hash) Keys() []Value {
	keys := make([]Value, 0, len(h.entries))
	for _, e := range h.entries {
		keys = append(keys, e.key)
	}

	return keys
}

// maxHashDepth bounds recursive structural hashing. The open
// question on hash-of-compound-values  is resolved here: we match the
// C implementation's cycle-unaware recursion rather than add cycle
// detection, but cap recursion depth so a cyclic key degrades to a panic
// instead of an infinite loop. See DESIGN.md.
const maxHashDepth = 4096

// HashKey computes a string key for v under the given equivalence. For
// EqEq and EqEqv it is an identity or immediate-value key; for EqEqual it
// recurses structurally.
func HashKey(v Value, equiv Equivalence) string {
	return hashKey(v, equiv, 0)
}

func hashKey(v Value, equiv Equivalence, depth int) string {
	if depth > maxHashDepth {
		panic("value: hash key recursion too deep (cyclic equal? key?)")
	}

	switch t := v.(type) {
	case Fixnum:
		return fmt.Sprintf("i:%d", int64(t))
	case Constant:
		return fmt.Sprintf("c:%d", uint8(t))
	case *Symbol, *Keyword:
		return fmt.Sprintf("p:%p", v)
	case *String:
		if equiv == EqEqual {
			return "s:" + t.Go()
		}

		return fmt.Sprintf("p:%p", v)
	case *Pair:
		if equiv != EqEqual {
			return fmt.Sprintf("p:%p", v)
		}

		return "(" + hashKey(t.Head, equiv, depth+1) + ". " + hashKey(t.Tail, equiv, depth+1) + ")"
	default:
		return fmt.Sprintf("p:%p", v)
	}
}
