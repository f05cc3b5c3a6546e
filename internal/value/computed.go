package value

// Computed pairs a getter and setter closure installed by `define-computed`:
// reading or writing the binding invokes one of these rather than touching a
// value slot directly.
type Computed struct {
	Get Value
	Set Value // nil if the binding is read-only.
}

func (*Computed) Type() Type { return TypeClosure } // dispatches and prints like any other callable.

func (c *Computed) String() string { return "#<COMPUTED>" }
