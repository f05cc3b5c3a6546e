package vtable

import (
	"sync"

	"github.com/idio-lang/idio/internal/value"
)

// registry.go maps each value type to its vtable. Go values cannot carry a
// vtable pointer in their header the way a tagged C object does, so the
// per-value pointer becomes a per-type slot looked up by the value's type
// tag; the dispatch semantics (inheritance, generation-based revalidation,
// hit-count promotion) are unchanged.

// Registry resolves a value to its vtable. Every type starts from a shared
// root vtable carrying the baseline methods (typename, 2string);
// struct instances layer struct-instance-2string on top.
type Registry struct {
	mu     sync.Mutex
	root   *Vtable
	byType map[value.Type]*Vtable
}

// NewRegistry creates a registry with the root vtable's baseline methods
// installed.
func NewRegistry() *Registry {
	root := New("value", nil)

	root.Add("typename", SimpleMethod(func(_ *Entry, v value.Value, _ ...value.Value) (value.Value, error) {
		return value.NewString(v.Type().String()), nil
	}))

	root.Add("2string", SimpleMethod(func(_ *Entry, v value.Value, _ ...value.Value) (value.Value, error) {
		return value.NewString(value.SafeString(v)), nil
	}))

	r := &Registry{root: root, byType: make(map[value.Type]*Vtable)}

	si := r.For(value.TypeStructInstance)
	si.Add("struct-instance-2string", SimpleMethod(func(_ *Entry, v value.Value, _ ...value.Value) (value.Value, error) {
		return value.NewString(value.SafeString(v)), nil
	}))
	si.Add("value-index", SimpleMethod(structValueIndex))
	si.Add("set-value-index!", SimpleMethod(structSetValueIndex))

	arr := r.For(value.TypeArray)
	arr.Add("value-index", SimpleMethod(arrayValueIndex))
	arr.Add("set-value-index!", SimpleMethod(arraySetValueIndex))

	return r
}

// structValueIndex reads a struct instance's field by name.
func structValueIndex(_ *Entry, v value.Value, args ...value.Value) (value.Value, error) {
	inst := v.(*value.StructInstance)

	name, ok := args[0].(*value.Symbol)
	if !ok {
		return nil, &value.Condition{Kind: value.CondRTStructError, Message: "field index must be a symbol"}
	}

	field, ok := inst.Ref(name)
	if !ok {
		return nil, &value.Condition{Kind: value.CondRTStructError, Message: "no field " + name.Name()}
	}

	return field, nil
}

func structSetValueIndex(_ *Entry, v value.Value, args ...value.Value) (value.Value, error) {
	inst := v.(*value.StructInstance)

	name, ok := args[0].(*value.Symbol)
	if !ok {
		return nil, &value.Condition{Kind: value.CondRTStructError, Message: "field index must be a symbol"}
	}

	for i, f := range inst.StructType.AllFields() {
		if f == name {
			inst.Fields[i] = args[1]
			return value.Unspec, nil
		}
	}

	return nil, &value.Condition{Kind: value.CondRTStructError, Message: "no field " + name.Name()}
}

func arrayValueIndex(_ *Entry, v value.Value, args ...value.Value) (value.Value, error) {
	a := v.(*value.Array)

	i, ok := args[0].(value.Fixnum)
	if !ok || int(i) < 0 || int(i) >= len(a.Elems) {
		return nil, &value.Condition{Kind: value.CondEvaluationError, Message: "array index out of range"}
	}

	return a.Elems[i], nil
}

func arraySetValueIndex(_ *Entry, v value.Value, args ...value.Value) (value.Value, error) {
	a := v.(*value.Array)

	i, ok := args[0].(value.Fixnum)
	if !ok || int(i) < 0 || int(i) >= len(a.Elems) {
		return nil, &value.Condition{Kind: value.CondEvaluationError, Message: "array index out of range"}
	}

	a.Elems[i] = args[1]

	return value.Unspec, nil
}

// For returns the vtable for a type tag, creating a child of the root on
// first use so user-added methods stay local to that type.
func (r *Registry) For(t value.Type) *Vtable {
	r.mu.Lock()
	defer r.mu.Unlock()

	if vt, ok := r.byType[t]; ok {
		return vt
	}

	vt := New(t.String(), r.root)
	r.byType[t] = vt

	return vt
}

// ForValue returns the vtable for v's type.
func (r *Registry) ForValue(v value.Value) *Vtable {
	return r.For(v.Type())
}

// Root returns the shared root vtable.
func (r *Registry) Root() *Vtable { return r.root }
