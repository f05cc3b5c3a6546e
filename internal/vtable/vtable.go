// Package vtable implements the per-type method dictionary described in the
// design: single-parent inheritance, a generation counter
// for lazy invalidation of inherited entries, and hit-count-based inline
// caching of the most-used entry.
package vtable

import (
	"fmt"
	"sync/atomic"

	"github.com/idio-lang/idio/internal/value"
)

// globalGeneration is bumped on every [Vtable.Add] across every vtable in
// the process; each vtable lazily revalidates against it on lookup.
var globalGeneration uint64

// Fn is a vtable method implementation.
type Fn func(method *Entry, v value.Value, args ...value.Value) (value.Value, error)

// Method is the tagged carrier for a vtable entry's implementation and
// any data bound to it.
type Method struct {
	fn Fn

	// Exactly one of the following is meaningful, selected by kind.
	kind      methodKind
	staticBuf []byte
	rooted    value.Value
}

type methodKind uint8

const (
	methodSimple methodKind = iota
	methodStatic
	methodWithValue
)

// SimpleMethod wraps a method with no extra data.
func SimpleMethod(fn Fn) Method { return Method{fn: fn, kind: methodSimple} }

// StaticMethod wraps a method with an immutable byte blob copied at
// construction time.
func StaticMethod(fn Fn, data []byte) Method {
	buf := make([]byte, len(data))
	copy(buf, data)

	return Method{fn: fn, kind: methodStatic, staticBuf: buf}
}

// WithValueMethod wraps a method carrying a single rooted Value.
func WithValueMethod(fn Fn, v value.Value) Method {
	return Method{fn: fn, kind: methodWithValue, rooted: v}
}

// Data returns the method's static blob, or nil if it does not carry one.
func (m Method) Data() []byte { return m.staticBuf }

// Value returns the method's rooted value, or nil if it does not carry one.
func (m Method) Value() value.Value { return m.rooted }

// Entry is one named slot in a Vtable.
type Entry struct {
	name      string
	method    Method
	inherited bool
	count     uint64
}

func (e *Entry) Name() string { return e.name }

// Invoke calls the method's function, passing itself as the Entry's method
// so implementations can reach their bound data.
func (e *Entry) Invoke(v value.Value, args ...value.Value) (value.Value, error) {
	return e.method.fn(e, v, args...)
}

// Vtable is a per-type method dictionary with single-parent inheritance.
type Vtable struct {
	name    string
	parent  *Vtable
	gen     uint64
	entries []*Entry
}

// New creates a vtable with the given parent (nil for a root type).
func New(name string, parent *Vtable) *Vtable {
	return &Vtable{name: name, parent: parent, gen: atomic.LoadUint64(&globalGeneration)}
}

func (vt *Vtable) Name() string { return vt.name }

// Add installs or replaces a local (non-inherited) method under name and
// bumps the global generation.
func (vt *Vtable) Add(name string, method Method) {
	for _, e := range vt.entries {
		if e.name == name && !e.inherited {
			e.method = method
			atomic.AddUint64(&globalGeneration, 1)

			return
		}
	}

	vt.entries = append(vt.entries, &Entry{name: name, method: method})
	atomic.AddUint64(&globalGeneration, 1)
}

// inherit installs a cached copy of a parent's method, marked inherited so
// a later revalidation can discard it without disturbing locally-added
// entries. inherit does not bump the generation counter: it is a cache
// fill, not a definition.
func (vt *Vtable) inherit(name string, method Method) *Entry {
	e := &Entry{name: name, method: method, inherited: true}
	vt.entries = append(vt.entries, e)

	return e
}

// revalidate drops stale inherited entries if the parent chain has
// changed since our last sync.
func (vt *Vtable) revalidate() {
	cur := atomic.LoadUint64(&globalGeneration)
	if vt.gen == cur {
		return
	}

	if vt.parent != nil {
		vt.parent.revalidate()
	}

	kept := vt.entries[:0]

	for _, e := range vt.entries {
		if !e.inherited {
			kept = append(kept, e)
		}
	}

	vt.entries = kept
	vt.gen = cur
}

// ErrNotFound is returned (or, with throw=true, never returned: see Lookup)
// when no method is found locally or via any ancestor.
var ErrNotFound = fmt.Errorf("vtable: method not found")

// Lookup finds the method named name, walking local entries first and then
// the parent chain. A hit via the parent is cached locally as inherited. A
// hit's count is incremented, and it is swapped toward the front of the
// table whenever its count exceeds its predecessor's. If throw is true and the
// method is not found, Lookup panics with a *value.Condition of kind
// ^rt-vtable-method-unbound-error instead of returning ErrNotFound, for
// callers that treat a miss as a user-facing fault.
func (vt *Vtable) Lookup(name string, throw bool) (*Entry, error) {
	vt.revalidate()

	for i, e := range vt.entries {
		if e.name != name {
			continue
		}

		e.count++

		if i > 0 && e.count > vt.entries[i-1].count {
			vt.entries[i-1], vt.entries[i] = vt.entries[i], vt.entries[i-1]
		}

		return e, nil
	}

	if vt.parent != nil {
		if pe, err := vt.parent.Lookup(name, false); err == nil {
			return vt.inherit(name, pe.method), nil
		}
	}

	if throw {
		panic(&value.Condition{
			Kind:    value.CondRTVtableMethodUnbound,
			Message: fmt.Sprintf("method %q unbound on vtable %s", name, vt.name),
		})
	}

	return nil, fmt.Errorf("%w: %s on %s", ErrNotFound, name, vt.name)
}

// Members lists the locally-defined (non-inherited) method names.
func (vt *Vtable) Members() []string {
	vt.revalidate()

	names := make([]string, 0, len(vt.entries))

	for _, e := range vt.entries {
		if !e.inherited {
			names = append(names, e.name)
		}
	}

	return names
}

// Parent returns the vtable's parent, or nil at the root.
func (vt *Vtable) Parent() *Vtable { return vt.parent }
