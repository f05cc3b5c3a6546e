package module

import (
	"fmt"
	"sync"

	"github.com/idio-lang/idio/internal/value"
)

// Registry is the process-wide name->module hash. It also doubles as a
// module arena: SI tuples store a module's arena index, not a pointer,
// breaking the Module<->SI reference cycle for serialisation, so every
// module the registry creates is additionally given a stable slot that an
// SI.ModuleIndex always resolves through.
type Registry struct {
	mu     sync.RWMutex
	byName map[*value.Symbol]*Module
	arena  []*Module
	root   *Module // the "Idio" module, implicitly imported by every other.
}

// NewRegistry creates a registry pre-populated with the root "Idio" module.
func NewRegistry(symbols *value.SymbolTable) *Registry {
	r := &Registry{byName: make(map[*value.Symbol]*Module)}

	idio := symbols.Intern("Idio")
	root := newModule(idio)
	r.insert(root)
	r.root = root

	return r
}

func (r *Registry) insert(m *Module) int {
	r.byName[m.name] = m
	r.arena = append(r.arena, m)

	return len(r.arena) - 1
}

// ErrDuplicateModule is returned by Make when name is already registered.
var ErrDuplicateModule = fmt.Errorf("module: duplicate name")

// Make creates and registers a new module. Every module except the root
// starts with the root "Idio" module as its first import.
func (r *Registry) Make(name *value.Symbol) (*Module, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrDuplicateModule, name.Name())
	}

	m := newModule(name)
	if m != r.root {
		m.AddImport(r.root)
	}

	idx := r.insert(m)

	return m, idx, nil
}

// Find returns the module named name, or deflt if it is not registered.
func (r *Registry) Find(name *value.Symbol, deflt *Module) *Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.byName[name]; ok {
		return m
	}

	return deflt
}

// MustFind is Find with a panic on miss, used during bootstrap where
// absence is a programming error rather than a user-facing condition.
func (r *Registry) MustFind(name *value.Symbol) *Module {
	m := r.Find(name, nil)
	if m == nil {
		panic(fmt.Sprintf("module: %s not registered", name.Name()))
	}

	return m
}

// Root() returns the "Idio" root module.
func (r *Registry) Root() *Module { return r.root }

// ByIndex resolves a module by its arena index, as stored in an SI tuple's
// ModuleIndex field.
func (r *Registry) ByIndex(i int) *Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.arena[i]
}

// IndexOf returns m's arena index, used when building an SI tuple to store.
func (r *Registry) IndexOf(m *Module) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i, mm := range r.arena {
		if mm == m {
			return i
		}
	}

	return -1
}

// Alias registers a new module that shares identity's symbol table; see
// Module.Alias.
func (r *Registry) Alias(name *value.Symbol, identity *Module) (*Module, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrDuplicateModule, name.Name())
	}

	m := identity.Alias(name)
	idx := r.insert(m)

	return m, idx, nil
}

// Each calls fn for every registered module, in registration order.
func (r *Registry) Each(fn func(*Module)) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.arena {
		fn(m)
	}
}
