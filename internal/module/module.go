// Package module implements Idio's module system:
// the name-to-SI-tuple symbol table that backs every name resolution, the
// process-wide module registry, and import/export visibility.
package module

import (
	"fmt"
	"sync"

	"github.com/idio-lang/idio/internal/value"
)

// Scope classifies where a defined name's value lives, reusing the scope
// tag constants from the value package so the evaluator and VM share one
// enumeration.
type Scope = value.Constant

const (
	ScopeToplevel = value.ScopeToplevel
	ScopePredef   = value.ScopePredef
	ScopeDynamic  = value.ScopeDynamic
	ScopeEnviron  = value.ScopeEnviron
	ScopeComputed = value.ScopeComputed
	ScopeParam    = value.ScopeParam
	ScopeLocal    = value.ScopeLocal
)

// SI is the 7-tuple every defined name carries:
//
//	(scope xi si ci vi module description)
type SI struct {
	Scope       Scope
	XI          int // xenv index.
	SymIndex    int // index into that xenv's symbol table (st).
	ConstIndex  int // constants-table index of the symbol itself.
	ValIndex    int // global value index; 0 means unresolved.
	ModuleIndex int // index into the owning Registry -- see DESIGN.md's
	// note on breaking the Module<->SI reference cycle for serialisation.
	Description string // human-readable provenance, e.g. "predefined foo".
}

// Unresolved reports whether the tuple's value index is still the
// placeholder.
func (si SI) Unresolved() bool { return si.ValIndex == 0 }

// Module is a named symbol-table plus import/export lists.
type Module struct {
	name    *value.Symbol
	symbols *symbolTable // shared by reference when aliased, see Alias.
	exports []*value.Symbol
	imports []*Import

	// identity is non-nil when this Module is an alias: its symbols table
	// is shared with the identity module by reference; its exports and
	// imports lists are its own and start empty.
	identity *Module
}

// symbolTable is the indirection Alias shares by pointer.
type symbolTable struct {
	mu   sync.RWMutex
	vals map[*value.Symbol]SI
}

func newSymbolTable() *symbolTable {
	return &symbolTable{vals: make(map[*value.Symbol]SI)}
}

// Import records one imported module and the order it was added in, since
// import order determines resolution precedence.
type Import struct {
	Module *Module
}

func (*Module) Type() value.Type { return value.TypeModule }

func (m *Module) String() string { return fmt.Sprintf("#<MODULE %s>", m.name.Name()) }

// Name returns the module's name symbol.
func (m *Module) Name() *value.Symbol { return m.name }

// new creates an empty module named name.
func newModule(name *value.Symbol) *Module {
	return &Module{name: name, symbols: newSymbolTable()}
}

// Alias creates a module that shares this module's symbols table by
// reference (`make-module-alias`): a subsequent `define` in either module
// becomes visible through both. Exports and imports are not shared: the
// alias starts with empty export and import lists of its own.
func (m *Module) Alias(name *value.Symbol) *Module {
	return &Module{name: name, symbols: m.symbols, identity: m}
}

// Identity returns the module this one aliases, or itself if it is not an
// alias.
func (m *Module) Identity() *Module {
	if m.identity != nil {
		return m.identity
	}

	return m
}

// Define installs or updates the SI tuple for name.
func (m *Module) Define(name *value.Symbol, si SI) {
	m.symbols.mu.Lock()
	defer m.symbols.mu.Unlock()

	m.symbols.vals[name] = si
}

// LocalLookup looks up name in this module's own symbols table, without
// consulting imports.
func (m *Module) LocalLookup(name *value.Symbol) (SI, bool) {
	m.symbols.mu.RLock()
	defer m.symbols.mu.RUnlock()

	si, ok := m.symbols.vals[name]

	return si, ok
}

// Exports returns the module's export list.
func (m *Module) Exports() []*value.Symbol { return append([]*value.Symbol(nil), m.exports...) }

// Export adds name to the module's export list if not already present.
func (m *Module) Export(name *value.Symbol) {
	for _, s := range m.exports {
		if s == name {
			return
		}
	}

	m.exports = append(m.exports, name)
}

// Exported reports whether name is in the module's export list.
func (m *Module) Exported(name *value.Symbol) bool {
	for _, s := range m.exports {
		if s == name {
			return true
		}
	}

	return false
}

// Imports returns the module's import list, in the order they were added.
func (m *Module) Imports() []*Import { return append([]*Import(nil), m.imports...) }

// AddImport appends mod to the module's import list; import order
// determines resolution precedence.
func (m *Module) AddImport(mod *Module) {
	for _, imp := range m.imports {
		if imp.Module == mod {
			return
		}
	}

	m.imports = append(m.imports, &Import{Module: mod})
}

// Lookup resolves name by consulting this module's own symbols, then
// recursively through its imports' exported symbols, in import order. The
// "Idio" root module, which exports every symbol it defines, is added by
// [Registry.Make] as a module's first import, so it is consulted before any
// import added later.
func (m *Module) Lookup(name *value.Symbol) (SI, *Module, bool) {
	if si, ok := m.LocalLookup(name); ok {
		return si, m, true
	}

	seen := map[*Module]bool{m: true}

	return m.lookupImports(name, seen)
}

func (m *Module) lookupImports(name *value.Symbol, seen map[*Module]bool) (SI, *Module, bool) {
	for _, imp := range m.imports {
		im := imp.Module

		if seen[im] {
			continue
		}

		seen[im] = true

		if !im.Exported(name) {
			continue
		}

		if si, ok := im.LocalLookup(name); ok {
			return si, im, true
		}

		if si, owner, ok := im.lookupImports(name, seen); ok {
			return si, owner, true
		}
	}

	return SI{}, nil, false
}
