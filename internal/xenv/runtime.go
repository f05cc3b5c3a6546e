package xenv

import (
	"fmt"
	"sync"

	"github.com/idio-lang/idio/internal/module"
	"github.com/idio-lang/idio/internal/value"
)

// Runtime owns every process-wide mutable table: the symbol and keyword
// interners, the module registry, the xenv array, the global default-values
// array, and the signal-record array. Primitives that behave like
// module-level references take *Runtime explicitly rather than reaching
// for package-level globals.
type Runtime struct {
	Symbols  *value.SymbolTable
	Keywords *value.KeywordTable
	Modules  *module.Registry

	mu            sync.Mutex
	xenvs         []*XEnv
	defaultValues []value.Value // index 0 is the permanent "unresolved" slot.

	// SignalRecord is a plain array indexed by signal number, written under
	// mu by the OS signal goroutine (StartSignals) and drained by the VM
	// between opcodes (PendingSignal).
	SignalRecord [64]bool
}

// NewRuntime creates a Runtime with xenv 0, the bootstrap default every
// native-installed binding shares, already allocated, and the "Idio" root
// module registered.
func NewRuntime() *Runtime {
	symbols := value.NewSymbolTable()

	rt := &Runtime{
		Symbols:       symbols,
		Keywords:      value.NewKeywordTable(),
		Modules:       module.NewRegistry(symbols),
		defaultValues: []value.Value{value.Undef}, // slot 0: reserved/unresolved.
	}

	rt.xenvs = append(rt.xenvs, New(0))

	return rt
}

// NewXEnv allocates a fresh xenv and returns it along with its index.
func (rt *Runtime) NewXEnv() (*XEnv, int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	idx := len(rt.xenvs)
	x := New(idx)
	rt.xenvs = append(rt.xenvs, x)

	return x, idx
}

// XEnv returns the xenv at index i.
func (rt *Runtime) XEnv(i int) *XEnv {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	return rt.xenvs[i]
}

// Bootstrap returns xenv 0, the shared default.
func (rt *Runtime) Bootstrap() *XEnv { return rt.XEnv(0) }

// ReserveValue appends a fresh #<undef> slot to the global default-values
// array and returns its index, the vi that a live (non-AOT) xenv's
// ExtendTables hands out.
func (rt *Runtime) ReserveValue() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.defaultValues = append(rt.defaultValues, value.Undef)

	return len(rt.defaultValues) - 1
}

// GetValue reads the global value at vi.
func (rt *Runtime) GetValue(vi int) value.Value {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if vi <= 0 || vi >= len(rt.defaultValues) {
		return value.Undef
	}

	return rt.defaultValues[vi]
}

// SetValue writes the global value at vi.
func (rt *Runtime) SetValue(vi int, v value.Value) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.defaultValues[vi] = v
}

// CheckInvariants runs every xenv's local invariant check
// plus the module export invariant that every module's exports are a
// subset of its own symbols. It does not check that "Idio"'s exports
// include every symbol it defines.
func (rt *Runtime) CheckInvariants() error {
	rt.mu.Lock()
	xenvs := append([]*XEnv(nil), rt.xenvs...)
	rt.mu.Unlock()

	for _, x := range xenvs {
		if err := x.CheckInvariants(); err != nil {
			return err
		}
	}

	var outer error

	rt.Modules.Each(func(m *module.Module) {
		if outer != nil {
			return
		}

		for _, name := range m.Exports() {
			if _, ok := m.LocalLookup(name); !ok {
				outer = fmt.Errorf("module %s: exported %s is not a local symbol", m.Name().Name(), name.Name())
				return
			}
		}
	})

	return outer
}
