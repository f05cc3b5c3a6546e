package module

import (
	"errors"
	"testing"

	"github.com/idio-lang/idio/internal/value"
)

func newTestRegistry() (*Registry, *value.SymbolTable) {
	symbols := value.NewSymbolTable()
	return NewRegistry(symbols), symbols
}

func TestMakeAndFind(tt *testing.T) {
	tt.Parallel()

	reg, symbols := newTestRegistry()

	name := symbols.Intern("net")

	m, idx, err := reg.Make(name)
	if err != nil {
		tt.Fatalf("make: %v", err)
	}

	if reg.Find(name, nil) != m {
		tt.Errorf("Find did not return the registered module")
	}

	if reg.ByIndex(idx) != m {
		tt.Errorf("ByIndex(%d) did not resolve", idx)
	}

	if reg.IndexOf(m) != idx {
		tt.Errorf("IndexOf disagrees with Make's index")
	}

	deflt := reg.Root()
	if got := reg.Find(symbols.Intern("absent"), deflt); got != deflt {
		tt.Errorf("Find with default: got %v", got)
	}
}

func TestDuplicateNameRejected(tt *testing.T) {
	tt.Parallel()

	reg, symbols := newTestRegistry()

	name := symbols.Intern("dup")

	if _, _, err := reg.Make(name); err != nil {
		tt.Fatalf("first make: %v", err)
	}

	if _, _, err := reg.Make(name); !errors.Is(err, ErrDuplicateModule) {
		tt.Errorf("second make: got %v, want ErrDuplicateModule", err)
	}
}

func TestImplicitRootImport(tt *testing.T) {
	tt.Parallel()

	reg, symbols := newTestRegistry()

	m, _, err := reg.Make(symbols.Intern("user"))
	if err != nil {
		tt.Fatalf("make: %v", err)
	}

	imports := m.Imports()
	if len(imports) != 1 || imports[0].Module != reg.Root() {
		tt.Errorf("imports = %v, want just the root", imports)
	}
}

func TestLookupThroughImports(tt *testing.T) {
	tt.Parallel()

	reg, symbols := newTestRegistry()

	root := reg.Root()
	sym := symbols.Intern("shared")
	si := SI{Scope: ScopeToplevel, ValIndex: 3, Description: "test"}

	root.Define(sym, si)
	root.Export(sym)

	m, _, err := reg.Make(symbols.Intern("user"))
	if err != nil {
		tt.Fatalf("make: %v", err)
	}

	got, owner, ok := m.Lookup(sym)
	if !ok || owner != root || got.ValIndex != 3 {
		tt.Errorf("Lookup = %+v, %v, %v", got, owner, ok)
	}
}

func TestUnexportedSymbolsAreInvisible(tt *testing.T) {
	tt.Parallel()

	reg, symbols := newTestRegistry()

	lib, _, err := reg.Make(symbols.Intern("lib"))
	if err != nil {
		tt.Fatalf("make lib: %v", err)
	}

	hidden := symbols.Intern("hidden")
	lib.Define(hidden, SI{Scope: ScopeToplevel, ValIndex: 9})

	user, _, err := reg.Make(symbols.Intern("user"))
	if err != nil {
		tt.Fatalf("make user: %v", err)
	}

	user.AddImport(lib)

	if _, _, ok := user.Lookup(hidden); ok {
		tt.Errorf("unexported symbol resolved through an import")
	}

	lib.Export(hidden)

	if _, _, ok := user.Lookup(hidden); !ok {
		tt.Errorf("exported symbol failed to resolve through an import")
	}
}

func TestImportOrderDeterminesPrecedence(tt *testing.T) {
	tt.Parallel()

	reg, symbols := newTestRegistry()

	a, _, _ := reg.Make(symbols.Intern("a"))
	b, _, _ := reg.Make(symbols.Intern("b"))

	sym := symbols.Intern("both")

	a.Define(sym, SI{Scope: ScopeToplevel, ValIndex: 1})
	a.Export(sym)
	b.Define(sym, SI{Scope: ScopeToplevel, ValIndex: 2})
	b.Export(sym)

	user, _, _ := reg.Make(symbols.Intern("user"))
	user.AddImport(a)
	user.AddImport(b)

	got, owner, ok := user.Lookup(sym)
	if !ok || owner != a || got.ValIndex != 1 {
		tt.Errorf("first import did not win: %+v from %v", got, owner)
	}
}

func TestAliasSharesSymbolTable(tt *testing.T) {
	tt.Parallel()

	reg, symbols := newTestRegistry()

	orig, _, err := reg.Make(symbols.Intern("orig"))
	if err != nil {
		tt.Fatalf("make: %v", err)
	}

	alias, _, err := reg.Alias(symbols.Intern("alias"), orig)
	if err != nil {
		tt.Fatalf("alias: %v", err)
	}

	if alias.Identity() != orig {
		tt.Errorf("alias identity = %v", alias.Identity())
	}

	// A define in either is visible through both: the symbols hash is
	// shared by reference, not copied.
	sym := symbols.Intern("late")
	orig.Define(sym, SI{Scope: ScopeToplevel, ValIndex: 5})

	if got, ok := alias.LocalLookup(sym); !ok || got.ValIndex != 5 {
		tt.Errorf("define after aliasing invisible through the alias")
	}

	sym2 := symbols.Intern("later")
	alias.Define(sym2, SI{Scope: ScopeToplevel, ValIndex: 6})

	if _, ok := orig.LocalLookup(sym2); !ok {
		tt.Errorf("define through the alias invisible in the identity module")
	}
}

func TestUnresolved(tt *testing.T) {
	tt.Parallel()

	if !(SI{}).Unresolved() {
		tt.Errorf("zero SI should be unresolved")
	}

	if (SI{ValIndex: 1}).Unresolved() {
		tt.Errorf("bound SI should not be unresolved")
	}
}
