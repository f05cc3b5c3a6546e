package eval

import (
	"strings"

	"github.com/idio-lang/idio/internal/codegen"
	"github.com/idio-lang/idio/internal/module"
	"github.com/idio-lang/idio/internal/value"
)

// resolve.go implements the module-table half of name resolution: once a
// reference fails to match anything in the lexical nametree, meaning asks
// the current module for its SI tuple, then ensures the CURRENT xenv has
// its own local (si, vi) pair for that name -- the si->ci->vi indirection
// collapsed into a single helper, since every xenv built here is resolved
// eagerly rather than lazily from a cache (internal/cache is what
// populates vt entries from a prior run).

// localSI returns a symbol-table index in env.XEnv that resolves to si's
// global value slot, extending the xenv's tables on first reference.
func localSI(env Env, sym *value.Symbol, si module.SI) int {
	if si.XI == env.XEnv.Index {
		return si.SymIndex
	}

	ci := env.XEnv.ConstantsLookupOrExtend(sym)
	local := env.XEnv.ExtendTables(env.Runtime, ci)
	env.XEnv.SetVT(local, si.ValIndex)

	return local
}

// resolveRef resolves a read of sym: first the lexical nametree, then the
// module table. An unbound module-level name is not an error here --
// forward references within a compilation unit are allowed -- it is
// recorded as a fresh toplevel SI with vi left unresolved (0), and the VM
// raises ^rt-variable-unbound only if it is still unresolved when actually
// executed.
func resolveRef(env Env, sym *value.Symbol) (*codegen.Node, error) {
	if depth, slot, ok := env.Names.Resolve(sym); ok {
		if depth == 0 {
			return &codegen.Node{Kind: codegen.KShallowRef, Slot: slot}, nil
		}

		return &codegen.Node{Kind: codegen.KDeepRef, Depth: depth, Slot: slot}, nil
	}

	si, owner, ok := env.Module.Lookup(sym)
	if !ok {
		if qsi, qok := moduleQualifiedLookup(env, sym); qok {
			si, ok = qsi, true
		}
	}

	if !ok {
		si, owner = defineForwardRef(env, sym, value.ScopeToplevel)
	}

	switch si.Scope {
	case value.ScopeDynamic:
		return &codegen.Node{Kind: codegen.KDynamicRef, SI: localSI(env, sym, si)}, nil
	case value.ScopeEnviron:
		return &codegen.Node{Kind: codegen.KEnvironRef, SI: localSI(env, sym, si)}, nil
	case value.ScopeComputed:
		return &codegen.Node{Kind: codegen.KComputedRef, SI: localSI(env, sym, si)}, nil
	default:
		_ = owner
		return &codegen.Node{Kind: codegen.KSymRef, SI: localSI(env, sym, si)}, nil
	}
}

// moduleQualifiedLookup attempts a "module/name" direct reference: split
// on the last /, and if the left side names a module whose exports contain
// the right side, return that module's SI. Tried only after the lexical
// nametree and the plain module-lookup chain have both missed.
func moduleQualifiedLookup(env Env, sym *value.Symbol) (module.SI, bool) {
	name := sym.Name()

	i := strings.LastIndexByte(name, '/')
	if i <= 0 || i == len(name)-1 {
		return module.SI{}, false
	}

	modName, symName := name[:i], name[i+1:]

	modSym, ok := env.Runtime.Symbols.Lookup(modName)
	if !ok {
		return module.SI{}, false
	}

	mod := env.Runtime.Modules.Find(modSym, nil)
	if mod == nil {
		return module.SI{}, false
	}

	rawSym, ok := env.Runtime.Symbols.Lookup(symName)
	if !ok {
		return module.SI{}, false
	}

	if !mod.Exported(rawSym) {
		return module.SI{}, false
	}

	return mod.LocalLookup(rawSym)
}

// resolveSet resolves an assignment target the same way resolveRef does,
// producing the matching *Set node kind.
func resolveSet(env Env, sym *value.Symbol) (*codegen.Node, error) {
	if depth, slot, ok := env.Names.Resolve(sym); ok {
		if depth == 0 {
			return &codegen.Node{Kind: codegen.KShallowSet, Slot: slot}, nil
		}

		return &codegen.Node{Kind: codegen.KDeepSet, Depth: depth, Slot: slot}, nil
	}

	si, _, ok := env.Module.Lookup(sym)
	if !ok {
		if qsi, qok := moduleQualifiedLookup(env, sym); qok {
			si, ok = qsi, true
		}
	}

	if !ok {
		si, _ = defineForwardRef(env, sym, value.ScopeToplevel)
	}

	switch si.Scope {
	case value.ScopeDynamic:
		return &codegen.Node{Kind: codegen.KDynamicSet, SI: localSI(env, sym, si)}, nil
	case value.ScopeEnviron:
		return &codegen.Node{Kind: codegen.KEnvironSet, SI: localSI(env, sym, si)}, nil
	case value.ScopeComputed:
		return &codegen.Node{Kind: codegen.KComputedSet, SI: localSI(env, sym, si)}, nil
	default:
		return &codegen.Node{Kind: codegen.KSymSet, SI: localSI(env, sym, si)}, nil
	}
}

// defineForwardRef installs a fresh, unresolved SI for sym in env's module,
// for a reference seen before any `define`.
func defineForwardRef(env Env, sym *value.Symbol, scope value.Constant) (module.SI, *module.Module) {
	ci := env.XEnv.ConstantsLookupOrExtend(sym)
	si := module.SI{
		Scope:       scope,
		XI:          env.XEnv.Index,
		SymIndex:    env.XEnv.ExtendTables(env.Runtime, ci),
		ConstIndex:  ci,
		ValIndex:    0,
		ModuleIndex: env.Runtime.Modules.IndexOf(env.Module),
	}
	env.Module.Define(sym, si)

	return si, env.Module
}

// installDefine installs or updates sym's SI for a `define`-family form at
// the scope named by env.DefScope, without building an IR node -- shared by
// resolveDefine and by template.go's compileTemplateDef/compileOperatorDef,
// which need the raw SI to register their own compile-time tables before
// wrapping it in their own node kind (KExpanderDef/KOperatorDef) rather
// than KSymDef.
func installDefine(env Env, sym *value.Symbol, description string) module.SI {
	scope := env.DefScope
	if scope == 0 {
		scope = value.ScopeToplevel
	}

	si, ok := env.Module.LocalLookup(sym)
	if !ok || si.Unresolved() {
		ci := env.XEnv.ConstantsLookupOrExtend(sym)

		var symIndex int
		if ok && si.XI == env.XEnv.Index {
			// A forward reference in this unit already has a slot; keep it
			// so the earlier SYM_REFs resolve through the same si.
			symIndex = si.SymIndex
		} else {
			symIndex = env.XEnv.ExtendTables(env.Runtime, ci)
		}

		vi := env.Runtime.ReserveValue()
		env.XEnv.SetVT(symIndex, vi)

		si = module.SI{
			Scope:       scope,
			XI:          env.XEnv.Index,
			SymIndex:    symIndex,
			ConstIndex:  ci,
			ValIndex:    vi,
			ModuleIndex: env.Runtime.Modules.IndexOf(env.Module),
			Description: description,
		}
		env.Module.Define(sym, si)
	}

	if env.Module == env.Runtime.Modules.Root() {
		env.Module.Export(sym)
	}

	return si
}

// resolveDefine installs or updates sym's SI for a `define`-family form at
// the scope named by env.DefScope, and returns the SymDef node that writes
// through it.
func resolveDefine(env Env, sym *value.Symbol, description string) (*codegen.Node, error) {
	scope := env.DefScope
	if scope == 0 {
		scope = value.ScopeToplevel
	}

	si := installDefine(env, sym, description)

	kind := codegen.KSymDef

	switch scope {
	case value.ScopeComputed:
		kind = codegen.KComputedDef
	}

	return &codegen.Node{Kind: kind, SI: localSI(env, sym, si), Scope: scope}, nil
}
