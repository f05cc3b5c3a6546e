// Package eval implements meaning, the evaluator: the pass that turns
// reader-produced source forms into the IR tree (internal/codegen's Node)
// the code generator linearises into byte code.
package eval

import "github.com/idio-lang/idio/internal/value"

// NameTree is the lexical scope chain meaning consults to resolve a free
// reference to a frame depth and slot before falling back to the module
// system.
//
// Frame 0 is the innermost (nearest enclosing lambda or let).
type NameTree struct {
	names []*value.Symbol
	up    *NameTree
}

// ExtendFrame pushes a new lexical frame binding names, for a lambda or
// closed application's formals.
func ExtendFrame(up *NameTree, names []*value.Symbol) *NameTree {
	return &NameTree{names: names, up: up}
}

// Resolve finds sym in the nametree, returning its depth (0 = innermost)
// and slot. ok is false if sym is not lexically bound anywhere in the
// chain, meaning the caller must fall back to module resolution.
func (nt *NameTree) Resolve(sym *value.Symbol) (depth, slot int, ok bool) {
	for frame := nt; frame != nil; frame = frame.up {
		for i, n := range frame.names {
			if n == sym {
				return depth, i, true
			}
		}

		depth++
	}

	return 0, 0, false
}
