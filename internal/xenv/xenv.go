// Package xenv implements the execution environment container: the
// numbered bundle of tables (st,
// cs, ch, vt, ses, sps, bc) that represents one compilation unit, plus the
// Runtime that owns the process-wide tables every xenv shares (symbol and
// keyword interners, the module registry, the xenv array itself, and the
// global default-values array that backs every toplevel/predef binding).
package xenv

import (
	"fmt"

	"github.com/idio-lang/idio/internal/module"
	"github.com/idio-lang/idio/internal/value"
)

// SourceProp is the (file-ci line) pair recorded for a source expression
// the reader tagged with a lexical location, or nil if untagged.
type SourceProp struct {
	FileCI int
	Line   int
}

// XEnv is one compilation unit's table bundle.
type XEnv struct {
	Index int // this xenv's own index in the Runtime's xenvs array.

	st []int // st[si] = ci of the si-th symbol introduced here.
	vt []int // vt[si] = vi that an IREF of si currently resolves to.

	cs []value.Value  // constants, append-only.
	ch map[string]int // mirrors cs for O(1) lookup-or-extend.

	ses []value.Value // source expressions, one per evaluated top-level form.
	sps []*SourceProp // parallel to ses; nil if untagged.

	bc []byte // byte code.

	// AOT is true when this xenv was populated from a pre-compilation
	// cache; in that mode ExtendTables reserves a placeholder vi instead of
	// pulling one from the Runtime's live default-values array.
	AOT bool

	nextAOTVi int
}

// New creates an empty xenv with the given index.
func New(index int) *XEnv {
	return &XEnv{Index: index, ch: make(map[string]int)}
}

// Len returns |st| (always == |vt|).
func (x *XEnv) Len() int { return len(x.st) }

// ST returns the ci recorded for symbol-table index si.
func (x *XEnv) ST(si int) int { return x.st[si] }

// VT returns the vi recorded for symbol-table index si.
func (x *XEnv) VT(si int) int { return x.vt[si] }

// SetVT back-patches the vi for si, e.g. once a forward reference
// resolves.
func (x *XEnv) SetVT(si, vi int) { x.vt[si] = vi }

// Constants returns the constants array.
func (x *XEnv) Constants() []value.Value { return x.cs }

// Constant returns the ci-th constant.
func (x *XEnv) Constant(ci int) value.Value { return x.cs[ci] }

// ByteCode returns the xenv's byte code.
func (x *XEnv) ByteCode() []byte { return x.bc }

// AppendByteCode appends b to the xenv's byte code and returns the pc it
// was written at.
func (x *XEnv) AppendByteCode(b ...byte) int {
	pc := len(x.bc)
	x.bc = append(x.bc, b...)

	return pc
}

// SourceExprs returns the xenv's recorded source expressions.
func (x *XEnv) SourceExprs() []value.Value { return x.ses }

// SourceProps returns the xenv's recorded source properties.
func (x *XEnv) SourceProps() []*SourceProp { return x.sps }

// ExtendTables is the single place that appends to st and vt, keeping the
// two coherent. It returns the si assigned to the new entry.
//
// rt is nil-able only for tests that exercise AOT placeholder assignment
// without a full Runtime; production callers always supply one so a live
// xenv's placeholder vi comes from the process-wide default-values array.
func (x *XEnv) ExtendTables(rt *Runtime, ci int) (si int) {
	si = len(x.st)
	x.st = append(x.st, ci)

	var vi int

	if x.AOT {
		x.nextAOTVi++
		vi = -x.nextAOTVi // negative placeholders are never valid default-value indices.
	} else if rt != nil {
		vi = rt.ReserveValue()
	}

	x.vt = append(x.vt, vi)

	return si
}

// ConstantsLookupOrExtend returns the ci for v, appending it to cs (and
// indexing it in ch) if this is the first occurrence.
func (x *XEnv) ConstantsLookupOrExtend(v value.Value) int {
	key := constKey(v)

	if ci, ok := x.ch[key]; ok {
		return ci
	}

	ci := len(x.cs)
	x.cs = append(x.cs, v)
	x.ch[key] = ci

	return ci
}

func constKey(v value.Value) string {
	return fmt.Sprintf("%T:%s", v, v.String())
}

// ExtendSrcExprs always appends expr to ses; if prop is non-nil it is
// appended to sps at the same index, else a nil entry is appended so
// |ses| == |sps| is preserved.
func (x *XEnv) ExtendSrcExprs(expr value.Value, prop *SourceProp) int {
	k := len(x.ses)
	x.ses = append(x.ses, expr)
	x.sps = append(x.sps, prop)

	return k
}

// CheckInvariants validates the invariants local to a single xenv:
// |st| == |vt| and |ses| == |sps|. It does not
// check byte-code operand bounds; that is the VM's job at fetch time
// (fail-fast rather than a separate static verifier pass).
func (x *XEnv) CheckInvariants() error {
	if len(x.st) != len(x.vt) {
		return fmt.Errorf("xenv %d: |st|=%d != |vt|=%d", x.Index, len(x.st), len(x.vt))
	}

	if len(x.ses) != len(x.sps) {
		return fmt.Errorf("xenv %d: |ses|=%d != |sps|=%d", x.Index, len(x.ses), len(x.sps))
	}

	return nil
}

// ResolveModule goes from an SI's ModuleIndex back to a *module.Module.
func ResolveModule(reg *module.Registry, si module.SI) *module.Module {
	return reg.ByIndex(si.ModuleIndex)
}
