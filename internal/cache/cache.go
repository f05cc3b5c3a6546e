// Package cache implements the pre-compilation cache file format: a single
// top-level read-syntax list recording a compiled xenv's tables so that a
// later run of the same source can skip straight to execution instead of
// re-running the evaluator and code generator.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	hexenc "github.com/idio-lang/idio/internal/encoding"
	"github.com/idio-lang/idio/internal/module"
	"github.com/idio-lang/idio/internal/reader"
	"github.com/idio-lang/idio/internal/value"
	"github.com/idio-lang/idio/internal/xenv"
)

// Binding is one (si . ci-or-#f) pair from a cache file's table-length
// section.
type Binding struct {
	SI    int
	CI    int // only meaningful when HasCI is true.
	HasCI bool
}

// File is the in-memory form of a pre-compilation cache, field-for-field
// the items the on-disk list records, in order.
type File struct {
	CompilerCommit  string
	Timestamp       string // ISO-8601; see [NewTimestamp].
	AssemblerCommit string
	SourceChecksum  string // "" means #f: no checksum recorded.

	Bindings    []Binding // length N; si values must each be < N.
	Constants   []value.Value
	EntryPC     int
	ByteCode    []byte
	SourceExprs []value.Value
	SourceProps []*xenv.SourceProp
}

// NewTimestamp formats t as the ISO-8601 string the cache format records.
// Callers pass the time in explicitly; production callers use time.Now.
func NewTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Checksum computes the "SHA256:"-prefixed digest string the cache records
// for src.
func Checksum(src []byte) string {
	sum := sha256.Sum256(src)
	return "SHA256:" + hex.EncodeToString(sum[:])
}

// BuildInfo is the pair of build-time identifiers a running binary must
// supply to validate a cache file against. Both are
// compared with [golang.org/x/mod/semver] rather than raw string equality,
// so a cache built by a compatible point release still loads.
type BuildInfo struct {
	CompilerCommit  string
	AssemblerCommit string
}

// compatible reports whether a cache's recorded build string still matches
// running under BuildInfo, tolerating a point-release difference. Both
// strings are expected in "vX.Y.Z"-ish form; if either fails to parse as a
// semver the comparison falls back to exact string equality, since a
// development build's commit hash has no ordering to speak of.
func compatible(cached, running string) bool {
	if cached == running {
		return true
	}

	cv, rv := semver.Canonical(cached), semver.Canonical(running)
	if cv == "" || rv == "" {
		return false
	}

	return semver.MajorMinor(cv) == semver.MajorMinor(rv)
}

// Write renders f as a single top-level read-syntax list and writes it to
// w.
func Write(w io.Writer, f *File) error {
	tree, err := toValue(f)
	if err != nil {
		return fmt.Errorf("cache: encode: %w", err)
	}

	if _, err := io.WriteString(w, tree.String()); err != nil {
		return fmt.Errorf("cache: write: %w", err)
	}

	if _, err := io.WriteString(w, "\n"); err != nil {
		return fmt.Errorf("cache: write: %w", err)
	}

	return nil
}

func toValue(f *File) (value.Value, error) {
	var sourceChecksum value.Value = value.False
	if f.SourceChecksum != "" {
		sourceChecksum = value.NewString(f.SourceChecksum)
	}

	bindings := make([]value.Value, len(f.Bindings))
	for i, b := range f.Bindings {
		var ci value.Value = value.False
		if b.HasCI {
			ci = value.Fixnum(b.CI)
		}

		bindings[i] = &value.Pair{Head: value.Fixnum(b.SI), Tail: ci}
	}

	enc := &hexenc.HexEncoding{Data: f.ByteCode}

	bc, err := enc.MarshalText()
	if err != nil {
		return nil, fmt.Errorf("byte code: %w", err)
	}

	sourceProps := make([]value.Value, len(f.SourceProps))
	for i, sp := range f.SourceProps {
		if sp == nil {
			sourceProps[i] = value.False
			continue
		}

		sourceProps[i] = &value.Pair{Head: value.Fixnum(sp.FileCI), Tail: value.Fixnum(sp.Line)}
	}

	return value.List(
		value.NewString(f.CompilerCommit),
		value.NewString(f.Timestamp),
		value.NewString(f.AssemblerCommit),
		sourceChecksum,
		value.Fixnum(len(f.Bindings)),
		value.List(bindings...),
		value.NewArray(append([]value.Value(nil), f.Constants...)...),
		value.Fixnum(f.EntryPC),
		value.NewString(string(bc)),
		value.NewArray(append([]value.Value(nil), f.SourceExprs...)...),
		value.NewArray(sourceProps...),
	), nil
}

// Load parses a cache file from r and validates it against build. It never
// returns a partially-populated *File alongside an error: on any mismatch
// or malformed record it returns (nil, reason) -- "did not load" rather
// than a raised condition.
func Load(r io.Reader, build BuildInfo, symbols *value.SymbolTable, keywords *value.KeywordTable) (*File, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("cache: read: %w", err)
	}

	rd := reader.New(string(src), symbols, keywords)

	forms, err := rd.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("cache: malformed read-syntax: %w", err)
	}

	if len(forms) != 1 {
		return nil, fmt.Errorf("cache: expected exactly one top-level form, got %d", len(forms))
	}

	items, ok := value.Slice(forms[0].Expr)
	if !ok || len(items) != 11 {
		return nil, fmt.Errorf("cache: expected an 11-element list, got %v", forms[0].Expr)
	}

	f, err := fromValue(items)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	if !compatible(f.CompilerCommit, build.CompilerCommit) {
		return nil, fmt.Errorf("cache: compiler commit %q incompatible with running %q", f.CompilerCommit, build.CompilerCommit)
	}

	if !compatible(f.AssemblerCommit, build.AssemblerCommit) {
		return nil, fmt.Errorf("cache: assembler commit %q incompatible with running %q", f.AssemblerCommit, build.AssemblerCommit)
	}

	n := len(f.Bindings)
	for _, b := range f.Bindings {
		if b.SI >= n {
			return nil, fmt.Errorf("cache: binding si=%d out of range for N=%d", b.SI, n)
		}

		if b.HasCI && b.CI >= len(f.Constants) {
			return nil, fmt.Errorf("cache: binding ci=%d out of range for %d constants", b.CI, len(f.Constants))
		}
	}

	if f.EntryPC < 0 || f.EntryPC > len(f.ByteCode) {
		return nil, fmt.Errorf("cache: entry pc=%d out of range for %d bytes of code", f.EntryPC, len(f.ByteCode))
	}

	if len(f.SourceExprs) != len(f.SourceProps) {
		return nil, fmt.Errorf("cache: |ses|=%d != |sps|=%d", len(f.SourceExprs), len(f.SourceProps))
	}

	return f, nil
}

// VerifySource reports whether src matches f's recorded checksum. A cache
// with no recorded checksum (the #f case) always verifies: both sides must
// be present for a mismatch to exist.
func (f *File) VerifySource(src []byte) bool {
	if f.SourceChecksum == "" {
		return true
	}

	return f.SourceChecksum == Checksum(src)
}

func fromValue(items []value.Value) (*File, error) {
	f := &File{}

	compilerCommit, err := asString(items[0])
	if err != nil {
		return nil, fmt.Errorf("compiler-commit: %w", err)
	}

	f.CompilerCommit = compilerCommit

	timestamp, err := asString(items[1])
	if err != nil {
		return nil, fmt.Errorf("timestamp: %w", err)
	}

	f.Timestamp = timestamp

	assemblerCommit, err := asString(items[2])
	if err != nil {
		return nil, fmt.Errorf("asm-commit: %w", err)
	}

	f.AssemblerCommit = assemblerCommit

	if items[3] != value.False {
		checksum, err := asString(items[3])
		if err != nil {
			return nil, fmt.Errorf("source-checksum: %w", err)
		}

		f.SourceChecksum = checksum
	}

	n, ok := items[4].(value.Fixnum)
	if !ok {
		return nil, fmt.Errorf("table length: expected a fixnum, got %v", items[4])
	}

	bindingForms, ok := value.Slice(items[5])
	if !ok {
		return nil, fmt.Errorf("bindings: expected a proper list")
	}

	if len(bindingForms) != int(n) {
		return nil, fmt.Errorf("bindings: expected %d entries, got %d", n, len(bindingForms))
	}

	bindings := make([]Binding, len(bindingForms))

	for i, bf := range bindingForms {
		pair, ok := bf.(*value.Pair)
		if !ok {
			return nil, fmt.Errorf("bindings[%d]: expected a pair, got %v", i, bf)
		}

		si, ok := pair.Head.(value.Fixnum)
		if !ok {
			return nil, fmt.Errorf("bindings[%d]: si: expected a fixnum, got %v", i, pair.Head)
		}

		b := Binding{SI: int(si)}

		if pair.Tail != value.False {
			ci, ok := pair.Tail.(value.Fixnum)
			if !ok {
				return nil, fmt.Errorf("bindings[%d]: ci: expected a fixnum or #f, got %v", i, pair.Tail)
			}

			b.CI, b.HasCI = int(ci), true
		}

		bindings[i] = b
	}

	f.Bindings = bindings

	constants, ok := items[6].(*value.Array)
	if !ok {
		return nil, fmt.Errorf("constants: expected an array, got %v", items[6])
	}

	f.Constants = constants.Elems

	entryPC, ok := items[7].(value.Fixnum)
	if !ok {
		return nil, fmt.Errorf("entry pc: expected a fixnum, got %v", items[7])
	}

	f.EntryPC = int(entryPC)

	bcStr, err := asString(items[8])
	if err != nil {
		return nil, fmt.Errorf("byte code: %w", err)
	}

	var enc hexenc.HexEncoding
	if err := enc.UnmarshalText([]byte(bcStr)); err != nil {
		return nil, fmt.Errorf("byte code: %w", err)
	}

	f.ByteCode = enc.Data

	sourceExprs, ok := items[9].(*value.Array)
	if !ok {
		return nil, fmt.Errorf("source expressions: expected an array, got %v", items[9])
	}

	f.SourceExprs = sourceExprs.Elems

	sourcePropForms, ok := items[10].(*value.Array)
	if !ok {
		return nil, fmt.Errorf("source properties: expected an array, got %v", items[10])
	}

	sourceProps := make([]*xenv.SourceProp, len(sourcePropForms.Elems))

	for i, spf := range sourcePropForms.Elems {
		if spf == value.False {
			continue
		}

		pair, ok := spf.(*value.Pair)
		if !ok {
			return nil, fmt.Errorf("source properties[%d]: expected a pair or #f, got %v", i, spf)
		}

		fileCI, ok := pair.Head.(value.Fixnum)
		if !ok {
			return nil, fmt.Errorf("source properties[%d]: file-ci: expected a fixnum, got %v", i, pair.Head)
		}

		line, ok := pair.Tail.(value.Fixnum)
		if !ok {
			return nil, fmt.Errorf("source properties[%d]: line: expected a fixnum, got %v", i, pair.Tail)
		}

		sourceProps[i] = &xenv.SourceProp{FileCI: int(fileCI), Line: int(line)}
	}

	f.SourceProps = sourceProps

	return f, nil
}

func asString(v value.Value) (string, error) {
	s, ok := v.(*value.String)
	if !ok {
		return "", fmt.Errorf("expected a string, got %v", v)
	}

	return s.Go(), nil
}

// PopulateXEnv builds a fresh, AOT-mode xenv from f's tables under rt: on
// success it creates a new xenv populated with these tables, ready to run
// from the recorded entry pc. The xenv's byte code, constants and source
// tables are exact copies of f's; its st/vt are rebuilt from f.Bindings,
// and each binding's placeholder vi is resolved against the root module --
// an already-known name (a predef, or a definition from an earlier unit)
// back-patches to its live value slot, an unknown one reserves a fresh
// slot and is defined for the units that follow.
func PopulateXEnv(rt *xenv.Runtime, f *File) (*xenv.XEnv, int, error) {
	x, _ := rt.NewXEnv()
	x.AOT = true

	for _, b := range f.Bindings {
		ci := -1
		if b.HasCI {
			ci = b.CI
		}

		si := x.ExtendTables(rt, ci)

		if si != b.SI {
			return nil, 0, fmt.Errorf("cache: binding order mismatch: expected si=%d, built si=%d", b.SI, si)
		}
	}

	for _, c := range f.Constants {
		x.ConstantsLookupOrExtend(c)
	}

	x.AppendByteCode(f.ByteCode...)

	for i, expr := range f.SourceExprs {
		var prop *xenv.SourceProp
		if i < len(f.SourceProps) {
			prop = f.SourceProps[i]
		}

		x.ExtendSrcExprs(expr, prop)
	}

	resolveBindings(rt, x, f)

	return x, f.EntryPC, nil
}

// resolveBindings back-patches each placeholder vi in x's value table to a
// live slot.
func resolveBindings(rt *xenv.Runtime, x *xenv.XEnv, f *File) {
	root := rt.Modules.Root()

	for _, b := range f.Bindings {
		if !b.HasCI {
			continue
		}

		sym, ok := f.Constants[b.CI].(*value.Symbol)
		if !ok {
			continue
		}

		if si, _, found := root.Lookup(sym); found && si.ValIndex > 0 {
			x.SetVT(b.SI, si.ValIndex)
			continue
		}

		vi := rt.ReserveValue()
		x.SetVT(b.SI, vi)

		root.Define(sym, module.SI{
			Scope:       module.ScopeToplevel,
			XI:          x.Index,
			SymIndex:    b.SI,
			ConstIndex:  x.ConstantsLookupOrExtend(sym),
			ValIndex:    vi,
			ModuleIndex: rt.Modules.IndexOf(root),
			Description: "loaded from cache",
		})
		root.Export(sym)
	}
}

// dumpDebug renders f in a short human-readable summary, used by String
// rather than printing the full read-syntax list.
func (f *File) dumpDebug() string {
	var b strings.Builder

	fmt.Fprintf(&b, "compiler=%s asm=%s built=%s\n", f.CompilerCommit, f.AssemblerCommit, f.Timestamp)
	fmt.Fprintf(&b, "bindings=%d constants=%d bytecode=%d entry=%d\n",
		len(f.Bindings), len(f.Constants), len(f.ByteCode), f.EntryPC)

	return b.String()
}

// String implements fmt.Stringer for debugging/log output.
func (f *File) String() string { return f.dumpDebug() }
