package reader

import (
	"testing"

	"github.com/idio-lang/idio/internal/value"
)

func newTables() (*value.SymbolTable, *value.KeywordTable) {
	return value.NewSymbolTable(), value.NewKeywordTable()
}

func TestReader_Atoms(t *testing.T) {
	t.Parallel()

	syms, kws := newTables()

	r := New(`42 foo :bar "hi there" #t #f #n`, syms, kws)

	forms, err := r.ReadAll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(forms) != 7 {
		t.Fatalf("got %d forms, want 7", len(forms))
	}

	if n, ok := forms[0].Expr.(value.Fixnum); !ok || n != 42 {
		t.Errorf("forms[0] = %#v, want Fixnum(42)", forms[0].Expr)
	}

	sym, ok := forms[1].Expr.(*value.Symbol)
	if !ok || sym.Name() != "foo" {
		t.Errorf("forms[1] = %#v, want symbol foo", forms[1].Expr)
	}

	if want, _ := syms.Lookup("foo"); sym != want {
		t.Errorf("forms[1] symbol not interned from shared table")
	}

	kw, ok := forms[2].Expr.(*value.Keyword)
	if !ok || kw.Name() != "bar" {
		t.Errorf("forms[2] = %#v, want keyword :bar", forms[2].Expr)
	}

	str, ok := forms[3].Expr.(*value.String)
	if !ok || str.Go() != "hi there" {
		t.Errorf("forms[3] = %#v, want string %q", forms[3].Expr, "hi there")
	}

	if forms[4].Expr != value.True {
		t.Errorf("forms[4] = %#v, want #t", forms[4].Expr)
	}

	if forms[5].Expr != value.False {
		t.Errorf("forms[5] = %#v, want #f", forms[5].Expr)
	}
}

func TestReader_Lists(t *testing.T) {
	t.Parallel()

	syms, kws := newTables()

	r := New(`(+ 1 2) '(a . b) [1 2 3]`, syms, kws)

	forms, err := r.ReadAll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(forms) != 3 {
		t.Fatalf("got %d forms, want 3", len(forms))
	}

	elems, ok := value.Slice(forms[0].Expr)
	if !ok || len(elems) != 3 {
		t.Fatalf("forms[0] not a 3-element list: %#v", forms[0].Expr)
	}

	plus, ok := elems[0].(*value.Symbol)
	if !ok || plus.Name() != "+" {
		t.Errorf("forms[0][0] = %#v, want symbol +", elems[0])
	}

	quoted, ok := forms[1].Expr.(*value.Pair)
	if !ok {
		t.Fatalf("forms[1] not a pair: %#v", forms[1].Expr)
	}

	head, ok := quoted.Head.(*value.Symbol)
	if !ok || head.Name() != "quote" {
		t.Errorf("forms[1] head = %#v, want symbol quote", quoted.Head)
	}

	inner, ok := value.Pt(quoted)
	if !ok {
		t.Fatalf("forms[1] tail not a pair")
	}

	dotted, ok := value.Ph(inner)
	if !ok {
		t.Fatalf("forms[1] inner head missing")
	}

	pair, ok := dotted.(*value.Pair)
	if !ok {
		t.Fatalf("forms[1] quoted datum not a pair: %#v", dotted)
	}

	a, ok := pair.Head.(*value.Symbol)
	if !ok || a.Name() != "a" {
		t.Errorf("dotted pair head = %#v, want symbol a", pair.Head)
	}

	b, ok := pair.Tail.(*value.Symbol)
	if !ok || b.Name() != "b" {
		t.Errorf("dotted pair tail = %#v, want symbol b", pair.Tail)
	}

	bracketed, ok := value.Slice(forms[2].Expr)
	if !ok || len(bracketed) != 3 {
		t.Fatalf("forms[2] (bracket list) not a 3-element list: %#v", forms[2].Expr)
	}
}

func TestReader_QuasiquoteSugar(t *testing.T) {
	t.Parallel()

	syms, kws := newTables()

	r := New("`(a,b,@c)", syms, kws)

	forms, err := r.ReadAll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(forms) != 1 {
		t.Fatalf("got %d forms, want 1", len(forms))
	}

	outer, ok := forms[0].Expr.(*value.Pair)
	if !ok {
		t.Fatalf("not a pair: %#v", forms[0].Expr)
	}

	head, ok := outer.Head.(*value.Symbol)
	if !ok || head.Name() != "quasiquote" {
		t.Errorf("head = %#v, want symbol quasiquote", outer.Head)
	}

	rest, ok := value.Pt(outer)
	if !ok {
		t.Fatalf("missing quasiquote body")
	}

	body, ok := value.Ph(rest)
	if !ok {
		t.Fatalf("missing quasiquoted datum")
	}

	elems, ok := value.Slice(body)
	if !ok || len(elems) != 3 {
		t.Fatalf("quasiquoted list malformed: %#v", body)
	}

	ub, ok := elems[1].(*value.Pair)
	if !ok {
		t.Fatalf("elems[1] not a pair: %#v", elems[1])
	}

	ubHead, ok := ub.Head.(*value.Symbol)
	if !ok || ubHead.Name() != "unquote" {
		t.Errorf("elems[1] head = %#v, want symbol unquote", ub.Head)
	}

	ubs, ok := elems[2].(*value.Pair)
	if !ok {
		t.Fatalf("elems[2] not a pair: %#v", elems[2])
	}

	ubsHead, ok := ubs.Head.(*value.Symbol)
	if !ok || ubsHead.Name() != "unquote-splicing" {
		t.Errorf("elems[2] head = %#v, want symbol unquote-splicing", ubs.Head)
	}
}

func TestReader_ArrayLiteral(t *testing.T) {
	t.Parallel()

	syms, kws := newTables()

	r := New(`#["a" 1 #[2 3]]`, syms, kws)

	forms, err := r.ReadAll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(forms) != 1 {
		t.Fatalf("got %d forms, want 1", len(forms))
	}

	arr, ok := forms[0].Expr.(*value.Array)
	if !ok || len(arr.Elems) != 3 {
		t.Fatalf("forms[0] = %#v, want a 3-element array", forms[0].Expr)
	}

	s, ok := arr.Elems[0].(*value.String)
	if !ok || s.Go() != "a" {
		t.Errorf("arr.Elems[0] = %#v, want string %q", arr.Elems[0], "a")
	}

	n, ok := arr.Elems[1].(value.Fixnum)
	if !ok || n != 1 {
		t.Errorf("arr.Elems[1] = %#v, want Fixnum(1)", arr.Elems[1])
	}

	nested, ok := arr.Elems[2].(*value.Array)
	if !ok || len(nested.Elems) != 2 {
		t.Fatalf("arr.Elems[2] = %#v, want a 2-element array", arr.Elems[2])
	}
}

func TestReader_Comments(t *testing.T) {
	t.Parallel()

	syms, kws := newTables()

	r := New(";; a leading comment\n42 ;; trailing\n", syms, kws)

	forms, err := r.ReadAll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(forms) != 1 {
		t.Fatalf("got %d forms, want 1", len(forms))
	}

	if forms[0].Line != 2 {
		t.Errorf("forms[0].Line = %d, want 2", forms[0].Line)
	}
}

func TestReader_Errors(t *testing.T) {
	t.Parallel()

	cases := []string{
		"(1 2",
		")",
		`"unterminated`,
		"#bogus",
	}

	for _, src := range cases {
		src := src

		t.Run(src, func(t *testing.T) {
			t.Parallel()

			syms, kws := newTables()

			r := New(src, syms, kws)

			_, err := r.ReadAll()
			if err == nil {
				t.Fatalf("expected a syntax error for %q", src)
			}
		})
	}
}
