package value

import (
	"testing"
)

func TestSymbolInterningIsCanonical(tt *testing.T) {
	tt.Parallel()

	t := NewSymbolTable()

	a := t.Intern("foo")
	b := t.Intern("foo")
	c := t.Intern("bar")

	if a != b {
		tt.Errorf("same spelling interned to distinct symbols")
	}

	if a == c {
		tt.Errorf("distinct spellings interned to the same symbol")
	}

	if got, ok := t.Lookup("foo"); !ok || got != a {
		tt.Errorf("Lookup(foo) = %v, %v", got, ok)
	}

	if _, ok := t.Lookup("baz"); ok {
		tt.Errorf("Lookup(baz) should miss")
	}
}

func TestGensymNeverCollides(tt *testing.T) {
	tt.Parallel()

	t := NewSymbolTable()

	a := t.Gensym("cond")
	b := t.Gensym("cond")

	if a == b {
		tt.Errorf("two gensyms are the same symbol: %s", a)
	}
}

func TestKeywordsAreDistinctFromSymbols(tt *testing.T) {
	tt.Parallel()

	syms := NewSymbolTable()
	kws := NewKeywordTable()

	s := syms.Intern("name")
	k := kws.Intern("name")

	if Value(s) == Value(k) {
		tt.Errorf("symbol and keyword of the same spelling compare eq?")
	}

	if k.String() != ":name" {
		tt.Errorf("keyword prints %q, want \":name\"", k.String())
	}
}

func TestIsTrue(tt *testing.T) {
	tt.Parallel()

	if IsTrue(False) {
		tt.Errorf("#f is true")
	}

	for _, v := range []Value{True, Nil, Fixnum(0), NewString("")} {
		if !IsTrue(v) {
			tt.Errorf("%s is false, want true", SafeString(v))
		}
	}
}

func TestEquivalencePredicates(tt *testing.T) {
	tt.Parallel()

	syms := NewSymbolTable()

	a := &Pair{Head: Fixnum(1), Tail: Nil}
	b := &Pair{Head: Fixnum(1), Tail: Nil}

	if !Eq(Fixnum(3), Fixnum(3)) {
		tt.Errorf("eq? on equal fixnums")
	}

	if Eq(a, b) {
		tt.Errorf("eq? on distinct pairs")
	}

	if !Eq(syms.Intern("x"), syms.Intern("x")) {
		tt.Errorf("eq? on one interned symbol")
	}

	if !Eqv(Fixnum(3), Fixnum(3)) || Eqv(a, b) {
		tt.Errorf("eqv? disagrees with eq? where it should agree")
	}

	if !Equal(a, b) {
		tt.Errorf("equal? on structurally equal pairs")
	}

	if !Equal(NewString("hi"), NewString("hi")) {
		tt.Errorf("equal? on equal strings")
	}

	if Equal(List(Fixnum(1)), List(Fixnum(2))) {
		tt.Errorf("equal? on different lists")
	}

	if !Equal(NewArray(Fixnum(1), Fixnum(2)), NewArray(Fixnum(1), Fixnum(2))) {
		tt.Errorf("equal? on equal arrays")
	}
}

func TestHashEquivalences(tt *testing.T) {
	tt.Parallel()

	tt.Run("equal", func(tt *testing.T) {
		tt.Parallel()

		h := NewHash(EqEqual)
		h.Set(List(Fixnum(1), Fixnum(2)), Fixnum(42))

		// A structurally equal but distinct key hits.
		v, ok := h.Get(List(Fixnum(1), Fixnum(2)))
		if !ok || v != Fixnum(42) {
			tt.Errorf("structural key missed: %v, %v", v, ok)
		}
	})

	tt.Run("eq", func(tt *testing.T) {
		tt.Parallel()

		h := NewHash(EqEq)
		key := List(Fixnum(1))
		h.Set(key, Fixnum(1))

		if _, ok := h.Get(List(Fixnum(1))); ok {
			tt.Errorf("eq? table hit on a distinct key")
		}

		if _, ok := h.Get(key); !ok {
			tt.Errorf("eq? table missed the identical key")
		}

		if !h.Delete(key) || h.Len() != 0 {
			tt.Errorf("delete failed")
		}
	})
}

func TestListHelpers(tt *testing.T) {
	tt.Parallel()

	l := List(Fixnum(1), Fixnum(2), Fixnum(3))

	if got := Length(l); got != 3 {
		tt.Errorf("Length = %d, want 3", got)
	}

	if !IsList(l) {
		tt.Errorf("IsList on a proper list")
	}

	improper := &Pair{Head: Fixnum(1), Tail: Fixnum(2)}
	if IsList(improper) {
		tt.Errorf("IsList on an improper list")
	}

	if l.String() != "(1 2 3)" {
		tt.Errorf("print: got %q", l.String())
	}

	if improper.String() != "(1 . 2)" {
		tt.Errorf("print: got %q", improper.String())
	}
}

func TestSubstringSharesBacking(tt *testing.T) {
	tt.Parallel()

	base := NewString("hello world")
	sub := NewSubstring(base, 6, 5)

	if sub.Go() != "world" {
		tt.Errorf("substring: got %q", sub.Go())
	}

	if !Equal(sub, NewSubstring(base, 6, 5)) {
		tt.Errorf("equal? on identical substrings")
	}
}

func TestFrameChain(tt *testing.T) {
	tt.Parallel()

	outer := NewFrame(nil, 2)
	outer.Args[0] = Fixnum(10)
	outer.Args[1] = Fixnum(20)

	inner := NewFrame(outer, 1)
	inner.Args[0] = Fixnum(1)

	if got := inner.At(0, 0); got != Fixnum(1) {
		tt.Errorf("At(0,0) = %s", SafeString(got))
	}

	if got := inner.At(1, 1); got != Fixnum(20) {
		tt.Errorf("At(1,1) = %s", SafeString(got))
	}

	inner.SetAt(1, 0, Fixnum(99))

	if outer.Args[0] != Fixnum(99) {
		tt.Errorf("SetAt did not write through the chain")
	}
}

func TestConditionAncestry(tt *testing.T) {
	tt.Parallel()

	if !CondRTHashKeyNotFound.IsA(CondRTHashError) {
		tt.Errorf("hash-key-not-found should be a hash-error")
	}

	if !CondRTHashError.IsA(CondRTHashError) {
		tt.Errorf("a kind should be its own ancestor")
	}

	if CondRTHashError.IsA(CondRTModuleError) {
		tt.Errorf("unrelated kinds should not match")
	}
}

func TestStructTypeFields(tt *testing.T) {
	tt.Parallel()

	syms := NewSymbolTable()

	parent := &StructType{Name: syms.Intern("point"), Fields: []*Symbol{syms.Intern("x"), syms.Intern("y")}}
	child := &StructType{Name: syms.Intern("point3"), Parent: parent, Fields: []*Symbol{syms.Intern("z")}}

	fields := child.AllFields()
	if len(fields) != 3 || fields[0].Name() != "x" || fields[2].Name() != "z" {
		tt.Errorf("AllFields = %v", fields)
	}

	if !child.IsA(parent) || parent.IsA(child) {
		tt.Errorf("IsA chain wrong")
	}

	si := &StructInstance{StructType: child, Fields: []Value{Fixnum(1), Fixnum(2), Fixnum(3)}}

	if v, ok := si.Ref(syms.Intern("z")); !ok || v != Fixnum(3) {
		tt.Errorf("Ref(z) = %v, %v", v, ok)
	}
}
