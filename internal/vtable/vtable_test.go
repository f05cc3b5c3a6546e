package vtable

import (
	"errors"
	"testing"

	"github.com/idio-lang/idio/internal/value"
)

func constMethod(v value.Value) Method {
	return SimpleMethod(func(_ *Entry, _ value.Value, _ ...value.Value) (value.Value, error) {
		return v, nil
	})
}

func TestLookupIsDeterministic(tt *testing.T) {
	tt.Parallel()

	vt := New("test", nil)
	vt.Add("m", constMethod(value.Fixnum(1)))

	e1, err := vt.Lookup("m", false)
	if err != nil {
		tt.Fatalf("lookup: %v", err)
	}

	e2, err := vt.Lookup("m", false)
	if err != nil {
		tt.Fatalf("lookup: %v", err)
	}

	if e1 != e2 {
		tt.Errorf("two lookups with no intervening add returned distinct entries")
	}
}

func TestLookupMiss(tt *testing.T) {
	tt.Parallel()

	vt := New("test", nil)

	if _, err := vt.Lookup("absent", false); !errors.Is(err, ErrNotFound) {
		tt.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInheritanceCachesLocally(tt *testing.T) {
	tt.Parallel()

	parent := New("parent", nil)
	parent.Add("m", constMethod(value.Fixnum(1)))

	child := New("child", parent)

	e, err := child.Lookup("m", false)
	if err != nil {
		tt.Fatalf("lookup via parent: %v", err)
	}

	v, err := e.Invoke(value.Nil)
	if err != nil || v != value.Fixnum(1) {
		tt.Errorf("invoke = %v, %v", v, err)
	}

	// The inherited copy must not show up in Members (locals only).
	if got := child.Members(); len(got) != 0 {
		tt.Errorf("Members = %v, want none", got)
	}
}

func TestGenerationInvalidatesInheritedEntries(tt *testing.T) {
	tt.Parallel()

	parent := New("parent", nil)
	parent.Add("m", constMethod(value.Fixnum(1)))

	child := New("child", parent)

	if _, err := child.Lookup("m", false); err != nil {
		tt.Fatalf("priming lookup: %v", err)
	}

	// Redefining on the parent bumps the global generation; the child's
	// cached inherited entry must be discarded and re-resolved.
	parent.Add("m", constMethod(value.Fixnum(2)))

	e, err := child.Lookup("m", false)
	if err != nil {
		tt.Fatalf("lookup after parent add: %v", err)
	}

	v, _ := e.Invoke(value.Nil)
	if v != value.Fixnum(2) {
		tt.Errorf("stale inherited entry survived: got %s", value.SafeString(v))
	}
}

func TestLocalEntriesSurviveRevalidation(tt *testing.T) {
	tt.Parallel()

	parent := New("parent", nil)
	child := New("child", parent)
	child.Add("own", constMethod(value.Fixnum(7)))

	parent.Add("m", constMethod(value.Fixnum(1)))

	if _, err := child.Lookup("own", false); err != nil {
		tt.Errorf("locally-added entry dropped by revalidation: %v", err)
	}
}

func TestHitCountPromotion(tt *testing.T) {
	tt.Parallel()

	vt := New("test", nil)
	vt.Add("a", constMethod(value.Fixnum(1)))
	vt.Add("b", constMethod(value.Fixnum(2)))

	// Hammer "b" so its count passes "a"'s and it bubbles to the front.
	for i := 0; i < 3; i++ {
		if _, err := vt.Lookup("b", false); err != nil {
			tt.Fatalf("lookup: %v", err)
		}
	}

	if got := vt.entries[0].name; got != "b" {
		tt.Errorf("hot entry not promoted: head is %q", got)
	}
}

func TestMethodData(tt *testing.T) {
	tt.Parallel()

	blob := []byte{1, 2, 3}
	m := StaticMethod(nil, blob)

	blob[0] = 99 // the method keeps its own copy

	if got := m.Data(); got[0] != 1 {
		tt.Errorf("static blob aliased caller memory")
	}

	wv := WithValueMethod(nil, value.Fixnum(5))
	if wv.Value() != value.Fixnum(5) {
		tt.Errorf("rooted value lost")
	}
}

func TestThrowingLookupPanicsWithCondition(tt *testing.T) {
	tt.Parallel()

	defer func() {
		r := recover()
		if r == nil {
			tt.Fatalf("expected a panic")
		}

		c, ok := r.(*value.Condition)
		if !ok || c.Kind != value.CondRTVtableMethodUnbound {
			tt.Errorf("panicked with %v", r)
		}
	}()

	New("test", nil).Lookup("absent", true)
}

func TestRegistryBaselineMethods(tt *testing.T) {
	tt.Parallel()

	r := NewRegistry()

	e, err := r.ForValue(value.Fixnum(1)).Lookup("typename", false)
	if err != nil {
		tt.Fatalf("typename: %v", err)
	}

	v, err := e.Invoke(value.Fixnum(1))
	if err != nil {
		tt.Fatalf("invoke: %v", err)
	}

	s, ok := v.(*value.String)
	if !ok || s.Go() != "fixnum" {
		tt.Errorf("typename = %s", value.SafeString(v))
	}

	// Same type tag resolves to the same vtable.
	if r.For(value.TypeFixnum) != r.For(value.TypeFixnum) {
		tt.Errorf("registry minted two vtables for one type")
	}
}
