package value

import "sync"

// Keyword is an interned property key, printed as :name. Keywords are a
// distinct interned type from symbols per the data model so
// that `eq?` between a symbol and a keyword of the same spelling is always
// false.
type Keyword struct {
	name string
}

func (*Keyword) Type() Type { return TypeKeyword }

func (k *Keyword) String() string { return ":" + k.name }

// Name returns the keyword's print name, without the leading colon.
func (k *Keyword) Name() string { return k.name }

// KeywordTable interns keywords by name, exactly as [SymbolTable] does for
// symbols, but kept as a distinct table (distinct type) per design.
type KeywordTable struct {
	mu       sync.RWMutex
	keywords map[string]*Keyword
}

// NewKeywordTable creates an empty, ready-to-use keyword interner.
func NewKeywordTable() *KeywordTable {
	return &KeywordTable{keywords: make(map[string]*Keyword, 256)}
}

// Intern returns the unique *Keyword for name, allocating it on first use.
func (t *KeywordTable) Intern(name string) *Keyword {
	t.mu.RLock()
	if k, ok := t.keywords[name]; ok {
		t.mu.RUnlock()
		return k
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	if k, ok := t.keywords[name]; ok {
		return k
	}

	k := &Keyword{name: name}
	t.keywords[name] = k

	return k
}

// Len returns the number of interned keywords.
func (t *KeywordTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.keywords)
}
