package value

import "fmt"

// condition.go models the fixed condition-type hierarchy the core exposes
// to user code as tagged Go errors. Trap records select a handler by
// condition-type ancestry. The full condition-type tree is richer than
// this; the core only needs enough of it to drive trap selection and
// default printing.

// ConditionKind names a condition type, spelled the way user code traps
// it (with the leading caret).
type ConditionKind string

const (
	CondRTVariableUnbound     ConditionKind = "^rt-variable-unbound"
	CondRTModuleError         ConditionKind = "^rt-module-error"
	CondRTModuleSymbolUnbound ConditionKind = "^rt-module-symbol-unbound-error"
	CondRTHashError           ConditionKind = "^rt-hash-error"
	CondRTHashKeyNotFound     ConditionKind = "^rt-hash-key-not-found-error"
	CondRTKeywordError        ConditionKind = "^rt-keyword-error"
	CondRTStructError         ConditionKind = "^rt-struct-error"
	CondRTPathError           ConditionKind = "^rt-path-error"
	CondRTGlobError           ConditionKind = "^rt-glob-error"
	CondRTVtableUnbound       ConditionKind = "^rt-vtable-unbound-error"
	CondRTVtableMethodUnbound ConditionKind = "^rt-vtable-method-unbound-error"
	CondSTVariableError       ConditionKind = "^st-variable-error"
	CondSTFunctionArityError  ConditionKind = "^st-function-arity-error"
	CondEvaluationError       ConditionKind = "^evaluation-error"
	CondRTSignal              ConditionKind = "^rt-signal"
)

// ancestry records each condition's direct parent; the root "^condition"
// parent is the empty string. Trap selection walks this chain.
var ancestry = map[ConditionKind]ConditionKind{
	CondRTModuleSymbolUnbound: CondRTModuleError,
	CondRTHashKeyNotFound:     CondRTHashError,
	CondRTVtableMethodUnbound: CondRTVtableUnbound,
}

// IsA reports whether kind is k itself or a descendant of k, per the
// ancestry table above.
func (kind ConditionKind) IsA(k ConditionKind) bool {
	for cur := kind; ; {
		if cur == k {
			return true
		}

		parent, ok := ancestry[cur]
		if !ok {
			return false
		}

		cur = parent
	}
}

// Condition is the error value raised for both user-visible and
// evaluator/VM-detected faults. Continuable distinguishes a
// condition a trap handler may return from (a return resumes as if the
// handler's value were the raising expression's value) from one that must
// longjmp past the raising frame.
type Condition struct {
	Kind        ConditionKind
	Message     string
	Location    string // "file:line"
	Detail      string // stringified offending value(s)
	Continuable bool
	Offending   Value
}

func (c *Condition) Error() string {
	if c.Location != "" {
		return fmt.Sprintf("%s: %s: %s", c.Location, c.Kind, c.Message)
	}

	return fmt.Sprintf("%s: %s", c.Kind, c.Message)
}

func (*Condition) Type() Type { return TypeConstantIdio } // conditions print via the default handler, not the reader

func (c *Condition) String() string { return c.Error() }

// NewCondition builds a non-continuable condition of the given kind.
func NewCondition(kind ConditionKind, location, message string) *Condition {
	return &Condition{Kind: kind, Location: location, Message: message}
}

// Unbound builds an ^rt-variable-unbound condition naming the unbound
// symbol. The VM's own unbound-reference checks build theirs with
// NewCondition and do not name the symbol.
func Unbound(location string, name *Symbol) *Condition {
	return &Condition{
		Kind:      CondRTVariableUnbound,
		Location:  location,
		Message:   fmt.Sprintf("%s is unbound", name.Name()),
		Offending: name,
	}
}

// ArityError builds the ^st-function-arity-error condition.
func ArityError(location string, want, got int) *Condition {
	return &Condition{
		Kind:     CondSTFunctionArityError,
		Location: location,
		Message:  fmt.Sprintf("arity error: wanted %d args, got %d", want, got),
	}
}
