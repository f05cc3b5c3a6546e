package codegen

import "github.com/idio-lang/idio/internal/value"

// ir.go defines the intermediate form the evaluator's meaning function
// builds and this package's Generate linearises into byte code.

// Kind tags an IR node.
type Kind uint8

const (
	KConstant Kind = iota
	KShallowRef
	KShallowSet
	KDeepRef
	KDeepSet
	KSymRef
	KSymSet
	KSymDef
	KValRef
	KIf
	KSequence
	KAnd
	KOr
	KNot
	KLambda
	KApplication
	KTailApplication
	KFixLet // closed application: let-equivalent, no closure allocated.
	KDynamicLet
	KEnvironLet
	KDynamicRef
	KEnvironRef
	KDynamicSet
	KEnvironSet
	KComputedRef
	KComputedSet
	KComputedDef
	KTrap
	KEscaperPush
	KEscapeFrom
	KExpanderDef
	KOperatorDef
	KPrimCall
)

// Node is one IR tree node. Not every field is meaningful for every Kind;
// see Generate for which fields each Kind consumes.
type Node struct {
	Kind Kind

	Const value.Value // KConstant

	Depth, Slot int // K{Shallow,Deep}{Ref,Set}
	SI          int // KSymRef/Set/Def, K{Dynamic,Environ,Computed}{Ref,Set,Def}, trap/escaper/expander/operator labels

	Scope value.Constant // KSymDef: toplevel/predef/dynamic/environ/computed

	Kids []*Node // KSequence (body forms), KAnd/KOr (operands), KApplication (fn, then args)

	Test, Then, Else *Node // KIf

	NFormals int   // KLambda/KFixLet: number of fixed formals.
	Varargs  bool  // KLambda/KFixLet: has a rest parameter.
	Body     *Node // KLambda/KFixLet
	Name     string
	Bindings []*Node // KFixLet: argument expressions bound to the formals.

	PrimVI int // KPrimCall: vi of the predefined primitive.
	PrimN  int // KPrimCall: arity (0, 1, or 2) -- selects PRIMCALL0/1/2.

	HandlerVI int // KTrap: vi of the handler closure.
	CondCI    int // KTrap: ci of the condition-type symbol.

	PCAfter *Node // KEscaperPush: body to run with the escaper installed.
}
