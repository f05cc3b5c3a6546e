// Package codegen linearises the evaluator's intermediate form into the
// byte-code stream an xenv's bc array holds, and decodes
// that stream's varuint/uint16 operand encodings back out for the VM and
// disassembler.
package codegen

// Op identifies a single byte-code instruction. One opcode per category of
// work the VM does: shallow/deep ref/set, symbol/value ref/set/def,
// constants, primcalls, control flow, frames, arity checks, closures,
// calls, traps/escapers, dynamic/environ/computed variables, expander and
// operator installation, and debug/tracing.
type Op byte

const (
	// Constants: the first five table indexes and small signed fixnums get
	// their own opcode to avoid a wide operand.
	CONSTANT_0 Op = iota
	CONSTANT_1
	CONSTANT_2
	CONSTANT_3
	CONSTANT_4
	CONSTANT_REF // varuint ci operand
	FIXNUM       // varuint operand, unsigned
	NEG_FIXNUM   // varuint operand, then negated

	// Shallow argument (frame depth 0) ref/set, and the general deep form.
	SHALLOW_ARGUMENT_REF // varuint j
	SHALLOW_ARGUMENT_SET // varuint j
	DEEP_ARGUMENT_REF    // varuint i, varuint j
	DEEP_ARGUMENT_SET    // varuint i, varuint j

	// Symbol (toplevel/predef) and value-table reference, by uint16 si/vi.
	SYM_REF
	SYM_SET
	SYM_DEF // also carries a Scope byte operand
	VAL_REF // uint16 vi
	VAL_SET // uint16 vi

	// PUSH_VALUE stages the val register onto the VM's operand stack; used
	// to collect PRIMCALLn's arguments without allocating a frame (the val
	// register alone cannot hold more than one live value at a time).
	PUSH_VALUE

	// Control flow.
	GOTO       // fixed 2-byte big-endian signed relative offset
	GOTO_FALSE // as GOTO, taken when val is #f
	GOTO_TRUE  // as GOTO, taken when val is not #f
	NOT

	// Frames.
	ALLOCATE_FRAME // varuint nalloc
	EXTEND_FRAME   // varuint additional slots
	REUSE_FRAME    // no operand: tail call reuses current frame
	POP_FRAME      // no operand
	LINK_FRAME     // no operand: set frame.Next = current env frame
	UNLINK_FRAME   // no operand
	STORE_ARGUMENT // varuint slot: pop val register into frame slot
	LIST_ARGUMENT  // varuint slot: pack current frame's args[slot:] into a list at slot

	// Arity checks.
	ARITY1P
	ARITY2P
	ARITY3P
	ARITY4P
	ARITYEQP // varuint n
	ARITYGEP // varuint n

	// Closures and calls.
	CREATE_CLOSURE        // fixed 3-byte code-len (toplevel)
	CREATE_CLOSURE_NESTED // fixed 3-byte code-len, plus captures current frame
	PRIMCALL0             // uint16 vi
	PRIMCALL1             // uint16 vi
	PRIMCALL2             // uint16 vi
	PRESERVE_STATE        // push return-address state
	RESTORE_STATE         // pop return-address state
	INVOKE                // regular call
	TAIL_CALL             // tail call, frame reused
	RETURN
	FINISH

	// Abort frames.
	PUSH_ABORT // varuint label
	POP_ABORT

	// Traps.
	PUSH_TRAP // uint16 condition-ci, varuint handler-vi, fixed-2-byte resume pc
	POP_TRAP

	// Escapers.
	PUSH_ESCAPER // uint16 label-ci, fixed-2-byte resume pc
	POP_ESCAPER
	ESCAPE_FROM // uint16 label-ci

	// Dynamic / environ / computed variables.
	PUSH_DYNAMIC // uint16 si: pop val register, bind as dynamic si for extent of body
	POP_DYNAMIC
	DYNAMIC_REF  // uint16 si
	DYNAMIC_SET  // uint16 si: overwrite the topmost live binding
	PUSH_ENVIRON // uint16 si
	POP_ENVIRON
	ENVIRON_REF  // uint16 si
	ENVIRON_SET  // uint16 si
	COMPUTED_REF // uint16 si
	COMPUTED_SET // uint16 si
	COMPUTED_DEFINE

	// Template / operator machinery.
	EXPANDER // uint16 si: install expander from val register
	OPERATOR // uint16 si, varuint priority: install infix/postfix operator

	// Debug / tracing.
	SRC_EXPR // varuint index into ses/sps
	SUPPRESS_RCSE
	POP_RCSE

	opCount
)

var opNames = [opCount]string{
	CONSTANT_0: "CONSTANT-0", CONSTANT_1: "CONSTANT-1", CONSTANT_2: "CONSTANT-2",
	CONSTANT_3: "CONSTANT-3", CONSTANT_4: "CONSTANT-4", CONSTANT_REF: "CONSTANT-REF",
	FIXNUM: "FIXNUM", NEG_FIXNUM: "NEG-FIXNUM",
	SHALLOW_ARGUMENT_REF: "SHALLOW-ARGUMENT-REF", SHALLOW_ARGUMENT_SET: "SHALLOW-ARGUMENT-SET",
	DEEP_ARGUMENT_REF: "DEEP-ARGUMENT-REF", DEEP_ARGUMENT_SET: "DEEP-ARGUMENT-SET",
	SYM_REF: "SYM-REF", SYM_SET: "SYM-SET", SYM_DEF: "SYM-DEF",
	VAL_REF: "VAL-REF", VAL_SET: "VAL-SET",
	GOTO: "GOTO", GOTO_FALSE: "GOTO-FALSE", GOTO_TRUE: "GOTO-TRUE", NOT: "NOT",
	ALLOCATE_FRAME: "ALLOCATE-FRAME", EXTEND_FRAME: "EXTEND-FRAME",
	REUSE_FRAME: "REUSE-FRAME", POP_FRAME: "POP-FRAME",
	LINK_FRAME: "LINK-FRAME", UNLINK_FRAME: "UNLINK-FRAME",
	STORE_ARGUMENT: "STORE-ARGUMENT", LIST_ARGUMENT: "LIST-ARGUMENT",
	ARITY1P: "ARITY1P", ARITY2P: "ARITY2P", ARITY3P: "ARITY3P", ARITY4P: "ARITY4P",
	ARITYEQP: "ARITYEQP", ARITYGEP: "ARITYGEP",
	CREATE_CLOSURE: "CREATE-CLOSURE", CREATE_CLOSURE_NESTED: "CREATE-CLOSURE-NESTED",
	PRIMCALL0: "PRIMCALL0", PRIMCALL1: "PRIMCALL1", PRIMCALL2: "PRIMCALL2",
	PRESERVE_STATE: "PRESERVE-STATE", RESTORE_STATE: "RESTORE-STATE",
	INVOKE: "INVOKE", TAIL_CALL: "TAIL-CALL", RETURN: "RETURN", FINISH: "FINISH",
	PUSH_ABORT: "PUSH-ABORT", POP_ABORT: "POP-ABORT",
	PUSH_TRAP: "PUSH-TRAP", POP_TRAP: "POP-TRAP",
	PUSH_ESCAPER: "PUSH-ESCAPER", POP_ESCAPER: "POP-ESCAPER", ESCAPE_FROM: "ESCAPE-FROM",
	PUSH_DYNAMIC: "PUSH-DYNAMIC", POP_DYNAMIC: "POP-DYNAMIC", DYNAMIC_REF: "DYNAMIC-REF", DYNAMIC_SET: "DYNAMIC-SET",
	PUSH_ENVIRON: "PUSH-ENVIRON", POP_ENVIRON: "POP-ENVIRON", ENVIRON_REF: "ENVIRON-REF", ENVIRON_SET: "ENVIRON-SET",
	COMPUTED_REF: "COMPUTED-REF", COMPUTED_SET: "COMPUTED-SET", COMPUTED_DEFINE: "COMPUTED-DEFINE",
	EXPANDER: "EXPANDER", OPERATOR: "OPERATOR",
	SRC_EXPR: "SRC-EXPR", SUPPRESS_RCSE: "SUPPRESS-RCSE", POP_RCSE: "POP-RCSE",
}

func (op Op) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}

	return "UNKNOWN-OP"
}
