package il

import "fmt"

// Opcode identifies a host instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop Opcode = 0x00 // No operation
	OpPop Opcode = 0x01 // Pop top of stack
	OpDup Opcode = 0x02 // Duplicate top of stack

	// ========================================================================
	// Constants (0x10-0x1F)
	// ========================================================================

	OpLdcI4  Opcode = 0x10 // Push integer constant: ldc.i4 <int>
	OpLdcR4  Opcode = 0x11 // Push float constant: ldc.r4 <float>
	OpLdStr  Opcode = 0x12 // Push string constant: ldstr <string>
	OpLdNull Opcode = 0x13 // Push null reference

	// ========================================================================
	// Arguments and locals (0x20-0x2F)
	// ========================================================================

	OpLdArg Opcode = 0x20 // Push argument: ldarg <arg>
	OpStArg Opcode = 0x21 // Pop and store to argument: starg <arg>
	OpLdLoc Opcode = 0x22 // Push local: ldloc <local>
	OpStLoc Opcode = 0x23 // Pop and store to local: stloc <local>

	// ========================================================================
	// Fields (0x30-0x3F)
	// ========================================================================

	OpLdFld  Opcode = 0x30 // obj -> value: ldfld <field>
	OpStFld  Opcode = 0x31 // obj value -> : stfld <field>
	OpLdsFld Opcode = 0x32 // -> value: ldsfld <field>
	OpStsFld Opcode = 0x33 // value -> : stsfld <field>

	// ========================================================================
	// Arithmetic (0x50-0x5F)
	// ========================================================================

	OpAdd    Opcode = 0x50 // Pop two, push sum
	OpSub    Opcode = 0x51 // Pop two, push difference (a - b where b is TOS)
	OpMul    Opcode = 0x52 // Pop two, push product
	OpDiv    Opcode = 0x53 // Pop two, push quotient
	OpRem    Opcode = 0x54 // Pop two, push remainder
	OpNeg    Opcode = 0x55 // Negate top of stack
	OpConvI4 Opcode = 0x56 // Convert top of stack to integer (truncating)
	OpConvR4 Opcode = 0x57 // Convert top of stack to float

	// ========================================================================
	// Comparison (0x60-0x6F)
	// ========================================================================

	OpCeq Opcode = 0x60 // Pop two, push 1 if equal, 0 otherwise
	OpCgt Opcode = 0x61 // Pop two, push 1 if a > b
	OpClt Opcode = 0x62 // Pop two, push 1 if a < b

	// ========================================================================
	// Branches (0x80-0x8F)
	// ========================================================================

	OpBr      Opcode = 0x80 // Unconditional branch: br <label>
	OpBrTrue  Opcode = 0x81 // Branch if top is non-zero/non-null
	OpBrFalse Opcode = 0x82 // Branch if top is zero/null
	OpBeq     Opcode = 0x83 // Pop two, branch if equal
	OpBneUn   Opcode = 0x84 // Pop two, branch if not equal
	OpBlt     Opcode = 0x85 // Pop two, branch if a < b
	OpBge     Opcode = 0x86 // Pop two, branch if a >= b
	OpSwitch  Opcode = 0x87 // Pop index, branch through table: switch <labels>

	// ========================================================================
	// Calls and objects (0x90-0x9F)
	// ========================================================================

	OpCall     Opcode = 0x90 // Static or direct call: call <method>
	OpCallVirt Opcode = 0x91 // Virtual call on receiver: callvirt <method>
	OpNewObj   Opcode = 0x92 // Construct object: newobj <ctor>

	// ========================================================================
	// Return (0xF0-0xFF)
	// ========================================================================

	OpRet Opcode = 0xF0 // Return from routine (pops the result if the routine has one)
)

// OperandKind describes the operand an opcode carries.
type OperandKind uint8

const (
	OperandNone   OperandKind = iota
	OperandInt                // int64
	OperandFloat              // float64
	OperandString             // string
	OperandArg                // Arg
	OperandLocal              // Local
	OperandField              // FieldRef
	OperandMethod             // MethodRef
	OperandLabel              // Label
	OperandTable              // []Label
)

// String returns a human-readable name for OperandKind.
func (k OperandKind) String() string {
	switch k {
	case OperandNone:
		return "none"
	case OperandInt:
		return "int"
	case OperandFloat:
		return "float"
	case OperandString:
		return "string"
	case OperandArg:
		return "arg"
	case OperandLocal:
		return "local"
	case OperandField:
		return "field"
	case OperandMethod:
		return "method"
	case OperandLabel:
		return "label"
	case OperandTable:
		return "table"
	default:
		return fmt.Sprintf("OperandKind(%d)", k)
	}
}

// OpcodeInfo provides metadata about each opcode for disassembly and
// stack accounting.
type OpcodeInfo struct {
	Name      string      // Human-readable name
	StackPop  int         // How many values popped from stack (-1 = depends on operand)
	StackPush int         // How many values pushed to stack (-1 = depends on operand)
	Operand   OperandKind // Operand carried by the instruction
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack manipulation
	OpNop: {"NOP", 0, 0, OperandNone},
	OpPop: {"POP", 1, 0, OperandNone},
	OpDup: {"DUP", 1, 2, OperandNone},

	// Constants
	OpLdcI4:  {"LDC_I4", 0, 1, OperandInt},
	OpLdcR4:  {"LDC_R4", 0, 1, OperandFloat},
	OpLdStr:  {"LDSTR", 0, 1, OperandString},
	OpLdNull: {"LDNULL", 0, 1, OperandNone},

	// Arguments and locals
	OpLdArg: {"LDARG", 0, 1, OperandArg},
	OpStArg: {"STARG", 1, 0, OperandArg},
	OpLdLoc: {"LDLOC", 0, 1, OperandLocal},
	OpStLoc: {"STLOC", 1, 0, OperandLocal},

	// Fields
	OpLdFld:  {"LDFLD", 1, 1, OperandField},
	OpStFld:  {"STFLD", 2, 0, OperandField},
	OpLdsFld: {"LDSFLD", 0, 1, OperandField},
	OpStsFld: {"STSFLD", 1, 0, OperandField},

	// Arithmetic
	OpAdd:    {"ADD", 2, 1, OperandNone},
	OpSub:    {"SUB", 2, 1, OperandNone},
	OpMul:    {"MUL", 2, 1, OperandNone},
	OpDiv:    {"DIV", 2, 1, OperandNone},
	OpRem:    {"REM", 2, 1, OperandNone},
	OpNeg:    {"NEG", 1, 1, OperandNone},
	OpConvI4: {"CONV_I4", 1, 1, OperandNone},
	OpConvR4: {"CONV_R4", 1, 1, OperandNone},

	// Comparison
	OpCeq: {"CEQ", 2, 1, OperandNone},
	OpCgt: {"CGT", 2, 1, OperandNone},
	OpClt: {"CLT", 2, 1, OperandNone},

	// Branches
	OpBr:      {"BR", 0, 0, OperandLabel},
	OpBrTrue:  {"BRTRUE", 1, 0, OperandLabel},
	OpBrFalse: {"BRFALSE", 1, 0, OperandLabel},
	OpBeq:     {"BEQ", 2, 0, OperandLabel},
	OpBneUn:   {"BNE_UN", 2, 0, OperandLabel},
	OpBlt:     {"BLT", 2, 0, OperandLabel},
	OpBge:     {"BGE", 2, 0, OperandLabel},
	OpSwitch:  {"SWITCH", 1, 0, OperandTable},

	// Calls and objects
	OpCall:     {"CALL", -1, -1, OperandMethod},
	OpCallVirt: {"CALLVIRT", -1, -1, OperandMethod},
	OpNewObj:   {"NEWOBJ", -1, 1, OperandMethod},

	// Return
	OpRet: {"RET", -1, 0, OperandNone},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Valid reports whether the opcode is defined.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// OperandKind returns the kind of operand this opcode carries.
func (op Opcode) OperandKind() OperandKind {
	return GetOpcodeInfo(op).Operand
}

// IsBranch returns true if this opcode transfers control to a label.
func (op Opcode) IsBranch() bool {
	return op >= OpBr && op <= OpSwitch
}

// IsConditionalBranch returns true for branches that may fall through.
func (op Opcode) IsConditionalBranch() bool {
	return op > OpBr && op <= OpSwitch
}

// IsCall returns true if this opcode invokes a method.
func (op Opcode) IsCall() bool {
	return op >= OpCall && op <= OpNewObj
}

// IsLoad returns true if this opcode pushes an argument, local or field.
func (op Opcode) IsLoad() bool {
	switch op {
	case OpLdArg, OpLdLoc, OpLdFld, OpLdsFld:
		return true
	}
	return false
}

// IsStore returns true if this opcode pops into an argument, local or field.
func (op Opcode) IsStore() bool {
	switch op {
	case OpStArg, OpStLoc, OpStFld, OpStsFld:
		return true
	}
	return false
}

// IsReturn returns true if this opcode terminates the routine.
func (op Opcode) IsReturn() bool {
	return op == OpRet
}

// AllOpcodes returns a slice of all defined opcodes.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

