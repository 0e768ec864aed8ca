package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Stack Operations
const (
	OpConstant Opcode = 0x00 // push constant (8-bit index)
	OpNil      Opcode = 0x01 // push nil
	OpPop      Opcode = 0x02 // discard top of stack
)

// Variable Operations
const (
	OpDefineGlobal Opcode = 0x10 // bind global named by constant, pop value
	OpGetGlobal    Opcode = 0x11 // push global named by constant
	OpSetGlobal    Opcode = 0x12 // assign existing global, value stays on stack
	OpGetLocal     Opcode = 0x13 // push frame slot (8-bit slot)
	OpSetLocal     Opcode = 0x14 // assign frame slot, value stays on stack
	OpGetUpValue   Opcode = 0x15 // push captured variable (8-bit index)
	OpSetUpValue   Opcode = 0x16 // assign captured variable
	OpCloseUpValue Opcode = 0x17 // move top slot into its upvalue, pop
	OpGetProperty  Opcode = 0x18 // replace instance with field named by constant
	OpSetProperty  Opcode = 0x19 // set field on instance below value, leave value
)

// Functions and Structs
const (
	OpCall    Opcode = 0x20 // call callee below N arguments (8-bit argc)
	OpClosure Opcode = 0x21 // function constant, then (isLocal, index) per upvalue
	OpStruct  Opcode = 0x22 // push struct named by constant
	OpReturn  Opcode = 0x23 // return top of stack to caller
)

// Control Flow
const (
	OpJump        Opcode = 0x30 // forward jump (16-bit offset)
	OpJumpIfFalse Opcode = 0x31 // forward jump if top is falsey, no pop
	OpLoop        Opcode = 0x32 // backward jump (16-bit offset)
)

// Arithmetic, Comparison and Output
const (
	OpAdd      Opcode = 0x40
	OpSubtract Opcode = 0x41
	OpMultiply Opcode = 0x42
	OpDivide   Opcode = 0x43
	OpNegate   Opcode = 0x44
	OpNot      Opcode = 0x45
	OpEqual    Opcode = 0x46
	OpGreater  Opcode = 0x47
	OpLess     Opcode = 0x48
	OpPrint    Opcode = 0x49
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OperandKind describes how the operand bytes of an opcode are read.
type OperandKind uint8

const (
	OperandNone     OperandKind = iota
	OperandConstant             // 8-bit constant index
	OperandByte                 // 8-bit slot, upvalue index or argument count
	OperandJump                 // 16-bit big-endian forward offset
	OperandLoop                 // 16-bit big-endian backward offset
	OperandClosure              // constant index followed by 2 bytes per upvalue
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string      // human-readable name
	OperandBytes int         // fixed operand bytes (closure adds 2 per upvalue)
	Operand      OperandKind // how operands are decoded
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpConstant: {"CONSTANT", 1, OperandConstant},
	OpNil:      {"NIL", 0, OperandNone},
	OpPop:      {"POP", 0, OperandNone},

	OpDefineGlobal: {"DEFINE_GLOBAL", 1, OperandConstant},
	OpGetGlobal:    {"GET_GLOBAL", 1, OperandConstant},
	OpSetGlobal:    {"SET_GLOBAL", 1, OperandConstant},
	OpGetLocal:     {"GET_LOCAL", 1, OperandByte},
	OpSetLocal:     {"SET_LOCAL", 1, OperandByte},
	OpGetUpValue:   {"GET_UPVALUE", 1, OperandByte},
	OpSetUpValue:   {"SET_UPVALUE", 1, OperandByte},
	OpCloseUpValue: {"CLOSE_UPVALUE", 0, OperandNone},
	OpGetProperty:  {"GET_PROPERTY", 1, OperandConstant},
	OpSetProperty:  {"SET_PROPERTY", 1, OperandConstant},

	OpCall:    {"CALL", 1, OperandByte},
	OpClosure: {"CLOSURE", 1, OperandClosure},
	OpStruct:  {"STRUCT", 1, OperandConstant},
	OpReturn:  {"RETURN", 0, OperandNone},

	OpJump:        {"JUMP", 2, OperandJump},
	OpJumpIfFalse: {"JUMP_IF_FALSE", 2, OperandJump},
	OpLoop:        {"LOOP", 2, OperandLoop},

	OpAdd:      {"ADD", 0, OperandNone},
	OpSubtract: {"SUBTRACT", 0, OperandNone},
	OpMultiply: {"MULTIPLY", 0, OperandNone},
	OpDivide:   {"DIVIDE", 0, OperandNone},
	OpNegate:   {"NEGATE", 0, OperandNone},
	OpNot:      {"NOT", 0, OperandNone},
	OpEqual:    {"EQUAL", 0, OperandNone},
	OpGreater:  {"GREATER", 0, OperandNone},
	OpLess:     {"LESS", 0, OperandNone},
	OpPrint:    {"PRINT", 0, OperandNone},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// IsValid reports whether op is a known opcode.
func (op Opcode) IsValid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// OperandBytes returns the number of fixed operand bytes for an opcode.
func (op Opcode) OperandBytes() int {
	return op.Info().OperandBytes
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}
