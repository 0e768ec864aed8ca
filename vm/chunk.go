package vm

import (
	"errors"
)

// Chunk limits.
const (
	MaxConstants = 256    // constant indices are a single byte
	MaxJump      = 0xFFFF // jump offsets are 16-bit
)

var (
	// ErrTooManyConstants is returned when a chunk's constant pool is full.
	ErrTooManyConstants = errors.New("too many constants in one chunk")

	// ErrJumpTooLarge is returned when a forward jump does not fit in 16 bits.
	ErrJumpTooLarge = errors.New("too much code to jump over")

	// ErrLoopTooLarge is returned when a backward jump does not fit in 16 bits.
	ErrLoopTooLarge = errors.New("loop body too large")
)

// ---------------------------------------------------------------------------
// Chunk: instruction stream plus constant pool
// ---------------------------------------------------------------------------

// Chunk holds the bytecode and constants of one function. Lines records the
// source line of every byte in Code.
type Chunk struct {
	Code      []byte
	Lines     []int
	Constants []Value
}

// NewChunk creates an empty chunk.
func NewChunk() *Chunk {
	return &Chunk{
		Code:  make([]byte, 0, 64),
		Lines: make([]int, 0, 64),
	}
}

// Write appends one byte.
func (c *Chunk) Write(b byte, line int) {
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, line)
}

// WriteOp appends an opcode and its operand bytes.
func (c *Chunk) WriteOp(op Opcode, line int, operands ...byte) int {
	offset := len(c.Code)
	c.Write(byte(op), line)
	for _, b := range operands {
		c.Write(b, line)
	}
	return offset
}

// AddConstant appends a value to the constant pool and returns its index.
func (c *Chunk) AddConstant(v Value) (int, error) {
	if len(c.Constants) >= MaxConstants {
		return 0, ErrTooManyConstants
	}
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1, nil
}

// EmitJump emits a jump instruction with a placeholder offset.
// Returns the offset of the placeholder for later patching.
func (c *Chunk) EmitJump(op Opcode, line int) int {
	c.WriteOp(op, line, 0xFF, 0xFF)
	return len(c.Code) - 2
}

// PatchJump makes the jump whose placeholder is at offset land on the
// current end of the code.
func (c *Chunk) PatchJump(offset int) error {
	jump := len(c.Code) - offset - 2
	if jump > MaxJump {
		return ErrJumpTooLarge
	}
	c.Code[offset] = byte(jump >> 8)
	c.Code[offset+1] = byte(jump)
	return nil
}

// EmitLoop emits a backward jump to loopStart.
func (c *Chunk) EmitLoop(loopStart int, line int) error {
	c.Write(byte(OpLoop), line)
	offset := len(c.Code) - loopStart + 2
	if offset > MaxJump {
		return ErrLoopTooLarge
	}
	c.Write(byte(offset>>8), line)
	c.Write(byte(offset), line)
	return nil
}

// ReadUint16 decodes the big-endian operand at offset.
func (c *Chunk) ReadUint16(offset int) uint16 {
	return uint16(c.Code[offset])<<8 | uint16(c.Code[offset+1])
}

// LineAt returns the source line for the byte at offset, or 0 if unknown.
func (c *Chunk) LineAt(offset int) int {
	if offset < 0 || offset >= len(c.Lines) {
		return 0
	}
	return c.Lines[offset]
}

// Len returns the length of the code section.
func (c *Chunk) Len() int {
	return len(c.Code)
}
