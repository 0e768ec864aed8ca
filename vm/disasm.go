package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembler
// ---------------------------------------------------------------------------

// Disassemble returns a human-readable listing of the chunk. It does not
// modify the chunk, so repeated calls return identical output.
func Disassemble(c *Chunk, name string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "== %s ==\n", name)
	for offset := 0; offset < len(c.Code); {
		line, next := DisassembleInstruction(c, offset)
		sb.WriteString(line)
		sb.WriteByte('\n')
		offset = next
	}
	return sb.String()
}

// DisassembleFunction lists fn followed by every function nested in its
// constant pool, depth first.
func DisassembleFunction(fn *ObjFunction) string {
	var sb strings.Builder
	var walk func(f *ObjFunction)
	walk = func(f *ObjFunction) {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(Disassemble(f.Chunk, f.DisplayName()))
		for _, k := range f.Chunk.Constants {
			if k.IsFunction() {
				walk(k.AsFunction())
			}
		}
	}
	walk(fn)
	return sb.String()
}

// DisassembleInstruction formats the instruction at offset and returns the
// offset of the next instruction.
func DisassembleInstruction(c *Chunk, offset int) (string, int) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%04X ", offset)
	if offset > 0 && c.LineAt(offset) == c.LineAt(offset-1) {
		sb.WriteString("   | ")
	} else {
		fmt.Fprintf(&sb, "%4d ", c.LineAt(offset))
	}

	op := Opcode(c.Code[offset])
	info := op.Info()
	if !op.IsValid() {
		sb.WriteString(info.Name)
		return sb.String(), offset + 1
	}
	if offset+info.OperandBytes >= len(c.Code) {
		fmt.Fprintf(&sb, "%-16s <truncated>", info.Name)
		return sb.String(), len(c.Code)
	}

	switch info.Operand {
	case OperandNone:
		sb.WriteString(info.Name)
		return sb.String(), offset + 1

	case OperandConstant:
		idx := c.Code[offset+1]
		fmt.Fprintf(&sb, "%-16s %4d '%s'", info.Name, idx, constantText(c, int(idx)))
		return sb.String(), offset + 2

	case OperandByte:
		fmt.Fprintf(&sb, "%-16s %4d", info.Name, c.Code[offset+1])
		return sb.String(), offset + 2

	case OperandJump, OperandLoop:
		jump := int(c.ReadUint16(offset + 1))
		target := offset + 3 + jump
		if info.Operand == OperandLoop {
			target = offset + 3 - jump
		}
		fmt.Fprintf(&sb, "%-16s %04X -> %04X", info.Name, offset, target)
		return sb.String(), offset + 3

	case OperandClosure:
		idx := int(c.Code[offset+1])
		fmt.Fprintf(&sb, "%-16s %4d %s", info.Name, idx, constantText(c, idx))
		next := offset + 2
		if idx < len(c.Constants) && c.Constants[idx].IsFunction() {
			fn := c.Constants[idx].AsFunction()
			for i := 0; i < fn.UpvalueCount && next+1 < len(c.Code); i++ {
				kind := "upvalue"
				if c.Code[next] == 1 {
					kind = "local"
				}
				fmt.Fprintf(&sb, "\n%04X    |                     %s %d", next, kind, c.Code[next+1])
				next += 2
			}
		}
		return sb.String(), next
	}

	sb.WriteString(info.Name)
	return sb.String(), offset + 1
}

func constantText(c *Chunk, idx int) string {
	if idx >= len(c.Constants) {
		return "<bad constant>"
	}
	return c.Constants[idx].String()
}
