package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Bytecode verification
// ---------------------------------------------------------------------------

// ErrInvalidBytecode is wrapped by every error Verify returns.
var ErrInvalidBytecode = errors.New("invalid bytecode")

// Verify checks that fn's chunk can run without reading outside its code,
// constants, upvalues or stack window. It does not descend into nested
// function constants; verify those separately.
//
// Checked: known opcodes with complete operands, constant indices in range,
// name operands that are strings, closures over function constants with
// valid capture descriptors, jump targets on instruction boundaries, a
// consistent stack depth at every instruction, and a final RETURN.
func Verify(fn *ObjFunction) error {
	v := verifier{fn: fn, chunk: fn.Chunk}
	if err := v.verify(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidBytecode, fn.DisplayName(), err)
	}
	return nil
}

type verifier struct {
	fn    *ObjFunction
	chunk *Chunk
	// successor offsets and stack effect of each decoded instruction
	insns map[int]insn
}

type insn struct {
	op      Opcode
	next    int
	target  int // jump destination, or -1
	need    int // values read from the stack
	effect  int // net stack change
	slot    int // local slot read by GET_LOCAL/SET_LOCAL, or -1
	capture []int
}

func (v *verifier) verify() error {
	if v.fn.Arity < 0 || v.fn.Arity >= FrameSlots {
		return fmt.Errorf("arity %d out of range", v.fn.Arity)
	}
	if v.fn.UpvalueCount < 0 || v.fn.UpvalueCount > FrameSlots {
		return fmt.Errorf("upvalue count %d out of range", v.fn.UpvalueCount)
	}
	if len(v.chunk.Constants) > MaxConstants {
		return ErrTooManyConstants
	}

	code := v.chunk.Code
	if len(code) == 0 {
		return errors.New("empty code")
	}

	v.insns = make(map[int]insn)
	last := 0
	for ip := 0; ip < len(code); {
		in, err := v.decode(ip)
		if err != nil {
			return fmt.Errorf("offset %04X: %v", ip, err)
		}
		v.insns[ip] = in
		last = ip
		ip = in.next
	}
	if Opcode(code[last]) != OpReturn {
		return errors.New("code does not end with RETURN")
	}
	for ip, in := range v.insns {
		if in.target < 0 {
			continue
		}
		if _, ok := v.insns[in.target]; !ok {
			return fmt.Errorf("offset %04X: jump target %04X is not an instruction", ip, in.target)
		}
	}
	return v.checkStack()
}

// decode reads the instruction at ip and checks its operands.
func (v *verifier) decode(ip int) (insn, error) {
	code := v.chunk.Code
	op := Opcode(code[ip])
	if !op.IsValid() {
		return insn{}, fmt.Errorf("unknown opcode 0x%02X", byte(op))
	}
	in := insn{op: op, next: ip + 1 + op.OperandBytes(), target: -1, slot: -1}
	if in.next > len(code) {
		return insn{}, fmt.Errorf("%s operands run past the end of the code", op)
	}

	switch op.Info().Operand {
	case OperandConstant:
		k, err := v.constant(code[ip+1])
		if err != nil {
			return insn{}, err
		}
		if op != OpConstant && !k.IsString() {
			return insn{}, fmt.Errorf("%s name constant is not a string", op)
		}
	case OperandByte:
		b := int(code[ip+1])
		switch op {
		case OpGetLocal, OpSetLocal:
			in.slot = b
		case OpGetUpValue, OpSetUpValue:
			if b >= v.fn.UpvalueCount {
				return insn{}, fmt.Errorf("%s index %d with %d upvalues", op, b, v.fn.UpvalueCount)
			}
		case OpCall:
			in.need = b + 1
			in.effect = -b
		}
	case OperandJump:
		in.target = in.next + int(v.chunk.ReadUint16(ip+1))
	case OperandLoop:
		in.target = in.next - int(v.chunk.ReadUint16(ip+1))
	case OperandClosure:
		k, err := v.constant(code[ip+1])
		if err != nil {
			return insn{}, err
		}
		if !k.IsFunction() {
			return insn{}, errors.New("CLOSURE constant is not a function")
		}
		target := k.AsFunction()
		in.next += 2 * target.UpvalueCount
		if in.next > len(code) {
			return insn{}, errors.New("CLOSURE capture descriptors run past the end of the code")
		}
		for i := 0; i < target.UpvalueCount; i++ {
			isLocal, index := code[ip+2+2*i], int(code[ip+3+2*i])
			switch {
			case isLocal == 1:
				in.capture = append(in.capture, index)
			case isLocal != 0:
				return insn{}, fmt.Errorf("CLOSURE capture flag %d", isLocal)
			case index >= v.fn.UpvalueCount:
				return insn{}, fmt.Errorf("CLOSURE captures upvalue %d of %d", index, v.fn.UpvalueCount)
			}
		}
	}

	if op != OpCall {
		in.need, in.effect = stackEffect(op)
	}
	return in, nil
}

func (v *verifier) constant(idx byte) (Value, error) {
	if int(idx) >= len(v.chunk.Constants) {
		return Nil, fmt.Errorf("constant index %d with %d constants", idx, len(v.chunk.Constants))
	}
	return v.chunk.Constants[idx], nil
}

// stackEffect returns how many values op reads and its net stack change.
// CALL depends on its operand and is handled by decode.
func stackEffect(op Opcode) (need, effect int) {
	switch op {
	case OpConstant, OpNil, OpGetGlobal, OpGetLocal, OpGetUpValue, OpClosure, OpStruct:
		return 0, 1
	case OpPop, OpDefineGlobal, OpCloseUpValue, OpPrint:
		return 1, -1
	case OpSetGlobal, OpSetLocal, OpSetUpValue, OpGetProperty, OpNegate, OpNot, OpJumpIfFalse, OpReturn:
		return 1, 0
	case OpSetProperty, OpAdd, OpSubtract, OpMultiply, OpDivide, OpEqual, OpGreater, OpLess:
		return 2, -1
	}
	return 0, 0
}

// checkStack follows every path through the code and requires the same
// stack depth whenever an instruction is reached. Depth counts the frame's
// slots, so slot 0 and the parameters are live on entry and never popped.
func (v *verifier) checkStack() error {
	depth := map[int]int{0: v.fn.Arity + 1}
	work := []int{0}
	for len(work) > 0 {
		ip := work[len(work)-1]
		work = work[:len(work)-1]
		in, d := v.insns[ip], depth[ip]

		if d-in.need < 1 {
			return fmt.Errorf("offset %04X: %s underflows the stack", ip, in.op)
		}
		if in.slot >= d {
			return fmt.Errorf("offset %04X: %s slot %d above stack depth %d", ip, in.op, in.slot, d)
		}
		for _, slot := range in.capture {
			if slot >= d {
				return fmt.Errorf("offset %04X: CLOSURE captures slot %d above stack depth %d", ip, slot, d)
			}
		}
		d += in.effect

		var succ []int
		switch in.op {
		case OpReturn:
		case OpJump, OpLoop:
			succ = []int{in.target}
		case OpJumpIfFalse:
			succ = []int{in.next, in.target}
		default:
			succ = []int{in.next}
		}
		for _, s := range succ {
			prev, seen := depth[s]
			if !seen {
				depth[s] = d
				work = append(work, s)
				continue
			}
			if prev != d {
				return fmt.Errorf("offset %04X: stack depth %d here but %d on another path", s, d, prev)
			}
		}
	}
	return nil
}
