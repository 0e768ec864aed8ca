package vm

import (
	"errors"
	"strings"
	"testing"
)

// rawFunction wraps hand-written code bytes, one line per byte.
func rawFunction(code []byte, constants ...Value) *ObjFunction {
	fn := NewFunction("raw")
	fn.Chunk.Code = code
	fn.Chunk.Lines = make([]int, len(code))
	fn.Chunk.Constants = constants
	return fn
}

func bytecode(ops ...any) []byte {
	var out []byte
	for _, o := range ops {
		switch v := o.(type) {
		case Opcode:
			out = append(out, byte(v))
		case int:
			out = append(out, byte(v))
		}
	}
	return out
}

func TestVerifyAcceptsWellFormedCode(t *testing.T) {
	fn := rawFunction(bytecode(
		OpConstant, 0,       // 0
		OpJumpIfFalse, 0, 7, // 2
		OpPop,               // 5
		OpConstant, 1,       // 6
		OpPrint,             // 8
		OpJump, 0, 1,        // 9
		OpPop,               // 12
		OpNil,               // 13
		OpReturn,
	), Bool(true), String("yes"))
	if err := Verify(fn); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsMalformedCode(t *testing.T) {
	inner := NewFunction("inner")
	inner.UpvalueCount = 2

	tests := []struct {
		name string
		fn   *ObjFunction
		want string
	}{
		{"missing constant", rawFunction(bytecode(OpConstant, 7, OpPrint, OpNil, OpReturn)), "constant index 7"},
		{"unknown opcode", rawFunction(bytecode(0xEE, OpNil, OpReturn)), "unknown opcode 0xEE"},
		{"truncated operand", rawFunction(bytecode(OpNil, OpReturn, OpConstant)), "past the end"},
		{"no return", rawFunction(bytecode(OpNil, OpPop)), "does not end with RETURN"},
		{"empty", rawFunction(nil), "empty code"},
		{"name not a string", rawFunction(bytecode(OpNil, OpDefineGlobal, 0, OpNil, OpReturn), Number(1)), "not a string"},
		{"closure over non-function", rawFunction(bytecode(OpClosure, 0, OpPop, OpNil, OpReturn), Number(1)), "not a function"},
		{"short capture list", rawFunction(bytecode(OpClosure, 0, 1, 1, OpReturn), ObjVal(inner)), "past the end"},
		{"bad capture flag", rawFunction(bytecode(OpClosure, 0, 2, 1, 0, 0, OpPop, OpNil, OpReturn), ObjVal(inner)), "capture flag 2"},
		{"jump past the end", rawFunction(bytecode(OpJump, 0, 9, OpNil, OpReturn)), "not an instruction"},
		{"jump into operand", rawFunction(bytecode(OpJump, 0, 1, OpConstant, 0, OpPop, OpNil, OpReturn), Number(1)), "not an instruction"},
		{"loop before start", rawFunction(bytecode(OpLoop, 0, 9, OpNil, OpReturn)), "not an instruction"},
		{"stack underflow", rawFunction(bytecode(OpPop, OpNil, OpReturn)), "underflows"},
		{"local above stack", rawFunction(bytecode(OpGetLocal, 5, OpPop, OpNil, OpReturn)), "slot 5"},
		{"missing upvalue", rawFunction(bytecode(OpGetUpValue, 0, OpPop, OpNil, OpReturn)), "with 0 upvalues"},
		{"inconsistent depth", rawFunction(bytecode(
			OpNil,
			OpJumpIfFalse, 0, 1,
			OpNil,
			OpNil,
			OpReturn,
		)), "on another path"},
	}

	for _, tc := range tests {
		err := Verify(tc.fn)
		if err == nil {
			t.Errorf("%s: accepted", tc.name)
			continue
		}
		if !errors.Is(err, ErrInvalidBytecode) {
			t.Errorf("%s: err = %v, want ErrInvalidBytecode", tc.name, err)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: %q does not mention %q", tc.name, err, tc.want)
		}
	}
}

func TestVerifyChecksCallArguments(t *testing.T) {
	// CALL 2 needs the callee and two arguments above slot 0.
	short := rawFunction(bytecode(OpNil, OpNil, OpCall, 2, OpReturn))
	if err := Verify(short); err == nil {
		t.Error("CALL with too few stack values accepted")
	}
	ok := rawFunction(bytecode(OpNil, OpNil, OpNil, OpCall, 2, OpReturn))
	if err := Verify(ok); err != nil {
		t.Errorf("Verify: %v", err)
	}
}
