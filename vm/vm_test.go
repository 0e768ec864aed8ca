package vm

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// assembler builds a function's chunk by hand.
type assembler struct {
	t    *testing.T
	fn   *ObjFunction
	line int
}

func newAssembler(t *testing.T, name string) *assembler {
	return &assembler{t: t, fn: NewFunction(name), line: 1}
}

func (a *assembler) k(v Value) byte {
	idx, err := a.fn.Chunk.AddConstant(v)
	if err != nil {
		a.t.Fatalf("AddConstant: %v", err)
	}
	return byte(idx)
}

func (a *assembler) op(op Opcode, operands ...byte) *assembler {
	a.fn.Chunk.WriteOp(op, a.line, operands...)
	return a
}

func (a *assembler) ret() *ObjFunction {
	a.op(OpNil).op(OpReturn)
	return a.fn
}

func runFn(t *testing.T, fn *ObjFunction, opts ...Option) (string, *VM, error) {
	t.Helper()
	var out bytes.Buffer
	vm := NewVM(append([]Option{WithOutput(&out)}, opts...)...)
	err := vm.Run(fn)
	return out.String(), vm, err
}

func wantRuntimeError(t *testing.T, err error, msg string) *RuntimeError {
	t.Helper()
	var rerr *RuntimeError
	if !errors.As(err, &rerr) {
		t.Fatalf("err = %v, want RuntimeError %q", err, msg)
	}
	if rerr.Msg != msg {
		t.Fatalf("message = %q, want %q", rerr.Msg, msg)
	}
	return rerr
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

func TestRunArithmetic(t *testing.T) {
	a := newAssembler(t, "")
	a.op(OpConstant, a.k(Number(1)))
	a.op(OpConstant, a.k(Number(2)))
	a.op(OpAdd)
	a.op(OpConstant, a.k(Number(3)))
	a.op(OpMultiply)
	a.op(OpConstant, a.k(Number(4)))
	a.op(OpSubtract)
	a.op(OpConstant, a.k(Number(2)))
	a.op(OpDivide)
	a.op(OpNegate)
	a.op(OpPrint)

	out, vm, err := runFn(t, a.ret())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "-2.5\n" {
		t.Errorf("output = %q", out)
	}
	if vm.StackDepth() != 0 {
		t.Errorf("stack depth after run = %d", vm.StackDepth())
	}
}

func TestRunComparisons(t *testing.T) {
	a := newAssembler(t, "")
	one, two := a.k(Number(1)), a.k(Number(2))
	a.op(OpConstant, one).op(OpConstant, two).op(OpLess).op(OpPrint)
	a.op(OpConstant, one).op(OpConstant, two).op(OpGreater).op(OpPrint)
	a.op(OpConstant, one).op(OpConstant, one).op(OpEqual).op(OpPrint)
	a.op(OpNil).op(OpNot).op(OpPrint)

	out, _, err := runFn(t, a.ret())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "true\nfalse\ntrue\ntrue\n" {
		t.Errorf("output = %q", out)
	}
}

func TestRunConditionalJump(t *testing.T) {
	for _, cond := range []bool{true, false} {
		a := newAssembler(t, "")
		c := a.fn.Chunk
		a.op(OpConstant, a.k(Bool(cond)))
		elseJump := c.EmitJump(OpJumpIfFalse, 1)
		a.op(OpPop)
		a.op(OpConstant, a.k(String("then"))).op(OpPrint)
		endJump := c.EmitJump(OpJump, 1)
		if err := c.PatchJump(elseJump); err != nil {
			t.Fatal(err)
		}
		a.op(OpPop)
		a.op(OpConstant, a.k(String("else"))).op(OpPrint)
		if err := c.PatchJump(endJump); err != nil {
			t.Fatal(err)
		}

		out, _, err := runFn(t, a.ret())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		want := "else\n"
		if cond {
			want = "then\n"
		}
		if out != want {
			t.Errorf("cond=%v: output = %q, want %q", cond, out, want)
		}
	}
}

func TestRunLoop(t *testing.T) {
	// i = 0; while (i < 3) { print i; i = i + 1; }
	a := newAssembler(t, "")
	c := a.fn.Chunk
	name := a.k(String("i"))
	zero, one, three := a.k(Number(0)), a.k(Number(1)), a.k(Number(3))

	a.op(OpConstant, zero).op(OpDefineGlobal, name)
	loopStart := c.Len()
	a.op(OpGetGlobal, name).op(OpConstant, three).op(OpLess)
	exit := c.EmitJump(OpJumpIfFalse, 1)
	a.op(OpPop)
	a.op(OpGetGlobal, name).op(OpPrint)
	a.op(OpGetGlobal, name).op(OpConstant, one).op(OpAdd).op(OpSetGlobal, name).op(OpPop)
	if err := c.EmitLoop(loopStart, 1); err != nil {
		t.Fatal(err)
	}
	if err := c.PatchJump(exit); err != nil {
		t.Fatal(err)
	}
	a.op(OpPop)

	out, _, err := runFn(t, a.ret())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "0\n1\n2\n" {
		t.Errorf("output = %q", out)
	}
}

func TestRunGlobalsPersist(t *testing.T) {
	define := newAssembler(t, "")
	define.op(OpConstant, define.k(Number(5))).op(OpDefineGlobal, define.k(String("x")))

	var out bytes.Buffer
	vm := NewVM(WithOutput(&out))
	if err := vm.Run(define.ret()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	v, ok := vm.Global("x")
	if !ok || v.AsNumber() != 5 {
		t.Fatalf("Global(x) = %v, %v", v, ok)
	}

	use := newAssembler(t, "")
	use.op(OpGetGlobal, use.k(String("x"))).op(OpPrint)
	if err := vm.Run(use.ret()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if out.String() != "5\n" {
		t.Errorf("output = %q", out.String())
	}

	names := vm.Globals()
	if len(names) != 2 || names[0] != "clock" || names[1] != "x" {
		t.Errorf("Globals() = %v", names)
	}
}

func TestRunCallsClosure(t *testing.T) {
	add := newAssembler(t, "add")
	add.fn.Arity = 2
	add.op(OpGetLocal, 1).op(OpGetLocal, 2).op(OpAdd).op(OpReturn)

	a := newAssembler(t, "")
	a.op(OpClosure, a.k(ObjVal(add.fn)))
	a.op(OpConstant, a.k(Number(3)))
	a.op(OpConstant, a.k(Number(4)))
	a.op(OpCall, 2)
	a.op(OpPrint)

	out, _, err := runFn(t, a.ret())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "7\n" {
		t.Errorf("output = %q", out)
	}
}

func TestRunClosureCapturesLocal(t *testing.T) {
	// A closure reading slot 1 of its enclosing frame sees the value after
	// the frame has returned.
	inner := newAssembler(t, "inner")
	inner.fn.UpvalueCount = 1
	inner.op(OpGetUpValue, 0).op(OpReturn)

	outer := newAssembler(t, "outer")
	outer.op(OpConstant, outer.k(String("kept")))
	outer.op(OpClosure, outer.k(ObjVal(inner.fn)), 1, 1)
	outer.op(OpReturn)

	a := newAssembler(t, "")
	a.op(OpClosure, a.k(ObjVal(outer.fn)))
	a.op(OpCall, 0)
	a.op(OpCall, 0)
	a.op(OpPrint)

	out, _, err := runFn(t, a.ret())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "kept\n" {
		t.Errorf("output = %q", out)
	}
}

func TestRunStructInstance(t *testing.T) {
	a := newAssembler(t, "")
	p, x := a.k(String("p")), a.k(String("x"))
	a.op(OpStruct, a.k(String("Point"))).op(OpCall, 0).op(OpDefineGlobal, p)
	a.op(OpGetGlobal, p).op(OpConstant, a.k(Number(1))).op(OpSetProperty, x).op(OpPop)
	a.op(OpGetGlobal, p).op(OpGetProperty, x).op(OpPrint)
	a.op(OpGetGlobal, p).op(OpPrint)

	out, _, err := runFn(t, a.ret())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "1\nPoint instance\n" {
		t.Errorf("output = %q", out)
	}
}

// ---------------------------------------------------------------------------
// Natives
// ---------------------------------------------------------------------------

func TestNativeCall(t *testing.T) {
	a := newAssembler(t, "")
	a.op(OpGetGlobal, a.k(String("double")))
	a.op(OpConstant, a.k(Number(21)))
	a.op(OpCall, 1)
	a.op(OpPrint)

	var out bytes.Buffer
	vm := NewVM(WithOutput(&out))
	vm.DefineNative("double", 1, func(argCount int, args []Value) (Value, error) {
		return Number(args[0].AsNumber() * 2), nil
	})
	if err := vm.Run(a.ret()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "42\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestNativeErrors(t *testing.T) {
	vm := NewVM(WithOutput(&bytes.Buffer{}))
	vm.DefineNative("fail", 0, func(int, []Value) (Value, error) {
		return Nil, fmt.Errorf("boom")
	})

	arity := newAssembler(t, "")
	arity.op(OpGetGlobal, arity.k(String("clock"))).op(OpNil).op(OpCall, 1)
	wantRuntimeError(t, vm.Run(arity.ret()), "expected 0 arguments but got 1")

	failing := newAssembler(t, "")
	failing.op(OpGetGlobal, failing.k(String("fail"))).op(OpCall, 0)
	wantRuntimeError(t, vm.Run(failing.ret()), "fail: boom")

	if vm.StackDepth() != 0 {
		t.Errorf("stack not reset after error: depth %d", vm.StackDepth())
	}
}

func TestClockNative(t *testing.T) {
	v, err := clockNative(0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsNumber() || v.AsNumber() <= 0 {
		t.Errorf("clock() = %v", v)
	}
}

// ---------------------------------------------------------------------------
// Runtime errors
// ---------------------------------------------------------------------------

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(a *assembler)
		msg   string
	}{
		{"undefined global", func(a *assembler) {
			a.op(OpGetGlobal, a.k(String("nope")))
		}, "undefined variable 'nope'"},
		{"assign undefined global", func(a *assembler) {
			a.op(OpNil).op(OpSetGlobal, a.k(String("nope")))
		}, "undefined variable 'nope'"},
		{"add mixed", func(a *assembler) {
			a.op(OpConstant, a.k(Number(1))).op(OpConstant, a.k(String("s"))).op(OpAdd)
		}, "operands must be numbers"},
		{"negate string", func(a *assembler) {
			a.op(OpConstant, a.k(String("s"))).op(OpNegate)
		}, "operand must be a number"},
		{"property on number", func(a *assembler) {
			a.op(OpConstant, a.k(Number(1))).op(OpGetProperty, a.k(String("x")))
		}, "only instances have properties"},
		{"field on number", func(a *assembler) {
			a.op(OpConstant, a.k(Number(1))).op(OpNil).op(OpSetProperty, a.k(String("x")))
		}, "only instances have fields"},
		{"missing property", func(a *assembler) {
			a.op(OpStruct, a.k(String("S"))).op(OpCall, 0).op(OpGetProperty, a.k(String("x")))
		}, "undefined property 'x'"},
		{"call number", func(a *assembler) {
			a.op(OpConstant, a.k(Number(1))).op(OpCall, 0)
		}, "can only call functions and structs"},
		{"unknown opcode", func(a *assembler) {
			a.fn.Chunk.Write(0xEE, a.line)
		}, "unknown opcode 0xEE"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := newAssembler(t, "")
			a.line = 7
			tc.build(a)
			_, vm, err := runFn(t, a.ret())
			rerr := wantRuntimeError(t, err, tc.msg)
			if rerr.Line() != 7 {
				t.Errorf("line = %d, want 7", rerr.Line())
			}
			if vm.StackDepth() != 0 {
				t.Errorf("stack depth = %d after error", vm.StackDepth())
			}
		})
	}
}

func TestRuntimeErrorTrace(t *testing.T) {
	bad := newAssembler(t, "bad")
	bad.line = 3
	bad.op(OpGetGlobal, bad.k(String("missing"))).op(OpReturn)

	a := newAssembler(t, "")
	a.line = 9
	a.op(OpClosure, a.k(ObjVal(bad.fn))).op(OpCall, 0)

	_, _, err := runFn(t, a.ret())
	rerr := wantRuntimeError(t, err, "undefined variable 'missing'")
	want := "undefined variable 'missing'\n[line 3] in bad()\n[line 9] in script"
	if rerr.Error() != want {
		t.Errorf("Error() = %q, want %q", rerr.Error(), want)
	}
}

func TestCallDepthLimit(t *testing.T) {
	// fun f() { return f(); }
	f := newAssembler(t, "f")
	f.op(OpGetGlobal, f.k(String("f"))).op(OpCall, 0).op(OpReturn)

	a := newAssembler(t, "")
	a.op(OpClosure, a.k(ObjVal(f.fn))).op(OpDefineGlobal, a.k(String("f")))
	a.op(OpGetGlobal, a.k(String("f"))).op(OpCall, 0)

	_, vm, err := runFn(t, a.ret(), WithMaxFrames(8))
	rerr := wantRuntimeError(t, err, "stack overflow")
	if len(rerr.Trace) != 8 {
		t.Errorf("trace has %d frames, want 8", len(rerr.Trace))
	}
	if vm.MaxFrames() != 8 {
		t.Errorf("MaxFrames() = %d", vm.MaxFrames())
	}
}

func TestValueStackOverflow(t *testing.T) {
	a := newAssembler(t, "")
	for i := 0; i < 10; i++ {
		a.op(OpNil)
	}
	_, _, err := runFn(t, a.ret(), WithStackSize(4))
	wantRuntimeError(t, err, "stack overflow")
}

func TestInstructionLimit(t *testing.T) {
	spin := newAssembler(t, "")
	spin.op(OpLoop, 0, 3)

	var out bytes.Buffer
	vm := NewVM(WithOutput(&out), WithInstructionLimit(100))
	wantRuntimeError(t, vm.Run(spin.ret()), "instruction limit of 100 exceeded")
	if vm.StackDepth() != 0 {
		t.Errorf("stack depth after limit = %d", vm.StackDepth())
	}

	// The budget is per run, so the VM stays usable.
	a := newAssembler(t, "")
	a.op(OpConstant, a.k(Number(1))).op(OpPrint)
	if err := vm.Run(a.ret()); err != nil {
		t.Fatalf("Run after limit: %v", err)
	}
	if out.String() != "1\n" {
		t.Errorf("output = %q", out.String())
	}

	// NIL, RETURN is exactly two instructions.
	exact := newAssembler(t, "").ret()
	if _, _, err := runFn(t, exact, WithInstructionLimit(2)); err != nil {
		t.Errorf("limit 2: %v", err)
	}
	_, _, err := runFn(t, exact, WithInstructionLimit(1))
	wantRuntimeError(t, err, "instruction limit of 1 exceeded")
}

func TestInterpretWithoutCompiler(t *testing.T) {
	vm := NewVM()
	if err := vm.Interpret("print 1;"); !errors.Is(err, ErrNoCompiler) {
		t.Errorf("err = %v, want ErrNoCompiler", err)
	}
	if vm.CompilerName() != "none" {
		t.Errorf("CompilerName() = %q", vm.CompilerName())
	}
}

func TestInterpretUsesBackend(t *testing.T) {
	var out bytes.Buffer
	vm := NewVM(WithOutput(&out))
	vm.UseBackend(NewFuncBackend("stub", func(source string) (*ObjFunction, error) {
		if strings.TrimSpace(source) == "" {
			return nil, errors.New("empty")
		}
		a := newAssembler(t, "")
		a.op(OpConstant, a.k(String(source))).op(OpPrint)
		return a.ret(), nil
	}))

	if err := vm.Interpret("hello"); err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if out.String() != "hello\n" {
		t.Errorf("output = %q", out.String())
	}
	if err := vm.Interpret("  "); err == nil || err.Error() != "empty" {
		t.Errorf("compile error not propagated: %v", err)
	}
	if vm.CompilerName() != "stub" {
		t.Errorf("CompilerName() = %q", vm.CompilerName())
	}
}

// ---------------------------------------------------------------------------
// Upvalue bookkeeping
// ---------------------------------------------------------------------------

func TestCaptureUpvalueReusesOpenSlot(t *testing.T) {
	vm := NewVM()
	vm.push(Number(0))
	vm.push(Number(1))
	vm.push(Number(2))

	low := vm.captureUpvalue(1)
	high := vm.captureUpvalue(2)
	if again := vm.captureUpvalue(1); again != low {
		t.Fatal("capturing the same slot twice produced two upvalues")
	}
	if vm.openUpvalues != high || high.next != low {
		t.Fatal("open upvalues not sorted highest slot first")
	}

	vm.closeUpvalues(2)
	if !high.IsClosed() || low.IsClosed() {
		t.Fatalf("closeUpvalues(2) closed the wrong set")
	}
	if vm.openUpvalues != low {
		t.Error("closed upvalue still on the open list")
	}

	vm.stack[1] = Number(10)
	if low.Get().AsNumber() != 10 {
		t.Error("open upvalue does not track its slot")
	}
	vm.closeUpvalues(0)
	if vm.openUpvalues != nil {
		t.Error("open list not empty after closing everything")
	}
}
