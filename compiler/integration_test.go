package compiler

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/tern/vm"
)

// ---------------------------------------------------------------------------
// End-to-end tests: source -> compiler -> VM -> printed output
// ---------------------------------------------------------------------------

func newTestVM(out *bytes.Buffer, opts ...vm.Option) *vm.VM {
	opts = append([]vm.Option{vm.WithOutput(out)}, opts...)
	machine := vm.NewVM(opts...)
	machine.UseCompiler(Compile)
	return machine
}

func runSource(t *testing.T, src string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newTestVM(&out).Interpret(src)
	return out.String(), err
}

func expectOutput(t *testing.T, src, want string) {
	t.Helper()
	got, err := runSource(t, src)
	if err != nil {
		t.Fatalf("Interpret(%q): %v", src, err)
	}
	if got != want {
		t.Errorf("Interpret(%q):\n got %q\nwant %q", src, got, want)
	}
}

func expectRuntimeError(t *testing.T, src, want string) *vm.RuntimeError {
	t.Helper()
	_, err := runSource(t, src)
	var rerr *vm.RuntimeError
	if !errors.As(err, &rerr) {
		t.Fatalf("Interpret(%q): error = %v, want runtime error %q", src, err, want)
	}
	if rerr.Msg != want {
		t.Errorf("Interpret(%q): message = %q, want %q", src, rerr.Msg, want)
	}
	return rerr
}

func TestRunArithmetic(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"print 1 + 2 * 3;", "7\n"},
		{"print (1 + 2) * 3;", "9\n"},
		{"print 10 / 4;", "2.5\n"},
		{"print 8 / 2 - 1;", "3\n"},
		{"print -3 - -4;", "1\n"},
		{"print 0.1 + 0.2;", "0.30000000000000004\n"},
		{"print 1 < 2;", "true\n"},
		{"print 2 <= 1;", "false\n"},
		{"print 3 >= 3;", "true\n"},
		{"print 1 != 1;", "false\n"},
		{"print !nil;", "true\n"},
		{"print !0;", "false\n"},
	}

	for _, tc := range tests {
		expectOutput(t, tc.src, tc.want)
	}
}

func TestRunValuePrinting(t *testing.T) {
	expectOutput(t, `print nil; print true; print "hi";`, "nil\ntrue\nhi\n")
	expectOutput(t, "fun f() {} print f;", "<fn f>\n")
	expectOutput(t, "print clock;", "<native fn>\n")
	expectOutput(t, "struct Foo {} print Foo; print Foo();", "Foo\nFoo instance\n")
}

func TestRunEquality(t *testing.T) {
	expectOutput(t, `print "a" == "a";`, "true\n")
	expectOutput(t, `print "a" == "b";`, "false\n")
	expectOutput(t, `print 1 == "1";`, "false\n")
	expectOutput(t, `print nil == false;`, "false\n")
	expectOutput(t, `struct S {} var a = S(); var b = S(); print a == a; print a == b;`, "true\nfalse\n")
}

func TestRunScoping(t *testing.T) {
	expectOutput(t, "{ var x = 1; { var x = 2; print x; } print x; }", "2\n1\n")
	expectOutput(t, "var x = \"global\"; { var x = \"local\"; print x; } print x;", "local\nglobal\n")
	expectOutput(t, "var a = 1; { var a = a + 1; print a; }", "2\n")
}

func TestRunControlFlow(t *testing.T) {
	expectOutput(t, "for (var i = 0; i < 3; i = i + 1) { print i; }", "0\n1\n2\n")
	expectOutput(t, "var i = 3; while (i > 0) { print i; i = i - 1; }", "3\n2\n1\n")
	expectOutput(t, "if (nil) print 1; else print 2;", "2\n")
	expectOutput(t, "if (0) print 1;", "1\n")
	expectOutput(t, "var n = 0; while (n < 10) { n = n + 1; if (n == 3) print n; }", "3\n")
}

func TestRunForWithoutClauses(t *testing.T) {
	expectOutput(t, "var i = 0; for (; i < 2;) { print i; i = i + 1; }", "0\n1\n")
	expectOutput(t, "var i = 0; for (i = 5; i < 7; i = i + 1) print i;", "5\n6\n")
}

func TestRunLogicalOperators(t *testing.T) {
	expectOutput(t, `print nil or "x";`, "x\n")
	expectOutput(t, `print 1 or "x";`, "1\n")
	expectOutput(t, `print false and 1;`, "false\n")
	expectOutput(t, `print true and 2;`, "2\n")
	// The right operand is skipped when the left decides.
	expectOutput(t, `fun boom() { print "boom"; return true; } print false and boom();`, "false\n")
}

func TestRunFunctions(t *testing.T) {
	expectOutput(t, "fun add(a, b) { return a + b; } print add(1, 2);", "3\n")
	expectOutput(t, "fun fib(n) { if (n < 2) return n; return fib(n - 1) + fib(n - 2); } print fib(10);", "55\n")
	expectOutput(t, "fun noReturn() {} print noReturn();", "nil\n")
	expectOutput(t, "fun bare() { return; } print bare();", "nil\n")
}

func TestRunClosures(t *testing.T) {
	expectOutput(t, `
fun makeCounter() {
  var i = 0;
  fun count() { i = i + 1; return i; }
  return count;
}
var c = makeCounter();
print c();
print c();
var d = makeCounter();
print d();
`, "1\n2\n1\n")

	// Two closures over one variable share it.
	expectOutput(t, `
var get;
var set;
fun make() {
  var x = "a";
  fun g() { return x; }
  fun s(v) { x = v; }
  get = g;
  set = s;
}
make();
set("b");
print get();
`, "b\n")

	// An open upvalue sees later writes to the local.
	expectOutput(t, "{ var a = 1; fun f() { return a; } a = 2; print f(); }", "2\n")

	// Upvalues thread through intermediate functions.
	expectOutput(t, `
fun outer() {
  var v = "outer";
  fun middle() {
    fun inner() { return v; }
    return inner;
  }
  return middle;
}
print outer()()();
`, "outer\n")
}

func TestRunLocalRecursiveFunction(t *testing.T) {
	expectOutput(t, "{ fun fact(n) { if (n <= 1) return 1; return n * fact(n - 1); } print fact(5); }", "120\n")
}

func TestRunStructs(t *testing.T) {
	expectOutput(t, "struct Foo {} var f = Foo(); f.x = 10; print f.x;", "10\n")
	expectOutput(t, "struct P {} var p = P(1, 2); p.a = p.b = 3; print p.a + p.b;", "6\n")
	expectOutput(t, "struct Box {} { var b = Box(); b.v = \"in\"; print b.v; }", "in\n")
}

func TestRunClock(t *testing.T) {
	expectOutput(t, "var t = clock(); print t > 0;", "true\n")
}

func TestRunRuntimeErrors(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"print -true;", "operand must be a number"},
		{`print 1 + "a";`, "operands must be numbers"},
		{`print "a" < "b";`, "operands must be numbers"},
		{"print missing;", "undefined variable 'missing'"},
		{"missing = 1;", "undefined variable 'missing'"},
		{"var a = 1; a();", "can only call functions and structs"},
		{"fun f(a) {} f();", "expected 1 arguments but got 0"},
		{"clock(1);", "expected 0 arguments but got 1"},
		{"fun r() { r(); } r();", "stack overflow"},
		{"var n = 1; print n.x;", "only instances have properties"},
		{"var n = 1; n.x = 2;", "only instances have fields"},
		{"struct S {} var s = S(); print s.y;", "undefined property 'y'"},
	}

	for _, tc := range tests {
		expectRuntimeError(t, tc.src, tc.want)
	}
}

func TestRunOutputBeforeErrorIsKept(t *testing.T) {
	out, err := runSource(t, "print 1; print -nil; print 2;")
	if err == nil {
		t.Fatal("expected runtime error")
	}
	if out != "1\n" {
		t.Errorf("output = %q, want %q", out, "1\n")
	}
}

func TestRunErrorTrace(t *testing.T) {
	rerr := expectRuntimeError(t, "fun f() {\n  return -nil;\n}\nf();", "operand must be a number")
	if len(rerr.Trace) != 2 {
		t.Fatalf("trace = %v, want 2 frames", rerr.Trace)
	}
	if rerr.Trace[0].Function != "f" || rerr.Trace[0].Line != 2 {
		t.Errorf("trace[0] = %v, want line 2 in f", rerr.Trace[0])
	}
	if rerr.Trace[1].Function != "script" || rerr.Trace[1].Line != 4 {
		t.Errorf("trace[1] = %v, want line 4 in script", rerr.Trace[1])
	}
	want := "operand must be a number\n[line 2] in f()\n[line 4] in script"
	if rerr.Error() != want {
		t.Errorf("Error() = %q, want %q", rerr.Error(), want)
	}
}

func TestRunCompileErrorPreventsExecution(t *testing.T) {
	out, err := runSource(t, "print 1; print ;")
	var list ErrorList
	if !errors.As(err, &list) {
		t.Fatalf("error = %v, want compile errors", err)
	}
	if out != "" {
		t.Errorf("output = %q, want nothing", out)
	}
}

func TestRunGlobalsPersistAcrossInterpret(t *testing.T) {
	var out bytes.Buffer
	machine := newTestVM(&out)
	if err := machine.Interpret("var a = 40;"); err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if err := machine.Interpret("fun inc(x) { return x + 1; }"); err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if err := machine.Interpret("print inc(a + 1);"); err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if out.String() != "42\n" {
		t.Errorf("output = %q", out.String())
	}

	names := strings.Join(machine.Globals(), ",")
	if names != "a,clock,inc" {
		t.Errorf("Globals() = %s", names)
	}
}

func TestRunVMReusableAfterError(t *testing.T) {
	var out bytes.Buffer
	machine := newTestVM(&out)
	if err := machine.Interpret("fun f() { return -nil; } f();"); err == nil {
		t.Fatal("expected runtime error")
	}
	if machine.StackDepth() != 0 {
		t.Errorf("stack depth after error = %d", machine.StackDepth())
	}
	if err := machine.Interpret("print 5;"); err != nil {
		t.Fatalf("Interpret after error: %v", err)
	}
	if out.String() != "5\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunStackIsEmptyAfterSuccess(t *testing.T) {
	var out bytes.Buffer
	machine := newTestVM(&out)
	src := "{ var a = 1; fun f() { return a; } print f(); } for (var i = 0; i < 2; i = i + 1) {}"
	if err := machine.Interpret(src); err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if machine.StackDepth() != 0 {
		t.Errorf("stack depth = %d, want 0", machine.StackDepth())
	}
}

func TestRunMaxFramesOption(t *testing.T) {
	var out bytes.Buffer
	src := "fun down(n) { if (n == 0) return 0; return down(n - 1); } print down(10);"

	if err := newTestVM(&out, vm.WithMaxFrames(8)).Interpret(src); err == nil {
		t.Error("expected stack overflow with 8 frames")
	}

	out.Reset()
	if err := newTestVM(&out, vm.WithMaxFrames(32)).Interpret(src); err != nil {
		t.Fatalf("Interpret with 32 frames: %v", err)
	}
	if out.String() != "0\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunValueStackOverflow(t *testing.T) {
	var out bytes.Buffer
	machine := newTestVM(&out, vm.WithStackSize(4))
	err := machine.Interpret("print 1 + (2 + (3 + (4 + 5)));")
	var rerr *vm.RuntimeError
	if !errors.As(err, &rerr) || rerr.Msg != "stack overflow" {
		t.Fatalf("error = %v, want stack overflow", err)
	}
}

func TestRunNativeFunction(t *testing.T) {
	var out bytes.Buffer
	machine := newTestVM(&out)
	machine.DefineNative("sum", -1, func(argCount int, args []vm.Value) (vm.Value, error) {
		total := 0.0
		for _, a := range args {
			if !a.IsNumber() {
				return vm.Nil, errors.New("arguments must be numbers")
			}
			total += a.AsNumber()
		}
		return vm.Number(total), nil
	})

	if err := machine.Interpret("print sum(); print sum(1, 2, 3);"); err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if out.String() != "0\n6\n" {
		t.Errorf("output = %q", out.String())
	}

	err := machine.Interpret(`sum(1, "x");`)
	var rerr *vm.RuntimeError
	if !errors.As(err, &rerr) || rerr.Msg != "sum: arguments must be numbers" {
		t.Errorf("error = %v", err)
	}
}
