package vm

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// VM: The tern Virtual Machine
// ---------------------------------------------------------------------------

// Defaults for the VM's fixed-size stacks.
const (
	DefaultMaxFrames = 64
	FrameSlots       = 256 // locals addressable by one frame
)

// CallFrame is one active function invocation. Slots is the frame's window
// onto the shared value stack; slot 0 holds the callee.
type CallFrame struct {
	Closure *ObjClosure
	IP      int
	Slots   []Value
	base    int
}

// VM executes compiled tern functions. A VM is single-threaded; globals
// persist across calls to Interpret and Run.
type VM struct {
	stack []Value
	sp    int

	frames     []CallFrame
	frameCount int

	globals      map[string]Value
	openUpvalues *ObjUpvalue // sorted by slot, highest first

	backend CompilerBackend
	out     io.Writer
	trace   bool
	log     commonlog.Logger

	instructionLimit int // per Run; 0 is unlimited
}

// Option configures a VM.
type Option func(*VM)

// WithMaxFrames sets the call depth limit. The value stack is sized to
// give every frame its full slot window.
func WithMaxFrames(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.frames = make([]CallFrame, n)
			if len(vm.stack) < n*FrameSlots {
				vm.stack = make([]Value, n*FrameSlots)
			}
		}
	}
}

// WithStackSize sets the value stack capacity.
func WithStackSize(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.stack = make([]Value, n)
		}
	}
}

// WithInstructionLimit aborts a Run or Interpret call with a runtime
// error once it has executed n instructions. Zero means no limit.
func WithInstructionLimit(n int) Option {
	return func(vm *VM) {
		if n >= 0 {
			vm.instructionLimit = n
		}
	}
}

// WithOutput redirects print statements.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) { vm.out = w }
}

// WithTrace logs every executed instruction at debug level.
func WithTrace(on bool) Option {
	return func(vm *VM) { vm.trace = on }
}

// WithLogger replaces the VM's logger.
func WithLogger(l commonlog.Logger) Option {
	return func(vm *VM) { vm.log = l }
}

// NewVM creates a VM with the clock native defined.
func NewVM(opts ...Option) *VM {
	vm := &VM{
		stack:   make([]Value, DefaultMaxFrames*FrameSlots),
		frames:  make([]CallFrame, DefaultMaxFrames),
		globals: make(map[string]Value),
		out:     os.Stdout,
		log:     commonlog.GetLogger("tern.vm"),
	}
	for _, opt := range opts {
		opt(vm)
	}
	vm.defineNatives()
	return vm
}

// SetOutput redirects print statements.
func (vm *VM) SetOutput(w io.Writer) {
	vm.out = w
}

// MaxFrames returns the call depth limit.
func (vm *VM) MaxFrames() int {
	return len(vm.frames)
}

// Interpret compiles source with the active backend and runs it.
func (vm *VM) Interpret(source string) error {
	fn, err := vm.Compile(source)
	if err != nil {
		return err
	}
	return vm.Run(fn)
}

// Run executes a compiled top-level function.
func (vm *VM) Run(fn *ObjFunction) error {
	vm.resetStack()
	closure := NewClosure(fn)
	vm.push(ObjVal(closure))
	if err := vm.call(closure, 0); err != nil {
		return err
	}
	return vm.run()
}

// Global returns the value bound to a global name.
func (vm *VM) Global(name string) (Value, bool) {
	v, ok := vm.globals[name]
	return v, ok
}

// SetGlobal binds a global name, defining it if needed.
func (vm *VM) SetGlobal(name string, v Value) {
	vm.globals[name] = v
}

// Globals returns the defined global names in sorted order.
func (vm *VM) Globals() []string {
	names := make([]string, 0, len(vm.globals))
	for name := range vm.globals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StackDepth returns the number of live stack slots. It is zero whenever
// the VM is idle.
func (vm *VM) StackDepth() int {
	return vm.sp
}

// ---------------------------------------------------------------------------
// Execution loop
// ---------------------------------------------------------------------------

func (vm *VM) run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(stackOverflow); !ok {
				panic(r)
			}
			err = vm.runtimeError("stack overflow")
		}
	}()

	frame := &vm.frames[vm.frameCount-1]
	executed := 0
	for {
		if vm.instructionLimit > 0 {
			if executed == vm.instructionLimit {
				return vm.runtimeError("instruction limit of %d exceeded", vm.instructionLimit)
			}
			executed++
		}
		if vm.trace {
			vm.traceInstruction(frame)
		}

		op := Opcode(vm.readByte(frame))
		switch op {
		case OpConstant:
			vm.push(vm.readConstant(frame))

		case OpNil:
			vm.push(Nil)

		case OpPop:
			vm.pop()

		case OpGetLocal:
			slot := vm.readByte(frame)
			vm.push(frame.Slots[slot])

		case OpSetLocal:
			slot := vm.readByte(frame)
			frame.Slots[slot] = vm.peek(0)

		case OpDefineGlobal:
			name := vm.readString(frame)
			vm.globals[name] = vm.peek(0)
			vm.pop()

		case OpGetGlobal:
			name := vm.readString(frame)
			v, ok := vm.globals[name]
			if !ok {
				return vm.runtimeError("undefined variable '%s'", name)
			}
			vm.push(v)

		case OpSetGlobal:
			name := vm.readString(frame)
			if _, ok := vm.globals[name]; !ok {
				return vm.runtimeError("undefined variable '%s'", name)
			}
			vm.globals[name] = vm.peek(0)

		case OpGetUpValue:
			idx := vm.readByte(frame)
			vm.push(frame.Closure.Upvalues[idx].Get())

		case OpSetUpValue:
			idx := vm.readByte(frame)
			frame.Closure.Upvalues[idx].Set(vm.peek(0))

		case OpCloseUpValue:
			vm.closeUpvalues(vm.sp - 1)
			vm.pop()

		case OpGetProperty:
			if !vm.peek(0).IsInstance() {
				return vm.runtimeError("only instances have properties")
			}
			inst := vm.peek(0).AsInstance()
			name := vm.readString(frame)
			v, ok := inst.Fields[name]
			if !ok {
				return vm.runtimeError("undefined property '%s'", name)
			}
			vm.pop()
			vm.push(v)

		case OpSetProperty:
			if !vm.peek(1).IsInstance() {
				return vm.runtimeError("only instances have fields")
			}
			inst := vm.peek(1).AsInstance()
			name := vm.readString(frame)
			inst.Fields[name] = vm.peek(0)
			v := vm.pop()
			vm.pop()
			vm.push(v)

		case OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(Bool(ValuesEqual(a, b)))

		case OpGreater, OpLess, OpAdd, OpSubtract, OpMultiply, OpDivide:
			if err := vm.binaryOp(op); err != nil {
				return err
			}

		case OpNot:
			vm.push(Bool(IsFalsey(vm.pop())))

		case OpNegate:
			if !vm.peek(0).IsNumber() {
				return vm.runtimeError("operand must be a number")
			}
			vm.push(Number(-vm.pop().AsNumber()))

		case OpPrint:
			fmt.Fprintln(vm.out, vm.pop().String())

		case OpJump:
			offset := vm.readShort(frame)
			frame.IP += int(offset)

		case OpJumpIfFalse:
			offset := vm.readShort(frame)
			if IsFalsey(vm.peek(0)) {
				frame.IP += int(offset)
			}

		case OpLoop:
			offset := vm.readShort(frame)
			frame.IP -= int(offset)

		case OpCall:
			argCount := int(vm.readByte(frame))
			if err := vm.callValue(vm.peek(argCount), argCount); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case OpClosure:
			fn := vm.readConstant(frame).AsFunction()
			closure := NewClosure(fn)
			vm.push(ObjVal(closure))
			for i := range closure.Upvalues {
				isLocal := vm.readByte(frame)
				index := int(vm.readByte(frame))
				if isLocal == 1 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.base + index)
				} else {
					closure.Upvalues[i] = frame.Closure.Upvalues[index]
				}
			}

		case OpStruct:
			vm.push(ObjVal(&ObjStruct{Name: vm.readString(frame)}))

		case OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.base)
			vm.frameCount--
			vm.sp = frame.base
			if vm.frameCount == 0 {
				return nil
			}
			vm.push(result)
			frame = &vm.frames[vm.frameCount-1]

		default:
			return vm.runtimeError("unknown opcode 0x%02X", byte(op))
		}
	}
}

func (vm *VM) binaryOp(op Opcode) error {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		return vm.runtimeError("operands must be numbers")
	}
	b := vm.pop().AsNumber()
	a := vm.pop().AsNumber()
	switch op {
	case OpGreater:
		vm.push(Bool(a > b))
	case OpLess:
		vm.push(Bool(a < b))
	case OpAdd:
		vm.push(Number(a + b))
	case OpSubtract:
		vm.push(Number(a - b))
	case OpMultiply:
		vm.push(Number(a * b))
	case OpDivide:
		vm.push(Number(a / b))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Stack and operand helpers
// ---------------------------------------------------------------------------

func (vm *VM) push(v Value) {
	if vm.sp >= len(vm.stack) {
		panic(stackOverflow{})
	}
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() Value {
	vm.sp--
	return vm.stack[vm.sp]
}

func (vm *VM) peek(distance int) Value {
	return vm.stack[vm.sp-1-distance]
}

func (vm *VM) resetStack() {
	vm.sp = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

func (vm *VM) readByte(frame *CallFrame) byte {
	b := frame.Closure.Function.Chunk.Code[frame.IP]
	frame.IP++
	return b
}

func (vm *VM) readShort(frame *CallFrame) uint16 {
	frame.IP += 2
	return frame.Closure.Function.Chunk.ReadUint16(frame.IP - 2)
}

func (vm *VM) readConstant(frame *CallFrame) Value {
	return frame.Closure.Function.Chunk.Constants[vm.readByte(frame)]
}

func (vm *VM) readString(frame *CallFrame) string {
	return vm.readConstant(frame).AsString().Chars
}

// runtimeError builds a RuntimeError with a trace of the active frames and
// resets the VM so it can be reused.
func (vm *VM) runtimeError(format string, args ...any) error {
	err := &RuntimeError{Msg: fmt.Sprintf(format, args...)}
	for i := vm.frameCount - 1; i >= 0; i-- {
		f := &vm.frames[i]
		fn := f.Closure.Function
		err.Trace = append(err.Trace, TraceLine{
			Line:     fn.Chunk.LineAt(f.IP - 1),
			Function: fn.DisplayName(),
		})
	}
	vm.resetStack()
	return err
}

func (vm *VM) traceInstruction(frame *CallFrame) {
	var sb strings.Builder
	for i := 0; i < vm.sp; i++ {
		fmt.Fprintf(&sb, "[ %s ]", vm.stack[i])
	}
	line, _ := DisassembleInstruction(frame.Closure.Function.Chunk, frame.IP)
	vm.log.Debugf("%s\n%s", sb.String(), line)
}
