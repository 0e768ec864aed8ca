package compiler

import (
	"fmt"

	"github.com/chazu/tern/vm"
)

// Per-function limits imposed by single-byte operands.
const (
	MaxLocals   = 256
	MaxUpvalues = 256
)

// ---------------------------------------------------------------------------
// Codegen: Compile AST to bytecode
// ---------------------------------------------------------------------------

// FunctionKind distinguishes the top-level script from function bodies.
type FunctionKind int

const (
	KindScript FunctionKind = iota
	KindFunction
)

type local struct {
	name     string
	depth    int
	captured bool // closed with CloseUpValue instead of Pop
}

type upvalueRef struct {
	index   byte
	isLocal bool // captures an enclosing local rather than an enclosing upvalue
}

// funcState is the compilation context of one function body.
type funcState struct {
	function   *vm.ObjFunction
	kind       FunctionKind
	locals     []local
	upvalues   []upvalueRef
	scopeDepth int
	names      map[string]byte // identifier constants already in the pool
}

func newFuncState(name string, kind FunctionKind) *funcState {
	return &funcState{
		function: vm.NewFunction(name),
		kind:     kind,
		// Slot 0 holds the callee and cannot be named.
		locals: []local{{name: "", depth: 0}},
		names:  make(map[string]byte),
	}
}

// bailout unwinds the compiler after the first error.
type bailout struct{}

// Compiler compiles AST nodes to bytecode.
type Compiler struct {
	contexts []*funcState // innermost last
	line     int
	err      *Error
}

// NewCompiler creates a new compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Compile parses and compiles source to its top-level function.
func Compile(source string) (*vm.ObjFunction, error) {
	stmts, err := Parse(source)
	if err != nil {
		return nil, err
	}
	return NewCompiler().CompileProgram(stmts)
}

// CompileProgram compiles a parsed program. Compilation stops at the first
// error, which is returned as an ErrorList.
func (c *Compiler) CompileProgram(stmts []Stmt) (fn *vm.ObjFunction, err error) {
	c.contexts = []*funcState{newFuncState("", KindScript)}
	c.err = nil
	c.line = 1

	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			fn, err = nil, ErrorList{c.err}
		}
	}()

	for _, s := range stmts {
		c.compileStmt(s)
	}
	return c.endFunction().function, nil
}

// errorf records the compile error and aborts compilation.
func (c *Compiler) errorf(n Node, format string, args ...any) {
	pos := Position{Line: c.line}
	if n != nil {
		pos = n.Span().Start
	}
	c.err = &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)}
	panic(bailout{})
}

func (c *Compiler) current() *funcState {
	return c.contexts[len(c.contexts)-1]
}

func (c *Compiler) chunk() *vm.Chunk {
	return c.current().function.Chunk
}

// at makes n the source of subsequently emitted bytes.
func (c *Compiler) at(n Node) {
	c.line = n.Span().Start.Line
}

// ---------------------------------------------------------------------------
// Emission helpers
// ---------------------------------------------------------------------------

func (c *Compiler) emit(op vm.Opcode, operands ...byte) {
	c.chunk().WriteOp(op, c.line, operands...)
}

func (c *Compiler) emitJump(op vm.Opcode) int {
	return c.chunk().EmitJump(op, c.line)
}

func (c *Compiler) patchJump(n Node, offset int) {
	if err := c.chunk().PatchJump(offset); err != nil {
		c.errorf(n, "%v", err)
	}
}

func (c *Compiler) emitLoop(n Node, loopStart int) {
	if err := c.chunk().EmitLoop(loopStart, c.line); err != nil {
		c.errorf(n, "%v", err)
	}
}

func (c *Compiler) makeConstant(n Node, v vm.Value) byte {
	idx, err := c.chunk().AddConstant(v)
	if err != nil {
		c.errorf(n, "%v", err)
	}
	return byte(idx)
}

func (c *Compiler) emitConstant(n Node, v vm.Value) {
	c.emit(vm.OpConstant, c.makeConstant(n, v))
}

// identifierConstant adds a name to the constant pool once per function.
func (c *Compiler) identifierConstant(n Node, name string) byte {
	fs := c.current()
	if idx, ok := fs.names[name]; ok {
		return idx
	}
	idx := c.makeConstant(n, vm.String(name))
	fs.names[name] = idx
	return idx
}

// endFunction finishes the innermost function with an implicit nil return
// and pops its context.
func (c *Compiler) endFunction() *funcState {
	c.emit(vm.OpNil)
	c.emit(vm.OpReturn)
	fs := c.current()
	fs.function.UpvalueCount = len(fs.upvalues)
	c.contexts = c.contexts[:len(c.contexts)-1]
	return fs
}

// ---------------------------------------------------------------------------
// Scopes and variables
// ---------------------------------------------------------------------------

func (c *Compiler) beginScope() {
	c.current().scopeDepth++
}

// endScope discards the locals of the innermost scope, closing any that a
// closure captured.
func (c *Compiler) endScope() {
	fs := c.current()
	fs.scopeDepth--
	for len(fs.locals) > 0 && fs.locals[len(fs.locals)-1].depth > fs.scopeDepth {
		if fs.locals[len(fs.locals)-1].captured {
			c.emit(vm.OpCloseUpValue)
		} else {
			c.emit(vm.OpPop)
		}
		fs.locals = fs.locals[:len(fs.locals)-1]
	}
}

// declareLocal declares name in the current scope without making it
// readable. Its value is the next one pushed.
func (c *Compiler) declareLocal(n Node, name string) {
	fs := c.current()
	for i := len(fs.locals) - 1; i >= 0; i-- {
		l := fs.locals[i]
		if l.depth != -1 && l.depth < fs.scopeDepth {
			break
		}
		if l.name == name {
			c.errorf(n, "already a variable named '%s' in this scope", name)
		}
	}
	if len(fs.locals) >= MaxLocals {
		c.errorf(n, "too many local variables in function")
	}
	fs.locals = append(fs.locals, local{name: name, depth: -1})
}

// markInitialized makes the most recently declared local readable.
func (c *Compiler) markInitialized() {
	fs := c.current()
	fs.locals[len(fs.locals)-1].depth = fs.scopeDepth
}

// addLocal declares name and marks it initialized in one step.
func (c *Compiler) addLocal(n Node, name string) {
	c.declareLocal(n, name)
	c.markInitialized()
}

// resolveLocal returns the slot of name in fs, or -1. Reading a local
// inside its own initializer is an error.
func (c *Compiler) resolveLocal(n Node, fs *funcState, name string) int {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].name == name {
			if fs.locals[i].depth == -1 {
				c.errorf(n, "can't read local variable '%s' in its own initializer", name)
			}
			return i
		}
	}
	return -1
}

// resolveUpvalue finds name in the functions enclosing contexts[depth] and
// threads it through every intermediate closure.
func (c *Compiler) resolveUpvalue(n Node, depth int, name string) int {
	if depth == 0 {
		return -1
	}
	enclosing := c.contexts[depth-1]
	if idx := c.resolveLocal(n, enclosing, name); idx != -1 {
		enclosing.locals[idx].captured = true
		return c.addUpvalue(n, c.contexts[depth], byte(idx), true)
	}
	if idx := c.resolveUpvalue(n, depth-1, name); idx != -1 {
		return c.addUpvalue(n, c.contexts[depth], byte(idx), false)
	}
	return -1
}

func (c *Compiler) addUpvalue(n Node, fs *funcState, index byte, isLocal bool) int {
	for i, up := range fs.upvalues {
		if up.index == index && up.isLocal == isLocal {
			return i
		}
	}
	if len(fs.upvalues) >= MaxUpvalues {
		c.errorf(n, "too many closure variables in function")
	}
	fs.upvalues = append(fs.upvalues, upvalueRef{index: index, isLocal: isLocal})
	return len(fs.upvalues) - 1
}

// namedVariable emits a read of name, or a write of the value on top of
// the stack when set is true.
func (c *Compiler) namedVariable(n Node, name string, set bool) {
	getOp, setOp := vm.OpGetGlobal, vm.OpSetGlobal
	var arg byte

	if idx := c.resolveLocal(n, c.current(), name); idx != -1 {
		getOp, setOp = vm.OpGetLocal, vm.OpSetLocal
		arg = byte(idx)
	} else if idx := c.resolveUpvalue(n, len(c.contexts)-1, name); idx != -1 {
		getOp, setOp = vm.OpGetUpValue, vm.OpSetUpValue
		arg = byte(idx)
	} else {
		arg = c.identifierConstant(n, name)
	}

	if set {
		c.emit(setOp, arg)
	} else {
		c.emit(getOp, arg)
	}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *Compiler) compileStmt(s Stmt) {
	c.at(s)
	switch n := s.(type) {
	case *ExprStmt:
		c.compileExpr(n.Expr)
		c.emit(vm.OpPop)

	case *PrintStmt:
		c.compileExpr(n.Expr)
		c.at(n)
		c.emit(vm.OpPrint)

	case *VarStmt:
		scoped := c.current().scopeDepth > 0
		if scoped {
			c.declareLocal(n, n.Name)
		}
		if n.Init != nil {
			c.compileExpr(n.Init)
		} else {
			c.emit(vm.OpNil)
		}
		c.at(n)
		if scoped {
			c.markInitialized()
		} else {
			c.emit(vm.OpDefineGlobal, c.identifierConstant(n, n.Name))
		}

	case *BlockStmt:
		c.beginScope()
		for _, st := range n.Stmts {
			c.compileStmt(st)
		}
		c.endScope()

	case *IfStmt:
		c.compileIf(n)

	case *WhileStmt:
		c.compileWhile(n)

	case *ForStmt:
		c.compileFor(n)

	case *FunStmt:
		c.compileFunction(n)

	case *ReturnStmt:
		if c.current().kind == KindScript {
			c.errorf(n, "can't return from top-level code")
		}
		if n.Value != nil {
			c.compileExpr(n.Value)
		} else {
			c.emit(vm.OpNil)
		}
		c.emit(vm.OpReturn)

	case *StructStmt:
		name := c.identifierConstant(n, n.Name)
		if c.current().scopeDepth > 0 {
			c.addLocal(n, n.Name)
			c.emit(vm.OpStruct, name)
			return
		}
		c.emit(vm.OpStruct, name)
		c.emit(vm.OpDefineGlobal, name)

	default:
		c.errorf(s, "unsupported statement %T", s)
	}
}

func (c *Compiler) compileIf(n *IfStmt) {
	c.compileExpr(n.Cond)
	c.at(n)
	thenJump := c.emitJump(vm.OpJumpIfFalse)
	c.emit(vm.OpPop)
	c.compileStmt(n.Then)

	elseJump := c.emitJump(vm.OpJump)
	c.patchJump(n, thenJump)
	c.emit(vm.OpPop)
	if n.Else != nil {
		c.compileStmt(n.Else)
	}
	c.patchJump(n, elseJump)
}

func (c *Compiler) compileWhile(n *WhileStmt) {
	loopStart := c.chunk().Len()
	c.compileExpr(n.Cond)
	c.at(n)
	exitJump := c.emitJump(vm.OpJumpIfFalse)
	c.emit(vm.OpPop)
	c.compileStmt(n.Body)
	c.emitLoop(n, loopStart)
	c.patchJump(n, exitJump)
	c.emit(vm.OpPop)
}

func (c *Compiler) compileFor(n *ForStmt) {
	c.beginScope()
	if n.Init != nil {
		c.compileStmt(n.Init)
	}

	loopStart := c.chunk().Len()
	exitJump := -1
	if n.Cond != nil {
		c.compileExpr(n.Cond)
		c.at(n)
		exitJump = c.emitJump(vm.OpJumpIfFalse)
		c.emit(vm.OpPop)
	}

	if n.Incr != nil {
		bodyJump := c.emitJump(vm.OpJump)
		incrStart := c.chunk().Len()
		c.compileExpr(n.Incr)
		c.emit(vm.OpPop)
		c.emitLoop(n, loopStart)
		loopStart = incrStart
		c.patchJump(n, bodyJump)
	}

	c.compileStmt(n.Body)
	c.emitLoop(n, loopStart)

	if exitJump != -1 {
		c.patchJump(n, exitJump)
		c.emit(vm.OpPop)
	}
	c.endScope()
}

// compileFunction compiles a function body in a fresh context and emits
// the closure that captures its upvalues.
func (c *Compiler) compileFunction(n *FunStmt) {
	// A local function is declared before its body so it can call itself.
	scoped := c.current().scopeDepth > 0
	if scoped {
		c.addLocal(n, n.Name)
	}

	c.contexts = append(c.contexts, newFuncState(n.Name, KindFunction))
	c.beginScope()
	for _, param := range n.Params {
		c.current().function.Arity++
		c.addLocal(n, param)
	}
	for _, st := range n.Body {
		c.compileStmt(st)
	}
	c.at(n)
	fs := c.endFunction()

	operands := []byte{c.makeConstant(n, vm.ObjVal(fs.function))}
	for _, up := range fs.upvalues {
		isLocal := byte(0)
		if up.isLocal {
			isLocal = 1
		}
		operands = append(operands, isLocal, up.index)
	}
	c.emit(vm.OpClosure, operands...)

	if !scoped {
		c.emit(vm.OpDefineGlobal, c.identifierConstant(n, n.Name))
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

var binaryOps = map[TokenType][]vm.Opcode{
	TokenPlus:         {vm.OpAdd},
	TokenMinus:        {vm.OpSubtract},
	TokenStar:         {vm.OpMultiply},
	TokenSlash:        {vm.OpDivide},
	TokenEqualEqual:   {vm.OpEqual},
	TokenBangEqual:    {vm.OpEqual, vm.OpNot},
	TokenGreater:      {vm.OpGreater},
	TokenGreaterEqual: {vm.OpLess, vm.OpNot},
	TokenLess:         {vm.OpLess},
	TokenLessEqual:    {vm.OpGreater, vm.OpNot},
}

func (c *Compiler) compileExpr(e Expr) {
	c.at(e)
	switch n := e.(type) {
	case *NumberLiteral:
		c.emitConstant(n, vm.Number(n.Value))

	case *StringLiteral:
		c.emitConstant(n, vm.String(n.Value))

	case *TrueLiteral:
		c.emitConstant(n, vm.True)

	case *FalseLiteral:
		c.emitConstant(n, vm.False)

	case *NilLiteral:
		c.emit(vm.OpNil)

	case *Unary:
		c.compileExpr(n.Operand)
		c.at(n)
		switch n.Op {
		case TokenMinus:
			c.emit(vm.OpNegate)
		case TokenBang:
			c.emit(vm.OpNot)
		default:
			c.errorf(n, "unknown unary operator %s", n.Op)
		}

	case *Binary:
		ops, ok := binaryOps[n.Op]
		if !ok {
			c.errorf(n, "unknown binary operator %s", n.Op)
		}
		c.compileExpr(n.Left)
		c.compileExpr(n.Right)
		c.at(n)
		for _, op := range ops {
			c.emit(op)
		}

	case *Logical:
		c.compileLogical(n)

	case *VarGet:
		c.namedVariable(n, n.Name, false)

	case *VarSet:
		c.compileExpr(n.Value)
		c.at(n)
		c.namedVariable(n, n.Name, true)

	case *Call:
		if len(n.Args) > MaxArgs {
			c.errorf(n, "can't have more than %d arguments", MaxArgs)
		}
		c.compileExpr(n.Callee)
		for _, arg := range n.Args {
			c.compileExpr(arg)
		}
		c.at(n)
		c.emit(vm.OpCall, byte(len(n.Args)))

	case *Get:
		c.compileExpr(n.Object)
		c.at(n)
		c.emit(vm.OpGetProperty, c.identifierConstant(n, n.Name))

	case *Set:
		c.compileExpr(n.Object)
		c.compileExpr(n.Value)
		c.at(n)
		c.emit(vm.OpSetProperty, c.identifierConstant(n, n.Name))

	default:
		c.errorf(e, "unsupported expression %T", e)
	}
}

// compileLogical short-circuits: the left operand is the result when it
// decides the outcome.
func (c *Compiler) compileLogical(n *Logical) {
	c.compileExpr(n.Left)
	c.at(n)
	if n.Op == TokenAnd {
		endJump := c.emitJump(vm.OpJumpIfFalse)
		c.emit(vm.OpPop)
		c.compileExpr(n.Right)
		c.patchJump(n, endJump)
		return
	}

	elseJump := c.emitJump(vm.OpJumpIfFalse)
	endJump := c.emitJump(vm.OpJump)
	c.patchJump(n, elseJump)
	c.emit(vm.OpPop)
	c.compileExpr(n.Right)
	c.patchJump(n, endJump)
}
