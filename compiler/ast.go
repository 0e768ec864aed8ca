package compiler

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for tern
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// NumberLiteral represents a numeric literal.
type NumberLiteral struct {
	SpanVal Span
	Value   float64
}

func (n *NumberLiteral) Span() Span { return n.SpanVal }
func (n *NumberLiteral) node()      {}
func (n *NumberLiteral) expr()      {}

// StringLiteral represents a string literal.
type StringLiteral struct {
	SpanVal Span
	Value   string
}

func (n *StringLiteral) Span() Span { return n.SpanVal }
func (n *StringLiteral) node()      {}
func (n *StringLiteral) expr()      {}

// NilLiteral represents nil.
type NilLiteral struct {
	SpanVal Span
}

func (n *NilLiteral) Span() Span { return n.SpanVal }
func (n *NilLiteral) node()      {}
func (n *NilLiteral) expr()      {}

// TrueLiteral represents true.
type TrueLiteral struct {
	SpanVal Span
}

func (n *TrueLiteral) Span() Span { return n.SpanVal }
func (n *TrueLiteral) node()      {}
func (n *TrueLiteral) expr()      {}

// FalseLiteral represents false.
type FalseLiteral struct {
	SpanVal Span
}

func (n *FalseLiteral) Span() Span { return n.SpanVal }
func (n *FalseLiteral) node()      {}
func (n *FalseLiteral) expr()      {}

// Binary represents an arithmetic, comparison or equality expression.
type Binary struct {
	SpanVal Span
	Op      TokenType
	Left    Expr
	Right   Expr
}

func (n *Binary) Span() Span { return n.SpanVal }
func (n *Binary) node()      {}
func (n *Binary) expr()      {}

// Logical represents a short-circuiting and/or expression.
type Logical struct {
	SpanVal Span
	Op      TokenType // TokenAnd or TokenOr
	Left    Expr
	Right   Expr
}

func (n *Logical) Span() Span { return n.SpanVal }
func (n *Logical) node()      {}
func (n *Logical) expr()      {}

// Unary represents negation (-x) or logical not (!x).
type Unary struct {
	SpanVal Span
	Op      TokenType
	Operand Expr
}

func (n *Unary) Span() Span { return n.SpanVal }
func (n *Unary) node()      {}
func (n *Unary) expr()      {}

// VarGet represents a variable reference.
type VarGet struct {
	SpanVal Span
	Name    string
}

func (n *VarGet) Span() Span { return n.SpanVal }
func (n *VarGet) node()      {}
func (n *VarGet) expr()      {}

// VarSet represents assignment to a variable (x = value).
type VarSet struct {
	SpanVal Span
	Name    string
	Value   Expr
}

func (n *VarSet) Span() Span { return n.SpanVal }
func (n *VarSet) node()      {}
func (n *VarSet) expr()      {}

// Call represents a call expression (callee(args)).
type Call struct {
	SpanVal Span
	Callee  Expr
	Args    []Expr
}

func (n *Call) Span() Span { return n.SpanVal }
func (n *Call) node()      {}
func (n *Call) expr()      {}

// Get represents a property read (object.name).
type Get struct {
	SpanVal Span
	Object  Expr
	Name    string
}

func (n *Get) Span() Span { return n.SpanVal }
func (n *Get) node()      {}
func (n *Get) expr()      {}

// Set represents a property write (object.name = value).
type Set struct {
	SpanVal Span
	Object  Expr
	Name    string
	Value   Expr
}

func (n *Set) Span() Span { return n.SpanVal }
func (n *Set) node()      {}
func (n *Set) expr()      {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// ExprStmt is an expression evaluated for its side effects.
type ExprStmt struct {
	SpanVal Span
	Expr    Expr
}

func (n *ExprStmt) Span() Span { return n.SpanVal }
func (n *ExprStmt) node()      {}
func (n *ExprStmt) stmt()      {}

// PrintStmt prints the value of an expression.
type PrintStmt struct {
	SpanVal Span
	Expr    Expr
}

func (n *PrintStmt) Span() Span { return n.SpanVal }
func (n *PrintStmt) node()      {}
func (n *PrintStmt) stmt()      {}

// VarStmt declares a variable. Init is nil when there is no initializer.
type VarStmt struct {
	SpanVal Span
	Name    string
	Init    Expr
}

func (n *VarStmt) Span() Span { return n.SpanVal }
func (n *VarStmt) node()      {}
func (n *VarStmt) stmt()      {}

// BlockStmt is a braced list of statements with its own scope.
type BlockStmt struct {
	SpanVal Span
	Stmts   []Stmt
}

func (n *BlockStmt) Span() Span { return n.SpanVal }
func (n *BlockStmt) node()      {}
func (n *BlockStmt) stmt()      {}

// IfStmt is a conditional. Else is nil when there is no else branch.
type IfStmt struct {
	SpanVal Span
	Cond    Expr
	Then    Stmt
	Else    Stmt
}

func (n *IfStmt) Span() Span { return n.SpanVal }
func (n *IfStmt) node()      {}
func (n *IfStmt) stmt()      {}

// WhileStmt loops while its condition is truthy.
type WhileStmt struct {
	SpanVal Span
	Cond    Expr
	Body    Stmt
}

func (n *WhileStmt) Span() Span { return n.SpanVal }
func (n *WhileStmt) node()      {}
func (n *WhileStmt) stmt()      {}

// ForStmt is a C-style loop. Init, Cond and Incr may each be nil.
type ForStmt struct {
	SpanVal Span
	Init    Stmt
	Cond    Expr
	Incr    Expr
	Body    Stmt
}

func (n *ForStmt) Span() Span { return n.SpanVal }
func (n *ForStmt) node()      {}
func (n *ForStmt) stmt()      {}

// FunStmt declares a named function.
type FunStmt struct {
	SpanVal Span
	Name    string
	Params  []string
	Body    []Stmt
}

func (n *FunStmt) Span() Span { return n.SpanVal }
func (n *FunStmt) node()      {}
func (n *FunStmt) stmt()      {}

// ReturnStmt returns from a function. Value is nil for a bare return.
type ReturnStmt struct {
	SpanVal Span
	Value   Expr
}

func (n *ReturnStmt) Span() Span { return n.SpanVal }
func (n *ReturnStmt) node()      {}
func (n *ReturnStmt) stmt()      {}

// StructStmt declares a struct type.
type StructStmt struct {
	SpanVal Span
	Name    string
}

func (n *StructStmt) Span() Span { return n.SpanVal }
func (n *StructStmt) node()      {}
func (n *StructStmt) stmt()      {}
