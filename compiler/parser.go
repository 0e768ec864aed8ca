package compiler

import (
	"fmt"
	"strconv"
)

// MaxArgs bounds the argument count of a call and the parameter count of a
// function.
const MaxArgs = 8

// ---------------------------------------------------------------------------
// Parser: Pratt parser for tern
// ---------------------------------------------------------------------------

// Parser parses tern source code into an AST.
type Parser struct {
	lexer     *Lexer
	prevToken Token
	curToken  Token
	errors    ErrorList
	panicMode bool // suppresses cascading errors until synchronize
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	p.nextToken()
	return p
}

// Parse parses a whole program. Any syntax error is reported as an
// ErrorList and no statements are returned.
func Parse(input string) ([]Stmt, error) {
	p := NewParser(input)
	stmts := p.ParseProgram()
	if err := p.errors.Err(); err != nil {
		return nil, err
	}
	return stmts, nil
}

// ParseProgram parses declarations until EOF.
func (p *Parser) ParseProgram() []Stmt {
	var stmts []Stmt
	for !p.curTokenIs(TokenEOF) {
		if s := p.declaration(); s != nil {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() ErrorList {
	return p.errors
}

// nextToken advances to the next token, reporting lexer errors.
func (p *Parser) nextToken() {
	p.prevToken = p.curToken
	for {
		p.curToken = p.lexer.NextToken()
		if p.curToken.Type != TokenError {
			return
		}
		p.errorAt(p.curToken, p.curToken.Literal)
	}
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// match consumes the current token if it has the given type.
func (p *Parser) match(t TokenType) bool {
	if !p.curTokenIs(t) {
		return false
	}
	p.nextToken()
	return true
}

// expect consumes a token of the given type or records msg.
func (p *Parser) expect(t TokenType, msg string) Token {
	if p.curTokenIs(t) {
		p.nextToken()
		return p.prevToken
	}
	p.errorAt(p.curToken, msg)
	return p.curToken
}

// errorAt records a parse error unless the parser is already recovering.
func (p *Parser) errorAt(tok Token, msg string) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	p.errors = append(p.errors, &Error{Pos: tok.Pos, Msg: msg})
}

// synchronize skips tokens until a likely statement boundary.
func (p *Parser) synchronize() {
	p.panicMode = false
	for !p.curTokenIs(TokenEOF) {
		if p.prevToken.Type == TokenSemicolon {
			return
		}
		switch p.curToken.Type {
		case TokenStruct, TokenFun, TokenVar, TokenFor, TokenIf, TokenWhile, TokenPrint, TokenReturn:
			return
		}
		p.nextToken()
	}
}

// span returns the span from start to the end of the previous token.
func (p *Parser) span(start Position) Span {
	return Span{Start: start, End: tokenEnd(p.prevToken)}
}

// tokenEnd returns the position just past tok.
func tokenEnd(tok Token) Position {
	n := len(tok.Literal)
	switch tok.Type {
	case TokenString:
		n += 2
	case TokenError, TokenEOF:
		n = 1
	}
	return Position{Offset: tok.Pos.Offset + n, Line: tok.Pos.Line, Column: tok.Pos.Column + n}
}

// startOf returns the start of e, or fallback when e is missing after an
// error.
func startOf(e Expr, fallback Position) Position {
	if e == nil {
		return fallback
	}
	return e.Span().Start
}

// ---------------------------------------------------------------------------
// Declarations and statements
// ---------------------------------------------------------------------------

func (p *Parser) declaration() Stmt {
	var s Stmt
	switch {
	case p.match(TokenStruct):
		s = p.structDeclaration()
	case p.match(TokenFun):
		s = p.funDeclaration()
	case p.match(TokenVar):
		s = p.varDeclaration()
	default:
		s = p.statement()
	}
	if p.panicMode {
		p.synchronize()
	}
	return s
}

func (p *Parser) structDeclaration() Stmt {
	start := p.prevToken.Pos
	name := p.expect(TokenIdentifier, "expect struct name")
	p.expect(TokenLBrace, "expect '{' before struct body")
	p.expect(TokenRBrace, "expect '}' after struct body")
	return &StructStmt{SpanVal: p.span(start), Name: name.Literal}
}

func (p *Parser) funDeclaration() Stmt {
	start := p.prevToken.Pos
	name := p.expect(TokenIdentifier, "expect function name")
	p.expect(TokenLParen, "expect '(' after function name")

	var params []string
	if !p.curTokenIs(TokenRParen) {
		for {
			if len(params) >= MaxArgs {
				p.errorAt(p.curToken, fmt.Sprintf("can't have more than %d parameters", MaxArgs))
			}
			param := p.expect(TokenIdentifier, "expect parameter name")
			params = append(params, param.Literal)
			if !p.match(TokenComma) {
				break
			}
		}
	}
	p.expect(TokenRParen, "expect ')' after parameters")
	p.expect(TokenLBrace, "expect '{' before function body")
	body := p.block()

	return &FunStmt{SpanVal: p.span(start), Name: name.Literal, Params: params, Body: body}
}

func (p *Parser) varDeclaration() Stmt {
	start := p.prevToken.Pos
	name := p.expect(TokenIdentifier, "expect variable name")
	var initializer Expr
	if p.match(TokenEqual) {
		initializer = p.expression()
	}
	p.expect(TokenSemicolon, "expect ';' after variable declaration")
	return &VarStmt{SpanVal: p.span(start), Name: name.Literal, Init: initializer}
}

func (p *Parser) statement() Stmt {
	switch {
	case p.match(TokenPrint):
		return p.printStatement()
	case p.match(TokenIf):
		return p.ifStatement()
	case p.match(TokenWhile):
		return p.whileStatement()
	case p.match(TokenFor):
		return p.forStatement()
	case p.match(TokenReturn):
		return p.returnStatement()
	case p.match(TokenLBrace):
		start := p.prevToken.Pos
		stmts := p.block()
		return &BlockStmt{SpanVal: p.span(start), Stmts: stmts}
	}
	return p.expressionStatement()
}

// block parses declarations up to the closing brace. The opening brace
// has been consumed.
func (p *Parser) block() []Stmt {
	var stmts []Stmt
	for !p.curTokenIs(TokenRBrace) && !p.curTokenIs(TokenEOF) {
		if s := p.declaration(); s != nil {
			stmts = append(stmts, s)
		}
	}
	p.expect(TokenRBrace, "expect '}' after block")
	return stmts
}

func (p *Parser) printStatement() Stmt {
	start := p.prevToken.Pos
	value := p.expression()
	p.expect(TokenSemicolon, "expect ';' after value")
	return &PrintStmt{SpanVal: p.span(start), Expr: value}
}

func (p *Parser) ifStatement() Stmt {
	start := p.prevToken.Pos
	p.expect(TokenLParen, "expect '(' after 'if'")
	cond := p.expression()
	p.expect(TokenRParen, "expect ')' after condition")

	then := p.statement()
	var els Stmt
	if p.match(TokenElse) {
		els = p.statement()
	}
	return &IfStmt{SpanVal: p.span(start), Cond: cond, Then: then, Else: els}
}

func (p *Parser) whileStatement() Stmt {
	start := p.prevToken.Pos
	p.expect(TokenLParen, "expect '(' after 'while'")
	cond := p.expression()
	p.expect(TokenRParen, "expect ')' after condition")
	body := p.statement()
	return &WhileStmt{SpanVal: p.span(start), Cond: cond, Body: body}
}

func (p *Parser) forStatement() Stmt {
	start := p.prevToken.Pos
	p.expect(TokenLParen, "expect '(' after 'for'")

	var initializer Stmt
	switch {
	case p.match(TokenSemicolon):
	case p.match(TokenVar):
		initializer = p.varDeclaration()
	default:
		initializer = p.expressionStatement()
	}

	var cond Expr
	if !p.curTokenIs(TokenSemicolon) {
		cond = p.expression()
	}
	p.expect(TokenSemicolon, "expect ';' after loop condition")

	var incr Expr
	if !p.curTokenIs(TokenRParen) {
		incr = p.expression()
	}
	p.expect(TokenRParen, "expect ')' after for clauses")

	body := p.statement()
	return &ForStmt{SpanVal: p.span(start), Init: initializer, Cond: cond, Incr: incr, Body: body}
}

func (p *Parser) returnStatement() Stmt {
	start := p.prevToken.Pos
	var value Expr
	if !p.curTokenIs(TokenSemicolon) {
		value = p.expression()
	}
	p.expect(TokenSemicolon, "expect ';' after return value")
	return &ReturnStmt{SpanVal: p.span(start), Value: value}
}

func (p *Parser) expressionStatement() Stmt {
	start := p.curToken.Pos
	e := p.expression()
	p.expect(TokenSemicolon, "expect ';' after expression")
	return &ExprStmt{SpanVal: p.span(start), Expr: e}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

type precedence int

const (
	precNone precedence = iota
	precAssignment // =
	precOr         // or
	precAnd        // and
	precEquality   // == !=
	precComparison // < > <= >=
	precTerm       // + -
	precFactor     // * /
	precUnary      // ! -
	precCall       // . ()
	precPrimary
)

type (
	prefixFn func(p *Parser, canAssign bool) Expr
	infixFn  func(p *Parser, left Expr, canAssign bool) Expr
)

type parseRule struct {
	prefix prefixFn
	infix  infixFn
	prec   precedence
}

// rules is filled in init because the parse functions refer back to it.
var rules map[TokenType]parseRule

func init() {
	rules = map[TokenType]parseRule{
		TokenLParen:       {(*Parser).grouping, (*Parser).call, precCall},
		TokenDot:          {nil, (*Parser).dot, precCall},
		TokenMinus:        {(*Parser).unary, (*Parser).binary, precTerm},
		TokenPlus:         {nil, (*Parser).binary, precTerm},
		TokenSlash:        {nil, (*Parser).binary, precFactor},
		TokenStar:         {nil, (*Parser).binary, precFactor},
		TokenBang:         {(*Parser).unary, nil, precNone},
		TokenBangEqual:    {nil, (*Parser).binary, precEquality},
		TokenEqualEqual:   {nil, (*Parser).binary, precEquality},
		TokenGreater:      {nil, (*Parser).binary, precComparison},
		TokenGreaterEqual: {nil, (*Parser).binary, precComparison},
		TokenLess:         {nil, (*Parser).binary, precComparison},
		TokenLessEqual:    {nil, (*Parser).binary, precComparison},
		TokenIdentifier:   {(*Parser).variable, nil, precNone},
		TokenString:       {(*Parser).str, nil, precNone},
		TokenNumber:       {(*Parser).number, nil, precNone},
		TokenAnd:          {nil, (*Parser).logical, precAnd},
		TokenOr:           {nil, (*Parser).logical, precOr},
		TokenFalse:        {(*Parser).literal, nil, precNone},
		TokenTrue:         {(*Parser).literal, nil, precNone},
		TokenNil:          {(*Parser).literal, nil, precNone},
	}
}

// ParseExpression parses a single expression.
func (p *Parser) ParseExpression() Expr {
	return p.expression()
}

func (p *Parser) expression() Expr {
	return p.parsePrecedence(precAssignment)
}

// parsePrecedence parses an expression whose operators bind at least as
// tightly as prec.
func (p *Parser) parsePrecedence(prec precedence) Expr {
	p.nextToken()
	prefix := rules[p.prevToken.Type].prefix
	if prefix == nil {
		p.errorAt(p.prevToken, "expect expression")
		return nil
	}

	canAssign := prec <= precAssignment
	left := prefix(p, canAssign)

	for prec <= rules[p.curToken.Type].prec {
		p.nextToken()
		left = rules[p.prevToken.Type].infix(p, left, canAssign)
	}

	if canAssign && p.curTokenIs(TokenEqual) {
		p.errorAt(p.curToken, "invalid assignment target")
		p.nextToken()
		p.expression()
	}
	return left
}

func (p *Parser) grouping(canAssign bool) Expr {
	e := p.expression()
	p.expect(TokenRParen, "expect ')' after expression")
	return e
}

func (p *Parser) unary(canAssign bool) Expr {
	op := p.prevToken
	operand := p.parsePrecedence(precUnary)
	return &Unary{SpanVal: p.span(op.Pos), Op: op.Type, Operand: operand}
}

func (p *Parser) binary(left Expr, canAssign bool) Expr {
	op := p.prevToken
	right := p.parsePrecedence(rules[op.Type].prec + 1)
	return &Binary{SpanVal: p.span(startOf(left, op.Pos)), Op: op.Type, Left: left, Right: right}
}

func (p *Parser) logical(left Expr, canAssign bool) Expr {
	op := p.prevToken
	right := p.parsePrecedence(rules[op.Type].prec + 1)
	return &Logical{SpanVal: p.span(startOf(left, op.Pos)), Op: op.Type, Left: left, Right: right}
}

func (p *Parser) number(canAssign bool) Expr {
	tok := p.prevToken
	v, err := strconv.ParseFloat(tok.Literal, 64)
	if err != nil {
		p.errorAt(tok, fmt.Sprintf("invalid number %q", tok.Literal))
	}
	return &NumberLiteral{SpanVal: p.span(tok.Pos), Value: v}
}

func (p *Parser) str(canAssign bool) Expr {
	tok := p.prevToken
	return &StringLiteral{SpanVal: p.span(tok.Pos), Value: tok.Literal}
}

func (p *Parser) literal(canAssign bool) Expr {
	tok := p.prevToken
	switch tok.Type {
	case TokenTrue:
		return &TrueLiteral{SpanVal: p.span(tok.Pos)}
	case TokenFalse:
		return &FalseLiteral{SpanVal: p.span(tok.Pos)}
	}
	return &NilLiteral{SpanVal: p.span(tok.Pos)}
}

func (p *Parser) variable(canAssign bool) Expr {
	name := p.prevToken
	if canAssign && p.match(TokenEqual) {
		value := p.expression()
		return &VarSet{SpanVal: p.span(name.Pos), Name: name.Literal, Value: value}
	}
	return &VarGet{SpanVal: p.span(name.Pos), Name: name.Literal}
}

func (p *Parser) call(callee Expr, canAssign bool) Expr {
	start := startOf(callee, p.prevToken.Pos)
	var args []Expr
	if !p.curTokenIs(TokenRParen) {
		for {
			if len(args) >= MaxArgs {
				p.errorAt(p.curToken, fmt.Sprintf("can't have more than %d arguments", MaxArgs))
			}
			args = append(args, p.expression())
			if !p.match(TokenComma) {
				break
			}
		}
	}
	p.expect(TokenRParen, "expect ')' after arguments")
	return &Call{SpanVal: p.span(start), Callee: callee, Args: args}
}

func (p *Parser) dot(object Expr, canAssign bool) Expr {
	start := startOf(object, p.prevToken.Pos)
	name := p.expect(TokenIdentifier, "expect property name after '.'")
	if canAssign && p.match(TokenEqual) {
		value := p.expression()
		return &Set{SpanVal: p.span(start), Object: object, Name: name.Literal, Value: value}
	}
	return &Get{SpanVal: p.span(start), Object: object, Name: name.Literal}
}
