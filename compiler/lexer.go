package compiler

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for tern source
// ---------------------------------------------------------------------------

// Lexer tokenizes tern source code. Source is treated as bytes; only ASCII
// is significant outside string literals.
type Lexer struct {
	input     string
	pos       int  // current position in input
	readPos   int  // reading position (after current char)
	ch        byte // current character, 0 at EOF
	line      int  // current line (1-based)
	lineStart int  // offset of current line start
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
	}
	l.readChar()
	return l
}

// Tokenize returns every token of input, ending with TokenEOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens
		}
	}
}

// readChar advances to the next character, tracking line starts.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.lineStart = l.readPos
	}
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = len(l.input)
		l.readPos = len(l.input) + 1
		return
	}
	l.ch = l.input[l.readPos]
	l.pos = l.readPos
	l.readPos++
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// position returns the current position.
func (l *Lexer) position() Position {
	return Position{
		Offset: l.pos,
		Line:   l.line,
		Column: l.pos - l.lineStart + 1,
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	pos := l.position()
	if l.atEOF() {
		return Token{Type: TokenEOF, Pos: pos}
	}

	ch := l.ch
	switch {
	case isAlpha(ch):
		return l.readIdentifier(pos)
	case isDigit(ch):
		return l.readNumber(pos)
	case ch == '"':
		return l.readString(pos)
	}

	l.readChar()
	switch ch {
	case '(':
		return Token{Type: TokenLParen, Literal: "(", Pos: pos}
	case ')':
		return Token{Type: TokenRParen, Literal: ")", Pos: pos}
	case '{':
		return Token{Type: TokenLBrace, Literal: "{", Pos: pos}
	case '}':
		return Token{Type: TokenRBrace, Literal: "}", Pos: pos}
	case ',':
		return Token{Type: TokenComma, Literal: ",", Pos: pos}
	case '.':
		return Token{Type: TokenDot, Literal: ".", Pos: pos}
	case '-':
		return Token{Type: TokenMinus, Literal: "-", Pos: pos}
	case '+':
		return Token{Type: TokenPlus, Literal: "+", Pos: pos}
	case ';':
		return Token{Type: TokenSemicolon, Literal: ";", Pos: pos}
	case '/':
		return Token{Type: TokenSlash, Literal: "/", Pos: pos}
	case '*':
		return Token{Type: TokenStar, Literal: "*", Pos: pos}
	case '%':
		return Token{Type: TokenPercent, Literal: "%", Pos: pos}
	case '!':
		return l.either('=', TokenBangEqual, TokenBang, pos)
	case '=':
		return l.either('=', TokenEqualEqual, TokenEqual, pos)
	case '<':
		return l.either('=', TokenLessEqual, TokenLess, pos)
	case '>':
		return l.either('=', TokenGreaterEqual, TokenGreater, pos)
	}

	return Token{Type: TokenError, Literal: "unexpected character '" + string(ch) + "'", Pos: pos}
}

// either returns two if the current character is next, otherwise one.
// The first character has already been consumed.
func (l *Lexer) either(next byte, two, one TokenType, pos Position) Token {
	if l.ch == next && !l.atEOF() {
		l.readChar()
		return Token{Type: two, Literal: l.input[pos.Offset:l.pos], Pos: pos}
	}
	return Token{Type: one, Literal: l.input[pos.Offset:l.pos], Pos: pos}
}

// skipWhitespaceAndComments skips blanks, newlines and // comments.
func (l *Lexer) skipWhitespaceAndComments() {
	for !l.atEOF() {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\r' || l.ch == '\n':
			l.readChar()
		case l.ch == '/' && l.peekChar() == '/':
			for !l.atEOF() && l.ch != '\n' {
				l.readChar()
			}
		default:
			return
		}
	}
}

func (l *Lexer) readIdentifier(pos Position) Token {
	for !l.atEOF() && (isAlpha(l.ch) || isDigit(l.ch)) {
		l.readChar()
	}
	text := l.input[pos.Offset:l.pos]
	if typ, ok := Keywords[text]; ok {
		return Token{Type: typ, Literal: text, Pos: pos}
	}
	return Token{Type: TokenIdentifier, Literal: text, Pos: pos}
}

// readNumber reads digits with an optional fraction. A trailing dot is
// left for the next token.
func (l *Lexer) readNumber(pos Position) Token {
	for !l.atEOF() && isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for !l.atEOF() && isDigit(l.ch) {
			l.readChar()
		}
	}
	return Token{Type: TokenNumber, Literal: l.input[pos.Offset:l.pos], Pos: pos}
}

// readString reads a double-quoted string. Strings have no escapes and may
// span lines. The literal excludes the quotes.
func (l *Lexer) readString(pos Position) Token {
	l.readChar() // opening quote
	start := l.pos
	for !l.atEOF() && l.ch != '"' {
		l.readChar()
	}
	if l.atEOF() {
		return Token{Type: TokenError, Literal: "unterminated string", Pos: pos}
	}
	text := l.input[start:l.pos]
	l.readChar() // closing quote
	return Token{Type: TokenString, Literal: text, Pos: pos}
}

func isAlpha(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
