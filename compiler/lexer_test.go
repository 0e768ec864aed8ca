package compiler

import (
	"testing"
)

func TestLexerBasicTokens(t *testing.T) {
	input := `( ) { } , . - + ; / * % ! != = == < <= > >=`
	expected := []struct {
		typ TokenType
		lit string
	}{
		{TokenLParen, "("},
		{TokenRParen, ")"},
		{TokenLBrace, "{"},
		{TokenRBrace, "}"},
		{TokenComma, ","},
		{TokenDot, "."},
		{TokenMinus, "-"},
		{TokenPlus, "+"},
		{TokenSemicolon, ";"},
		{TokenSlash, "/"},
		{TokenStar, "*"},
		{TokenPercent, "%"},
		{TokenBang, "!"},
		{TokenBangEqual, "!="},
		{TokenEqual, "="},
		{TokenEqualEqual, "=="},
		{TokenLess, "<"},
		{TokenLessEqual, "<="},
		{TokenGreater, ">"},
		{TokenGreaterEqual, ">="},
		{TokenEOF, ""},
	}

	l := NewLexer(input)
	for i, exp := range expected {
		tok := l.NextToken()
		if tok.Type != exp.typ {
			t.Errorf("token[%d] type = %v, want %v", i, tok.Type, exp.typ)
		}
		if tok.Literal != exp.lit {
			t.Errorf("token[%d] literal = %q, want %q", i, tok.Literal, exp.lit)
		}
	}
}

func TestLexerKeywordsAndIdentifiers(t *testing.T) {
	tests := []struct {
		input string
		typ   TokenType
	}{
		{"and", TokenAnd},
		{"else", TokenElse},
		{"false", TokenFalse},
		{"for", TokenFor},
		{"fun", TokenFun},
		{"if", TokenIf},
		{"nil", TokenNil},
		{"or", TokenOr},
		{"print", TokenPrint},
		{"return", TokenReturn},
		{"struct", TokenStruct},
		{"true", TokenTrue},
		{"var", TokenVar},
		{"while", TokenWhile},
		{"foo", TokenIdentifier},
		{"_bar9", TokenIdentifier},
		{"printer", TokenIdentifier},
		{"Struct", TokenIdentifier},
	}

	for _, tc := range tests {
		tok := NewLexer(tc.input).NextToken()
		if tok.Type != tc.typ {
			t.Errorf("Lexer(%q): type = %v, want %v", tc.input, tok.Type, tc.typ)
		}
		if tok.Literal != tc.input {
			t.Errorf("Lexer(%q): literal = %q", tc.input, tok.Literal)
		}
	}
}

func TestLexerNumbers(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"42", "42"},
		{"0", "0"},
		{"3.14", "3.14"},
		{"10.", "10"}, // trailing dot is a separate token
	}

	for _, tc := range tests {
		tok := NewLexer(tc.input).NextToken()
		if tok.Type != TokenNumber {
			t.Errorf("Lexer(%q): type = %v, want NUMBER", tc.input, tok.Type)
		}
		if tok.Literal != tc.want {
			t.Errorf("Lexer(%q): literal = %q, want %q", tc.input, tok.Literal, tc.want)
		}
	}
}

func TestLexerStrings(t *testing.T) {
	tok := NewLexer(`"hello world"`).NextToken()
	if tok.Type != TokenString || tok.Literal != "hello world" {
		t.Fatalf("got %v, want STRING(\"hello world\")", tok)
	}

	tok = NewLexer("\"two\nlines\"").NextToken()
	if tok.Type != TokenString || tok.Literal != "two\nlines" {
		t.Fatalf("multi-line string: got %v", tok)
	}

	tok = NewLexer(`"open`).NextToken()
	if tok.Type != TokenError {
		t.Fatalf("unterminated string: got %v, want ERROR", tok)
	}
	if tok.Literal != "unterminated string" {
		t.Errorf("unterminated string message = %q", tok.Literal)
	}
}

func TestLexerComments(t *testing.T) {
	tokens := Tokenize("var x; // the rest is ignored ;;;\nprint x;")
	var types []TokenType
	for _, tok := range tokens {
		types = append(types, tok.Type)
	}
	want := []TokenType{
		TokenVar, TokenIdentifier, TokenSemicolon,
		TokenPrint, TokenIdentifier, TokenSemicolon,
		TokenEOF,
	}
	if len(types) != len(want) {
		t.Fatalf("got %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("token[%d] = %v, want %v", i, types[i], want[i])
		}
	}
}

func TestLexerPositions(t *testing.T) {
	tokens := Tokenize("var a;\n  print a;")
	// print is on line 2, column 3.
	tok := tokens[3]
	if tok.Type != TokenPrint {
		t.Fatalf("tokens[3] = %v, want print", tok)
	}
	if tok.Pos.Line != 2 || tok.Pos.Column != 3 {
		t.Errorf("print position = %d:%d, want 2:3", tok.Pos.Line, tok.Pos.Column)
	}
	if tok.Pos.Offset != 9 {
		t.Errorf("print offset = %d, want 9", tok.Pos.Offset)
	}

	eof := tokens[len(tokens)-1]
	if eof.Type != TokenEOF || eof.Pos.Line != 2 {
		t.Errorf("EOF = %v at line %d", eof, eof.Pos.Line)
	}
}

func TestLexerUnexpectedCharacter(t *testing.T) {
	tokens := Tokenize("var @ = 1;")
	if tokens[1].Type != TokenError {
		t.Fatalf("tokens[1] = %v, want ERROR", tokens[1])
	}
	if tokens[1].Pos.Column != 5 {
		t.Errorf("error column = %d, want 5", tokens[1].Pos.Column)
	}
	if tokens[2].Type != TokenEqual {
		t.Errorf("lexing did not resume after the bad character: %v", tokens[2])
	}
}
