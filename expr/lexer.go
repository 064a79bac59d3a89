package expr

import "fmt"

// TokenType represents the type of a token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenIllegal
	TokenIdent
	TokenDot
	// TokenArgs carries the raw text between a balanced pair of parentheses.
	TokenArgs
)

var tokenNames = map[TokenType]string{
	TokenEOF:     "EOF",
	TokenIllegal: "ILLEGAL",
	TokenIdent:   "IDENT",
	TokenDot:     ".",
	TokenArgs:    "ARGS",
}

func (tt TokenType) String() string {
	if name, ok := tokenNames[tt]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(tt))
}

// Token is a lexical token with its byte offset in the source.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%d", t.Type, t.Literal, t.Pos)
}

// Lexer tokenizes a chaining expression.
type Lexer struct {
	input        string
	position     int  // current position in input (points to current char)
	readPosition int  // current reading position in input (after current char)
	ch           byte // current char under examination
}

// NewLexer creates a lexer over input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\r' || l.ch == '\n' {
		l.readChar()
	}
}

func (l *Lexer) atEOF() bool {
	return l.position >= len(l.input)
}

// NextToken scans the input and returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()
	start := l.position

	if l.atEOF() {
		return Token{Type: TokenEOF, Pos: start}
	}

	switch {
	case l.ch == '.':
		l.readChar()
		return Token{Type: TokenDot, Literal: ".", Pos: start}
	case l.ch == '(':
		return l.readArgs()
	case l.ch == ')':
		l.readChar()
		return Token{Type: TokenIllegal, Literal: "unbalanced ')'", Pos: start}
	case isIdentStart(l.ch):
		for isIdentPart(l.ch) && !l.atEOF() {
			l.readChar()
		}
		return Token{Type: TokenIdent, Literal: l.input[start:l.position], Pos: start}
	default:
		ch := l.ch
		l.readChar()
		return Token{Type: TokenIllegal, Literal: fmt.Sprintf("unexpected character %q", ch), Pos: start}
	}
}

// readArgs consumes a parenthesized argument list. Brackets nest, quoted
// strings (single or double) hide brackets, and a backslash escapes the next
// character inside a string.
func (l *Lexer) readArgs() Token {
	start := l.position
	l.readChar() // consume '('
	bodyStart := l.position

	stack := []byte{')'}
	var quote byte
	for !l.atEOF() {
		ch := l.ch
		switch {
		case quote != 0:
			if ch == '\\' {
				l.readChar()
			} else if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '(':
			stack = append(stack, ')')
		case ch == '{':
			stack = append(stack, '}')
		case ch == '[':
			stack = append(stack, ']')
		case ch == ')' || ch == '}' || ch == ']':
			if stack[len(stack)-1] != ch {
				l.readChar()
				return Token{Type: TokenIllegal, Literal: fmt.Sprintf("mismatched %q", ch), Pos: l.position - 1}
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				body := l.input[bodyStart:l.position]
				l.readChar() // consume ')'
				return Token{Type: TokenArgs, Literal: body, Pos: start}
			}
		}
		l.readChar()
	}

	if quote != 0 {
		return Token{Type: TokenIllegal, Literal: "unterminated string", Pos: start}
	}
	return Token{Type: TokenIllegal, Literal: "unbalanced '('", Pos: start}
}

func isIdentStart(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_' || ch == '$'
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || '0' <= ch && ch <= '9'
}
