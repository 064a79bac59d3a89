// Package expr parses the restricted method-chaining grammar used by the
// path transport:
//
//	chain   := segment ('.' segment)*
//	segment := identifier ('(' argList ')')?
//
// A segment followed immediately by '(' is always a call. Dotted access after
// a call is a lookup on that call's return value.
package expr

import (
	"github.com/lguibr/rpcactor/rpcerr"
)

// MaxSegments bounds the number of segments parsed from one expression.
// Longer chains are truncated.
const MaxSegments = 20

// Parser is a recursive-descent parser over Lexer tokens.
type Parser struct {
	lexer       *Lexer
	current     Token
	peek        Token
	maxSegments int
	truncated   bool
}

// NewParser creates a parser for src.
func NewParser(src string) *Parser {
	p := &Parser{lexer: NewLexer(src), maxSegments: MaxSegments}
	p.nextToken()
	p.nextToken()
	return p
}

// WithMaxSegments overrides the segment bound (values < 1 are ignored).
func (p *Parser) WithMaxSegments(n int) *Parser {
	if n > 0 {
		p.maxSegments = n
	}
	return p
}

// Truncated reports whether the last parse dropped trailing segments.
func (p *Parser) Truncated() bool { return p.truncated }

func (p *Parser) nextToken() {
	p.current = p.peek
	p.peek = p.lexer.NextToken()
}

func (p *Parser) currentTokenIs(t TokenType) bool { return p.current.Type == t }

func (p *Parser) peekTokenIs(t TokenType) bool { return p.peek.Type == t }

// expectPeek advances if the peek token matches the expected type.
func (p *Parser) expectPeek(t TokenType) error {
	if p.peekTokenIs(t) {
		p.nextToken()
		return nil
	}
	return p.unexpected(p.peek, t)
}

func (p *Parser) unexpected(tok Token, want TokenType) error {
	if tok.Type == TokenIllegal {
		return rpcerr.InvalidExpressionf("%s at offset %d", tok.Literal, tok.Pos)
	}
	if tok.Type == TokenEOF {
		return rpcerr.InvalidExpressionf("expected %s at end of expression", want)
	}
	return rpcerr.InvalidExpressionf("expected %s, got %s at offset %d", want, tok.Type, tok.Pos)
}

// Parse parses a whole chain.
func (p *Parser) Parse() (Node, error) {
	p.truncated = false
	if !p.currentTokenIs(TokenIdent) {
		return nil, p.unexpected(p.current, TokenIdent)
	}

	node, err := p.parseSegment(nil)
	if err != nil {
		return nil, err
	}

	for segments := 1; p.peekTokenIs(TokenDot); segments++ {
		if segments >= p.maxSegments {
			p.truncated = true
			return node, nil
		}
		p.nextToken() // '.'
		if err := p.expectPeek(TokenIdent); err != nil {
			return nil, err
		}
		if node, err = p.parseSegment(node); err != nil {
			return nil, err
		}
	}

	if !p.peekTokenIs(TokenEOF) {
		return nil, p.unexpected(p.peek, TokenDot)
	}
	return node, nil
}

// parseSegment parses the identifier in p.current and an optional argument
// list. object is the node the identifier is looked up on (nil at top level).
func (p *Parser) parseSegment(object Node) (Node, error) {
	var base Node
	if object == nil {
		base = &Identifier{Name: p.current.Literal}
	} else {
		base = &MemberAccess{Object: object, Name: p.current.Literal}
	}

	if !p.peekTokenIs(TokenArgs) {
		return base, nil
	}
	p.nextToken()
	args, err := ParseArgs(p.current.Literal)
	if err != nil {
		return nil, err
	}
	return &Call{Callee: base, Args: args}, nil
}

// Parse parses src into an AST.
func Parse(src string) (Node, error) {
	return NewParser(src).Parse()
}

// ParseChain parses src into its ordered operations.
func ParseChain(src string) ([]Operation, error) {
	node, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return Operations(node), nil
}
