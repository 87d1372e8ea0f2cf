package filter

import (
	"fmt"
	"strings"
)

// ParseError reports a malformed filter expression and where it went wrong.
type ParseError struct {
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("filter parse error at position %d: %s", e.Pos, e.Msg)
}

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenString
	tokenNumber
	tokenLParen
	tokenRParen
	tokenLBracket
	tokenRBracket
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lexer produces a deterministic token stream for a SCIM filter string.
// Keywords and operators are not distinguished here; the parser decides
// what an identifier means from its position.
type lexer struct {
	input string
	pos   int
}

func newLexer(input string) *lexer {
	return &lexer{input: input}
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) && isSpace(l.input[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{kind: tokenEOF, pos: l.pos}, nil
	}

	start := l.pos
	switch ch := l.input[l.pos]; {
	case ch == '(':
		l.pos++
		return token{kind: tokenLParen, text: "(", pos: start}, nil
	case ch == ')':
		l.pos++
		return token{kind: tokenRParen, text: ")", pos: start}, nil
	case ch == '[':
		l.pos++
		return token{kind: tokenLBracket, text: "[", pos: start}, nil
	case ch == ']':
		l.pos++
		return token{kind: tokenRBracket, text: "]", pos: start}, nil
	case ch == '"':
		return l.lexString()
	case isDigit(ch) || (ch == '-' && l.pos+1 < len(l.input) && isDigit(l.input[l.pos+1])):
		return l.lexNumber()
	case isIdentStart(ch):
		return l.lexIdent()
	default:
		return token{}, &ParseError{Pos: start, Msg: fmt.Sprintf("unexpected character %q", ch)}
	}
}

func (l *lexer) lexString() (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '"' {
			l.pos++
			return token{kind: tokenString, text: sb.String(), pos: start}, nil
		}
		if ch == '\\' && l.pos+1 < len(l.input) {
			l.pos++
			ch = l.input[l.pos]
		}
		sb.WriteByte(ch)
		l.pos++
	}
	return token{}, &ParseError{Pos: start, Msg: "unterminated string literal"}
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	if l.input[l.pos] == '-' {
		l.pos++
	}
	for l.pos < len(l.input) && (isDigit(l.input[l.pos]) || l.input[l.pos] == '.') {
		l.pos++
	}
	return token{kind: tokenNumber, text: l.input[start:l.pos], pos: start}, nil
}

func (l *lexer) lexIdent() (token, error) {
	start := l.pos
	for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
		l.pos++
	}
	return token{kind: tokenIdent, text: l.input[start:l.pos], pos: start}, nil
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

// Identifiers cover dotted paths (name.familyName) and schema URIs
// (urn:ietf:params:scim:schemas:core:2.0:User).
func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch) || ch == '.' || ch == '-' || ch == ':'
}
