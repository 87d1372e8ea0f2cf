package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse parses a SCIM filter expression into an expression tree. An empty
// input is rejected; callers that allow an absent filter should skip the
// call. All syntax problems are reported as a *ParseError with position.
func Parse(input string) (Expr, error) {
	p := &parser{lex: newLexer(input)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokenEOF {
		return nil, &ParseError{Pos: p.cur.pos, Msg: fmt.Sprintf("unexpected trailing input %q", p.cur.text)}
	}
	return expr, nil
}

type parser struct {
	lex *lexer
	cur token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &LogicalExpr{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &LogicalExpr{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.isKeyword("not") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Expr: inner}, nil
	}
	return p.parseAtom()
}

func (p *parser) parseAtom() (Expr, error) {
	switch p.cur.kind {
	case tokenLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokenRParen {
			return nil, &ParseError{Pos: p.cur.pos, Msg: "expected ')'"}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil
	case tokenIdent:
		return p.parseAttrExpr()
	default:
		return nil, &ParseError{Pos: p.cur.pos, Msg: "expected attribute path or '('"}
	}
}

func (p *parser) parseAttrExpr() (Expr, error) {
	attr := p.cur.text
	attrPos := p.cur.pos
	if err := p.advance(); err != nil {
		return nil, err
	}

	// Value sub-filter: attrPath "[" filter "]".
	if p.cur.kind == tokenLBracket {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokenRBracket {
			return nil, &ParseError{Pos: p.cur.pos, Msg: "expected ']'"}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return withNamespace(inner, attr), nil
	}

	if p.cur.kind != tokenIdent {
		return nil, &ParseError{Pos: p.cur.pos, Msg: fmt.Sprintf("expected operator after %q", attr)}
	}
	op, ok := lookupOperator(p.cur.text)
	if !ok {
		return nil, &ParseError{Pos: p.cur.pos, Msg: fmt.Sprintf("unknown operator %q", p.cur.text)}
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	// pr takes no right operand.
	if op == OpPr {
		return &CompareExpr{Attr: attr, Op: op}, nil
	}

	value, err := p.parseValue(attrPos)
	if err != nil {
		return nil, err
	}
	return &CompareExpr{Attr: attr, Op: op, Value: value}, nil
}

func (p *parser) parseValue(exprPos int) (any, error) {
	switch p.cur.kind {
	case tokenString:
		v := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return v, nil
	case tokenNumber:
		text := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if strings.Contains(text, ".") {
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, &ParseError{Pos: p.cur.pos, Msg: fmt.Sprintf("invalid number %q", text)}
			}
			return f, nil
		}
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, &ParseError{Pos: p.cur.pos, Msg: fmt.Sprintf("invalid number %q", text)}
		}
		return n, nil
	case tokenIdent:
		switch strings.ToLower(p.cur.text) {
		case "true":
			if err := p.advance(); err != nil {
				return nil, err
			}
			return true, nil
		case "false":
			if err := p.advance(); err != nil {
				return nil, err
			}
			return false, nil
		case "null":
			if err := p.advance(); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return nil, &ParseError{Pos: p.cur.pos, Msg: fmt.Sprintf("invalid value %q", p.cur.text)}
	default:
		return nil, &ParseError{Pos: exprPos, Msg: "missing comparison value"}
	}
}

func (p *parser) isKeyword(kw string) bool {
	return p.cur.kind == tokenIdent && strings.EqualFold(p.cur.text, kw)
}

func lookupOperator(text string) (Operator, bool) {
	switch Operator(strings.ToLower(text)) {
	case OpEq, OpNe, OpCo, OpSw, OpEw, OpGt, OpGe, OpLt, OpLe, OpPr:
		return Operator(strings.ToLower(text)), true
	}
	return "", false
}

// withNamespace rewrites every comparison in expr to evaluate relative to the
// list attribute at ns. Expressions are immutable, so rewritten nodes are
// fresh copies.
func withNamespace(expr Expr, ns string) Expr {
	switch e := expr.(type) {
	case *CompareExpr:
		return &CompareExpr{Attr: e.Attr, Op: e.Op, Value: e.Value, Namespace: ns}
	case *LogicalExpr:
		return &LogicalExpr{Op: e.Op, Left: withNamespace(e.Left, ns), Right: withNamespace(e.Right, ns)}
	case *NotExpr:
		return &NotExpr{Expr: withNamespace(e.Expr, ns)}
	}
	return expr
}
