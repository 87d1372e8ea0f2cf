package filter

import (
	"fmt"
	"strings"
)

// AttrKey addresses one entry of an attribute map: a top-level SCIM
// attribute, an optional sub-attribute and an optional schema URI.
type AttrKey struct {
	Attr string
	Sub  string
	URI  string
}

// AttrMap maps SCIM attribute paths to fully-qualified column expressions.
// It is the seam between the backend-agnostic filter tree and a concrete
// schema; each entity type supplies its own map.
type AttrMap map[AttrKey]string

// UnsupportedAttributeError is returned when a filter references an
// attribute the target entity cannot be queried by.
type UnsupportedAttributeError struct {
	Attr string
}

func (e *UnsupportedAttributeError) Error() string {
	return fmt.Sprintf("unsupported filter attribute %q", e.Attr)
}

// CompileSQL compiles a filter tree into a parameterized WHERE fragment with
// '?' placeholders and the matching argument list. Callers rebind the
// fragment to their driver's placeholder style (sqlx.Rebind).
func CompileSQL(expr Expr, attrs AttrMap) (string, []any, error) {
	c := &sqlCompiler{attrs: attrs}
	sql, err := c.compile(expr)
	if err != nil {
		return "", nil, err
	}
	return sql, c.args, nil
}

type sqlCompiler struct {
	attrs AttrMap
	args  []any
}

func (c *sqlCompiler) compile(expr Expr) (string, error) {
	switch e := expr.(type) {
	case *LogicalExpr:
		left, err := c.compile(e.Left)
		if err != nil {
			return "", err
		}
		right, err := c.compile(e.Right)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s) %s (%s)", left, strings.ToUpper(string(e.Op)), right), nil
	case *NotExpr:
		inner, err := c.compile(e.Expr)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("NOT (%s)", inner), nil
	case *CompareExpr:
		return c.compileCompare(e)
	}
	return "", fmt.Errorf("unknown filter expression %T", expr)
}

func (c *sqlCompiler) compileCompare(e *CompareExpr) (string, error) {
	col, err := c.column(e)
	if err != nil {
		return "", err
	}

	switch e.Op {
	case OpPr:
		return col + " IS NOT NULL", nil
	case OpCo:
		c.args = append(c.args, e.Value)
		return col + " ILIKE '%' || ? || '%'", nil
	case OpSw:
		c.args = append(c.args, e.Value)
		return col + " ILIKE ? || '%'", nil
	case OpEw:
		c.args = append(c.args, e.Value)
		return col + " ILIKE '%' || ?", nil
	case OpEq, OpNe:
		cmp := "="
		if e.Op == OpNe {
			cmp = "<>"
		}
		c.args = append(c.args, e.Value)
		if _, isStr := e.Value.(string); isStr && !isCaseInsensitiveColumn(col) {
			return fmt.Sprintf("LOWER(%s) %s LOWER(?)", col, cmp), nil
		}
		return fmt.Sprintf("%s %s ?", col, cmp), nil
	case OpGt, OpGe, OpLt, OpLe:
		cmp := map[Operator]string{OpGt: ">", OpGe: ">=", OpLt: "<", OpLe: "<="}[e.Op]
		c.args = append(c.args, e.Value)
		return fmt.Sprintf("%s %s ?", col, cmp), nil
	}
	return "", fmt.Errorf("unknown comparison operator %q", e.Op)
}

// column resolves the comparison's attribute path through the attribute map.
// A sub-filter namespace takes the (namespace, attr) entry; a dotted path
// takes (head, tail); a plain attribute takes (attr, "").
func (c *sqlCompiler) column(e *CompareExpr) (string, error) {
	attr, sub := strings.ToLower(e.Attr), ""
	if e.Namespace != "" {
		attr, sub = strings.ToLower(e.Namespace), strings.ToLower(e.Attr)
	} else if head, tail, found := strings.Cut(attr, "."); found {
		attr, sub = head, tail
	}

	if col, ok := c.lookup(attr, sub); ok {
		return col, nil
	}
	// A bare sub-filter on the element value degrades to the list entry.
	if sub == "value" {
		if col, ok := c.lookup(attr, ""); ok {
			return col, nil
		}
	}
	full := attr
	if sub != "" {
		full = attr + "." + sub
	}
	return "", &UnsupportedAttributeError{Attr: full}
}

func (c *sqlCompiler) lookup(attr, sub string) (string, bool) {
	for key, col := range c.attrs {
		if strings.EqualFold(key.Attr, attr) && strings.EqualFold(key.Sub, sub) {
			return col, true
		}
	}
	return "", false
}

// citext columns compare case-insensitively on their own; JSON text
// extraction (->>) yields plain text and needs explicit folding.
func isCaseInsensitiveColumn(col string) bool {
	return !strings.Contains(col, "->>")
}
