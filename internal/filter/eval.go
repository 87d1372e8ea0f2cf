package filter

import (
	"fmt"
	"strings"
)

// Evaluate walks a parsed filter against a case-insensitive record view (see
// FoldRecord) and reports whether the record matches. It never panics on
// shape mismatches; a comparison against a value of the wrong shape is
// simply false.
func Evaluate(expr Expr, record map[string]any) bool {
	switch e := expr.(type) {
	case *LogicalExpr:
		if e.Op == OpAnd {
			return Evaluate(e.Left, record) && Evaluate(e.Right, record)
		}
		return Evaluate(e.Left, record) || Evaluate(e.Right, record)
	case *NotExpr:
		return !Evaluate(e.Expr, record)
	case *CompareExpr:
		return evalCompare(e, record)
	}
	return false
}

func evalCompare(c *CompareExpr, record map[string]any) bool {
	if c.Namespace != "" {
		return evalNamespaced(c, record)
	}

	path := strings.Split(strings.ToLower(c.Attr), ".")
	head, ok := record[path[0]]
	if !ok {
		return c.Op == OpNe
	}

	if list, isList := head.([]any); isList {
		return evalList(c, list, path[1:])
	}

	// Traverse the remaining path down to a scalar.
	value := head
	for _, part := range path[1:] {
		m, isMap := value.(map[string]any)
		if !isMap {
			return c.Op == OpNe
		}
		value = m[part]
	}
	return matchOp(c.Op, value, c.Value)
}

// evalNamespaced handles value sub-filters such as members[value eq "x"]:
// the expression matches if any element of the list at Namespace matches.
func evalNamespaced(c *CompareExpr, record map[string]any) bool {
	list, ok := record[strings.ToLower(c.Namespace)].([]any)
	if !ok {
		return false
	}
	attr := strings.ToLower(c.Attr)
	for _, elem := range list {
		target := elem
		if m, isMap := elem.(map[string]any); isMap {
			target = m[attr]
		} else if attr != "value" {
			continue
		}
		if matchOp(c.Op, target, c.Value) {
			return true
		}
	}
	return false
}

// evalList applies the comparison across list elements; a single matching
// element satisfies it. Without an explicit sub-field the conventional
// "value" sub-field of each element is compared.
func evalList(c *CompareExpr, list []any, rest []string) bool {
	if c.Op == OpPr && len(rest) == 0 {
		return len(list) > 0
	}
	sub := "value"
	if len(rest) > 0 {
		sub = rest[0]
	}
	for _, elem := range list {
		target := elem
		if m, isMap := elem.(map[string]any); isMap {
			target = m[sub]
		}
		if matchOp(c.Op, target, c.Value) {
			return true
		}
	}
	return false
}

func matchOp(op Operator, stored, operand any) bool {
	if op == OpPr {
		return present(stored)
	}
	if stored == nil {
		return op == OpNe && operand != nil
	}

	switch op {
	case OpEq:
		return foldEq(stored, operand)
	case OpNe:
		return !foldEq(stored, operand)
	case OpCo:
		return strings.Contains(foldString(stored), foldString(operand))
	case OpSw:
		return strings.HasPrefix(foldString(stored), foldString(operand))
	case OpEw:
		return strings.HasSuffix(foldString(stored), foldString(operand))
	case OpGt, OpGe, OpLt, OpLe:
		return compareOrdered(op, stored, operand)
	}
	return false
}

func present(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	default:
		return true
	}
}

// String operators compare case-insensitively regardless of the stored type.
func foldEq(a, b any) bool {
	return foldString(a) == foldString(b)
}

func foldString(v any) string {
	return strings.ToLower(fmt.Sprintf("%v", v))
}

// compareOrdered uses numeric order when both sides are numbers and
// lexicographic order when the stored value is a string.
func compareOrdered(op Operator, stored, operand any) bool {
	if sn, ok := toNumber(stored); ok {
		on, okOp := toNumber(operand)
		if !okOp {
			return false
		}
		switch op {
		case OpGt:
			return sn > on
		case OpGe:
			return sn >= on
		case OpLt:
			return sn < on
		case OpLe:
			return sn <= on
		}
	}
	s, t := fmt.Sprintf("%v", stored), fmt.Sprintf("%v", operand)
	switch op {
	case OpGt:
		return s > t
	case OpGe:
		return s >= t
	case OpLt:
		return s < t
	case OpLe:
		return s <= t
	}
	return false
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
