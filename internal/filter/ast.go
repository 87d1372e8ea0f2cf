// Package filter implements the SCIM 2.0 filter language: a lexer and
// recursive-descent parser producing a small expression tree, plus two
// independent visitors over that tree, an in-memory evaluator for
// JSON-shaped records and a compiler to parameterized SQL fragments.
package filter

// Operator is a SCIM comparison operator.
type Operator string

const (
	OpEq Operator = "eq"
	OpNe Operator = "ne"
	OpCo Operator = "co"
	OpSw Operator = "sw"
	OpEw Operator = "ew"
	OpGt Operator = "gt"
	OpGe Operator = "ge"
	OpLt Operator = "lt"
	OpLe Operator = "le"
	OpPr Operator = "pr"
)

// LogicalOp joins two filter expressions.
type LogicalOp string

const (
	OpAnd LogicalOp = "and"
	OpOr  LogicalOp = "or"
)

// Expr is a node in a parsed filter tree. Expressions are immutable values;
// both Evaluate and CompileSQL walk them without modification.
type Expr interface {
	isExpr()
}

// CompareExpr is a single attribute comparison, e.g. `userName eq "jdoe"`.
// When the comparison came from a value sub-filter such as
// `members[value eq "x"]`, Namespace holds the outer attribute path
// ("members") and evaluation is restricted to elements of that list.
type CompareExpr struct {
	Attr      string
	Op        Operator
	Value     any
	Namespace string
}

// LogicalExpr is a short-circuiting `and`/`or` of two sub-expressions.
type LogicalExpr struct {
	Op    LogicalOp
	Left  Expr
	Right Expr
}

// NotExpr negates its inner expression.
type NotExpr struct {
	Expr Expr
}

func (*CompareExpr) isExpr() {}
func (*LogicalExpr) isExpr() {}
func (*NotExpr) isExpr()     {}
