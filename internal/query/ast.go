// Package query implements SnelDB's WHERE-clause AST, the FilterGroup
// ADT compiled from it, index strategy selection, zone collection, and
// query execution (spec.md §4.7-§4.10).
package query

import "github.com/sneldb/sneldb/internal/event"

// CompareOp is a WHERE-clause comparison operator.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

// Expr is a WHERE-clause expression node.
type Expr interface {
	isExpr()
}

// Compare is a leaf predicate: field op value.
type Compare struct {
	Field string
	Op    CompareOp
	Value event.Scalar
}

// In expands to an Or of equality comparisons at build time.
type In struct {
	Field  string
	Values []event.Scalar
}

// And is a conjunction of children.
type And struct {
	Children []Expr
}

// Or is a disjunction of children.
type Or struct {
	Children []Expr
}

// Not negates its child.
type Not struct {
	Child Expr
}

func (Compare) isExpr() {}
func (In) isExpr()      {}
func (And) isExpr()     {}
func (Or) isExpr()      {}
func (Not) isExpr()     {}

// Command is the query entry point spec.md §4.7 describes: `{ event_type,
// context_id?, since?, time_field?, where_clause? }`.
type Command struct {
	EventType string
	ContextID *string
	Since     *int64
	TimeField string
	Where     Expr
}
