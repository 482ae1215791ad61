// Package filter normalizes caller-supplied query descriptions (loopback-style
// "where" documents plus an order list) into a store-independent predicate
// tree that every docstore backend knows how to execute.
package filter

import (
	"fmt"
	"strings"
)

// Op identifies a predicate node.
type Op string

const (
	OpTrue   Op = "true"
	OpAnd    Op = "and"
	OpOr     Op = "or"
	OpEq     Op = "eq"
	OpNe     Op = "neq"
	OpGt     Op = "gt"
	OpGte    Op = "gte"
	OpLt     Op = "lt"
	OpLte    Op = "lte"
	OpIn     Op = "inq"
	OpNin    Op = "nin"
	OpExists Op = "exists"
	OpLike   Op = "like"
	OpILike  Op = "ilike"
)

// DeletedField is the soft-delete marker excluded by default.
const DeletedField = "deleted"

// Predicate is a node of the normalized predicate tree. Leaf nodes carry a
// dotted Field and a Value ([]any for inq/nin, bool for exists).
type Predicate struct {
	Op       Op          `json:"op"`
	Field    string      `json:"field,omitempty"`
	Value    any         `json:"value,omitempty"`
	Children []Predicate `json:"children,omitempty"`
}

// True matches every document.
func True() Predicate { return Predicate{Op: OpTrue} }

// Eq matches documents whose field equals v.
func Eq(field string, v any) Predicate { return Predicate{Op: OpEq, Field: field, Value: v} }

// Ne matches documents whose field is distinct from v (missing counts as distinct).
func Ne(field string, v any) Predicate { return Predicate{Op: OpNe, Field: field, Value: v} }

// In matches documents whose field equals one of vs.
func In(field string, vs ...any) Predicate { return Predicate{Op: OpIn, Field: field, Value: vs} }

// And joins predicates, flattening nested conjunctions and dropping OpTrue.
func And(ps ...Predicate) Predicate {
	var kids []Predicate
	for _, p := range ps {
		switch p.Op {
		case OpTrue, "":
			continue
		case OpAnd:
			kids = append(kids, p.Children...)
		default:
			kids = append(kids, p)
		}
	}
	switch len(kids) {
	case 0:
		return True()
	case 1:
		return kids[0]
	}
	return Predicate{Op: OpAnd, Children: kids}
}

// Or joins predicates; an empty disjunction matches nothing, which Match and
// the SQL compiler both honour.
func Or(ps ...Predicate) Predicate {
	return Predicate{Op: OpOr, Children: ps}
}

func (p Predicate) String() string {
	switch p.Op {
	case OpTrue:
		return "true"
	case OpAnd, OpOr:
		parts := make([]string, len(p.Children))
		for i, c := range p.Children {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, " "+string(p.Op)+" ") + ")"
	}
	return fmt.Sprintf("%s %s %v", p.Field, p.Op, p.Value)
}

// SortField is one entry of an order list.
type SortField struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// ValidationError reports a malformed query description.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return "filter: " + e.Message
	}
	return fmt.Sprintf("filter: %s: %s", e.Path, e.Message)
}

func invalid(path, format string, args ...any) error {
	return &ValidationError{Path: path, Message: fmt.Sprintf(format, args...)}
}
