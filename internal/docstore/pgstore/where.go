package pgstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/godata/exporter/internal/docpath"
	"github.com/godata/exporter/internal/filter"
)

// sqlBuilder compiles predicate trees into a parameterised WHERE clause over
// the jsonb "doc" column.
type sqlBuilder struct {
	args []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *sqlBuilder) jsonArg(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("pgstore: encode value: %w", err)
	}
	return b.arg(string(raw)) + "::jsonb", nil
}

// pathArg binds a document path as a text[] suitable for #> / #>>.
func (b *sqlBuilder) pathArg(field string) (string, error) {
	p, err := docpath.Parse(field)
	if err != nil {
		return "", err
	}
	elems := make([]string, 0, len(p))
	for _, s := range p {
		switch {
		case !s.IsIndex:
			elems = append(elems, s.Field)
		case s.Index == docpath.Wildcard:
			return "", fmt.Errorf("pgstore: wildcard path %q cannot be queried", field)
		default:
			elems = append(elems, strconv.Itoa(s.Index))
		}
	}
	return b.arg(elems) + "::text[]", nil
}

func (b *sqlBuilder) compile(p filter.Predicate) (string, error) {
	switch p.Op {
	case filter.OpTrue, "":
		return "TRUE", nil
	case filter.OpAnd, filter.OpOr:
		if len(p.Children) == 0 {
			if p.Op == filter.OpAnd {
				return "TRUE", nil
			}
			return "FALSE", nil
		}
		parts := make([]string, 0, len(p.Children))
		for _, c := range p.Children {
			s, err := b.compile(c)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		sep := " AND "
		if p.Op == filter.OpOr {
			sep = " OR "
		}
		return "(" + strings.Join(parts, sep) + ")", nil
	}

	path, err := b.pathArg(p.Field)
	if err != nil {
		return "", err
	}
	expr := "(doc #> " + path + ")"
	present := "(" + expr + " IS NOT NULL AND " + expr + " <> 'null'::jsonb)"

	switch p.Op {
	case filter.OpExists:
		if want, _ := p.Value.(bool); want {
			return present, nil
		}
		return "NOT " + present, nil
	case filter.OpEq, filter.OpNe:
		var cond string
		if p.Value == nil {
			cond = "NOT " + present
		} else {
			v, err := b.jsonArg(p.Value)
			if err != nil {
				return "", err
			}
			cond = "COALESCE(" + expr + " @> " + v + ", FALSE)"
		}
		if p.Op == filter.OpNe {
			return "NOT " + cond, nil
		}
		return cond, nil
	case filter.OpIn, filter.OpNin:
		v, err := b.jsonArg(p.Value)
		if err != nil {
			return "", err
		}
		cond := "EXISTS (SELECT 1 FROM jsonb_array_elements(" + v + ") e WHERE " + expr + " @> e)"
		if p.Op == filter.OpNin {
			return "NOT " + cond, nil
		}
		return cond, nil
	case filter.OpGt, filter.OpGte, filter.OpLt, filter.OpLte:
		v, err := b.jsonArg(p.Value)
		if err != nil {
			return "", err
		}
		op := map[filter.Op]string{filter.OpGt: ">", filter.OpGte: ">=", filter.OpLt: "<", filter.OpLte: "<="}[p.Op]
		return "(" + expr + " " + op + " " + v + " AND jsonb_typeof(" + expr + ") = jsonb_typeof(" + v + "))", nil
	case filter.OpLike, filter.OpILike:
		op := "LIKE"
		if p.Op == filter.OpILike {
			op = "ILIKE"
		}
		return "((doc #>> " + path + ") " + op + " " + b.arg(p.Value) + ")", nil
	}
	return "", fmt.Errorf("pgstore: unsupported operator %q", p.Op)
}

// orderBy renders ORDER BY terms; insertion order breaks ties.
func (b *sqlBuilder) orderBy(sorts []filter.SortField) (string, error) {
	terms := make([]string, 0, len(sorts)+1)
	for _, s := range sorts {
		path, err := b.pathArg(s.Field)
		if err != nil {
			return "", err
		}
		dir := "ASC NULLS FIRST"
		if s.Desc {
			dir = "DESC NULLS LAST"
		}
		terms = append(terms, "doc #> "+path+" "+dir)
	}
	terms = append(terms, "seq")
	return " ORDER BY " + strings.Join(terms, ", "), nil
}
