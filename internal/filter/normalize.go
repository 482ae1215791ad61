package filter

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/godata/exporter/internal/docpath"
)

// Query is the caller-supplied filter: a loopback-style where document, an
// order list ("field ASC" / "field DESC") and the include-deleted override.
type Query struct {
	Where          map[string]any `json:"where,omitempty"   yaml:"where"`
	Order          OrderList      `json:"order,omitempty"   yaml:"order"`
	IncludeDeleted bool           `json:"deleted,omitempty" yaml:"deleted"`
}

// OrderList accepts either a single "field DIR" string or a list of them.
type OrderList []string

func (o *OrderList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		if one != "" {
			*o = OrderList{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return invalid("order", "must be a string or a list of strings")
	}
	*o = many
	return nil
}

// Normalized is the store-native form of a Query.
type Normalized struct {
	Where Predicate   `json:"where"`
	Sort  []SortField `json:"sort,omitempty"`
}

// Normalize computes base AND where AND (deleted != true unless IncludeDeleted).
func Normalize(q Query, base Predicate) (Normalized, error) {
	where, err := ParseWhere(q.Where)
	if err != nil {
		return Normalized{}, err
	}
	order, err := ParseOrder(q.Order)
	if err != nil {
		return Normalized{}, err
	}
	parts := []Predicate{base, where}
	if !q.IncludeDeleted {
		parts = append(parts, Ne(DeletedField, true))
	}
	return Normalized{Where: And(parts...), Sort: order}, nil
}

// ParseOrder turns "field [ASC|DESC]" entries into sort fields.
func ParseOrder(order []string) ([]SortField, error) {
	out := make([]SortField, 0, len(order))
	for _, raw := range order {
		parts := strings.Fields(raw)
		if len(parts) == 0 || len(parts) > 2 {
			return nil, invalid("order", "bad entry %q", raw)
		}
		if _, err := docpath.Parse(parts[0]); err != nil {
			return nil, invalid("order", "%v", err)
		}
		sf := SortField{Field: parts[0]}
		if len(parts) == 2 {
			switch strings.ToUpper(parts[1]) {
			case "ASC":
			case "DESC":
				sf.Desc = true
			default:
				return nil, invalid("order", "bad direction in %q", raw)
			}
		}
		out = append(out, sf)
	}
	return out, nil
}

// ParseWhere converts a loopback where document into a predicate. Keys are
// combined with AND in lexical order so the result is deterministic.
func ParseWhere(where map[string]any) (Predicate, error) {
	return parseObject("", where)
}

func parseObject(at string, where map[string]any) (Predicate, error) {
	if len(where) == 0 {
		return True(), nil
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]Predicate, 0, len(keys))
	for _, k := range keys {
		v := where[k]
		switch k {
		case "and", "or":
			list, ok := v.([]any)
			if !ok {
				return Predicate{}, invalid(join(at, k), "must be a list of conditions")
			}
			kids := make([]Predicate, 0, len(list))
			for i, item := range list {
				obj, ok := item.(map[string]any)
				if !ok {
					return Predicate{}, invalid(join(at, k), "entry %d is not an object", i)
				}
				kid, err := parseObject(join(at, k), obj)
				if err != nil {
					return Predicate{}, err
				}
				kids = append(kids, kid)
			}
			if k == "and" {
				parts = append(parts, And(kids...))
			} else {
				parts = append(parts, Or(kids...))
			}
		default:
			p, err := parseField(k, v)
			if err != nil {
				return Predicate{}, err
			}
			parts = append(parts, p)
		}
	}
	return And(parts...), nil
}

func parseField(field string, v any) (Predicate, error) {
	if _, err := docpath.Parse(field); err != nil {
		return Predicate{}, invalid(field, "%v", err)
	}
	ops, ok := v.(map[string]any)
	if !ok {
		if _, isList := v.([]any); isList {
			return Predicate{}, invalid(field, "lists need an explicit inq/nin operator")
		}
		return Eq(field, v), nil
	}
	if len(ops) == 0 {
		return Predicate{}, invalid(field, "empty operator object")
	}
	names := make([]string, 0, len(ops))
	for k := range ops {
		names = append(names, k)
	}
	sort.Strings(names)

	parts := make([]Predicate, 0, len(names))
	for _, name := range names {
		arg := ops[name]
		switch Op(name) {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
			if _, isObj := arg.(map[string]any); isObj {
				return Predicate{}, invalid(field, "%s needs a scalar", name)
			}
			parts = append(parts, Predicate{Op: Op(name), Field: field, Value: arg})
		case OpIn, OpNin:
			list, ok := arg.([]any)
			if !ok {
				return Predicate{}, invalid(field, "%s needs a list", name)
			}
			parts = append(parts, Predicate{Op: Op(name), Field: field, Value: list})
		case OpExists:
			b, ok := arg.(bool)
			if !ok {
				return Predicate{}, invalid(field, "exists needs a boolean")
			}
			parts = append(parts, Predicate{Op: OpExists, Field: field, Value: b})
		case OpLike, OpILike:
			s, ok := arg.(string)
			if !ok {
				return Predicate{}, invalid(field, "%s needs a string pattern", name)
			}
			parts = append(parts, Predicate{Op: Op(name), Field: field, Value: s})
		case "between":
			pair, ok := arg.([]any)
			if !ok || len(pair) != 2 {
				return Predicate{}, invalid(field, "between needs [low, high]")
			}
			parts = append(parts,
				Predicate{Op: OpGte, Field: field, Value: pair[0]},
				Predicate{Op: OpLte, Field: field, Value: pair[1]},
			)
		default:
			return Predicate{}, invalid(field, "unsupported operator %q", name)
		}
	}
	return And(parts...), nil
}

func join(at, k string) string {
	if at == "" {
		return k
	}
	return at + "." + k
}
