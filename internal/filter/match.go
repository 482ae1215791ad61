package filter

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/godata/exporter/internal/docpath"
)

// Match evaluates p against doc. Array-valued fields match eq/inq/like when
// any element does, as a document store would.
func Match(p Predicate, doc map[string]any) bool {
	switch p.Op {
	case OpTrue, "":
		return true
	case OpAnd:
		for _, c := range p.Children {
			if !Match(c, doc) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range p.Children {
			if Match(c, doc) {
				return true
			}
		}
		return false
	}

	path, err := docpath.Parse(p.Field)
	if err != nil {
		return false
	}
	v, present := path.Get(doc)
	if present && v == nil {
		present = false
	}

	switch p.Op {
	case OpExists:
		want, _ := p.Value.(bool)
		return present == want
	case OpEq:
		return anyElement(v, present, func(x any) bool { return equal(x, p.Value) }, p.Value == nil)
	case OpNe:
		return !anyElement(v, present, func(x any) bool { return equal(x, p.Value) }, p.Value == nil)
	case OpIn, OpNin:
		list, _ := p.Value.([]any)
		hit := anyElement(v, present, func(x any) bool {
			for _, c := range list {
				if equal(x, c) {
					return true
				}
			}
			return false
		}, false)
		if p.Op == OpIn {
			return hit
		}
		return !hit
	case OpLike, OpILike:
		pattern, _ := p.Value.(string)
		re, err := likeRegexp(pattern, p.Op == OpILike)
		if err != nil {
			return false
		}
		return anyElement(v, present, func(x any) bool {
			s, ok := x.(string)
			return ok && re.MatchString(s)
		}, false)
	case OpGt, OpGte, OpLt, OpLte:
		if !present {
			return false
		}
		c, ok := Compare(v, p.Value)
		if !ok {
			return false
		}
		switch p.Op {
		case OpGt:
			return c > 0
		case OpGte:
			return c >= 0
		case OpLt:
			return c < 0
		default:
			return c <= 0
		}
	}
	return false
}

func anyElement(v any, present bool, fn func(any) bool, matchMissing bool) bool {
	if !present {
		return matchMissing
	}
	if arr, ok := v.([]any); ok {
		for _, el := range arr {
			if fn(el) {
				return true
			}
		}
		return false
	}
	return fn(v)
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two scalars of the same kind (numbers, strings, booleans).
// ok is false when the kinds differ.
func Compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
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
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func likeRegexp(pattern string, fold bool) (*regexp.Regexp, error) {
	var b strings.Builder
	if fold {
		b.WriteString("(?i)")
	}
	b.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return regexp.Compile(b.String())
}

// SortLess orders documents by the given sort fields; missing values sort
// first in ascending order, matching PostgreSQL's NULLS FIRST for ASC.
func SortLess(sorts []SortField, a, b map[string]any) bool {
	for _, s := range sorts {
		path, err := docpath.Parse(s.Field)
		if err != nil {
			continue
		}
		va, okA := path.Get(a)
		vb, okB := path.Get(b)
		okA = okA && va != nil
		okB = okB && vb != nil
		var c int
		switch {
		case !okA && !okB:
			c = 0
		case !okA:
			c = -1
		case !okB:
			c = 1
		default:
			c, _ = Compare(va, vb)
		}
		if c == 0 {
			continue
		}
		if s.Desc {
			return c > 0
		}
		return c < 0
	}
	return false
}
