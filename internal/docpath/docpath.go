// Package docpath implements a small path-expression type for addressing
// values inside schemaless documents, e.g. "addresses[2].locationId" or the
// index-free template form "addresses[].locationId".
package docpath

import (
	"fmt"
	"strconv"
	"strings"
)

// Wildcard is the Index of a "[]" segment: every element of the array.
const Wildcard = -1

// Segment is either a field name or an array index.
type Segment struct {
	Field   string
	Index   int
	IsIndex bool
}

// Path is an ordered list of segments.
type Path []Segment

// Parse reads a dotted/indexed path expression.
func Parse(s string) (Path, error) {
	if s == "" {
		return nil, fmt.Errorf("docpath: empty path")
	}
	var p Path
	i := 0
	for i < len(s) {
		switch s[i] {
		case '.':
			if i == 0 || i == len(s)-1 || s[i+1] == '.' || s[i+1] == '[' {
				return nil, fmt.Errorf("docpath: misplaced '.' in %q", s)
			}
			i++
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("docpath: unterminated '[' in %q", s)
			}
			if len(p) == 0 {
				return nil, fmt.Errorf("docpath: index without field in %q", s)
			}
			raw := s[i+1 : i+end]
			idx := Wildcard
			if raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n < 0 {
					return nil, fmt.Errorf("docpath: bad index %q in %q", raw, s)
				}
				idx = n
			}
			p = append(p, Segment{Index: idx, IsIndex: true})
			i += end + 1
			if i < len(s) && s[i] != '.' && s[i] != '[' {
				return nil, fmt.Errorf("docpath: expected '.' after ']' in %q", s)
			}
		default:
			j := i
			for j < len(s) && s[j] != '.' && s[j] != '[' {
				j++
			}
			p = append(p, Segment{Field: s[i:j]})
			i = j
		}
	}
	return p, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Field builds a path made only of field names.
func Field(names ...string) Path {
	p := make(Path, 0, len(names))
	for _, n := range names {
		p = append(p, Segment{Field: n})
	}
	return p
}

// Child returns a copy of p extended with a field segment.
func (p Path) Child(name string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, Segment{Field: name})
}

// At returns a copy of p extended with an index segment.
func (p Path) At(index int) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, Segment{Index: index, IsIndex: true})
}

func (p Path) String() string {
	var b strings.Builder
	for i, s := range p {
		if s.IsIndex {
			b.WriteByte('[')
			if s.Index != Wildcard {
				b.WriteString(strconv.Itoa(s.Index))
			}
			b.WriteByte(']')
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s.Field)
	}
	return b.String()
}

// WithoutIndices renders p with every index replaced by "[]", the form used
// to match anonymization and location rules.
func (p Path) WithoutIndices() string {
	out := make(Path, len(p))
	for i, s := range p {
		if s.IsIndex {
			s.Index = Wildcard
		}
		out[i] = s
	}
	return out.String()
}

// Fields returns the field names of p, failing when it contains indices.
func (p Path) Fields() ([]string, error) {
	out := make([]string, 0, len(p))
	for _, s := range p {
		if s.IsIndex {
			return nil, fmt.Errorf("docpath: %s is not a plain field path", p)
		}
		out = append(out, s.Field)
	}
	return out, nil
}

// Root returns the first field name.
func (p Path) Root() string {
	if len(p) == 0 {
		return ""
	}
	return p[0].Field
}

// Get resolves p against doc. Wildcard segments are not allowed here; use
// GetAll for template paths.
func (p Path) Get(doc any) (any, bool) {
	cur := doc
	for _, s := range p {
		if s.IsIndex {
			arr, ok := asSlice(cur)
			if !ok || s.Index == Wildcard || s.Index >= len(arr) {
				return nil, false
			}
			cur = arr[s.Index]
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[s.Field]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetAll resolves p expanding wildcard segments; missing branches are skipped.
func (p Path) GetAll(doc any) []any {
	var out []any
	collect(p, doc, &out)
	return out
}

func collect(p Path, cur any, out *[]any) {
	if len(p) == 0 {
		*out = append(*out, cur)
		return
	}
	s := p[0]
	if s.IsIndex {
		arr, ok := asSlice(cur)
		if !ok {
			return
		}
		if s.Index == Wildcard {
			for _, el := range arr {
				collect(p[1:], el, out)
			}
			return
		}
		if s.Index < len(arr) {
			collect(p[1:], arr[s.Index], out)
		}
		return
	}
	m, ok := cur.(map[string]any)
	if !ok {
		return
	}
	next, ok := m[s.Field]
	if !ok {
		return
	}
	collect(p[1:], next, out)
}

// Len returns the length of the array at p, or 0 when p does not resolve to one.
func (p Path) Len(doc any) int {
	v, ok := p.Get(doc)
	if !ok {
		return 0
	}
	arr, ok := asSlice(v)
	if !ok {
		return 0
	}
	return len(arr)
}

// Set writes v at p inside doc, creating intermediate objects and growing
// arrays with nil elements as needed. p must not contain wildcards.
func (p Path) Set(doc map[string]any, v any) error {
	if len(p) == 0 || p[0].IsIndex {
		return fmt.Errorf("docpath: set %q: path must start with a field", p)
	}
	for _, s := range p {
		if s.IsIndex && s.Index == Wildcard {
			return fmt.Errorf("docpath: set %q: wildcard not allowed", p)
		}
	}
	doc[p[0].Field] = place(doc[p[0].Field], p[1:], v)
	return nil
}

// place returns cur with v written at rest, replacing values of the wrong shape.
func place(cur any, rest Path, v any) any {
	if len(rest) == 0 {
		return v
	}
	s := rest[0]
	if s.IsIndex {
		arr, _ := cur.([]any)
		for len(arr) <= s.Index {
			arr = append(arr, nil)
		}
		arr[s.Index] = place(arr[s.Index], rest[1:], v)
		return arr
	}
	m, ok := cur.(map[string]any)
	if !ok {
		m = map[string]any{}
	}
	m[s.Field] = place(m[s.Field], rest[1:], v)
	return m
}

func asSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []map[string]any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	case []string:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	}
	return nil, false
}

// Covers reports whether the template rule (in WithoutIndices form) selects
// target: either equal or a parent of it.
func Covers(rule, target string) bool {
	if rule == target {
		return true
	}
	if !strings.HasPrefix(target, rule) {
		return false
	}
	next := target[len(rule)]
	return next == '.' || next == '['
}
