package filter_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godata/exporter/internal/filter"
)

func mustQuery(t *testing.T, raw string) filter.Query {
	t.Helper()
	var q filter.Query
	require.NoError(t, json.Unmarshal([]byte(raw), &q))
	return q
}

func TestNormalize_AddsBaseScopeAndDeletedRule(t *testing.T) {
	q := mustQuery(t, `{"where":{"classification":"CONFIRMED"},"order":"lastName DESC"}`)
	n, err := filter.Normalize(q, filter.Eq("outbreakId", "ob-1"))
	require.NoError(t, err)

	require.Equal(t, filter.OpAnd, n.Where.Op)
	assert.Equal(t, []filter.Predicate{
		filter.Eq("outbreakId", "ob-1"),
		filter.Eq("classification", "CONFIRMED"),
		filter.Ne(filter.DeletedField, true),
	}, n.Where.Children)
	assert.Equal(t, []filter.SortField{{Field: "lastName", Desc: true}}, n.Sort)
}

func TestNormalize_IncludeDeleted(t *testing.T) {
	q := mustQuery(t, `{"where":{"a":1},"deleted":true}`)
	n, err := filter.Normalize(q, filter.True())
	require.NoError(t, err)
	assert.Equal(t, filter.Eq("a", 1.0), n.Where)
}

func TestNormalize_Invalid(t *testing.T) {
	cases := []string{
		`{"where":{"a":{"foo":1}}}`,
		`{"where":{"and":{"a":1}}}`,
		`{"where":{"a":{"inq":"x"}}}`,
		`{"where":{"a":{"between":[1]}}}`,
		`{"where":{"a..b":1}}`,
		`{"where":{"a":[1,2]}}`,
		`{"order":["a sideways"]}`,
	}
	for _, raw := range cases {
		q := mustQuery(t, raw)
		_, err := filter.Normalize(q, filter.True())
		var verr *filter.ValidationError
		assert.True(t, errors.As(err, &verr), raw)
	}
}

func TestMatch(t *testing.T) {
	doc := map[string]any{
		"name":    "Maria",
		"age":     41.0,
		"tags":    []any{"contact", "traveller"},
		"address": map[string]any{"city": "Conakry"},
		"deleted": false,
	}
	cases := []struct {
		where string
		want  bool
	}{
		{`{"name":"Maria"}`, true},
		{`{"name":"maria"}`, false},
		{`{"age":{"gt":40}}`, true},
		{`{"age":{"between":[42,50]}}`, false},
		{`{"tags":"traveller"}`, true},
		{`{"tags":{"inq":["case","contact"]}}`, true},
		{`{"tags":{"nin":["contact"]}}`, false},
		{`{"address.city":{"like":"Con%"}}`, true},
		{`{"address.city":{"ilike":"con%"}}`, true},
		{`{"missing":{"exists":false}}`, true},
		{`{"missing":null}`, true},
		{`{"or":[{"name":"x"},{"age":41}]}`, true},
		{`{"and":[{"name":"Maria"},{"age":{"lt":18}}]}`, false},
	}
	for _, tc := range cases {
		q := mustQuery(t, `{"where":`+tc.where+`}`)
		n, err := filter.Normalize(q, filter.True())
		require.NoError(t, err, tc.where)
		assert.Equal(t, tc.want, filter.Match(n.Where, doc), tc.where)
	}
}

func TestMatch_DeletedRule(t *testing.T) {
	n, err := filter.Normalize(filter.Query{}, filter.True())
	require.NoError(t, err)
	assert.True(t, filter.Match(n.Where, map[string]any{}), "missing deleted flag counts as live")
	assert.True(t, filter.Match(n.Where, map[string]any{"deleted": false}))
	assert.False(t, filter.Match(n.Where, map[string]any{"deleted": true}))
}

func TestMatch_EmptyOrMatchesNothing(t *testing.T) {
	assert.False(t, filter.Match(filter.Or(), map[string]any{"a": 1}))
}

func TestSortLess(t *testing.T) {
	sorts := []filter.SortField{{Field: "last"}, {Field: "age", Desc: true}}
	a := map[string]any{"last": "A", "age": 10.0}
	b := map[string]any{"last": "A", "age": 20.0}
	c := map[string]any{"age": 5.0}
	assert.True(t, filter.SortLess(sorts, b, a))
	assert.False(t, filter.SortLess(sorts, a, b))
	assert.True(t, filter.SortLess(sorts, c, a), "missing sorts first")
}
