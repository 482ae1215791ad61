package pgstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godata/exporter/internal/filter"
)

func TestCompile_DefaultScope(t *testing.T) {
	b := &sqlBuilder{}
	sql, err := b.compile(filter.And(filter.Eq("outbreakId", "ob-1"), filter.Ne(filter.DeletedField, true)))
	require.NoError(t, err)

	assert.Equal(t,
		"(COALESCE((doc #> $1::text[]) @> $2::jsonb, FALSE) AND NOT COALESCE((doc #> $3::text[]) @> $4::jsonb, FALSE))",
		sql)
	assert.Equal(t, []any{[]string{"outbreakId"}, `"ob-1"`, []string{"deleted"}, `true`}, b.args)
}

func TestCompile_Operators(t *testing.T) {
	cases := []struct {
		name string
		p    filter.Predicate
		sql  string
	}{
		{"empty and", filter.True(), "TRUE"},
		{"empty or", filter.Or(), "FALSE"},
		{"eq null", filter.Eq("a", nil), "NOT ((doc #> $1::text[]) IS NOT NULL AND (doc #> $1::text[]) <> 'null'::jsonb)"},
		{"exists", filter.Predicate{Op: filter.OpExists, Field: "a", Value: true}, "((doc #> $1::text[]) IS NOT NULL AND (doc #> $1::text[]) <> 'null'::jsonb)"},
		{"inq", filter.In("a", "x", "y"), "EXISTS (SELECT 1 FROM jsonb_array_elements($2::jsonb) e WHERE (doc #> $1::text[]) @> e)"},
		{"gte", filter.Predicate{Op: filter.OpGte, Field: "age", Value: 18}, "((doc #> $1::text[]) >= $2::jsonb AND jsonb_typeof((doc #> $1::text[])) = jsonb_typeof($2::jsonb))"},
		{"ilike", filter.Predicate{Op: filter.OpILike, Field: "name", Value: "ma%"}, "((doc #>> $1::text[]) ILIKE $2)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := &sqlBuilder{}
			sql, err := b.compile(tc.p)
			require.NoError(t, err)
			assert.Equal(t, tc.sql, sql)
		})
	}
}

func TestCompile_IndexedPath(t *testing.T) {
	b := &sqlBuilder{}
	_, err := b.compile(filter.Eq("addresses[0].city", "Conakry"))
	require.NoError(t, err)
	assert.Equal(t, []string{"addresses", "0", "city"}, b.args[0])

	_, err = (&sqlBuilder{}).compile(filter.Eq("addresses[].city", "Conakry"))
	assert.Error(t, err)
}

func TestCompile_UnknownOperator(t *testing.T) {
	_, err := (&sqlBuilder{}).compile(filter.Predicate{Op: "near", Field: "a"})
	assert.Error(t, err)
}

func TestOrderBy(t *testing.T) {
	b := &sqlBuilder{}
	sql, err := b.orderBy([]filter.SortField{{Field: "lastName"}, {Field: "dob", Desc: true}})
	require.NoError(t, err)
	assert.Equal(t, " ORDER BY doc #> $1::text[] ASC NULLS FIRST, doc #> $2::text[] DESC NULLS LAST, seq", sql)
}
