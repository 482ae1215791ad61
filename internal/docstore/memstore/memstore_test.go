package memstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godata/exporter/internal/docstore"
	"github.com/godata/exporter/internal/docstore/memstore"
	"github.com/godata/exporter/internal/filter"
)

func TestIterate_FiltersSortsAndBatches(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	require.NoError(t, s.Insert(ctx, "person", []docstore.Document{
		{"_id": "a", "name": "Zed", "deleted": false},
		{"_id": "b", "name": "Amy"},
		{"_id": "c", "name": "Bob", "deleted": true},
		{"_id": "d", "name": "Cat"},
	}))

	n, err := filter.Normalize(filter.Query{Order: filter.OrderList{"name ASC"}}, filter.True())
	require.NoError(t, err)

	var batches [][]string
	err = s.Iterate(ctx, "person", docstore.Query{Where: n.Where, Sort: n.Sort}, 2, func(docs []docstore.Document) error {
		var ids []string
		for _, d := range docs {
			ids = append(ids, d["_id"].(string))
		}
		batches = append(batches, ids)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"b", "d"}, {"a"}}, batches)
	assert.Equal(t, 1, s.Reads("person"))
}

func TestInsert_RequiresID(t *testing.T) {
	err := memstore.New().Insert(context.Background(), "person", []docstore.Document{{"name": "x"}})
	assert.Error(t, err)
}

func TestViewLifecycle(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	require.NoError(t, s.CreateView(ctx, "export_view_1"))
	require.Error(t, s.CreateView(ctx, "export_view_1"))

	require.NoError(t, s.AppendView(ctx, "export_view_1", []docstore.ViewRow{
		{RecordID: "r1", Counts: map[string]int{"addresses": 0}, Locations: []string{"l2"}},
		{RecordID: "r2", Counts: map[string]int{"addresses": 2}, Locations: []string{"l1", "l2"}},
		{RecordID: "r3", Counts: map[string]int{"addresses": 1}},
	}))

	agg, err := s.AggregateView(ctx, "export_view_1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), agg.Rows)
	assert.Equal(t, map[string]int{"addresses": 2}, agg.Maxima)
	assert.Equal(t, []string{"l1", "l2"}, agg.LocationIDs)

	batch, err := s.NextViewBatch(ctx, "export_view_1", 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "r1", batch[0].RecordID)
	assert.Equal(t, int64(2), batch[1].Seq)

	require.NoError(t, s.ConsumeView(ctx, "export_view_1", batch[1].Seq))
	left, err := s.CountView(ctx, "export_view_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), left)

	require.NoError(t, s.DropView(ctx, "export_view_1"))
	assert.Empty(t, s.ViewNames())
}
