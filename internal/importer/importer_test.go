package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/godata/exporter/internal/docstore"
	"github.com/godata/exporter/internal/docstore/memstore"
	"github.com/godata/exporter/internal/export"
	"github.com/godata/exporter/internal/filter"
	"github.com/godata/exporter/internal/models"
)

type nopJobs struct{}

func (nopJobs) Update(context.Context, *models.ExportJob) error { return nil }

func (nopJobs) CancelRequested(context.Context, uuid.UUID) (bool, error) { return false, nil }

// countingStore records the size of every Insert call.
type countingStore struct {
	batches []int
	docs    []docstore.Document
	err     error
}

func (s *countingStore) Insert(_ context.Context, _ string, docs []docstore.Document) error {
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, len(docs))
	s.docs = append(s.docs, docs...)
	return nil
}

func byID(t *testing.T, s *memstore.Store, collection string) map[string]docstore.Document {
	t.Helper()
	out := map[string]docstore.Document{}
	err := s.Iterate(context.Background(), collection, docstore.Query{}, 100, func(docs []docstore.Document) error {
		for _, d := range docs {
			id, _ := docstore.DocumentID(d)
			out[id] = d
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestCSV_RoundTripsAnExport(t *testing.T) {
	ctx := context.Background()
	src := memstore.New()
	require.NoError(t, src.Insert(ctx, "person", []docstore.Document{
		{"_id": "p1", "firstName": "Ada", "age": 30},
		{"_id": "p2", "firstName": "Bo", "age": 41},
	}))
	require.NoError(t, src.Insert(ctx, "languageToken", []docstore.Document{
		{"_id": "t1", "languageId": "en", "token": "LNG_FIRST_NAME", "translation": "First name"},
		{"_id": "t2", "languageId": "en", "token": "LNG_AGE", "translation": "Age"},
	}))

	engine := export.NewEngine(src, nopJobs{}, nil, export.Config{
		TmpDir:          t.TempDir(),
		DefaultLanguage: "en",
		TokenPrefix:     "LNG_",
	}, zap.NewNop())
	job := &models.ExportJob{ID: uuid.New(), Status: models.ExportStatusInProgress}
	res, err := engine.Run(ctx, job, export.Request{
		Descriptor: export.Descriptor{
			Collection: "person",
			Labels:     map[string]string{"firstName": "LNG_FIRST_NAME", "age": "LNG_AGE"},
			FieldOrder: []string{"firstName", "age"},
		},
		Filter: filter.Query{},
		Format: "csv",
	})
	require.NoError(t, err)
	require.Len(t, res.Headers, 2)

	f, err := os.Open(res.Artifact.Path)
	require.NoError(t, err)
	defer f.Close()

	dst := &countingStore{}
	im := New(dst, zap.NewNop())
	out, err := im.CSV(ctx, f, Options{
		Collection: "person_copy",
		Mapping:    map[string]string{res.Headers[0]: "firstName", res.Headers[1]: "age"},
		InferTypes: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Imported)
	assert.Empty(t, out.Ignored)

	got := map[string]string{}
	for _, d := range dst.docs {
		got[fmt.Sprint(d["firstName"])] = fmt.Sprint(d["age"])
		_, hasID := docstore.DocumentID(d)
		assert.True(t, hasID)
	}
	assert.Equal(t, map[string]string{"Ada": "30", "Bo": "41"}, got)
}

func TestCSV_NestedPathsAndBatches(t *testing.T) {
	in := strings.Join([]string{
		"ID,Name,City 1,City 2,Note",
		"a,Ada,Conakry,Kindia,x",
		"b,Bo,,,***",
		"c,Cy,Boke,,",
	}, "\n")
	s := memstore.New()
	im := New(s, zap.NewNop())
	out, err := im.CSV(context.Background(), strings.NewReader(in), Options{
		Collection: "person",
		IDHeader:   "ID",
		Mapping: map[string]string{
			"Name":   "firstName",
			"City 1": "addresses[0].city",
			"City 2": "addresses[1].city",
			"Note":   "notes",
		},
		Skip:      []string{"***"},
		BatchSize: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Imported)

	docs := byID(t, s, "person")
	require.Len(t, docs, 3)
	assert.Equal(t, "Ada", docs["a"]["firstName"])
	assert.Equal(t, []any{
		map[string]any{"city": "Conakry"},
		map[string]any{"city": "Kindia"},
	}, docs["a"]["addresses"])
	assert.NotContains(t, docs["b"], "notes")
	assert.NotContains(t, docs["b"], "addresses")
	assert.Equal(t, []any{map[string]any{"city": "Boke"}}, docs["c"]["addresses"])
}

func TestCSV_BatchSizes(t *testing.T) {
	in := "n\n1\n2\n3\n4\n5\n"
	dst := &countingStore{}
	out, err := New(dst, zap.NewNop()).CSV(context.Background(), strings.NewReader(in), Options{
		Collection: "numbers",
		BatchSize:  2,
		InferTypes: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, out.Imported)
	assert.Equal(t, []int{2, 2, 1}, dst.batches)
	assert.Equal(t, int64(1), dst.docs[0]["n"])
}

func TestCSV_UnmappableHeadersAreIgnored(t *testing.T) {
	in := "First name,ok\nAda,1\n"
	dst := &countingStore{}
	out, err := New(dst, zap.NewNop()).CSV(context.Background(), strings.NewReader(in), Options{Collection: "person"})
	require.NoError(t, err)
	assert.Equal(t, []string{"First name"}, out.Ignored)
	require.Len(t, dst.docs, 1)
	assert.Equal(t, "1", dst.docs[0]["ok"])
	assert.NotContains(t, dst.docs[0], "First name")
}

func TestCSV_Errors(t *testing.T) {
	im := New(&countingStore{}, zap.NewNop())
	_, err := im.CSV(context.Background(), strings.NewReader("a\n1\n"), Options{Collection: "bad name"})
	assert.Error(t, err)

	_, err = im.CSV(context.Background(), strings.NewReader(""), Options{Collection: "person"})
	assert.Error(t, err)

	boom := errors.New("boom")
	_, err = New(&countingStore{err: boom}, zap.NewNop()).CSV(context.Background(), strings.NewReader("a\n1\n"), Options{Collection: "person"})
	assert.ErrorIs(t, err, boom)
}

func TestJSON_RemapsTopLevelKeys(t *testing.T) {
	in := `[
		{"ID": "a", "First name": "Ada", "Age": 30, "addresses": [{"city": "Conakry"}]},
		{"ID": "b", "First name": "***", "Age": 4.5, "extra": null}
	]`
	dst := &countingStore{}
	out, err := New(dst, zap.NewNop()).JSON(context.Background(), strings.NewReader(in), Options{
		Collection: "person",
		IDHeader:   "ID",
		Mapping:    map[string]string{"First name": "firstName", "Age": "age"},
		Skip:       []string{"***"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Imported)
	sort.Strings(out.Ignored)
	assert.Empty(t, out.Ignored)

	require.Len(t, dst.docs, 2)
	a, b := dst.docs[0], dst.docs[1]
	assert.Equal(t, "a", a["_id"])
	assert.Equal(t, "Ada", a["firstName"])
	assert.Equal(t, int64(30), a["age"])
	assert.Equal(t, []any{map[string]any{"city": "Conakry"}}, a["addresses"])
	assert.Equal(t, "b", b["_id"])
	assert.NotContains(t, b, "firstName")
	assert.Equal(t, 4.5, b["age"])
	assert.NotContains(t, b, "extra")
}

func TestJSON_RequiresArray(t *testing.T) {
	_, err := New(&countingStore{}, zap.NewNop()).JSON(context.Background(), strings.NewReader(`{"a":1}`), Options{Collection: "person"})
	assert.Error(t, err)
}
