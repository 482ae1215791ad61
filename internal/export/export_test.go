package export

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/godata/exporter/internal/docstore"
	"github.com/godata/exporter/internal/docstore/memstore"
	"github.com/godata/exporter/internal/export/sink"
	"github.com/godata/exporter/internal/models"
)

// fakeJobs records every persisted snapshot of a job.
type fakeJobs struct {
	mu      sync.Mutex
	steps   []models.ExportStep
	updates int
	cancel  bool
}

func (f *fakeJobs) Update(_ context.Context, job *models.ExportJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if n := len(f.steps); n == 0 || f.steps[n-1] != job.StatusStep {
		f.steps = append(f.steps, job.StatusStep)
	}
	return nil
}

func (f *fakeJobs) CancelRequested(context.Context, uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancel, nil
}

func personDescriptor() Descriptor {
	return Descriptor{
		Collection: "person",
		Labels: map[string]string{
			"firstName": "LNG_FIRST_NAME",
			"age":       "LNG_AGE",
			"addresses": "LNG_ADDRESS",
		},
		ArrayFields: map[string][]ChildField{
			"addresses": {
				{Field: "city", Label: "LNG_CITY"},
				{Field: "locationId", Label: "LNG_LOCATION"},
			},
		},
		LocationFields: []string{"addresses[].locationId"},
		FieldOrder:     []string{"firstName", "age", "addresses"},
		FieldGroups:    map[string][]string{"basic": {"firstName", "age"}},
	}
}

func token(id, lang, tok, tr string) docstore.Document {
	return docstore.Document{"_id": id, "languageId": lang, "token": tok, "translation": tr}
}

// seedStore holds three live persons with 0, 2 and 1 addresses, one deleted
// person, a two-level location tree and English labels.
func seedStore(t *testing.T) *memstore.Store {
	t.Helper()
	ctx := context.Background()
	s := memstore.New()
	require.NoError(t, s.Insert(ctx, "person", []docstore.Document{
		{"_id": "p1", "firstName": "Ada", "age": 30, "addresses": []any{}},
		{"_id": "p2", "firstName": "Bo", "age": 41, "addresses": []any{
			map[string]any{"city": "Conakry", "locationId": "loc-city"},
			map[string]any{"city": "Kindia", "locationId": "loc-country"},
		}},
		{"_id": "p3", "firstName": "Cy", "age": 25, "addresses": []any{
			map[string]any{"city": "Boke"},
		}},
		{"_id": "p4", "firstName": "Gone", "age": 99, "deleted": true},
	}))
	require.NoError(t, s.Insert(ctx, "location", []docstore.Document{
		{"_id": "loc-country", "name": "Guinea", "identifiers": []any{"GN"}, "geographicalLevelId": "LNG_ADMIN_0"},
		{"_id": "loc-city", "name": "Conakry", "parentLocationId": "loc-country",
			"identifiers": []any{map[string]any{"code": "CKY"}}, "geographicalLevelId": "LNG_ADMIN_1"},
	}))
	require.NoError(t, s.Insert(ctx, "languageToken", []docstore.Document{
		token("t1", "en", "LNG_FIRST_NAME", "First name"),
		token("t2", "en", "LNG_AGE", "Age"),
		token("t3", "en", "LNG_ADDRESS", "Address"),
		token("t4", "en", "LNG_CITY", "City"),
		token("t5", "en", "LNG_LOCATION", "Location"),
		token("t6", "fr", "LNG_FIRST_NAME", "Prénom"),
	}))
	return s
}

func testConfig(t *testing.T) Config {
	return Config{
		BatchSize:            2,
		TmpDir:               t.TempDir(),
		DefaultLanguage:      "en",
		AnonymizePlaceholder: "***",
		TokenPrefix:          "LNG_",
		RenderWorkers:        2,
		Limits:               map[sink.Format]Limit{},
	}
}

func newJob() *models.ExportJob {
	return &models.ExportJob{ID: uuid.New(), Status: models.ExportStatusInProgress}
}

func newTestEngine(t *testing.T, backend docstore.Backend, jobs *fakeJobs, cfg Config) *Engine {
	t.Helper()
	return NewEngine(backend, jobs, nil, cfg, zap.NewNop())
}
