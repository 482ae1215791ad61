package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godata/exporter/internal/config"
)

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return b
}

func TestFSStore(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	key := ArtifactKey(uuid.New(), "csv")
	body := []byte("id,name\n1,Ada\n")

	provider, err := store.PutArtifact(ctx, key, bytes.NewReader(body), int64(len(body)), "text/csv")
	require.NoError(t, err)
	assert.Equal(t, "filesystem", provider)

	rc, err := store.OpenArtifact(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, body, readAll(t, rc))

	require.NoError(t, store.DeleteObject(ctx, key))
	require.NoError(t, store.DeleteObject(ctx, key), "delete is idempotent")

	_, err = store.OpenArtifact(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSStore_RejectsEscapingKeys(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.PutArtifact(context.Background(), "../outside", strings.NewReader("x"), 1, "text/plain")
	require.Error(t, err)
}

func TestArtifactKey(t *testing.T) {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	assert.Equal(t, "exports/550e8400-e29b-41d4-a716-446655440000.zip", ArtifactKey(id, ".zip"))
	assert.Equal(t, "exports/550e8400-e29b-41d4-a716-446655440000.xlsx", ArtifactKey(id, "xlsx"))
}

// failing rejects every upload and holds nothing.
type failing struct{}

func (failing) PutArtifact(context.Context, string, io.ReadSeeker, int64, string) (string, error) {
	return "", errors.New("provider down")
}

func (failing) OpenArtifact(context.Context, string) (io.ReadCloser, error) {
	return nil, ErrNotFound
}

func (failing) DeleteObject(context.Context, string) error { return nil }

func (failing) Provider() string { return "down" }

func TestMultiStore_FailsOverAndRewinds(t *testing.T) {
	ctx := context.Background()
	secondary, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	m := NewMultiStore(failing{}, secondary)

	body := strings.NewReader("payload")
	_, _ = body.Seek(3, io.SeekStart)
	provider, err := m.PutArtifact(ctx, "exports/a.json", body, 7, "application/json")
	require.NoError(t, err)
	assert.Equal(t, "filesystem", provider)

	rc, err := m.OpenArtifact(ctx, "exports/a.json")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(readAll(t, rc)))

	require.NoError(t, m.DeleteObject(ctx, "exports/a.json"))
	_, err = m.OpenArtifact(ctx, "exports/a.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMultiStore_AllFail(t *testing.T) {
	m := NewMultiStore(failing{}, failing{})
	_, err := m.PutArtifact(context.Background(), "exports/a.json", strings.NewReader("x"), 1, "application/json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")
}

func TestOpen_Filesystem(t *testing.T) {
	b, err := Open(context.Background(), config.StorageConfig{Backend: "fs", FSRoot: t.TempDir()}, config.S3Config{})
	require.NoError(t, err)
	assert.Equal(t, "filesystem", b.Provider())

	_, err = Open(context.Background(), config.StorageConfig{Backend: "tape"}, config.S3Config{})
	require.Error(t, err)
}
