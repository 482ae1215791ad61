package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FSStore implements the Backend interface using the local filesystem.
type FSStore struct {
	root     string
	provider string
}

// NewFSStore creates a new filesystem-based storage backend.
func NewFSStore(root string) (*FSStore, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: invalid root path: %w", err)
	}

	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root dir: %w", err)
	}

	return &FSStore{
		root:     absRoot,
		provider: "filesystem",
	}, nil
}

func (s *FSStore) Provider() string {
	return s.provider
}

func (s *FSStore) PutArtifact(_ context.Context, key string, body io.ReadSeeker, _ int64, _ string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	if err := rewind(body); err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.root, filepath.FromSlash(key))
	dir := filepath.Dir(fullPath)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir: %w", err)
	}

	// Atomic write: write to temp file then rename (same partition)
	tmpFile, err := os.CreateTemp(dir, "artifact-*.tmp")
	if err != nil {
		return "", fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmpFile.Name()
	defer os.Remove(tmpName) // Cleanup (ignored if renamed successfully)

	if err := tmpFile.Chmod(0o640); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("storage: chmod: %w", err)
	}

	if _, err := io.Copy(tmpFile, body); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("storage: sync temp: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("storage: close temp: %w", err)
	}

	if err := os.Rename(tmpName, fullPath); err != nil {
		return "", fmt.Errorf("storage: rename: %w", err)
	}
	return s.provider, nil
}

func (s *FSStore) OpenArtifact(_ context.Context, key string) (io.ReadCloser, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("storage: open file: %w", err)
	}
	return f, nil
}

func (s *FSStore) DeleteObject(_ context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	fullPath := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil // idempotent delete
		}
		return fmt.Errorf("storage: delete file: %w", err)
	}
	return nil
}
