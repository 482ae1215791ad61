package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/godata/exporter/internal/config"
)

// Backend defines the interface for artifact storage systems.
type Backend interface {
	// PutArtifact stores body under key and returns the provider that
	// accepted it. body is rewound before every attempt.
	PutArtifact(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) (provider string, err error)

	// OpenArtifact streams a stored artifact.
	OpenArtifact(ctx context.Context, key string) (io.ReadCloser, error)

	// DeleteObject removes an artifact (used for retention/expiry).
	DeleteObject(ctx context.Context, key string) error

	// Provider returns the name of the storage provider (e.g., "s3", "fs").
	Provider() string
}

// Open builds the backend named by cfg.Backend. "multi" uploads to S3 and
// falls back to the filesystem root.
func Open(ctx context.Context, cfg config.StorageConfig, s3cfg config.S3Config) (Backend, error) {
	switch cfg.Backend {
	case "fs":
		return NewFSStore(cfg.FSRoot)
	case "s3":
		return New(ctx, s3cfg, "s3-default")
	case "multi":
		primary, err := New(ctx, s3cfg, "s3-default")
		if err != nil {
			return nil, err
		}
		fallback, err := NewFSStore(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return NewMultiStore(primary, fallback), nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}
