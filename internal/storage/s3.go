// Package storage provides artifact storage over the local filesystem or any
// S3-compatible provider: AWS, Garage, Hetzner Object Storage, Cloudflare R2,
// MinIO, etc.
// Multi-provider failover: if the primary upload fails, it retries on secondary
// providers in order until one succeeds.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/godata/exporter/internal/config"
)

// Store wraps an S3 client for a specific bucket / provider.
type Store struct {
	client       *s3.Client
	bucket       string
	provider     string
	storageClass types.StorageClass
}

// New creates a Store from config. Works with any S3-compatible endpoint.
func New(ctx context.Context, cfg config.S3Config, provider string) (*Store, error) {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		UsePathStyle: cfg.ForcePathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	client := s3.New(opts)

	store := &Store{
		client:       client,
		bucket:       cfg.Bucket,
		provider:     provider,
		storageClass: types.StorageClass(cfg.StorageClass),
	}

	if err := store.ensureBucketExists(ctx); err != nil {
		return nil, fmt.Errorf("storage: ensure bucket exists: %w", err)
	}

	return store, nil
}

// ensureBucketExists checks if the bucket exists and creates it if it doesn't.
func (s *Store) ensureBucketExists(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("head bucket %s: %w", s.bucket, err)
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Provider returns the human-readable provider label.
func (s *Store) Provider() string { return s.provider }

// PutArtifact uploads an artifact. The key is derived from the job id, so a
// repeated upload overwrites the same object.
func (s *Store) PutArtifact(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	if err := rewind(body); err != nil {
		return "", err
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	}
	if s.storageClass != "" {
		in.StorageClass = s.storageClass
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("storage: put object: %w", err)
	}
	return s.provider, nil
}

// OpenArtifact streams a stored artifact; the caller closes it.
func (s *Store) OpenArtifact(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("storage: get object: %w", err)
	}
	return out.Body, nil
}

// DeleteObject removes an object (used by the retention sweep).
func (s *Store) DeleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("storage: delete: %w", err)
	}
	return nil
}

// ── Multi-provider failover ───────────────────────────────────────────────────

// MultiStore tries providers in order and returns on first success.
type MultiStore struct {
	providers []Backend
}

// NewMultiStore creates a MultiStore from a list of Stores (primary first).
func NewMultiStore(providers ...Backend) *MultiStore {
	return &MultiStore{providers: providers}
}

func (m *MultiStore) Provider() string { return "multi" }

// PutArtifact uploads to the first available provider and returns its label.
func (m *MultiStore) PutArtifact(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) (string, error) {
	var err error
	for _, p := range m.providers {
		var provider string
		provider, err = p.PutArtifact(ctx, key, body, size, contentType)
		if err == nil {
			return provider, nil
		}
	}
	return "", fmt.Errorf("storage: all providers failed, last error: %w", err)
}

// OpenArtifact opens from the first provider that has the object.
func (m *MultiStore) OpenArtifact(ctx context.Context, key string) (io.ReadCloser, error) {
	lastErr := ErrNotFound
	for _, p := range m.providers {
		rc, err := p.OpenArtifact(ctx, key)
		if err == nil {
			return rc, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("storage: all providers failed: %w", lastErr)
}

// DeleteObject deletes from all providers (best-effort).
func (m *MultiStore) DeleteObject(ctx context.Context, key string) error {
	var lastErr error
	for _, p := range m.providers {
		if err := p.DeleteObject(ctx, key); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
