package worker

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/godata/exporter/internal/export"
	"github.com/godata/exporter/internal/models"
)

// Interfaces for dependency injection to allow testing.

// JobRepository defines database access for export jobs.
type JobRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.ExportJob, error)
	Update(ctx context.Context, job *models.ExportJob) error
	ListExpired(ctx context.Context, retentionDays int) ([]*models.ExportJob, error)
	MarkExpired(ctx context.Context, id uuid.UUID) error
	MarkVerified(ctx context.Context, id uuid.UUID) error
}

// ArtifactStorage defines storage access for finished artifacts.
type ArtifactStorage interface {
	PutArtifact(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) (string, error)
	OpenArtifact(ctx context.Context, key string) (io.ReadCloser, error)
	DeleteObject(ctx context.Context, key string) error
}

// Runner executes one export job; *export.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, job *models.ExportJob, req export.Request) (export.Result, error)
}

// SecretOpener unseals passphrases sealed by the API for a job;
// *kms.Encryptor satisfies it.
type SecretOpener interface {
	OpenPassphrase(jobID uuid.UUID, sealed string) (string, error)
}

// Enqueuer is the part of *asynq.Client the worker uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}
