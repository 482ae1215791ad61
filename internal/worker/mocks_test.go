package worker

import (
	"bytes"
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"

	"github.com/godata/exporter/internal/export"
	"github.com/godata/exporter/internal/models"
)

// MockArtifactStorage simulates storage interactions
type MockArtifactStorage struct {
	mock.Mock
}

func (m *MockArtifactStorage) PutArtifact(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) (string, error) {
	args := m.Called(ctx, key, body, size, contentType)
	return args.String(0), args.Error(1)
}

func (m *MockArtifactStorage) OpenArtifact(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return io.NopCloser(bytes.NewReader(args.Get(0).([]byte))), args.Error(1)
}

func (m *MockArtifactStorage) DeleteObject(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// MockJobRepository simulates database interactions
type MockJobRepository struct {
	mock.Mock
}

func (m *MockJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ExportJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ExportJob), args.Error(1)
}

func (m *MockJobRepository) Update(ctx context.Context, job *models.ExportJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockJobRepository) ListExpired(ctx context.Context, retentionDays int) ([]*models.ExportJob, error) {
	args := m.Called(ctx, retentionDays)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ExportJob), args.Error(1)
}

func (m *MockJobRepository) MarkExpired(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockJobRepository) MarkVerified(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockRunner stands in for the export engine.
type MockRunner struct {
	mock.Mock
	// Finish, when set, mutates the job the way a real run would.
	Finish func(job *models.ExportJob)
}

func (m *MockRunner) Run(ctx context.Context, job *models.ExportJob, req export.Request) (export.Result, error) {
	args := m.Called(ctx, job, req)
	if m.Finish != nil {
		m.Finish(job)
	}
	return export.Result{}, args.Error(0)
}

type MockEnqueuer struct {
	mock.Mock
}

func (m *MockEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task.Type(), len(opts))
	return &asynq.TaskInfo{}, args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendAlert(ctx context.Context, subject, severity, message string) error {
	args := m.Called(ctx, subject, severity, message)
	return args.Error(0)
}

type fakeKMS struct{}

func (fakeKMS) OpenPassphrase(id uuid.UUID, sealed string) (string, error) {
	return "open:" + sealed, nil
}

func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }
