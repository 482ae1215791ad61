package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/godata/exporter/internal/export"
	"github.com/godata/exporter/internal/models"
	"github.com/godata/exporter/internal/queue"
	"github.com/godata/exporter/internal/storage"
	"github.com/godata/exporter/pkg/checksum"
)

func pendingJob(t *testing.T) *models.ExportJob {
	t.Helper()
	raw, err := json.Marshal(export.Request{Format: "csv", LanguageID: "fr"})
	require.NoError(t, err)
	return &models.ExportJob{
		ID:      uuid.New(),
		Format:  "csv",
		Status:  models.ExportStatusInProgress,
		Request: raw,
	}
}

func runTask(t *testing.T, id uuid.UUID, sealed string) *asynq.Task {
	t.Helper()
	task, err := queue.NewExportRunTask(queue.ExportRunPayload{JobID: id, SealedPassphrase: sealed}, 0)
	require.NoError(t, err)
	return task
}

func TestExportProcessor_RunsEngineAndEnqueuesVerify(t *testing.T) {
	job := pendingJob(t)
	repo := new(MockJobRepository)
	repo.On("GetByID", mock.Anything, job.ID).Return(job, nil)

	runner := &MockRunner{Finish: func(j *models.ExportJob) {
		j.Status = models.ExportStatusSuccess
		j.ProcessedRecords = 3
		j.ArtifactSHA256 = "abc"
	}}
	runner.On("Run", mock.Anything, job, mock.MatchedBy(func(r export.Request) bool {
		return r.LanguageID == "fr" && r.Passphrase == "open:sealed"
	})).Return(nil)

	q := new(MockEnqueuer)
	q.On("EnqueueContext", mock.Anything, queue.TypeArtifactVerify, 0).Return(nil)
	n := new(MockNotifier)
	n.On("SendAlert", mock.Anything, job.ID.String(), "info", "export finished: 3 records").Return(nil)

	p := NewExportProcessor(repo, runner, fakeKMS{}, q, zap.NewNop(), n)
	require.NoError(t, p.ProcessTask(context.Background(), runTask(t, job.ID, "sealed")))

	runner.AssertExpectations(t)
	q.AssertExpectations(t)
	n.AssertExpectations(t)
}

func TestExportProcessor_WarnsOnRejectedRows(t *testing.T) {
	job := pendingJob(t)
	repo := new(MockJobRepository)
	repo.On("GetByID", mock.Anything, job.ID).Return(job, nil)
	runner := &MockRunner{Finish: func(j *models.ExportJob) {
		j.Status = models.ExportStatusSuccessWithWarning
		j.ProcessedRecords, j.FailedRecords = 4, 1
	}}
	runner.On("Run", mock.Anything, job, mock.Anything).Return(nil)
	n := new(MockNotifier)
	n.On("SendAlert", mock.Anything, job.ID.String(), "warning", mock.Anything).Return(nil)

	p := NewExportProcessor(repo, runner, fakeKMS{}, new(MockEnqueuer), zap.NewNop(), n)
	require.NoError(t, p.ProcessTask(context.Background(), runTask(t, job.ID, "")))
	n.AssertExpectations(t)
}

func TestExportProcessor_EngineFailure(t *testing.T) {
	job := pendingJob(t)
	repo := new(MockJobRepository)
	repo.On("GetByID", mock.Anything, job.ID).Return(job, nil)
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, job, mock.Anything).Return(errors.New("view read failed"))
	n := new(MockNotifier)
	n.On("SendAlert", mock.Anything, job.ID.String(), "critical", mock.Anything).Return(errors.New("slack down"))

	p := NewExportProcessor(repo, runner, fakeKMS{}, new(MockEnqueuer), zap.NewNop(), n)
	err := p.ProcessTask(context.Background(), runTask(t, job.ID, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "view read failed")
}

func TestExportProcessor_CancelIsNotATaskError(t *testing.T) {
	job := pendingJob(t)
	repo := new(MockJobRepository)
	repo.On("GetByID", mock.Anything, job.ID).Return(job, nil)
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, job, mock.Anything).Return(export.ErrCanceled)

	p := NewExportProcessor(repo, runner, fakeKMS{}, new(MockEnqueuer), zap.NewNop(), nil)
	assert.NoError(t, p.ProcessTask(context.Background(), runTask(t, job.ID, "")))
}

func TestExportProcessor_BadRequestFailsJob(t *testing.T) {
	job := pendingJob(t)
	job.Request = []byte(`{"format":`)
	repo := new(MockJobRepository)
	repo.On("GetByID", mock.Anything, job.ID).Return(job, nil)
	repo.On("Update", mock.Anything, job).Return(nil)
	runner := new(MockRunner)

	p := NewExportProcessor(repo, runner, fakeKMS{}, new(MockEnqueuer), zap.NewNop(), nil)
	require.Error(t, p.ProcessTask(context.Background(), runTask(t, job.ID, "")))

	assert.Equal(t, models.ExportStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMsg)
	assert.Contains(t, *job.ErrorMsg, "decode request")
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestExportProcessor_SkipsFinishedJob(t *testing.T) {
	job := pendingJob(t)
	job.Status = models.ExportStatusSuccess
	repo := new(MockJobRepository)
	repo.On("GetByID", mock.Anything, job.ID).Return(job, nil)
	runner := new(MockRunner)

	p := NewExportProcessor(repo, runner, fakeKMS{}, new(MockEnqueuer), zap.NewNop(), nil)
	assert.NoError(t, p.ProcessTask(context.Background(), runTask(t, job.ID, "")))
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestArtifactPublisher_UploadsWithDigest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0o600))

	store, err := storage.NewFSStore(filepath.Join(dir, "store"))
	require.NoError(t, err)
	job := &models.ExportJob{ID: uuid.New()}

	p := NewArtifactPublisher(store, zap.NewNop())
	require.NoError(t, p.Publish(context.Background(), job, export.Artifact{Path: path, Extension: "csv", MimeType: "text/csv"}))

	assert.Equal(t, storage.ArtifactKey(job.ID, "csv"), job.ArtifactKey)
	assert.Equal(t, "filesystem", job.ArtifactProvider)
	assert.EqualValues(t, 8, job.ArtifactBytes)

	rc, err := store.OpenArtifact(context.Background(), job.ArtifactKey)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))

	want, _, err := checksum.SumFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, job.ArtifactSHA256)
}

func TestArtifactVerifyProcessor(t *testing.T) {
	content := []byte("payload")
	sum, _, err := checksum.Sum(bytesReader(content))
	require.NoError(t, err)

	t.Run("match", func(t *testing.T) {
		job := &models.ExportJob{ID: uuid.New(), ArtifactKey: "exports/x.csv", ArtifactSHA256: sum}
		repo := new(MockJobRepository)
		repo.On("GetByID", mock.Anything, job.ID).Return(job, nil)
		repo.On("MarkVerified", mock.Anything, job.ID).Return(nil)
		st := new(MockArtifactStorage)
		st.On("OpenArtifact", mock.Anything, job.ArtifactKey).Return(content, nil)

		task, err := queue.NewArtifactVerifyTask(queue.ArtifactVerifyPayload{JobID: job.ID})
		require.NoError(t, err)
		p := NewArtifactVerifyProcessor(repo, st, zap.NewNop(), nil)
		require.NoError(t, p.ProcessTask(context.Background(), task))
		repo.AssertExpectations(t)
	})

	t.Run("mismatch", func(t *testing.T) {
		job := &models.ExportJob{ID: uuid.New(), ArtifactKey: "exports/x.csv", ArtifactSHA256: sum}
		repo := new(MockJobRepository)
		repo.On("GetByID", mock.Anything, job.ID).Return(job, nil)
		st := new(MockArtifactStorage)
		st.On("OpenArtifact", mock.Anything, job.ArtifactKey).Return([]byte("tampered"), nil)
		n := new(MockNotifier)
		n.On("SendAlert", mock.Anything, job.ID.String(), "critical", mock.Anything).Return(nil)

		task, err := queue.NewArtifactVerifyTask(queue.ArtifactVerifyPayload{JobID: job.ID})
		require.NoError(t, err)
		p := NewArtifactVerifyProcessor(repo, st, zap.NewNop(), n)
		err = p.ProcessTask(context.Background(), task)
		require.Error(t, err)
		assert.ErrorIs(t, err, asynq.SkipRetry)
		repo.AssertNotCalled(t, "MarkVerified", mock.Anything, job.ID)
		n.AssertExpectations(t)
	})
}
