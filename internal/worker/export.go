package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/godata/exporter/internal/export"
	"github.com/godata/exporter/internal/metrics"
	"github.com/godata/exporter/internal/models"
	"github.com/godata/exporter/internal/notifications"
	"github.com/godata/exporter/internal/queue"
	"github.com/godata/exporter/internal/storage"
	"github.com/godata/exporter/pkg/checksum"
)

type ExportProcessor struct {
	jobs     JobRepository
	engine   Runner
	kms      SecretOpener
	queue    Enqueuer
	log      *zap.Logger
	notifier notifications.NotificationService
}

func NewExportProcessor(jobs JobRepository, engine Runner, kms SecretOpener, queue Enqueuer, log *zap.Logger, notifier notifications.NotificationService) *ExportProcessor {
	return &ExportProcessor{
		jobs:     jobs,
		engine:   engine,
		kms:      kms,
		queue:    queue,
		log:      log,
		notifier: notifier,
	}
}

func (p *ExportProcessor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := queue.ParseExportRunPayload(t)
	if err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}

	// 1. Get Export Job
	job, err := p.jobs.GetByID(ctx, payload.JobID)
	if err != nil {
		return fmt.Errorf("get export job: %w", err)
	}
	log := p.log.With(zap.String("job_id", job.ID.String()))
	if job.Status.Terminal() {
		log.Warn("export task delivered for a finished job", zap.String("status", string(job.Status)))
		return nil
	}

	// 2. Decode the request and unseal the passphrase
	var req export.Request
	if err := json.Unmarshal(job.Request, &req); err != nil {
		return p.failJob(ctx, job, fmt.Errorf("decode request: %w", err))
	}
	if payload.SealedPassphrase != "" {
		req.Passphrase, err = p.kms.OpenPassphrase(job.ID, payload.SealedPassphrase)
		if err != nil {
			return p.failJob(ctx, job, fmt.Errorf("unseal passphrase: %w", err))
		}
	}

	// 3. Run the engine; it owns the job record from here on
	metrics.JobsInFlight.Inc()
	start := time.Now()
	_, runErr := p.engine.Run(ctx, job, req)
	metrics.JobsInFlight.Dec()
	metrics.ObserveJob(job, time.Since(start))

	if runErr != nil {
		p.notify(ctx, job, notifications.SeverityCritical, "export failed: "+runErr.Error())
		if errors.Is(runErr, export.ErrCanceled) {
			log.Info("export canceled")
			return nil
		}
		return fmt.Errorf("job %s: %w", job.ID, runErr)
	}

	// 4. Enqueue Verify Task. Enqueueing may fail transiently (Redis
	// unavailable); the artifact is already published so only log it.
	if job.ArtifactSHA256 != "" {
		verifyTask, err := queue.NewArtifactVerifyTask(queue.ArtifactVerifyPayload{JobID: job.ID})
		if err != nil {
			return fmt.Errorf("job %s: create verify task: %w", job.ID, err)
		}
		if _, err := p.queue.EnqueueContext(ctx, verifyTask); err != nil {
			log.Error("enqueue verify task failed, integrity check deferred", zap.Error(err))
		}
	}

	severity := notifications.SeverityInfo
	msg := fmt.Sprintf("export finished: %d records", job.ProcessedRecords)
	if job.Status == models.ExportStatusSuccessWithWarning {
		severity = notifications.SeverityWarning
		msg = fmt.Sprintf("export finished: %d records, %d rejected", job.ProcessedRecords, job.FailedRecords)
	}
	p.notify(ctx, job, severity, msg)
	return nil
}

// failJob records a failure that happened before the engine took the job.
func (p *ExportProcessor) failJob(ctx context.Context, job *models.ExportJob, err error) error {
	msg := err.Error()
	now := time.Now().UTC()
	job.Status = models.ExportStatusFailed
	job.ErrorMsg = &msg
	job.CompletedAt = &now
	if uerr := p.jobs.Update(ctx, job); uerr != nil {
		p.log.Error("persist failed state", zap.String("job_id", job.ID.String()), zap.Error(uerr))
	}
	metrics.JobsTotal.WithLabelValues(job.Format, string(job.Status)).Inc()
	p.notify(ctx, job, notifications.SeverityCritical, "export failed: "+msg)
	return err
}

func (p *ExportProcessor) notify(ctx context.Context, job *models.ExportJob, severity, msg string) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.SendAlert(ctx, job.ID.String(), severity, msg); err != nil {
		p.log.Warn("notification failed", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}

// ArtifactPublisher uploads finished artifacts to storage and records key,
// provider and digest on the job.
type ArtifactPublisher struct {
	storage ArtifactStorage
	log     *zap.Logger
}

func NewArtifactPublisher(storage ArtifactStorage, log *zap.Logger) *ArtifactPublisher {
	return &ArtifactPublisher{storage: storage, log: log}
}

func (p *ArtifactPublisher) Publish(ctx context.Context, job *models.ExportJob, art export.Artifact) error {
	sum, size, err := checksum.SumFile(art.Path)
	if err != nil {
		return err
	}
	f, err := os.Open(art.Path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	key := storage.ArtifactKey(job.ID, art.Extension)
	provider, err := p.storage.PutArtifact(ctx, key, f, size, art.MimeType)
	if err != nil {
		return fmt.Errorf("upload artifact: %w", err)
	}
	job.ArtifactKey = key
	job.ArtifactProvider = provider
	job.ArtifactSHA256 = sum
	job.ArtifactBytes = size
	p.log.Info("artifact published",
		zap.String("job_id", job.ID.String()),
		zap.String("key", key),
		zap.String("provider", provider),
		zap.Int64("bytes", size),
	)
	return nil
}
