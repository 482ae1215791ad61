package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/godata/exporter/internal/metrics"
	"github.com/godata/exporter/internal/notifications"
	"github.com/godata/exporter/internal/queue"
	"github.com/godata/exporter/internal/storage"
	"github.com/godata/exporter/pkg/checksum"
)

type ArtifactVerifyProcessor struct {
	jobs     JobRepository
	storage  ArtifactStorage
	log      *zap.Logger
	notifier notifications.NotificationService
}

func NewArtifactVerifyProcessor(jobs JobRepository, storage ArtifactStorage, log *zap.Logger, notifier notifications.NotificationService) *ArtifactVerifyProcessor {
	return &ArtifactVerifyProcessor{
		jobs:     jobs,
		storage:  storage,
		log:      log,
		notifier: notifier,
	}
}

func (p *ArtifactVerifyProcessor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := queue.ParseArtifactVerifyPayload(t)
	if err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}

	job, err := p.jobs.GetByID(ctx, payload.JobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if job.ArtifactKey == "" || job.ArtifactSHA256 == "" {
		return fmt.Errorf("job %s missing artifact key or hash: %w", job.ID, asynq.SkipRetry)
	}

	body, err := p.storage.OpenArtifact(ctx, job.ArtifactKey)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer body.Close()

	if err := checksum.Verify(body, job.ArtifactSHA256); err != nil {
		metrics.ArtifactVerifications.WithLabelValues("mismatch").Inc()
		p.log.Error("artifact integrity violation detected",
			zap.String("job_id", job.ID.String()),
			zap.String("expected_sha256", job.ArtifactSHA256),
			zap.Error(err),
		)
		if p.notifier != nil {
			_ = p.notifier.SendAlert(ctx, job.ID.String(), notifications.SeverityCritical, err.Error())
		}
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	metrics.ArtifactVerifications.WithLabelValues("ok").Inc()

	// Stamp verified_at so operators can audit which artifacts have been verified.
	if err := p.jobs.MarkVerified(ctx, job.ID); err != nil {
		p.log.Warn("mark verified failed", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
	return nil
}

type ArtifactExpireProcessor struct {
	jobs    JobRepository
	storage ArtifactStorage
	log     *zap.Logger
}

func NewArtifactExpireProcessor(jobs JobRepository, storage ArtifactStorage, log *zap.Logger) *ArtifactExpireProcessor {
	return &ArtifactExpireProcessor{
		jobs:    jobs,
		storage: storage,
		log:     log,
	}
}

func (p *ArtifactExpireProcessor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := queue.ParseArtifactExpirePayload(t)
	if err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}

	jobs, err := p.jobs.ListExpired(ctx, payload.RetentionDays)
	if err != nil {
		return fmt.Errorf("list expired jobs: %w", err)
	}

	for _, job := range jobs {
		if job.ArtifactKey != "" {
			err := p.storage.DeleteObject(ctx, job.ArtifactKey)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				p.log.Error("failed to delete artifact", zap.String("key", job.ArtifactKey), zap.Error(err))
				continue
			}
		}
		if err := p.jobs.MarkExpired(ctx, job.ID); err != nil {
			p.log.Error("failed to mark job expired", zap.String("job_id", job.ID.String()), zap.Error(err))
			continue
		}
		metrics.ArtifactsExpired.Inc()
	}

	return nil
}

// ExpireScheduler enqueues one retention sweep per interval.
type ExpireScheduler struct {
	queue         Enqueuer
	log           *zap.Logger
	interval      time.Duration
	retentionDays int
}

func NewExpireScheduler(queue Enqueuer, log *zap.Logger, interval time.Duration, retentionDays int) *ExpireScheduler {
	return &ExpireScheduler{
		queue:         queue,
		log:           log,
		interval:      interval,
		retentionDays: retentionDays,
	}
}

func (s *ExpireScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.schedule(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.schedule(ctx, now)
		}
	}
}

func (s *ExpireScheduler) schedule(ctx context.Context, now time.Time) {
	task, err := queue.NewArtifactExpireTask(queue.ArtifactExpirePayload{RetentionDays: s.retentionDays})
	if err != nil {
		s.log.Error("scheduler: create expire task", zap.Error(err))
		return
	}
	// One sweep per interval window, even with several worker processes.
	taskID := fmt.Sprintf("expire-%d", now.Truncate(s.interval).Unix())
	_, err = s.queue.EnqueueContext(ctx, task, asynq.TaskID(taskID))
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return
		}
		s.log.Error("scheduler: enqueue expire task", zap.Error(err))
	}
}
