package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	TypeExportRun      = "export:run"
	TypeArtifactVerify = "artifact:verify"
	TypeArtifactExpire = "artifact:expire"

	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// ExportRunPayload is the task payload for TypeExportRun. The passphrase
// travels sealed with the KMS key and never reaches the job table.
type ExportRunPayload struct {
	JobID            uuid.UUID `json:"job_id"`
	SealedPassphrase string    `json:"sealed_passphrase,omitempty"`
}

// ArtifactVerifyPayload is the task payload for TypeArtifactVerify.
type ArtifactVerifyPayload struct {
	JobID uuid.UUID `json:"job_id"`
}

// ArtifactExpirePayload is the task payload for TypeArtifactExpire.
type ArtifactExpirePayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewExportRunTask builds the export task. A failed export is terminal, so
// the task is never retried; timeout bounds one run.
func NewExportRunTask(p ExportRunPayload, timeout time.Duration) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal ExportRun: %w", err)
	}
	opts := []asynq.Option{asynq.Queue(QueueDefault), asynq.MaxRetry(0), asynq.TaskID(p.JobID.String())}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	return asynq.NewTask(TypeExportRun, b, opts...), nil
}

func NewArtifactVerifyTask(p ArtifactVerifyPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal ArtifactVerify: %w", err)
	}
	return asynq.NewTask(TypeArtifactVerify, b, asynq.Queue(QueueLow), asynq.MaxRetry(3)), nil
}

func NewArtifactExpireTask(p ArtifactExpirePayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal ArtifactExpire: %w", err)
	}
	return asynq.NewTask(TypeArtifactExpire, b, asynq.Queue(QueueLow)), nil
}

func ParseExportRunPayload(t *asynq.Task) (ExportRunPayload, error) {
	var p ExportRunPayload
	err := json.Unmarshal(t.Payload(), &p)
	return p, err
}

func ParseArtifactVerifyPayload(t *asynq.Task) (ArtifactVerifyPayload, error) {
	var p ArtifactVerifyPayload
	err := json.Unmarshal(t.Payload(), &p)
	return p, err
}

func ParseArtifactExpirePayload(t *asynq.Task) (ArtifactExpirePayload, error) {
	var p ArtifactExpirePayload
	err := json.Unmarshal(t.Payload(), &p)
	return p, err
}
