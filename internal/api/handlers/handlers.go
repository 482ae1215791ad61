package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/godata/exporter/internal/api/middleware"
	"github.com/godata/exporter/internal/export"
	"github.com/godata/exporter/internal/models"
)

// JobStore is the job table as the API sees it; *db.ExportJobRepository
// satisfies it.
type JobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	Update(ctx context.Context, job *models.ExportJob) error
	GetForUser(ctx context.Context, id uuid.UUID, userID string) (*models.ExportJob, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.ExportJob, error)
	RequestCancel(ctx context.Context, id uuid.UUID, userID string) (bool, error)
}

// Planner validates export requests; *export.Engine satisfies it.
type Planner interface {
	Prepare(req export.Request) (*export.Plan, error)
}

// Sealer binds a passphrase to its job for the task queue; *kms.Encryptor
// satisfies it.
type Sealer interface {
	SealPassphrase(jobID uuid.UUID, passphrase string) (string, error)
}

type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type ArtifactReader interface {
	OpenArtifact(ctx context.Context, key string) (io.ReadCloser, error)
}

type Handlers struct {
	jobs          JobStore
	planner       Planner
	kms           Sealer
	queue         Enqueuer
	storage       ArtifactReader
	log           *zap.Logger
	jobTimeout    time.Duration
	watchInterval time.Duration
}

func NewHandlers(jobs JobStore, planner Planner, kms Sealer, queue Enqueuer, store ArtifactReader, log *zap.Logger, jobTimeout time.Duration) *Handlers {
	return &Handlers{
		jobs:          jobs,
		planner:       planner,
		kms:           kms,
		queue:         queue,
		storage:       store,
		log:           log,
		jobTimeout:    jobTimeout,
		watchInterval: time.Second,
	}
}

// ── Error helpers ─────────────────────────────────────────────────────────────

type errResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	ReqID   string `json:"request_id,omitempty"`
}

// apiErr returns an *echo.HTTPError carrying errResponse as its message, so
// helpers can hand it back to callers and Echo's error handler renders it.
func apiErr(c echo.Context, code int, msg string) error {
	return fieldErr(c, code, msg, "")
}

func fieldErr(c echo.Context, code int, msg, field string) error {
	reqID, _ := c.Get(middleware.ContextKeyRequestID).(string)
	return echo.NewHTTPError(code, errResponse{Code: code, Message: msg, Field: field, ReqID: reqID})
}

// mustUserID extracts the authenticated user id from the Echo context.
// Returns a 500 if middleware failed to populate the value.
func mustUserID(c echo.Context) (string, error) {
	id := middleware.UserID(c)
	if id == "" {
		return "", apiErr(c, http.StatusInternalServerError, "auth context missing")
	}
	return id, nil
}
