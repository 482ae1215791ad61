package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/godata/exporter/internal/db"
	"github.com/godata/exporter/internal/export"
	"github.com/godata/exporter/internal/models"
	"github.com/godata/exporter/internal/queue"
)

// CreateExportRequest is the body of POST /exports.
type CreateExportRequest struct {
	export.Request
	Passphrase string `json:"passphrase,omitempty"`
}

type createExportResponse struct {
	JobID uuid.UUID `json:"job_id"`
}

// CreateExport validates the request synchronously, records the job and
// hands it to the worker. The response carries only the job id.
func (h *Handlers) CreateExport(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}

	var req CreateExportRequest
	if err := c.Bind(&req); err != nil {
		return apiErr(c, http.StatusBadRequest, "invalid request body")
	}

	plan, err := h.planner.Prepare(req.Request)
	if err != nil {
		var ce *export.ConfigError
		if errors.As(err, &ce) {
			return fieldErr(c, http.StatusBadRequest, ce.Error(), ce.Field)
		}
		return apiErr(c, http.StatusBadRequest, err.Error())
	}

	raw, err := json.Marshal(plan.Request)
	if err != nil {
		return apiErr(c, http.StatusInternalServerError, "failed to encode request")
	}
	job := &models.ExportJob{
		ID:         uuid.New(),
		UserID:     userID,
		Collection: plan.Request.Descriptor.Collection,
		Format:     string(plan.Format),
		Status:     models.ExportStatusInProgress,
		StatusStep: models.StepLanguagePrep,
		MimeType:   plan.Format.MimeType(),
		Extension:  plan.Format.Extension(),
		Request:    raw,
	}

	payload := queue.ExportRunPayload{JobID: job.ID}
	if req.Passphrase != "" {
		if payload.SealedPassphrase, err = h.kms.SealPassphrase(job.ID, req.Passphrase); err != nil {
			return apiErr(c, http.StatusInternalServerError, "failed to seal passphrase")
		}
	}
	task, err := queue.NewExportRunTask(payload, h.jobTimeout)
	if err != nil {
		return apiErr(c, http.StatusInternalServerError, "failed to create export task")
	}

	ctx := c.Request().Context()
	if err := h.jobs.Create(ctx, job); err != nil {
		h.log.Error("create export job", zap.Error(err))
		return apiErr(c, http.StatusInternalServerError, "failed to create export job")
	}
	if _, err := h.queue.EnqueueContext(ctx, task); err != nil {
		h.log.Error("enqueue export task", zap.String("job_id", job.ID.String()), zap.Error(err))
		msg := "enqueue failed: " + err.Error()
		now := time.Now().UTC()
		job.Status, job.ErrorMsg, job.CompletedAt = models.ExportStatusFailed, &msg, &now
		if uerr := h.jobs.Update(ctx, job); uerr != nil {
			h.log.Error("persist failed state", zap.String("job_id", job.ID.String()), zap.Error(uerr))
		}
		return apiErr(c, http.StatusServiceUnavailable, "failed to enqueue export")
	}

	c.Response().Header().Set(echo.HeaderLocation, "/api/v1/exports/"+job.ID.String())
	return c.JSON(http.StatusAccepted, createExportResponse{JobID: job.ID})
}

// loadJob resolves :id to a job owned by the caller.
func (h *Handlers) loadJob(c echo.Context) (*models.ExportJob, error) {
	userID, err := mustUserID(c)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, apiErr(c, http.StatusBadRequest, "invalid id")
	}
	job, err := h.jobs.GetForUser(c.Request().Context(), id, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apiErr(c, http.StatusNotFound, "export not found")
	}
	if err != nil {
		h.log.Error("get export job", zap.String("job_id", id.String()), zap.Error(err))
		return nil, apiErr(c, http.StatusInternalServerError, "failed to load export")
	}
	return job, nil
}

func (h *Handlers) GetExport(c echo.Context) error {
	job, err := h.loadJob(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job.View())
}

func (h *Handlers) ListExports(c echo.Context) error {
	userID, err := mustUserID(c)
	if err != nil {
		return err
	}

	limit := 50
	offset := 0
	if l := c.QueryParam("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}
	if o := c.QueryParam("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}

	jobs, err := h.jobs.ListByUser(c.Request().Context(), userID, limit, offset)
	if err != nil {
		return apiErr(c, http.StatusInternalServerError, "failed to list exports")
	}
	views := make([]models.ExportStatusView, len(jobs))
	for i, j := range jobs {
		views[i] = j.View()
	}
	return c.JSON(http.StatusOK, views)
}

// CancelExport flags a running job; the engine stops between batches.
func (h *Handlers) CancelExport(c echo.Context) error {
	job, err := h.loadJob(c)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return apiErr(c, http.StatusConflict, "export is not running")
	}
	ok, err := h.jobs.RequestCancel(c.Request().Context(), job.ID, job.UserID)
	if err != nil {
		return apiErr(c, http.StatusInternalServerError, "failed to cancel export")
	}
	if !ok {
		return apiErr(c, http.StatusConflict, "export is not running")
	}
	return c.JSON(http.StatusAccepted, map[string]any{"job_id": job.ID, "cancel_requested": true})
}

// DownloadExport streams the finished artifact.
func (h *Handlers) DownloadExport(c echo.Context) error {
	job, err := h.loadJob(c)
	if err != nil {
		return err
	}
	if !job.Status.Downloadable() {
		return apiErr(c, http.StatusConflict, fmt.Sprintf("export is %s", job.Status))
	}
	if job.ArtifactKey == "" {
		return apiErr(c, http.StatusNotFound, "no artifact available for this export")
	}

	body, err := h.storage.OpenArtifact(c.Request().Context(), job.ArtifactKey)
	if err != nil {
		h.log.Error("open artifact", zap.String("job_id", job.ID.String()), zap.Error(err))
		return apiErr(c, http.StatusInternalServerError, "failed to retrieve artifact")
	}
	defer body.Close()

	filename := job.ID.String() + "." + job.Extension
	if job.Encrypted {
		filename += ".enc"
	}
	hdr := c.Response().Header()
	hdr.Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	if job.ArtifactSHA256 != "" {
		hdr.Set("X-SHA256", job.ArtifactSHA256)
	}
	mime := job.MimeType
	if job.Encrypted {
		mime = "application/octet-stream"
	}
	return c.Stream(http.StatusOK, mime, body)
}
