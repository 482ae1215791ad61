package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/godata/exporter/internal/models"
)

// ErrNotFound is returned when no job matches.
var ErrNotFound = errors.New("db: export job not found")

// ── ExportJobRepository ───────────────────────────────────────────────────────

type ExportJobRepository struct{ db *pgxpool.Pool }

func NewExportJobRepository(db *pgxpool.Pool) *ExportJobRepository {
	return &ExportJobRepository{db: db}
}

const jobColumns = `id,user_id,collection,format,status,status_step,
	total_records,processed_records,failed_records,row_errors,mime_type,extension,encrypted,
	request,artifact_key,artifact_provider,artifact_sha256,artifact_bytes,
	cancel_requested,error_msg,error_stack,verified_at,completed_at,created_at,updated_at`

func (r *ExportJobRepository) Create(ctx context.Context, j *models.ExportJob) error {
	rowErrs, err := json.Marshal(nonNil(j.RowErrors))
	if err != nil {
		return fmt.Errorf("export_job create: %w", err)
	}
	const q = `INSERT INTO export_jobs
		(id,user_id,collection,format,status,status_step,row_errors,request,created_at,updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,now(),now())
		RETURNING created_at,updated_at`
	return r.db.QueryRow(ctx, q,
		j.ID, j.UserID, j.Collection, j.Format, j.Status, j.StatusStep, rowErrs, []byte(j.Request),
	).Scan(&j.CreatedAt, &j.UpdatedAt)
}

// Update persists the engine-owned fields of j. cancel_requested is owned by
// the API and is never written here.
func (r *ExportJobRepository) Update(ctx context.Context, j *models.ExportJob) error {
	rowErrs, err := json.Marshal(nonNil(j.RowErrors))
	if err != nil {
		return fmt.Errorf("export_job update: %w", err)
	}
	const q = `UPDATE export_jobs SET
		status=$2, status_step=$3, total_records=$4, processed_records=$5, failed_records=$6,
		row_errors=$7, mime_type=$8, extension=$9, encrypted=$10,
		artifact_key=$11, artifact_provider=$12, artifact_sha256=$13, artifact_bytes=$14,
		error_msg=$15, error_stack=$16, completed_at=$17, updated_at=now()
		WHERE id=$1
		RETURNING updated_at`
	err = r.db.QueryRow(ctx, q,
		j.ID, j.Status, j.StatusStep, j.TotalRecords, j.ProcessedRecords, j.FailedRecords,
		rowErrs, j.MimeType, j.Extension, j.Encrypted,
		j.ArtifactKey, j.ArtifactProvider, j.ArtifactSHA256, j.ArtifactBytes,
		j.ErrorMsg, j.ErrorStack, j.CompletedAt,
	).Scan(&j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *ExportJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ExportJob, error) {
	q := `SELECT ` + jobColumns + ` FROM export_jobs WHERE id=$1`
	j, err := scanJob(r.db.QueryRow(ctx, q, id))
	if err != nil {
		return nil, fmt.Errorf("export_job get: %w", err)
	}
	return j, nil
}

// GetForUser returns the job only when userID owns it.
func (r *ExportJobRepository) GetForUser(ctx context.Context, id uuid.UUID, userID string) (*models.ExportJob, error) {
	q := `SELECT ` + jobColumns + ` FROM export_jobs WHERE id=$1 AND user_id=$2`
	j, err := scanJob(r.db.QueryRow(ctx, q, id, userID))
	if err != nil {
		return nil, fmt.Errorf("export_job get: %w", err)
	}
	return j, nil
}

func (r *ExportJobRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.ExportJob, error) {
	q := `SELECT ` + jobColumns + ` FROM export_jobs WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return r.scanJobs(ctx, q, userID, limit, offset)
}

// RequestCancel flags a running job owned by userID. It reports whether a
// running job was flagged.
func (r *ExportJobRepository) RequestCancel(ctx context.Context, id uuid.UUID, userID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE export_jobs SET cancel_requested=true, updated_at=now() WHERE id=$1 AND user_id=$2 AND status=$3`,
		id, userID, models.ExportStatusInProgress,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ExportJobRepository) CancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	var flag bool
	err := r.db.QueryRow(ctx, `SELECT cancel_requested FROM export_jobs WHERE id=$1`, id).Scan(&flag)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	return flag, err
}

// ListExpired returns downloadable jobs completed more than retentionDays ago.
func (r *ExportJobRepository) ListExpired(ctx context.Context, retentionDays int) ([]*models.ExportJob, error) {
	q := `SELECT ` + jobColumns + ` FROM export_jobs
		WHERE status IN ($1,$2)
		  AND completed_at < now() - ($3 || ' days')::interval`
	return r.scanJobs(ctx, q, models.ExportStatusSuccess, models.ExportStatusSuccessWithWarning, fmt.Sprint(retentionDays))
}

// MarkExpired sets a job's status to expired after its artifact was deleted.
func (r *ExportJobRepository) MarkExpired(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE export_jobs SET status=$2, artifact_key='', updated_at=now() WHERE id=$1`,
		id, models.ExportStatusExpired,
	)
	return err
}

// MarkVerified stamps verified_at = NOW() on a successfully integrity-checked artifact.
func (r *ExportJobRepository) MarkVerified(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE export_jobs SET verified_at=now(), updated_at=now() WHERE id=$1`,
		id,
	)
	return err
}

func (r *ExportJobRepository) scanJobs(ctx context.Context, q string, args ...any) ([]*models.ExportJob, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.ExportJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*models.ExportJob, error) {
	j := &models.ExportJob{}
	var rowErrs, request []byte
	err := row.Scan(
		&j.ID, &j.UserID, &j.Collection, &j.Format, &j.Status, &j.StatusStep,
		&j.TotalRecords, &j.ProcessedRecords, &j.FailedRecords, &rowErrs, &j.MimeType, &j.Extension, &j.Encrypted,
		&request, &j.ArtifactKey, &j.ArtifactProvider, &j.ArtifactSHA256, &j.ArtifactBytes,
		&j.CancelRequested, &j.ErrorMsg, &j.ErrorStack, &j.VerifiedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(rowErrs) > 0 {
		if err := json.Unmarshal(rowErrs, &j.RowErrors); err != nil {
			return nil, fmt.Errorf("row_errors: %w", err)
		}
	}
	j.Request = request
	return j, nil
}

func nonNil(errs []models.RowError) []models.RowError {
	if errs == nil {
		return []models.RowError{}
	}
	return errs
}
