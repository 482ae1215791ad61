package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExportJob is the persisted record of one export invocation. It is created
// before any heavy work starts and is the single source of truth clients poll.
type ExportJob struct {
	ID               uuid.UUID       `db:"id"                json:"id"`
	UserID           string          `db:"user_id"           json:"user_id"`
	Collection       string          `db:"collection"        json:"collection"`
	Format           string          `db:"format"            json:"format"`
	Status           ExportStatus    `db:"status"            json:"status"`
	StatusStep       ExportStep      `db:"status_step"       json:"status_step"`
	TotalRecords     int64           `db:"total_records"     json:"total_records"`
	ProcessedRecords int64           `db:"processed_records" json:"processed_records"`
	FailedRecords    int64           `db:"failed_records"    json:"failed_records"`
	RowErrors        []RowError      `db:"row_errors"        json:"row_errors,omitempty"`
	MimeType         string          `db:"mime_type"         json:"mime_type"`
	Extension        string          `db:"extension"         json:"extension"`
	Encrypted        bool            `db:"encrypted"         json:"encrypted"`
	Request          json.RawMessage `db:"request"           json:"-"`
	ArtifactKey      string          `db:"artifact_key"      json:"-"`
	ArtifactProvider string          `db:"artifact_provider" json:"-"`
	ArtifactSHA256   string          `db:"artifact_sha256"   json:"artifact_sha256,omitempty"`
	ArtifactBytes    int64           `db:"artifact_bytes"    json:"artifact_bytes,omitempty"`
	CancelRequested  bool            `db:"cancel_requested"  json:"cancel_requested"`
	ErrorMsg         *string         `db:"error_msg"         json:"error_msg,omitempty"`
	ErrorStack       *string         `db:"error_stack"       json:"-"`
	VerifiedAt       *time.Time      `db:"verified_at"       json:"verified_at,omitempty"`
	CompletedAt      *time.Time      `db:"completed_at"      json:"completed_at,omitempty"`
	CreatedAt        time.Time       `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"        json:"updated_at"`
}

// AddRowError counts a rejected row and keeps its detail while room remains.
func (j *ExportJob) AddRowError(recordID, reason string) {
	j.FailedRecords++
	if len(j.RowErrors) < MaxRowErrors {
		j.RowErrors = append(j.RowErrors, RowError{RecordID: recordID, Reason: reason})
	}
}

// ExportStatusView is the read model returned to polling clients.
type ExportStatusView struct {
	JobID            uuid.UUID    `json:"job_id"`
	Status           ExportStatus `json:"status"`
	StatusStep       ExportStep   `json:"status_step"`
	TotalRecords     int64        `json:"total_records"`
	ProcessedRecords int64        `json:"processed_records"`
	FailedRecords    int64        `json:"failed_records"`
	RowErrors        []RowError   `json:"row_errors,omitempty"`
	MimeType         string       `json:"mime_type"`
	Extension        string       `json:"extension"`
	Encrypted        bool         `json:"encrypted"`
	ErrorMsg         *string      `json:"error_msg,omitempty"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// View projects the job onto its read model.
func (j *ExportJob) View() ExportStatusView {
	return ExportStatusView{
		JobID:            j.ID,
		Status:           j.Status,
		StatusStep:       j.StatusStep,
		TotalRecords:     j.TotalRecords,
		ProcessedRecords: j.ProcessedRecords,
		FailedRecords:    j.FailedRecords,
		RowErrors:        j.RowErrors,
		MimeType:         j.MimeType,
		Extension:        j.Extension,
		Encrypted:        j.Encrypted,
		ErrorMsg:         j.ErrorMsg,
		UpdatedAt:        j.UpdatedAt,
	}
}
