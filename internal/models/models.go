package models

// ExportStatus is the lifecycle state of an export job.
type ExportStatus string

const (
	ExportStatusInProgress         ExportStatus = "in-progress"
	ExportStatusSuccess            ExportStatus = "success"
	ExportStatusSuccessWithWarning ExportStatus = "success-with-warnings"
	ExportStatusFailed             ExportStatus = "failed"
	// ExportStatusExpired is set after the retention sweep deleted the artifact.
	ExportStatusExpired ExportStatus = "expired"
)

// Terminal reports whether no further transition is expected from s.
func (s ExportStatus) Terminal() bool {
	return s != ExportStatusInProgress
}

// Downloadable reports whether the artifact of a job in status s may be fetched.
func (s ExportStatus) Downloadable() bool {
	return s == ExportStatusSuccess || s == ExportStatusSuccessWithWarning
}

// ExportStep marks the phase an export job last entered.
type ExportStep string

const (
	StepLanguagePrep ExportStep = "language-prep"
	StepRecordPrep   ExportStep = "record-prep"
	StepLocationPrep ExportStep = "location-prep"
	StepHeaderPrep   ExportStep = "header-prep"
	StepExporting    ExportStep = "exporting"
	StepArchiving    ExportStep = "archiving"
	StepEncrypting   ExportStep = "encrypting"
	StepFinished     ExportStep = "finished"
)

// RowError records one rejected row of an export.
type RowError struct {
	RecordID string `json:"record_id"`
	Reason   string `json:"reason"`
}

// MaxRowErrors bounds how many rejected rows are kept on a job record;
// FailedRecords keeps counting past it.
const MaxRowErrors = 50
