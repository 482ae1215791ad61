package export

import (
	"errors"
	"fmt"
)

// ConfigError reports a request that cannot be exported as asked: malformed
// filter, unsupported format, incomplete descriptor. It is raised before any
// job record exists.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "export: invalid " + e.Field + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErr(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// RowError is a row rejected by the target format. The export continues.
type RowError struct {
	RecordID string
	Err      error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("export: record %s rejected: %v", e.RecordID, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

var (
	// ErrResidualView means rows were left in the materialized view after
	// writing finished, i.e. records were silently dropped.
	ErrResidualView = errors.New("export: materialized view not fully consumed")

	// ErrCanceled is returned when the job's cancel flag was observed.
	ErrCanceled = errors.New("canceled")
)

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
