package storage

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a key does not exist in a backend.
var ErrNotFound = errors.New("storage: key not found")

// ArtifactKey is the object key of a job's artifact:
// exports/<job_id>.<ext>
func ArtifactKey(jobID uuid.UUID, ext string) string {
	return path.Join("exports", jobID.String()+"."+strings.TrimPrefix(ext, "."))
}

// validKey rejects keys that could escape a backend's root.
func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("storage: invalid key %q", key)
	}
	return nil
}

func rewind(body io.ReadSeeker) error {
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("storage: rewind body: %w", err)
	}
	return nil
}
