// Package checksum provides SHA-256 digests for export artifacts and their
// verification after upload or download.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Sum hashes everything read from r and reports the byte count.
func Sum(r io.Reader) (hexDigest string, n int64, err error) {
	h := sha256.New()
	n, err = io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("checksum: read: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// SumFile hashes the file at path.
func SumFile(path string) (hexDigest string, n int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("checksum: open: %w", err)
	}
	defer f.Close()
	return Sum(f)
}

// Verify confirms that the SHA-256 of r matches expected.
func Verify(r io.Reader, expectedHex string) error {
	got, _, err := Sum(r)
	if err != nil {
		return err
	}
	if got != expectedHex {
		return fmt.Errorf("checksum: sha256 mismatch: got %s, expected %s", got, expectedHex)
	}
	return nil
}
