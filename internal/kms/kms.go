// Package kms protects export passphrases and artifacts.
//
// A passphrase travels from the API to the worker inside an asynq payload,
// so it is sealed with the master key (AES-256-GCM, key held as 64 hex
// chars in EXPORTER_KMS_KEY) and bound to the export job it belongs to:
// the job id is the GCM additional data, so a sealed passphrase lifted from
// one task cannot be replayed into another job's payload.
package kms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

const sealPrefix = "v1."

// ErrSealMismatch is returned when a sealed value does not open under the
// given job id: it was tampered with or sealed for another job.
var ErrSealMismatch = errors.New("kms: sealed value does not belong to this job")

// Encryptor holds the AES-256-GCM master key.
type Encryptor struct {
	aead cipher.AEAD
}

// New creates an Encryptor from a 64-char hex-encoded 32-byte master key.
func New(hexKey string) (*Encryptor, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("kms: decode key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("kms: master key must be 32 bytes (got %d)", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("kms: aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("kms: gcm: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

func jobAAD(jobID uuid.UUID) []byte {
	return append([]byte("export-passphrase:"), jobID[:]...)
}

// SealPassphrase seals passphrase for jobID and returns
// "v1." + base64url(nonce || ciphertext).
func (e *Encryptor) SealPassphrase(jobID uuid.UUID, passphrase string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("kms: nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(passphrase), jobAAD(jobID))
	return sealPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// OpenPassphrase reverses SealPassphrase. It fails with ErrSealMismatch
// when the value was sealed for a different job.
func (e *Encryptor) OpenPassphrase(jobID uuid.UUID, sealed string) (string, error) {
	body, ok := strings.CutPrefix(sealed, sealPrefix)
	if !ok {
		return "", fmt.Errorf("kms: unknown seal format")
	}
	data, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("kms: decode seal: %w", err)
	}
	ns := e.aead.NonceSize()
	if len(data) < ns+e.aead.Overhead() {
		return "", fmt.Errorf("kms: sealed value too short")
	}
	plain, err := e.aead.Open(nil, data[:ns], data[ns:], jobAAD(jobID))
	if err != nil {
		return "", ErrSealMismatch
	}
	return string(plain), nil
}
