package kms_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godata/exporter/internal/kms"
)

const testKey = "0000000000000000000000000000000000000000000000000000000000000000"

func newTestEncryptor(t *testing.T) *kms.Encryptor {
	t.Helper()
	enc, err := kms.New(testKey)
	require.NoError(t, err)
	return enc
}

func TestNew_RejectsBadKeys(t *testing.T) {
	_, err := kms.New("not-valid-hex")
	require.ErrorContains(t, err, "decode key")

	_, err = kms.New(strings.Repeat("0", 32))
	require.ErrorContains(t, err, "32 bytes")
}

func TestSealPassphrase_OpensForSameJob(t *testing.T) {
	enc := newTestEncryptor(t)
	job := uuid.New()

	sealed, err := enc.SealPassphrase(job, "correct horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "v1."))
	assert.NotContains(t, sealed, "correct horse")

	got, err := enc.OpenPassphrase(job, sealed)
	require.NoError(t, err)
	assert.Equal(t, "correct horse", got)
}

func TestOpenPassphrase_OtherJobIsRejected(t *testing.T) {
	enc := newTestEncryptor(t)
	sealed, err := enc.SealPassphrase(uuid.New(), "pw")
	require.NoError(t, err)

	_, err = enc.OpenPassphrase(uuid.New(), sealed)
	assert.ErrorIs(t, err, kms.ErrSealMismatch)
}

func TestSealPassphrase_FreshNoncePerSeal(t *testing.T) {
	enc := newTestEncryptor(t)
	job := uuid.New()
	a, err := enc.SealPassphrase(job, "pw")
	require.NoError(t, err)
	b, err := enc.SealPassphrase(job, "pw")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpenPassphrase_Malformed(t *testing.T) {
	enc := newTestEncryptor(t)
	job := uuid.New()
	sealed, err := enc.SealPassphrase(job, "pw")
	require.NoError(t, err)

	for name, in := range map[string]string{
		"empty":      "",
		"no prefix":  strings.TrimPrefix(sealed, "v1."),
		"bad base64": "v1.!!!",
		"too short":  "v1.AAAA",
		"tampered":   flipChar(sealed, len(sealed)/2),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := enc.OpenPassphrase(job, in)
			require.Error(t, err)
		})
	}
}

func TestSealPassphrase_EmptyPassphrase(t *testing.T) {
	enc := newTestEncryptor(t)
	job := uuid.New()
	sealed, err := enc.SealPassphrase(job, "")
	require.NoError(t, err)
	got, err := enc.OpenPassphrase(job, sealed)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func flipChar(s string, i int) string {
	c := byte('A')
	if s[i] == 'A' {
		c = 'B'
	}
	return s[:i] + string(c) + s[i+1:]
}
