package kms_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godata/exporter/internal/kms"
)

func TestEncryptFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.csv")
	plain := bytes.Repeat([]byte("id,name\n1,Maria\n"), 1000)
	require.NoError(t, os.WriteFile(path, plain, 0o600))

	require.NoError(t, kms.EncryptFile(path, "correct horse"))
	sealed, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "Maria")
	assert.Equal(t, "GDX1", string(sealed[:4]))

	out := filepath.Join(dir, "job.plain.csv")
	require.NoError(t, kms.DecryptFile(path, out, "correct horse"))
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	_, err = os.Stat(path + ".enc")
	assert.True(t, os.IsNotExist(err), "temporary file removed")
}

func TestDecryptFile_WrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"a":1}]`), 0o600))
	require.NoError(t, kms.EncryptFile(path, "one"))

	out := filepath.Join(dir, "out.json")
	err := kms.DecryptFile(path, out, "two")
	assert.ErrorIs(t, err, kms.ErrBadPassphrase)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "no partial plaintext left behind")
}

func TestDecryptStream_Tampered(t *testing.T) {
	var sealed bytes.Buffer
	require.NoError(t, kms.EncryptStream(&sealed, bytes.NewReader([]byte("payload")), "pw"))
	raw := sealed.Bytes()
	raw[len(raw)-40] ^= 0xff

	var out bytes.Buffer
	err := kms.DecryptStream(&out, bytes.NewReader(raw), int64(len(raw)), "pw")
	assert.ErrorIs(t, err, kms.ErrBadPassphrase)
	assert.Zero(t, out.Len())
}

func TestEncryptStream_EmptyPassphrase(t *testing.T) {
	err := kms.EncryptStream(&bytes.Buffer{}, bytes.NewReader(nil), "")
	assert.Error(t, err)
}
