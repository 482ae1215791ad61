package kms

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/scrypt"
)

// Passphrase-encrypted files are laid out as
//
//	magic(4) || salt(16) || iv(16) || AES-256-CTR ciphertext || HMAC-SHA256(32)
//
// where the HMAC covers everything before it. Both keys derive from the
// passphrase with scrypt.
var fileMagic = []byte("GDX1")

const (
	saltSize   = 16
	headerSize = 4 + saltSize + aes.BlockSize
	macSize    = sha256.Size

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// ErrBadPassphrase is returned when the file authenticator does not match,
// which is what a wrong passphrase or a tampered file produces.
var ErrBadPassphrase = errors.New("kms: wrong passphrase or corrupted file")

func deriveKeys(passphrase string, salt []byte) (encKey, macKey []byte, err error) {
	k, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("kms: derive key: %w", err)
	}
	return k[:32], k[32:], nil
}

// EncryptStream encrypts r into w with a key derived from passphrase.
func EncryptStream(w io.Writer, r io.Reader, passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("kms: empty passphrase")
	}
	header := make([]byte, headerSize)
	copy(header, fileMagic)
	if _, err := io.ReadFull(rand.Reader, header[4:]); err != nil {
		return fmt.Errorf("kms: salt: %w", err)
	}
	salt, iv := header[4:4+saltSize], header[4+saltSize:]
	encKey, macKey, err := deriveKeys(passphrase, salt)
	if err != nil {
		return err
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return fmt.Errorf("kms: aes: %w", err)
	}
	mac := hmac.New(sha256.New, macKey)
	out := io.MultiWriter(w, mac)
	if _, err := out.Write(header); err != nil {
		return fmt.Errorf("kms: write header: %w", err)
	}
	sw := &cipher.StreamWriter{S: cipher.NewCTR(block, iv), W: out}
	if _, err := io.Copy(sw, r); err != nil {
		return fmt.Errorf("kms: encrypt: %w", err)
	}
	if _, err := w.Write(mac.Sum(nil)); err != nil {
		return fmt.Errorf("kms: write mac: %w", err)
	}
	return nil
}

// DecryptStream authenticates then decrypts the size-byte ciphertext in r
// into w. Nothing is written to w when authentication fails.
func DecryptStream(w io.Writer, r io.ReaderAt, size int64, passphrase string) error {
	if size < headerSize+macSize {
		return ErrBadPassphrase
	}
	header := make([]byte, headerSize)
	if _, err := r.ReadAt(header, 0); err != nil {
		return fmt.Errorf("kms: read header: %w", err)
	}
	if !bytes.Equal(header[:4], fileMagic) {
		return fmt.Errorf("kms: not an encrypted export")
	}
	salt, iv := header[4:4+saltSize], header[4+saltSize:]
	encKey, macKey, err := deriveKeys(passphrase, salt)
	if err != nil {
		return err
	}
	bodyEnd := size - macSize
	want := make([]byte, macSize)
	if _, err := r.ReadAt(want, bodyEnd); err != nil {
		return fmt.Errorf("kms: read mac: %w", err)
	}
	if err := checkMAC(hmac.New(sha256.New, macKey), io.NewSectionReader(r, 0, bodyEnd), want); err != nil {
		return err
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return fmt.Errorf("kms: aes: %w", err)
	}
	sr := &cipher.StreamReader{S: cipher.NewCTR(block, iv), R: io.NewSectionReader(r, headerSize, bodyEnd-headerSize)}
	if _, err := io.Copy(w, sr); err != nil {
		return fmt.Errorf("kms: decrypt: %w", err)
	}
	return nil
}

func checkMAC(mac hash.Hash, body io.Reader, want []byte) error {
	if _, err := io.Copy(mac, body); err != nil {
		return fmt.Errorf("kms: read body: %w", err)
	}
	if !hmac.Equal(mac.Sum(nil), want) {
		return ErrBadPassphrase
	}
	return nil
}

// EncryptFile replaces the plaintext file at path with its encrypted form.
func EncryptFile(path, passphrase string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("kms: open: %w", err)
	}
	defer in.Close()
	tmp := path + ".enc"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("kms: create: %w", err)
	}
	if err := EncryptStream(out, in, passphrase); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("kms: close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("kms: rename: %w", err)
	}
	return nil
}

// DecryptFile writes the plaintext of the encrypted file src to dst.
func DecryptFile(src, dst, passphrase string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("kms: open: %w", err)
	}
	defer in.Close()
	st, err := in.Stat()
	if err != nil {
		return fmt.Errorf("kms: stat: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("kms: create: %w", err)
	}
	if err := DecryptStream(out, in, st.Size(), passphrase); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
