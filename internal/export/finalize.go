package export

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/godata/exporter/internal/export/sink"
	"github.com/godata/exporter/internal/kms"
	"github.com/godata/exporter/internal/models"
)

// Artifact is the single file handed to the client.
type Artifact struct {
	Path      string
	Extension string
	MimeType  string
	Encrypted bool
	// Entries is the number of physical files packaged in the artifact.
	Entries int
}

// FinalizeOptions control packaging of the produced files.
type FinalizeOptions struct {
	Dir        string
	Base       string
	Format     sink.Format
	Passphrase string
	// Step is told about each packaging phase before it starts.
	Step func(models.ExportStep) error
}

// Finalize packages the files a sink produced into one artifact: several
// files are zipped in production order, then the result is encrypted with
// the passphrase when one is given. The input files are consumed.
func Finalize(files []string, opts FinalizeOptions) (Artifact, error) {
	if len(files) == 0 {
		return Artifact{}, fmt.Errorf("export: finalize: no files produced")
	}
	step := opts.Step
	if step == nil {
		step = func(models.ExportStep) error { return nil }
	}
	art := Artifact{Extension: opts.Format.Extension(), MimeType: opts.Format.MimeType(), Entries: len(files)}

	if len(files) == 1 {
		art.Path = filepath.Join(opts.Dir, opts.Base+"."+art.Extension)
		if err := os.Rename(files[0], art.Path); err != nil {
			return Artifact{}, fmt.Errorf("export: finalize: %w", err)
		}
	} else {
		if err := step(models.StepArchiving); err != nil {
			return Artifact{}, err
		}
		art.Extension, art.MimeType = "zip", "application/zip"
		art.Path = filepath.Join(opts.Dir, opts.Base+".zip")
		if err := archive(art.Path, files); err != nil {
			os.Remove(art.Path)
			return Artifact{}, err
		}
		removeFiles(files)
	}

	if opts.Passphrase != "" {
		if err := step(models.StepEncrypting); err != nil {
			return Artifact{}, err
		}
		if err := kms.EncryptFile(art.Path, opts.Passphrase); err != nil {
			return Artifact{}, fmt.Errorf("export: finalize: %w", err)
		}
		art.Encrypted = true
	}
	return art, nil
}

func archive(dst string, files []string) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("export: archive: %w", err)
	}
	zw := zip.NewWriter(out)
	for _, f := range files {
		if err := addToArchive(zw, f); err != nil {
			zw.Close()
			out.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return fmt.Errorf("export: archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("export: archive: %w", err)
	}
	return nil
}

func addToArchive(zw *zip.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("export: archive: %w", err)
	}
	defer in.Close()
	w, err := zw.CreateHeader(&zip.FileHeader{Name: filepath.Base(path), Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("export: archive: %w", err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("export: archive %s: %w", filepath.Base(path), err)
	}
	return nil
}

func removeFiles(paths []string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}
