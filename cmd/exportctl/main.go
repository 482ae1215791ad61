// Command exportctl is the operator tool for export artifacts: it decrypts
// and verifies downloaded files, re-imports CSV/JSON exports into a
// collection and mints service keys and user tokens.
package main

import (
	"archive/zip"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/godata/exporter/internal/auth"
	"github.com/godata/exporter/internal/config"
	"github.com/godata/exporter/internal/db"
	"github.com/godata/exporter/internal/docstore/pgstore"
	"github.com/godata/exporter/internal/importer"
	"github.com/godata/exporter/internal/kms"
	"github.com/godata/exporter/pkg/checksum"
	"github.com/godata/exporter/pkg/logger"
)

const usage = `usage: exportctl <command> [flags]

commands:
  decrypt  -in FILE -out FILE -passphrase P
  verify   -in FILE -sha256 HEX
  import   -in FILE -collection NAME [-mapping FILE] [-id-header H] [-batch N]
  keygen
  token    -user ID [-scopes exports:read,exports:write] [-ttl D]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "decrypt":
		err = runDecrypt(os.Args[2:])
	case "verify":
		err = runVerify(os.Args[2:])
	case "import":
		err = runImport(os.Args[2:])
	case "keygen":
		err = runKeygen()
	case "token":
		err = runToken(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "exportctl:", err)
		os.Exit(1)
	}
}

func runDecrypt(args []string) error {
	fs := flag.NewFlagSet("decrypt", flag.ExitOnError)
	in := fs.String("in", "", "encrypted artifact")
	out := fs.String("out", "", "plaintext output file")
	pass := fs.String("passphrase", os.Getenv("EXPORTER_PASSPHRASE"), "export passphrase")
	_ = fs.Parse(args)
	if *in == "" || *out == "" || *pass == "" {
		fs.Usage()
		return fmt.Errorf("decrypt: -in, -out and -passphrase are required")
	}
	if err := kms.DecryptFile(*in, *out, *pass); err != nil {
		return err
	}
	fmt.Printf("decrypted %s -> %s\n", *in, *out)
	return nil
}

func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	in := fs.String("in", "", "artifact file")
	want := fs.String("sha256", "", "expected hex digest (X-SHA256 header)")
	_ = fs.Parse(args)
	if *in == "" || *want == "" {
		fs.Usage()
		return fmt.Errorf("verify: -in and -sha256 are required")
	}
	f, err := os.Open(*in)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := checksum.Verify(f, *want); err != nil {
		fmt.Printf("MISMATCH %s\n", *in)
		return err
	}
	fmt.Printf("OK %s\n", *in)
	return nil
}

// mappingFile is the YAML (or JSON) header to path mapping for import.
type mappingFile struct {
	IDHeader string            `yaml:"id_header"`
	Skip     []string          `yaml:"skip"`
	Columns  map[string]string `yaml:"columns"`
}

func loadMapping(path string) (mappingFile, error) {
	var m mappingFile
	if path == "" {
		return m, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("mapping %s: %w", path, err)
	}
	return m, nil
}

func runImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	in := fs.String("in", "", "CSV, JSON or zip archive of them")
	collection := fs.String("collection", "", "target collection")
	mappingPath := fs.String("mapping", "", "YAML/JSON header mapping")
	idHeader := fs.String("id-header", "", "column holding document ids")
	batch := fs.Int("batch", 1000, "insert batch size")
	infer := fs.Bool("infer-types", true, "turn numeric and boolean CSV cells into numbers and bools")
	_ = fs.Parse(args)
	if *in == "" || *collection == "" {
		fs.Usage()
		return fmt.Errorf("import: -in and -collection are required")
	}

	m, err := loadMapping(*mappingPath)
	if err != nil {
		return err
	}
	opts := importer.Options{
		Collection: *collection,
		Mapping:    m.Columns,
		IDHeader:   m.IDHeader,
		Skip:       m.Skip,
		BatchSize:  *batch,
		InferTypes: *infer,
	}
	if *idHeader != "" {
		opts.IDHeader = *idHeader
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.Must(cfg.App.Env, cfg.App.LogLevel)
	defer log.Sync() //nolint:errcheck

	ctx := context.Background()
	database, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close()
	store := pgstore.New(database.Pool)
	if err := store.EnsureCollection(ctx, *collection); err != nil {
		return err
	}
	im := importer.New(store, log)

	if strings.EqualFold(filepath.Ext(*in), ".zip") {
		return importZip(ctx, im, *in, opts, log)
	}
	f, err := os.Open(*in)
	if err != nil {
		return err
	}
	defer f.Close()
	res, err := importOne(ctx, im, *in, f, opts)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d records into %s\n", res.Imported, *collection)
	return nil
}

// importZip imports every CSV and JSON entry of a split-file archive.
func importZip(ctx context.Context, im *importer.Importer, path string, opts importer.Options, log *zap.Logger) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer zr.Close()
	total := 0
	for _, entry := range zr.File {
		ext := strings.ToLower(filepath.Ext(entry.Name))
		if ext != ".csv" && ext != ".json" {
			log.Warn("skipping archive entry", zap.String("entry", entry.Name))
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return err
		}
		res, err := importOne(ctx, im, entry.Name, rc, opts)
		rc.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", entry.Name, err)
		}
		total += res.Imported
	}
	fmt.Printf("imported %d records into %s\n", total, opts.Collection)
	return nil
}

func importOne(ctx context.Context, im *importer.Importer, name string, r io.Reader, opts importer.Options) (importer.Result, error) {
	var (
		res importer.Result
		err error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		res, err = im.CSV(ctx, r, opts)
	case ".json":
		res, err = im.JSON(ctx, r, opts)
	default:
		return res, fmt.Errorf("unsupported file type %q", filepath.Ext(name))
	}
	for _, h := range res.Ignored {
		fmt.Fprintf(os.Stderr, "ignored column %q\n", h)
	}
	return res, err
}

func runKeygen() error {
	key, err := auth.NewServiceKey()
	if err != nil {
		return err
	}
	fmt.Printf("key:    %s\nprefix: %s\nhash:   %s\n\n", key.Plaintext, key.Prefix, key.Hash)
	fmt.Printf("add to config:\njwt:\n  service_keys:\n    %s: %q\n", key.Prefix, key.Hash)
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	user := fs.String("user", "", "user id that will own the exports")
	scopes := fs.String("scopes", string(auth.ScopeRead), "comma-separated scopes")
	ttl := fs.Duration("ttl", 0, "token lifetime (default jwt.expiration)")
	_ = fs.Parse(args)
	if *user == "" {
		fs.Usage()
		return fmt.Errorf("token: -user is required")
	}
	granted, err := auth.ParseScopes(*scopes)
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.JWT.Secret == "" {
		return fmt.Errorf("token: jwt secret is not configured (EXPORTER_JWT_SECRET)")
	}
	if *ttl == 0 {
		*ttl = cfg.JWT.Expiration
	}
	tok, err := auth.IssueJWT(cfg.JWT.Secret, *user, *ttl, granted...)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
