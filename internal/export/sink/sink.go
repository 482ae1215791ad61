// Package sink writes export rows to files, one implementation per output
// format. All sinks share the Begin / WriteRow / End contract; spreadsheet
// sinks additionally split their output when a column or row ceiling is hit.
package sink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Format names an output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
	FormatCSV  Format = "csv"
	FormatXLS  Format = "xls"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FormatJSON, FormatXML, FormatCSV, FormatXLS, FormatXLSX:
		return f, nil
	}
	return "", fmt.Errorf("sink: unsupported format %q", s)
}

// Flat reports whether every value of the format occupies one scalar cell.
func (f Format) Flat() bool {
	return f == FormatCSV || f == FormatXLS || f == FormatXLSX
}

// Extension is the file extension without the dot.
func (f Format) Extension() string { return string(f) }

// MimeType is the content type of a single file in this format.
func (f Format) MimeType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatXML:
		return "application/xml"
	case FormatCSV:
		return "text/csv"
	case FormatXLS:
		return "application/vnd.ms-excel"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/octet-stream"
}

// ErrUnserializable marks a row that cannot be represented in the target
// format. Nothing of such a row has been written when it is returned.
var ErrUnserializable = errors.New("sink: value cannot be serialized")

func unserializable(format Format, header, reason string) error {
	return fmt.Errorf("%w: %s column %q: %s", ErrUnserializable, format, header, reason)
}

// Sink receives the rows of one export.
type Sink interface {
	// Begin fixes the column headers. It is called exactly once.
	Begin(headers []string) error
	// WriteRow appends one row; len(values) equals len(headers).
	WriteRow(values []any) error
	// End flushes and closes the output and returns the produced files in
	// production order.
	End() ([]string, error)
	// Abort closes and removes everything produced so far.
	Abort()
}

// Options configure where a sink writes and its capacity limits. Zero limits
// mean unlimited; they are ignored by formats without ceilings.
type Options struct {
	Dir        string
	Base       string
	MaxColumns int
	MaxRows    int
}

// New returns the sink for format.
func New(format Format, opts Options) (Sink, error) {
	if opts.Dir == "" || opts.Base == "" {
		return nil, fmt.Errorf("sink: dir and base name are required")
	}
	switch format {
	case FormatJSON:
		return &jsonSink{opts: opts}, nil
	case FormatXML:
		return &xmlSink{opts: opts}, nil
	case FormatCSV:
		return &csvSink{opts: opts}, nil
	case FormatXLS:
		return newSpreadsheet(FormatXLS, opts, openSpreadsheetML), nil
	case FormatXLSX:
		return newSpreadsheet(FormatXLSX, opts, openXLSX), nil
	}
	return nil, fmt.Errorf("sink: unsupported format %q", format)
}

// fileName is the n-th (1-based) physical file of an export.
func fileName(opts Options, format Format, n int) string {
	return filepath.Join(opts.Dir, fmt.Sprintf("%s_%d.%s", opts.Base, n, format.Extension()))
}

func removeAll(paths []string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}
