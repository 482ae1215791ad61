// Package importer loads exported files back into a collection. A mapping
// from file header to document path undoes the column flattening of the
// export, so a CSV or JSON artifact can be re-imported and compared with its
// source.
package importer

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/godata/exporter/internal/docpath"
	"github.com/godata/exporter/internal/docstore"
)

// Inserter is the write side of a document store.
type Inserter interface {
	Insert(ctx context.Context, collection string, docs []docstore.Document) error
}

// Options control one import.
type Options struct {
	Collection string
	// Mapping maps file headers to document paths ("addresses[0].city").
	// Headers without a mapping are used as paths when they parse as one and
	// carry no whitespace.
	Mapping map[string]string
	// IDHeader names the column holding the document id; rows without one
	// get a fresh uuid.
	IDHeader  string
	BatchSize int
	// Skip lists cell values dropped on import, e.g. the anonymization
	// placeholder.
	Skip []string
	// InferTypes turns numeric and boolean CSV cells into numbers and bools.
	InferTypes bool
}

// Result summarizes an import.
type Result struct {
	Imported int
	// Ignored lists headers that matched no path.
	Ignored []string
}

type Importer struct {
	store Inserter
	log   *zap.Logger
}

func New(store Inserter, log *zap.Logger) *Importer {
	return &Importer{store: store, log: log}
}

type column struct {
	header string
	path   docpath.Path
	id     bool
}

func (o *Options) columns(headers []string) ([]column, []string) {
	cols := make([]column, 0, len(headers))
	var ignored []string
	for _, h := range headers {
		if o.IDHeader != "" && h == o.IDHeader {
			cols = append(cols, column{header: h, id: true})
			continue
		}
		target, mapped := o.Mapping[h]
		if !mapped {
			target = h
		}
		p, err := docpath.Parse(target)
		if err != nil || strings.Contains(target, "[]") || (!mapped && strings.ContainsAny(target, " \t")) {
			cols = append(cols, column{header: h})
			ignored = append(ignored, h)
			continue
		}
		cols = append(cols, column{header: h, path: p})
	}
	return cols, ignored
}

func (o *Options) skip(v string) bool {
	for _, s := range o.Skip {
		if v == s {
			return true
		}
	}
	return false
}

func (o *Options) batchSize() int {
	if o.BatchSize <= 0 {
		return 1000
	}
	return o.BatchSize
}

// batcher buffers documents and flushes them to the store.
type batcher struct {
	ctx   context.Context
	store Inserter
	coll  string
	size  int
	buf   []docstore.Document
	total int
}

func (b *batcher) add(d docstore.Document) error {
	if _, ok := docstore.DocumentID(d); !ok {
		d[docstore.IDField] = uuid.NewString()
	}
	b.buf = append(b.buf, d)
	if len(b.buf) >= b.size {
		return b.flush()
	}
	return nil
}

func (b *batcher) flush() error {
	if len(b.buf) == 0 {
		return nil
	}
	if err := b.store.Insert(b.ctx, b.coll, b.buf); err != nil {
		return fmt.Errorf("importer: insert: %w", err)
	}
	b.total += len(b.buf)
	b.buf = nil
	return nil
}

// CSV imports a delimited file with a header row.
func (im *Importer) CSV(ctx context.Context, r io.Reader, opts Options) (Result, error) {
	if err := docstore.ValidateName(opts.Collection); err != nil {
		return Result{}, err
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	headers, err := cr.Read()
	if err != nil {
		return Result{}, fmt.Errorf("importer: csv header: %w", err)
	}
	cols, ignored := opts.columns(headers)
	b := &batcher{ctx: ctx, store: im.store, coll: opts.Collection, size: opts.batchSize()}

	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{Imported: b.total}, fmt.Errorf("importer: csv line %d: %w", line, err)
		}
		doc := docstore.Document{}
		for i, cell := range record {
			if i >= len(cols) || cell == "" || opts.skip(cell) {
				continue
			}
			c := cols[i]
			switch {
			case c.id:
				doc[docstore.IDField] = cell
			case c.path != nil:
				var v any = cell
				if opts.InferTypes {
					v = infer(cell)
				}
				if err := c.path.Set(doc, v); err != nil {
					return Result{Imported: b.total}, fmt.Errorf("importer: csv line %d: %w", line, err)
				}
			}
		}
		if err := b.add(doc); err != nil {
			return Result{Imported: b.total}, err
		}
		if err := ctx.Err(); err != nil {
			return Result{Imported: b.total}, err
		}
	}
	if err := b.flush(); err != nil {
		return Result{Imported: b.total}, err
	}
	im.log.Info("csv imported", zap.String("collection", opts.Collection), zap.Int("records", b.total))
	return Result{Imported: b.total, Ignored: ignored}, nil
}

// JSON imports a JSON array of objects. Top-level keys go through Mapping;
// nested values are kept as they are.
func (im *Importer) JSON(ctx context.Context, r io.Reader, opts Options) (Result, error) {
	if err := docstore.ValidateName(opts.Collection); err != nil {
		return Result{}, err
	}
	dec := json.NewDecoder(r)
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return Result{}, fmt.Errorf("importer: json: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return Result{}, fmt.Errorf("importer: json: expected an array of records")
	}

	b := &batcher{ctx: ctx, store: im.store, coll: opts.Collection, size: opts.batchSize()}
	ignoredSet := map[string]struct{}{}
	for n := 0; dec.More(); n++ {
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return Result{Imported: b.total}, fmt.Errorf("importer: json record %d: %w", n, err)
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		cols, ignored := opts.columns(keys)
		for _, h := range ignored {
			ignoredSet[h] = struct{}{}
		}
		doc := docstore.Document{}
		for _, c := range cols {
			v := normalizeJSON(obj[c.header])
			if v == nil {
				continue
			}
			if s, ok := v.(string); ok && opts.skip(s) {
				continue
			}
			switch {
			case c.id:
				doc[docstore.IDField] = fmt.Sprint(v)
			case c.path != nil:
				if err := c.path.Set(doc, v); err != nil {
					return Result{Imported: b.total}, fmt.Errorf("importer: json record %d: %w", n, err)
				}
			}
		}
		if err := b.add(doc); err != nil {
			return Result{Imported: b.total}, err
		}
	}
	if err := b.flush(); err != nil {
		return Result{Imported: b.total}, err
	}
	res := Result{Imported: b.total}
	for h := range ignoredSet {
		res.Ignored = append(res.Ignored, h)
	}
	im.log.Info("json imported", zap.String("collection", opts.Collection), zap.Int("records", b.total))
	return res, nil
}

func infer(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	return s
}

// normalizeJSON turns json.Number into int64 or float64, recursively.
func normalizeJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeJSON(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeJSON(e)
		}
		return t
	}
	return v
}
