package export

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/godata/exporter/internal/docstore"
	"github.com/godata/exporter/internal/export/sink"
)

// renderer turns records into row values. Columns and reference caches are
// read-only while a batch renders, so rows are formatted in parallel.
type renderer struct {
	cols        []Column
	refs        *Resolver
	placeholder string
	workers     int
}

// cell resolves one value: anonymized cells short-circuit before any path,
// formatter or dictionary access.
func (r *renderer) cell(c *Column, doc docstore.Document) any {
	if c.Anonymize {
		return r.placeholder
	}
	raw, ok := c.Path.Get(doc)
	if c.Format != nil {
		return c.Format(raw, ok)
	}
	if !ok {
		return nil
	}
	return raw
}

// renderBatch formats docs, backfills every token the batch needs in one
// lookup, then translates. No row of the batch is returned before its
// tokens were looked up.
func (r *renderer) renderBatch(ctx context.Context, docs []docstore.Document) ([][]any, error) {
	rows := make([][]any, len(docs))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(max(r.workers, 1))
	for i := range docs {
		i := i
		g.Go(func() error {
			row := make([]any, len(r.cols))
			for j := range r.cols {
				row[j] = r.cell(&r.cols[j], docs[i])
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var missing []string
	for _, row := range rows {
		for j := range r.cols {
			if r.cols[j].Anonymize || !r.cols[j].Translate {
				continue
			}
			r.collectTokens(row[j], &missing)
		}
	}
	if len(missing) > 0 {
		if err := r.refs.Backfill(ctx, missing); err != nil {
			return nil, err
		}
	}

	for _, row := range rows {
		for j := range r.cols {
			if r.cols[j].Anonymize || !r.cols[j].Translate {
				continue
			}
			row[j] = r.translate(row[j])
		}
	}
	return rows, nil
}

func (r *renderer) collectTokens(v any, acc *[]string) {
	switch t := v.(type) {
	case string:
		if r.refs.IsToken(t) && r.refs.Missing(t) {
			*acc = append(*acc, t)
		}
	case []any:
		for _, el := range t {
			r.collectTokens(el, acc)
		}
	case map[string]any:
		for _, el := range t {
			r.collectTokens(el, acc)
		}
	case *sink.Object:
		for _, k := range t.Keys() {
			el, _ := t.Get(k)
			r.collectTokens(el, acc)
		}
	}
}

// translate returns v with every token string replaced by its translation.
// Containers coming from the record are copied, never modified.
func (r *renderer) translate(v any) any {
	switch t := v.(type) {
	case string:
		if r.refs.IsToken(t) {
			return r.refs.Translate(t)
		}
		return t
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = r.translate(el)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, el := range t {
			out[k] = r.translate(el)
		}
		return out
	case *sink.Object:
		for _, k := range t.Keys() {
			el, _ := t.Get(k)
			t.Set(k, r.translate(el))
		}
		return t
	}
	return v
}
