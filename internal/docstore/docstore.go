// Package docstore defines the record-source contracts the export engine
// reads from: a document Store for collections addressed by name, and a
// ViewStore for the disposable, export-scoped materialized views.
package docstore

import (
	"context"
	"fmt"
	"regexp"

	"github.com/godata/exporter/internal/filter"
)

// IDField is the identifier key carried by every document.
const IDField = "_id"

// Document is a schemaless record as decoded from JSON.
type Document = map[string]any

// Query selects and orders documents of one collection.
type Query struct {
	Where filter.Predicate
	Sort  []filter.SortField
}

// Store is a collection-oriented document source.
type Store interface {
	// Iterate streams the documents matching q in sort order, handing them to
	// fn at most batchSize at a time.
	Iterate(ctx context.Context, collection string, q Query, batchSize int, fn func([]Document) error) error
	// FindByIDs returns the documents with the given ids in no particular order.
	// Unknown ids are silently absent from the result.
	FindByIDs(ctx context.Context, collection string, ids []string) ([]Document, error)
	// Find returns every document matching where. Meant for small lookups.
	Find(ctx context.Context, collection string, where filter.Predicate) ([]Document, error)
	// Insert appends documents; each must carry IDField.
	Insert(ctx context.Context, collection string, docs []Document) error
}

// ViewRow is one projected record of a materialized view. Seq is assigned by
// the store in insertion order.
type ViewRow struct {
	Seq       int64
	RecordID  string
	Counts    map[string]int
	Locations []string
}

// ViewAggregate is the result of the single cross-record aggregation over a view.
type ViewAggregate struct {
	Rows        int64
	Maxima      map[string]int
	LocationIDs []string
}

// ViewStore manages disposable materialized views.
type ViewStore interface {
	CreateView(ctx context.Context, name string) error
	AppendView(ctx context.Context, name string, rows []ViewRow) error
	AggregateView(ctx context.Context, name string) (ViewAggregate, error)
	// NextViewBatch returns the limit rows with the lowest Seq.
	NextViewBatch(ctx context.Context, name string, limit int) ([]ViewRow, error)
	// ConsumeView deletes every row with Seq <= throughSeq.
	ConsumeView(ctx context.Context, name string, throughSeq int64) error
	CountView(ctx context.Context, name string) (int64, error)
	DropView(ctx context.Context, name string) error
}

// Backend is a store that can also host materialized views.
type Backend interface {
	Store
	ViewStore
}

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateName rejects collection or view names that are not plain identifiers.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("docstore: invalid collection name %q", name)
	}
	return nil
}

// DocumentID returns the string identifier of d.
func DocumentID(d Document) (string, bool) {
	switch v := d[IDField].(type) {
	case string:
		return v, v != ""
	case fmt.Stringer:
		return v.String(), true
	}
	return "", false
}
