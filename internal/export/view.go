package export

import (
	"context"
	"fmt"

	"github.com/godata/exporter/internal/docpath"
	"github.com/godata/exporter/internal/docstore"
)

// ViewStats is what the single aggregation over a materialized view yields.
type ViewStats struct {
	Name        string
	Rows        int64
	Maxima      map[string]int
	LocationIDs []string
}

// Projector reduces a record to the minimal shape stored in the view.
type Projector struct {
	flat      bool
	arrays    map[string]docpath.Path
	qField    string
	questions []FlatQuestion
	locations []docpath.Path
}

func NewProjector(d *Descriptor, qs []FlatQuestion, flat bool) *Projector {
	p := &Projector{flat: flat, arrays: make(map[string]docpath.Path), qField: d.QuestionnaireField, questions: qs}
	for field := range d.ArrayFields {
		p.arrays[field] = docpath.MustParse(field)
	}
	for _, l := range d.LocationFields {
		p.locations = append(p.locations, docpath.MustParse(l))
	}
	return p
}

func (p *Projector) Project(doc docstore.Document) docstore.ViewRow {
	id, _ := docstore.DocumentID(doc)
	row := docstore.ViewRow{RecordID: id, Counts: make(map[string]int)}
	if p.flat {
		for field, path := range p.arrays {
			row.Counts[arrayCounter(field)] = path.Len(doc)
		}
		for _, q := range p.questions {
			path := answersPath(p.qField, q.Variable)
			row.Counts[answerCounter(q.Variable)] = path.Len(doc)
			if q.Multiple() {
				entries, _ := path.Get(doc)
				list, _ := entries.([]any)
				row.Counts[multipleCounter(q.Variable)] = maxSelections(list)
			}
		}
	}
	seen := make(map[string]struct{})
	for _, path := range p.locations {
		for _, v := range path.GetAll(doc) {
			if s, ok := v.(string); ok && s != "" {
				if _, dup := seen[s]; !dup {
					seen[s] = struct{}{}
					row.Locations = append(row.Locations, s)
				}
			}
		}
	}
	return row
}

// BuildView runs one filtered, sorted pass over the collection into a fresh
// view and aggregates it. The view keeps the source order in its sequence.
func BuildView(ctx context.Context, backend docstore.Backend, name, collection string, q docstore.Query, batchSize int, p *Projector) (ViewStats, error) {
	if err := backend.CreateView(ctx, name); err != nil {
		return ViewStats{}, fmt.Errorf("export: create view: %w", err)
	}
	err := backend.Iterate(ctx, collection, q, batchSize, func(docs []docstore.Document) error {
		rows := make([]docstore.ViewRow, 0, len(docs))
		for _, d := range docs {
			rows = append(rows, p.Project(d))
		}
		return backend.AppendView(ctx, name, rows)
	})
	if err != nil {
		return ViewStats{}, fmt.Errorf("export: project records: %w", err)
	}
	agg, err := backend.AggregateView(ctx, name)
	if err != nil {
		return ViewStats{}, fmt.Errorf("export: aggregate view: %w", err)
	}
	return ViewStats{Name: name, Rows: agg.Rows, Maxima: agg.Maxima, LocationIDs: agg.LocationIDs}, nil
}
