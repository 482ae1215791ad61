// Package memstore is an in-process docstore.Backend. It backs the engine's
// tests and the exportctl import dry-runs; production uses pgstore.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/godata/exporter/internal/docstore"
	"github.com/godata/exporter/internal/filter"
)

type view struct {
	next int64
	rows []docstore.ViewRow
}

// Store keeps collections as insertion-ordered slices.
type Store struct {
	mu          sync.RWMutex
	collections map[string][]docstore.Document
	views       map[string]*view
	reads       map[string]int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		collections: make(map[string][]docstore.Document),
		views:       make(map[string]*view),
		reads:       make(map[string]int),
	}
}

// Reads reports how many read calls (Find, FindByIDs, Iterate) hit a collection.
func (s *Store) Reads(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reads[collection]
}

// ViewNames lists the views that currently exist.
func (s *Store) ViewNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.views))
	for name := range s.views {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Store) Insert(_ context.Context, collection string, docs []docstore.Document) error {
	if err := docstore.ValidateName(collection); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		if _, ok := docstore.DocumentID(d); !ok {
			return fmt.Errorf("memstore: document without %s", docstore.IDField)
		}
		s.collections[collection] = append(s.collections[collection], copyDoc(d))
	}
	return nil
}

func (s *Store) Iterate(ctx context.Context, collection string, q docstore.Query, batchSize int, fn func([]docstore.Document) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("memstore: batch size must be positive")
	}
	s.mu.Lock()
	s.reads[collection]++
	var matched []docstore.Document
	for _, d := range s.collections[collection] {
		if filter.Match(q.Where, d) {
			matched = append(matched, d)
		}
	}
	s.mu.Unlock()

	if len(q.Sort) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			return filter.SortLess(q.Sort, matched[i], matched[j])
		})
	}
	for start := 0; start < len(matched); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+batchSize, len(matched))
		batch := make([]docstore.Document, 0, end-start)
		for _, d := range matched[start:end] {
			batch = append(batch, copyDoc(d))
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) FindByIDs(_ context.Context, collection string, ids []string) ([]docstore.Document, error) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads[collection]++
	var out []docstore.Document
	for _, d := range s.collections[collection] {
		id, _ := docstore.DocumentID(d)
		if _, ok := want[id]; ok {
			out = append(out, copyDoc(d))
		}
	}
	return out, nil
}

func (s *Store) Find(_ context.Context, collection string, where filter.Predicate) ([]docstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads[collection]++
	var out []docstore.Document
	for _, d := range s.collections[collection] {
		if filter.Match(where, d) {
			out = append(out, copyDoc(d))
		}
	}
	return out, nil
}

func (s *Store) CreateView(_ context.Context, name string) error {
	if err := docstore.ValidateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.views[name]; exists {
		return fmt.Errorf("memstore: view %s already exists", name)
	}
	s.views[name] = &view{}
	return nil
}

func (s *Store) AppendView(_ context.Context, name string, rows []docstore.ViewRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[name]
	if !ok {
		return fmt.Errorf("memstore: view %s not found", name)
	}
	for _, r := range rows {
		v.next++
		r.Seq = v.next
		v.rows = append(v.rows, r)
	}
	return nil
}

func (s *Store) AggregateView(_ context.Context, name string) (docstore.ViewAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.views[name]
	if !ok {
		return docstore.ViewAggregate{}, fmt.Errorf("memstore: view %s not found", name)
	}
	agg := docstore.ViewAggregate{Rows: int64(len(v.rows)), Maxima: make(map[string]int)}
	seen := make(map[string]struct{})
	for _, r := range v.rows {
		for k, n := range r.Counts {
			if cur, ok := agg.Maxima[k]; !ok || n > cur {
				agg.Maxima[k] = n
			}
		}
		for _, id := range r.Locations {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				agg.LocationIDs = append(agg.LocationIDs, id)
			}
		}
	}
	sort.Strings(agg.LocationIDs)
	return agg, nil
}

func (s *Store) NextViewBatch(_ context.Context, name string, limit int) ([]docstore.ViewRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.views[name]
	if !ok {
		return nil, fmt.Errorf("memstore: view %s not found", name)
	}
	n := min(limit, len(v.rows))
	out := make([]docstore.ViewRow, n)
	copy(out, v.rows[:n])
	return out, nil
}

func (s *Store) ConsumeView(_ context.Context, name string, throughSeq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[name]
	if !ok {
		return fmt.Errorf("memstore: view %s not found", name)
	}
	i := 0
	for i < len(v.rows) && v.rows[i].Seq <= throughSeq {
		i++
	}
	v.rows = v.rows[i:]
	return nil
}

func (s *Store) CountView(_ context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.views[name]
	if !ok {
		return 0, fmt.Errorf("memstore: view %s not found", name)
	}
	return int64(len(v.rows)), nil
}

func (s *Store) DropView(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.views, name)
	return nil
}

// copyDoc detaches the top level of a document so callers cannot mutate the
// stored copy by adding or removing keys.
func copyDoc(d docstore.Document) docstore.Document {
	out := make(docstore.Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
