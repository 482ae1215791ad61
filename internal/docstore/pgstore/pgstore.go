// Package pgstore implements docstore.Backend on PostgreSQL. Every collection
// is a table (seq bigserial, id text primary key, doc jsonb); materialized
// views are UNLOGGED tables filled with COPY and dropped after the export.
package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/godata/exporter/internal/docstore"
	"github.com/godata/exporter/internal/filter"
)

// Store is a docstore.Backend over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. The pool must allow at least two connections:
// Iterate keeps one busy while its callback writes to a view.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func table(name string) (string, error) {
	if err := docstore.ValidateName(name); err != nil {
		return "", err
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

// EnsureCollection creates the backing table of a collection if needed.
func (s *Store) EnsureCollection(ctx context.Context, collection string) error {
	t, err := table(collection)
	if err != nil {
		return err
	}
	q := `CREATE TABLE IF NOT EXISTS ` + t + ` (
		seq bigserial,
		id  text PRIMARY KEY,
		doc jsonb NOT NULL
	)`
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("pgstore: ensure %s: %w", collection, err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, collection string, docs []docstore.Document) error {
	t, err := table(collection)
	if err != nil {
		return err
	}
	if err := s.EnsureCollection(ctx, collection); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, d := range docs {
		id, ok := docstore.DocumentID(d)
		if !ok {
			return fmt.Errorf("pgstore: document without %s", docstore.IDField)
		}
		batch.Queue(`INSERT INTO `+t+` (id, doc) VALUES ($1, $2)`, id, d)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("pgstore: insert %s: %w", collection, err)
	}
	return nil
}

func (s *Store) Iterate(ctx context.Context, collection string, q docstore.Query, batchSize int, fn func([]docstore.Document) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("pgstore: batch size must be positive")
	}
	t, err := table(collection)
	if err != nil {
		return err
	}
	b := &sqlBuilder{}
	where, err := b.compile(q.Where)
	if err != nil {
		return err
	}
	order, err := b.orderBy(q.Sort)
	if err != nil {
		return err
	}

	rows, err := s.pool.Query(ctx, `SELECT doc FROM `+t+` WHERE `+where+order, b.args...)
	if err != nil {
		return fmt.Errorf("pgstore: iterate %s: %w", collection, err)
	}
	defer rows.Close()

	batch := make([]docstore.Document, 0, batchSize)
	for rows.Next() {
		var d docstore.Document
		if err := rows.Scan(&d); err != nil {
			return fmt.Errorf("pgstore: scan %s: %w", collection, err)
		}
		batch = append(batch, d)
		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]docstore.Document, 0, batchSize)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("pgstore: iterate %s: %w", collection, err)
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

func (s *Store) FindByIDs(ctx context.Context, collection string, ids []string) ([]docstore.Document, error) {
	t, err := table(collection)
	if err != nil {
		return nil, err
	}
	return s.scanDocs(ctx, collection, `SELECT doc FROM `+t+` WHERE id = ANY($1)`, ids)
}

func (s *Store) Find(ctx context.Context, collection string, where filter.Predicate) ([]docstore.Document, error) {
	t, err := table(collection)
	if err != nil {
		return nil, err
	}
	b := &sqlBuilder{}
	cond, err := b.compile(where)
	if err != nil {
		return nil, err
	}
	return s.scanDocs(ctx, collection, `SELECT doc FROM `+t+` WHERE `+cond+` ORDER BY seq`, b.args...)
}

func (s *Store) scanDocs(ctx context.Context, collection, q string, args ...any) ([]docstore.Document, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: query %s: %w", collection, err)
	}
	defer rows.Close()
	var out []docstore.Document
	for rows.Next() {
		var d docstore.Document
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("pgstore: scan %s: %w", collection, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ── Materialized views ────────────────────────────────────────────────────────

func (s *Store) CreateView(ctx context.Context, name string) error {
	t, err := table(name)
	if err != nil {
		return err
	}
	q := `CREATE UNLOGGED TABLE ` + t + ` (
		seq       bigserial PRIMARY KEY,
		record_id text  NOT NULL,
		counts    jsonb NOT NULL,
		locations text[] NOT NULL
	)`
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("pgstore: create view %s: %w", name, err)
	}
	return nil
}

func (s *Store) AppendView(ctx context.Context, name string, rows []docstore.ViewRow) error {
	if err := docstore.ValidateName(name); err != nil {
		return err
	}
	src := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		r := rows[i]
		counts := r.Counts
		if counts == nil {
			counts = map[string]int{}
		}
		locs := r.Locations
		if locs == nil {
			locs = []string{}
		}
		return []any{r.RecordID, counts, locs}, nil
	})
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{name}, []string{"record_id", "counts", "locations"}, src)
	if err != nil {
		return fmt.Errorf("pgstore: append view %s: %w", name, err)
	}
	return nil
}

func (s *Store) AggregateView(ctx context.Context, name string) (docstore.ViewAggregate, error) {
	t, err := table(name)
	if err != nil {
		return docstore.ViewAggregate{}, err
	}
	q := `SELECT
		(SELECT count(*) FROM ` + t + `),
		(SELECT COALESCE(jsonb_object_agg(key, m), '{}'::jsonb) FROM (
			SELECT c.key, max(c.value::bigint) AS m
			FROM ` + t + ` v, jsonb_each_text(v.counts) c
			GROUP BY c.key) mx),
		(SELECT COALESCE(array_agg(DISTINCT l ORDER BY l), '{}'::text[])
			FROM ` + t + ` v, unnest(v.locations) l)`
	var agg docstore.ViewAggregate
	if err := s.pool.QueryRow(ctx, q).Scan(&agg.Rows, &agg.Maxima, &agg.LocationIDs); err != nil {
		return docstore.ViewAggregate{}, fmt.Errorf("pgstore: aggregate view %s: %w", name, err)
	}
	return agg, nil
}

func (s *Store) NextViewBatch(ctx context.Context, name string, limit int) ([]docstore.ViewRow, error) {
	t, err := table(name)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT seq, record_id, counts, locations FROM `+t+` ORDER BY seq LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("pgstore: read view %s: %w", name, err)
	}
	defer rows.Close()
	var out []docstore.ViewRow
	for rows.Next() {
		var r docstore.ViewRow
		if err := rows.Scan(&r.Seq, &r.RecordID, &r.Counts, &r.Locations); err != nil {
			return nil, fmt.Errorf("pgstore: scan view %s: %w", name, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ConsumeView(ctx context.Context, name string, throughSeq int64) error {
	t, err := table(name)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM `+t+` WHERE seq <= $1`, throughSeq); err != nil {
		return fmt.Errorf("pgstore: consume view %s: %w", name, err)
	}
	return nil
}

func (s *Store) CountView(ctx context.Context, name string) (int64, error) {
	t, err := table(name)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM `+t).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgstore: count view %s: %w", name, err)
	}
	return n, nil
}

func (s *Store) DropView(ctx context.Context, name string) error {
	t, err := table(name)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS `+t); err != nil {
		return fmt.Errorf("pgstore: drop view %s: %w", name, err)
	}
	return nil
}
