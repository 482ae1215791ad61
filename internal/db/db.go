package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/godata/exporter/internal/config"
)

type DB struct {
	Pool       *pgxpool.Pool
	ExportJobs *ExportJobRepository
}

// Connect returns a pgxpool.Pool configured from cfg.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("db: parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("db: ping: %w", err)
	}

	return &DB{
		Pool:       pool,
		ExportJobs: NewExportJobRepository(pool),
	}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS export_jobs (
	id                uuid PRIMARY KEY,
	user_id           text NOT NULL,
	collection        text NOT NULL,
	format            text NOT NULL,
	status            text NOT NULL,
	status_step       text NOT NULL,
	total_records     bigint NOT NULL DEFAULT 0,
	processed_records bigint NOT NULL DEFAULT 0,
	failed_records    bigint NOT NULL DEFAULT 0,
	row_errors        jsonb NOT NULL DEFAULT '[]',
	mime_type         text NOT NULL DEFAULT '',
	extension         text NOT NULL DEFAULT '',
	encrypted         boolean NOT NULL DEFAULT false,
	request           jsonb NOT NULL,
	artifact_key      text NOT NULL DEFAULT '',
	artifact_provider text NOT NULL DEFAULT '',
	artifact_sha256   text NOT NULL DEFAULT '',
	artifact_bytes    bigint NOT NULL DEFAULT 0,
	cancel_requested  boolean NOT NULL DEFAULT false,
	error_msg         text,
	error_stack       text,
	verified_at       timestamptz,
	completed_at      timestamptz,
	created_at        timestamptz NOT NULL DEFAULT now(),
	updated_at        timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS export_jobs_user_created ON export_jobs (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS export_jobs_completed ON export_jobs (status, completed_at);
`

// EnsureSchema creates the job table when it does not exist yet.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("db: ensure schema: %w", err)
	}
	return nil
}

func (db *DB) Close() {
	db.Pool.Close()
}
