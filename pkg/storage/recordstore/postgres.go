package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore keeps each table as a Postgres table with a composite
// (partition_key, row_key) primary key and JSONB properties.
type PostgresStore struct {
	db      execer
	closeFn func()

	mu    sync.Mutex
	ready map[string]bool
}

var _ Store = (*PostgresStore)(nil)

func openPostgres(ctx context.Context, dsn string) (Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewPostgresStore(pool), nil
}

// NewPostgresStore wraps an existing pool. Closing the store closes the pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return newPostgresStore(pool, pool.Close)
}

func newPostgresStore(db execer, closeFn func()) *PostgresStore {
	return &PostgresStore{
		db:      db,
		closeFn: closeFn,
		ready:   map[string]bool{},
	}
}

// EnsureTable creates table if it does not exist.
func (s *PostgresStore) EnsureTable(ctx context.Context, table string) error {
	if table == "" {
		return fmt.Errorf("table name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready[table] {
		return nil
	}

	stmt := `CREATE TABLE IF NOT EXISTS ` + pgx.Identifier{table}.Sanitize() + ` (
    partition_key TEXT NOT NULL,
    row_key       TEXT NOT NULL,
    properties    JSONB NOT NULL DEFAULT '{}'::jsonb,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (partition_key, row_key)
)`
	if _, err := s.db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensure table %s: %w", table, err)
	}
	s.ready[table] = true
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, table string, rec Record, mode Mode) error {
	partition, row, err := rec.Keys()
	if err != nil {
		return err
	}
	if err := s.EnsureTable(ctx, table); err != nil {
		return err
	}

	props, err := json.Marshal(rec.Properties())
	if err != nil {
		return fmt.Errorf("marshal properties: %w", err)
	}

	if _, err := s.db.Exec(ctx, upsertSQL(table, mode), partition, row, props); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

func upsertSQL(table string, mode Mode) string {
	ident := pgx.Identifier{table}.Sanitize()
	update := `EXCLUDED.properties`
	if mode == Merge {
		update = ident + `.properties || EXCLUDED.properties`
	}
	return `INSERT INTO ` + ident + ` (partition_key, row_key, properties, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (partition_key, row_key)
DO UPDATE SET properties = ` + update + `, updated_at = now()`
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
