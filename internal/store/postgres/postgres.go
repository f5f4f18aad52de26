// Package postgres stores snapshots and mapping templates in PostgreSQL via pgxpool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/doorgraph/internal/logging"
	"github.com/JonMunkholm/doorgraph/internal/schema"
	"github.com/JonMunkholm/doorgraph/internal/store"
)

func init() {
	store.Register("postgres", func(ctx context.Context, opts store.Options) (store.Store, error) {
		return Open(ctx, opts)
	})
}

const ddl = `
CREATE TABLE IF NOT EXISTS classification_snapshots (
  version    BIGSERIAL   PRIMARY KEY,
  data       TEXT        NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS column_mappings (
  signature  TEXT        PRIMARY KEY,
  mapping    TEXT        NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Store implements store.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects, pings, and ensures the tables exist.
func Open(ctx context.Context, opts store.Options) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	if opts.MaxConns > 0 {
		poolConfig.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		poolConfig.MinConns = int32(opts.MinConns)
	}
	if opts.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	if u, err := url.Parse(opts.URL); err == nil {
		logging.FromContext(ctx).Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	return &Store{pool: pool}, nil
}

func (s *Store) SaveSnapshot(ctx context.Context, data []byte) (store.SnapshotRecord, error) {
	rec := store.SnapshotRecord{Data: append([]byte(nil), data...)}
	err := s.pool.QueryRow(ctx,
		"INSERT INTO classification_snapshots(data) VALUES($1) RETURNING version, created_at",
		string(data),
	).Scan(&rec.Version, &rec.CreatedAt)
	if err != nil {
		return store.SnapshotRecord{}, fmt.Errorf("SaveSnapshot insert: %w", err)
	}
	return rec, nil
}

func (s *Store) LatestSnapshot(ctx context.Context) (store.SnapshotRecord, error) {
	var (
		rec  store.SnapshotRecord
		data string
	)
	err := s.pool.QueryRow(ctx, `
SELECT version, data, created_at
FROM classification_snapshots
ORDER BY version DESC
LIMIT 1`).Scan(&rec.Version, &data, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.SnapshotRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.SnapshotRecord{}, fmt.Errorf("LatestSnapshot: %w", err)
	}
	rec.Data = []byte(data)
	return rec, nil
}

func (s *Store) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
DELETE FROM classification_snapshots
WHERE version NOT IN (
  SELECT version FROM classification_snapshots ORDER BY version DESC LIMIT $1
)`, keep)
	if err != nil {
		return 0, fmt.Errorf("PruneSnapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) PutMapping(ctx context.Context, signature string, m schema.ColumnMapping) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("PutMapping marshal: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `
INSERT INTO column_mappings(signature, mapping) VALUES($1, $2)
ON CONFLICT (signature) DO UPDATE SET mapping = EXCLUDED.mapping, updated_at = now()`,
		signature, string(b),
	); err != nil {
		return fmt.Errorf("PutMapping upsert: %w", err)
	}
	return nil
}

func (s *Store) GetMapping(ctx context.Context, signature string) (schema.ColumnMapping, error) {
	var raw string
	err := s.pool.QueryRow(ctx,
		"SELECT mapping FROM column_mappings WHERE signature = $1", signature,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetMapping: %w", err)
	}

	var m schema.ColumnMapping
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("GetMapping unmarshal: %w", err)
	}
	return m, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
