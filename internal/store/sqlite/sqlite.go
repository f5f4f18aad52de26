// Package sqlite is the default store, backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/doorgraph/internal/schema"
	"github.com/JonMunkholm/doorgraph/internal/store"
)

const defaultPath = "./data/doorgraph.db"

func init() {
	store.Register("sqlite", func(ctx context.Context, opts store.Options) (store.Store, error) {
		return Open(ctx, opts.SQLitePath)
	})
}

// Store implements store.Store on a single SQLite connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database file at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	// Per-connection PRAGMAs: WAL, NORMAL sync, and a busy timeout.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		path,
	)
	return OpenDSN(ctx, dsn)
}

// OpenDSN opens a database from a full modernc DSN and migrates it.
func OpenDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// Single connection serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) SaveSnapshot(ctx context.Context, data []byte) (store.SnapshotRecord, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO classification_snapshots(data, created_at_ms) VALUES(?, ?);",
		string(data), now.UnixMilli(),
	)
	if err != nil {
		return store.SnapshotRecord{}, fmt.Errorf("SaveSnapshot insert: %w", err)
	}
	version, err := res.LastInsertId()
	if err != nil {
		return store.SnapshotRecord{}, fmt.Errorf("SaveSnapshot version: %w", err)
	}
	return store.SnapshotRecord{
		Version:   version,
		Data:      append([]byte(nil), data...),
		CreatedAt: time.UnixMilli(now.UnixMilli()).UTC(),
	}, nil
}

func (s *Store) LatestSnapshot(ctx context.Context) (store.SnapshotRecord, error) {
	var (
		rec       store.SnapshotRecord
		data      string
		createdMs int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT version, data, created_at_ms
FROM classification_snapshots
ORDER BY version DESC
LIMIT 1;`).Scan(&rec.Version, &data, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return store.SnapshotRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.SnapshotRecord{}, fmt.Errorf("LatestSnapshot: %w", err)
	}
	rec.Data = []byte(data)
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	return rec, nil
}

func (s *Store) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
DELETE FROM classification_snapshots
WHERE version NOT IN (
  SELECT version FROM classification_snapshots ORDER BY version DESC LIMIT ?
);`, keep)
	if err != nil {
		return 0, fmt.Errorf("PruneSnapshots: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) PutMapping(ctx context.Context, signature string, m schema.ColumnMapping) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("PutMapping marshal: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO column_mappings(signature, mapping, updated_at_ms) VALUES(?, ?, ?)
ON CONFLICT(signature) DO UPDATE SET
  mapping = excluded.mapping,
  updated_at_ms = excluded.updated_at_ms;`,
		signature, string(b), time.Now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("PutMapping upsert: %w", err)
	}
	return nil
}

func (s *Store) GetMapping(ctx context.Context, signature string) (schema.ColumnMapping, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT mapping FROM column_mappings WHERE signature = ?;", signature,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
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
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
