// Package memory is an in-process store. Data does not survive a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JonMunkholm/doorgraph/internal/schema"
	"github.com/JonMunkholm/doorgraph/internal/store"
)

func init() {
	store.Register("memory", func(context.Context, store.Options) (store.Store, error) {
		return New(), nil
	})
}

// Store implements store.Store with maps guarded by a mutex.
type Store struct {
	mu        sync.RWMutex
	snapshots []store.SnapshotRecord
	nextVer   int64
	mappings  map[string]schema.ColumnMapping
}

// New returns an empty store.
func New() *Store {
	return &Store{
		nextVer:  1,
		mappings: make(map[string]schema.ColumnMapping),
	}
}

func (s *Store) SaveSnapshot(ctx context.Context, data []byte) (store.SnapshotRecord, error) {
	if err := ctx.Err(); err != nil {
		return store.SnapshotRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := store.SnapshotRecord{
		Version:   s.nextVer,
		Data:      append([]byte(nil), data...),
		CreatedAt: time.Now().UTC(),
	}
	s.nextVer++
	s.snapshots = append(s.snapshots, rec)
	return rec, nil
}

func (s *Store) LatestSnapshot(ctx context.Context) (store.SnapshotRecord, error) {
	if err := ctx.Err(); err != nil {
		return store.SnapshotRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.snapshots) == 0 {
		return store.SnapshotRecord{}, store.ErrNotFound
	}
	rec := s.snapshots[len(s.snapshots)-1]
	rec.Data = append([]byte(nil), rec.Data...)
	return rec, nil
}

func (s *Store) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if keep < 1 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.snapshots) - keep
	if n <= 0 {
		return 0, nil
	}
	s.snapshots = append([]store.SnapshotRecord(nil), s.snapshots[n:]...)
	return int64(n), nil
}

func (s *Store) PutMapping(ctx context.Context, signature string, m schema.ColumnMapping) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[signature] = m.Clone()
	return nil
}

func (s *Store) GetMapping(ctx context.Context, signature string) (schema.ColumnMapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mappings[signature]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m.Clone(), nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }
