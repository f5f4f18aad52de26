// Package store persists classification snapshots and column-mapping
// templates. Drivers register themselves by name; callers pick one with Open.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/doorgraph/internal/schema"
)

// ErrNotFound is returned when a lookup has no result.
var ErrNotFound = errors.New("not found")

// SnapshotRecord is one stored version of the classification snapshot.
type SnapshotRecord struct {
	Version   int64     `json:"version"`
	Data      []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// SnapshotStore keeps an append-only history of classification snapshots.
// Writers replace the whole snapshot; the newest version wins.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, data []byte) (SnapshotRecord, error)
	LatestSnapshot(ctx context.Context) (SnapshotRecord, error)
	// PruneSnapshots deletes all but the newest keep versions.
	PruneSnapshots(ctx context.Context, keep int) (int64, error)
}

// MappingStore keeps column mappings keyed by header signature.
type MappingStore interface {
	PutMapping(ctx context.Context, signature string, m schema.ColumnMapping) error
	GetMapping(ctx context.Context, signature string) (schema.ColumnMapping, error)
}

// Store is everything a driver provides.
type Store interface {
	SnapshotStore
	MappingStore
	Ping(ctx context.Context) error
	Close() error
}

// Options carries driver settings. Each driver reads the fields it needs.
type Options struct {
	SQLitePath string

	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// OpenFunc opens a driver.
type OpenFunc func(ctx context.Context, opts Options) (Store, error)

var (
	drivers   = make(map[string]OpenFunc)
	driversMu sync.RWMutex
)

// Register makes a driver available by name.
// Panics if a driver with the same name is already registered.
func Register(name string, fn OpenFunc) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if _, exists := drivers[name]; exists {
		panic(fmt.Sprintf("store driver already registered: %s", name))
	}
	drivers[name] = fn
}

// Open opens the named driver.
func Open(ctx context.Context, name string, opts Options) (Store, error) {
	driversMu.RLock()
	fn, ok := drivers[name]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (registered: %v)", name, Drivers())
	}
	return fn(ctx, opts)
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
