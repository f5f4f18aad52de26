package core

// scheduler.go runs background maintenance for the snapshot store.
//
// Every snapshot save appends a version, so history grows by one row per
// successful run. The pruner trims it to the newest Keep versions. It runs
// once on start and then every Interval until its context ends. A failed
// prune is logged and retried on the next tick.

import (
	"context"
	"log/slog"
	"time"
)

// PruneConfig holds configuration for the snapshot pruner.
type PruneConfig struct {
	Keep     int           // versions to keep (default: 50)
	Interval time.Duration // how often to run (default: 1h)
}

const (
	defaultPruneKeep     = 50
	defaultPruneInterval = time.Hour
)

// StartSnapshotPruner blocks, pruning old snapshot versions on a ticker.
// Run it in its own goroutine.
func (s *Service) StartSnapshotPruner(ctx context.Context, cfg PruneConfig) {
	if cfg.Keep <= 0 {
		cfg.Keep = defaultPruneKeep
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPruneInterval
	}
	slog.Info("snapshot pruner started", "keep", cfg.Keep, "interval", cfg.Interval)

	s.PruneSnapshots(ctx, cfg.Keep)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("snapshot pruner stopped")
			return
		case <-ticker.C:
			s.PruneSnapshots(ctx, cfg.Keep)
		}
	}
}

// PruneSnapshots performs one prune and returns the number of versions removed.
func (s *Service) PruneSnapshots(ctx context.Context, keep int) int64 {
	start := time.Now()
	n, err := s.store.PruneSnapshots(ctx, keep)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("snapshot prune failed", "error", err)
		}
		return 0
	}
	if n > 0 {
		slog.Info("pruned classification snapshots",
			"removed", n,
			"kept", keep,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return n
}
