package core

import (
	"errors"
	"sync"
)

// ErrRunSuperseded marks a run whose result was discarded because a newer
// run completed first.
var ErrRunSuperseded = errors.New("run superseded by a newer run")

// RunTracker versions runs in start order and keeps the result of the newest
// completed one. A run that finishes after a newer run has already been
// surfaced is stale and never replaces it.
type RunTracker struct {
	mu       sync.Mutex
	next     int64
	surfaced int64
	latest   *RunResult
	inflight map[int64]string

	// saveMu serializes Persist; saved is the newest persisted version.
	saveMu sync.Mutex
	saved  int64
}

// NewRunTracker returns an empty tracker.
func NewRunTracker() *RunTracker {
	return &RunTracker{inflight: make(map[int64]string)}
}

// Begin assigns the next version to runID.
func (t *RunTracker) Begin(runID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.inflight[t.next] = runID
	return t.next
}

// Stale reports whether a run newer than version has already been surfaced.
func (t *RunTracker) Stale(version int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.surfaced > version
}

// Persist calls save for version unless a newer run has already been
// persisted or surfaced, and reports whether it did. Saves never overlap, so
// an older run cannot overwrite the snapshot of a newer one.
func (t *RunTracker) Persist(version int64, save func() error) (bool, error) {
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	if t.saved > version || t.Stale(version) {
		return false, nil
	}
	if err := save(); err != nil {
		return false, err
	}
	t.saved = version
	return true, nil
}

// Complete records res for version. It returns ErrRunSuperseded, leaving the
// surfaced result untouched, when a newer run already completed.
func (t *RunTracker) Complete(version int64, res *RunResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, version)
	if t.surfaced > version {
		return ErrRunSuperseded
	}
	t.surfaced = version
	t.latest = res
	return nil
}

// Latest returns the surfaced result, or nil before any run completes.
func (t *RunTracker) Latest() *RunResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest
}

// InFlight returns the number of runs begun but not completed.
func (t *RunTracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}
