package core

import (
	"errors"
	"testing"
)

func TestRunTracker_LatestCompletedWins(t *testing.T) {
	tr := NewRunTracker()

	v1 := tr.Begin("a")
	v2 := tr.Begin("b")
	if v2 <= v1 {
		t.Fatalf("versions not increasing: %d then %d", v1, v2)
	}
	if got := tr.InFlight(); got != 2 {
		t.Errorf("InFlight = %d, want 2", got)
	}

	newer := &RunResult{RunID: "b", Version: v2}
	if err := tr.Complete(v2, newer); err != nil {
		t.Fatalf("Complete(newer) = %v", err)
	}
	if !tr.Stale(v1) {
		t.Error("older run should be stale once a newer one completed")
	}

	older := &RunResult{RunID: "a", Version: v1}
	if err := tr.Complete(v1, older); !errors.Is(err, ErrRunSuperseded) {
		t.Errorf("Complete(older) = %v, want ErrRunSuperseded", err)
	}
	if got := tr.Latest(); got != newer {
		t.Errorf("Latest = %+v, want run b", got)
	}
	if got := tr.InFlight(); got != 0 {
		t.Errorf("InFlight = %d, want 0", got)
	}
}

func TestRunTracker_OlderCompletesFirst(t *testing.T) {
	tr := NewRunTracker()
	v1 := tr.Begin("a")
	v2 := tr.Begin("b")

	if err := tr.Complete(v1, &RunResult{RunID: "a"}); err != nil {
		t.Fatalf("Complete(a) = %v", err)
	}
	if tr.Stale(v2) {
		t.Error("newer run should not be stale")
	}
	if err := tr.Complete(v2, &RunResult{RunID: "b"}); err != nil {
		t.Fatalf("Complete(b) = %v", err)
	}
	if got := tr.Latest().RunID; got != "b" {
		t.Errorf("Latest = %q, want b", got)
	}
}

func TestRunTracker_Empty(t *testing.T) {
	if NewRunTracker().Latest() != nil {
		t.Error("Latest on a new tracker should be nil")
	}
}

func TestRunTracker_PersistSkipsOlderRun(t *testing.T) {
	tr := NewRunTracker()
	v1 := tr.Begin("a")
	v2 := tr.Begin("b")

	var order []int64
	save := func(v int64) func() error {
		return func() error {
			order = append(order, v)
			return nil
		}
	}

	// The newer run saves but has not completed yet.
	if ok, err := tr.Persist(v2, save(v2)); !ok || err != nil {
		t.Fatalf("Persist(b) = %v, %v", ok, err)
	}
	if tr.Stale(v1) {
		t.Fatal("older run should not be stale before b completes")
	}
	if ok, err := tr.Persist(v1, save(v1)); ok || err != nil {
		t.Errorf("Persist(a) = %v, %v, want skipped", ok, err)
	}
	if len(order) != 1 || order[0] != v2 {
		t.Errorf("saves = %v, want only %d", order, v2)
	}
}

func TestRunTracker_PersistError(t *testing.T) {
	tr := NewRunTracker()
	v1 := tr.Begin("a")
	boom := errors.New("boom")

	if ok, err := tr.Persist(v1, func() error { return boom }); ok || !errors.Is(err, boom) {
		t.Errorf("Persist = %v, %v, want false, boom", ok, err)
	}
	// A failed save does not block a retry by the same or a newer run.
	v2 := tr.Begin("b")
	if ok, err := tr.Persist(v2, func() error { return nil }); !ok || err != nil {
		t.Errorf("Persist(b) = %v, %v", ok, err)
	}
}
