package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/doorgraph/internal/config"
	"github.com/JonMunkholm/doorgraph/internal/schema"
	"github.com/JonMunkholm/doorgraph/internal/store"
	"github.com/JonMunkholm/doorgraph/internal/store/memory"
)

const twoDoorLog = `Device,User,Event,Time
Lobby,U1,ACCESS GRANTED,2024-03-04 08:00:00
Office,U1,ACCESS GRANTED,2024-03-04 08:05:00
`

func testConfig() *config.Config {
	return &config.Config{
		Upload: config.UploadConfig{
			MaxFileSize:   1 << 20,
			MaxRows:       1000,
			MaxConcurrent: 2,
			MaxWaitTime:   time.Second,
			Timeout:       10 * time.Second,
		},
		Processing: config.ProcessingConfig{
			NumFloors:           1,
			SessionIdleTimeout:  30 * time.Minute,
			TopDevices:          5,
			GrantedPhrase:       "ACCESS GRANTED",
			InvalidExact:        []string{"INVALID ACCESS LEVEL"},
			InvalidContains:     []string{"NO ENTRY MADE"},
			DuplicateScanWindow: 10 * time.Second,
		},
	}
}

func newTestService(t *testing.T, opts ...Option) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	return NewService(st, testConfig(), opts...), st
}

func lobbyEntrance() ClassificationSubmission {
	return ClassificationSubmission{
		ManualMap:      "yes",
		EntranceIDs:    []string{"Lobby"},
		EntranceValues: []bool{true},
	}
}

func twoDoorRequest() RunRequest {
	return RunRequest{
		File:               strings.NewReader(twoDoorLog),
		FileName:           "log.csv",
		Mapping:            fullMapping(),
		Submission:         lobbyEntrance(),
		ConfirmedEntrances: []string{"Lobby"},
	}
}

func mustRun(t *testing.T, s *Service, req RunRequest) *RunResult {
	t.Helper()
	res, err := s.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func TestService_Run_TwoDoorScenario(t *testing.T) {
	s, st := newTestService(t)

	res := mustRun(t, s, twoDoorRequest())
	if !res.Success {
		t.Fatalf("run failed: %s %+v", res.Status, res.Errors)
	}
	if res.RunID == "" || res.Version != 1 {
		t.Errorf("RunID = %q Version = %d", res.RunID, res.Version)
	}

	if len(res.Graph.Nodes) != 2 {
		t.Fatalf("nodes = %+v, want 2", res.Graph.Nodes)
	}
	lobby, office := res.Graph.Nodes[0], res.Graph.Nodes[1]
	if lobby.ID != "Lobby" || lobby.Layer != 0 || !lobby.IsEntrance {
		t.Errorf("first node = %+v, want Lobby entrance at layer 0", lobby)
	}
	if office.ID != "Office" || office.Layer != 1 {
		t.Errorf("second node = %+v, want Office at layer 1", office)
	}
	if len(res.Graph.Edges) != 1 || res.Graph.Edges[0].Source != "Lobby" || res.Graph.Edges[0].Target != "Office" || res.Graph.Edges[0].Weight != 1 {
		t.Errorf("edges = %+v, want Lobby->Office weight 1", res.Graph.Edges)
	}

	if res.Stats.TotalAccessEvents != 2 || res.Stats.NumDevices != 2 || res.Stats.UniqueTokens != 1 {
		t.Errorf("stats = %+v", res.Stats)
	}

	rec, err := st.LatestSnapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot not saved: %v", err)
	}
	if res.SnapshotVersion != rec.Version {
		t.Errorf("SnapshotVersion = %d, want %d", res.SnapshotVersion, rec.Version)
	}
	if !strings.Contains(string(res.ClassificationsJSON), `"Lobby":{"floor":1,"is_entrance":true`) {
		t.Errorf("ClassificationsJSON = %s", res.ClassificationsJSON)
	}
	if s.LatestRun() != res {
		t.Error("LatestRun should be the completed run")
	}
}

func TestService_Run_Failures(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*RunRequest)
		wantCode string
	}{
		{
			name: "missing column",
			mutate: func(r *RunRequest) {
				m := fullMapping()
				delete(m, schema.FieldEventType)
				r.Mapping = m
			},
			wantCode: "MAP001",
		},
		{
			name:     "no entrances confirmed",
			mutate:   func(r *RunRequest) { r.ConfirmedEntrances = nil },
			wantCode: "PROC002",
		},
		{
			name:     "entrance confirmed but not classified",
			mutate:   func(r *RunRequest) { r.Submission = ClassificationSubmission{ManualMap: "no"} },
			wantCode: "PROC002",
		},
		{
			name:     "empty file",
			mutate:   func(r *RunRequest) { r.File = strings.NewReader("") },
			wantCode: "LOAD001",
		},
		{
			name: "every row skipped",
			mutate: func(r *RunRequest) {
				r.File = strings.NewReader("Device,User,Event,Time\nLobby,U1,ACCESS GRANTED,never\n")
			},
			wantCode: "PROC001",
		},
		{
			name:     "invalid submission",
			mutate:   func(r *RunRequest) { r.Submission.ManualMap = "perhaps" },
			wantCode: "CLS002",
		},
		{
			name:     "no file",
			mutate:   func(r *RunRequest) { r.File = nil },
			wantCode: "LOAD001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, st := newTestService(t)
			req := twoDoorRequest()
			tt.mutate(&req)

			res := mustRun(t, s, req)
			if res.Success {
				t.Fatal("run succeeded, want failure")
			}
			if len(res.Errors) != 1 || res.Errors[0].Code != tt.wantCode {
				t.Fatalf("Errors = %+v, want code %s", res.Errors, tt.wantCode)
			}
			if res.Graph != nil {
				t.Error("failed run must not carry a graph")
			}
			if res.Stats.TotalAccessEvents != 0 || res.Stats.MostActiveDevices == nil {
				t.Errorf("Stats = %+v, want the empty summary", res.Stats)
			}
			if res.Err() == nil {
				t.Error("Err() should hold the cause")
			}
			if _, err := st.LatestSnapshot(context.Background()); !errors.Is(err, store.ErrNotFound) {
				t.Errorf("failed run saved a snapshot (err = %v)", err)
			}
		})
	}
}

func TestService_Run_MissingColumnStatusListsFields(t *testing.T) {
	s, _ := newTestService(t)
	req := twoDoorRequest()
	req.Mapping = schema.ColumnMapping{schema.FieldDoorID: "Device", schema.FieldUserID: "User"}

	res := mustRun(t, s, req)
	for _, f := range []string{"timestamp", "event_type"} {
		if !strings.Contains(res.Status, f) {
			t.Errorf("Status %q does not name %s", res.Status, f)
		}
	}
}

func TestService_Run_StoredMapping(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	req := twoDoorRequest()
	req.Mapping = nil
	res := mustRun(t, s, req)
	if res.Success || res.Errors[0].Code != "MAP002" {
		t.Fatalf("without a template: %+v, want MAP002", res.Errors)
	}

	if _, err := s.SaveMapping(ctx, []string{"Device", "User", "Event", "Time"}, fullMapping()); err != nil {
		t.Fatalf("SaveMapping: %v", err)
	}
	req = twoDoorRequest()
	req.Mapping = nil
	res = mustRun(t, s, req)
	if !res.Success {
		t.Fatalf("with a template: %s %+v", res.Status, res.Errors)
	}
}

func TestService_Run_SnapshotCarriesOver(t *testing.T) {
	s, _ := newTestService(t)
	if res := mustRun(t, s, twoDoorRequest()); !res.Success {
		t.Fatalf("first run: %+v", res.Errors)
	}

	req := twoDoorRequest()
	req.Submission = ClassificationSubmission{ManualMap: "no"}
	res := mustRun(t, s, req)
	if !res.Success {
		t.Fatalf("second run should reuse the stored entrance: %+v", res.Errors)
	}
	if res.SnapshotVersion != 2 {
		t.Errorf("SnapshotVersion = %d, want 2", res.SnapshotVersion)
	}
}

func TestService_Run_InvalidSnapshotIsWarning(t *testing.T) {
	s, st := newTestService(t)
	if _, err := st.SaveSnapshot(context.Background(), []byte(`{"Lobby":{"floor":0}}`)); err != nil {
		t.Fatal(err)
	}

	res := mustRun(t, s, twoDoorRequest())
	if !res.Success {
		t.Fatalf("run failed: %+v", res.Errors)
	}
	found := false
	for _, w := range res.Warnings {
		if w.Kind == schema.WarnSnapshotInvalid {
			found = true
		}
	}
	if !found {
		t.Errorf("Warnings = %v, want a snapshot_invalid warning", res.Warnings)
	}
}

func TestService_Run_PerDoorInputIsWarning(t *testing.T) {
	s, _ := newTestService(t)
	req := twoDoorRequest()
	req.Submission.SecurityIDs = []string{"Office"}
	req.Submission.SecurityValues = []int{9}

	res := mustRun(t, s, req)
	if !res.Success {
		t.Fatalf("run failed: %+v", res.Errors)
	}
	var found bool
	for _, w := range res.Warnings {
		if w.Kind == schema.WarnPerDoorInput && w.DoorID == "Office" {
			found = true
		}
	}
	if !found {
		t.Errorf("Warnings = %v, want a per_door_input warning for Office", res.Warnings)
	}
}

type panicReader struct{}

func (panicReader) Read([]byte) (int, error) { panic("reader exploded") }

func TestService_Run_RecoversPanics(t *testing.T) {
	s, _ := newTestService(t)
	req := twoDoorRequest()
	req.File = panicReader{}

	res := mustRun(t, s, req)
	if res.Success || res.Errors[0].Code != "PROC003" {
		t.Fatalf("Errors = %+v, want PROC003", res.Errors)
	}
	if s.Limiter().ActiveCount() != 0 {
		t.Error("run slot leaked after panic")
	}
}

// explodingSnapshots panics when the resolver seeds from the latest snapshot.
type explodingSnapshots struct {
	*memory.Store
}

func (explodingSnapshots) LatestSnapshot(context.Context) (store.SnapshotRecord, error) {
	panic("driver exploded")
}

func TestService_Run_RecoversResolverPanic(t *testing.T) {
	s := NewService(explodingSnapshots{memory.New()}, testConfig())

	res := mustRun(t, s, twoDoorRequest())
	if res.Success {
		t.Fatal("run should fail")
	}
	if got := res.Errors[0].Code; got != "PROC003" {
		t.Errorf("code = %q, want PROC003", got)
	}
	if res.Graph != nil {
		t.Error("failed run should carry no graph")
	}
	if s.Limiter().ActiveCount() != 0 {
		t.Error("run slot leaked after panic")
	}
}

func TestService_Run_TooManyRuns(t *testing.T) {
	cfg := testConfig()
	cfg.Upload.MaxConcurrent = 1
	cfg.Upload.MaxWaitTime = 20 * time.Millisecond
	s := NewService(memory.New(), cfg)

	if err := s.Limiter().Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Limiter().Release()

	if _, err := s.Run(context.Background(), twoDoorRequest()); !errors.Is(err, ErrTooManyRuns) {
		t.Errorf("Run = %v, want ErrTooManyRuns", err)
	}
}

type countingObserver struct {
	mu   sync.Mutex
	runs []*RunResult
}

func (o *countingObserver) ObserveRun(res *RunResult, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs = append(o.runs, res)
}

func TestService_Run_NotifiesObserver(t *testing.T) {
	obs := &countingObserver{}
	s, _ := newTestService(t, WithObserver(obs))

	mustRun(t, s, twoDoorRequest())
	req := twoDoorRequest()
	req.ConfirmedEntrances = nil
	mustRun(t, s, req)

	if len(obs.runs) != 2 || !obs.runs[0].Success || obs.runs[1].Success {
		t.Errorf("observed %d runs, want one success then one failure", len(obs.runs))
	}
}

func TestService_PreviewDoors(t *testing.T) {
	s, st := newTestService(t)
	snap := `{"Lobby":{"floor":1,"is_entrance":true,"is_stairwell":false,"security_level":"green"}}`
	if _, err := st.SaveSnapshot(context.Background(), []byte(snap)); err != nil {
		t.Fatal(err)
	}

	data := twoDoorLog + "Lobby,U2,ACCESS DENIED,2024-03-04 07:00:00\n"
	got, err := s.PreviewDoors(context.Background(), strings.NewReader(data), fullMapping())
	if err != nil {
		t.Fatalf("PreviewDoors: %v", err)
	}
	if len(got.Doors) != 2 {
		t.Fatalf("Doors = %+v, want 2", got.Doors)
	}
	lobby := got.Doors[0]
	if lobby.DoorID != "Lobby" || lobby.Events != 2 || lobby.Granted != 1 || lobby.Users != 2 {
		t.Errorf("Lobby preview = %+v", lobby)
	}
	if lobby.Classification == nil || !lobby.Classification.IsEntrance {
		t.Errorf("Lobby classification = %v, want the stored entrance", lobby.Classification)
	}
	if got.Doors[1].Classification != nil {
		t.Errorf("Office should be unclassified, got %v", got.Doors[1].Classification)
	}
	if len(got.SecurityLevels) != len(schema.SecurityLevels) {
		t.Error("preview should list the security levels")
	}
}

func TestService_SuggestMapping(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	headers := []string{"Device", "User", "Event", "Time"}

	sug, err := s.SuggestMapping(ctx, headers)
	if err != nil {
		t.Fatalf("SuggestMapping: %v", err)
	}
	if sug.Stored != nil || len(sug.Missing) != 0 {
		t.Errorf("suggestion = %+v, want a complete alias match and no stored template", sug)
	}
	if len(sug.Fields) != len(schema.CanonicalFields) {
		t.Fatalf("Fields = %v, want one per canonical field", sug.Fields)
	}
	if got := sug.Fields[0]; got.Field != schema.FieldTimestamp || got.Label != "Timestamp (Event Time)" {
		t.Errorf("Fields[0] = %+v, want the labelled timestamp field", got)
	}

	custom := schema.ColumnMapping{
		schema.FieldDoorID:    "User",
		schema.FieldUserID:    "Device",
		schema.FieldEventType: "Event",
		schema.FieldTimestamp: "Time",
	}
	if _, err := s.SaveMapping(ctx, headers, custom); err != nil {
		t.Fatalf("SaveMapping: %v", err)
	}
	sug, err = s.SuggestMapping(ctx, []string{"time", "EVENT", "user", "device"})
	if err != nil {
		t.Fatalf("SuggestMapping: %v", err)
	}
	if sug.Stored[schema.FieldDoorID] != "User" {
		t.Errorf("Stored = %v, want the saved template", sug.Stored)
	}
}

func TestService_SaveMapping_Rejects(t *testing.T) {
	s, _ := newTestService(t)
	_, err := s.SaveMapping(context.Background(), []string{"Device"}, fullMapping())
	var mc *MissingColumnError
	if !errors.As(err, &mc) {
		t.Errorf("err = %v, want *MissingColumnError", err)
	}
}

func TestService_PruneSnapshots(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := st.SaveSnapshot(ctx, []byte(`{}`)); err != nil {
			t.Fatal(err)
		}
	}
	if got := s.PruneSnapshots(ctx, 1); got != 3 {
		t.Errorf("PruneSnapshots removed %d, want 3", got)
	}
}

func TestService_StartSnapshotPrunerStops(t *testing.T) {
	s, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.StartSnapshotPruner(ctx, PruneConfig{Keep: 1, Interval: 10 * time.Millisecond})
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pruner did not stop after cancel")
	}
}

func TestService_LatestClassifications(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	view, err := s.LatestClassifications(ctx)
	if err != nil {
		t.Fatalf("LatestClassifications: %v", err)
	}
	if view.Version != 0 || len(view.Classifications) != 0 {
		t.Errorf("empty store view = %+v", view)
	}

	mustRun(t, s, twoDoorRequest())
	view, err = s.LatestClassifications(ctx)
	if err != nil {
		t.Fatalf("LatestClassifications: %v", err)
	}
	if view.Version != 1 || !view.Classifications["Lobby"].IsEntrance {
		t.Errorf("view = %+v, want version 1 with Lobby as entrance", view)
	}
	if len(view.Doors) != len(view.Classifications) || view.Doors[0] != "Lobby" {
		t.Errorf("Doors = %v, want the sorted classified door ids", view.Doors)
	}
}
