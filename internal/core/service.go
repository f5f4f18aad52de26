package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/doorgraph/internal/config"
	"github.com/JonMunkholm/doorgraph/internal/graph"
	"github.com/JonMunkholm/doorgraph/internal/logging"
	"github.com/JonMunkholm/doorgraph/internal/onion"
	"github.com/JonMunkholm/doorgraph/internal/schema"
	"github.com/JonMunkholm/doorgraph/internal/store"
)

// RunObserver is notified once per finished run.
type RunObserver interface {
	ObserveRun(res *RunResult, elapsed time.Duration)
}

// Service runs the pipeline and owns its persistence.
type Service struct {
	store    store.Store
	cfg      *config.Config
	limiter  *RunLimiter
	runs     *RunTracker
	observer RunObserver
}

// Option configures a Service.
type Option func(*Service)

// WithObserver registers o for run notifications.
func WithObserver(o RunObserver) Option {
	return func(s *Service) { s.observer = o }
}

// NewService creates a Service backed by st.
func NewService(st store.Store, cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		store:   st,
		cfg:     cfg,
		limiter: NewRunLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime),
		runs:    NewRunTracker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Limiter exposes the run limiter for shutdown and health reporting.
func (s *Service) Limiter() *RunLimiter { return s.limiter }

// LatestRun returns the newest surfaced run, or nil.
func (s *Service) LatestRun() *RunResult { return s.runs.Latest() }

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// RunRequest is one "generate" action.
type RunRequest struct {
	File     io.Reader
	FileName string

	// Mapping may be empty when a template is stored for the file's headers.
	Mapping schema.ColumnMapping

	Submission ClassificationSubmission

	// ConfirmedEntrances is the second entrance signal. A door seeds layer 0
	// only if it is listed here and classified as an entrance.
	ConfirmedEntrances []string
}

// ErrorDetail is one fatal error of a run.
type ErrorDetail struct {
	Error string `json:"error"`
	UserMessage
}

// RunResult is the outcome of a run. On failure Graph is nil, Stats is
// empty and Errors holds the cause.
type RunResult struct {
	RunID      string    `json:"run_id"`
	Version    int64     `json:"version"`
	Success    bool      `json:"success"`
	Status     string    `json:"status"`
	Superseded bool      `json:"superseded,omitempty"`
	FileName   string    `json:"file_name,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`

	Errors   []ErrorDetail    `json:"errors"`
	Warnings []schema.Warning `json:"warnings"`

	Graph               *graph.Graph       `json:"graph"`
	Stats               graph.StatsSummary `json:"stats"`
	ClassificationsJSON json.RawMessage    `json:"classifications_json,omitempty"`
	SnapshotVersion     int64              `json:"snapshot_version,omitempty"`

	Rows    int `json:"rows"`
	Skipped int `json:"skipped"`
	Events  int `json:"events"`
	Doors   int `json:"doors"`

	err error
}

// Err returns the fatal error of a failed run.
func (r *RunResult) Err() error { return r.err }

func (r *RunResult) fail(err error) {
	msg := MapError(err)
	r.err = err
	r.Success = false
	r.Status = msg.Message
	var (
		missing *MissingColumnError
		load    *LoadError
	)
	switch {
	case errors.As(err, &missing):
		r.Status = fmt.Sprintf("%s: %s", msg.Message, missing.Error())
	case errors.As(err, &load):
		r.Status = fmt.Sprintf("%s: %s", msg.Message, load.Error())
	}
	r.Errors = append(r.Errors, ErrorDetail{Error: err.Error(), UserMessage: msg})
	r.Graph = nil
	r.Stats = graph.EmptyStats()
	r.ClassificationsJSON = nil
	r.SnapshotVersion = 0
}

// Run executes the pipeline for one file. The returned error is non-nil only
// when no run slot could be acquired; every other failure is reported on the
// result.
func (s *Service) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	if s.cfg.Upload.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Upload.Timeout)
		defer cancel()
	}

	runID := uuid.NewString()
	ctx, log := logging.WithRun(ctx, runID, callerFields(ctx)...)

	start := time.Now()
	res := &RunResult{
		RunID:     runID,
		Version:   s.runs.Begin(runID),
		FileName:  req.FileName,
		StartedAt: start.UTC(),
		Errors:    []ErrorDetail{},
		Warnings:  []schema.Warning{},
		Stats:     graph.EmptyStats(),
	}
	log.Info("run started", "version", res.Version, "file", req.FileName)

	if err := s.execute(ctx, log, req, res); err != nil {
		res.fail(err)
		log.Error("run failed", "error", err, "code", res.Errors[0].Code, "user_message", FormatUserError(err))
	}
	elapsed := time.Since(start)
	res.DurationMs = elapsed.Milliseconds()

	if err := s.runs.Complete(res.Version, res); err != nil {
		res.Superseded = true
		log.Info("run result discarded", "version", res.Version, "reason", err)
	}
	if res.Success {
		log.Info("run completed",
			"rows", res.Rows,
			"events", res.Events,
			"doors", res.Doors,
			"warnings", len(res.Warnings),
			"duration_ms", res.DurationMs,
		)
	}

	if s.observer != nil {
		s.observer.ObserveRun(res, elapsed)
	}
	return res, nil
}

func (s *Service) execute(ctx context.Context, log *slog.Logger, req RunRequest, res *RunResult) (err error) {
	defer recoverRun(log, &err)

	if req.File == nil {
		return &LoadError{Reason: ReasonEmpty}
	}
	data, err := readLimited(req.File, s.cfg.Upload.MaxFileSize)
	if err != nil {
		return err
	}

	mapping := req.Mapping
	if len(mapping) == 0 {
		if mapping, err = s.storedMapping(ctx, data); err != nil {
			return err
		}
	}

	var (
		table               *EventTable
		bundle              *ClassificationBundle
		loadErr, resolveErr error
		snapWarn            *schema.Warning
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		loadErr = guarded(log, func() (err error) {
			table, err = LoadEvents(bytes.NewReader(data), mapping, s.loadOptions())
			return err
		})
		return loadErr
	})
	g.Go(func() error {
		resolveErr = guarded(log, func() (err error) {
			existing, w, err := s.seedClassifications(gctx)
			if err != nil {
				return err
			}
			snapWarn = w
			sub := req.Submission
			if sub.NumFloors == 0 {
				sub.NumFloors = s.cfg.Processing.NumFloors
			}
			bundle, err = ResolveClassifications(sub, existing)
			return err
		})
		return resolveErr
	})
	_ = g.Wait()

	// A load failure wins over a resolver failure.
	if loadErr != nil {
		return loadErr
	}
	if resolveErr != nil {
		return resolveErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	log.Info("event table loaded", "rows", table.Rows, "skipped", table.Skipped, "doors", len(table.Doors()))

	numFloors := req.Submission.NumFloors
	if numFloors == 0 {
		numFloors = s.cfg.Processing.NumFloors
	}
	result, err := onion.Compute(table.Events, confirmedSet(req.ConfirmedEntrances), bundle.Classifications, onion.Config{
		NumFloors:           numFloors,
		SessionIdleTimeout:  s.cfg.Processing.SessionIdleTimeout,
		DuplicateScanWindow: s.cfg.Processing.DuplicateScanWindow,
	})
	if err != nil {
		return err
	}

	gr, stats := graph.Assemble(result, bundle.Classifications, graph.Options{TopDevices: s.cfg.Processing.TopDevices})

	if snapWarn != nil {
		res.Warnings = append(res.Warnings, *snapWarn)
	}
	res.Warnings = append(res.Warnings, table.Warnings...)
	res.Warnings = append(res.Warnings, bundle.Warnings...)
	res.Warnings = append(res.Warnings, result.Warnings...)
	for _, w := range res.Warnings {
		log.Warn("run warning", "kind", w.Kind, "door_id", w.DoorID, "row", w.Row, "message", w.Message)
	}

	saved, err := s.runs.Persist(res.Version, func() error {
		rec, err := s.store.SaveSnapshot(ctx, bundle.SnapshotJSON)
		if err != nil {
			return err
		}
		res.SnapshotVersion = rec.Version
		return nil
	})
	if err != nil {
		return fmt.Errorf("save classification snapshot: %w", err)
	}
	if !saved {
		log.Info("snapshot save skipped", "version", res.Version, "reason", "newer run persisted")
	}

	res.Success = true
	res.Graph = gr
	res.Stats = stats
	res.ClassificationsJSON = json.RawMessage(bundle.SnapshotJSON)
	res.Rows = table.Rows
	res.Skipped = table.Skipped
	res.Events = len(table.Events)
	res.Doors = len(gr.Nodes)
	res.Status = statusLine(res, len(result.Disconnected))
	return nil
}

// recoverRun turns a panic on the calling goroutine into an internal
// processing error stored in *err.
func recoverRun(log *slog.Logger, err *error) {
	if r := recover(); r != nil {
		log.Error("run panicked", "panic", r, "stack", string(debug.Stack()))
		*err = &onion.ProcessingError{Cause: onion.ErrInternal, Detail: fmt.Sprint(r)}
	}
}

// guarded runs fn on the current goroutine with recoverRun in place.
// Pipeline stages started with errgroup need it since a panic there
// cannot reach the recover in execute.
func guarded(log *slog.Logger, fn func() error) (err error) {
	defer recoverRun(log, &err)
	return fn()
}

func statusLine(res *RunResult, disconnected int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Processed %d events across %d doors", res.Events, res.Doors)
	if res.Graph != nil && res.Graph.MaxLayer >= 0 {
		fmt.Fprintf(&b, ", %d layers", res.Graph.MaxLayer+1)
	}
	if disconnected > 0 {
		fmt.Fprintf(&b, ", %d disconnected", disconnected)
	}
	if n := len(res.Warnings); n > 0 {
		fmt.Fprintf(&b, " (%d warnings)", n)
	}
	return b.String()
}

func confirmedSet(ids []string) schema.DoorSet {
	set := make(schema.DoorSet, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			set.Add(id)
		}
	}
	return set
}

// storedMapping looks up the template for the headers of data.
func (s *Service) storedMapping(ctx context.Context, data []byte) (schema.ColumnMapping, error) {
	headers, err := ReadHeader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	m, err := s.LookupMapping(ctx, headers)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoMapping
	}
	return m, err
}

func (s *Service) loadOptions() LoadOptions {
	p := s.cfg.Processing
	return LoadOptions{
		MaxBytes: s.cfg.Upload.MaxFileSize,
		MaxRows:  s.cfg.Upload.MaxRows,
		Vocabulary: Vocabulary{
			GrantedPhrase:   p.GrantedPhrase,
			InvalidExact:    p.InvalidExact,
			InvalidContains: p.InvalidContains,
		},
	}
}

// existingClassifications returns the latest persisted classifications and
// their version. A missing snapshot yields an empty map and version 0.
func (s *Service) existingClassifications(ctx context.Context) (schema.Classifications, int64, error) {
	rec, err := s.store.LatestSnapshot(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return schema.Classifications{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load classification snapshot: %w", err)
	}
	c, err := DecodeSnapshot(rec.Data)
	if err != nil {
		return nil, rec.Version, err
	}
	return c, rec.Version, nil
}

// seedClassifications is existingClassifications for a run: an unreadable
// snapshot is replaced by an empty one and reported as a warning.
func (s *Service) seedClassifications(ctx context.Context) (schema.Classifications, *schema.Warning, error) {
	c, version, err := s.existingClassifications(ctx)
	if errors.Is(err, ErrSnapshotInvalid) {
		logging.FromContext(ctx).Warn("ignoring invalid classification snapshot", "version", version, "error", err)
		return schema.Classifications{}, &schema.Warning{
			Kind:    schema.WarnSnapshotInvalid,
			Message: fmt.Sprintf("snapshot version %d ignored: %v", version, err),
		}, nil
	}
	return c, nil, err
}

// ClassificationsView is the latest persisted snapshot.
type ClassificationsView struct {
	Version         int64                   `json:"version"`
	CreatedAt       *time.Time              `json:"created_at,omitempty"`
	Classifications schema.Classifications  `json:"classifications"`
	Doors           []string                `json:"doors"`
	SecurityLevels  []schema.SecurityOption `json:"security_levels"`
}

// LatestClassifications returns the persisted snapshot, empty when none exists.
func (s *Service) LatestClassifications(ctx context.Context) (*ClassificationsView, error) {
	view := &ClassificationsView{
		Classifications: schema.Classifications{},
		Doors:           []string{},
		SecurityLevels:  schema.SecurityLevels,
	}
	rec, err := s.store.LatestSnapshot(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return view, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load classification snapshot: %w", err)
	}
	c, err := DecodeSnapshot(rec.Data)
	if err != nil {
		return nil, err
	}
	created := rec.CreatedAt
	view.Version = rec.Version
	view.CreatedAt = &created
	view.Classifications = c
	view.Doors = c.DoorIDs()
	return view, nil
}
