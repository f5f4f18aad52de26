package web

import (
	"context"
	"net/http"
	"time"

	"github.com/JonMunkholm/doorgraph/internal/core"
)

const healthPingTimeout = 2 * time.Second

// handlePreviewDoors lists the doors of an uploaded file for the
// classification form.
func (s *Server) handlePreviewDoors(w http.ResponseWriter, r *http.Request) {
	form, cleanup, err := s.parseUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer cleanup()

	preview, err := s.service.PreviewDoors(r.Context(), form.file, form.mapping)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// handleClassifications returns the latest persisted classification snapshot.
func (s *Server) handleClassifications(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.LatestClassifications(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type healthResponse struct {
	Status    string                `json:"status"`
	Store     string                `json:"store"`
	Runs      core.RunLimiterStatus `json:"runs"`
	LatestRun int64                 `json:"latest_run_version,omitempty"`
}

// handleHealth reports store connectivity and run limiter state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Store:  "ok",
		Runs:   s.service.Limiter().Status(),
	}
	if latest := s.service.LatestRun(); latest != nil {
		resp.LatestRun = latest.Version
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	status := http.StatusOK
	if err := s.service.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		resp.Status = "degraded"
		resp.Store = core.MapError(err).Message
	}
	writeJSON(w, status, resp)
}
