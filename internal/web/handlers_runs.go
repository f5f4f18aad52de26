package web

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/JonMunkholm/doorgraph/internal/core"
	"github.com/JonMunkholm/doorgraph/internal/store"
)

// handleRun executes the pipeline for an uploaded event log.
//
// Form fields:
//   - file: the CSV event log
//   - mapping: JSON canonical field to header, optional with a stored template
//   - classification: JSON classification submission
//   - confirmed_entrances: door ids confirmed as entrances
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	form, cleanup, err := s.parseUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer cleanup()

	var sub core.ClassificationSubmission
	if raw := strings.TrimSpace(r.FormValue("classification")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &sub); err != nil {
			s.respondError(w, r, invalidRequest("classification: %v", err))
			return
		}
	}
	confirmed, err := confirmedEntrances(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	res, err := s.service.Run(WithRequestMetadata(r.Context(), r), core.RunRequest{
		File:               form.file,
		FileName:           form.name,
		Mapping:            form.mapping,
		Submission:         sub,
		ConfirmedEntrances: confirmed,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondRun(w, r, res)
}

// handleLatestRun returns the most recent surfaced run.
func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	res := s.service.LatestRun()
	if res == nil {
		s.respondError(w, r, store.ErrNotFound)
		return
	}
	s.respondRun(w, r, res)
}

// respondRun writes a run result. Failed runs keep the full result body
// with the status of their error.
func (s *Server) respondRun(w http.ResponseWriter, r *http.Request, res *core.RunResult) {
	status := http.StatusOK
	if !res.Success {
		status = statusFor(res.Err())
	}
	if isHTMX(r) {
		renderFragment(w, r, status, runSummary(res))
		return
	}
	writeJSON(w, status, res)
}
