package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JonMunkholm/doorgraph/internal/core"
	"github.com/JonMunkholm/doorgraph/internal/schema"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

// handleSuggestMapping reads the header of an uploaded file and proposes a
// column mapping for it.
func (s *Server) handleSuggestMapping(w http.ResponseWriter, r *http.Request) {
	form, cleanup, err := s.parseUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer cleanup()

	headers, err := core.ReadHeader(form.file)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	sug, err := s.service.SuggestMapping(r.Context(), headers)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sug)
}

type saveMappingRequest struct {
	Headers []string             `json:"headers" validate:"required,min=1"`
	Mapping schema.ColumnMapping `json:"mapping" validate:"required,min=1"`
}

type saveMappingResponse struct {
	Signature string               `json:"signature"`
	Mapping   schema.ColumnMapping `json:"mapping"`
}

// handleSaveMapping stores a mapping as the template for a header set.
func (s *Server) handleSaveMapping(w http.ResponseWriter, r *http.Request) {
	var req saveMappingRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	saved, err := s.service.SaveMapping(r.Context(), req.Headers, req.Mapping)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saveMappingResponse{
		Signature: core.HeaderSignature(req.Headers),
		Mapping:   saved,
	})
}

// decodeJSON decodes and validates a JSON body into v.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return err
		}
		return invalidRequest("body: %v", err)
	}
	if err := s.validate.Struct(v); err != nil {
		return invalidRequest("%v", err)
	}
	return nil
}
