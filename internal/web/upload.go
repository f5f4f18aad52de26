package web

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/JonMunkholm/doorgraph/internal/schema"
)

const (
	// multipartMemory is held in memory before parts spill to temp files.
	multipartMemory = 8 << 20

	// formOverhead is allowed on top of the file size for the other fields.
	formOverhead = 1 << 20
)

// uploadForm is the parsed multipart body shared by the file endpoints.
type uploadForm struct {
	file    multipart.File
	name    string
	mapping schema.ColumnMapping
}

// parseUpload reads the multipart body of r. On success the caller must
// call cleanup, which closes the file and removes multipart temp files.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) (*uploadForm, func(), error) {
	if limit := s.cfg.Upload.MaxFileSize; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+formOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, nil, err
		}
		return nil, nil, invalidRequest("multipart form: %v", err)
	}

	form := &uploadForm{}
	cleanup := func() {
		if form.file != nil {
			_ = form.file.Close()
		}
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		cleanup()
		return nil, nil, invalidRequest("no file provided")
	}
	form.file = file
	form.name = filepath.Base(header.Filename)

	if !s.allowedExtension(form.name) {
		cleanup()
		return nil, nil, invalidRequest("file type %q is not accepted", filepath.Ext(form.name))
	}

	if form.mapping, err = parseMapping(r.FormValue("mapping")); err != nil {
		cleanup()
		return nil, nil, err
	}
	return form, cleanup, nil
}

func (s *Server) allowedExtension(name string) bool {
	allowed := s.cfg.Upload.AllowedExtensions
	if len(allowed) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	return slices.ContainsFunc(allowed, func(a string) bool {
		return strings.EqualFold(strings.TrimSpace(a), ext)
	})
}

// parseMapping decodes a canonical-to-header JSON object. Blank input is
// an empty mapping.
func parseMapping(raw string) (schema.ColumnMapping, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var m schema.ColumnMapping
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, invalidRequest("mapping: %v", err)
	}
	return m, nil
}

// confirmedEntrances collects the confirmed_entrances field, which may be
// repeated, comma-separated or a JSON array.
func confirmedEntrances(r *http.Request) ([]string, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	var out []string
	for _, v := range r.MultipartForm.Value["confirmed_entrances"] {
		v = strings.TrimSpace(v)
		if strings.HasPrefix(v, "[") {
			var ids []string
			if err := json.Unmarshal([]byte(v), &ids); err != nil {
				return nil, invalidRequest("confirmed_entrances: %v", err)
			}
			out = append(out, ids...)
			continue
		}
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return out, nil
}
