package web

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestRespondError_LogLevel(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  int
		wantLevel string
	}{
		{name: "invalid request", err: invalidRequest("bad field"), wantCode: http.StatusBadRequest, wantLevel: "level=WARN"},
		{name: "unrecognised error", err: errors.New("kaboom"), wantCode: http.StatusInternalServerError, wantLevel: "level=ERROR"},
	}

	ts := newTestServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := captureLogs(t)
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/runs/latest", nil)

			ts.respondError(rec, req, tt.err)

			require.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, logs.String(), tt.wantLevel)
		})
	}
}
