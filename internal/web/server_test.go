package web

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/doorgraph/internal/config"
	"github.com/JonMunkholm/doorgraph/internal/core"
	"github.com/JonMunkholm/doorgraph/internal/metrics"
	"github.com/JonMunkholm/doorgraph/internal/store/memory"
)

const twoDoorLog = `Device,User,Event,Time
Lobby,U1,ACCESS GRANTED,2024-03-04 08:00:00
Office,U1,ACCESS GRANTED,2024-03-04 08:05:00
`

const (
	fullMappingJSON = `{"door_id":"Device","user_id":"User","event_type":"Event","timestamp":"Time"}`
	lobbyEntrance   = `{"manual_map":"yes","entrance_ids":["Lobby"],"entrance_values":[true]}`
)

func testConfig() *config.Config {
	return &config.Config{
		Upload: config.UploadConfig{
			MaxFileSize:       1 << 20,
			MaxRows:           1000,
			AllowedExtensions: []string{".csv"},
			MaxConcurrent:     2,
			MaxWaitTime:       time.Second,
			Timeout:           10 * time.Second,
		},
		Rate: config.RateLimitConfig{RequestsPerMinute: 100, RunLimit: 10},
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

type testServer struct {
	*Server
	metrics *metrics.Metrics
	store   *memory.Store
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	cfg := testConfig()
	for _, fn := range mutate {
		fn(cfg)
	}
	m := metrics.New()
	st := memory.New()
	svc := core.NewService(st, cfg, core.WithObserver(m))
	return &testServer{Server: NewServer(svc, cfg, m), metrics: m, store: st}
}

type upload struct {
	fileName string
	content  string
	fields   map[string]string
}

func (u upload) request(t *testing.T, method, path string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if u.fileName != "" {
		fw, err := mw.CreateFormFile("file", u.fileName)
		require.NoError(t, err)
		_, err = fw.Write([]byte(u.content))
		require.NoError(t, err)
	}
	for k, v := range u.fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func twoDoorUpload() upload {
	return upload{
		fileName: "log.csv",
		content:  twoDoorLog,
		fields: map[string]string{
			"mapping":             fullMappingJSON,
			"classification":      lobbyEntrance,
			"confirmed_entrances": "Lobby",
		},
	}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHandleRun_TwoDoorScenario(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(twoDoorUpload().request(t, http.MethodPost, "/api/runs"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[core.RunResult](t, rec)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "log.csv", res.FileName)
	require.NotNil(t, res.Graph)
	require.Len(t, res.Graph.Nodes, 2)
	assert.Equal(t, "Lobby", res.Graph.Nodes[0].ID)
	assert.Equal(t, 0, res.Graph.Nodes[0].Layer)
	assert.Equal(t, "Office", res.Graph.Nodes[1].ID)
	assert.Equal(t, 1, res.Graph.Nodes[1].Layer)
	require.Len(t, res.Graph.Edges, 1)
	assert.Equal(t, 2, res.Stats.TotalAccessEvents)
	assert.Contains(t, string(res.ClassificationsJSON), `"Lobby"`)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestHandleRun_ConfirmedEntrancesForms(t *testing.T) {
	for name, value := range map[string]string{
		"plain":      "Lobby",
		"comma":      "Lobby, Nowhere",
		"json array": `["Lobby"]`,
	} {
		t.Run(name, func(t *testing.T) {
			ts := newTestServer(t)
			u := twoDoorUpload()
			u.fields["confirmed_entrances"] = value

			rec := ts.do(u.request(t, http.MethodPost, "/api/runs"))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.True(t, decode[core.RunResult](t, rec).Success)
		})
	}
}

func TestHandleRun_FailedRunKeepsResultBody(t *testing.T) {
	ts := newTestServer(t)
	u := twoDoorUpload()
	delete(u.fields, "confirmed_entrances")

	rec := ts.do(u.request(t, http.MethodPost, "/api/runs"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	res := decode[core.RunResult](t, rec)
	assert.False(t, res.Success)
	assert.Nil(t, res.Graph)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "PROC002", res.Errors[0].Code)
	assert.Equal(t, "No entrances configured", res.Status)
}

func TestHandleRun_MissingColumn(t *testing.T) {
	ts := newTestServer(t)
	u := twoDoorUpload()
	u.fields["mapping"] = `{"door_id":"Device","user_id":"User","event_type":"Event","timestamp":"When"}`

	rec := ts.do(u.request(t, http.MethodPost, "/api/runs"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	res := decode[core.RunResult](t, rec)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "MAP001", res.Errors[0].Code)
	assert.Contains(t, res.Status, "timestamp")
}

func TestHandleRun_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		upload upload
		status int
		code   string
	}{
		{
			name:   "no file",
			upload: upload{fields: map[string]string{"mapping": fullMappingJSON}},
			status: http.StatusBadRequest,
			code:   "VAL001",
		},
		{
			name:   "wrong extension",
			upload: upload{fileName: "log.xlsx", content: twoDoorLog},
			status: http.StatusBadRequest,
			code:   "VAL001",
		},
		{
			name:   "mapping not json",
			upload: upload{fileName: "log.csv", content: twoDoorLog, fields: map[string]string{"mapping": "Device"}},
			status: http.StatusBadRequest,
			code:   "VAL001",
		},
		{
			name: "classification not json",
			upload: upload{fileName: "log.csv", content: twoDoorLog, fields: map[string]string{
				"mapping":        fullMappingJSON,
				"classification": "{",
			}},
			status: http.StatusBadRequest,
			code:   "VAL001",
		},
		{
			name: "confirmed entrances not json",
			upload: upload{fileName: "log.csv", content: twoDoorLog, fields: map[string]string{
				"mapping":             fullMappingJSON,
				"confirmed_entrances": "[Lobby",
			}},
			status: http.StatusBadRequest,
			code:   "VAL001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			rec := ts.do(tt.upload.request(t, http.MethodPost, "/api/runs"))
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestHandleRun_FileTooLarge(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Upload.MaxFileSize = 64 })

	rec := ts.do(twoDoorUpload().request(t, http.MethodPost, "/api/runs"))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
	res := decode[core.RunResult](t, rec)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "LOAD003", res.Errors[0].Code)
}

func TestHandleRun_HTMXFragment(t *testing.T) {
	ts := newTestServer(t)
	req := twoDoorUpload().request(t, http.MethodPost, "/api/runs")
	req.Header.Set("HX-Request", "true")

	rec := ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, `class="run run-success"`)
	assert.Contains(t, body, "Processed 2 events across 2 doors")
	assert.Contains(t, body, "2024-03-04 to 2024-03-04")
}

func TestHandleLatestRun(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/runs/latest", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "STORE001", decode[ErrorResponse](t, rec).Code)

	run := ts.do(twoDoorUpload().request(t, http.MethodPost, "/api/runs"))
	require.Equal(t, http.StatusOK, run.Code)
	want := decode[core.RunResult](t, run)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/runs/latest", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[core.RunResult](t, rec)
	assert.Equal(t, want.RunID, got.RunID)
	assert.Equal(t, want.Version, got.Version)
}

func TestErrorFragment(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/runs/latest", nil)
	req.Header.Set("HX-Request", "true")

	rec := ts.do(req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `role="alert"`)
	assert.Contains(t, rec.Body.String(), "Code: STORE001")
}

func TestMappingTemplateFlow(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(upload{fileName: "log.csv", content: twoDoorLog}.request(t, http.MethodPost, "/api/mappings/suggest"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sug := decode[core.MappingSuggestion](t, rec)
	assert.Equal(t, []string{"Device", "User", "Event", "Time"}, sug.Headers)
	assert.Equal(t, `["device","event","time","user"]`, sug.Signature)
	assert.Nil(t, sug.Stored)
	assert.Equal(t, "Device", sug.Suggested["door_id"])
	assert.Empty(t, sug.Missing)

	put := httptest.NewRequest(http.MethodPut, "/api/mappings",
		strings.NewReader(`{"headers":["Device","User","Event","Time"],"mapping":`+fullMappingJSON+`}`))
	rec = ts.do(put)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, sug.Signature, decode[saveMappingResponse](t, rec).Signature)

	// A run without a mapping now uses the stored template.
	u := twoDoorUpload()
	delete(u.fields, "mapping")
	rec = ts.do(u.request(t, http.MethodPost, "/api/runs"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[core.RunResult](t, rec).Success)
}

func TestHandleRun_NoMappingStored(t *testing.T) {
	ts := newTestServer(t)
	u := twoDoorUpload()
	delete(u.fields, "mapping")

	rec := ts.do(u.request(t, http.MethodPost, "/api/runs"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "MAP002", decode[core.RunResult](t, rec).Errors[0].Code)
}

func TestHandleSaveMapping_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"not json", `{`, http.StatusBadRequest, "VAL001"},
		{"unknown field", `{"headers":["A"],"mapping":{"door_id":"A"},"extra":1}`, http.StatusBadRequest, "VAL001"},
		{"no headers", `{"headers":[],"mapping":{"door_id":"A"}}`, http.StatusBadRequest, "VAL001"},
		{"column not in headers", `{"headers":["Device","User","Event"],"mapping":` + fullMappingJSON + `}`, http.StatusUnprocessableEntity, "MAP001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			rec := ts.do(httptest.NewRequest(http.MethodPut, "/api/mappings", strings.NewReader(tt.body)))
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestHandlePreviewDoors(t *testing.T) {
	ts := newTestServer(t)
	u := upload{fileName: "log.csv", content: twoDoorLog, fields: map[string]string{"mapping": fullMappingJSON}}

	rec := ts.do(u.request(t, http.MethodPost, "/api/doors/preview"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	preview := decode[core.PreviewResponse](t, rec)
	require.Len(t, preview.Doors, 2)
	assert.Equal(t, "Lobby", preview.Doors[0].DoorID)
	assert.Equal(t, 1, preview.Doors[0].Events)
	assert.Equal(t, 2, preview.Rows)
	assert.Len(t, preview.SecurityLevels, 4)
}

func TestHandleClassifications(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/classifications", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[core.ClassificationsView](t, rec)
	assert.Zero(t, view.Version)
	assert.Empty(t, view.Classifications)

	require.Equal(t, http.StatusOK, ts.do(twoDoorUpload().request(t, http.MethodPost, "/api/runs")).Code)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/classifications", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	view = decode[core.ClassificationsView](t, rec)
	assert.Equal(t, int64(1), view.Version)
	assert.True(t, view.Classifications["Lobby"].IsEntrance)
	assert.Contains(t, view.Doors, "Lobby")
	assert.Len(t, view.Doors, len(view.Classifications))
	assert.IsIncreasing(t, view.Doors)
}

func TestHandleHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[healthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 2, health.Runs.MaxConcurrent)
	assert.Equal(t, 2, health.Runs.Available)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.do(twoDoorUpload().request(t, http.MethodPost, "/api/runs")).Code)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `doorgraph_runs_total{code="",outcome="success"} 1`)
	assert.Contains(t, body, `doorgraph_http_requests_total{method="POST",route="/api/runs",status="2xx"} 1`)
}

func TestAPIKeyRequired(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.Security.RequireAPIKey = true
		c.Security.APIKeys = []string{"k1", "k2"}
	})

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/classifications", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "AUTH001", decode[ErrorResponse](t, rec).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/classifications", nil)
	req.Header.Set("X-API-Key", "nope")
	rec = ts.do(req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "AUTH002", decode[ErrorResponse](t, rec).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/classifications", nil)
	req.Header.Set("X-API-Key", "k2")
	assert.Equal(t, http.StatusOK, ts.do(req).Code)

	// Health stays open for probes.
	assert.Equal(t, http.StatusOK, ts.do(httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
}

func TestRunRateLimit(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.Rate.Enabled = true
		c.Rate.RunLimit = 1
	})

	first := ts.do(twoDoorUpload().request(t, http.MethodPost, "/api/runs"))
	require.Equal(t, http.StatusOK, first.Code)

	second := ts.do(twoDoorUpload().request(t, http.MethodPost, "/api/runs"))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "RATE001", decode[ErrorResponse](t, second).Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	// Other API routes have their own budget.
	assert.Equal(t, http.StatusOK, ts.do(httptest.NewRequest(http.MethodGet, "/api/classifications", nil)).Code)
}
