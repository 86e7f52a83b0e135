package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/webmoniter/app/credential"
	"github.com/lysyi3m/webmoniter/app/scheduler"
)

type mockRunner struct {
	jobs      []scheduler.JobInfo
	triggered []string
	bypass    []bool
	err       error
}

func (m *mockRunner) Jobs() []scheduler.JobInfo { return m.jobs }

func (m *mockRunner) TriggerNow(ctx context.Context, id string, bypass bool) error {
	m.triggered = append(m.triggered, id)
	m.bypass = append(m.bypass, bypass)
	return m.err
}

type mockCredentials map[string]credential.Status

func (m mockCredentials) Snapshot() map[string]credential.Status { return m }

func newTestServer(runner *mockRunner, key string) http.Handler {
	creds := mockCredentials{
		"weibo": {Valid: false, Notified: true},
		"huya":  {Valid: true},
	}
	return NewServer(NewHandler(runner, creds, "test"), key)
}

func do(t *testing.T, h http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	runner := &mockRunner{jobs: []scheduler.JobInfo{{ID: "a"}, {ID: "b"}}}
	w := do(t, newTestServer(runner, ""), http.MethodGet, "/health", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var body struct {
		Status  string   `json:"status"`
		Jobs    int      `json:"jobs"`
		Expired []string `json:"expired_credentials"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Jobs != 2 {
		t.Errorf("Expected ok with 2 jobs, got %+v", body)
	}
	if len(body.Expired) != 1 || body.Expired[0] != "weibo" {
		t.Errorf("Expected weibo expired, got %v", body.Expired)
	}
}

func TestAPIDisabledWithoutKey(t *testing.T) {
	w := do(t, newTestServer(&mockRunner{}, ""), http.MethodGet, "/api/jobs", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 when API is disabled, got %d", w.Code)
	}
}

func TestAPIAuth(t *testing.T) {
	h := newTestServer(&mockRunner{}, "secret")

	tests := []struct {
		name   string
		header map[string]string
		code   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"header", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"bearer", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, h, http.MethodGet, "/api/jobs", tt.header); w.Code != tt.code {
				t.Errorf("Expected %d, got %d", tt.code, w.Code)
			}
		})
	}
}

func TestListJobs(t *testing.T) {
	next := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	runner := &mockRunner{jobs: []scheduler.JobInfo{
		{ID: "ikuuu_checkin", Trigger: "daily at 08:00", Enabled: true, Next: next, LastStatus: "success"},
	}}
	w := do(t, newTestServer(runner, "k"), http.MethodGet, "/api/jobs", map[string]string{"X-API-Key": "k"})

	var body struct {
		Jobs  []jobResponse `json:"jobs"`
		Total int           `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Total != 1 || body.Jobs[0].NextRun != "2024-05-01T08:00:00Z" {
		t.Errorf("Unexpected job list %+v", body)
	}
	if body.Jobs[0].LastRun != "" {
		t.Errorf("Expected empty last_run for a job that never ran, got %q", body.Jobs[0].LastRun)
	}
}

func TestRunJob(t *testing.T) {
	auth := map[string]string{"X-API-Key": "k"}

	runner := &mockRunner{}
	w := do(t, newTestServer(runner, "k"), http.MethodPost, "/api/jobs/huya_monitor/run", auth)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(runner.triggered) != 1 || runner.triggered[0] != "huya_monitor" || !runner.bypass[0] {
		t.Errorf("Expected bypassing trigger of huya_monitor, got %v %v", runner.triggered, runner.bypass)
	}

	w = do(t, newTestServer(runner, "k"), http.MethodPost, "/api/jobs/huya_monitor/run?bypass=false", auth)
	if w.Code != http.StatusOK || runner.bypass[1] {
		t.Errorf("Expected guarded trigger, got code %d bypass %v", w.Code, runner.bypass)
	}

	tests := []struct {
		err  error
		code int
	}{
		{scheduler.ErrJobNotFound, http.StatusNotFound},
		{scheduler.ErrJobRunning, http.StatusConflict},
		{scheduler.ErrStopped, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		w := do(t, newTestServer(&mockRunner{err: tt.err}, "k"), http.MethodPost, "/api/jobs/x/run", auth)
		if w.Code != tt.code {
			t.Errorf("Expected %d for %v, got %d", tt.code, tt.err, w.Code)
		}
	}

	w = do(t, newTestServer(runner, "k"), http.MethodPost, "/api/jobs/x/run?bypass=maybe", auth)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad bypass, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	w := do(t, newTestServer(&mockRunner{}, ""), http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("Expected Prometheus exposition output")
	}
}
