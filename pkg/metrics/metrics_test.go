package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewManager_Disabled(t *testing.T) {
	m := NewManager(Config{Enabled: false})
	if m.Enabled() {
		t.Fatal("expected disabled manager")
	}

	// All recorders must be safe no-ops when disabled.
	m.RecordRunExecution("done")
	m.RecordRunDuration("done", time.Second)
	m.IncActiveRuns()
	m.DecActiveRuns()
	m.RecordCompensation("compensated")
	m.RecordCompensationDuration(time.Second)
	m.RecordRecovery("recovered")
	m.RecordHTTPRequest("GET", "/api/v1/runs", "200", time.Millisecond)
	m.IncActiveConnections()
	m.DecActiveConnections()
}

func TestNewManager_DisabledHandler(t *testing.T) {
	m := NoOpManager()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 from disabled handler, got %d", rec.Code)
	}
}

func TestManager_RunMetrics(t *testing.T) {
	m := NewManager(DefaultConfig())
	if !m.Enabled() {
		t.Fatal("expected enabled manager")
	}

	m.RecordRunExecution("done")
	m.RecordRunExecution("reverted")
	m.RecordRunDuration("done", 2*time.Second)
	m.IncActiveRuns()
	m.RecordCompensation("compensated")
	m.RecordCompensation("failed")
	m.RecordCompensationDuration(100 * time.Millisecond)
	m.RecordRecovery("recovered")
	m.DecActiveRuns()

	body := scrape(t, m)
	for _, metric := range []string{
		"workflow_run_executions_total",
		"workflow_run_duration_seconds",
		"workflow_run_active_count",
		"workflow_compensations_total",
		"workflow_compensation_duration_seconds",
		"workflow_run_recovery_total",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("expected %s in scrape output", metric)
		}
	}
}

func TestManager_HTTPMetrics(t *testing.T) {
	m := NewManager(DefaultConfig())

	m.IncActiveConnections()
	m.RecordHTTPRequest("GET", "/api/v1/runs", "200", 5*time.Millisecond)
	m.DecActiveConnections()

	body := scrape(t, m)
	if !strings.Contains(body, "weft_http_requests_total") {
		t.Error("expected weft_http_requests_total in scrape output")
	}
	if !strings.Contains(body, "weft_http_request_duration_seconds") {
		t.Error("expected weft_http_request_duration_seconds in scrape output")
	}
	if !strings.Contains(body, "weft_http_active_connections") {
		t.Error("expected weft_http_active_connections in scrape output")
	}
}

func scrape(t *testing.T, m *Manager) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("scrape returned %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("failed to read scrape body: %v", err)
	}
	return string(body)
}
