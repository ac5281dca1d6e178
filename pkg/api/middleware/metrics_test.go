package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type recordedRequest struct {
	method, path, status string
}

type fakeRecorder struct {
	mu       sync.Mutex
	requests []recordedRequest
	active   int
	peak     int
}

func (f *fakeRecorder) RecordHTTPRequest(method, path, status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{method, path, status})
}

func (f *fakeRecorder) IncActiveConnections() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
}

func (f *fakeRecorder) DecActiveConnections() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active--
}

func TestMetricsRecordsRequests(t *testing.T) {
	recorder := &fakeRecorder{}
	handler := Metrics(recorder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1.add-shipping/events", nil))

	if len(recorder.requests) != 1 {
		t.Fatalf("recorded %d requests, want 1", len(recorder.requests))
	}
	got := recorder.requests[0]
	if got.method != http.MethodGet || got.status != "404" {
		t.Fatalf("recorded %#v", got)
	}
	if got.path != "/api/v1/runs/:id/events" {
		t.Fatalf("path label = %q, want run id folded", got.path)
	}
	if recorder.active != 0 {
		t.Fatalf("active connections leaked: %d", recorder.active)
	}
}

func TestMetricsSkipsMetricsEndpoint(t *testing.T) {
	recorder := &fakeRecorder{}
	handler := Metrics(recorder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if len(recorder.requests) != 0 {
		t.Fatalf("metrics endpoint recorded: %#v", recorder.requests)
	}
}

func TestMetricsRecordsPanicsAs500(t *testing.T) {
	recorder := &fakeRecorder{}
	handler := Metrics(recorder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	func() {
		defer func() { recover() }()
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil))
	}()

	if len(recorder.requests) != 1 || recorder.requests[0].status != "500" {
		t.Fatalf("recorded %#v", recorder.requests)
	}
	if recorder.active != 0 {
		t.Fatalf("active connections leaked after panic: %d", recorder.active)
	}
}

func TestMetricsPathFoldsUUIDs(t *testing.T) {
	got := metricsPath("/api/v1/things/550e8400-e29b-41d4-a716-446655440000")
	if got != "/api/v1/things/:id" {
		t.Fatalf("metricsPath() = %q", got)
	}
}
