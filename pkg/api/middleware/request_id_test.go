package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDEchoesCallerID(t *testing.T) {
	var seen string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	req.Header.Set("X-Request-ID", "caller-supplied")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if seen != "caller-supplied" {
		t.Fatalf("context request id = %q, want caller-supplied", seen)
	}
	if got := w.Header().Get("X-Request-ID"); got != "caller-supplied" {
		t.Fatalf("response header = %q, want caller-supplied", got)
	}
}

func TestRequestIDMintsWhenAbsent(t *testing.T) {
	var seen string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))

	if seen == "" {
		t.Fatal("no request id minted")
	}
	if got := w.Header().Get("X-Request-ID"); got != seen {
		t.Fatalf("response header %q does not match context id %q", got, seen)
	}
}

func TestGetRequestIDWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if id := GetRequestID(req.Context()); id != "" {
		t.Fatalf("expected empty id, got %q", id)
	}
}
