package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestJSONWritesBodyAndContentType(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %#v", body)
	}
}

func TestJSONNilDataWritesNoBody(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusNoContent, nil)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if w.Body.Len() != 0 {
		t.Fatalf("unexpected body: %q", w.Body.String())
	}
}

func TestErrorEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusNotFound, ErrCodeNotFound, "run run-1 not found", "req-1")

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error response: %v", err)
	}
	if resp.Error.Code != ErrCodeNotFound {
		t.Fatalf("code = %q, want %q", resp.Error.Code, ErrCodeNotFound)
	}
	if !strings.Contains(resp.Error.Message, "run-1") {
		t.Fatalf("message = %q", resp.Error.Message)
	}
	if resp.Error.RequestID != "req-1" {
		t.Fatalf("request id = %q", resp.Error.RequestID)
	}
	if resp.Error.Details != nil {
		t.Fatalf("unexpected details: %#v", resp.Error.Details)
	}
}

func TestErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()
	ErrorWithDetails(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid filter",
		map[string]any{"state": "must be one of running, done, failed, reverting, reverted"}, "req-2")

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error response: %v", err)
	}
	if _, ok := resp.Error.Details["state"]; !ok {
		t.Fatalf("details missing field entry: %#v", resp.Error.Details)
	}
}
