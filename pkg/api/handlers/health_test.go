package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/weftworks/weft/pkg/workflow"
)

func TestHealthHandler_Health(t *testing.T) {
	registry := workflow.NewRegistry(nil)
	h := NewHealthHandler(registry, "test")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected ok status, got %s", body["status"])
	}
}

func TestHealthHandler_Ready(t *testing.T) {
	registry := workflow.NewRegistry(nil)
	h := NewHealthHandler(registry, "test")

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	h.Ready(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body["ready"] {
		t.Error("expected ready=true")
	}
}

func TestHealthHandler_Status(t *testing.T) {
	registry := workflow.NewRegistry(nil)
	h := NewHealthHandler(registry, "1.2.3")

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["version"] != "1.2.3" {
		t.Errorf("expected version 1.2.3, got %v", body["version"])
	}
}
