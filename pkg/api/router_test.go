package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/weftworks/weft/config"
	"github.com/weftworks/weft/pkg/api/handlers"
	"github.com/weftworks/weft/pkg/logger"
	"github.com/weftworks/weft/pkg/workflow"
)

func newTestRouterDeps(t *testing.T) (*config.Config, logger.Logger, *Handlers) {
	t.Helper()

	cfg := config.DefaultConfig()
	log := logger.New(&logger.Config{Level: logger.ErrorLevel, Format: "text", Output: "stdout"})

	registry := workflow.NewRegistry(nil)
	h := &Handlers{
		Runs:   handlers.NewRunsHandler(registry, nil),
		Health: handlers.NewHealthHandler(registry, "test"),
	}
	return cfg, log, h
}

func TestNewRouter_Routes(t *testing.T) {
	cfg, log, h := newTestRouterDeps(t)
	router := NewRouter(cfg, log, h)

	cases := []struct {
		path string
		want int
	}{
		{"/health", http.StatusOK},
		{"/ready", http.StatusOK},
		{"/status", http.StatusOK},
		{"/api/v1/runs", http.StatusOK},
		{"/api/v1/workflows", http.StatusOK},
		{"/api/v1/runs/missing", http.StatusNotFound},
		{"/nope", http.StatusNotFound},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("GET %s: expected %d, got %d", tc.path, tc.want, rec.Code)
		}
	}
}

func TestNewRouter_RequestIDHeader(t *testing.T) {
	cfg, log, h := newTestRouterDeps(t)
	router := NewRouter(cfg, log, h)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID response header")
	}
}
