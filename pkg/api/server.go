// Package api serves the run inspection and health HTTP surface.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/weftworks/weft/config"
	"github.com/weftworks/weft/pkg/logger"
)

// HTTPServer wraps the net/http server with logging and config-driven timeouts.
type HTTPServer struct {
	server *http.Server
	logger logger.Logger
}

// NewHTTPServer builds the API server with its full router and middleware chain.
func NewHTTPServer(cfg *config.Config, log logger.Logger, handlers *Handlers) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:           net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port)),
			Handler:        NewRouter(cfg, log, handlers),
			ReadTimeout:    cfg.Server.HTTP.ReadTimeout,
			WriteTimeout:   cfg.Server.HTTP.WriteTimeout,
			IdleTimeout:    cfg.Server.HTTP.IdleTimeout,
			MaxHeaderBytes: cfg.Server.HTTP.MaxHeaderBytes,
		},
		logger: log,
	}
}

// Start blocks serving requests until Shutdown is called or the listener fails.
func (s *HTTPServer) Start() error {
	s.logger.Info("Starting HTTP server", "addr", s.server.Addr)

	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}
