// Package server exposes the engine's operational endpoints: liveness,
// readiness and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/mmengine/internal/server/handler"
	"github.com/alanyoungcy/mmengine/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr        string
	MetricsPath string
}

// Server is the operational HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers the health routes and, when metrics is non-nil, the
// metrics handler under cfg.MetricsPath.
func NewServer(cfg Config, health *handler.HealthHandler, metrics http.Handler, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "ops_server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Live)
	mux.HandleFunc("GET /readyz", health.Ready)

	path := cfg.MetricsPath
	if path == "" {
		path = "/metrics"
	}
	if metrics != nil {
		mux.Handle("GET "+path, metrics)
	}

	h := middleware.Logging(logger, path)(mux)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
