// Package api exposes the inference front server over HTTP.
//
// Endpoints:
//
//	POST /generate  →  admission gate → generation orchestrator
//	GET  /health    →  load snapshot (queue/permit utilization, status)
//
// The admission controller enforces the backpressure contract described in
// internal/admission; this package only maps its outcomes onto HTTP
// statuses.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/unsafisica/unsabot/internal/admission"
	"github.com/unsafisica/unsabot/internal/engine"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads (Slowloris protection).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout must cover a full generation call.
	WriteTimeout = 2 * time.Minute

	// IdleTimeout for keep-alive connections.
	IdleTimeout = 2 * time.Minute
)

// ServerConfig configures the inference front server.
type ServerConfig struct {
	Logger       *slog.Logger
	Controller   *admission.Controller // Required
	Orchestrator *engine.Orchestrator  // Required
	ModelName    string
}

// Server is the inference front HTTP server.
type Server struct {
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewServer creates the server with all routes registered.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Controller == nil {
		return nil, errors.New("admission controller is required")
	}
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gh := &generateHandler{
		logger:       logger,
		controller:   cfg.Controller,
		orchestrator: cfg.Orchestrator,
	}
	hh := &healthHandler{
		controller: cfg.Controller,
		model:      cfg.ModelName,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /generate", gh.generate)
	mux.HandleFunc("GET /health", hh.health)

	return &Server{logger: logger, mux: mux}, nil
}

// Handler returns the handler with the middleware chain applied.
// Order: recovery → logging → routes.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.mux
	handler = loggingMiddleware(s.logger)(handler)
	handler = recoveryMiddleware(s.logger)(handler)
	return handler
}

// Run starts the server and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting inference server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down inference server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
