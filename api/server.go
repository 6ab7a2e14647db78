// Package api exposes the retrieval service over HTTP.
//
// Endpoints:
//
//	GET    /health                     liveness probe
//	GET    /ready                      readiness probe (pings the database)
//	POST   /api/ingest                 enqueue an ingestion job, 202 + job id
//	GET    /api/jobs/{id}              job status
//	POST   /api/query                  retrieval query
//	GET    /api/collections            collection stats
//	DELETE /api/sessions/{id}/index    drop a session's collection
//
// File structure:
//   - server.go: server setup and lifecycle
//   - middleware.go: recovery, logging, chain helper
//   - ratelimit.go: per-IP token bucket limiting
//   - health.go, ingest.go, query.go, session.go: handlers
//   - response.go: JSON response helpers
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8085"

	// ShutdownTimeout is the maximum wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads (Slowloris protection).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing a response.
	WriteTimeout = 60 * time.Second

	// IdleTimeout bounds keep-alive waits.
	IdleTimeout = 120 * time.Second
)

// Config controls the server's outer behavior.
type Config struct {
	// Addr is the listen address. Empty means DefaultAddr.
	Addr string

	// RatePerSec and RateBurst configure per-IP rate limiting.
	// Zero values disable limiting.
	RatePerSec int
	RateBurst  int

	// TrustProxy enables X-Real-IP/X-Forwarded-For for client IPs.
	// Only set behind a reverse proxy.
	TrustProxy bool
}

// Server is the HTTP server for the retrieval API.
type Server struct {
	mux    *http.ServeMux
	cfg    Config
	logger *slog.Logger

	health  *HealthHandler
	ingest  *IngestHandler
	query   *QueryHandler
	session *SessionHandler
}

// NewServer creates a server with all routes registered.
func NewServer(scheduler Scheduler, engine Engine, lister Lister, pool *pgxpool.Pool, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	s := &Server{
		mux:     mux,
		cfg:     cfg,
		logger:  logger,
		health:  NewHealthHandler(pool, logger),
		ingest:  NewIngestHandler(scheduler, logger),
		query:   NewQueryHandler(engine, logger),
		session: NewSessionHandler(scheduler, lister, logger),
	}

	s.health.RegisterRoutes(mux)
	s.ingest.RegisterRoutes(mux)
	s.query.RegisterRoutes(mux)
	s.session.RegisterRoutes(mux)

	return s
}

// Handler returns the handler with middleware applied.
// Order: recovery → logging → rate limit → routes.
func (s *Server) Handler() http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
	}
	if s.cfg.RatePerSec > 0 {
		rl := newRateLimiter(float64(s.cfg.RatePerSec), s.cfg.RateBurst)
		middlewares = append(middlewares, rateLimitMiddleware(rl, s.cfg.TrustProxy, s.logger))
	}
	return chain(s.mux, middlewares...)
}

// Run starts the server and blocks until ctx is canceled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}

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
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
