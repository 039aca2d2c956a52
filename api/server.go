// Package api provides the HTTP REST API for strand.
//
// Endpoints:
//
//	POST  /api/messages          → create a message (+ background sync)
//	PATCH /api/messages/{id}     → edit a message (+ re-sync)
//	POST  /api/ask               → persist the question and answer it
//	POST  /api/messages/similar  → browse similar messages
//	POST  /api/messages/summary  → summarize a channel's recent history
//	GET   /health                → liveness probe
//	GET   /ready                 → readiness probe (pool ping)
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (recovery, logging)
//   - ratelimit.go: per-IP token bucket rate limiting
//   - health.go: health check endpoints (/health, /ready)
//   - messages.go: message create/edit endpoints
//   - ask.go: ask and summary endpoints
//   - similar.go: similarity browsing endpoint
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strandchat/strand/internal/log"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:3500"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	// This prevents Slowloris attacks (CWE-400).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	// Generation can take most of its 30s deadline, so this stays above it.
	WriteTimeout = 60 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on
	// keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Config tunes the HTTP boundary.
type Config struct {
	// RateLimit is tokens per second per client IP.
	RateLimit float64

	// RateBurst is the bucket size per client IP.
	RateBurst int

	// TrustProxy enables X-Real-IP / X-Forwarded-For for client IPs.
	TrustProxy bool
}

// Server is the HTTP server for strand's REST API.
type Server struct {
	mux     *http.ServeMux
	cfg     Config
	logger  log.Logger
	limiter *rateLimiter

	health   *HealthHandler
	messages *MessageHandler
	ask      *AskHandler
	similar  *SimilarHandler
}

// NewServer creates a new HTTP server with all routes registered.
func NewServer(pool *pgxpool.Pool, messages *MessageHandler, ask *AskHandler, similar *SimilarHandler, cfg Config, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}

	mux := http.NewServeMux()
	s := &Server{
		mux:      mux,
		cfg:      cfg,
		logger:   logger,
		limiter:  newRateLimiter(cfg.RateLimit, cfg.RateBurst),
		health:   NewHealthHandler(pool, logger),
		messages: messages,
		ask:      ask,
		similar:  similar,
	}

	s.health.RegisterRoutes(mux)
	s.messages.RegisterRoutes(mux)
	s.ask.RegisterRoutes(mux)
	s.similar.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → rate limit → handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
		rateLimitMiddleware(s.limiter, s.cfg.TrustProxy, s.logger),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context, addr string) error {
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
