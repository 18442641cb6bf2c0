package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
	"github.com/xcoinalgo/strategy-engine/internal/server/handler"
	"github.com/xcoinalgo/strategy-engine/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port           int
	CORSOrigins    []string
	APIKey         string // if empty, authentication is disabled
	RateLimit      int
	RateLimitWindow time.Duration
	Limiter        domain.RateLimiter // if nil, rate limiting is disabled
}

// Handlers aggregates all HTTP handlers the server registers.
type Handlers struct {
	Health       *handler.HealthHandler
	Deploy       *handler.DeployHandler
	Subscription *handler.SubscriptionHandler
	Stats        *handler.StatsHandler
}

// Server is the headless HTTP API server for the strategy engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the
// ServeMux, wrapped in the logging/CORS/auth/rate-limit middleware chain.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("POST /api/strategies/deploy", handlers.Deploy.Deploy)
	mux.HandleFunc("POST /api/strategies/{id}/subscribe", handlers.Subscription.Subscribe)
	mux.HandleFunc("PUT /api/strategies/{id}/settings", handlers.Subscription.UpdateStrategySettings)
	mux.HandleFunc("GET /api/strategies/{id}/stats", handlers.Stats.Get)

	mux.HandleFunc("GET /api/strategies/subscriptions", handlers.Subscription.List)
	mux.HandleFunc("PUT /api/strategies/subscriptions/{id}", handlers.Subscription.UpdateSubscriptionSettings)
	mux.HandleFunc("POST /api/strategies/subscriptions/{id}/pause", handlers.Subscription.Pause)
	mux.HandleFunc("POST /api/strategies/subscriptions/{id}/resume", handlers.Subscription.Resume)
	mux.HandleFunc("DELETE /api/strategies/subscriptions/{id}", handlers.Subscription.Cancel)

	var h http.Handler = mux

	if cfg.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, cfg.RateLimitWindow)(h)
	}
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
