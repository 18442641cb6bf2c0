// Package app provides the top-level application lifecycle management for
// the strategy engine. It wires together stores, caches, the registry, the
// subscription/settings services, the execution coordinator, the candle
// scheduler, and the HTTP API, then runs them until the context is
// cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/xcoinalgo/strategy-engine/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the registry, the candle scheduler, and
// the HTTP API server, then blocks until ctx is cancelled. The cleanup
// functions it registers are run by Close, not by Run.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("node_env", a.cfg.NodeEnv),
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("worker_id", a.cfg.Scheduler.WorkerID),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if err := deps.Registry.Start(ctx); err != nil {
		return fmt.Errorf("app: start registry: %w", err)
	}

	if err := deps.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("app: start scheduler: %w", err)
	}
	a.closers = append(a.closers, deps.Scheduler.Stop)

	serverErr := make(chan error, 1)
	if a.cfg.Server.Enabled {
		go func() {
			if err := deps.Server.Start(); err != nil {
				serverErr <- err
				return
			}
			serverErr <- nil
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("app: shutdown signal received")
		if a.cfg.Server.Enabled {
			if err := deps.Server.Shutdown(context.Background()); err != nil {
				a.logger.Error("app: server shutdown failed", slog.Any("error", err))
			}
		}
		return nil
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: server failed: %w", err)
		}
		return nil
	}
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
