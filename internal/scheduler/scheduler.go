// Package scheduler implements the Scheduler (C9): cron-aligned candle job
// registration, a periodic refresh against the registry, a periodic cache
// reconcile pass, and a heartbeat log.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xcoinalgo/strategy-engine/internal/reconciler"
)

const (
	refreshSchedule   = "* * * * *"
	reconcileSchedule = "*/5 * * * *"
	heartbeatSchedule = "* * * * *"
)

// CoordinatorRunner executes every registered strategy for a closed candle.
type CoordinatorRunner interface {
	ExecuteCandleStrategies(ctx context.Context, symbol, resolution string, scheduled time.Time, workerID string)
}

// CandleLister enumerates currently active candle:* keys.
type CandleLister interface {
	ActiveCandles(ctx context.Context) ([]string, error)
}

// ReconcileRunner performs one cache-healing pass.
type ReconcileRunner interface {
	Reconcile(ctx context.Context) (reconciler.Report, error)
}

// Scheduler wraps robfig/cron to register one job per (symbol, resolution)
// candle, plus maintenance jobs for refresh, reconcile, and heartbeat.
//
// It uses cron's default five-field parser (minute-granularity, no seconds
// field) rather than cron.WithSeconds(), since internal/timeutil.ResolutionToCron
// already emits standard five-field expressions and every job here runs at
// minute granularity or coarser.
type Scheduler struct {
	cron        *cron.Cron
	coordinator CoordinatorRunner
	candles     CandleLister
	reconciler  ReconcileRunner
	workerID    string
	logger      *slog.Logger

	mu   sync.Mutex
	jobs map[string]cron.EntryID // "candle:{symbol}:{resolution}" -> cron entry
}

// New creates a Scheduler. Start must be called to begin running jobs.
func New(coordinator CoordinatorRunner, candles CandleLister, recon ReconcileRunner, workerID string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:        cron.New(),
		coordinator: coordinator,
		candles:     candles,
		reconciler:  recon,
		workerID:    workerID,
		logger:      logger.With(slog.String("component", "scheduler"), slog.String("worker_id", workerID)),
		jobs:        make(map[string]cron.EntryID),
	}
}

// Start performs an initial candle-job refresh, registers the maintenance
// jobs, and starts the cron runner. It returns once everything is
// registered; jobs then fire in background goroutines until ctx is done or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.refresh(ctx); err != nil {
		return fmt.Errorf("scheduler: initial refresh: %w", err)
	}

	if _, err := s.cron.AddFunc(refreshSchedule, func() { s.refreshTick(ctx) }); err != nil {
		return fmt.Errorf("scheduler: register refresh job: %w", err)
	}
	if _, err := s.cron.AddFunc(reconcileSchedule, func() { s.reconcileTick(ctx) }); err != nil {
		return fmt.Errorf("scheduler: register reconcile job: %w", err)
	}
	if _, err := s.cron.AddFunc(heartbeatSchedule, s.heartbeat); err != nil {
		return fmt.Errorf("scheduler: register heartbeat job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop drains in-flight jobs and stops the cron runner. Safe to call more
// than once.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
}
