package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xcoinalgo/strategy-engine/internal/timeutil"
)

// refresh diffs the registry's active candle keys against currently
// scheduled cron jobs, registering new ones and removing stale ones. It is
// grounded on a ticker-diff pattern: every call is a complete resync, never
// an incremental patch, so a missed tick self-heals on the next one.
func (s *Scheduler) refresh(ctx context.Context) error {
	keys, err := s.candles.ActiveCandles(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list active candles: %w", err)
	}

	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		symbol, resolution, ok := parseCandleKey(key)
		if !ok {
			continue
		}
		seen[key] = true

		s.mu.Lock()
		_, exists := s.jobs[key]
		s.mu.Unlock()
		if exists {
			continue
		}

		expr, bestEffort, err := timeutil.ResolutionToCron(resolution)
		if err != nil {
			s.logger.Warn("refresh: unsupported resolution, skipping",
				slog.String("key", key), slog.Any("error", err))
			continue
		}
		if bestEffort {
			s.logger.Warn("refresh: resolution has no exact cron alignment, scheduling best-effort",
				slog.String("resolution", resolution), slog.String("cron", expr))
		}

		entryID, err := s.cron.AddFunc(expr, s.candleJob(ctx, symbol, resolution))
		if err != nil {
			s.logger.Error("refresh: add candle job failed", slog.String("key", key), slog.Any("error", err))
			continue
		}

		s.mu.Lock()
		s.jobs[key] = entryID
		s.mu.Unlock()
		s.logger.Info("refresh: registered candle job",
			slog.String("symbol", symbol), slog.String("resolution", resolution), slog.String("cron", expr))
	}

	s.mu.Lock()
	for key, entryID := range s.jobs {
		if seen[key] {
			continue
		}
		s.cron.Remove(entryID)
		delete(s.jobs, key)
		s.logger.Info("refresh: unregistered stale candle job", slog.String("key", key))
	}
	s.mu.Unlock()

	return nil
}

// candleJob returns the cron callback for one (symbol, resolution) candle:
// it computes the boundary that just closed and hands the run off to the
// coordinator.
func (s *Scheduler) candleJob(ctx context.Context, symbol, resolution string) func() {
	return func() {
		scheduled, err := timeutil.RoundToBoundary(time.Now().UTC(), resolution)
		if err != nil {
			s.logger.Error("candle job: boundary computation failed",
				slog.String("symbol", symbol), slog.String("resolution", resolution), slog.Any("error", err))
			return
		}
		s.coordinator.ExecuteCandleStrategies(ctx, symbol, resolution, scheduled, s.workerID)
	}
}

func (s *Scheduler) refreshTick(ctx context.Context) {
	if err := s.refresh(ctx); err != nil {
		s.logger.Error("refresh tick failed", slog.Any("error", err))
	}
}

func (s *Scheduler) reconcileTick(ctx context.Context) {
	report, err := s.reconciler.Reconcile(ctx)
	if err != nil {
		s.logger.Error("reconcile tick failed", slog.Any("error", err))
		return
	}
	if report.Orphaned > 0 || report.Missing > 0 || len(report.Errors) > 0 {
		s.logger.Info("reconcile tick healed drift",
			slog.Int("orphaned", report.Orphaned), slog.Int("missing", report.Missing), slog.Int("errors", len(report.Errors)))
	}
}

func (s *Scheduler) heartbeat() {
	s.mu.Lock()
	count := len(s.jobs)
	s.mu.Unlock()
	s.logger.Info("heartbeat", slog.Int("active_jobs", count))
}

// parseCandleKey splits a "candle:{symbol}:{resolution}" key.
func parseCandleKey(key string) (symbol, resolution string, ok bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0] != "candle" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
