// Package reconciler implements the Cache Reconciliation service (C10):
// bidirectional healing between the registry's Redis candle sets and the
// durable strategy store.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
)

// Report is the outcome of one reconciliation pass.
type Report struct {
	Orphaned int
	Missing  int
	Errors   []error
}

// Reconciler heals drift between domain.RegistryCache and domain.StrategyStore.
type Reconciler struct {
	cache  domain.RegistryCache
	stores domain.StrategyStore
	logger *slog.Logger
}

// New creates a Reconciler.
func New(cache domain.RegistryCache, stores domain.StrategyStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		cache:  cache,
		stores: stores,
		logger: logger.With(slog.String("component", "reconciler")),
	}
}

// Reconcile performs one idempotent pass over every candle set, per
// spec.md §4.10: drop members that are empty, unknown, or inactive, then
// ensure every schedulable strategy is a member of its candle set. It is
// safe to call concurrently with registry writes and at any cadence.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	var report Report

	keys, err := r.cache.ActiveCandleKeys(ctx)
	if err != nil {
		return report, fmt.Errorf("reconciler: list active candle keys: %w", err)
	}

	active, err := r.stores.ListActive(ctx, domain.ListOpts{})
	if err != nil {
		return report, fmt.Errorf("reconciler: list active strategies: %w", err)
	}
	byID := make(map[string]domain.Strategy, len(active))
	for _, s := range active {
		byID[s.ID] = s
	}

	for _, key := range keys {
		symbol, resolution, ok := parseCandleKey(key)
		if !ok {
			continue
		}
		members, err := r.cache.CandleSetMembers(ctx, symbol, resolution)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("reconciler: members of %s: %w", key, err))
			continue
		}

		for _, id := range members {
			strategy, exists := byID[id]
			if id != "" && exists && strategy.Active {
				continue
			}
			if err := r.cache.RemoveFromCandleSet(ctx, symbol, resolution, id); err != nil {
				report.Errors = append(report.Errors, fmt.Errorf("reconciler: remove orphan %q from %s: %w", id, key, err))
				continue
			}
			report.Orphaned++
		}
	}

	for _, strategy := range active {
		if strategy.SubscriberCount <= 0 || !strategy.Config.IsComplete() {
			continue
		}
		members, err := r.cache.CandleSetMembers(ctx, strategy.Config.Symbol, strategy.Config.Resolution)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("reconciler: members for %s: %w", strategy.ID, err))
			continue
		}
		if containsID(members, strategy.ID) {
			continue
		}
		if err := r.cache.AddToCandleSet(ctx, strategy.Config.Symbol, strategy.Config.Resolution, strategy.ID); err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("reconciler: add missing %s: %w", strategy.ID, err))
			continue
		}
		report.Missing++
	}

	if report.Orphaned > 0 || report.Missing > 0 || len(report.Errors) > 0 {
		r.logger.Info("reconcile pass complete",
			slog.Int("orphaned", report.Orphaned), slog.Int("missing", report.Missing), slog.Int("errors", len(report.Errors)))
	}

	return report, nil
}

func containsID(ids []string, target string) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

// parseCandleKey splits a "candle:{symbol}:{resolution}" key. Symbols never
// contain a colon, so a 3-way split is unambiguous.
func parseCandleKey(key string) (symbol, resolution string, ok bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0] != "candle" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
