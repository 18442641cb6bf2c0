package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
)

// StatsSource aggregates durable execution history.
type StatsSource interface {
	Stats(ctx context.Context, strategyID string, since time.Time) (domain.ExecutionStats, error)
}

// ExecutionStatusSource reads the last-known-run snapshot.
type ExecutionStatusSource interface {
	GetExecutionStatus(ctx context.Context, strategyID string) (domain.ExecutionStatus, error)
}

const statsWindow = 30 * 24 * time.Hour

// StatsHandler serves per-strategy execution statistics.
type StatsHandler struct {
	executions StatsSource
	status     ExecutionStatusSource
	logger     *slog.Logger
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(executions StatsSource, status ExecutionStatusSource, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{executions: executions, status: status, logger: logger}
}

// Get returns aggregate run statistics plus the live last-run snapshot for a
// strategy. GET /api/strategies/{id}/stats
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	strategyID := pathParam(r, "id")
	if strategyID == "" {
		writeError(w, http.StatusBadRequest, "strategy id is required")
		return
	}

	since := time.Now().UTC().Add(-statsWindow)
	stats, err := h.executions.Stats(r.Context(), strategyID, since)
	if err != nil {
		logHandler(h.logger, "stats").ErrorContext(r.Context(), "stats query failed",
			slog.String("strategy_id", strategyID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to load execution stats")
		return
	}

	resp := map[string]any{
		"strategy_id": strategyID,
		"since":       since.Format(time.RFC3339),
		"total_runs":  stats.TotalRuns,
		"successes":   stats.Successes,
		"failures":    stats.Failures,
		"skipped":     stats.Skipped,
		"no_signal":   stats.NoSignal,
		"total_trades": stats.TotalTrades,
		"avg_duration_s": stats.AvgDurationS,
	}

	last, err := h.status.GetExecutionStatus(r.Context(), strategyID)
	switch {
	case err == nil:
		resp["last_execution"] = map[string]any{
			"run_at":     last.LastRunAt.Format(time.RFC3339),
			"signal":     last.LastSignal,
			"status":     last.LastStatus,
			"duration_s": last.DurationS,
		}
	case errors.Is(err, domain.ErrNotFound):
		resp["last_execution"] = nil
	default:
		logHandler(h.logger, "stats").WarnContext(r.Context(), "execution status lookup failed",
			slog.String("strategy_id", strategyID), slog.Any("error", err))
		resp["last_execution"] = nil
	}

	writeJSON(w, http.StatusOK, resp)
}
