package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL, one row
// per (strategy, interval_key) run.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionColumns = `
	id, strategy_id, symbol, resolution, interval_key, executed_at,
	status, signal_type, subscribers_count, trades_generated, duration_s,
	worker_id, error`

func scanExecution(row pgx.Row) (domain.Execution, error) {
	var e domain.Execution
	err := row.Scan(
		&e.ID, &e.StrategyID, &e.Symbol, &e.Resolution, &e.IntervalKey, &e.ExecutedAt,
		&e.Status, &e.SignalType, &e.SubscribersCount, &e.TradesGenerated, &e.DurationS,
		&e.WorkerID, &e.Error,
	)
	return e, err
}

// Create inserts a new execution row. A unique constraint on
// (strategy_id, interval_key) turns a duplicate into domain.ErrAlreadyExists,
// the mechanism the coordinator relies on for at-most-once-per-interval
// execution alongside the distributed lock.
func (s *ExecutionStore) Create(ctx context.Context, e domain.Execution) error {
	const query = `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.pool.Exec(ctx, query,
		e.ID, e.StrategyID, e.Symbol, e.Resolution, e.IntervalKey, e.ExecutedAt,
		e.Status, e.SignalType, e.SubscribersCount, e.TradesGenerated, e.DurationS,
		e.WorkerID, e.Error,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create execution %s/%s: %w", e.StrategyID, e.IntervalKey, err)
	}
	return nil
}

// GetByStrategyAndInterval retrieves the execution record for a specific
// candle close.
func (s *ExecutionStore) GetByStrategyAndInterval(ctx context.Context, strategyID, intervalKey string) (domain.Execution, error) {
	const query = `SELECT ` + executionColumns + ` FROM executions WHERE strategy_id = $1 AND interval_key = $2`

	e, err := scanExecution(s.pool.QueryRow(ctx, query, strategyID, intervalKey))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Execution{}, domain.ErrNotFound
		}
		return domain.Execution{}, fmt.Errorf("postgres: get execution %s/%s: %w", strategyID, intervalKey, err)
	}
	return e, nil
}

// ListByStrategy returns a strategy's execution history, most recent first.
func (s *ExecutionStore) ListByStrategy(ctx context.Context, strategyID string, opts domain.ListOpts) ([]domain.Execution, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + executionColumns + ` FROM executions WHERE strategy_id = $1`
	args := []any{strategyID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND executed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY executed_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions for %s: %w", strategyID, err)
	}
	defer rows.Close()

	var executions []domain.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		executions = append(executions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list executions rows: %w", err)
	}
	return executions, nil
}

// Stats aggregates a strategy's execution history since the given time.
func (s *ExecutionStore) Stats(ctx context.Context, strategyID string, since time.Time) (domain.ExecutionStats, error) {
	const query = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'SUCCESS'),
			COUNT(*) FILTER (WHERE status = 'FAILED'),
			COUNT(*) FILTER (WHERE status = 'SKIPPED'),
			COUNT(*) FILTER (WHERE status = 'NO_SIGNAL'),
			COALESCE(SUM(trades_generated), 0),
			COALESCE(AVG(duration_s), 0)
		FROM executions
		WHERE strategy_id = $1 AND executed_at >= $2`

	var stats domain.ExecutionStats
	err := s.pool.QueryRow(ctx, query, strategyID, since).Scan(
		&stats.TotalRuns, &stats.Successes, &stats.Failures, &stats.Skipped, &stats.NoSignal,
		&stats.TotalTrades, &stats.AvgDurationS,
	)
	if err != nil {
		return domain.ExecutionStats{}, fmt.Errorf("postgres: execution stats for %s: %w", strategyID, err)
	}
	return stats, nil
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)
