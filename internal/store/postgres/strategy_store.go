package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
)

// StrategyStore implements domain.StrategyStore using PostgreSQL,
// generalizing the teacher's name-keyed StrategyConfigStore to an
// ID-keyed strategy with a typed execution config and subscriber count.
type StrategyStore struct {
	pool *pgxpool.Pool
}

// NewStrategyStore creates a new StrategyStore backed by the given pool.
func NewStrategyStore(pool *pgxpool.Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

func scanStrategy(row pgx.Row) (domain.Strategy, error) {
	var s domain.Strategy
	var extrasJSON []byte
	var riskPerTrade, leverage, maxDailyLoss *float64
	var maxPositions *int

	err := row.Scan(
		&s.ID, &s.Name, &s.Active,
		&s.Config.Symbol, &s.Config.Resolution, &s.Config.Kind,
		&riskPerTrade, &leverage, &maxPositions, &maxDailyLoss, &extrasJSON,
		&s.SubscriberCount, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return domain.Strategy{}, err
	}

	s.Config.RiskPerTrade = riskPerTrade
	s.Config.Leverage = leverage
	s.Config.MaxPositions = maxPositions
	s.Config.MaxDailyLoss = maxDailyLoss

	if len(extrasJSON) > 0 {
		if err := json.Unmarshal(extrasJSON, &s.Config.Extras); err != nil {
			return domain.Strategy{}, fmt.Errorf("postgres: unmarshal strategy extras %s: %w", s.ID, err)
		}
	}
	return s, nil
}

const strategyColumns = `
	id, name, active, symbol, resolution, kind,
	risk_per_trade, leverage, max_positions, max_daily_loss, extras,
	subscriber_count, created_at, updated_at`

// Create inserts a new strategy row.
func (s *StrategyStore) Create(ctx context.Context, strategy domain.Strategy) error {
	extrasJSON, err := json.Marshal(strategy.Config.Extras)
	if err != nil {
		return fmt.Errorf("postgres: marshal strategy extras %s: %w", strategy.ID, err)
	}

	const query = `
		INSERT INTO strategies (` + strategyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())`

	_, err = s.pool.Exec(ctx, query,
		strategy.ID, strategy.Name, strategy.Active,
		strategy.Config.Symbol, strategy.Config.Resolution, strategy.Config.Kind,
		strategy.Config.RiskPerTrade, strategy.Config.Leverage, strategy.Config.MaxPositions, strategy.Config.MaxDailyLoss, extrasJSON,
		strategy.SubscriberCount,
	)
	if err != nil {
		return fmt.Errorf("postgres: create strategy %s: %w", strategy.ID, err)
	}
	return nil
}

// Update overwrites a strategy's mutable fields.
func (s *StrategyStore) Update(ctx context.Context, strategy domain.Strategy) error {
	extrasJSON, err := json.Marshal(strategy.Config.Extras)
	if err != nil {
		return fmt.Errorf("postgres: marshal strategy extras %s: %w", strategy.ID, err)
	}

	const query = `
		UPDATE strategies SET
			name = $2, active = $3, symbol = $4, resolution = $5, kind = $6,
			risk_per_trade = $7, leverage = $8, max_positions = $9, max_daily_loss = $10,
			extras = $11, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		strategy.ID, strategy.Name, strategy.Active,
		strategy.Config.Symbol, strategy.Config.Resolution, strategy.Config.Kind,
		strategy.Config.RiskPerTrade, strategy.Config.Leverage, strategy.Config.MaxPositions, strategy.Config.MaxDailyLoss,
		extrasJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: update strategy %s: %w", strategy.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a strategy by its ID.
func (s *StrategyStore) GetByID(ctx context.Context, id string) (domain.Strategy, error) {
	const query = `SELECT ` + strategyColumns + ` FROM strategies WHERE id = $1`

	strategy, err := scanStrategy(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Strategy{}, domain.ErrNotFound
		}
		return domain.Strategy{}, fmt.Errorf("postgres: get strategy %s: %w", id, err)
	}
	return strategy, nil
}

// ListActive returns active strategies, most recently updated first.
func (s *StrategyStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Strategy, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	const query = `
		SELECT ` + strategyColumns + `
		FROM strategies
		WHERE active = true
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := s.pool.Query(ctx, query, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active strategies: %w", err)
	}
	defer rows.Close()

	var strategies []domain.Strategy
	for rows.Next() {
		strategy, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan strategy: %w", err)
		}
		strategies = append(strategies, strategy)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active strategies rows: %w", err)
	}
	return strategies, nil
}

// IncrementSubscriberCount atomically adjusts a strategy's subscriber
// count by delta (which may be negative) and returns the new count. The
// count is clamped at zero.
func (s *StrategyStore) IncrementSubscriberCount(ctx context.Context, id string, delta int) (int, error) {
	const query = `
		UPDATE strategies
		SET subscriber_count = GREATEST(subscriber_count + $2, 0), updated_at = NOW()
		WHERE id = $1
		RETURNING subscriber_count`

	var count int
	err := s.pool.QueryRow(ctx, query, id, delta).Scan(&count)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: increment subscriber count %s: %w", id, err)
	}
	return count, nil
}

// Delete removes a strategy row.
func (s *StrategyStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM strategies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete strategy %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.StrategyStore = (*StrategyStore)(nil)
