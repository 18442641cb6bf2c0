package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
)

// SubscriptionStore implements domain.SubscriptionStore using PostgreSQL.
type SubscriptionStore struct {
	pool *pgxpool.Pool
}

// NewSubscriptionStore creates a new SubscriptionStore backed by the given pool.
func NewSubscriptionStore(pool *pgxpool.Pool) *SubscriptionStore {
	return &SubscriptionStore{pool: pool}
}

const subscriptionColumns = `
	id, user_id, strategy_id, broker_credential_id, capital,
	risk_per_trade, leverage, max_positions, max_daily_loss,
	sl_atr_multiplier, tp_atr_multiplier, trading_type,
	active, paused, subscribed_at, unsubscribed_at, paused_at,
	realized_pnl, unrealized_pnl`

func scanSubscription(row pgx.Row) (domain.Subscription, error) {
	var s domain.Subscription
	err := row.Scan(
		&s.ID, &s.UserID, &s.StrategyID, &s.BrokerCredentialID, &s.Capital,
		&s.RiskPerTrade, &s.Leverage, &s.MaxPositions, &s.MaxDailyLoss,
		&s.SLATRMultiplier, &s.TPATRMultiplier, &s.TradingType,
		&s.Active, &s.Paused, &s.SubscribedAt, &s.UnsubscribedAt, &s.PausedAt,
		&s.RealizedPnL, &s.UnrealizedPnL,
	)
	return s, err
}

// Create inserts a new subscription row.
func (s *SubscriptionStore) Create(ctx context.Context, sub domain.Subscription) error {
	const query = `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err := s.pool.Exec(ctx, query,
		sub.ID, sub.UserID, sub.StrategyID, sub.BrokerCredentialID, sub.Capital,
		sub.RiskPerTrade, sub.Leverage, sub.MaxPositions, sub.MaxDailyLoss,
		sub.SLATRMultiplier, sub.TPATRMultiplier, sub.TradingType,
		sub.Active, sub.Paused, sub.SubscribedAt, sub.UnsubscribedAt, sub.PausedAt,
		sub.RealizedPnL, sub.UnrealizedPnL,
	)
	if err != nil {
		return fmt.Errorf("postgres: create subscription %s: %w", sub.ID, err)
	}
	return nil
}

// Update overwrites a subscription's mutable fields.
func (s *SubscriptionStore) Update(ctx context.Context, sub domain.Subscription) error {
	const query = `
		UPDATE subscriptions SET
			capital = $2, risk_per_trade = $3, leverage = $4, max_positions = $5,
			max_daily_loss = $6, sl_atr_multiplier = $7, tp_atr_multiplier = $8,
			trading_type = $9, active = $10, paused = $11,
			unsubscribed_at = $12, paused_at = $13,
			realized_pnl = $14, unrealized_pnl = $15
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		sub.ID, sub.Capital, sub.RiskPerTrade, sub.Leverage, sub.MaxPositions,
		sub.MaxDailyLoss, sub.SLATRMultiplier, sub.TPATRMultiplier,
		sub.TradingType, sub.Active, sub.Paused,
		sub.UnsubscribedAt, sub.PausedAt,
		sub.RealizedPnL, sub.UnrealizedPnL,
	)
	if err != nil {
		return fmt.Errorf("postgres: update subscription %s: %w", sub.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a subscription by its ID.
func (s *SubscriptionStore) GetByID(ctx context.Context, id string) (domain.Subscription, error) {
	const query = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	sub, err := scanSubscription(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Subscription{}, domain.ErrNotFound
		}
		return domain.Subscription{}, fmt.Errorf("postgres: get subscription %s: %w", id, err)
	}
	return sub, nil
}

// GetByUserAndStrategy finds a user's subscription to a given strategy,
// used to reject duplicate subscribe calls.
func (s *SubscriptionStore) GetByUserAndStrategy(ctx context.Context, userID, strategyID string) (domain.Subscription, error) {
	const query = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1 AND strategy_id = $2`

	sub, err := scanSubscription(s.pool.QueryRow(ctx, query, userID, strategyID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Subscription{}, domain.ErrNotFound
		}
		return domain.Subscription{}, fmt.Errorf("postgres: get subscription by user/strategy: %w", err)
	}
	return sub, nil
}

// ListActiveSubscribers returns all active, unpaused subscriptions to a
// strategy, the set the execution coordinator fans out to on candle close.
func (s *SubscriptionStore) ListActiveSubscribers(ctx context.Context, strategyID string) ([]domain.Subscription, error) {
	const query = `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE strategy_id = $1 AND active = true AND paused = false
		ORDER BY subscribed_at ASC`

	rows, err := s.pool.Query(ctx, query, strategyID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active subscribers for %s: %w", strategyID, err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active subscribers rows: %w", err)
	}
	return subs, nil
}

// ListByUser returns a user's subscriptions across all strategies.
func (s *SubscriptionStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Subscription, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	const query = `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY subscribed_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, userID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list subscriptions for user %s: %w", userID, err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list subscriptions rows: %w", err)
	}
	return subs, nil
}

// Compile-time interface check.
var _ domain.SubscriptionStore = (*SubscriptionStore)(nil)
