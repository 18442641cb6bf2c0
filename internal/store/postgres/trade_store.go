package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL, recording one
// row per fan-out-produced subscriber position.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeColumns = `
	id, subscription_id, symbol, side, quantity, entry_price,
	stop_loss, take_profit, status, pnl,
	entry_order_id, stop_loss_order_id, take_profit_order_id, position_id,
	liquidation_price, trading_type, leverage, signal_metadata,
	opened_at, closed_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	var metadataJSON []byte

	err := row.Scan(
		&t.ID, &t.SubscriptionID, &t.Symbol, &t.Side, &t.Quantity, &t.EntryPrice,
		&t.StopLoss, &t.TakeProfit, &t.Status, &t.PnL,
		&t.EntryOrderID, &t.StopLossOrderID, &t.TakeProfitOrderID, &t.PositionID,
		&t.LiquidationPrice, &t.TradingType, &t.Leverage, &metadataJSON,
		&t.OpenedAt, &t.ClosedAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &t.SignalMetadata); err != nil {
			return domain.Trade{}, fmt.Errorf("postgres: unmarshal signal metadata %s: %w", t.ID, err)
		}
	}
	return t, nil
}

// Create inserts a new trade row.
func (s *TradeStore) Create(ctx context.Context, t domain.Trade) error {
	metadataJSON, err := json.Marshal(t.SignalMetadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal signal metadata %s: %w", t.ID, err)
	}

	const query = `
		INSERT INTO trades (` + tradeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	_, err = s.pool.Exec(ctx, query,
		t.ID, t.SubscriptionID, t.Symbol, t.Side, t.Quantity, t.EntryPrice,
		t.StopLoss, t.TakeProfit, t.Status, t.PnL,
		t.EntryOrderID, t.StopLossOrderID, t.TakeProfitOrderID, t.PositionID,
		t.LiquidationPrice, t.TradingType, t.Leverage, metadataJSON,
		t.OpenedAt, t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: %w", t.ID, err)
	}
	return nil
}

// Update overwrites a trade's mutable fields (status, PnL, SL/TP order IDs,
// liquidation price, signal metadata, closed_at).
func (s *TradeStore) Update(ctx context.Context, t domain.Trade) error {
	metadataJSON, err := json.Marshal(t.SignalMetadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal signal metadata %s: %w", t.ID, err)
	}

	const query = `
		UPDATE trades SET
			status = $2, pnl = $3,
			stop_loss_order_id = $4, take_profit_order_id = $5,
			liquidation_price = $6, signal_metadata = $7, closed_at = $8
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		t.ID, t.Status, t.PnL,
		t.StopLossOrderID, t.TakeProfitOrderID,
		t.LiquidationPrice, metadataJSON, t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update trade %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetOpen returns the single open trade for a (subscription, symbol) pair,
// enforcing the at-most-one-open-position-per-symbol invariant.
func (s *TradeStore) GetOpen(ctx context.Context, subscriptionID, symbol string) (domain.Trade, error) {
	const query = `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE subscription_id = $1 AND symbol = $2 AND status = 'OPEN'`

	t, err := scanTrade(s.pool.QueryRow(ctx, query, subscriptionID, symbol))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: get open trade %s/%s: %w", subscriptionID, symbol, err)
	}
	return t, nil
}

// ListOpenBySubscription returns all open trades across symbols for a
// subscription, oldest first.
func (s *TradeStore) ListOpenBySubscription(ctx context.Context, subscriptionID string) ([]domain.Trade, error) {
	const query = `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE subscription_id = $1 AND status = 'OPEN'
		ORDER BY opened_at ASC`

	rows, err := s.pool.Query(ctx, query, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open trades for %s: %w", subscriptionID, err)
	}
	defer rows.Close()
	return scanTradesRows(rows)
}

// ListBySubscription returns a subscription's full trade history.
func (s *TradeStore) ListBySubscription(ctx context.Context, subscriptionID string, opts domain.ListOpts) ([]domain.Trade, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	const query = `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE subscription_id = $1
		ORDER BY opened_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, subscriptionID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for %s: %w", subscriptionID, err)
	}
	defer rows.Close()
	return scanTradesRows(rows)
}

func scanTradesRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: trade rows: %w", err)
	}
	return trades, nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
