package domain

import "time"

// TradeSide is the direction of a subscriber's open trade.
type TradeSide string

const (
	TradeSideLong  TradeSide = "LONG"
	TradeSideShort TradeSide = "SHORT"
)

// TradeStatus tracks whether a trade is still open at the broker.
type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "OPEN"
	TradeStatusClosed TradeStatus = "CLOSED"
)

// Trade is the durable record of a fan-out-produced position for a single
// subscriber. At most one OPEN trade may exist per (subscription, symbol).
type Trade struct {
	ID               string
	SubscriptionID   string
	Symbol           string
	Side             TradeSide
	Quantity         float64
	EntryPrice       float64
	StopLoss         *float64
	TakeProfit       *float64
	Status           TradeStatus
	PnL              float64
	EntryOrderID     string
	StopLossOrderID  string
	TakeProfitOrderID string
	PositionID       string
	LiquidationPrice *float64
	TradingType      TradingType
	Leverage         float64
	SignalMetadata   map[string]any
	OpenedAt         time.Time
	ClosedAt         *time.Time
}
