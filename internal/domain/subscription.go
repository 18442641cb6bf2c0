package domain

import "time"

// TradingType distinguishes spot from leveraged futures subscriptions;
// it drives whether precision/leverage-cap checks apply during fan-out.
type TradingType string

const (
	TradingTypeSpot    TradingType = "spot"
	TradingTypeFutures TradingType = "futures"
)

// Subscription is a user's enrollment in a strategy, with per-user capital
// and risk overrides. A nil override means "use the strategy default".
type Subscription struct {
	ID                 string
	UserID             string
	StrategyID         string
	BrokerCredentialID string
	Capital            float64
	RiskPerTrade       *float64
	Leverage           *float64
	MaxPositions       *int
	MaxDailyLoss       *float64
	SLATRMultiplier    *float64
	TPATRMultiplier    *float64
	TradingType        TradingType
	Active             bool
	Paused             bool
	SubscribedAt       time.Time
	UnsubscribedAt     *time.Time
	PausedAt           *time.Time
	RealizedPnL        float64
	UnrealizedPnL      float64
}

// Live reports whether this subscription should currently be fanned out to.
func (s Subscription) Live() bool {
	return s.Active && !s.Paused
}

// EffectiveSettings is the resolved, post-default-resolution view of a
// subscription's runtime parameters, as hydrated into SubscriberSettings.
type EffectiveSettings struct {
	RiskPerTrade float64
	Leverage     float64
	MaxPositions int
	MaxDailyLoss float64
}

// SubscriberSettings mirrors a subscription's effective settings in the
// cache, keyed by subscription ID, with a TTL bound and an is_active flag
// independent of the durable Subscription.Active (used for fast-path skips
// during fan-out without a store round trip).
type SubscriberSettings struct {
	SubscriptionID string
	UserID         string
	StrategyID     string
	Effective      EffectiveSettings
	IsActive       bool
	UpdatedAt      time.Time
}

// CreateSubscriptionParams is the input to the subscription service's
// create workflow.
type CreateSubscriptionParams struct {
	UserID             string
	StrategyID         string
	BrokerCredentialID string
	Capital            float64
	RiskPerTrade       *float64
	Leverage           *float64
	MaxPositions       *int
	MaxDailyLoss       *float64
	SLATRMultiplier    *float64
	TPATRMultiplier    *float64
	TradingType        *TradingType
}
