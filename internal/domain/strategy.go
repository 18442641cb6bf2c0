package domain

import "time"

// StrategyKind determines how the coordinator dispatches a strategy's
// runtime: who performs fan-out and order placement.
type StrategyKind string

const (
	// StrategyKindLegacy runtimes return a single Signal; the coordinator
	// fans it out to every active subscriber itself.
	StrategyKindLegacy StrategyKind = "legacy"
	// StrategyKindMultiTenant runtimes receive the full subscriber list and
	// perform fan-out and order placement themselves.
	StrategyKindMultiTenant StrategyKind = "multi_tenant"
	// StrategyKindLiveTrader is a multi-tenant runtime that additionally
	// expects subscribers to be pre-filtered to those with no open trade.
	StrategyKindLiveTrader StrategyKind = "livetrader"
)

// ExecutionConfig is the typed schema for a strategy's execution
// parameters. Fields left nil mean "strategy has no default"; Extras
// carries unrecognized keys through to the runtime subprocess untouched.
type ExecutionConfig struct {
	Symbol        string
	Resolution    string
	RiskPerTrade  *float64
	Leverage      *float64
	MaxPositions  *int
	MaxDailyLoss  *float64
	Kind          StrategyKind
	Extras        map[string]any
}

// IsComplete reports whether the config carries the minimum fields the
// registry requires to schedule this strategy.
func (c ExecutionConfig) IsComplete() bool {
	return c.Symbol != "" && c.Resolution != ""
}

// Strategy is shared code plus config executed once per candle close.
type Strategy struct {
	ID              string
	Name            string
	Active          bool
	Config          ExecutionConfig
	SubscriberCount int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Schedulable reports whether this strategy should currently be reachable
// via the registry: active, at least one subscriber, and a complete config.
func (s Strategy) Schedulable() bool {
	return s.Active && s.SubscriberCount > 0 && s.Config.IsComplete()
}

// StrategySettings is the cache-hash mirror of a strategy's execution
// config, carrying a monotonic version bumped on every update.
type StrategySettings struct {
	StrategyID string
	Config     ExecutionConfig
	Version    int64
	UpdatedAt  time.Time
}

// ExecutionStatus is the last-known-run snapshot surfaced by
// get_execution_status, distinct from the durable Execution log.
type ExecutionStatus struct {
	StrategyID  string
	LastRunAt   time.Time
	LastSignal  string
	LastStatus  string
	DurationS   float64
}
