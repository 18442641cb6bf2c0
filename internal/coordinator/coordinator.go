// Package coordinator implements the Execution Coordinator: one run per
// (strategy, candle close), dispatching to a strategy's runtime process and
// fanning the result out to every active subscriber.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
	"github.com/xcoinalgo/strategy-engine/internal/eventbus"
	"github.com/xcoinalgo/strategy-engine/internal/notify"
	"github.com/xcoinalgo/strategy-engine/internal/settings"
	"github.com/xcoinalgo/strategy-engine/internal/strategycode"
	"github.com/xcoinalgo/strategy-engine/internal/subscription"
	"github.com/xcoinalgo/strategy-engine/internal/timeutil"
)

const (
	legacyTimeout  = 5 * time.Minute
	fanoutTimeout  = 10 * time.Minute
	maxDriftWarn   = 2 * time.Second
	lockSafetyTerm = 10 * time.Second
)

// CandleSource resolves which strategies are registered against a given
// (symbol, resolution) candle at scheduler tick time.
type CandleSource interface {
	GetForCandle(ctx context.Context, symbol, resolution string) ([]string, error)
}

// SubscriberSource fetches the live, credential-resolved subscriber list for
// a strategy.
type SubscriberSource interface {
	GetActiveSubscribers(ctx context.Context, strategyID string) ([]subscription.SubscriberView, error)
}

// Coordinator implements spec.md §4.7: lock, runtime invocation, fan-out,
// execution bookkeeping.
type Coordinator struct {
	candles       CandleSource
	settings      *settings.Service
	subscriptions SubscriberSource
	executions    domain.ExecutionStore
	trades        domain.TradeStore
	loader        *strategycode.Loader
	runtime       Runtime
	broker        domain.BrokerClient
	events        *eventbus.Bus
	notifier      *notify.Notifier
	guard         *inFlightGuard
	logger        *slog.Logger
}

// New creates a Coordinator. notifier may be nil to disable failure alerts.
func New(
	candles CandleSource,
	settingsSvc *settings.Service,
	subscriptions SubscriberSource,
	executions domain.ExecutionStore,
	trades domain.TradeStore,
	loader *strategycode.Loader,
	runtime Runtime,
	broker domain.BrokerClient,
	events *eventbus.Bus,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		candles:       candles,
		settings:      settingsSvc,
		subscriptions: subscriptions,
		executions:    executions,
		trades:        trades,
		loader:        loader,
		runtime:       runtime,
		broker:        broker,
		events:        events,
		notifier:      notifier,
		guard:         newInFlightGuard(),
		logger:        logger.With(slog.String("component", "coordinator")),
	}
}

// ExecuteCandleStrategies runs every strategy registered under (symbol,
// resolution) for the candle that just closed. Each strategy executes
// concurrently; one strategy's failure never blocks another's.
func (c *Coordinator) ExecuteCandleStrategies(ctx context.Context, symbol, resolution string, scheduled time.Time, workerID string) {
	ids, err := c.candles.GetForCandle(ctx, symbol, resolution)
	if err != nil {
		c.logger.Error("execute candle strategies: registry lookup failed",
			slog.String("symbol", symbol), slog.String("resolution", resolution), slog.Any("error", err))
		return
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.ExecuteStrategy(ctx, id, scheduled, workerID); err != nil {
				c.logger.Error("execute strategy failed", slog.String("strategy_id", id), slog.Any("error", err))
			}
		}()
	}
	wg.Wait()
}

// ExecuteStrategy runs the full ten-step algorithm for one strategy at one
// candle close.
func (c *Coordinator) ExecuteStrategy(ctx context.Context, strategyID string, scheduled time.Time, workerID string) error {
	log := c.logger.With(slog.String("strategy_id", strategyID), slog.String("worker_id", workerID))
	start := time.Now().UTC()

	// 1. Drift check.
	if ok, drift := timeutil.ValidateTiming(scheduled, start, maxDriftWarn); !ok {
		log.Warn("execution fired outside expected drift window", slog.Float64("drift_seconds", drift))
	}

	// 2. Load settings.
	strategySettings, err := c.settings.GetStrategySettings(ctx, strategyID)
	if err != nil {
		return fmt.Errorf("coordinator: load settings for %s: %w", strategyID, err)
	}
	cfg := strategySettings.Config
	intervalKey, err := timeutil.IntervalKey(scheduled, cfg.Resolution)
	if err != nil {
		return fmt.Errorf("coordinator: interval key for %s: %w", strategyID, err)
	}

	release, ok := c.guard.enter(strategyID + "|" + intervalKey)
	if !ok {
		// A same-process contender still observes SKIPPED, matching the
		// distributed-lock contention path below: the invariant "at most
		// one execution acquires the lock, all others record SKIPPED"
		// holds regardless of whether the contention is same-process or
		// cross-process.
		c.recordExecution(ctx, strategyID, cfg, intervalKey, start, domain.ExecutionSkipped, "", 0, 0, workerID, "in_flight")
		return nil
	}
	defer release()

	// 3. Acquire lock.
	ttl, err := timeutil.LockTTL(cfg.Resolution, lockSafetyTerm)
	if err != nil {
		return fmt.Errorf("coordinator: lock ttl for %s: %w", strategyID, err)
	}
	acquired, err := c.settings.AcquireLock(ctx, strategyID, intervalKey, ttl, workerID)
	if err != nil {
		return fmt.Errorf("coordinator: acquire lock for %s: %w", strategyID, err)
	}
	if !acquired {
		c.recordExecution(ctx, strategyID, cfg, intervalKey, start, domain.ExecutionSkipped, "", 0, 0, workerID, "lock_held")
		return nil
	}

	// 4. Emit execution.start.
	c.events.Publish(eventbus.EventStrategyExecutionStart, ExecutionStartedEvent{StrategyID: strategyID, IntervalKey: intervalKey, ScheduledTime: scheduled})

	// 5. Fetch active subscribers.
	subscribers, err := c.subscriptions.GetActiveSubscribers(ctx, strategyID)
	if err != nil {
		c.fail(ctx, strategyID, cfg, intervalKey, start, workerID, err)
		return fmt.Errorf("coordinator: fetch subscribers for %s: %w", strategyID, err)
	}
	if len(subscribers) == 0 {
		c.recordExecution(ctx, strategyID, cfg, intervalKey, start, domain.ExecutionSkipped, "", 0, 0, workerID, "no_subscribers")
		return nil
	}

	// 6. Load strategy code.
	code, err := c.loader.Load(strategyID)
	if err != nil {
		c.fail(ctx, strategyID, cfg, intervalKey, start, workerID, err)
		return fmt.Errorf("coordinator: load strategy code for %s: %w", strategyID, err)
	}

	// 7. Dispatch by kind.
	result, signalType, tradesGenerated, dispatchErr := c.dispatch(ctx, strategyID, cfg, code, strategySettings, subscribers, scheduled, intervalKey, log)
	if dispatchErr != nil {
		c.fail(ctx, strategyID, cfg, intervalKey, start, workerID, dispatchErr)
		return dispatchErr
	}

	// 8-9. Record execution + status, then 10. emit complete/error.
	c.recordExecution(ctx, strategyID, cfg, intervalKey, start, result, signalType, len(subscribers), tradesGenerated, workerID, "")
	return nil
}

// dispatch implements step 7: route to the legacy, multi-tenant, or
// LiveTrader path based on the strategy's configured kind.
func (c *Coordinator) dispatch(
	ctx context.Context,
	strategyID string,
	cfg domain.ExecutionConfig,
	code strategycode.Code,
	strategySettings domain.StrategySettings,
	subscribers []subscription.SubscriberView,
	scheduled time.Time,
	intervalKey string,
	log *slog.Logger,
) (result domain.ExecutionResult, signalType string, tradesGenerated int, err error) {
	switch cfg.Kind {
	case domain.StrategyKindMultiTenant:
		return c.dispatchFanoutWrapper(ctx, strategyID, code, strategySettings, subscribers, log)

	case domain.StrategyKindLiveTrader:
		filtered := c.filterNoOpenTrade(ctx, subscribers, cfg.Symbol)
		if len(filtered) == 0 {
			return domain.ExecutionSkipped, "", 0, nil
		}
		return c.dispatchFanoutWrapper(ctx, strategyID, code, strategySettings, filtered, log)

	default: // domain.StrategyKindLegacy
		return c.dispatchLegacy(ctx, strategyID, cfg, code, subscribers, scheduled, log)
	}
}

func (c *Coordinator) dispatchLegacy(
	ctx context.Context,
	strategyID string,
	cfg domain.ExecutionConfig,
	code strategycode.Code,
	subscribers []subscription.SubscriberView,
	scheduled time.Time,
	log *slog.Logger,
) (domain.ExecutionResult, string, int, error) {
	out, err := c.runtime.InvokeLegacy(ctx, code, LegacyInput{
		StrategyID:    strategyID,
		ExecutionTime: scheduled.UTC().Format(time.RFC3339),
		Settings:      settingsToMap(cfg),
	}, legacyTimeout)
	if err != nil {
		return domain.ExecutionFailed, "", 0, err
	}
	if !out.Success || out.Signal == nil {
		return domain.ExecutionNoSignal, "", 0, nil
	}

	signal := domain.Signal{
		Type:       domain.SignalType(out.Signal.Type),
		Price:      out.Signal.Price,
		StopLoss:   out.Signal.StopLoss,
		TakeProfit: out.Signal.TakeProfit,
		Metadata:   out.Signal.Metadata,
	}
	if signal.Type == domain.SignalHold {
		return domain.ExecutionSuccess, string(signal.Type), 0, nil
	}

	strategy := domain.Strategy{ID: strategyID, Config: cfg}
	trades := c.fanOutLegacy(ctx, strategy, subscribers, signal)
	log.Info("legacy fan-out complete", slog.Int("subscribers", len(subscribers)), slog.Int("trades", trades))
	return domain.ExecutionSuccess, string(signal.Type), trades, nil
}

func (c *Coordinator) dispatchFanoutWrapper(
	ctx context.Context,
	strategyID string,
	code strategycode.Code,
	strategySettings domain.StrategySettings,
	subscribers []subscription.SubscriberView,
	log *slog.Logger,
) (domain.ExecutionResult, string, int, error) {
	inputs := make([]SubscriberInput, 0, len(subscribers))
	for _, view := range subscribers {
		settingsView, err := c.settings.GetSubscriptionSettings(ctx, view.Subscription.ID)
		if err != nil {
			log.Warn("fan-out wrapper: subscriber settings missing, skipping", slog.String("subscription_id", view.Subscription.ID))
			continue
		}
		inputs = append(inputs, SubscriberInput{
			UserID:         view.Subscription.UserID,
			SubscriptionID: view.Subscription.ID,
			APIKey:         view.Credential.APIKey,
			APISecret:      view.Credential.APISecret,
			Capital:        view.Subscription.Capital,
			RiskPerTrade:   settingsView.Effective.RiskPerTrade,
			Leverage:       settingsView.Effective.Leverage,
		})
	}

	out, err := c.runtime.InvokeFanout(ctx, code, FanoutInput{
		StrategyCode: code.Source,
		StrategyID:   strategyID,
		Settings:     settingsToMap(strategySettings.Config),
		Subscribers:  inputs,
	}, fanoutTimeout)
	if err != nil {
		return domain.ExecutionFailed, "", 0, err
	}
	if !out.Success {
		return domain.ExecutionFailed, "", 0, fmt.Errorf("coordinator: wrapper reported failure: %s", out.Error)
	}
	return domain.ExecutionSuccess, "", len(subscribers), nil
}

func (c *Coordinator) filterNoOpenTrade(ctx context.Context, subscribers []subscription.SubscriberView, symbol string) []subscription.SubscriberView {
	filtered := make([]subscription.SubscriberView, 0, len(subscribers))
	for _, view := range subscribers {
		if _, err := c.trades.GetOpen(ctx, view.Subscription.ID, symbol); err == nil {
			continue
		}
		filtered = append(filtered, view)
	}
	return filtered
}

func (c *Coordinator) fail(ctx context.Context, strategyID string, cfg domain.ExecutionConfig, intervalKey string, start time.Time, workerID string, cause error) {
	c.recordExecution(ctx, strategyID, cfg, intervalKey, start, domain.ExecutionFailed, "", 0, 0, workerID, cause.Error())
	if c.notifier != nil {
		_ = c.notifier.Notify(ctx, "execution.error", "strategy execution failed", fmt.Sprintf("%s: %v", strategyID, cause))
	}
}

func (c *Coordinator) recordExecution(
	ctx context.Context,
	strategyID string,
	cfg domain.ExecutionConfig,
	intervalKey string,
	start time.Time,
	status domain.ExecutionResult,
	signalType string,
	subscriberCount, tradesGenerated int,
	workerID string,
	errMsg string,
) {
	execution := domain.Execution{
		ID:               uuid.New().String(),
		StrategyID:       strategyID,
		Symbol:           cfg.Symbol,
		Resolution:       cfg.Resolution,
		IntervalKey:      intervalKey,
		ExecutedAt:       start,
		Status:           status,
		SignalType:       signalType,
		SubscribersCount: subscriberCount,
		TradesGenerated:  tradesGenerated,
		DurationS:        time.Since(start).Seconds(),
		WorkerID:         workerID,
		Error:            errMsg,
	}
	if err := c.executions.Create(ctx, execution); err != nil {
		c.logger.Error("coordinator: record execution failed", slog.String("strategy_id", strategyID), slog.Any("error", err))
	}

	if err := c.settings.UpdateExecutionStatus(ctx, domain.ExecutionStatus{
		StrategyID: strategyID,
		LastRunAt:  start,
		LastSignal: signalType,
		LastStatus: string(status),
		DurationS:  execution.DurationS,
	}); err != nil {
		c.logger.Warn("coordinator: update execution status failed", slog.String("strategy_id", strategyID), slog.Any("error", err))
	}

	switch status {
	case domain.ExecutionSuccess, domain.ExecutionNoSignal:
		c.events.Publish(eventbus.EventStrategyExecutionComplete, ExecutionCompletedEvent{StrategyID: strategyID, Execution: execution})
	case domain.ExecutionFailed:
		c.events.Publish(eventbus.EventStrategyExecutionError, ExecutionErrorEvent{StrategyID: strategyID, IntervalKey: intervalKey, Error: errMsg})
	}
}

// settingsToMap flattens an ExecutionConfig into the generic settings map
// the subprocess contract expects, merging Extras last so operator-provided
// fields still win if they somehow collide with a known field name.
func settingsToMap(cfg domain.ExecutionConfig) map[string]any {
	m := map[string]any{
		"symbol":     cfg.Symbol,
		"resolution": cfg.Resolution,
	}
	if cfg.RiskPerTrade != nil {
		m["risk_per_trade"] = *cfg.RiskPerTrade
	}
	if cfg.Leverage != nil {
		m["leverage"] = *cfg.Leverage
	}
	if cfg.MaxPositions != nil {
		m["max_positions"] = *cfg.MaxPositions
	}
	if cfg.MaxDailyLoss != nil {
		m["max_daily_loss"] = *cfg.MaxDailyLoss
	}
	for k, v := range cfg.Extras {
		m[k] = v
	}
	return m
}

// ExecutionStartedEvent is published on EventStrategyExecutionStart.
type ExecutionStartedEvent struct {
	StrategyID    string
	IntervalKey   string
	ScheduledTime time.Time
}

// ExecutionCompletedEvent is published on EventStrategyExecutionComplete.
type ExecutionCompletedEvent struct {
	StrategyID string
	Execution  domain.Execution
}

// ExecutionErrorEvent is published on EventStrategyExecutionError.
type ExecutionErrorEvent struct {
	StrategyID  string
	IntervalKey string
	Error       string
}
