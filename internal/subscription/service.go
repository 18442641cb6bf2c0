// Package subscription implements the Subscription Lifecycle Service (C7):
// create/cancel/pause/resume and the first/last-subscriber registry toggle.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/xcoinalgo/strategy-engine/internal/credentials"
	"github.com/xcoinalgo/strategy-engine/internal/domain"
	"github.com/xcoinalgo/strategy-engine/internal/eventbus"
	"github.com/xcoinalgo/strategy-engine/internal/settings"
)

const (
	defaultMaxPositions = 1
	defaultMaxDailyLoss = 0.05
)

// RegistryControl is the subset of *registry.Registry the subscription
// service needs: toggling membership on the first/last subscriber.
type RegistryControl interface {
	Register(ctx context.Context, strategyID, symbol, resolution string) error
	Unregister(ctx context.Context, strategyID, symbol, resolution string) error
}

// ConfigSyncer recovers a strategy's execution config from its on-disk
// source; satisfied directly by internal/strategycode.Loader.
type ConfigSyncer interface {
	Sync(strategyID string) (domain.ExecutionConfig, bool, error)
}

// SubscriberView joins a subscription with its strategy and decrypted
// broker credential, the shape the coordinator's fan-out needs per
// subscriber.
type SubscriberView struct {
	Subscription domain.Subscription
	Strategy     domain.Strategy
	Credential   domain.BrokerCredential
}

// Service implements the subscription lifecycle state machine of spec.md
// §4.6.
type Service struct {
	subs        domain.SubscriptionStore
	strategies  domain.StrategyStore
	credentials domain.CredentialStore
	box         *credentials.Box
	settingsSvc *settings.Service
	registry    RegistryControl
	syncer      ConfigSyncer
	events      *eventbus.Bus
	logger      *slog.Logger
}

// New creates a Service. syncer may be nil, in which case a missing
// execution config on first-subscriber registration is left unrepaired.
func New(
	subs domain.SubscriptionStore,
	strategies domain.StrategyStore,
	credStore domain.CredentialStore,
	box *credentials.Box,
	settingsSvc *settings.Service,
	registryControl RegistryControl,
	syncer ConfigSyncer,
	events *eventbus.Bus,
	logger *slog.Logger,
) *Service {
	return &Service{
		subs:        subs,
		strategies:  strategies,
		credentials: credStore,
		box:         box,
		settingsSvc: settingsSvc,
		registry:    registryControl,
		syncer:      syncer,
		events:      events,
		logger:      logger.With(slog.String("component", "subscription")),
	}
}

// Create implements spec.md §4.6's create workflow: validates the strategy,
// reactivates a prior subscription or creates a new one, resolves effective
// risk settings, and registers the strategy on the first subscriber.
func (s *Service) Create(ctx context.Context, params domain.CreateSubscriptionParams) (domain.Subscription, error) {
	strategy, err := s.strategies.GetByID(ctx, params.StrategyID)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("subscription: load strategy %s: %w", params.StrategyID, err)
	}
	if !strategy.Active {
		return domain.Subscription{}, fmt.Errorf("subscription: strategy %s is not active: %w", params.StrategyID, domain.ErrNotFound)
	}

	riskPerTrade := coalesce(params.RiskPerTrade, strategy.Config.RiskPerTrade)
	leverage := coalesce(params.Leverage, strategy.Config.Leverage)
	if riskPerTrade == nil || leverage == nil {
		return domain.Subscription{}, fmt.Errorf("subscription: strategy %s: %w", params.StrategyID, domain.ErrMissingStrategyConfig)
	}

	now := time.Now().UTC()
	tradingType := inferTradingType(strategy, params)

	sub, err := s.upsertSubscription(ctx, params, strategy, tradingType, now)
	if err != nil {
		return domain.Subscription{}, err
	}

	count, err := s.strategies.IncrementSubscriberCount(ctx, strategy.ID, 1)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("subscription: increment subscriber count: %w", err)
	}

	effective := domain.EffectiveSettings{
		RiskPerTrade: *riskPerTrade,
		Leverage:     *leverage,
		MaxPositions: intOrDefault(coalesceInt(params.MaxPositions, strategy.Config.MaxPositions), defaultMaxPositions),
		MaxDailyLoss: floatOrDefault(coalesce(params.MaxDailyLoss, strategy.Config.MaxDailyLoss), defaultMaxDailyLoss),
	}

	if err := s.settingsSvc.InitializeSubscription(ctx, domain.SubscriberSettings{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		StrategyID:     sub.StrategyID,
		Effective:      effective,
		IsActive:       true,
	}); err != nil {
		return domain.Subscription{}, fmt.Errorf("subscription: hydrate subscriber settings: %w", err)
	}

	if count == 1 {
		s.registerFirstSubscriber(ctx, strategy)
	}

	s.events.Publish(eventbus.EventSubscriptionCreated, sub)
	return sub, nil
}

func (s *Service) upsertSubscription(
	ctx context.Context,
	params domain.CreateSubscriptionParams,
	strategy domain.Strategy,
	tradingType domain.TradingType,
	now time.Time,
) (domain.Subscription, error) {
	existing, err := s.subs.GetByUserAndStrategy(ctx, params.UserID, params.StrategyID)
	switch {
	case err == nil:
		if existing.Active {
			return domain.Subscription{}, fmt.Errorf("subscription: user %s strategy %s: %w", params.UserID, params.StrategyID, domain.ErrAlreadySubscribed)
		}
		// Reactivate: reset counters, flip active, clear unsubscribed_at.
		existing.Active = true
		existing.Paused = false
		existing.PausedAt = nil
		existing.UnsubscribedAt = nil
		existing.SubscribedAt = now
		existing.RealizedPnL = 0
		existing.UnrealizedPnL = 0
		applyOverrides(&existing, params, tradingType)
		if err := s.subs.Update(ctx, existing); err != nil {
			return domain.Subscription{}, fmt.Errorf("subscription: reactivate: %w", err)
		}
		return existing, nil

	case errors.Is(err, domain.ErrNotFound):
		sub := domain.Subscription{
			ID:                 uuid.New().String(),
			UserID:             params.UserID,
			StrategyID:         params.StrategyID,
			BrokerCredentialID: params.BrokerCredentialID,
			Capital:            params.Capital,
			TradingType:        tradingType,
			Active:             true,
			SubscribedAt:       now,
		}
		applyOverrides(&sub, params, tradingType)
		if err := s.subs.Create(ctx, sub); err != nil {
			return domain.Subscription{}, fmt.Errorf("subscription: create: %w", err)
		}
		return sub, nil

	default:
		return domain.Subscription{}, fmt.Errorf("subscription: lookup existing: %w", err)
	}
}

func applyOverrides(sub *domain.Subscription, params domain.CreateSubscriptionParams, tradingType domain.TradingType) {
	sub.BrokerCredentialID = params.BrokerCredentialID
	sub.Capital = params.Capital
	sub.RiskPerTrade = params.RiskPerTrade
	sub.Leverage = params.Leverage
	sub.MaxPositions = params.MaxPositions
	sub.MaxDailyLoss = params.MaxDailyLoss
	sub.SLATRMultiplier = params.SLATRMultiplier
	sub.TPATRMultiplier = params.TPATRMultiplier
	sub.TradingType = tradingType
}

// registerFirstSubscriber ensures the strategy settings hash is populated
// (auto-syncing from disk on failure) and registers (symbol, resolution).
// A failed auto-sync is logged but never fails the subscription itself.
func (s *Service) registerFirstSubscriber(ctx context.Context, strategy domain.Strategy) {
	if _, err := s.settingsSvc.GetStrategySettings(ctx, strategy.ID); err != nil {
		if s.syncer == nil {
			s.logger.Warn("subscription: strategy settings missing and no config syncer configured, strategy will not execute",
				slog.String("strategy_id", strategy.ID))
			return
		}
		cfg, ok, syncErr := s.syncer.Sync(strategy.ID)
		if syncErr != nil || !ok {
			s.logger.Warn("subscription: auto-sync failed, strategy will not execute until config is repaired",
				slog.String("strategy_id", strategy.ID), slog.Any("error", syncErr))
			return
		}
		strategy.Config = cfg
		if err := s.strategies.Update(ctx, strategy); err != nil {
			s.logger.Warn("subscription: persist auto-synced config failed", slog.String("strategy_id", strategy.ID), slog.Any("error", err))
		}
		if err := s.settingsSvc.InitializeStrategy(ctx, strategy.ID, cfg, 1); err != nil {
			s.logger.Warn("subscription: initialize strategy settings after auto-sync failed", slog.String("strategy_id", strategy.ID), slog.Any("error", err))
			return
		}
	}

	if !strategy.Config.IsComplete() {
		s.logger.Warn("subscription: strategy config still incomplete after sync attempt, skipping registration",
			slog.String("strategy_id", strategy.ID))
		return
	}

	if err := s.registry.Register(ctx, strategy.ID, strategy.Config.Symbol, strategy.Config.Resolution); err != nil {
		s.logger.Warn("subscription: register on first subscriber failed", slog.String("strategy_id", strategy.ID), slog.Any("error", err))
	}
}

// Cancel implements the cancel workflow: idempotent on an already-inactive
// subscription, otherwise flips active=false, decrements the strategy's
// subscriber count, and unregisters the strategy if the count reaches zero.
func (s *Service) Cancel(ctx context.Context, subscriptionID string) (domain.Subscription, error) {
	sub, err := s.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("subscription: cancel: load %s: %w", subscriptionID, err)
	}
	if !sub.Active {
		return sub, nil
	}

	now := time.Now().UTC()
	sub.Active = false
	sub.UnsubscribedAt = &now
	if err := s.subs.Update(ctx, sub); err != nil {
		return domain.Subscription{}, fmt.Errorf("subscription: cancel: update %s: %w", subscriptionID, err)
	}

	count, err := s.strategies.IncrementSubscriberCount(ctx, sub.StrategyID, -1)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("subscription: cancel: decrement subscriber count: %w", err)
	}

	isActive := false
	if _, err := s.settingsSvc.UpdateSubscriptionSettings(ctx, sub.ID, settings.SubscriptionSettingsPatch{IsActive: &isActive}); err != nil {
		s.logger.Warn("subscription: cancel: update settings cache failed", slog.String("subscription_id", sub.ID), slog.Any("error", err))
	}

	if count == 0 {
		strategy, err := s.strategies.GetByID(ctx, sub.StrategyID)
		if err != nil {
			s.logger.Warn("subscription: cancel: load strategy for unregister failed", slog.String("strategy_id", sub.StrategyID), slog.Any("error", err))
		} else if err := s.registry.Unregister(ctx, strategy.ID, strategy.Config.Symbol, strategy.Config.Resolution); err != nil {
			s.logger.Warn("subscription: cancel: unregister failed", slog.String("strategy_id", strategy.ID), slog.Any("error", err))
		}
	}

	s.events.Publish(eventbus.EventSubscriptionCancelled, sub)
	return sub, nil
}

// Pause flips the paused flag; registry membership is unaltered.
func (s *Service) Pause(ctx context.Context, subscriptionID string) (domain.Subscription, error) {
	return s.setPaused(ctx, subscriptionID, true)
}

// Resume clears the paused flag; registry membership is unaltered.
func (s *Service) Resume(ctx context.Context, subscriptionID string) (domain.Subscription, error) {
	return s.setPaused(ctx, subscriptionID, false)
}

func (s *Service) setPaused(ctx context.Context, subscriptionID string, paused bool) (domain.Subscription, error) {
	sub, err := s.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("subscription: load %s: %w", subscriptionID, err)
	}

	sub.Paused = paused
	if paused {
		now := time.Now().UTC()
		sub.PausedAt = &now
	} else {
		sub.PausedAt = nil
	}

	if err := s.subs.Update(ctx, sub); err != nil {
		return domain.Subscription{}, fmt.Errorf("subscription: set paused=%v for %s: %w", paused, subscriptionID, err)
	}
	return sub, nil
}

// GetActiveSubscribers returns every live subscriber for a strategy, eager
// loading the strategy and decrypting each subscriber's broker credential.
// A subscriber whose credential cannot be loaded or decrypted is skipped
// with a logged warning rather than failing the whole batch.
func (s *Service) GetActiveSubscribers(ctx context.Context, strategyID string) ([]SubscriberView, error) {
	strategy, err := s.strategies.GetByID(ctx, strategyID)
	if err != nil {
		return nil, fmt.Errorf("subscription: get active subscribers: load strategy %s: %w", strategyID, err)
	}

	subs, err := s.subs.ListActiveSubscribers(ctx, strategyID)
	if err != nil {
		return nil, fmt.Errorf("subscription: get active subscribers: %w", err)
	}

	views := make([]SubscriberView, 0, len(subs))
	for _, sub := range subs {
		sealed, err := s.credentials.Get(ctx, sub.BrokerCredentialID)
		if err != nil {
			s.logger.Warn("subscription: missing broker credential, skipping subscriber",
				slog.String("subscription_id", sub.ID), slog.Any("error", err))
			continue
		}
		pair, err := s.box.Open(sealed)
		if err != nil {
			s.logger.Warn("subscription: could not decrypt broker credential, skipping subscriber",
				slog.String("subscription_id", sub.ID), slog.Any("error", err))
			continue
		}
		views = append(views, SubscriberView{
			Subscription: sub,
			Strategy:     strategy,
			Credential: domain.BrokerCredential{
				ID:        sub.BrokerCredentialID,
				APIKey:    pair.APIKey,
				APISecret: pair.APISecret,
			},
		})
	}
	return views, nil
}

func coalesce(override, fallback *float64) *float64 {
	if override != nil {
		return override
	}
	return fallback
}

func coalesceInt(override, fallback *int) *int {
	if override != nil {
		return override
	}
	return fallback
}

func intOrDefault(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}

func floatOrDefault(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

// inferTradingType resolves spot-vs-futures from explicit input, falling
// back to the strategy's execution config extras, then a symbol-suffix
// heuristic ("PERP" means futures), and finally spot.
func inferTradingType(strategy domain.Strategy, params domain.CreateSubscriptionParams) domain.TradingType {
	if params.TradingType != nil {
		return *params.TradingType
	}
	if raw, ok := strategy.Config.Extras["trading_type"]; ok {
		if s, ok := raw.(string); ok && (s == string(domain.TradingTypeFutures) || s == string(domain.TradingTypeSpot)) {
			return domain.TradingType(s)
		}
	}
	if len(strategy.Config.Symbol) > 0 && hasFuturesSuffix(strategy.Config.Symbol) {
		return domain.TradingTypeFutures
	}
	return domain.TradingTypeSpot
}

func hasFuturesSuffix(symbol string) bool {
	const suffix = "PERP"
	return len(symbol) >= len(suffix) && symbol[len(symbol)-len(suffix):] == suffix
}
