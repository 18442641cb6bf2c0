// Package settings implements the Settings & Distributed-Lock Service (C6):
// cache-first strategy/subscription settings, versioned updates with
// pub/sub notification, and a thin wrapper over the distributed lock.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
)

const strategySettingsUpdatedChannel = "strategy:%s:settings:updated"

// StrategySettingsPatch describes a partial update to a strategy's
// execution config; nil fields leave the current value unchanged.
type StrategySettingsPatch struct {
	Config *domain.ExecutionConfig
}

// SubscriptionSettingsPatch describes a partial update to a subscriber's
// effective settings.
type SubscriptionSettingsPatch struct {
	Effective *domain.EffectiveSettings
	IsActive  *bool
}

// Service wraps SettingsCache with the durable stores needed to hydrate on a
// cache miss, and a LockManager for per-(strategy, interval) execution
// locks.
type Service struct {
	cache  domain.SettingsCache
	stores domain.StrategyStore
	locks  domain.LockManager
	bus    domain.SignalBus
	logger *slog.Logger

	mu       sync.Mutex
	unlocks  map[string]func()
}

// New creates a Service. stores is used to hydrate strategy settings on a
// cache miss.
func New(cache domain.SettingsCache, stores domain.StrategyStore, locks domain.LockManager, bus domain.SignalBus, logger *slog.Logger) *Service {
	return &Service{
		cache:   cache,
		stores:  stores,
		locks:   locks,
		bus:     bus,
		logger:  logger.With(slog.String("component", "settings")),
		unlocks: make(map[string]func()),
	}
}

// InitializeStrategy writes a strategy's settings hash without publishing;
// publication happens only on subsequent updates per spec.md §4.5.
func (s *Service) InitializeStrategy(ctx context.Context, strategyID string, cfg domain.ExecutionConfig, version int64) error {
	settings := domain.StrategySettings{
		StrategyID: strategyID,
		Config:     cfg,
		Version:    version,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := s.cache.SetStrategySettings(ctx, settings); err != nil {
		return fmt.Errorf("settings: initialize strategy %s: %w", strategyID, err)
	}
	return nil
}

// GetStrategySettings is cache-first; on a miss it hydrates from the durable
// strategy store. symbol and resolution are required in the result.
func (s *Service) GetStrategySettings(ctx context.Context, strategyID string) (domain.StrategySettings, error) {
	settings, err := s.cache.GetStrategySettings(ctx, strategyID)
	if err == nil {
		if !settings.Config.IsComplete() {
			return domain.StrategySettings{}, fmt.Errorf("settings: strategy %s: %w", strategyID, domain.ErrMissingStrategyConfig)
		}
		return settings, nil
	}

	strategy, loadErr := s.stores.GetByID(ctx, strategyID)
	if loadErr != nil {
		return domain.StrategySettings{}, fmt.Errorf("settings: hydrate strategy %s: %w", strategyID, loadErr)
	}
	if !strategy.Config.IsComplete() {
		return domain.StrategySettings{}, fmt.Errorf("settings: strategy %s: %w", strategyID, domain.ErrMissingStrategyConfig)
	}

	hydrated := domain.StrategySettings{
		StrategyID: strategyID,
		Config:     strategy.Config,
		Version:    1,
		UpdatedAt:  time.Now().UTC(),
	}
	if setErr := s.cache.SetStrategySettings(ctx, hydrated); setErr != nil {
		s.logger.Warn("settings: cache hydrate write failed", slog.String("strategy_id", strategyID), slog.Any("error", setErr))
	}
	return hydrated, nil
}

// UpdateStrategySettings applies patch to the current settings, increments
// the version, and optionally publishes strategy:{id}:settings:updated.
func (s *Service) UpdateStrategySettings(ctx context.Context, strategyID string, patch StrategySettingsPatch, publish bool) (domain.StrategySettings, error) {
	current, err := s.GetStrategySettings(ctx, strategyID)
	if err != nil {
		return domain.StrategySettings{}, err
	}

	if patch.Config != nil {
		current.Config = *patch.Config
	}
	current.Version++
	current.UpdatedAt = time.Now().UTC()

	if err := s.cache.SetStrategySettings(ctx, current); err != nil {
		return domain.StrategySettings{}, fmt.Errorf("settings: update strategy %s: %w", strategyID, err)
	}

	if publish {
		payload, marshalErr := json.Marshal(current)
		if marshalErr != nil {
			return current, fmt.Errorf("settings: marshal updated settings for %s: %w", strategyID, marshalErr)
		}
		channel := fmt.Sprintf(strategySettingsUpdatedChannel, strategyID)
		if pubErr := s.bus.Publish(ctx, channel, payload); pubErr != nil {
			s.logger.Warn("settings: publish update failed", slog.String("strategy_id", strategyID), slog.Any("error", pubErr))
		}
	}

	return current, nil
}

// InitializeSubscription writes a TTL-bounded settings hash for a new
// subscription.
func (s *Service) InitializeSubscription(ctx context.Context, settings domain.SubscriberSettings) error {
	settings.UpdatedAt = time.Now().UTC()
	if err := s.cache.Set(ctx, settings.SubscriptionID, settings); err != nil {
		return fmt.Errorf("settings: initialize subscription %s: %w", settings.SubscriptionID, err)
	}
	return nil
}

// GetSubscriptionSettings returns a subscriber's effective settings,
// including whether the subscription is currently active.
func (s *Service) GetSubscriptionSettings(ctx context.Context, subscriptionID string) (domain.SubscriberSettings, error) {
	settings, err := s.cache.Get(ctx, subscriptionID)
	if err != nil {
		return domain.SubscriberSettings{}, fmt.Errorf("settings: get subscription %s: %w", subscriptionID, err)
	}
	return settings, nil
}

// UpdateSubscriptionSettings partially merges patch into the current
// subscription settings hash.
func (s *Service) UpdateSubscriptionSettings(ctx context.Context, subscriptionID string, patch SubscriptionSettingsPatch) (domain.SubscriberSettings, error) {
	current, err := s.GetSubscriptionSettings(ctx, subscriptionID)
	if err != nil {
		return domain.SubscriberSettings{}, err
	}

	if patch.Effective != nil {
		current.Effective = *patch.Effective
	}
	if patch.IsActive != nil {
		current.IsActive = *patch.IsActive
	}
	current.UpdatedAt = time.Now().UTC()

	if err := s.cache.Set(ctx, subscriptionID, current); err != nil {
		return domain.SubscriberSettings{}, fmt.Errorf("settings: update subscription %s: %w", subscriptionID, err)
	}
	return current, nil
}

func lockMapKey(strategyID, intervalKey string) string {
	return strategyID + "|" + intervalKey
}

// AcquireLock attempts the per-(strategy, interval) execution lock. It
// returns false, nil on contention (domain.ErrLockHeld) rather than
// propagating that as an error, since a lock miss is an expected SKIPPED
// outcome for the coordinator, not a failure.
func (s *Service) AcquireLock(ctx context.Context, strategyID, intervalKey string, ttl time.Duration, workerID string) (bool, error) {
	key := fmt.Sprintf("strategy:%s:run:%s", strategyID, intervalKey)

	unlock, err := s.locks.Acquire(ctx, key, ttl)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return false, nil
		}
		return false, fmt.Errorf("settings: acquire lock %s: %w", key, err)
	}

	s.mu.Lock()
	s.unlocks[lockMapKey(strategyID, intervalKey)] = unlock
	s.mu.Unlock()

	s.logger.Debug("settings: lock acquired", slog.String("key", key), slog.String("worker_id", workerID))
	return true, nil
}

// ReleaseLock is best-effort: holders SHOULD let the TTL expire instead, per
// spec.md §4.5 and the Open Question decision in DESIGN.md. It exists as an
// escape hatch and is never called on the coordinator's success path.
func (s *Service) ReleaseLock(strategyID, intervalKey string) {
	key := lockMapKey(strategyID, intervalKey)
	s.mu.Lock()
	unlock, ok := s.unlocks[key]
	delete(s.unlocks, key)
	s.mu.Unlock()
	if ok {
		unlock()
	}
}

// UpdateExecutionStatus writes the last-known-run snapshot.
func (s *Service) UpdateExecutionStatus(ctx context.Context, status domain.ExecutionStatus) error {
	if err := s.cache.SetExecutionStatus(ctx, status); err != nil {
		return fmt.Errorf("settings: update execution status %s: %w", status.StrategyID, err)
	}
	return nil
}

// GetExecutionStatus reads the last-known-run snapshot.
func (s *Service) GetExecutionStatus(ctx context.Context, strategyID string) (domain.ExecutionStatus, error) {
	status, err := s.cache.GetExecutionStatus(ctx, strategyID)
	if err != nil {
		return domain.ExecutionStatus{}, fmt.Errorf("settings: get execution status %s: %w", strategyID, err)
	}
	return status, nil
}
