package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xcoinalgo/strategy-engine/internal/domain"
)

// subscriptionSettingsTTL bounds how long a subscription settings hash
// survives without a refresh, per spec.md §3's "TTL-bounded hash".
const subscriptionSettingsTTL = 24 * time.Hour

// SettingsCache implements domain.SettingsCache using Redis hashes with
// JSON-serialized settings, generalizing the teacher's MarketCache
// hash+TTL cache-aside pattern to strategy/subscription settings.
//
// Key schema:
//
//	settings:subscription:{id} - hash with field "data" containing JSON
type SettingsCache struct {
	rdb *redis.Client
}

// NewSettingsCache creates a SettingsCache backed by the given Client.
func NewSettingsCache(c *Client) *SettingsCache {
	return &SettingsCache{rdb: c.Underlying()}
}

func subscriptionSettingsKey(subscriptionID string) string {
	return "settings:subscription:" + subscriptionID
}

func strategySettingsKey(strategyID string) string {
	return "strategy:" + strategyID + ":settings"
}

func executionStatusKey(strategyID string) string {
	return "strategy:" + strategyID + ":execution_status"
}

// Set stores SubscriberSettings with a 24-hour TTL.
func (sc *SettingsCache) Set(ctx context.Context, subscriptionID string, settings domain.SubscriberSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("redis: marshal subscription settings %s: %w", subscriptionID, err)
	}

	key := subscriptionSettingsKey(subscriptionID)
	pipe := sc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, subscriptionSettingsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set subscription settings %s: %w", subscriptionID, err)
	}
	return nil
}

// Get retrieves SubscriberSettings by subscription ID.
func (sc *SettingsCache) Get(ctx context.Context, subscriptionID string) (domain.SubscriberSettings, error) {
	data, err := sc.rdb.HGet(ctx, subscriptionSettingsKey(subscriptionID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.SubscriberSettings{}, domain.ErrNotFound
		}
		return domain.SubscriberSettings{}, fmt.Errorf("redis: get subscription settings %s: %w", subscriptionID, err)
	}

	var settings domain.SubscriberSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return domain.SubscriberSettings{}, fmt.Errorf("redis: unmarshal subscription settings %s: %w", subscriptionID, err)
	}
	return settings, nil
}

// Invalidate drops a subscription's cached settings so the next read
// re-hydrates from the durable store.
func (sc *SettingsCache) Invalidate(ctx context.Context, subscriptionID string) error {
	if err := sc.rdb.Del(ctx, subscriptionSettingsKey(subscriptionID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate subscription settings %s: %w", subscriptionID, err)
	}
	return nil
}

// SetStrategySettings writes a strategy's versioned settings hash.
func (sc *SettingsCache) SetStrategySettings(ctx context.Context, settings domain.StrategySettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("redis: marshal strategy settings %s: %w", settings.StrategyID, err)
	}
	if err := sc.rdb.HSet(ctx, strategySettingsKey(settings.StrategyID), "data", data).Err(); err != nil {
		return fmt.Errorf("redis: set strategy settings %s: %w", settings.StrategyID, err)
	}
	return nil
}

// GetStrategySettings retrieves a strategy's cached settings hash.
func (sc *SettingsCache) GetStrategySettings(ctx context.Context, strategyID string) (domain.StrategySettings, error) {
	data, err := sc.rdb.HGet(ctx, strategySettingsKey(strategyID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.StrategySettings{}, domain.ErrNotFound
		}
		return domain.StrategySettings{}, fmt.Errorf("redis: get strategy settings %s: %w", strategyID, err)
	}

	var settings domain.StrategySettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return domain.StrategySettings{}, fmt.Errorf("redis: unmarshal strategy settings %s: %w", strategyID, err)
	}
	return settings, nil
}

// DeleteStrategySettings drops a strategy's cached settings hash, e.g. on
// single-strategy delete per spec.md §4.9.
func (sc *SettingsCache) DeleteStrategySettings(ctx context.Context, strategyID string) error {
	if err := sc.rdb.Del(ctx, strategySettingsKey(strategyID)).Err(); err != nil {
		return fmt.Errorf("redis: delete strategy settings %s: %w", strategyID, err)
	}
	return nil
}

// SetExecutionStatus writes the last-run snapshot for a strategy.
func (sc *SettingsCache) SetExecutionStatus(ctx context.Context, status domain.ExecutionStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("redis: marshal execution status %s: %w", status.StrategyID, err)
	}
	if err := sc.rdb.HSet(ctx, executionStatusKey(status.StrategyID), "data", data).Err(); err != nil {
		return fmt.Errorf("redis: set execution status %s: %w", status.StrategyID, err)
	}
	return nil
}

// GetExecutionStatus retrieves the last-run snapshot for a strategy.
func (sc *SettingsCache) GetExecutionStatus(ctx context.Context, strategyID string) (domain.ExecutionStatus, error) {
	data, err := sc.rdb.HGet(ctx, executionStatusKey(strategyID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ExecutionStatus{}, domain.ErrNotFound
		}
		return domain.ExecutionStatus{}, fmt.Errorf("redis: get execution status %s: %w", strategyID, err)
	}

	var status domain.ExecutionStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return domain.ExecutionStatus{}, fmt.Errorf("redis: unmarshal execution status %s: %w", strategyID, err)
	}
	return status, nil
}

// Compile-time interface check.
var _ domain.SettingsCache = (*SettingsCache)(nil)
