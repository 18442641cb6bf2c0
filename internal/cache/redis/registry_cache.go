package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xcoinalgo/strategy-engine/internal/domain"
)

// RegistryCache implements domain.RegistryCache using Redis sets for candle
// membership and a hash for per-strategy config, mirroring the durable
// strategy registry so the scheduler never hits Postgres on the hot path.
//
// Key schema:
//
//	strategy:{id}:config - hash with field "data" containing JSON
//	candle:{sym}:{res}   - set of strategy IDs registered for that candle
type RegistryCache struct {
	rdb *redis.Client
}

// NewRegistryCache creates a RegistryCache backed by the given Client.
func NewRegistryCache(c *Client) *RegistryCache {
	return &RegistryCache{rdb: c.Underlying()}
}

func strategyConfigKey(id string) string { return "strategy:" + id + ":config" }

// Set stores a Strategy's config hash, keyed by strategy ID.
func (rc *RegistryCache) Set(ctx context.Context, strategy domain.Strategy) error {
	data, err := json.Marshal(strategy)
	if err != nil {
		return fmt.Errorf("redis: marshal strategy %s: %w", strategy.ID, err)
	}
	if err := rc.rdb.HSet(ctx, strategyConfigKey(strategy.ID), "data", data).Err(); err != nil {
		return fmt.Errorf("redis: set strategy %s: %w", strategy.ID, err)
	}
	return nil
}

// Get retrieves a Strategy's cached config by ID.
func (rc *RegistryCache) Get(ctx context.Context, strategyID string) (domain.Strategy, error) {
	data, err := rc.rdb.HGet(ctx, strategyConfigKey(strategyID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Strategy{}, domain.ErrNotFound
		}
		return domain.Strategy{}, fmt.Errorf("redis: get strategy %s: %w", strategyID, err)
	}

	var s domain.Strategy
	if err := json.Unmarshal(data, &s); err != nil {
		return domain.Strategy{}, fmt.Errorf("redis: unmarshal strategy %s: %w", strategyID, err)
	}
	return s, nil
}

// Delete removes a strategy's cached config hash.
func (rc *RegistryCache) Delete(ctx context.Context, strategyID string) error {
	if err := rc.rdb.Del(ctx, strategyConfigKey(strategyID)).Err(); err != nil {
		return fmt.Errorf("redis: delete strategy %s: %w", strategyID, err)
	}
	return nil
}

// ListActive scans every candle:* set and returns the distinct strategies
// that appear in at least one of them, hydrated from their config hashes.
// The keys are enumerated with a cursor-based SCAN rather than KEYS;
// ListActive backs the reconciler and cold-start sync paths, not the hot
// fan-out path.
func (rc *RegistryCache) ListActive(ctx context.Context) ([]domain.Strategy, error) {
	var cursor uint64
	seen := make(map[string]struct{})
	var strategies []domain.Strategy

	for {
		keys, next, err := rc.rdb.Scan(ctx, cursor, "candle:*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: scan candle keys: %w", err)
		}

		for _, key := range keys {
			members, err := rc.rdb.SMembers(ctx, key).Result()
			if err != nil {
				return nil, fmt.Errorf("redis: smembers %s: %w", key, err)
			}
			for _, id := range members {
				if id == "" {
					continue
				}
				if _, ok := seen[id]; ok {
					continue
				}
				seen[id] = struct{}{}

				strategy, err := rc.Get(ctx, id)
				if err != nil {
					if errors.Is(err, domain.ErrNotFound) {
						continue
					}
					return nil, err
				}
				strategies = append(strategies, strategy)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return strategies, nil
}

// CandleKey returns the Redis key for a (symbol, resolution) candle
// membership set.
func CandleKey(symbol, resolution string) string {
	return "candle:" + symbol + ":" + resolution
}

// AddToCandleSet adds strategyID to the candle's membership set.
func (rc *RegistryCache) AddToCandleSet(ctx context.Context, symbol, resolution, strategyID string) error {
	if err := rc.rdb.SAdd(ctx, CandleKey(symbol, resolution), strategyID).Err(); err != nil {
		return fmt.Errorf("redis: sadd %s: %w", CandleKey(symbol, resolution), err)
	}
	return nil
}

// RemoveFromCandleSet removes strategyID from the candle's membership set,
// deleting the set entirely if it becomes empty.
func (rc *RegistryCache) RemoveFromCandleSet(ctx context.Context, symbol, resolution, strategyID string) error {
	key := CandleKey(symbol, resolution)
	if err := rc.rdb.SRem(ctx, key, strategyID).Err(); err != nil {
		return fmt.Errorf("redis: srem %s: %w", key, err)
	}

	count, err := rc.rdb.SCard(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis: scard %s: %w", key, err)
	}
	if count == 0 {
		if err := rc.rdb.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis: del empty candle set %s: %w", key, err)
		}
	}
	return nil
}

// CandleSetMembers returns the strategy IDs registered for a (symbol,
// resolution) candle.
func (rc *RegistryCache) CandleSetMembers(ctx context.Context, symbol, resolution string) ([]string, error) {
	members, err := rc.rdb.SMembers(ctx, CandleKey(symbol, resolution)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: smembers %s: %w", CandleKey(symbol, resolution), err)
	}
	return members, nil
}

// ActiveCandleKeys enumerates every populated candle:* key.
func (rc *RegistryCache) ActiveCandleKeys(ctx context.Context) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		batch, next, err := rc.rdb.Scan(ctx, cursor, "candle:*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: scan candle keys: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// Compile-time interface check.
var _ domain.RegistryCache = (*RegistryCache)(nil)
