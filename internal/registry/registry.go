// Package registry implements the candle→strategies index (C5): an
// in-memory map guarded by a mutex, mirrored into Redis, and kept in sync
// across processes via pub/sub.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
)

const (
	channelRegister   = "strategy:register"
	channelUnregister = "strategy:unregister"
)

// ConfigSyncer recovers a strategy's execution config from its on-disk
// source when the durable record is missing symbol/resolution. Implemented
// by internal/strategycode.
type ConfigSyncer interface {
	Sync(strategyID string) (domain.ExecutionConfig, bool, error)
}

type registryEvent struct {
	StrategyID string `json:"strategy_id"`
	Symbol     string `json:"symbol"`
	Resolution string `json:"resolution"`
}

// Registry is the candle→strategies index. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	candles map[string][]string // candleMapKey(symbol, resolution) -> sorted strategy IDs

	cache  domain.RegistryCache
	bus    domain.SignalBus
	store  domain.StrategyStore
	syncer ConfigSyncer
	logger *slog.Logger
}

// New creates an empty Registry. syncer may be nil, in which case strategies
// with an incomplete execution config are skipped at Start rather than
// auto-synced.
func New(cache domain.RegistryCache, bus domain.SignalBus, store domain.StrategyStore, syncer ConfigSyncer, logger *slog.Logger) *Registry {
	return &Registry{
		candles: make(map[string][]string),
		cache:   cache,
		bus:     bus,
		store:   store,
		syncer:  syncer,
		logger:  logger.With(slog.String("component", "registry")),
	}
}

func candleMapKey(symbol, resolution string) string {
	return symbol + ":" + resolution
}

// Start performs the initial sync described in spec.md §4.4: it reads every
// active strategy with at least one subscriber, auto-syncs an incomplete
// execution config from disk when a ConfigSyncer is configured, registers
// each schedulable strategy, then begins listening for cross-process
// register/unregister notifications. It returns once the initial sync is
// complete; the pub/sub listeners run in background goroutines tied to ctx.
func (r *Registry) Start(ctx context.Context) error {
	strategies, err := r.store.ListActive(ctx, domain.ListOpts{Limit: 10_000})
	if err != nil {
		return fmt.Errorf("registry: initial list active strategies: %w", err)
	}

	for _, s := range strategies {
		if s.SubscriberCount <= 0 {
			continue
		}

		if !s.Config.IsComplete() && r.syncer != nil {
			cfg, ok, syncErr := r.syncer.Sync(s.ID)
			if syncErr != nil || !ok {
				r.logger.Warn("registry: auto-sync failed, strategy will not be schedulable",
					slog.String("strategy_id", s.ID), slog.Any("error", syncErr))
			} else {
				s.Config = cfg
				if updErr := r.store.Update(ctx, s); updErr != nil {
					r.logger.Warn("registry: persist auto-synced config failed",
						slog.String("strategy_id", s.ID), slog.Any("error", updErr))
				}
			}
		}

		if !s.Config.IsComplete() {
			r.logger.Warn("registry: skipping strategy with incomplete config",
				slog.String("strategy_id", s.ID))
			continue
		}

		if err := r.Register(ctx, s.ID, s.Config.Symbol, s.Config.Resolution); err != nil {
			r.logger.Warn("registry: initial register failed",
				slog.String("strategy_id", s.ID), slog.Any("error", err))
		}
	}

	go r.listen(ctx, channelRegister, r.applyRegister)
	go r.listen(ctx, channelUnregister, r.applyUnregister)

	return nil
}

func (r *Registry) listen(ctx context.Context, channel string, apply func(registryEvent)) {
	ch, err := r.bus.Subscribe(ctx, channel)
	if err != nil {
		r.logger.Error("registry: subscribe failed", slog.String("channel", channel), slog.Any("error", err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			var evt registryEvent
			if err := json.Unmarshal(payload, &evt); err != nil {
				r.logger.Warn("registry: malformed event payload", slog.String("channel", channel), slog.Any("error", err))
				continue
			}
			apply(evt)
		}
	}
}

// applyRegister mutates only the local map; the cache was already written by
// the originating process. It never re-publishes.
func (r *Registry) applyRegister(evt registryEvent) {
	key := candleMapKey(evt.Symbol, evt.Resolution)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candles[key] = insertSorted(r.candles[key], evt.StrategyID)
}

func (r *Registry) applyUnregister(evt registryEvent) {
	key := candleMapKey(evt.Symbol, evt.Resolution)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candles[key] = removeFromSlice(r.candles[key], evt.StrategyID)
	if len(r.candles[key]) == 0 {
		delete(r.candles, key)
	}
}

// Register adds strategyID to candle:{symbol}:{resolution}, writes the
// strategy's config hash, and publishes strategy:register.
func (r *Registry) Register(ctx context.Context, strategyID, symbol, resolution string) error {
	if strategyID == "" || symbol == "" || resolution == "" {
		return fmt.Errorf("registry: register: %w", domain.ErrEmptyIdentifier)
	}

	if err := r.cache.AddToCandleSet(ctx, symbol, resolution, strategyID); err != nil {
		return fmt.Errorf("registry: add to candle set: %w", err)
	}

	if err := r.cache.Set(ctx, domain.Strategy{
		ID:     strategyID,
		Active: true,
		Config: domain.ExecutionConfig{Symbol: symbol, Resolution: resolution},
	}); err != nil {
		return fmt.Errorf("registry: set config hash: %w", err)
	}

	key := candleMapKey(symbol, resolution)
	r.mu.Lock()
	r.candles[key] = insertSorted(r.candles[key], strategyID)
	r.mu.Unlock()

	return r.publish(ctx, channelRegister, registryEvent{StrategyID: strategyID, Symbol: symbol, Resolution: resolution})
}

// Unregister removes strategyID from candle:{symbol}:{resolution}. If the
// set becomes empty the cache layer drops the key. Publishes
// strategy:unregister.
func (r *Registry) Unregister(ctx context.Context, strategyID, symbol, resolution string) error {
	if err := r.cache.RemoveFromCandleSet(ctx, symbol, resolution, strategyID); err != nil {
		return fmt.Errorf("registry: remove from candle set: %w", err)
	}

	key := candleMapKey(symbol, resolution)
	r.mu.Lock()
	r.candles[key] = removeFromSlice(r.candles[key], strategyID)
	if len(r.candles[key]) == 0 {
		delete(r.candles, key)
	}
	r.mu.Unlock()

	return r.publish(ctx, channelUnregister, registryEvent{StrategyID: strategyID, Symbol: symbol, Resolution: resolution})
}

// UpdateRegistration moves a strategy from (oldSym, oldRes) to (newSym,
// newRes), implemented as unregister + register per spec.md §4.4.
func (r *Registry) UpdateRegistration(ctx context.Context, strategyID, oldSymbol, oldResolution, newSymbol, newResolution string) error {
	if err := r.Unregister(ctx, strategyID, oldSymbol, oldResolution); err != nil {
		return fmt.Errorf("registry: update registration unregister: %w", err)
	}
	if err := r.Register(ctx, strategyID, newSymbol, newResolution); err != nil {
		return fmt.Errorf("registry: update registration register: %w", err)
	}
	return nil
}

// GetForCandle is an O(1) read from the in-memory cache, falling back to the
// cache store on a local miss.
func (r *Registry) GetForCandle(ctx context.Context, symbol, resolution string) ([]string, error) {
	key := candleMapKey(symbol, resolution)

	r.mu.RLock()
	ids, ok := r.candles[key]
	r.mu.RUnlock()
	if ok {
		return append([]string(nil), ids...), nil
	}

	members, err := r.cache.CandleSetMembers(ctx, symbol, resolution)
	if err != nil {
		return nil, fmt.Errorf("registry: get for candle %s: %w", key, err)
	}

	sort.Strings(members)
	r.mu.Lock()
	r.candles[key] = members
	r.mu.Unlock()

	return members, nil
}

// ActiveCandles enumerates every candle:* key currently registered.
func (r *Registry) ActiveCandles(ctx context.Context) ([]string, error) {
	keys, err := r.cache.ActiveCandleKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: active candles: %w", err)
	}
	return keys, nil
}

// Refresh rebuilds the in-memory cache from the Redis candle sets (not from
// the durable StrategyStore).
func (r *Registry) Refresh(ctx context.Context) error {
	keys, err := r.cache.ActiveCandleKeys(ctx)
	if err != nil {
		return fmt.Errorf("registry: refresh list keys: %w", err)
	}

	rebuilt := make(map[string][]string, len(keys))
	for _, key := range keys {
		symbol, resolution, ok := splitCandleKey(key)
		if !ok {
			continue
		}
		members, err := r.cache.CandleSetMembers(ctx, symbol, resolution)
		if err != nil {
			return fmt.Errorf("registry: refresh members for %s: %w", key, err)
		}
		sort.Strings(members)
		rebuilt[candleMapKey(symbol, resolution)] = members
	}

	r.mu.Lock()
	r.candles = rebuilt
	r.mu.Unlock()
	return nil
}

// Clear removes every candle:* and strategy:*:config entry this process
// knows about, and empties the in-memory map.
func (r *Registry) Clear(ctx context.Context) error {
	r.mu.RLock()
	snapshot := make(map[string][]string, len(r.candles))
	for k, v := range r.candles {
		snapshot[k] = append([]string(nil), v...)
	}
	r.mu.RUnlock()

	for key, ids := range snapshot {
		symbol, resolution, ok := splitMapKey(key)
		if !ok {
			continue
		}
		for _, strategyID := range ids {
			if err := r.cache.RemoveFromCandleSet(ctx, symbol, resolution, strategyID); err != nil {
				return fmt.Errorf("registry: clear remove %s from %s: %w", strategyID, key, err)
			}
			if err := r.cache.Delete(ctx, strategyID); err != nil {
				return fmt.Errorf("registry: clear delete config for %s: %w", strategyID, err)
			}
		}
	}

	r.mu.Lock()
	r.candles = make(map[string][]string)
	r.mu.Unlock()
	return nil
}

func (r *Registry) publish(ctx context.Context, channel string, evt registryEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("registry: marshal event: %w", err)
	}
	if err := r.bus.Publish(ctx, channel, payload); err != nil {
		return fmt.Errorf("registry: publish %s: %w", channel, err)
	}
	return nil
}

func splitCandleKey(key string) (symbol, resolution string, ok bool) {
	// Redis-side keys look like "candle:{symbol}:{resolution}".
	const prefix = "candle:"
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		return "", "", false
	}
	return splitMapKey(key[len(prefix):])
}

func splitMapKey(key string) (symbol, resolution string, ok bool) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}

func insertSorted(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	ids = append(ids, id)
	sort.Strings(ids)
	return ids
}

func removeFromSlice(ids []string, id string) []string {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
