package settings_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
	"github.com/xcoinalgo/strategy-engine/internal/settings"
)

type fakeSettingsCache struct {
	mu          sync.Mutex
	subs        map[string]domain.SubscriberSettings
	strategies  map[string]domain.StrategySettings
	statuses    map[string]domain.ExecutionStatus
}

func newFakeSettingsCache() *fakeSettingsCache {
	return &fakeSettingsCache{
		subs:       make(map[string]domain.SubscriberSettings),
		strategies: make(map[string]domain.StrategySettings),
		statuses:   make(map[string]domain.ExecutionStatus),
	}
}

func (c *fakeSettingsCache) Set(_ context.Context, id string, s domain.SubscriberSettings) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[id] = s
	return nil
}

func (c *fakeSettingsCache) Get(_ context.Context, id string) (domain.SubscriberSettings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.subs[id]
	if !ok {
		return domain.SubscriberSettings{}, domain.ErrNotFound
	}
	return s, nil
}

func (c *fakeSettingsCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
	return nil
}

func (c *fakeSettingsCache) SetStrategySettings(_ context.Context, s domain.StrategySettings) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strategies[s.StrategyID] = s
	return nil
}

func (c *fakeSettingsCache) GetStrategySettings(_ context.Context, id string) (domain.StrategySettings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.strategies[id]
	if !ok {
		return domain.StrategySettings{}, domain.ErrNotFound
	}
	return s, nil
}

func (c *fakeSettingsCache) DeleteStrategySettings(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.strategies, id)
	return nil
}

func (c *fakeSettingsCache) SetExecutionStatus(_ context.Context, s domain.ExecutionStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[s.StrategyID] = s
	return nil
}

func (c *fakeSettingsCache) GetExecutionStatus(_ context.Context, id string) (domain.ExecutionStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.statuses[id]
	if !ok {
		return domain.ExecutionStatus{}, domain.ErrNotFound
	}
	return s, nil
}

type fakeStrategyStore struct {
	strategies map[string]domain.Strategy
}

func (s *fakeStrategyStore) Create(context.Context, domain.Strategy) error { return nil }
func (s *fakeStrategyStore) Update(context.Context, domain.Strategy) error { return nil }
func (s *fakeStrategyStore) GetByID(_ context.Context, id string) (domain.Strategy, error) {
	st, ok := s.strategies[id]
	if !ok {
		return domain.Strategy{}, domain.ErrNotFound
	}
	return st, nil
}
func (s *fakeStrategyStore) ListActive(context.Context, domain.ListOpts) ([]domain.Strategy, error) {
	return nil, nil
}
func (s *fakeStrategyStore) IncrementSubscriberCount(context.Context, string, int) (int, error) {
	return 0, nil
}
func (s *fakeStrategyStore) Delete(context.Context, string) error { return nil }

type fakeLockManager struct {
	mu     sync.Mutex
	locked map[string]bool
}

func newFakeLockManager() *fakeLockManager { return &fakeLockManager{locked: make(map[string]bool)} }

func (l *fakeLockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked[key] {
		return nil, domain.ErrLockHeld
	}
	l.locked[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.locked, key)
	}, nil
}

type fakeBus struct{}

func (fakeBus) Publish(context.Context, string, []byte) error { return nil }
func (fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}
func (fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestGetStrategySettingsHydratesFromStoreOnMiss(t *testing.T) {
	ctx := context.Background()
	store := &fakeStrategyStore{strategies: map[string]domain.Strategy{
		"strat-1": {ID: "strat-1", Config: domain.ExecutionConfig{Symbol: "BTCUSDT", Resolution: "5"}},
	}}
	svc := settings.New(newFakeSettingsCache(), store, newFakeLockManager(), fakeBus{}, testLogger())

	got, err := svc.GetStrategySettings(ctx, "strat-1")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", got.Config.Symbol)
	assert.Equal(t, int64(1), got.Version)
}

func TestGetStrategySettingsFailsOnIncompleteConfig(t *testing.T) {
	ctx := context.Background()
	store := &fakeStrategyStore{strategies: map[string]domain.Strategy{
		"strat-1": {ID: "strat-1", Config: domain.ExecutionConfig{}},
	}}
	svc := settings.New(newFakeSettingsCache(), store, newFakeLockManager(), fakeBus{}, testLogger())

	_, err := svc.GetStrategySettings(ctx, "strat-1")
	assert.True(t, errors.Is(err, domain.ErrMissingStrategyConfig))
}

func TestUpdateStrategySettingsIncrementsVersion(t *testing.T) {
	ctx := context.Background()
	cache := newFakeSettingsCache()
	store := &fakeStrategyStore{strategies: map[string]domain.Strategy{
		"strat-1": {ID: "strat-1", Config: domain.ExecutionConfig{Symbol: "BTCUSDT", Resolution: "5"}},
	}}
	svc := settings.New(cache, store, newFakeLockManager(), fakeBus{}, testLogger())

	_, err := svc.GetStrategySettings(ctx, "strat-1") // hydrate, version 1
	require.NoError(t, err)

	newCfg := domain.ExecutionConfig{Symbol: "ETHUSDT", Resolution: "15"}
	updated, err := svc.UpdateStrategySettings(ctx, "strat-1", settings.StrategySettingsPatch{Config: &newCfg}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "ETHUSDT", updated.Config.Symbol)
}

func TestAcquireLockContentionReturnsFalseNotError(t *testing.T) {
	ctx := context.Background()
	svc := settings.New(newFakeSettingsCache(), &fakeStrategyStore{strategies: map[string]domain.Strategy{}}, newFakeLockManager(), fakeBus{}, testLogger())

	ok, err := svc.AcquireLock(ctx, "strat-1", "2025-01-01T00:05:00.000Z", time.Minute, "worker-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.AcquireLock(ctx, "strat-1", "2025-01-01T00:05:00.000Z", time.Minute, "worker-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseLockAllowsReacquire(t *testing.T) {
	ctx := context.Background()
	svc := settings.New(newFakeSettingsCache(), &fakeStrategyStore{strategies: map[string]domain.Strategy{}}, newFakeLockManager(), fakeBus{}, testLogger())

	ok, err := svc.AcquireLock(ctx, "strat-1", "interval-1", time.Minute, "worker-1")
	require.NoError(t, err)
	require.True(t, ok)

	svc.ReleaseLock("strat-1", "interval-1")

	ok, err = svc.AcquireLock(ctx, "strat-1", "interval-1", time.Minute, "worker-2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSubscriptionSettingsInitializeGetUpdate(t *testing.T) {
	ctx := context.Background()
	svc := settings.New(newFakeSettingsCache(), &fakeStrategyStore{strategies: map[string]domain.Strategy{}}, newFakeLockManager(), fakeBus{}, testLogger())

	require.NoError(t, svc.InitializeSubscription(ctx, domain.SubscriberSettings{
		SubscriptionID: "sub-1", StrategyID: "strat-1", IsActive: true,
		Effective: domain.EffectiveSettings{RiskPerTrade: 0.02, Leverage: 5},
	}))

	got, err := svc.GetSubscriptionSettings(ctx, "sub-1")
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	isActive := false
	updated, err := svc.UpdateSubscriptionSettings(ctx, "sub-1", settings.SubscriptionSettingsPatch{IsActive: &isActive})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.Equal(t, 0.02, updated.Effective.RiskPerTrade)
}
