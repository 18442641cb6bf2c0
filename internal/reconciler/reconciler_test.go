package reconciler_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
	"github.com/xcoinalgo/strategy-engine/internal/reconciler"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func ptr(v float64) *float64 { return &v }

type fakeRegistryCache struct {
	sets map[string][]string // "symbol:resolution" -> member ids
}

func newFakeRegistryCache() *fakeRegistryCache {
	return &fakeRegistryCache{sets: make(map[string][]string)}
}

func (c *fakeRegistryCache) Set(context.Context, domain.Strategy) error       { return nil }
func (c *fakeRegistryCache) Get(context.Context, string) (domain.Strategy, error) {
	return domain.Strategy{}, domain.ErrNotFound
}
func (c *fakeRegistryCache) Delete(context.Context, string) error { return nil }
func (c *fakeRegistryCache) ListActive(context.Context) ([]domain.Strategy, error) {
	return nil, nil
}

func (c *fakeRegistryCache) AddToCandleSet(_ context.Context, symbol, resolution, strategyID string) error {
	key := symbol + ":" + resolution
	c.sets[key] = append(c.sets[key], strategyID)
	return nil
}
func (c *fakeRegistryCache) RemoveFromCandleSet(_ context.Context, symbol, resolution, strategyID string) error {
	key := symbol + ":" + resolution
	members := c.sets[key]
	filtered := members[:0]
	for _, id := range members {
		if id != strategyID {
			filtered = append(filtered, id)
		}
	}
	c.sets[key] = filtered
	return nil
}
func (c *fakeRegistryCache) CandleSetMembers(_ context.Context, symbol, resolution string) ([]string, error) {
	return append([]string(nil), c.sets[symbol+":"+resolution]...), nil
}
func (c *fakeRegistryCache) ActiveCandleKeys(context.Context) ([]string, error) {
	keys := make([]string, 0, len(c.sets))
	for key, members := range c.sets {
		if len(members) > 0 {
			keys = append(keys, "candle:"+key)
		}
	}
	return keys, nil
}

type fakeStrategyStore struct {
	active []domain.Strategy
}

func (s *fakeStrategyStore) Create(context.Context, domain.Strategy) error { return nil }
func (s *fakeStrategyStore) Update(context.Context, domain.Strategy) error { return nil }
func (s *fakeStrategyStore) GetByID(context.Context, string) (domain.Strategy, error) {
	return domain.Strategy{}, domain.ErrNotFound
}
func (s *fakeStrategyStore) ListActive(context.Context, domain.ListOpts) ([]domain.Strategy, error) {
	return s.active, nil
}
func (s *fakeStrategyStore) IncrementSubscriberCount(context.Context, string, int) (int, error) {
	return 0, nil
}
func (s *fakeStrategyStore) Delete(context.Context, string) error { return nil }

func TestReconcileRemovesOrphanedMembers(t *testing.T) {
	ctx := context.Background()
	cache := newFakeRegistryCache()
	cache.sets["BTCUSDT:5"] = []string{"gone", "", "strat-1"}

	store := &fakeStrategyStore{active: []domain.Strategy{
		{ID: "strat-1", Active: true, SubscriberCount: 1, Config: domain.ExecutionConfig{Symbol: "BTCUSDT", Resolution: "5", RiskPerTrade: ptr(0.01), Leverage: ptr(2)}},
	}}

	r := reconciler.New(cache, store, testLogger())
	report, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Orphaned) // "gone" and ""
	assert.Equal(t, 0, report.Missing)
	assert.Equal(t, []string{"strat-1"}, cache.sets["BTCUSDT:5"])
}

func TestReconcileAddsMissingMembership(t *testing.T) {
	ctx := context.Background()
	cache := newFakeRegistryCache()
	store := &fakeStrategyStore{active: []domain.Strategy{
		{ID: "strat-2", Active: true, SubscriberCount: 3, Config: domain.ExecutionConfig{Symbol: "ETHUSDT", Resolution: "15", RiskPerTrade: ptr(0.01), Leverage: ptr(2)}},
	}}

	r := reconciler.New(cache, store, testLogger())
	report, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Orphaned)
	assert.Equal(t, 1, report.Missing)
	assert.Equal(t, []string{"strat-2"}, cache.sets["ETHUSDT:15"])
}

func TestReconcileSkipsZeroSubscriberStrategies(t *testing.T) {
	ctx := context.Background()
	cache := newFakeRegistryCache()
	store := &fakeStrategyStore{active: []domain.Strategy{
		{ID: "strat-3", Active: true, SubscriberCount: 0, Config: domain.ExecutionConfig{Symbol: "SOLUSDT", Resolution: "5", RiskPerTrade: ptr(0.01), Leverage: ptr(2)}},
	}}

	r := reconciler.New(cache, store, testLogger())
	report, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Missing)
	assert.Empty(t, cache.sets["SOLUSDT:5"])
}

func TestReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cache := newFakeRegistryCache()
	cache.sets["BTCUSDT:5"] = []string{"stale"}
	store := &fakeStrategyStore{active: []domain.Strategy{
		{ID: "strat-1", Active: true, SubscriberCount: 1, Config: domain.ExecutionConfig{Symbol: "BTCUSDT", Resolution: "5", RiskPerTrade: ptr(0.01), Leverage: ptr(2)}},
	}}

	r := reconciler.New(cache, store, testLogger())
	_, err := r.Reconcile(ctx)
	require.NoError(t, err)

	report, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Orphaned)
	assert.Equal(t, 0, report.Missing)
	assert.Empty(t, report.Errors)
}
