package redis_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisadapter "github.com/xcoinalgo/strategy-engine/internal/cache/redis"
	"github.com/xcoinalgo/strategy-engine/internal/domain"
)

func TestRegistryCacheSetGet(t *testing.T) {
	ctx := context.Background()
	rc := redisadapter.NewRegistryCache(newTestClient(t))

	strategy := domain.Strategy{
		ID:     "strat-1",
		Name:   "trend-follower",
		Active: true,
		Config: domain.ExecutionConfig{Symbol: "BTCUSDT", Resolution: "5"},
	}

	require.NoError(t, rc.Set(ctx, strategy))

	got, err := rc.Get(ctx, "strat-1")
	require.NoError(t, err)
	assert.Equal(t, strategy.Name, got.Name)
	assert.Equal(t, strategy.Config.Symbol, got.Config.Symbol)
}

func TestRegistryCacheGetNotFound(t *testing.T) {
	ctx := context.Background()
	rc := redisadapter.NewRegistryCache(newTestClient(t))

	_, err := rc.Get(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCandleSetRegisterUnregisterRoundTrip(t *testing.T) {
	ctx := context.Background()
	rc := redisadapter.NewRegistryCache(newTestClient(t))

	require.NoError(t, rc.AddToCandleSet(ctx, "BTCUSDT", "5", "strat-1"))
	members, err := rc.CandleSetMembers(ctx, "BTCUSDT", "5")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"strat-1"}, members)

	require.NoError(t, rc.RemoveFromCandleSet(ctx, "BTCUSDT", "5", "strat-1"))
	members, err = rc.CandleSetMembers(ctx, "BTCUSDT", "5")
	require.NoError(t, err)
	assert.Empty(t, members)

	keys, err := rc.ActiveCandleKeys(ctx)
	require.NoError(t, err)
	assert.NotContains(t, keys, redisadapter.CandleKey("BTCUSDT", "5"))
}

func TestListActiveReturnsRegisteredStrategies(t *testing.T) {
	ctx := context.Background()
	rc := redisadapter.NewRegistryCache(newTestClient(t))

	strategy := domain.Strategy{ID: "strat-1", Name: "s1", Active: true}
	require.NoError(t, rc.Set(ctx, strategy))
	require.NoError(t, rc.AddToCandleSet(ctx, "ETHUSDT", "15", "strat-1"))

	active, err := rc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "strat-1", active[0].ID)
}
