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

func TestSubscriberSettingsSetGetInvalidate(t *testing.T) {
	ctx := context.Background()
	sc := redisadapter.NewSettingsCache(newTestClient(t))

	settings := domain.SubscriberSettings{
		SubscriptionID: "sub-1",
		StrategyID:     "strat-1",
		Effective:      domain.EffectiveSettings{RiskPerTrade: 0.02, Leverage: 5},
		IsActive:       true,
	}

	require.NoError(t, sc.Set(ctx, "sub-1", settings))

	got, err := sc.Get(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, settings.Effective.RiskPerTrade, got.Effective.RiskPerTrade)
	assert.True(t, got.IsActive)

	require.NoError(t, sc.Invalidate(ctx, "sub-1"))
	_, err = sc.Get(ctx, "sub-1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestStrategySettingsVersioning(t *testing.T) {
	ctx := context.Background()
	sc := redisadapter.NewSettingsCache(newTestClient(t))

	first := domain.StrategySettings{StrategyID: "strat-1", Version: 1}
	require.NoError(t, sc.SetStrategySettings(ctx, first))

	second := domain.StrategySettings{StrategyID: "strat-1", Version: 2}
	require.NoError(t, sc.SetStrategySettings(ctx, second))

	got, err := sc.GetStrategySettings(ctx, "strat-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestExecutionStatusRoundTrip(t *testing.T) {
	ctx := context.Background()
	sc := redisadapter.NewSettingsCache(newTestClient(t))

	status := domain.ExecutionStatus{StrategyID: "strat-1", LastSignal: "LONG", DurationS: 1.25}
	require.NoError(t, sc.SetExecutionStatus(ctx, status))

	got, err := sc.GetExecutionStatus(ctx, "strat-1")
	require.NoError(t, err)
	assert.Equal(t, "LONG", got.LastSignal)
	assert.InDelta(t, 1.25, got.DurationS, 0.0001)
}
