package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisadapter "github.com/xcoinalgo/strategy-engine/internal/cache/redis"
	"github.com/xcoinalgo/strategy-engine/internal/domain"
)

func TestLockAcquireContention(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	lm := redisadapter.NewLockManager(client)

	unlock, err := lm.Acquire(ctx, "strategy:strat-1:run:2025-01-01T00:05:00.000Z", time.Minute)
	require.NoError(t, err)
	defer unlock()

	_, err = lm.Acquire(ctx, "strategy:strat-1:run:2025-01-01T00:05:00.000Z", time.Minute)
	assert.True(t, errors.Is(err, domain.ErrLockHeld))
}

func TestLockUnlockAllowsReacquire(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	lm := redisadapter.NewLockManager(client)

	unlock, err := lm.Acquire(ctx, "strategy:strat-2:run:2025-01-01T00:05:00.000Z", time.Minute)
	require.NoError(t, err)
	unlock()

	_, err = lm.Acquire(ctx, "strategy:strat-2:run:2025-01-01T00:05:00.000Z", time.Minute)
	assert.NoError(t, err)
}

func TestUnlockIsIdempotent(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	lm := redisadapter.NewLockManager(client)

	unlock, err := lm.Acquire(ctx, "strategy:strat-3:run:2025-01-01T00:05:00.000Z", time.Minute)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		unlock()
		unlock()
	})
}
