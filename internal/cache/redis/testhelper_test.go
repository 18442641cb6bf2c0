package redis_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	redisadapter "github.com/xcoinalgo/strategy-engine/internal/cache/redis"
)

// newTestClient spins up a miniredis server and wraps it in our Client,
// giving tests a real go-redis connection without a live Redis instance.
func newTestClient(t *testing.T) *redisadapter.Client {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c, err := redisadapter.New(context.Background(), redisadapter.ClientConfig{
		Addr: mr.Addr(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c
}
