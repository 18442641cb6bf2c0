package timeutil_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
	"github.com/xcoinalgo/strategy-engine/internal/timeutil"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestResolutionToMinutes(t *testing.T) {
	cases := map[string]int{
		"1": 1, "5": 5, "60": 60, "720": 720, "D": 1440, "1D": 1440,
	}
	for res, want := range cases {
		got, err := timeutil.ResolutionToMinutes(res)
		require.NoError(t, err)
		assert.Equal(t, want, got, res)
	}

	_, err := timeutil.ResolutionToMinutes("7")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnsupportedResolution))
}

func TestResolutionToCron(t *testing.T) {
	tests := []struct {
		res        string
		wantExpr   string
		wantBest   bool
	}{
		{"5", "*/5 * * * *", false},
		{"60", "0 */1 * * *", false},
		{"240", "0 */4 * * *", false},
		{"D", "0 0 * * *", false},
	}
	for _, tc := range tests {
		expr, best, err := timeutil.ResolutionToCron(tc.res)
		require.NoError(t, err)
		assert.Equal(t, tc.wantExpr, expr, tc.res)
		assert.Equal(t, tc.wantBest, best, tc.res)
	}
}

func TestRoundToBoundaryIsIdempotent(t *testing.T) {
	now := mustParse(t, "2025-01-01T00:07:32Z")
	once, err := timeutil.RoundToBoundary(now, "5")
	require.NoError(t, err)

	twice, err := timeutil.RoundToBoundary(once, "5")
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, mustParse(t, "2025-01-01T00:05:00Z"), once)
}

func TestNextCandleCloseExactBoundary(t *testing.T) {
	now := mustParse(t, "2025-01-01T00:05:00Z")
	next, err := timeutil.NextCandleClose(now, "5")
	require.NoError(t, err)
	assert.Equal(t, mustParse(t, "2025-01-01T00:10:00Z"), next)
}

func TestNextCandleCloseDayRollover(t *testing.T) {
	now := mustParse(t, "2025-01-01T23:58:00Z")
	next, err := timeutil.NextCandleClose(now, "5")
	require.NoError(t, err)
	assert.Equal(t, mustParse(t, "2025-01-02T00:00:00Z"), next)
}

func TestNextCandleCloseDailyAnchor(t *testing.T) {
	now := mustParse(t, "2025-01-01T12:34:56Z")
	next, err := timeutil.NextCandleClose(now, "D")
	require.NoError(t, err)
	assert.Equal(t, mustParse(t, "2025-01-02T00:00:00Z"), next)
}

func TestIntervalKey(t *testing.T) {
	now := mustParse(t, "2025-01-01T00:05:00Z")
	key, err := timeutil.IntervalKey(now, "5")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01T00:05:00.000Z", key)
}

func TestLockTTLFloorsAtOneSecond(t *testing.T) {
	ttl, err := timeutil.LockTTL("1", 65*time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, ttl)

	ttl, err = timeutil.LockTTL("5", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 290*time.Second, ttl)
}

func TestValidateTiming(t *testing.T) {
	scheduled := mustParse(t, "2025-01-01T00:05:00Z")

	ok, drift := timeutil.ValidateTiming(scheduled, scheduled.Add(1500*time.Millisecond), 2*time.Second)
	assert.True(t, ok)
	assert.InDelta(t, 1.5, drift, 0.001)

	ok, drift = timeutil.ValidateTiming(scheduled, scheduled.Add(5*time.Second), 2*time.Second)
	assert.False(t, ok)
	assert.InDelta(t, 5.0, drift, 0.001)
}

func TestNextCandleCloseAlwaysAfterNow(t *testing.T) {
	resolutions := []string{"1", "5", "15", "60", "D"}
	now := mustParse(t, "2025-03-14T09:26:53Z")
	for _, res := range resolutions {
		next, err := timeutil.NextCandleClose(now, res)
		require.NoError(t, err)
		assert.True(t, next.After(now), res)

		boundary, err := timeutil.RoundToBoundary(now, res)
		require.NoError(t, err)
		minutes, err := timeutil.ResolutionToMinutes(res)
		require.NoError(t, err)
		assert.Equal(t, time.Duration(minutes)*time.Minute, next.Sub(boundary), res)
	}
}
