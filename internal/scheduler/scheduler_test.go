package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcoinalgo/strategy-engine/internal/reconciler"
	"github.com/xcoinalgo/strategy-engine/internal/scheduler"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeCoordinator struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeCoordinator) ExecuteCandleStrategies(_ context.Context, symbol, resolution string, _ time.Time, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, symbol+":"+resolution)
}

func (f *fakeCoordinator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeCandleLister struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeCandleLister) ActiveCandles(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...), nil
}

func (f *fakeCandleLister) set(keys ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = keys
}

type fakeReconciler struct {
	mu    sync.Mutex
	calls int
	out   reconciler.Report
}

func (f *fakeReconciler) Reconcile(context.Context) (reconciler.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.out, nil
}

func TestStartRegistersOneJobPerCandle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := &fakeCoordinator{}
	candles := &fakeCandleLister{keys: []string{"candle:BTCUSDT:5", "candle:ETHUSDT:15"}}
	recon := &fakeReconciler{}

	s := scheduler.New(coord, candles, recon, "worker-test", testLogger())
	require.NoError(t, s.Start(ctx))
	defer s.Stop()
}

func TestStartSkipsMalformedCandleKeys(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := &fakeCoordinator{}
	candles := &fakeCandleLister{keys: []string{"not-a-candle-key", "candle:BTCUSDT:5"}}
	recon := &fakeReconciler{}

	s := scheduler.New(coord, candles, recon, "worker-test", testLogger())
	require.NoError(t, s.Start(ctx))
	defer s.Stop()
}

func TestStartFailsOnUnsupportedResolutionIsNonFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := &fakeCoordinator{}
	candles := &fakeCandleLister{keys: []string{"candle:BTCUSDT:7"}} // "7" is not a supported resolution
	recon := &fakeReconciler{}

	s := scheduler.New(coord, candles, recon, "worker-test", testLogger())
	require.NoError(t, s.Start(ctx))
	defer s.Stop()
	assert.Equal(t, 0, coord.callCount())
}

func TestStopIsIdempotentAndGracefullyDrains(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := scheduler.New(&fakeCoordinator{}, &fakeCandleLister{}, &fakeReconciler{}, "worker-test", testLogger())
	require.NoError(t, s.Start(ctx))
	s.Stop()
	s.Stop() // must not panic or block forever
}
