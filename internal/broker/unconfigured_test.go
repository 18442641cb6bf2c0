package broker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xcoinalgo/strategy-engine/internal/broker"
	"github.com/xcoinalgo/strategy-engine/internal/domain"
)

func TestUnconfiguredFailsEveryCall(t *testing.T) {
	b := broker.New()
	ctx := context.Background()

	_, err := b.ListFuturesWallets(ctx, domain.BrokerCredential{})
	assert.True(t, errors.Is(err, domain.ErrBrokerCallFailed))

	_, err = b.GetInstrumentInfo(ctx, "BTCUSDT")
	assert.True(t, errors.Is(err, domain.ErrBrokerCallFailed))

	_, err = b.PlaceMarketOrder(ctx, domain.BrokerCredential{}, "BTCUSDT", domain.OrderSideBuy, 1)
	assert.True(t, errors.Is(err, domain.ErrBrokerCallFailed))

	_, err = b.PlaceLimitOrder(ctx, domain.BrokerCredential{}, "BTCUSDT", domain.OrderSideSell, 1, 100)
	assert.True(t, errors.Is(err, domain.ErrBrokerCallFailed))

	_, err = b.GetOrder(ctx, domain.BrokerCredential{}, "order-1")
	assert.True(t, errors.Is(err, domain.ErrBrokerCallFailed))

	err = b.CancelOrder(ctx, domain.BrokerCredential{}, "order-1")
	assert.True(t, errors.Is(err, domain.ErrBrokerCallFailed))

	_, err = b.ListPositions(ctx, domain.BrokerCredential{}, "BTCUSDT")
	assert.True(t, errors.Is(err, domain.ErrBrokerCallFailed))
}
