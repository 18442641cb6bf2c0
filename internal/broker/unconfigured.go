// Package broker provides the placeholder domain.BrokerClient wired when no
// concrete trading venue is configured. The capability set it implements
// (wallet balances, order placement, position lookups) is abstract by
// design: the concrete vendor integration is out of scope and lives behind
// domain.BrokerClient so the coordinator never depends on a specific SDK.
package broker

import (
	"context"
	"fmt"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
)

// Unconfigured implements domain.BrokerClient by failing every call with
// domain.ErrBrokerCallFailed. Per-subscriber fan-out treats broker failures
// as a contained, per-subscriber error rather than aborting the whole
// execution, so wiring this in place of a real vendor degrades gracefully:
// executions still run, record, and advance cache state, they simply never
// place a live order.
type Unconfigured struct{}

// New returns a BrokerClient that fails every call.
func New() *Unconfigured {
	return &Unconfigured{}
}

func (Unconfigured) ListFuturesWallets(context.Context, domain.BrokerCredential) ([]domain.Wallet, error) {
	return nil, fmt.Errorf("broker: no vendor configured: %w", domain.ErrBrokerCallFailed)
}

func (Unconfigured) GetInstrumentInfo(context.Context, string) (domain.InstrumentInfo, error) {
	return domain.InstrumentInfo{}, fmt.Errorf("broker: no vendor configured: %w", domain.ErrBrokerCallFailed)
}

func (Unconfigured) PlaceMarketOrder(context.Context, domain.BrokerCredential, string, domain.OrderSide, float64) (domain.OrderResult, error) {
	return domain.OrderResult{}, fmt.Errorf("broker: no vendor configured: %w", domain.ErrBrokerCallFailed)
}

func (Unconfigured) PlaceLimitOrder(context.Context, domain.BrokerCredential, string, domain.OrderSide, float64, float64) (domain.OrderResult, error) {
	return domain.OrderResult{}, fmt.Errorf("broker: no vendor configured: %w", domain.ErrBrokerCallFailed)
}

func (Unconfigured) GetOrder(context.Context, domain.BrokerCredential, string) (domain.OrderResult, error) {
	return domain.OrderResult{}, fmt.Errorf("broker: no vendor configured: %w", domain.ErrBrokerCallFailed)
}

func (Unconfigured) CancelOrder(context.Context, domain.BrokerCredential, string) error {
	return fmt.Errorf("broker: no vendor configured: %w", domain.ErrBrokerCallFailed)
}

func (Unconfigured) ListPositions(context.Context, domain.BrokerCredential, string) ([]domain.BrokerPosition, error) {
	return nil, fmt.Errorf("broker: no vendor configured: %w", domain.ErrBrokerCallFailed)
}
