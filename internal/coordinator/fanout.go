package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
	"github.com/xcoinalgo/strategy-engine/internal/eventbus"
	"github.com/xcoinalgo/strategy-engine/internal/subscription"
)

// minOrderQuantity is the platform-wide floor below which a computed order
// size is clamped up rather than rejected outright.
const minOrderQuantity = 0.007

// positionLookupDelay is the pause before querying the broker for a
// just-opened futures position, giving the exchange time to settle it.
const positionLookupDelay = 500 * time.Millisecond

// fanOutLegacy fans a single legacy signal out to every subscriber
// concurrently. Individual subscriber failures are logged and never abort
// the others; the count of trades actually opened is returned.
func (c *Coordinator) fanOutLegacy(ctx context.Context, strategy domain.Strategy, subscribers []subscription.SubscriberView, signal domain.Signal) int {
	if !signal.IsEntry() {
		return 0
	}

	var (
		mu      sync.Mutex
		created int
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, view := range subscribers {
		view := view
		g.Go(func() error {
			if c.fanOutOne(gctx, strategy, view, signal) {
				mu.Lock()
				created++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return created
}

// fanOutOne evaluates preconditions, sizes and places one subscriber's
// order, and persists the resulting trade. It returns true if a trade was
// created.
func (c *Coordinator) fanOutOne(ctx context.Context, strategy domain.Strategy, view subscription.SubscriberView, signal domain.Signal) bool {
	log := c.logger.With(slog.String("strategy_id", strategy.ID), slog.String("subscription_id", view.Subscription.ID))

	if !view.Subscription.Live() {
		return false
	}

	subSettings, err := c.settings.GetSubscriptionSettings(ctx, view.Subscription.ID)
	if err != nil || !subSettings.IsActive {
		log.Warn("fan-out: subscriber settings missing or inactive, skipping")
		return false
	}

	if _, err := c.trades.GetOpen(ctx, view.Subscription.ID, strategy.Config.Symbol); err == nil {
		return false // already has an open trade for this symbol
	} else if !errors.Is(err, domain.ErrNotFound) {
		log.Warn("fan-out: open trade lookup failed, skipping", slog.Any("error", err))
		return false
	}

	quantity := sizePosition(view.Subscription.Capital, subSettings.Effective.RiskPerTrade, subSettings.Effective.Leverage, signal)
	if quantity <= 0 {
		return false
	}

	side := signal.TradeSide()
	orderSide := domain.OrderSideBuy
	if side == domain.TradeSideShort {
		orderSide = domain.OrderSideSell
	}

	if view.Subscription.TradingType == domain.TradingTypeFutures {
		instrument, err := c.broker.GetInstrumentInfo(ctx, strategy.Config.Symbol)
		if err != nil {
			log.Warn("fan-out: instrument info lookup failed, skipping", slog.Any("error", err))
			return false
		}
		quantity = floorToIncrement(quantity, instrument.QuantityIncrement)
		if quantity <= 0 {
			log.Warn("fan-out: quantity below broker minimum after precision floor", slog.String("reason", domain.ErrQuantityTooSmall.Error()))
			return false
		}
		if subSettings.Effective.Leverage > instrument.MaxLeverage {
			log.Warn("fan-out: requested leverage exceeds instrument limit", slog.String("reason", domain.ErrLeverageExceedsLimit.Error()))
			return false
		}
	}

	entry, err := c.broker.PlaceMarketOrder(ctx, view.Credential, strategy.Config.Symbol, orderSide, quantity)
	if err != nil || !entry.Success {
		log.Warn("fan-out: entry order failed", slog.Any("error", err))
		return false
	}

	trade := domain.Trade{
		ID:             newTradeID(),
		SubscriptionID: view.Subscription.ID,
		Symbol:         strategy.Config.Symbol,
		Side:           side,
		Quantity:       quantity,
		EntryPrice:     entry.FilledPrice,
		StopLoss:       signal.StopLoss,
		TakeProfit:     signal.TakeProfit,
		Status:         domain.TradeStatusOpen,
		EntryOrderID:   entry.OrderID,
		TradingType:    view.Subscription.TradingType,
		Leverage:       subSettings.Effective.Leverage,
		SignalMetadata: signal.Metadata,
		OpenedAt:       time.Now().UTC(),
	}

	c.placeRiskOrders(ctx, &trade, view, strategy, orderSide, log)

	if view.Subscription.TradingType == domain.TradingTypeFutures {
		c.attachPosition(ctx, &trade, view, strategy, log)
	}

	if err := c.trades.Create(ctx, trade); err != nil {
		log.Error("fan-out: persist trade failed", slog.Any("error", err))
		return false
	}

	c.events.Publish(eventbus.EventTradeCreated, trade)
	return true
}

// placeRiskOrders places opposite-side limit orders for stop-loss and/or
// take-profit. Failures are logged but never fail the trade itself.
func (c *Coordinator) placeRiskOrders(ctx context.Context, trade *domain.Trade, view subscription.SubscriberView, strategy domain.Strategy, entrySide domain.OrderSide, log *slog.Logger) {
	riskSide := domain.OrderSideSell
	if entrySide == domain.OrderSideSell {
		riskSide = domain.OrderSideBuy
	}

	if trade.StopLoss != nil {
		res, err := c.broker.PlaceLimitOrder(ctx, view.Credential, strategy.Config.Symbol, riskSide, trade.Quantity, *trade.StopLoss)
		if err != nil || !res.Success {
			log.Warn("fan-out: stop-loss order failed", slog.Any("error", err))
		} else {
			trade.StopLossOrderID = res.OrderID
		}
	}
	if trade.TakeProfit != nil {
		res, err := c.broker.PlaceLimitOrder(ctx, view.Credential, strategy.Config.Symbol, riskSide, trade.Quantity, *trade.TakeProfit)
		if err != nil || !res.Success {
			log.Warn("fan-out: take-profit order failed", slog.Any("error", err))
		} else {
			trade.TakeProfitOrderID = res.OrderID
		}
	}
}

// attachPosition looks up the subscriber's resulting futures position after
// a short settlement delay, recording its ID and liquidation price.
func (c *Coordinator) attachPosition(ctx context.Context, trade *domain.Trade, view subscription.SubscriberView, strategy domain.Strategy, log *slog.Logger) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(positionLookupDelay):
	}

	positions, err := c.broker.ListPositions(ctx, view.Credential, strategy.Config.Symbol)
	if err != nil || len(positions) == 0 {
		log.Warn("fan-out: position lookup failed after entry", slog.Any("error", err))
		return
	}
	pos := positions[0]
	trade.PositionID = pos.PositionID
	liq := pos.LiquidationPrice
	trade.LiquidationPrice = &liq
}

// sizePosition computes order quantity per spec.md §4.7.1: risk-based
// sizing against the stop distance when a stop-loss is present, otherwise a
// flat risk-times-leverage sizing against entry price.
func sizePosition(capital, riskPerTrade, leverage float64, signal domain.Signal) float64 {
	if signal.Price <= 0 {
		return 0
	}
	var size float64
	if signal.StopLoss != nil && *signal.StopLoss != 0 {
		stopDistance := math.Abs(signal.Price - *signal.StopLoss)
		if stopDistance == 0 {
			return 0
		}
		size = (capital * riskPerTrade / stopDistance) * leverage
	} else {
		size = (capital * riskPerTrade * leverage) / signal.Price
	}
	if size > 0 && size < minOrderQuantity {
		size = minOrderQuantity
	}
	return size
}

func floorToIncrement(quantity, increment float64) float64 {
	if increment <= 0 {
		return quantity
	}
	return math.Floor(quantity/increment) * increment
}

func newTradeID() string {
	return uuid.New().String()
}
