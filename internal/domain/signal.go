package domain

// SignalType is the direction a strategy runtime requests for the current
// candle.
type SignalType string

const (
	SignalLong      SignalType = "LONG"
	SignalShort     SignalType = "SHORT"
	SignalHold      SignalType = "HOLD"
	SignalExitLong  SignalType = "EXIT_LONG"
	SignalExitShort SignalType = "EXIT_SHORT"
)

// Signal is the per-candle output of a legacy strategy runtime: direction,
// price, and optional stop/target. The coordinator fans this out to every
// active subscriber.
type Signal struct {
	Type       SignalType
	Price      float64
	StopLoss   *float64
	TakeProfit *float64
	Metadata   map[string]any
}

// IsEntry reports whether this signal should open a new trade.
func (s Signal) IsEntry() bool {
	return s.Type == SignalLong || s.Type == SignalShort
}

// TradeSide maps an entry signal to the trade side it opens.
func (s Signal) TradeSide() TradeSide {
	if s.Type == SignalShort {
		return TradeSideShort
	}
	return TradeSideLong
}
