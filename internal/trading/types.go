package trading

import (
	"fmt"
	"time"

	"cryptobot/pkg/exchanges/binance"
)

// Event names published on the bus by the trading service.
const (
	EventOrderPlaced     = "order_placed"
	EventOrderCanceled   = "order_canceled"
	EventPositionUpdated = "position_updated"
)

// OrderError wraps a failed order operation with its context.
type OrderError struct {
	Op     string
	Symbol string
	Err    error
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Symbol, e.Err)
}

func (e *OrderError) Unwrap() error { return e.Err }

// Position is the locally tracked holding for one symbol. EntryPrice is
// the weighted average across fills.
type Position struct {
	Symbol     string
	Quantity   float64
	EntryPrice float64
	UpdatedAt  time.Time
}

// Value returns the position's worth at the given price.
func (p Position) Value(price float64) float64 {
	return p.Quantity * price
}

// UnrealizedPnL returns profit against the average entry at the given price.
func (p Position) UnrealizedPnL(price float64) float64 {
	return (price - p.EntryPrice) * p.Quantity
}

// BracketResult reports the outcome of a strategy entry with protective
// orders. A nil StopLoss or TakeProfit with a non-nil matching error
// means that leg failed; the entry itself is never unwound.
type BracketResult struct {
	Entry         binance.Order
	StopLoss      *binance.Order
	StopLossErr   error
	TakeProfit    *binance.Order
	TakeProfitErr error
}

// DCAResult reports a dollar-cost-average run. Orders holds every fill
// that completed before a failure stopped the run.
type DCAResult struct {
	Orders      []binance.Order
	TotalSpent  float64
	TotalFilled float64
}

// RiskInfo summarizes a position against the configured limits.
type RiskInfo struct {
	Position      Position
	CurrentPrice  float64
	Value         float64
	UnrealizedPnL float64
	MaxValue      float64
	Utilization   float64 // Value / MaxValue
}
