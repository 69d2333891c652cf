package strategy

import (
	"context"
	"time"

	"cryptobot/internal/trading"
	"cryptobot/pkg/exchanges/binance"
)

// Event name for signals published on the bus.
const EventSignal = "strategy_signal"

// Direction is the side a signal wants to trade.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Side maps the signal direction onto an order side.
func (d Direction) Side() binance.Side {
	if d == DirectionSell {
		return binance.SideSell
	}
	return binance.SideBuy
}

// Signal is a trade decision emitted by a strategy.
type Signal struct {
	Strategy  string
	Symbol    string
	Direction Direction
	Price     float64
	Reason    string
	Time      time.Time
}

// PerformanceSummary aggregates a strategy's executed trades.
type PerformanceSummary struct {
	Strategy      string
	Trades        int
	Wins          int
	Losses        int
	WinRate       float64
	TotalPnL      float64
	LastSignalAt  time.Time
	LastDirection Direction
}

// Strategy is one trading algorithm bound to a symbol. Start seeds any
// internal state from history; OnPriceUpdate and OnKlineUpdate feed it
// live data between evaluations. GenerateSignal returns nil with a nil
// error when there is simply nothing to do; errors mean the evaluation
// itself failed.
type Strategy interface {
	Name() string
	Symbol() string
	Interval() string
	Start(ctx context.Context) error
	Stop()
	OnPriceUpdate(price float64)
	OnKlineUpdate(k binance.Kline)
	GenerateSignal(ctx context.Context) (*Signal, error)
	ExecuteSignal(ctx context.Context, sig *Signal) (trading.BracketResult, error)
	Performance() PerformanceSummary
}

// MarketData is the market view strategies evaluate against.
type MarketData interface {
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error)
}

// Trader executes signals as bracketed orders.
type Trader interface {
	ExecuteStrategyOrder(ctx context.Context, symbol string, side binance.Side, quantity float64) (trading.BracketResult, error)
}
