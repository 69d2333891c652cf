package strategy

import (
	"context"
	"sync"
	"time"

	"cryptobot/internal/trading"
	"cryptobot/pkg/config"
	"cryptobot/pkg/exchanges/binance"
	"cryptobot/pkg/logger"
)

// BaseStrategy carries the bookkeeping every strategy shares: trade and
// win/loss counters, realized PnL against the configured risk amount,
// and signal execution through the trading service.
type BaseStrategy struct {
	name   string
	symbol string
	market MarketData
	trader Trader
	log    *logger.Logger

	cfg     config.StrategyConfig
	trading config.TradingConfig

	mu            sync.Mutex
	window        []float64
	maxWindow     int
	trades        int
	wins          int
	losses        int
	totalPnL      float64
	entryPrice    float64
	lastSignalAt  time.Time
	lastDirection Direction

	// now is swapped out in tests to drive the debounce clock.
	now func() time.Time
}

func newBase(name, symbol string, market MarketData, trader Trader, cfg config.StrategyConfig, tradingCfg config.TradingConfig, log *logger.Logger) BaseStrategy {
	return BaseStrategy{
		name:    name,
		symbol:  symbol,
		market:  market,
		trader:  trader,
		log:     log.WithComponent("strategy").WithSymbol(symbol),
		cfg:     cfg,
		trading: tradingCfg,
		now:     time.Now,
	}
}

func (b *BaseStrategy) Name() string     { return b.name }
func (b *BaseStrategy) Symbol() string   { return b.symbol }
func (b *BaseStrategy) Interval() string { return b.cfg.KlineInterval }

// Start is a no-op for strategies without seed state.
func (b *BaseStrategy) Start(ctx context.Context) error { return nil }

// Stop logs the performance summary.
func (b *BaseStrategy) Stop() {
	p := b.Performance()
	b.log.Infof("%s stopped: trades=%d wins=%d losses=%d pnl=%.4f",
		b.name, p.Trades, p.Wins, p.Losses, p.TotalPnL)
}

// OnPriceUpdate appends a live price to the rolling window.
func (b *BaseStrategy) OnPriceUpdate(price float64) {
	if price > 0 {
		b.appendPrice(price)
	}
}

// OnKlineUpdate appends a closed candle to the rolling window. Callers
// forward only final bars.
func (b *BaseStrategy) OnKlineUpdate(k binance.Kline) {
	if k.Close > 0 {
		b.appendPrice(k.Close)
	}
}

// appendPrice adds one close to the window, trimming it to the bound
// set by the concrete strategy.
func (b *BaseStrategy) appendPrice(price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window = append(b.window, price)
	if b.maxWindow > 0 && len(b.window) > b.maxWindow {
		b.window = b.window[len(b.window)-b.maxWindow:]
	}
}

// snapshotWindow copies the current window.
func (b *BaseStrategy) snapshotWindow() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]float64, len(b.window))
	copy(out, b.window)
	return out
}

// ExecuteSignal sizes the order from the configured risk amount and
// places it as a bracket. Counters update only on success.
func (b *BaseStrategy) ExecuteSignal(ctx context.Context, sig *Signal) (trading.BracketResult, error) {
	price := sig.Price
	if price <= 0 {
		var err error
		price, err = b.market.GetCurrentPrice(ctx, sig.Symbol)
		if err != nil {
			return trading.BracketResult{}, err
		}
	}
	quantity := b.trading.RiskAmount / price

	result, err := b.trader.ExecuteStrategyOrder(ctx, sig.Symbol, sig.Direction.Side(), quantity)
	if err != nil {
		b.log.WithError(err).Warnf("signal execution failed: %s", sig.Reason)
		return result, err
	}

	b.recordTrade(sig.Direction, price)
	b.log.Infof("executed %s signal at %.4f: %s", sig.Direction, price, sig.Reason)
	return result, nil
}

// recordTrade updates counters. A sell closing a tracked entry realizes
// PnL proportional to the risk amount.
func (b *BaseStrategy) recordTrade(direction Direction, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trades++
	b.lastSignalAt = b.now()
	b.lastDirection = direction

	switch direction {
	case DirectionBuy:
		b.entryPrice = price
	case DirectionSell:
		if b.entryPrice > 0 {
			pnl := (price - b.entryPrice) / b.entryPrice * b.trading.RiskAmount
			b.totalPnL += pnl
			if pnl > 0 {
				b.wins++
			} else {
				b.losses++
			}
			b.entryPrice = 0
		}
	}
}

// Performance returns a snapshot of the counters.
func (b *BaseStrategy) Performance() PerformanceSummary {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := PerformanceSummary{
		Strategy:      b.name,
		Trades:        b.trades,
		Wins:          b.wins,
		Losses:        b.losses,
		TotalPnL:      b.totalPnL,
		LastSignalAt:  b.lastSignalAt,
		LastDirection: b.lastDirection,
	}
	if closed := b.wins + b.losses; closed > 0 {
		s.WinRate = float64(b.wins) / float64(closed)
	}
	return s
}
