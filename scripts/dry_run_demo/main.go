package main

import (
	"context"
	"log"
	"time"

	"cryptobot/internal/strategy"
	"cryptobot/internal/trading"
	"cryptobot/pkg/config"
	"cryptobot/pkg/exchanges/binance"
	"cryptobot/pkg/logger"
)

// dry_run_demo feeds the crossover strategy a synthetic price series
// and prints every signal and paper order. No exchange access, no
// credentials needed.

type paperMarket struct {
	seed []binance.Kline
}

func (m *paperMarket) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return m.seed[len(m.seed)-1].Close, nil
}

func (m *paperMarket) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error) {
	if limit < len(m.seed) {
		return m.seed[len(m.seed)-limit:], nil
	}
	return m.seed, nil
}

type paperTrader struct{}

func (paperTrader) ExecuteStrategyOrder(ctx context.Context, symbol string, side binance.Side, quantity float64) (trading.BracketResult, error) {
	log.Printf("paper order: %s %s qty=%.6f", side, symbol, quantity)
	return trading.BracketResult{Entry: binance.Order{
		Symbol:           symbol,
		Side:             side,
		Status:           binance.StatusFilled,
		ExecutedQuantity: quantity,
	}}, nil
}

func main() {
	log.Println("=== dry run demo ===")

	series := syntheticSeries(200)
	seedLen := 30
	market := &paperMarket{seed: series[:seedLen]}

	cfg := config.StrategyConfig{
		ShortPeriod:   5,
		LongPeriod:    15,
		KlineInterval: "1m",
	}
	tradingCfg := config.TradingConfig{RiskAmount: 100}

	s := strategy.NewMACross("BTCUSDT", market, paperTrader{}, cfg, tradingCfg, logger.New(logger.Config{Level: "info"}))

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		log.Fatalf("start: %v", err)
	}

	// replay the rest of the series one tick per evaluation
	for _, k := range series[seedLen:] {
		s.OnKlineUpdate(k)

		sig, err := s.GenerateSignal(ctx)
		if err != nil {
			log.Printf("evaluation error: %v", err)
			continue
		}
		if sig == nil {
			continue
		}
		log.Printf("signal: %s %s at %.2f (%s)", sig.Direction, sig.Symbol, sig.Price, sig.Reason)
		if _, err := s.ExecuteSignal(ctx, sig); err != nil {
			log.Printf("execution error: %v", err)
		}
	}
	s.Stop()

	perf := s.Performance()
	log.Printf("trades=%d wins=%d losses=%d pnl=%.2f", perf.Trades, perf.Wins, perf.Losses, perf.TotalPnL)
	log.Println("=== done ===")
}

// syntheticSeries builds a price path that trends down, reverses up,
// then rolls over again so the crossover fires in both directions.
func syntheticSeries(n int) []binance.Kline {
	klines := make([]binance.Kline, n)
	price := 100.0
	openTime := time.Now().Add(-time.Duration(n) * time.Minute)
	for i := range klines {
		switch {
		case i < n/3:
			price -= 0.4
		case i < 2*n/3:
			price += 0.6
		default:
			price -= 0.5
		}
		klines[i] = binance.Kline{
			OpenTime: openTime.Add(time.Duration(i) * time.Minute).UnixMilli(),
			Open:     price - 0.1,
			High:     price + 0.2,
			Low:      price - 0.3,
			Close:    price,
			Volume:   1000,
		}
	}
	return klines
}
