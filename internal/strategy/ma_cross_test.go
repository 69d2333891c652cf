package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"cryptobot/internal/trading"
	"cryptobot/pkg/config"
	"cryptobot/pkg/exchanges/binance"
	"cryptobot/pkg/logger"
)

type fakeMarket struct {
	klineBatches [][]binance.Kline
	call         int
	klinesErr    error
	price        float64
	priceErr     error
}

func (m *fakeMarket) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return m.price, m.priceErr
}

func (m *fakeMarket) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error) {
	if m.klinesErr != nil {
		return nil, m.klinesErr
	}
	if len(m.klineBatches) == 0 {
		return nil, nil
	}
	if m.call >= len(m.klineBatches) {
		return m.klineBatches[len(m.klineBatches)-1], nil
	}
	batch := m.klineBatches[m.call]
	m.call++
	return batch, nil
}

type fakeTrader struct {
	calls []binance.Side
	err   error
}

func (t *fakeTrader) ExecuteStrategyOrder(ctx context.Context, symbol string, side binance.Side, quantity float64) (trading.BracketResult, error) {
	t.calls = append(t.calls, side)
	return trading.BracketResult{}, t.err
}

func candles(closes ...float64) []binance.Kline {
	out := make([]binance.Kline, len(closes))
	for i, c := range closes {
		out[i] = binance.Kline{Close: c, Volume: 100}
	}
	return out
}

func strategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
		ShortPeriod:          3,
		LongPeriod:           5,
		KlineInterval:        "1m",
		LoopInterval:         time.Second,
		MinCrossoverInterval: 5 * time.Minute,
		TrendPeriod:          50,
	}
}

func newMACrossForTest(market *fakeMarket, trader *fakeTrader, cfg config.StrategyConfig) *MACrossStrategy {
	return NewMACross("BTCUSDT", market, trader, cfg, config.TradingConfig{RiskAmount: 100}, logger.Discard())
}

// falling seeds SMA3=101 below SMA5=102.
var falling = candles(104, 103, 102, 101, 100)

func TestStartSeedsWindowFromHistory(t *testing.T) {
	m := &fakeMarket{klineBatches: [][]binance.Kline{falling}}
	s := newMACrossForTest(m, &fakeTrader{}, strategyConfig())
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.snapshotWindow(); len(got) != 5 || got[4] != 100 {
		t.Fatalf("window = %v, want the 5 seeded closes", got)
	}

	sig, err := s.GenerateSignal(ctx)
	if err != nil {
		t.Fatalf("GenerateSignal: %v", err)
	}
	if sig != nil {
		t.Fatalf("first evaluation produced %+v, want nil (seeding only)", sig)
	}
}

func TestStartFallsBackToCurrentPrice(t *testing.T) {
	m := &fakeMarket{klinesErr: errors.New("history unavailable"), price: 100}
	s := newMACrossForTest(m, &fakeTrader{}, strategyConfig())
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	window := s.snapshotWindow()
	if len(window) != 5 {
		t.Fatalf("window length = %d, want long period 5", len(window))
	}
	for _, p := range window {
		if p != 100 {
			t.Fatalf("window = %v, want repeated current price", window)
		}
	}

	// flat averages: seeding evaluation then no crossover
	s.GenerateSignal(ctx)
	if sig, _ := s.GenerateSignal(ctx); sig != nil {
		t.Fatalf("flat fallback window fired %+v", sig)
	}
}

func TestStartFailsWithoutHistoryOrPrice(t *testing.T) {
	m := &fakeMarket{klinesErr: errors.New("down"), priceErr: errors.New("down too")}
	s := newMACrossForTest(m, &fakeTrader{}, strategyConfig())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected seed error")
	}
}

func TestCrossoverEdgeFiresOnce(t *testing.T) {
	m := &fakeMarket{klineBatches: [][]binance.Kline{falling}}
	s := newMACrossForTest(m, &fakeTrader{}, strategyConfig())
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sig, _ := s.GenerateSignal(ctx); sig != nil {
		t.Fatalf("seed evaluation fired %+v", sig)
	}

	// tick flips SMA3 above SMA5
	s.OnPriceUpdate(110)
	sig, err := s.GenerateSignal(ctx)
	if err != nil {
		t.Fatalf("GenerateSignal: %v", err)
	}
	if sig == nil || sig.Direction != DirectionBuy {
		t.Fatalf("signal = %+v, want BUY on upward crossover", sig)
	}
	if sig.Price != 110 {
		t.Errorf("signal price = %v, want last tick 110", sig.Price)
	}

	// averages stay crossed without new ticks: no re-fire
	sig, err = s.GenerateSignal(ctx)
	if err != nil {
		t.Fatalf("GenerateSignal: %v", err)
	}
	if sig != nil {
		t.Fatalf("persistent crossover re-fired: %+v", sig)
	}
}

func TestGenerateSignalDebounce(t *testing.T) {
	m := &fakeMarket{klineBatches: [][]binance.Kline{falling}, price: 110}
	s := newMACrossForTest(m, &fakeTrader{}, strategyConfig())
	ctx := context.Background()

	base := time.Now()
	clock := base
	s.now = func() time.Time { return clock }

	s.Start(ctx)
	s.GenerateSignal(ctx) // seed

	s.OnPriceUpdate(110)
	sig, _ := s.GenerateSignal(ctx)
	if sig == nil || sig.Direction != DirectionBuy {
		t.Fatalf("signal = %+v, want BUY", sig)
	}
	if _, err := s.ExecuteSignal(ctx, sig); err != nil {
		t.Fatalf("ExecuteSignal: %v", err)
	}

	// downward crossover one minute later sits inside the window
	clock = base.Add(time.Minute)
	s.OnPriceUpdate(90)
	sig, err := s.GenerateSignal(ctx)
	if err != nil {
		t.Fatalf("GenerateSignal: %v", err)
	}
	if sig != nil {
		t.Fatalf("crossover within debounce window fired: %+v", sig)
	}

	// cross back up (duplicate BUY, suppressed), then down again after
	// the window has passed
	clock = base.Add(2 * time.Minute)
	s.OnPriceUpdate(130)
	if sig, _ := s.GenerateSignal(ctx); sig != nil {
		t.Fatalf("repeat BUY fired: %+v", sig)
	}

	clock = base.Add(6 * time.Minute)
	s.OnPriceUpdate(60)
	sig, err = s.GenerateSignal(ctx)
	if err != nil {
		t.Fatalf("GenerateSignal: %v", err)
	}
	if sig == nil || sig.Direction != DirectionSell {
		t.Fatalf("signal = %+v, want SELL after debounce window", sig)
	}
}

func TestGenerateSignalSuppressesDuplicateDirection(t *testing.T) {
	m := &fakeMarket{klineBatches: [][]binance.Kline{falling}, price: 110}
	cfg := strategyConfig()
	cfg.MinCrossoverInterval = 0
	s := newMACrossForTest(m, &fakeTrader{}, cfg)
	ctx := context.Background()

	s.Start(ctx)
	s.GenerateSignal(ctx) // seed

	s.OnPriceUpdate(110)
	sig, _ := s.GenerateSignal(ctx)
	if sig == nil || sig.Direction != DirectionBuy {
		t.Fatalf("signal = %+v, want BUY", sig)
	}
	if _, err := s.ExecuteSignal(ctx, sig); err != nil {
		t.Fatalf("ExecuteSignal: %v", err)
	}

	// cross down: SELL generated but never executed
	s.OnPriceUpdate(90)
	if sig, _ := s.GenerateSignal(ctx); sig == nil || sig.Direction != DirectionSell {
		t.Fatalf("signal = %+v, want SELL crossover", sig)
	}

	// cross back up: BUY again, same as the last executed direction
	s.OnPriceUpdate(130)
	sig, err := s.GenerateSignal(ctx)
	if err != nil {
		t.Fatalf("GenerateSignal: %v", err)
	}
	if sig != nil {
		t.Fatalf("repeat BUY crossover fired without an executed SELL between: %+v", sig)
	}
}

func TestTrendFilterFailsOpen(t *testing.T) {
	m := &fakeMarket{klineBatches: [][]binance.Kline{falling}}
	cfg := strategyConfig()
	cfg.RequireTrend = true
	s := newMACrossForTest(m, &fakeTrader{}, cfg)
	ctx := context.Background()

	s.Start(ctx)
	s.GenerateSignal(ctx)

	// trend window fetch fails from here on
	m.klinesErr = errors.New("market data down")
	s.OnPriceUpdate(110)
	sig, err := s.GenerateSignal(ctx)
	if err != nil {
		t.Fatalf("GenerateSignal: %v", err)
	}
	if sig == nil {
		t.Fatal("filter error must pass the signal through, not block it")
	}
}

func TestVolumeFilterBlocksThinCrossover(t *testing.T) {
	thin := candles(100, 101, 102, 103, 104)
	thin[len(thin)-1].Volume = 1 // well below the window average

	m := &fakeMarket{klineBatches: [][]binance.Kline{falling, thin}}
	cfg := strategyConfig()
	cfg.RequireVolume = true
	s := newMACrossForTest(m, &fakeTrader{}, cfg)
	ctx := context.Background()

	s.Start(ctx)          // consumes the first batch
	s.GenerateSignal(ctx) // seed

	s.OnPriceUpdate(110)
	sig, err := s.GenerateSignal(ctx)
	if err != nil {
		t.Fatalf("GenerateSignal: %v", err)
	}
	if sig != nil {
		t.Fatalf("thin-volume crossover passed the filter: %+v", sig)
	}
}

func TestMomentumConfirms(t *testing.T) {
	tests := []struct {
		name      string
		direction Direction
		window    []float64
		want      bool
	}{
		{"rising confirms buy", DirectionBuy, []float64{100, 102, 101, 105}, true},
		{"falling blocks buy", DirectionBuy, []float64{100, 110, 105, 95}, false},
		{"falling confirms sell", DirectionSell, []float64{100, 110, 105, 95}, true},
		{"rising blocks sell", DirectionSell, []float64{100, 102, 101, 105}, false},
		{"flat blocks buy", DirectionBuy, []float64{100, 101, 100}, false},
		{"too short fails open", DirectionBuy, []float64{100, 99}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := momentumConfirms(tt.direction, tt.window); got != tt.want {
				t.Errorf("momentumConfirms(%s, %v) = %v, want %v", tt.direction, tt.window, got, tt.want)
			}
		})
	}
}

func TestWindowStaysBounded(t *testing.T) {
	s := newMACrossForTest(&fakeMarket{}, &fakeTrader{}, strategyConfig())
	for i := 0; i < 50; i++ {
		s.OnPriceUpdate(100 + float64(i))
	}
	window := s.snapshotWindow()
	if len(window) != 10 {
		t.Fatalf("window length = %d, want bound 10 (2x long period)", len(window))
	}
	if window[len(window)-1] != 149 {
		t.Errorf("window keeps oldest entries instead of newest: %v", window)
	}
}

func TestPerformanceCounters(t *testing.T) {
	trader := &fakeTrader{}
	s := newMACrossForTest(&fakeMarket{price: 100}, trader, strategyConfig())
	ctx := context.Background()

	buy := &Signal{Symbol: "BTCUSDT", Direction: DirectionBuy, Price: 100}
	if _, err := s.ExecuteSignal(ctx, buy); err != nil {
		t.Fatalf("buy: %v", err)
	}
	sell := &Signal{Symbol: "BTCUSDT", Direction: DirectionSell, Price: 110}
	if _, err := s.ExecuteSignal(ctx, sell); err != nil {
		t.Fatalf("sell: %v", err)
	}

	perf := s.Performance()
	if perf.Trades != 2 || perf.Wins != 1 || perf.Losses != 0 {
		t.Errorf("perf = %+v, want 2 trades 1 win", perf)
	}
	// 10% gain on a 100 risk stake
	if perf.TotalPnL != 10 {
		t.Errorf("TotalPnL = %v, want 10", perf.TotalPnL)
	}
	if perf.WinRate != 1 {
		t.Errorf("WinRate = %v, want 1", perf.WinRate)
	}
	if len(trader.calls) != 2 {
		t.Errorf("trader called %d times, want 2", len(trader.calls))
	}
}

func TestExecuteSignalFailureLeavesCountersUntouched(t *testing.T) {
	trader := &fakeTrader{err: errors.New("rejected")}
	s := newMACrossForTest(&fakeMarket{price: 100}, trader, strategyConfig())

	sig := &Signal{Symbol: "BTCUSDT", Direction: DirectionBuy, Price: 100}
	if _, err := s.ExecuteSignal(context.Background(), sig); err == nil {
		t.Fatal("expected execution error")
	}
	if perf := s.Performance(); perf.Trades != 0 {
		t.Errorf("failed execution counted as a trade: %+v", perf)
	}
}
