package strategy

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"cryptobot/internal/events"
	"cryptobot/internal/trading"
	"cryptobot/pkg/config"
	"cryptobot/pkg/exchanges/binance"
	"cryptobot/pkg/logger"
)

type stubStrategy struct {
	name      string
	signals   chan *Signal
	genErr    error
	generated atomic.Int32
	executed  atomic.Int32
}

func (s *stubStrategy) Name() string     { return s.name }
func (s *stubStrategy) Symbol() string   { return "BTCUSDT" }
func (s *stubStrategy) Interval() string { return "1m" }

func (s *stubStrategy) Start(ctx context.Context) error { return nil }
func (s *stubStrategy) Stop()                           {}
func (s *stubStrategy) OnPriceUpdate(price float64)     {}
func (s *stubStrategy) OnKlineUpdate(k binance.Kline)   {}

func (s *stubStrategy) GenerateSignal(ctx context.Context) (*Signal, error) {
	s.generated.Add(1)
	if s.genErr != nil {
		return nil, s.genErr
	}
	select {
	case sig := <-s.signals:
		return sig, nil
	default:
		return nil, nil
	}
}

func (s *stubStrategy) ExecuteSignal(ctx context.Context, sig *Signal) (trading.BracketResult, error) {
	s.executed.Add(1)
	return trading.BracketResult{}, nil
}

func (s *stubStrategy) Performance() PerformanceSummary {
	return PerformanceSummary{Strategy: s.name, Trades: int(s.executed.Load())}
}

func newTestEngine() *Engine {
	cfg := config.StrategyConfig{LoopInterval: time.Second}
	e := NewEngine(events.NewBus(logger.Discard()), cfg, logger.Discard())
	e.sleep = func(ctx context.Context, d time.Duration) bool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Millisecond):
			return true
		}
	}
	return e
}

func TestEngineExecutesSignals(t *testing.T) {
	e := newTestEngine()
	stub := &stubStrategy{name: "stub", signals: make(chan *Signal, 1)}
	e.Add(stub)

	published := make(chan Signal, 1)
	e.bus.Subscribe(EventSignal, func(payload any) {
		published <- payload.(Signal)
	})

	stub.signals <- &Signal{Strategy: "stub", Symbol: "BTCUSDT", Direction: DirectionBuy, Price: 100}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Bind(ctx)
	if err := e.Start("stub"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case sig := <-published:
		if sig.Direction != DirectionBuy {
			t.Errorf("published %+v, want BUY", sig)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("signal never published on the bus")
	}

	deadline := time.Now().Add(2 * time.Second)
	for stub.executed.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("signal never executed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	e.StopAll()
}

func TestEngineKeepsRunningAfterEvaluationError(t *testing.T) {
	e := newTestEngine()
	stub := &stubStrategy{name: "flaky", signals: make(chan *Signal), genErr: errors.New("kaput")}
	e.Add(stub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Bind(ctx)
	if err := e.Start("flaky"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for stub.generated.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("engine stopped retrying after errors: %d evaluations", stub.generated.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	e.StopAll()
}

func TestEngineStartUnknownAndDuplicate(t *testing.T) {
	e := newTestEngine()
	stub := &stubStrategy{name: "stub", signals: make(chan *Signal)}
	e.Add(stub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.Bind(ctx)
	if err := e.Start("nope"); err == nil {
		t.Error("starting an unknown strategy must fail")
	}
	e.Bind(ctx)
	if err := e.Start("stub"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Start("stub"); err == nil {
		t.Error("starting a running strategy must fail")
	}
	if !e.IsRunning("stub") {
		t.Error("IsRunning = false for a started strategy")
	}

	if err := e.Stop("stub"); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := e.Stop("stub"); err == nil {
		t.Error("stopping a stopped strategy must fail")
	}
	e.StopAll()
}
