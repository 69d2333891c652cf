package marketdata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cryptobot/pkg/exchanges/binance"
	"cryptobot/pkg/logger"
)

type fakeClient struct {
	mu         sync.Mutex
	prices     map[string]float64
	priceErrs  map[string]error
	priceCalls map[string]int
	failFirst  int // first N GetPrice calls per symbol fail
	klines     []binance.Kline
	klinesErr  error
	tickers    map[string]binance.Ticker
	tickerErrs map[string]error
}

func (f *fakeClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceCalls == nil {
		f.priceCalls = make(map[string]int)
	}
	f.priceCalls[symbol]++
	if f.priceCalls[symbol] <= f.failFirst {
		return 0, errors.New("transient failure")
	}
	if err, ok := f.priceErrs[symbol]; ok {
		return 0, err
	}
	return f.prices[symbol], nil
}

func (f *fakeClient) GetTicker(ctx context.Context, symbol string) (binance.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.tickerErrs[symbol]; ok {
		return binance.Ticker{}, err
	}
	return f.tickers[symbol], nil
}

func (f *fakeClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error) {
	if f.klinesErr != nil {
		return nil, f.klinesErr
	}
	if limit < len(f.klines) {
		return f.klines[len(f.klines)-limit:], nil
	}
	return f.klines, nil
}

func newTestService(f *fakeClient) *Service {
	s := NewService(f, logger.Discard())
	s.sleep = func(context.Context, time.Duration) bool { return true }
	return s
}

func klinesFromCloses(closes []float64) []binance.Kline {
	out := make([]binance.Kline, len(closes))
	for i, c := range closes {
		out[i] = binance.Kline{Symbol: "BTCUSDT", Close: c, High: c + 1, Low: c - 1}
	}
	return out
}

func TestGetCurrentPriceCaches(t *testing.T) {
	f := &fakeClient{prices: map[string]float64{"BTCUSDT": 65000}}
	s := newTestService(f)

	for i := 0; i < 3; i++ {
		price, err := s.GetCurrentPrice(context.Background(), "BTCUSDT")
		if err != nil {
			t.Fatalf("GetCurrentPrice: %v", err)
		}
		if price != 65000 {
			t.Fatalf("price = %v, want 65000", price)
		}
	}
	if n := f.priceCalls["BTCUSDT"]; n != 1 {
		t.Errorf("exchange hit %d times, want 1 (cache should serve repeats)", n)
	}
}

func TestGetCurrentPriceRetries(t *testing.T) {
	f := &fakeClient{prices: map[string]float64{"BTCUSDT": 65000}, failFirst: 2}
	s := newTestService(f)

	price, err := s.GetCurrentPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetCurrentPrice after retries: %v", err)
	}
	if price != 65000 {
		t.Errorf("price = %v, want 65000", price)
	}
	if n := f.priceCalls["BTCUSDT"]; n != 3 {
		t.Errorf("exchange hit %d times, want 3", n)
	}
}

func TestGetCurrentPriceExhaustsRetries(t *testing.T) {
	f := &fakeClient{priceErrs: map[string]error{"BTCUSDT": errors.New("down")}}
	s := newTestService(f)

	if _, err := s.GetCurrentPrice(context.Background(), "BTCUSDT"); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if n := f.priceCalls["BTCUSDT"]; n != fetchAttempts {
		t.Errorf("exchange hit %d times, want %d", n, fetchAttempts)
	}
}

func TestGetCurrentPriceStopsBackoffOnCancel(t *testing.T) {
	f := &fakeClient{priceErrs: map[string]error{"BTCUSDT": errors.New("down")}}
	s := NewService(f, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.GetCurrentPrice(ctx, "BTCUSDT")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := f.priceCalls["BTCUSDT"]; n != 1 {
		t.Errorf("exchange hit %d times after cancellation, want 1", n)
	}
}

func TestCalculateSMA(t *testing.T) {
	f := &fakeClient{klines: klinesFromCloses([]float64{100, 101, 102, 103, 104})}
	s := newTestService(f)

	got, err := s.CalculateSMA(context.Background(), "BTCUSDT", "1m", 3)
	if err != nil {
		t.Fatalf("CalculateSMA: %v", err)
	}
	if got != 103 {
		t.Errorf("SMA(3) = %v, want 103", got)
	}

	got, err = s.CalculateSMA(context.Background(), "BTCUSDT", "1m", 5)
	if err != nil {
		t.Fatalf("CalculateSMA: %v", err)
	}
	if got != 102 {
		t.Errorf("SMA(5) = %v, want 102", got)
	}
}

func TestGetMultiplePricesPartialFailure(t *testing.T) {
	f := &fakeClient{
		prices:    map[string]float64{"BTCUSDT": 65000, "ETHUSDT": 3000},
		priceErrs: map[string]error{"BADUSDT": errors.New("invalid symbol")},
	}
	s := newTestService(f)

	prices, errs := s.GetMultiplePrices(context.Background(), []string{"BTCUSDT", "ETHUSDT", "BADUSDT"})
	if len(prices) != 2 {
		t.Errorf("prices = %v, want 2 successes", prices)
	}
	if prices["BTCUSDT"] != 65000 || prices["ETHUSDT"] != 3000 {
		t.Errorf("unexpected prices: %v", prices)
	}
	if len(errs) != 1 || errs["BADUSDT"] == nil {
		t.Errorf("errs = %v, want failure only for BADUSDT", errs)
	}
}

func TestGetMarketSummary(t *testing.T) {
	f := &fakeClient{
		tickers: map[string]binance.Ticker{
			"BTCUSDT": {Symbol: "BTCUSDT", Price: 65000, ChangePercent: 2.5, Volume: 1200},
		},
		tickerErrs: map[string]error{"ETHUSDT": errors.New("timeout")},
	}
	s := newTestService(f)

	summaries, errs := s.GetMarketSummary(context.Background(), []string{"BTCUSDT", "ETHUSDT"})
	if len(summaries) != 1 || summaries["BTCUSDT"].Price != 65000 {
		t.Errorf("summaries = %v", summaries)
	}
	if len(errs) != 1 {
		t.Errorf("errs = %v, want one failure", errs)
	}
}

func TestDetectPriceBreakout(t *testing.T) {
	klines := []binance.Kline{
		{High: 105, Low: 95, Close: 100},
		{High: 106, Low: 96, Close: 101},
		{High: 104, Low: 97, Close: 102},
		{High: 103, Low: 98, Close: 103}, // still forming, excluded from range
	}

	// resistance 106, support 95; at the default 2% threshold the
	// trigger levels are 108.12 and 93.1
	tests := []struct {
		name  string
		price float64
		want  BreakoutDirection
	}{
		{"clears resistance by more than threshold", 109, BreakoutUp},
		{"pokes above resistance within threshold", 106.5, BreakoutNone},
		{"clears support by more than threshold", 93, BreakoutDown},
		{"dips below support within threshold", 94, BreakoutNone},
		{"inside range", 100, BreakoutNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeClient{klines: klines, prices: map[string]float64{"BTCUSDT": tt.price}}
			s := newTestService(f)

			b, err := s.DetectPriceBreakout(context.Background(), "BTCUSDT", "1h", 3, 0)
			if err != nil {
				t.Fatalf("DetectPriceBreakout: %v", err)
			}
			if b.Direction != tt.want {
				t.Errorf("direction = %q, want %q", b.Direction, tt.want)
			}
			if b.Resistance != 106 || b.Support != 95 {
				t.Errorf("range = [%v, %v], want [95, 106]", b.Support, b.Resistance)
			}
		})
	}
}
