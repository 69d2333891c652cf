package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cryptobot/internal/events"
	"cryptobot/internal/indicators"
	"cryptobot/internal/stream"
	"cryptobot/pkg/cache"
	"cryptobot/pkg/exchanges/binance"
	"cryptobot/pkg/logger"
)

const (
	priceTTL      = 5 * time.Second
	defaultLimit  = 100
	fetchAttempts = 3
)

// ExchangeClient is the REST surface the market data service needs.
type ExchangeClient interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetTicker(ctx context.Context, symbol string) (binance.Ticker, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error)
}

// Service serves prices, candles and indicator values on top of the
// exchange gateway, with a short-lived price cache in front.
type Service struct {
	client ExchangeClient
	prices *cache.TTLCache
	log    *logger.Logger

	// sleep is swapped out in tests to observe retry pacing.
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewService builds a market data service over the given client.
func NewService(client ExchangeClient, log *logger.Logger) *Service {
	return &Service{
		client: client,
		prices: cache.NewTTL(priceTTL),
		log:    log.WithComponent("marketdata"),
		sleep:  sleepCtx,
	}
}

// sleepCtx waits for the duration unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// GetCurrentPrice returns the latest price for a symbol, served from
// cache when fresh. Fetches retry a few times before giving up.
func (s *Service) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if price, ok := s.prices.Get(symbol); ok {
		return price, nil
	}

	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		price, err := s.client.GetPrice(ctx, symbol)
		if err == nil {
			s.prices.Set(symbol, price)
			return price, nil
		}
		lastErr = err
		s.log.WithError(err).WithSymbol(symbol).Warnf("price fetch failed (attempt %d)", attempt+1)
		if attempt < fetchAttempts-1 {
			if !s.sleep(ctx, time.Duration(1<<uint(attempt))*time.Second) {
				return 0, ctx.Err()
			}
		}
	}
	return 0, fmt.Errorf("get price for %s: %w", symbol, lastErr)
}

// GetTicker returns the 24h rolling ticker for a symbol.
func (s *Service) GetTicker(ctx context.Context, symbol string) (binance.Ticker, error) {
	return s.client.GetTicker(ctx, symbol)
}

// GetKlines fetches candles; limit 0 means the default window.
func (s *Service) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	return s.client.GetKlines(ctx, symbol, interval, limit)
}

// closes fetches the last limit close prices, oldest first.
func (s *Service) closes(ctx context.Context, symbol, interval string, limit int) ([]float64, error) {
	klines, err := s.client.GetKlines(ctx, symbol, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("get klines for %s: %w", symbol, err)
	}
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Close
	}
	return out, nil
}

// CalculateSMA computes the simple moving average of closes.
func (s *Service) CalculateSMA(ctx context.Context, symbol, interval string, period int) (float64, error) {
	closes, err := s.closes(ctx, symbol, interval, period)
	if err != nil {
		return 0, err
	}
	return indicators.SMA(closes, period)
}

// CalculateEMA computes the exponential moving average of closes over a
// window twice the period, so the seed has time to wash out.
func (s *Service) CalculateEMA(ctx context.Context, symbol, interval string, period int) (float64, error) {
	closes, err := s.closes(ctx, symbol, interval, 2*period)
	if err != nil {
		return 0, err
	}
	return indicators.EMA(closes, period)
}

// CalculateRSI computes the Relative Strength Index of closes.
func (s *Service) CalculateRSI(ctx context.Context, symbol, interval string, period int) (float64, error) {
	closes, err := s.closes(ctx, symbol, interval, period+1)
	if err != nil {
		return 0, err
	}
	return indicators.RSI(closes, period)
}

// CalculateBollinger computes Bollinger bands two standard deviations
// around the period SMA.
func (s *Service) CalculateBollinger(ctx context.Context, symbol, interval string, period int) (indicators.Bands, error) {
	closes, err := s.closes(ctx, symbol, interval, period)
	if err != nil {
		return indicators.Bands{}, err
	}
	return indicators.Bollinger(closes, period, 2)
}

// GetMultiplePrices fetches prices for several symbols concurrently.
// Failures are reported per symbol and never hide the successes.
func (s *Service) GetMultiplePrices(ctx context.Context, symbols []string) (map[string]float64, map[string]error) {
	prices := make(map[string]float64, len(symbols))
	errs := make(map[string]error)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			price, err := s.GetCurrentPrice(ctx, sym)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[sym] = err
				return
			}
			prices[sym] = price
		}(symbol)
	}
	wg.Wait()
	return prices, errs
}

// SymbolSummary is one row of a market overview.
type SymbolSummary struct {
	Symbol        string
	Price         float64
	ChangePercent float64
	Volume        float64
}

// GetMarketSummary fetches 24h tickers for several symbols concurrently,
// returning whatever succeeded alongside the per-symbol failures.
func (s *Service) GetMarketSummary(ctx context.Context, symbols []string) (map[string]SymbolSummary, map[string]error) {
	summaries := make(map[string]SymbolSummary, len(symbols))
	errs := make(map[string]error)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			ticker, err := s.client.GetTicker(ctx, sym)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[sym] = err
				return
			}
			summaries[sym] = SymbolSummary{
				Symbol:        ticker.Symbol,
				Price:         ticker.Price,
				ChangePercent: ticker.ChangePercent,
				Volume:        ticker.Volume,
			}
		}(symbol)
	}
	wg.Wait()
	return summaries, errs
}

// BreakoutDirection labels the outcome of a breakout check.
type BreakoutDirection string

// defaultBreakoutThreshold is the fraction by which the price must
// clear the range extreme before a breakout fires.
const defaultBreakoutThreshold = 0.02

const (
	BreakoutNone BreakoutDirection = "none"
	BreakoutUp   BreakoutDirection = "up"
	BreakoutDown BreakoutDirection = "down"
)

// Breakout reports the current price against the recent range.
type Breakout struct {
	Direction  BreakoutDirection
	Price      float64
	Resistance float64
	Support    float64
}

// DetectPriceBreakout compares the current price against the high/low
// range of the last lookback closed candles. A breakout fires only when
// the price clears the extreme by more than the threshold fraction;
// threshold <= 0 defaults to 0.02.
func (s *Service) DetectPriceBreakout(ctx context.Context, symbol, interval string, lookback int, threshold float64) (Breakout, error) {
	if lookback <= 0 {
		lookback = 20
	}
	if threshold <= 0 {
		threshold = defaultBreakoutThreshold
	}
	klines, err := s.client.GetKlines(ctx, symbol, interval, lookback+1)
	if err != nil {
		return Breakout{}, fmt.Errorf("get klines for %s: %w", symbol, err)
	}
	if len(klines) < 2 {
		return Breakout{}, fmt.Errorf("%w: need at least 2 candles, have %d", indicators.ErrInsufficientData, len(klines))
	}

	// range over closed candles only; the last one is still forming
	window := klines[:len(klines)-1]
	resistance := window[0].High
	support := window[0].Low
	for _, k := range window[1:] {
		if k.High > resistance {
			resistance = k.High
		}
		if k.Low < support {
			support = k.Low
		}
	}

	price, err := s.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return Breakout{}, err
	}

	b := Breakout{Direction: BreakoutNone, Price: price, Resistance: resistance, Support: support}
	switch {
	case price > resistance*(1+threshold):
		b.Direction = BreakoutUp
	case price < support*(1-threshold):
		b.Direction = BreakoutDown
	}
	return b, nil
}

// MonitorPrices subscribes ticker streams for the symbols and keeps the
// price cache warm from them. onUpdate, when non-nil, is invoked for
// every tick. Returns the unsubscribe functions for the bus handlers.
func (s *Service) MonitorPrices(mgr *stream.Manager, bus *events.Bus, symbols []string, onUpdate func(symbol string, price float64)) ([]func(), error) {
	unsubs := make([]func(), 0, len(symbols))
	for _, symbol := range symbols {
		event, err := mgr.SubscribeTicker(symbol)
		if err != nil {
			return unsubs, err
		}
		unsub := bus.Subscribe(event, func(payload any) {
			tick, ok := payload.(stream.TickerEvent)
			if !ok {
				return
			}
			s.prices.Set(tick.Symbol, tick.Price)
			if onUpdate != nil {
				onUpdate(tick.Symbol, tick.Price)
			}
		})
		unsubs = append(unsubs, unsub)
	}
	return unsubs, nil
}
