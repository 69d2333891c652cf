package strategy

import (
	"context"
	"fmt"

	"cryptobot/internal/indicators"
	"cryptobot/pkg/config"
	"cryptobot/pkg/logger"
)

// MACrossStrategy trades moving-average crossovers over a rolling close
// window: a buy when the short MA crosses above the long MA, a sell
// when it crosses below. Only the crossing tick fires; staying crossed
// does not.
type MACrossStrategy struct {
	BaseStrategy

	prevShortMA float64
	prevLongMA  float64
}

// NewMACross builds the crossover strategy for one symbol.
func NewMACross(symbol string, market MarketData, trader Trader, cfg config.StrategyConfig, tradingCfg config.TradingConfig, log *logger.Logger) *MACrossStrategy {
	name := fmt.Sprintf("ma_cross_%d_%d", cfg.ShortPeriod, cfg.LongPeriod)
	s := &MACrossStrategy{
		BaseStrategy: newBase(name, symbol, market, trader, cfg, tradingCfg, log),
	}
	s.maxWindow = 2 * cfg.LongPeriod
	return s
}

// Start seeds the rolling window from historical candles. When history
// is unavailable it falls back to repeating the current price, which
// yields flat averages and therefore no immediate crossover.
func (s *MACrossStrategy) Start(ctx context.Context) error {
	klines, err := s.market.GetKlines(ctx, s.symbol, s.cfg.KlineInterval, s.maxWindow)
	if err != nil || len(klines) == 0 {
		price, perr := s.market.GetCurrentPrice(ctx, s.symbol)
		if perr != nil {
			return fmt.Errorf("seed window: %w", perr)
		}
		s.log.WithError(err).Warnf("no kline history, seeding window from current price %.4f", price)
		for i := 0; i < s.cfg.LongPeriod; i++ {
			s.appendPrice(price)
		}
		return nil
	}
	for _, k := range klines {
		s.appendPrice(k.Close)
	}
	s.log.Infof("seeded window with %d candles", len(klines))
	return nil
}

// GenerateSignal recomputes both moving averages over the window. The
// first evaluation only seeds the previous-MA pair. A crossover within
// the debounce window, in the same direction as the last executed
// signal, or rejected by a confirmation filter produces no signal.
func (s *MACrossStrategy) GenerateSignal(ctx context.Context) (*Signal, error) {
	window := s.snapshotWindow()
	if len(window) < s.cfg.LongPeriod {
		s.log.Debugf("window has %d closes, need %d", len(window), s.cfg.LongPeriod)
		return nil, nil
	}

	shortMA, err := indicators.SMA(window, s.cfg.ShortPeriod)
	if err != nil {
		return nil, err
	}
	longMA, err := indicators.SMA(window, s.cfg.LongPeriod)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	prevShort, prevLong := s.prevShortMA, s.prevLongMA
	s.prevShortMA, s.prevLongMA = shortMA, longMA
	lastAt := s.lastSignalAt
	lastDir := s.lastDirection
	s.mu.Unlock()

	if prevShort == 0 {
		// first evaluation just seeds the previous pair
		return nil, nil
	}

	var direction Direction
	switch {
	case prevShort <= prevLong && shortMA > longMA:
		direction = DirectionBuy
	case prevShort >= prevLong && shortMA < longMA:
		direction = DirectionSell
	default:
		return nil, nil
	}

	if !lastAt.IsZero() && s.now().Sub(lastAt) < s.cfg.MinCrossoverInterval {
		s.log.Debugf("%s crossover inside debounce window, skipping", direction)
		return nil, nil
	}
	if direction == lastDir {
		s.log.Debugf("repeat %s crossover suppressed", direction)
		return nil, nil
	}
	if !s.confirm(ctx, direction, window) {
		s.log.Infof("%s crossover rejected by confirmation filters", direction)
		return nil, nil
	}

	price := window[len(window)-1]
	return &Signal{
		Strategy:  s.name,
		Symbol:    s.symbol,
		Direction: direction,
		Price:     price,
		Reason: fmt.Sprintf("MA%d (%.4f) crossed %s MA%d (%.4f)",
			s.cfg.ShortPeriod, shortMA, crossWord(direction), s.cfg.LongPeriod, longMA),
		Time: s.now(),
	}, nil
}

// confirm runs the optional filters. A filter that cannot be computed
// passes rather than blocking the signal.
func (s *MACrossStrategy) confirm(ctx context.Context, direction Direction, window []float64) bool {
	if s.cfg.RequireVolume && !s.volumeConfirms(ctx) {
		return false
	}
	if s.cfg.RequireTrend && !s.trendConfirms(ctx, direction, window[len(window)-1]) {
		return false
	}
	if s.cfg.RequireMomentum && !momentumConfirms(direction, window) {
		return false
	}
	return true
}

// volumeConfirms wants the crossover bar's volume at or above the
// window average.
func (s *MACrossStrategy) volumeConfirms(ctx context.Context) bool {
	klines, err := s.market.GetKlines(ctx, s.symbol, s.cfg.KlineInterval, s.cfg.LongPeriod)
	if err != nil || len(klines) < 2 {
		return true
	}
	avg := 0.0
	for _, k := range klines[:len(klines)-1] {
		avg += k.Volume
	}
	avg /= float64(len(klines) - 1)
	return klines[len(klines)-1].Volume >= avg
}

// trendConfirms wants the price on the right side of the longer trend MA.
func (s *MACrossStrategy) trendConfirms(ctx context.Context, direction Direction, price float64) bool {
	klines, err := s.market.GetKlines(ctx, s.symbol, s.cfg.KlineInterval, s.cfg.TrendPeriod)
	if err != nil {
		return true
	}
	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}
	trendMA, err := indicators.SMA(closes, s.cfg.TrendPeriod)
	if err != nil {
		return true
	}
	if direction == DirectionBuy {
		return price > trendMA
	}
	return price < trendMA
}

// momentumConfirms wants the net move over the last three ticks to
// agree with the signal direction.
func momentumConfirms(direction Direction, window []float64) bool {
	n := len(window)
	if n < 3 {
		return true
	}
	momentum := window[n-1] - window[n-3]
	if direction == DirectionBuy {
		return momentum > 0
	}
	return momentum < 0
}

func crossWord(d Direction) string {
	if d == DirectionSell {
		return "below"
	}
	return "above"
}
