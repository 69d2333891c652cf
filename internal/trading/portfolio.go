package trading

import (
	"context"
	"fmt"
)

// stablecoins are valued at face without a price lookup.
var stablecoins = map[string]bool{"USDT": true, "USDC": true, "FDUSD": true, "BUSD": true, "TUSD": true}

// PortfolioValue is the account's total worth in quote currency.
type PortfolioValue struct {
	Total  float64
	Assets map[string]float64 // per-asset value in quote currency
}

// GetPortfolioValue prices every non-zero balance in USDT. Assets with
// no USDT pair are skipped with a warning rather than failing the whole
// valuation.
func (s *Service) GetPortfolioValue(ctx context.Context) (PortfolioValue, error) {
	balances, err := s.client.GetBalances(ctx)
	if err != nil {
		return PortfolioValue{}, fmt.Errorf("fetch balances: %w", err)
	}

	pv := PortfolioValue{Assets: make(map[string]float64, len(balances))}
	for _, b := range balances {
		total := b.Total()
		if total <= 0 {
			continue
		}
		if stablecoins[b.Asset] {
			pv.Assets[b.Asset] = total
			pv.Total += total
			continue
		}
		price, err := s.prices.GetCurrentPrice(ctx, b.Asset+"USDT")
		if err != nil {
			s.log.WithError(err).Warnf("skipping %s in portfolio valuation", b.Asset)
			continue
		}
		value := total * price
		pv.Assets[b.Asset] = value
		pv.Total += value
	}
	return pv, nil
}

// GetRiskInfo reports the tracked position for a symbol against the
// configured position limit.
func (s *Service) GetRiskInfo(ctx context.Context, symbol string) (RiskInfo, error) {
	pos, ok := s.GetPosition(symbol)
	if !ok {
		return RiskInfo{}, fmt.Errorf("no tracked position for %s", symbol)
	}
	price, err := s.prices.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return RiskInfo{}, err
	}

	info := RiskInfo{
		Position:      pos,
		CurrentPrice:  price,
		Value:         pos.Value(price),
		UnrealizedPnL: pos.UnrealizedPnL(price),
		MaxValue:      s.cfg.MaxPositionSize,
	}
	if s.cfg.MaxPositionSize > 0 {
		info.Utilization = info.Value / s.cfg.MaxPositionSize
	}
	return info, nil
}

// WithinPositionLimit reports whether adding quoteAmount to the symbol's
// position would stay inside the configured ceiling.
func (s *Service) WithinPositionLimit(ctx context.Context, symbol string, quoteAmount float64) (bool, error) {
	pos, ok := s.GetPosition(symbol)
	if !ok {
		return quoteAmount <= s.cfg.MaxPositionSize, nil
	}
	price, err := s.prices.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return false, err
	}
	return pos.Value(price)+quoteAmount <= s.cfg.MaxPositionSize, nil
}
