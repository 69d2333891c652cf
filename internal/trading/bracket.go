package trading

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cryptobot/pkg/exchanges/binance"
)

// ExecuteStrategyOrder enters a position with a market order and then
// dispatches the stop-loss and take-profit legs concurrently, waiting
// for both before returning. A failed protective leg is reported but
// never unwinds the entry.
func (s *Service) ExecuteStrategyOrder(ctx context.Context, symbol string, side binance.Side, quantity float64) (BracketResult, error) {
	s.orderMu.Lock()
	defer s.orderMu.Unlock()

	entry, err := s.placeMarketOrder(ctx, symbol, side, quantity)
	if err != nil {
		return BracketResult{}, err
	}
	result := BracketResult{Entry: entry}

	entryPrice := entry.Price
	if entry.ExecutedQuantity > 0 && entry.QuoteQuantity > 0 {
		entryPrice = entry.QuoteQuantity / entry.ExecutedQuantity
	}
	if entryPrice <= 0 {
		if p, perr := s.prices.GetCurrentPrice(ctx, symbol); perr == nil {
			entryPrice = p
		}
	}
	if entryPrice <= 0 {
		return result, &OrderError{Op: "bracket", Symbol: symbol,
			Err: fmt.Errorf("no fill price available for protective orders")}
	}

	filled := entry.ExecutedQuantity
	if filled <= 0 {
		filled = quantity
	}
	exit := side.Opposite()

	var stopPrice, takePrice float64
	if side == binance.SideBuy {
		stopPrice = entryPrice * (1 - s.cfg.StopLossPercentage)
		takePrice = entryPrice * (1 + s.cfg.TakeProfitPercentage)
	} else {
		stopPrice = entryPrice * (1 + s.cfg.StopLossPercentage)
		takePrice = entryPrice * (1 - s.cfg.TakeProfitPercentage)
	}

	// both protective legs go out at once, then we wait for both
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		order, err := s.placeStopLoss(ctx, symbol, exit, filled, stopPrice)
		if err != nil {
			result.StopLossErr = err
			return
		}
		result.StopLoss = &order
	}()
	go func() {
		defer wg.Done()
		order, err := s.submitOrder(ctx, binance.OrderRequest{
			Symbol:        symbol,
			Side:          exit,
			Type:          binance.OrderTypeLimit,
			Quantity:      filled,
			Price:         takePrice,
			ClientOrderID: newClientOrderID(),
		})
		if err != nil {
			result.TakeProfitErr = &OrderError{Op: "take profit", Symbol: symbol, Err: err}
			return
		}
		s.recordOrder(order)
		result.TakeProfit = &order
	}()
	wg.Wait()

	if result.StopLossErr != nil || result.TakeProfitErr != nil {
		s.log.WithSymbol(symbol).Warnf("bracket partially placed: stop=%v take=%v",
			result.StopLossErr, result.TakeProfitErr)
		return result, &OrderError{Op: "bracket", Symbol: symbol,
			Err: fmt.Errorf("protective orders incomplete (stop: %v, take: %v)",
				result.StopLossErr, result.TakeProfitErr)}
	}
	return result, nil
}

// ExecuteDCAOrder buys totalAmount of quote currency in equal parts,
// pausing interval between buys. The first buy goes out immediately. A
// failure halts the run; fills completed before it stay in the result.
func (s *Service) ExecuteDCAOrder(ctx context.Context, symbol string, totalAmount float64, parts int, interval time.Duration) (DCAResult, error) {
	var result DCAResult
	if parts <= 0 {
		return result, &OrderError{Op: "dca", Symbol: symbol, Err: fmt.Errorf("parts must be positive, got %d", parts)}
	}
	perOrder := totalAmount / float64(parts)

	for i := 0; i < parts; i++ {
		if i > 0 {
			if !s.sleep(ctx, interval) {
				return result, &OrderError{Op: "dca", Symbol: symbol, Err: ctx.Err()}
			}
		}

		s.orderMu.Lock()
		order, err := s.placeMarketBuyQuote(ctx, symbol, perOrder)
		s.orderMu.Unlock()
		if err != nil {
			s.log.WithSymbol(symbol).WithError(err).Warnf("dca halted after %d of %d buys", i, parts)
			return result, err
		}
		result.Orders = append(result.Orders, order)
		result.TotalSpent += order.QuoteQuantity
		result.TotalFilled += order.ExecutedQuantity
	}
	return result, nil
}
