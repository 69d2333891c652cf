package trading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cryptobot/internal/events"
	"cryptobot/pkg/config"
	"cryptobot/pkg/exchanges/binance"
	"cryptobot/pkg/logger"
)

// quoteAssets are the quote currencies recognized when splitting a
// symbol into base and quote, longest first.
var quoteAssets = []string{"USDT", "USDC", "FDUSD", "BUSD", "TUSD", "BTC", "ETH", "BNB"}

// ErrInsufficientBalance is returned when the free balance cannot cover
// an order.
var ErrInsufficientBalance = errors.New("insufficient balance")

// placeAttempts bounds resubmissions of one order request on transient
// gateway failures.
const placeAttempts = 3

// ExchangeClient is the REST surface the trading service needs.
type ExchangeClient interface {
	PlaceOrder(ctx context.Context, req binance.OrderRequest) (binance.Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) (binance.Order, error)
	CancelAllOrders(ctx context.Context, symbol string) ([]binance.Order, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]binance.Order, error)
	GetOrderHistory(ctx context.Context, symbol string, limit int) ([]binance.Order, error)
	GetBalance(ctx context.Context, asset string) (binance.Balance, bool, error)
	GetBalances(ctx context.Context) ([]binance.Balance, error)
}

// PriceSource supplies current prices for sizing and valuation.
type PriceSource interface {
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// Service executes orders with balance validation, tracks active orders
// and keeps a local average-entry position per symbol. All order
// placement is serialized through one mutex.
type Service struct {
	client ExchangeClient
	prices PriceSource
	bus    *events.Bus
	cfg    config.TradingConfig
	log    *logger.Logger

	orderMu sync.Mutex // serializes every order placement

	mu           sync.RWMutex
	activeOrders map[int64]binance.Order
	positions    map[string]*Position

	// sleep is swapped out in tests to skip DCA pacing.
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewService builds a trading service.
func NewService(client ExchangeClient, prices PriceSource, bus *events.Bus, cfg config.TradingConfig, log *logger.Logger) *Service {
	return &Service{
		client:       client,
		prices:       prices,
		bus:          bus,
		cfg:          cfg,
		log:          log.WithComponent("trading"),
		activeOrders: make(map[int64]binance.Order),
		positions:    make(map[string]*Position),
		sleep:        sleepCtx,
	}
}

// SplitSymbol separates a trading pair into base and quote assets.
func SplitSymbol(symbol string) (base, quote string, err error) {
	for _, q := range quoteAssets {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return strings.TrimSuffix(symbol, q), q, nil
		}
	}
	return "", "", fmt.Errorf("unrecognized quote asset in symbol %s", symbol)
}

// validateBalance checks the free balance before an order goes out. A
// balance exactly equal to the requirement passes.
func (s *Service) validateBalance(ctx context.Context, symbol string, side binance.Side, quantity, price float64) error {
	base, quote, err := SplitSymbol(symbol)
	if err != nil {
		return err
	}

	var asset string
	var required float64
	if side == binance.SideBuy {
		asset = quote
		required = quantity * price
	} else {
		asset = base
		required = quantity
	}

	balance, _, err := s.client.GetBalance(ctx, asset)
	if err != nil {
		return fmt.Errorf("fetch %s balance: %w", asset, err)
	}
	if balance.Free < required {
		return fmt.Errorf("%w: need %.8f %s, have %.8f", ErrInsufficientBalance, required, asset, balance.Free)
	}
	return nil
}

// submitOrder sends a request through the exchange client, retrying
// transport drops and exhausted rate limits on top of the client's own
// retries. The client order ID stays fixed across attempts, so a
// resubmission after a lost response cannot double-fill. Exchange
// rejections are returned as-is.
func (s *Service) submitOrder(ctx context.Context, req binance.OrderRequest) (binance.Order, error) {
	var lastErr error
	for attempt := 0; attempt < placeAttempts; attempt++ {
		if attempt > 0 {
			if !s.sleep(ctx, time.Duration(1<<(attempt-1))*time.Second) {
				return binance.Order{}, ctx.Err()
			}
			s.log.WithSymbol(req.Symbol).Warnf("resubmitting order (attempt %d/%d): %v",
				attempt+1, placeAttempts, lastErr)
		}
		order, err := s.client.PlaceOrder(ctx, req)
		if err == nil {
			return order, nil
		}
		lastErr = err
		if !transientOrderErr(err) {
			return binance.Order{}, err
		}
	}
	return binance.Order{}, lastErr
}

// transientOrderErr reports whether a placement failure is worth a
// resubmission. Business rejections never are.
func transientOrderErr(err error) bool {
	var connErr *binance.ConnectionError
	return errors.As(err, &connErr) || errors.Is(err, binance.ErrRateLimited)
}

// PlaceMarketOrder validates balance and submits a market order sized in
// base currency.
func (s *Service) PlaceMarketOrder(ctx context.Context, symbol string, side binance.Side, quantity float64) (binance.Order, error) {
	s.orderMu.Lock()
	defer s.orderMu.Unlock()
	return s.placeMarketOrder(ctx, symbol, side, quantity)
}

// placeMarketOrder is the lock-free core, for callers already holding
// the order mutex.
func (s *Service) placeMarketOrder(ctx context.Context, symbol string, side binance.Side, quantity float64) (binance.Order, error) {
	price, err := s.prices.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return binance.Order{}, &OrderError{Op: "market order", Symbol: symbol, Err: err}
	}
	if err := s.validateBalance(ctx, symbol, side, quantity, price); err != nil {
		return binance.Order{}, &OrderError{Op: "market order", Symbol: symbol, Err: err}
	}

	order, err := s.submitOrder(ctx, binance.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Type:          binance.OrderTypeMarket,
		Quantity:      quantity,
		ClientOrderID: newClientOrderID(),
	})
	if err != nil {
		return binance.Order{}, &OrderError{Op: "market order", Symbol: symbol, Err: err}
	}
	s.recordOrder(order)
	return order, nil
}

// PlaceMarketBuyQuote submits a market buy sized in quote currency.
func (s *Service) PlaceMarketBuyQuote(ctx context.Context, symbol string, quoteAmount float64) (binance.Order, error) {
	s.orderMu.Lock()
	defer s.orderMu.Unlock()
	return s.placeMarketBuyQuote(ctx, symbol, quoteAmount)
}

func (s *Service) placeMarketBuyQuote(ctx context.Context, symbol string, quoteAmount float64) (binance.Order, error) {
	_, quote, err := SplitSymbol(symbol)
	if err != nil {
		return binance.Order{}, &OrderError{Op: "market buy", Symbol: symbol, Err: err}
	}
	balance, _, err := s.client.GetBalance(ctx, quote)
	if err != nil {
		return binance.Order{}, &OrderError{Op: "market buy", Symbol: symbol, Err: err}
	}
	if balance.Free < quoteAmount {
		return binance.Order{}, &OrderError{Op: "market buy", Symbol: symbol,
			Err: fmt.Errorf("%w: need %.8f %s, have %.8f", ErrInsufficientBalance, quoteAmount, quote, balance.Free)}
	}

	order, err := s.submitOrder(ctx, binance.OrderRequest{
		Symbol:        symbol,
		Side:          binance.SideBuy,
		Type:          binance.OrderTypeMarket,
		QuoteQuantity: quoteAmount,
		ClientOrderID: newClientOrderID(),
	})
	if err != nil {
		return binance.Order{}, &OrderError{Op: "market buy", Symbol: symbol, Err: err}
	}
	s.recordOrder(order)
	return order, nil
}

// PlaceLimitOrder validates balance and submits a GTC limit order.
func (s *Service) PlaceLimitOrder(ctx context.Context, symbol string, side binance.Side, quantity, price float64) (binance.Order, error) {
	s.orderMu.Lock()
	defer s.orderMu.Unlock()

	if err := s.validateBalance(ctx, symbol, side, quantity, price); err != nil {
		return binance.Order{}, &OrderError{Op: "limit order", Symbol: symbol, Err: err}
	}
	order, err := s.submitOrder(ctx, binance.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Type:          binance.OrderTypeLimit,
		Quantity:      quantity,
		Price:         price,
		ClientOrderID: newClientOrderID(),
	})
	if err != nil {
		return binance.Order{}, &OrderError{Op: "limit order", Symbol: symbol, Err: err}
	}
	s.recordOrder(order)
	return order, nil
}

// PlaceStopLossOrder submits a stop-loss-limit order with the limit set
// at the stop price.
func (s *Service) PlaceStopLossOrder(ctx context.Context, symbol string, side binance.Side, quantity, stopPrice float64) (binance.Order, error) {
	s.orderMu.Lock()
	defer s.orderMu.Unlock()
	return s.placeStopLoss(ctx, symbol, side, quantity, stopPrice)
}

func (s *Service) placeStopLoss(ctx context.Context, symbol string, side binance.Side, quantity, stopPrice float64) (binance.Order, error) {
	order, err := s.submitOrder(ctx, binance.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Type:          binance.OrderTypeStopLossLimit,
		Quantity:      quantity,
		Price:         stopPrice,
		StopPrice:     stopPrice,
		ClientOrderID: newClientOrderID(),
	})
	if err != nil {
		return binance.Order{}, &OrderError{Op: "stop loss", Symbol: symbol, Err: err}
	}
	s.recordOrder(order)
	return order, nil
}

// CancelOrder cancels one order and drops it from the active set.
func (s *Service) CancelOrder(ctx context.Context, symbol string, orderID int64) (binance.Order, error) {
	order, err := s.client.CancelOrder(ctx, symbol, orderID)
	if err != nil {
		return binance.Order{}, &OrderError{Op: "cancel", Symbol: symbol, Err: err}
	}
	s.mu.Lock()
	delete(s.activeOrders, orderID)
	s.mu.Unlock()
	s.publish(EventOrderCanceled, order)
	s.log.WithSymbol(symbol).WithOrderID(orderID).Info("order canceled")
	return order, nil
}

// CancelAllOrders cancels every open order for a symbol.
func (s *Service) CancelAllOrders(ctx context.Context, symbol string) ([]binance.Order, error) {
	orders, err := s.client.CancelAllOrders(ctx, symbol)
	if err != nil {
		return nil, &OrderError{Op: "cancel all", Symbol: symbol, Err: err}
	}
	s.mu.Lock()
	for _, o := range orders {
		delete(s.activeOrders, o.OrderID)
	}
	s.mu.Unlock()
	for _, o := range orders {
		s.publish(EventOrderCanceled, o)
	}
	s.log.WithSymbol(symbol).Infof("canceled %d open orders", len(orders))
	return orders, nil
}

// ActiveOrders returns a snapshot of orders this service has placed and
// not yet seen canceled or filled away.
func (s *Service) ActiveOrders() []binance.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]binance.Order, 0, len(s.activeOrders))
	for _, o := range s.activeOrders {
		out = append(out, o)
	}
	return out
}

// GetPosition returns the locally tracked position for a symbol.
func (s *Service) GetPosition(symbol string) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// recordOrder tracks the order and folds any fill into the position.
func (s *Service) recordOrder(order binance.Order) {
	s.mu.Lock()
	if !order.Status.IsTerminal() {
		s.activeOrders[order.OrderID] = order
	}
	if order.ExecutedQuantity > 0 {
		s.applyFillLocked(order)
	}
	s.mu.Unlock()

	s.publish(EventOrderPlaced, order)
	s.log.WithSymbol(order.Symbol).WithOrderID(order.OrderID).
		Infof("%s %s order placed, status %s", order.Side, order.Type, order.Status)
}

// applyFillLocked updates the average-entry position. Callers hold s.mu.
func (s *Service) applyFillLocked(order binance.Order) {
	fillPrice := order.Price
	if order.ExecutedQuantity > 0 && order.QuoteQuantity > 0 {
		fillPrice = order.QuoteQuantity / order.ExecutedQuantity
	}

	pos, ok := s.positions[order.Symbol]
	if !ok {
		pos = &Position{Symbol: order.Symbol}
		s.positions[order.Symbol] = pos
	}

	if order.Side == binance.SideBuy {
		newQty := pos.Quantity + order.ExecutedQuantity
		if newQty > 0 {
			pos.EntryPrice = (pos.EntryPrice*pos.Quantity + fillPrice*order.ExecutedQuantity) / newQty
		}
		pos.Quantity = newQty
	} else {
		pos.Quantity -= order.ExecutedQuantity
		if pos.Quantity <= 1e-12 {
			delete(s.positions, order.Symbol)
			pos = &Position{Symbol: order.Symbol}
		}
	}
	pos.UpdatedAt = time.Now()
	s.publish(EventPositionUpdated, *pos)
}

func (s *Service) publish(event string, payload any) {
	if s.bus != nil {
		s.bus.Publish(event, payload)
	}
}

func newClientOrderID() string {
	return "bot-" + uuid.NewString()[:18]
}

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
