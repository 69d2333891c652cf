package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// OrderRequest captures an order intent to be sent to the exchange.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      float64 // base asset; ignored when QuoteQuantity is set
	QuoteQuantity float64 // market orders sized in quote currency
	Price         float64 // required for LIMIT variants
	StopPrice     float64 // required for STOP_LOSS/TAKE_PROFIT variants
	TimeInForce   string  // defaults to GTC for limit orders
	ClientOrderID string
}

// PlaceOrder submits a new order and returns the parsed exchange ack.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))

	if req.QuoteQuantity > 0 {
		params.Set("quoteOrderQty", formatFloat(req.QuoteQuantity))
	} else if req.Quantity > 0 {
		params.Set("quantity", formatFloat(req.Quantity))
	}

	switch req.Type {
	case OrderTypeLimit, OrderTypeStopLossLimit, OrderTypeTakeProfitLimit:
		params.Set("price", formatFloat(req.Price))
		tif := req.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		params.Set("timeInForce", tif)
	}
	switch req.Type {
	case OrderTypeStopLoss, OrderTypeStopLossLimit, OrderTypeTakeProfit, OrderTypeTakeProfitLimit:
		params.Set("stopPrice", formatFloat(req.StopPrice))
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	params.Set("newOrderRespType", "FULL")

	body, err := c.Request(ctx, http.MethodPost, "/api/v3/order", true, params)
	if err != nil {
		return Order{}, err
	}
	return parseOrder(body)
}

// PlaceMarketBuy places a market buy sized in quote currency.
func (c *Client) PlaceMarketBuy(ctx context.Context, symbol string, quoteQty float64) (Order, error) {
	return c.PlaceOrder(ctx, OrderRequest{
		Symbol:        symbol,
		Side:          SideBuy,
		Type:          OrderTypeMarket,
		QuoteQuantity: quoteQty,
	})
}

// PlaceMarketSell places a market sell sized in base currency.
func (c *Client) PlaceMarketSell(ctx context.Context, symbol string, quantity float64) (Order, error) {
	return c.PlaceOrder(ctx, OrderRequest{
		Symbol:   symbol,
		Side:     SideSell,
		Type:     OrderTypeMarket,
		Quantity: quantity,
	})
}

// PlaceLimitOrder places a GTC limit order.
func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side Side, quantity, price float64) (Order, error) {
	return c.PlaceOrder(ctx, OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Type:     OrderTypeLimit,
		Quantity: quantity,
		Price:    price,
	})
}

// CancelOrder cancels an active order.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	body, err := c.Request(ctx, http.MethodDelete, "/api/v3/order", true, params)
	if err != nil {
		return Order{}, err
	}
	return parseOrder(body)
}

// CancelAllOrders cancels every open order for a symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) ([]Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.Request(ctx, http.MethodDelete, "/api/v3/openOrders", true, params)
	if err != nil {
		return nil, err
	}
	return parseOrderList(body)
}

// GetOrder fetches a single order by id.
func (c *Client) GetOrder(ctx context.Context, symbol string, orderID int64) (Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	body, err := c.Request(ctx, http.MethodGet, "/api/v3/order", true, params)
	if err != nil {
		return Order{}, err
	}
	return parseOrder(body)
}

// GetOpenOrders returns current open orders; empty symbol means all symbols.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := c.Request(ctx, http.MethodGet, "/api/v3/openOrders", true, params)
	if err != nil {
		return nil, err
	}
	return parseOrderList(body)
}

// GetOrderHistory returns historical orders for a symbol.
func (c *Client) GetOrderHistory(ctx context.Context, symbol string, limit int) ([]Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.Request(ctx, http.MethodGet, "/api/v3/allOrders", true, params)
	if err != nil {
		return nil, err
	}
	return parseOrderList(body)
}

type rawOrder struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Side                string `json:"side"`
	Type                string `json:"type"`
	Status              string `json:"status"`
	OrigQty             string `json:"origQty"`
	Price               string `json:"price"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Time                int64  `json:"time"`
	TransactTime        int64  `json:"transactTime"`
}

func (r rawOrder) toOrder() Order {
	created := r.Time
	if created == 0 {
		created = r.TransactTime
	}
	price := toFloat(r.Price)
	return Order{
		Symbol:           r.Symbol,
		OrderID:          r.OrderID,
		ClientOrderID:    r.ClientOrderID,
		Side:             Side(r.Side),
		Type:             OrderType(r.Type),
		Status:           OrderStatus(r.Status),
		Quantity:         toFloat(r.OrigQty),
		Price:            price,
		HasPrice:         price > 0,
		ExecutedQuantity: toFloat(r.ExecutedQty),
		QuoteQuantity:    toFloat(r.CummulativeQuoteQty),
		CreatedAt:        time.UnixMilli(created),
	}
}

func parseOrder(body []byte) (Order, error) {
	var raw rawOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return Order{}, fmt.Errorf("decode order: %w", err)
	}
	return raw.toOrder(), nil
}

func parseOrderList(body []byte) ([]Order, error) {
	var raws []rawOrder
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	orders := make([]Order, 0, len(raws))
	for _, r := range raws {
		orders = append(orders, r.toOrder())
	}
	return orders, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
