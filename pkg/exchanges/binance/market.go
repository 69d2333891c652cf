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

// Ping tests connectivity to the REST API.
func (c *Client) Ping(ctx context.Context) bool {
	_, err := c.Request(ctx, http.MethodGet, "/api/v3/ping", false, nil)
	return err == nil
}

// GetServerTime fetches the exchange server time in milliseconds.
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	body, err := c.Request(ctx, http.MethodGet, "/api/v3/time", false, nil)
	if err != nil {
		return 0, err
	}
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode server time: %w", err)
	}
	return resp.ServerTime, nil
}

// GetExchangeInfo returns the raw exchange information payload.
func (c *Client) GetExchangeInfo(ctx context.Context) (json.RawMessage, error) {
	body, err := c.Request(ctx, http.MethodGet, "/api/v3/exchangeInfo", false, nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// GetTicker fetches 24h ticker statistics for a symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (Ticker, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.Request(ctx, http.MethodGet, "/api/v3/ticker/24hr", false, params)
	if err != nil {
		return Ticker{}, err
	}

	var raw struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		PriceChangePercent string `json:"priceChangePercent"`
		Volume             string `json:"volume"`
		CloseTime          int64  `json:"closeTime"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Ticker{}, fmt.Errorf("decode ticker: %w", err)
	}
	return Ticker{
		Symbol:        raw.Symbol,
		Price:         toFloat(raw.LastPrice),
		ChangePercent: toFloat(raw.PriceChangePercent),
		Volume:        toFloat(raw.Volume),
		Time:          time.UnixMilli(raw.CloseTime),
	}, nil
}

// GetPrice fetches the current price for a symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.Request(ctx, http.MethodGet, "/api/v3/ticker/price", false, params)
	if err != nil {
		return 0, err
	}
	var raw struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return 0, fmt.Errorf("decode price: %w", err)
	}
	return toFloat(raw.Price), nil
}

// GetOrderBook fetches a depth snapshot.
func (c *Client) GetOrderBook(ctx context.Context, symbol string, limit int) (OrderBook, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.Request(ctx, http.MethodGet, "/api/v3/depth", false, params)
	if err != nil {
		return OrderBook{}, err
	}

	var raw struct {
		LastUpdateID int64       `json:"lastUpdateId"`
		Bids         [][2]string `json:"bids"`
		Asks         [][2]string `json:"asks"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return OrderBook{}, fmt.Errorf("decode depth: %w", err)
	}
	return OrderBook{
		Symbol:       symbol,
		Bids:         raw.Bids,
		Asks:         raw.Asks,
		LastUpdateID: raw.LastUpdateID,
		Time:         time.Now(),
	}, nil
}

// GetKlines fetches historical candlesticks.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.Request(ctx, http.MethodGet, "/api/v3/klines", false, params)
	if err != nil {
		return nil, err
	}

	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	klines := make([]Kline, 0, len(raw))
	for _, item := range raw {
		// the exchange returns 12 fields per kline
		if len(item) < 9 {
			continue
		}
		klines = append(klines, Kline{
			Symbol:         symbol,
			OpenTime:       toInt64(item[0]),
			Open:           toFloat(item[1]),
			High:           toFloat(item[2]),
			Low:            toFloat(item[3]),
			Close:          toFloat(item[4]),
			Volume:         toFloat(item[5]),
			CloseTime:      toInt64(item[6]),
			NumberOfTrades: int(toInt64(item[8])),
		})
	}
	return klines, nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	case float64:
		return t
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case json.Number:
		i, _ := t.Int64()
		return i
	default:
		return 0
	}
}
