package binance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cryptobot/pkg/config"
	"cryptobot/pkg/exchanges/common"
	"cryptobot/pkg/logger"
)

func newTestClient(t *testing.T, srv *httptest.Server) (*Client, *[]time.Duration) {
	t.Helper()
	c := New(config.BinanceConfig{
		APIKey:         "test-key",
		APISecret:      "test-secret",
		MaxRetries:     3,
		RequestTimeout: 5 * time.Second,
		RateLimitDelay: time.Millisecond,
	}, logger.Discard())
	if srv != nil {
		c.baseURL = srv.URL
	}
	var sleeps []time.Duration
	c.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	t.Cleanup(c.Close)
	return c, &sleeps
}

func TestSignDeterministic(t *testing.T) {
	c, _ := newTestClient(t, nil)

	params := url.Values{}
	params.Set("symbol", "BTCUSDT")
	params.Set("side", "BUY")
	params.Set("timestamp", "1700000000000")
	query := params.Encode()

	sig1 := c.sign(query)
	sig2 := c.sign(query)
	if sig1 != sig2 {
		t.Fatalf("signature not deterministic: %s vs %s", sig1, sig2)
	}
	if !regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(sig1) {
		t.Fatalf("signature is not 64 hex characters: %q", sig1)
	}

	other, _ := newTestClient(t, nil)
	other.cfg.APISecret = "different-secret"
	if other.sign(query) == sig1 {
		t.Fatal("different secrets produced identical signatures")
	}
}

func TestRequestSignedHasSignatureAndKey(t *testing.T) {
	var gotKey, gotSig, gotTS string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-MBX-APIKEY")
		gotSig = r.URL.Query().Get("signature")
		gotTS = r.URL.Query().Get("timestamp")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	if _, err := c.Request(context.Background(), http.MethodGet, "/api/v3/account", true, nil); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if gotKey != "test-key" {
		t.Errorf("API key header = %q, want test-key", gotKey)
	}
	if len(gotSig) != 64 {
		t.Errorf("signature length = %d, want 64", len(gotSig))
	}
	if gotTS == "" {
		t.Error("signed request missing timestamp")
	}
}

func TestRequestAuthFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, sleeps := newTestClient(t, srv)
	_, err := c.Request(context.Background(), http.MethodGet, "/api/v3/account", true, nil)
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server called %d times, want 1 (no retry on auth failure)", n)
	}
	if len(*sleeps) != 0 {
		t.Errorf("backoff slept %v, want no sleeps", *sleeps)
	}
}

func TestRequestRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, sleeps := newTestClient(t, srv)
	body, err := c.Request(context.Background(), http.MethodGet, "/api/v3/time", false, nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %s", body)
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second}
	if len(*sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", *sleeps, want)
	}
	for i, d := range want {
		if (*sleeps)[i] != d {
			t.Errorf("sleep[%d] = %v, want %v", i, (*sleeps)[i], d)
		}
	}
}

func TestRequestRateLimitExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	_, err := c.Request(context.Background(), http.MethodGet, "/api/v3/time", false, nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestRequestAPIErrorParsing(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantMsg  string
	}{
		{"binance error", `{"code":-1121,"msg":"Invalid symbol."}`, -1121, "Invalid symbol."},
		{"malformed body", `<html>bad gateway</html>`, 0, "<html>bad gateway</html>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, _ := newTestClient(t, srv)
			_, err := c.Request(context.Background(), http.MethodGet, "/api/v3/ticker/price", false, nil)
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *APIError", err)
			}
			if apiErr.Code != tt.wantCode || apiErr.Message != tt.wantMsg {
				t.Errorf("got code=%d msg=%q, want code=%d msg=%q", apiErr.Code, apiErr.Message, tt.wantCode, tt.wantMsg)
			}
		})
	}
}

func TestRequestTransportErrorWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	c, sleeps := newTestClient(t, srv)
	_, err := c.Request(context.Background(), http.MethodGet, "/api/v3/time", false, nil)
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want *ConnectionError", err)
	}
	if len(*sleeps) != 2 {
		t.Errorf("slept %d times, want 2 retries before giving up", len(*sleeps))
	}
}

func TestRateLimiterEnforcesGap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	c.cfg.RateLimitDelay = 40 * time.Millisecond
	c.rateLimiter = common.NewRateLimiter(40*time.Millisecond, spotWeightLimit, time.Minute, logger.Discard())

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.Request(context.Background(), http.MethodGet, "/api/v3/ping", false, nil); err != nil {
			t.Fatalf("Request %d: %v", i, err)
		}
	}
	// first call is immediate, the next two each wait the configured delay
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("3 calls took %v, want at least 80ms", elapsed)
	}
}

func TestParseOrderPriceSentinel(t *testing.T) {
	raw := map[string]any{
		"symbol":              "BTCUSDT",
		"orderId":             12345,
		"clientOrderId":       "abc",
		"side":                "BUY",
		"type":                "MARKET",
		"status":              "FILLED",
		"origQty":             "0.00100000",
		"price":               "0.00000000",
		"executedQty":         "0.00100000",
		"cummulativeQuoteQty": "42.00000000",
		"transactTime":        1700000000000,
	}
	body, _ := json.Marshal(raw)

	order, err := parseOrder(body)
	if err != nil {
		t.Fatalf("parseOrder: %v", err)
	}
	if order.HasPrice {
		t.Error("market order with zero price sentinel should have HasPrice=false")
	}
	if order.OrderID != 12345 || order.Side != SideBuy || !order.Status.IsTerminal() {
		t.Errorf("unexpected order fields: %+v", order)
	}
	if order.Quantity != 0.001 {
		t.Errorf("Quantity = %v, want 0.001", order.Quantity)
	}

	raw["price"] = "65000.00000000"
	raw["type"] = "LIMIT"
	body, _ = json.Marshal(raw)
	order, err = parseOrder(body)
	if err != nil {
		t.Fatalf("parseOrder: %v", err)
	}
	if !order.HasPrice || order.Price != 65000 {
		t.Errorf("limit order price = %v hasPrice=%v, want 65000 true", order.Price, order.HasPrice)
	}
}

func TestRequestConcurrentFirstUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"serverTime": 1700000000000})
	}))
	defer srv.Close()
	c, _ := newTestClient(t, srv)

	var failed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Request(context.Background(), http.MethodGet, "/api/v3/time", false, nil); err != nil {
				failed.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := failed.Load(); n != 0 {
		t.Fatalf("%d of 8 concurrent first requests failed", n)
	}
	if c.transport() == nil {
		t.Fatal("transport not opened")
	}
}
