package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"cryptobot/pkg/config"
	"cryptobot/pkg/exchanges/common"
	"cryptobot/pkg/logger"
)

const spotWeightLimit = 1200 // weight per minute for spot

// Client is the HTTP gateway to the Binance spot API. All requests go
// through Request, which paces, signs, retries and classifies errors.
type Client struct {
	cfg     config.BinanceConfig
	baseURL string
	log     *logger.Logger

	rateLimiter *common.RateLimiter
	timeSync    *common.TimeSync

	// nil until Connect; Request opens it lazily. connMu guards it
	// against concurrent first requests and Close.
	connMu     sync.Mutex
	httpClient *http.Client

	// sleep is swapped out in tests to observe backoff delays.
	sleep func(time.Duration)
}

// New builds a gateway client. The transport is not opened until Connect
// or the first Request.
func New(cfg config.BinanceConfig, log *logger.Logger) *Client {
	base := "https://api.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binance.vision"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	c := &Client{
		cfg:         cfg,
		baseURL:     base,
		log:         log,
		rateLimiter: common.NewRateLimiter(cfg.RateLimitDelay, spotWeightLimit, time.Minute, log),
		sleep:       time.Sleep,
	}
	c.timeSync = common.NewTimeSync(c.GetServerTime, log)
	return c
}

// Connect opens the shared HTTP transport. Calling it twice is a no-op.
func (c *Client) Connect() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.connect()
}

// connect opens the transport; callers hold connMu.
func (c *Client) connect() *http.Client {
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.cfg.RequestTimeout}
		c.log.WithComponent("gateway").Infof("connected to Binance API: %s", c.baseURL)
	}
	return c.httpClient
}

// transport returns the shared HTTP client, opening it on first use.
func (c *Client) transport() *http.Client {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.connect()
}

// Close releases the transport. Outstanding requests keep their connection
// until they finish.
func (c *Client) Close() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.httpClient == nil {
		return
	}
	c.httpClient.CloseIdleConnections()
	c.httpClient = nil
	c.log.WithComponent("gateway").Info("disconnected from Binance API")
}

// StartTimeSync begins periodic clock synchronization with the exchange.
func (c *Client) StartTimeSync(ctx context.Context) {
	c.timeSync.Start(ctx)
}

// sign computes the HMAC-SHA256 signature over the encoded query string.
func (c *Client) sign(query string) string {
	h := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}

// timestamp returns a server-relative millisecond timestamp.
func (c *Client) timestamp() int64 {
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		return c.timeSync.Now()
	}
	return time.Now().UnixMilli()
}

type apiErrorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Request performs one API call with rate limiting, signing and retry.
//
// Transport failures and HTTP 429 retry up to MaxRetries attempts with
// 2^attempt seconds of backoff. HTTP 401 fails immediately. Any other
// non-200 status fails with the exchange's message and code.
func (c *Client) Request(ctx context.Context, method, path string, signed bool, params url.Values) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	// grab the transport once so a concurrent Close cannot nil it
	// mid-request
	httpClient := c.transport()

	if params == nil {
		params = url.Values{}
	}
	if signed {
		params.Set("timestamp", strconv.FormatInt(c.timestamp(), 10))
		// url.Values.Encode sorts keys, so the signed string is stable.
		params.Set("signature", c.sign(params.Encode()))
	}
	encoded := params.Encode()

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		req, err := c.newRequest(ctx, method, path, encoded)
		if err != nil {
			return nil, err
		}

		res, err := httpClient.Do(req)
		if err != nil {
			c.log.WithComponent("gateway").WithError(err).Warnf("%s %s transport error (attempt %d)", method, path, attempt+1)
			lastErr = err
			if attempt < c.cfg.MaxRetries-1 {
				c.backoff(attempt)
				continue
			}
			return nil, &ConnectionError{Err: err}
		}

		body, readErr := io.ReadAll(res.Body)
		res.Body.Close()
		if readErr != nil {
			lastErr = readErr
			if attempt < c.cfg.MaxRetries-1 {
				c.backoff(attempt)
				continue
			}
			return nil, &ConnectionError{Err: readErr}
		}

		c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

		switch {
		case res.StatusCode == http.StatusOK:
			return body, nil
		case res.StatusCode == http.StatusTooManyRequests:
			c.log.WithComponent("gateway").Warnf("rate limit hit, attempt %d", attempt+1)
			if attempt < c.cfg.MaxRetries-1 {
				c.backoff(attempt)
				continue
			}
			return nil, ErrRateLimited
		case res.StatusCode == http.StatusUnauthorized:
			return nil, ErrAuthentication
		default:
			apiErr := parseAPIError(body, res.StatusCode)
			c.log.WithComponent("gateway").Errorf("API error: %s", apiErr.Error())
			return nil, apiErr
		}
	}

	return nil, &APIError{Message: fmt.Sprintf("max retries exceeded: %v", lastErr)}
}

func (c *Client) newRequest(ctx context.Context, method, path, encoded string) (*http.Request, error) {
	var req *http.Request
	var err error

	endpoint := c.baseURL + path
	switch method {
	case http.MethodPost, http.MethodPut:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		if encoded != "" {
			endpoint += "?" + encoded
		}
		req, err = http.NewRequestWithContext(ctx, method, endpoint, nil)
	}
	if err != nil {
		return nil, err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	}
	return req, nil
}

func (c *Client) backoff(attempt int) {
	c.sleep(time.Duration(1<<uint(attempt)) * time.Second)
}

// parseAPIError decodes the exchange error body; malformed bodies become
// the error message verbatim rather than being dropped.
func parseAPIError(body []byte, status int) *APIError {
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Msg == "" {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", status)
		}
		return &APIError{Message: msg}
	}
	return &APIError{Code: parsed.Code, Message: parsed.Msg}
}
