package binance

import (
	"errors"
	"fmt"
)

// ErrAuthentication marks rejected credentials (HTTP 401). Never retried.
var ErrAuthentication = errors.New("binance: invalid API credentials")

// ErrRateLimited surfaces after the retry budget for HTTP 429 is exhausted.
var ErrRateLimited = errors.New("binance: rate limit exceeded")

// APIError carries the exchange's message and numeric code for any other
// non-200 response. Retryable only through an outer retry wrapper.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("binance: %s (code=%d)", e.Message, e.Code)
	}
	return "binance: " + e.Message
}

// ConnectionError wraps a transport failure after retries are exhausted.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return "binance: connection failed: " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error { return e.Err }
