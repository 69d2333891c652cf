package common

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cryptobot/pkg/logger"
)

// RateLimiter paces outgoing requests and tracks exchange-reported weight.
//
// Pacing guarantees that consecutive request starts are at least the
// configured delay apart; concurrent callers queue on Wait rather than race.
type RateLimiter struct {
	limiter *rate.Limiter
	log     *logger.Logger

	weightLimit   int
	resetInterval time.Duration

	mu         sync.Mutex
	usedWeight int
	lastReset  time.Time
}

// NewRateLimiter creates a limiter that spaces request starts by delay.
// weightLimit is the exchange budget per resetInterval (1200/min for spot).
func NewRateLimiter(delay time.Duration, weightLimit int, resetInterval time.Duration, log *logger.Logger) *RateLimiter {
	if delay <= 0 {
		delay = time.Millisecond
	}
	return &RateLimiter{
		limiter:       rate.NewLimiter(rate.Every(delay), 1),
		log:           log,
		weightLimit:   weightLimit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
	}
}

// Wait blocks until the next request may start, or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// UpdateFromHeader records the used weight reported by the exchange.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.usedWeight = 0
		rl.lastReset = time.Now()
	}
	rl.usedWeight = weight

	if rl.weightLimit <= 0 || rl.log == nil {
		return
	}
	pct := float64(rl.usedWeight) / float64(rl.weightLimit) * 100
	if pct >= 95 {
		rl.log.Warnf("rate limit critical: %d/%d (%.1f%%)", rl.usedWeight, rl.weightLimit, pct)
	} else if pct >= 80 {
		rl.log.Warnf("rate limit elevated: %d/%d (%.1f%%)", rl.usedWeight, rl.weightLimit, pct)
	}
}

// Usage returns the current used weight and budget percentage.
func (rl *RateLimiter) Usage() (used int, limit int, percentage float64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		return 0, rl.weightLimit, 0
	}
	if rl.weightLimit <= 0 {
		return rl.usedWeight, rl.weightLimit, 0
	}
	return rl.usedWeight, rl.weightLimit, float64(rl.usedWeight) / float64(rl.weightLimit) * 100
}
