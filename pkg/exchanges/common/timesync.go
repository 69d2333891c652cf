package common

import (
	"context"
	"sync"
	"time"

	"cryptobot/pkg/logger"
)

// TimeSync keeps a millisecond offset against the exchange server clock so
// signed request timestamps land inside the server's recv window.
type TimeSync struct {
	getServerTime func(ctx context.Context) (int64, error)
	log           *logger.Logger
	syncInterval  time.Duration

	mu       sync.RWMutex
	offset   int64 // server - local, ms
	lastSync time.Time
}

func NewTimeSync(getServerTime func(ctx context.Context) (int64, error), log *logger.Logger) *TimeSync {
	return &TimeSync{
		getServerTime: getServerTime,
		log:           log,
		syncInterval:  30 * time.Minute,
	}
}

// Start syncs once, then keeps resyncing until ctx is cancelled.
func (ts *TimeSync) Start(ctx context.Context) {
	if err := ts.Sync(ctx); err != nil && ts.log != nil {
		ts.log.WithError(err).Warn("initial time sync failed")
	}

	go func() {
		ticker := time.NewTicker(ts.syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ts.Sync(ctx); err != nil && ts.log != nil {
					ts.log.WithError(err).Warn("time sync failed")
				}
			}
		}
	}()
}

// Sync measures the offset, assuming symmetric network latency.
func (ts *TimeSync) Sync(ctx context.Context) error {
	localBefore := time.Now().UnixMilli()
	serverTime, err := ts.getServerTime(ctx)
	if err != nil {
		return err
	}
	localAfter := time.Now().UnixMilli()

	latency := (localAfter - localBefore) / 2
	localTime := localBefore + latency

	ts.mu.Lock()
	ts.offset = serverTime - localTime
	ts.lastSync = time.Now()
	ts.mu.Unlock()

	if ts.log != nil {
		ts.log.Debugf("time sync: offset=%dms", serverTime-localTime)
	}
	return nil
}

// Now returns the current time in server-relative milliseconds.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

// Offset returns the measured offset in milliseconds.
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
