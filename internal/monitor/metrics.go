package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const defaultHistogramSize = 1000

// LatencyHistogram keeps a sliding window of latency samples and
// computes percentile stats lazily, recomputing only after new samples
// arrive.
type LatencyHistogram struct {
	mu      sync.Mutex
	samples []float64
	maxSize int
	dirty   bool
	cached  LatencyStats
}

// LatencyStats summarizes a histogram window in milliseconds.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// NewLatencyHistogram builds a histogram holding at most size samples.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = defaultHistogramSize
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds one sample in milliseconds, evicting the oldest sample
// once the window is full.
func (h *LatencyHistogram) Record(ms float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, ms)
	h.dirty = true
}

// RecordDuration records a duration as milliseconds.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg and p50/p95/p99 over the current window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty {
		return h.cached
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cached = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cached
}

// Metrics aggregates runtime counters for the bot. Counters are
// updated from bus events by Monitor and read by the control API.
type Metrics struct {
	// OrderLatency tracks signal-to-order round trips.
	OrderLatency *LatencyHistogram

	ordersPlaced    uint64
	ordersCanceled  uint64
	signals         uint64
	positionUpdates uint64
	errors          uint64

	started time.Time
}

// NewMetrics builds an empty metrics set.
func NewMetrics() *Metrics {
	return &Metrics{
		OrderLatency: NewLatencyHistogram(defaultHistogramSize),
		started:      time.Now(),
	}
}

func (m *Metrics) IncrementOrders()          { atomic.AddUint64(&m.ordersPlaced, 1) }
func (m *Metrics) IncrementCancels()         { atomic.AddUint64(&m.ordersCanceled, 1) }
func (m *Metrics) IncrementSignals()         { atomic.AddUint64(&m.signals, 1) }
func (m *Metrics) IncrementPositionUpdates() { atomic.AddUint64(&m.positionUpdates, 1) }
func (m *Metrics) IncrementErrors()          { atomic.AddUint64(&m.errors, 1) }

// Snapshot is a point-in-time view of the metrics.
type Snapshot struct {
	UptimeSeconds   float64      `json:"uptime_seconds"`
	Goroutines      int          `json:"goroutines"`
	OrdersPlaced    uint64       `json:"orders_placed"`
	OrdersCanceled  uint64       `json:"orders_canceled"`
	Signals         uint64       `json:"signals"`
	PositionUpdates uint64       `json:"position_updates"`
	Errors          uint64       `json:"errors"`
	OrderLatency    LatencyStats `json:"order_latency_ms"`
}

// Snapshot captures the current counters and latency stats.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		UptimeSeconds:   time.Since(m.started).Seconds(),
		Goroutines:      runtime.NumGoroutine(),
		OrdersPlaced:    atomic.LoadUint64(&m.ordersPlaced),
		OrdersCanceled:  atomic.LoadUint64(&m.ordersCanceled),
		Signals:         atomic.LoadUint64(&m.signals),
		PositionUpdates: atomic.LoadUint64(&m.positionUpdates),
		Errors:          atomic.LoadUint64(&m.errors),
		OrderLatency:    m.OrderLatency.Stats(),
	}
}
