package monitor

import (
	"context"
	"sync"
	"time"

	"cryptobot/internal/events"
	"cryptobot/internal/strategy"
	"cryptobot/internal/trading"
	"cryptobot/pkg/exchanges/binance"
	"cryptobot/pkg/logger"
)

// Monitor listens to bus events and maintains Metrics. It also tracks
// the time between a strategy signal and the resulting order so the
// order latency histogram reflects end-to-end execution time.
type Monitor struct {
	bus     *events.Bus
	metrics *Metrics
	log     *logger.Logger

	mu          sync.Mutex
	lastSignals map[string]time.Time

	// now is swapped out in tests for deterministic latency samples.
	now func() time.Time
}

// New builds a monitor over the given bus.
func New(bus *events.Bus, metrics *Metrics, log *logger.Logger) *Monitor {
	return &Monitor{
		bus:         bus,
		metrics:     metrics,
		log:         log.WithComponent("monitor"),
		lastSignals: make(map[string]time.Time),
		now:         time.Now,
	}
}

// Metrics returns the metrics set the monitor maintains.
func (m *Monitor) Metrics() *Metrics {
	return m.metrics
}

// Start subscribes to trading and strategy events, unsubscribing when
// the context is canceled.
func (m *Monitor) Start(ctx context.Context) {
	unsubs := []func(){
		m.bus.Subscribe(strategy.EventSignal, m.onSignal),
		m.bus.Subscribe(trading.EventOrderPlaced, m.onOrderPlaced),
		m.bus.Subscribe(trading.EventOrderCanceled, m.onOrderCanceled),
		m.bus.Subscribe(trading.EventPositionUpdated, m.onPositionUpdated),
	}

	go func() {
		<-ctx.Done()
		for _, unsub := range unsubs {
			unsub()
		}
	}()
}

func (m *Monitor) onSignal(payload any) {
	m.metrics.IncrementSignals()

	sig, ok := payload.(strategy.Signal)
	if !ok {
		return
	}
	m.mu.Lock()
	m.lastSignals[sig.Symbol] = m.now()
	m.mu.Unlock()
}

func (m *Monitor) onOrderPlaced(payload any) {
	m.metrics.IncrementOrders()

	order, ok := payload.(binance.Order)
	if !ok {
		return
	}
	m.mu.Lock()
	signaled, found := m.lastSignals[order.Symbol]
	if found {
		delete(m.lastSignals, order.Symbol)
	}
	m.mu.Unlock()
	if found {
		m.metrics.OrderLatency.RecordDuration(m.now().Sub(signaled))
	}
}

func (m *Monitor) onOrderCanceled(any) {
	m.metrics.IncrementCancels()
}

func (m *Monitor) onPositionUpdated(any) {
	m.metrics.IncrementPositionUpdates()
}
