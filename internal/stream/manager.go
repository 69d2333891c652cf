package stream

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"cryptobot/internal/events"
	"cryptobot/pkg/logger"
)

const (
	initialReconnectDelay = time.Second
	maxReconnectDelay     = 60 * time.Second
)

// parseFunc turns a raw stream message into the payload published on
// the bus. A nil payload with nil error means the message is dropped.
type parseFunc func(msg []byte) (any, error)

// Manager owns one websocket connection per subscribed topic. Each
// connection reconnects on its own with exponential backoff and
// publishes decoded messages to the event bus under a per-topic name.
type Manager struct {
	log     *logger.Logger
	bus     *events.Bus
	baseURL string
	dialer  *websocket.Dialer

	mu      sync.Mutex
	streams map[string]*topicStream

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// sleep is swapped out in tests to observe reconnect delays.
	sleep func(ctx context.Context, d time.Duration) bool
}

type topicStream struct {
	name      string
	event     string
	cancel    context.CancelFunc
	connected atomic.Bool
}

// NewManager builds a stream manager; testnet toggles the host.
func NewManager(testnet bool, bus *events.Bus, log *logger.Logger) *Manager {
	host := "stream.binance.com:9443"
	if testnet {
		host = "testnet.binance.vision"
	}
	return &Manager{
		log:     log.WithComponent("stream"),
		bus:     bus,
		baseURL: (&url.URL{Scheme: "wss", Host: host, Path: "/ws"}).String(),
		dialer:  websocket.DefaultDialer,
		streams: make(map[string]*topicStream),
		sleep:   sleepCtx,
	}
}

// Start prepares the manager; subscriptions made afterwards live until
// ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
}

// Stop tears down every connection and waits for the listeners to exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.mu.Lock()
	m.streams = make(map[string]*topicStream)
	m.mu.Unlock()
	m.log.Info("all streams stopped")
}

// SubscribeTicker starts the 24h ticker stream for a symbol and returns
// the bus event name its updates are published under.
func (m *Manager) SubscribeTicker(symbol string) (string, error) {
	stream := strings.ToLower(symbol) + "@ticker"
	return m.subscribe(stream, parseTicker)
}

// SubscribeKline starts a candlestick stream for a symbol and interval.
func (m *Manager) SubscribeKline(symbol, interval string) (string, error) {
	stream := fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), interval)
	return m.subscribe(stream, parseKline)
}

// SubscribeDepth starts the diff depth stream for a symbol.
func (m *Manager) SubscribeDepth(symbol string) (string, error) {
	stream := strings.ToLower(symbol) + "@depth"
	return m.subscribe(stream, parseDepth)
}

// SubscribeTrade starts the raw trade stream for a symbol.
func (m *Manager) SubscribeTrade(symbol string) (string, error) {
	stream := strings.ToLower(symbol) + "@trade"
	return m.subscribe(stream, parseTrade)
}

// SubscribeUserData starts the private account stream for a listen key.
func (m *Manager) SubscribeUserData(listenKey string) (string, error) {
	return m.subscribe(listenKey, parseUserData)
}

// Unsubscribe closes the connection for a stream if one exists.
func (m *Manager) Unsubscribe(stream string) {
	m.mu.Lock()
	s, ok := m.streams[stream]
	if ok {
		delete(m.streams, stream)
	}
	m.mu.Unlock()
	if ok {
		s.cancel()
		m.log.Infof("unsubscribed from %s", stream)
	}
}

// IsConnected reports whether the stream currently has a live connection.
func (m *Manager) IsConnected(stream string) bool {
	m.mu.Lock()
	s, ok := m.streams[stream]
	m.mu.Unlock()
	return ok && s.connected.Load()
}

// ActiveStreams lists the subscribed stream names.
func (m *Manager) ActiveStreams() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.streams))
	for name := range m.streams {
		names = append(names, name)
	}
	return names
}

func (m *Manager) subscribe(stream string, parse parseFunc) (string, error) {
	if m.ctx == nil {
		return "", fmt.Errorf("stream manager not started")
	}
	event := eventNameFor(stream)

	m.mu.Lock()
	if _, exists := m.streams[stream]; exists {
		m.mu.Unlock()
		return event, nil
	}
	ctx, cancel := context.WithCancel(m.ctx)
	s := &topicStream{name: stream, event: event, cancel: cancel}
	m.streams[stream] = s
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx, s, parse)
	m.log.Infof("subscribed to %s as %s", stream, event)
	return event, nil
}

// run keeps one topic connected for its whole lifetime. The reconnect
// delay doubles on each failure up to a ceiling and resets to the
// initial value after a successful dial.
func (m *Manager) run(ctx context.Context, s *topicStream, parse parseFunc) {
	defer m.wg.Done()
	delay := initialReconnectDelay

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := m.dialer.DialContext(ctx, m.baseURL+"/"+s.name, nil)
		if err != nil {
			m.log.WithError(err).Warnf("dial %s failed, retrying in %v", s.name, delay)
			if !m.sleep(ctx, delay) {
				return
			}
			delay = nextBackoff(delay)
			continue
		}

		s.connected.Store(true)
		delay = initialReconnectDelay
		m.log.Infof("connected to %s", s.name)

		m.readLoop(ctx, s, conn, parse)
		s.connected.Store(false)

		if ctx.Err() != nil {
			return
		}
		m.log.Warnf("%s disconnected, reconnecting in %v", s.name, delay)
		if !m.sleep(ctx, delay) {
			return
		}
		delay = nextBackoff(delay)
	}
}

func (m *Manager) readLoop(ctx context.Context, s *topicStream, conn *websocket.Conn, parse parseFunc) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				m.log.WithError(err).Warnf("read error on %s", s.name)
			}
			return
		}

		payload, perr := parse(msg)
		if perr != nil {
			m.bus.Publish("unknown_"+s.name, UnknownEvent{Stream: s.name, Raw: msg})
			continue
		}
		if payload == nil {
			continue
		}
		m.bus.Publish(s.event, payload)
	}
}

// nextBackoff doubles the reconnect delay up to the ceiling.
func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxReconnectDelay {
		return maxReconnectDelay
	}
	return next
}

// eventNameFor maps a stream name to its bus event name. Streams without
// a recognized suffix fall through to the unknown namespace; a bare
// listen key is the user data stream.
func eventNameFor(stream string) string {
	sym, suffix, found := strings.Cut(stream, "@")
	if !found {
		return "user_data"
	}
	upper := strings.ToUpper(sym)
	switch {
	case suffix == "ticker":
		return "ticker_" + upper
	case strings.HasPrefix(suffix, "kline_"):
		return fmt.Sprintf("kline_%s_%s", upper, strings.TrimPrefix(suffix, "kline_"))
	case suffix == "depth":
		return "depth_" + upper
	case suffix == "trade":
		return "trade_" + upper
	default:
		return "unknown_" + stream
	}
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
