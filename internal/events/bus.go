package events

import (
	"sync"

	"cryptobot/pkg/logger"
)

// Handler receives one published payload.
type Handler func(payload any)

// Bus is a pub/sub broker keyed by event name. Each subscription owns a
// queue drained by its own goroutine, so a listener sees one event's
// payloads in publish order while a slow or panicking listener never
// affects the publisher or its siblings.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*subscription
	log  *logger.Logger
}

type subscription struct {
	event   string
	handler Handler

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []any
	closed bool
}

func newSubscription(event string, h Handler) *subscription {
	sub := &subscription{event: event, handler: h}
	sub.cond = sync.NewCond(&sub.mu)
	return sub
}

func (s *subscription) push(payload any) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, payload)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
}

// run drains the queue one payload at a time. Pending payloads are
// discarded when the subscription closes.
func (s *subscription) run(b *Bus) {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		payload := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		b.dispatch(s, payload)
	}
}

// NewBus creates an event bus.
func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		subs: make(map[string][]*subscription),
		log:  log,
	}
}

// Subscribe registers a handler for an event name and returns an
// unsubscribe function. After unsubscribing, queued payloads not yet
// handled are dropped.
func (b *Bus) Subscribe(event string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newSubscription(event, h)
	b.subs[event] = append(b.subs[event], sub)
	go sub.run(b)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[event]
		for i, s := range subs {
			if s == sub {
				b.subs[event] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subs[event]) == 0 {
			delete(b.subs, event)
		}
		sub.close()
	}
}

// Publish fans the payload out to every handler subscribed to the
// event. Delivery is asynchronous but each handler receives payloads in
// the order they were published.
func (b *Bus) Publish(event string, payload any) {
	b.mu.RLock()
	subs := make([]*subscription, len(b.subs[event]))
	copy(subs, b.subs[event])
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.push(payload)
	}
}

func (b *Bus) dispatch(sub *subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithComponent("events").Errorf("handler for %q panicked: %v", sub.event, r)
		}
	}()
	sub.handler(payload)
}

// SubscriberCount reports how many handlers an event currently has.
func (b *Bus) SubscriberCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[event])
}
