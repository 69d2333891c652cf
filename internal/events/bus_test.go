package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cryptobot/pkg/logger"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus(logger.Discard())

	var wg sync.WaitGroup
	var count atomic.Int32
	for i := 0; i < 3; i++ {
		wg.Add(1)
		bus.Subscribe("ticker_BTCUSDT", func(payload any) {
			defer wg.Done()
			if payload.(float64) == 65000 {
				count.Add(1)
			}
		})
	}

	bus.Publish("ticker_BTCUSDT", float64(65000))
	wg.Wait()

	if count.Load() != 3 {
		t.Fatalf("delivered to %d handlers, want 3", count.Load())
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(logger.Discard())

	var called atomic.Bool
	unsub := bus.Subscribe("ticker_ETHUSDT", func(any) { called.Store(true) })
	unsub()

	bus.Publish("ticker_ETHUSDT", 1.0)
	time.Sleep(20 * time.Millisecond)

	if called.Load() {
		t.Fatal("unsubscribed handler was invoked")
	}
	if n := bus.SubscriberCount("ticker_ETHUSDT"); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
}

func TestBusPanicIsolation(t *testing.T) {
	bus := NewBus(logger.Discard())

	var wg sync.WaitGroup
	wg.Add(1)
	bus.Subscribe("kline_BTCUSDT_1m", func(any) {
		panic("listener bug")
	})
	var survived atomic.Bool
	bus.Subscribe("kline_BTCUSDT_1m", func(any) {
		defer wg.Done()
		survived.Store(true)
	})

	bus.Publish("kline_BTCUSDT_1m", nil)
	wg.Wait()

	if !survived.Load() {
		t.Fatal("panic in one handler prevented delivery to another")
	}
}

func TestBusDeliversInPublishOrder(t *testing.T) {
	bus := NewBus(logger.Discard())

	const n = 500
	var wg sync.WaitGroup
	wg.Add(n)
	var got []int
	bus.Subscribe("ticker_BTCUSDT", func(payload any) {
		defer wg.Done()
		got = append(got, payload.(int))
	})

	for i := 0; i < n; i++ {
		bus.Publish("ticker_BTCUSDT", i)
	}
	wg.Wait()

	if len(got) != n {
		t.Fatalf("delivered %d payloads, want %d", len(got), n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("payload at position %d = %d, want %d", i, v, i)
		}
	}
}

func TestBusNoSubscribers(t *testing.T) {
	bus := NewBus(logger.Discard())
	// must not block or panic
	bus.Publish("unknown_stream", "payload")
}
