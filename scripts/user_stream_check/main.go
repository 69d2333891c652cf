package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"cryptobot/internal/events"
	"cryptobot/internal/stream"
	"cryptobot/pkg/config"
	"cryptobot/pkg/exchanges/binance"
	"cryptobot/pkg/logger"
)

// user_stream_check opens a user data stream and prints every account
// event until interrupted. Useful for verifying listen key handling
// and reconnect behavior against the live exchange.

func main() {
	log.Println("=== user stream check ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	applog := logger.New(logger.Config{Level: "debug"})
	client := binance.New(cfg.Binance, applog)
	client.Connect()
	defer client.Close()

	listenKey, err := client.CreateListenKey(ctx)
	if err != nil {
		log.Fatalf("listen key: %v", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.CloseListenKey(closeCtx, listenKey)
	}()

	bus := events.NewBus(applog)
	bus.Subscribe("user_data", func(payload any) {
		ev, ok := payload.(stream.UserDataEvent)
		if !ok {
			log.Printf("unexpected payload %T", payload)
			return
		}
		log.Printf("user event %s: %s", ev.Type, ev.Raw)
	})

	streams := stream.NewManager(cfg.Binance.Testnet, bus, applog)
	streams.Start(ctx)
	defer streams.Stop()

	if _, err := streams.SubscribeUserData(listenKey); err != nil {
		log.Fatalf("subscribe: %v", err)
	}
	log.Println("listening, trigger an order or transfer to see events (ctrl-c to stop)")

	<-ctx.Done()
	log.Println("=== done ===")
}
