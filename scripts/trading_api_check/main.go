package main

import (
	"context"
	"log"
	"os"
	"time"

	"cryptobot/pkg/config"
	"cryptobot/pkg/exchanges/binance"
	"cryptobot/pkg/logger"
)

// trading_api_check exercises the REST gateway against the real (or
// testnet) exchange: connectivity, server time, market data, account
// balances and open orders. It never places orders.
//
// Environment: BINANCE_API_KEY / BINANCE_API_SECRET, BINANCE_TESTNET,
// CHECK_SYMBOL (default BTCUSDT).

func main() {
	log.Println("=== trading API check ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	symbol := getenv("CHECK_SYMBOL", "BTCUSDT")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client := binance.New(cfg.Binance, logger.New(logger.Config{Level: "debug"}))
	client.Connect()
	defer client.Close()

	if !client.Ping(ctx) {
		log.Fatal("ping failed")
	}
	log.Println("ping ok")

	serverTime, err := client.GetServerTime(ctx)
	if err != nil {
		log.Fatalf("server time: %v", err)
	}
	drift := time.Since(time.UnixMilli(serverTime))
	log.Printf("server time ok, local drift %v", drift)

	price, err := client.GetPrice(ctx, symbol)
	if err != nil {
		log.Fatalf("price %s: %v", symbol, err)
	}
	log.Printf("%s price %.2f", symbol, price)

	klines, err := client.GetKlines(ctx, symbol, "1m", 5)
	if err != nil {
		log.Fatalf("klines %s: %v", symbol, err)
	}
	log.Printf("fetched %d klines, last close %.2f", len(klines), klines[len(klines)-1].Close)

	balances, err := client.GetBalances(ctx)
	if err != nil {
		log.Fatalf("balances: %v", err)
	}
	for _, b := range balances {
		log.Printf("balance %s free=%.8f locked=%.8f", b.Asset, b.Free, b.Locked)
	}

	open, err := client.GetOpenOrders(ctx, symbol)
	if err != nil {
		log.Fatalf("open orders: %v", err)
	}
	log.Printf("%d open orders on %s", len(open), symbol)

	log.Println("=== all checks passed ===")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
