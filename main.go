package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cryptobot/internal/api"
	"cryptobot/internal/events"
	"cryptobot/internal/marketdata"
	"cryptobot/internal/monitor"
	"cryptobot/internal/strategy"
	"cryptobot/internal/stream"
	"cryptobot/internal/trading"
	"cryptobot/pkg/config"
	"cryptobot/pkg/exchanges/binance"
	"cryptobot/pkg/logger"
)

const listenKeyKeepAlive = 30 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogFile,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("bot exited with error")
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	client := binance.New(cfg.Binance, log)
	client.Connect()
	defer client.Close()

	if !client.Ping(ctx) {
		log.Warn("exchange ping failed, continuing startup")
	}
	client.StartTimeSync(ctx)

	bus := events.NewBus(log)

	streams := stream.NewManager(cfg.Binance.Testnet, bus, log)
	streams.Start(ctx)
	defer streams.Stop()

	market := marketdata.NewService(client, log)
	trader := trading.NewService(client, market, bus, cfg.Trading, log)

	engine := strategy.NewEngine(bus, cfg.Strategy, log)
	if err := loadStrategies(engine, market, trader, cfg, log); err != nil {
		return err
	}
	engine.StartAll(ctx)
	defer engine.StopAll()

	// Warm the price cache from the ticker stream for every traded
	// symbol and forward live data into the strategy windows.
	strategies := engine.Strategies()
	bySymbol := make(map[string][]strategy.Strategy)
	for _, s := range strategies {
		bySymbol[s.Symbol()] = append(bySymbol[s.Symbol()], s)
	}
	monitored := make([]string, 0, len(bySymbol))
	for sym := range bySymbol {
		monitored = append(monitored, sym)
	}
	onTick := func(symbol string, price float64) {
		for _, s := range bySymbol[symbol] {
			s.OnPriceUpdate(price)
		}
	}
	if _, err := market.MonitorPrices(streams, bus, monitored, onTick); err != nil {
		log.WithError(err).Warn("price monitoring unavailable")
	}
	subscribeKlines(streams, bus, strategies, log)

	startUserDataStream(ctx, client, streams, log)

	mon := monitor.New(bus, monitor.NewMetrics(), log)
	mon.Start(ctx)

	srv := api.NewServer(trader, market, streams, engine, cfg.JWTSecret, log)
	srv.SetMetrics(mon.Metrics())
	return srv.Run(ctx, ":"+cfg.APIPort)
}

// loadStrategies registers strategies from the YAML file when
// STRATEGIES_FILE is set, otherwise a single crossover strategy built
// from environment defaults.
func loadStrategies(engine *strategy.Engine, market *marketdata.Service, trader *trading.Service, cfg *config.Config, log *logger.Logger) error {
	if path := os.Getenv("STRATEGIES_FILE"); path != "" {
		fileCfgs, err := strategy.LoadConfigs(path)
		if err != nil {
			return err
		}
		for _, fc := range fileCfgs {
			if !fc.Enabled {
				continue
			}
			s, err := fc.Build(market, trader, cfg.Strategy, cfg.Trading, log)
			if err != nil {
				return err
			}
			engine.Add(s)
		}
		return nil
	}

	engine.Add(strategy.NewMACross(cfg.Trading.DefaultSymbol, market, trader, cfg.Strategy, cfg.Trading, log))
	return nil
}

// subscribeKlines feeds closed candles from each strategy's interval
// stream into its rolling window.
func subscribeKlines(streams *stream.Manager, bus *events.Bus, strategies []strategy.Strategy, log *logger.Logger) {
	for _, s := range strategies {
		event, err := streams.SubscribeKline(s.Symbol(), s.Interval())
		if err != nil {
			log.WithError(err).WithSymbol(s.Symbol()).Warn("kline subscription failed")
			continue
		}
		target := s
		bus.Subscribe(event, func(payload any) {
			ev, ok := payload.(stream.KlineEvent)
			if !ok || !ev.IsFinal {
				return
			}
			target.OnKlineUpdate(binance.Kline{
				Symbol:   ev.Symbol,
				OpenTime: ev.OpenTime,
				Open:     ev.Open,
				High:     ev.High,
				Low:      ev.Low,
				Close:    ev.Close,
				Volume:   ev.Volume,
			})
		})
	}
}

// startUserDataStream opens the account event stream and keeps the
// listen key alive. Failure is non-fatal, order state still comes back
// through REST responses.
func startUserDataStream(ctx context.Context, client *binance.Client, streams *stream.Manager, log *logger.Logger) {
	listenKey, err := client.CreateListenKey(ctx)
	if err != nil {
		log.WithError(err).Warn("user data stream unavailable")
		return
	}
	if _, err := streams.SubscribeUserData(listenKey); err != nil {
		log.WithError(err).Warn("user data subscription failed")
		return
	}

	go func() {
		ticker := time.NewTicker(listenKeyKeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := client.CloseListenKey(closeCtx, listenKey); err != nil {
					log.WithError(err).Debug("listen key close failed")
				}
				cancel()
				return
			case <-ticker.C:
				if err := client.KeepAliveListenKey(ctx, listenKey); err != nil {
					log.WithError(err).Warn("listen key keepalive failed")
				}
			}
		}
	}()
}
