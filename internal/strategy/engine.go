package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cryptobot/internal/events"
	"cryptobot/pkg/config"
	"cryptobot/pkg/logger"
)

const errorPause = 5 * time.Second

// Engine runs registered strategies, each on its own evaluation loop,
// and publishes their signals on the event bus.
type Engine struct {
	bus *events.Bus
	cfg config.StrategyConfig
	log *logger.Logger

	mu         sync.Mutex
	ctx        context.Context
	strategies map[string]Strategy
	running    map[string]context.CancelFunc
	wg         sync.WaitGroup

	// sleep is swapped out in tests to fast-forward the loop.
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewEngine builds an empty strategy engine.
func NewEngine(bus *events.Bus, cfg config.StrategyConfig, log *logger.Logger) *Engine {
	return &Engine{
		bus:        bus,
		cfg:        cfg,
		log:        log.WithComponent("engine"),
		strategies: make(map[string]Strategy),
		running:    make(map[string]context.CancelFunc),
		sleep:      sleepCtx,
	}
}

// Add registers a strategy under its name.
func (e *Engine) Add(s Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies[s.Name()] = s
}

// Strategies returns the registered strategies.
func (e *Engine) Strategies() []Strategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Strategy, 0, len(e.strategies))
	for _, s := range e.strategies {
		out = append(out, s)
	}
	return out
}

// Bind sets the root context strategy loops run under. It must be
// called before Start.
func (e *Engine) Bind(ctx context.Context) {
	e.mu.Lock()
	e.ctx = ctx
	e.mu.Unlock()
}

// Start launches one strategy's evaluation loop.
func (e *Engine) Start(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx == nil {
		return fmt.Errorf("engine not bound to a context")
	}
	s, ok := e.strategies[name]
	if !ok {
		return fmt.Errorf("unknown strategy %q", name)
	}
	if _, already := e.running[name]; already {
		return fmt.Errorf("strategy %q already running", name)
	}

	runCtx, cancel := context.WithCancel(e.ctx)
	e.running[name] = cancel
	e.wg.Add(1)
	go e.runLoop(runCtx, s)
	e.log.Infof("started strategy %s on %s", name, s.Symbol())
	return nil
}

// Stop halts one strategy's loop.
func (e *Engine) Stop(name string) error {
	e.mu.Lock()
	cancel, ok := e.running[name]
	if ok {
		delete(e.running, name)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("strategy %q not running", name)
	}
	cancel()
	e.log.Infof("stopped strategy %s", name)
	return nil
}

// StartAll launches every registered strategy.
func (e *Engine) StartAll(ctx context.Context) {
	e.Bind(ctx)
	e.mu.Lock()
	names := make([]string, 0, len(e.strategies))
	for name := range e.strategies {
		names = append(names, name)
	}
	e.mu.Unlock()
	for _, name := range names {
		if err := e.Start(name); err != nil {
			e.log.WithError(err).Warnf("start %s", name)
		}
	}
}

// StopAll halts every running strategy and waits for the loops to exit.
func (e *Engine) StopAll() {
	e.mu.Lock()
	for name, cancel := range e.running {
		cancel()
		delete(e.running, name)
	}
	e.mu.Unlock()
	e.wg.Wait()
	e.log.Info("all strategies stopped")
}

// IsRunning reports whether a strategy's loop is active.
func (e *Engine) IsRunning(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[name]
	return ok
}

// Performance collects summaries from every registered strategy.
func (e *Engine) Performance() map[string]PerformanceSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]PerformanceSummary, len(e.strategies))
	for name, s := range e.strategies {
		out[name] = s.Performance()
	}
	return out
}

// runLoop evaluates a strategy on the configured cadence. A failed
// evaluation pauses longer before the next try; a clean no-signal pass
// just waits the loop interval.
func (e *Engine) runLoop(ctx context.Context, s Strategy) {
	defer e.wg.Done()
	log := e.log.WithSymbol(s.Symbol())

	if err := s.Start(ctx); err != nil {
		log.WithError(err).Warnf("%s started without seed history", s.Name())
	}
	defer s.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		sig, err := s.GenerateSignal(ctx)
		switch {
		case err != nil:
			log.WithError(err).Warnf("%s evaluation failed", s.Name())
			if !e.sleep(ctx, errorPause) {
				return
			}
			continue
		case sig != nil:
			e.bus.Publish(EventSignal, *sig)
			if _, err := s.ExecuteSignal(ctx, sig); err != nil {
				log.WithError(err).Warnf("%s signal execution failed", s.Name())
			}
		}

		if !e.sleep(ctx, e.cfg.LoopInterval) {
			return
		}
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
