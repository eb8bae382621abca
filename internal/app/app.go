package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"kquant/internal/backtest"
	"kquant/internal/config"
	"kquant/internal/exchange"
	"kquant/internal/logger"
	"kquant/internal/market"
	"kquant/internal/notifier"
	"kquant/internal/risk"
	"kquant/internal/scheduler"
	"kquant/internal/strategy"
	"kquant/internal/trader"
	httpapi "kquant/internal/transport/http"
)

// App owns the wired components and their lifecycle: construct, run until
// the context ends, tear down.
type App struct {
	cfg      *config.Config
	store    *backtest.Store
	registry *strategy.Registry
	engine   *trader.Engine
	api      *httpapi.Server
}

func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	provider := market.NewCSVProvider(cfg.Data.Dir)

	store, err := backtest.NewStore(cfg.Backtest.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}

	svc := backtest.NewService(provider, store)
	if cfg.Strategies.EventsPath != "" {
		raw, err := os.ReadFile(cfg.Strategies.EventsPath)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("read event calendar: %w", err)
		}
		events, err := strategy.ParseEvents(raw)
		if err != nil {
			store.Close()
			return nil, err
		}
		svc.SetEvents(events)
	}

	registry, err := strategy.NewRegistry(cfg.Strategies.Path)
	if err != nil {
		store.Close()
		return nil, err
	}

	var notify notifier.TextNotifier = notifier.Nop{}
	if cfg.Notify.Telegram.Enabled {
		notify = notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	}

	var engine *trader.Engine
	if cfg.Trading.Enabled {
		loc, err := time.LoadLocation(cfg.Trading.Timezone)
		if err != nil {
			store.Close()
			registry.Close()
			return nil, fmt.Errorf("trading timezone: %w", err)
		}
		window, err := scheduler.NewTradingWindow(cfg.Trading.MarketOpen, cfg.Trading.MarketClose, loc)
		if err != nil {
			store.Close()
			registry.Close()
			return nil, err
		}
		seed := cfg.Backtest.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		broker := exchange.NewPaperBroker(cfg.Trading.SlippageTolerance, cfg.Backtest.KoreanStock, seed)
		riskman := risk.NewManager(cfg.Portfolio)

		engine = trader.NewEngine(trader.Config{
			Symbols:           cfg.Trading.Symbols,
			Strategies:        registry.Snapshot().Definitions,
			InitialCapital:    cfg.Backtest.InitialCapital,
			MaxOpenPositions:  cfg.Trading.MaxOpenPositions,
			DailyLossLimitPct: cfg.Trading.DailyLossLimitPct,
			DefaultStopPct:    cfg.Risk.StopPct,
			TrailingPct:       cfg.Risk.TrailingPct,
			PollInterval:      cfg.Trading.PollInterval(),
			PositionInterval:  cfg.Trading.PositionInterval(),
			RiskInterval:      cfg.Trading.RiskInterval(),
			HistoryDays:       cfg.Data.HistoryDays,
			Window:            window,
		}, provider, broker, riskman, notify)

		registry.OnChange(func(snap strategy.Snapshot) {
			engine.UpdateStrategies(snap.Definitions)
		})
	}

	api, err := httpapi.NewServer(httpapi.Config{
		Addr:           cfg.App.HTTPAddr,
		Service:        svc,
		Store:          store,
		Registry:       registry,
		Engine:         engine,
		DefaultRisk:    cfg.Risk,
		InitialCapital: cfg.Backtest.InitialCapital,
		CostBps:        cfg.Backtest.TransactionCostBps,
		SlippageBps:    cfg.Backtest.SlippageBps,
		KoreanStock:    cfg.Backtest.KoreanStock,
		MonteCarloRuns: cfg.Backtest.MonteCarloRuns,
		Seed:           cfg.Backtest.Seed,
	})
	if err != nil {
		store.Close()
		registry.Close()
		return nil, err
	}

	return &App{cfg: cfg, store: store, registry: registry, engine: engine, api: api}, nil
}

// Run serves HTTP and, when enabled, the live trading engine until ctx ends.
func (a *App) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return a.api.Run(ctx)
	})

	if a.engine != nil {
		if err := a.engine.Start(a.cfg.Trading.Symbols); err != nil {
			return err
		}
		group.Go(func() error {
			<-ctx.Done()
			if a.engine.State() == trader.StateRunning {
				if err := a.engine.Stop(false); err != nil {
					logger.Warnf("engine stop on shutdown: %v", err)
				}
			}
			return nil
		})
	}

	err := group.Wait()
	a.Close()
	return err
}

func (a *App) Close() {
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			logger.Warnf("close strategy registry: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("close run store: %v", err)
		}
	}
}
