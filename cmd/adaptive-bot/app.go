package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ducminhle1904/adaptive-dip-bot/internal/api"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/config"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/engine"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/events"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/exchange"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/exchange/bybit"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/exchange/paper"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/exchange/router"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/ledger"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/logger"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/monitoring"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/notifications"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/pricing"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/safety"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/state"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/state/postgres"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/storage/clickhouse"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/triggers"
)

// app holds the wired components of one run
type app struct {
	cfg    *config.Config
	logger *logger.Logger
	bus    *events.Bus
	engine *engine.Engine
	server *api.Server

	archiveCancel context.CancelFunc
	archiveDone   sync.WaitGroup
	closers       []func()
}

// options are the command-line switches that change wiring
type options struct {
	demo    bool
	offline bool // status and report runs only read the snapshot
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger, opts options) (*app, error) {
	a := &app{cfg: cfg, logger: log}
	if !opts.offline {
		a.bus = events.NewBus(log.Named("bus"))
	}

	var publisher events.Publisher
	if a.bus != nil {
		publisher = a.bus
	}
	prices := pricing.NewStore(pricing.Config{
		Retention:            cfg.Engine.Retention,
		SMARecomputeInterval: cfg.Engine.SMARecomputeInterval,
	}, publisher)
	validator := safety.NewValidator()

	quotes, err := buildQuotes(cfg, log, opts)
	if err != nil {
		return nil, err
	}
	executor, err := buildExecutor(cfg, prices, opts)
	if err != nil {
		return nil, err
	}
	snapshots, err := a.openSnapshots(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	health := monitoring.NewHealthChecker(3 * cfg.Engine.RefreshInterval)
	metrics := monitoring.NewMetrics(health)

	deps := engine.Deps{
		Prices:    prices,
		Ledger:    ledger.New(),
		Triggers:  triggers.NewBook(validator),
		Quotes:    quotes,
		Executor:  executor,
		Snapshots: snapshots,
		Logger:    log.Named("engine"),
		Metrics:   metrics,
		Validator: validator,
	}
	if publisher != nil {
		deps.Events = publisher
	}
	a.engine, err = engine.New(engine.Config{
		RefreshInterval:        cfg.Engine.RefreshInterval,
		QuoteTimeout:           cfg.Engine.QuoteTimeout,
		TradeTimeout:           cfg.Engine.TradeTimeout,
		StaleBound:             cfg.Engine.StaleBound,
		MaxConsecutiveFailures: cfg.Engine.MaxConsecutiveFailures,
		DropAfter:              cfg.Engine.DropAfter,
		SnapshotInterval:       cfg.Engine.SnapshotInterval,
		Wallet:                 cfg.Engine.Wallet,
		BaseToken:              cfg.Engine.BaseToken,
	}, deps)
	if err != nil {
		a.close()
		return nil, err
	}
	if opts.offline {
		return a, nil
	}

	a.bus.Subscribe("metrics", 256, func(ev events.Event) error {
		metrics.EventSeen(string(ev.GetType()))
		return nil
	})

	if cfg.Notifications.Enabled {
		notifier := notifications.NewTelegramNotifier(cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChat)
		notifications.NewDispatcher(notifier, log.Named("notify")).Subscribe(a.bus, cfg.Notifications.QueueSize)
		log.Info("Telegram notifications enabled")
	}

	if cfg.Archive.Enabled {
		if err := a.startArchive(ctx); err != nil {
			a.close()
			return nil, err
		}
	}

	if cfg.Monitoring.Enabled {
		hub := api.NewHub(cfg.Monitoring.AllowedOrigins, log.Named("ws"))
		hub.Subscribe(a.bus, 256)
		a.server = api.NewServer(api.Config{
			ListenAddr:     cfg.Monitoring.ListenAddr,
			AllowedOrigins: cfg.Monitoring.AllowedOrigins,
		}, a.engine,
			api.WithHealth(health),
			api.WithMetrics(metrics.Handler()),
			api.WithHub(hub),
			api.WithLogger(log.Named("api")),
		)
	}
	return a, nil
}

// buildQuotes orders the configured sources: router first, then bybit. A
// demo run quotes a simulated market instead.
func buildQuotes(cfg *config.Config, log *logger.Logger, opts options) (*exchange.QuoteChain, error) {
	var sources []exchange.QuoteProvider
	if opts.demo {
		sources = append(sources, paper.NewWalk(paper.WalkConfig{
			StartPrice: 1,
			Volatility: 0.02,
			Seed:       time.Now().UnixNano(),
		}, nil))
		return exchange.NewQuoteChain(log.Named("quotes"), sources...), nil
	}

	if cfg.Quote.RouterURL != "" {
		rc, err := router.NewClient(router.Config{
			BaseURL:           cfg.Quote.RouterURL,
			APIKey:            cfg.Quote.RouterAPIKey,
			Timeout:           cfg.Engine.QuoteTimeout,
			RequestsPerSecond: cfg.Quote.RequestsPerSecond,
		})
		if err != nil {
			return nil, fmt.Errorf("router quote source: %w", err)
		}
		sources = append(sources, rc)
	}
	if b := cfg.Quote.Bybit; b.Enabled {
		sources = append(sources, bybit.NewClient(bybit.Config{
			Testnet:      b.Testnet,
			Category:     b.Category,
			QuoteCoin:    b.QuoteCoin,
			Symbols:      b.Symbols,
			StableTokens: b.StableTokens,
		}))
	}
	return exchange.NewQuoteChain(log.Named("quotes"), sources...), nil
}

func buildExecutor(cfg *config.Config, prices *pricing.Store, opts options) (exchange.SwapExecutor, error) {
	if opts.demo || cfg.Execution.Mode == config.ExecutionPaper {
		return paper.NewExecutor(prices, paper.Config{
			SlippagePercent: cfg.Execution.PaperSlippage,
			FeePercent:      cfg.Execution.PaperFee,
			MaxSafeAmount:   cfg.Execution.PaperMaxSafeAmount,
		}), nil
	}
	rc, err := router.NewClient(router.Config{
		BaseURL:           cfg.Execution.RouterURL,
		APIKey:            cfg.Execution.RouterAPIKey,
		Timeout:           cfg.Engine.TradeTimeout,
		RequestsPerSecond: cfg.Quote.RequestsPerSecond,
	})
	if err != nil {
		return nil, fmt.Errorf("router executor: %w", err)
	}
	return rc, nil
}

func (a *app) openSnapshots(ctx context.Context) (state.Store, error) {
	p := a.cfg.Persistence
	switch p.Backend {
	case config.BackendFile:
		return state.NewFileStore(p.Path, p.Backups)
	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, p.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		return postgres.NewStore(ctx, pool, p.Table, "")
	default:
		return state.Nop{}, nil
	}
}

func (a *app) startArchive(ctx context.Context) error {
	c := a.cfg.Archive
	conn, err := clickhouse.NewConn(ctx, c.DSN)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() { conn.Close() })
	if err := clickhouse.Migrate(ctx, conn, c.Table); err != nil {
		return err
	}
	archive, err := clickhouse.NewPriceArchive(conn, clickhouse.Config{
		Table:         c.Table,
		BatchSize:     c.BatchSize,
		FlushInterval: c.FlushInterval,
	}, a.logger.Named("archive"))
	if err != nil {
		return err
	}
	archive.Subscribe(a.bus)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.archiveCancel = cancel
	a.archiveDone.Add(1)
	go func() {
		defer a.archiveDone.Done()
		archive.Run(runCtx)
	}()
	a.logger.Info("Archiving prices to ClickHouse table %s", c.Table)
	return nil
}

// run starts the engine, seeds the configured registries and serves until
// ctx is cancelled
func (a *app) run(ctx context.Context) error {
	if err := a.engine.Start(ctx); err != nil {
		return err
	}
	a.seed(ctx)

	if a.server != nil {
		go func() {
			if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.LogError("api server", err)
			}
		}()
	}

	<-ctx.Done()
	a.logger.Status("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if a.server != nil {
		if err := a.server.Stop(shutdownCtx); err != nil {
			a.logger.LogError("api shutdown", err)
		}
	}
	return a.engine.Stop(shutdownCtx)
}

// seed adds configured assets, strategies and triggers. Entries restored
// from the snapshot under the same id are left alone.
func (a *app) seed(ctx context.Context) {
	for _, ac := range a.cfg.Assets {
		spec := engine.AssetSpec{Address: ac.Address, Symbol: ac.Symbol, BaseToken: ac.BaseToken}
		if err := a.engine.AddAsset(ctx, spec); err != nil {
			a.logger.LogError("seed asset "+ac.Address, err)
		}
	}

	for _, sc := range a.cfg.Strategies {
		id := sc.ID
		if _, exists := a.engine.StrategyStatus(id); id == "" || !exists {
			st, err := a.engine.CreateStrategy(ctx, sc.ToStrategy())
			if err != nil {
				a.logger.LogError("seed strategy "+sc.Name, err)
				continue
			}
			id = st.ID
			if sc.AutoStart {
				if err := a.engine.StartStrategy(id); err != nil {
					a.logger.LogError("start strategy "+id, err)
				}
			}
		}
	}

	existing := make(map[string]bool)
	for _, t := range a.engine.Triggers() {
		existing[t.ID] = true
	}
	for _, tc := range a.cfg.Triggers {
		if tc.ID != "" && existing[tc.ID] {
			continue
		}
		if _, err := a.engine.CreateTrigger(ctx, tc.ToTrigger()); err != nil {
			a.logger.LogError("seed trigger "+tc.ID, err)
		}
	}
}

// close drains the bus into its subscribers, flushes the archive and
// releases connections in reverse order
func (a *app) close() {
	if a.bus != nil {
		a.bus.Close()
	}
	if a.archiveCancel != nil {
		a.archiveCancel()
		a.archiveDone.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
