package app

import (
	"context"
	"fmt"
	"time"

	"nautgate/internal/backtest"
	ngcfg "nautgate/internal/config"
	"nautgate/internal/coordinator"
	"nautgate/internal/gateway/binance"
	"nautgate/internal/gateway/engine"
	"nautgate/internal/gateway/sim"
	"nautgate/internal/ledger"
	"nautgate/internal/logger"
	"nautgate/internal/session"
	"nautgate/internal/store/gormstore"
	opshttp "nautgate/internal/transport/http/ops"
)

// AppBuilder assembles the gateway from config. Constructor funcs are fields
// so tests can substitute fakes without touching the wiring order.
type AppBuilder struct {
	cfg *ngcfg.Config

	facadeFn   func(*ngcfg.Config) (engine.Facade, error)
	storeFn    func(string) (ledger.Persister, error)
	backtestFn func(ngcfg.BacktestConfig) (*backtest.Service, error)
	opsHTTPFn  func(ngcfg.AppConfig, *coordinator.Coordinator) (*opshttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *ngcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		facadeFn:   buildFacade,
		storeFn:    buildOrderStore,
		backtestFn: buildBacktestService,
		opsHTTPFn:  buildOpsHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithFacade overrides facade construction, used by test harnesses.
func WithFacade(f engine.Facade) AppBuilderOption {
	return func(b *AppBuilder) {
		b.facadeFn = func(*ngcfg.Config) (engine.Facade, error) { return f, nil }
	}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	facade, err := b.facadeFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("build engine facade: %w", err)
	}

	store, err := b.storeFn(cfg.Ledger.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open order store: %w", err)
	}

	sess := session.NewSession()
	venues := session.NewManager(sess, facade, secs(cfg.Engine.ConnectTimeoutSec))
	if sink, ok := store.(session.AuditSink); ok {
		venues.SetAuditSink(sink)
	}
	orders := ledger.New(store)
	core := coordinator.New(facade, sess, venues, orders, coordinator.Options{
		DefaultTimeout:   secs(cfg.Engine.DefaultTimeoutSec),
		HeartbeatTimeout: secs(cfg.Engine.HeartbeatTimeoutSec),
		BreakerThreshold: cfg.Engine.BreakerThreshold,
		BreakerCooloff:   secs(cfg.Engine.BreakerCooloffSec),
	})

	var backtests *backtest.Service
	if cfg.Backtest.Enabled {
		backtests, err = b.backtestFn(cfg.Backtest)
		if err != nil {
			return nil, fmt.Errorf("build backtest service: %w", err)
		}
		core.AttachBacktest(backtests)
	}

	server, err := b.opsHTTPFn(cfg.App, core)
	if err != nil {
		return nil, fmt.Errorf("build ops http server: %w", err)
	}

	logger.Infof("app: engine mode=%s http=%s backtest=%t",
		cfg.Engine.Mode, server.Addr(), cfg.Backtest.Enabled)
	return &App{
		cfg:       cfg,
		core:      core,
		opsHTTP:   server,
		backtests: backtests,
	}, nil
}

func buildFacade(cfg *ngcfg.Config) (engine.Facade, error) {
	switch cfg.Engine.Mode {
	case "", "sim":
		f := sim.New()
		if cfg.Engine.CatalogPath != "" {
			if err := f.LoadCatalog(cfg.Engine.CatalogPath); err != nil {
				return nil, err
			}
		}
		return f, nil
	case "binance":
		return binance.New(binance.Config{Testnet: cfg.Engine.Testnet})
	default:
		return nil, fmt.Errorf("unknown engine mode %q", cfg.Engine.Mode)
	}
}

func buildOrderStore(path string) (ledger.Persister, error) {
	if path == "" {
		return nil, nil
	}
	return gormstore.NewGormStore(path)
}

func buildBacktestService(cfg ngcfg.BacktestConfig) (*backtest.Service, error) {
	var store *backtest.JobStore
	if cfg.DataDir != "" {
		s, err := backtest.NewJobStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		store = s
	}
	return backtest.NewService(backtest.ServiceConfig{
		Runner:          backtest.NewReplayRunner(cfg.DataDir),
		Store:           store,
		RateLimitPerMin: cfg.RateLimitPerMin,
		MaxConcurrent:   cfg.MaxConcurrent,
	})
}

func buildOpsHTTPServer(cfg ngcfg.AppConfig, core *coordinator.Coordinator) (*opshttp.Server, error) {
	return opshttp.NewServer(opshttp.ServerConfig{Addr: cfg.HTTPAddr, Core: core})
}

func secs(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
