package app

import (
	"context"
	"fmt"
	"time"

	"nautgate/internal/backtest"
	ngcfg "nautgate/internal/config"
	"nautgate/internal/coordinator"
	"nautgate/internal/logger"
	opshttp "nautgate/internal/transport/http/ops"

	"golang.org/x/sync/errgroup"
)

// App owns application-level orchestration: config in, wired gateway out,
// serve until canceled.
type App struct {
	cfg       *ngcfg.Config
	core      *coordinator.Coordinator
	opsHTTP   *opshttp.Server
	backtests *backtest.Service
}

// NewApp builds the application object from config without starting it.
func NewApp(cfg *ngcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run serves until ctx is canceled, then drains in-flight work and shuts the
// session down.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	group, ctx := errgroup.WithContext(ctx)

	if a.backtests != nil {
		a.backtests.SetContext(ctx)
	}

	group.Go(func() error {
		if err := a.opsHTTP.Start(ctx); err != nil {
			return fmt.Errorf("ops http server error: %w", err)
		}
		return nil
	})

	if a.cfg.Ledger.RetentionHours > 0 {
		group.Go(func() error {
			a.runPurgeLoop(ctx)
			return nil
		})
	}

	group.Go(func() error {
		<-ctx.Done()
		if a.backtests != nil {
			a.backtests.Wait()
		}
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.core.Shutdown(shCtx); err != nil {
			logger.Warnf("app: shutdown: %v", err)
		}
		return nil
	})

	return group.Wait()
}

// Coordinator exposes the operation core (for testing and replay harnesses).
func (a *App) Coordinator() *coordinator.Coordinator {
	if a == nil {
		return nil
	}
	return a.core
}

func (a *App) runPurgeLoop(ctx context.Context) {
	interval := time.Duration(a.cfg.Ledger.PurgeIntervalMin) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	horizon := time.Duration(a.cfg.Ledger.RetentionHours) * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.core.PurgeOrders(horizon); n > 0 {
				logger.Infof("app: purged %d terminal orders older than %s", n, horizon)
			}
		}
	}
}
