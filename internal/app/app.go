package app

import (
	"context"
	"fmt"

	trcfg "tracer/internal/config"
	"tracer/internal/logger"
	"tracer/internal/market"
	"tracer/internal/session"
	livehttp "tracer/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// App orchestrates the process: config in, session loop, market feed and
// HTTP server out.
type App struct {
	cfg     *trcfg.Config
	session *session.Session
	updater *market.Updater
	source  market.Source
	server  *livehttp.Server
}

// NewApp builds the application from config without starting it.
func NewApp(cfg *trcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run starts every component and blocks until one fails or ctx ends.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	logger.Infof("tracer starting symbol=%s interval=%s addr=%s",
		a.cfg.Market.Symbol, a.cfg.Market.Interval, a.server.Addr())

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("live http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		defer a.source.Close()
		if err := a.updater.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("market updater error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		if err := a.session.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("session loop error: %w", err)
		}
		return nil
	})

	return group.Wait()
}

// Session exposes the session loop for tests and replay harnesses.
func (a *App) Session() *session.Session {
	if a == nil {
		return nil
	}
	return a.session
}
