package app

import (
	"context"
	"fmt"
	"time"

	"tracer/internal/backfill"
	"tracer/internal/chart"
	trcfg "tracer/internal/config"
	cfgloader "tracer/internal/config/loader"
	"tracer/internal/feed"
	binancegw "tracer/internal/gateway/binance"
	"tracer/internal/gateway/upstream"
	"tracer/internal/logger"
	"tracer/internal/market"
	"tracer/internal/session"
	"tracer/internal/timeaxis"
	livehttp "tracer/internal/transport/http/live"
)

// AppBuilder assembles the live chart stack step by step. The function
// fields exist so tests can substitute a single stage.
type AppBuilder struct {
	cfg *trcfg.Config

	marketSourceFn func(trcfg.MarketConfig) (market.Source, error)
	upstreamFn     func(trcfg.UpstreamConfig, *feed.Decoder) (*upstream.Client, error)
	liveHTTPFn     func(trcfg.AppConfig, *livehttp.Router) (*livehttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *trcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:            cfg,
		marketSourceFn: buildMarketSource,
		upstreamFn:     buildUpstreamClient,
		liveHTTPFn:     buildLiveHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildMarketSource(cfg trcfg.MarketConfig) (market.Source, error) {
	return binancegw.New(binancegw.Config{RESTBaseURL: cfg.RESTBaseURL}), nil
}

func buildUpstreamClient(cfg trcfg.UpstreamConfig, decoder *feed.Decoder) (*upstream.Client, error) {
	return upstream.NewClient(upstream.Config{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout()}, decoder)
}

func buildLiveHTTPServer(cfg trcfg.AppConfig, router *livehttp.Router) (*livehttp.Server, error) {
	return livehttp.NewServer(livehttp.ServerConfig{Addr: cfg.HTTPAddr, Router: router})
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

	decoder, err := feed.NewDecoder()
	if err != nil {
		return nil, fmt.Errorf("compiling feed schemas: %w", err)
	}

	source, err := b.marketSourceFn(cfg.Market)
	if err != nil {
		return nil, fmt.Errorf("building market source: %w", err)
	}
	store := market.NewCandleStore(cfg.Market.MaxCached)
	updater := market.NewUpdater(source, store, cfg.Market.Symbol, cfg.Market.Interval,
		cfg.Market.BucketWidth(), cfg.Market.MaxCached)

	display, displayLoader, err := resolveDisplay(cfg.Display)
	if err != nil {
		return nil, err
	}
	mode, err := timeaxis.ParseMode(display.Mode)
	if err != nil {
		return nil, err
	}
	bucket := int64(cfg.Market.BucketWidth() / time.Second)
	surface := chart.NewEChartsSurface(cfg.Market.Symbol, cfg.Market.Interval, store,
		timeaxis.New(mode, display.Zone, timeaxis.WithBucketAlignment(bucket)))
	surface.SetViewport(cfg.Snapshot.Width, cfg.Snapshot.Height)
	coord := chart.NewCoordinator(surface,
		timeaxis.New(mode, display.Zone, timeaxis.WithBucketAlignment(bucket)))

	producer, err := b.upstreamFn(cfg.Upstream, decoder)
	if err != nil {
		return nil, fmt.Errorf("building upstream client: %w", err)
	}
	coalescer := backfill.NewCoalescer(producer, cfg.Upstream.BackfillDebounce())

	sess := session.New(session.Options{
		StalenessThreshold: cfg.Reconcile.StalenessThreshold(),
		BucketWidth:        cfg.Market.BucketWidth(),
		BackfillWindow:     cfg.Upstream.BackfillWindow(),
		Display:            display,
	}, coord, surface, coalescer, producer)

	if displayLoader != nil {
		displayLoader.Subscribe(func(snap cfgloader.DisplaySnapshot) {
			d := session.Display{Mode: snap.Settings.Mode, Zone: snap.Settings.Zone}
			if err := sess.ApplyDisplay(d); err != nil {
				logger.Errorf("app: rejected display settings v%d: %v", snap.Version, err)
			}
		})
	}

	router := livehttp.NewRouter(sess, surface, decoder, cfg.Snapshot.Enabled)
	server, err := b.liveHTTPFn(cfg.App, router)
	if err != nil {
		return nil, fmt.Errorf("building live http server: %w", err)
	}

	if cfg.Snapshot.Enabled {
		probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := chart.EnsureHeadlessAvailable(probeCtx); err != nil {
			logger.Warnf("app: png snapshots degraded, headless browser unavailable: %v", err)
		}
	}

	return &App{
		cfg:     cfg,
		session: sess,
		updater: updater,
		source:  source,
		server:  server,
	}, nil
}

// resolveDisplay merges the static display config with the hot-reloadable
// settings file when one is configured.
func resolveDisplay(cfg trcfg.DisplayConfig) (session.Display, *cfgloader.DisplayLoader, error) {
	display := session.Display{Mode: cfg.Mode, Zone: cfg.Timezone}
	if cfg.SettingsPath == "" {
		return display, nil, nil
	}
	loader, err := cfgloader.NewDisplayLoader(cfg.SettingsPath)
	if err != nil {
		return session.Display{}, nil, fmt.Errorf("starting display loader: %w", err)
	}
	snap := loader.Snapshot()
	display = session.Display{Mode: snap.Settings.Mode, Zone: snap.Settings.Zone}
	return display, loader, nil
}
