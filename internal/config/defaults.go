package config

import "strings"

const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9992"
	defaultAppLogPath        = "/data/logs/tracer.log"
	defaultMarketSymbol      = "BTCUSDT"
	defaultMarketInterval    = "1m"
	defaultMarketREST        = "https://api.binance.com"
	defaultMarketMaxCached   = 500
	defaultUpstreamTimeout   = 10
	defaultBackfillDebounce  = 2000
	defaultBackfillWindow    = 240
	defaultStalenessMS       = 7000
	defaultDisplayMode       = "utc"
	defaultSnapshotWidth     = 1600
	defaultSnapshotHeight    = 900
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Upstream.applyDefaults(keys)
	c.Reconcile.applyDefaults(keys)
	c.Display.applyDefaults(keys)
	c.Snapshot.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.symbol", &m.Symbol, defaultMarketSymbol),
		stringFieldDefault("market.interval", &m.Interval, defaultMarketInterval),
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		fieldDefault{
			key:   "market.max_cached",
			need:  func() bool { return m.MaxCached <= 0 },
			apply: func() { m.MaxCached = defaultMarketMaxCached },
		},
	)
	m.Symbol = strings.ToUpper(strings.TrimSpace(m.Symbol))
	m.Interval = strings.ToLower(strings.TrimSpace(m.Interval))
}

func (u *UpstreamConfig) applyDefaults(keys keySet) {
	if u == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "upstream.timeout_seconds",
			need:  func() bool { return u.TimeoutSeconds <= 0 },
			apply: func() { u.TimeoutSeconds = defaultUpstreamTimeout },
		},
		fieldDefault{
			key:   "upstream.backfill_debounce_ms",
			need:  func() bool { return u.BackfillDebounceMS <= 0 },
			apply: func() { u.BackfillDebounceMS = defaultBackfillDebounce },
		},
		fieldDefault{
			key:   "upstream.backfill_window_minutes",
			need:  func() bool { return u.BackfillWindowMinutes <= 0 },
			apply: func() { u.BackfillWindowMinutes = defaultBackfillWindow },
		},
	)
}

func (r *ReconcileConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "reconcile.staleness_threshold_ms",
			need:  func() bool { return r.StalenessThresholdMS <= 0 },
			apply: func() { r.StalenessThresholdMS = defaultStalenessMS },
		},
	)
}

func (d *DisplayConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("display.mode", &d.Mode, defaultDisplayMode),
	)
	d.Mode = strings.ToLower(strings.TrimSpace(d.Mode))
	d.Timezone = strings.TrimSpace(d.Timezone)
}

func (s *SnapshotConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "snapshot.width",
			need:  func() bool { return s.Width <= 0 },
			apply: func() { s.Width = defaultSnapshotWidth },
		},
		fieldDefault{
			key:   "snapshot.height",
			need:  func() bool { return s.Height <= 0 },
			apply: func() { s.Height = defaultSnapshotHeight },
		},
	)
}

// applyFieldDefaults runs each rule unless the key was set explicitly in
// the config files. An explicit value wins even when it equals the zero
// value of its type.
func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
