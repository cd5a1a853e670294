package config

import (
	"strings"
	"time"
)

// Config is the top level configuration for tracer.
type Config struct {
	App       AppConfig       `toml:"app"`
	Market    MarketConfig    `toml:"market"`
	Upstream  UpstreamConfig  `toml:"upstream"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Display   DisplayConfig   `toml:"display"`
	Snapshot  SnapshotConfig  `toml:"snapshot"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// MarketConfig selects the candle feed the price lines are drawn over.
type MarketConfig struct {
	Symbol      string `toml:"symbol"`
	Interval    string `toml:"interval"`
	RESTBaseURL string `toml:"rest_base_url"`
	MaxCached   int    `toml:"max_cached"`
}

// UpstreamConfig describes the strategy producer's REST surface used for
// event backfill and instance discovery.
type UpstreamConfig struct {
	BaseURL               string `toml:"base_url"`
	TimeoutSeconds        int    `toml:"timeout_seconds"`
	BackfillDebounceMS    int    `toml:"backfill_debounce_ms"`
	BackfillWindowMinutes int    `toml:"backfill_window_minutes"`
}

func (u UpstreamConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutSeconds) * time.Second
}

func (u UpstreamConfig) BackfillDebounce() time.Duration {
	return time.Duration(u.BackfillDebounceMS) * time.Millisecond
}

func (u UpstreamConfig) BackfillWindow() time.Duration {
	return time.Duration(u.BackfillWindowMinutes) * time.Minute
}

type ReconcileConfig struct {
	StalenessThresholdMS int `toml:"staleness_threshold_ms"`
}

func (r ReconcileConfig) StalenessThreshold() time.Duration {
	return time.Duration(r.StalenessThresholdMS) * time.Millisecond
}

// DisplayConfig holds the temporal presentation settings. When SettingsPath
// is set, the loader package watches that file and overrides Mode and
// Timezone at runtime without a restart.
type DisplayConfig struct {
	Mode         string `toml:"mode"`
	Timezone     string `toml:"timezone"`
	SettingsPath string `toml:"settings_path"`
}

// SnapshotConfig controls headless PNG rendering of the chart page.
type SnapshotConfig struct {
	Enabled bool `toml:"enabled"`
	Width   int  `toml:"width"`
	Height  int  `toml:"height"`
}

// BucketWidth derives the display bucket from the candle interval, so
// markers land on the candle they belong to.
func (m MarketConfig) BucketWidth() time.Duration {
	return IntervalDuration(m.Interval)
}

// IntervalDuration converts an exchange interval string like "1m" or "4h"
// into a duration. Unknown strings yield zero.
func IntervalDuration(interval string) time.Duration {
	s := strings.ToLower(strings.TrimSpace(interval))
	if len(s) < 2 {
		return 0
	}
	n := 0
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0
		}
		n = n*10 + int(s[i]-'0')
	}
	if n <= 0 {
		return 0
	}
	switch s[len(s)-1] {
	case 'm':
		return time.Duration(n) * time.Minute
	case 'h':
		return time.Duration(n) * time.Hour
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour
	default:
		return 0
	}
}

// keySet tracks which field paths the config files set explicitly.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes the default rule for a single field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
