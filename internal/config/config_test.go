package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "tracer.yaml", `
upstream:
  base_url: http://producer:8000
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", cfg.Market.Symbol)
	assert.Equal(t, "1m", cfg.Market.Interval)
	assert.Equal(t, "https://api.binance.com", cfg.Market.RESTBaseURL)
	assert.Equal(t, 500, cfg.Market.MaxCached)
	assert.Equal(t, ":9992", cfg.App.HTTPAddr)
	assert.Equal(t, "utc", cfg.Display.Mode)
	assert.Equal(t, 7*time.Second, cfg.Reconcile.StalenessThreshold())
	assert.Equal(t, 2*time.Second, cfg.Upstream.BackfillDebounce())
	assert.Equal(t, 4*time.Hour, cfg.Upstream.BackfillWindow())
}

func TestLoadExplicitValuesWin(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "tracer.yaml", `
market:
  symbol: ethusdt
  interval: 4h
  max_cached: 200
upstream:
  base_url: http://producer:8000
  backfill_debounce_ms: 500
reconcile:
  staleness_threshold_ms: 12000
display:
  mode: named
  timezone: Europe/Berlin
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", cfg.Market.Symbol)
	assert.Equal(t, "4h", cfg.Market.Interval)
	assert.Equal(t, 4*time.Hour, cfg.Market.BucketWidth())
	assert.Equal(t, 500*time.Millisecond, cfg.Upstream.BackfillDebounce())
	assert.Equal(t, 12*time.Second, cfg.Reconcile.StalenessThreshold())
	assert.Equal(t, "Europe/Berlin", cfg.Display.Timezone)
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
upstream:
  base_url: http://producer:8000
market:
  symbol: btcusdt
`)
	path := writeConfig(t, dir, "tracer.yaml", `
include:
  - base.yaml
market:
  symbol: solusdt
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "SOLUSDT", cfg.Market.Symbol, "including file overrides included one")
	assert.Equal(t, "http://producer:8000", cfg.Upstream.BaseURL)
}

func TestLoadRejectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "include: [b.yaml]\n")
	path := writeConfig(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoadValidation(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"missing upstream url": `
market:
  symbol: btcusdt
`,
		"bad interval": `
upstream: {base_url: http://producer:8000}
market: {interval: fast}
`,
		"bad display mode": `
upstream: {base_url: http://producer:8000}
display: {mode: sidereal}
`,
		"named without zone": `
upstream: {base_url: http://producer:8000}
display: {mode: named}
`,
		"staleness too low": `
upstream: {base_url: http://producer:8000}
reconcile: {staleness_threshold_ms: 100}
`,
	}
	for name, body := range cases {
		path := writeConfig(t, dir, "case.yaml", body)
		_, err := Load(path)
		assert.Error(t, err, name)
	}
}

func TestIntervalDuration(t *testing.T) {
	assert.Equal(t, time.Minute, IntervalDuration("1m"))
	assert.Equal(t, 15*time.Minute, IntervalDuration("15m"))
	assert.Equal(t, 24*time.Hour, IntervalDuration("1d"))
	assert.Equal(t, 7*24*time.Hour, IntervalDuration("1w"))
	assert.Zero(t, IntervalDuration(""))
	assert.Zero(t, IntervalDuration("m"))
	assert.Zero(t, IntervalDuration("1x"))
	assert.Zero(t, IntervalDuration("0m"))
}
