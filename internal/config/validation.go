package config

import (
	"fmt"
	"strings"
	"time"
)

func validate(c *Config) error {
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Upstream.validate(); err != nil {
		return err
	}
	if err := c.Reconcile.validate(); err != nil {
		return err
	}
	if err := c.Display.validate(); err != nil {
		return err
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if strings.TrimSpace(m.Symbol) == "" {
		return fmt.Errorf("market.symbol cannot be empty")
	}
	if IntervalDuration(m.Interval) == 0 {
		return fmt.Errorf("market.interval is not a valid interval: %q", m.Interval)
	}
	if strings.TrimSpace(m.RESTBaseURL) == "" {
		return fmt.Errorf("market.rest_base_url cannot be empty")
	}
	if m.MaxCached < 50 || m.MaxCached > 1000 {
		return fmt.Errorf("market.max_cached must be in [50,1000]")
	}
	return nil
}

func (u *UpstreamConfig) validate() error {
	if strings.TrimSpace(u.BaseURL) == "" {
		return fmt.Errorf("upstream.base_url cannot be empty")
	}
	if u.TimeoutSeconds <= 0 {
		return fmt.Errorf("upstream.timeout_seconds must be > 0")
	}
	if u.BackfillDebounceMS < 0 {
		return fmt.Errorf("upstream.backfill_debounce_ms must be >= 0")
	}
	if u.BackfillWindowMinutes <= 0 {
		return fmt.Errorf("upstream.backfill_window_minutes must be > 0")
	}
	return nil
}

func (r *ReconcileConfig) validate() error {
	// Below one second the monitor ticks too hot for a 5s heartbeat cadence.
	if r.StalenessThreshold() < time.Second {
		return fmt.Errorf("reconcile.staleness_threshold_ms must be >= 1000")
	}
	return nil
}

func (d *DisplayConfig) validate() error {
	switch d.Mode {
	case "utc", "local":
	case "named":
		if d.Timezone == "" {
			return fmt.Errorf("display.mode=named requires display.timezone")
		}
	default:
		return fmt.Errorf("display.mode must be utc, local or named, got %q", d.Mode)
	}
	return nil
}
