// Package loader watches the display settings file so the temporal
// presentation of the chart can change without a restart.
package loader

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tracer/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DisplaySettings is what the watched file carries. Zone is only consulted
// when Mode is "named".
type DisplaySettings struct {
	Mode string `mapstructure:"mode"`
	Zone string `mapstructure:"timezone"`
}

// DisplaySnapshot is the read-only view handed to listeners.
type DisplaySnapshot struct {
	Version  int64
	LoadedAt time.Time
	Settings DisplaySettings
}

// ChangeListener is called on every accepted reload.
type ChangeListener func(DisplaySnapshot)

// DisplayLoader reads the display settings file and republishes it on
// filesystem change. A reload that fails to parse keeps the previous
// snapshot in place.
type DisplayLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  DisplaySnapshot
	listeners []ChangeListener
}

// NewDisplayLoader reads the file once and starts watching it.
func NewDisplayLoader(path string) (*DisplayLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("display loader requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read display settings failed: %w", err)
	}
	loader := &DisplayLoader{path: path, v: v}
	if err := loader.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := loader.reload(); err != nil {
			logger.Errorf("display settings reload failed (%s): %v", evt.Name, err)
			return
		}
		loader.notify()
	})
	v.WatchConfig()
	return loader, nil
}

// Snapshot returns the current settings.
func (l *DisplayLoader) Snapshot() DisplaySnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot
}

// Subscribe registers a listener and immediately delivers the current
// snapshot to it.
func (l *DisplayLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := l.snapshot
	l.mu.Unlock()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("display listener panic: %v", r)
			}
		}()
		fn(snap)
	}()
}

func (l *DisplayLoader) notify() {
	l.mu.RLock()
	snap := l.snapshot
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("display listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func (l *DisplayLoader) reload() error {
	var settings DisplaySettings
	if err := l.v.Unmarshal(&settings); err != nil {
		return fmt.Errorf("parse display settings failed: %w", err)
	}
	settings.Mode = strings.ToLower(strings.TrimSpace(settings.Mode))
	settings.Zone = strings.TrimSpace(settings.Zone)
	switch settings.Mode {
	case "utc", "local":
	case "named":
		if settings.Zone == "" {
			return fmt.Errorf("display mode named requires a timezone")
		}
	case "":
		settings.Mode = "utc"
	default:
		return fmt.Errorf("unknown display mode %q", settings.Mode)
	}
	l.mu.Lock()
	l.snapshot = DisplaySnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Settings: settings,
	}
	l.mu.Unlock()
	logger.Infof("display settings reloaded mode=%s from %s", settings.Mode, filepath.Base(l.path))
	return nil
}
