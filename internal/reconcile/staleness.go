package reconcile

import (
	"context"
	"sync"
	"time"

	"tracer/internal/logger"
)

// DefaultStalenessThreshold matches the producer's 5 s heartbeat cadence with
// a little headroom for delivery jitter.
const DefaultStalenessThreshold = 7 * time.Second

// StalenessMonitor periodically checks how long ago the last heartbeat was
// observed and fires onFlip when the alive/orphaned verdict changes. It only
// signals the visual layer; it never touches reconciled line values.
type StalenessMonitor struct {
	threshold time.Duration
	lastBeat  func() time.Time
	onFlip    func(stale bool)
	nowFn     func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	stale  bool
}

// NewStalenessMonitor wires a monitor to a heartbeat clock. A zero threshold
// selects the default.
func NewStalenessMonitor(threshold time.Duration, lastBeat func() time.Time, onFlip func(stale bool)) *StalenessMonitor {
	if threshold <= 0 {
		threshold = DefaultStalenessThreshold
	}
	return &StalenessMonitor{
		threshold: threshold,
		lastBeat:  lastBeat,
		onFlip:    onFlip,
		nowFn:     time.Now,
	}
}

// Start launches the periodic check at half the threshold. A running monitor
// is stopped first so there is never more than one ticker goroutine.
func (m *StalenessMonitor) Start() {
	if m == nil || m.lastBeat == nil {
		return
	}
	m.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel = cancel
	m.stale = false
	m.mu.Unlock()

	interval := m.threshold / 2
	logger.Debugf("staleness: monitor started threshold=%s interval=%s", m.threshold, interval)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.evaluate(m.lastBeat())
			}
		}
	}()
}

// Stop cancels the ticker goroutine. Safe to call repeatedly or without a
// prior Start.
func (m *StalenessMonitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ObserveHeartbeat re-evaluates staleness immediately using the heartbeat's
// own timestamp, independent of the timer.
func (m *StalenessMonitor) ObserveHeartbeat(at time.Time) {
	if m == nil {
		return
	}
	m.evaluate(at)
}

// Stale reports the last verdict.
func (m *StalenessMonitor) Stale() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stale
}

func (m *StalenessMonitor) evaluate(last time.Time) {
	if last.IsZero() {
		return
	}
	stale := m.nowFn().Sub(last) > m.threshold

	m.mu.Lock()
	flipped := stale != m.stale
	m.stale = stale
	m.mu.Unlock()

	if !flipped {
		return
	}
	if stale {
		logger.Warnf("staleness: heartbeats stopped, last=%s threshold=%s", last.Format(time.RFC3339), m.threshold)
	} else {
		logger.Infof("staleness: heartbeats resumed")
	}
	if m.onFlip != nil {
		m.onFlip(stale)
	}
}
