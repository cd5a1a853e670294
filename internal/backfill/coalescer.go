// Package backfill coalesces historic event fetches so a burst of identical
// requests hits the producer at most once.
package backfill

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tracer/internal/logger"
	"tracer/internal/types"
)

// DefaultDebounce is how long a completed fetch keeps serving joiners
// before the same request goes back to the wire.
const DefaultDebounce = 2 * time.Second

// Fetcher performs the actual upstream call.
type Fetcher interface {
	FetchEvents(ctx context.Context, instance string, start, end time.Time) ([]types.StrategyUpdate, error)
}

type requestKey struct {
	instance string
	start    int64
	end      int64
}

type inflight struct {
	done   chan struct{}
	events []types.StrategyUpdate
	err    error
}

type cached struct {
	at     time.Time
	events []types.StrategyUpdate
	err    error
}

// Coalescer funnels concurrent identical backfill requests into a single
// upstream call. Different keys do not share a slot; each runs on its own.
type Coalescer struct {
	fetcher  Fetcher
	debounce time.Duration
	nowFn    func() time.Time

	mu      sync.Mutex
	pending map[requestKey]*inflight
	recent  map[requestKey]cached
}

// NewCoalescer wraps a fetcher. A non-positive debounce falls back to
// DefaultDebounce.
func NewCoalescer(fetcher Fetcher, debounce time.Duration) *Coalescer {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Coalescer{
		fetcher:  fetcher,
		debounce: debounce,
		nowFn:    time.Now,
		pending:  make(map[requestKey]*inflight),
		recent:   make(map[requestKey]cached),
	}
}

// Fetch returns historic events for the given window. Callers asking for the
// same window while a fetch is in flight wait for that fetch and share its
// result, error included. A result newer than the debounce window is served
// from memory without touching the wire.
func (c *Coalescer) Fetch(ctx context.Context, instance string, start, end time.Time) ([]types.StrategyUpdate, error) {
	key := requestKey{instance: instance, start: start.Unix(), end: end.Unix()}

	c.mu.Lock()
	if hit, ok := c.recent[key]; ok && c.nowFn().Sub(hit.at) < c.debounce {
		c.mu.Unlock()
		return hit.events, hit.err
	}
	if flight, ok := c.pending[key]; ok {
		c.mu.Unlock()
		select {
		case <-flight.done:
			return flight.events, flight.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	flight := &inflight{done: make(chan struct{})}
	c.pending[key] = flight
	c.mu.Unlock()

	logger.Debugf("backfill: fetching instance=%s window=[%d,%d]", instance, key.start, key.end)
	events, err := c.fetcher.FetchEvents(ctx, instance, start, end)
	if err != nil {
		err = fmt.Errorf("backfill instance %s: %w", instance, err)
	}

	c.mu.Lock()
	flight.events = events
	flight.err = err
	close(flight.done)
	delete(c.pending, key)
	now := c.nowFn()
	// Every selection asks for a fresh window, so keys accumulate; expired
	// entries are swept here to keep the cache bounded.
	for k, hit := range c.recent {
		if now.Sub(hit.at) >= c.debounce {
			delete(c.recent, k)
		}
	}
	c.recent[key] = cached{at: now, events: events, err: err}
	c.mu.Unlock()

	return events, err
}

// Reset drops the debounce cache, forcing the next request of any key back
// to the wire. In-flight fetches are unaffected.
func (c *Coalescer) Reset() {
	c.mu.Lock()
	c.recent = make(map[requestKey]cached)
	c.mu.Unlock()
}
