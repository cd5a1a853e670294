package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	history []Candle
	ticks   chan TickEvent
	stats   SourceStats

	mu         sync.Mutex
	subOpts    SubscribeOptions
	subscribed bool
	statsReads int
}

func (f *fakeSource) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	return f.history, nil
}

func (f *fakeSource) SubscribeTrades(ctx context.Context, symbol string, opts SubscribeOptions) (<-chan TickEvent, error) {
	f.mu.Lock()
	f.subOpts = opts
	f.subscribed = true
	f.mu.Unlock()
	return f.ticks, nil
}

func (f *fakeSource) Stats() SourceStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsReads++
	return f.stats
}

func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) waitSubscribed(t *testing.T) SubscribeOptions {
	t.Helper()
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.subscribed
	}, time.Second, time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subOpts
}

func TestUpdaterSeedsAndAppliesTicks(t *testing.T) {
	base := int64(1_700_000_040_000)
	base -= base % 60_000
	src := &fakeSource{
		history: []Candle{{OpenTime: base, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 3}},
		ticks:   make(chan TickEvent, 8),
	}
	store := NewCandleStore(100)
	u := NewUpdater(src, store, "BTCUSDT", "1m", time.Minute, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(store.Get("1m")) == 1
	}, time.Second, time.Millisecond)

	// Trade inside the open bar extends it.
	src.ticks <- TickEvent{Symbol: "BTCUSDT", Price: 102, Quantity: 1, TradeTime: base + 30_000}
	require.Eventually(t, func() bool {
		last, ok := store.Latest("1m")
		return ok && last.Close == 102 && last.High == 102
	}, time.Second, time.Millisecond)

	// Trade past the boundary opens a new bar.
	src.ticks <- TickEvent{Symbol: "BTCUSDT", Price: 103, Quantity: 2, TradeTime: base + 61_000}
	require.Eventually(t, func() bool {
		return len(store.Get("1m")) == 2
	}, time.Second, time.Millisecond)
	last, _ := store.Latest("1m")
	assert.Equal(t, base+60_000, last.OpenTime)
	assert.Equal(t, float64(103), last.Open)

	// A late trade for a closed bar is ignored.
	src.ticks <- TickEvent{Symbol: "BTCUSDT", Price: 1, Quantity: 1, TradeTime: base + 10_000}
	time.Sleep(20 * time.Millisecond)
	last, _ = store.Latest("1m")
	assert.Equal(t, float64(103), last.Close)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestUpdaterReportsStreamDiagnosticsOnDisconnect(t *testing.T) {
	src := &fakeSource{
		history: []Candle{{OpenTime: 1_700_000_040_000, Open: 100, Close: 100}},
		ticks:   make(chan TickEvent),
		stats:   SourceStats{Reconnects: 3, SubscribeErrors: 1},
	}
	store := NewCandleStore(100)
	u := NewUpdater(src, store, "BTCUSDT", "1m", time.Minute, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- u.Run(ctx) }()

	opts := src.waitSubscribed(t)
	require.NotNil(t, opts.OnDisconnect)

	// A stream drop pulls the connection accounting into the log line.
	opts.OnDisconnect(context.DeadlineExceeded)
	src.mu.Lock()
	reads := src.statsReads
	src.mu.Unlock()
	assert.Equal(t, 1, reads)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
