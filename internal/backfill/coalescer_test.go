package backfill

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracer/internal/types"
)

type blockingFetcher struct {
	calls   atomic.Int64
	release chan struct{}
	events  []types.StrategyUpdate
	err     error
}

func (f *blockingFetcher) FetchEvents(ctx context.Context, instance string, start, end time.Time) ([]types.StrategyUpdate, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.events, f.err
}

func TestCoalescerSharesInflightResult(t *testing.T) {
	fetcher := &blockingFetcher{
		release: make(chan struct{}),
		events:  []types.StrategyUpdate{{InstanceName: "alpha", EventID: "e1"}},
	}
	c := NewCoalescer(fetcher, time.Millisecond)

	start := time.Unix(1000, 0)
	end := time.Unix(2000, 0)

	const joiners = 5
	results := make([][]types.StrategyUpdate, joiners)
	errs := make([]error, joiners)
	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Fetch(context.Background(), "alpha", start, end)
		}(i)
	}

	// Let the goroutines pile onto the slot before releasing the fetch.
	require.Eventually(t, func() bool {
		return fetcher.calls.Load() == 1
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	assert.Equal(t, int64(1), fetcher.calls.Load())
	for i := 0; i < joiners; i++ {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 1)
		assert.Equal(t, "e1", results[i][0].EventID)
	}
}

func TestCoalescerDebounceServesFromMemory(t *testing.T) {
	fetcher := &blockingFetcher{events: []types.StrategyUpdate{{EventID: "e1"}}}
	c := NewCoalescer(fetcher, 2*time.Second)

	now := time.Unix(5000, 0)
	c.nowFn = func() time.Time { return now }

	start := time.Unix(1000, 0)
	end := time.Unix(2000, 0)

	_, err := c.Fetch(context.Background(), "alpha", start, end)
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), "alpha", start, end)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fetcher.calls.Load(), "second fetch inside debounce hits memory")

	now = now.Add(3 * time.Second)
	_, err = c.Fetch(context.Background(), "alpha", start, end)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fetcher.calls.Load(), "fetch after debounce goes to the wire")
}

func TestCoalescerDistinctKeysDoNotShare(t *testing.T) {
	fetcher := &blockingFetcher{events: nil}
	c := NewCoalescer(fetcher, time.Hour)

	start := time.Unix(1000, 0)
	end := time.Unix(2000, 0)

	_, err := c.Fetch(context.Background(), "alpha", start, end)
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), "beta", start, end)
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), "alpha", start, end.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, int64(3), fetcher.calls.Load())
}

func TestCoalescerErrorSharedAndCached(t *testing.T) {
	wantErr := errors.New("producer down")
	fetcher := &blockingFetcher{err: wantErr}
	c := NewCoalescer(fetcher, time.Hour)

	start := time.Unix(1000, 0)
	end := time.Unix(2000, 0)

	_, err := c.Fetch(context.Background(), "alpha", start, end)
	require.ErrorIs(t, err, wantErr)

	// The failure is debounced too: an immediate retry does not hammer a
	// producer that just refused us.
	_, err = c.Fetch(context.Background(), "alpha", start, end)
	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, int64(1), fetcher.calls.Load())

	c.Reset()
	_, err = c.Fetch(context.Background(), "alpha", start, end)
	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, int64(2), fetcher.calls.Load())
}

func TestCoalescerSweepsExpiredEntries(t *testing.T) {
	fetcher := &blockingFetcher{}
	c := NewCoalescer(fetcher, 2*time.Second)

	now := time.Unix(5000, 0)
	c.nowFn = func() time.Time { return now }

	// Each selection asks for its own window, so every fetch writes a new
	// key; completed fetches must evict the ones the debounce no longer
	// covers or the cache grows for the process lifetime.
	for i := 0; i < 10; i++ {
		start := time.Unix(int64(1000+i*60), 0)
		_, err := c.Fetch(context.Background(), "alpha", start, start.Add(time.Hour))
		require.NoError(t, err)
		now = now.Add(3 * time.Second)
	}

	c.mu.Lock()
	size := len(c.recent)
	c.mu.Unlock()
	assert.Equal(t, 1, size, "only the freshest window survives the sweep")
}

func TestCoalescerJoinerHonorsContext(t *testing.T) {
	fetcher := &blockingFetcher{release: make(chan struct{})}
	c := NewCoalescer(fetcher, time.Millisecond)

	start := time.Unix(1000, 0)
	end := time.Unix(2000, 0)

	go c.Fetch(context.Background(), "alpha", start, end)
	require.Eventually(t, func() bool {
		return fetcher.calls.Load() == 1
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	joined := make(chan error, 1)
	go func() {
		_, err := c.Fetch(ctx, "alpha", start, end)
		joined <- err
	}()
	cancel()

	select {
	case err := <-joined:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("joiner did not observe cancellation")
	}
	close(fetcher.release)
}
