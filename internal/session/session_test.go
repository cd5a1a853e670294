package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracer/internal/chart"
	"tracer/internal/market"
	"tracer/internal/timeaxis"
	"tracer/internal/types"
)

type fakeBackfiller struct {
	calls  atomic.Int64
	events []types.StrategyUpdate
	err    error
}

func (f *fakeBackfiller) Fetch(ctx context.Context, instance string, start, end time.Time) ([]types.StrategyUpdate, error) {
	f.calls.Add(1)
	return f.events, f.err
}

type fakeLister struct {
	names []string
	err   error
}

func (f *fakeLister) FetchInstances(ctx context.Context) ([]string, error) {
	return f.names, f.err
}

func floatPtr(v float64) *float64 { return &v }

func heartbeat(instance, runtime string, seq int64, at time.Time, lines types.StrategyLineSet) types.StrategyUpdate {
	return types.StrategyUpdate{
		Source:       types.SourceHeartbeat,
		InstanceName: instance,
		RuntimeID:    runtime,
		Seq:          &seq,
		Timestamp:    at,
		Lines:        lines,
		IsAlive:      true,
	}
}

func openEvent(instance, id string, at time.Time, price float64) types.StrategyUpdate {
	return types.StrategyUpdate{
		Source:       types.SourceEvent,
		InstanceName: instance,
		Timestamp:    at,
		EventID:      id,
		Action:       types.PositionOpen,
		Price:        floatPtr(price),
	}
}

func startSession(t *testing.T, backfiller Backfiller, lister InstanceLister) (*Session, *chart.EChartsSurface) {
	t.Helper()
	norm := timeaxis.New(timeaxis.ModeUTC, "", timeaxis.WithBucketAlignment(60))
	surface := chart.NewEChartsSurface("BTCUSDT", "1m", market.NewCandleStore(100), norm)
	coord := chart.NewCoordinator(surface, timeaxis.New(timeaxis.ModeUTC, "", timeaxis.WithBucketAlignment(60)))
	s := New(Options{
		StalenessThreshold: time.Hour,
		BucketWidth:        time.Minute,
		BackfillWindow:     4 * time.Hour,
		Display:            Display{Mode: "utc"},
	}, coord, surface, backfiller, lister)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s, surface
}

func awaitLive(t *testing.T, s *Session, instance string) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := s.Status()
		return st.Selected == instance && !st.Switching
	}, time.Second, time.Millisecond)
}

func TestSelectInstanceSeedsFromBackfill(t *testing.T) {
	seed := openEvent("alpha", "hist-1", time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC), 99000)
	backfiller := &fakeBackfiller{events: []types.StrategyUpdate{seed}}
	s, surface := startSession(t, backfiller, &fakeLister{})

	s.SelectInstance("alpha")
	awaitLive(t, s, "alpha")

	assert.Equal(t, int64(1), backfiller.calls.Load())
	_, markers := surface.Snapshot()
	require.Len(t, markers, 1)
	assert.Equal(t, float64(99000), markers[0].Price)
}

func TestLiveUpdatesFlowAfterSeed(t *testing.T) {
	s, surface := startSession(t, &fakeBackfiller{}, &fakeLister{})
	s.SelectInstance("alpha")
	awaitLive(t, s, "alpha")

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.Ingest(heartbeat("alpha", "host-1-1000", 1, at, types.StrategyLineSet{
		StopLoss: floatPtr(95000), Entry: floatPtr(100000),
	}))

	require.Eventually(t, func() bool {
		return s.Status().State.HasLines()
	}, time.Second, time.Millisecond)
	lines, _ := surface.Snapshot()
	assert.Equal(t, float64(95000), lines[types.LineStopLoss])
	assert.Equal(t, float64(100000), lines[types.LineEntry])
	assert.True(t, s.Status().Health.IsAlive)
}

func TestDuplicateEventsIgnored(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seed := openEvent("alpha", "e-1", at, 100000)
	s, surface := startSession(t, &fakeBackfiller{events: []types.StrategyUpdate{seed}}, &fakeLister{})
	s.SelectInstance("alpha")
	awaitLive(t, s, "alpha")

	// Redelivery of the seeded event plus one genuinely new event.
	s.Ingest(openEvent("alpha", "e-1", at, 100000))
	s.Ingest(openEvent("alpha", "e-2", at.Add(time.Minute), 101000))

	require.Eventually(t, func() bool {
		_, markers := surface.Snapshot()
		return len(markers) == 2
	}, time.Second, time.Millisecond)
}

func TestUpdatesForOtherInstancesDropped(t *testing.T) {
	s, surface := startSession(t, &fakeBackfiller{}, &fakeLister{names: []string{"alpha"}})
	s.SelectInstance("alpha")
	awaitLive(t, s, "alpha")

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.Ingest(heartbeat("beta", "host-2-1000", 1, at, types.StrategyLineSet{Entry: floatPtr(1)}))
	s.Ingest(openEvent("beta", "e-9", at, 100))

	// beta is remembered for discovery even though its updates were dropped.
	require.Eventually(t, func() bool {
		names := s.Instances(context.Background())
		return len(names) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"alpha", "beta"}, s.Instances(context.Background()))
	assert.False(t, s.Status().State.HasLines())
	_, markers := surface.Snapshot()
	assert.Empty(t, markers)
}

func TestSwitchResetsState(t *testing.T) {
	s, surface := startSession(t, &fakeBackfiller{}, &fakeLister{})
	s.SelectInstance("alpha")
	awaitLive(t, s, "alpha")

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.Ingest(heartbeat("alpha", "host-1-1000", 1, at, types.StrategyLineSet{Entry: floatPtr(100)}))
	s.Ingest(openEvent("alpha", "e-1", at, 100))
	require.Eventually(t, func() bool {
		_, markers := surface.Snapshot()
		return len(markers) == 1
	}, time.Second, time.Millisecond)

	s.SelectInstance("beta")
	awaitLive(t, s, "beta")

	st := s.Status()
	assert.False(t, st.State.HasLines())
	lines, markers := surface.Snapshot()
	assert.Empty(t, lines)
	assert.Empty(t, markers)
}

func TestDeselectStopsTracking(t *testing.T) {
	s, _ := startSession(t, &fakeBackfiller{}, &fakeLister{})
	s.SelectInstance("alpha")
	awaitLive(t, s, "alpha")

	s.SelectInstance("")
	awaitLive(t, s, "")

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.Ingest(heartbeat("alpha", "host-1-1000", 1, at, types.StrategyLineSet{Entry: floatPtr(100)}))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, s.Status().State.HasLines())
}

func TestBackfillFailureStillGoesLive(t *testing.T) {
	backfiller := &fakeBackfiller{err: context.DeadlineExceeded}
	s, _ := startSession(t, backfiller, &fakeLister{})
	s.SelectInstance("alpha")
	awaitLive(t, s, "alpha")

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.Ingest(heartbeat("alpha", "host-1-1000", 1, at, types.StrategyLineSet{Entry: floatPtr(100)}))
	require.Eventually(t, func() bool {
		return s.Status().State.HasLines()
	}, time.Second, time.Millisecond)
}

func TestApplyDisplay(t *testing.T) {
	s, _ := startSession(t, &fakeBackfiller{}, &fakeLister{})

	require.Error(t, s.ApplyDisplay(Display{Mode: "sidereal"}))

	require.NoError(t, s.ApplyDisplay(Display{Mode: "named", Zone: "Europe/Berlin"}))
	require.Eventually(t, func() bool {
		return s.Status().Display.Mode == "named"
	}, time.Second, time.Millisecond)
	assert.Equal(t, "Europe/Berlin", s.Status().Display.Zone)
}

func TestInstancesMergesUpstreamAndLocal(t *testing.T) {
	s, _ := startSession(t, &fakeBackfiller{}, &fakeLister{names: []string{"gamma", "alpha"}})
	s.Ingest(heartbeat("beta", "host-2-1000", 1, time.Now(), types.StrategyLineSet{}))

	require.Eventually(t, func() bool {
		return len(s.Instances(context.Background())) == 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, s.Instances(context.Background()))
}
