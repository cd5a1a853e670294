// Package session owns the live reconciliation loop. A single goroutine
// holds the reconciler, dedup filter and chart coordinator, so every state
// mutation is serialized; other goroutines talk to it through channels.
package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"tracer/internal/chart"
	"tracer/internal/logger"
	"tracer/internal/reconcile"
	"tracer/internal/timeaxis"
	"tracer/internal/types"
)

// Backfiller fetches historic events on instance selection.
type Backfiller interface {
	Fetch(ctx context.Context, instance string, start, end time.Time) ([]types.StrategyUpdate, error)
}

// InstanceLister asks the producer which strategy instances exist.
type InstanceLister interface {
	FetchInstances(ctx context.Context) ([]string, error)
}

// Display is the active temporal presentation.
type Display struct {
	Mode string
	Zone string
}

// Options configure a session.
type Options struct {
	StalenessThreshold time.Duration
	BucketWidth        time.Duration
	BackfillWindow     time.Duration
	Display            Display
}

// Status is a read-only snapshot for the HTTP surface.
type Status struct {
	Selected  string
	Switching bool
	State     types.ReconciledState
	Health    types.HealthSnapshot
	Display   Display
}

const maxCachedEvents = 500

type seedResult struct {
	instance string
	events   []types.StrategyUpdate
	err      error
}

// Session routes decoded strategy updates through the reconciler and into
// the chart. While an instance switch is in flight, live updates are
// dropped; the backfill seed establishes the new baseline first.
type Session struct {
	opts       Options
	coord      *chart.Coordinator
	surface    *chart.EChartsSurface
	backfiller Backfiller
	lister     InstanceLister

	updates  chan types.StrategyUpdate
	commands chan func()
	seeds    chan seedResult
	flips    chan bool

	rec     *reconcile.Reconciler
	dedup   *reconcile.DedupFilter
	monitor *reconcile.StalenessMonitor

	// lastBeat is read by the monitor goroutine, written by the loop.
	beatMu   sync.Mutex
	lastBeat time.Time

	switching bool
	selected  string
	events    []types.StrategyUpdate

	viewMu sync.RWMutex
	view   Status

	eventsMu   sync.RWMutex
	eventsView []types.StrategyUpdate

	knownMu sync.Mutex
	known   map[string]struct{}
}

// New builds a session. The coordinator and surface must share the same
// display settings as opts.Display; ApplyDisplay keeps them in sync later.
func New(opts Options, coord *chart.Coordinator, surface *chart.EChartsSurface, backfiller Backfiller, lister InstanceLister) *Session {
	s := &Session{
		opts:       opts,
		coord:      coord,
		surface:    surface,
		backfiller: backfiller,
		lister:     lister,
		updates:    make(chan types.StrategyUpdate, 256),
		commands:   make(chan func(), 16),
		seeds:      make(chan seedResult, 1),
		flips:      make(chan bool, 4),
		rec:        reconcile.New(""),
		dedup:      reconcile.NewDedupFilter(),
		known:      make(map[string]struct{}),
	}
	s.monitor = reconcile.NewStalenessMonitor(opts.StalenessThreshold, s.lastBeatAt, func(stale bool) {
		// The loop can trigger a flip synchronously through ObserveHeartbeat,
		// so this send must never block it.
		select {
		case s.flips <- stale:
		default:
		}
	})
	s.view.Display = opts.Display
	return s
}

// Run drives the loop until the context ends.
func (s *Session) Run(ctx context.Context) error {
	defer s.monitor.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-s.updates:
			s.handleUpdate(u)
		case fn := <-s.commands:
			fn()
		case res := <-s.seeds:
			s.handleSeed(res)
		case stale := <-s.flips:
			s.handleStaleFlip(stale)
		}
	}
}

// Ingest hands one decoded update to the loop. A full queue drops the
// update rather than blocking the transport.
func (s *Session) Ingest(u types.StrategyUpdate) {
	select {
	case s.updates <- u:
	default:
		logger.Warnf("session: update queue full, dropping %s from %s", u.Source, u.InstanceName)
	}
}

// SelectInstance switches the active strategy instance. An empty name
// deselects. The switch resets all per-selection state and seeds the new
// selection from backfill before live updates flow again.
func (s *Session) SelectInstance(name string) {
	name = strings.TrimSpace(name)
	s.commands <- func() { s.doSelect(name) }
}

// ApplyDisplay swaps the temporal presentation at runtime. Marker
// coordinates are recomputed from the cached raw events under the new axis.
func (s *Session) ApplyDisplay(d Display) error {
	mode, err := timeaxis.ParseMode(d.Mode)
	if err != nil {
		return err
	}
	s.commands <- func() { s.doApplyDisplay(mode, d) }
	return nil
}

// Status returns the current view. Safe from any goroutine.
func (s *Session) Status() Status {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.view
}

// Instances merges producer-reported instances with the ones whose updates
// this process has seen. A failed producer call degrades to the local set.
func (s *Session) Instances(ctx context.Context) []string {
	set := make(map[string]struct{})
	if s.lister != nil {
		names, err := s.lister.FetchInstances(ctx)
		if err != nil {
			logger.Warnf("session: instance discovery failed: %v", err)
		}
		for _, n := range names {
			if n = strings.TrimSpace(n); n != "" {
				set[n] = struct{}{}
			}
		}
	}
	s.knownMu.Lock()
	for n := range s.known {
		set[n] = struct{}{}
	}
	s.knownMu.Unlock()
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (s *Session) handleUpdate(u types.StrategyUpdate) {
	s.recordKnown(u.InstanceName)
	if s.selected == "" || u.InstanceName != s.selected {
		return
	}
	if s.switching {
		logger.Debugf("session: dropping live %s during switch to %s", u.Source, s.selected)
		return
	}
	if u.Source == types.SourceEvent && s.dedup.Seen(u.EventID) {
		logger.Debugf("session: duplicate event %s", u.EventID)
		return
	}

	res := s.rec.Accept(u)
	if res.Reason != reconcile.RejectMalformed {
		switch u.Source {
		case types.SourceHeartbeat:
			s.setLastBeat(u.Timestamp)
			s.monitor.ObserveHeartbeat(u.Timestamp)
		case types.SourceEvent:
			// A marker records that the lifecycle event happened; it is drawn
			// even when the event changes no line values.
			s.coord.ApplyEvent(u)
			s.cacheEvent(u)
		}
	}
	if !res.Accepted {
		if res.Reason != reconcile.RejectNoChange {
			logger.Debugf("session: rejected %s from %s: %s", u.Source, u.InstanceName, res.Reason)
		}
		s.publishView()
		return
	}

	s.coord.ApplyState(s.rec.State(), s.rec.Health())
	s.publishView()
}

func (s *Session) doSelect(name string) {
	if name == s.selected && !s.switching {
		return
	}
	logger.Infof("session: selecting instance %q (was %q)", name, s.selected)

	s.monitor.Stop()
	s.selected = name
	s.rec = reconcile.New(name)
	s.dedup.Reset()
	s.events = nil
	s.publishEvents()
	s.setLastBeat(time.Time{})
	s.coord.Reset()

	if name == "" {
		s.switching = false
		s.publishView()
		return
	}

	s.switching = true
	s.publishView()

	end := time.Now()
	start := end.Add(-s.opts.BackfillWindow)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		events, err := s.backfiller.Fetch(ctx, name, start, end)
		s.seeds <- seedResult{instance: name, events: events, err: err}
	}()
}

func (s *Session) handleSeed(res seedResult) {
	if res.instance != s.selected {
		return
	}
	s.switching = false
	if res.err != nil {
		logger.Warnf("session: backfill for %s failed, starting without history: %v", res.instance, res.err)
	}
	for _, u := range res.events {
		s.dedup.Seen(u.EventID)
		s.cacheEvent(u)
	}
	s.coord.SeedEvents(res.events)
	s.monitor.Start()
	s.publishView()
	logger.Infof("session: %s live with %d historic events", res.instance, len(res.events))
}

func (s *Session) handleStaleFlip(stale bool) {
	if s.rec.SetOrphaned(stale) {
		s.coord.ApplyHealth(s.rec.Health())
		s.publishView()
	}
}

func (s *Session) doApplyDisplay(mode timeaxis.Mode, d Display) {
	bucket := int64(s.opts.BucketWidth / time.Second)
	// The normalizer is single-owner; coordinator and surface each get their
	// own instance built from the same settings.
	s.coord.SetNormalizer(timeaxis.New(mode, d.Zone, timeaxis.WithBucketAlignment(bucket)))
	s.surface.SetNormalizer(timeaxis.New(mode, d.Zone, timeaxis.WithBucketAlignment(bucket)))
	s.coord.SeedEvents(s.events)

	s.opts.Display = d
	s.viewMu.Lock()
	s.view.Display = d
	s.viewMu.Unlock()
	logger.Infof("session: display switched to mode=%s zone=%s", d.Mode, d.Zone)
}

// Events returns the accepted lifecycle events of the current selection,
// oldest first. Safe from any goroutine.
func (s *Session) Events() []types.StrategyUpdate {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	return append([]types.StrategyUpdate(nil), s.eventsView...)
}

func (s *Session) cacheEvent(u types.StrategyUpdate) {
	s.events = append(s.events, u)
	if len(s.events) > maxCachedEvents {
		s.events = s.events[len(s.events)-maxCachedEvents:]
	}
	s.publishEvents()
}

func (s *Session) publishEvents() {
	cp := append([]types.StrategyUpdate(nil), s.events...)
	s.eventsMu.Lock()
	s.eventsView = cp
	s.eventsMu.Unlock()
}

func (s *Session) recordKnown(name string) {
	if name == "" {
		return
	}
	s.knownMu.Lock()
	s.known[name] = struct{}{}
	s.knownMu.Unlock()
}

func (s *Session) publishView() {
	s.viewMu.Lock()
	s.view.Selected = s.selected
	s.view.Switching = s.switching
	s.view.State = s.rec.State()
	s.view.Health = s.rec.Health()
	s.viewMu.Unlock()
}

func (s *Session) setLastBeat(at time.Time) {
	s.beatMu.Lock()
	s.lastBeat = at
	s.beatMu.Unlock()
}

func (s *Session) lastBeatAt() time.Time {
	s.beatMu.Lock()
	defer s.beatMu.Unlock()
	return s.lastBeat
}
