// Package reconcile resolves the two asynchronous update streams a strategy
// producer emits (heartbeats and lifecycle events) into one canonical,
// monotonically advancing state record.
package reconcile

import (
	"math"
	"time"

	"tracer/internal/logger"
	"tracer/internal/types"
)

// RejectReason classifies why an update did not change line state.
type RejectReason string

const (
	RejectNone            RejectReason = ""
	RejectMalformed       RejectReason = "malformed"
	RejectStaleGeneration RejectReason = "stale_generation"
	RejectOutOfSequence   RejectReason = "out_of_sequence"
	RejectStaleTimestamp  RejectReason = "stale_timestamp"
	RejectNoChange        RejectReason = "no_change"
	RejectDuplicateEvent  RejectReason = "duplicate_event"
)

// Result reports the outcome of a single Accept call.
type Result struct {
	Accepted bool
	Cleared  bool // the update forced an explicit all-lines-clear
	Reason   RejectReason
}

// Reconciler owns the ReconciledState for the active strategy selection.
// It is not safe for concurrent use; the session loop serializes callers.
type Reconciler struct {
	state  types.ReconciledState
	health types.HealthSnapshot

	instanceName string
}

// New returns an empty reconciler for one strategy selection.
func New(instanceName string) *Reconciler {
	return &Reconciler{instanceName: instanceName}
}

// Accept applies the ordering rules to one inbound update. The rules run in
// order and the first match decides; a rejected update never partially
// mutates state. Well-formed heartbeats refresh the health snapshot even
// when their line payload is rejected.
func (r *Reconciler) Accept(u types.StrategyUpdate) Result {
	if !wellFormed(u) {
		logger.Warnf("reconcile: malformed update dropped instance=%s source=%s", u.InstanceName, u.Source)
		return Result{Reason: RejectMalformed}
	}

	if u.IsHeartbeat() {
		r.refreshHealth(u)
	}

	// Explicit clear: an entirely empty line set bypasses ordering.
	if u.Lines.IsEmpty() {
		if !r.state.HasLines() {
			return Result{Reason: RejectNoChange}
		}
		r.applyClear(u)
		return Result{Accepted: true, Cleared: true}
	}

	// Generation check: a differing runtime id means the producer restarted.
	if r.state.RuntimeID != "" && u.RuntimeID != "" && r.state.RuntimeID != u.RuntimeID {
		if !r.state.Timestamp.IsZero() && u.Timestamp.Before(r.state.Timestamp) {
			return Result{Reason: RejectStaleGeneration}
		}
		r.apply(u)
		return Result{Accepted: true}
	}

	// Sequence check within the same generation.
	if u.Seq != nil && r.state.Seq != nil && *u.Seq <= *r.state.Seq {
		return Result{Reason: RejectOutOfSequence}
	}

	// Timestamp fallback for sequence-less updates and cross-check.
	if !r.state.Timestamp.IsZero() && u.Timestamp.Before(r.state.Timestamp) {
		return Result{Reason: RejectStaleTimestamp}
	}

	// Bootstrap: nothing held yet, take whatever arrives first.
	if !r.state.HasLines() {
		r.apply(u)
		return Result{Accepted: true}
	}

	// Changed-value suppression: identical lines are a no-op redraw.
	if u.Lines.Equal(r.state.Current) {
		return Result{Reason: RejectNoChange}
	}

	r.apply(u)
	return Result{Accepted: true}
}

func (r *Reconciler) apply(u types.StrategyUpdate) {
	r.state.PreviousIsAlive = r.health.IsAlive
	r.state.Current = u.Lines
	r.state.RuntimeID = pick(u.RuntimeID, r.state.RuntimeID)
	r.state.Seq = u.Seq
	if u.Timestamp.After(r.state.Timestamp) {
		r.state.Timestamp = u.Timestamp
	}
	r.state.Source = u.Source
}

// applyClear wipes line state but keeps the timestamp monotonic: a forced
// clear never rewinds the record's clock.
func (r *Reconciler) applyClear(u types.StrategyUpdate) {
	r.state.PreviousIsAlive = r.health.IsAlive
	r.state.Current = types.StrategyLineSet{}
	r.state.RuntimeID = pick(u.RuntimeID, r.state.RuntimeID)
	r.state.Seq = u.Seq
	if u.Timestamp.After(r.state.Timestamp) {
		r.state.Timestamp = u.Timestamp
	}
	r.state.Source = u.Source
}

func (r *Reconciler) refreshHealth(u types.StrategyUpdate) {
	r.health.IsAlive = u.IsAlive
	if u.Timestamp.After(r.health.LastHeartbeatAt) {
		r.health.LastHeartbeatAt = u.Timestamp
	}
}

// SetOrphaned flips the visual-only orphan flag and reports whether it
// changed. Line state is untouched.
func (r *Reconciler) SetOrphaned(orphaned bool) bool {
	if r.health.IsOrphaned == orphaned {
		return false
	}
	r.health.IsOrphaned = orphaned
	return true
}

// LastHeartbeatAt exposes the health clock for the staleness monitor.
func (r *Reconciler) LastHeartbeatAt() time.Time {
	return r.health.LastHeartbeatAt
}

// State returns a copy of the canonical record.
func (r *Reconciler) State() types.ReconciledState { return r.state }

// Health returns a copy of the liveness snapshot.
func (r *Reconciler) Health() types.HealthSnapshot { return r.health }

// InstanceName identifies the selection this reconciler serves.
func (r *Reconciler) InstanceName() string { return r.instanceName }

// Reset clears everything; used on strategy switch and deselection.
func (r *Reconciler) Reset() {
	r.state = types.ReconciledState{}
	r.health = types.HealthSnapshot{}
}

func wellFormed(u types.StrategyUpdate) bool {
	if u.Timestamp.IsZero() {
		return false
	}
	for _, lt := range types.LineTypes() {
		if v := u.Lines.Value(lt); v != nil {
			if math.IsNaN(*v) || math.IsInf(*v, 0) {
				return false
			}
		}
	}
	if u.Price != nil && (math.IsNaN(*u.Price) || math.IsInf(*u.Price, 0)) {
		return false
	}
	return true
}

func pick(primary, fallback string) string {
	if primary != "" {
		return primary
	}
	return fallback
}
