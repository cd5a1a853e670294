package types

import "time"

// ReconciledState is the single canonical record the reconciler owns for the
// active strategy selection. It is overwritten in place on every acceptance;
// nothing else mutates it.
type ReconciledState struct {
	Current         StrategyLineSet
	RuntimeID       string
	Seq             *int64
	Timestamp       time.Time
	Source          UpdateSource
	PreviousIsAlive bool
}

// HasLines reports whether any line value is currently held. Used by the
// bootstrap acceptance rule.
func (s ReconciledState) HasLines() bool {
	return !s.Current.IsEmpty()
}

// HealthSnapshot tracks producer liveness independently of line state.
type HealthSnapshot struct {
	IsAlive         bool
	IsOrphaned      bool
	LastHeartbeatAt time.Time
}
