// Package types holds the shared domain model for strategy state tracking.
package types

import (
	"strings"
	"time"
)

// LineType identifies one of the persistent horizontal price lines a strategy
// maintains while a position is open.
type LineType string

const (
	LineStopLoss           LineType = "SL"
	LineTakeProfit         LineType = "TP"
	LineEntry              LineType = "ENTRY"
	LineTrailingActivation LineType = "TSA"
)

// LineTypes lists every known line type in display order.
func LineTypes() []LineType {
	return []LineType{LineStopLoss, LineTakeProfit, LineEntry, LineTrailingActivation}
}

// StrategyLineSet is the full price-line state a producer broadcasts. A nil
// pointer means "no value": the corresponding chart line must be hidden.
type StrategyLineSet struct {
	StopLoss           *float64
	TakeProfit         *float64
	Entry              *float64
	TrailingActivation *float64
	TrailingStopActive bool
}

// IsEmpty reports whether every price field is absent. An entirely empty set
// is the producer's way of saying "no position".
func (s StrategyLineSet) IsEmpty() bool {
	return s.StopLoss == nil && s.TakeProfit == nil && s.Entry == nil && s.TrailingActivation == nil
}

// Value returns the price for a given line type, nil when unset.
func (s StrategyLineSet) Value(lt LineType) *float64 {
	switch lt {
	case LineStopLoss:
		return s.StopLoss
	case LineTakeProfit:
		return s.TakeProfit
	case LineEntry:
		return s.Entry
	case LineTrailingActivation:
		return s.TrailingActivation
	}
	return nil
}

// Equal compares two line sets field by field, including trailing-stop state.
func (s StrategyLineSet) Equal(o StrategyLineSet) bool {
	if s.TrailingStopActive != o.TrailingStopActive {
		return false
	}
	for _, lt := range LineTypes() {
		a, b := s.Value(lt), o.Value(lt)
		if (a == nil) != (b == nil) {
			return false
		}
		if a != nil && *a != *b {
			return false
		}
	}
	return true
}

// UpdateSource discriminates the two inbound streams.
type UpdateSource int

const (
	SourceHeartbeat UpdateSource = iota
	SourceEvent
)

func (s UpdateSource) String() string {
	if s == SourceEvent {
		return "event"
	}
	return "heartbeat"
}

// PositionAction is the lifecycle verb carried by a discrete strategy event.
type PositionAction string

const (
	PositionOpen   PositionAction = "OPEN"
	PositionClose  PositionAction = "CLOSE"
	PositionUpdate PositionAction = "UPDATE"
)

// ParsePositionAction normalizes a wire value; unknown values map to UPDATE.
func ParsePositionAction(raw string) PositionAction {
	switch PositionAction(strings.ToUpper(strings.TrimSpace(raw))) {
	case PositionOpen:
		return PositionOpen
	case PositionClose:
		return PositionClose
	default:
		return PositionUpdate
	}
}

// StrategyUpdate is one decoded inbound message, heartbeat or event, already
// lifted out of its wire envelope.
type StrategyUpdate struct {
	Source       UpdateSource
	RuntimeID    string // opaque producer-generation token, may be empty
	Seq          *int64 // monotonic within a RuntimeID, nil when absent
	Timestamp    time.Time
	Lines        StrategyLineSet
	InstanceName string
	IsAlive      bool

	// Event-only fields.
	EventID string
	Action  PositionAction
	Price   *float64 // marker price for events, usually the entry/exit price
	Reason  string
}

// IsHeartbeat is a convenience discriminant check.
func (u StrategyUpdate) IsHeartbeat() bool { return u.Source == SourceHeartbeat }
