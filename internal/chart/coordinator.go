package chart

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tracer/internal/timeaxis"
	"tracer/internal/types"
)

// Coordinator translates reconciled state, health and lifecycle events into
// surface directives. Markers are always committed as one sorted batch
// replace so the chart never shows a partial set.
type Coordinator struct {
	surface Surface
	norm    *timeaxis.Normalizer

	markers map[string]Marker
	state   types.ReconciledState
	health  types.HealthSnapshot
}

// NewCoordinator binds a surface and a normalizer for one selection.
func NewCoordinator(surface Surface, norm *timeaxis.Normalizer) *Coordinator {
	return &Coordinator{
		surface: surface,
		norm:    norm,
		markers: make(map[string]Marker),
	}
}

// SetNormalizer swaps the display normalizer on a presentation change.
// Callers re-seed events afterwards so marker coordinates are recomputed
// under the new axis.
func (c *Coordinator) SetNormalizer(norm *timeaxis.Normalizer) {
	c.norm = norm
}

// ApplyState redraws every horizontal line from the canonical record. A nil
// line value hides its indicator.
func (c *Coordinator) ApplyState(state types.ReconciledState, health types.HealthSnapshot) {
	c.state = state
	c.health = health
	c.redrawLines()
}

// ApplyHealth re-colors the current lines on an alive/orphaned flip without
// touching line values.
func (c *Coordinator) ApplyHealth(health types.HealthSnapshot) {
	c.health = health
	c.redrawLines()
}

// ApplyEvent adds (or re-adds, idempotently) the point marker for one
// lifecycle event and commits the batch.
func (c *Coordinator) ApplyEvent(u types.StrategyUpdate) {
	m, ok := c.markerFor(u)
	if !ok {
		return
	}
	c.markers[m.ID] = m
	c.commitMarkers()
}

// SeedEvents installs a backfilled history in one commit, replacing any
// markers already drawn.
func (c *Coordinator) SeedEvents(events []types.StrategyUpdate) {
	c.markers = make(map[string]Marker, len(events))
	for _, u := range events {
		if m, ok := c.markerFor(u); ok {
			c.markers[m.ID] = m
		}
	}
	c.commitMarkers()
}

// Reset hides every line and clears all markers; used on strategy switch
// and deselection.
func (c *Coordinator) Reset() {
	c.state = types.ReconciledState{}
	c.health = types.HealthSnapshot{}
	for _, lt := range types.LineTypes() {
		c.surface.HideLine(lt)
	}
	c.markers = make(map[string]Marker)
	c.commitMarkers()
}

func (c *Coordinator) redrawLines() {
	trailing := c.state.Current.TrailingStopActive
	for _, lt := range types.LineTypes() {
		v := c.state.Current.Value(lt)
		if v == nil {
			c.surface.HideLine(lt)
			continue
		}
		c.surface.ApplyLine(lt, *v, lineColor(lt, c.health.IsOrphaned, trailing), LineFlags{
			Dashed:         lt == types.LineTrailingActivation,
			TrailingActive: trailing,
			Orphaned:       c.health.IsOrphaned,
			Label:          lineLabel(lt, *v),
		})
	}
}

func (c *Coordinator) markerFor(u types.StrategyUpdate) (Marker, bool) {
	if u.EventID == "" {
		return Marker{}, false
	}
	price := u.Price
	if price == nil {
		price = u.Lines.Entry
	}
	if price == nil {
		return Marker{}, false
	}
	t := c.norm.ShiftPoint(u.Timestamp.Unix())
	if t == timeaxis.SentinelTime {
		return Marker{}, false
	}
	t = c.norm.AlignToBucket(t, c.norm.BucketWidth())
	shape, color := markerStyle(u.Action)
	return Marker{
		ID:    syntheticMarkerID(u.EventID),
		Time:  t,
		Price: *price,
		Shape: shape,
		Color: color,
		Label: string(u.Action),
	}, true
}

func (c *Coordinator) commitMarkers() {
	batch := make([]Marker, 0, len(c.markers))
	for _, m := range c.markers {
		batch = append(batch, m)
	}
	sort.Slice(batch, func(i, j int) bool {
		if batch[i].Time != batch[j].Time {
			return batch[i].Time < batch[j].Time
		}
		return batch[i].ID < batch[j].ID
	})
	c.surface.SetMarkers(batch)
}

// syntheticMarkerID derives a stable id from the event id so reprocessing a
// delivery never duplicates a marker.
func syntheticMarkerID(eventID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(eventID)).String()
}

func lineLabel(lt types.LineType, price float64) string {
	return fmt.Sprintf("%s %s", lt, decimal.NewFromFloat(price).Round(2).String())
}
