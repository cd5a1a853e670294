// Package timeaxis translates absolute UTC timestamps into the display
// timezone the chart renders in, keeping series strictly ascending across
// daylight-saving transitions and snapping values to fixed-width bar buckets.
package timeaxis

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"tracer/internal/logger"
)

// SentinelTime marks an unparseable timestamp. Producers of Points filter it
// out before the values reach the chart.
const SentinelTime = int64(math.MinInt64)

// Mode selects the display timezone.
type Mode int

const (
	ModeUTC Mode = iota
	ModeLocal
	ModeNamed
)

// ParseMode maps a config string to a Mode. Empty means UTC.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "utc":
		return ModeUTC, nil
	case "local":
		return ModeLocal, nil
	case "named", "zone", "named_zone":
		return ModeNamed, nil
	}
	return ModeUTC, fmt.Errorf("unknown display timezone mode %q", raw)
}

// Point is one element of a time series, bound to its position in the
// caller's original slice so collapsed output can be mapped back.
type Point struct {
	Time  int64 // UTC seconds
	Index int
}

// Normalizer shifts series onto the display axis. It is not safe for
// concurrent use; the session loop owns one instance per selection.
type Normalizer struct {
	mode Mode
	loc  *time.Location

	alignBuckets bool
	bucketWidth  int64

	// Offset cache, refreshed when the calendar day under the display zone
	// changes. A day boundary is the only place a DST shift can appear.
	dayKey    string
	offsetSec int64
}

// Option tweaks Normalizer construction.
type Option func(*Normalizer)

// WithBucketAlignment enables snapping to fixed-width buckets of w seconds.
func WithBucketAlignment(w int64) Option {
	return func(n *Normalizer) {
		n.alignBuckets = w > 0
		n.bucketWidth = w
	}
}

// New builds a normalizer for the given mode. zone is only consulted for
// ModeNamed; a failed zone lookup degrades to zero offset and is logged once.
func New(mode Mode, zone string, opts ...Option) *Normalizer {
	n := &Normalizer{mode: mode}
	switch mode {
	case ModeLocal:
		n.loc = time.Local
	case ModeNamed:
		loc, err := time.LoadLocation(strings.TrimSpace(zone))
		if err != nil {
			logger.Warnf("timeaxis: cannot load zone %q, falling back to UTC offsets: %v", zone, err)
			n.loc = nil
		} else {
			n.loc = loc
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

// Mode reports the configured display mode.
func (n *Normalizer) Mode() Mode { return n.mode }

// ShiftSeries maps a series onto the display axis. The result is strictly
// ascending: after shifting, points are stable-sorted (a DST boundary can
// invert local order) and adjacent equal timestamps are collapsed keeping
// the later original element, which handles the repeated hour at fall-back.
// Sentinel points are dropped. In UTC mode the input is already monotonic
// and is returned as-is, minus sentinels.
func (n *Normalizer) ShiftSeries(points []Point) []Point {
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if p.Time == SentinelTime {
			continue
		}
		out = append(out, Point{Time: n.shift(p.Time), Index: p.Index})
	}
	if n.mode == ModeUTC || n.loc == nil {
		return out
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })

	deduped := out[:0]
	for _, p := range out {
		if len(deduped) > 0 && deduped[len(deduped)-1].Time == p.Time {
			deduped[len(deduped)-1] = p
			continue
		}
		deduped = append(deduped, p)
	}
	return deduped
}

// ShiftPoint applies the display offset to a single streaming point without
// the sort/dedup pass.
func (n *Normalizer) ShiftPoint(t int64) int64 {
	if t == SentinelTime {
		return SentinelTime
	}
	return n.shift(t)
}

// AlignToBucket snaps t to the start of its containing bucket when alignment
// is enabled, else returns t unchanged. Idempotent by construction.
func (n *Normalizer) AlignToBucket(t int64, w int64) int64 {
	if !n.alignBuckets || w <= 0 || t == SentinelTime {
		return t
	}
	rem := t % w
	if rem < 0 {
		rem += w
	}
	return t - rem
}

// BucketWidth reports the configured bucket width in seconds, 0 when
// alignment is disabled.
func (n *Normalizer) BucketWidth() int64 {
	if !n.alignBuckets {
		return 0
	}
	return n.bucketWidth
}

func (n *Normalizer) shift(t int64) int64 {
	if n.mode == ModeUTC || n.loc == nil {
		return t
	}
	local := time.Unix(t, 0).In(n.loc)
	key := local.Format("2006-01-02")
	if key != n.dayKey {
		_, off := local.Zone()
		n.dayKey = key
		n.offsetSec = int64(off)
	}
	return t + n.offsetSec
}
