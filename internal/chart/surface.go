// Package chart keeps the rendering surface consistent with reconciled
// strategy state and the normalized display time axis.
package chart

import (
	"tracer/internal/types"
)

// Palette for strategy visuals. Saturated colors mark a healthy producer,
// the muted tone marks an orphaned one, the accent marks active trailing.
const (
	ColorMuted  = "#6b7280"
	ColorAccent = "#f59e0b"

	colorStopLoss   = "#f87171"
	colorTakeProfit = "#34d399"
	colorEntry      = "#3b82f6"
	colorTrailing   = "#f472b6"
)

// LineFlags carries presentation hints alongside a horizontal line.
type LineFlags struct {
	Dashed         bool
	TrailingActive bool
	Orphaned       bool
	Label          string
}

// Marker is one discrete event drawn on the chart at a normalized, aligned
// display time.
type Marker struct {
	ID    string
	Time  int64 // display-axis seconds
	Price float64
	Shape string
	Color string
	Label string
}

// Marker shapes by lifecycle action.
const (
	ShapeOpen   = "triangle"
	ShapeClose  = "pin"
	ShapeUpdate = "circle"
)

// Surface is the rendering contract. Implementations must treat SetMarkers
// as an idempotent batch replace.
type Surface interface {
	ApplyLine(lt types.LineType, price float64, color string, flags LineFlags)
	HideLine(lt types.LineType)
	SetMarkers(markers []Marker)
}

// lineColor picks the display color for a line given producer health and
// trailing state.
func lineColor(lt types.LineType, orphaned, trailingActive bool) string {
	if orphaned {
		return ColorMuted
	}
	if trailingActive && (lt == types.LineStopLoss || lt == types.LineTrailingActivation) {
		return ColorAccent
	}
	switch lt {
	case types.LineStopLoss:
		return colorStopLoss
	case types.LineTakeProfit:
		return colorTakeProfit
	case types.LineEntry:
		return colorEntry
	case types.LineTrailingActivation:
		return colorTrailing
	}
	return ColorMuted
}

func markerStyle(action types.PositionAction) (shape, color string) {
	switch action {
	case types.PositionOpen:
		return ShapeOpen, colorTakeProfit
	case types.PositionClose:
		return ShapeClose, colorStopLoss
	default:
		return ShapeUpdate, colorEntry
	}
}
