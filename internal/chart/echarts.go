package chart

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	echartstypes "github.com/go-echarts/go-echarts/v2/types"
	talib "github.com/markcheno/go-talib"

	"tracer/internal/market"
	"tracer/internal/timeaxis"
	"tracer/internal/types"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEma           = "#a78bfa"

	chartWidthPx  = 1600
	chartHeightPx = 720

	emaPeriod = 20
)

type lineEntry struct {
	price float64
	color string
	flags LineFlags
}

// EChartsSurface renders the live strategy chart with go-echarts: candles on
// the display axis, one constant-value overlay per strategy line, and
// scatter series for event markers.
type EChartsSurface struct {
	symbol   string
	interval string
	store    *market.CandleStore
	norm     *timeaxis.Normalizer

	mu       sync.Mutex
	widthPx  int
	heightPx int
	lines    map[types.LineType]lineEntry
	markers  []Marker
}

// NewEChartsSurface binds the surface to a candle store and normalizer.
func NewEChartsSurface(symbol, interval string, store *market.CandleStore, norm *timeaxis.Normalizer) *EChartsSurface {
	return &EChartsSurface{
		symbol:   symbol,
		interval: interval,
		store:    store,
		norm:     norm,
		widthPx:  chartWidthPx,
		heightPx: chartHeightPx,
		lines:    make(map[types.LineType]lineEntry),
	}
}

// SetViewport overrides the rendered page dimensions.
func (s *EChartsSurface) SetViewport(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	s.mu.Lock()
	s.widthPx = width
	s.heightPx = height
	s.mu.Unlock()
}

// Viewport reports the page dimensions used by the next render.
func (s *EChartsSurface) Viewport() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.widthPx, s.heightPx
}

// SetNormalizer swaps the display normalizer; the next render uses it.
func (s *EChartsSurface) SetNormalizer(norm *timeaxis.Normalizer) {
	s.mu.Lock()
	s.norm = norm
	s.mu.Unlock()
}

// ApplyLine sets or updates one horizontal indicator.
func (s *EChartsSurface) ApplyLine(lt types.LineType, price float64, color string, flags LineFlags) {
	s.mu.Lock()
	s.lines[lt] = lineEntry{price: price, color: color, flags: flags}
	s.mu.Unlock()
}

// HideLine removes one horizontal indicator.
func (s *EChartsSurface) HideLine(lt types.LineType) {
	s.mu.Lock()
	delete(s.lines, lt)
	s.mu.Unlock()
}

// SetMarkers replaces all event markers in one batch.
func (s *EChartsSurface) SetMarkers(markers []Marker) {
	s.mu.Lock()
	s.markers = append([]Marker(nil), markers...)
	s.mu.Unlock()
}

// Snapshot exposes the current directives for the JSON state endpoint.
func (s *EChartsSurface) Snapshot() (map[types.LineType]float64, []Marker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := make(map[types.LineType]float64, len(s.lines))
	for lt, e := range s.lines {
		lines[lt] = e.price
	}
	return lines, append([]Marker(nil), s.markers...)
}

// RenderHTML draws the full chart page.
func (s *EChartsSurface) RenderHTML() ([]byte, error) {
	candles := s.store.Get(s.interval)
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles for %s %s", s.symbol, s.interval)
	}

	s.mu.Lock()
	norm := s.norm
	width, height := s.widthPx, s.heightPx
	lines := make(map[types.LineType]lineEntry, len(s.lines))
	for lt, e := range s.lines {
		lines[lt] = e
	}
	markers := append([]Marker(nil), s.markers...)
	s.mu.Unlock()

	points := make([]timeaxis.Point, len(candles))
	for i, c := range candles {
		points[i] = timeaxis.Point{Time: c.OpenUnix(), Index: i}
	}
	shifted := norm.ShiftSeries(points)

	xAxis := make([]string, len(shifted))
	bucketIndex := make(map[int64]int, len(shifted))
	visible := make([]market.Candle, len(shifted))
	for i, p := range shifted {
		bucket := norm.AlignToBucket(p.Time, norm.BucketWidth())
		xAxis[i] = time.Unix(p.Time, 0).UTC().Format("01-02 15:04")
		bucketIndex[bucket] = i
		visible[i] = candles[p.Index]
	}

	kline := s.buildKline(xAxis, visible, width, height)
	if ema := buildEMAOverlay(xAxis, visible); ema != nil {
		kline.Overlap(ema)
	}
	for _, lt := range types.LineTypes() {
		entry, ok := lines[lt]
		if !ok {
			continue
		}
		kline.Overlap(buildStrategyLine(xAxis, lt, entry))
	}
	if sc := buildMarkerScatter(xAxis, bucketIndex, markers); sc != nil {
		kline.Overlap(sc)
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(kline)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, fmt.Errorf("rendering chart page: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *EChartsSurface) buildKline(xAxis []string, candles []market.Candle, width, height int) *charts.Kline {
	minPrice, maxPrice := priceBounds(candles)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxPrice)*0.01)
	}

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           echartstypes.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", width),
			Height:          fmt.Sprintf("%dpx", height),
			BackgroundColor: colorBackground,
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:      fmt.Sprintf("%s %s", strings.ToUpper(s.symbol), s.interval),
			Left:       "left",
			Top:        "10",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(minPrice-padding, 4),
			Max:       round(maxPrice+padding, 4),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)

	data := make([]opts.KlineData, 0, len(candles))
	for _, c := range candles {
		data = append(data, opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}})
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", data)
	return kline
}

func buildEMAOverlay(xAxis []string, candles []market.Candle) *charts.Line {
	if len(candles) < emaPeriod {
		return nil
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	ema := talib.Ema(closes, emaPeriod)

	line := charts.NewLine()
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	line.SetXAxis(xAxis)
	line.AddSeries(fmt.Sprintf("EMA%d", emaPeriod), toLineData(ema, len(candles)),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEma, Width: 2}))
	return line
}

func buildStrategyLine(xAxis []string, lt types.LineType, entry lineEntry) *charts.Line {
	styleType := "solid"
	if entry.flags.Dashed {
		styleType = "dashed"
	}
	data := make([]opts.LineData, len(xAxis))
	for i := range data {
		data[i] = opts.LineData{Value: round(entry.price, 4)}
	}
	line := charts.NewLine()
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	line.SetXAxis(xAxis)
	name := entry.flags.Label
	if name == "" {
		name = string(lt)
	}
	line.AddSeries(name, data,
		charts.WithLineStyleOpts(opts.LineStyle{Color: entry.color, Width: 2, Type: styleType}))
	return line
}

func buildMarkerScatter(xAxis []string, bucketIndex map[int64]int, markers []Marker) *charts.Scatter {
	if len(markers) == 0 {
		return nil
	}
	groups := map[string][]opts.ScatterData{}
	colors := map[string]string{}
	for _, m := range markers {
		idx, ok := bucketIndex[m.Time]
		if !ok {
			continue
		}
		groups[m.Label] = append(groups[m.Label], opts.ScatterData{
			Name:       m.ID,
			Value:      []any{xAxis[idx], round(m.Price, 4)},
			Symbol:     m.Shape,
			SymbolSize: 14,
		})
		colors[m.Label] = m.Color
	}
	if len(groups) == 0 {
		return nil
	}
	sc := charts.NewScatter()
	sc.SetXAxis(xAxis)
	for label, data := range groups {
		sc.AddSeries(label, data, charts.WithItemStyleOpts(opts.ItemStyle{Color: colors[label]}))
	}
	return sc
}

func toLineData(series []float64, length int) []opts.LineData {
	line := make([]opts.LineData, length)
	offset := length - len(series)
	if offset < 0 {
		offset = 0
	}
	for i := 0; i < offset; i++ {
		line[i] = opts.LineData{Value: nil}
	}
	for i := 0; i < len(series) && offset+i < length; i++ {
		val := series[i]
		if math.IsNaN(val) || val == 0 {
			line[offset+i] = opts.LineData{Value: nil}
		} else {
			line[offset+i] = opts.LineData{Value: round(val, 4)}
		}
	}
	return line
}

func priceBounds(candles []market.Candle) (minVal, maxVal float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	minVal = candles[0].Low
	maxVal = candles[0].High
	for _, c := range candles {
		if c.Low < minVal {
			minVal = c.Low
		}
		if c.High > maxVal {
			maxVal = c.High
		}
	}
	return minVal, maxVal
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}
