package market

import (
	"sort"
	"sync"
)

// CandleStore keeps the most recent candles per interval in memory. The
// chart is a live view, not an archive, so a bounded slice per interval is
// all the storage this system carries.
type CandleStore struct {
	mu   sync.RWMutex
	max  int
	data map[string][]Candle
}

// NewCandleStore bounds each interval series at max candles.
func NewCandleStore(max int) *CandleStore {
	if max <= 0 {
		max = 500
	}
	return &CandleStore{max: max, data: make(map[string][]Candle)}
}

// Set replaces the series for an interval, sorted and trimmed to the cap.
func (s *CandleStore) Set(interval string, candles []Candle) {
	cp := append([]Candle(nil), candles...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].OpenTime < cp[j].OpenTime })
	if len(cp) > s.max {
		cp = cp[len(cp)-s.max:]
	}
	s.mu.Lock()
	s.data[interval] = cp
	s.mu.Unlock()
}

// Upsert merges one candle into the series, replacing the bar with the same
// open time or appending a new one.
func (s *CandleStore) Upsert(interval string, c Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	series := s.data[interval]
	if n := len(series); n > 0 && series[n-1].OpenTime == c.OpenTime {
		series[n-1] = c
		return
	}
	series = append(series, c)
	if len(series) > s.max {
		series = series[len(series)-s.max:]
	}
	s.data[interval] = series
}

// Get returns a copy of the series for an interval.
func (s *CandleStore) Get(interval string) []Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Candle(nil), s.data[interval]...)
}

// Latest returns the most recent candle, false when the series is empty.
func (s *CandleStore) Latest(interval string) (Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.data[interval]
	if len(series) == 0 {
		return Candle{}, false
	}
	return series[len(series)-1], true
}
