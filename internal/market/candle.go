// Package market carries the candle and tick primitives the chart feeds on.
package market

import "time"

// Candle is one fixed-width OHLCV bar. Times are epoch milliseconds as
// delivered by the exchange.
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// OpenUnix returns the bar's open time in epoch seconds, the unit the
// display axis works in.
func (c Candle) OpenUnix() int64 { return c.OpenTime / 1000 }

// TimeString formats the open time for log lines.
func (c Candle) TimeString() string {
	return time.UnixMilli(c.OpenTime).UTC().Format("2006-01-02 15:04")
}

// TickEvent is one live trade from the exchange stream.
type TickEvent struct {
	Symbol    string
	Price     float64
	Quantity  float64
	TradeTime int64 // epoch milliseconds
}
