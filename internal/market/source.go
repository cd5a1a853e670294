package market

import "context"

// SubscribeOptions tunes a live trade subscription.
type SubscribeOptions struct {
	Buffer       int
	OnConnect    func()
	OnDisconnect func(error)
}

// SourceStats captures connection accounting for diagnostics.
type SourceStats struct {
	Reconnects      int
	SubscribeErrors int
	LastError       string
}

// Source is the exchange-facing contract: historical candles to seed the
// chart and a live trade stream to advance it.
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	SubscribeTrades(ctx context.Context, symbol string, opts SubscribeOptions) (<-chan TickEvent, error)

	Stats() SourceStats

	Close() error
}
