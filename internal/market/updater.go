package market

import (
	"context"
	"time"

	"tracer/internal/logger"
)

// Updater keeps the candle store current: a history fetch seeds it, live
// trades advance the open bar, and a periodic refetch heals any gap the
// stream missed.
type Updater struct {
	source   Source
	store    *CandleStore
	symbol   string
	interval string
	width    time.Duration
	limit    int
}

// NewUpdater binds a source to the store for one symbol and interval.
func NewUpdater(source Source, store *CandleStore, symbol, interval string, width time.Duration, limit int) *Updater {
	if limit <= 0 {
		limit = 500
	}
	return &Updater{
		source:   source,
		store:    store,
		symbol:   symbol,
		interval: interval,
		width:    width,
		limit:    limit,
	}
}

// Run blocks until ctx ends. The initial history fetch is mandatory; a
// chart with no candles has nothing to draw strategy lines over.
func (u *Updater) Run(ctx context.Context) error {
	candles, err := u.source.FetchHistory(ctx, u.symbol, u.interval, u.limit)
	if err != nil {
		return err
	}
	u.store.Set(u.interval, candles)
	logger.Infof("market: seeded %d %s candles for %s", len(candles), u.interval, u.symbol)

	trades, err := u.source.SubscribeTrades(ctx, u.symbol, SubscribeOptions{
		Buffer: 512,
		OnDisconnect: func(err error) {
			stats := u.source.Stats()
			logger.Warnf("market: trade stream dropped: %v reconnects=%d subscribe_errors=%d",
				err, stats.Reconnects, stats.SubscribeErrors)
		},
	})
	if err != nil {
		return err
	}

	refresh := u.width
	if refresh < time.Minute {
		refresh = time.Minute
	}
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-trades:
			if !ok {
				return nil
			}
			u.applyTick(tick)
		case <-ticker.C:
			u.refetch(ctx)
		}
	}
}

// applyTick folds one trade into the bar it belongs to, opening a fresh bar
// at each interval boundary.
func (u *Updater) applyTick(tick TickEvent) {
	widthMS := u.width.Milliseconds()
	if widthMS <= 0 || tick.TradeTime <= 0 {
		return
	}
	openTime := tick.TradeTime - tick.TradeTime%widthMS

	last, ok := u.store.Latest(u.interval)
	if ok && last.OpenTime == openTime {
		last.Close = tick.Price
		if tick.Price > last.High {
			last.High = tick.Price
		}
		if tick.Price < last.Low {
			last.Low = tick.Price
		}
		last.Volume += tick.Quantity
		last.Trades++
		u.store.Upsert(u.interval, last)
		return
	}
	if ok && openTime < last.OpenTime {
		// Late trade for an already closed bar; the periodic refetch will
		// reconcile it.
		return
	}
	u.store.Upsert(u.interval, Candle{
		OpenTime:  openTime,
		CloseTime: openTime + widthMS - 1,
		Open:      tick.Price,
		High:      tick.Price,
		Low:       tick.Price,
		Close:     tick.Price,
		Volume:    tick.Quantity,
		Trades:    1,
	})
}

func (u *Updater) refetch(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	candles, err := u.source.FetchHistory(fetchCtx, u.symbol, u.interval, u.limit)
	if err != nil {
		logger.Warnf("market: history refresh failed: %v", err)
		return
	}
	u.store.Set(u.interval, candles)
}
