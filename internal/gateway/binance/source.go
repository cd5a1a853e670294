// Package binance implements market.Source against the Binance spot API via
// the go-binance SDK.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"tracer/internal/logger"
	"tracer/internal/market"

	gobinance "github.com/adshao/go-binance/v2"
)

const maxHistoryLimit = 1000

// Source streams trades and serves kline history for one or more spot
// symbols.
type Source struct {
	cfg    Config
	client *gobinance.Client

	mu          sync.Mutex
	tradeCancel context.CancelFunc

	statsMu sync.Mutex
	stats   market.SourceStats
}

// New builds a Source; no API key is needed for public market data.
func New(cfg Config) *Source {
	final := cfg.withDefaults()
	client := gobinance.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{cfg: final, client: client}
}

// FetchHistory returns up to limit closed candles for symbol/interval.
func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	symbol = cleanSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	kls, err := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching klines %s %s: %w", symbol, interval, err)
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	return out, nil
}

// SubscribeTrades opens the raw trade stream for one symbol. Resubscribing
// cancels the previous stream first.
func (s *Source) SubscribeTrades(ctx context.Context, symbol string, opts market.SubscribeOptions) (<-chan market.TickEvent, error) {
	symbol = cleanSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required for trade subscription")
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 1024
	}
	out := make(chan market.TickEvent, buffer)
	subCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.tradeCancel != nil {
		s.tradeCancel()
	}
	s.tradeCancel = cancel
	s.mu.Unlock()

	go func() {
		defer close(out)
		s.runTradeLoop(subCtx, symbol, out, opts)
	}()
	return out, nil
}

func (s *Source) runTradeLoop(ctx context.Context, symbol string, out chan<- market.TickEvent, opts market.SubscribeOptions) {
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		var errMu sync.Mutex
		var lastErr error
		handler := func(event *gobinance.WsTradeEvent) {
			te, ok := convertTradeEvent(event)
			if !ok {
				return
			}
			select {
			case <-ctx.Done():
			case out <- te:
			default:
				logger.Warnf("[binance] trade channel full, drop %s", te.Symbol)
			}
		}
		errHandler := func(err error) {
			if err == nil {
				return
			}
			errMu.Lock()
			lastErr = err
			errMu.Unlock()
		}
		doneC, stopC, err := gobinance.WsTradeServe(symbol, handler, errHandler)
		if err != nil {
			s.recordSubscribeError(err)
			if opts.OnDisconnect != nil {
				opts.OnDisconnect(err)
			}
			if !sleepWithContext(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}
		delay = time.Second
		if opts.OnConnect != nil {
			opts.OnConnect()
		}
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
		}
		close(stopC)
		errMu.Lock()
		errCopy := lastErr
		errMu.Unlock()
		s.recordReconnect(errCopy)
		if opts.OnDisconnect != nil {
			opts.OnDisconnect(errCopy)
		}
		if !sleepWithContext(ctx, delay) {
			return
		}
		delay = nextDelay(delay)
	}
}

// Stats reports connection accounting for diagnostics.
func (s *Source) Stats() market.SourceStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// Close cancels any active stream.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tradeCancel != nil {
		s.tradeCancel()
		s.tradeCancel = nil
	}
	return nil
}

func (s *Source) recordReconnect(err error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.Reconnects++
	if err != nil {
		s.stats.LastError = err.Error()
	}
}

func (s *Source) recordSubscribeError(err error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.SubscribeErrors++
	if err != nil {
		s.stats.LastError = err.Error()
	}
}

func convertTradeEvent(ev *gobinance.WsTradeEvent) (market.TickEvent, bool) {
	if ev == nil {
		return market.TickEvent{}, false
	}
	return market.TickEvent{
		Symbol:    ev.Symbol,
		Price:     parseFloat(ev.Price),
		Quantity:  parseFloat(ev.Quantity),
		TradeTime: ev.TradeTime,
	}, true
}

func cleanSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	return strings.ReplaceAll(symbol, "/", "")
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(cur time.Duration) time.Duration {
	next := cur * 2
	if next > 30*time.Second {
		next = 30 * time.Second
	}
	return next
}
