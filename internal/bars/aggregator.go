// Package bars converts the trade-tick stream into fixed-window OHLCV bars
// and tracks per-symbol session VWAP.
package bars

import (
	"log/slog"
	"sync"
	"time"

	"github.com/SamoraDC/tradebot/internal/domain"
)

// EmitFunc receives each finalized bar. Emitted bars are immutable.
type EmitFunc func(domain.Bar)

type windowKey struct {
	symbol    string
	timeframe time.Duration
}

type vwapState struct {
	sumPV float64
	sumV  float64
}

// Aggregator maintains one in-progress bar per (symbol, timeframe) pair.
// Timeframes for the same symbol are independent windows, not derived from
// each other.
type Aggregator struct {
	mu         sync.Mutex
	timeframes []time.Duration
	open       map[windowKey]*domain.Bar
	vwap       map[string]*vwapState
	emit       EmitFunc
	logger     *slog.Logger
}

// NewAggregator creates an Aggregator that folds ticks into the given
// timeframes and calls emit for each completed bar.
func NewAggregator(timeframes []time.Duration, emit EmitFunc, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		timeframes: timeframes,
		open:       make(map[windowKey]*domain.Bar),
		vwap:       make(map[string]*vwapState),
		emit:       emit,
		logger:     logger.With(slog.String("component", "bars")),
	}
}

// OnTrade folds one trade tick into every configured timeframe window and
// the session VWAP. A tick at or past a window boundary finalizes the old
// bar, emits it, then opens a new window aligned to the timeframe.
func (a *Aggregator) OnTrade(symbol string, price, size float64, ts time.Time) {
	if price <= 0 || size < 0 {
		a.logger.Debug("dropping invalid trade tick",
			slog.String("symbol", symbol),
			slog.Float64("price", price),
			slog.Float64("size", size),
		)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	vs := a.vwap[symbol]
	if vs == nil {
		vs = &vwapState{}
		a.vwap[symbol] = vs
	}
	vs.sumPV += price * size
	vs.sumV += size

	for _, tf := range a.timeframes {
		a.fold(windowKey{symbol: symbol, timeframe: tf}, price, size, ts)
	}
}

func (a *Aggregator) fold(key windowKey, price, size float64, ts time.Time) {
	bar := a.open[key]

	if bar != nil && !ts.Before(bar.WindowEnd()) {
		a.emit(*bar)
		bar = nil
	}

	if bar == nil {
		a.open[key] = &domain.Bar{
			Symbol:      key.symbol,
			Timeframe:   key.timeframe,
			Open:        price,
			High:        price,
			Low:         price,
			Close:       price,
			Volume:      size,
			WindowStart: ts.Truncate(key.timeframe),
		}
		return
	}

	if price > bar.High {
		bar.High = price
	}
	if price < bar.Low {
		bar.Low = price
	}
	bar.Close = price
	bar.Volume += size
}

// VWAP returns the running session volume-weighted average price for symbol,
// false when no volume has been seen.
func (a *Aggregator) VWAP(symbol string) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	vs := a.vwap[symbol]
	if vs == nil || vs.sumV == 0 {
		return 0, false
	}
	return vs.sumPV / vs.sumV, true
}

// ResetSession clears the VWAP accumulators for every symbol.
func (a *Aggregator) ResetSession() {
	a.mu.Lock()
	a.vwap = make(map[string]*vwapState)
	a.mu.Unlock()
}

// Current returns a copy of the in-progress bar for (symbol, timeframe),
// false when no tick has opened one yet.
func (a *Aggregator) Current(symbol string, timeframe time.Duration) (domain.Bar, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	bar := a.open[windowKey{symbol: symbol, timeframe: timeframe}]
	if bar == nil {
		return domain.Bar{}, false
	}
	return *bar, true
}
