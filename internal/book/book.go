// Package book maintains per-symbol bid/ask price-level stores rebuilt from
// streaming quote updates, plus the liquidity walk used by the execution
// engine.
package book

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/SamoraDC/tradebot/internal/domain"
)

// side holds one ordered collection of price levels, best first. Bids sort
// descending, asks ascending. Levels are upserted in place: updates dominate
// rebuilds by orders of magnitude, so a sorted slice with binary search beats
// a heap that would need a full rebuild per snapshot.
type side struct {
	levels     []domain.PriceLevel
	descending bool
}

// search returns the insertion index for price and whether an exact level
// already exists there.
func (s *side) search(price float64) (int, bool) {
	i := sort.Search(len(s.levels), func(i int) bool {
		if s.descending {
			return s.levels[i].Price <= price
		}
		return s.levels[i].Price >= price
	})
	if i < len(s.levels) && s.levels[i].Price == price {
		return i, true
	}
	return i, false
}

// update upserts the level at price; size zero removes it.
func (s *side) update(price, size float64) {
	i, found := s.search(price)
	switch {
	case size == 0 && found:
		s.levels = append(s.levels[:i], s.levels[i+1:]...)
	case size == 0:
		// Removing an absent level is a no-op.
	case found:
		s.levels[i].Size = size
	default:
		s.levels = append(s.levels, domain.PriceLevel{})
		copy(s.levels[i+1:], s.levels[i:])
		s.levels[i] = domain.PriceLevel{Price: price, Size: size}
	}
}

// best returns the top-of-book level.
func (s *side) best() (domain.PriceLevel, bool) {
	if len(s.levels) == 0 {
		return domain.PriceLevel{}, false
	}
	return s.levels[0], true
}

// depth copies up to n levels from the top.
func (s *side) depth(n int) []domain.PriceLevel {
	if n <= 0 || n > len(s.levels) {
		n = len(s.levels)
	}
	out := make([]domain.PriceLevel, n)
	copy(out, s.levels[:n])
	return out
}

// Book is the live order book for one symbol. It is safe for concurrent use:
// the feed writes, risk and execution read.
type Book struct {
	mu         sync.RWMutex
	symbol     string
	bids       side
	asks       side
	seq        uint64
	stale      bool
	lastUpdate time.Time
}

// NewBook creates an empty book for symbol. A new book starts stale until the
// first update arrives.
func NewBook(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids:   side{descending: true},
		asks:   side{descending: false},
		stale:  true,
	}
}

// Symbol returns the symbol this book tracks.
func (b *Book) Symbol() string { return b.symbol }

// Update upserts a price level on the given side; size zero removes the
// level. Each update clears the staleness flag.
func (b *Book) Update(bookSide domain.BookSide, price, size float64, ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bookSide == domain.BookSideBid {
		b.bids.update(price, size)
	} else {
		b.asks.update(price, size)
	}
	b.stale = false
	b.lastUpdate = ts
}

// Replace swaps the full book contents with the snapshot levels, used during
// resynchronization after a sequence gap.
func (b *Book) Replace(snap domain.BookSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids.levels = append(b.bids.levels[:0], snap.Bids...)
	sort.Slice(b.bids.levels, func(i, j int) bool { return b.bids.levels[i].Price > b.bids.levels[j].Price })
	b.asks.levels = append(b.asks.levels[:0], snap.Asks...)
	sort.Slice(b.asks.levels, func(i, j int) bool { return b.asks.levels[i].Price < b.asks.levels[j].Price })
	b.seq = snap.Seq
	b.stale = false
	b.lastUpdate = snap.Timestamp
}

// SetSeq records the last applied venue sequence number.
func (b *Book) SetSeq(seq uint64) {
	b.mu.Lock()
	b.seq = seq
	b.mu.Unlock()
}

// Seq returns the last applied venue sequence number.
func (b *Book) Seq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// MarkStale flags the book so downstream risk/execution logic refuses to act
// on it until fresh updates arrive.
func (b *Book) MarkStale() {
	b.mu.Lock()
	b.stale = true
	b.mu.Unlock()
}

// Stale reports whether the book has been flagged stale.
func (b *Book) Stale() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stale
}

// BestBid returns the highest bid level.
func (b *Book) BestBid() (domain.PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.best()
}

// BestAsk returns the lowest ask level.
func (b *Book) BestAsk() (domain.PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.asks.best()
}

// MidPrice returns the midpoint of best bid and ask, or false when either
// side is empty.
func (b *Book) MidPrice() (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bid, okB := b.bids.best()
	ask, okA := b.asks.best()
	if !okB || !okA {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// SpreadBps returns the bid/ask spread in basis points of the mid price.
func (b *Book) SpreadBps() (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bid, okB := b.bids.best()
	ask, okA := b.asks.best()
	if !okB || !okA {
		return 0, false
	}
	mid := (bid.Price + ask.Price) / 2
	if mid <= 0 {
		return 0, false
	}
	return (ask.Price - bid.Price) / mid * 10_000, true
}

// Depth returns up to n levels per side, best first. n <= 0 returns all.
func (b *Book) Depth(n int) (bids, asks []domain.PriceLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.depth(n), b.asks.depth(n)
}

// Imbalance returns (bidDepth - askDepth) / (bidDepth + askDepth) over the
// top n levels, clamped to [-1, 1]. An empty book returns 0.
func (b *Book) Imbalance(n int) float64 {
	bids, asks := b.Depth(n)

	var bidDepth, askDepth float64
	for _, l := range bids {
		bidDepth += l.Size
	}
	for _, l := range asks {
		askDepth += l.Size
	}
	total := bidDepth + askDepth
	if total == 0 {
		return 0
	}
	imb := (bidDepth - askDepth) / total
	return math.Max(-1, math.Min(1, imb))
}

// Walk sweeps the opposite side of the book for a taker order of the given
// side and size: a buy consumes asks from the best price up, a sell consumes
// bids from the best price down. It accumulates quantity across levels until
// the target size is filled or the book is exhausted.
func (b *Book) Walk(takerSide domain.OrderSide, size float64) domain.WalkResult {
	b.mu.RLock()
	defer b.mu.RUnlock()

	levels := b.asks.levels
	if takerSide == domain.OrderSideSell {
		levels = b.bids.levels
	}

	remaining := size
	var notional, filled float64
	for _, l := range levels {
		if remaining <= 0 {
			break
		}
		take := math.Min(remaining, l.Size)
		notional += take * l.Price
		filled += take
		remaining -= take
	}

	res := domain.WalkResult{FilledSize: filled, UnfilledSize: remaining}
	if filled > 0 {
		res.AvgFillPrice = notional / filled
	}
	return res
}

// Snapshot copies the current book state.
func (b *Book) Snapshot() domain.BookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := domain.BookSnapshot{
		Symbol:    b.symbol,
		Bids:      b.bids.depth(0),
		Asks:      b.asks.depth(0),
		Seq:       b.seq,
		Stale:     b.stale,
		Timestamp: b.lastUpdate,
	}
	if bid, ok := b.bids.best(); ok {
		snap.BestBid = bid.Price
	}
	if ask, ok := b.asks.best(); ok {
		snap.BestAsk = ask.Price
	}
	if snap.BestBid > 0 && snap.BestAsk > 0 {
		snap.MidPrice = (snap.BestBid + snap.BestAsk) / 2
	}
	return snap
}
