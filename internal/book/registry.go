package book

import (
	"sync"

	"github.com/SamoraDC/tradebot/internal/domain"
)

// Registry owns one Book per subscribed symbol. Books are created on
// subscription and torn down on unsubscribe; an update for a symbol with no
// book is a caller error, never a silent creation.
type Registry struct {
	mu    sync.RWMutex
	books map[string]*Book
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{books: make(map[string]*Book)}
}

// Subscribe creates the book for symbol if absent and returns it.
func (r *Registry) Subscribe(symbol string) *Book {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.books[symbol]; ok {
		return b
	}
	b := NewBook(symbol)
	r.books[symbol] = b
	return b
}

// Unsubscribe tears down the book for symbol.
func (r *Registry) Unsubscribe(symbol string) {
	r.mu.Lock()
	delete(r.books, symbol)
	r.mu.Unlock()
}

// Get returns the book for symbol or domain.ErrUnknownSymbol when no
// subscription exists.
func (r *Registry) Get(symbol string) (*Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.books[symbol]
	if !ok {
		return nil, domain.ErrUnknownSymbol
	}
	return b, nil
}

// Symbols lists every subscribed symbol.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.books))
	for s := range r.books {
		out = append(out, s)
	}
	return out
}

// MarkAllStale flags every book, used on feed disconnect.
func (r *Registry) MarkAllStale() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.books {
		b.MarkStale()
	}
}

// MidPrice returns the mid price for symbol, false when the book is missing,
// one-sided, or stale. Risk marking refuses stale books.
func (r *Registry) MidPrice(symbol string) (float64, bool) {
	b, err := r.Get(symbol)
	if err != nil || b.Stale() {
		return 0, false
	}
	return b.MidPrice()
}
