package executor

import (
	"sync"
	"time"
)

// Dedup guards against the same client order ID being submitted to the
// venue more than once within a time-to-live window. Together with
// venue-side idempotency on the ID, a retried or replayed approval can never
// create a second live order. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // clientOrderID -> first seen
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup with the given TTL.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate reports whether clientOrderID has been seen within the TTL.
// An unseen (or expired) ID is recorded and reported as fresh.
func (d *Dedup) IsDuplicate(clientOrderID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if first, ok := d.seen[clientOrderID]; ok && now.Sub(first) < d.ttl {
		return true
	}
	d.seen[clientOrderID] = now
	return false
}

// Cleanup drops expired entries. Call periodically to bound memory.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}
