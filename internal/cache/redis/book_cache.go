package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SamoraDC/tradebot/internal/domain"
)

// bookTTL expires snapshots nobody refreshes; a stale cached book is worse
// than no book for out-of-process readers.
const bookTTL = 30 * time.Second

// BookCache implements domain.BookCache. Snapshots are stored whole as JSON
// at "book:{symbol}"; readers always want the full book, so a single value
// beats per-level structures here.
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func bookKey(symbol string) string {
	return "book:" + symbol
}

// SetSnapshot replaces the cached snapshot for the symbol.
func (bc *BookCache) SetSnapshot(ctx context.Context, snap domain.BookSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal book %s: %w", snap.Symbol, err)
	}
	if err := bc.rdb.Set(ctx, bookKey(snap.Symbol), data, bookTTL).Err(); err != nil {
		return fmt.Errorf("redis: set book %s: %w", snap.Symbol, err)
	}
	return nil
}

// GetSnapshot retrieves the cached snapshot. It returns domain.ErrNotFound
// when no snapshot exists or it has expired.
func (bc *BookCache) GetSnapshot(ctx context.Context, symbol string) (domain.BookSnapshot, error) {
	data, err := bc.rdb.Get(ctx, bookKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.BookSnapshot{}, domain.ErrNotFound
		}
		return domain.BookSnapshot{}, fmt.Errorf("redis: get book %s: %w", symbol, err)
	}

	var snap domain.BookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("redis: unmarshal book %s: %w", symbol, err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
