package domain

import (
	"context"
	"time"
)

// PriceCache stores the latest mark price per symbol for out-of-process
// consumers (dashboards, strategy processes).
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// BookCache stores the latest book snapshot per symbol.
type BookCache interface {
	SetSnapshot(ctx context.Context, snap BookSnapshot) error
	GetSnapshot(ctx context.Context, symbol string) (BookSnapshot, error)
}

// SignalBus is the cross-process messaging fabric. External strategy
// processes publish trade signals on it; the engine publishes price and fill
// events for downstream subscribers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter is the admission-control contract used by the execution
// engine. Wait blocks until a request for key is allowed or ctx is done.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
