package domain

import "context"

// OrderStore persists the order journal.
type OrderStore interface {
	Create(ctx context.Context, o Order) error
	Update(ctx context.Context, o Order) error
	Get(ctx context.Context, clientOrderID string) (Order, error)
	ListOpen(ctx context.Context) ([]Order, error)
}

// PositionStore persists position snapshots so the risk manager can recover
// state across restarts.
type PositionStore interface {
	Upsert(ctx context.Context, p Position) error
	Get(ctx context.Context, symbol string) (Position, error)
	List(ctx context.Context) ([]Position, error)
}

// FillStore persists executions.
type FillStore interface {
	Create(ctx context.Context, f Fill) error
	ListByOrder(ctx context.Context, clientOrderID string) ([]Fill, error)
}
