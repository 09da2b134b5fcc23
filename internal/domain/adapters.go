package domain

import "context"

// MarketDataAdapter is the capability interface a venue market-data
// integration implements. The core depends only on this contract; wire
// protocol, subscription handshake, and authentication live behind it.
type MarketDataAdapter interface {
	// Connect establishes the transport connection.
	Connect(ctx context.Context) error

	// Authenticate performs the venue handshake. Venues without explicit
	// authentication return nil.
	Authenticate(ctx context.Context) error

	// Subscribe requests streaming data for the given symbols.
	Subscribe(ctx context.Context, symbols []string) error

	// Next blocks until the next normalized event arrives. It returns a
	// *ProtocolError for malformed messages (the caller drops them) and a
	// *TransportError when the connection is lost.
	Next(ctx context.Context) (MarketEvent, error)

	// Snapshot fetches a full book snapshot for resynchronization after a
	// sequence gap.
	Snapshot(ctx context.Context, symbol string) (BookSnapshot, error)

	// Close tears down the connection.
	Close() error
}

// ExecutionAdapter is the capability interface a venue order-entry
// integration implements. Errors returned from SubmitOrder and CancelOrder
// must be classified via TransientExec / PermanentExec.
type ExecutionAdapter interface {
	// SubmitOrder sends the order to the venue. Submission is idempotent on
	// Order.ClientOrderID: resubmitting the same ID must not create a second
	// live order.
	SubmitOrder(ctx context.Context, order Order) (SubmitAck, error)

	// CancelOrder requests cancellation of a live order.
	CancelOrder(ctx context.Context, venueOrderID string) error

	// OrderStatus queries the venue-side state of an order.
	OrderStatus(ctx context.Context, venueOrderID string) (OrderState, error)

	// Events delivers asynchronous order-lifecycle notifications (acks,
	// fills, rejects, cancels). The channel is closed when the adapter shuts
	// down.
	Events() <-chan ExecutionEvent
}
