// Package paper is the simulated venue used in paper-trading mode. Orders
// fill against the engine's own order books; market data comes from a
// random-walk generator. No network, no real money.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SamoraDC/tradebot/internal/book"
	"github.com/SamoraDC/tradebot/internal/domain"
)

// ExecConfig tunes the simulated execution venue.
type ExecConfig struct {
	// TransientFailEvery makes every Nth submission fail with a transient
	// error so retry paths get exercised. Zero disables injection.
	TransientFailEvery int

	// FeeBps is charged on every fill's notional.
	FeeBps float64
}

// Exchange is a simulated execution venue. Market orders fill by walking the
// local book (partial fills on thin books, immediate-or-cancel remainder);
// limit orders fill any crossing quantity and rest for the rest.
type Exchange struct {
	books  *book.Registry
	cfg    ExecConfig
	logger *slog.Logger

	mu      sync.Mutex
	seen    map[string]string       // client order id -> venue order id
	resting map[string]domain.Order // venue order id -> open remainder
	submits int

	events chan domain.ExecutionEvent
}

// NewExchange creates a simulated venue filling against the given books.
func NewExchange(books *book.Registry, cfg ExecConfig, logger *slog.Logger) *Exchange {
	return &Exchange{
		books:   books,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "paper_exchange")),
		seen:    make(map[string]string),
		resting: make(map[string]domain.Order),
		events:  make(chan domain.ExecutionEvent, 256),
	}
}

// SubmitOrder accepts the order and emits ack and fill events. Resubmitting
// a known client order ID is rejected without creating a second live order.
func (x *Exchange) SubmitOrder(ctx context.Context, order domain.Order) (domain.SubmitAck, error) {
	x.mu.Lock()
	if _, dup := x.seen[order.ClientOrderID]; dup {
		x.mu.Unlock()
		return domain.SubmitAck{}, domain.PermanentExec("submit", domain.ErrDuplicateOrder)
	}

	x.submits++
	if x.cfg.TransientFailEvery > 0 && x.submits%x.cfg.TransientFailEvery == 0 {
		x.mu.Unlock()
		return domain.SubmitAck{}, domain.TransientExec("submit", fmt.Errorf("simulated venue timeout"))
	}

	venueID := uuid.New().String()
	x.seen[order.ClientOrderID] = venueID
	order.VenueOrderID = venueID
	x.mu.Unlock()

	x.emit(domain.ExecutionEvent{
		Kind:          domain.ExecEventAck,
		ClientOrderID: order.ClientOrderID,
		VenueOrderID:  venueID,
		Timestamp:     time.Now().UTC(),
	})
	x.execute(order)

	return domain.SubmitAck{VenueOrderID: venueID, State: domain.OrderStateAcknowledged}, nil
}

// execute fills what the book supports and settles the remainder by order
// type.
func (x *Exchange) execute(order domain.Order) {
	filled, avgPx := x.matchAgainstBook(order)

	if filled > 0 {
		fee := avgPx * filled * x.cfg.FeeBps / 10_000
		x.emit(domain.ExecutionEvent{
			Kind:          domain.ExecEventFill,
			ClientOrderID: order.ClientOrderID,
			VenueOrderID:  order.VenueOrderID,
			Fill: &domain.Fill{
				ClientOrderID: order.ClientOrderID,
				VenueOrderID:  order.VenueOrderID,
				Symbol:        order.Symbol,
				Side:          order.Side,
				Price:         avgPx,
				Size:          filled,
				Fee:           fee,
				Timestamp:     time.Now().UTC(),
			},
			Timestamp: time.Now().UTC(),
		})
	}

	remainder := order.Size - filled
	if remainder <= 1e-9 {
		return
	}

	if order.Type == domain.OrderTypeMarket {
		// Immediate-or-cancel: the unfillable remainder comes back.
		x.emit(domain.ExecutionEvent{
			Kind:          domain.ExecEventCancel,
			ClientOrderID: order.ClientOrderID,
			VenueOrderID:  order.VenueOrderID,
			Reason:        "insufficient liquidity",
			Timestamp:     time.Now().UTC(),
		})
		return
	}

	order.FilledSize = filled
	x.mu.Lock()
	x.resting[order.VenueOrderID] = order
	x.mu.Unlock()
	x.logger.Debug("order resting",
		slog.String("venue_order_id", order.VenueOrderID),
		slog.Float64("remaining", remainder),
	)
}

// matchAgainstBook walks the opposite side of the local book, stopping at
// the limit price for limit orders.
func (x *Exchange) matchAgainstBook(order domain.Order) (filled, avgPx float64) {
	b, err := x.books.Get(order.Symbol)
	if err != nil || b.Stale() {
		return 0, 0
	}

	bids, asks := b.Depth(0)
	levels := asks
	if order.Side == domain.OrderSideSell {
		levels = bids
	}

	var notional float64
	remaining := order.Size
	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		if order.Type == domain.OrderTypeLimit {
			if order.Side == domain.OrderSideBuy && lvl.Price > order.LimitPrice {
				break
			}
			if order.Side == domain.OrderSideSell && lvl.Price < order.LimitPrice {
				break
			}
		}
		take := lvl.Size
		if take > remaining {
			take = remaining
		}
		filled += take
		notional += take * lvl.Price
		remaining -= take
	}

	if filled == 0 {
		return 0, 0
	}
	return filled, notional / filled
}

// CancelOrder cancels a resting order. Cancelling an unknown or already
// settled order reports not found.
func (x *Exchange) CancelOrder(ctx context.Context, venueOrderID string) error {
	x.mu.Lock()
	order, ok := x.resting[venueOrderID]
	delete(x.resting, venueOrderID)
	x.mu.Unlock()
	if !ok {
		return domain.PermanentExec("cancel", domain.ErrNotFound)
	}

	x.emit(domain.ExecutionEvent{
		Kind:          domain.ExecEventCancel,
		ClientOrderID: order.ClientOrderID,
		VenueOrderID:  venueOrderID,
		Reason:        "cancelled by client",
		Timestamp:     time.Now().UTC(),
	})
	return nil
}

// OrderStatus reports whether a venue order is still resting.
func (x *Exchange) OrderStatus(ctx context.Context, venueOrderID string) (domain.OrderState, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if order, ok := x.resting[venueOrderID]; ok {
		if order.FilledSize > 0 {
			return domain.OrderStatePartiallyFilled, nil
		}
		return domain.OrderStateAcknowledged, nil
	}
	return "", domain.ErrNotFound
}

// Events delivers the venue's asynchronous notifications.
func (x *Exchange) Events() <-chan domain.ExecutionEvent { return x.events }

func (x *Exchange) emit(ev domain.ExecutionEvent) {
	select {
	case x.events <- ev:
	default:
		x.logger.Error("event channel full, notification dropped",
			slog.String("kind", string(ev.Kind)),
			slog.String("client_order_id", ev.ClientOrderID),
		)
	}
}

// Compile-time interface check.
var _ domain.ExecutionAdapter = (*Exchange)(nil)
