package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SamoraDC/tradebot/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates an OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `client_order_id, venue_order_id, symbol, side, order_type,
	size, limit_price, filled_size, avg_fill_price, state, reduce_only,
	signal_id, reject_reason, parent_id, created_at, updated_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var side, orderType, state string
	var venueID, signalID, rejectReason, parentID *string

	err := row.Scan(
		&o.ClientOrderID, &venueID, &o.Symbol, &side, &orderType,
		&o.Size, &o.LimitPrice, &o.FilledSize, &o.AvgFillPrice, &state, &o.ReduceOnly,
		&signalID, &rejectReason, &parentID, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(orderType)
	o.State = domain.OrderState(state)
	if venueID != nil {
		o.VenueOrderID = *venueID
	}
	if signalID != nil {
		o.SignalID = *signalID
	}
	if rejectReason != nil {
		o.RejectReason = *rejectReason
	}
	if parentID != nil {
		o.ParentID = *parentID
	}
	return o, nil
}

// Create inserts a new order row.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			client_order_id, venue_order_id, symbol, side, order_type,
			size, limit_price, filled_size, avg_fill_price, state, reduce_only,
			signal_id, reject_reason, parent_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16
		)`

	_, err := s.pool.Exec(ctx, query,
		o.ClientOrderID, nullable(o.VenueOrderID), o.Symbol, string(o.Side), string(o.Type),
		o.Size, o.LimitPrice, o.FilledSize, o.AvgFillPrice, string(o.State), o.ReduceOnly,
		nullable(o.SignalID), nullable(o.RejectReason), nullable(o.ParentID), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ClientOrderID, err)
	}
	return nil
}

// Update replaces the mutable fields of an order.
func (s *OrderStore) Update(ctx context.Context, o domain.Order) error {
	const query = `
		UPDATE orders SET
			venue_order_id = $2,
			filled_size    = $3,
			avg_fill_price = $4,
			state          = $5,
			reject_reason  = $6,
			updated_at     = $7
		WHERE client_order_id = $1`

	tag, err := s.pool.Exec(ctx, query,
		o.ClientOrderID, nullable(o.VenueOrderID),
		o.FilledSize, o.AvgFillPrice, string(o.State),
		nullable(o.RejectReason), o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", o.ClientOrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update order %s: %w", o.ClientOrderID, domain.ErrNotFound)
	}
	return nil
}

// Get fetches one order by client order ID.
func (s *OrderStore) Get(ctx context.Context, clientOrderID string) (domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE client_order_id = $1`

	o, err := scanOrder(s.pool.QueryRow(ctx, query, clientOrderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", clientOrderID, err)
	}
	return o, nil
}

// ListOpen returns every order not yet in a terminal state.
func (s *OrderStore) ListOpen(ctx context.Context) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders
		WHERE state NOT IN ('filled', 'rejected', 'cancelled', 'expired')
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list open orders: %w", err)
	}
	return orders, nil
}

// nullable maps empty strings to NULL so optional columns stay queryable.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
