package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SamoraDC/tradebot/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL. Fills are
// append-only; nothing updates or deletes them.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

// Create appends a fill to the journal.
func (s *FillStore) Create(ctx context.Context, f domain.Fill) error {
	const query = `
		INSERT INTO fills (client_order_id, venue_order_id, symbol, side, price, size, fee, filled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		f.ClientOrderID, nullable(f.VenueOrderID), f.Symbol, string(f.Side),
		f.Price, f.Size, f.Fee, f.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: create fill for %s: %w", f.ClientOrderID, err)
	}
	return nil
}

// ListByOrder returns every fill for one client order, oldest first.
func (s *FillStore) ListByOrder(ctx context.Context, clientOrderID string) ([]domain.Fill, error) {
	const query = `
		SELECT client_order_id, venue_order_id, symbol, side, price, size, fee, filled_at
		FROM fills WHERE client_order_id = $1 ORDER BY filled_at, id`

	rows, err := s.pool.Query(ctx, query, clientOrderID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills for %s: %w", clientOrderID, err)
	}
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side string
		var venueID *string
		if err := rows.Scan(&f.ClientOrderID, &venueID, &f.Symbol, &side, &f.Price, &f.Size, &f.Fee, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		f.Side = domain.OrderSide(side)
		if venueID != nil {
			f.VenueOrderID = *venueID
		}
		fills = append(fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list fills for %s: %w", clientOrderID, err)
	}
	return fills, nil
}

// Compile-time interface check.
var _ domain.FillStore = (*FillStore)(nil)
