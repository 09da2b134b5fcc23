package domain

import "time"

// TradeSignal is an abstract trade decision produced by an external strategy
// process. The engine consumes signals as-is; it never mutates them and never
// second-guesses the strategy's alpha, only whether the trade is safe.
type TradeSignal struct {
	ID         string    `json:"id"` // UUID, used for dedup
	Source     string    `json:"source"`
	Symbol     string    `json:"symbol"`
	Direction  OrderSide `json:"direction"`
	SizeHint   float64   `json:"size_hint"`
	LimitPrice float64   `json:"limit_price,omitempty"` // zero requests a market order
	ReduceOnly bool      `json:"reduce_only,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the signal's expiry has passed at now.
func (s TradeSignal) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// OrderType returns the order type a signal maps to.
func (s TradeSignal) OrderType() OrderType {
	if s.LimitPrice > 0 {
		return OrderTypeLimit
	}
	return OrderTypeMarket
}
