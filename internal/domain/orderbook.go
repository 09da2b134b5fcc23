package domain

import "time"

// BookSide identifies one side of an order book.
type BookSide string

const (
	BookSideBid BookSide = "bid"
	BookSideAsk BookSide = "ask"
)

// PriceLevel is a single price point with its aggregated resting quantity.
type PriceLevel struct {
	Price float64
	Size  float64
}

// BookSnapshot is a point-in-time copy of one symbol's order book.
type BookSnapshot struct {
	Symbol    string
	Bids      []PriceLevel // best (highest) first
	Asks      []PriceLevel // best (lowest) first
	BestBid   float64
	BestAsk   float64
	MidPrice  float64
	Seq       uint64
	Stale     bool
	Timestamp time.Time
}

// WalkResult is the outcome of sweeping one book side for a target size.
type WalkResult struct {
	AvgFillPrice float64
	FilledSize   float64
	UnfilledSize float64
}

// Complete reports whether the walk found liquidity for the full size.
func (w WalkResult) Complete() bool {
	return w.UnfilledSize == 0
}
