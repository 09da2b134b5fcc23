package risk

import (
	"math"

	"github.com/SamoraDC/tradebot/internal/domain"
)

// applyFill folds a fill into the position using weighted-average entry
// rules and returns the realized P&L delta. Realized P&L is booked only on
// the portion of the position that is closed; a fill crossing through zero
// flips the position and re-bases the entry price at the fill price.
func applyFill(p *domain.Position, f domain.Fill) float64 {
	delta := f.Size
	if f.Side == domain.OrderSideSell {
		delta = -f.Size
	}

	q := p.Quantity

	// Opening or extending: same direction (or flat). Weighted-average the
	// entry price, nothing realized.
	if q == 0 || sameSign(q, delta) {
		total := q + delta
		p.AvgEntryPrice = (p.AvgEntryPrice*math.Abs(q) + f.Price*math.Abs(delta)) / math.Abs(total)
		p.Quantity = total
		p.UpdatedAt = f.Timestamp
		return 0
	}

	// Reducing, closing, or reversing.
	closed := math.Min(math.Abs(q), math.Abs(delta))
	direction := 1.0
	if q < 0 {
		direction = -1.0
	}
	realized := (f.Price - p.AvgEntryPrice) * closed * direction

	remaining := q + delta
	switch {
	case remaining == 0:
		p.Quantity = 0
		p.AvgEntryPrice = 0
	case sameSign(remaining, q):
		// Partial close: entry price of the remainder is unchanged.
		p.Quantity = remaining
	default:
		// Crossed through zero: the surviving quantity was opened by this
		// fill, so the fill price is its entry.
		p.Quantity = remaining
		p.AvgEntryPrice = f.Price
	}
	p.RealizedPnL += realized
	p.UpdatedAt = f.Timestamp
	return realized
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
