package domain

import "time"

// Position is the net holding in one symbol. Quantity is signed: positive is
// long, negative is short. It is owned exclusively by the risk manager and
// mutated only by fill events.
type Position struct {
	Symbol        string
	Quantity      float64
	AvgEntryPrice float64
	RealizedPnL   float64
	UpdatedAt     time.Time
}

// Flat reports whether the position has no open quantity.
func (p Position) Flat() bool {
	return p.Quantity == 0
}

// UnrealizedPnL marks the open quantity against the given price. It is
// computed on demand and never persisted as authoritative.
func (p Position) UnrealizedPnL(mark float64) float64 {
	if p.Quantity == 0 || mark <= 0 {
		return 0
	}
	return (mark - p.AvgEntryPrice) * p.Quantity
}

// Notional returns the absolute exposure of the position at the given mark.
func (p Position) Notional(mark float64) float64 {
	n := p.Quantity * mark
	if n < 0 {
		return -n
	}
	return n
}

// DailyRiskState aggregates the loss counters the circuit breaker evaluates.
// It is reset at the configured daily boundary.
type DailyRiskState struct {
	RealizedPnLToday  float64
	PeakPnLToday      float64
	MaxDrawdownToday  float64
	ConsecutiveLosses int
	ResetAt           time.Time
}

// RecordRealized folds a realized P&L delta into the daily counters.
func (d *DailyRiskState) RecordRealized(pnl float64) {
	if pnl == 0 {
		return
	}
	d.RealizedPnLToday += pnl
	if d.RealizedPnLToday > d.PeakPnLToday {
		d.PeakPnLToday = d.RealizedPnLToday
	}
	if dd := d.PeakPnLToday - d.RealizedPnLToday; dd > d.MaxDrawdownToday {
		d.MaxDrawdownToday = dd
	}
	if pnl < 0 {
		d.ConsecutiveLosses++
	} else {
		d.ConsecutiveLosses = 0
	}
}

// Reset clears the counters for a new trading day starting at boundary.
func (d *DailyRiskState) Reset(boundary time.Time) {
	*d = DailyRiskState{ResetAt: boundary}
}
