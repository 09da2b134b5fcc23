package domain

import "time"

// Bar is a fixed-window OHLCV aggregate for one symbol and timeframe.
// A bar is mutable while its window is open and immutable once emitted.
type Bar struct {
	Symbol      string
	Timeframe   time.Duration
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	WindowStart time.Time
}

// WindowEnd returns the exclusive end of the bar's window.
func (b Bar) WindowEnd() time.Time {
	return b.WindowStart.Add(b.Timeframe)
}

// Contains reports whether ts falls inside the bar's window.
func (b Bar) Contains(ts time.Time) bool {
	return !ts.Before(b.WindowStart) && ts.Before(b.WindowEnd())
}
