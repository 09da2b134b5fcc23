package domain

import "time"

// Event bus topics. Producers and consumers agree on these names only; the
// payload type is determined by the event type.
const (
	TopicMarketData = "marketdata"
	TopicSignals    = "signals"
	TopicFills      = "fills"
	TopicOrders     = "orders"
	TopicRisk       = "risk"
)

// EventType identifies the payload carried by an Event envelope.
type EventType string

const (
	EventTypeTrade       EventType = "trade"
	EventTypeQuote       EventType = "quote"
	EventTypeBarClose    EventType = "bar_close"
	EventTypeSignal      EventType = "signal"
	EventTypeFill        EventType = "fill"
	EventTypeOrderUpdate EventType = "order_update"
	EventTypeBreaker     EventType = "breaker"
)

// Event is the minimal envelope published on the in-process bus.
type Event struct {
	Type      EventType
	Payload   any
	Timestamp time.Time
}

// NewEvent wraps a payload in an envelope stamped with the current time.
func NewEvent(t EventType, payload any) Event {
	return Event{Type: t, Payload: payload, Timestamp: time.Now().UTC()}
}

// MarketKind classifies a normalized market-data event.
type MarketKind string

const (
	MarketKindTrade    MarketKind = "trade"
	MarketKindQuote    MarketKind = "quote"
	MarketKindBarClose MarketKind = "bar_close"
)

// MarketEvent is the normalized market-data contract every venue adapter
// translates its wire protocol into before the event reaches the feed.
// Quote events carry a level update: Size zero removes the level. Seq is the
// venue sequence number when provided; zero disables gap detection.
type MarketEvent struct {
	Symbol    string
	Kind      MarketKind
	Price     float64
	Size      float64
	Side      BookSide // quote events only
	Seq       uint64
	Timestamp time.Time
}

// BreakerUpdate is broadcast on TopicRisk whenever the circuit breaker
// changes state, so every order-producing component observes it without
// being told per-call.
type BreakerUpdate struct {
	Open      bool
	Reason    string
	TrippedAt time.Time
}
