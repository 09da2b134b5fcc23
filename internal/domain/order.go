package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType distinguishes market and limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderState tracks the order lifecycle. Terminal states are immutable.
type OrderState string

const (
	OrderStateCreated         OrderState = "created"
	OrderStateSubmitted       OrderState = "submitted"
	OrderStateAcknowledged    OrderState = "acknowledged"
	OrderStatePartiallyFilled OrderState = "partially_filled"
	OrderStateFilled          OrderState = "filled"
	OrderStateRejected        OrderState = "rejected"
	OrderStateCancelled       OrderState = "cancelled"
	OrderStateExpired         OrderState = "expired"
)

// Terminal reports whether the state admits no further transitions.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateFilled, OrderStateRejected, OrderStateCancelled, OrderStateExpired:
		return true
	default:
		return false
	}
}

// orderTransitions enumerates the legal lifecycle edges. Venue responses that
// would violate this table are dropped by the execution engine.
var orderTransitions = map[OrderState][]OrderState{
	OrderStateCreated:         {OrderStateSubmitted, OrderStateRejected, OrderStateExpired, OrderStateCancelled},
	OrderStateSubmitted:       {OrderStateAcknowledged, OrderStatePartiallyFilled, OrderStateFilled, OrderStateRejected, OrderStateExpired, OrderStateCancelled},
	OrderStateAcknowledged:    {OrderStatePartiallyFilled, OrderStateFilled, OrderStateCancelled, OrderStateExpired, OrderStateRejected},
	OrderStatePartiallyFilled: {OrderStatePartiallyFilled, OrderStateFilled, OrderStateCancelled, OrderStateExpired},
}

// CanTransition reports whether moving from s to next is a legal lifecycle edge.
func (s OrderState) CanTransition(next OrderState) bool {
	for _, allowed := range orderTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// Order is a risk-approved instruction to trade, created by the execution
// engine on approval and mutated only by venue responses. ClientOrderID is
// caller-generated and unique; it is the idempotency key for submission.
type Order struct {
	ClientOrderID string
	VenueOrderID  string
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Size          float64
	LimitPrice    float64 // zero for market orders
	FilledSize    float64
	AvgFillPrice  float64
	State         OrderState
	ReduceOnly    bool // close-only orders stay permitted while the breaker is open
	SignalID      string
	RejectReason  string
	ParentID      string // set on TWAP child orders
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Remaining returns the unfilled portion of the order.
func (o Order) Remaining() float64 {
	r := o.Size - o.FilledSize
	if r < 0 {
		return 0
	}
	return r
}

// Notional returns the order's notional value. Limit orders use the limit
// price; market orders fall back to the supplied mark price.
func (o Order) Notional(mark float64) float64 {
	px := o.LimitPrice
	if o.Type == OrderTypeMarket || px <= 0 {
		px = mark
	}
	return px * o.Size
}

// Fill is a (partial) execution of an order reported by the venue.
type Fill struct {
	ClientOrderID string
	VenueOrderID  string
	Symbol        string
	Side          OrderSide
	Price         float64
	Size          float64
	Fee           float64
	Timestamp     time.Time
}

// SubmitAck is the venue response to an order submission.
type SubmitAck struct {
	VenueOrderID string
	State        OrderState
	Message      string
}

// ExecEventKind discriminates asynchronous venue notifications.
type ExecEventKind string

const (
	ExecEventAck    ExecEventKind = "ack"
	ExecEventFill   ExecEventKind = "fill"
	ExecEventReject ExecEventKind = "reject"
	ExecEventCancel ExecEventKind = "cancel"
	ExecEventExpire ExecEventKind = "expire"
)

// ExecutionEvent is an asynchronous order-lifecycle notification pushed by
// the venue adapter (acknowledgments, fills, rejections, cancels).
type ExecutionEvent struct {
	Kind          ExecEventKind
	ClientOrderID string
	VenueOrderID  string
	Fill          *Fill // set when Kind == ExecEventFill
	Reason        string
	Timestamp     time.Time
}
