package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUnknownSymbol  = errors.New("unknown symbol: no book subscribed")
	ErrDuplicateOrder = errors.New("duplicate client order id")
	ErrStaleBook      = errors.New("order book is stale")
	ErrRateLimited    = errors.New("rate limited")
	ErrCircuitOpen    = errors.New("circuit breaker open")
	ErrFeedClosed     = errors.New("market data feed closed")
)

// RejectReason is the specific code attached to a pre-trade risk rejection.
type RejectReason string

const (
	RejectOrderSize     RejectReason = "order_size_limit"
	RejectPositionSize  RejectReason = "position_size_limit"
	RejectNotional      RejectReason = "notional_exposure_limit"
	RejectMaxPositions  RejectReason = "max_open_positions"
	RejectDailyLoss     RejectReason = "daily_loss_limit"
	RejectCircuitOpen   RejectReason = "circuit_breaker_open"
	RejectSignalExpired RejectReason = "signal_expired"
	RejectInvalidSignal RejectReason = "invalid_signal"
)

// RiskRejection is returned when a candidate order fails a pre-trade check.
// It is terminal: a rejected order is never retried.
type RiskRejection struct {
	Reason RejectReason
	Detail string
}

func (e *RiskRejection) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("risk rejection: %s", e.Reason)
	}
	return fmt.Sprintf("risk rejection: %s: %s", e.Reason, e.Detail)
}

// AsRiskRejection unwraps err into a RiskRejection if it is one.
func AsRiskRejection(err error) (*RiskRejection, bool) {
	var rr *RiskRejection
	if errors.As(err, &rr) {
		return rr, true
	}
	return nil, false
}

// TransportError is a network or connection failure. It is handled at the
// component boundary (reconnect) and never propagates past the feed.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a malformed or unexpected inbound message. The feed logs
// and drops it; it is never fatal.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol: " + e.Reason }

// ExecError classifies a venue submission failure. Transient failures
// (timeout, rate-limited, 5xx-class) are retried with backoff up to a bound;
// permanent failures are surfaced immediately and never retried.
type ExecError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *ExecError) Error() string {
	class := "permanent"
	if e.Transient {
		class = "transient"
	}
	return fmt.Sprintf("execution (%s): %s: %v", class, e.Op, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// TransientExec wraps err as a retryable execution failure.
func TransientExec(op string, err error) error {
	return &ExecError{Op: op, Transient: true, Err: err}
}

// PermanentExec wraps err as a non-retryable execution failure.
func PermanentExec(op string, err error) error {
	return &ExecError{Op: op, Transient: false, Err: err}
}

// IsTransientExec reports whether err is a retryable execution failure.
// Unclassified errors are treated as permanent: retrying an unknown failure
// risks duplicate venue orders.
func IsTransientExec(err error) bool {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Transient
	}
	return false
}
