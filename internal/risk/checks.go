package risk

import (
	"fmt"
	"math"

	"github.com/SamoraDC/tradebot/internal/domain"
)

// checkInput is the immutable snapshot a single pre-trade check evaluates.
// The manager builds it inside its owning goroutine, so every check in the
// chain sees the same consistent state, reservations included.
type checkInput struct {
	cfg      Config
	order    domain.Order
	mark     float64
	notional float64 // candidate order notional at mark

	position      domain.Position
	reservedSize  float64 // same-direction size already reserved for this symbol
	openPositions int     // open positions plus reserved new-position slots
	totalExposure float64 // portfolio notional incl. reservations
	daily         domain.DailyRiskState
	breakerOpen   bool
}

// signedSize returns the candidate order size with direction applied.
func (in checkInput) signedSize() float64 {
	if in.order.Side == domain.OrderSideSell {
		return -in.order.Size
	}
	return in.order.Size
}

// reducesPosition reports whether the candidate shrinks the current absolute
// position, which keeps it admissible while the breaker is open.
func (in checkInput) reducesPosition() bool {
	after := in.position.Quantity + in.signedSize()
	return math.Abs(after) < math.Abs(in.position.Quantity)
}

type check struct {
	name string
	fn   func(checkInput) *domain.RiskRejection
}

// pretradeChecks is the fixed, ordered chain every candidate order runs
// through. The first failing check rejects with its reason code.
var pretradeChecks = []check{
	{"order_size", checkOrderSize},
	{"position_size", checkPositionSize},
	{"notional_exposure", checkNotionalExposure},
	{"max_open_positions", checkMaxOpenPositions},
	{"daily_loss", checkDailyLoss},
}

func checkOrderSize(in checkInput) *domain.RiskRejection {
	if in.cfg.MaxOrderSize > 0 && in.order.Size > in.cfg.MaxOrderSize {
		return &domain.RiskRejection{
			Reason: domain.RejectOrderSize,
			Detail: fmt.Sprintf("size %.4f exceeds max %.4f", in.order.Size, in.cfg.MaxOrderSize),
		}
	}
	return nil
}

func checkPositionSize(in checkInput) *domain.RiskRejection {
	if in.cfg.MaxPositionSize <= 0 {
		return nil
	}
	projected := math.Abs(in.position.Quantity+in.signedSize()) + in.reservedSize
	if projected > in.cfg.MaxPositionSize {
		return &domain.RiskRejection{
			Reason: domain.RejectPositionSize,
			Detail: fmt.Sprintf("%s projected position %.4f exceeds max %.4f", in.order.Symbol, projected, in.cfg.MaxPositionSize),
		}
	}
	return nil
}

func checkNotionalExposure(in checkInput) *domain.RiskRejection {
	if in.cfg.MaxNotionalExposure <= 0 || in.reducesPosition() {
		return nil
	}
	if in.totalExposure+in.notional > in.cfg.MaxNotionalExposure {
		return &domain.RiskRejection{
			Reason: domain.RejectNotional,
			Detail: fmt.Sprintf("exposure %.2f + order %.2f exceeds max %.2f", in.totalExposure, in.notional, in.cfg.MaxNotionalExposure),
		}
	}
	return nil
}

func checkMaxOpenPositions(in checkInput) *domain.RiskRejection {
	if in.cfg.MaxOpenPositions <= 0 {
		return nil
	}
	// Only an order opening a new symbol consumes a position slot.
	if !in.position.Flat() || in.reservedSize > 0 {
		return nil
	}
	if in.openPositions >= in.cfg.MaxOpenPositions {
		return &domain.RiskRejection{
			Reason: domain.RejectMaxPositions,
			Detail: fmt.Sprintf("%d open positions at limit %d", in.openPositions, in.cfg.MaxOpenPositions),
		}
	}
	return nil
}

func checkDailyLoss(in checkInput) *domain.RiskRejection {
	if in.breakerOpen {
		if in.order.ReduceOnly && in.reducesPosition() {
			return nil
		}
		return &domain.RiskRejection{
			Reason: domain.RejectCircuitOpen,
			Detail: "circuit breaker open",
		}
	}
	if in.cfg.Breaker.DailyLossLimit > 0 && in.daily.RealizedPnLToday < -in.cfg.Breaker.DailyLossLimit {
		return &domain.RiskRejection{
			Reason: domain.RejectDailyLoss,
			Detail: fmt.Sprintf("realized pnl today %.2f beyond limit %.2f", in.daily.RealizedPnLToday, in.cfg.Breaker.DailyLossLimit),
		}
	}
	return nil
}

// runChecks evaluates the chain in order and returns the first rejection.
func runChecks(in checkInput) *domain.RiskRejection {
	for _, c := range pretradeChecks {
		if rej := c.fn(in); rej != nil {
			return rej
		}
	}
	return nil
}
