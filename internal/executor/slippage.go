package executor

import (
	"fmt"
	"math"

	"github.com/SamoraDC/tradebot/internal/book"
	"github.com/SamoraDC/tradebot/internal/domain"
)

// SlippageConfig holds the cost-model parameters, all in basis points.
// BaseSlippageBps must be positive: the estimate gates order size and type
// decisions, and a model that can return zero defeats that gate.
type SlippageConfig struct {
	BaseSlippageBps      float64
	VolatilityMultiplier float64
	SpreadCaptureBps     float64
	QueuePositionRiskBps float64
	AdverseSelectionBps  float64

	// AvgDailyVolume maps symbol to expected daily volume for the impact
	// term. Symbols absent from the map are costed as if the order were the
	// whole day's volume.
	AvgDailyVolume map[string]float64
}

// Estimator prices the expected execution cost of an order before
// submission.
type Estimator struct {
	cfg   SlippageConfig
	books *book.Registry
}

// NewEstimator validates the config and creates an Estimator.
func NewEstimator(cfg SlippageConfig, books *book.Registry) (*Estimator, error) {
	if cfg.BaseSlippageBps <= 0 {
		return nil, fmt.Errorf("slippage: base slippage must be positive, got %v bps", cfg.BaseSlippageBps)
	}
	if cfg.VolatilityMultiplier <= 0 {
		cfg.VolatilityMultiplier = 1
	}
	return &Estimator{cfg: cfg, books: books}, nil
}

// EstimateBps returns the expected cost of the order in basis points. The
// result is strictly positive for any nonzero order size.
//
// Market orders: base × sqrt(size / avg_daily_volume) × volatility + half
// the quoted spread. Limit orders: spread capture plus queue-position risk
// plus adverse-selection cost.
func (e *Estimator) EstimateBps(order domain.Order) (float64, error) {
	if order.Size <= 0 {
		return 0, fmt.Errorf("slippage: order size must be positive, got %v", order.Size)
	}

	if order.Type == domain.OrderTypeLimit {
		return e.cfg.SpreadCaptureBps + e.cfg.QueuePositionRiskBps + e.cfg.AdverseSelectionBps, nil
	}

	participation := 1.0
	if adv := e.cfg.AvgDailyVolume[order.Symbol]; adv > 0 {
		participation = order.Size / adv
	}
	impact := e.cfg.BaseSlippageBps * math.Sqrt(participation) * e.cfg.VolatilityMultiplier

	var halfSpread float64
	if b, err := e.books.Get(order.Symbol); err == nil {
		if spread, ok := b.SpreadBps(); ok {
			halfSpread = spread / 2
		}
	}
	return impact + halfSpread, nil
}
