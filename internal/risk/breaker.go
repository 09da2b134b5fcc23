package risk

import (
	"fmt"
	"time"

	"github.com/SamoraDC/tradebot/internal/domain"
)

// BreakerConfig holds the thresholds that trip the circuit breaker.
// Cooldown of zero disables auto-resume entirely: once open, the breaker
// stays open until an explicit manual reset. This is the default, to avoid
// repeated whipsaw tripping.
type BreakerConfig struct {
	DailyLossLimit       float64
	MaxConsecutiveLosses int
	MaxDrawdown          float64
	Cooldown             time.Duration
}

// ShouldTrip is the pure transition function from daily risk state to
// breaker action. It reports whether the breaker should open and why.
func ShouldTrip(d domain.DailyRiskState, cfg BreakerConfig) (bool, string) {
	if cfg.DailyLossLimit > 0 && d.RealizedPnLToday < -cfg.DailyLossLimit {
		return true, fmt.Sprintf("daily loss %.2f exceeds limit %.2f", -d.RealizedPnLToday, cfg.DailyLossLimit)
	}
	if cfg.MaxConsecutiveLosses > 0 && d.ConsecutiveLosses >= cfg.MaxConsecutiveLosses {
		return true, fmt.Sprintf("%d consecutive losses reached limit %d", d.ConsecutiveLosses, cfg.MaxConsecutiveLosses)
	}
	if cfg.MaxDrawdown > 0 && d.MaxDrawdownToday > cfg.MaxDrawdown {
		return true, fmt.Sprintf("drawdown %.2f exceeds limit %.2f", d.MaxDrawdownToday, cfg.MaxDrawdown)
	}
	return false, ""
}

// Breaker is the circuit-breaker state machine: Closed admits orders, Open
// blocks all new-order approvals while close-only orders remain permitted.
type Breaker struct {
	cfg       BreakerConfig
	open      bool
	reason    string
	trippedAt time.Time
}

// NewBreaker creates a closed Breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg}
}

// Observe evaluates the daily state and opens the breaker when a threshold
// is breached. It returns true on the Closed -> Open transition only.
func (b *Breaker) Observe(d domain.DailyRiskState, now time.Time) bool {
	if b.open {
		return false
	}
	trip, reason := ShouldTrip(d, b.cfg)
	if !trip {
		return false
	}
	b.open = true
	b.reason = reason
	b.trippedAt = now
	return true
}

// Open reports whether the breaker currently blocks new-order admission.
// Closing is always an explicit transition (Reset), so every close is
// observable by whoever drives it; the breaker never closes itself inside a
// read.
func (b *Breaker) Open() bool { return b.open }

// CooldownElapsed reports whether an open breaker's cooldown has run out.
// Zero cooldown never elapses.
func (b *Breaker) CooldownElapsed(now time.Time) bool {
	return b.open && b.cfg.Cooldown > 0 && now.Sub(b.trippedAt) >= b.cfg.Cooldown
}

// Reason returns why the breaker tripped, empty when closed.
func (b *Breaker) Reason() string { return b.reason }

// TrippedAt returns when the breaker last opened.
func (b *Breaker) TrippedAt() time.Time { return b.trippedAt }

// Reset closes the breaker, whether manually or because the cooldown
// elapsed; the daily counters are the caller's to clear.
func (b *Breaker) Reset() {
	b.open = false
	b.reason = ""
}
