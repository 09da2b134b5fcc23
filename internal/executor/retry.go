package executor

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy describes the bounded, iterative backoff applied to transient
// submission failures. Retry is modelled exclusively as a loop with explicit
// attempt state, never as self-recursion.
type RetryPolicy struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxAttempts int // total submission attempts, including the first
	JitterPct   float64
}

// DefaultRetryPolicy mirrors the configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 4,
		JitterPct:   0.15,
	}
}

// Delay returns the backoff before retrying after the given zero-based
// attempt: base × multiplier^attempt, jittered to [1-JitterPct, 1+JitterPct]
// of the computed value, then capped at MaxDelay. MaxDelay is a hard ceiling
// that jitter never exceeds.
func (p RetryPolicy) Delay(attempt int, rng *rand.Rand) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if p.JitterPct > 0 && rng != nil {
		jitter := 1 - p.JitterPct + rng.Float64()*2*p.JitterPct
		d *= jitter
	}
	if p.MaxDelay > 0 {
		d = math.Min(d, float64(p.MaxDelay))
	}
	return time.Duration(d)
}
