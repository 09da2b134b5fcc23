package risk

import (
	"testing"
	"time"

	"github.com/SamoraDC/tradebot/internal/domain"
)

var breakerNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestShouldTripOnDailyLoss(t *testing.T) {
	cfg := BreakerConfig{DailyLossLimit: 5000}

	if trip, _ := ShouldTrip(domain.DailyRiskState{RealizedPnLToday: -5000}, cfg); trip {
		t.Fatal("loss exactly at limit must not trip")
	}
	trip, reason := ShouldTrip(domain.DailyRiskState{RealizedPnLToday: -5001}, cfg)
	if !trip || reason == "" {
		t.Fatalf("trip=%v reason=%q", trip, reason)
	}
}

func TestShouldTripOnConsecutiveLosses(t *testing.T) {
	cfg := BreakerConfig{MaxConsecutiveLosses: 3}

	if trip, _ := ShouldTrip(domain.DailyRiskState{ConsecutiveLosses: 2}, cfg); trip {
		t.Fatal("below threshold tripped")
	}
	if trip, _ := ShouldTrip(domain.DailyRiskState{ConsecutiveLosses: 3}, cfg); !trip {
		t.Fatal("at threshold must trip")
	}
}

func TestShouldTripOnDrawdown(t *testing.T) {
	cfg := BreakerConfig{MaxDrawdown: 1000}
	if trip, _ := ShouldTrip(domain.DailyRiskState{MaxDrawdownToday: 1001}, cfg); !trip {
		t.Fatal("drawdown beyond limit must trip")
	}
}

func TestDisabledThresholdsNeverTrip(t *testing.T) {
	d := domain.DailyRiskState{RealizedPnLToday: -1e9, ConsecutiveLosses: 100, MaxDrawdownToday: 1e9}
	if trip, _ := ShouldTrip(d, BreakerConfig{}); trip {
		t.Fatal("zero-valued config must disable all thresholds")
	}
}

func TestBreakerStaysOpenWithoutCooldown(t *testing.T) {
	b := NewBreaker(BreakerConfig{DailyLossLimit: 100})

	if !b.Observe(domain.DailyRiskState{RealizedPnLToday: -101}, breakerNow) {
		t.Fatal("expected trip")
	}
	// No cooldown configured: never eligible to resume, however much time
	// passes.
	if b.CooldownElapsed(breakerNow.Add(240 * time.Hour)) {
		t.Fatal("cooldown elapsed without a cooldown configured")
	}
	if !b.Open() {
		t.Fatal("breaker closed without a reset")
	}

	b.Reset()
	if b.Open() {
		t.Fatal("breaker open after manual reset")
	}
}

func TestBreakerCooldownElapses(t *testing.T) {
	b := NewBreaker(BreakerConfig{DailyLossLimit: 100, Cooldown: time.Hour})
	b.Observe(domain.DailyRiskState{RealizedPnLToday: -101}, breakerNow)

	if b.CooldownElapsed(breakerNow.Add(59 * time.Minute)) {
		t.Fatal("cooldown elapsed early")
	}
	if !b.CooldownElapsed(breakerNow.Add(61 * time.Minute)) {
		t.Fatal("cooldown never elapsed")
	}
	// Elapsing alone does not close the breaker; the owner must Reset so
	// the close is broadcast.
	if !b.Open() {
		t.Fatal("breaker closed itself without a reset")
	}
	b.Reset()
	if b.Open() {
		t.Fatal("breaker open after reset")
	}
}

func TestObserveReportsTransitionOnlyOnce(t *testing.T) {
	b := NewBreaker(BreakerConfig{DailyLossLimit: 100})
	d := domain.DailyRiskState{RealizedPnLToday: -200}

	if !b.Observe(d, breakerNow) {
		t.Fatal("first observe should report the transition")
	}
	if b.Observe(d, breakerNow) {
		t.Fatal("second observe must not report a transition")
	}
}
