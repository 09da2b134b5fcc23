package executor

import (
	"math/rand"
	"testing"
	"time"
)

func TestDelayGrowsExponentially(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:   5 * time.Second,
		Multiplier:  2,
		MaxDelay:    time.Minute,
		MaxAttempts: 4,
	}

	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
	for i, w := range want {
		if got := p.Delay(i, nil); got != w {
			t.Fatalf("attempt %d: delay = %v, want %v", i, got, w)
		}
	}
}

func TestDelayCapped(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:   time.Second,
		Multiplier:  10,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
	}

	if got := p.Delay(4, nil); got != 30*time.Second {
		t.Fatalf("capped delay = %v, want 30s", got)
	}
}

func TestDelayJitterBounds(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:   10 * time.Second,
		Multiplier:  2,
		MaxDelay:    time.Minute,
		MaxAttempts: 3,
		JitterPct:   0.15,
	}
	rng := rand.New(rand.NewSource(7))

	lo := time.Duration(float64(10*time.Second) * 0.85)
	hi := time.Duration(float64(10*time.Second) * 1.15)
	for i := 0; i < 1000; i++ {
		d := p.Delay(0, rng)
		if d < lo || d > hi {
			t.Fatalf("jittered delay %v outside [%v, %v]", d, lo, hi)
		}
	}
}

func TestDelayJitterNeverExceedsCap(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:   time.Second,
		Multiplier:  10,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
		JitterPct:   0.15,
	}
	rng := rand.New(rand.NewSource(7))

	// The uncapped delay at attempt 4 is 10000s; every jittered sample must
	// still land at or under the ceiling.
	for i := 0; i < 1000; i++ {
		if d := p.Delay(4, rng); d > 30*time.Second {
			t.Fatalf("jittered delay %v exceeds MaxDelay", d)
		}
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.MaxAttempts != 4 {
		t.Fatalf("MaxAttempts = %d, want 4", p.MaxAttempts)
	}
	if p.BaseDelay != 500*time.Millisecond {
		t.Fatalf("BaseDelay = %v, want 500ms", p.BaseDelay)
	}
	if p.MaxDelay != 30*time.Second {
		t.Fatalf("MaxDelay = %v, want 30s", p.MaxDelay)
	}
}
