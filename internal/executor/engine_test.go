package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SamoraDC/tradebot/internal/book"
	"github.com/SamoraDC/tradebot/internal/bus"
	"github.com/SamoraDC/tradebot/internal/domain"
)

// fakeAdapter is a scriptable venue. submitFn decides each submission's
// outcome; venue notifications are pushed through events.
type fakeAdapter struct {
	mu       sync.Mutex
	submits  []domain.Order
	cancels  []string
	submitFn func(domain.Order) (domain.SubmitAck, error)
	block    chan struct{} // when set, SubmitOrder waits on it
	events   chan domain.ExecutionEvent
}

func newFakeAdapter() *fakeAdapter {
	a := &fakeAdapter{events: make(chan domain.ExecutionEvent, 64)}
	a.submitFn = func(o domain.Order) (domain.SubmitAck, error) {
		return domain.SubmitAck{VenueOrderID: "v-" + o.ClientOrderID}, nil
	}
	return a
}

func (a *fakeAdapter) SubmitOrder(ctx context.Context, order domain.Order) (domain.SubmitAck, error) {
	a.mu.Lock()
	a.submits = append(a.submits, order)
	fn := a.submitFn
	block := a.block
	a.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return domain.SubmitAck{}, ctx.Err()
		}
	}
	return fn(order)
}

func (a *fakeAdapter) CancelOrder(ctx context.Context, venueOrderID string) error {
	a.mu.Lock()
	a.cancels = append(a.cancels, venueOrderID)
	a.mu.Unlock()
	a.events <- domain.ExecutionEvent{
		Kind:         domain.ExecEventCancel,
		VenueOrderID: venueOrderID,
		Timestamp:    time.Now().UTC(),
	}
	return nil
}

func (a *fakeAdapter) OrderStatus(ctx context.Context, venueOrderID string) (domain.OrderState, error) {
	return "", domain.ErrNotFound
}

func (a *fakeAdapter) Events() <-chan domain.ExecutionEvent { return a.events }

func (a *fakeAdapter) submitCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.submits)
}

func (a *fakeAdapter) cancelCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cancels)
}

var _ domain.ExecutionAdapter = (*fakeAdapter)(nil)

type engineHarness struct {
	engine   *Engine
	adapter  *fakeAdapter
	approved chan domain.Order
	eventBus *bus.Bus
	books    *book.Registry

	mu     sync.Mutex
	delays []time.Duration
}

func startEngine(t *testing.T, policy RetryPolicy, cfg Config) *engineHarness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eventBus := bus.New(logger)
	books := book.NewRegistry()
	est, err := NewEstimator(SlippageConfig{BaseSlippageBps: 1}, books)
	require.NoError(t, err)

	h := &engineHarness{
		adapter:  newFakeAdapter(),
		approved: make(chan domain.Order, 16),
		eventBus: eventBus,
		books:    books,
	}
	h.engine = NewEngine(
		h.approved, h.adapter, NewTokenBucket(1000, time.Second), books, est,
		policy, cfg, eventBus, nil, nil, logger,
	)
	// Record every backoff instead of sleeping through it.
	h.engine.sleep = func(ctx context.Context, d time.Duration) error {
		h.mu.Lock()
		h.delays = append(h.delays, d)
		h.mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.engine.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		eventBus.Close()
		<-done
	})
	return h
}

func (h *engineHarness) recordedDelays() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]time.Duration, len(h.delays))
	copy(out, h.delays)
	return out
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func limitOrder(id string, side domain.OrderSide, size, price float64) domain.Order {
	return domain.Order{
		ClientOrderID: id,
		Symbol:        "BTC-USD",
		Side:          side,
		Type:          domain.OrderTypeLimit,
		Size:          size,
		LimitPrice:    price,
		State:         domain.OrderStateCreated,
		CreatedAt:     time.Now().UTC(),
	}
}

func collectOrderStates(t *testing.T, events <-chan domain.Event, clientID string, until domain.OrderState) []domain.OrderState {
	t.Helper()
	var states []domain.OrderState
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			order, ok := ev.Payload.(domain.Order)
			if !ok || order.ClientOrderID != clientID {
				continue
			}
			states = append(states, order.State)
			if order.State == until {
				return states
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s to reach %s (saw %v)", clientID, until, states)
		}
	}
}

func TestTransientFailuresRetryWithBackoff(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:   5 * time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 4,
		JitterPct:   0.15,
	}
	h := startEngine(t, policy, Config{})

	var calls int
	h.adapter.submitFn = func(o domain.Order) (domain.SubmitAck, error) {
		calls++
		if calls <= 2 {
			return domain.SubmitAck{}, domain.TransientExec("submit", errors.New("venue timeout"))
		}
		return domain.SubmitAck{VenueOrderID: "v-1"}, nil
	}

	h.approved <- limitOrder("ord-1", domain.OrderSideBuy, 10, 100)
	waitUntil(t, func() bool { return h.adapter.submitCount() == 3 }, "expected 3 submission attempts")

	delays := h.recordedDelays()
	require.Len(t, delays, 2)
	assert.InDelta(t, float64(5*time.Second), float64(delays[0]), float64(5*time.Second)*0.15)
	assert.InDelta(t, float64(10*time.Second), float64(delays[1]), float64(10*time.Second)*0.15)
}

func TestPermanentFailureDoesNotRetry(t *testing.T) {
	h := startEngine(t, DefaultRetryPolicy(), Config{})
	updates, cancel := h.eventBus.Subscribe(domain.TopicOrders, 16)
	defer cancel()

	h.adapter.submitFn = func(o domain.Order) (domain.SubmitAck, error) {
		return domain.SubmitAck{}, domain.PermanentExec("submit", errors.New("invalid symbol"))
	}

	h.approved <- limitOrder("ord-1", domain.OrderSideBuy, 10, 100)
	states := collectOrderStates(t, updates, "ord-1", domain.OrderStateRejected)

	assert.Equal(t, []domain.OrderState{domain.OrderStateRejected}, states)
	assert.Equal(t, 1, h.adapter.submitCount())
	assert.Empty(t, h.recordedDelays())
}

func TestRetriesExhaustedRejectsOrder(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, Multiplier: 2, MaxAttempts: 3}
	h := startEngine(t, policy, Config{})
	updates, cancel := h.eventBus.Subscribe(domain.TopicOrders, 16)
	defer cancel()

	h.adapter.submitFn = func(o domain.Order) (domain.SubmitAck, error) {
		return domain.SubmitAck{}, domain.TransientExec("submit", errors.New("venue overloaded"))
	}

	h.approved <- limitOrder("ord-1", domain.OrderSideBuy, 10, 100)
	collectOrderStates(t, updates, "ord-1", domain.OrderStateRejected)

	assert.Equal(t, 3, h.adapter.submitCount())
	assert.Len(t, h.recordedDelays(), 2)
}

func TestDuplicateClientOrderIDSubmittedOnce(t *testing.T) {
	h := startEngine(t, DefaultRetryPolicy(), Config{})

	order := limitOrder("ord-dup", domain.OrderSideBuy, 10, 100)
	h.approved <- order
	h.approved <- order
	h.approved <- limitOrder("ord-other", domain.OrderSideSell, 5, 101)

	waitUntil(t, func() bool { return h.adapter.submitCount() == 2 }, "expected exactly 2 submissions")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, h.adapter.submitCount(), "duplicate client order id must not produce a second live order")
}

func TestFillsAccumulateToFilled(t *testing.T) {
	h := startEngine(t, DefaultRetryPolicy(), Config{})
	updates, cancelUpd := h.eventBus.Subscribe(domain.TopicOrders, 16)
	defer cancelUpd()
	fills, cancelFills := h.eventBus.Subscribe(domain.TopicFills, 16)
	defer cancelFills()

	h.approved <- limitOrder("ord-1", domain.OrderSideBuy, 10, 100)
	waitUntil(t, func() bool { return h.adapter.submitCount() == 1 }, "order not submitted")

	h.adapter.events <- domain.ExecutionEvent{
		Kind: domain.ExecEventFill, ClientOrderID: "ord-1",
		Fill:      &domain.Fill{ClientOrderID: "ord-1", Symbol: "BTC-USD", Side: domain.OrderSideBuy, Price: 100, Size: 4, Timestamp: time.Now().UTC()},
		Timestamp: time.Now().UTC(),
	}
	h.adapter.events <- domain.ExecutionEvent{
		Kind: domain.ExecEventFill, ClientOrderID: "ord-1",
		Fill:      &domain.Fill{ClientOrderID: "ord-1", Symbol: "BTC-USD", Side: domain.OrderSideBuy, Price: 101, Size: 6, Timestamp: time.Now().UTC()},
		Timestamp: time.Now().UTC(),
	}

	states := collectOrderStates(t, updates, "ord-1", domain.OrderStateFilled)
	assert.Contains(t, states, domain.OrderStatePartiallyFilled)

	var got []domain.Fill
	for len(got) < 2 {
		select {
		case ev := <-fills:
			if f, ok := ev.Payload.(domain.Fill); ok {
				got = append(got, f)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for fills, got %d", len(got))
		}
	}
	assert.Equal(t, 4.0, got[0].Size)
	assert.Equal(t, 6.0, got[1].Size)
}

func TestCancelBeforeAckDeferred(t *testing.T) {
	h := startEngine(t, DefaultRetryPolicy(), Config{})

	release := make(chan struct{})
	h.adapter.mu.Lock()
	h.adapter.block = release
	h.adapter.mu.Unlock()

	h.approved <- limitOrder("ord-1", domain.OrderSideBuy, 10, 100)
	waitUntil(t, func() bool { return h.adapter.submitCount() == 1 }, "submission not started")

	// The venue has no order id yet, so the cancel must wait for the ack.
	require.NoError(t, h.engine.Cancel(context.Background(), "ord-1"))
	assert.Equal(t, 0, h.adapter.cancelCount())

	close(release)
	waitUntil(t, func() bool { return h.adapter.cancelCount() == 1 }, "deferred cancel never sent")

	h.adapter.mu.Lock()
	venueID := h.adapter.cancels[0]
	h.adapter.mu.Unlock()
	assert.Equal(t, "v-ord-1", venueID)
}

func TestFillWinsOverRacingCancel(t *testing.T) {
	h := startEngine(t, DefaultRetryPolicy(), Config{})
	updates, cancelUpd := h.eventBus.Subscribe(domain.TopicOrders, 16)
	defer cancelUpd()

	h.approved <- limitOrder("ord-1", domain.OrderSideBuy, 10, 100)
	waitUntil(t, func() bool { return h.adapter.submitCount() == 1 }, "order not submitted")

	// The full fill arrives before the cancel confirmation.
	h.adapter.events <- domain.ExecutionEvent{
		Kind: domain.ExecEventFill, ClientOrderID: "ord-1",
		Fill:      &domain.Fill{ClientOrderID: "ord-1", Symbol: "BTC-USD", Side: domain.OrderSideBuy, Price: 100, Size: 10, Timestamp: time.Now().UTC()},
		Timestamp: time.Now().UTC(),
	}
	h.adapter.events <- domain.ExecutionEvent{
		Kind: domain.ExecEventCancel, ClientOrderID: "ord-1", Timestamp: time.Now().UTC(),
	}

	states := collectOrderStates(t, updates, "ord-1", domain.OrderStateFilled)
	assert.NotContains(t, states, domain.OrderStateCancelled)

	// Cancelling a filled order is a no-op.
	err := h.engine.Cancel(context.Background(), "ord-1")
	assert.True(t, err == nil || errors.Is(err, domain.ErrNotFound))
}

func TestMarketOrderRefusedOnStaleBook(t *testing.T) {
	h := startEngine(t, DefaultRetryPolicy(), Config{})
	updates, cancel := h.eventBus.Subscribe(domain.TopicOrders, 16)
	defer cancel()

	// Subscribed but never updated, so the book is stale.
	h.books.Subscribe("BTC-USD")

	order := limitOrder("ord-1", domain.OrderSideBuy, 10, 0)
	order.Type = domain.OrderTypeMarket
	h.approved <- order

	collectOrderStates(t, updates, "ord-1", domain.OrderStateRejected)
	assert.Equal(t, 0, h.adapter.submitCount())
}

func TestMarketOrderRefusedBeyondSlippageBudget(t *testing.T) {
	h := startEngine(t, DefaultRetryPolicy(), Config{MaxSlippageBps: 0.5})
	updates, cancel := h.eventBus.Subscribe(domain.TopicOrders, 16)
	defer cancel()

	now := time.Now().UTC()
	b := h.books.Subscribe("BTC-USD")
	b.Update(domain.BookSideBid, 100, 100, now)
	b.Update(domain.BookSideAsk, 101, 100, now)

	// Base 1 bps with no volume data estimates 1 bps plus half spread,
	// beyond the 0.5 bps budget.
	order := limitOrder("ord-1", domain.OrderSideBuy, 10, 0)
	order.Type = domain.OrderTypeMarket
	h.approved <- order

	collectOrderStates(t, updates, "ord-1", domain.OrderStateRejected)
	assert.Equal(t, 0, h.adapter.submitCount())
}

func TestMarketOrderRefusedOnThinLiquidity(t *testing.T) {
	h := startEngine(t, DefaultRetryPolicy(), Config{})
	updates, cancel := h.eventBus.Subscribe(domain.TopicOrders, 16)
	defer cancel()

	now := time.Now().UTC()
	b := h.books.Subscribe("BTC-USD")
	b.Update(domain.BookSideBid, 100, 100, now)
	b.Update(domain.BookSideAsk, 101, 3, now)

	order := limitOrder("ord-1", domain.OrderSideBuy, 10, 0)
	order.Type = domain.OrderTypeMarket
	h.approved <- order

	collectOrderStates(t, updates, "ord-1", domain.OrderStateRejected)
	assert.Equal(t, 0, h.adapter.submitCount())
}

func TestBreakerOpenBlocksNewOrders(t *testing.T) {
	h := startEngine(t, DefaultRetryPolicy(), Config{})
	updates, cancel := h.eventBus.Subscribe(domain.TopicOrders, 16)
	defer cancel()

	// Republish until observed: the event loop's subscription may not be
	// registered yet, and the bus drops events with no subscriber.
	waitUntil(t, func() bool {
		h.eventBus.Publish(domain.TopicRisk, domain.NewEvent(domain.EventTypeBreaker, domain.BreakerUpdate{
			Open: true, Reason: "daily_loss_limit", TrippedAt: time.Now().UTC(),
		}))
		return h.engine.breakerOpen.Load()
	}, "breaker state not observed")

	h.approved <- limitOrder("ord-blocked", domain.OrderSideBuy, 10, 100)
	collectOrderStates(t, updates, "ord-blocked", domain.OrderStateRejected)
	assert.Equal(t, 0, h.adapter.submitCount())

	reduce := limitOrder("ord-reduce", domain.OrderSideSell, 5, 100)
	reduce.ReduceOnly = true
	h.approved <- reduce
	waitUntil(t, func() bool { return h.adapter.submitCount() == 1 }, "reduce-only order blocked while breaker open")
}

func TestTWAPFillsRollUpToParent(t *testing.T) {
	h := startEngine(t, DefaultRetryPolicy(), Config{
		TwapMinSize: 50,
		TwapWindow:  0, // all slices due immediately
		TwapSlices:  4,
	})
	updates, cancelUpd := h.eventBus.Subscribe(domain.TopicOrders, 64)
	defer cancelUpd()
	fills, cancelFills := h.eventBus.Subscribe(domain.TopicFills, 64)
	defer cancelFills()

	now := time.Now().UTC()
	b := h.books.Subscribe("BTC-USD")
	b.Update(domain.BookSideBid, 100, 1000, now)
	b.Update(domain.BookSideAsk, 101, 1000, now)

	parent := limitOrder("parent-1", domain.OrderSideBuy, 100, 0)
	parent.Type = domain.OrderTypeMarket
	h.approved <- parent
	waitUntil(t, func() bool { return h.adapter.submitCount() == 4 }, "expected 4 child submissions")

	// Fill every child completely.
	h.adapter.mu.Lock()
	children := make([]domain.Order, len(h.adapter.submits))
	copy(children, h.adapter.submits)
	h.adapter.mu.Unlock()

	for _, c := range children {
		require.Equal(t, "parent-1", c.ParentID)
		h.adapter.events <- domain.ExecutionEvent{
			Kind: domain.ExecEventFill, ClientOrderID: c.ClientOrderID,
			Fill:      &domain.Fill{ClientOrderID: c.ClientOrderID, Symbol: "BTC-USD", Side: domain.OrderSideBuy, Price: 101, Size: c.Size, Timestamp: time.Now().UTC()},
			Timestamp: time.Now().UTC(),
		}
	}

	// Fills arrive on the bus keyed by the parent for reservation roll-up.
	for i := 0; i < 4; i++ {
		select {
		case ev := <-fills:
			f, ok := ev.Payload.(domain.Fill)
			require.True(t, ok)
			assert.Equal(t, "parent-1", f.ClientOrderID)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for fill %d", i)
		}
	}

	states := collectOrderStates(t, updates, "parent-1", domain.OrderStateFilled)
	if len(states) == 0 {
		t.Fatal("no parent order updates observed")
	}
}

func TestOrdersSnapshotsLiveTable(t *testing.T) {
	h := startEngine(t, DefaultRetryPolicy(), Config{})

	h.approved <- limitOrder("ord-1", domain.OrderSideBuy, 10, 100)
	waitUntil(t, func() bool {
		for _, o := range h.engine.Orders() {
			if o.ClientOrderID == "ord-1" && o.State == domain.OrderStateSubmitted {
				return true
			}
		}
		return false
	}, "submitted order not visible in live table")
}

func TestCancelUnknownOrder(t *testing.T) {
	h := startEngine(t, DefaultRetryPolicy(), Config{})
	err := h.engine.Cancel(context.Background(), "no-such-order")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound), fmt.Sprintf("got %v", err))
}
