package paper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/SamoraDC/tradebot/internal/book"
	"github.com/SamoraDC/tradebot/internal/domain"
)

func testExchange(t *testing.T, cfg ExecConfig) (*Exchange, *book.Registry) {
	t.Helper()
	books := book.NewRegistry()
	x := NewExchange(books, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return x, books
}

func seedBook(books *book.Registry, symbol string) *book.Book {
	now := time.Now().UTC()
	b := books.Subscribe(symbol)
	b.Update(domain.BookSideBid, 99, 10, now)
	b.Update(domain.BookSideBid, 98, 20, now)
	b.Update(domain.BookSideAsk, 101, 5, now)
	b.Update(domain.BookSideAsk, 102, 20, now)
	return b
}

func drainEvents(t *testing.T, x *Exchange, n int) []domain.ExecutionEvent {
	t.Helper()
	out := make([]domain.ExecutionEvent, 0, n)
	for len(out) < n {
		select {
		case ev := <-x.Events():
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestMarketOrderFillsAcrossLevels(t *testing.T) {
	x, books := testExchange(t, ExecConfig{})
	seedBook(books, "BTC-USD")

	ack, err := x.SubmitOrder(context.Background(), domain.Order{
		ClientOrderID: "ord-1", Symbol: "BTC-USD",
		Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Size: 8,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ack.VenueOrderID == "" {
		t.Fatal("no venue order id assigned")
	}

	evs := drainEvents(t, x, 2)
	if evs[0].Kind != domain.ExecEventAck {
		t.Fatalf("first event = %s, want ack", evs[0].Kind)
	}
	fill := evs[1]
	if fill.Kind != domain.ExecEventFill || fill.Fill == nil {
		t.Fatalf("second event = %+v, want fill", fill)
	}
	// 5 at 101 then 3 at 102.
	wantAvg := (5*101.0 + 3*102.0) / 8
	if math.Abs(fill.Fill.Price-wantAvg) > 1e-9 || fill.Fill.Size != 8 {
		t.Fatalf("fill = %v @ %v, want 8 @ %v", fill.Fill.Size, fill.Fill.Price, wantAvg)
	}
}

func TestMarketOrderPartialFillOnThinBook(t *testing.T) {
	x, books := testExchange(t, ExecConfig{})
	seedBook(books, "BTC-USD")

	if _, err := x.SubmitOrder(context.Background(), domain.Order{
		ClientOrderID: "ord-1", Symbol: "BTC-USD",
		Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Size: 100,
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	evs := drainEvents(t, x, 3)
	if evs[1].Kind != domain.ExecEventFill || evs[1].Fill.Size != 25 {
		t.Fatalf("fill = %+v, want partial fill of 25", evs[1])
	}
	if evs[2].Kind != domain.ExecEventCancel {
		t.Fatalf("remainder event = %s, want cancel", evs[2].Kind)
	}
}

func TestDuplicateClientOrderIDRejected(t *testing.T) {
	x, books := testExchange(t, ExecConfig{})
	seedBook(books, "BTC-USD")

	order := domain.Order{
		ClientOrderID: "ord-dup", Symbol: "BTC-USD",
		Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Size: 1,
	}
	if _, err := x.SubmitOrder(context.Background(), order); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	_, err := x.SubmitOrder(context.Background(), order)
	if err == nil {
		t.Fatal("duplicate client order id accepted")
	}
	if !errors.Is(err, domain.ErrDuplicateOrder) || domain.IsTransientExec(err) {
		t.Fatalf("duplicate rejection = %v, want permanent duplicate error", err)
	}
}

func TestLimitOrderRestsThenCancels(t *testing.T) {
	x, books := testExchange(t, ExecConfig{})
	seedBook(books, "BTC-USD")

	// Buy below the best ask: nothing crosses, the order rests.
	ack, err := x.SubmitOrder(context.Background(), domain.Order{
		ClientOrderID: "ord-1", Symbol: "BTC-USD",
		Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit, Size: 5, LimitPrice: 100,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	drainEvents(t, x, 1) // ack only

	state, err := x.OrderStatus(context.Background(), ack.VenueOrderID)
	if err != nil || state != domain.OrderStateAcknowledged {
		t.Fatalf("status = %v, %v; want acknowledged", state, err)
	}

	if err := x.CancelOrder(context.Background(), ack.VenueOrderID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	evs := drainEvents(t, x, 1)
	if evs[0].Kind != domain.ExecEventCancel {
		t.Fatalf("event = %s, want cancel", evs[0].Kind)
	}

	if _, err := x.OrderStatus(context.Background(), ack.VenueOrderID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("status after cancel = %v, want not found", err)
	}
}

func TestLimitOrderFillsCrossingQuantity(t *testing.T) {
	x, books := testExchange(t, ExecConfig{})
	seedBook(books, "BTC-USD")

	// Buy limit 101 crosses the 5 resting at 101 but not the 102 level.
	_, err := x.SubmitOrder(context.Background(), domain.Order{
		ClientOrderID: "ord-1", Symbol: "BTC-USD",
		Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit, Size: 8, LimitPrice: 101,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	evs := drainEvents(t, x, 2)
	fill := evs[1]
	if fill.Kind != domain.ExecEventFill || fill.Fill.Size != 5 || fill.Fill.Price != 101 {
		t.Fatalf("fill = %+v, want 5 @ 101", fill)
	}
}

func TestTransientFailureInjection(t *testing.T) {
	x, books := testExchange(t, ExecConfig{TransientFailEvery: 2})
	seedBook(books, "BTC-USD")

	order := func(id string) domain.Order {
		return domain.Order{
			ClientOrderID: id, Symbol: "BTC-USD",
			Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Size: 1,
		}
	}

	if _, err := x.SubmitOrder(context.Background(), order("ord-1")); err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	_, err := x.SubmitOrder(context.Background(), order("ord-2"))
	if err == nil || !domain.IsTransientExec(err) {
		t.Fatalf("submit 2 = %v, want injected transient failure", err)
	}
	// The failed submission did not consume the client order id.
	if _, err := x.SubmitOrder(context.Background(), order("ord-2")); err != nil {
		t.Fatalf("resubmit after transient failure: %v", err)
	}
}

func TestStaleBookDoesNotFill(t *testing.T) {
	x, books := testExchange(t, ExecConfig{})
	b := seedBook(books, "BTC-USD")
	b.MarkStale()

	if _, err := x.SubmitOrder(context.Background(), domain.Order{
		ClientOrderID: "ord-1", Symbol: "BTC-USD",
		Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Size: 1,
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	evs := drainEvents(t, x, 2)
	if evs[1].Kind != domain.ExecEventCancel {
		t.Fatalf("event = %s, want cancel against stale book", evs[1].Kind)
	}
}
