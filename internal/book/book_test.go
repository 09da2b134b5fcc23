package book

import (
	"math/rand"
	"testing"
	"time"

	"github.com/SamoraDC/tradebot/internal/domain"
)

var now = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func TestBestBidAskAndMid(t *testing.T) {
	b := NewBook("AAPL")
	b.Update(domain.BookSideBid, 100.00, 10, now)
	b.Update(domain.BookSideAsk, 101.00, 5, now)

	bid, ok := b.BestBid()
	if !ok || bid.Price != 100.00 || bid.Size != 10 {
		t.Fatalf("best bid = %+v ok=%v", bid, ok)
	}
	ask, ok := b.BestAsk()
	if !ok || ask.Price != 101.00 || ask.Size != 5 {
		t.Fatalf("best ask = %+v ok=%v", ask, ok)
	}
	mid, ok := b.MidPrice()
	if !ok || mid != 100.50 {
		t.Fatalf("mid = %v ok=%v, want 100.50", mid, ok)
	}
}

func TestBestBidBelowBestAskUnderRandomUpdates(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := NewBook("ETH-USD")

	for i := 0; i < 5000; i++ {
		// Bids in (90, 100], asks in (100, 110]: valid venue updates.
		if rng.Intn(2) == 0 {
			price := 90 + rng.Float64()*10
			b.Update(domain.BookSideBid, price, float64(rng.Intn(5)), now)
		} else {
			price := 100.000001 + rng.Float64()*10
			b.Update(domain.BookSideAsk, price, float64(rng.Intn(5)), now)
		}

		bid, okB := b.BestBid()
		ask, okA := b.BestAsk()
		if okB && okA && bid.Price >= ask.Price {
			t.Fatalf("iteration %d: crossed book bid=%v ask=%v", i, bid.Price, ask.Price)
		}
	}
}

func TestZeroSizeRemovesLevel(t *testing.T) {
	b := NewBook("AAPL")
	b.Update(domain.BookSideBid, 99.5, 7, now)
	b.Update(domain.BookSideBid, 99.0, 3, now)

	b.Update(domain.BookSideBid, 99.5, 0, now)
	bids, _ := b.Depth(0)
	for _, l := range bids {
		if l.Price == 99.5 {
			t.Fatalf("level 99.5 still present after zero-size update: %+v", bids)
		}
	}
	if best, _ := b.BestBid(); best.Price != 99.0 {
		t.Fatalf("best bid = %v, want 99.0", best.Price)
	}

	// Re-updating the removed price reinserts it.
	b.Update(domain.BookSideBid, 99.5, 4, now)
	if best, _ := b.BestBid(); best.Price != 99.5 || best.Size != 4 {
		t.Fatalf("reinserted best = %+v", best)
	}

	// Removing an absent level is a no-op.
	b.Update(domain.BookSideAsk, 123.0, 0, now)
}

func TestDepthOrderingAndLimit(t *testing.T) {
	b := NewBook("AAPL")
	for _, p := range []float64{99, 101, 98, 100} {
		b.Update(domain.BookSideBid, p, 1, now)
	}
	for _, p := range []float64{103, 105, 102, 104} {
		b.Update(domain.BookSideAsk, p, 1, now)
	}

	bids, asks := b.Depth(3)
	wantBids := []float64{101, 100, 99}
	wantAsks := []float64{102, 103, 104}
	for i := range wantBids {
		if bids[i].Price != wantBids[i] {
			t.Fatalf("bids[%d] = %v, want %v", i, bids[i].Price, wantBids[i])
		}
		if asks[i].Price != wantAsks[i] {
			t.Fatalf("asks[%d] = %v, want %v", i, asks[i].Price, wantAsks[i])
		}
	}
}

func TestSpreadBps(t *testing.T) {
	b := NewBook("AAPL")
	b.Update(domain.BookSideBid, 99.5, 1, now)
	b.Update(domain.BookSideAsk, 100.5, 1, now)

	spread, ok := b.SpreadBps()
	if !ok {
		t.Fatal("spread not available")
	}
	// 1.0 spread on a 100.0 mid = 100 bps.
	if spread < 99.99 || spread > 100.01 {
		t.Fatalf("spread = %v bps, want ~100", spread)
	}
}

func TestImbalanceClamped(t *testing.T) {
	b := NewBook("AAPL")
	if got := b.Imbalance(5); got != 0 {
		t.Fatalf("empty book imbalance = %v, want 0", got)
	}

	b.Update(domain.BookSideBid, 100, 30, now)
	b.Update(domain.BookSideAsk, 101, 10, now)
	got := b.Imbalance(5)
	if got < 0.499 || got > 0.501 {
		t.Fatalf("imbalance = %v, want 0.5", got)
	}

	// One-sided book pins to +1.
	b.Update(domain.BookSideAsk, 101, 0, now)
	if got := b.Imbalance(5); got != 1 {
		t.Fatalf("one-sided imbalance = %v, want 1", got)
	}
}

func TestWalkAccumulatesAcrossLevels(t *testing.T) {
	b := NewBook("AAPL")
	b.Update(domain.BookSideAsk, 100, 5, now)
	b.Update(domain.BookSideAsk, 101, 5, now)
	b.Update(domain.BookSideAsk, 102, 20, now)

	res := b.Walk(domain.OrderSideBuy, 12)
	if !res.Complete() {
		t.Fatalf("walk incomplete: %+v", res)
	}
	if res.FilledSize != 12 {
		t.Fatalf("filled = %v, want 12", res.FilledSize)
	}
	// (5*100 + 5*101 + 2*102) / 12
	want := (5*100.0 + 5*101.0 + 2*102.0) / 12.0
	if diff := res.AvgFillPrice - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("avg price = %v, want %v", res.AvgFillPrice, want)
	}
}

func TestWalkExhaustedBook(t *testing.T) {
	b := NewBook("AAPL")
	b.Update(domain.BookSideBid, 100, 3, now)

	res := b.Walk(domain.OrderSideSell, 10)
	if res.FilledSize != 3 || res.UnfilledSize != 7 {
		t.Fatalf("walk = %+v, want filled 3 unfilled 7", res)
	}
	if res.AvgFillPrice != 100 {
		t.Fatalf("avg price = %v, want 100", res.AvgFillPrice)
	}
}

func TestStalenessLifecycle(t *testing.T) {
	b := NewBook("AAPL")
	if !b.Stale() {
		t.Fatal("new book should start stale")
	}
	b.Update(domain.BookSideBid, 100, 1, now)
	if b.Stale() {
		t.Fatal("book should be fresh after update")
	}
	b.MarkStale()
	if !b.Stale() {
		t.Fatal("book should be stale after MarkStale")
	}
}

func TestReplaceSnapshotSortsLevels(t *testing.T) {
	b := NewBook("AAPL")
	b.Update(domain.BookSideBid, 50, 1, now)

	b.Replace(domain.BookSnapshot{
		Symbol:    "AAPL",
		Bids:      []domain.PriceLevel{{Price: 99, Size: 1}, {Price: 100, Size: 2}},
		Asks:      []domain.PriceLevel{{Price: 102, Size: 1}, {Price: 101, Size: 2}},
		Seq:       42,
		Timestamp: now,
	})

	if best, _ := b.BestBid(); best.Price != 100 {
		t.Fatalf("best bid after replace = %v", best.Price)
	}
	if best, _ := b.BestAsk(); best.Price != 101 {
		t.Fatalf("best ask after replace = %v", best.Price)
	}
	if b.Seq() != 42 {
		t.Fatalf("seq = %d, want 42", b.Seq())
	}
}

func TestRegistryUnknownSymbol(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("MSFT"); err != domain.ErrUnknownSymbol {
		t.Fatalf("err = %v, want ErrUnknownSymbol", err)
	}

	r.Subscribe("MSFT")
	if _, err := r.Get("MSFT"); err != nil {
		t.Fatalf("err after subscribe = %v", err)
	}

	r.Unsubscribe("MSFT")
	if _, err := r.Get("MSFT"); err != domain.ErrUnknownSymbol {
		t.Fatalf("err after unsubscribe = %v, want ErrUnknownSymbol", err)
	}
}

func TestRegistryMidPriceRefusesStale(t *testing.T) {
	r := NewRegistry()
	b := r.Subscribe("AAPL")
	b.Update(domain.BookSideBid, 100, 1, now)
	b.Update(domain.BookSideAsk, 102, 1, now)

	if mid, ok := r.MidPrice("AAPL"); !ok || mid != 101 {
		t.Fatalf("mid = %v ok=%v", mid, ok)
	}

	b.MarkStale()
	if _, ok := r.MidPrice("AAPL"); ok {
		t.Fatal("stale book must not report a mid price")
	}
}
