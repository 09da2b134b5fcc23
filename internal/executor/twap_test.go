package executor

import (
	"math"
	"testing"
	"time"

	"github.com/SamoraDC/tradebot/internal/domain"
)

func twapParent(size float64) domain.Order {
	return domain.Order{
		ClientOrderID: "parent-1",
		Symbol:        "BTC-USD",
		Side:          domain.OrderSideBuy,
		Type:          domain.OrderTypeMarket,
		Size:          size,
		State:         domain.OrderStateCreated,
	}
}

func TestSliceTWAPEvenSlices(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	children := SliceTWAP(twapParent(100), 10*time.Minute, 5, now)

	if len(children) != 5 {
		t.Fatalf("slices = %d, want 5", len(children))
	}
	if !children[0].SubmitAt.Equal(now) {
		t.Fatalf("first slice at %v, want immediate (%v)", children[0].SubmitAt, now)
	}

	var total float64
	seen := make(map[string]bool)
	for i, c := range children {
		if c.Order.ParentID != "parent-1" {
			t.Fatalf("slice %d: parent id = %q", i, c.Order.ParentID)
		}
		if c.Order.ClientOrderID == "" || c.Order.ClientOrderID == "parent-1" {
			t.Fatalf("slice %d: bad client order id %q", i, c.Order.ClientOrderID)
		}
		if seen[c.Order.ClientOrderID] {
			t.Fatalf("slice %d: duplicate client order id", i)
		}
		seen[c.Order.ClientOrderID] = true

		want := now.Add(time.Duration(i) * 2 * time.Minute)
		if !c.SubmitAt.Equal(want) {
			t.Fatalf("slice %d at %v, want %v", i, c.SubmitAt, want)
		}
		total += c.Order.Size
	}
	if math.Abs(total-100) > 1e-9 {
		t.Fatalf("total sliced size = %v, want 100", total)
	}
}

func TestSliceTWAPLastSliceAbsorbsDrift(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	children := SliceTWAP(twapParent(10), time.Minute, 3, now)

	var total float64
	for _, c := range children {
		total += c.Order.Size
	}
	if total != 10 {
		t.Fatalf("total sliced size = %v, want exactly 10", total)
	}
}

func TestSliceTWAPSingleSlicePassthrough(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	parent := twapParent(100)

	children := SliceTWAP(parent, 10*time.Minute, 1, now)
	if len(children) != 1 {
		t.Fatalf("slices = %d, want 1", len(children))
	}
	if children[0].Order.ClientOrderID != parent.ClientOrderID {
		t.Fatal("single-slice order must keep the original client order id")
	}
	if children[0].Order.ParentID != "" {
		t.Fatal("single-slice order must not reference a parent")
	}
	if !children[0].SubmitAt.Equal(now) {
		t.Fatal("single slice must submit immediately")
	}
}
