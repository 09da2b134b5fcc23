package executor

import (
	"time"

	"github.com/google/uuid"

	"github.com/SamoraDC/tradebot/internal/domain"
)

// ChildOrder is one TWAP slice with its scheduled submission time.
type ChildOrder struct {
	Order    domain.Order
	SubmitAt time.Time
}

// SliceTWAP splits a parent order into count evenly-spaced child orders over
// window, reducing market impact for large sizes. The first child submits
// immediately; each child carries the parent's client order ID in ParentID
// so fills and reservations roll up to the parent.
func SliceTWAP(parent domain.Order, window time.Duration, count int, now time.Time) []ChildOrder {
	if count <= 1 || parent.Size <= 0 {
		return []ChildOrder{{Order: parent, SubmitAt: now}}
	}

	interval := window / time.Duration(count)
	sliceSize := parent.Size / float64(count)

	children := make([]ChildOrder, 0, count)
	remaining := parent.Size
	for i := 0; i < count; i++ {
		size := sliceSize
		if i == count-1 {
			// Last slice absorbs float drift so the total matches exactly.
			size = remaining
		}
		remaining -= size

		child := parent
		child.ClientOrderID = uuid.New().String()
		child.ParentID = parent.ClientOrderID
		child.Size = size
		child.FilledSize = 0
		child.CreatedAt = now

		children = append(children, ChildOrder{
			Order:    child,
			SubmitAt: now.Add(time.Duration(i) * interval),
		})
	}
	return children
}
