// Package bus provides the in-process publish/subscribe fabric that decouples
// the market-data feed and signal ingress from the risk manager and execution
// engine.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/SamoraDC/tradebot/internal/domain"
)

// defaultBuffer is the per-subscriber channel depth used when a subscriber
// does not request its own.
const defaultBuffer = 256

type subscriber struct {
	id int64
	ch chan domain.Event
}

// Bus is a topic-based in-process event bus. Publish never blocks the
// producer: a subscriber whose buffer is full loses the event and the drop is
// counted. Events published on one topic reach each subscriber in publish
// order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscriber
	nextID int64
	closed bool

	dropped atomic.Int64
	logger  *slog.Logger
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[string][]*subscriber),
		logger: logger.With(slog.String("component", "bus")),
	}
}

// Subscribe registers a new subscriber on topic with the given buffer depth
// (<=0 uses the default). It returns the receive channel and a cancel
// function that removes the subscription and closes the channel.
func (b *Bus) Subscribe(topic string, buffer int) (<-chan domain.Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscriber{id: b.nextID, ch: make(chan domain.Event, buffer)}
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[topic] = append(b.subs[topic], sub)

	cancel := func() { b.unsubscribe(topic, sub.id) }
	return sub.ch, cancel
}

func (b *Bus) unsubscribe(topic string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, s := range subs {
		if s.id == id {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// Publish delivers ev to every subscriber of topic. Slow subscribers drop
// rather than stall the hot path.
func (b *Bus) Publish(topic string, ev domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, s := range b.subs[topic] {
		select {
		case s.ch <- ev:
		default:
			n := b.dropped.Add(1)
			if n%1000 == 1 {
				b.logger.Warn("subscriber buffer full, dropping event",
					slog.String("topic", topic),
					slog.String("type", string(ev.Type)),
					slog.Int64("total_dropped", n),
				)
			}
		}
	}
}

// Dropped returns the number of events dropped due to full subscriber
// buffers since the bus was created.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close shuts the bus down and closes every subscriber channel. Publish and
// Subscribe become no-ops afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.subs {
		for _, s := range subs {
			close(s.ch)
		}
		delete(b.subs, topic)
	}
}
