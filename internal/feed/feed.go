// Package feed maintains the venue market-data connection. It drives the
// order books and bar aggregator from normalized events, republishes them on
// the in-process bus, and reconnects with full resubscription when the
// transport drops or goes quiet.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/SamoraDC/tradebot/internal/bars"
	"github.com/SamoraDC/tradebot/internal/book"
	"github.com/SamoraDC/tradebot/internal/bus"
	"github.com/SamoraDC/tradebot/internal/domain"
)

// State is the feed connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateAuthed       State = "authenticated"
	StateSubscribed   State = "subscribed"
	StateStreaming    State = "streaming"
	StateStale        State = "stale"
)

// Config holds the feed tunables.
type Config struct {
	Symbols          []string
	HeartbeatTimeout time.Duration
	ReconnectDelay   time.Duration
}

// Feed owns the market-data connection lifecycle. Books survive reconnects
// but are marked stale until fresh updates arrive, so downstream logic can
// refuse to act on old data.
type Feed struct {
	adapter  domain.MarketDataAdapter
	books    *book.Registry
	bars     *bars.Aggregator
	eventBus *bus.Bus
	cfg      Config
	logger   *slog.Logger

	mu         sync.Mutex
	state      State
	lastSeq    map[string]uint64
	needResync map[string]bool
	lastMsg    time.Time
}

// New creates a Feed for the configured symbol set.
func New(adapter domain.MarketDataAdapter, books *book.Registry, aggregator *bars.Aggregator, eventBus *bus.Bus, cfg Config, logger *slog.Logger) *Feed {
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 10 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	return &Feed{
		adapter:    adapter,
		books:      books,
		bars:       aggregator,
		eventBus:   eventBus,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "feed")),
		state:      StateDisconnected,
		lastSeq:    make(map[string]uint64),
		needResync: make(map[string]bool),
	}
}

// State returns the current connection state.
func (f *Feed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Feed) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
	f.logger.Info("feed state changed", slog.String("state", string(s)))
}

// Run connects and streams until ctx is cancelled. Every disconnect marks
// all books stale and triggers a reconnect with a fixed delay followed by a
// full resubscribe.
func (f *Feed) Run(ctx context.Context) error {
	if len(f.cfg.Symbols) == 0 {
		f.logger.Info("no symbols configured, feed idle")
		<-ctx.Done()
		return ctx.Err()
	}

	for _, sym := range f.cfg.Symbols {
		f.books.Subscribe(sym)
	}

	for {
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			f.setState(StateDisconnected)
			return ctx.Err()
		}

		f.books.MarkAllStale()
		f.setState(StateDisconnected)
		f.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", f.cfg.ReconnectDelay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.cfg.ReconnectDelay):
		}
	}
}

// runConnection walks the connection state machine once and streams until
// the transport fails or the heartbeat window elapses with no messages.
func (f *Feed) runConnection(ctx context.Context) error {
	f.setState(StateConnecting)
	if err := f.adapter.Connect(ctx); err != nil {
		return err
	}
	defer f.adapter.Close()

	if err := f.adapter.Authenticate(ctx); err != nil {
		return err
	}
	f.setState(StateAuthed)

	if err := f.adapter.Subscribe(ctx, f.cfg.Symbols); err != nil {
		return err
	}
	f.setState(StateSubscribed)

	// Sequence tracking restarts with each venue session.
	f.mu.Lock()
	f.lastSeq = make(map[string]uint64)
	f.lastMsg = time.Now()
	f.mu.Unlock()
	f.setState(StateStreaming)

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	// Heartbeat watchdog: no message inside the window means the stream is
	// silently dead even if the transport still looks connected.
	watchdogErr := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(f.cfg.HeartbeatTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-readCtx.Done():
				return
			case <-ticker.C:
				f.mu.Lock()
				quiet := time.Since(f.lastMsg)
				f.mu.Unlock()
				if quiet > f.cfg.HeartbeatTimeout {
					f.setState(StateStale)
					watchdogErr <- &domain.TransportError{Op: "heartbeat", Err: errors.New("no messages inside heartbeat window")}
					cancelRead()
					return
				}
			}
		}
	}()

	for {
		ev, err := f.adapter.Next(readCtx)
		if err != nil {
			select {
			case werr := <-watchdogErr:
				return werr
			default:
			}

			var perr *domain.ProtocolError
			if errors.As(err, &perr) {
				// Malformed messages are dropped, never fatal.
				f.logger.Warn("malformed message dropped", slog.String("error", perr.Error()))
				continue
			}
			return err
		}

		f.mu.Lock()
		f.lastMsg = time.Now()
		f.mu.Unlock()

		f.handleEvent(ctx, ev)
	}
}

func (f *Feed) handleEvent(ctx context.Context, ev domain.MarketEvent) {
	if f.seqGap(ev) {
		f.markResyncNeeded(ev.Symbol)
	}
	if f.resyncNeeded(ev.Symbol) {
		snapSeq, ok := f.resync(ctx, ev.Symbol)
		if !ok {
			// The book stays stale and events are dropped until a snapshot
			// lands; a gap must never be papered over by later updates.
			return
		}
		f.clearResyncNeeded(ev.Symbol)
		if ev.Seq <= snapSeq {
			// The snapshot already covers this update.
			return
		}
	}

	switch ev.Kind {
	case domain.MarketKindTrade:
		f.applyTrade(ev)
	case domain.MarketKindQuote:
		f.applyQuote(ev)
	default:
		f.logger.Warn("unhandled market event kind", slog.String("kind", string(ev.Kind)))
		return
	}

	f.eventBus.Publish(domain.TopicMarketData, domain.NewEvent(eventTypeFor(ev.Kind), ev))
}

func eventTypeFor(kind domain.MarketKind) domain.EventType {
	if kind == domain.MarketKindTrade {
		return domain.EventTypeTrade
	}
	return domain.EventTypeQuote
}

// seqGap reports whether the event skips ahead of the last applied sequence
// number for its symbol, which means updates were lost in transit.
func (f *Feed) seqGap(ev domain.MarketEvent) bool {
	if ev.Seq == 0 {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	last, seen := f.lastSeq[ev.Symbol]
	f.lastSeq[ev.Symbol] = ev.Seq
	return seen && ev.Seq > last+1
}

func (f *Feed) markResyncNeeded(symbol string) {
	f.mu.Lock()
	f.needResync[symbol] = true
	f.mu.Unlock()
}

func (f *Feed) clearResyncNeeded(symbol string) {
	f.mu.Lock()
	delete(f.needResync, symbol)
	f.mu.Unlock()
}

func (f *Feed) resyncNeeded(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.needResync[symbol]
}

// resync replaces the symbol's book from a fresh venue snapshot. The book
// stays stale until the snapshot lands so nothing trades against the gap.
// Returns the snapshot sequence number on success.
func (f *Feed) resync(ctx context.Context, symbol string) (uint64, bool) {
	b, err := f.books.Get(symbol)
	if err != nil {
		return 0, false
	}
	b.MarkStale()
	f.logger.Warn("sequence gap detected, resyncing book", slog.String("symbol", symbol))

	snap, err := f.adapter.Snapshot(ctx, symbol)
	if err != nil {
		f.logger.Error("book resync failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return 0, false
	}
	b.Replace(snap)

	f.mu.Lock()
	if snap.Seq > f.lastSeq[symbol] {
		f.lastSeq[symbol] = snap.Seq
	}
	f.mu.Unlock()
	return snap.Seq, true
}

func (f *Feed) applyTrade(ev domain.MarketEvent) {
	if ev.Price <= 0 || ev.Size <= 0 {
		f.logger.Debug("invalid trade dropped",
			slog.String("symbol", ev.Symbol),
			slog.Float64("price", ev.Price),
			slog.Float64("size", ev.Size),
		)
		return
	}
	f.bars.OnTrade(ev.Symbol, ev.Price, ev.Size, ev.Timestamp)
}

func (f *Feed) applyQuote(ev domain.MarketEvent) {
	b, err := f.books.Get(ev.Symbol)
	if err != nil {
		f.logger.Warn("quote for unsubscribed symbol dropped", slog.String("symbol", ev.Symbol))
		return
	}
	if ev.Price <= 0 || ev.Size < 0 {
		f.logger.Debug("invalid quote dropped",
			slog.String("symbol", ev.Symbol),
			slog.Float64("price", ev.Price),
		)
		return
	}

	if ev.Side != domain.BookSideBid && ev.Side != domain.BookSideAsk {
		f.logger.Debug("quote without side dropped", slog.String("symbol", ev.Symbol))
		return
	}
	b.Update(ev.Side, ev.Price, ev.Size, ev.Timestamp)
	if ev.Seq > 0 {
		b.SetSeq(ev.Seq)
	}
}
