// Package service fans engine state out to out-of-process consumers:
// prices and book snapshots into the caches, fills onto the external bus.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SamoraDC/tradebot/internal/book"
	"github.com/SamoraDC/tradebot/internal/bus"
	"github.com/SamoraDC/tradebot/internal/domain"
)

// PricesChannel and FillsChannel are the external pub/sub channels strategy
// processes subscribe to.
const (
	PricesChannel = "prices"
	FillsChannel  = "fills"
)

// snapshotInterval throttles per-symbol book snapshot writes; quote volume
// is far higher than cache readers need.
const snapshotInterval = 500 * time.Millisecond

// PriceService consumes the in-process market-data and fill streams and
// keeps the external caches and channels current.
type PriceService struct {
	priceCache domain.PriceCache
	bookCache  domain.BookCache
	external   domain.SignalBus
	books      *book.Registry
	eventBus   *bus.Bus
	logger     *slog.Logger

	market       <-chan domain.Event
	cancelMarket func()
	fills        <-chan domain.Event
	cancelFills  func()

	mu           sync.Mutex
	lastSnapshot map[string]time.Time
}

// NewPriceService creates a PriceService with all required dependencies.
func NewPriceService(
	priceCache domain.PriceCache,
	bookCache domain.BookCache,
	external domain.SignalBus,
	books *book.Registry,
	eventBus *bus.Bus,
	logger *slog.Logger,
) *PriceService {
	s := &PriceService{
		priceCache:   priceCache,
		bookCache:    bookCache,
		external:     external,
		books:        books,
		eventBus:     eventBus,
		logger:       logger.With(slog.String("component", "price_service")),
		lastSnapshot: make(map[string]time.Time),
	}
	// Subscribing at construction time means events published before Run
	// starts are buffered, not lost.
	s.market, s.cancelMarket = eventBus.Subscribe(domain.TopicMarketData, 256)
	s.fills, s.cancelFills = eventBus.Subscribe(domain.TopicFills, 64)
	return s
}

// Run consumes market-data and fill events until ctx is cancelled.
func (s *PriceService) Run(ctx context.Context) error {
	defer s.cancelMarket()
	defer s.cancelFills()

	s.logger.Info("price service started")
	defer s.logger.Info("price service stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.market:
			if !ok {
				return nil
			}
			if me, valid := ev.Payload.(domain.MarketEvent); valid {
				s.handleMarketEvent(ctx, me)
			}
		case ev, ok := <-s.fills:
			if !ok {
				return nil
			}
			if fill, valid := ev.Payload.(domain.Fill); valid {
				s.handleFill(ctx, fill)
			}
		}
	}
}

func (s *PriceService) handleMarketEvent(ctx context.Context, me domain.MarketEvent) {
	switch me.Kind {
	case domain.MarketKindTrade:
		if err := s.priceCache.SetPrice(ctx, me.Symbol, me.Price, me.Timestamp); err != nil {
			s.logger.Warn("set price failed",
				slog.String("symbol", me.Symbol),
				slog.String("error", err.Error()),
			)
		}
		s.publishPrice(ctx, me)
	case domain.MarketKindQuote:
		s.maybeSnapshot(ctx, me.Symbol)
	}
}

// maybeSnapshot writes the symbol's book snapshot to the cache, at most once
// per snapshotInterval.
func (s *PriceService) maybeSnapshot(ctx context.Context, symbol string) {
	now := time.Now()
	s.mu.Lock()
	if now.Sub(s.lastSnapshot[symbol]) < snapshotInterval {
		s.mu.Unlock()
		return
	}
	s.lastSnapshot[symbol] = now
	s.mu.Unlock()

	b, err := s.books.Get(symbol)
	if err != nil {
		return
	}
	snap := b.Snapshot()
	if err := s.bookCache.SetSnapshot(ctx, snap); err != nil {
		s.logger.Warn("set book snapshot failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	if snap.MidPrice > 0 {
		if err := s.priceCache.SetPrice(ctx, symbol, snap.MidPrice, snap.Timestamp); err != nil {
			s.logger.Warn("set mid price failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *PriceService) publishPrice(ctx context.Context, me domain.MarketEvent) {
	evt, _ := json.Marshal(map[string]any{
		"event":     "trade",
		"symbol":    me.Symbol,
		"price":     me.Price,
		"size":      me.Size,
		"timestamp": me.Timestamp.Format(time.RFC3339Nano),
	})
	if err := s.external.Publish(ctx, PricesChannel, evt); err != nil {
		s.logger.Warn("publish price event failed",
			slog.String("symbol", me.Symbol),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PriceService) handleFill(ctx context.Context, fill domain.Fill) {
	evt, _ := json.Marshal(map[string]any{
		"event":           "fill",
		"client_order_id": fill.ClientOrderID,
		"symbol":          fill.Symbol,
		"side":            string(fill.Side),
		"price":           fill.Price,
		"size":            fill.Size,
		"fee":             fill.Fee,
		"timestamp":       fill.Timestamp.Format(time.RFC3339Nano),
	})
	if err := s.external.Publish(ctx, FillsChannel, evt); err != nil {
		s.logger.Warn("publish fill event failed",
			slog.String("client_order_id", fill.ClientOrderID),
			slog.String("error", err.Error()),
		)
	}
}

// GetPrice returns the latest cached price and timestamp for one symbol.
func (s *PriceService) GetPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	price, ts, err := s.priceCache.GetPrice(ctx, symbol)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("price_service: get price %q: %w", symbol, err)
	}
	return price, ts, nil
}

// GetPrices returns the latest cached prices for multiple symbols. Missing
// symbols are omitted.
func (s *PriceService) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	prices, err := s.priceCache.GetPrices(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("price_service: get prices: %w", err)
	}
	return prices, nil
}
