package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/SamoraDC/tradebot/internal/book"
	"github.com/SamoraDC/tradebot/internal/domain"
)

// PriceReader is the slice of the price service the HTTP layer needs.
type PriceReader interface {
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// BarReader is the slice of the bar aggregator the HTTP layer needs.
type BarReader interface {
	Current(symbol string, timeframe time.Duration) (domain.Bar, bool)
	VWAP(symbol string) (float64, bool)
}

// MarketHandler serves price, order-book, and bar endpoints.
type MarketHandler struct {
	prices PriceReader
	books  *book.Registry
	bars   BarReader
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(prices PriceReader, books *book.Registry, bars BarReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		prices: prices,
		books:  books,
		bars:   bars,
		logger: logHandler(logger, "market"),
	}
}

// GetPrices returns the latest cached prices. With no symbols parameter it
// covers every subscribed symbol.
// GET /api/prices?symbols=BTC-USD,ETH-USD
func (h *MarketHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	if h.prices == nil {
		writeError(w, http.StatusServiceUnavailable, "price cache disabled")
		return
	}
	symbols := h.books.Symbols()
	if raw := r.URL.Query().Get("symbols"); raw != "" {
		symbols = symbols[:0]
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, s)
			}
		}
	}
	prices, err := h.prices.GetPrices(r.Context(), symbols)
	if err != nil {
		h.logger.Error("get prices failed", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "price cache unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": prices})
}

type levelResponse struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

type bookResponse struct {
	Symbol    string          `json:"symbol"`
	Bids      []levelResponse `json:"bids"`
	Asks      []levelResponse `json:"asks"`
	BestBid   float64         `json:"best_bid,omitempty"`
	BestAsk   float64         `json:"best_ask,omitempty"`
	MidPrice  float64         `json:"mid_price,omitempty"`
	Seq       uint64          `json:"seq"`
	Stale     bool            `json:"stale"`
	Timestamp string          `json:"timestamp"`
}

// GetBook returns the live order-book snapshot for one symbol.
// GET /api/book/{symbol}
func (h *MarketHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	b, err := h.books.Get(symbol)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownSymbol) {
			writeError(w, http.StatusNotFound, "no book for symbol")
			return
		}
		writeError(w, http.StatusInternalServerError, "book lookup failed")
		return
	}
	snap := b.Snapshot()
	writeJSON(w, http.StatusOK, bookResponse{
		Symbol:    snap.Symbol,
		Bids:      renderLevels(snap.Bids),
		Asks:      renderLevels(snap.Asks),
		BestBid:   snap.BestBid,
		BestAsk:   snap.BestAsk,
		MidPrice:  snap.MidPrice,
		Seq:       snap.Seq,
		Stale:     snap.Stale,
		Timestamp: snap.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

type barResponse struct {
	Symbol      string  `json:"symbol"`
	Timeframe   string  `json:"timeframe"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	WindowStart string  `json:"window_start"`
	VWAP        float64 `json:"session_vwap,omitempty"`
}

// GetBar returns the in-progress bar for one symbol and timeframe.
// GET /api/bars/{symbol}?timeframe=1m
func (h *MarketHandler) GetBar(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	timeframe := time.Minute
	if raw := r.URL.Query().Get("timeframe"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid timeframe")
			return
		}
		timeframe = d
	}
	bar, ok := h.bars.Current(symbol, timeframe)
	if !ok {
		writeError(w, http.StatusNotFound, "no bar for symbol and timeframe")
		return
	}
	vwap, _ := h.bars.VWAP(symbol)
	writeJSON(w, http.StatusOK, barResponse{
		Symbol:      bar.Symbol,
		Timeframe:   bar.Timeframe.String(),
		Open:        bar.Open,
		High:        bar.High,
		Low:         bar.Low,
		Close:       bar.Close,
		Volume:      bar.Volume,
		WindowStart: bar.WindowStart.UTC().Format(time.RFC3339),
		VWAP:        vwap,
	})
}

func renderLevels(levels []domain.PriceLevel) []levelResponse {
	out := make([]levelResponse, 0, len(levels))
	for _, l := range levels {
		out = append(out, levelResponse{Price: l.Price, Size: l.Size})
	}
	return out
}
