package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/SamoraDC/tradebot/internal/bus"
	"github.com/SamoraDC/tradebot/internal/domain"
)

// OrderService is the slice of the execution engine the HTTP layer needs.
type OrderService interface {
	Orders() []domain.Order
	Cancel(ctx context.Context, clientOrderID string) error
}

// OrderHandler serves order listing, manual signal entry, and cancellation.
type OrderHandler struct {
	engine   OrderService
	eventBus *bus.Bus
	logger   *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(engine OrderService, eventBus *bus.Bus, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		engine:   engine,
		eventBus: eventBus,
		logger:   logHandler(logger, "order"),
	}
}

type orderResponse struct {
	ClientOrderID string  `json:"client_order_id"`
	VenueOrderID  string  `json:"venue_order_id,omitempty"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	Size          float64 `json:"size"`
	LimitPrice    float64 `json:"limit_price,omitempty"`
	FilledSize    float64 `json:"filled_size"`
	AvgFillPrice  float64 `json:"avg_fill_price,omitempty"`
	State         string  `json:"state"`
	ReduceOnly    bool    `json:"reduce_only,omitempty"`
	ParentID      string  `json:"parent_id,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

// ListOrders returns every order the engine is currently tracking.
// GET /api/orders
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	live := h.engine.Orders()
	out := make([]orderResponse, 0, len(live))
	for _, o := range live {
		out = append(out, orderResponse{
			ClientOrderID: o.ClientOrderID,
			VenueOrderID:  o.VenueOrderID,
			Symbol:        o.Symbol,
			Side:          string(o.Side),
			Type:          string(o.Type),
			Size:          o.Size,
			LimitPrice:    o.LimitPrice,
			FilledSize:    o.FilledSize,
			AvgFillPrice:  o.AvgFillPrice,
			State:         string(o.State),
			ReduceOnly:    o.ReduceOnly,
			ParentID:      o.ParentID,
			CreatedAt:     o.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

// CancelOrder requests cancellation of a live order by client order ID.
// DELETE /api/orders/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}
	if err := h.engine.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("cancel failed",
			slog.String("client_order_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	h.logger.Info("cancel requested via api", slog.String("client_order_id", id))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancel requested"})
}

type placeSignalRequest struct {
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	SizeHint   float64 `json:"size_hint"`
	LimitPrice float64 `json:"limit_price"`
	ReduceOnly bool    `json:"reduce_only"`
}

// PlaceSignal injects a manual trade signal. The signal flows through the
// same risk checks as any external one.
// POST /api/signals
func (h *OrderHandler) PlaceSignal(w http.ResponseWriter, r *http.Request) {
	var req placeSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	side := domain.OrderSide(req.Direction)
	if side != domain.OrderSideBuy && side != domain.OrderSideSell {
		writeError(w, http.StatusBadRequest, "direction must be buy or sell")
		return
	}
	if req.SizeHint <= 0 {
		writeError(w, http.StatusBadRequest, "size_hint must be positive")
		return
	}

	sig := domain.TradeSignal{
		ID:         uuid.NewString(),
		Source:     "api",
		Symbol:     req.Symbol,
		Direction:  side,
		SizeHint:   req.SizeHint,
		LimitPrice: req.LimitPrice,
		ReduceOnly: req.ReduceOnly,
		CreatedAt:  time.Now().UTC(),
	}
	h.eventBus.Publish(domain.TopicSignals, domain.NewEvent(domain.EventTypeSignal, sig))
	h.logger.Info("manual signal accepted",
		slog.String("signal_id", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("direction", string(sig.Direction)),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{"signal_id": sig.ID})
}
