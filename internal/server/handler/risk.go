package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/SamoraDC/tradebot/internal/domain"
	"github.com/SamoraDC/tradebot/internal/risk"
)

// RiskService is the slice of the risk manager the HTTP layer needs.
type RiskService interface {
	Snapshot(ctx context.Context) (risk.Snapshot, error)
	ResetBreaker(ctx context.Context) error
}

// RiskHandler serves risk-state and position endpoints.
type RiskHandler struct {
	risk   RiskService
	logger *slog.Logger
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(riskSvc RiskService, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{
		risk:   riskSvc,
		logger: logHandler(logger, "risk"),
	}
}

type riskResponse struct {
	BreakerOpen       bool    `json:"breaker_open"`
	BreakerReason     string  `json:"breaker_reason,omitempty"`
	Exposure          float64 `json:"exposure"`
	UnrealizedPnL     float64 `json:"unrealized_pnl"`
	RealizedPnLToday  float64 `json:"realized_pnl_today"`
	MaxDrawdownToday  float64 `json:"max_drawdown_today"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	OpenOrders        int     `json:"open_orders"`
	ResetAt           string  `json:"daily_reset_at"`
}

// GetRisk returns the current risk-state snapshot.
// GET /api/risk
func (h *RiskHandler) GetRisk(w http.ResponseWriter, r *http.Request) {
	snap, err := h.risk.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("risk snapshot failed", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "risk manager unavailable")
		return
	}
	writeJSON(w, http.StatusOK, riskResponse{
		BreakerOpen:       snap.BreakerOpen,
		BreakerReason:     snap.BreakerReason,
		Exposure:          snap.Exposure,
		UnrealizedPnL:     snap.UnrealizedPnL,
		RealizedPnLToday:  snap.Daily.RealizedPnLToday,
		MaxDrawdownToday:  snap.Daily.MaxDrawdownToday,
		ConsecutiveLosses: snap.Daily.ConsecutiveLosses,
		OpenOrders:        snap.OpenOrders,
		ResetAt:           snap.Daily.ResetAt.UTC().Format(time.RFC3339),
	})
}

// ResetBreaker re-arms the circuit breaker after manual review.
// POST /api/risk/breaker/reset
func (h *RiskHandler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	if err := h.risk.ResetBreaker(r.Context()); err != nil {
		h.logger.Error("breaker reset failed", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "risk manager unavailable")
		return
	}
	h.logger.Info("circuit breaker reset via api")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

type positionResponse struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UpdatedAt     string  `json:"updated_at"`
}

// ListPositions returns all non-flat positions.
// GET /api/positions
func (h *RiskHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	snap, err := h.risk.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("risk snapshot failed", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "risk manager unavailable")
		return
	}
	out := make([]positionResponse, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		out = append(out, renderPosition(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

func renderPosition(p domain.Position) positionResponse {
	return positionResponse{
		Symbol:        p.Symbol,
		Quantity:      p.Quantity,
		AvgEntryPrice: p.AvgEntryPrice,
		RealizedPnL:   p.RealizedPnL,
		UpdatedAt:     p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

var _ RiskService = (*risk.Manager)(nil)
