package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/SamoraDC/tradebot/internal/bus"
	"github.com/SamoraDC/tradebot/internal/domain"
)

// SignalChannel is the cross-process channel external strategy processes
// publish trade signals on.
const SignalChannel = "signals"

// SignalFeeder bridges the external signal bus into the in-process event
// bus. Strategy processes are out-of-process publishers; the risk manager
// consumes their signals from TopicSignals.
type SignalFeeder struct {
	external domain.SignalBus
	internal *bus.Bus
	logger   *slog.Logger
}

// NewSignalFeeder creates a SignalFeeder.
func NewSignalFeeder(external domain.SignalBus, internal *bus.Bus, logger *slog.Logger) *SignalFeeder {
	return &SignalFeeder{
		external: external,
		internal: internal,
		logger:   logger.With(slog.String("component", "signal_feeder")),
	}
}

// Run subscribes to the external signal channel and republishes each valid
// signal internally until ctx is cancelled.
func (f *SignalFeeder) Run(ctx context.Context) error {
	ch, err := f.external.Subscribe(ctx, SignalChannel)
	if err != nil {
		return err
	}
	f.logger.Info("signal feeder started")
	defer f.logger.Info("signal feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if err := f.handleMessage(data); err != nil {
				f.logger.Debug("signal message dropped",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
			}
		}
	}
}

func (f *SignalFeeder) handleMessage(data []byte) error {
	var sig domain.TradeSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		return &domain.ProtocolError{Reason: "signal decode: " + err.Error()}
	}

	sig.Symbol = strings.TrimSpace(sig.Symbol)
	if sig.Symbol == "" {
		return &domain.ProtocolError{Reason: "signal missing symbol"}
	}
	if sig.Direction != domain.OrderSideBuy && sig.Direction != domain.OrderSideSell {
		return &domain.ProtocolError{Reason: "signal direction must be buy or sell"}
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}

	f.internal.Publish(domain.TopicSignals, domain.NewEvent(domain.EventTypeSignal, sig))
	f.logger.Info("signal received",
		slog.String("signal_id", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("direction", string(sig.Direction)),
		slog.Float64("size_hint", sig.SizeHint),
	)
	return nil
}
