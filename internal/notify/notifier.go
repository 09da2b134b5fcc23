// Package notify delivers operator alerts for circuit-breaker transitions.
// Alerts fan out to every configured sender; a failing channel never blocks
// the others.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/SamoraDC/tradebot/internal/bus"
	"github.com/SamoraDC/tradebot/internal/domain"
)

// Sender is one delivery channel for alerts.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Alerter watches the risk topic and pushes breaker state changes to the
// configured senders.
type Alerter struct {
	senders []Sender
	logger  *slog.Logger

	events <-chan domain.Event
	cancel func()
}

// NewAlerter subscribes to the risk topic on eventBus. Construct before
// starting the risk manager so the first breaker transition is not missed.
func NewAlerter(senders []Sender, eventBus *bus.Bus, logger *slog.Logger) *Alerter {
	a := &Alerter{
		senders: senders,
		logger:  logger.With(slog.String("component", "alerter")),
	}
	a.events, a.cancel = eventBus.Subscribe(domain.TopicRisk, 16)
	return a
}

// Run consumes breaker updates until ctx is cancelled.
func (a *Alerter) Run(ctx context.Context) error {
	defer a.cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-a.events:
			if !ok {
				return nil
			}
			upd, ok := ev.Payload.(domain.BreakerUpdate)
			if !ok {
				continue
			}
			a.announce(ctx, upd)
		}
	}
}

func (a *Alerter) announce(ctx context.Context, upd domain.BreakerUpdate) {
	title := "Circuit breaker closed"
	message := "Trading resumed."
	if upd.Open {
		title = "Circuit breaker OPEN"
		message = fmt.Sprintf("Trading halted: %s (tripped %s)",
			upd.Reason, upd.TrippedAt.UTC().Format(time.RFC3339))
	}
	if err := a.dispatch(ctx, title, message); err != nil {
		a.logger.Error("alert delivery failed", slog.String("error", err.Error()))
	}
}

// dispatch sends to every sender and returns a combined error; one failing
// channel does not stop delivery to the rest.
func (a *Alerter) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range a.senders {
		if err := s.Send(ctx, title, message); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		a.logger.Debug("alert sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
