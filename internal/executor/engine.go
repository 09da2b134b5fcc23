// Package executor turns risk-approved orders into venue submissions with
// rate limiting, slippage gating, bounded retry, idempotent submission, and
// full order-lifecycle tracking. Fills are republished on the event bus so
// the risk manager keeps positions and reservations current.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SamoraDC/tradebot/internal/book"
	"github.com/SamoraDC/tradebot/internal/bus"
	"github.com/SamoraDC/tradebot/internal/domain"
)

// Config holds the execution-engine tunables.
type Config struct {
	MaxSlippageBps  float64
	TwapMinSize     float64 // market orders at least this size are TWAP-sliced; 0 disables
	TwapWindow      time.Duration
	TwapSlices      int
	RateKey         string
	DedupTTL        time.Duration
	CleanupInterval time.Duration
}

// orderState is the engine's in-flight record for one order.
type orderState struct {
	order         domain.Order
	pendingCancel bool
	openChildren  int // TWAP parents only
}

// Engine is the execution engine. Construct with NewEngine and start Run in
// its own goroutine.
type Engine struct {
	approved   <-chan domain.Order
	adapter    domain.ExecutionAdapter
	limiter    domain.RateLimiter
	books      *book.Registry
	estimator  *Estimator
	retry      RetryPolicy
	cfg        Config
	eventBus   *bus.Bus
	orderStore domain.OrderStore // optional
	fillStore  domain.FillStore  // optional
	dedup      *Dedup
	logger     *slog.Logger

	// sleep is injectable so retry schedules are testable without clocks.
	sleep func(ctx context.Context, d time.Duration) error
	rng   *rand.Rand

	breakerOpen atomic.Bool

	mu      sync.Mutex
	live    map[string]*orderState
	byVenue map[string]string // venue order id -> client order id
}

// NewEngine creates an Engine consuming approvals from approved. Stores may
// be nil when persistence is disabled.
func NewEngine(
	approved <-chan domain.Order,
	adapter domain.ExecutionAdapter,
	limiter domain.RateLimiter,
	books *book.Registry,
	estimator *Estimator,
	retry RetryPolicy,
	cfg Config,
	eventBus *bus.Bus,
	orderStore domain.OrderStore,
	fillStore domain.FillStore,
	logger *slog.Logger,
) *Engine {
	if cfg.RateKey == "" {
		cfg.RateKey = "orders"
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 2 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 30 * time.Second
	}
	return &Engine{
		approved:   approved,
		adapter:    adapter,
		limiter:    limiter,
		books:      books,
		estimator:  estimator,
		retry:      retry,
		cfg:        cfg,
		eventBus:   eventBus,
		orderStore: orderStore,
		fillStore:  fillStore,
		dedup:      NewDedup(cfg.DedupTTL),
		logger:     logger.With(slog.String("component", "executor")),
		sleep:      sleepCtx,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		live:       make(map[string]*orderState),
		byVenue:    make(map[string]string),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run processes approvals and venue events until ctx is cancelled.
// Submissions happen in approval order; venue notifications are handled
// concurrently so a slow retry loop never delays fill processing.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("execution engine started")
	defer e.logger.Info("execution engine stopped")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.submitLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		e.eventLoop(ctx)
	}()
	wg.Wait()
	return ctx.Err()
}

func (e *Engine) submitLoop(ctx context.Context) {
	cleanup := time.NewTicker(e.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case order, ok := <-e.approved:
			if !ok {
				return
			}
			e.handleApproved(ctx, order)
		case <-cleanup.C:
			e.dedup.Cleanup()
		}
	}
}

func (e *Engine) eventLoop(ctx context.Context) {
	risk, cancelRisk := e.eventBus.Subscribe(domain.TopicRisk, 16)
	defer cancelRisk()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.adapter.Events():
			if !ok {
				return
			}
			e.handleVenueEvent(ctx, ev)
		case ev, ok := <-risk:
			if !ok {
				return
			}
			if upd, valid := ev.Payload.(domain.BreakerUpdate); valid {
				e.breakerOpen.Store(upd.Open)
				e.logger.Warn("breaker state observed",
					slog.Bool("open", upd.Open),
					slog.String("reason", upd.Reason),
				)
			}
		}
	}
}

func (e *Engine) handleApproved(ctx context.Context, order domain.Order) {
	log := e.logger.With(
		slog.String("client_order_id", order.ClientOrderID),
		slog.String("symbol", order.Symbol),
		slog.String("side", string(order.Side)),
	)

	if e.dedup.IsDuplicate(order.ClientOrderID) {
		log.Warn("duplicate client order id, dropping")
		return
	}
	if e.breakerOpen.Load() && !order.ReduceOnly {
		e.failOrder(ctx, order, domain.PermanentExec("admit", domain.ErrCircuitOpen))
		return
	}

	if e.cfg.TwapMinSize > 0 && order.Type == domain.OrderTypeMarket && order.Size >= e.cfg.TwapMinSize {
		e.runTWAP(ctx, order)
		return
	}

	e.track(order)
	if err := e.submit(ctx, order); err != nil {
		log.Warn("submission failed", slog.String("error", err.Error()))
	}
}

// runTWAP slices the parent and submits each child at its scheduled time.
// Child fills and terminal updates roll up to the parent, which holds the
// risk reservation.
func (e *Engine) runTWAP(ctx context.Context, parent domain.Order) {
	children := SliceTWAP(parent, e.cfg.TwapWindow, e.cfg.TwapSlices, time.Now().UTC())

	// The parent never reaches the venue itself; its lifecycle advances as
	// the children roll up, starting from submitted once slicing begins.
	if parent.State.CanTransition(domain.OrderStateSubmitted) {
		parent.State = domain.OrderStateSubmitted
	}
	e.mu.Lock()
	e.live[parent.ClientOrderID] = &orderState{order: parent, openChildren: len(children)}
	e.mu.Unlock()

	e.logger.Info("twap slicing parent order",
		slog.String("client_order_id", parent.ClientOrderID),
		slog.Int("slices", len(children)),
		slog.Duration("window", e.cfg.TwapWindow),
	)

	// One timer task per schedule; children submit in slice order.
	go func() {
		for _, child := range children {
			if wait := time.Until(child.SubmitAt); wait > 0 {
				if err := e.sleep(ctx, wait); err != nil {
					return
				}
			}
			e.track(child.Order)
			if err := e.submit(ctx, child.Order); err != nil {
				e.logger.Warn("twap child submission failed",
					slog.String("client_order_id", child.Order.ClientOrderID),
					slog.String("parent_id", child.Order.ParentID),
					slog.String("error", err.Error()),
				)
			}
		}
	}()
}

// submit runs the pre-submission gates and the bounded retry loop for one
// order. Transient venue failures back off exponentially with jitter;
// permanent failures surface immediately.
func (e *Engine) submit(ctx context.Context, order domain.Order) error {
	if order.Type == domain.OrderTypeMarket {
		if err := e.gateMarketOrder(order); err != nil {
			e.failOrder(ctx, order, err)
			return err
		}
	}

	if err := e.limiter.Wait(ctx, e.cfg.RateKey); err != nil {
		return fmt.Errorf("executor: rate limit wait: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < e.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := e.retry.Delay(attempt-1, e.rng)
			e.logger.Info("retrying submission",
				slog.String("client_order_id", order.ClientOrderID),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			if err := e.sleep(ctx, delay); err != nil {
				return err
			}
		}

		ack, err := e.adapter.SubmitOrder(ctx, order)
		if err == nil {
			e.applySubmitAck(ctx, order.ClientOrderID, ack)
			return nil
		}
		lastErr = err
		if !domain.IsTransientExec(err) {
			e.failOrder(ctx, order, err)
			return err
		}
	}

	err := fmt.Errorf("executor: submission attempts exhausted: %w", lastErr)
	e.failOrder(ctx, order, err)
	return err
}

// gateMarketOrder refuses market orders the book cannot support: stale data,
// insufficient liquidity, or an estimated cost above the slippage budget.
func (e *Engine) gateMarketOrder(order domain.Order) error {
	b, err := e.books.Get(order.Symbol)
	if err != nil {
		return domain.PermanentExec("gate", err)
	}
	if b.Stale() {
		return domain.PermanentExec("gate", domain.ErrStaleBook)
	}

	walk := b.Walk(order.Side, order.Size)
	if !walk.Complete() {
		return domain.PermanentExec("gate",
			fmt.Errorf("insufficient liquidity: %.4f of %.4f available", walk.FilledSize, order.Size))
	}

	estBps, err := e.estimator.EstimateBps(order)
	if err != nil {
		return domain.PermanentExec("gate", err)
	}
	if e.cfg.MaxSlippageBps > 0 && estBps > e.cfg.MaxSlippageBps {
		return domain.PermanentExec("gate",
			fmt.Errorf("slippage estimate %.1f bps exceeds budget %.1f bps", estBps, e.cfg.MaxSlippageBps))
	}
	return nil
}

// Cancel requests cancellation of a live order. Cancelling before the venue
// acknowledgment sets a pending flag honored at ack time; cancelling a
// filled order is a no-op because the fill always wins.
func (e *Engine) Cancel(ctx context.Context, clientOrderID string) error {
	e.mu.Lock()
	st, ok := e.live[clientOrderID]
	if !ok {
		e.mu.Unlock()
		return domain.ErrNotFound
	}
	if st.order.State.Terminal() {
		e.mu.Unlock()
		return nil
	}
	if st.order.VenueOrderID == "" {
		st.pendingCancel = true
		e.mu.Unlock()
		e.logger.Info("cancel requested before ack, deferring",
			slog.String("client_order_id", clientOrderID))
		return nil
	}
	venueID := st.order.VenueOrderID
	e.mu.Unlock()

	if err := e.adapter.CancelOrder(ctx, venueID); err != nil {
		return fmt.Errorf("executor: cancel %s: %w", clientOrderID, err)
	}
	return nil
}

// Orders returns a copy of the in-flight order table for telemetry.
func (e *Engine) Orders() []domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.Order, 0, len(e.live))
	for _, st := range e.live {
		out = append(out, st.order)
	}
	return out
}

// --- lifecycle bookkeeping ---

func (e *Engine) track(order domain.Order) {
	e.mu.Lock()
	e.live[order.ClientOrderID] = &orderState{order: order}
	e.mu.Unlock()
	e.persistOrder(order, true)
}

func (e *Engine) applySubmitAck(ctx context.Context, clientOrderID string, ack domain.SubmitAck) {
	e.mu.Lock()
	st, ok := e.live[clientOrderID]
	if !ok {
		e.mu.Unlock()
		return
	}
	st.order.VenueOrderID = ack.VenueOrderID
	if ack.VenueOrderID != "" {
		e.byVenue[ack.VenueOrderID] = clientOrderID
	}
	if st.order.State.CanTransition(domain.OrderStateSubmitted) {
		st.order.State = domain.OrderStateSubmitted
	}
	st.order.UpdatedAt = time.Now().UTC()
	order := st.order
	pendingCancel := st.pendingCancel
	e.mu.Unlock()

	e.publishOrderUpdate(order)
	e.persistOrder(order, false)
	e.logger.Info("order submitted",
		slog.String("client_order_id", order.ClientOrderID),
		slog.String("venue_order_id", order.VenueOrderID),
	)

	if pendingCancel && order.VenueOrderID != "" {
		e.logger.Info("honoring deferred cancel after submit",
			slog.String("client_order_id", order.ClientOrderID))
		if err := e.adapter.CancelOrder(ctx, order.VenueOrderID); err != nil {
			e.logger.Warn("deferred cancel failed",
				slog.String("client_order_id", order.ClientOrderID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (e *Engine) handleVenueEvent(ctx context.Context, ev domain.ExecutionEvent) {
	clientID := ev.ClientOrderID
	if clientID == "" && ev.VenueOrderID != "" {
		e.mu.Lock()
		clientID = e.byVenue[ev.VenueOrderID]
		e.mu.Unlock()
	}
	if clientID == "" {
		e.logger.Warn("venue event for unknown order",
			slog.String("kind", string(ev.Kind)),
			slog.String("venue_order_id", ev.VenueOrderID),
		)
		return
	}

	switch ev.Kind {
	case domain.ExecEventAck:
		e.applyAck(ctx, clientID, ev)
	case domain.ExecEventFill:
		if ev.Fill != nil {
			e.applyFill(clientID, *ev.Fill)
		}
	case domain.ExecEventReject:
		e.applyTerminal(clientID, domain.OrderStateRejected, ev.Reason)
	case domain.ExecEventCancel:
		e.applyTerminal(clientID, domain.OrderStateCancelled, ev.Reason)
	case domain.ExecEventExpire:
		e.applyTerminal(clientID, domain.OrderStateExpired, ev.Reason)
	}
}

func (e *Engine) applyAck(ctx context.Context, clientID string, ev domain.ExecutionEvent) {
	e.mu.Lock()
	st, ok := e.live[clientID]
	if !ok {
		e.mu.Unlock()
		return
	}
	if !st.order.State.CanTransition(domain.OrderStateAcknowledged) {
		e.mu.Unlock()
		return
	}
	st.order.State = domain.OrderStateAcknowledged
	if ev.VenueOrderID != "" {
		st.order.VenueOrderID = ev.VenueOrderID
		e.byVenue[ev.VenueOrderID] = clientID
	}
	st.order.UpdatedAt = time.Now().UTC()
	order := st.order
	pendingCancel := st.pendingCancel
	e.mu.Unlock()

	e.publishOrderUpdate(order)
	e.persistOrder(order, false)

	if pendingCancel {
		e.logger.Info("honoring deferred cancel at ack",
			slog.String("client_order_id", clientID))
		if err := e.adapter.CancelOrder(ctx, order.VenueOrderID); err != nil {
			e.logger.Warn("deferred cancel failed",
				slog.String("client_order_id", clientID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (e *Engine) applyFill(clientID string, fill domain.Fill) {
	e.mu.Lock()
	st, ok := e.live[clientID]
	if !ok {
		e.mu.Unlock()
		return
	}
	if st.order.State.Terminal() {
		// Late fill after reject/cancel bookkeeping would corrupt state;
		// the venue adapter contract makes this unreachable, log and drop.
		e.mu.Unlock()
		e.logger.Error("fill for terminal order dropped",
			slog.String("client_order_id", clientID))
		return
	}

	prevNotional := st.order.AvgFillPrice * st.order.FilledSize
	st.order.FilledSize += fill.Size
	st.order.AvgFillPrice = (prevNotional + fill.Price*fill.Size) / st.order.FilledSize

	next := domain.OrderStatePartiallyFilled
	if st.order.FilledSize >= st.order.Size-1e-9 {
		next = domain.OrderStateFilled
	}
	if st.order.State.CanTransition(next) {
		st.order.State = next
	}
	st.order.UpdatedAt = fill.Timestamp
	order := st.order
	parentID := st.order.ParentID
	e.mu.Unlock()

	// Fills roll up to the TWAP parent for risk accounting: the parent
	// holds the reservation.
	riskFill := fill
	riskFill.ClientOrderID = clientID
	if parentID != "" {
		riskFill.ClientOrderID = parentID
	}
	e.eventBus.Publish(domain.TopicFills, domain.NewEvent(domain.EventTypeFill, riskFill))
	e.publishOrderUpdate(order)
	e.persistOrder(order, false)
	e.persistFill(fill)

	e.logger.Info("fill received",
		slog.String("client_order_id", clientID),
		slog.Float64("price", fill.Price),
		slog.Float64("size", fill.Size),
		slog.String("state", string(order.State)),
	)

	if order.State.Terminal() {
		e.finish(clientID, order)
	}
}

func (e *Engine) applyTerminal(clientID string, state domain.OrderState, reason string) {
	e.mu.Lock()
	st, ok := e.live[clientID]
	if !ok {
		e.mu.Unlock()
		return
	}
	// The fill always wins over a racing cancel: a filled order stays
	// filled and the cancel becomes a no-op.
	if st.order.State.Terminal() || !st.order.State.CanTransition(state) {
		e.mu.Unlock()
		return
	}
	st.order.State = state
	st.order.RejectReason = reason
	st.order.UpdatedAt = time.Now().UTC()
	order := st.order
	e.mu.Unlock()

	e.publishOrderUpdate(order)
	e.persistOrder(order, false)
	e.finish(clientID, order)
}

// failOrder marks an order rejected before or during submission and
// surfaces the terminal update so reservations release.
func (e *Engine) failOrder(ctx context.Context, order domain.Order, cause error) {
	e.mu.Lock()
	if st, ok := e.live[order.ClientOrderID]; ok {
		order = st.order
	}
	if order.State.CanTransition(domain.OrderStateRejected) {
		order.State = domain.OrderStateRejected
	}
	order.RejectReason = cause.Error()
	order.UpdatedAt = time.Now().UTC()
	if st, ok := e.live[order.ClientOrderID]; ok {
		st.order = order
	}
	e.mu.Unlock()

	e.logger.Warn("order failed",
		slog.String("client_order_id", order.ClientOrderID),
		slog.String("symbol", order.Symbol),
		slog.String("error", cause.Error()),
		slog.Bool("transient", domain.IsTransientExec(cause)),
	)
	e.publishOrderUpdate(order)
	e.persistOrder(order, false)
	e.finish(order.ClientOrderID, order)
}

// finish retires a terminal order from the live table and rolls TWAP
// children up to their parent.
func (e *Engine) finish(clientID string, order domain.Order) {
	e.mu.Lock()
	delete(e.live, clientID)
	if order.VenueOrderID != "" {
		delete(e.byVenue, order.VenueOrderID)
	}

	var parentDone *domain.Order
	if order.ParentID != "" {
		if parent, ok := e.live[order.ParentID]; ok {
			parent.order.FilledSize += order.FilledSize
			parent.openChildren--
			if parent.openChildren <= 0 {
				state := domain.OrderStateFilled
				if parent.order.FilledSize < parent.order.Size-1e-9 {
					state = domain.OrderStateCancelled
				}
				if parent.order.State.CanTransition(state) {
					parent.order.State = state
				}
				parent.order.UpdatedAt = time.Now().UTC()
				done := parent.order
				parentDone = &done
				delete(e.live, order.ParentID)
			}
		}
	}
	e.mu.Unlock()

	if parentDone != nil {
		e.publishOrderUpdate(*parentDone)
		e.persistOrder(*parentDone, false)
	}
}

func (e *Engine) publishOrderUpdate(order domain.Order) {
	e.eventBus.Publish(domain.TopicOrders, domain.NewEvent(domain.EventTypeOrderUpdate, order))
}

func (e *Engine) persistOrder(order domain.Order, create bool) {
	if e.orderStore == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var err error
		if create {
			err = e.orderStore.Create(ctx, order)
		} else {
			err = e.orderStore.Update(ctx, order)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Warn("order persist failed",
				slog.String("client_order_id", order.ClientOrderID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (e *Engine) persistFill(fill domain.Fill) {
	if e.fillStore == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.fillStore.Create(ctx, fill); err != nil {
			e.logger.Warn("fill persist failed",
				slog.String("client_order_id", fill.ClientOrderID),
				slog.String("error", err.Error()),
			)
		}
	}()
}
