// Package risk owns pre-trade admission, position and P&L tracking, and the
// circuit breaker. All mutable state is confined to a single owning goroutine
// reachable only through commands, so concurrent approvals can never evaluate
// a stale snapshot: every check-and-reserve runs to completion before the
// next candidate is looked at.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/SamoraDC/tradebot/internal/bus"
	"github.com/SamoraDC/tradebot/internal/domain"
)

// Config holds the risk limits enforced by the pre-trade check chain.
type Config struct {
	MaxOrderSize        float64
	MaxPositionSize     float64
	MaxNotionalExposure float64
	MaxOpenPositions    int
	Breaker             BreakerConfig
	DailyResetHourUTC   int
}

// MarkSource supplies the current mark price per symbol. Stale books must
// not report a price.
type MarkSource interface {
	MidPrice(symbol string) (float64, bool)
}

// reservation is a slice of a mutable limit held for one in-flight order.
// It is taken atomically at approval and released on rejection, cancel, or
// fill completion; fills shrink it as they convert exposure into position.
type reservation struct {
	symbol   string
	side     domain.OrderSide
	size     float64
	notional float64
	newSlot  bool // counted against max open positions
}

// Snapshot is an eventually-consistent view of the risk state for telemetry.
type Snapshot struct {
	Positions     []domain.Position
	Daily         domain.DailyRiskState
	BreakerOpen   bool
	BreakerReason string
	Exposure      float64
	UnrealizedPnL float64
	OpenOrders    int
}

// Manager is the risk manager. Construct with NewManager, start Run in its
// own goroutine, and interact through the exported methods.
type Manager struct {
	cfg      Config
	marks    MarkSource
	eventBus *bus.Bus
	approved chan<- domain.Order
	store    domain.PositionStore // optional
	logger   *slog.Logger
	now      func() time.Time

	// Owned by the Run goroutine.
	positions    map[string]*domain.Position
	reservations map[string]*reservation
	daily        domain.DailyRiskState
	breaker      *Breaker
	cooldown     *time.Timer

	cmdCh chan func()
}

// NewManager creates a Manager that reads signals and fills from eventBus
// and emits approved orders on approved. store may be nil.
func NewManager(
	cfg Config,
	marks MarkSource,
	eventBus *bus.Bus,
	approved chan<- domain.Order,
	store domain.PositionStore,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		cfg:          cfg,
		marks:        marks,
		eventBus:     eventBus,
		approved:     approved,
		store:        store,
		logger:       logger.With(slog.String("component", "risk")),
		now:          func() time.Time { return time.Now().UTC() },
		positions:    make(map[string]*domain.Position),
		reservations: make(map[string]*reservation),
		breaker:      NewBreaker(cfg.Breaker),
		cmdCh:        make(chan func()),
	}
}

// Run is the single-writer loop. It consumes signals, fills, and terminal
// order updates from the bus, serves commands, and resets the daily counters
// at the configured boundary. It returns when ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.recover(ctx); err != nil {
		return fmt.Errorf("risk: recover positions: %w", err)
	}
	m.daily.ResetAt = m.lastBoundary(m.now())

	signals, cancelSignals := m.eventBus.Subscribe(domain.TopicSignals, 256)
	defer cancelSignals()
	fills, cancelFills := m.eventBus.Subscribe(domain.TopicFills, 256)
	defer cancelFills()
	orders, cancelOrders := m.eventBus.Subscribe(domain.TopicOrders, 256)
	defer cancelOrders()

	resetTimer := time.NewTimer(m.untilNextBoundary(m.now()))
	defer resetTimer.Stop()

	// Armed on trip when a cooldown is configured; idle otherwise.
	m.cooldown = time.NewTimer(time.Hour)
	m.cooldown.Stop()
	defer m.cooldown.Stop()

	m.logger.Info("risk manager started")
	defer m.logger.Info("risk manager stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case cmd := <-m.cmdCh:
			cmd()

		case ev, ok := <-signals:
			if !ok {
				return nil
			}
			sig, valid := ev.Payload.(domain.TradeSignal)
			if !valid {
				continue
			}
			m.handleSignal(ctx, sig)

		case ev, ok := <-fills:
			if !ok {
				return nil
			}
			if fill, valid := ev.Payload.(domain.Fill); valid {
				m.handleFill(fill)
			}

		case ev, ok := <-orders:
			if !ok {
				return nil
			}
			if order, valid := ev.Payload.(domain.Order); valid && order.State.Terminal() {
				m.releaseReservation(order.ClientOrderID)
			}

		case <-resetTimer.C:
			boundary := m.lastBoundary(m.now())
			m.logger.Info("daily risk state reset", slog.Time("boundary", boundary))
			m.daily.Reset(boundary)
			resetTimer.Reset(m.untilNextBoundary(m.now()))

		case <-m.cooldown.C:
			// A manual reset may already have closed the breaker.
			if m.breaker.Open() {
				m.breaker.Reset()
				m.publishBreaker(false, "cooldown elapsed")
				m.logger.Warn("circuit breaker closed after cooldown")
			}
		}
	}
}

// Approve runs the pre-trade pipeline for a signal and, on success, reserves
// limit capacity and returns the created order. It is safe to call from any
// goroutine; the decision itself runs on the owning loop.
func (m *Manager) Approve(ctx context.Context, sig domain.TradeSignal) (domain.Order, error) {
	type result struct {
		order domain.Order
		err   error
	}
	reply := make(chan result, 1)

	cmd := func() {
		order, err := m.approve(sig)
		reply <- result{order: order, err: err}
	}

	select {
	case m.cmdCh <- cmd:
	case <-ctx.Done():
		return domain.Order{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.order, res.err
	case <-ctx.Done():
		return domain.Order{}, ctx.Err()
	}
}

// ResetBreaker is the manual breaker reset. It also clears the loss
// counters so the breaker does not re-trip on the next observation.
func (m *Manager) ResetBreaker(ctx context.Context) error {
	done := make(chan struct{})
	cmd := func() {
		m.stopCooldown()
		m.breaker.Reset()
		m.daily.Reset(m.lastBoundary(m.now()))
		m.publishBreaker(false, "manual reset")
		m.logger.Warn("circuit breaker manually reset")
		close(done)
	}
	select {
	case m.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the current risk state.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	cmd := func() { reply <- m.snapshot() }

	select {
	case m.cmdCh <- cmd:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// --- loop-confined internals ---

func (m *Manager) handleSignal(ctx context.Context, sig domain.TradeSignal) {
	order, err := m.approve(sig)
	if err != nil {
		if rej, ok := domain.AsRiskRejection(err); ok {
			m.logger.Warn("signal rejected",
				slog.String("signal_id", sig.ID),
				slog.String("symbol", sig.Symbol),
				slog.String("reason", string(rej.Reason)),
				slog.String("detail", rej.Detail),
			)
		} else {
			m.logger.Warn("signal not approvable",
				slog.String("signal_id", sig.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	// Approvals are forwarded in decision order; the executor consumes them
	// in the same order.
	select {
	case m.approved <- order:
		m.logger.Info("order approved",
			slog.String("client_order_id", order.ClientOrderID),
			slog.String("symbol", order.Symbol),
			slog.String("side", string(order.Side)),
			slog.Float64("size", order.Size),
		)
	case <-ctx.Done():
	}
}

func (m *Manager) approve(sig domain.TradeSignal) (domain.Order, error) {
	now := m.now()

	if sig.Symbol == "" || sig.SizeHint <= 0 || (sig.Direction != domain.OrderSideBuy && sig.Direction != domain.OrderSideSell) {
		return domain.Order{}, &domain.RiskRejection{Reason: domain.RejectInvalidSignal, Detail: "missing symbol, size, or direction"}
	}
	if sig.Expired(now) {
		return domain.Order{}, &domain.RiskRejection{Reason: domain.RejectSignalExpired, Detail: "signal expired before approval"}
	}

	order := domain.Order{
		ClientOrderID: uuid.New().String(),
		Symbol:        sig.Symbol,
		Side:          sig.Direction,
		Type:          sig.OrderType(),
		Size:          sig.SizeHint,
		LimitPrice:    sig.LimitPrice,
		State:         domain.OrderStateCreated,
		ReduceOnly:    sig.ReduceOnly,
		SignalID:      sig.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	mark, ok := m.marks.MidPrice(order.Symbol)
	if !ok {
		if order.Type == domain.OrderTypeMarket {
			return domain.Order{}, &domain.RiskRejection{Reason: domain.RejectInvalidSignal, Detail: "no fresh mark price for symbol"}
		}
		mark = order.LimitPrice
	}

	in := checkInput{
		cfg:           m.cfg,
		order:         order,
		mark:          mark,
		notional:      order.Notional(mark),
		daily:         m.daily,
		breakerOpen:   m.breaker.Open(),
		openPositions: m.openPositionCount(),
		totalExposure: m.totalExposure(),
	}
	if pos := m.positions[order.Symbol]; pos != nil {
		in.position = *pos
	} else {
		in.position = domain.Position{Symbol: order.Symbol}
	}
	for _, res := range m.reservations {
		if res.symbol == order.Symbol && res.side == order.Side {
			in.reservedSize += res.size
		}
	}

	if rej := runChecks(in); rej != nil {
		return domain.Order{}, rej
	}

	// Check passed: reserve the order's share of every mutable limit in the
	// same step, before the next candidate is evaluated.
	m.reservations[order.ClientOrderID] = &reservation{
		symbol:   order.Symbol,
		side:     order.Side,
		size:     order.Size,
		notional: in.notional,
		newSlot:  in.position.Flat() && in.reservedSize == 0,
	}
	return order, nil
}

func (m *Manager) handleFill(fill domain.Fill) {
	pos := m.positions[fill.Symbol]
	if pos == nil {
		pos = &domain.Position{Symbol: fill.Symbol}
		m.positions[fill.Symbol] = pos
	}

	realized := applyFill(pos, fill)
	m.daily.RecordRealized(realized)

	// The filled portion is real exposure now; shrink the reservation so the
	// two are not double counted.
	if res := m.reservations[fill.ClientOrderID]; res != nil {
		res.size = math.Max(0, res.size-fill.Size)
		res.notional = math.Max(0, res.notional-fill.Size*fill.Price)
		if res.size == 0 {
			delete(m.reservations, fill.ClientOrderID)
		}
	}

	m.logger.Info("fill applied",
		slog.String("symbol", fill.Symbol),
		slog.String("side", string(fill.Side)),
		slog.Float64("price", fill.Price),
		slog.Float64("size", fill.Size),
		slog.Float64("realized_pnl", realized),
		slog.Float64("position", pos.Quantity),
	)

	if m.breaker.Observe(m.daily, m.now()) {
		m.logger.Error("circuit breaker tripped", slog.String("reason", m.breaker.Reason()))
		m.publishBreaker(true, m.breaker.Reason())
		if d := m.cfg.Breaker.Cooldown; d > 0 {
			m.stopCooldown()
			m.cooldown.Reset(d)
		}
	}

	m.persist(*pos)
}

func (m *Manager) releaseReservation(clientOrderID string) {
	if _, ok := m.reservations[clientOrderID]; ok {
		delete(m.reservations, clientOrderID)
	}
}

// stopCooldown stops the cooldown timer and drains a fire that already
// landed, so a later Reset arms a clean timer. Run on the owning loop only.
func (m *Manager) stopCooldown() {
	if !m.cooldown.Stop() {
		select {
		case <-m.cooldown.C:
		default:
		}
	}
}

func (m *Manager) publishBreaker(open bool, reason string) {
	m.eventBus.Publish(domain.TopicRisk, domain.NewEvent(domain.EventTypeBreaker, domain.BreakerUpdate{
		Open:      open,
		Reason:    reason,
		TrippedAt: m.breaker.TrippedAt(),
	}))
}

func (m *Manager) openPositionCount() int {
	count := 0
	for _, p := range m.positions {
		if !p.Flat() {
			count++
		}
	}
	for _, res := range m.reservations {
		if res.newSlot {
			count++
		}
	}
	return count
}

func (m *Manager) totalExposure() float64 {
	var total float64
	for sym, p := range m.positions {
		if p.Flat() {
			continue
		}
		mark, ok := m.marks.MidPrice(sym)
		if !ok {
			mark = p.AvgEntryPrice
		}
		total += p.Notional(mark)
	}
	for _, res := range m.reservations {
		total += res.notional
	}
	return total
}

func (m *Manager) snapshot() Snapshot {
	snap := Snapshot{
		Daily:         m.daily,
		BreakerOpen:   m.breaker.Open(),
		BreakerReason: m.breaker.Reason(),
		Exposure:      m.totalExposure(),
		OpenOrders:    len(m.reservations),
	}
	for sym, p := range m.positions {
		snap.Positions = append(snap.Positions, *p)
		if mark, ok := m.marks.MidPrice(sym); ok {
			snap.UnrealizedPnL += p.UnrealizedPnL(mark)
		}
	}
	return snap
}

// persist writes the position snapshot off the hot loop; state recovery
// tolerates a momentarily behind store.
func (m *Manager) persist(p domain.Position) {
	if m.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.store.Upsert(ctx, p); err != nil {
			m.logger.Warn("position persist failed",
				slog.String("symbol", p.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (m *Manager) recover(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	positions, err := m.store.List(ctx)
	if err != nil {
		return err
	}
	for _, p := range positions {
		pos := p
		m.positions[p.Symbol] = &pos
	}
	if len(positions) > 0 {
		m.logger.Info("recovered positions from store", slog.Int("count", len(positions)))
	}
	return nil
}

func (m *Manager) lastBoundary(now time.Time) time.Time {
	b := time.Date(now.Year(), now.Month(), now.Day(), m.cfg.DailyResetHourUTC, 0, 0, 0, time.UTC)
	if b.After(now) {
		b = b.AddDate(0, 0, -1)
	}
	return b
}

func (m *Manager) untilNextBoundary(now time.Time) time.Duration {
	return m.lastBoundary(now).AddDate(0, 0, 1).Sub(now)
}
