package paper

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/SamoraDC/tradebot/internal/domain"
)

// SimConfig tunes the random-walk market generator.
type SimConfig struct {
	Symbols    []string
	StartPrice float64
	StepPct    float64 // per-tick price step as a fraction, e.g. 0.0005
	Interval   time.Duration
	Seed       int64
}

// MarketSim is a market-data adapter producing a random-walk stream of
// quotes and trades with per-symbol sequence numbers, for paper mode.
type MarketSim struct {
	cfg SimConfig

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
	seq    map[string]uint64
	tick   int
}

// NewMarketSim creates the generator.
func NewMarketSim(cfg SimConfig) *MarketSim {
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 100
	}
	if cfg.StepPct <= 0 {
		cfg.StepPct = 0.0005
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	s := &MarketSim{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		prices: make(map[string]float64),
		seq:    make(map[string]uint64),
	}
	for _, sym := range cfg.Symbols {
		s.prices[sym] = cfg.StartPrice
	}
	return s
}

func (s *MarketSim) Connect(ctx context.Context) error      { return nil }
func (s *MarketSim) Authenticate(ctx context.Context) error { return nil }

func (s *MarketSim) Subscribe(ctx context.Context, symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		if _, ok := s.prices[sym]; !ok {
			s.prices[sym] = s.cfg.StartPrice
		}
	}
	return nil
}

// Next produces the next synthetic event: a rotation of bid quote, ask
// quote, and trade per symbol, walking the price randomly.
func (s *MarketSim) Next(ctx context.Context) (domain.MarketEvent, error) {
	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return domain.MarketEvent{}, &domain.TransportError{Op: "read", Err: ctx.Err()}
	case <-timer.C:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.prices) == 0 {
		return domain.MarketEvent{}, &domain.ProtocolError{Reason: "no symbols subscribed"}
	}

	symbols := make([]string, 0, len(s.prices))
	for sym := range s.prices {
		symbols = append(symbols, sym)
	}
	sym := symbols[s.rng.Intn(len(symbols))]

	// Random walk: step up or down by StepPct.
	px := s.prices[sym]
	px *= 1 + s.cfg.StepPct*(s.rng.Float64()*2-1)
	s.prices[sym] = px

	s.seq[sym]++
	s.tick++
	now := time.Now().UTC()

	half := px * s.cfg.StepPct
	switch s.tick % 3 {
	case 0:
		return domain.MarketEvent{
			Symbol: sym, Kind: domain.MarketKindTrade,
			Price: px, Size: 1 + s.rng.Float64()*10,
			Seq: s.seq[sym], Timestamp: now,
		}, nil
	case 1:
		return domain.MarketEvent{
			Symbol: sym, Kind: domain.MarketKindQuote,
			Price: px - half, Size: 5 + s.rng.Float64()*50,
			Side: domain.BookSideBid,
			Seq:  s.seq[sym], Timestamp: now,
		}, nil
	default:
		return domain.MarketEvent{
			Symbol: sym, Kind: domain.MarketKindQuote,
			Price: px + half, Size: 5 + s.rng.Float64()*50,
			Side: domain.BookSideAsk,
			Seq:  s.seq[sym], Timestamp: now,
		}, nil
	}
}

// Snapshot builds a synthetic five-level book around the current price.
func (s *MarketSim) Snapshot(ctx context.Context, symbol string) (domain.BookSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	px, ok := s.prices[symbol]
	if !ok {
		return domain.BookSnapshot{}, domain.ErrUnknownSymbol
	}

	snap := domain.BookSnapshot{
		Symbol:    symbol,
		Seq:       s.seq[symbol],
		Timestamp: time.Now().UTC(),
	}
	step := px * s.cfg.StepPct
	for i := 1; i <= 5; i++ {
		snap.Bids = append(snap.Bids, domain.PriceLevel{Price: px - step*float64(i), Size: 10 * float64(i)})
		snap.Asks = append(snap.Asks, domain.PriceLevel{Price: px + step*float64(i), Size: 10 * float64(i)})
	}
	return snap, nil
}

func (s *MarketSim) Close() error { return nil }

// Compile-time interface check.
var _ domain.MarketDataAdapter = (*MarketSim)(nil)
