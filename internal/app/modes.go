package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SamoraDC/tradebot/internal/bars"
	"github.com/SamoraDC/tradebot/internal/book"
	"github.com/SamoraDC/tradebot/internal/bus"
	"github.com/SamoraDC/tradebot/internal/crypto"
	"github.com/SamoraDC/tradebot/internal/domain"
	"github.com/SamoraDC/tradebot/internal/executor"
	"github.com/SamoraDC/tradebot/internal/feed"
	"github.com/SamoraDC/tradebot/internal/notify"
	"github.com/SamoraDC/tradebot/internal/platform/paper"
	"github.com/SamoraDC/tradebot/internal/platform/wsfeed"
	"github.com/SamoraDC/tradebot/internal/risk"
	"github.com/SamoraDC/tradebot/internal/server"
	"github.com/SamoraDC/tradebot/internal/server/handler"
	"github.com/SamoraDC/tradebot/internal/server/ws"
	"github.com/SamoraDC/tradebot/internal/service"
)

const shutdownTimeout = 10 * time.Second

// TradeMode runs the engine against the live market-data feed. Order
// execution is simulated against the live books until a venue order-entry
// session is wired in.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.Info("starting trade mode",
		slog.String("feed_url", a.cfg.Feed.URL),
		slog.Any("symbols", a.cfg.Feed.Symbols),
	)
	market := wsfeed.New(wsfeed.Config{
		URL: a.cfg.Feed.URL,
		Credentials: crypto.APICredentials{
			Key:    a.cfg.Feed.APIKey,
			Secret: a.cfg.Feed.APISecret,
		},
	}, a.logger)
	return a.runEngine(ctx, deps, market)
}

// PaperMode runs the engine end to end against the random-walk simulator.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.Info("starting paper mode", slog.Any("symbols", a.cfg.Feed.Symbols))
	market := paper.NewMarketSim(paper.SimConfig{
		Symbols:    a.cfg.Feed.Symbols,
		StartPrice: a.cfg.Paper.StartPrice,
		StepPct:    a.cfg.Paper.StepPct,
		Interval:   a.cfg.Paper.Interval.Duration,
		Seed:       a.cfg.Paper.Seed,
	})
	return a.runEngine(ctx, deps, market)
}

// runEngine assembles the pipeline shared by both modes and supervises it
// until ctx is cancelled or a component fails.
func (a *App) runEngine(
	ctx context.Context,
	deps *Dependencies,
	market domain.MarketDataAdapter,
) error {
	cfg := a.cfg
	eventBus := bus.New(a.logger)
	defer eventBus.Close()

	books := book.NewRegistry()
	barAgg := bars.NewAggregator(cfg.BarTimeframes(), func(bar domain.Bar) {
		eventBus.Publish(domain.TopicMarketData, domain.NewEvent(domain.EventTypeBarClose, bar))
	}, a.logger)

	marketFeed := feed.New(market, books, barAgg, eventBus, feed.Config{
		Symbols:          cfg.Feed.Symbols,
		HeartbeatTimeout: cfg.Feed.HeartbeatTimeout.Duration,
		ReconnectDelay:   cfg.Feed.ReconnectDelay.Duration,
	}, a.logger)

	approved := make(chan domain.Order, 64)
	riskMgr := risk.NewManager(risk.Config{
		MaxOrderSize:        cfg.Risk.MaxOrderSize,
		MaxPositionSize:     cfg.Risk.MaxPositionSize,
		MaxNotionalExposure: cfg.Risk.MaxNotionalExposure,
		MaxOpenPositions:    cfg.Risk.MaxOpenPositions,
		Breaker: risk.BreakerConfig{
			DailyLossLimit:       cfg.Risk.DailyLossLimit,
			MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
			MaxDrawdown:          cfg.Risk.MaxDrawdown,
			Cooldown:             cfg.Risk.BreakerCooldown.Duration,
		},
		DailyResetHourUTC: cfg.Risk.DailyResetHourUTC,
	}, books, eventBus, approved, deps.PositionStore, a.logger)

	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = executor.NewTokenBucket(cfg.Executor.RateLimit, cfg.Executor.RateWindow.Duration)
	}

	estimator, err := executor.NewEstimator(executor.SlippageConfig{
		BaseSlippageBps:      cfg.Executor.Slippage.BaseSlippageBps,
		VolatilityMultiplier: cfg.Executor.Slippage.VolatilityMultiplier,
		SpreadCaptureBps:     cfg.Executor.Slippage.SpreadCaptureBps,
		QueuePositionRiskBps: cfg.Executor.Slippage.QueuePositionRiskBps,
		AdverseSelectionBps:  cfg.Executor.Slippage.AdverseSelectionBps,
		AvgDailyVolume:       cfg.Executor.Slippage.AvgDailyVolume,
	}, books)
	if err != nil {
		return fmt.Errorf("app: slippage estimator: %w", err)
	}

	venue := paper.NewExchange(books, paper.ExecConfig{
		TransientFailEvery: cfg.Paper.TransientFailEvery,
		FeeBps:             cfg.Paper.FeeBps,
	}, a.logger)

	engine := executor.NewEngine(approved, venue, limiter, books, estimator,
		executor.RetryPolicy{
			BaseDelay:   cfg.Executor.Retry.BaseDelay.Duration,
			Multiplier:  cfg.Executor.Retry.Multiplier,
			MaxDelay:    cfg.Executor.Retry.MaxDelay.Duration,
			MaxAttempts: cfg.Executor.Retry.MaxAttempts,
			JitterPct:   cfg.Executor.Retry.JitterPct,
		},
		executor.Config{
			MaxSlippageBps: cfg.Executor.MaxSlippageBps,
			TwapMinSize:    cfg.Executor.TwapMinSize,
			TwapWindow:     cfg.Executor.TwapWindow.Duration,
			TwapSlices:     cfg.Executor.TwapSlices,
			RateKey:        "venue:orders",
			DedupTTL:       cfg.Executor.DedupTTL.Duration,
		},
		eventBus, deps.OrderStore, deps.FillStore, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	if senders := a.alertSenders(); len(senders) > 0 {
		alerter := notify.NewAlerter(senders, eventBus, a.logger)
		g.Go(func() error { return alerter.Run(ctx) })
	}

	g.Go(func() error { return marketFeed.Run(ctx) })
	g.Go(func() error { return riskMgr.Run(ctx) })
	g.Go(func() error { return engine.Run(ctx) })

	// Redis-backed components are optional; without them the engine still
	// runs but nothing leaves the process.
	var priceSvc *service.PriceService
	if deps.SignalBus != nil {
		priceSvc = service.NewPriceService(deps.PriceCache, deps.BookCache, deps.SignalBus, books, eventBus, a.logger)
		g.Go(func() error { return priceSvc.Run(ctx) })

		feeder := feed.NewSignalFeeder(deps.SignalBus, eventBus, a.logger)
		g.Go(func() error { return feeder.Run(ctx) })
	}

	if cfg.Server.Enabled {
		var hub *ws.Hub
		if deps.SignalBus != nil {
			hub = ws.NewHub(deps.SignalBus, a.logger)
			g.Go(func() error { return hub.Run(ctx) })
		}

		var prices handler.PriceReader
		if priceSvc != nil {
			prices = priceSvc
		}
		srv := server.New(server.Config{
			Port:        cfg.Server.Port,
			CORSOrigins: cfg.Server.CORSOrigins,
			APIKey:      cfg.Server.APIKey,
		}, server.Handlers{
			Health: handler.NewHealthHandler(cfg.Mode, a.logger),
			Risk:   handler.NewRiskHandler(riskMgr, a.logger),
			Orders: handler.NewOrderHandler(engine, eventBus, a.logger),
			Market: handler.NewMarketHandler(prices, books, barAgg, a.logger),
		}, hub, deps.APILimiter, a.logger)

		g.Go(func() error { return srv.Start() })
		g.Go(func() error {
			<-ctx.Done()
			shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shCtx)
		})
	}

	return g.Wait()
}

// alertSenders builds the configured alert channels, if any.
func (a *App) alertSenders() []notify.Sender {
	var senders []notify.Sender
	if url := a.cfg.Notify.DiscordWebhookURL; url != "" {
		senders = append(senders, notify.NewDiscordSender(url))
	}
	if tok := a.cfg.Notify.TelegramBotToken; tok != "" {
		senders = append(senders, notify.NewTelegramSender(tok, a.cfg.Notify.TelegramChatID))
	}
	return senders
}
