// Package server exposes the operational HTTP and WebSocket API: health,
// risk state, positions, live orders, prices, books, and manual signal entry.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/SamoraDC/tradebot/internal/domain"
	"github.com/SamoraDC/tradebot/internal/server/handler"
	"github.com/SamoraDC/tradebot/internal/server/middleware"
	"github.com/SamoraDC/tradebot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers the server registers.
type Handlers struct {
	Health *handler.HealthHandler
	Risk   *handler.RiskHandler
	Orders *handler.OrderHandler
	Market *handler.MarketHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with all routes registered. limiter is optional; when
// set, admission control applies to every route.
func New(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", handlers.Health.HealthCheck).Methods(http.MethodGet)

	api.HandleFunc("/risk", handlers.Risk.GetRisk).Methods(http.MethodGet)
	api.HandleFunc("/risk/breaker/reset", handlers.Risk.ResetBreaker).Methods(http.MethodPost)
	api.HandleFunc("/positions", handlers.Risk.ListPositions).Methods(http.MethodGet)

	api.HandleFunc("/orders", handlers.Orders.ListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", handlers.Orders.CancelOrder).Methods(http.MethodDelete)
	api.HandleFunc("/signals", handlers.Orders.PlaceSignal).Methods(http.MethodPost)

	api.HandleFunc("/prices", handlers.Market.GetPrices).Methods(http.MethodGet)
	api.HandleFunc("/book/{symbol}", handlers.Market.GetBook).Methods(http.MethodGet)
	api.HandleFunc("/bars/{symbol}", handlers.Market.GetBar).Methods(http.MethodGet)

	if wsHub != nil {
		r.HandleFunc("/ws", wsHub.HandleWS).Methods(http.MethodGet)
	}

	var h http.Handler = r
	if limiter != nil {
		h = middleware.RateLimit(limiter)(h)
	}
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// corsMiddleware sets CORS headers for the allowed origins. No configured
// origins means allow all.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}
				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
