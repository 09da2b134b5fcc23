package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SamoraDC/tradebot/internal/book"
	"github.com/SamoraDC/tradebot/internal/bus"
	"github.com/SamoraDC/tradebot/internal/domain"
	"github.com/SamoraDC/tradebot/internal/risk"
	"github.com/SamoraDC/tradebot/internal/server/handler"
)

type fakeRisk struct {
	snap       risk.Snapshot
	resetCalls int
}

func (f *fakeRisk) Snapshot(context.Context) (risk.Snapshot, error) { return f.snap, nil }
func (f *fakeRisk) ResetBreaker(context.Context) error {
	f.resetCalls++
	return nil
}

type fakeEngine struct {
	orders    []domain.Order
	cancelled []string
}

func (f *fakeEngine) Orders() []domain.Order { return f.orders }
func (f *fakeEngine) Cancel(_ context.Context, id string) error {
	for _, o := range f.orders {
		if o.ClientOrderID == id {
			f.cancelled = append(f.cancelled, id)
			return nil
		}
	}
	return domain.ErrNotFound
}

type fakePrices struct {
	prices map[string]float64
}

func (f *fakePrices) GetPrice(_ context.Context, symbol string) (float64, time.Time, error) {
	p, ok := f.prices[symbol]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, time.Now(), nil
}

func (f *fakePrices) GetPrices(_ context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, s := range symbols {
		if p, ok := f.prices[s]; ok {
			out[s] = p
		}
	}
	return out, nil
}

type fakeBars struct {
	bar domain.Bar
}

func (f *fakeBars) Current(symbol string, timeframe time.Duration) (domain.Bar, bool) {
	if symbol != f.bar.Symbol || timeframe != f.bar.Timeframe {
		return domain.Bar{}, false
	}
	return f.bar, true
}

func (f *fakeBars) VWAP(string) (float64, bool) { return 100.5, true }

type testServer struct {
	http    *httptest.Server
	risk    *fakeRisk
	engine  *fakeEngine
	bus     *bus.Bus
	signals <-chan domain.Event
}

func newTestServer(t *testing.T, apiKey string) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	riskSvc := &fakeRisk{snap: risk.Snapshot{
		BreakerOpen:   true,
		BreakerReason: "daily_loss_limit",
		Exposure:      1500,
		Positions: []domain.Position{
			{Symbol: "BTC-USD", Quantity: 2, AvgEntryPrice: 43000, UpdatedAt: time.Now()},
		},
	}}
	engine := &fakeEngine{orders: []domain.Order{
		{ClientOrderID: "ord-1", Symbol: "BTC-USD", Side: domain.OrderSideBuy,
			Type: domain.OrderTypeLimit, Size: 1, LimitPrice: 42000,
			State: domain.OrderStateAcknowledged, CreatedAt: time.Now()},
	}}

	books := book.NewRegistry()
	b := books.Subscribe("BTC-USD")
	now := time.Now()
	b.Update(domain.BookSideBid, 42990, 1, now)
	b.Update(domain.BookSideAsk, 43010, 2, now)

	eventBus := bus.New(logger)
	signals, cancelSignals := eventBus.Subscribe(domain.TopicSignals, 16)
	t.Cleanup(cancelSignals)

	bars := &fakeBars{bar: domain.Bar{
		Symbol: "BTC-USD", Timeframe: time.Minute,
		Open: 43000, High: 43050, Low: 42950, Close: 43010, Volume: 12,
		WindowStart: now.Truncate(time.Minute),
	}}

	srv := New(Config{APIKey: apiKey}, Handlers{
		Health: handler.NewHealthHandler("paper", logger),
		Risk:   handler.NewRiskHandler(riskSvc, logger),
		Orders: handler.NewOrderHandler(engine, eventBus, logger),
		Market: handler.NewMarketHandler(&fakePrices{prices: map[string]float64{"BTC-USD": 43005}}, books, bars, logger),
	}, nil, nil, logger)

	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)

	return &testServer{http: ts, risk: riskSvc, engine: engine, bus: eventBus, signals: signals}
}

func getJSON(t *testing.T, ts *testServer, path string, out any) *http.Response {
	t.Helper()
	resp, err := ts.http.Client().Get(ts.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, "")

	var body map[string]any
	resp := getJSON(t, ts, "/api/health", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "paper", body["mode"])
}

func TestRiskSnapshotEndpoint(t *testing.T) {
	ts := newTestServer(t, "")

	var body map[string]any
	resp := getJSON(t, ts, "/api/risk", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["breaker_open"])
	require.Equal(t, "daily_loss_limit", body["breaker_reason"])
	require.InDelta(t, 1500, body["exposure"], 1e-9)
}

func TestBreakerResetEndpoint(t *testing.T) {
	ts := newTestServer(t, "")

	resp, err := ts.http.Client().Post(ts.http.URL+"/api/risk/breaker/reset", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, ts.risk.resetCalls)
}

func TestListPositionsEndpoint(t *testing.T) {
	ts := newTestServer(t, "")

	var body struct {
		Positions []map[string]any `json:"positions"`
	}
	resp := getJSON(t, ts, "/api/positions", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Positions, 1)
	require.Equal(t, "BTC-USD", body.Positions[0]["symbol"])
}

func TestListAndCancelOrders(t *testing.T) {
	ts := newTestServer(t, "")

	var body struct {
		Orders []map[string]any `json:"orders"`
	}
	resp := getJSON(t, ts, "/api/orders", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Orders, 1)
	require.Equal(t, "ord-1", body.Orders[0]["client_order_id"])

	req, err := http.NewRequest(http.MethodDelete, ts.http.URL+"/api/orders/ord-1", nil)
	require.NoError(t, err)
	dresp, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	dresp.Body.Close()
	require.Equal(t, http.StatusAccepted, dresp.StatusCode)
	require.Equal(t, []string{"ord-1"}, ts.engine.cancelled)

	req, err = http.NewRequest(http.MethodDelete, ts.http.URL+"/api/orders/missing", nil)
	require.NoError(t, err)
	dresp, err = ts.http.Client().Do(req)
	require.NoError(t, err)
	dresp.Body.Close()
	require.Equal(t, http.StatusNotFound, dresp.StatusCode)
}

func TestPlaceSignalPublishesToBus(t *testing.T) {
	ts := newTestServer(t, "")

	payload := `{"symbol":"BTC-USD","direction":"buy","size_hint":2,"limit_price":42500}`
	resp, err := ts.http.Client().Post(ts.http.URL+"/api/signals", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, body["signal_id"])

	select {
	case ev := <-ts.signals:
		sig, ok := ev.Payload.(domain.TradeSignal)
		require.True(t, ok)
		require.Equal(t, body["signal_id"], sig.ID)
		require.Equal(t, "api", sig.Source)
		require.Equal(t, domain.OrderSideBuy, sig.Direction)
		require.Equal(t, 2.0, sig.SizeHint)
	case <-time.After(time.Second):
		t.Fatal("no signal published")
	}
}

func TestPlaceSignalValidation(t *testing.T) {
	ts := newTestServer(t, "")

	for _, payload := range []string{
		`{"direction":"buy","size_hint":1}`,
		`{"symbol":"BTC-USD","direction":"hold","size_hint":1}`,
		`{"symbol":"BTC-USD","direction":"buy","size_hint":0}`,
		`not json`,
	} {
		resp, err := ts.http.Client().Post(ts.http.URL+"/api/signals", "application/json", strings.NewReader(payload))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "payload: %s", payload)
	}
}

func TestBookAndPriceEndpoints(t *testing.T) {
	ts := newTestServer(t, "")

	var bookBody map[string]any
	resp := getJSON(t, ts, "/api/book/BTC-USD", &bookBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.InDelta(t, 42990, bookBody["best_bid"], 1e-9)
	require.InDelta(t, 43010, bookBody["best_ask"], 1e-9)

	resp = getJSON(t, ts, "/api/book/UNKNOWN", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var priceBody struct {
		Prices map[string]float64 `json:"prices"`
	}
	resp = getJSON(t, ts, "/api/prices?symbols=BTC-USD,MISSING", &priceBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, map[string]float64{"BTC-USD": 43005}, priceBody.Prices)
}

func TestBarEndpoint(t *testing.T) {
	ts := newTestServer(t, "")

	var body map[string]any
	resp := getJSON(t, ts, "/api/bars/BTC-USD?timeframe=1m", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.InDelta(t, 43010, body["close"], 1e-9)
	require.InDelta(t, 100.5, body["session_vwap"], 1e-9)

	resp = getJSON(t, ts, "/api/bars/BTC-USD?timeframe=bogus", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthRequiredWhenKeyConfigured(t *testing.T) {
	ts := newTestServer(t, "sekrit")

	// Health stays open for probes.
	resp := getJSON(t, ts, "/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = getJSON(t, ts, "/api/risk", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.http.URL+"/api/risk", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "sekrit")
	aresp, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	aresp.Body.Close()
	require.Equal(t, http.StatusOK, aresp.StatusCode)

	req.Header.Set("X-API-Key", "wrong")
	aresp, err = ts.http.Client().Do(req)
	require.NoError(t, err)
	aresp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, aresp.StatusCode)
}
