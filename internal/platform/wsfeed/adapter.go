// Package wsfeed is the WebSocket market-data adapter. It speaks the
// venue's JSON wire protocol and translates every frame into the normalized
// market-event contract before anything reaches the feed.
package wsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SamoraDC/tradebot/internal/crypto"
	"github.com/SamoraDC/tradebot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// handshakeTimeout bounds the WebSocket dial.
	handshakeTimeout = 15 * time.Second

	// snapshotScanLimit bounds how many interleaved frames a snapshot
	// request will skip before giving up.
	snapshotScanLimit = 256
)

// Config holds the adapter's connection settings.
type Config struct {
	URL         string
	Credentials crypto.APICredentials
}

// wsCommand is the outbound command envelope.
type wsCommand struct {
	Op        string   `json:"op"` // auth | subscribe | snapshot
	Key       string   `json:"key,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
	Signature string   `json:"signature,omitempty"`
	Symbols   []string `json:"symbols,omitempty"`
	Symbol    string   `json:"symbol,omitempty"`
}

// wsMessage is the inbound frame envelope. Level arrays are [price, size]
// pairs.
type wsMessage struct {
	Type    string       `json:"type"` // trade | quote | snapshot | auth | error
	Symbol  string       `json:"symbol"`
	Price   float64      `json:"price"`
	Size    float64      `json:"size"`
	Side    string       `json:"side,omitempty"` // bid | ask on quotes
	Seq     uint64       `json:"seq"`
	TS      int64        `json:"ts"` // unix milliseconds
	Bids    [][2]float64 `json:"bids,omitempty"`
	Asks    [][2]float64 `json:"asks,omitempty"`
	OK      bool         `json:"ok,omitempty"`
	Message string       `json:"message,omitempty"`
}

// Adapter implements the market-data adapter contract over gorilla/websocket.
type Adapter struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

// New creates an Adapter for the given endpoint.
func New(cfg Config, logger *slog.Logger) *Adapter {
	return &Adapter{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "wsfeed")),
	}
}

// Connect dials the venue and starts the ping keepalive.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, a.cfg.URL, nil)
	if err != nil {
		return &domain.TransportError{Op: "dial", Err: err}
	}
	a.conn = conn
	a.done = make(chan struct{})

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go a.pingLoop(conn, a.done)
	a.logger.Info("connected", slog.String("url", a.cfg.URL))
	return nil
}

// Authenticate performs the HMAC handshake. Venues without configured
// credentials skip it.
func (a *Adapter) Authenticate(ctx context.Context) error {
	if a.cfg.Credentials.Empty() {
		return nil
	}

	ts, sig := a.cfg.Credentials.AuthFields()
	if err := a.sendCommand(wsCommand{
		Op:        "auth",
		Key:       a.cfg.Credentials.Key,
		Timestamp: ts,
		Signature: sig,
	}); err != nil {
		return err
	}

	msg, err := a.readMessage()
	if err != nil {
		return err
	}
	if msg.Type != "auth" || !msg.OK {
		return &domain.TransportError{Op: "auth", Err: fmt.Errorf("venue refused authentication: %s", msg.Message)}
	}
	a.logger.Info("authenticated", slog.String("credentials", a.cfg.Credentials.String()))
	return nil
}

// Subscribe requests streaming data for the given symbols.
func (a *Adapter) Subscribe(ctx context.Context, symbols []string) error {
	if err := a.sendCommand(wsCommand{Op: "subscribe", Symbols: symbols}); err != nil {
		return err
	}
	a.logger.Info("subscribed", slog.Int("symbols", len(symbols)))
	return nil
}

// Next blocks until the next normalized event arrives.
func (a *Adapter) Next(ctx context.Context) (domain.MarketEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return domain.MarketEvent{}, &domain.TransportError{Op: "read", Err: ctx.Err()}
		default:
		}

		msg, err := a.readMessage()
		if err != nil {
			return domain.MarketEvent{}, err
		}

		ev, err := normalize(msg)
		if err != nil {
			return domain.MarketEvent{}, err
		}
		if ev == nil {
			continue // housekeeping frame
		}
		return *ev, nil
	}
}

// Snapshot requests a full book snapshot for one symbol. It runs on the
// reader goroutine between Next calls, so interleaved stream frames are
// skipped; the caller resyncs from the snapshot anyway.
func (a *Adapter) Snapshot(ctx context.Context, symbol string) (domain.BookSnapshot, error) {
	if err := a.sendCommand(wsCommand{Op: "snapshot", Symbol: symbol}); err != nil {
		return domain.BookSnapshot{}, err
	}

	for i := 0; i < snapshotScanLimit; i++ {
		msg, err := a.readMessage()
		if err != nil {
			return domain.BookSnapshot{}, err
		}
		if msg.Type != "snapshot" || msg.Symbol != symbol {
			continue
		}

		snap := domain.BookSnapshot{
			Symbol:    symbol,
			Seq:       msg.Seq,
			Timestamp: time.UnixMilli(msg.TS).UTC(),
		}
		for _, lvl := range msg.Bids {
			snap.Bids = append(snap.Bids, domain.PriceLevel{Price: lvl[0], Size: lvl[1]})
		}
		for _, lvl := range msg.Asks {
			snap.Asks = append(snap.Asks, domain.PriceLevel{Price: lvl[0], Size: lvl[1]})
		}
		return snap, nil
	}
	return domain.BookSnapshot{}, &domain.TransportError{Op: "snapshot", Err: fmt.Errorf("no snapshot for %s within %d frames", symbol, snapshotScanLimit)}
}

// Close tears down the connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		return nil
	}
	close(a.done)

	_ = a.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	err := a.conn.Close()
	a.conn = nil
	return err
}

func (a *Adapter) sendCommand(cmd wsCommand) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return &domain.TransportError{Op: "send", Err: fmt.Errorf("not connected")}
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("wsfeed: marshal command: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &domain.TransportError{Op: "send", Err: err}
	}
	return nil
}

func (a *Adapter) readMessage() (wsMessage, error) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return wsMessage{}, &domain.TransportError{Op: "read", Err: fmt.Errorf("not connected")}
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return wsMessage{}, &domain.TransportError{Op: "read", Err: err}
	}

	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return wsMessage{}, &domain.ProtocolError{Reason: "unparseable frame: " + err.Error()}
	}
	return msg, nil
}

func (a *Adapter) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// normalize maps a wire frame to the market-event contract. Housekeeping
// frames return (nil, nil); malformed content returns a protocol error the
// feed drops.
func normalize(msg wsMessage) (*domain.MarketEvent, error) {
	switch msg.Type {
	case "trade":
		if msg.Symbol == "" || msg.Price <= 0 || msg.Size <= 0 {
			return nil, &domain.ProtocolError{Reason: fmt.Sprintf("invalid trade frame: symbol=%q price=%v size=%v", msg.Symbol, msg.Price, msg.Size)}
		}
		return &domain.MarketEvent{
			Symbol:    msg.Symbol,
			Kind:      domain.MarketKindTrade,
			Price:     msg.Price,
			Size:      msg.Size,
			Seq:       msg.Seq,
			Timestamp: time.UnixMilli(msg.TS).UTC(),
		}, nil

	case "quote":
		var side domain.BookSide
		switch msg.Side {
		case "bid":
			side = domain.BookSideBid
		case "ask":
			side = domain.BookSideAsk
		default:
			return nil, &domain.ProtocolError{Reason: "quote frame with side " + msg.Side}
		}
		if msg.Symbol == "" || msg.Price <= 0 || msg.Size < 0 {
			return nil, &domain.ProtocolError{Reason: fmt.Sprintf("invalid quote frame: symbol=%q price=%v size=%v", msg.Symbol, msg.Price, msg.Size)}
		}
		return &domain.MarketEvent{
			Symbol:    msg.Symbol,
			Kind:      domain.MarketKindQuote,
			Price:     msg.Price,
			Size:      msg.Size,
			Side:      side,
			Seq:       msg.Seq,
			Timestamp: time.UnixMilli(msg.TS).UTC(),
		}, nil

	case "snapshot", "auth", "subscribed", "pong":
		return nil, nil

	case "error":
		return nil, &domain.ProtocolError{Reason: "venue error frame: " + msg.Message}

	default:
		return nil, &domain.ProtocolError{Reason: "unknown frame type " + msg.Type}
	}
}

// Compile-time interface check.
var _ domain.MarketDataAdapter = (*Adapter)(nil)
