package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the fixed delay before attempting to reconnect.
	reconnectDelay = 5 * time.Second

	// dialTimeout bounds a single connection attempt.
	dialTimeout = 15 * time.Second
)

// BookEventHandler is called for every parsed book event on the live connection.
type BookEventHandler func(BookEvent)

// WSClient maintains one logical subscription to the CLOB market channel.
// Resubscription with a changed token set closes the previous connection and
// opens a new one carrying the full set; there is no incremental subscribe.
//
// Every connection attempt allocates a new generation number. Read and
// reconnect paths compare their captured generation against the active one
// and no-op when superseded, so an old, still-connecting handle can never
// write on or mutate state owned by its replacement.
type WSClient struct {
	wsURL  string
	onBook BookEventHandler
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	gen    uint64 // generation of the active connection
	assets []string
	closed bool

	done chan struct{}
}

// NewWSClient creates a market-channel client for the given WebSocket URL,
// e.g. "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string, onBook BookEventHandler, logger *slog.Logger) *WSClient {
	return &WSClient{
		wsURL:  wsURL,
		onBook: onBook,
		logger: logger.With(slog.String("component", "polymarket_ws")),
		done:   make(chan struct{}),
	}
}

// Subscribe replaces the subscribed token set. The previous connection, if
// any, is closed and a fresh connection is opened with the full set. An empty
// set closes the connection without reopening.
func (w *WSClient) Subscribe(ctx context.Context, tokenIDs []string) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("polymarket/ws: %w", domain.ErrWSDisconnect)
	}
	w.assets = append([]string(nil), tokenIDs...)
	w.dropConnLocked()
	if len(w.assets) == 0 {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	return w.connect(ctx)
}

// Close shuts down the client. Subsequent events from any in-flight
// connection are discarded by the generation guard.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)
	w.dropConnLocked()
	return nil
}

// dropConnLocked invalidates the active connection. Caller must hold w.mu.
// Bumping the generation first guarantees that handlers captured against the
// old connection observe themselves as superseded before the close lands.
func (w *WSClient) dropConnLocked() {
	w.gen++
	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = w.conn.Close()
		w.conn = nil
	}
}

// connect dials a new connection, sends the subscription command for the full
// token set, and starts the read and ping loops bound to a fresh generation.
func (w *WSClient) connect(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("polymarket/ws: %w", domain.ErrWSDisconnect)
	}
	w.gen++
	gen := w.gen
	assets := append([]string(nil), w.assets...)
	w.mu.Unlock()

	if len(assets) == 0 {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	w.mu.Lock()
	if w.closed || gen != w.gen {
		// A newer attempt superseded this dial while it was in flight.
		w.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	w.conn = conn
	w.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	cmd := wsSubscribe{Type: "market", AssetIDs: assets}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("polymarket/ws: marshal subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}

	w.logger.Info("subscribed", slog.Int("assets", len(assets)))

	go w.readLoop(conn, gen)
	go w.pingLoop(conn, gen)
	return nil
}

// current reports whether gen still identifies the active connection.
func (w *WSClient) current(gen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.closed && gen == w.gen
}

// readLoop reads messages from one physical connection until it fails or is
// superseded. On failure of the active connection it schedules a reconnect
// after a fixed delay; a superseded connection exits silently.
func (w *WSClient) readLoop(conn *websocket.Conn, gen uint64) {
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !w.current(gen) {
				// Superseded or closed: this handle no longer owns state.
				return
			}
			w.logger.Warn("read failed, scheduling reconnect", slog.String("error", err.Error()))
			w.scheduleReconnect(gen)
			return
		}
		w.handleMessage(gen, message)
	}
}

// pingLoop keeps one physical connection alive until it is superseded.
func (w *WSClient) pingLoop(conn *websocket.Conn, gen uint64) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if !w.current(gen) {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw message and dispatches book events. Events from
// a superseded generation are dropped without touching any state; malformed
// messages are dropped silently.
func (w *WSClient) handleMessage(gen uint64, raw []byte) {
	if !w.current(gen) {
		w.logger.Debug("dropping event from superseded connection")
		return
	}

	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		// The feed occasionally batches events into a JSON array.
		var batch []json.RawMessage
		if err := json.Unmarshal(raw, &batch); err != nil {
			return
		}
		for _, item := range batch {
			w.handleMessage(gen, item)
		}
		return
	}

	if envelope.EventType != "book" {
		return
	}

	var msg bookMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.AssetID == "" {
		return
	}

	event := BookEvent{
		AssetID: msg.AssetID,
		Bids:    parseLevels(msg.Bids),
		Asks:    parseLevels(msg.Asks),
	}

	// Re-check after parsing: a resubscribe may have landed mid-parse.
	if !w.current(gen) {
		return
	}
	if w.onBook != nil {
		w.onBook(event)
	}
}

// scheduleReconnect redials after the fixed delay as long as the failed
// generation has not been superseded in the meantime.
func (w *WSClient) scheduleReconnect(failedGen uint64) {
	go func() {
		select {
		case <-w.done:
			return
		case <-time.After(reconnectDelay):
		}

		if !w.current(failedGen) {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		if err := w.connect(ctx); err != nil {
			w.logger.Warn("reconnect failed", slog.String("error", err.Error()))
			// connect bumped the generation; chase the new one.
			w.mu.Lock()
			gen := w.gen
			w.mu.Unlock()
			w.scheduleReconnect(gen)
		}
	}()
}
