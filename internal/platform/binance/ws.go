// Package binance streams spot trades from the Binance public market data
// WebSocket. The engine uses the prints as the reference price series for
// short-horizon momentum.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readWait       = 90 * time.Second // Binance pings roughly every 3 minutes of idle; trades arrive far more often
	writeWait      = 10 * time.Second
	dialTimeout    = 15 * time.Second
	reconnectDelay = 5 * time.Second
)

// Trade is one executed spot trade.
type Trade struct {
	Symbol string // e.g. "BTCUSDT"
	Price  float64
	Qty    float64
	Time   time.Time
}

// TradeHandler receives every parsed trade in stream order.
type TradeHandler func(Trade)

// combinedStreamMsg is the envelope of the combined-stream endpoint.
type combinedStreamMsg struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// tradeMsg is the payload of a <symbol>@trade stream event.
type tradeMsg struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	TradeTime int64  `json:"T"` // milliseconds
}

// StreamClient holds one combined-stream connection covering a fixed symbol
// set for the life of the process. Unlike the order book feed, the
// subscription never changes, so reconnection is a plain redial loop.
type StreamClient struct {
	wsHost  string
	symbols []string
	onTrade TradeHandler
	logger  *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	done   chan struct{}
}

// NewStreamClient creates a client for the given spot symbols, e.g.
// ["BTCUSDT", "ETHUSDT"]. wsHost is the stream host, e.g.
// "wss://stream.binance.com:9443".
func NewStreamClient(wsHost string, symbols []string, onTrade TradeHandler, logger *slog.Logger) *StreamClient {
	return &StreamClient{
		wsHost:  wsHost,
		symbols: append([]string(nil), symbols...),
		onTrade: onTrade,
		logger:  logger.With(slog.String("component", "binance_ws")),
		done:    make(chan struct{}),
	}
}

// Start connects and keeps the stream alive until Close. The initial dial is
// synchronous so startup fails loudly on bad configuration; later drops are
// redialed in the background.
func (s *StreamClient) Start(ctx context.Context) error {
	if len(s.symbols) == 0 {
		return fmt.Errorf("binance/ws: no symbols configured")
	}
	if err := s.connect(ctx); err != nil {
		return err
	}
	return nil
}

// Close shuts the client down.
func (s *StreamClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	return nil
}

// streamURL builds the combined-stream URL for the configured symbols.
func (s *StreamClient) streamURL() string {
	streams := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		streams[i] = strings.ToLower(sym) + "@trade"
	}
	return s.wsHost + "/stream?streams=" + strings.Join(streams, "/")
}

func (s *StreamClient) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, s.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("binance/ws: connect: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	s.conn = conn
	s.mu.Unlock()

	// Binance pings the client; answering resets our read deadline too.
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	s.logger.Info("connected", slog.Int("symbols", len(s.symbols)))
	go s.readLoop(conn)
	return nil
}

func (s *StreamClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			s.logger.Warn("read failed, scheduling reconnect", slog.String("error", err.Error()))
			s.scheduleReconnect()
			return
		}
		conn.SetReadDeadline(time.Now().Add(readWait))
		s.handleMessage(message)
	}
}

// handleMessage parses one combined-stream frame. Malformed frames are
// dropped; the momentum window tolerates gaps.
func (s *StreamClient) handleMessage(raw []byte) {
	var envelope combinedStreamMsg
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	var msg tradeMsg
	if err := json.Unmarshal(envelope.Data, &msg); err != nil || msg.EventType != "trade" {
		return
	}

	price, err := parsePositive(msg.Price)
	if err != nil {
		return
	}
	qty, err := parsePositive(msg.Qty)
	if err != nil {
		return
	}

	if s.onTrade != nil {
		s.onTrade(Trade{
			Symbol: msg.Symbol,
			Price:  price,
			Qty:    qty,
			Time:   time.UnixMilli(msg.TradeTime).UTC(),
		})
	}
}

// parsePositive parses a decimal string and rejects zero or negative values.
func parsePositive(v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if f <= 0 {
		return 0, fmt.Errorf("non-positive value %q", v)
	}
	return f, nil
}

func (s *StreamClient) scheduleReconnect() {
	go func() {
		for {
			select {
			case <-s.done:
				return
			case <-time.After(reconnectDelay):
			}

			ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
			err := s.connect(ctx)
			cancel()
			if err == nil {
				return
			}
			s.logger.Warn("reconnect failed", slog.String("error", err.Error()))
		}
	}()
}
