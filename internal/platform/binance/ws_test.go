package binance

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStreamClient(onTrade TradeHandler) *StreamClient {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStreamClient("wss://example.invalid", []string{"BTCUSDT", "ETHUSDT"}, onTrade, logger)
}

func TestStreamURL(t *testing.T) {
	c := newTestStreamClient(nil)
	assert.Equal(t, "wss://example.invalid/stream?streams=btcusdt@trade/ethusdt@trade", c.streamURL())
}

func TestHandleMessageParsesTrade(t *testing.T) {
	var trades []Trade
	c := newTestStreamClient(func(tr Trade) { trades = append(trades, tr) })

	c.handleMessage([]byte(`{
		"stream": "btcusdt@trade",
		"data": {"e":"trade","s":"BTCUSDT","p":"100400.50","q":"0.012","T":1700000000000}
	}`))

	require.Len(t, trades, 1)
	assert.Equal(t, "BTCUSDT", trades[0].Symbol)
	assert.Equal(t, 100400.50, trades[0].Price)
	assert.Equal(t, 0.012, trades[0].Qty)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), trades[0].Time)
}

func TestHandleMessageDropsMalformedFrames(t *testing.T) {
	var trades []Trade
	c := newTestStreamClient(func(tr Trade) { trades = append(trades, tr) })

	c.handleMessage([]byte(`not json`))
	c.handleMessage([]byte(`{"stream":"x","data":{"e":"aggTrade","s":"BTCUSDT","p":"1","q":"1"}}`))
	c.handleMessage([]byte(`{"stream":"x","data":{"e":"trade","s":"BTCUSDT","p":"abc","q":"1"}}`))
	c.handleMessage([]byte(`{"stream":"x","data":{"e":"trade","s":"BTCUSDT","p":"100","q":"0"}}`))
	c.handleMessage([]byte(`{"stream":"x","data":{"e":"trade","s":"BTCUSDT","p":"-5","q":"1"}}`))

	assert.Empty(t, trades)
}

func TestParsePositive(t *testing.T) {
	f, err := parsePositive("0.5")
	require.NoError(t, err)
	assert.Equal(t, 0.5, f)

	_, err = parsePositive("0")
	require.Error(t, err)
	_, err = parsePositive("-1")
	require.Error(t, err)
	_, err = parsePositive("")
	require.Error(t, err)
}
