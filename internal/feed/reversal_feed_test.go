package feed

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tradewell-labs/updownbot/internal/domain"
	"github.com/tradewell-labs/updownbot/internal/platform/binance"
)

func testReversalFeed(window time.Duration, thresholdPct float64) *ReversalFeed {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewReversalFeed("wss://example.invalid", []string{"BTC"}, window, thresholdPct, logger)
}

func trade(price float64, at time.Time) binance.Trade {
	return binance.Trade{Symbol: "BTCUSDT", Price: price, Qty: 1, Time: at}
}

func TestMomentumPercentChangeAcrossWindow(t *testing.T) {
	f := testReversalFeed(time.Minute, 0.25)
	now := time.Now()

	f.onTrade(trade(100000, now.Add(-30*time.Second)))
	f.onTrade(trade(100400, now))

	assert.InDelta(t, 0.4, f.Momentum("BTC"), 1e-9)
	assert.Equal(t, domain.TrendUp, f.TrendDirection("BTC"))
}

func TestMomentumNegativeTrend(t *testing.T) {
	f := testReversalFeed(time.Minute, 0.25)
	now := time.Now()

	f.onTrade(trade(100000, now.Add(-30*time.Second)))
	f.onTrade(trade(99600, now))

	assert.InDelta(t, -0.4, f.Momentum("BTC"), 1e-9)
	assert.Equal(t, domain.TrendDown, f.TrendDirection("BTC"))
}

func TestMomentumBelowThresholdIsFlat(t *testing.T) {
	f := testReversalFeed(time.Minute, 0.25)
	now := time.Now()

	f.onTrade(trade(100000, now.Add(-30*time.Second)))
	f.onTrade(trade(100100, now)) // +0.1% < 0.25%

	assert.Equal(t, domain.TrendFlat, f.TrendDirection("BTC"))
}

func TestMomentumEvictsAgedSamples(t *testing.T) {
	f := testReversalFeed(time.Minute, 0.25)
	now := time.Now()

	f.onTrade(trade(90000, now.Add(-2*time.Minute))) // outside the window
	f.onTrade(trade(100000, now.Add(-30*time.Second)))
	f.onTrade(trade(100400, now))

	// The stale print must not contribute to the reading.
	assert.InDelta(t, 0.4, f.Momentum("BTC"), 1e-9)
}

func TestMomentumGoesFlatWhenStreamStalls(t *testing.T) {
	f := testReversalFeed(time.Minute, 0.25)
	now := time.Now()

	f.onTrade(trade(100000, now.Add(-90*time.Second)))
	f.onTrade(trade(100400, now.Add(-70*time.Second)))

	// Both prints predate the window; with no fresh trades the last trend
	// must not keep reading as a live signal.
	assert.Zero(t, f.Momentum("BTC"))
	assert.Equal(t, domain.TrendFlat, f.TrendDirection("BTC"))
}

func TestMomentumNeedsTwoSamples(t *testing.T) {
	f := testReversalFeed(time.Minute, 0.25)

	assert.Zero(t, f.Momentum("BTC"), "no samples")
	f.onTrade(trade(100000, time.Now()))
	assert.Zero(t, f.Momentum("BTC"), "one sample")
	assert.Equal(t, domain.TrendFlat, f.TrendDirection("BTC"))
	assert.Zero(t, f.Momentum("ETH"), "unknown asset")
}
