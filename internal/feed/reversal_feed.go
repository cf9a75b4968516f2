package feed

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tradewell-labs/updownbot/internal/domain"
	"github.com/tradewell-labs/updownbot/internal/platform/binance"
)

// ReversalFeed derives a short-horizon momentum signal per underlying asset
// from a spot trade stream. It implements domain.MomentumSource. Queries are
// read-only snapshots; the feed never acts on the engine.
type ReversalFeed struct {
	window    time.Duration
	threshold float64 // percent move that flips FLAT to UP/DOWN
	logger    *slog.Logger

	mu      sync.RWMutex
	samples map[string][]pricePoint // asset -> ordered window of prints

	stream *binance.StreamClient
}

type pricePoint struct {
	price float64
	at    time.Time
}

// NewReversalFeed creates a feed for the given assets over window, flagging a
// trend when the absolute percent move across the window exceeds
// thresholdPct. wsHost is the spot stream host.
func NewReversalFeed(wsHost string, assets []string, window time.Duration, thresholdPct float64, logger *slog.Logger) *ReversalFeed {
	f := &ReversalFeed{
		window:    window,
		threshold: thresholdPct,
		logger:    logger.With(slog.String("component", "reversal_feed")),
		samples:   make(map[string][]pricePoint, len(assets)),
	}

	symbols := make([]string, len(assets))
	for i, a := range assets {
		symbols[i] = strings.ToUpper(a) + "USDT"
	}
	f.stream = binance.NewStreamClient(wsHost, symbols, f.onTrade, logger)
	return f
}

// Start connects the underlying stream.
func (f *ReversalFeed) Start(ctx context.Context) error {
	return f.stream.Start(ctx)
}

// Close shuts the stream down.
func (f *ReversalFeed) Close() error {
	return f.stream.Close()
}

// Momentum returns the percent price change across the window for an asset.
// An asset with fewer than two samples in the window reads as zero, as does
// one whose newest print is older than the window: a stalled stream carries
// no signal.
func (f *ReversalFeed) Momentum(asset string) float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	pts := f.samples[strings.ToUpper(asset)]
	if len(pts) < 2 {
		return 0
	}
	if time.Since(pts[len(pts)-1].at) > f.window {
		return 0
	}
	first, last := pts[0].price, pts[len(pts)-1].price
	if first == 0 {
		return 0
	}
	return (last - first) / first * 100
}

// TrendDirection classifies the momentum against the threshold.
func (f *ReversalFeed) TrendDirection(asset string) domain.TrendDirection {
	m := f.Momentum(asset)
	switch {
	case m > f.threshold:
		return domain.TrendUp
	case m < -f.threshold:
		return domain.TrendDown
	default:
		return domain.TrendFlat
	}
}

// onTrade appends one print to the asset's window and drops samples that
// have aged out.
func (f *ReversalFeed) onTrade(t binance.Trade) {
	asset := strings.TrimSuffix(t.Symbol, "USDT")
	cutoff := t.Time.Add(-f.window)

	f.mu.Lock()
	defer f.mu.Unlock()

	pts := append(f.samples[asset], pricePoint{price: t.Price, at: t.Time})
	start := 0
	for start < len(pts) && pts[start].at.Before(cutoff) {
		start++
	}
	f.samples[asset] = pts[start:]
}

// Compile-time interface check.
var _ domain.MomentumSource = (*ReversalFeed)(nil)
