// Package feed maintains the asynchronous market data the engine reads
// between ticks: per-token order book tops and per-asset momentum.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tradewell-labs/updownbot/internal/domain"
	"github.com/tradewell-labs/updownbot/internal/platform/polymarket"
)

// BookFeed ingests streaming book events and serves the latest top of book
// per outcome token. It owns the subscription lifecycle: the registry hands
// it the full token set whenever markets come or go, and tokens absent from
// the new set stop resolving immediately.
type BookFeed struct {
	logger *slog.Logger

	mu    sync.RWMutex
	books map[string]domain.BookTop
	live  map[string]bool // current subscription set

	ws *polymarket.WSClient
}

// NewBookFeed creates a BookFeed connected to the given market-channel URL.
func NewBookFeed(wsURL string, logger *slog.Logger) *BookFeed {
	f := &BookFeed{
		logger: logger.With(slog.String("component", "book_feed")),
		books:  make(map[string]domain.BookTop),
		live:   make(map[string]bool),
	}
	f.ws = polymarket.NewWSClient(wsURL, f.onBookEvent, logger)
	return f
}

// SetTokens replaces the subscribed token set. Books for tokens no longer in
// the set are dropped before the resubscribe, so a late event for a removed
// token cannot resurrect its entry.
func (f *BookFeed) SetTokens(ctx context.Context, tokenIDs []string) error {
	f.mu.Lock()
	next := make(map[string]bool, len(tokenIDs))
	for _, id := range tokenIDs {
		next[id] = true
	}
	for id := range f.books {
		if !next[id] {
			delete(f.books, id)
		}
	}
	f.live = next
	f.mu.Unlock()

	return f.ws.Subscribe(ctx, tokenIDs)
}

// Top returns the latest top of book for a token and whether one exists.
func (f *BookFeed) Top(tokenID string) (domain.BookTop, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	top, ok := f.books[tokenID]
	return top, ok
}

// Close shuts the underlying connection down.
func (f *BookFeed) Close() error {
	return f.ws.Close()
}

// onBookEvent folds one parsed book event into the token's top of book.
// Events for tokens outside the live set are dropped; they belong to a market
// that has already been retired.
func (f *BookFeed) onBookEvent(ev polymarket.BookEvent) {
	bestBid, bestAsk := bestPrices(ev.Bids, ev.Asks)

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.live[ev.AssetID] {
		return
	}
	f.books[ev.AssetID] = domain.BookTop{
		TokenID:   ev.AssetID,
		BestBid:   bestBid,
		BestAsk:   bestAsk,
		Bids:      ev.Bids,
		Asks:      ev.Asks,
		UpdatedAt: time.Now().UTC(),
	}
}

// bestPrices computes best bid = max bid price and best ask = min ask price.
// Levels were already validated at the parse boundary; zero means the side is
// empty.
func bestPrices(bids, asks []domain.PriceLevel) (bestBid, bestAsk float64) {
	for _, lvl := range bids {
		if lvl.Price > bestBid {
			bestBid = lvl.Price
		}
	}
	for _, lvl := range asks {
		if bestAsk == 0 || lvl.Price < bestAsk {
			bestAsk = lvl.Price
		}
	}
	return bestBid, bestAsk
}
