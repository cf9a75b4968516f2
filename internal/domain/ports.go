package domain

import (
	"context"
	"time"
)

// OrderClient is the narrow interface to the exchange's order endpoints.
// Every call is a suspension point: implementations must carry bounded
// timeouts, and callers must only mutate local state after the result is
// known, never optimistically before.
type OrderClient interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelAll(ctx context.Context) error
	OpenOrders(ctx context.Context) ([]OpenOrder, error)
}

// MarketDiscoverer returns candidate markets with at least minTimeToExpiry
// remaining. Discovery failures are retried on the next scheduled tick and
// never block processing of already-registered markets.
type MarketDiscoverer interface {
	DiscoverMarkets(ctx context.Context, minTimeToExpiry time.Duration) ([]MarketCandidate, error)
}

// LedgerPosition is the authoritative exchange-reported position for one
// market. It is the source of truth for filled quantity; local bookkeeping is
// overwritten whenever it drifts from these values.
type LedgerPosition struct {
	Slug       string
	UpShares   float64
	DownShares float64
	UpCost     float64
	DownCost   float64
	FetchedAt  time.Time
}

// PositionLedger exposes the cached authoritative position per market.
type PositionLedger interface {
	CachedPosition(ctx context.Context, slug string) (LedgerPosition, error)
}

// Lease is the distributed TTL-based mutual exclusion held while the process
// is authorized to mutate exchange state. Failure to renew must cause the
// engine to stop placing new orders (fail safe, not fail open).
type Lease interface {
	Acquire(ctx context.Context) error
	Renew(ctx context.Context) error
	Release()
	Held() bool
}

// SignalBus publishes fire-and-forget event payloads for external consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// BlobWriter stores opaque objects (snapshot batches, archive exports).
type BlobWriter interface {
	Put(ctx context.Context, key string, contentType string, data []byte) error
}
