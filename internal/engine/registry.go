package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

// Registry owns the set of live markets: it accepts discovered candidates,
// maintains the token-to-market index the feed layer keys on, and retires
// markets at expiry with exactly one settlement record each.
type Registry struct {
	discoverer      domain.MarketDiscoverer
	ledger          MarketLedger
	books           BookSource
	reporter        Reporter
	logger          *slog.Logger
	maxMarkets      int
	minTimeToExpiry time.Duration
	maxUnpaired     float64 // pre-existing imbalance rejection threshold

	mu      sync.RWMutex
	markets map[string]*MarketState // slug -> state
	tokens  map[string]tokenRef     // token ID -> (slug, side)
}

type tokenRef struct {
	slug string
	side domain.Side
}

// NewRegistry creates an empty registry.
func NewRegistry(
	discoverer domain.MarketDiscoverer,
	ledger MarketLedger,
	books BookSource,
	reporter Reporter,
	maxMarkets int,
	minTimeToExpiry time.Duration,
	maxUnpaired float64,
	logger *slog.Logger,
) *Registry {
	return &Registry{
		discoverer:      discoverer,
		ledger:          ledger,
		books:           books,
		reporter:        reporter,
		logger:          logger.With(slog.String("component", "registry")),
		maxMarkets:      maxMarkets,
		minTimeToExpiry: minTimeToExpiry,
		maxUnpaired:     maxUnpaired,
		markets:         make(map[string]*MarketState),
		tokens:          make(map[string]tokenRef),
	}
}

// Refresh discovers candidate markets and accepts new ones while under the
// market cap. A candidate whose pre-existing ledger imbalance already exceeds
// the unpaired threshold is rejected rather than silently inheriting risk
// from a prior process instance. Discovery errors are returned for logging
// and retried on the next scheduled refresh; they never affect markets
// already registered.
func (r *Registry) Refresh(ctx context.Context) error {
	candidates, err := r.discoverer.DiscoverMarkets(ctx, r.minTimeToExpiry)
	if err != nil {
		return fmt.Errorf("engine/registry: discover: %w", err)
	}

	accepted := 0
	for _, cand := range candidates {
		r.mu.RLock()
		_, known := r.markets[cand.Slug]
		count := len(r.markets)
		r.mu.RUnlock()

		if known || count >= r.maxMarkets {
			continue
		}
		if err := r.accept(ctx, cand); err != nil {
			r.logger.Warn("candidate rejected",
				slog.String("slug", cand.Slug), slog.String("reason", err.Error()))
			continue
		}
		accepted++
	}

	if accepted > 0 {
		if err := r.resubscribe(ctx); err != nil {
			return err
		}
		r.logger.Info("markets accepted", slog.Int("count", accepted))
	}
	return nil
}

// accept validates one candidate against the authoritative ledger and
// registers it.
func (r *Registry) accept(ctx context.Context, cand domain.MarketCandidate) error {
	market := domain.Market{
		Slug:         cand.Slug,
		ConditionID:  cand.ConditionID,
		Asset:        cand.Asset,
		UpTokenID:    cand.UpTokenID,
		DownTokenID:  cand.DownTokenID,
		Expiry:       cand.Expiry,
		DiscoveredAt: time.Now().UTC(),
	}

	r.ledger.RegisterMarket(market)
	pos, err := r.ledger.CachedPosition(ctx, market.Slug)
	if err != nil {
		r.ledger.UnregisterMarket(market.Slug)
		return fmt.Errorf("ledger check: %w", err)
	}

	if imbalance := abs(pos.UpShares - pos.DownShares); imbalance > r.maxUnpaired {
		r.ledger.UnregisterMarket(market.Slug)
		return fmt.Errorf("pre-existing imbalance %.1f exceeds limit %.1f", imbalance, r.maxUnpaired)
	}

	ms := NewMarketState(market)
	ms.Inventory = domain.Inventory{
		UpQty: pos.UpShares, DownQty: pos.DownShares,
		UpCost: pos.UpCost, DownCost: pos.DownCost,
	}

	r.mu.Lock()
	r.markets[market.Slug] = ms
	r.tokens[market.UpTokenID] = tokenRef{slug: market.Slug, side: domain.SideUp}
	r.tokens[market.DownTokenID] = tokenRef{slug: market.Slug, side: domain.SideDown}
	r.mu.Unlock()

	r.logger.Info("market accepted",
		slog.String("slug", market.Slug),
		slog.String("asset", market.Asset),
		slog.Time("expiry", market.Expiry))
	return nil
}

// Cleanup retires every market whose expiry has passed. Each retirement emits
// exactly one settlement record, clears any exposure ban, drops the token
// mappings, and unregisters the market everywhere. Removal from the map is
// what makes the settlement record exactly-once: a slug is only ever present
// once and is never reused.
func (r *Registry) Cleanup(ctx context.Context, now time.Time) error {
	var expired []*MarketState
	r.mu.Lock()
	for slug, ms := range r.markets {
		if ms.Market.Expired(now) {
			expired = append(expired, ms)
			delete(r.markets, slug)
			delete(r.tokens, ms.Market.UpTokenID)
			delete(r.tokens, ms.Market.DownTokenID)
		}
	}
	r.mu.Unlock()

	if len(expired) == 0 {
		return nil
	}

	for _, ms := range expired {
		ms.Lock()
		ms.clearBanLocked()
		inv := ms.Inventory
		ms.Unlock()

		r.reporter.RecordSettlement(domain.SettlementRecord{
			ID:           uuid.New().String(),
			Slug:         ms.Market.Slug,
			ConditionID:  ms.Market.ConditionID,
			Asset:        ms.Market.Asset,
			Expiry:       ms.Market.Expiry,
			PairedQty:    inv.Paired(),
			UnpairedQty:  inv.Unpaired(),
			CombinedCost: inv.CombinedCost(),
			LockedProfit: inv.LockedProfit(),
			Estimated:    true,
			RecordedAt:   now,
		})

		r.ledger.UnregisterMarket(ms.Market.Slug)
		r.logger.Info("market retired",
			slog.String("slug", ms.Market.Slug),
			slog.Float64("paired", inv.Paired()),
			slog.Float64("unpaired", inv.Unpaired()))
	}

	return r.resubscribe(ctx)
}

// resubscribe pushes the current full token set to the feed layer.
func (r *Registry) resubscribe(ctx context.Context) error {
	r.mu.RLock()
	tokenIDs := make([]string, 0, len(r.tokens))
	for id := range r.tokens {
		tokenIDs = append(tokenIDs, id)
	}
	r.mu.RUnlock()

	sort.Strings(tokenIDs)
	if err := r.books.SetTokens(ctx, tokenIDs); err != nil {
		return fmt.Errorf("engine/registry: resubscribe: %w", err)
	}
	return nil
}

// Markets returns the live markets in deterministic slug order.
func (r *Registry) Markets() []*MarketState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*MarketState, 0, len(r.markets))
	for _, ms := range r.markets {
		out = append(out, ms)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Market.Slug < out[j].Market.Slug
	})
	return out
}

// Get returns the state for one slug.
func (r *Registry) Get(slug string) (*MarketState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ms, ok := r.markets[slug]
	return ms, ok
}

// Resolve maps an outcome token back to its market and side. Tokens of
// retired markets no longer resolve.
func (r *Registry) Resolve(tokenID string) (*MarketState, domain.Side, bool) {
	r.mu.RLock()
	ref, ok := r.tokens[tokenID]
	if !ok {
		r.mu.RUnlock()
		return nil, "", false
	}
	ms, ok := r.markets[ref.slug]
	r.mu.RUnlock()
	return ms, ref.side, ok
}

// Size returns the number of live markets.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
