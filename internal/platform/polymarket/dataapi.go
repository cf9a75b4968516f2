package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

// DataClient reads authoritative wallet positions from the data API and
// serves them through a short TTL cache, so reconciliation ticks do not turn
// into one HTTP call per market per second. It implements
// domain.PositionLedger.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
	wallet     string
	ttl        time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	markets map[string]domain.Market   // slug -> identity, for token mapping
	cache   map[string]cachedPosition // slug -> last authoritative read
}

type cachedPosition struct {
	pos       domain.LedgerPosition
	fetchedAt time.Time
}

// NewDataClient creates a position ledger for the given wallet address.
// ttl bounds how stale a served position may be before a refetch.
func NewDataClient(baseURL, wallet string, ttl time.Duration, logger *slog.Logger) *DataClient {
	return &DataClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		wallet:     wallet,
		ttl:        ttl,
		logger:     logger.With(slog.String("component", "data_api")),
		markets:    make(map[string]domain.Market),
		cache:      make(map[string]cachedPosition),
	}
}

// RegisterMarket makes a market's positions resolvable. The ledger needs the
// market identity to map outcome token IDs back to up/down legs.
func (d *DataClient) RegisterMarket(m domain.Market) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.markets[m.Slug] = m
}

// UnregisterMarket drops a market and its cached position.
func (d *DataClient) UnregisterMarket(slug string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.markets, slug)
	delete(d.cache, slug)
}

// CachedPosition returns the authoritative position for one market, fetching
// from the data API when the cache entry is older than the TTL. When a fetch
// fails and no cached value exists, the error wraps domain.ErrLedgerStale so
// callers can skip reconciliation rather than trust local bookkeeping.
func (d *DataClient) CachedPosition(ctx context.Context, slug string) (domain.LedgerPosition, error) {
	d.mu.Lock()
	market, registered := d.markets[slug]
	entry, cached := d.cache[slug]
	d.mu.Unlock()

	if !registered {
		return domain.LedgerPosition{}, fmt.Errorf("polymarket/data: market %s: %w", slug, domain.ErrNotFound)
	}
	if cached && time.Since(entry.fetchedAt) < d.ttl {
		return entry.pos, nil
	}

	pos, err := d.fetchPosition(ctx, market)
	if err != nil {
		if cached {
			// Serve the stale value; the reconciler's drift check decides
			// whether it is still usable.
			d.logger.Warn("position fetch failed, serving stale cache",
				slog.String("slug", slug), slog.String("error", err.Error()))
			return entry.pos, nil
		}
		return domain.LedgerPosition{}, fmt.Errorf("polymarket/data: fetch %s: %w: %v", slug, domain.ErrLedgerStale, err)
	}

	d.mu.Lock()
	d.cache[slug] = cachedPosition{pos: pos, fetchedAt: time.Now()}
	d.mu.Unlock()
	return pos, nil
}

// fetchPosition reads the wallet's positions for one market and folds the
// outcome-token entries into an up/down position. A market absent from the
// response is a genuine zero position, not an error.
func (d *DataClient) fetchPosition(ctx context.Context, m domain.Market) (domain.LedgerPosition, error) {
	params := url.Values{}
	params.Set("user", d.wallet)
	params.Set("market", m.ConditionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/positions?"+params.Encode(), nil)
	if err != nil {
		return domain.LedgerPosition{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return domain.LedgerPosition{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.LedgerPosition{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.LedgerPosition{}, domain.ErrRateLimited
	}
	if resp.StatusCode >= 400 {
		return domain.LedgerPosition{}, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	var positions []apiPosition
	if err := json.Unmarshal(body, &positions); err != nil {
		return domain.LedgerPosition{}, fmt.Errorf("decode positions: %w", err)
	}

	pos := domain.LedgerPosition{Slug: m.Slug, FetchedAt: time.Now().UTC()}
	for _, p := range positions {
		switch p.Asset {
		case m.UpTokenID:
			pos.UpShares = p.Size
			pos.UpCost = p.Size * p.AvgPrice
		case m.DownTokenID:
			pos.DownShares = p.Size
			pos.DownCost = p.Size * p.AvgPrice
		}
	}
	return pos, nil
}

var _ domain.PositionLedger = (*DataClient)(nil)
