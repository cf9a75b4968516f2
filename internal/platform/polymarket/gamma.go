package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

// gammaPageSize is the page size for market listing requests.
const gammaPageSize = 100

// assetSlugKeys maps an underlying symbol to the token that appears in the
// market slug of its up/down series, e.g. "bitcoin-up-or-down-august-23-3pm-et".
var assetSlugKeys = map[string]string{
	"BTC": "bitcoin",
	"ETH": "ethereum",
	"SOL": "solana",
	"XRP": "xrp",
}

// GammaClient discovers tradable up/down markets from the Gamma metadata API.
// It implements domain.MarketDiscoverer.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	assets     []string
	seriesLen  time.Duration
	logger     *slog.Logger
}

// NewGammaClient creates a discoverer for the given underlying assets.
// seriesLen is the nominal lifetime of one market in the series (15 minutes
// for the quarter-hour up/down series); candidates whose remaining time
// exceeds it are a different series and are skipped.
func NewGammaClient(baseURL string, assets []string, seriesLen time.Duration, logger *slog.Logger) *GammaClient {
	return &GammaClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		assets:     assets,
		seriesLen:  seriesLen,
		logger:     logger.With(slog.String("component", "gamma")),
	}
}

// DiscoverMarkets lists active markets and returns the up/down candidates for
// the configured assets with at least minTimeToExpiry remaining.
func (g *GammaClient) DiscoverMarkets(ctx context.Context, minTimeToExpiry time.Duration) ([]domain.MarketCandidate, error) {
	now := time.Now().UTC()
	var out []domain.MarketCandidate

	for offset := 0; ; offset += gammaPageSize {
		markets, err := g.listMarkets(ctx, offset)
		if err != nil {
			return nil, fmt.Errorf("polymarket/gamma: list markets: %w", err)
		}

		for _, m := range markets {
			cand, ok := g.candidate(m, now, minTimeToExpiry)
			if !ok {
				continue
			}
			out = append(out, cand)
		}

		if len(markets) < gammaPageSize {
			break
		}
	}

	g.logger.Debug("discovery complete", slog.Int("candidates", len(out)))
	return out, nil
}

// candidate filters one raw market down to an up/down candidate for a
// configured asset, or reports false.
func (g *GammaClient) candidate(m apiMarket, now time.Time, minTimeToExpiry time.Duration) (domain.MarketCandidate, bool) {
	if !m.Active || m.Closed {
		return domain.MarketCandidate{}, false
	}

	asset, ok := g.matchAsset(m.Slug)
	if !ok {
		return domain.MarketCandidate{}, false
	}

	expiry, ok := m.expiry()
	if !ok {
		return domain.MarketCandidate{}, false
	}
	remaining := expiry.Sub(now)
	if remaining < minTimeToExpiry || remaining > g.seriesLen {
		return domain.MarketCandidate{}, false
	}

	up, down, ok := m.tokenPair()
	if !ok {
		return domain.MarketCandidate{}, false
	}

	return domain.MarketCandidate{
		Slug:        m.Slug,
		ConditionID: m.ConditionID,
		Asset:       asset,
		UpTokenID:   up,
		DownTokenID: down,
		Expiry:      expiry,
	}, true
}

// matchAsset reports which configured asset an up/down market slug belongs
// to. The slug must name the asset and carry the up-or-down series marker.
func (g *GammaClient) matchAsset(slug string) (string, bool) {
	if !strings.Contains(slug, "up-or-down") {
		return "", false
	}
	for _, asset := range g.assets {
		key, ok := assetSlugKeys[strings.ToUpper(asset)]
		if !ok {
			key = strings.ToLower(asset)
		}
		if strings.HasPrefix(slug, key+"-") {
			return strings.ToUpper(asset), true
		}
	}
	return "", false
}

// listMarkets fetches one page of active markets ordered by end date.
func (g *GammaClient) listMarkets(ctx context.Context, offset int) ([]apiMarket, error) {
	params := url.Values{}
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("order", "endDate")
	params.Set("ascending", "true")
	params.Set("limit", strconv.Itoa(gammaPageSize))
	params.Set("offset", strconv.Itoa(offset))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/markets?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.ErrRateLimited
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	var markets []apiMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return nil, fmt.Errorf("decode markets: %w", err)
	}
	return markets, nil
}

var _ domain.MarketDiscoverer = (*GammaClient)(nil)
