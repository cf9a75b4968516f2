package polymarket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGammaClient(baseURL string) *GammaClient {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGammaClient(baseURL, []string{"BTC", "ETH"}, 15*time.Minute, logger)
}

func gammaMarket(slug string, expiry time.Time) apiMarket {
	return apiMarket{
		Slug:         slug,
		ConditionID:  "0xcond-" + slug,
		ClobTokenIDs: `["tok-up","tok-down"]`,
		Outcomes:     `["Up","Down"]`,
		EndDate:      expiry.UTC().Format(time.RFC3339),
		Active:       true,
		Closed:       false,
	}
}

func TestDiscoverMarketsFiltersCandidates(t *testing.T) {
	now := time.Now().UTC()
	markets := []apiMarket{
		gammaMarket("bitcoin-up-or-down-august-23-3pm-et", now.Add(10*time.Minute)),
		gammaMarket("ethereum-up-or-down-august-23-3pm-et", now.Add(8*time.Minute)),
		gammaMarket("solana-up-or-down-august-23-3pm-et", now.Add(10*time.Minute)),  // asset not configured
		gammaMarket("bitcoin-up-or-down-august-23-315pm-et", now.Add(2*time.Minute)), // too close to expiry
		gammaMarket("bitcoin-up-or-down-august-24", now.Add(20*time.Hour)),           // different series
		gammaMarket("will-btc-hit-150k", now.Add(10*time.Minute)),                    // not an up/down market
	}
	inactive := gammaMarket("bitcoin-up-or-down-august-23-330pm-et", now.Add(12*time.Minute))
	inactive.Active = false
	markets = append(markets, inactive)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("active"))
		json.NewEncoder(w).Encode(markets)
	}))
	defer srv.Close()

	g := newTestGammaClient(srv.URL)
	cands, err := g.DiscoverMarkets(context.Background(), 3*time.Minute)
	require.NoError(t, err)
	require.Len(t, cands, 2)

	assert.Equal(t, "bitcoin-up-or-down-august-23-3pm-et", cands[0].Slug)
	assert.Equal(t, "BTC", cands[0].Asset)
	assert.Equal(t, "tok-up", cands[0].UpTokenID)
	assert.Equal(t, "tok-down", cands[0].DownTokenID)
	assert.Equal(t, "ETH", cands[1].Asset)
}

func TestDiscoverMarketsPaginates(t *testing.T) {
	now := time.Now().UTC()
	var offsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset := r.URL.Query().Get("offset")
		offsets = append(offsets, offset)
		if offset == "0" {
			// A full page forces a second request.
			page := make([]apiMarket, gammaPageSize)
			for i := range page {
				page[i] = gammaMarket("will-something-happen", now.Add(10*time.Minute))
			}
			json.NewEncoder(w).Encode(page)
			return
		}
		json.NewEncoder(w).Encode([]apiMarket{
			gammaMarket("bitcoin-up-or-down-august-23-3pm-et", now.Add(10*time.Minute)),
		})
	}))
	defer srv.Close()

	g := newTestGammaClient(srv.URL)
	cands, err := g.DiscoverMarkets(context.Background(), 3*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "100"}, offsets)
	require.Len(t, cands, 1)
}

func TestDiscoverMarketsSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := newTestGammaClient(srv.URL)
	_, err := g.DiscoverMarkets(context.Background(), 3*time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestMatchAsset(t *testing.T) {
	g := newTestGammaClient("http://example.invalid")

	asset, ok := g.matchAsset("bitcoin-up-or-down-august-23-3pm-et")
	require.True(t, ok)
	assert.Equal(t, "BTC", asset)

	_, ok = g.matchAsset("bitcoin-above-100k-august-23")
	assert.False(t, ok, "missing series marker")

	_, ok = g.matchAsset("dogecoin-up-or-down-august-23")
	assert.False(t, ok, "asset not configured")
}
