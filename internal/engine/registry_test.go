package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

func testCandidate(slug string, expiry time.Time) domain.MarketCandidate {
	return domain.MarketCandidate{
		Slug:        slug,
		ConditionID: "cond-" + slug,
		Asset:       "BTC",
		UpTokenID:   slug + "-up",
		DownTokenID: slug + "-down",
		Expiry:      expiry,
	}
}

func newTestRegistry(disc *fakeDiscoverer, ledger *fakeLedger, books *fakeBooks, rep *fakeReporter) *Registry {
	return NewRegistry(disc, ledger, books, rep, 6, 3*time.Minute, 35, testLogger())
}

func TestRefreshAcceptsCandidatesAndSubscribes(t *testing.T) {
	expiry := time.Now().Add(10 * time.Minute)
	disc := &fakeDiscoverer{candidates: []domain.MarketCandidate{
		testCandidate("btc-a", expiry),
		testCandidate("btc-b", expiry),
	}}
	ledger := newFakeLedger()
	books := newFakeBooks()
	r := newTestRegistry(disc, ledger, books, &fakeReporter{})

	require.NoError(t, r.Refresh(context.Background()))

	assert.Equal(t, 2, r.Size())
	assert.Equal(t, []string{"btc-a", "btc-b"}, ledger.registered)
	require.Len(t, books.setCalls, 1)
	assert.ElementsMatch(t,
		[]string{"btc-a-up", "btc-a-down", "btc-b-up", "btc-b-down"},
		books.setCalls[0])

	// Re-running with the same candidates changes nothing.
	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, 2, r.Size())
	assert.Len(t, books.setCalls, 1, "no resubscribe without membership change")
}

func TestRefreshSeedsInventoryFromLedger(t *testing.T) {
	disc := &fakeDiscoverer{candidates: []domain.MarketCandidate{
		testCandidate("btc-c", time.Now().Add(10*time.Minute)),
	}}
	ledger := newFakeLedger()
	ledger.positions["btc-c"] = domain.LedgerPosition{
		Slug: "btc-c", UpShares: 4, UpCost: 2, DownShares: 3, DownCost: 1,
	}
	r := newTestRegistry(disc, ledger, newFakeBooks(), &fakeReporter{})

	require.NoError(t, r.Refresh(context.Background()))

	ms, ok := r.Get("btc-c")
	require.True(t, ok)
	assert.Equal(t, 4.0, ms.Inventory.UpQty)
	assert.Equal(t, 3.0, ms.Inventory.DownQty)
}

func TestRefreshRejectsPreExistingImbalance(t *testing.T) {
	disc := &fakeDiscoverer{candidates: []domain.MarketCandidate{
		testCandidate("btc-d", time.Now().Add(10*time.Minute)),
	}}
	ledger := newFakeLedger()
	ledger.positions["btc-d"] = domain.LedgerPosition{Slug: "btc-d", UpShares: 50}
	r := newTestRegistry(disc, ledger, newFakeBooks(), &fakeReporter{})

	require.NoError(t, r.Refresh(context.Background()))

	assert.Zero(t, r.Size(), "50 unpaired > 35 limit")
	assert.Contains(t, ledger.unregistered, "btc-d")
}

func TestRefreshRespectsMarketCap(t *testing.T) {
	expiry := time.Now().Add(10 * time.Minute)
	disc := &fakeDiscoverer{candidates: []domain.MarketCandidate{
		testCandidate("btc-1", expiry), testCandidate("btc-2", expiry),
		testCandidate("btc-3", expiry),
	}}
	r := NewRegistry(disc, newFakeLedger(), newFakeBooks(), &fakeReporter{}, 2, 3*time.Minute, 35, testLogger())

	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, 2, r.Size())
}

func TestCleanupRetiresExpiredExactlyOnce(t *testing.T) {
	expiry := time.Now().Add(-time.Minute)
	disc := &fakeDiscoverer{candidates: []domain.MarketCandidate{
		testCandidate("btc-e", expiry),
	}}
	ledger := newFakeLedger()
	books := newFakeBooks()
	rep := &fakeReporter{}
	r := newTestRegistry(disc, ledger, books, rep)
	require.NoError(t, r.Refresh(context.Background()))

	ms, _ := r.Get("btc-e")
	ms.Lock()
	ms.Inventory = domain.Inventory{UpQty: 10, UpCost: 5.5, DownQty: 10, DownCost: 4}
	ms.banLocked("test", time.Now())
	ms.Unlock()

	require.NoError(t, r.Cleanup(context.Background(), time.Now()))

	assert.Zero(t, r.Size())
	require.Len(t, rep.settlements, 1)
	rec := rep.settlements[0]
	assert.Equal(t, "btc-e", rec.Slug)
	assert.True(t, rec.Estimated)
	assert.Equal(t, 10.0, rec.PairedQty)
	assert.InDelta(t, 0.95, rec.CombinedCost, 1e-9)
	assert.InDelta(t, 0.50, rec.LockedProfit, 1e-9)
	assert.Contains(t, ledger.unregistered, "btc-e")

	// Tokens of a retired market stop resolving.
	_, _, ok := r.Resolve("btc-e-up")
	assert.False(t, ok)

	// A second pass emits nothing: the record is exactly-once.
	require.NoError(t, r.Cleanup(context.Background(), time.Now()))
	assert.Len(t, rep.settlements, 1)
}

func TestResolveMapsTokensToMarketAndSide(t *testing.T) {
	disc := &fakeDiscoverer{candidates: []domain.MarketCandidate{
		testCandidate("btc-f", time.Now().Add(10*time.Minute)),
	}}
	r := newTestRegistry(disc, newFakeLedger(), newFakeBooks(), &fakeReporter{})
	require.NoError(t, r.Refresh(context.Background()))

	ms, side, ok := r.Resolve("btc-f-up")
	require.True(t, ok)
	assert.Equal(t, "btc-f", ms.Market.Slug)
	assert.Equal(t, domain.SideUp, side)

	ms, side, ok = r.Resolve("btc-f-down")
	require.True(t, ok)
	assert.Equal(t, domain.SideDown, side)
	assert.Equal(t, "btc-f", ms.Market.Slug)

	_, _, ok = r.Resolve("unknown-token")
	assert.False(t, ok)
}
