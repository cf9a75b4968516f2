package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

func TestReconcileOverwritesDriftedSide(t *testing.T) {
	ledger := newFakeLedger()
	ledger.positions["btc-r1"] = domain.LedgerPosition{
		Slug: "btc-r1", UpShares: 10, UpCost: 10, DownShares: 5, DownCost: 2,
	}
	rc := NewReconciler(ledger, 0.5, time.Second, testLogger())

	ms := NewMarketState(testMarket("btc-r1"))
	ms.Inventory = domain.Inventory{UpQty: 8, UpCost: 8, DownQty: 5, DownCost: 2}
	ms.LastReconciled = time.Now().Add(-time.Minute)

	require.NoError(t, rc.Reconcile(context.Background(), ms, time.Now()))

	ms.Lock()
	defer ms.Unlock()
	assert.Equal(t, 10.0, ms.Inventory.UpQty, "ledger wins on drift")
	assert.Equal(t, 10.0, ms.Inventory.UpCost)
	assert.Equal(t, 5.0, ms.Inventory.DownQty, "undrifted side untouched")
	assert.Equal(t, 2.0, ms.Inventory.DownCost)
}

func TestReconcileIsIdempotent(t *testing.T) {
	ledger := newFakeLedger()
	ledger.positions["btc-r2"] = domain.LedgerPosition{Slug: "btc-r2", UpShares: 10, UpCost: 10}
	rc := NewReconciler(ledger, 0.5, 0, testLogger())

	ms := NewMarketState(testMarket("btc-r2"))
	ms.Inventory = domain.Inventory{UpQty: 8, UpCost: 8}

	require.NoError(t, rc.Reconcile(context.Background(), ms, time.Now()))
	first := ms.Inventory
	require.NoError(t, rc.Reconcile(context.Background(), ms, time.Now()))

	assert.Equal(t, first, ms.Inventory, "second pass is a no-op")
}

func TestReconcileToleratesDriftWithinEpsilon(t *testing.T) {
	ledger := newFakeLedger()
	ledger.positions["btc-r3"] = domain.LedgerPosition{Slug: "btc-r3", UpShares: 10.3, UpCost: 10.3}
	rc := NewReconciler(ledger, 0.5, 0, testLogger())

	ms := NewMarketState(testMarket("btc-r3"))
	ms.Inventory = domain.Inventory{UpQty: 10, UpCost: 10}

	require.NoError(t, rc.Reconcile(context.Background(), ms, time.Now()))
	assert.Equal(t, 10.0, ms.Inventory.UpQty, "drift 0.3 <= epsilon 0.5 keeps local state")
}

func TestReconcileSkipsUnreachableLedger(t *testing.T) {
	ledger := newFakeLedger()
	ledger.err = fmt.Errorf("fetch: %w", domain.ErrLedgerStale)
	rc := NewReconciler(ledger, 0.5, time.Minute, testLogger())

	ms := NewMarketState(testMarket("btc-r4"))
	ms.Inventory = domain.Inventory{UpQty: 8, UpCost: 8}
	ms.LastReconciled = time.Now().Add(-time.Hour)

	require.NoError(t, rc.Reconcile(context.Background(), ms, time.Now()),
		"a stale ledger is a skip, not a failure")
	assert.Equal(t, 8.0, ms.Inventory.UpQty, "stale ledger never zeroes local state")

	// The skipped pass does not count as a reconciliation: the next tick
	// retries instead of waiting out the interval.
	ledger.mu.Lock()
	ledger.err = nil
	ledger.positions["btc-r4"] = domain.LedgerPosition{Slug: "btc-r4", UpShares: 10, UpCost: 10}
	ledger.mu.Unlock()

	require.NoError(t, rc.Reconcile(context.Background(), ms, time.Now()))
	assert.Equal(t, 10.0, ms.Inventory.UpQty, "retry after recovery applies the ledger")
}

func TestReconcileHonorsInterval(t *testing.T) {
	ledger := newFakeLedger()
	ledger.positions["btc-r5"] = domain.LedgerPosition{Slug: "btc-r5", UpShares: 10, UpCost: 10}
	rc := NewReconciler(ledger, 0.5, time.Minute, testLogger())

	ms := NewMarketState(testMarket("btc-r5"))
	ms.LastReconciled = time.Now().Add(-time.Second)

	require.NoError(t, rc.Reconcile(context.Background(), ms, time.Now()))
	assert.Zero(t, ms.Inventory.UpQty, "not due yet, nothing fetched")
}
