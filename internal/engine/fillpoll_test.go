package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

// fillPollFixture wires an engine with one registered market holding one
// awaiting-hedge pair whose maker order rests on the down side.
type fillPollFixture struct {
	engine   *Engine
	tracker  *PairTracker
	market   *MarketState
	pair     *domain.Pair
	orders   *fakeOrderClient
	books    *fakeBooks
	momentum *fakeMomentum
	reporter *fakeReporter
}

func newFillPollFixture(t *testing.T) *fillPollFixture {
	t.Helper()

	disc := &fakeDiscoverer{candidates: []domain.MarketCandidate{
		testCandidate("btc-fp", time.Now().Add(10*time.Minute)),
	}}
	books := newFakeBooks()
	rep := &fakeReporter{}
	reg := newTestRegistry(disc, newFakeLedger(), books, rep)
	require.NoError(t, reg.Refresh(context.Background()))

	orders := &fakeOrderClient{}
	momentum := &fakeMomentum{}
	tracker := NewPairTracker(PairingParams{
		TargetCombinedPrice: 0.95,
		MinMakerPrice:       0.05,
		LotSize:             10,
		MaxPendingPairs:     3,
		HedgeTimeout:        30 * time.Second,
		ClosedGracePeriod:   time.Minute,
	}, orders, books, momentum, rep, testLogger())

	ms, ok := reg.Get("btc-fp")
	require.True(t, ok)

	pair := &domain.Pair{
		ID:            "pair-1",
		Slug:          "btc-fp",
		ExpensiveSide: domain.SideUp,
		CheapSide:     domain.SideDown,
		TakerQty:      10,
		TakerPrice:    0.55,
		MakerOrderID:  "maker-1",
		MakerPrice:    0.40,
		MakerQty:      10,
		Status:        domain.PairAwaitingHedge,
		OpenedAt:      time.Now(),
	}
	ms.Lock()
	ms.Pairs[pair.ID] = pair
	ms.Inventory.Add(domain.SideUp, 10, 0.55)
	ms.Unlock()

	e := &Engine{
		registry:    reg,
		tracker:     tracker,
		logger:      testLogger(),
		seenResting: make(map[string]float64),
	}
	return &fillPollFixture{
		engine: e, tracker: tracker, market: ms, pair: pair,
		orders: orders, books: books, momentum: momentum, reporter: rep,
	}
}

func (fx *fillPollFixture) restingMaker(filled float64) []domain.OpenOrder {
	return []domain.OpenOrder{{
		OrderID:   "maker-1",
		TokenID:   "btc-fp-down",
		Side:      domain.OrderSideBuy,
		Price:     0.40,
		Qty:       10,
		FilledQty: filled,
	}}
}

func TestFillPollDispatchesMatchedQuantityGrowth(t *testing.T) {
	fx := newFillPollFixture(t)
	now := time.Now().UTC()

	fx.engine.applyFillPoll(fx.restingMaker(0), now)
	fx.engine.applyFillPoll(fx.restingMaker(4), now)

	fx.market.Lock()
	defer fx.market.Unlock()
	assert.Equal(t, 4.0, fx.pair.MakerFilled)
	assert.Equal(t, domain.PairAwaitingHedge, fx.pair.Status)
	assert.Equal(t, 4.0, fx.market.Inventory.DownQty)
	assert.Len(t, fx.reporter.fills, 1)
}

func TestFillPollVanishedOrderCompletesHedge(t *testing.T) {
	fx := newFillPollFixture(t)
	now := time.Now().UTC()

	fx.engine.applyFillPoll(fx.restingMaker(0), now)
	fx.engine.applyFillPoll(nil, now)

	fx.market.Lock()
	defer fx.market.Unlock()
	assert.Equal(t, domain.PairHedged, fx.pair.Status)
	assert.Equal(t, 10.0, fx.pair.MakerFilled)
	assert.Equal(t, 10.0, fx.market.Inventory.DownQty)
	assert.InDelta(t, 0.50, fx.pair.PnL, 1e-9, "10 shares at 0.95 combined")
}

func TestFillPollIgnoresMakersWithCancelInFlight(t *testing.T) {
	fx := newFillPollFixture(t)
	now := time.Now().UTC()

	fx.engine.applyFillPoll(fx.restingMaker(0), now)

	// A cancel has been issued but the pair has not reached a terminal
	// state yet; the order's disappearance must not read as a fill.
	fx.market.Lock()
	fx.pair.CancelPending = true
	fx.market.Unlock()

	fx.engine.applyFillPoll(nil, now)

	fx.market.Lock()
	defer fx.market.Unlock()
	assert.Equal(t, domain.PairAwaitingHedge, fx.pair.Status)
	assert.Zero(t, fx.pair.MakerFilled, "cancelled order produced no fill")
	assert.Zero(t, fx.market.Inventory.DownQty)
	assert.Zero(t, fx.pair.PnL)
	assert.Empty(t, fx.reporter.fills)
}

func TestHedgeTimeoutCancelNeverReadsAsFill(t *testing.T) {
	fx := newFillPollFixture(t)
	ctx := context.Background()

	fx.engine.applyFillPoll(fx.restingMaker(0), time.Now().UTC())

	// Past the hedge deadline: the tracker cancels the maker and times the
	// pair out. The next poll sees the cancelled order gone.
	late := fx.pair.OpenedAt.Add(time.Minute)
	fx.tracker.CheckTimeouts(ctx, fx.market, late)
	fx.engine.applyFillPoll(nil, late)

	fx.market.Lock()
	defer fx.market.Unlock()
	assert.Equal(t, []string{"maker-1"}, fx.orders.cancelled)
	assert.True(t, fx.pair.CancelPending)
	assert.Equal(t, domain.PairTimedOut, fx.pair.Status)
	assert.Zero(t, fx.pair.MakerFilled)
	assert.Zero(t, fx.market.Inventory.DownQty)
	assert.Zero(t, fx.pair.PnL, "no maker fill means no estimated edge")
}

func TestEmergencyCancelWithoutAskNeverReadsAsFill(t *testing.T) {
	fx := newFillPollFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	fx.engine.applyFillPoll(fx.restingMaker(0), now)

	// Momentum turns toward the cheap (down) side but the down book has no
	// ask: the tracker cancels the maker and leaves the pair for the
	// timeout. The vanished order must not hedge the pair.
	fx.momentum.trend = domain.TrendDown
	fx.tracker.CheckReversal(ctx, fx.market, now)
	fx.engine.applyFillPoll(nil, now)

	fx.market.Lock()
	defer fx.market.Unlock()
	assert.Equal(t, []string{"maker-1"}, fx.orders.cancelled)
	assert.Equal(t, domain.PairAwaitingHedge, fx.pair.Status)
	assert.True(t, fx.pair.CancelPending)
	assert.Zero(t, fx.pair.MakerFilled)
	assert.Zero(t, fx.market.Inventory.DownQty)
}

func TestMakerRetryClearsCancelPending(t *testing.T) {
	fx := newFillPollFixture(t)
	ctx := context.Background()

	fx.market.Lock()
	fx.pair.CancelPending = true
	fx.pair.MakerOrderID = ""
	fx.market.Unlock()

	fx.tracker.RetryMakers(ctx, fx.market)

	fx.market.Lock()
	defer fx.market.Unlock()
	require.NotEmpty(t, fx.pair.MakerOrderID)
	assert.False(t, fx.pair.CancelPending, "fresh maker order is pollable again")
}
