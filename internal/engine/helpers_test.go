package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMarket(slug string) domain.Market {
	return domain.Market{
		Slug:         slug,
		ConditionID:  "cond-" + slug,
		Asset:        "BTC",
		UpTokenID:    slug + "-up",
		DownTokenID:  slug + "-down",
		Expiry:       time.Now().Add(10 * time.Minute),
		DiscoveredAt: time.Now().Add(-time.Minute),
	}
}

// fakeBooks serves fixture tops and records subscription changes.
type fakeBooks struct {
	tops     map[string]domain.BookTop
	setCalls [][]string
}

func newFakeBooks() *fakeBooks {
	return &fakeBooks{tops: make(map[string]domain.BookTop)}
}

func (f *fakeBooks) set(tokenID string, bid, ask float64) {
	f.tops[tokenID] = domain.BookTop{
		TokenID: tokenID, BestBid: bid, BestAsk: ask, UpdatedAt: time.Now(),
	}
}

func (f *fakeBooks) Top(tokenID string) (domain.BookTop, bool) {
	top, ok := f.tops[tokenID]
	return top, ok
}

func (f *fakeBooks) SetTokens(_ context.Context, tokenIDs []string) error {
	f.setCalls = append(f.setCalls, append([]string(nil), tokenIDs...))
	return nil
}

// fakeOrderClient fills FOK orders completely at the requested price and
// rests GTC orders, unless placeFn or placeErr overrides that.
type fakeOrderClient struct {
	mu        sync.Mutex
	placed    []domain.OrderRequest
	cancelled []string
	open      []domain.OpenOrder
	seq       int

	placeErr error
	placeFn  func(req domain.OrderRequest) (domain.OrderResult, error)
}

func (f *fakeOrderClient) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)

	if f.placeFn != nil {
		return f.placeFn(req)
	}
	if f.placeErr != nil {
		return domain.OrderResult{}, f.placeErr
	}

	f.seq++
	res := domain.OrderResult{OrderID: fmt.Sprintf("order-%d", f.seq), Success: true}
	if req.Type == domain.OrderTypeFOK {
		res.FilledQty = req.Qty
		res.AvgFillPrice = req.Price
	}
	return res, nil
}

func (f *fakeOrderClient) CancelOrder(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeOrderClient) CancelAll(context.Context) error { return nil }

func (f *fakeOrderClient) OpenOrders(context.Context) ([]domain.OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.OpenOrder(nil), f.open...), nil
}

func (f *fakeOrderClient) requests() []domain.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.OrderRequest(nil), f.placed...)
}

// fakeReporter records everything.
type fakeReporter struct {
	mu          sync.Mutex
	settlements []domain.SettlementRecord
	fills       []domain.FillRecord
	inventories []domain.InventoryRecord
	books       [][]domain.BookSnapshot
	alerts      []string
}

func (f *fakeReporter) RecordSettlement(rec domain.SettlementRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settlements = append(f.settlements, rec)
}

func (f *fakeReporter) RecordFill(rec domain.FillRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fills = append(f.fills, rec)
}

func (f *fakeReporter) RecordInventory(rec domain.InventoryRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inventories = append(f.inventories, rec)
}

func (f *fakeReporter) RecordBooks(snaps []domain.BookSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books = append(f.books, snaps)
}

func (f *fakeReporter) RecordAlert(event, _, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, event)
}

// fakeMomentum reports a fixed trend.
type fakeMomentum struct {
	trend domain.TrendDirection
	pct   float64
}

func (f *fakeMomentum) Momentum(string) float64 { return f.pct }

func (f *fakeMomentum) TrendDirection(string) domain.TrendDirection {
	if f.trend == "" {
		return domain.TrendFlat
	}
	return f.trend
}

// fakeLedger implements MarketLedger over a fixture map.
type fakeLedger struct {
	mu           sync.Mutex
	positions    map[string]domain.LedgerPosition
	err          error
	registered   []string
	unregistered []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{positions: make(map[string]domain.LedgerPosition)}
}

func (f *fakeLedger) CachedPosition(_ context.Context, slug string) (domain.LedgerPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.LedgerPosition{}, f.err
	}
	return f.positions[slug], nil
}

func (f *fakeLedger) RegisterMarket(m domain.Market) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, m.Slug)
}

func (f *fakeLedger) UnregisterMarket(slug string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregistered = append(f.unregistered, slug)
}

// fakeDiscoverer returns a fixed candidate list.
type fakeDiscoverer struct {
	candidates []domain.MarketCandidate
	err        error
}

func (f *fakeDiscoverer) DiscoverMarkets(context.Context, time.Duration) ([]domain.MarketCandidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}
