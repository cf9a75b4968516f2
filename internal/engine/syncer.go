package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

// GridParams are the legacy symmetric quoting knobs.
type GridParams struct {
	Levels       int
	SpacingTicks float64
	QuoteSize    float64
	MaxCombined  float64
}

// OrderSynchronizer diffs a desired quote set against currently resting
// orders and issues the minimal place/cancel set. Grid mode only: in pairing
// mode it is never invoked, because the pair tracker's maker orders must not
// be mistaken for stale grid quotes and cancelled. Mode selection happens
// once at startup, not per tick.
type OrderSynchronizer struct {
	params GridParams
	orders domain.OrderClient
	books  BookSource
	logger *slog.Logger
}

// NewOrderSynchronizer creates a synchronizer.
func NewOrderSynchronizer(params GridParams, orders domain.OrderClient, books BookSource, logger *slog.Logger) *OrderSynchronizer {
	return &OrderSynchronizer{
		params: params,
		orders: orders,
		books:  books,
		logger: logger.With(slog.String("component", "order_syncer")),
	}
}

// SyncMarket rebuilds both sides' quote grids for one market. resting is the
// exchange-reported open order set, fetched once per tick by the scheduler.
// A banned market legitimately syncs against an empty target set, which
// cancels every resting quote.
func (os *OrderSynchronizer) SyncMarket(ctx context.Context, ms *MarketState, resting []domain.OpenOrder) (placed, cancelled int, err error) {
	ms.Lock()
	banned := ms.Banned
	ms.Unlock()

	for _, side := range []domain.Side{domain.SideUp, domain.SideDown} {
		tokenID := ms.Market.TokenID(side)

		var targets []domain.PriceLevel
		if !banned {
			targets = os.buildGrid(ms, side)
		}

		var sideResting []domain.OpenOrder
		for _, o := range resting {
			if o.TokenID == tokenID && o.Side == domain.OrderSideBuy {
				sideResting = append(sideResting, o)
			}
		}

		p, c, serr := os.syncSide(ctx, tokenID, targets, sideResting)
		placed += p
		cancelled += c
		if serr != nil && err == nil {
			err = serr
		}
	}
	return placed, cancelled, err
}

// buildGrid computes the desired bid ladder for one side: quotes stepped down
// from the best bid, skipped entirely when pairing both sides at these levels
// could not come in under the combined-cost cap.
func (os *OrderSynchronizer) buildGrid(ms *MarketState, side domain.Side) []domain.PriceLevel {
	top, ok := os.books.Top(ms.Market.TokenID(side))
	if !ok || !top.Live() {
		return nil
	}
	otherTop, ok := os.books.Top(ms.Market.TokenID(side.Opposite()))
	if !ok || !otherTop.Live() {
		return nil
	}
	if top.BestBid+otherTop.BestBid >= os.params.MaxCombined {
		return nil
	}

	targets := make([]domain.PriceLevel, 0, os.params.Levels)
	for i := 0; i < os.params.Levels; i++ {
		price := roundToCent(top.BestBid - float64(i)*os.params.SpacingTicks)
		if price <= 0 {
			break
		}
		targets = append(targets, domain.PriceLevel{Price: price, Size: os.params.QuoteSize})
	}
	return targets
}

// syncSide cancels resting orders absent from the target set and places
// targets with no matching resting order. Matching is by price tick and size.
func (os *OrderSynchronizer) syncSide(ctx context.Context, tokenID string, targets []domain.PriceLevel, resting []domain.OpenOrder) (placed, cancelled int, err error) {
	matched := make(map[string]bool, len(resting)) // order ID -> kept
	needed := make([]domain.PriceLevel, 0, len(targets))

	for _, t := range targets {
		found := false
		for _, o := range resting {
			if matched[o.OrderID] {
				continue
			}
			if sameTick(o.Price, t.Price) && sameTick(o.Qty, t.Size) {
				matched[o.OrderID] = true
				found = true
				break
			}
		}
		if !found {
			needed = append(needed, t)
		}
	}

	for _, o := range resting {
		if matched[o.OrderID] {
			continue
		}
		if cerr := os.orders.CancelOrder(ctx, o.OrderID); cerr != nil {
			os.logger.Warn("grid cancel failed",
				slog.String("order", o.OrderID), slog.String("error", cerr.Error()))
			if err == nil {
				err = fmt.Errorf("engine/syncer: cancel: %w", cerr)
			}
			continue
		}
		cancelled++
	}

	for _, t := range needed {
		_, perr := os.orders.PlaceOrder(ctx, domain.OrderRequest{
			TokenID: tokenID,
			Side:    domain.OrderSideBuy,
			Price:   t.Price,
			Qty:     t.Size,
			Type:    domain.OrderTypeGTC,
		})
		if perr != nil {
			os.logger.Warn("grid place failed",
				slog.String("token", tokenID),
				slog.Float64("price", t.Price),
				slog.String("error", perr.Error()))
			if err == nil {
				err = fmt.Errorf("engine/syncer: place: %w", perr)
			}
			continue
		}
		placed++
	}

	return placed, cancelled, err
}

// sameTick compares two prices or sizes at cent resolution.
func sameTick(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}
