package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

// PairingParams are the taker/maker strategy knobs.
type PairingParams struct {
	TargetCombinedPrice float64
	MinMakerPrice       float64
	LotSize             float64
	MaxPendingPairs     int
	HedgeTimeout        time.Duration
	ObservationDelay    time.Duration
	ClosedGracePeriod   time.Duration
}

// PairTracker runs the taker/maker pairing state machine, the engine's
// primary alpha mechanism. Each pair buys the expensive side aggressively,
// then rests a maker limit on the cheap side priced so that both legs sum to
// the target combined price. The maker leg is only ever placed after, and
// sized at most equal to, the taker fill — that ordering is what enforces the
// taker-quantity >= maker-quantity invariant.
type PairTracker struct {
	params   PairingParams
	orders   domain.OrderClient
	books    BookSource
	momentum domain.MomentumSource
	reporter Reporter
	logger   *slog.Logger
}

// NewPairTracker creates a tracker.
func NewPairTracker(
	params PairingParams,
	orders domain.OrderClient,
	books BookSource,
	momentum domain.MomentumSource,
	reporter Reporter,
	logger *slog.Logger,
) *PairTracker {
	return &PairTracker{
		params:   params,
		orders:   orders,
		books:    books,
		momentum: momentum,
		reporter: reporter,
		logger:   logger.With(slog.String("component", "pair_tracker")),
	}
}

// EvaluateEntry decides whether to open a new pair on this market and, if so,
// executes the taker leg and places the maker leg. The taker order goes out
// unconditionally once capacity allows: the combined-cost constraint is
// enforced by the maker price after the fill, not by a pre-trade check.
func (pt *PairTracker) EvaluateEntry(ctx context.Context, ms *MarketState, now time.Time) error {
	if now.Sub(ms.Market.DiscoveredAt) < pt.params.ObservationDelay {
		return nil
	}

	ms.Lock()
	banned := ms.Banned
	capacity := ms.openPairsLocked() < pt.params.MaxPendingPairs
	ms.Unlock()

	if banned || !capacity {
		return nil
	}

	upTop, upOK := pt.books.Top(ms.Market.UpTokenID)
	downTop, downOK := pt.books.Top(ms.Market.DownTokenID)
	if !upOK || !downOK || !upTop.Live() || !downTop.Live() {
		return nil
	}

	// The expensive side is whichever currently asks more; ties go to up.
	expensive, cheap := domain.SideUp, domain.SideDown
	takerAsk := upTop.BestAsk
	if downTop.BestAsk > upTop.BestAsk {
		expensive, cheap = domain.SideDown, domain.SideUp
		takerAsk = downTop.BestAsk
	}

	result, err := pt.orders.PlaceOrder(ctx, domain.OrderRequest{
		TokenID: ms.Market.TokenID(expensive),
		Side:    domain.OrderSideBuy,
		Price:   takerAsk,
		Qty:     pt.params.LotSize,
		Type:    domain.OrderTypeFOK,
	})
	if err != nil {
		// A failed taker aborts pair creation entirely; no partial state.
		pt.logger.Warn("taker leg failed",
			slog.String("slug", ms.Market.Slug),
			slog.String("side", string(expensive)),
			slog.Float64("price", takerAsk),
			slog.String("error", err.Error()))
		return err
	}
	if result.FilledQty <= 0 {
		return nil
	}

	pair := &domain.Pair{
		ID:            uuid.New().String(),
		Slug:          ms.Market.Slug,
		ExpensiveSide: expensive,
		CheapSide:     cheap,
		TakerQty:      result.FilledQty,
		TakerPrice:    result.AvgFillPrice,
		Status:        domain.PairAwaitingHedge,
		OpenedAt:      now,
	}

	ms.Lock()
	ms.Pairs[pair.ID] = pair
	ms.Inventory.Add(expensive, result.FilledQty, result.AvgFillPrice)
	ms.Unlock()

	pt.reporter.RecordFill(domain.FillRecord{
		ID:       uuid.New().String(),
		Slug:     ms.Market.Slug,
		TokenID:  ms.Market.TokenID(expensive),
		Side:     domain.OrderSideBuy,
		Price:    result.AvgFillPrice,
		Qty:      result.FilledQty,
		OrderID:  result.OrderID,
		PairID:   pair.ID,
		Occurred: now,
	})

	pt.logger.Info("taker leg filled",
		slog.String("slug", ms.Market.Slug),
		slog.String("pair", pair.ID),
		slog.String("side", string(expensive)),
		slog.Float64("qty", result.FilledQty),
		slog.Float64("price", result.AvgFillPrice))

	return pt.placeMaker(ctx, ms, pair)
}

// placeMaker rests the cheap-side hedge for one pair. A failed placement
// leaves the pair awaiting hedge with no order ID; RetryMakers re-attempts it
// every tick until the hedge timeout escalates. The pair is never dropped: it
// represents a real, unhedged exchange position.
func (pt *PairTracker) placeMaker(ctx context.Context, ms *MarketState, pair *domain.Pair) error {
	ms.Lock()
	remaining := pair.TakerQty - pair.MakerFilled
	takerPrice := pair.TakerPrice
	cheap := pair.CheapSide
	ms.Unlock()

	if remaining <= 0 {
		return fmt.Errorf("engine/pairtracker: pair %s: %w", pair.ID, domain.ErrLegImbalance)
	}

	price := pt.params.TargetCombinedPrice - takerPrice
	if price < pt.params.MinMakerPrice {
		price = pt.params.MinMakerPrice
	}
	price = roundToCent(price)

	result, err := pt.orders.PlaceOrder(ctx, domain.OrderRequest{
		TokenID: ms.Market.TokenID(cheap),
		Side:    domain.OrderSideBuy,
		Price:   price,
		Qty:     remaining,
		Type:    domain.OrderTypeGTC,
	})
	if err != nil {
		pt.logger.Warn("maker leg placement failed, will retry",
			slog.String("slug", ms.Market.Slug),
			slog.String("pair", pair.ID),
			slog.Float64("price", price),
			slog.String("error", err.Error()))
		return err
	}

	ms.Lock()
	pair.MakerOrderID = result.OrderID
	pair.MakerPrice = price
	pair.MakerQty = remaining
	pair.CancelPending = false
	ms.Unlock()

	pt.logger.Info("maker leg resting",
		slog.String("slug", ms.Market.Slug),
		slog.String("pair", pair.ID),
		slog.String("side", string(cheap)),
		slog.Float64("qty", remaining),
		slog.Float64("price", price))
	return nil
}

// RetryMakers re-places the maker leg for pairs whose placement failed.
func (pt *PairTracker) RetryMakers(ctx context.Context, ms *MarketState) {
	ms.Lock()
	var pending []*domain.Pair
	for _, p := range ms.Pairs {
		if p.Status == domain.PairAwaitingHedge && p.MakerOrderID == "" {
			pending = append(pending, p)
		}
	}
	ms.Unlock()

	for _, p := range pending {
		if err := pt.placeMaker(ctx, ms, p); err != nil {
			// Logged inside placeMaker; the timeout path escalates.
			continue
		}
	}
}

// OnMakerFill applies a fill observed on a resting maker order. Fill quantity
// beyond the resting size is clamped and logged rather than applied, so a
// duplicate fill event can never push the maker leg past the taker leg.
func (pt *PairTracker) OnMakerFill(ms *MarketState, ev domain.FillEvent, now time.Time) {
	ms.Lock()
	defer ms.Unlock()

	var pair *domain.Pair
	for _, p := range ms.Pairs {
		if p.MakerOrderID == ev.OrderID && !p.Status.Closed() {
			pair = p
			break
		}
	}
	if pair == nil {
		return
	}

	qty := ev.Qty
	if over := pair.MakerFilled + qty - pair.MakerQty; over > 0 {
		pt.logger.Warn("maker fill exceeds resting size, clamping",
			slog.String("pair", pair.ID), slog.Float64("excess", over))
		qty = pair.MakerQty - pair.MakerFilled
	}
	if qty <= 0 {
		return
	}

	pair.MakerFilled += qty
	ms.Inventory.Add(pair.CheapSide, qty, ev.Price)

	pt.reporter.RecordFill(domain.FillRecord{
		ID:       uuid.New().String(),
		Slug:     ms.Market.Slug,
		TokenID:  ev.TokenID,
		Side:     domain.OrderSideBuy,
		Price:    ev.Price,
		Qty:      qty,
		OrderID:  ev.OrderID,
		PairID:   pair.ID,
		Occurred: now,
	})

	if pair.Hedged() {
		pt.closeLocked(ms, pair, domain.PairHedged, now)
	}
}

// CheckTimeouts closes pairs whose maker leg went unfilled past the hedge
// deadline. The deadline is a wall clock checked every tick, not a timer.
func (pt *PairTracker) CheckTimeouts(ctx context.Context, ms *MarketState, now time.Time) {
	ms.Lock()
	var timedOut []*domain.Pair
	for _, p := range ms.Pairs {
		if p.Status == domain.PairAwaitingHedge && now.Sub(p.OpenedAt) > pt.params.HedgeTimeout {
			// Marked before the cancel goes out so the fill poll never reads
			// the order's disappearance as a fill.
			if p.MakerOrderID != "" {
				p.CancelPending = true
			}
			timedOut = append(timedOut, p)
		}
	}
	ms.Unlock()

	for _, p := range timedOut {
		if p.MakerOrderID != "" {
			if err := pt.orders.CancelOrder(ctx, p.MakerOrderID); err != nil {
				pt.logger.Warn("cancel timed-out maker failed",
					slog.String("pair", p.ID), slog.String("error", err.Error()))
			}
		}

		ms.Lock()
		if p.Status == domain.PairAwaitingHedge {
			pt.closeLocked(ms, p, domain.PairTimedOut, now)
		}
		ms.Unlock()
	}
}

// CheckReversal force-hedges awaiting pairs when momentum turns toward the
// cheap side: the taker leg is about to lose value, so the hedge is completed
// aggressively at the ask to cap the loss instead of waiting for the maker
// price that will no longer print.
func (pt *PairTracker) CheckReversal(ctx context.Context, ms *MarketState, now time.Time) {
	trend := pt.momentum.TrendDirection(ms.Market.Asset)
	if trend == domain.TrendFlat {
		return
	}

	ms.Lock()
	var atRisk []*domain.Pair
	for _, p := range ms.Pairs {
		if p.Status != domain.PairAwaitingHedge {
			continue
		}
		cheapGaining := (p.CheapSide == domain.SideUp && trend == domain.TrendUp) ||
			(p.CheapSide == domain.SideDown && trend == domain.TrendDown)
		if cheapGaining {
			atRisk = append(atRisk, p)
		}
	}
	ms.Unlock()

	for _, p := range atRisk {
		pt.emergencyClose(ctx, ms, p, now)
	}
}

// emergencyClose cancels the resting maker leg and crosses the spread on the
// cheap side for the unhedged quantity.
func (pt *PairTracker) emergencyClose(ctx context.Context, ms *MarketState, pair *domain.Pair, now time.Time) {
	if pair.MakerOrderID != "" {
		ms.Lock()
		pair.CancelPending = true
		ms.Unlock()
		if err := pt.orders.CancelOrder(ctx, pair.MakerOrderID); err != nil {
			pt.logger.Warn("emergency cancel failed",
				slog.String("pair", pair.ID), slog.String("error", err.Error()))
		}
	}

	top, ok := pt.books.Top(ms.Market.TokenID(pair.CheapSide))
	if !ok || top.BestAsk <= 0 {
		pt.logger.Warn("emergency close: no ask on cheap side, leaving pair for timeout",
			slog.String("pair", pair.ID))
		return
	}

	ms.Lock()
	remaining := pair.TakerQty - pair.MakerFilled
	ms.Unlock()
	if remaining <= 0 {
		return
	}

	result, err := pt.orders.PlaceOrder(ctx, domain.OrderRequest{
		TokenID: ms.Market.TokenID(pair.CheapSide),
		Side:    domain.OrderSideBuy,
		Price:   top.BestAsk,
		Qty:     remaining,
		Type:    domain.OrderTypeFOK,
	})
	if err != nil {
		pt.logger.Warn("emergency close order failed",
			slog.String("pair", pair.ID), slog.String("error", err.Error()))
		return
	}

	ms.Lock()
	defer ms.Unlock()
	if result.FilledQty > 0 {
		pair.MakerFilled += math.Min(result.FilledQty, pair.TakerQty-pair.MakerFilled)
		pair.MakerPrice = result.AvgFillPrice
		ms.Inventory.Add(pair.CheapSide, result.FilledQty, result.AvgFillPrice)
	}
	pt.closeLocked(ms, pair, domain.PairEmergencyClosed, now)

	pt.logger.Warn("pair emergency closed",
		slog.String("slug", ms.Market.Slug),
		slog.String("pair", pair.ID),
		slog.Float64("close_price", result.AvgFillPrice),
		slog.Float64("qty", result.FilledQty))
}

// PruneClosed discards terminal pairs after the reporting grace period.
func (pt *PairTracker) PruneClosed(ms *MarketState, now time.Time) {
	ms.Lock()
	defer ms.Unlock()

	for id, p := range ms.Pairs {
		if p.Status.Closed() && p.ClosedAt != nil && now.Sub(*p.ClosedAt) > pt.params.ClosedGracePeriod {
			delete(ms.Pairs, id)
		}
	}
}

// closeLocked finalizes a pair. Caller holds the market lock. The combined
// price and P&L are estimates against the $1.00 settlement value; the engine
// never learns which side actually won.
func (pt *PairTracker) closeLocked(ms *MarketState, pair *domain.Pair, status domain.PairStatus, now time.Time) {
	pair.Status = status
	closed := now
	pair.ClosedAt = &closed

	if pair.MakerFilled > 0 {
		pair.CombinedPrice = pair.TakerPrice + pair.MakerPrice
		pair.PnL = pair.MakerFilled * (1.0 - pair.CombinedPrice)
	}

	pt.logger.Info("pair closed",
		slog.String("slug", ms.Market.Slug),
		slog.String("pair", pair.ID),
		slog.String("status", string(status)),
		slog.Float64("combined_price", pair.CombinedPrice),
		slog.Float64("estimated_pnl", pair.PnL))
}

// roundToCent snaps a price to the exchange's $0.01 tick.
func roundToCent(p float64) float64 {
	return math.Round(p*100) / 100
}
