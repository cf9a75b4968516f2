package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

// GuardParams are the exposure guard thresholds. Each check toggles
// independently so the guard can run fully active, partially active, or
// disabled (pairing mode's pair cap and hedge timeout already bound exposure).
type GuardParams struct {
	CircuitBreakerEnabled bool
	RebalancerEnabled     bool
	EmergencyEnabled      bool

	MaxUnpairedShares    float64
	MaxUnpairedNotional  float64
	EmergencyMinUnpaired float64
}

// ExposureGuard bounds worst-case loss independently of the pairing engine
// with three cooperating checks: a per-market circuit breaker that bans new
// quotes when unpaired exposure exceeds limits, a proactive rebalancer that
// buys the lagging side while a ban is active if doing so still locks a
// profit, and an emergency recovery that minimizes the maximum possible loss
// when rebalancing is no longer economically viable.
type ExposureGuard struct {
	params   GuardParams
	orders   domain.OrderClient
	books    BookSource
	reporter Reporter
	logger   *slog.Logger
}

// NewExposureGuard creates a guard.
func NewExposureGuard(params GuardParams, orders domain.OrderClient, books BookSource, reporter Reporter, logger *slog.Logger) *ExposureGuard {
	return &ExposureGuard{
		params:   params,
		orders:   orders,
		books:    books,
		reporter: reporter,
		logger:   logger.With(slog.String("component", "exposure_guard")),
	}
}

// Evaluate runs the enabled checks for one market, in escalation order:
// circuit breaker, then rebalancer, then emergency recovery. Hedge-reducing
// actions are never blocked by a ban; new quotes are.
func (g *ExposureGuard) Evaluate(ctx context.Context, ms *MarketState, now time.Time) {
	if g.params.CircuitBreakerEnabled {
		g.checkCircuitBreaker(ms, now)
	}

	ms.Lock()
	banned := ms.Banned
	ms.Unlock()
	if !banned {
		return
	}

	if g.params.RebalancerEnabled {
		if done := g.tryRebalance(ctx, ms); done {
			return
		}
	}
	if g.params.EmergencyEnabled {
		g.tryEmergencyRecovery(ctx, ms)
	}
}

// checkCircuitBreaker bans the market when unpaired inventory or its notional
// exceeds the limits, and clears the ban once a hedge brings exposure back
// under them. Bans are market-scoped; expiry cleanup clears them too.
func (g *ExposureGuard) checkCircuitBreaker(ms *MarketState, now time.Time) {
	ms.Lock()
	defer ms.Unlock()

	inv := ms.Inventory
	unpaired := inv.Unpaired()
	notional := unpaired * inv.AvgCost(inv.HeavySide())

	over := unpaired > g.params.MaxUnpairedShares ||
		(g.params.MaxUnpairedNotional > 0 && notional > g.params.MaxUnpairedNotional)

	switch {
	case over && !ms.Banned:
		ms.banLocked("unpaired exposure over limit", now)
		g.logger.Warn("circuit breaker tripped",
			slog.String("slug", ms.Market.Slug),
			slog.Float64("unpaired", unpaired),
			slog.Float64("notional", notional))
		g.reporter.RecordAlert("circuit_breaker", "Circuit breaker tripped",
			fmt.Sprintf("%s: unpaired %.1f shares ($%.2f notional)", ms.Market.Slug, unpaired, notional))
	case !over && ms.Banned:
		ms.clearBanLocked()
		g.logger.Info("circuit breaker cleared",
			slog.String("slug", ms.Market.Slug),
			slog.Float64("unpaired", unpaired))
	}
}

// tryRebalance buys the lagging side while a ban is active, but only when the
// resulting combined cost still locks value at the $1.00 settlement. This is
// the one state-mutating action permitted under a ban. Returns true when a
// rebalancing order was placed.
func (g *ExposureGuard) tryRebalance(ctx context.Context, ms *MarketState) bool {
	ms.Lock()
	inv := ms.Inventory
	ms.Unlock()

	unpaired := inv.Unpaired()
	if unpaired <= 0 {
		return false
	}
	heavy := inv.HeavySide()
	lagging := heavy.Opposite()

	top, ok := g.books.Top(ms.Market.TokenID(lagging))
	if !ok || top.BestAsk <= 0 {
		return false
	}

	// Pairing the deficit must still come in under $1.00 combined.
	if inv.AvgCost(heavy)+top.BestAsk >= 1.0 {
		return false
	}

	result, err := g.orders.PlaceOrder(ctx, domain.OrderRequest{
		TokenID: ms.Market.TokenID(lagging),
		Side:    domain.OrderSideBuy,
		Price:   top.BestAsk,
		Qty:     unpaired,
		Type:    domain.OrderTypeFOK,
	})
	if err != nil {
		g.logger.Warn("rebalance order failed",
			slog.String("slug", ms.Market.Slug), slog.String("error", err.Error()))
		return false
	}
	if result.FilledQty <= 0 {
		return false
	}

	ms.Lock()
	ms.Inventory.Add(lagging, result.FilledQty, result.AvgFillPrice)
	ms.Unlock()

	g.logger.Info("rebalanced lagging side",
		slog.String("slug", ms.Market.Slug),
		slog.String("side", string(lagging)),
		slog.Float64("qty", result.FilledQty),
		slog.Float64("price", result.AvgFillPrice))
	return true
}

// tryEmergencyRecovery runs when rebalancing is not viable and the unpaired
// position is large enough to matter. It compares the two available exits —
// dump the surplus at the bid, or complete the pair at the ask — against the
// current worst case (the surplus side settles worthless) and executes the
// cheaper exit only when it is strictly better than doing nothing.
func (g *ExposureGuard) tryEmergencyRecovery(ctx context.Context, ms *MarketState) {
	ms.Lock()
	inv := ms.Inventory
	ms.Unlock()

	unpaired := inv.Unpaired()
	if unpaired < g.params.EmergencyMinUnpaired {
		return
	}
	heavy := inv.HeavySide()
	lagging := heavy.Opposite()
	avgHeavy := inv.AvgCost(heavy)

	heavyTop, heavyOK := g.books.Top(ms.Market.TokenID(heavy))
	lagTop, lagOK := g.books.Top(ms.Market.TokenID(lagging))

	// Worst case of holding: the whole surplus settles at zero.
	worstCase := unpaired * avgHeavy

	type exit struct {
		name string
		loss float64
		req  domain.OrderRequest
		side domain.Side
		sell bool
	}
	var candidates []exit

	if heavyOK && heavyTop.BestBid > 0 {
		candidates = append(candidates, exit{
			name: "sell_surplus",
			loss: unpaired * (avgHeavy - heavyTop.BestBid),
			req: domain.OrderRequest{
				TokenID: ms.Market.TokenID(heavy),
				Side:    domain.OrderSideSell,
				Price:   heavyTop.BestBid,
				Qty:     unpaired,
				Type:    domain.OrderTypeFOK,
			},
			side: heavy,
			sell: true,
		})
	}
	if lagOK && lagTop.BestAsk > 0 {
		candidates = append(candidates, exit{
			name: "complete_pair",
			loss: unpaired * (avgHeavy + lagTop.BestAsk - 1.0),
			req: domain.OrderRequest{
				TokenID: ms.Market.TokenID(lagging),
				Side:    domain.OrderSideBuy,
				Price:   lagTop.BestAsk,
				Qty:     unpaired,
				Type:    domain.OrderTypeFOK,
			},
			side: lagging,
		})
	}
	if len(candidates) == 0 {
		return
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.loss < best.loss {
			best = c
		}
	}
	if best.loss >= worstCase {
		// Locking this loss in is no better than riding it out.
		return
	}

	result, err := g.orders.PlaceOrder(ctx, best.req)
	if err != nil {
		g.logger.Warn("emergency recovery order failed",
			slog.String("slug", ms.Market.Slug),
			slog.String("exit", best.name),
			slog.String("error", err.Error()))
		return
	}
	if result.FilledQty <= 0 {
		return
	}

	ms.Lock()
	if best.sell {
		qty := ms.Inventory.Qty(best.side) - result.FilledQty
		cost := ms.Inventory.Cost(best.side) - result.FilledQty*ms.Inventory.AvgCost(best.side)
		if qty < 0 {
			qty = 0
		}
		if cost < 0 {
			cost = 0
		}
		ms.Inventory.Set(best.side, qty, cost)
	} else {
		ms.Inventory.Add(best.side, result.FilledQty, result.AvgFillPrice)
	}
	ms.Unlock()

	g.logger.Warn("emergency recovery executed",
		slog.String("slug", ms.Market.Slug),
		slog.String("exit", best.name),
		slog.Float64("qty", result.FilledQty),
		slog.Float64("locked_loss", best.loss),
		slog.Float64("prior_worst_case", worstCase))
	g.reporter.RecordAlert("emergency_close", "Emergency recovery executed",
		fmt.Sprintf("%s: %s of %.1f shares, locked loss $%.2f (worst case was $%.2f)",
			ms.Market.Slug, best.name, result.FilledQty, best.loss, worstCase))
}
