package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

// Mode selects the trading strategy once at startup.
type Mode string

const (
	// ModeTrade runs the taker/maker pairing engine (canonical).
	ModeTrade Mode = "trade"
	// ModeGrid runs the legacy symmetric grid quoting engine.
	ModeGrid Mode = "grid"
	// ModeMonitor runs feeds, reconciliation, and reporting with no orders.
	ModeMonitor Mode = "monitor"
)

// fillPollInterval is how often resting maker orders are polled for fills.
// Polling is the fallback fill source; the reconciler corrects anything it
// misses.
const fillPollInterval = 2 * time.Second

// Params are the scheduler-level engine knobs.
type Params struct {
	Mode              Mode
	DryRun            bool
	TickInterval      time.Duration
	TickCooldown      time.Duration
	DiscoveryInterval time.Duration
	HeartbeatInterval time.Duration
	RenewInterval     time.Duration
}

// Engine owns one instance of every component and drives them from a single
// tick loop plus independently scheduled periodic tasks. There are no
// process-wide singletons: construct one Engine, run it, test it.
type Engine struct {
	params     Params
	registry   *Registry
	reconciler *Reconciler
	tracker    *PairTracker
	guard      *ExposureGuard
	syncer     *OrderSynchronizer
	orders     domain.OrderClient
	gate       *GatedOrderClient
	lease      domain.Lease
	reporter   Reporter
	bus        domain.SignalBus
	books      BookSource
	logger     *slog.Logger

	startedAt time.Time

	// Maker fill polling state, touched only by the fill poll loop.
	seenResting map[string]float64 // order ID -> last observed filled qty
}

// New assembles an engine from its components. gate must wrap the same
// client the components place orders through.
func New(
	params Params,
	registry *Registry,
	reconciler *Reconciler,
	tracker *PairTracker,
	guard *ExposureGuard,
	syncer *OrderSynchronizer,
	orders domain.OrderClient,
	gate *GatedOrderClient,
	lease domain.Lease,
	reporter Reporter,
	bus domain.SignalBus,
	books BookSource,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		params:      params,
		registry:    registry,
		reconciler:  reconciler,
		tracker:     tracker,
		guard:       guard,
		syncer:      syncer,
		orders:      orders,
		gate:        gate,
		lease:       lease,
		reporter:    reporter,
		bus:         bus,
		books:       books,
		logger:      logger.With(slog.String("component", "engine")),
		seenResting: make(map[string]float64),
	}
}

// Run acquires the trading lease, starts the scheduler loops, and blocks
// until the context is cancelled. On shutdown it cancels all resting orders
// and releases the lease. Failure to acquire the lease at startup is fatal:
// another instance is trading.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.lease.Acquire(ctx); err != nil {
		return fmt.Errorf("engine: acquire lease: %w", err)
	}
	e.startedAt = time.Now().UTC()
	e.logger.Info("engine started",
		slog.String("mode", string(e.params.Mode)),
		slog.Bool("orders_paused", e.gate.Paused()))

	// First discovery runs before the tick loop so the loop has markets.
	if err := e.registry.Refresh(ctx); err != nil {
		e.logger.Warn("initial discovery failed, retrying on schedule",
			slog.String("error", err.Error()))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.tickLoop(gctx) })
	g.Go(func() error { return e.discoveryLoop(gctx) })
	g.Go(func() error { return e.leaseLoop(gctx) })
	g.Go(func() error { return e.heartbeatLoop(gctx) })
	if e.params.Mode != ModeMonitor {
		g.Go(func() error { return e.fillPollLoop(gctx) })
	}

	err := g.Wait()
	e.shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// shutdown performs best-effort cleanup with a fresh bounded context.
func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if e.params.Mode != ModeMonitor {
		if err := e.orders.CancelAll(ctx); err != nil {
			e.logger.Error("shutdown: cancel all failed", slog.String("error", err.Error()))
		}
	}
	e.lease.Release()
	e.logger.Info("engine stopped")
}

// tickLoop is the single control loop. A tick that fails or panics is logged
// and followed by a cooldown; the loop itself never terminates on a single
// market's failure.
func (e *Engine) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.params.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := e.safeTick(ctx); err != nil {
			e.logger.Error("tick failed, cooling down", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.params.TickCooldown):
			}
		}
	}
}

// safeTick runs one tick, converting a panic into an error.
func (e *Engine) safeTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: tick panic: %v", r)
		}
	}()
	return e.tick(ctx)
}

// tick processes every live market sequentially, then retires expired markets
// and emits portfolio-level reports. Per-market ordering: reconciliation,
// exposure checks, reversal check, pairing decision (or grid sync), prune.
func (e *Engine) tick(ctx context.Context) error {
	now := time.Now().UTC()

	// Grid mode diffs against the exchange's resting set, fetched once per
	// tick rather than once per market.
	var resting []domain.OpenOrder
	if e.params.Mode == ModeGrid {
		var err error
		resting, err = e.orders.OpenOrders(ctx)
		if err != nil {
			return fmt.Errorf("engine: open orders: %w", err)
		}
	}

	var firstErr error
	for _, ms := range e.registry.Markets() {
		if err := e.tickMarket(ctx, ms, resting, now); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := e.registry.Cleanup(ctx, now); err != nil {
		e.logger.Warn("cleanup failed", slog.String("error", err.Error()))
	}

	e.report(now)
	return firstErr
}

// tickMarket runs one market's tick. Errors are logged with market context
// and surfaced, but never abort the remaining markets.
func (e *Engine) tickMarket(ctx context.Context, ms *MarketState, resting []domain.OpenOrder, now time.Time) error {
	// Simulated fills have no exchange-side ledger; reconciling against it
	// would wipe them out.
	if !e.params.DryRun {
		if err := e.reconciler.Reconcile(ctx, ms, now); err != nil {
			e.logger.Warn("reconcile failed",
				slog.String("slug", ms.Market.Slug), slog.String("error", err.Error()))
		}
	}

	e.guard.Evaluate(ctx, ms, now)

	switch e.params.Mode {
	case ModeTrade:
		e.tracker.CheckReversal(ctx, ms, now)
		e.tracker.CheckTimeouts(ctx, ms, now)
		e.tracker.RetryMakers(ctx, ms)
		if err := e.tracker.EvaluateEntry(ctx, ms, now); err != nil && !errors.Is(err, domain.ErrOrdersPaused) {
			return err
		}
		e.tracker.PruneClosed(ms, now)

	case ModeGrid:
		if _, _, err := e.syncer.SyncMarket(ctx, ms, resting); err != nil && !errors.Is(err, domain.ErrOrdersPaused) {
			return err
		}

	case ModeMonitor:
		// Feeds, reconciliation, and reporting only.
	}

	return nil
}

// report emits per-market inventory records and a book snapshot batch.
func (e *Engine) report(now time.Time) {
	var snaps []domain.BookSnapshot
	for _, ms := range e.registry.Markets() {
		ms.Lock()
		rec := ms.snapshotLocked(now)
		ms.Unlock()
		e.reporter.RecordInventory(rec)

		for _, tokenID := range []string{ms.Market.UpTokenID, ms.Market.DownTokenID} {
			if top, ok := e.books.Top(tokenID); ok {
				snaps = append(snaps, domain.BookSnapshot{
					Slug:      ms.Market.Slug,
					TokenID:   tokenID,
					BestBid:   top.BestBid,
					BestAsk:   top.BestAsk,
					Timestamp: now,
				})
			}
		}
	}
	if len(snaps) > 0 {
		e.reporter.RecordBooks(snaps)
	}
}

// discoveryLoop refreshes the market set on its own schedule. Failures are
// retried on the next interval and never block the tick loop.
func (e *Engine) discoveryLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.params.DiscoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := e.registry.Refresh(ctx); err != nil {
			e.logger.Warn("discovery failed", slog.String("error", err.Error()))
		}
	}
}

// leaseLoop renews the trading lease. On renewal failure the order gate
// closes immediately; the loop then tries to reacquire, and only a successful
// reacquisition reopens the gate.
func (e *Engine) leaseLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.params.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if e.lease.Held() {
			if err := e.lease.Renew(ctx); err == nil {
				continue
			} else {
				e.gate.Pause()
				e.logger.Error("lease renewal failed, order placement paused",
					slog.String("error", err.Error()))
				e.reporter.RecordAlert("lease_lost", "Trading lease lost",
					"renewal failed, order placement paused until reacquired")
			}
		}

		if err := e.lease.Acquire(ctx); err != nil {
			e.logger.Warn("lease reacquisition failed",
				slog.String("error", err.Error()))
			continue
		}
		e.gate.Resume()
		e.logger.Info("lease reacquired, order placement resumed")
	}
}

// heartbeatLoop publishes liveness on the signal bus. Publish failures are
// logged, never fatal.
func (e *Engine) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.params.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		openPairs := 0
		for _, ms := range e.registry.Markets() {
			ms.Lock()
			openPairs += ms.openPairsLocked()
			ms.Unlock()
		}

		hb := domain.Heartbeat{
			Markets:    e.registry.Size(),
			OpenPairs:  openPairs,
			LeaseHeld:  e.lease.Held(),
			DryRun:     e.params.DryRun,
			Mode:       string(e.params.Mode),
			UptimeSecs: int64(time.Since(e.startedAt).Seconds()),
			Timestamp:  time.Now().UTC(),
		}
		payload, err := json.Marshal(hb)
		if err != nil {
			continue
		}
		if err := e.bus.Publish(ctx, "updownbot:heartbeat", payload); err != nil {
			e.logger.Warn("heartbeat publish failed", slog.String("error", err.Error()))
		}
	}
}

// fillPollLoop observes maker fills by polling the resting order set. A
// tracked maker order whose matched quantity grew produces a fill event; one
// that disappeared after being seen is treated as fully filled at its resting
// price, unless the tracker has a cancel in flight for it. Orders never seen
// resting are left to the hedge timeout, and the reconciler corrects any
// quantity this path gets wrong.
func (e *Engine) fillPollLoop(ctx context.Context) error {
	ticker := time.NewTicker(fillPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		open, err := e.orders.OpenOrders(ctx)
		if err != nil {
			e.logger.Warn("fill poll failed", slog.String("error", err.Error()))
			continue
		}
		e.applyFillPoll(open, time.Now().UTC())
	}
}

// applyFillPoll diffs one OpenOrders response against the previous poll.
func (e *Engine) applyFillPoll(open []domain.OpenOrder, now time.Time) {
	current := make(map[string]domain.OpenOrder, len(open))
	for _, o := range open {
		current[o.OrderID] = o
	}

	// Matched-quantity growth on still-resting orders.
	for id, o := range current {
		prev := e.seenResting[id]
		if o.FilledQty > prev {
			e.dispatchMakerFill(domain.FillEvent{
				OrderID:  id,
				TokenID:  o.TokenID,
				Side:     o.Side,
				Price:    o.Price,
				Qty:      o.FilledQty - prev,
				Occurred: now,
			}, now)
		}
		e.seenResting[id] = o.FilledQty
	}

	// Orders that vanished since the last poll were fully filled, unless a
	// cancel of ours is in flight for them.
	for id, prevFilled := range e.seenResting {
		if _, still := current[id]; still {
			continue
		}
		delete(e.seenResting, id)
		e.dispatchVanished(id, prevFilled, now)
	}
}

// dispatchMakerFill routes a fill event to its pair.
func (e *Engine) dispatchMakerFill(ev domain.FillEvent, now time.Time) {
	ms, _, ok := e.registry.Resolve(ev.TokenID)
	if !ok {
		// Retired market; the fill is already reflected in the ledger.
		return
	}
	e.tracker.OnMakerFill(ms, ev, now)
}

// dispatchVanished completes the pair whose maker order disappeared. A pair
// whose cancel is pending is skipped: the order left the book because we
// pulled it, and inferring a fill there would fabricate inventory and P&L.
// Fills that landed before the cancel are recovered by the reconciler.
func (e *Engine) dispatchVanished(orderID string, prevFilled float64, now time.Time) {
	for _, ms := range e.registry.Markets() {
		ms.Lock()
		var pair *domain.Pair
		for _, p := range ms.Pairs {
			if p.MakerOrderID == orderID && p.Status == domain.PairAwaitingHedge && !p.CancelPending {
				pair = p
				break
			}
		}
		if pair == nil {
			ms.Unlock()
			continue
		}
		remaining := pair.MakerQty - prevFilled
		price := pair.MakerPrice
		tokenID := ms.Market.TokenID(pair.CheapSide)
		ms.Unlock()

		if remaining > 0 {
			e.tracker.OnMakerFill(ms, domain.FillEvent{
				OrderID:  orderID,
				TokenID:  tokenID,
				Side:     domain.OrderSideBuy,
				Price:    price,
				Qty:      remaining,
				Occurred: now,
			}, now)
		}
		return
	}
}
