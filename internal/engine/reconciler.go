package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

// Reconciler keeps local inventory consistent with the authoritative exchange
// ledger. Reconciliation is one-directional and idempotent: when drift on a
// side exceeds the epsilon, the authoritative values overwrite local state,
// whether that means more shares or fewer. Local bookkeeping derives from a
// possibly-lossy fill stream; the polled ledger is strictly more reliable.
type Reconciler struct {
	ledger   domain.PositionLedger
	epsilon  float64
	interval time.Duration
	logger   *slog.Logger
}

// NewReconciler creates a reconciler that refreshes each market at most once
// per interval, overwriting local state when per-side drift exceeds epsilon.
func NewReconciler(ledger domain.PositionLedger, epsilon float64, interval time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		ledger:   ledger,
		epsilon:  epsilon,
		interval: interval,
		logger:   logger.With(slog.String("component", "reconciler")),
	}
}

// Reconcile refreshes one market's inventory from the ledger. An unreachable
// ledger is skipped and retried next tick: stale local state for one interval
// is safer than trading on a guess. Drift is logged, never an error.
func (rc *Reconciler) Reconcile(ctx context.Context, ms *MarketState, now time.Time) error {
	ms.Lock()
	due := now.Sub(ms.LastReconciled) >= rc.interval
	ms.Unlock()
	if !due {
		return nil
	}

	pos, err := rc.ledger.CachedPosition(ctx, ms.Market.Slug)
	if err != nil {
		if errors.Is(err, domain.ErrLedgerStale) {
			// Already warned here; the skip is expected behavior, not a
			// failure for the caller to report again.
			rc.logger.Warn("ledger unreachable, skipping reconciliation",
				slog.String("slug", ms.Market.Slug))
			return nil
		}
		return err
	}

	ms.Lock()
	defer ms.Unlock()

	rc.applySide(ms, domain.SideUp, pos.UpShares, pos.UpCost)
	rc.applySide(ms, domain.SideDown, pos.DownShares, pos.DownCost)
	ms.LastReconciled = now
	return nil
}

// applySide overwrites one side when it drifted past the epsilon. Caller
// holds the market lock.
func (rc *Reconciler) applySide(ms *MarketState, side domain.Side, authQty, authCost float64) {
	localQty := ms.Inventory.Qty(side)
	drift := abs(localQty - authQty)
	if drift <= rc.epsilon {
		return
	}

	rc.logger.Info("position drift, ledger wins",
		slog.String("slug", ms.Market.Slug),
		slog.String("side", string(side)),
		slog.Float64("local", localQty),
		slog.Float64("authoritative", authQty),
		slog.Float64("drift", drift))

	ms.Inventory.Set(side, authQty, authCost)
}
