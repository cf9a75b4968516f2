// Package engine contains the trading decision and risk-control core: the
// market registry, position reconciler, taker/maker pair tracker, exposure
// guard, grid synchronizer, and the tick scheduler that drives them.
package engine

import (
	"sync"
	"time"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

// MarketState couples a market's immutable identity with all of its mutable
// trading state. Both the tick loop and asynchronous fill callbacks mutate
// pairs and inventory, so every access goes through the per-market mutex;
// that single lock is what closes the tick/callback race.
type MarketState struct {
	Market domain.Market

	mu sync.Mutex

	Inventory domain.Inventory
	Pairs     map[string]*domain.Pair

	// Circuit breaker state. Market-scoped, never global.
	Banned    bool
	BanReason string
	BannedAt  time.Time

	LastReconciled time.Time
	LastEntryEval  time.Time
}

// NewMarketState creates the mutable state for a freshly accepted market.
func NewMarketState(m domain.Market) *MarketState {
	return &MarketState{
		Market: m,
		Pairs:  make(map[string]*domain.Pair),
	}
}

// Lock acquires the per-market mutex.
func (ms *MarketState) Lock() { ms.mu.Lock() }

// Unlock releases the per-market mutex.
func (ms *MarketState) Unlock() { ms.mu.Unlock() }

// openPairsLocked counts pairs in a non-terminal state. Caller holds the lock.
func (ms *MarketState) openPairsLocked() int {
	n := 0
	for _, p := range ms.Pairs {
		if !p.Status.Closed() {
			n++
		}
	}
	return n
}

// banLocked sets the circuit-breaker ban. Caller holds the lock.
func (ms *MarketState) banLocked(reason string, now time.Time) {
	if ms.Banned {
		return
	}
	ms.Banned = true
	ms.BanReason = reason
	ms.BannedAt = now
}

// clearBanLocked clears the circuit-breaker ban. Caller holds the lock.
func (ms *MarketState) clearBanLocked() {
	ms.Banned = false
	ms.BanReason = ""
	ms.BannedAt = time.Time{}
}

// snapshotLocked derives the current inventory record. Caller holds the lock.
func (ms *MarketState) snapshotLocked(now time.Time) domain.InventoryRecord {
	inv := ms.Inventory
	return domain.InventoryRecord{
		Slug:         ms.Market.Slug,
		UpQty:        inv.UpQty,
		DownQty:      inv.DownQty,
		UpCost:       inv.UpCost,
		DownCost:     inv.DownCost,
		PairedQty:    inv.Paired(),
		UnpairedQty:  inv.Unpaired(),
		CombinedCost: inv.CombinedCost(),
		Timestamp:    now,
	}
}
