package domain

import (
	"context"
	"time"
)

// SettlementRecord is emitted exactly once when a market expires and is
// removed from the registry. The winning side is not determined by this
// engine; P&L fields are estimates against the $1.00 settlement value.
type SettlementRecord struct {
	ID           string
	Slug         string
	ConditionID  string
	Asset        string
	Expiry       time.Time
	PairedQty    float64
	UnpairedQty  float64
	CombinedCost float64
	LockedProfit float64
	Estimated    bool // always true: settlement truth is external
	RecordedAt   time.Time
}

// FillRecord is a fire-and-forget record of one of our own fills.
type FillRecord struct {
	ID       string
	Slug     string
	TokenID  string
	Side     OrderSide
	Price    float64
	Qty      float64
	OrderID  string
	PairID   string
	Occurred time.Time
}

// BookSnapshot is a point-in-time copy of one token's top of book, batched
// and archived for offline analysis.
type BookSnapshot struct {
	Slug      string
	TokenID   string
	BestBid   float64
	BestAsk   float64
	Timestamp time.Time
}

// InventoryRecord is a periodic portfolio-level snapshot per market.
type InventoryRecord struct {
	Slug         string
	UpQty        float64
	DownQty      float64
	UpCost       float64
	DownCost     float64
	PairedQty    float64
	UnpairedQty  float64
	CombinedCost float64
	Timestamp    time.Time
}

// Heartbeat is the engine liveness report published on the signal bus.
type Heartbeat struct {
	Markets    int
	OpenPairs  int
	LeaseHeld  bool
	DryRun     bool
	Mode       string
	UptimeSecs int64
	Timestamp  time.Time
}

// SettlementStore persists settlement records.
type SettlementStore interface {
	Create(ctx context.Context, rec SettlementRecord) error
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]SettlementRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// FillStore persists fill records.
type FillStore interface {
	Create(ctx context.Context, rec FillRecord) error
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]FillRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SnapshotStore persists the latest inventory snapshot per market.
type SnapshotStore interface {
	Upsert(ctx context.Context, rec InventoryRecord) error
}
