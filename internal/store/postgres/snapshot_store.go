package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL. It keeps
// only the latest inventory row per market; history goes to the blob archive.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Upsert writes the latest inventory snapshot for one market, keeping the
// newest row when writes race.
func (s *SnapshotStore) Upsert(ctx context.Context, rec domain.InventoryRecord) error {
	const query = `
		INSERT INTO inventory_snapshots (
			slug, up_qty, down_qty, up_cost, down_cost,
			paired_qty, unpaired_qty, combined_cost, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (slug) DO UPDATE SET
			up_qty = EXCLUDED.up_qty,
			down_qty = EXCLUDED.down_qty,
			up_cost = EXCLUDED.up_cost,
			down_cost = EXCLUDED.down_cost,
			paired_qty = EXCLUDED.paired_qty,
			unpaired_qty = EXCLUDED.unpaired_qty,
			combined_cost = EXCLUDED.combined_cost,
			updated_at = EXCLUDED.updated_at
		WHERE inventory_snapshots.updated_at <= EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		rec.Slug, rec.UpQty, rec.DownQty, rec.UpCost, rec.DownCost,
		rec.PairedQty, rec.UnpairedQty, rec.CombinedCost, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert snapshot %s: %w", rec.Slug, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)
