package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a SettlementStore backed by the given pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

const settlementCols = `id, slug, condition_id, asset, expiry,
	paired_qty, unpaired_qty, combined_cost, locked_profit, estimated, recorded_at`

// Create inserts one settlement record. A second record for the same slug is
// silently skipped, which keeps the expiry path idempotent across restarts.
func (s *SettlementStore) Create(ctx context.Context, rec domain.SettlementRecord) error {
	const query = `
		INSERT INTO settlements (
			id, slug, condition_id, asset, expiry,
			paired_qty, unpaired_qty, combined_cost, locked_profit, estimated, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (slug) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Slug, rec.ConditionID, rec.Asset, rec.Expiry,
		rec.PairedQty, rec.UnpairedQty, rec.CombinedCost, rec.LockedProfit,
		rec.Estimated, rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert settlement %s: %w", rec.Slug, err)
	}
	return nil
}

// ListBefore returns up to limit settlement records recorded before cutoff,
// oldest first. Used by the retention archiver.
func (s *SettlementStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.SettlementRecord, error) {
	query := `SELECT ` + settlementCols + `
		FROM settlements WHERE recorded_at < $1
		ORDER BY recorded_at ASC LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements: %w", err)
	}
	defer rows.Close()

	return scanSettlementRows(rows)
}

// DeleteBefore removes settlement records recorded before cutoff and returns
// the number deleted.
func (s *SettlementStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM settlements WHERE recorded_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete settlements: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSettlementRows(rows pgx.Rows) ([]domain.SettlementRecord, error) {
	var recs []domain.SettlementRecord
	for rows.Next() {
		var r domain.SettlementRecord
		if err := rows.Scan(
			&r.ID, &r.Slug, &r.ConditionID, &r.Asset, &r.Expiry,
			&r.PairedQty, &r.UnpairedQty, &r.CombinedCost, &r.LockedProfit,
			&r.Estimated, &r.RecordedAt,
		); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Compile-time interface check.
var _ domain.SettlementStore = (*SettlementStore)(nil)
