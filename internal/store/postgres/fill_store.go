package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a FillStore backed by the given pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

const fillCols = `id, slug, token_id, side, price, qty, order_id, pair_id, occurred_at`

// Create inserts one fill record. Duplicate IDs are skipped so replays from
// the reporter buffer stay idempotent.
func (s *FillStore) Create(ctx context.Context, rec domain.FillRecord) error {
	const query = `
		INSERT INTO fills (id, slug, token_id, side, price, qty, order_id, pair_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Slug, rec.TokenID, string(rec.Side),
		rec.Price, rec.Qty, rec.OrderID, rec.PairID, rec.Occurred,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert fill %s: %w", rec.ID, err)
	}
	return nil
}

// ListBefore returns up to limit fills that occurred before cutoff, oldest
// first.
func (s *FillStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.FillRecord, error) {
	query := `SELECT ` + fillCols + `
		FROM fills WHERE occurred_at < $1
		ORDER BY occurred_at ASC LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills: %w", err)
	}
	defer rows.Close()

	return scanFillRows(rows)
}

// DeleteBefore removes fills that occurred before cutoff and returns the
// number deleted.
func (s *FillStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM fills WHERE occurred_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete fills: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanFillRows(rows pgx.Rows) ([]domain.FillRecord, error) {
	var recs []domain.FillRecord
	for rows.Next() {
		var r domain.FillRecord
		var side string
		if err := rows.Scan(
			&r.ID, &r.Slug, &r.TokenID, &side,
			&r.Price, &r.Qty, &r.OrderID, &r.PairID, &r.Occurred,
		); err != nil {
			return nil, err
		}
		r.Side = domain.OrderSide(side)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Compile-time interface check.
var _ domain.FillStore = (*FillStore)(nil)
