package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

// PositionCache mirrors the engine's per-market inventory into Redis hashes.
// Each market is stored at key "position:{slug}" with per-leg quantity and
// cost fields plus a write timestamp. The mirror serves two purposes: warm
// state on restart before the first reconciliation completes, and a cheap
// read path for external monitoring.
type PositionCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPositionCache creates a PositionCache. Entries expire after ttl so a
// market removed while the process was down cannot leave a stale mirror.
func NewPositionCache(c *Client, ttl time.Duration) *PositionCache {
	return &PositionCache{rdb: c.Underlying(), ttl: ttl}
}

func positionKey(slug string) string {
	return "position:" + slug
}

// SetInventory writes one market's inventory to the mirror.
func (pc *PositionCache) SetInventory(ctx context.Context, slug string, inv domain.Inventory, ts time.Time) error {
	key := positionKey(slug)
	fields := map[string]interface{}{
		"up_qty":    strconv.FormatFloat(inv.UpQty, 'f', -1, 64),
		"down_qty":  strconv.FormatFloat(inv.DownQty, 'f', -1, 64),
		"up_cost":   strconv.FormatFloat(inv.UpCost, 'f', -1, 64),
		"down_cost": strconv.FormatFloat(inv.DownCost, 'f', -1, 64),
		"ts":        strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, pc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set position %s: %w", slug, err)
	}
	return nil
}

// GetInventory reads one market's mirrored inventory. It returns
// domain.ErrNotFound when no mirror entry exists.
func (pc *PositionCache) GetInventory(ctx context.Context, slug string) (domain.Inventory, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, positionKey(slug)).Result()
	if err != nil {
		return domain.Inventory{}, time.Time{}, fmt.Errorf("redis: get position %s: %w", slug, err)
	}
	if len(vals) == 0 {
		return domain.Inventory{}, time.Time{}, domain.ErrNotFound
	}

	inv := domain.Inventory{}
	for field, dst := range map[string]*float64{
		"up_qty":    &inv.UpQty,
		"down_qty":  &inv.DownQty,
		"up_cost":   &inv.UpCost,
		"down_cost": &inv.DownCost,
	} {
		raw, ok := vals[field]
		if !ok {
			return domain.Inventory{}, time.Time{}, domain.ErrNotFound
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return domain.Inventory{}, time.Time{}, fmt.Errorf("redis: parse position %s.%s: %w", slug, field, err)
		}
		*dst = f
	}

	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Inventory{}, time.Time{}, fmt.Errorf("redis: parse position %s.ts: %w", slug, err)
	}
	return inv, time.Unix(0, tsNano), nil
}

// DeleteInventory drops the mirror entry for a retired market.
func (pc *PositionCache) DeleteInventory(ctx context.Context, slug string) error {
	if err := pc.rdb.Del(ctx, positionKey(slug)).Err(); err != nil {
		return fmt.Errorf("redis: delete position %s: %w", slug, err)
	}
	return nil
}
