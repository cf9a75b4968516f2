package engine

import (
	"context"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

// BookSource serves the latest top of book per outcome token. Implemented by
// the book feed; tests substitute a fixture map.
type BookSource interface {
	Top(tokenID string) (domain.BookTop, bool)
	SetTokens(ctx context.Context, tokenIDs []string) error
}

// MarketLedger extends the position ledger with market registration, which
// the data-API implementation needs to map outcome tokens back to sides.
type MarketLedger interface {
	domain.PositionLedger
	RegisterMarket(m domain.Market)
	UnregisterMarket(slug string)
}

// Reporter receives fire-and-forget records. Implementations buffer and flush
// asynchronously; a reporting failure is logged, never surfaced to trading.
type Reporter interface {
	RecordSettlement(rec domain.SettlementRecord)
	RecordFill(rec domain.FillRecord)
	RecordInventory(rec domain.InventoryRecord)
	RecordBooks(snaps []domain.BookSnapshot)
	RecordAlert(event, title, message string)
}
