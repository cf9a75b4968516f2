package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook ladder.
type PriceLevel struct {
	Price float64
	Size  float64
}

// BookTop is the best bid/ask for one outcome token, plus the depth ladders
// when the depth-aware feed variant is enabled.
type BookTop struct {
	TokenID   string
	BestBid   float64
	BestAsk   float64
	Bids      []PriceLevel
	Asks      []PriceLevel
	UpdatedAt time.Time
}

// Crossed reports whether the book is in a crossed (bid >= ask) state, which
// indicates a stale or transient snapshot that should not drive decisions.
func (b BookTop) Crossed() bool {
	return b.BestBid > 0 && b.BestAsk > 0 && b.BestBid >= b.BestAsk
}

// Live reports whether both sides of the book carry a usable quote.
func (b BookTop) Live() bool {
	return b.BestBid > 0 && b.BestAsk > 0 && !b.Crossed()
}
