package domain

import "time"

// PairStatus tracks the lifecycle of a taker/maker pair.
type PairStatus string

const (
	// PairAwaitingHedge: taker filled, passive maker leg resting on the cheap side.
	PairAwaitingHedge PairStatus = "awaiting_hedge"
	// PairHedged: both legs filled; combined price and P&L are final.
	PairHedged PairStatus = "hedged"
	// PairTimedOut: the maker leg went unfilled past the hedge deadline.
	PairTimedOut PairStatus = "timed_out"
	// PairEmergencyClosed: a reversal signal forced an aggressive close of the
	// cheap side while awaiting the hedge.
	PairEmergencyClosed PairStatus = "emergency_closed"
)

// Closed reports whether the status is terminal.
func (s PairStatus) Closed() bool {
	switch s {
	case PairHedged, PairTimedOut, PairEmergencyClosed:
		return true
	}
	return false
}

// Pair is one taker/maker pairing attempt. The expensive side executes first
// as an aggressive taker order; the cheap side rests as a maker limit priced
// to hit the target combined price. By construction the taker filled quantity
// is always >= the maker filled quantity.
type Pair struct {
	ID   string
	Slug string

	ExpensiveSide Side // aggressive taker leg
	CheapSide     Side // passive maker leg

	TakerQty   float64
	TakerPrice float64 // average fill price of the taker leg

	MakerOrderID string
	MakerPrice   float64
	MakerQty     float64 // resting size, never above TakerQty
	MakerFilled  float64

	// CancelPending is set, under the market lock, before a cancel is issued
	// for the maker order. It tells the fill poll that the order vanishing
	// from the resting set means cancelled, not fully filled.
	CancelPending bool

	Status   PairStatus
	OpenedAt time.Time
	ClosedAt *time.Time

	// CombinedPrice and PnL are set once the pair reaches a terminal state.
	// Both are estimates until the market settles externally.
	CombinedPrice float64
	PnL           float64
}

// Hedged reports whether the maker leg is completely filled.
func (p Pair) Hedged() bool {
	return p.MakerFilled >= p.MakerQty && p.MakerQty > 0
}

// UnhedgedQty returns the taker quantity not yet offset by maker fills.
func (p Pair) UnhedgedQty() float64 {
	q := p.TakerQty - p.MakerFilled
	if q < 0 {
		return 0
	}
	return q
}
