package domain

import "time"

// Side identifies one of the two complementary outcomes of a binary market.
type Side string

const (
	SideUp   Side = "up"
	SideDown Side = "down"
)

// Opposite returns the other outcome side.
func (s Side) Opposite() Side {
	if s == SideUp {
		return SideDown
	}
	return SideUp
}

// Market is the immutable identity of a short-lived up/down market. Mutable
// trading state (books, inventory, resting orders) lives in the engine; this
// struct never changes after discovery.
type Market struct {
	Slug         string
	ConditionID  string
	Asset        string // underlying symbol, e.g. "BTC"
	UpTokenID    string
	DownTokenID  string
	Expiry       time.Time
	DiscoveredAt time.Time
}

// TokenID returns the outcome token identifier for the given side.
func (m Market) TokenID(side Side) string {
	if side == SideUp {
		return m.UpTokenID
	}
	return m.DownTokenID
}

// Expired reports whether the market's expiry has passed at the given time.
func (m Market) Expired(now time.Time) bool {
	return now.After(m.Expiry)
}

// MarketCandidate is a discovered market that has not yet been accepted into
// the registry. It mirrors the discovery collaborator's response.
type MarketCandidate struct {
	Slug        string
	ConditionID string
	Asset       string
	UpTokenID   string
	DownTokenID string
	Expiry      time.Time
}
