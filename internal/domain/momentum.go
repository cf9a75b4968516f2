package domain

// TrendDirection is the directional momentum of an underlying asset over the
// reversal feed's observation window.
type TrendDirection string

const (
	TrendUp   TrendDirection = "UP"
	TrendDown TrendDirection = "DOWN"
	TrendFlat TrendDirection = "FLAT"
)

// MomentumSource exposes read-only momentum snapshots per underlying asset.
// Queries have no side effects on the trading engine.
type MomentumSource interface {
	// Momentum returns the percentage price change over the observation
	// window, e.g. 0.35 for +0.35%.
	Momentum(asset string) float64
	// TrendDirection classifies the momentum against the configured threshold.
	TrendDirection(asset string) TrendDirection
}
