package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	// OrderTypeFOK executes immediately and completely or not at all. Used for
	// the aggressive taker leg.
	OrderTypeFOK OrderType = "FOK"
	// OrderTypeGTC rests on the book until filled or cancelled. Used for the
	// passive maker leg and grid quotes.
	OrderTypeGTC OrderType = "GTC"
)

// OrderRequest is a single order handed to the order collaborator.
type OrderRequest struct {
	TokenID string
	Side    OrderSide
	Price   float64
	Qty     float64
	Type    OrderType
}

// OrderResult is the synchronous response to an order placement. For FOK
// orders FilledQty/AvgFillPrice reflect the actual execution; for GTC orders
// they are zero until fills are observed on the private stream.
type OrderResult struct {
	OrderID      string
	Success      bool
	FilledQty    float64
	AvgFillPrice float64
	Message      string
}

// OpenOrder is a currently resting order as reported by the exchange.
type OpenOrder struct {
	OrderID   string
	TokenID   string
	Side      OrderSide
	Price     float64
	Qty       float64
	FilledQty float64
	CreatedAt time.Time
}

// FillEvent is a fill notification from the private event stream. Fills not
// attributable to this trader are filtered at the boundary.
type FillEvent struct {
	OrderID  string
	TokenID  string
	Side     OrderSide
	Price    float64
	Qty      float64
	Occurred time.Time
}
