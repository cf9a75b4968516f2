package polymarket

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

// wsSubscribe is the subscription command for the market channel. Sending it
// replaces the full token set on the connection.
type wsSubscribe struct {
	Type     string   `json:"type"`
	AssetIDs []string `json:"assets_ids"`
}

// BookEvent is a parsed full-book event for one outcome token.
type BookEvent struct {
	AssetID string
	Bids    []domain.PriceLevel
	Asks    []domain.PriceLevel
}

// bookMessage is the raw "book" event envelope. Price levels arrive as
// [price, size] arrays whose elements may be JSON numbers or strings, so they
// are decoded loosely and validated by parseLevels.
type bookMessage struct {
	EventType string  `json:"event_type"`
	AssetID   string  `json:"asset_id"`
	Bids      [][]any `json:"bids"`
	Asks      [][]any `json:"asks"`
}

// parseLevels converts raw [price, size] entries into validated price levels.
// Non-numeric, non-finite, or non-positive entries are discarded rather than
// surfaced as errors: a malformed level must never crash the feed.
func parseLevels(raw [][]any) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			continue
		}
		price, ok := toFloat(entry[0])
		if !ok {
			continue
		}
		size, ok := toFloat(entry[1])
		if !ok {
			continue
		}
		if price <= 0 || size <= 0 {
			continue
		}
		levels = append(levels, domain.PriceLevel{Price: price, Size: size})
	}
	return levels
}

// toFloat accepts the numeric encodings the feed has been observed to use.
// NaN and infinities are rejected.
func toFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// apiMarket is the Gamma API market representation, limited to the fields the
// discoverer needs.
type apiMarket struct {
	Slug         string `json:"slug"`
	ConditionID  string `json:"conditionId"`
	ClobTokenIDs string `json:"clobTokenIds"` // JSON-encoded array of two IDs
	Outcomes     string `json:"outcomes"`     // JSON-encoded array, e.g. ["Up","Down"]
	EndDate      string `json:"endDate"`      // RFC 3339
	Active       bool   `json:"active"`
	Closed       bool   `json:"closed"`
}

// tokenPair returns the (up, down) token IDs in outcome order, or false when
// the market does not carry exactly two outcomes.
func (m apiMarket) tokenPair() (string, string, bool) {
	var tokens []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &tokens); err != nil || len(tokens) != 2 {
		return "", "", false
	}
	var outcomes []string
	if err := json.Unmarshal([]byte(m.Outcomes), &outcomes); err != nil || len(outcomes) != 2 {
		return "", "", false
	}
	// Outcome order is authoritative: index 0 is Up for up/down series, but
	// tolerate reversed listings.
	if outcomes[0] == "Down" {
		return tokens[1], tokens[0], true
	}
	return tokens[0], tokens[1], true
}

// expiry parses the market end date.
func (m apiMarket) expiry() (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, m.EndDate)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// apiOrderResult is the CLOB response to an order placement.
type apiOrderResult struct {
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	Status       string `json:"status"`
	TakingAmount string `json:"takingAmount"` // shares received on a taker fill
	MakingAmount string `json:"makingAmount"` // collateral spent on a taker fill
}

// apiOpenOrder is one resting order from GET /orders.
type apiOpenOrder struct {
	ID           string `json:"id"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	CreatedAt    int64  `json:"created_at"`
}

// apiPosition is one entry from the data API positions endpoint.
type apiPosition struct {
	Asset    string  `json:"asset"` // outcome token ID
	Size     float64 `json:"size"`
	AvgPrice float64 `json:"avgPrice"`
}
