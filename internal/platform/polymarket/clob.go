package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/tradewell-labs/updownbot/internal/crypto"
	"github.com/tradewell-labs/updownbot/internal/domain"
)

// amountScale is the fixed-point scale of on-chain amounts (USDC and
// conditional tokens both use 6 decimals).
const amountScale = 1e6

// ClobClient is the REST client for the CLOB order endpoints. It implements
// domain.OrderClient. All calls are rate limited client-side and carry the
// http.Client timeout, so every call site gets a bounded suspension point.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
	limiter    *rate.Limiter
	sigType    int
}

// NewClobClient creates a CLOB client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com". signer
// signs order payloads; hmac authenticates the request itself. requestsPerSec
// bounds the client-side call rate.
func NewClobClient(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth, sigType int, requestsPerSec float64) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		signer:   signer,
		hmacAuth: hmac,
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSec), int(math.Max(1, requestsPerSec))),
		sigType:  sigType,
	}
}

// PlaceOrder signs and submits one order. For FOK orders the returned result
// carries the actual filled quantity and average fill price; GTC orders
// return zero fill figures until fills are observed on the private stream.
func (c *ClobClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if req.Qty <= 0 || req.Price < 0 || req.Price > 1 {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: %w: price=%.4f qty=%.2f", domain.ErrInvalidOrder, req.Price, req.Qty)
	}

	makerAmount, takerAmount, side := orderAmounts(req)

	salt := strconv.FormatInt(rand.Int63(), 10)
	payload := crypto.OrderPayload{
		Salt:          salt,
		Maker:         c.signer.Address().Hex(),
		Signer:        c.signer.Address().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       req.TokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          side,
		SignatureType: c.sigType,
	}

	signature, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: %w: %v", domain.ErrSigningFailed, err)
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          salt,
			"tokenID":       req.TokenID,
			"makerAmount":   makerAmount.String(),
			"takerAmount":   takerAmount.String(),
			"side":          string(req.Side),
			"feeRateBps":    "0",
			"nonce":         "0",
			"expiration":    "0",
			"signatureType": c.sigType,
			"signature":     signature,
			"maker":         c.signer.Address().Hex(),
			"signer":        c.signer.Address().Hex(),
			"taker":         "0x0000000000000000000000000000000000000000",
		},
		"owner":     c.hmacAuth.Key,
		"orderType": string(req.Type),
	}

	respBody, err := c.doAuthenticated(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var apiResult apiOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}

	result := domain.OrderResult{
		OrderID: apiResult.OrderID,
		Success: apiResult.Success,
		Message: apiResult.ErrorMsg,
	}
	if taking, err := strconv.ParseFloat(apiResult.TakingAmount, 64); err == nil && taking > 0 {
		making, _ := strconv.ParseFloat(apiResult.MakingAmount, 64)
		if req.Side == domain.OrderSideBuy {
			result.FilledQty = taking
			if taking > 0 {
				result.AvgFillPrice = making / taking
			}
		} else {
			result.FilledQty = making
			if making > 0 {
				result.AvgFillPrice = taking / making
			}
		}
	}

	if !result.Success {
		return result, fmt.Errorf("polymarket/clob: order rejected: %s", result.Message)
	}
	return result, nil
}

// CancelOrder cancels a single resting order by ID.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]any{"orderID": orderID}

	respBody, err := c.doAuthenticated(ctx, http.MethodDelete, "/order", body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel failed: %s", result.ErrorMsg)
	}
	return nil
}

// CancelAll cancels every open order for the authenticated wallet. Used on
// graceful shutdown.
func (c *ClobClient) CancelAll(ctx context.Context) error {
	respBody, err := c.doAuthenticated(ctx, http.MethodDelete, "/cancel-all", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel all: %w", err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel-all response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel all failed: %s", result.ErrorMsg)
	}
	return nil
}

// OpenOrders returns all currently resting orders for the wallet.
func (c *ClobClient) OpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	respBody, err := c.doAuthenticated(ctx, http.MethodGet, "/orders", nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: open orders: %w", err)
	}

	var apiOrders []apiOpenOrder
	if err := json.Unmarshal(respBody, &apiOrders); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode open orders: %w", err)
	}

	orders := make([]domain.OpenOrder, 0, len(apiOrders))
	for _, o := range apiOrders {
		price, _ := strconv.ParseFloat(o.Price, 64)
		size, _ := strconv.ParseFloat(o.OriginalSize, 64)
		matched, _ := strconv.ParseFloat(o.SizeMatched, 64)
		side := domain.OrderSideBuy
		if o.Side == "SELL" || o.Side == "sell" {
			side = domain.OrderSideSell
		}
		orders = append(orders, domain.OpenOrder{
			OrderID:   o.ID,
			TokenID:   o.AssetID,
			Side:      side,
			Price:     price,
			Qty:       size,
			FilledQty: matched,
			CreatedAt: time.Unix(o.CreatedAt, 0).UTC(),
		})
	}
	return orders, nil
}

// orderAmounts converts a display price/quantity into the fixed-point maker
// and taker amounts the exchange contract expects. For a buy the maker amount
// is collateral spent; for a sell it is shares offered.
func orderAmounts(req domain.OrderRequest) (maker, taker *big.Int, side int) {
	shares := int64(math.Round(req.Qty * amountScale))
	notional := int64(math.Round(req.Price * req.Qty * amountScale))

	if req.Side == domain.OrderSideBuy {
		return big.NewInt(notional), big.NewInt(shares), 0
	}
	return big.NewInt(shares), big.NewInt(notional), 1
}

// doAuthenticated performs one HMAC-authenticated request against the CLOB,
// honoring the client-side rate limit and HTTP timeout.
func (c *ClobClient) doAuthenticated(ctx context.Context, method, path string, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	headers := c.hmacAuth.L2Headers(c.signer.Address().Hex(), method, path, string(reqBody))
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, domain.ErrUnauthorized
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// Compile-time interface check.
var _ domain.OrderClient = (*ClobClient)(nil)
