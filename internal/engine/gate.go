package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

// GatedOrderClient wraps an OrderClient with a pause switch. While paused,
// placements fail with ErrOrdersPaused; cancellations always pass through,
// because reducing exposure must stay possible after the trading lease is
// lost or reconciliation declares the ledger unreachable. Fail safe, not fail
// open.
type GatedOrderClient struct {
	inner  domain.OrderClient
	paused atomic.Bool
}

// NewGatedOrderClient wraps inner with the gate open.
func NewGatedOrderClient(inner domain.OrderClient) *GatedOrderClient {
	return &GatedOrderClient{inner: inner}
}

// Pause closes the gate for new placements.
func (g *GatedOrderClient) Pause() { g.paused.Store(true) }

// Resume reopens the gate.
func (g *GatedOrderClient) Resume() { g.paused.Store(false) }

// Paused reports the gate state.
func (g *GatedOrderClient) Paused() bool { return g.paused.Load() }

// PlaceOrder forwards to the inner client unless paused.
func (g *GatedOrderClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if g.paused.Load() {
		return domain.OrderResult{}, fmt.Errorf("engine/gate: %w", domain.ErrOrdersPaused)
	}
	return g.inner.PlaceOrder(ctx, req)
}

// CancelOrder always forwards; cancels reduce exposure.
func (g *GatedOrderClient) CancelOrder(ctx context.Context, orderID string) error {
	return g.inner.CancelOrder(ctx, orderID)
}

// CancelAll always forwards.
func (g *GatedOrderClient) CancelAll(ctx context.Context) error {
	return g.inner.CancelAll(ctx)
}

// OpenOrders always forwards; reads are harmless.
func (g *GatedOrderClient) OpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	return g.inner.OpenOrders(ctx)
}

var _ domain.OrderClient = (*GatedOrderClient)(nil)
