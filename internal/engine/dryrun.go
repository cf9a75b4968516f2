package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

// DryRunOrderClient is an OrderClient decorator that simulates executions
// instead of reaching the exchange. FOK orders fill completely at the
// requested price; GTC orders rest in memory until cancelled. The rest of the
// engine runs unchanged, which is the point: dry run exercises every code
// path except the wire.
type DryRunOrderClient struct {
	logger *slog.Logger

	mu      sync.Mutex
	resting map[string]domain.OpenOrder
}

// NewDryRunOrderClient creates a simulated order client.
func NewDryRunOrderClient(logger *slog.Logger) *DryRunOrderClient {
	return &DryRunOrderClient{
		logger:  logger.With(slog.String("component", "dry_run")),
		resting: make(map[string]domain.OpenOrder),
	}
}

// PlaceOrder simulates a placement.
func (d *DryRunOrderClient) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	orderID := "dry-" + uuid.New().String()

	d.logger.Info("dry-run order",
		slog.String("token", req.TokenID),
		slog.String("side", string(req.Side)),
		slog.String("type", string(req.Type)),
		slog.Float64("price", req.Price),
		slog.Float64("qty", req.Qty))

	if req.Type == domain.OrderTypeFOK {
		return domain.OrderResult{
			OrderID:      orderID,
			Success:      true,
			FilledQty:    req.Qty,
			AvgFillPrice: req.Price,
		}, nil
	}

	d.mu.Lock()
	d.resting[orderID] = domain.OpenOrder{
		OrderID:   orderID,
		TokenID:   req.TokenID,
		Side:      req.Side,
		Price:     req.Price,
		Qty:       req.Qty,
		CreatedAt: time.Now().UTC(),
	}
	d.mu.Unlock()

	return domain.OrderResult{OrderID: orderID, Success: true}, nil
}

// CancelOrder removes a simulated resting order.
func (d *DryRunOrderClient) CancelOrder(_ context.Context, orderID string) error {
	d.mu.Lock()
	delete(d.resting, orderID)
	d.mu.Unlock()
	return nil
}

// CancelAll removes every simulated resting order.
func (d *DryRunOrderClient) CancelAll(_ context.Context) error {
	d.mu.Lock()
	d.resting = make(map[string]domain.OpenOrder)
	d.mu.Unlock()
	return nil
}

// OpenOrders lists the simulated resting orders.
func (d *DryRunOrderClient) OpenOrders(_ context.Context) ([]domain.OpenOrder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]domain.OpenOrder, 0, len(d.resting))
	for _, o := range d.resting {
		out = append(out, o)
	}
	return out, nil
}

var _ domain.OrderClient = (*DryRunOrderClient)(nil)
