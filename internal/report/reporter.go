// Package report implements the asynchronous reporting pipeline. Trading
// components hand records over fire-and-forget; a single consumer goroutine
// fans them out to PostgreSQL, the Redis mirror and signal bus, blob storage,
// and operator notifications. Sink failures are logged and never reach the
// trading path.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tradewell-labs/updownbot/internal/domain"
	"github.com/tradewell-labs/updownbot/internal/engine"
	"github.com/tradewell-labs/updownbot/internal/notify"
)

// Compile-time interface check.
var _ engine.Reporter = (*Reporter)(nil)

// drainTimeout bounds the final flush after the run context is cancelled.
const drainTimeout = 10 * time.Second

// Config are the reporter buffering knobs.
type Config struct {
	BufferSize        int
	SnapshotBatchSize int
	FlushInterval     time.Duration
}

// EventBus is the signal-bus surface the reporter publishes on: Pub/Sub for
// ephemeral events, a stream for fill records so offline consumers keep the
// backlog.
type EventBus interface {
	domain.SignalBus
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// PositionMirror mirrors per-market inventory into a cache for external
// monitoring.
type PositionMirror interface {
	SetInventory(ctx context.Context, slug string, inv domain.Inventory, ts time.Time) error
}

// Alerter delivers operator notifications, filtered by event type.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Sinks are the reporting destinations. Any of them may be nil; the reporter
// skips what is not configured.
type Sinks struct {
	Settlements domain.SettlementStore
	Fills       domain.FillStore
	Snapshots   domain.SnapshotStore
	Mirror      PositionMirror
	Bus         EventBus
	Blobs       domain.BlobWriter
	Alerts      Alerter
}

type alertEvent struct {
	Event   string
	Title   string
	Message string
}

// Reporter buffers records on channels and writes them to the sinks from a
// single consumer goroutine. When a buffer is full the record is dropped with
// a warning: reporting backpressure must never stall a trading tick.
type Reporter struct {
	cfg    Config
	sinks  Sinks
	logger *slog.Logger

	settlementCh chan domain.SettlementRecord
	fillCh       chan domain.FillRecord
	inventoryCh  chan domain.InventoryRecord
	booksCh      chan []domain.BookSnapshot
	alertCh      chan alertEvent

	bookBuf []domain.BookSnapshot
}

// NewReporter creates a Reporter. Call Run to start the consumer.
func NewReporter(cfg Config, sinks Sinks, logger *slog.Logger) *Reporter {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.SnapshotBatchSize <= 0 {
		cfg.SnapshotBatchSize = 200
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	return &Reporter{
		cfg:          cfg,
		sinks:        sinks,
		logger:       logger.With(slog.String("component", "reporter")),
		settlementCh: make(chan domain.SettlementRecord, cfg.BufferSize),
		fillCh:       make(chan domain.FillRecord, cfg.BufferSize),
		inventoryCh:  make(chan domain.InventoryRecord, cfg.BufferSize),
		booksCh:      make(chan []domain.BookSnapshot, cfg.BufferSize),
		alertCh:      make(chan alertEvent, cfg.BufferSize),
	}
}

// RecordSettlement enqueues a settlement record.
func (r *Reporter) RecordSettlement(rec domain.SettlementRecord) {
	select {
	case r.settlementCh <- rec:
	default:
		r.logger.Warn("settlement buffer full, dropping record", slog.String("slug", rec.Slug))
	}
}

// RecordFill enqueues a fill record.
func (r *Reporter) RecordFill(rec domain.FillRecord) {
	select {
	case r.fillCh <- rec:
	default:
		r.logger.Warn("fill buffer full, dropping record", slog.String("id", rec.ID))
	}
}

// RecordInventory enqueues an inventory snapshot.
func (r *Reporter) RecordInventory(rec domain.InventoryRecord) {
	select {
	case r.inventoryCh <- rec:
	default:
		r.logger.Warn("inventory buffer full, dropping record", slog.String("slug", rec.Slug))
	}
}

// RecordBooks enqueues a batch of top-of-book snapshots.
func (r *Reporter) RecordBooks(snaps []domain.BookSnapshot) {
	if len(snaps) == 0 {
		return
	}
	select {
	case r.booksCh <- snaps:
	default:
		r.logger.Warn("book buffer full, dropping batch", slog.Int("count", len(snaps)))
	}
}

// RecordAlert enqueues an operator alert.
func (r *Reporter) RecordAlert(event, title, message string) {
	select {
	case r.alertCh <- alertEvent{Event: event, Title: title, Message: message}:
	default:
		r.logger.Warn("alert buffer full, dropping alert", slog.String("event", event))
	}
}

// Run consumes the buffers until ctx is cancelled, then drains whatever is
// still queued under a bounded deadline so a graceful shutdown does not lose
// the tail.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.drain()
			return ctx.Err()
		case rec := <-r.settlementCh:
			r.handleSettlement(ctx, rec)
		case rec := <-r.fillCh:
			r.handleFill(ctx, rec)
		case rec := <-r.inventoryCh:
			r.handleInventory(ctx, rec)
		case snaps := <-r.booksCh:
			r.bufferBooks(ctx, snaps)
		case a := <-r.alertCh:
			r.handleAlert(ctx, a)
		case <-ticker.C:
			r.flushBooks(ctx)
		}
	}
}

// drain empties the buffers after cancellation using a fresh context; the run
// context is already dead.
func (r *Reporter) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case rec := <-r.settlementCh:
			r.handleSettlement(ctx, rec)
		case rec := <-r.fillCh:
			r.handleFill(ctx, rec)
		case rec := <-r.inventoryCh:
			r.handleInventory(ctx, rec)
		case snaps := <-r.booksCh:
			r.bookBuf = append(r.bookBuf, snaps...)
		case a := <-r.alertCh:
			r.handleAlert(ctx, a)
		default:
			r.flushBooks(ctx)
			return
		}
	}
}

func (r *Reporter) handleSettlement(ctx context.Context, rec domain.SettlementRecord) {
	if r.sinks.Settlements != nil {
		if err := r.sinks.Settlements.Create(ctx, rec); err != nil {
			r.logger.Error("settlement store write failed",
				slog.String("slug", rec.Slug), slog.String("error", err.Error()))
		}
	}
	if r.sinks.Bus != nil {
		if payload, err := json.Marshal(rec); err == nil {
			if err := r.sinks.Bus.Publish(ctx, "updownbot:settlements", payload); err != nil {
				r.logger.Warn("settlement publish failed", slog.String("error", err.Error()))
			}
		}
	}
	if r.sinks.Alerts != nil {
		msg := fmt.Sprintf("%s expired: paired %.1f, unpaired %.1f, locked profit $%.2f",
			rec.Slug, rec.PairedQty, rec.UnpairedQty, rec.LockedProfit)
		if err := r.sinks.Alerts.Notify(ctx, notify.EventSettlement, "Market settled", msg); err != nil {
			r.logger.Warn("settlement notification failed", slog.String("error", err.Error()))
		}
	}
}

func (r *Reporter) handleFill(ctx context.Context, rec domain.FillRecord) {
	if r.sinks.Fills != nil {
		if err := r.sinks.Fills.Create(ctx, rec); err != nil {
			r.logger.Error("fill store write failed",
				slog.String("id", rec.ID), slog.String("error", err.Error()))
		}
	}
	if r.sinks.Bus != nil {
		if payload, err := json.Marshal(rec); err == nil {
			if err := r.sinks.Bus.StreamAppend(ctx, "updownbot:fills", payload); err != nil {
				r.logger.Warn("fill stream append failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Reporter) handleInventory(ctx context.Context, rec domain.InventoryRecord) {
	if r.sinks.Snapshots != nil {
		if err := r.sinks.Snapshots.Upsert(ctx, rec); err != nil {
			r.logger.Error("snapshot upsert failed",
				slog.String("slug", rec.Slug), slog.String("error", err.Error()))
		}
	}
	if r.sinks.Mirror != nil {
		inv := domain.Inventory{
			UpQty:    rec.UpQty,
			DownQty:  rec.DownQty,
			UpCost:   rec.UpCost,
			DownCost: rec.DownCost,
		}
		if err := r.sinks.Mirror.SetInventory(ctx, rec.Slug, inv, rec.Timestamp); err != nil {
			r.logger.Warn("position mirror write failed",
				slog.String("slug", rec.Slug), slog.String("error", err.Error()))
		}
	}
}

func (r *Reporter) handleAlert(ctx context.Context, a alertEvent) {
	if r.sinks.Alerts == nil {
		return
	}
	if err := r.sinks.Alerts.Notify(ctx, a.Event, a.Title, a.Message); err != nil {
		r.logger.Warn("alert delivery failed",
			slog.String("event", a.Event), slog.String("error", err.Error()))
	}
}

func (r *Reporter) bufferBooks(ctx context.Context, snaps []domain.BookSnapshot) {
	r.bookBuf = append(r.bookBuf, snaps...)
	if len(r.bookBuf) >= r.cfg.SnapshotBatchSize {
		r.flushBooks(ctx)
	}
}

// flushBooks writes the buffered book snapshots to blob storage as one JSONL
// object. On failure the buffer is retained for the next flush, capped so a
// long outage cannot grow it without bound.
func (r *Reporter) flushBooks(ctx context.Context) {
	if len(r.bookBuf) == 0 {
		return
	}
	if r.sinks.Blobs == nil {
		r.bookBuf = r.bookBuf[:0]
		return
	}

	data, err := booksJSONL(r.bookBuf)
	if err != nil {
		r.logger.Error("book snapshot encode failed", slog.String("error", err.Error()))
		r.bookBuf = r.bookBuf[:0]
		return
	}

	key := "books/" + time.Now().UTC().Format("2006-01-02T150405.000") + ".jsonl"
	if err := r.sinks.Blobs.Put(ctx, key, "application/x-ndjson", data); err != nil {
		r.logger.Warn("book snapshot upload failed",
			slog.String("key", key), slog.String("error", err.Error()))
		if max := r.cfg.SnapshotBatchSize * 10; len(r.bookBuf) > max {
			r.bookBuf = r.bookBuf[len(r.bookBuf)-max:]
		}
		return
	}
	r.bookBuf = r.bookBuf[:0]
}

type bookRow struct {
	Slug      string    `json:"slug"`
	TokenID   string    `json:"token_id"`
	BestBid   float64   `json:"best_bid"`
	BestAsk   float64   `json:"best_ask"`
	Timestamp time.Time `json:"ts"`
}

func booksJSONL(snaps []domain.BookSnapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, s := range snaps {
		row := bookRow{
			Slug:      s.Slug,
			TokenID:   s.TokenID,
			BestBid:   s.BestBid,
			BestAsk:   s.BestAsk,
			Timestamp: s.Timestamp,
		}
		if err := enc.Encode(row); err != nil {
			return nil, fmt.Errorf("report: encode book row: %w", err)
		}
	}
	return buf.Bytes(), nil
}
