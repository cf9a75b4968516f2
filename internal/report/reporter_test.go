package report

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

type fakeSettlementStore struct {
	created []domain.SettlementRecord
	err     error
}

func (f *fakeSettlementStore) Create(ctx context.Context, rec domain.SettlementRecord) error {
	f.created = append(f.created, rec)
	return f.err
}

func (f *fakeSettlementStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.SettlementRecord, error) {
	return nil, nil
}

func (f *fakeSettlementStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeFillStore struct {
	created []domain.FillRecord
}

func (f *fakeFillStore) Create(ctx context.Context, rec domain.FillRecord) error {
	f.created = append(f.created, rec)
	return nil
}

func (f *fakeFillStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.FillRecord, error) {
	return nil, nil
}

func (f *fakeFillStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeSnapshotStore struct {
	upserts []domain.InventoryRecord
}

func (f *fakeSnapshotStore) Upsert(ctx context.Context, rec domain.InventoryRecord) error {
	f.upserts = append(f.upserts, rec)
	return nil
}

type fakeBus struct {
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (f *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	f.published[channel] = append(f.published[channel], payload)
	return nil
}

func (f *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	f.streamed[stream] = append(f.streamed[stream], payload)
	return nil
}

type fakeMirror struct {
	slugs []string
	last  domain.Inventory
}

func (f *fakeMirror) SetInventory(ctx context.Context, slug string, inv domain.Inventory, ts time.Time) error {
	f.slugs = append(f.slugs, slug)
	f.last = inv
	return nil
}

type fakeBlobs struct {
	keys []string
	data [][]byte
	err  error
}

func (f *fakeBlobs) Put(ctx context.Context, key, contentType string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.data = append(f.data, append([]byte(nil), data...))
	return nil
}

type fakeAlerter struct {
	events []string
	titles []string
}

func (f *fakeAlerter) Notify(ctx context.Context, event, title, message string) error {
	f.events = append(f.events, event)
	f.titles = append(f.titles, title)
	return nil
}

func newTestReporter(sinks Sinks) *Reporter {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewReporter(Config{BufferSize: 16, SnapshotBatchSize: 4, FlushInterval: time.Hour}, sinks, logger)
}

// runAndDrain starts the consumer, executes fn, then cancels and waits for the
// drain to finish so every enqueued record has been handled.
func runAndDrain(t *testing.T, r *Reporter, fn func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()

	fn()
	time.Sleep(50 * time.Millisecond) // let the consumer pick records up
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reporter did not stop")
	}
}

func TestReporterSettlementFanOut(t *testing.T) {
	store := &fakeSettlementStore{}
	bus := newFakeBus()
	alerts := &fakeAlerter{}
	r := newTestReporter(Sinks{Settlements: store, Bus: bus, Alerts: alerts})

	rec := domain.SettlementRecord{
		ID: "s-1", Slug: "btc-updown-0830", PairedQty: 20, UnpairedQty: 2,
		CombinedCost: 0.95, LockedProfit: 1.0, Estimated: true,
	}
	runAndDrain(t, r, func() { r.RecordSettlement(rec) })

	require.Len(t, store.created, 1)
	assert.Equal(t, "s-1", store.created[0].ID)
	require.Len(t, bus.published["updownbot:settlements"], 1)
	assert.Contains(t, string(bus.published["updownbot:settlements"][0]), "btc-updown-0830")
	assert.Equal(t, []string{"settlement"}, alerts.events)
	assert.Contains(t, alerts.titles, "Market settled")
}

func TestReporterFillGoesToStoreAndStream(t *testing.T) {
	store := &fakeFillStore{}
	bus := newFakeBus()
	r := newTestReporter(Sinks{Fills: store, Bus: bus})

	runAndDrain(t, r, func() {
		r.RecordFill(domain.FillRecord{ID: "f-1", Slug: "btc-updown-0830", Qty: 10})
	})

	require.Len(t, store.created, 1)
	require.Len(t, bus.streamed["updownbot:fills"], 1)
}

func TestReporterInventoryRebuildsMirrorPosition(t *testing.T) {
	store := &fakeSnapshotStore{}
	mirror := &fakeMirror{}
	r := newTestReporter(Sinks{Snapshots: store, Mirror: mirror})

	runAndDrain(t, r, func() {
		r.RecordInventory(domain.InventoryRecord{
			Slug: "btc-updown-0830", UpQty: 10, DownQty: 8, UpCost: 5.5, DownCost: 3.2,
			Timestamp: time.Now(),
		})
	})

	require.Len(t, store.upserts, 1)
	require.Equal(t, []string{"btc-updown-0830"}, mirror.slugs)
	assert.Equal(t, 10.0, mirror.last.UpQty)
	assert.Equal(t, 5.5, mirror.last.UpCost)
	assert.Equal(t, 3.2, mirror.last.DownCost)
}

func TestReporterBooksFlushAtBatchSize(t *testing.T) {
	blobs := &fakeBlobs{}
	r := newTestReporter(Sinks{Blobs: blobs})

	snap := func(tok string) domain.BookSnapshot {
		return domain.BookSnapshot{Slug: "btc-updown-0830", TokenID: tok, BestBid: 0.48, BestAsk: 0.50, Timestamp: time.Now()}
	}
	runAndDrain(t, r, func() {
		r.RecordBooks([]domain.BookSnapshot{snap("a"), snap("b")})
		r.RecordBooks([]domain.BookSnapshot{snap("c"), snap("d")}) // hits the batch size of 4
	})

	require.NotEmpty(t, blobs.keys)
	assert.True(t, strings.HasPrefix(blobs.keys[0], "books/"))
	assert.True(t, strings.HasSuffix(blobs.keys[0], ".jsonl"))

	lines := bytes.Split(bytes.TrimSpace(blobs.data[0]), []byte("\n"))
	assert.Len(t, lines, 4, "one JSONL row per snapshot")
	assert.Contains(t, string(lines[0]), `"token_id":"a"`)
}

func TestReporterDrainFlushesTail(t *testing.T) {
	blobs := &fakeBlobs{}
	r := newTestReporter(Sinks{Blobs: blobs})

	// One snapshot is below the batch size, so only the shutdown drain can
	// flush it.
	runAndDrain(t, r, func() {
		r.RecordBooks([]domain.BookSnapshot{{Slug: "s", TokenID: "t", BestBid: 0.4, BestAsk: 0.5}})
	})

	require.Len(t, blobs.keys, 1)
}

func TestReporterNilSinksAreSkipped(t *testing.T) {
	r := newTestReporter(Sinks{})

	runAndDrain(t, r, func() {
		r.RecordSettlement(domain.SettlementRecord{ID: "s-1"})
		r.RecordFill(domain.FillRecord{ID: "f-1"})
		r.RecordInventory(domain.InventoryRecord{Slug: "m"})
		r.RecordBooks([]domain.BookSnapshot{{TokenID: "t"}})
		r.RecordAlert("error", "t", "m")
	})
	// Nothing to assert beyond "no panic": every sink is optional.
}

func TestReporterAlertDelivery(t *testing.T) {
	alerts := &fakeAlerter{}
	r := newTestReporter(Sinks{Alerts: alerts})

	runAndDrain(t, r, func() {
		r.RecordAlert("circuit_breaker", "Circuit breaker tripped", "36 unpaired")
	})

	assert.Equal(t, []string{"circuit_breaker"}, alerts.events)
}

func TestReporterDropsWhenBufferFull(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewReporter(Config{BufferSize: 1, SnapshotBatchSize: 4, FlushInterval: time.Hour}, Sinks{}, logger)

	// Without a running consumer the second record cannot fit; Record must
	// return immediately instead of blocking the caller.
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.RecordFill(domain.FillRecord{ID: "f-1"})
		r.RecordFill(domain.FillRecord{ID: "f-2"})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RecordFill blocked on a full buffer")
	}
}

func TestBooksJSONLRetainsBufferOnUploadFailure(t *testing.T) {
	blobs := &fakeBlobs{err: errors.New("s3 down")}
	r := newTestReporter(Sinks{Blobs: blobs})

	r.bookBuf = []domain.BookSnapshot{{TokenID: "t"}}
	r.flushBooks(context.Background())
	assert.Len(t, r.bookBuf, 1, "failed upload keeps the batch for retry")

	blobs.err = nil
	r.flushBooks(context.Background())
	assert.Empty(t, r.bookBuf)
	assert.Len(t, blobs.keys, 1)
}
