package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

func archiverTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeWriter collects uploaded objects, optionally failing every Put.
type fakeWriter struct {
	keys   []string
	bodies [][]byte
	err    error
}

func (f *fakeWriter) Put(_ context.Context, key, _ string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.bodies = append(f.bodies, append([]byte(nil), data...))
	return nil
}

// settlementIDs decodes the IDs of every settlement line across all objects.
func (f *fakeWriter) settlementIDs(t *testing.T) map[string]bool {
	t.Helper()
	ids := make(map[string]bool)
	for _, body := range f.bodies {
		sc := bufio.NewScanner(bytes.NewReader(body))
		sc.Buffer(make([]byte, 1<<20), 1<<20)
		for sc.Scan() {
			var rec domain.SettlementRecord
			require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
			ids[rec.ID] = true
		}
		require.NoError(t, sc.Err())
	}
	return ids
}

// fakeSettlementStore keeps records sorted by RecordedAt, like the SQL store.
type fakeSettlementStore struct {
	recs []domain.SettlementRecord
}

func (f *fakeSettlementStore) Create(_ context.Context, rec domain.SettlementRecord) error {
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeSettlementStore) ListBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.SettlementRecord, error) {
	var out []domain.SettlementRecord
	for _, rec := range f.recs {
		if !rec.RecordedAt.Before(cutoff) {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSettlementStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var kept []domain.SettlementRecord
	var deleted int64
	for _, rec := range f.recs {
		if rec.RecordedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	f.recs = kept
	return deleted, nil
}

type fakeFillStore struct {
	recs []domain.FillRecord
}

func (f *fakeFillStore) Create(_ context.Context, rec domain.FillRecord) error {
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeFillStore) ListBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.FillRecord, error) {
	var out []domain.FillRecord
	for _, rec := range f.recs {
		if !rec.Occurred.Before(cutoff) {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeFillStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var kept []domain.FillRecord
	var deleted int64
	for _, rec := range f.recs {
		if rec.Occurred.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	f.recs = kept
	return deleted, nil
}

func settlementAt(id string, at time.Time) domain.SettlementRecord {
	return domain.SettlementRecord{ID: id, Slug: "btc-" + id, RecordedAt: at}
}

func TestArchiverExportsAndPrunes(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	settlements := &fakeSettlementStore{recs: []domain.SettlementRecord{
		settlementAt("s1", cutoff.Add(-2*time.Hour)),
		settlementAt("s2", cutoff.Add(-time.Hour)),
		settlementAt("s3", cutoff.Add(time.Hour)), // inside retention, stays
	}}
	fills := &fakeFillStore{recs: []domain.FillRecord{
		{ID: "f1", Occurred: cutoff.Add(-time.Hour)},
		{ID: "f2", Occurred: cutoff.Add(time.Hour)},
	}}
	writer := &fakeWriter{}
	a := NewArchiver(writer, settlements, fills, archiverTestLogger())

	require.NoError(t, a.Run(context.Background(), cutoff))

	require.Equal(t, []string{
		"archive/settlements/2026-08-01T000000-000.jsonl",
		"archive/fills/2026-08-01T000000-000.jsonl",
	}, writer.keys)
	assert.Equal(t, 2, bytes.Count(writer.bodies[0], []byte("\n")))
	assert.Equal(t, 1, bytes.Count(writer.bodies[1], []byte("\n")))

	require.Len(t, settlements.recs, 1)
	assert.Equal(t, "s3", settlements.recs[0].ID)
	require.Len(t, fills.recs, 1)
	assert.Equal(t, "f2", fills.recs[0].ID)
}

func TestArchiverDrainsBacklogBeyondBatchLimit(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	base := cutoff.Add(-24 * time.Hour)

	total := archiveBatchLimit + 5
	settlements := &fakeSettlementStore{}
	for i := 0; i < total; i++ {
		settlements.recs = append(settlements.recs,
			settlementAt(strconv.Itoa(i), base.Add(time.Duration(i)*time.Millisecond)))
	}
	writer := &fakeWriter{}
	a := NewArchiver(writer, settlements, &fakeFillStore{}, archiverTestLogger())

	require.NoError(t, a.Run(context.Background(), cutoff))

	require.Len(t, writer.keys, 2, "one object per batch")
	assert.Equal(t, "archive/settlements/2026-08-01T000000-000.jsonl", writer.keys[0])
	assert.Equal(t, "archive/settlements/2026-08-01T000000-001.jsonl", writer.keys[1])

	// Nothing under the cutoff survives, and every pruned row made it into
	// an uploaded object.
	assert.Empty(t, settlements.recs)
	ids := writer.settlementIDs(t)
	for i := 0; i < total; i++ {
		assert.True(t, ids[strconv.Itoa(i)], "row %d archived before deletion", i)
	}
}

func TestArchiverUploadFailureLeavesRowsInPlace(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	settlements := &fakeSettlementStore{recs: []domain.SettlementRecord{
		settlementAt("s1", cutoff.Add(-time.Hour)),
	}}
	writer := &fakeWriter{err: assert.AnError}
	a := NewArchiver(writer, settlements, &fakeFillStore{}, archiverTestLogger())

	require.Error(t, a.Run(context.Background(), cutoff))
	assert.Len(t, settlements.recs, 1, "no prune without a successful upload")
}
