package s3blob

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tradewell-labs/updownbot/internal/domain"
)

// archiveBatchLimit caps one export object. An oversized backlog is drained
// batch by batch within a single run.
const archiveBatchLimit = 10000

// Archiver exports aged settlement and fill records to JSONL objects in the
// blob store and prunes them from the primary store afterwards. Rows are only
// ever deleted up to the timestamp of a batch that has already been uploaded,
// so a failed run leaves the unexported rows in place for the next pass.
type Archiver struct {
	writer      domain.BlobWriter
	settlements domain.SettlementStore
	fills       domain.FillStore
	logger      *slog.Logger
}

// NewArchiver creates an Archiver over the given stores.
func NewArchiver(writer domain.BlobWriter, settlements domain.SettlementStore, fills domain.FillStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:      writer,
		settlements: settlements,
		fills:       fills,
		logger:      logger.With(slog.String("component", "archiver")),
	}
}

// Run archives and prunes all records older than the cutoff.
func (a *Archiver) Run(ctx context.Context, cutoff time.Time) error {
	settled, err := a.archiveSettlements(ctx, cutoff)
	if err != nil {
		return err
	}
	filled, err := a.archiveFills(ctx, cutoff)
	if err != nil {
		return err
	}

	if settled+filled > 0 {
		a.logger.Info("retention pass complete",
			slog.Int64("settlements", settled),
			slog.Int64("fills", filled),
			slog.Time("cutoff", cutoff))
	}
	return nil
}

func (a *Archiver) archiveSettlements(ctx context.Context, cutoff time.Time) (int64, error) {
	var pruned int64
	for part := 0; ; part++ {
		recs, err := a.settlements.ListBefore(ctx, cutoff, archiveBatchLimit)
		if err != nil {
			return pruned, fmt.Errorf("s3blob: archive settlements query: %w", err)
		}
		if len(recs) == 0 {
			return pruned, nil
		}

		buf, err := marshalJSONL(recs)
		if err != nil {
			return pruned, fmt.Errorf("s3blob: archive settlements marshal: %w", err)
		}
		if err := a.writer.Put(ctx, archivePath("settlements", cutoff, part), "application/x-ndjson", buf); err != nil {
			return pruned, fmt.Errorf("s3blob: archive settlements upload: %w", err)
		}

		// Prune no further than the batch just uploaded. The final short
		// batch covers everything left under the cutoff.
		pruneTo := cutoff
		if len(recs) == archiveBatchLimit {
			pruneTo = recs[len(recs)-1].RecordedAt
		}
		deleted, err := a.settlements.DeleteBefore(ctx, pruneTo)
		if err != nil {
			return pruned, fmt.Errorf("s3blob: archive settlements prune: %w", err)
		}
		pruned += deleted

		if len(recs) < archiveBatchLimit {
			return pruned, nil
		}
		if deleted == 0 {
			return pruned, fmt.Errorf("s3blob: archive settlements: backlog at %s does not shrink", pruneTo.UTC())
		}
	}
}

func (a *Archiver) archiveFills(ctx context.Context, cutoff time.Time) (int64, error) {
	var pruned int64
	for part := 0; ; part++ {
		recs, err := a.fills.ListBefore(ctx, cutoff, archiveBatchLimit)
		if err != nil {
			return pruned, fmt.Errorf("s3blob: archive fills query: %w", err)
		}
		if len(recs) == 0 {
			return pruned, nil
		}

		buf, err := marshalJSONL(recs)
		if err != nil {
			return pruned, fmt.Errorf("s3blob: archive fills marshal: %w", err)
		}
		if err := a.writer.Put(ctx, archivePath("fills", cutoff, part), "application/x-ndjson", buf); err != nil {
			return pruned, fmt.Errorf("s3blob: archive fills upload: %w", err)
		}

		pruneTo := cutoff
		if len(recs) == archiveBatchLimit {
			pruneTo = recs[len(recs)-1].Occurred
		}
		deleted, err := a.fills.DeleteBefore(ctx, pruneTo)
		if err != nil {
			return pruned, fmt.Errorf("s3blob: archive fills prune: %w", err)
		}
		pruned += deleted

		if len(recs) < archiveBatchLimit {
			return pruned, nil
		}
		if deleted == 0 {
			return pruned, fmt.Errorf("s3blob: archive fills: backlog at %s does not shrink", pruneTo.UTC())
		}
	}
}

// archivePath builds the object key
// archive/<kind>/<YYYY-MM-DD>T<HHMMSS>-<part>.jsonl so neither successive
// runs nor batches within one run overwrite each other.
func archivePath(kind string, cutoff time.Time, part int) string {
	return fmt.Sprintf("archive/%s/%s-%03d.jsonl", kind, cutoff.UTC().Format("2006-01-02T150405"), part)
}

// marshalJSONL serializes a slice to newline-delimited JSON.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf []byte
	for _, item := range items {
		line, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return buf, nil
}
