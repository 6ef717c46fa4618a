package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tomredd/flasharb/internal/domain"
)

// archiveBatchSize is how many execution records are read per page while
// draining history.
const archiveBatchSize = 1000

// ArchiveImpl implements domain.Archiver: it drains aged execution records
// from the store into month-partitioned JSONL objects, then deletes them
// from the primary store once the upload has been verified.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	store  domain.ExecutionStore
	logger *slog.Logger
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, store domain.ExecutionStore, logger *slog.Logger) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		reader: reader,
		store:  store,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveExecutions moves all execution records started before the cutoff
// into object storage and deletes them from the database. Records are paged
// so an unbounded backlog never has to fit in memory; each page becomes one
// object. The archived count is returned.
//
// Deletion happens only after the page's object is confirmed present, so a
// failed upload leaves the records in the database for the next run.
func (a *ArchiveImpl) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for page := 0; ; page++ {
		records, err := a.store.ListBefore(ctx, before, archiveBatchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive executions query: %w", err)
		}
		if len(records) == 0 {
			return total, nil
		}

		buf, err := marshalJSONL(records)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive executions marshal: %w", err)
		}

		// Key by the oldest record in the page so reruns after a partial
		// failure do not overwrite earlier archives.
		path := archivePath(records[0].StartedAt, page)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: archive executions upload: %w", err)
		}
		ok, err := a.reader.Exists(ctx, path)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive executions verify: %w", err)
		}
		if !ok {
			return total, fmt.Errorf("s3blob: archive executions verify: %s missing after upload", path)
		}

		// Safe to drop this page: everything in it started before the
		// youngest record's start time plus a nanosecond.
		last := records[len(records)-1].StartedAt.Add(time.Nanosecond)
		if last.After(before) {
			last = before
		}
		deleted, err := a.store.DeleteBefore(ctx, last)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive executions delete: %w", err)
		}
		total += deleted

		a.logger.Info("archived execution page",
			slog.String("path", path),
			slog.Int("records", len(records)),
			slog.Int64("deleted", deleted),
		)

		if len(records) < archiveBatchSize {
			return total, nil
		}
	}
}

// archivePath builds the object key for an archive page, partitioned by the
// year-month of the page's oldest record:
//
//	archive/executions/2026-08/page-0003.jsonl
func archivePath(oldest time.Time, page int) string {
	return fmt.Sprintf("archive/executions/%s/page-%04d.jsonl", oldest.Format("2006-01"), page)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
