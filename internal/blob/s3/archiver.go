package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nest-markets/nestd/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only needs time-ranged reads, not the full store interfaces.
// The Postgres stores satisfy these implicitly through their ListBefore
// methods.
// ---------------------------------------------------------------------------

// EventArchiveStore provides read access to chain events for archival.
type EventArchiveStore interface {
	// ListBefore returns events with a block timestamp strictly before the
	// cutoff, oldest first. A non-positive limit means no limit.
	ListBefore(ctx context.Context, before domain.NanoTime, limit int) ([]domain.StoredEvent, error)
}

// PricePointArchiveStore provides read access to trade samples for archival.
type PricePointArchiveStore interface {
	// ListBefore returns samples with a block timestamp strictly before the
	// cutoff, oldest first. A non-positive limit means no limit.
	ListBefore(ctx context.Context, before domain.NanoTime, limit int) ([]domain.PricePoint, error)
}

// multipartThreshold is the payload size above which uploads switch to the
// multipart path.
const multipartThreshold = 100 * 1024 * 1024

// ---------------------------------------------------------------------------
// ArchiveImpl
// ---------------------------------------------------------------------------

// ArchiveImpl implements domain.Archiver by querying the stores for aged
// rows, serializing them to JSONL, and uploading the result to object
// storage.
//
// Deleting archived rows from the primary store is intentionally NOT
// performed here -- that is a separate, explicit step to be executed after
// the archive has been verified.
type ArchiveImpl struct {
	writer domain.BlobWriter
	events EventArchiveStore
	prices PricePointArchiveStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, events EventArchiveStore, prices PricePointArchiveStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		events: events,
		prices: prices,
	}
}

// ArchiveEvents queries all events before the cutoff, serializes them to
// JSONL, and uploads the file at archive/events/YYYY-MM.jsonl. It returns
// the count of archived rows.
func (a *ArchiveImpl) ArchiveEvents(ctx context.Context, before domain.NanoTime) (int64, error) {
	events, err := a.events.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	if err := a.upload(ctx, archivePath("events", before), buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	return int64(len(events)), nil
}

// ArchivePricePoints queries all trade samples before the cutoff, serializes
// them to JSONL, and uploads the file at archive/price_points/YYYY-MM.jsonl.
// It returns the count of archived rows.
func (a *ArchiveImpl) ArchivePricePoints(ctx context.Context, before domain.NanoTime) (int64, error) {
	points, err := a.prices.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive price points query: %w", err)
	}
	if len(points) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(points)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive price points marshal: %w", err)
	}

	if err := a.upload(ctx, archivePath("price_points", before), buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive price points upload: %w", err)
	}

	return int64(len(points)), nil
}

// upload sends one snapshot to the bucket, taking the multipart path when the
// payload is large enough to warrant it.
func (a *ArchiveImpl) upload(ctx context.Context, path string, buf []byte) error {
	if int64(len(buf)) >= multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff.
//
//	archive/events/2025-01.jsonl
//	archive/price_points/2025-01.jsonl
func archivePath(kind string, before domain.NanoTime) string {
	t := time.Unix(0, int64(before)).UTC()
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, t.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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
