package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

// archiveBatchSize bounds how many audit trails are read, uploaded, and
// deleted per inner loop iteration.
const archiveBatchSize = 500

// ArchiveImpl implements domain.Archiver by draining aged consensus audit
// trails from the hot store, serializing them to JSONL, uploading the result
// to S3, and deleting the archived rows. Deletion only happens after a
// successful upload, so a failed run leaves everything in the hot store for
// the next cycle.
type ArchiveImpl struct {
	writer domain.BlobWriter
	trails domain.ConsensusAuditStore
	audit  domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl. audit may be nil to skip audit-log
// entries.
func NewArchiver(writer domain.BlobWriter, trails domain.ConsensusAuditStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		trails: trails,
		audit:  audit,
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// archivedTrail is the JSONL record shape written to cold storage.
type archivedTrail struct {
	RequestID string                 `json:"request_id"`
	Result    domain.ConsensusResult `json:"result"`
}

// ArchiveAuditTrails moves all consensus audit trails older than the cutoff
// to S3 at archive/consensus/YYYY-MM/<timestamp>.jsonl and removes them from
// the hot store. It returns the number of trails archived.
func (a *ArchiveImpl) ArchiveAuditTrails(ctx context.Context, before time.Time) (int64, error) {
	var total int64

	for {
		ids, err := a.trails.ListBefore(ctx, before, archiveBatchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: list audit trails: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		records := make([]archivedTrail, 0, len(ids))
		for _, id := range ids {
			result, err := a.trails.GetByRequest(ctx, id)
			if err != nil {
				return total, fmt.Errorf("s3blob: read audit trail %s: %w", id, err)
			}
			records = append(records, archivedTrail{RequestID: id, Result: result})
		}

		buf, err := marshalJSONL(records)
		if err != nil {
			return total, fmt.Errorf("s3blob: marshal audit trails: %w", err)
		}

		path := archivePath(before)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: upload audit trails: %w", err)
		}

		// Upload confirmed; safe to drop the hot rows.
		if err := a.trails.DeleteByRequest(ctx, ids); err != nil {
			return total, fmt.Errorf("s3blob: delete archived trails: %w", err)
		}

		total += int64(len(ids))

		if a.audit != nil {
			if err := a.audit.Log(ctx, "archive.consensus", map[string]any{
				"path":   path,
				"count":  len(ids),
				"before": before.Format(time.RFC3339),
			}); err != nil {
				return total, fmt.Errorf("s3blob: archive audit log: %w", err)
			}
		}

		if len(ids) < archiveBatchSize {
			break
		}
	}

	return total, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff, with a nanosecond suffix so successive batches in
// one run never collide.
//
//	archive/consensus/2025-01/1736160000000000000.jsonl
func archivePath(before time.Time) string {
	return fmt.Sprintf("archive/consensus/%s/%d.jsonl",
		before.Format("2006-01"), time.Now().UnixNano())
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
