package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/optionsim/internal/domain"
)

// SessionArchiver serializes the simulator's closed-trade record and account
// snapshots to JSONL / JSON and uploads them to blob storage. Archival is an
// offline operation; it never runs inside the engine lock.
//
// Deletion of archived rows from the primary store is intentionally NOT
// performed here. That is a separate, explicit step to be executed after the
// archive has been verified.
type SessionArchiver struct {
	writer domain.BlobWriter
	closed domain.ClosedPositionStore
	audit  domain.AuditStore
}

// NewSessionArchiver creates a SessionArchiver. audit may be nil, in which
// case archive events are not recorded.
func NewSessionArchiver(writer domain.BlobWriter, closed domain.ClosedPositionStore, audit domain.AuditStore) *SessionArchiver {
	return &SessionArchiver{
		writer: writer,
		closed: closed,
		audit:  audit,
	}
}

// ArchiveClosedPositions uploads all positions closed before the cutoff as a
// JSONL file at archive/closed_positions/YYYY-MM.jsonl and returns the count
// of archived records.
func (a *SessionArchiver) ArchiveClosedPositions(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.closed.ListRecent(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive closed positions query: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(positions)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive closed positions marshal: %w", err)
	}

	path := archivePath("closed_positions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive closed positions upload: %w", err)
	}

	count := int64(len(positions))
	a.logArchive(ctx, "archive.closed_positions", path, count, before)
	return count, nil
}

// ArchiveAccountSnapshot uploads a point-in-time account summary as JSON at
// archive/account/<RFC3339 timestamp>.json.
func (a *SessionArchiver) ArchiveAccountSnapshot(ctx context.Context, summary domain.AccountSummary, ts time.Time) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("s3blob: marshal account snapshot: %w", err)
	}

	path := fmt.Sprintf("archive/account/%s.json", ts.UTC().Format("2006-01-02T15-04-05Z"))
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive account snapshot upload: %w", err)
	}

	a.logArchive(ctx, "archive.account_snapshot", path, 1, ts)
	return nil
}

func (a *SessionArchiver) logArchive(ctx context.Context, event, path string, count int64, cutoff time.Time) {
	if a.audit == nil {
		return
	}
	_ = a.audit.Log(ctx, event, map[string]any{
		"path":   path,
		"count":  count,
		"cutoff": cutoff.Format(time.RFC3339),
	})
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/closed_positions/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
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
