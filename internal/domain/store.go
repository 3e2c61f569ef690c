package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ClosedPositionStore persists the append-only record of closed positions.
// The engine writes fire-and-forget; persistence failures never block or
// roll back a close.
type ClosedPositionStore interface {
	Insert(ctx context.Context, pos Position) error
	ListByTicker(ctx context.Context, ticker string, opts ListOpts) ([]Position, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]Position, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of engine events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
