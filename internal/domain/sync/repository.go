package sync

import (
	"context"
	"time"
)

// Store is the persistence contract a backend implements. The engine
// expresses push, pull, cursor and GC logic against it.
type Store interface {
	// InWorkspace runs fn while holding the workspace's version assignment
	// section. Writes made through tx become visible only if fn returns nil.
	// Callers keep fn short: one operation, never a whole request.
	InWorkspace(ctx context.Context, workspaceID string, fn func(ctx context.Context, tx Tx) error) error

	// Entries returns change log entries and tombstones with version > after,
	// merged in ascending version order, at most limit of them.
	Entries(ctx context.Context, workspaceID string, after uint64, limit int) ([]ChangeLogEntry, error)
	State(ctx context.Context, workspaceID string) (WorkspaceState, error)
	// Records returns materialized rows ordered by (table, pk), strictly
	// after the given key, at most limit of them. A zero key starts at the
	// beginning.
	Records(ctx context.Context, workspaceID string, after RecordKey, limit int) ([]Record, error)

	// Cursor returns ErrCursorNotFound for an unknown device.
	Cursor(ctx context.Context, workspaceID, deviceID string) (DeviceCursor, error)
	// EnsureCursor inserts c if the device has no cursor yet; otherwise it
	// only refreshes UpdatedAt of the stored one.
	EnsureCursor(ctx context.Context, c DeviceCursor) error
	// AdvanceCursor stores c unless it would move the cursor backward. It
	// returns the stored cursor and whether c was accepted.
	AdvanceCursor(ctx context.Context, c DeviceCursor) (DeviceCursor, bool, error)
	// MinActiveCursor is the lowest cursor updated at or after activeSince.
	// ok is false when no device is active.
	MinActiveCursor(ctx context.Context, workspaceID string, activeSince time.Time) (minVersion uint64, ok bool, err error)

	// PruneChangeLog and PruneTombstones delete one batch, drop the
	// idempotency rows of what they deleted and raise PrunedThrough.
	PruneChangeLog(ctx context.Context, p PruneParams) (PruneBatch, error)
	PruneTombstones(ctx context.Context, p PruneParams) (PruneBatch, error)

	// Workspaces lists workspace ids sorted ascending, strictly after the given id.
	Workspaces(ctx context.Context, after string, limit int) ([]string, error)
	// ReapCursors deletes at most limit cursors not updated since staleBefore.
	ReapCursors(ctx context.Context, staleBefore time.Time, limit int) (int, error)
}

// Tx is the view of one workspace inside InWorkspace.
type Tx interface {
	// LookupOp returns the recorded result for opID, or nil if unseen.
	LookupOp(ctx context.Context, opID string) (*PushResult, error)
	// NextVersion reserves head+1. Discarded if the section fails.
	NextVersion(ctx context.Context) (uint64, error)
	AppendEntry(ctx context.Context, e ChangeLogEntry) error
	AppendTombstone(ctx context.Context, t Tombstone) error
	// Record returns the materialized row, or nil if absent.
	Record(ctx context.Context, table, pk string) (*Record, error)
	PutRecord(ctx context.Context, r Record) error
	RememberOp(ctx context.Context, res PushResult) error
}

// PruneParams selects one batch of GC candidates: versions in (After, Below)
// created before CreatedBefore, oldest first.
type PruneParams struct {
	WorkspaceID   string
	After         uint64
	Below         uint64
	CreatedBefore time.Time
	Limit         int
}

// PruneBatch reports what one prune call removed. Last is the highest
// version deleted, or zero when nothing was.
type PruneBatch struct {
	Deleted int
	Last    uint64
}
