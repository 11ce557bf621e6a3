// Package storetest is the behavior every sync.Store backend shares. Backend
// packages call Run from their own tests with a factory for empty stores.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncdomain "or3sync/internal/domain/sync"
)

// Factory returns a store with no workspaces, cursors or records.
type Factory func(t *testing.T) syncdomain.Store

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Run executes every case against a fresh store from open.
func Run(t *testing.T, open Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s syncdomain.Store)
	}{
		{name: "entries merge tombstones", fn: testEntriesMergeTombstones},
		{name: "failed section rolls back", fn: testFailedSectionRollsBack},
		{name: "cursors", fn: testCursors},
		{name: "min active cursor", fn: testMinActiveCursor},
		{name: "prune", fn: testPrune},
		{name: "workspaces and reap", fn: testWorkspacesAndReap},
		{name: "records are key ordered", fn: testRecordsAreKeyOrdered},
		{name: "workspaces are isolated", fn: testWorkspacesAreIsolated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

func appendVersion(t *testing.T, s syncdomain.Store, ws string, del bool, created time.Time) uint64 {
	t.Helper()
	var v uint64
	err := s.InWorkspace(context.Background(), ws, func(ctx context.Context, tx syncdomain.Tx) error {
		var err error
		v, err = tx.NextVersion(ctx)
		require.NoError(t, err)
		opID := fmt.Sprintf("op-%d", v)
		if del {
			return tx.AppendTombstone(ctx, syncdomain.Tombstone{WorkspaceID: ws, ServerVersion: v, OpID: opID, DeletedAt: created})
		}
		if err := tx.AppendEntry(ctx, syncdomain.ChangeLogEntry{WorkspaceID: ws, ServerVersion: v, Operation: syncdomain.OpUpdate, OpID: opID, CreatedAt: created}); err != nil {
			return err
		}
		return tx.RememberOp(ctx, syncdomain.PushResult{OpID: opID, Status: syncdomain.StatusApplied, ServerVersion: v})
	})
	require.NoError(t, err)
	return v
}

func lookupOp(t *testing.T, s syncdomain.Store, ws, opID string) *syncdomain.PushResult {
	t.Helper()
	var res *syncdomain.PushResult
	err := s.InWorkspace(context.Background(), ws, func(ctx context.Context, tx syncdomain.Tx) error {
		var err error
		res, err = tx.LookupOp(ctx, opID)
		return err
	})
	require.NoError(t, err)
	return res
}

func versions(entries []syncdomain.ChangeLogEntry) []uint64 {
	out := make([]uint64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ServerVersion)
	}
	return out
}

func testEntriesMergeTombstones(t *testing.T, s syncdomain.Store) {
	ctx := context.Background()

	appendVersion(t, s, "ws", false, t0)
	appendVersion(t, s, "ws", true, t0)
	appendVersion(t, s, "ws", false, t0)
	appendVersion(t, s, "ws", true, t0)

	all, err := s.Entries(ctx, "ws", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3, 4}, versions(all))
	assert.Equal(t, syncdomain.OpDelete, all[1].Operation)

	page, err := s.Entries(ctx, "ws", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 3}, versions(page))

	none, err := s.Entries(ctx, "missing", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testFailedSectionRollsBack(t *testing.T, s syncdomain.Store) {
	ctx := context.Background()
	appendVersion(t, s, "ws", false, t0)

	boom := errors.New("boom")
	err := s.InWorkspace(ctx, "ws", func(ctx context.Context, tx syncdomain.Tx) error {
		v, _ := tx.NextVersion(ctx)
		_ = tx.AppendEntry(ctx, syncdomain.ChangeLogEntry{ServerVersion: v, OpID: "lost", CreatedAt: t0})
		_ = tx.RememberOp(ctx, syncdomain.PushResult{OpID: "lost", Status: syncdomain.StatusApplied, ServerVersion: v})
		return boom
	})
	require.ErrorIs(t, err, boom)

	state, err := s.State(ctx, "ws")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), state.Head)

	assert.Equal(t, uint64(2), appendVersion(t, s, "ws", false, t0))
	assert.Nil(t, lookupOp(t, s, "ws", "lost"))
}

func testCursors(t *testing.T, s syncdomain.Store) {
	ctx := context.Background()

	_, err := s.Cursor(ctx, "ws", "d1")
	assert.ErrorIs(t, err, syncdomain.ErrCursorNotFound)

	require.NoError(t, s.EnsureCursor(ctx, syncdomain.DeviceCursor{WorkspaceID: "ws", DeviceID: "d1", LastSeenVersion: 3, UpdatedAt: t0}))
	require.NoError(t, s.EnsureCursor(ctx, syncdomain.DeviceCursor{WorkspaceID: "ws", DeviceID: "d1", LastSeenVersion: 0, UpdatedAt: t0.Add(time.Hour)}))

	c, err := s.Cursor(ctx, "ws", "d1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), c.LastSeenVersion)
	assert.True(t, t0.Add(time.Hour).Equal(c.UpdatedAt), "updated_at refreshed, got %s", c.UpdatedAt)

	stored, ok, err := s.AdvanceCursor(ctx, syncdomain.DeviceCursor{WorkspaceID: "ws", DeviceID: "d1", LastSeenVersion: 2, UpdatedAt: t0})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint64(3), stored.LastSeenVersion)

	_, ok, err = s.AdvanceCursor(ctx, syncdomain.DeviceCursor{WorkspaceID: "ws", DeviceID: "d1", LastSeenVersion: 3, UpdatedAt: t0})
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = s.AdvanceCursor(ctx, syncdomain.DeviceCursor{WorkspaceID: "ws", DeviceID: "d1", LastSeenVersion: 7, UpdatedAt: t0})
	require.NoError(t, err)
	assert.True(t, ok)

	c, err = s.Cursor(ctx, "ws", "d1")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), c.LastSeenVersion)
}

func testMinActiveCursor(t *testing.T, s syncdomain.Store) {
	ctx := context.Background()

	_, ok, err := s.MinActiveCursor(ctx, "ws", t0)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, c := range []syncdomain.DeviceCursor{
		{WorkspaceID: "ws", DeviceID: "stale", LastSeenVersion: 1, UpdatedAt: t0.Add(-time.Hour)},
		{WorkspaceID: "ws", DeviceID: "a", LastSeenVersion: 9, UpdatedAt: t0},
		{WorkspaceID: "ws", DeviceID: "b", LastSeenVersion: 4, UpdatedAt: t0.Add(time.Minute)},
	} {
		_, _, err := s.AdvanceCursor(ctx, c)
		require.NoError(t, err)
	}

	v, ok, err := s.MinActiveCursor(ctx, "ws", t0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(4), v)
}

func testPrune(t *testing.T, s syncdomain.Store) {
	ctx := context.Background()
	old := t0.Add(-48 * time.Hour)

	for i := 0; i < 6; i++ {
		appendVersion(t, s, "ws", i%2 == 1, old)
	}
	appendVersion(t, s, "ws", false, t0)

	batch, err := s.PruneChangeLog(ctx, syncdomain.PruneParams{WorkspaceID: "ws", Below: 6, CreatedBefore: t0, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, syncdomain.PruneBatch{Deleted: 3, Last: 5}, batch)

	state, err := s.State(ctx, "ws")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), state.PrunedThrough)
	assert.Equal(t, uint64(7), state.Head)

	batch, err = s.PruneTombstones(ctx, syncdomain.PruneParams{WorkspaceID: "ws", After: 2, Below: 6, CreatedBefore: t0, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, syncdomain.PruneBatch{Deleted: 1, Last: 4}, batch)

	state, err = s.State(ctx, "ws")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), state.PrunedThrough, "pruned_through never moves back")

	left, err := s.Entries(ctx, "ws", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 6, 7}, versions(left))

	assert.Nil(t, lookupOp(t, s, "ws", "op-1"))
	assert.NotNil(t, lookupOp(t, s, "ws", "op-7"))
}

func testWorkspacesAndReap(t *testing.T, s syncdomain.Store) {
	ctx := context.Background()
	for _, ws := range []string{"c", "a", "b"} {
		appendVersion(t, s, ws, false, t0)
		_, _, err := s.AdvanceCursor(ctx, syncdomain.DeviceCursor{WorkspaceID: ws, DeviceID: "old", UpdatedAt: t0.Add(-time.Hour)})
		require.NoError(t, err)
		_, _, err = s.AdvanceCursor(ctx, syncdomain.DeviceCursor{WorkspaceID: ws, DeviceID: "new", UpdatedAt: t0})
		require.NoError(t, err)
	}

	ids, err := s.Workspaces(ctx, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
	ids, err = s.Workspaces(ctx, "b", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids)

	n, err := s.ReapCursors(ctx, t0, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = s.ReapCursors(ctx, t0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.ReapCursors(ctx, t0, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, ws := range []string{"a", "b", "c"} {
		_, err := s.Cursor(ctx, ws, "new")
		assert.NoError(t, err)
		_, err = s.Cursor(ctx, ws, "old")
		assert.ErrorIs(t, err, syncdomain.ErrCursorNotFound)
	}
}

func testRecordsAreKeyOrdered(t *testing.T, s syncdomain.Store) {
	ctx := context.Background()

	keys := []syncdomain.RecordKey{
		{TableName: "threads", PrimaryKey: "a"},
		{TableName: "notes", PrimaryKey: "b"},
		{TableName: "notes", PrimaryKey: "a"},
	}
	err := s.InWorkspace(ctx, "ws", func(ctx context.Context, tx syncdomain.Tx) error {
		for _, k := range keys {
			err := tx.PutRecord(ctx, syncdomain.Record{WorkspaceID: "ws", TableName: k.TableName, PrimaryKey: k.PrimaryKey, UpdatedAt: t0})
			if err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	first, err := s.Records(ctx, "ws", syncdomain.RecordKey{}, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, keys[2], first[0].Key())
	assert.Equal(t, keys[1], first[1].Key())

	rest, err := s.Records(ctx, "ws", first[1].Key(), 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, keys[0], rest[0].Key())

	none, err := s.Records(ctx, "missing", syncdomain.RecordKey{}, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testWorkspacesAreIsolated(t *testing.T, s syncdomain.Store) {
	ctx := context.Background()

	// Both workspaces number from 1 and reuse the same op ids.
	assert.Equal(t, uint64(1), appendVersion(t, s, "w1", false, t0))
	assert.Equal(t, uint64(2), appendVersion(t, s, "w1", true, t0))
	assert.Equal(t, uint64(1), appendVersion(t, s, "w2", false, t0))

	w2, err := s.Entries(ctx, "w2", 0, 10)
	require.NoError(t, err)
	require.Len(t, w2, 1)
	assert.Equal(t, "w2", w2[0].WorkspaceID)
	assert.Equal(t, syncdomain.OpUpdate, w2[0].Operation)

	assert.NotNil(t, lookupOp(t, s, "w1", "op-2"))
	assert.Nil(t, lookupOp(t, s, "w2", "op-2"))

	batch, err := s.PruneChangeLog(ctx, syncdomain.PruneParams{WorkspaceID: "w1", Below: 3, CreatedBefore: t0.Add(time.Hour), Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Deleted)

	state, err := s.State(ctx, "w2")
	require.NoError(t, err)
	assert.Equal(t, syncdomain.WorkspaceState{Head: 1}, state)
	assert.NotNil(t, lookupOp(t, s, "w2", "op-1"))

	require.NoError(t, s.EnsureCursor(ctx, syncdomain.DeviceCursor{WorkspaceID: "w1", DeviceID: "d", LastSeenVersion: 2, UpdatedAt: t0}))
	_, err = s.Cursor(ctx, "w2", "d")
	assert.ErrorIs(t, err, syncdomain.ErrCursorNotFound)
}
