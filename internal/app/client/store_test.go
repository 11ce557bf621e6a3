package client

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	syncdomain "or3sync/internal/domain/sync"
	"or3sync/internal/hlc"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "replica.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ts(wall int64, device string) hlc.Timestamp {
	return hlc.Timestamp{WallMS: wall, DeviceID: device}
}

func outbox(opID, pk string, op syncdomain.Operation, body string, clock hlc.Timestamp) OutboxEntry {
	e := OutboxEntry{
		OpID:        opID,
		WorkspaceID: "W",
		TableName:   "notes",
		PrimaryKey:  pk,
		Operation:   op,
		Clock:       clock,
	}
	if body != "" {
		e.Payload = json.RawMessage(body)
	}
	return e
}

func TestStore_EnqueueWritesRecordAndOutbox(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, outbox("op-1", "n1", syncdomain.OpCreate, `{"v":1}`, ts(100, "D"))))

	rec, err := s.Get(ctx, "W", "notes", "n1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(rec.Payload))
	assert.Zero(t, rec.ServerVersion)

	pending, err := s.Pending(ctx, "W", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "op-1", pending[0].OpID)
	assert.Equal(t, OutboxPending, pending[0].Status)
	assert.Nil(t, pending[0].BaseVersion)
}

func TestStore_AcknowledgeSettlesOutbox(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, outbox("op-1", "n1", syncdomain.OpCreate, `{"v":1}`, ts(100, "D"))))
	require.NoError(t, s.Enqueue(ctx, outbox("op-2", "n2", syncdomain.OpCreate, `{"v":1}`, ts(101, "D"))))
	require.NoError(t, s.Enqueue(ctx, outbox("op-3", "n3", syncdomain.OpCreate, `{"v":1}`, ts(102, "D"))))

	err := s.Acknowledge(ctx, []syncdomain.PushResult{
		{OpID: "op-1", Status: syncdomain.StatusApplied, ServerVersion: 1},
		{OpID: "op-2", Status: syncdomain.StatusDuplicate, ServerVersion: 2},
		{OpID: "op-3", Status: syncdomain.StatusRejected, Error: "validation: table_name: table is not synced"},
	})
	require.NoError(t, err)

	pending, err := s.Pending(ctx, "W", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	st, err := s.Status(ctx, "W")
	require.NoError(t, err)
	assert.Equal(t, 0, st.Pending)
	assert.Equal(t, 1, st.Rejected)
	assert.Equal(t, 3, st.Records)
}

func TestStore_ApplyPageLastWriterWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, outbox("local", "n1", syncdomain.OpCreate, `{"v":"local"}`, ts(200, "A"))))

	entries := []syncdomain.ChangeLogEntry{
		{ServerVersion: 1, TableName: "notes", PrimaryKey: "n1", Operation: syncdomain.OpUpdate,
			Payload: json.RawMessage(`{"v":"older"}`), Clock: ts(150, "B")},
		{ServerVersion: 2, TableName: "notes", PrimaryKey: "n2", Operation: syncdomain.OpCreate,
			Payload: json.RawMessage(`{"v":"new"}`), Clock: ts(150, "B")},
		{ServerVersion: 3, TableName: "notes", PrimaryKey: "n2", Operation: syncdomain.OpDelete, Clock: ts(300, "B")},
	}
	applied, err := s.ApplyPage(ctx, "W", entries, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	n1, err := s.Get(ctx, "W", "notes", "n1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":"local"}`, string(n1.Payload), "newer local write survives")

	n2, err := s.Get(ctx, "W", "notes", "n2")
	require.NoError(t, err)
	assert.True(t, n2.Deleted)
	assert.Empty(t, n2.Payload)
	assert.Equal(t, uint64(3), n2.ServerVersion)

	cursor, err := s.Cursor(ctx, "W")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), cursor)

	// the cursor never moves backwards
	_, err = s.ApplyPage(ctx, "W", nil, 1)
	require.NoError(t, err)
	cursor, err = s.Cursor(ctx, "W")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), cursor)
}

func TestStore_EchoOfOwnWriteRecordsServerVersion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, outbox("op-1", "n1", syncdomain.OpCreate, `{"v":1}`, ts(100, "D"))))
	applied, err := s.ApplyPage(ctx, "W", []syncdomain.ChangeLogEntry{
		{ServerVersion: 7, TableName: "notes", PrimaryKey: "n1", Operation: syncdomain.OpCreate,
			Payload: json.RawMessage(`{"v":1}`), Clock: ts(100, "D")},
	}, 7)
	require.NoError(t, err)
	assert.Zero(t, applied)

	rec, err := s.Get(ctx, "W", "notes", "n1")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), rec.ServerVersion)

	// the next local edit carries the version it was based on
	require.NoError(t, s.Enqueue(ctx, outbox("op-2", "n1", syncdomain.OpUpdate, `{"v":2}`, ts(110, "D"))))
	pending, err := s.Pending(ctx, "W", 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.NotNil(t, pending[1].BaseVersion)
	assert.Equal(t, uint64(7), *pending[1].BaseVersion)
}

func TestStore_ResetKeepsUnsentWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.ApplyPage(ctx, "W", []syncdomain.ChangeLogEntry{
		{ServerVersion: 1, TableName: "notes", PrimaryKey: "synced", Operation: syncdomain.OpCreate,
			Payload: json.RawMessage(`{}`), Clock: ts(100, "B")},
	}, 1)
	require.NoError(t, err)
	require.NoError(t, s.Enqueue(ctx, outbox("op-1", "unsent", syncdomain.OpCreate, `{}`, ts(200, "A"))))

	require.NoError(t, s.Reset(ctx, "W"))

	_, err = s.Get(ctx, "W", "notes", "synced")
	assert.ErrorIs(t, err, ErrRecordNotFound)
	_, err = s.Get(ctx, "W", "notes", "unsent")
	assert.NoError(t, err)
	cursor, err := s.Cursor(ctx, "W")
	require.NoError(t, err)
	assert.Zero(t, cursor)
}

func TestStore_ApplySnapshotMovesCursorOnLastPage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	page := []syncdomain.Record{
		{TableName: "notes", PrimaryKey: "a", Payload: json.RawMessage(`{"v":1}`), Clock: ts(100, "B"), ServerVersion: 4},
		{TableName: "notes", PrimaryKey: "b", Deleted: true, Clock: ts(100, "B"), ServerVersion: 6},
	}
	applied, err := s.ApplySnapshot(ctx, "W", page, 9, false)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	cursor, err := s.Cursor(ctx, "W")
	require.NoError(t, err)
	assert.Zero(t, cursor, "an unfinished snapshot leaves the cursor alone")

	_, err = s.ApplySnapshot(ctx, "W", nil, 9, true)
	require.NoError(t, err)
	cursor, err = s.Cursor(ctx, "W")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), cursor)

	b, err := s.Get(ctx, "W", "notes", "b")
	require.NoError(t, err)
	assert.True(t, b.Deleted)
}

func TestStore_MaxClock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	empty, err := s.MaxClock(ctx)
	require.NoError(t, err)
	assert.True(t, empty.IsZero())

	require.NoError(t, s.Enqueue(ctx, outbox("op-1", "n1", syncdomain.OpCreate, `{}`, ts(100, "A"))))
	_, err = s.ApplyPage(ctx, "W", []syncdomain.ChangeLogEntry{
		{ServerVersion: 1, TableName: "notes", PrimaryKey: "n2", Operation: syncdomain.OpCreate,
			Payload: json.RawMessage(`{}`), Clock: ts(500, "B")},
	}, 1)
	require.NoError(t, err)

	top, err := s.MaxClock(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500), top.WallMS)
}
