package sync_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncdomain "or3sync/internal/domain/sync"
)

func TestSnapshot_BootstrapsPrunedWorkspace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "W", 10, true)
	f.clock.Advance(2 * day)
	f.ack(t, "W", "A", 10)

	_, err := f.engine.GCChangeLog(ctx, gcReq("W", day, 100, nil))
	require.NoError(t, err)
	_, err = f.engine.Pull(ctx, syncdomain.PullRequest{WorkspaceID: "W", DeviceID: "fresh"})
	require.ErrorIs(t, err, syncdomain.ErrResyncRequired)

	req := syncdomain.SnapshotRequest{WorkspaceID: "W", DeviceID: "fresh", Limit: 4}
	var (
		records []syncdomain.Record
		pages   int
		asOf    uint64
	)
	for {
		page, err := f.engine.Snapshot(ctx, req)
		require.NoError(t, err)
		pages++
		records = append(records, page.Records...)
		asOf = page.AsOf
		if !page.HasMore {
			assert.Nil(t, page.Next)
			break
		}
		require.NotNil(t, page.Next)
		req.AsOf, req.After = page.AsOf, page.Next
	}

	assert.Equal(t, 3, pages)
	assert.Equal(t, uint64(10), asOf)
	require.Len(t, records, 10)
	for i := 1; i < len(records); i++ {
		assert.True(t, records[i-1].Key().Less(records[i].Key()), "records are key ordered")
	}
	deleted := 0
	for _, r := range records {
		if r.Deleted {
			deleted++
		}
	}
	assert.Equal(t, 5, deleted, "deleted rows are part of the snapshot")

	cur, err := f.store.Cursor(ctx, "W", "fresh")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), cur.LastSeenVersion, "snapshot pins the device at as_of")

	f.push(t, "W", "writer", upsert("late", "n3", `{"v":2}`))
	page := f.pull(t, "W", "fresh", asOf, 0)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "late", page.Entries[0].OpID)
}

func TestSnapshot_EmptyWorkspace(t *testing.T) {
	f := newFixture(t)

	page, err := f.engine.Snapshot(context.Background(), syncdomain.SnapshotRequest{WorkspaceID: "W", DeviceID: "D"})
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.NotNil(t, page.Records)
	assert.Zero(t, page.AsOf)
	assert.False(t, page.HasMore)
}

func TestSnapshot_Rejects(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "W", 3, false)

	tests := []struct {
		name  string
		req   syncdomain.SnapshotRequest
		check func(t *testing.T, err error)
	}{
		{
			name: "as_of beyond head",
			req:  syncdomain.SnapshotRequest{WorkspaceID: "W", DeviceID: "D", AsOf: 7},
			check: func(t *testing.T, err error) {
				assert.True(t, syncdomain.IsAnomaly(err))
			},
		},
		{
			name: "half a key",
			req:  syncdomain.SnapshotRequest{WorkspaceID: "W", DeviceID: "D", After: &syncdomain.RecordKey{TableName: "notes"}},
			check: func(t *testing.T, err error) {
				assert.True(t, syncdomain.IsValidation(err))
			},
		},
		{
			name: "negative limit",
			req:  syncdomain.SnapshotRequest{WorkspaceID: "W", DeviceID: "D", Limit: -1},
			check: func(t *testing.T, err error) {
				assert.True(t, syncdomain.IsValidation(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Snapshot(context.Background(), tt.req)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}
