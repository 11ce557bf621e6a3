package sync_test

import (
	"context"
	"encoding/json"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	syncdomain "or3sync/internal/domain/sync"
	"or3sync/internal/hlc"
	"or3sync/internal/infrastructure/storage/memory"
)

type testClock struct {
	mu gosync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store  *memory.SyncStore
	engine *syncdomain.Engine
	clock  *testClock
}

func newFixture(t *testing.T, mutate ...func(*syncdomain.EngineConfig)) *fixture {
	t.Helper()
	cfg := syncdomain.DefaultEngineConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	clock := &testClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewSyncStore()
	engine := syncdomain.NewEngine(store, cfg, slog.Default()).WithNow(clock.Now)
	return &fixture{store: store, engine: engine, clock: clock}
}

func upsert(opID, pk, body string) syncdomain.PushOperation {
	return syncdomain.PushOperation{
		OpID:       opID,
		TableName:  "notes",
		PrimaryKey: pk,
		Operation:  syncdomain.OpUpdate,
		Payload:    json.RawMessage(body),
	}
}

func remove(opID, pk string) syncdomain.PushOperation {
	return syncdomain.PushOperation{OpID: opID, TableName: "notes", PrimaryKey: pk, Operation: syncdomain.OpDelete}
}

func withClock(op syncdomain.PushOperation, wall int64, counter uint32) syncdomain.PushOperation {
	op.Clock = &hlc.Timestamp{WallMS: wall, Counter: counter}
	return op
}

func (f *fixture) push(t *testing.T, ws, device string, ops ...syncdomain.PushOperation) *syncdomain.PushResponse {
	t.Helper()
	resp, err := f.engine.Push(context.Background(), syncdomain.PushRequest{WorkspaceID: ws, DeviceID: device, Ops: ops})
	require.NoError(t, err)
	return resp
}

func (f *fixture) pull(t *testing.T, ws, device string, cursor uint64, limit int) *syncdomain.PullResponse {
	t.Helper()
	resp, err := f.engine.Pull(context.Background(), syncdomain.PullRequest{WorkspaceID: ws, DeviceID: device, Cursor: cursor, Limit: limit})
	require.NoError(t, err)
	return resp
}

func (f *fixture) ack(t *testing.T, ws, device string, v uint64) {
	t.Helper()
	_, err := f.engine.UpdateCursor(context.Background(), syncdomain.CursorRequest{WorkspaceID: ws, DeviceID: device, Version: v})
	require.NoError(t, err)
}

func TestEngine_PushAppliesAndDeduplicates(t *testing.T) {
	f := newFixture(t)

	resp := f.push(t, "W", "D1", upsert("op-1", "n1", `{"title":"a"}`))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, syncdomain.StatusApplied, resp.Results[0].Status)
	assert.Equal(t, uint64(1), resp.Results[0].ServerVersion)
	assert.Equal(t, uint64(1), resp.ServerVersion)

	again := f.push(t, "W", "D1", upsert("op-1", "n1", `{"title":"a"}`))
	assert.Equal(t, syncdomain.StatusDuplicate, again.Results[0].Status)
	assert.Equal(t, uint64(1), again.Results[0].ServerVersion)
	assert.Equal(t, uint64(1), again.ServerVersion)

	page := f.pull(t, "W", "D2", 0, 0)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "op-1", page.Entries[0].OpID)
	assert.Equal(t, "D1", page.Entries[0].OriginDeviceID)
	assert.Equal(t, syncdomain.Checksum([]byte(`{"title":"a"}`)), page.Entries[0].Checksum)
}

func TestEngine_RejectedOpDoesNotConsumeVersion(t *testing.T) {
	f := newFixture(t)

	bad := upsert("op-bad", "n1", `{"x":1}`)
	bad.TableName = "secrets"
	noPayload := upsert("op-empty", "n2", ``)

	resp := f.push(t, "W", "D1",
		upsert("op-1", "n1", `{"x":1}`),
		bad,
		noPayload,
		upsert("op-2", "n3", `{"x":2}`),
	)

	statuses := make([]syncdomain.Status, 0, len(resp.Results))
	for _, r := range resp.Results {
		statuses = append(statuses, r.Status)
	}
	assert.Equal(t, []syncdomain.Status{
		syncdomain.StatusApplied,
		syncdomain.StatusRejected,
		syncdomain.StatusRejected,
		syncdomain.StatusApplied,
	}, statuses)
	assert.Contains(t, resp.Results[1].Error, "table_name")
	assert.Equal(t, uint64(2), resp.Results[3].ServerVersion)
	assert.Equal(t, uint64(2), resp.ServerVersion)

	// a rejected op may be fixed and resent under the same id
	fixed := f.push(t, "W", "D1", upsert("op-bad", "n1", `{"x":3}`))
	assert.Equal(t, syncdomain.StatusApplied, fixed.Results[0].Status)
	assert.Equal(t, uint64(3), fixed.Results[0].ServerVersion)
}

func TestEngine_PushBatchValidation(t *testing.T) {
	f := newFixture(t, func(c *syncdomain.EngineConfig) { c.MaxBatchSize = 2 })
	ctx := context.Background()

	tests := []struct {
		name string
		req  syncdomain.PushRequest
	}{
		{name: "missing workspace", req: syncdomain.PushRequest{DeviceID: "D1", Ops: []syncdomain.PushOperation{upsert("a", "k", `{}`)}}},
		{name: "missing device", req: syncdomain.PushRequest{WorkspaceID: "W", Ops: []syncdomain.PushOperation{upsert("a", "k", `{}`)}}},
		{name: "empty batch", req: syncdomain.PushRequest{WorkspaceID: "W", DeviceID: "D1"}},
		{name: "oversized batch", req: syncdomain.PushRequest{WorkspaceID: "W", DeviceID: "D1", Ops: []syncdomain.PushOperation{
			upsert("a", "k", `{}`), upsert("b", "k", `{}`), upsert("c", "k", `{}`),
		}}},
		{name: "op without id", req: syncdomain.PushRequest{WorkspaceID: "W", DeviceID: "D1", Ops: []syncdomain.PushOperation{upsert("", "k", `{}`)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Push(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, syncdomain.IsValidation(err), err)
		})
	}

	state, err := f.store.State(ctx, "W")
	require.NoError(t, err)
	assert.Zero(t, state.Head)
}

func TestEngine_ConcurrentPushesAreGapless(t *testing.T) {
	f := newFixture(t)
	const devices, perDevice = 8, 25

	var wg gosync.WaitGroup
	for d := 0; d < devices; d++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			for i := 0; i < perDevice; i++ {
				op := upsert(fmt.Sprintf("d%d-op%d", d, i), fmt.Sprintf("n%d", i), `{"v":1}`)
				_, err := f.engine.Push(context.Background(), syncdomain.PushRequest{
					WorkspaceID: "W",
					DeviceID:    fmt.Sprintf("D%d", d),
					Ops:         []syncdomain.PushOperation{op},
				})
				assert.NoError(t, err)
			}
		}(d)
	}
	wg.Wait()

	page := f.pull(t, "W", "reader", 0, 1000)
	require.Len(t, page.Entries, devices*perDevice)
	for i, e := range page.Entries {
		assert.Equal(t, uint64(i+1), e.ServerVersion)
	}
	assert.False(t, page.HasMore)
}

func TestEngine_ConflictResolutionIsOrderIndependent(t *testing.T) {
	early := withClock(upsert("op-early", "n1", `{"title":"early"}`), 1_000, 0)
	late := withClock(upsert("op-late", "n1", `{"title":"late"}`), 2_000, 0)

	orders := map[string][]syncdomain.PushOperation{
		"late arrives last":  {early, late},
		"late arrives first": {late, early},
	}

	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.push(t, "W", "D1", order[0])
			resp := f.push(t, "W", "D2", order[1])
			require.Equal(t, syncdomain.StatusApplied, resp.Results[0].Status)

			rec, ok := f.store.Record("W", "notes", "n1")
			require.True(t, ok)
			assert.JSONEq(t, `{"title":"late"}`, string(rec.Payload))

			// both writes stay in the log either way
			page := f.pull(t, "W", "D3", 0, 0)
			assert.Len(t, page.Entries, 2)
		})
	}
}

func TestEngine_ConflictTieBreaksByDevice(t *testing.T) {
	for _, first := range []string{"D-a", "D-b"} {
		t.Run(first+" first", func(t *testing.T) {
			f := newFixture(t)
			second := "D-b"
			if first == "D-b" {
				second = "D-a"
			}
			f.push(t, "W", first, withClock(upsert("op-"+first, "n1", fmt.Sprintf(`{"by":%q}`, first)), 5_000, 3))
			resp := f.push(t, "W", second, withClock(upsert("op-"+second, "n1", fmt.Sprintf(`{"by":%q}`, second)), 5_000, 3))

			rec, ok := f.store.Record("W", "notes", "n1")
			require.True(t, ok)
			assert.JSONEq(t, `{"by":"D-b"}`, string(rec.Payload))
			assert.Equal(t, second == "D-a", resp.Results[0].Conflict)
		})
	}
}

func TestEngine_DeleteProducesTombstoneInStream(t *testing.T) {
	f := newFixture(t)

	f.push(t, "W", "D1", withClock(upsert("op-1", "n1", `{"v":1}`), 1_000, 0))
	f.push(t, "W", "D1", withClock(remove("op-2", "n1"), 2_000, 0))
	f.push(t, "W", "D1", withClock(upsert("op-3", "n2", `{"v":2}`), 3_000, 0))

	page := f.pull(t, "W", "D2", 0, 0)
	require.Len(t, page.Entries, 3)
	assert.Equal(t, syncdomain.OpDelete, page.Entries[1].Operation)
	assert.Equal(t, uint64(2), page.Entries[1].ServerVersion)
	assert.Empty(t, page.Entries[1].Payload)

	rec, ok := f.store.Record("W", "notes", "n1")
	require.True(t, ok)
	assert.True(t, rec.Deleted)

	// a stale update cannot resurrect the record
	resp := f.push(t, "W", "D2", withClock(upsert("op-4", "n1", `{"v":0}`), 1_500, 0))
	assert.True(t, resp.Results[0].Conflict)
	rec, _ = f.store.Record("W", "notes", "n1")
	assert.True(t, rec.Deleted)
}

func TestEngine_ClockDriftRejectsOp(t *testing.T) {
	f := newFixture(t, func(c *syncdomain.EngineConfig) { c.MaxClockDrift = time.Minute })
	future := f.clock.Now().Add(time.Hour).UnixMilli()

	resp := f.push(t, "W", "D1",
		withClock(upsert("op-1", "n1", `{}`), future, 0),
		upsert("op-2", "n2", `{}`),
	)
	assert.Equal(t, syncdomain.StatusRejected, resp.Results[0].Status)
	assert.Contains(t, resp.Results[0].Error, "logical_clock")
	assert.Equal(t, syncdomain.StatusApplied, resp.Results[1].Status)
	assert.Equal(t, uint64(1), resp.Results[1].ServerVersion)
}

func TestEngine_ServerStampsMissingClock(t *testing.T) {
	f := newFixture(t)
	f.push(t, "W", "D1", upsert("op-1", "n1", `{}`))

	page := f.pull(t, "W", "D1", 0, 0)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, f.clock.Now().UnixMilli(), page.Entries[0].Clock.WallMS)
	assert.Equal(t, "D1", page.Entries[0].Clock.DeviceID)
}

func TestEngine_PullPagination(t *testing.T) {
	f := newFixture(t, func(c *syncdomain.EngineConfig) { c.MaxPullLimit = 4 })
	for i := 0; i < 10; i++ {
		f.push(t, "W", "D1", upsert(fmt.Sprintf("op-%d", i), "n1", `{}`))
	}

	first := f.pull(t, "W", "D2", 0, 3)
	assert.Len(t, first.Entries, 3)
	assert.True(t, first.HasMore)
	assert.Equal(t, uint64(3), first.NextCursor)

	clamped := f.pull(t, "W", "D2", first.NextCursor, 100)
	assert.Len(t, clamped.Entries, 4)
	assert.Equal(t, uint64(7), clamped.NextCursor)

	last := f.pull(t, "W", "D2", clamped.NextCursor, 4)
	assert.Len(t, last.Entries, 3)
	assert.False(t, last.HasMore)
	assert.Equal(t, uint64(10), last.NextCursor)

	empty := f.pull(t, "W", "D2", 10, 0)
	assert.Empty(t, empty.Entries)
	assert.NotNil(t, empty.Entries)
	assert.Equal(t, uint64(10), empty.NextCursor)
	assert.False(t, empty.HasMore)
}

func TestEngine_PullRegistersCursorWithoutAdvancing(t *testing.T) {
	f := newFixture(t)
	f.push(t, "W", "D1", upsert("op-1", "n1", `{}`), upsert("op-2", "n2", `{}`))

	f.pull(t, "W", "D2", 0, 0)
	c, err := f.store.Cursor(context.Background(), "W", "D2")
	require.NoError(t, err)
	assert.Zero(t, c.LastSeenVersion)

	f.ack(t, "W", "D2", 2)
	f.pull(t, "W", "D2", 0, 0)
	c, err = f.store.Cursor(context.Background(), "W", "D2")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), c.LastSeenVersion)
}

func TestEngine_PullCursorAheadIsAnomaly(t *testing.T) {
	f := newFixture(t)
	f.push(t, "W", "D1", upsert("op-1", "n1", `{}`))

	_, err := f.engine.Pull(context.Background(), syncdomain.PullRequest{WorkspaceID: "W", DeviceID: "D1", Cursor: 5})
	require.Error(t, err)
	assert.True(t, syncdomain.IsAnomaly(err))
}

func TestEngine_UpdateCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.push(t, "W", "D1", upsert("op-1", "n1", `{}`), upsert("op-2", "n2", `{}`), upsert("op-3", "n3", `{}`))

	f.ack(t, "W", "D1", 2)
	f.ack(t, "W", "D1", 2)
	f.ack(t, "W", "D1", 3)

	_, err := f.engine.UpdateCursor(ctx, syncdomain.CursorRequest{WorkspaceID: "W", DeviceID: "D1", Version: 1})
	var anomaly *syncdomain.AnomalyError
	require.ErrorAs(t, err, &anomaly)
	assert.Equal(t, syncdomain.AnomalyCursorRegression, anomaly.Kind)

	c, err := f.store.Cursor(ctx, "W", "D1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), c.LastSeenVersion)

	_, err = f.engine.UpdateCursor(ctx, syncdomain.CursorRequest{WorkspaceID: "W", DeviceID: "D1", Version: 9})
	require.ErrorAs(t, err, &anomaly)
	assert.Equal(t, syncdomain.AnomalyCursorAhead, anomaly.Kind)

	_, err = f.engine.UpdateCursor(ctx, syncdomain.CursorRequest{WorkspaceID: "W", Version: 1})
	assert.True(t, syncdomain.IsValidation(err))
}

func TestEngine_WorkspacesAreIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w1 := f.push(t, "W1", "D1", upsert("op-shared", "n1", `{"ws":1}`))
	w2 := f.push(t, "W2", "D1", upsert("op-shared", "n1", `{"ws":2}`))
	require.Len(t, w1.Results, 1)
	require.Len(t, w2.Results, 1)
	assert.Equal(t, syncdomain.StatusApplied, w1.Results[0].Status)
	assert.Equal(t, syncdomain.StatusApplied, w2.Results[0].Status, "op_id is scoped to its workspace")
	assert.Equal(t, uint64(1), w1.Results[0].ServerVersion)
	assert.Equal(t, uint64(1), w2.Results[0].ServerVersion)

	f.push(t, "W1", "D1", upsert("op-2", "n2", `{}`), withClock(remove("op-3", "n1"), f.clock.Now().UnixMilli()+1, 0))

	page := f.pull(t, "W2", "D2", 0, 0)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "W2", page.Entries[0].WorkspaceID)
	assert.JSONEq(t, `{"ws":2}`, string(page.Entries[0].Payload))
	assert.Equal(t, uint64(1), page.NextCursor)
	assert.False(t, page.HasMore)

	page = f.pull(t, "W1", "D2", 0, 0)
	require.Len(t, page.Entries, 3)
	for _, e := range page.Entries {
		assert.Equal(t, "W1", e.WorkspaceID)
	}

	// Version 3 exists in W1 only.
	_, err := f.engine.Pull(ctx, syncdomain.PullRequest{WorkspaceID: "W2", DeviceID: "D2", Cursor: 3})
	assert.True(t, syncdomain.IsAnomaly(err))

	f.ack(t, "W1", "D2", 3)
	f.ack(t, "W2", "D2", 1)
	c1, err := f.store.Cursor(ctx, "W1", "D2")
	require.NoError(t, err)
	c2, err := f.store.Cursor(ctx, "W2", "D2")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), c1.LastSeenVersion)
	assert.Equal(t, uint64(1), c2.LastSeenVersion)
}
