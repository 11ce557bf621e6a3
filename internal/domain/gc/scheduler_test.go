package gc

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	syncdomain "or3sync/internal/domain/sync"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Pull(ctx context.Context, req syncdomain.PullRequest) (*syncdomain.PullResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*syncdomain.PullResponse)
	return resp, args.Error(1)
}

func (m *MockGateway) Push(ctx context.Context, req syncdomain.PushRequest) (*syncdomain.PushResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*syncdomain.PushResponse)
	return resp, args.Error(1)
}

func (m *MockGateway) UpdateCursor(ctx context.Context, req syncdomain.CursorRequest) (*syncdomain.CursorResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*syncdomain.CursorResponse)
	return resp, args.Error(1)
}

func (m *MockGateway) GCTombstones(ctx context.Context, req syncdomain.GCRequest) (*syncdomain.GCResult, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*syncdomain.GCResult)
	return resp, args.Error(1)
}

func (m *MockGateway) GCChangeLog(ctx context.Context, req syncdomain.GCRequest) (*syncdomain.GCResult, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*syncdomain.GCResult)
	return resp, args.Error(1)
}

type MockPurger struct {
	mock.Mock
}

func (m *MockPurger) Purge(ctx context.Context, before time.Time, limit int) (int, error) {
	args := m.Called(ctx, before, limit)
	return args.Int(0), args.Error(1)
}

type fakeWorkspaces struct {
	ids        []string
	reaped     int
	reapBefore time.Time
	reapLimit  int
}

func (f *fakeWorkspaces) Workspaces(_ context.Context, after string, limit int) ([]string, error) {
	var out []string
	for _, id := range f.ids {
		if id > after && len(out) < limit {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeWorkspaces) ReapCursors(_ context.Context, staleBefore time.Time, limit int) (int, error) {
	f.reapBefore, f.reapLimit = staleBefore, limit
	return f.reaped, nil
}

type fakeCleaner struct {
	limits []int
}

func (f *fakeCleaner) Cleanup(limit int) int {
	f.limits = append(f.limits, limit)
	return 2
}

func done(n int) *syncdomain.GCResult {
	return &syncdomain.GCResult{DeletedCount: n, Done: true}
}

func seen(gw *MockGateway, method string) []string {
	var ids []string
	for _, c := range gw.Calls {
		if c.Method == method {
			ids = append(ids, c.Arguments.Get(1).(syncdomain.GCRequest).WorkspaceID)
		}
	}
	sort.Strings(ids)
	return ids
}

func TestScheduler_CapsWorkspacesAndWraps(t *testing.T) {
	gw := new(MockGateway)
	gw.On("GCTombstones", mock.Anything, mock.Anything).Return(done(1), nil)
	gw.On("GCChangeLog", mock.Anything, mock.Anything).Return(done(2), nil)

	store := &fakeWorkspaces{ids: []string{"a", "b", "c", "d", "e"}}
	s := NewScheduler(gw, store, nil, nil, Config{MaxWorkspaces: 2, Concurrency: 2}, slog.Default())
	ctx := context.Background()

	tests := []struct {
		name string
		want []string
	}{
		{name: "first page", want: []string{"a", "b"}},
		{name: "second page", want: []string{"c", "d"}},
		{name: "wraps to start", want: []string{"a", "e"}},
		{name: "continues after wrap", want: []string{"b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw.Calls = nil
			report, err := s.RunOnce(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, report.Workspaces)
			assert.Equal(t, 6, report.Deleted)
			assert.Equal(t, tt.want, seen(gw, "GCTombstones"))
			assert.Equal(t, tt.want, seen(gw, "GCChangeLog"))
		})
	}
}

func TestScheduler_EmptyStore(t *testing.T) {
	gw := new(MockGateway)
	s := NewScheduler(gw, &fakeWorkspaces{}, nil, nil, Config{}, slog.Default())

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Workspaces)
	gw.AssertNotCalled(t, "GCTombstones", mock.Anything, mock.Anything)
}

func TestScheduler_ResumesFromContinuationCursor(t *testing.T) {
	gw := new(MockGateway)
	next := uint64(40)
	store := &fakeWorkspaces{ids: []string{"W"}}
	s := NewScheduler(gw, store, nil, nil, Config{Retention: time.Hour, BatchSize: 10}, slog.Default())
	ctx := context.Background()

	first := syncdomain.GCRequest{WorkspaceID: "W", RetentionSeconds: 3600, BatchSize: 10}
	resumed := first
	resumed.ContinuationCursor = &next

	gw.On("GCTombstones", mock.Anything, mock.Anything).Return(done(0), nil)
	gw.On("GCChangeLog", mock.Anything, first).
		Return(&syncdomain.GCResult{DeletedCount: 40, NextCursor: &next}, nil).Once()
	gw.On("GCChangeLog", mock.Anything, resumed).Return(done(3), nil).Once()
	gw.On("GCChangeLog", mock.Anything, first).Return(done(0), nil).Once()

	report, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, report.Deleted)
	assert.Equal(t, 1, report.Pending)

	report, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Deleted)
	assert.Zero(t, report.Pending)

	_, err = s.RunOnce(ctx)
	require.NoError(t, err)
	gw.AssertExpectations(t)
}

func TestScheduler_FailureDoesNotStopOtherWorkspaces(t *testing.T) {
	gw := new(MockGateway)
	anomaly := &syncdomain.AnomalyError{Kind: syncdomain.AnomalyGCInvariant, WorkspaceID: "a"}

	gw.On("GCTombstones", mock.Anything, mock.MatchedBy(func(r syncdomain.GCRequest) bool {
		return r.WorkspaceID == "a"
	})).Return(nil, anomaly)
	gw.On("GCTombstones", mock.Anything, mock.Anything).Return(done(1), nil)
	gw.On("GCChangeLog", mock.Anything, mock.Anything).Return(done(1), nil)

	s := NewScheduler(gw, &fakeWorkspaces{ids: []string{"a", "b"}}, nil, nil, Config{}, slog.Default())

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Deleted)
	// a halted on its tombstone anomaly before touching the change log
	assert.Equal(t, []string{"b"}, seen(gw, "GCChangeLog"))
}

func TestScheduler_Housekeeping(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gw := new(MockGateway)
	store := &fakeWorkspaces{reaped: 3}
	purger := new(MockPurger)
	cleaner := &fakeCleaner{}

	purger.On("Purge", mock.Anything, now, 50).Return(7, nil)

	s := NewScheduler(gw, store, purger, cleaner, Config{
		CursorReapHorizon:   48 * time.Hour,
		CursorReapBatch:     20,
		SessionPurgeBatch:   50,
		LimiterCleanupBatch: 30,
	}, slog.Default()).WithNow(func() time.Time { return now })

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.CursorsReaped)
	assert.Equal(t, 7, report.SessionsPurged)
	assert.Equal(t, 2, report.BucketsEvicted)
	assert.Equal(t, now.Add(-48*time.Hour), store.reapBefore)
	assert.Equal(t, 20, store.reapLimit)
	assert.Equal(t, []int{30}, cleaner.limits)
	purger.AssertExpectations(t)
}

func TestScheduler_HousekeepingErrorsAreLogged(t *testing.T) {
	purger := new(MockPurger)
	purger.On("Purge", mock.Anything, mock.Anything, mock.Anything).Return(0, errors.New("db down"))

	s := NewScheduler(new(MockGateway), &fakeWorkspaces{}, purger, nil, Config{}, slog.Default())

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.SessionsPurged)
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	gw := new(MockGateway)
	s := NewScheduler(gw, &fakeWorkspaces{}, nil, nil, Config{Interval: time.Millisecond}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
