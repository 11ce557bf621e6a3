package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Pull(ctx context.Context, req PullRequest) (*PullResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*PullResponse)
	return resp, args.Error(1)
}

func (m *MockGateway) Push(ctx context.Context, req PushRequest) (*PushResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*PushResponse)
	return resp, args.Error(1)
}

func (m *MockGateway) UpdateCursor(ctx context.Context, req CursorRequest) (*CursorResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*CursorResponse)
	return resp, args.Error(1)
}

func (m *MockGateway) GCTombstones(ctx context.Context, req GCRequest) (*GCResult, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*GCResult)
	return resp, args.Error(1)
}

func (m *MockGateway) GCChangeLog(ctx context.Context, req GCRequest) (*GCResult, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*GCResult)
	return resp, args.Error(1)
}

type MockAccess struct {
	mock.Mock
}

func (m *MockAccess) CanAccess(ctx context.Context, identity, workspaceID string, action Action) (bool, error) {
	args := m.Called(ctx, identity, workspaceID, action)
	return args.Bool(0), args.Error(1)
}

type MockLimiter struct {
	mock.Mock
}

func (m *MockLimiter) AllowN(identity string, n int) (bool, time.Duration) {
	args := m.Called(identity, n)
	return args.Bool(0), args.Get(1).(time.Duration)
}

func pushReq(n int) PushRequest {
	ops := make([]PushOperation, n)
	return PushRequest{WorkspaceID: "W", DeviceID: "D", Ops: ops}
}

func TestService_Push(t *testing.T) {
	gw, acl, lim := new(MockGateway), new(MockAccess), new(MockLimiter)
	s := NewService(gw, acl, lim, slog.Default())
	req := pushReq(3)
	want := &PushResponse{ServerVersion: 3}

	acl.On("CanAccess", mock.Anything, "user-1", "W", ActionPush).Return(true, nil)
	lim.On("AllowN", "user-1", 3).Return(true, time.Duration(0))
	gw.On("Push", mock.Anything, req).Return(want, nil)

	got, err := s.Push(context.Background(), "user-1", req)
	require.NoError(t, err)
	assert.Same(t, want, got)

	acl.AssertExpectations(t)
	lim.AssertExpectations(t)
	gw.AssertExpectations(t)
}

func TestService_ForbiddenSkipsLimiterAndGateway(t *testing.T) {
	gw, acl, lim := new(MockGateway), new(MockAccess), new(MockLimiter)
	s := NewService(gw, acl, lim, slog.Default())

	acl.On("CanAccess", mock.Anything, "user-1", "W", ActionPull).Return(false, nil)

	_, err := s.Pull(context.Background(), "user-1", PullRequest{WorkspaceID: "W", DeviceID: "D"})
	assert.ErrorIs(t, err, ErrForbidden)

	lim.AssertNotCalled(t, "AllowN", mock.Anything, mock.Anything)
	gw.AssertNotCalled(t, "Pull", mock.Anything, mock.Anything)
}

func TestService_RateLimitedSkipsGateway(t *testing.T) {
	gw, acl, lim := new(MockGateway), new(MockAccess), new(MockLimiter)
	s := NewService(gw, acl, lim, slog.Default())

	acl.On("CanAccess", mock.Anything, "user-1", "W", ActionCursor).Return(true, nil)
	lim.On("AllowN", "user-1", 1).Return(false, 2*time.Second)

	_, err := s.UpdateCursor(context.Background(), "user-1", CursorRequest{WorkspaceID: "W", DeviceID: "D", Version: 1})
	wait, ok := RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, wait)

	gw.AssertNotCalled(t, "UpdateCursor", mock.Anything, mock.Anything)
}

func TestService_Authorization(t *testing.T) {
	tests := []struct {
		name     string
		identity string
		ws       string
		aclErr   error
		check    func(t *testing.T, err error)
	}{
		{
			name:     "anonymous",
			identity: "",
			ws:       "W",
			check:    func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrUnauthenticated) },
		},
		{
			name:     "missing workspace",
			identity: "user-1",
			ws:       "",
			check:    func(t *testing.T, err error) { assert.True(t, IsValidation(err)) },
		},
		{
			name:     "checker failure",
			identity: "user-1",
			ws:       "W",
			aclErr:   errors.New("db down"),
			check:    func(t *testing.T, err error) { assert.True(t, IsTransient(err)) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, acl, lim := new(MockGateway), new(MockAccess), new(MockLimiter)
			s := NewService(gw, acl, lim, slog.Default())
			if tt.aclErr != nil {
				acl.On("CanAccess", mock.Anything, tt.identity, tt.ws, ActionPush).Return(false, tt.aclErr)
			}

			_, err := s.Push(context.Background(), tt.identity, PushRequest{WorkspaceID: tt.ws, DeviceID: "D"})
			require.Error(t, err)
			tt.check(t, err)
			gw.AssertNotCalled(t, "Push", mock.Anything, mock.Anything)
		})
	}
}

func TestService_EmptyPushCostsOneToken(t *testing.T) {
	gw, acl, lim := new(MockGateway), new(MockAccess), new(MockLimiter)
	s := NewService(gw, acl, lim, slog.Default())
	req := pushReq(0)

	acl.On("CanAccess", mock.Anything, "user-1", "W", ActionPush).Return(true, nil)
	lim.On("AllowN", "user-1", 1).Return(true, time.Duration(0))
	gw.On("Push", mock.Anything, req).Return(nil, invalid("ops", "batch is empty"))

	_, err := s.Push(context.Background(), "user-1", req)
	assert.True(t, IsValidation(err))
	lim.AssertExpectations(t)
}

type MockSnapshotGateway struct {
	MockGateway
}

func (m *MockSnapshotGateway) Snapshot(ctx context.Context, req SnapshotRequest) (*SnapshotResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*SnapshotResponse)
	return resp, args.Error(1)
}

func TestService_Snapshot(t *testing.T) {
	gw, acl, lim := new(MockSnapshotGateway), new(MockAccess), new(MockLimiter)
	s := NewService(gw, acl, lim, slog.Default())
	req := SnapshotRequest{WorkspaceID: "W", DeviceID: "D"}
	want := &SnapshotResponse{AsOf: 4}

	acl.On("CanAccess", mock.Anything, "user-1", "W", ActionPull).Return(true, nil)
	lim.On("AllowN", "user-1", 1).Return(true, time.Duration(0))
	gw.On("Snapshot", mock.Anything, req).Return(want, nil)

	got, err := s.Snapshot(context.Background(), "user-1", req)
	require.NoError(t, err)
	assert.Same(t, want, got)
	gw.AssertExpectations(t)
}

func TestService_SnapshotUnsupported(t *testing.T) {
	gw, acl, lim := new(MockGateway), new(MockAccess), new(MockLimiter)
	s := NewService(gw, acl, lim, slog.Default())

	acl.On("CanAccess", mock.Anything, "user-1", "W", ActionPull).Return(true, nil)
	lim.On("AllowN", "user-1", 1).Return(true, time.Duration(0))

	_, err := s.Snapshot(context.Background(), "user-1", SnapshotRequest{WorkspaceID: "W", DeviceID: "D"})
	assert.ErrorIs(t, err, ErrSnapshotUnsupported)
}
