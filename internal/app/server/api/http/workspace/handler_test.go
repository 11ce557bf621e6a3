package workspace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"or3sync/internal/app/server/api/http/middleware/auth"
	"or3sync/internal/domain/access"
	syncdomain "or3sync/internal/domain/sync"
)

type MockAccessService struct {
	mock.Mock
}

func (m *MockAccessService) CanAccess(ctx context.Context, identity, workspaceID string, action syncdomain.Action) (bool, error) {
	args := m.Called(ctx, identity, workspaceID, action)
	return args.Bool(0), args.Error(1)
}

func (m *MockAccessService) CreateWorkspace(ctx context.Context, ownerID, name string) (access.Workspace, error) {
	args := m.Called(ctx, ownerID, name)
	return args.Get(0).(access.Workspace), args.Error(1)
}

func (m *MockAccessService) AddMember(ctx context.Context, actorID, workspaceID, userID string, role access.Role) error {
	args := m.Called(ctx, actorID, workspaceID, userID, role)
	return args.Error(0)
}

func (m *MockAccessService) Workspaces(ctx context.Context, userID string) ([]access.Membership, error) {
	args := m.Called(ctx, userID)
	ms, _ := args.Get(0).([]access.Membership)
	return ms, args.Error(1)
}

func status(t *testing.T, err error) int {
	t.Helper()
	var se huma.StatusError
	require.ErrorAs(t, err, &se)
	return se.GetStatus()
}

func TestHandler_create(t *testing.T) {
	svc := new(MockAccessService)
	h := NewHandler(svc, slog.Default(), nil)
	ctx := auth.WithUserID(context.Background(), "u-1")

	svc.On("CreateWorkspace", ctx, "u-1", "Notes").
		Return(access.Workspace{ID: "w-1", Name: "Notes", OwnerID: "u-1", CreatedAt: time.Now()}, nil)

	out, err := h.create(ctx, &createInput{Body: CreateRequest{Name: "Notes"}})

	require.NoError(t, err)
	assert.Equal(t, CreateResponse{ID: "w-1", Name: "Notes", Role: access.RoleOwner}, out.Body)
	svc.AssertExpectations(t)
}

func TestHandler_createRequiresIdentity(t *testing.T) {
	h := NewHandler(new(MockAccessService), slog.Default(), nil)

	_, err := h.create(context.Background(), &createInput{Body: CreateRequest{Name: "Notes"}})

	assert.Equal(t, 401, status(t, err))
}

func TestHandler_list(t *testing.T) {
	tests := []struct {
		name    string
		ms      []access.Membership
		err     error
		wantLen int
		wantErr int
	}{
		{
			name:    "two workspaces",
			ms:      []access.Membership{{Workspace: access.Workspace{ID: "a"}, Role: access.RoleOwner}, {Workspace: access.Workspace{ID: "b"}, Role: access.RoleReader}},
			wantLen: 2,
		},
		{name: "none", wantLen: 0},
		{name: "store error", err: errors.New("db down"), wantErr: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockAccessService)
			h := NewHandler(svc, slog.Default(), nil)
			ctx := auth.WithUserID(context.Background(), "u-1")
			svc.On("Workspaces", ctx, "u-1").Return(tt.ms, tt.err)

			out, err := h.list(ctx, &listInput{})

			if tt.wantErr != 0 {
				assert.Equal(t, tt.wantErr, status(t, err))
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, out.Body.Workspaces)
			assert.Len(t, out.Body.Workspaces, tt.wantLen)
		})
	}
}

func TestHandler_addMember(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr int
	}{
		{name: "granted"},
		{name: "caller not owner", err: access.ErrNotOwner, wantErr: 403},
		{name: "unknown user", err: access.ErrUnknownUser, wantErr: 404},
		{name: "owner role refused", err: access.ErrInvalidInput, wantErr: 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockAccessService)
			h := NewHandler(svc, slog.Default(), nil)
			ctx := auth.WithUserID(context.Background(), "u-1")
			svc.On("AddMember", ctx, "u-1", "w-1", "u-2", access.RoleWriter).Return(tt.err)

			out, err := h.addMember(ctx, &addMemberInput{ID: "w-1", Body: AddMemberRequest{UserID: "u-2", Role: access.RoleWriter}})

			if tt.wantErr != 0 {
				assert.Equal(t, tt.wantErr, status(t, err))
				return
			}
			require.NoError(t, err)
			assert.True(t, out.Body.OK)
		})
	}
}
