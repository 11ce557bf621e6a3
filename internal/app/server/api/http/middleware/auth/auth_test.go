package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/exp/slog"
)

type MockSession struct {
	mock.Mock
}

func (m *MockSession) Create(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *MockSession) Validate(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

type whoamiOutput struct {
	Body struct {
		UserID string `json:"user_id"`
	}
}

func setup(t *testing.T, sessions *MockSession) humatest.TestAPI {
	t.Helper()
	_, api := humatest.New(t)
	mw := New(sessions, slog.Default())

	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/whoami",
		Middlewares: huma.Middlewares{mw.Middleware()},
	}, func(ctx context.Context, _ *struct{}) (*whoamiOutput, error) {
		out := &whoamiOutput{}
		out.Body.UserID, _ = GetUserID(ctx)
		return out, nil
	})
	return api
}

func TestAuth_Middleware(t *testing.T) {
	tests := []struct {
		name       string
		header     []any
		validate   bool
		validErr   error
		wantStatus int
	}{
		{name: "no header", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: []any{"Authorization: Basic abc"}, wantStatus: http.StatusUnauthorized},
		{
			name:       "expired token",
			header:     []any{"Authorization: Bearer old"},
			validate:   true,
			validErr:   errors.New("invalid session"),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "valid token",
			header:     []any{"Authorization: Bearer good"},
			validate:   true,
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := new(MockSession)
			if tt.validate {
				sessions.On("Validate", mock.Anything, mock.Anything).Return("u-42", tt.validErr)
			}
			api := setup(t, sessions)

			resp := api.Get("/whoami", tt.header...)

			assert.Equal(t, tt.wantStatus, resp.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Contains(t, resp.Body.String(), `"user_id":"u-42"`)
			}
			sessions.AssertExpectations(t)
		})
	}
}

func TestGetUserID(t *testing.T) {
	_, ok := GetUserID(context.Background())
	assert.False(t, ok)

	_, ok = GetUserID(WithUserID(context.Background(), ""))
	assert.False(t, ok)

	id, ok := GetUserID(WithUserID(context.Background(), "u-1"))
	assert.True(t, ok)
	assert.Equal(t, "u-1", id)
}
