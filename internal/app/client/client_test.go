package client

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"or3sync/internal/app/client/config"
	"or3sync/internal/app/server"
	srvconfig "or3sync/internal/app/server/config"
	"or3sync/internal/infrastructure/storage"
)

const password = "Str0ng!pass"

func startServer(t *testing.T) string {
	t.Helper()
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("RATE_LIMIT_RPS", "0")

	cfg, err := srvconfig.Load(viper.New())
	require.NoError(t, err)
	s, err := server.New(context.Background(), cfg, storage.DefaultRegistry(), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func newDevice(t *testing.T, url string) *App {
	t.Helper()
	cfg, err := config.Load(viper.New(), t.TempDir())
	require.NoError(t, err)
	cfg.ServerAddress = url

	app, err := New(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func payloadOf(t *testing.T, app *App, pk string) string {
	t.Helper()
	rec, err := app.Get(context.Background(), "notes", pk)
	require.NoError(t, err)
	return string(rec.Payload)
}

func TestApp_TwoDevicesConverge(t *testing.T) {
	url := startServer(t)
	ctx := context.Background()

	laptop := newDevice(t, url)
	phone := newDevice(t, url)
	require.NotEqual(t, laptop.Config().DeviceID, phone.Config().DeviceID)

	_, err := laptop.Register(ctx, "alice", password)
	require.NoError(t, err)
	require.NoError(t, laptop.Login(ctx, "alice", password))
	ws, err := laptop.CreateWorkspace(ctx, "notes")
	require.NoError(t, err)

	require.NoError(t, phone.Login(ctx, "alice", password))
	require.NoError(t, phone.UseWorkspace(ws))

	_, err = laptop.Put(ctx, "notes", "n1", json.RawMessage(`{"title":"draft"}`))
	require.NoError(t, err)
	res, err := laptop.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)

	res, err = phone.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pulled)
	assert.JSONEq(t, `{"title":"draft"}`, payloadOf(t, phone, "n1"))

	// concurrent edits of the same row
	_, err = phone.Put(ctx, "notes", "n1", json.RawMessage(`{"title":"phone"}`))
	require.NoError(t, err)
	_, err = laptop.Put(ctx, "notes", "n1", json.RawMessage(`{"title":"laptop"}`))
	require.NoError(t, err)

	for _, d := range []*App{phone, laptop, phone} {
		_, err = d.Sync(ctx)
		require.NoError(t, err)
	}
	assert.JSONEq(t, payloadOf(t, laptop, "n1"), payloadOf(t, phone, "n1"))

	_, err = laptop.Delete(ctx, "notes", "n1")
	require.NoError(t, err)
	_, err = laptop.Sync(ctx)
	require.NoError(t, err)
	res, err = phone.Sync(ctx)
	require.NoError(t, err)

	rec, err := phone.Get(ctx, "notes", "n1")
	require.NoError(t, err)
	assert.True(t, rec.Deleted)

	list, err := phone.List(ctx, "notes")
	require.NoError(t, err)
	assert.Empty(t, list)

	st, err := phone.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Pending)
	assert.Equal(t, res.Cursor, st.Cursor)
}

func TestApp_RequiresLoginAndWorkspace(t *testing.T) {
	url := startServer(t)
	ctx := context.Background()
	app := newDevice(t, url)

	_, err := app.Sync(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = app.Put(ctx, "notes", "n1", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrNoWorkspace)

	_, err = app.Put(ctx, "notes", "n1", json.RawMessage(`{`))
	assert.Error(t, err)
}

func TestApp_WrongPassword(t *testing.T) {
	url := startServer(t)
	ctx := context.Background()
	app := newDevice(t, url)

	_, err := app.Register(ctx, "bob", password)
	require.NoError(t, err)

	err = app.Login(ctx, "bob", "Wr0ng!pass")
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 401, ae.Status)
	assert.False(t, app.IsAuthenticated())
}
