package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"or3sync/internal/infrastructure/storage/memory"
)

func TestRegistry_OpenMemory(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"memory", "postgres"}, r.Names())

	b, err := r.Open(context.Background(), Config{Driver: " Memory "}, slog.Default())
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &memory.Backend{}, b)
	assert.NotNil(t, b.SyncStore())
	assert.NotNil(t, b.Users())
	assert.NotNil(t, b.Sessions())
	assert.NotNil(t, b.Members())
}

func TestRegistry_UnknownDriver(t *testing.T) {
	_, err := DefaultRegistry().Open(context.Background(), Config{Driver: "mongo"}, slog.Default())
	require.ErrorIs(t, err, ErrUnknownBackend)
	assert.Contains(t, err.Error(), "memory, postgres")
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	failing := func(context.Context, Config, *slog.Logger) (Backend, error) { return nil, boom }

	require.NoError(t, r.Register("broken", failing))
	assert.Error(t, r.Register("BROKEN", failing))
	assert.Error(t, r.Register("", failing))
	assert.Error(t, r.Register("nil", nil))

	_, err := r.Open(context.Background(), Config{Driver: "broken"}, slog.Default())
	assert.ErrorIs(t, err, boom)
}

func TestRegistry_PostgresNeedsDSN(t *testing.T) {
	_, err := DefaultRegistry().Open(context.Background(), Config{Driver: "postgres"}, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty database uri")
}
