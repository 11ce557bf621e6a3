package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"or3sync/internal/domain/access"
	syncdomain "or3sync/internal/domain/sync"
	"or3sync/internal/infrastructure/storage/storetest"
)

// testDSN skips the calling test unless a disposable database is configured.
// The sync tables are truncated between cases.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("OR3SYNC_TEST_DATABASE_URI"))
	if dsn == "" {
		t.Skip("set OR3SYNC_TEST_DATABASE_URI to run postgres integration tests")
	}
	return dsn
}

func TestOpen_EmptyDSN(t *testing.T) {
	_, err := Open(context.Background(), "", slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty database uri")
}

func TestMapMemberErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "nil", err: nil, want: nil},
		{name: "duplicate workspace", err: &pgconn.PgError{Code: codeUniqueViolation}, want: access.ErrWorkspaceExists},
		{name: "unknown user", err: &pgconn.PgError{Code: codeForeignKeyViolation, ConstraintName: "workspace_members_user_id_fkey"}, want: access.ErrUnknownUser},
		{name: "unknown workspace", err: &pgconn.PgError{Code: codeForeignKeyViolation, ConstraintName: "workspace_members_workspace_id_fkey"}, want: access.ErrInvalidInput},
		{name: "wrapped", err: fmt.Errorf("exec: %w", &pgconn.PgError{Code: codeUniqueViolation}), want: access.ErrWorkspaceExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapMemberErr(tt.err)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}

	other := errors.New("connection refused")
	assert.Same(t, other, mapMemberErr(other))
}

func TestSyncStore(t *testing.T) {
	dsn := testDSN(t)
	ctx := context.Background()

	st, err := Open(ctx, dsn, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	storetest.Run(t, func(t *testing.T) syncdomain.Store {
		_, err := st.Pool().Exec(ctx,
			`TRUNCATE workspace_versions, change_log, tombstones, sync_ops, sync_records, device_cursors`)
		require.NoError(t, err)
		return st.SyncStore()
	})
}
