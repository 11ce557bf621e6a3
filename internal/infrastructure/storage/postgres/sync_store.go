package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	syncdomain "or3sync/internal/domain/sync"
)

// SyncStore keeps sync state in PostgreSQL. Version assignment is
// serialized by a row lock on workspace_versions.
type SyncStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

var _ syncdomain.Store = (*SyncStore)(nil)

func NewSyncStore(pool *pgxpool.Pool, log *slog.Logger) *SyncStore {
	return &SyncStore{
		pool: pool,
		log:  log,
	}
}

func (s *SyncStore) InWorkspace(ctx context.Context, workspaceID string, fn func(ctx context.Context, tx syncdomain.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO workspace_versions (workspace_id) VALUES ($1) ON CONFLICT DO NOTHING`,
			workspaceID)
		if err != nil {
			return fmt.Errorf("ensure workspace: %w", err)
		}

		var head uint64
		err = tx.QueryRow(ctx,
			`SELECT head FROM workspace_versions WHERE workspace_id = $1 FOR UPDATE`,
			workspaceID).Scan(&head)
		if err != nil {
			return fmt.Errorf("lock workspace: %w", err)
		}

		ptx := &pgTx{tx: tx, workspaceID: workspaceID, head: head}
		if err := fn(ctx, ptx); err != nil {
			return err
		}
		if ptx.head == head {
			return nil
		}

		_, err = tx.Exec(ctx,
			`UPDATE workspace_versions SET head = $2 WHERE workspace_id = $1`,
			workspaceID, ptx.head)
		if err != nil {
			return fmt.Errorf("advance head: %w", err)
		}
		return nil
	})
}

func (s *SyncStore) Entries(ctx context.Context, workspaceID string, after uint64, limit int) ([]syncdomain.ChangeLogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT server_version, table_name, primary_key, operation, payload, checksum,
		       op_id, origin_device_id, clock_wall_ms, clock_counter, clock_device, created_at
		FROM change_log
		WHERE workspace_id = $1 AND server_version > $2
		UNION ALL
		SELECT server_version, table_name, primary_key, 'delete', NULL, '',
		       op_id, origin_device_id, clock_wall_ms, clock_counter, clock_device, deleted_at
		FROM tombstones
		WHERE workspace_id = $1 AND server_version > $2
		ORDER BY server_version
		LIMIT $3`,
		workspaceID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := make([]syncdomain.ChangeLogEntry, 0, limit)
	for rows.Next() {
		var (
			e       syncdomain.ChangeLogEntry
			op      string
			payload []byte
			counter int64
		)
		err := rows.Scan(&e.ServerVersion, &e.TableName, &e.PrimaryKey, &op, &payload, &e.Checksum,
			&e.OpID, &e.OriginDeviceID, &e.Clock.WallMS, &counter, &e.Clock.DeviceID, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.WorkspaceID = workspaceID
		e.Operation = syncdomain.Operation(op)
		e.Payload = payload
		e.Clock.Counter = uint32(counter)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SyncStore) Records(ctx context.Context, workspaceID string, after syncdomain.RecordKey, limit int) ([]syncdomain.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT table_name, primary_key, payload, deleted,
		       clock_wall_ms, clock_counter, clock_device, server_version, updated_at
		FROM sync_records
		WHERE workspace_id = $1 AND (table_name, primary_key) > ($2, $3)
		ORDER BY table_name, primary_key
		LIMIT $4`,
		workspaceID, after.TableName, after.PrimaryKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := make([]syncdomain.Record, 0, limit)
	for rows.Next() {
		var (
			r       = syncdomain.Record{WorkspaceID: workspaceID}
			payload []byte
			counter int64
		)
		err := rows.Scan(&r.TableName, &r.PrimaryKey, &payload, &r.Deleted,
			&r.Clock.WallMS, &counter, &r.Clock.DeviceID, &r.ServerVersion, &r.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Payload = payload
		r.Clock.Counter = uint32(counter)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SyncStore) State(ctx context.Context, workspaceID string) (syncdomain.WorkspaceState, error) {
	var st syncdomain.WorkspaceState
	err := s.pool.QueryRow(ctx,
		`SELECT head, pruned_through FROM workspace_versions WHERE workspace_id = $1`,
		workspaceID).Scan(&st.Head, &st.PrunedThrough)
	if errors.Is(err, pgx.ErrNoRows) {
		return syncdomain.WorkspaceState{}, nil
	}
	if err != nil {
		return st, fmt.Errorf("load state: %w", err)
	}
	return st, nil
}

func (s *SyncStore) Cursor(ctx context.Context, workspaceID, deviceID string) (syncdomain.DeviceCursor, error) {
	c := syncdomain.DeviceCursor{WorkspaceID: workspaceID, DeviceID: deviceID}
	err := s.pool.QueryRow(ctx,
		`SELECT last_seen_version, updated_at FROM device_cursors WHERE workspace_id = $1 AND device_id = $2`,
		workspaceID, deviceID).Scan(&c.LastSeenVersion, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, syncdomain.ErrCursorNotFound
	}
	if err != nil {
		return c, fmt.Errorf("load cursor: %w", err)
	}
	return c, nil
}

func (s *SyncStore) EnsureCursor(ctx context.Context, c syncdomain.DeviceCursor) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO device_cursors (workspace_id, device_id, last_seen_version, updated_at)
         VALUES ($1, $2, $3, $4)
         ON CONFLICT (workspace_id, device_id) DO UPDATE SET updated_at = EXCLUDED.updated_at`,
		c.WorkspaceID, c.DeviceID, c.LastSeenVersion, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ensure cursor: %w", err)
	}
	return nil
}

func (s *SyncStore) AdvanceCursor(ctx context.Context, c syncdomain.DeviceCursor) (syncdomain.DeviceCursor, bool, error) {
	stored := c
	err := s.pool.QueryRow(ctx,
		`INSERT INTO device_cursors (workspace_id, device_id, last_seen_version, updated_at)
         VALUES ($1, $2, $3, $4)
         ON CONFLICT (workspace_id, device_id) DO UPDATE
             SET last_seen_version = EXCLUDED.last_seen_version, updated_at = EXCLUDED.updated_at
             WHERE device_cursors.last_seen_version <= EXCLUDED.last_seen_version
         RETURNING last_seen_version, updated_at`,
		c.WorkspaceID, c.DeviceID, c.LastSeenVersion, c.UpdatedAt).Scan(&stored.LastSeenVersion, &stored.UpdatedAt)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return c, false, fmt.Errorf("advance cursor: %w", err)
	}

	// The guard refused the update: the stored cursor is ahead.
	current, err := s.Cursor(ctx, c.WorkspaceID, c.DeviceID)
	if err != nil {
		return c, false, err
	}
	return current, false, nil
}

func (s *SyncStore) MinActiveCursor(ctx context.Context, workspaceID string, activeSince time.Time) (uint64, bool, error) {
	var lowest *int64
	err := s.pool.QueryRow(ctx,
		`SELECT MIN(last_seen_version) FROM device_cursors WHERE workspace_id = $1 AND updated_at >= $2`,
		workspaceID, activeSince).Scan(&lowest)
	if err != nil {
		return 0, false, fmt.Errorf("min cursor: %w", err)
	}
	if lowest == nil {
		return 0, false, nil
	}
	return uint64(*lowest), true, nil
}

func (s *SyncStore) PruneChangeLog(ctx context.Context, p syncdomain.PruneParams) (syncdomain.PruneBatch, error) {
	return s.prune(ctx, p, "change_log", "created_at")
}

func (s *SyncStore) PruneTombstones(ctx context.Context, p syncdomain.PruneParams) (syncdomain.PruneBatch, error) {
	return s.prune(ctx, p, "tombstones", "deleted_at")
}

// prune deletes one batch together with its idempotency rows and raises
// pruned_through in the same transaction. table and column are constants.
func (s *SyncStore) prune(ctx context.Context, p syncdomain.PruneParams, table, column string) (syncdomain.PruneBatch, error) {
	query := fmt.Sprintf(`
		WITH doomed AS (
			SELECT server_version FROM %[1]s
			WHERE workspace_id = $1 AND server_version > $2 AND server_version < $3 AND %[2]s < $4
			ORDER BY server_version
			LIMIT $5
		), gone AS (
			DELETE FROM %[1]s t USING doomed d
			WHERE t.workspace_id = $1 AND t.server_version = d.server_version
			RETURNING t.server_version, t.op_id
		), ops AS (
			DELETE FROM sync_ops o USING gone g
			WHERE o.workspace_id = $1 AND o.op_id = g.op_id
		)
		SELECT COUNT(*), COALESCE(MAX(server_version), 0) FROM gone`, table, column)

	var (
		batch   syncdomain.PruneBatch
		deleted int64
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, query, p.WorkspaceID, p.After, p.Below, p.CreatedBefore, p.Limit).
			Scan(&deleted, &batch.Last)
		if err != nil {
			return fmt.Errorf("prune %s: %w", table, err)
		}
		if deleted == 0 {
			return nil
		}
		_, err = tx.Exec(ctx,
			`UPDATE workspace_versions SET pruned_through = GREATEST(pruned_through, $2) WHERE workspace_id = $1`,
			p.WorkspaceID, batch.Last)
		if err != nil {
			return fmt.Errorf("mark pruned: %w", err)
		}
		return nil
	})
	if err != nil {
		return syncdomain.PruneBatch{}, err
	}
	batch.Deleted = int(deleted)
	return batch, nil
}

func (s *SyncStore) Workspaces(ctx context.Context, after string, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT workspace_id FROM workspace_versions WHERE workspace_id > $1 ORDER BY workspace_id LIMIT $2`,
		after, limit)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *SyncStore) ReapCursors(ctx context.Context, staleBefore time.Time, limit int) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM device_cursors WHERE ctid IN (
             SELECT ctid FROM device_cursors WHERE updated_at < $1 LIMIT $2)`,
		staleBefore, limit)
	if err != nil {
		return 0, fmt.Errorf("reap cursors: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

type pgTx struct {
	tx          pgx.Tx
	workspaceID string
	head        uint64
}

func (t *pgTx) LookupOp(ctx context.Context, opID string) (*syncdomain.PushResult, error) {
	res := syncdomain.PushResult{OpID: opID}
	var status string
	err := t.tx.QueryRow(ctx,
		`SELECT server_version, status, conflict FROM sync_ops WHERE workspace_id = $1 AND op_id = $2`,
		t.workspaceID, opID).Scan(&res.ServerVersion, &status, &res.Conflict)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	res.Status = syncdomain.Status(status)
	return &res, nil
}

func (t *pgTx) NextVersion(_ context.Context) (uint64, error) {
	t.head++
	return t.head, nil
}

func (t *pgTx) AppendEntry(ctx context.Context, e syncdomain.ChangeLogEntry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO change_log (workspace_id, server_version, table_name, primary_key, operation, payload,
             checksum, op_id, origin_device_id, clock_wall_ms, clock_counter, clock_device, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.workspaceID, e.ServerVersion, e.TableName, e.PrimaryKey, string(e.Operation), []byte(e.Payload),
		e.Checksum, e.OpID, e.OriginDeviceID, e.Clock.WallMS, int64(e.Clock.Counter), e.Clock.DeviceID, e.CreatedAt)
	return err
}

func (t *pgTx) AppendTombstone(ctx context.Context, ts syncdomain.Tombstone) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO tombstones (workspace_id, server_version, table_name, primary_key, op_id,
             origin_device_id, clock_wall_ms, clock_counter, clock_device, deleted_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.workspaceID, ts.ServerVersion, ts.TableName, ts.PrimaryKey, ts.OpID,
		ts.OriginDeviceID, ts.Clock.WallMS, int64(ts.Clock.Counter), ts.Clock.DeviceID, ts.DeletedAt)
	return err
}

func (t *pgTx) Record(ctx context.Context, table, pk string) (*syncdomain.Record, error) {
	r := syncdomain.Record{WorkspaceID: t.workspaceID, TableName: table, PrimaryKey: pk}
	var (
		payload []byte
		counter int64
	)
	err := t.tx.QueryRow(ctx,
		`SELECT payload, deleted, clock_wall_ms, clock_counter, clock_device, server_version, updated_at
         FROM sync_records WHERE workspace_id = $1 AND table_name = $2 AND primary_key = $3`,
		t.workspaceID, table, pk).
		Scan(&payload, &r.Deleted, &r.Clock.WallMS, &counter, &r.Clock.DeviceID, &r.ServerVersion, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Payload = payload
	r.Clock.Counter = uint32(counter)
	return &r, nil
}

func (t *pgTx) PutRecord(ctx context.Context, r syncdomain.Record) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO sync_records (workspace_id, table_name, primary_key, payload, deleted,
             clock_wall_ms, clock_counter, clock_device, server_version, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
         ON CONFLICT (workspace_id, table_name, primary_key) DO UPDATE SET
             payload = EXCLUDED.payload,
             deleted = EXCLUDED.deleted,
             clock_wall_ms = EXCLUDED.clock_wall_ms,
             clock_counter = EXCLUDED.clock_counter,
             clock_device = EXCLUDED.clock_device,
             server_version = EXCLUDED.server_version,
             updated_at = EXCLUDED.updated_at`,
		t.workspaceID, r.TableName, r.PrimaryKey, []byte(r.Payload), r.Deleted,
		r.Clock.WallMS, int64(r.Clock.Counter), r.Clock.DeviceID, r.ServerVersion, r.UpdatedAt)
	return err
}

func (t *pgTx) RememberOp(ctx context.Context, res syncdomain.PushResult) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO sync_ops (workspace_id, op_id, server_version, status, conflict) VALUES ($1, $2, $3, $4, $5)`,
		t.workspaceID, res.OpID, res.ServerVersion, string(res.Status), res.Conflict)
	return err
}
