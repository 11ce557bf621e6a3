package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/exp/slog"

	syncdomain "or3sync/internal/domain/sync"
	"or3sync/internal/hlc"
	"or3sync/internal/infrastructure/migration"
)

var ErrRecordNotFound = errors.New("record not found")

// Store is the local SQLite replica: materialized records, the outbox of
// unsent writes and the pull cursor per workspace.
type Store struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

// OpenStore migrates and opens the database file at path.
func OpenStore(path string, log *slog.Logger) (*Store, error) {
	if err := migration.NewMigration(migration.SQLiteEngine(path), log).Up(); err != nil {
		return nil, fmt.Errorf("migrate local database: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open local database: %w", err)
	}
	db.SetMaxOpenConns(1)

	return &Store{
		db:  db,
		log: log.With("component", "local_store"),
		now: time.Now,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Enqueue writes the record locally and queues the operation for push in
// one transaction. A write older than the local row is still queued, since
// the server decides the winner, but does not overwrite the row.
func (s *Store) Enqueue(ctx context.Context, e OutboxEntry) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := getRecord(ctx, tx, e.WorkspaceID, e.TableName, e.PrimaryKey)
		if err != nil && !errors.Is(err, ErrRecordNotFound) {
			return err
		}
		if cur != nil && cur.ServerVersion > 0 && e.BaseVersion == nil {
			v := cur.ServerVersion
			e.BaseVersion = &v
		}

		if cur == nil || e.Clock.After(cur.Clock) {
			rec := LocalRecord{
				WorkspaceID: e.WorkspaceID,
				TableName:   e.TableName,
				PrimaryKey:  e.PrimaryKey,
				Payload:     e.Payload,
				Deleted:     e.Operation == syncdomain.OpDelete,
				Clock:       e.Clock,
			}
			if cur != nil {
				rec.ServerVersion = cur.ServerVersion
			}
			if err := putRecord(ctx, tx, rec); err != nil {
				return err
			}
		}

		if e.CreatedAt.IsZero() {
			e.CreatedAt = s.now().UTC()
		}
		var base sql.NullInt64
		if e.BaseVersion != nil {
			base = sql.NullInt64{Int64: int64(*e.BaseVersion), Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO outbox (op_id, workspace_id, table_name, primary_key, operation, payload,
			                    clock_wall_ms, clock_counter, clock_device, base_version, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.OpID, e.WorkspaceID, e.TableName, e.PrimaryKey, string(e.Operation), nullBytes(e.Payload),
			e.Clock.WallMS, e.Clock.Counter, e.Clock.DeviceID, base, string(OutboxPending), e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert outbox: %w", err)
		}
		return nil
	})
}

// Pending returns up to limit unsent operations, oldest first.
func (s *Store) Pending(ctx context.Context, workspaceID string, limit int) ([]OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT op_id, workspace_id, table_name, primary_key, operation, payload,
		       clock_wall_ms, clock_counter, clock_device, base_version, status, last_error, created_at
		FROM outbox
		WHERE workspace_id = ? AND status = ?
		ORDER BY created_at, rowid
		LIMIT ?`, workspaceID, string(OutboxPending), limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxEntry
	for rows.Next() {
		var (
			e       OutboxEntry
			op      string
			status  string
			payload []byte
			base    sql.NullInt64
			lastErr sql.NullString
		)
		if err := rows.Scan(&e.OpID, &e.WorkspaceID, &e.TableName, &e.PrimaryKey, &op, &payload,
			&e.Clock.WallMS, &e.Clock.Counter, &e.Clock.DeviceID, &base, &status, &lastErr, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		e.Operation = syncdomain.Operation(op)
		e.Status = OutboxStatus(status)
		e.LastError = lastErr.String
		if len(payload) > 0 {
			e.Payload = payload
		}
		if base.Valid {
			v := uint64(base.Int64)
			e.BaseVersion = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Acknowledge settles pushed operations: applied and duplicate ones leave
// the outbox, rejected ones stay with their error and are not resent.
func (s *Store) Acknowledge(ctx context.Context, results []syncdomain.PushResult) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range results {
			var err error
			switch r.Status {
			case syncdomain.StatusApplied, syncdomain.StatusDuplicate:
				_, err = tx.ExecContext(ctx, `DELETE FROM outbox WHERE op_id = ?`, r.OpID)
			case syncdomain.StatusRejected:
				_, err = tx.ExecContext(ctx,
					`UPDATE outbox SET status = ?, last_error = ? WHERE op_id = ?`,
					string(OutboxRejected), r.Error, r.OpID)
			}
			if err != nil {
				return fmt.Errorf("settle %s: %w", r.OpID, err)
			}
		}
		return nil
	})
}

// ApplyPage merges a pulled page with last-writer-wins and advances the
// cursor in the same transaction. It returns how many rows changed.
func (s *Store) ApplyPage(ctx context.Context, workspaceID string, entries []syncdomain.ChangeLogEntry, next uint64) (int, error) {
	var applied int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if applied, err = applyEntries(ctx, tx, workspaceID, entries); err != nil {
			return err
		}
		return s.advanceCursor(ctx, tx, workspaceID, next)
	})
	return applied, err
}

// ApplySnapshot merges one snapshot page. The cursor moves to asOf only
// with the last page, so an interrupted bootstrap starts over.
func (s *Store) ApplySnapshot(ctx context.Context, workspaceID string, records []syncdomain.Record, asOf uint64, last bool) (int, error) {
	entries := make([]syncdomain.ChangeLogEntry, 0, len(records))
	for _, r := range records {
		op := syncdomain.OpUpdate
		if r.Deleted {
			op = syncdomain.OpDelete
		}
		entries = append(entries, syncdomain.ChangeLogEntry{
			WorkspaceID:   workspaceID,
			ServerVersion: r.ServerVersion,
			TableName:     r.TableName,
			PrimaryKey:    r.PrimaryKey,
			Operation:     op,
			Payload:       r.Payload,
			Clock:         r.Clock,
		})
	}

	var applied int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if applied, err = applyEntries(ctx, tx, workspaceID, entries); err != nil {
			return err
		}
		if !last {
			return nil
		}
		return s.advanceCursor(ctx, tx, workspaceID, asOf)
	})
	return applied, err
}

func applyEntries(ctx context.Context, tx *sql.Tx, workspaceID string, entries []syncdomain.ChangeLogEntry) (int, error) {
	applied := 0
	for _, e := range entries {
		cur, err := getRecord(ctx, tx, workspaceID, e.TableName, e.PrimaryKey)
		if err != nil && !errors.Is(err, ErrRecordNotFound) {
			return applied, err
		}

		switch {
		case cur == nil || e.Clock.After(cur.Clock):
			var payload []byte
			if e.Operation != syncdomain.OpDelete {
				payload = e.Payload
			}
			err = putRecord(ctx, tx, LocalRecord{
				WorkspaceID:   workspaceID,
				TableName:     e.TableName,
				PrimaryKey:    e.PrimaryKey,
				Payload:       payload,
				Deleted:       e.Operation == syncdomain.OpDelete,
				Clock:         e.Clock,
				ServerVersion: e.ServerVersion,
			})
			applied++
		case e.Clock.Compare(cur.Clock) == 0:
			_, err = tx.ExecContext(ctx, `
				UPDATE records SET server_version = ?
				WHERE workspace_id = ? AND table_name = ? AND primary_key = ?`,
				e.ServerVersion, workspaceID, e.TableName, e.PrimaryKey)
		}
		if err != nil {
			return applied, fmt.Errorf("apply version %d: %w", e.ServerVersion, err)
		}
	}
	return applied, nil
}

func (s *Store) advanceCursor(ctx context.Context, tx *sql.Tx, workspaceID string, next uint64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sync_state (workspace_id, cursor, synced_at) VALUES (?, ?, ?)
		ON CONFLICT (workspace_id) DO UPDATE
		SET cursor = MAX(sync_state.cursor, excluded.cursor), synced_at = excluded.synced_at`,
		workspaceID, next, s.now().UTC())
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// Cursor is the highest server version applied locally, zero if none.
func (s *Store) Cursor(ctx context.Context, workspaceID string) (uint64, error) {
	var c uint64
	err := s.db.QueryRowContext(ctx, `SELECT cursor FROM sync_state WHERE workspace_id = ?`, workspaceID).Scan(&c)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	return c, nil
}

// Reset forgets the replica of a workspace so it can be rebuilt from
// version zero. Records with unsent writes are kept.
func (s *Store) Reset(ctx context.Context, workspaceID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM records
			WHERE workspace_id = ?
			  AND NOT EXISTS (
			      SELECT 1 FROM outbox o
			      WHERE o.workspace_id = records.workspace_id
			        AND o.table_name = records.table_name
			        AND o.primary_key = records.primary_key
			        AND o.status = ?)`, workspaceID, string(OutboxPending))
		if err != nil {
			return fmt.Errorf("drop records: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_state WHERE workspace_id = ?`, workspaceID); err != nil {
			return fmt.Errorf("drop cursor: %w", err)
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, workspaceID, table, pk string) (*LocalRecord, error) {
	return getRecord(ctx, s.db, workspaceID, table, pk)
}

// List returns live records of a table ordered by primary key.
func (s *Store) List(ctx context.Context, workspaceID, table string) ([]LocalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workspace_id, table_name, primary_key, payload, deleted,
		       clock_wall_ms, clock_counter, clock_device, server_version
		FROM records
		WHERE workspace_id = ? AND table_name = ? AND deleted = 0
		ORDER BY primary_key`, workspaceID, table)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []LocalRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) Status(ctx context.Context, workspaceID string) (Status, error) {
	st := Status{WorkspaceID: workspaceID}

	var synced sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor, synced_at FROM sync_state WHERE workspace_id = ?`, workspaceID).Scan(&st.Cursor, &synced)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return st, fmt.Errorf("read sync state: %w", err)
	}
	st.SyncedAt = synced.Time

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE workspace_id = ? AND deleted = 0`, workspaceID).Scan(&st.Records)
	if err != nil {
		return st, fmt.Errorf("count records: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(status = ?), 0), COALESCE(SUM(status = ?), 0)
		FROM outbox WHERE workspace_id = ?`,
		string(OutboxPending), string(OutboxRejected), workspaceID).Scan(&st.Pending, &st.Rejected)
	if err != nil {
		return st, fmt.Errorf("count outbox: %w", err)
	}
	return st, nil
}

// MaxClock is the highest timestamp stored anywhere in the replica. The
// local clock is moved past it on startup.
func (s *Store) MaxClock(ctx context.Context) (hlc.Timestamp, error) {
	var ts hlc.Timestamp
	err := s.db.QueryRowContext(ctx, `
		SELECT clock_wall_ms, clock_counter, clock_device FROM (
		    SELECT clock_wall_ms, clock_counter, clock_device FROM records
		    UNION ALL
		    SELECT clock_wall_ms, clock_counter, clock_device FROM outbox
		)
		ORDER BY clock_wall_ms DESC, clock_counter DESC
		LIMIT 1`).Scan(&ts.WallMS, &ts.Counter, &ts.DeviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return hlc.Timestamp{}, nil
	}
	if err != nil {
		return hlc.Timestamp{}, fmt.Errorf("read max clock: %w", err)
	}
	return ts, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getRecord(ctx context.Context, q querier, workspaceID, table, pk string) (*LocalRecord, error) {
	row := q.QueryRowContext(ctx, `
		SELECT workspace_id, table_name, primary_key, payload, deleted,
		       clock_wall_ms, clock_counter, clock_device, server_version
		FROM records
		WHERE workspace_id = ? AND table_name = ? AND primary_key = ?`, workspaceID, table, pk)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return r, err
}

func scanRecord(sc scanner) (*LocalRecord, error) {
	var (
		r       LocalRecord
		payload []byte
	)
	err := sc.Scan(&r.WorkspaceID, &r.TableName, &r.PrimaryKey, &payload, &r.Deleted,
		&r.Clock.WallMS, &r.Clock.Counter, &r.Clock.DeviceID, &r.ServerVersion)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		r.Payload = payload
	}
	return &r, nil
}

func putRecord(ctx context.Context, tx *sql.Tx, r LocalRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO records (workspace_id, table_name, primary_key, payload, deleted,
		                     clock_wall_ms, clock_counter, clock_device, server_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (workspace_id, table_name, primary_key) DO UPDATE SET
		    payload = excluded.payload,
		    deleted = excluded.deleted,
		    clock_wall_ms = excluded.clock_wall_ms,
		    clock_counter = excluded.clock_counter,
		    clock_device = excluded.clock_device,
		    server_version = MAX(records.server_version, excluded.server_version)`,
		r.WorkspaceID, r.TableName, r.PrimaryKey, nullBytes(r.Payload), r.Deleted,
		r.Clock.WallMS, r.Clock.Counter, r.Clock.DeviceID, r.ServerVersion)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
