package sync

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	"or3sync/internal/hlc"
	"or3sync/internal/metrics"
)

// Engine implements Gateway on top of any Store.
type Engine struct {
	store     Store
	validator *Validator
	clock     *hlc.Clock
	cfg       EngineConfig
	log       *slog.Logger
	now       func() time.Time
}

// NewEngine creates the sync engine. Zero limits in cfg fall back to
// DefaultEngineConfig.
func NewEngine(store Store, cfg EngineConfig, log *slog.Logger) *Engine {
	def := DefaultEngineConfig()
	if len(cfg.AllowedTables) == 0 {
		cfg.AllowedTables = def.AllowedTables
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = def.MaxBatchSize
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = def.MaxPayloadBytes
	}
	if cfg.DefaultPullLimit <= 0 {
		cfg.DefaultPullLimit = def.DefaultPullLimit
	}
	if cfg.MaxPullLimit <= 0 {
		cfg.MaxPullLimit = def.MaxPullLimit
	}
	if cfg.ActiveDeviceHorizon <= 0 {
		cfg.ActiveDeviceHorizon = def.ActiveDeviceHorizon
	}
	if cfg.MaxGCBatchSize <= 0 {
		cfg.MaxGCBatchSize = def.MaxGCBatchSize
	}
	if cfg.MaxGCContinuations <= 0 {
		cfg.MaxGCContinuations = def.MaxGCContinuations
	}

	return &Engine{
		store:     store,
		validator: NewValidator(cfg),
		clock:     hlc.NewClock("server", cfg.MaxClockDrift),
		cfg:       cfg,
		log:       log.With("component", "sync_engine"),
		now:       time.Now,
	}
}

// WithNow replaces the time source of the engine and its clock.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	e.now = now
	e.clock.WithNow(now)
	return e
}

// Push applies a batch in order. Each op is independent: a rejected op
// does not stop the batch. A store failure aborts the request; the client
// retries the same batch and already-applied ops come back as duplicates.
func (e *Engine) Push(ctx context.Context, req PushRequest) (*PushResponse, error) {
	if err := e.validator.Batch(req); err != nil {
		return nil, err
	}

	results := make([]PushResult, 0, len(req.Ops))
	for _, op := range req.Ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := e.pushOne(ctx, req.WorkspaceID, req.DeviceID, op)
		if err != nil {
			e.log.Error("push aborted", "workspace_id", req.WorkspaceID, "op_id", op.OpID, "error", err)
			return nil, err
		}
		metrics.PushOp(string(res.Status))
		results = append(results, res)
	}

	state, err := e.store.State(ctx, req.WorkspaceID)
	if err != nil {
		return nil, Transient("push", err)
	}

	return &PushResponse{ServerVersion: state.Head, Results: results}, nil
}

func (e *Engine) pushOne(ctx context.Context, workspaceID, deviceID string, op PushOperation) (PushResult, error) {
	if verr := e.validator.Op(op); verr != nil {
		return rejected(op.OpID, verr), nil
	}
	clock, verr := e.stamp(deviceID, op.Clock)
	if verr != nil {
		return rejected(op.OpID, verr), nil
	}

	var (
		res     PushResult
		winner  = true
		current *Record
	)
	err := e.store.InWorkspace(ctx, workspaceID, func(ctx context.Context, tx Tx) error {
		prior, err := tx.LookupOp(ctx, op.OpID)
		if err != nil {
			return fmt.Errorf("lookup op: %w", err)
		}
		if prior != nil {
			res = *prior
			res.Status = StatusDuplicate
			return nil
		}

		version, err := tx.NextVersion(ctx)
		if err != nil {
			return fmt.Errorf("next version: %w", err)
		}

		now := e.now().UTC()
		if op.Operation == OpDelete {
			err = tx.AppendTombstone(ctx, Tombstone{
				WorkspaceID:    workspaceID,
				ServerVersion:  version,
				TableName:      op.TableName,
				PrimaryKey:     op.PrimaryKey,
				OpID:           op.OpID,
				OriginDeviceID: deviceID,
				Clock:          clock,
				DeletedAt:      now,
			})
		} else {
			err = tx.AppendEntry(ctx, ChangeLogEntry{
				WorkspaceID:    workspaceID,
				ServerVersion:  version,
				TableName:      op.TableName,
				PrimaryKey:     op.PrimaryKey,
				Operation:      op.Operation,
				Payload:        op.Payload,
				Checksum:       Checksum(op.Payload),
				OpID:           op.OpID,
				OriginDeviceID: deviceID,
				Clock:          clock,
				CreatedAt:      now,
			})
		}
		if err != nil {
			return fmt.Errorf("append: %w", err)
		}

		current, err = tx.Record(ctx, op.TableName, op.PrimaryKey)
		if err != nil {
			return fmt.Errorf("load record: %w", err)
		}
		incoming := Record{
			WorkspaceID:   workspaceID,
			TableName:     op.TableName,
			PrimaryKey:    op.PrimaryKey,
			Deleted:       op.Operation == OpDelete,
			Clock:         clock,
			ServerVersion: version,
			UpdatedAt:     now,
		}
		if !incoming.Deleted {
			incoming.Payload = op.Payload
		}
		winner = Wins(current, incoming)
		if winner {
			if err := tx.PutRecord(ctx, incoming); err != nil {
				return fmt.Errorf("materialize: %w", err)
			}
		}

		stale := current != nil && op.BaseVersion != nil && *op.BaseVersion < current.ServerVersion
		res = PushResult{
			OpID:          op.OpID,
			Status:        StatusApplied,
			ServerVersion: version,
			Conflict:      !winner || stale,
		}
		return tx.RememberOp(ctx, res)
	})
	if err != nil {
		return PushResult{}, Transient("push", err)
	}

	if res.Status == StatusApplied && res.Conflict {
		metrics.ConflictResolved()
		attrs := []any{
			"workspace_id", workspaceID,
			"table", op.TableName,
			"pk", op.PrimaryKey,
			"op_id", op.OpID,
			"incoming_clock", clock.String(),
			"incoming_won", winner,
		}
		if current != nil {
			attrs = append(attrs, "current_clock", current.Clock.String(), "current_version", current.ServerVersion)
		}
		e.log.Info("conflict resolved by last-writer-wins", attrs...)
	}
	return res, nil
}

// stamp picks the op's logical clock. Client clocks are kept but tied to
// the pushing device; missing clocks are issued by the server.
func (e *Engine) stamp(deviceID string, remote *hlc.Timestamp) (hlc.Timestamp, *ValidationError) {
	if remote == nil || remote.IsZero() {
		return e.clock.NowFor(deviceID), nil
	}
	ts := *remote
	ts.DeviceID = deviceID
	if err := e.clock.Update(ts); err != nil {
		return hlc.Timestamp{}, invalid("logical_clock", "%v", err)
	}
	return ts, nil
}

func rejected(opID string, verr *ValidationError) PushResult {
	return PushResult{OpID: opID, Status: StatusRejected, Error: verr.Error()}
}

// Pull serves entries after req.Cursor. It registers a cursor for a device
// seen for the first time but never advances an existing one.
func (e *Engine) Pull(ctx context.Context, req PullRequest) (*PullResponse, error) {
	limit, err := e.validator.Pull(req, e.cfg.DefaultPullLimit, e.cfg.MaxPullLimit)
	if err != nil {
		return nil, err
	}

	state, err := e.store.State(ctx, req.WorkspaceID)
	if err != nil {
		return nil, Transient("pull", err)
	}
	if req.Cursor > state.Head {
		return nil, e.anomaly(&AnomalyError{
			Kind:        AnomalyCursorAhead,
			WorkspaceID: req.WorkspaceID,
			DeviceID:    req.DeviceID,
			Detail:      fmt.Sprintf("pull cursor %d is beyond head %d", req.Cursor, state.Head),
		})
	}
	if req.Cursor < state.PrunedThrough {
		return nil, ErrResyncRequired
	}

	err = e.store.EnsureCursor(ctx, DeviceCursor{
		WorkspaceID:     req.WorkspaceID,
		DeviceID:        req.DeviceID,
		LastSeenVersion: req.Cursor,
		UpdatedAt:       e.now().UTC(),
	})
	if err != nil {
		return nil, Transient("pull", err)
	}

	entries, err := e.store.Entries(ctx, req.WorkspaceID, req.Cursor, limit+1)
	if err != nil {
		return nil, Transient("pull", err)
	}

	// GC may have run between the first check and the read.
	state, err = e.store.State(ctx, req.WorkspaceID)
	if err != nil {
		return nil, Transient("pull", err)
	}
	if req.Cursor < state.PrunedThrough {
		return nil, ErrResyncRequired
	}

	resp := &PullResponse{Entries: entries, NextCursor: req.Cursor}
	if resp.Entries == nil {
		resp.Entries = []ChangeLogEntry{}
	}
	if len(resp.Entries) > limit {
		resp.Entries = resp.Entries[:limit]
		resp.HasMore = true
	}
	if n := len(resp.Entries); n > 0 {
		resp.NextCursor = resp.Entries[n-1].ServerVersion
	}
	metrics.Pulled(len(resp.Entries))

	return resp, nil
}

// UpdateCursor records a device acknowledgment. Moving backward or past
// the head is an anomaly and is rejected.
func (e *Engine) UpdateCursor(ctx context.Context, req CursorRequest) (*CursorResponse, error) {
	if err := validateScope(req.WorkspaceID, req.DeviceID); err != nil {
		return nil, err
	}

	state, err := e.store.State(ctx, req.WorkspaceID)
	if err != nil {
		return nil, Transient("update cursor", err)
	}
	if req.Version > state.Head {
		return nil, e.anomaly(&AnomalyError{
			Kind:        AnomalyCursorAhead,
			WorkspaceID: req.WorkspaceID,
			DeviceID:    req.DeviceID,
			Detail:      fmt.Sprintf("acknowledged %d but head is %d", req.Version, state.Head),
		})
	}

	stored, accepted, err := e.store.AdvanceCursor(ctx, DeviceCursor{
		WorkspaceID:     req.WorkspaceID,
		DeviceID:        req.DeviceID,
		LastSeenVersion: req.Version,
		UpdatedAt:       e.now().UTC(),
	})
	if err != nil {
		return nil, Transient("update cursor", err)
	}
	if !accepted {
		return nil, e.anomaly(&AnomalyError{
			Kind:        AnomalyCursorRegression,
			WorkspaceID: req.WorkspaceID,
			DeviceID:    req.DeviceID,
			Detail:      fmt.Sprintf("cursor would move from %d back to %d", stored.LastSeenVersion, req.Version),
		})
	}

	return &CursorResponse{OK: true}, nil
}

func (e *Engine) anomaly(err *AnomalyError) error {
	metrics.Anomaly(string(err.Kind))
	e.log.Error("sync anomaly",
		"kind", err.Kind,
		"workspace_id", err.WorkspaceID,
		"device_id", err.DeviceID,
		"detail", err.Detail,
	)
	return err
}
