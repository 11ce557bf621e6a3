package sync

import (
	"context"
	"fmt"

	"or3sync/internal/metrics"
)

const (
	storeChangeLog  = "change_log"
	storeTombstones = "tombstones"
)

type pruneFunc func(ctx context.Context, p PruneParams) (PruneBatch, error)

// GCTombstones removes tombstones every active device has already passed
// and that are older than the retention window.
func (e *Engine) GCTombstones(ctx context.Context, req GCRequest) (*GCResult, error) {
	return e.collect(ctx, req, storeTombstones, e.store.PruneTombstones)
}

// GCChangeLog is GCTombstones for regular change log entries.
func (e *Engine) GCChangeLog(ctx context.Context, req GCRequest) (*GCResult, error) {
	return e.collect(ctx, req, storeChangeLog, e.store.PruneChangeLog)
}

// collect runs at most MaxGCContinuations batches. Work left over is
// reported through NextCursor for the next invocation to pick up.
func (e *Engine) collect(ctx context.Context, req GCRequest, store string, prune pruneFunc) (*GCResult, error) {
	if req.WorkspaceID == "" {
		return nil, invalid("workspace_id", "is required")
	}
	if req.RetentionSeconds < 0 {
		return nil, invalid("retention_seconds", "must not be negative")
	}
	if req.BatchSize < 1 {
		return nil, invalid("batch_size", "must be at least 1")
	}
	batchSize := min(req.BatchSize, e.cfg.MaxGCBatchSize)

	log := e.log.With("store", store, "workspace_id", req.WorkspaceID)
	now := e.now().UTC()

	minCursor, ok, err := e.store.MinActiveCursor(ctx, req.WorkspaceID, now.Add(-e.cfg.ActiveDeviceHorizon))
	if err != nil {
		return nil, Transient("gc", err)
	}
	if !ok {
		log.Debug("gc skipped: no active devices")
		return &GCResult{Done: true}, nil
	}

	state, err := e.store.State(ctx, req.WorkspaceID)
	if err != nil {
		return nil, Transient("gc", err)
	}
	if minCursor > state.Head {
		return nil, e.anomaly(&AnomalyError{
			Kind:        AnomalyGCInvariant,
			WorkspaceID: req.WorkspaceID,
			Detail:      fmt.Sprintf("min active cursor %d is beyond head %d", minCursor, state.Head),
		})
	}

	var after uint64
	if req.ContinuationCursor != nil {
		after = *req.ContinuationCursor
	}
	cutoff := now.Add(-req.Retention())

	result := &GCResult{}
	for i := 0; i < e.cfg.MaxGCContinuations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, err := prune(ctx, PruneParams{
			WorkspaceID:   req.WorkspaceID,
			After:         after,
			Below:         minCursor,
			CreatedBefore: cutoff,
			Limit:         batchSize,
		})
		if err != nil {
			return nil, Transient("gc", err)
		}
		if batch.Deleted > 0 && batch.Last >= minCursor {
			return nil, e.anomaly(&AnomalyError{
				Kind:        AnomalyGCInvariant,
				WorkspaceID: req.WorkspaceID,
				Detail:      fmt.Sprintf("%s prune reached version %d, min active cursor is %d", store, batch.Last, minCursor),
			})
		}

		result.DeletedCount += batch.Deleted
		if batch.Deleted < batchSize {
			result.Done = true
			break
		}
		after = batch.Last
	}

	if !result.Done {
		next := after
		result.NextCursor = &next
	}
	metrics.GCDeleted(store, result.DeletedCount)
	log.Info("gc pass finished",
		"deleted", result.DeletedCount,
		"min_cursor", minCursor,
		"done", result.Done,
	)

	return result, nil
}
