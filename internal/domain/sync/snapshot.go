package sync

import (
	"context"
	"fmt"

	"or3sync/internal/metrics"
)

// Snapshotter serves the materialized state of a workspace to devices
// whose cursor fell behind the retained log.
type Snapshotter interface {
	Snapshot(ctx context.Context, req SnapshotRequest) (*SnapshotResponse, error)
}

var _ Snapshotter = (*Engine)(nil)

// Snapshot returns one page of records. The first page fixes AsOf at the
// current head and pins the device cursor there, so the log above AsOf
// stays retained while the device pages through. Records written after
// AsOf may show up in the snapshot and again in the next pull; applying
// them twice is harmless under LWW.
func (e *Engine) Snapshot(ctx context.Context, req SnapshotRequest) (*SnapshotResponse, error) {
	limit, err := e.validator.Snapshot(req, e.cfg.DefaultPullLimit, e.cfg.MaxPullLimit)
	if err != nil {
		return nil, err
	}

	state, err := e.store.State(ctx, req.WorkspaceID)
	if err != nil {
		return nil, Transient("snapshot", err)
	}

	asOf := req.AsOf
	if asOf == 0 {
		asOf = state.Head
	}
	if asOf > state.Head {
		return nil, e.anomaly(&AnomalyError{
			Kind:        AnomalyCursorAhead,
			WorkspaceID: req.WorkspaceID,
			DeviceID:    req.DeviceID,
			Detail:      fmt.Sprintf("snapshot as_of %d is beyond head %d", asOf, state.Head),
		})
	}
	if asOf < state.PrunedThrough {
		// The snapshot took long enough for GC to pass it. Start over.
		return nil, ErrResyncRequired
	}

	_, accepted, err := e.store.AdvanceCursor(ctx, DeviceCursor{
		WorkspaceID:     req.WorkspaceID,
		DeviceID:        req.DeviceID,
		LastSeenVersion: asOf,
		UpdatedAt:       e.now().UTC(),
	})
	if err != nil {
		return nil, Transient("snapshot", err)
	}
	if !accepted {
		e.log.Warn("device cursor already ahead of snapshot",
			"workspace_id", req.WorkspaceID, "device_id", req.DeviceID, "as_of", asOf)
	}

	var after RecordKey
	if req.After != nil {
		after = *req.After
	}
	records, err := e.store.Records(ctx, req.WorkspaceID, after, limit+1)
	if err != nil {
		return nil, Transient("snapshot", err)
	}

	resp := &SnapshotResponse{Records: records, AsOf: asOf}
	if resp.Records == nil {
		resp.Records = []Record{}
	}
	if len(resp.Records) > limit {
		resp.Records = resp.Records[:limit]
		resp.HasMore = true
	}
	if n := len(resp.Records); n > 0 && resp.HasMore {
		next := resp.Records[n-1].Key()
		resp.Next = &next
	}
	metrics.Pulled(len(resp.Records))

	return resp, nil
}

// Snapshot normalizes the page limit the same way Pull does.
func (v *Validator) Snapshot(req SnapshotRequest, defaultLimit, maxLimit int) (int, error) {
	if req.After != nil && (req.After.TableName == "" || req.After.PrimaryKey == "") {
		return 0, invalid("after", "needs both table_name and primary_key")
	}
	return v.Pull(PullRequest{
		WorkspaceID: req.WorkspaceID,
		DeviceID:    req.DeviceID,
		Limit:       req.Limit,
	}, defaultLimit, maxLimit)
}
