package sync

import "context"

// Gateway is the seam between request handling and persistence. Exactly
// these five operations cross it; the backend behind it is chosen once at
// startup.
type Gateway interface {
	Pull(ctx context.Context, req PullRequest) (*PullResponse, error)
	Push(ctx context.Context, req PushRequest) (*PushResponse, error)
	UpdateCursor(ctx context.Context, req CursorRequest) (*CursorResponse, error)
	GCTombstones(ctx context.Context, req GCRequest) (*GCResult, error)
	GCChangeLog(ctx context.Context, req GCRequest) (*GCResult, error)
}

var _ Gateway = (*Engine)(nil)
