package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	"or3sync/internal/metrics"
)

// Action is the capability a request needs on a workspace.
type Action string

const (
	ActionPull   Action = "pull"
	ActionPush   Action = "push"
	ActionCursor Action = "cursor"
	ActionGC     Action = "gc"
)

var ErrSnapshotUnsupported = errors.New("gateway cannot serve snapshots")

// AccessChecker decides whether identity may perform action in a workspace.
type AccessChecker interface {
	CanAccess(ctx context.Context, identity, workspaceID string, action Action) (bool, error)
}

// Limiter throttles identities. AllowN consumes n tokens or reports how
// long to wait before retrying.
type Limiter interface {
	AllowN(identity string, n int) (bool, time.Duration)
}

type Servicer interface {
	Push(ctx context.Context, identity string, req PushRequest) (*PushResponse, error)
	Pull(ctx context.Context, identity string, req PullRequest) (*PullResponse, error)
	UpdateCursor(ctx context.Context, identity string, req CursorRequest) (*CursorResponse, error)
	Snapshot(ctx context.Context, identity string, req SnapshotRequest) (*SnapshotResponse, error)
}

// Service is the request-handling layer in front of a Gateway: every
// call is authorized first, then rate limited, then forwarded.
type Service struct {
	gateway   Gateway
	snapshots Snapshotter
	access    AccessChecker
	limiter   Limiter
	log       *slog.Logger
}

func NewService(gateway Gateway, access AccessChecker, limiter Limiter, log *slog.Logger) *Service {
	s := &Service{
		gateway: gateway,
		access:  access,
		limiter: limiter,
		log:     log.With("component", "sync_service"),
	}
	if sn, ok := gateway.(Snapshotter); ok {
		s.snapshots = sn
	}
	return s
}

func (s *Service) Push(ctx context.Context, identity string, req PushRequest) (*PushResponse, error) {
	defer metrics.Timer(string(ActionPush))()

	if err := s.authorize(ctx, identity, req.WorkspaceID, ActionPush); err != nil {
		return nil, err
	}
	if err := s.throttle(identity, ActionPush, len(req.Ops)); err != nil {
		return nil, err
	}
	return s.gateway.Push(ctx, req)
}

func (s *Service) Pull(ctx context.Context, identity string, req PullRequest) (*PullResponse, error) {
	defer metrics.Timer(string(ActionPull))()

	if err := s.authorize(ctx, identity, req.WorkspaceID, ActionPull); err != nil {
		return nil, err
	}
	if err := s.throttle(identity, ActionPull, 1); err != nil {
		return nil, err
	}
	return s.gateway.Pull(ctx, req)
}

func (s *Service) UpdateCursor(ctx context.Context, identity string, req CursorRequest) (*CursorResponse, error) {
	defer metrics.Timer(string(ActionCursor))()

	if err := s.authorize(ctx, identity, req.WorkspaceID, ActionCursor); err != nil {
		return nil, err
	}
	if err := s.throttle(identity, ActionCursor, 1); err != nil {
		return nil, err
	}
	return s.gateway.UpdateCursor(ctx, req)
}

// Snapshot is authorized like a pull. It is only available when the
// gateway can also serve snapshots.
func (s *Service) Snapshot(ctx context.Context, identity string, req SnapshotRequest) (*SnapshotResponse, error) {
	defer metrics.Timer("snapshot")()

	if err := s.authorize(ctx, identity, req.WorkspaceID, ActionPull); err != nil {
		return nil, err
	}
	if err := s.throttle(identity, ActionPull, 1); err != nil {
		return nil, err
	}
	if s.snapshots == nil {
		return nil, ErrSnapshotUnsupported
	}
	return s.snapshots.Snapshot(ctx, req)
}

func (s *Service) authorize(ctx context.Context, identity, workspaceID string, action Action) error {
	if identity == "" {
		return ErrUnauthenticated
	}
	if workspaceID == "" {
		return invalid("workspace_id", "is required")
	}
	ok, err := s.access.CanAccess(ctx, identity, workspaceID, action)
	if err != nil {
		return Transient("authorize", fmt.Errorf("capability check: %w", err))
	}
	if !ok {
		s.log.Warn("access denied", "identity", identity, "workspace_id", workspaceID, "action", action)
		return ErrForbidden
	}
	return nil
}

func (s *Service) throttle(identity string, action Action, cost int) error {
	if cost < 1 {
		cost = 1
	}
	allowed, wait := s.limiter.AllowN(identity, cost)
	if allowed {
		return nil
	}
	metrics.RateLimited(string(action))
	s.log.Debug("rate limited", "identity", identity, "action", action, "retry_after", wait)
	return &RateLimitError{Identity: identity, RetryAfter: wait}
}
