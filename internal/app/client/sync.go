package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/exp/slog"

	syncdomain "or3sync/internal/domain/sync"
	"or3sync/internal/hlc"
)

// Transport is the part of the server API the sync loop needs.
type Transport interface {
	Push(ctx context.Context, req syncdomain.PushRequest) (*syncdomain.PushResponse, error)
	Pull(ctx context.Context, req syncdomain.PullRequest) (*syncdomain.PullResponse, error)
	UpdateCursor(ctx context.Context, req syncdomain.CursorRequest) error
	Snapshot(ctx context.Context, req syncdomain.SnapshotRequest) (*syncdomain.SnapshotResponse, error)
}

type SyncConfig struct {
	Interval   time.Duration
	PushBatch  int
	PageSize   int
	MaxRetries uint64
	RetryBase  time.Duration
	RetryCap   time.Duration
}

func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Interval:   30 * time.Second,
		PushBatch:  100,
		PageSize:   500,
		MaxRetries: 5,
		RetryBase:  200 * time.Millisecond,
		RetryCap:   10 * time.Second,
	}
}

// SyncService pushes the outbox and pulls remote changes for one device.
type SyncService struct {
	store     *Store
	transport Transport
	clock     *hlc.Clock
	deviceID  string
	cfg       SyncConfig
	log       *slog.Logger

	// one round at a time per device
	mu       sync.Mutex
	lastSync time.Time
}

func NewSyncService(store *Store, transport Transport, clock *hlc.Clock, deviceID string, cfg SyncConfig, log *slog.Logger) *SyncService {
	def := DefaultSyncConfig()
	if cfg.PushBatch <= 0 {
		cfg.PushBatch = def.PushBatch
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = def.RetryCap
	}
	return &SyncService{
		store:     store,
		transport: transport,
		clock:     clock,
		deviceID:  deviceID,
		cfg:       cfg,
		log:       log.With("component", "sync", "device_id", deviceID),
	}
}

// Sync runs one round for a workspace: push everything pending, then
// pull until caught up and acknowledge the new cursor.
func (s *SyncService) Sync(ctx context.Context, workspaceID string) (*SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	res := &SyncResult{}

	if err := s.push(ctx, workspaceID, res); err != nil {
		return res, fmt.Errorf("push: %w", err)
	}
	if err := s.pull(ctx, workspaceID, res); err != nil {
		return res, fmt.Errorf("pull: %w", err)
	}

	res.Duration = time.Since(start)
	s.lastSync = time.Now()
	s.log.Info("sync finished",
		"workspace_id", workspaceID,
		"pushed", res.Pushed,
		"duplicates", res.Duplicates,
		"rejected", res.Rejected,
		"pulled", res.Pulled,
		"cursor", res.Cursor,
		"duration", res.Duration)
	return res, nil
}

// StartAutoSync repeats Sync every Interval until ctx is done.
func (s *SyncService) StartAutoSync(ctx context.Context, workspaceID string) {
	if s.cfg.Interval <= 0 {
		s.log.Info("auto sync disabled")
		return
	}

	s.log.Info("auto sync started", "interval", s.cfg.Interval, "workspace_id", workspaceID)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("auto sync stopped")
			return
		case <-ticker.C:
			if _, err := s.Sync(ctx, workspaceID); err != nil {
				s.log.Error("auto sync failed", "error", err)
			}
		}
	}
}

func (s *SyncService) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

func (s *SyncService) push(ctx context.Context, workspaceID string, res *SyncResult) error {
	size := s.cfg.PushBatch
	for {
		batch, err := s.store.Pending(ctx, workspaceID, size)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		req := syncdomain.PushRequest{
			WorkspaceID: workspaceID,
			DeviceID:    s.deviceID,
			Ops:         make([]syncdomain.PushOperation, 0, len(batch)),
		}
		for _, e := range batch {
			req.Ops = append(req.Ops, e.PushOperation())
		}

		// The same op ids go out on every attempt, so a retry after a
		// lost response settles as duplicates.
		var resp *syncdomain.PushResponse
		err = s.withRetry(ctx, func(ctx context.Context) error {
			var err error
			resp, err = s.transport.Push(ctx, req)
			return err
		})
		if tooLarge(err) {
			if size > 1 {
				size /= 2
				s.log.Warn("push body too large, shrinking batch", "batch", size)
				continue
			}
			// A single op the server will never accept must not block the outbox.
			err = s.store.Acknowledge(ctx, []syncdomain.PushResult{{
				OpID:   batch[0].OpID,
				Status: syncdomain.StatusRejected,
				Error:  "request body too large for the server",
			}})
			if err != nil {
				return err
			}
			res.Rejected++
			s.log.Warn("operation rejected", "op_id", batch[0].OpID, "error", "request body too large")
			continue
		}
		if err != nil {
			return err
		}
		if len(resp.Results) == 0 {
			return nil
		}

		if err := s.store.Acknowledge(ctx, resp.Results); err != nil {
			return err
		}
		for _, r := range resp.Results {
			switch r.Status {
			case syncdomain.StatusApplied:
				res.Pushed++
			case syncdomain.StatusDuplicate:
				res.Duplicates++
			case syncdomain.StatusRejected:
				res.Rejected++
				s.log.Warn("operation rejected", "op_id", r.OpID, "error", r.Error)
			}
			if r.Conflict {
				res.Conflicts++
			}
		}

		if len(batch) < size {
			return nil
		}
	}
}

func (s *SyncService) pull(ctx context.Context, workspaceID string, res *SyncResult) error {
	cursor, err := s.store.Cursor(ctx, workspaceID)
	if err != nil {
		return err
	}
	acked := cursor

	for {
		req := syncdomain.PullRequest{
			WorkspaceID: workspaceID,
			DeviceID:    s.deviceID,
			Cursor:      cursor,
			Limit:       s.cfg.PageSize,
		}
		var page *syncdomain.PullResponse
		err := s.withRetry(ctx, func(ctx context.Context) error {
			var err error
			page, err = s.transport.Pull(ctx, req)
			return err
		})
		if IsResync(err) && !res.Resynced {
			res.Resynced = true
			if cursor, err = s.bootstrap(ctx, workspaceID, res); err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			acked = 0
			continue
		}
		if err != nil {
			return err
		}

		s.verify(page.Entries)
		s.observe(entryClocks(page.Entries))
		applied, err := s.store.ApplyPage(ctx, workspaceID, page.Entries, page.NextCursor)
		if err != nil {
			return err
		}
		res.Pulled += len(page.Entries)
		res.Applied += applied
		cursor = page.NextCursor

		if !page.HasMore {
			break
		}
	}

	res.Cursor = cursor
	if cursor == acked && !res.Resynced {
		return nil
	}
	return s.ack(ctx, workspaceID, cursor)
}

// bootstrap rebuilds the replica from a snapshot after the server has
// collected the log below the local cursor. It returns the version to
// pull from next.
func (s *SyncService) bootstrap(ctx context.Context, workspaceID string, res *SyncResult) (uint64, error) {
	s.log.Warn("cursor is behind the server log, rebuilding replica", "workspace_id", workspaceID)
	if err := s.store.Reset(ctx, workspaceID); err != nil {
		return 0, err
	}

	req := syncdomain.SnapshotRequest{WorkspaceID: workspaceID, DeviceID: s.deviceID, Limit: s.cfg.PageSize}
	for {
		var page *syncdomain.SnapshotResponse
		err := s.withRetry(ctx, func(ctx context.Context) error {
			var err error
			page, err = s.transport.Snapshot(ctx, req)
			return err
		})
		if err != nil {
			return 0, err
		}

		clocks := make([]hlc.Timestamp, 0, len(page.Records))
		for _, r := range page.Records {
			clocks = append(clocks, r.Clock)
		}
		s.observe(clocks)

		applied, err := s.store.ApplySnapshot(ctx, workspaceID, page.Records, page.AsOf, !page.HasMore)
		if err != nil {
			return 0, err
		}
		res.Pulled += len(page.Records)
		res.Applied += applied

		if !page.HasMore || page.Next == nil {
			return page.AsOf, nil
		}
		req.AsOf, req.After = page.AsOf, page.Next
	}
}

func (s *SyncService) ack(ctx context.Context, workspaceID string, cursor uint64) error {
	req := syncdomain.CursorRequest{WorkspaceID: workspaceID, DeviceID: s.deviceID, Version: cursor}
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.transport.UpdateCursor(ctx, req)
	})

	var ae *APIError
	if errors.As(err, &ae) && ae.Status == http.StatusConflict {
		// The server already holds a higher cursor for this device id,
		// usually after the local database was recreated.
		s.log.Warn("cursor acknowledgement refused", "cursor", cursor, "error", ae.Message)
		return nil
	}
	return err
}

// observe moves the local clock past remote timestamps so later local
// writes win over what was just received.
func (s *SyncService) observe(clocks []hlc.Timestamp) {
	for _, ts := range clocks {
		if err := s.clock.Update(ts); err != nil {
			s.log.Warn("remote clock ignored", "clock", ts.String(), "error", err)
		}
	}
}

// verify flags entries whose payload no longer matches the digest the
// server took at push time.
func (s *SyncService) verify(entries []syncdomain.ChangeLogEntry) {
	for _, e := range entries {
		if e.Checksum != "" && !syncdomain.VerifyChecksum(e.Payload, e.Checksum) {
			s.log.Warn("payload checksum mismatch",
				"server_version", e.ServerVersion, "table", e.TableName, "pk", e.PrimaryKey)
		}
	}
}

func entryClocks(entries []syncdomain.ChangeLogEntry) []hlc.Timestamp {
	out := make([]hlc.Timestamp, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Clock)
	}
	return out
}

// withRetry retries transport failures, 429 and 5xx with capped
// exponential backoff. A Retry-After from the server is waited out first.
func (s *SyncService) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.NewExponential(s.cfg.RetryBase)
	backoff = retry.WithCappedDuration(s.cfg.RetryCap, backoff)
	backoff = retry.WithMaxRetries(s.cfg.MaxRetries, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || !retryable(err) {
			return err
		}

		var ae *APIError
		if errors.As(err, &ae) && ae.RetryAfter > 0 {
			s.log.Debug("server asked to wait", "retry_after", ae.RetryAfter)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ae.RetryAfter):
			}
		}
		return retry.RetryableError(err)
	})
}

func tooLarge(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusRequestEntityTooLarge
}

func retryable(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Retryable()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
