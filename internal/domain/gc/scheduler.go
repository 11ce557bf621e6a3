// Package gc runs garbage collection and housekeeping on a timer, outside
// of any request path.
package gc

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"

	syncdomain "or3sync/internal/domain/sync"
)

// Workspaces lists workspaces for fan-out and reaps dead device cursors.
type Workspaces interface {
	Workspaces(ctx context.Context, after string, limit int) ([]string, error)
	ReapCursors(ctx context.Context, staleBefore time.Time, limit int) (int, error)
}

// SessionPurger deletes expired sessions in bounded batches.
type SessionPurger interface {
	Purge(ctx context.Context, before time.Time, limit int) (int, error)
}

// Cleaner evicts idle rate limiter state, at most limit entries per call.
type Cleaner interface {
	Cleanup(limit int) int
}

type Config struct {
	Interval            time.Duration
	Retention           time.Duration
	BatchSize           int
	MaxWorkspaces       int
	Concurrency         int
	CursorReapHorizon   time.Duration
	CursorReapBatch     int
	SessionPurgeBatch   int
	LimiterCleanupBatch int
}

func DefaultConfig() Config {
	return Config{
		Interval:            5 * time.Minute,
		Retention:           7 * 24 * time.Hour,
		BatchSize:           500,
		MaxWorkspaces:       50,
		Concurrency:         4,
		CursorReapHorizon:   90 * 24 * time.Hour,
		CursorReapBatch:     1000,
		SessionPurgeBatch:   1000,
		LimiterCleanupBatch: 1000,
	}
}

// Report sums up one scheduler run.
type Report struct {
	Workspaces     int
	Deleted        int
	Failed         int
	Pending        int
	CursorsReaped  int
	SessionsPurged int
	BucketsEvicted int
}

type gcFunc func(ctx context.Context, req syncdomain.GCRequest) (*syncdomain.GCResult, error)

type resumeKey struct {
	workspace string
	store     string
}

// Scheduler walks workspaces in id order, at most MaxWorkspaces per run,
// wrapping around once the end is reached. Collections that hit their
// continuation ceiling resume from the stored cursor on the next run.
type Scheduler struct {
	gateway  syncdomain.Gateway
	store    Workspaces
	sessions SessionPurger
	limiter  Cleaner
	cfg      Config
	log      *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	pos    string
	resume map[resumeKey]uint64
}

// NewScheduler creates a scheduler. sessions and limiter are optional.
func NewScheduler(gateway syncdomain.Gateway, store Workspaces, sessions SessionPurger, limiter Cleaner, cfg Config, log *slog.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Retention < 0 {
		cfg.Retention = def.Retention
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxWorkspaces <= 0 {
		cfg.MaxWorkspaces = def.MaxWorkspaces
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.CursorReapBatch <= 0 {
		cfg.CursorReapBatch = def.CursorReapBatch
	}
	if cfg.SessionPurgeBatch <= 0 {
		cfg.SessionPurgeBatch = def.SessionPurgeBatch
	}
	if cfg.LimiterCleanupBatch <= 0 {
		cfg.LimiterCleanupBatch = def.LimiterCleanupBatch
	}

	return &Scheduler{
		gateway:  gateway,
		store:    store,
		sessions: sessions,
		limiter:  limiter,
		cfg:      cfg,
		log:      log.With("component", "gc_scheduler"),
		now:      time.Now,
		resume:   make(map[resumeKey]uint64),
	}
}

// WithNow swaps the time source. Used by tests.
func (s *Scheduler) WithNow(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("gc scheduler started", "interval", s.cfg.Interval, "max_workspaces", s.cfg.MaxWorkspaces)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("gc scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("gc run failed", "error", err)
			}
		}
	}
}

// RunOnce performs one bounded round of collection and housekeeping.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	var report Report

	ids, err := s.nextWorkspaces(ctx)
	if err != nil {
		return report, err
	}
	report.Workspaces = len(ids)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, id := range ids {
		g.Go(func() error {
			deleted, pending, err := s.collectWorkspace(gctx, id)

			mu.Lock()
			defer mu.Unlock()
			report.Deleted += deleted
			report.Pending += pending
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				report.Failed++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	s.housekeep(ctx, &report)

	s.log.Info("gc run finished",
		"workspaces", report.Workspaces,
		"deleted", report.Deleted,
		"failed", report.Failed,
		"pending", report.Pending,
		"cursors_reaped", report.CursorsReaped,
	)
	return report, nil
}

// nextWorkspaces returns up to MaxWorkspaces ids after the stored position,
// continuing from the start of the keyspace when the end is reached.
func (s *Scheduler) nextWorkspaces(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	pos := s.pos
	s.mu.Unlock()

	limit := s.cfg.MaxWorkspaces
	ids, err := s.store.Workspaces(ctx, pos, limit)
	if err != nil {
		return nil, err
	}
	if len(ids) < limit && pos != "" {
		head, err := s.store.Workspaces(ctx, "", limit-len(ids))
		if err != nil {
			return nil, err
		}
		for _, id := range head {
			if id > pos {
				break
			}
			ids = append(ids, id)
		}
	}

	s.mu.Lock()
	if len(ids) == 0 {
		s.pos = ""
	} else {
		s.pos = ids[len(ids)-1]
	}
	s.mu.Unlock()

	return ids, nil
}

// collectWorkspace runs tombstone GC, then change log GC. pending counts
// the stores that stopped at their continuation ceiling.
func (s *Scheduler) collectWorkspace(ctx context.Context, workspaceID string) (deleted, pending int, err error) {
	for _, step := range []struct {
		store string
		run   gcFunc
	}{
		{"tombstones", s.gateway.GCTombstones},
		{"change_log", s.gateway.GCChangeLog},
	} {
		n, more, err := s.collect(ctx, workspaceID, step.store, step.run)
		deleted += n
		if more {
			pending++
		}
		if err != nil {
			s.log.Error("gc failed",
				"workspace_id", workspaceID,
				"store", step.store,
				"error", err,
			)
			return deleted, pending, err
		}
	}
	return deleted, pending, nil
}

func (s *Scheduler) collect(ctx context.Context, workspaceID, store string, run gcFunc) (int, bool, error) {
	key := resumeKey{workspace: workspaceID, store: store}

	req := syncdomain.GCRequest{
		WorkspaceID:      workspaceID,
		RetentionSeconds: int64(s.cfg.Retention / time.Second),
		BatchSize:        s.cfg.BatchSize,
	}
	s.mu.Lock()
	if c, ok := s.resume[key]; ok {
		req.ContinuationCursor = &c
	}
	s.mu.Unlock()

	res, err := run(ctx, req)
	if err != nil {
		return 0, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if res.Done || res.NextCursor == nil {
		delete(s.resume, key)
		return res.DeletedCount, false, nil
	}
	s.resume[key] = *res.NextCursor
	return res.DeletedCount, true, nil
}

// housekeep reaps dead cursors, expired sessions and idle limiter buckets,
// one bounded batch each. Failures are logged and do not fail the run.
func (s *Scheduler) housekeep(ctx context.Context, report *Report) {
	now := s.now().UTC()

	if s.cfg.CursorReapHorizon > 0 {
		n, err := s.store.ReapCursors(ctx, now.Add(-s.cfg.CursorReapHorizon), s.cfg.CursorReapBatch)
		if err != nil {
			s.log.Error("cursor reap failed", "error", err)
		}
		report.CursorsReaped = n
	}

	if s.sessions != nil {
		n, err := s.sessions.Purge(ctx, now, s.cfg.SessionPurgeBatch)
		if err != nil {
			s.log.Error("session purge failed", "error", err)
		}
		report.SessionsPurged = n
	}

	if s.limiter != nil {
		report.BucketsEvicted = s.limiter.Cleanup(s.cfg.LimiterCleanupBatch)
	}
}
