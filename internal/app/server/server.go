// Package server wires storage, domain services, the GC scheduler and the
// HTTP API into one runnable process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"

	"or3sync/internal/app/server/api"
	"or3sync/internal/app/server/config"
	"or3sync/internal/domain/access"
	"or3sync/internal/domain/gc"
	"or3sync/internal/domain/ratelimit"
	"or3sync/internal/domain/session"
	syncdomain "or3sync/internal/domain/sync"
	"or3sync/internal/domain/user"
	"or3sync/internal/infrastructure/storage"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg       *config.Config
	backend   storage.Backend
	scheduler *gc.Scheduler
	handler   http.Handler
	log       *slog.Logger
}

// New opens the configured backend through registry and builds every
// component on top of it.
func New(ctx context.Context, cfg *config.Config, registry *storage.Registry, log *slog.Logger) (*Server, error) {
	backend, err := registry.Open(ctx, storage.Config{
		Driver: cfg.Storage.Backend,
		DSN:    cfg.Storage.DatabaseURI,
	}, log)
	if err != nil {
		return nil, err
	}

	engine := syncdomain.NewEngine(backend.SyncStore(), cfg.Sync, log)
	limiter := ratelimit.New(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst, cfg.RateLimit.IdleTTL, log)

	sessions := session.NewService(backend.Sessions(), cfg.Session.TTL, log)
	users := user.NewService(backend.Users(), user.NewPasswordValidator(), log)
	members := access.NewService(backend.Members(), log)
	syncService := syncdomain.NewService(engine, members, limiter, log)

	scheduler := gc.NewScheduler(engine, backend.SyncStore(), backend.Sessions(), limiter, cfg.GC, log)

	handler := api.New(api.Services{
		Backend:   cfg.Storage.Backend,
		Users:     users,
		Sessions:  sessions,
		Access:    members,
		Sync:      syncService,
		Collector: engine,
	}, api.Options{
		AdminToken:     cfg.Admin.Token,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxPushBytes:   cfg.PushBodyLimit(),
	}, log)

	return &Server{
		cfg:       cfg,
		backend:   backend,
		scheduler: scheduler,
		handler:   handler,
		log:       log.With("component", "server"),
	}, nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Scheduler() *gc.Scheduler {
	return s.scheduler
}

// Run serves HTTP and runs the GC scheduler until ctx is cancelled, then
// shuts both down and closes the backend.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.RunAddress,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("http server started", "address", srv.Addr, "backend", s.cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.scheduler.Run(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.log.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if cerr := s.backend.Close(); cerr != nil {
		s.log.Error("close backend", "error", cerr)
	}
	return err
}

// Close releases the backend without running the server.
func (s *Server) Close() error {
	return s.backend.Close()
}
