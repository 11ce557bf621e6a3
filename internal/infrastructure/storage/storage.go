// Package storage selects the persistence backend once at startup.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/exp/slog"

	"or3sync/internal/domain/access"
	"or3sync/internal/domain/session"
	syncdomain "or3sync/internal/domain/sync"
	"or3sync/internal/domain/user"
	"or3sync/internal/infrastructure/storage/memory"
	"or3sync/internal/infrastructure/storage/postgres"
)

var ErrUnknownBackend = errors.New("unknown storage backend")

// Backend bundles every repository the server needs from one store.
type Backend interface {
	SyncStore() syncdomain.Store
	Users() user.Repository
	Sessions() session.Repository
	Members() access.Repository
	Close() error
}

type Config struct {
	Driver string
	DSN    string
}

type Factory func(ctx context.Context, cfg Config, log *slog.Logger) (Backend, error)

// Registry maps driver names to backend factories. It is an ordinary
// value: build one, register drivers, open a backend.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry knows the built-in memory and postgres drivers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register("memory", func(_ context.Context, _ Config, log *slog.Logger) (Backend, error) {
		return memory.New(log), nil
	})
	_ = r.Register("postgres", func(ctx context.Context, cfg Config, log *slog.Logger) (Backend, error) {
		return postgres.Open(ctx, cfg.DSN, log)
	})
	return r
}

func (r *Registry) Register(name string, f Factory) error {
	name = normalize(name)
	if name == "" || f == nil {
		return errors.New("storage: driver name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("storage: driver %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

func (r *Registry) Open(ctx context.Context, cfg Config, log *slog.Logger) (Backend, error) {
	name := normalize(cfg.Driver)
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %s)", ErrUnknownBackend, cfg.Driver, strings.Join(r.Names(), ", "))
	}

	b, err := f(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", name, err)
	}
	log.Info("storage backend ready", "driver", name)
	return b, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
