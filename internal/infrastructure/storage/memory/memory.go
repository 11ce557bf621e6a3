// Package memory is a process-local backend. State is lost on restart; it
// backs tests and single-node development.
package memory

import (
	"golang.org/x/exp/slog"

	"or3sync/internal/domain/access"
	"or3sync/internal/domain/session"
	syncdomain "or3sync/internal/domain/sync"
	"or3sync/internal/domain/user"
)

type Backend struct {
	sync     *SyncStore
	users    *UserRepository
	sessions *SessionRepository
	members  *MemberRepository
}

func New(log *slog.Logger) *Backend {
	log.Info("using in-memory backend, data will not survive a restart")
	users := NewUserRepository()
	return &Backend{
		sync:     NewSyncStore(),
		users:    users,
		sessions: NewSessionRepository(),
		members:  NewMemberRepository(users),
	}
}

func (b *Backend) SyncStore() syncdomain.Store { return b.sync }

func (b *Backend) Users() user.Repository { return b.users }

func (b *Backend) Sessions() session.Repository { return b.sessions }

func (b *Backend) Members() access.Repository { return b.members }

func (b *Backend) Close() error { return nil }
