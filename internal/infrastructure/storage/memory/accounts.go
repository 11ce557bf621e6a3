package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"or3sync/internal/domain/access"
	"or3sync/internal/domain/session"
	"or3sync/internal/domain/user"
)

type UserRepository struct {
	mu      sync.RWMutex
	byLogin map[string]user.User
	ids     map[string]struct{}
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		byLogin: make(map[string]user.User),
		ids:     make(map[string]struct{}),
	}
}

func (r *UserRepository) Create(_ context.Context, u user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byLogin[u.Login]; ok {
		return user.ErrLoginTaken
	}
	r.byLogin[u.Login] = u
	r.ids[u.ID] = struct{}{}
	return nil
}

func (r *UserRepository) FindByLogin(_ context.Context, login string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byLogin[login]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

func (r *UserRepository) exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ids[id]
	return ok
}

type SessionRepository struct {
	mu       sync.Mutex
	sessions map[string]session.Session
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]session.Session)}
}

func (r *SessionRepository) Create(_ context.Context, s session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.TokenHash] = s
	return nil
}

func (r *SessionRepository) Lookup(_ context.Context, tokenHash string, now time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tokenHash]
	if !ok || !s.ExpiresAt.After(now) {
		return "", session.ErrInvalidSession
	}
	return s.UserID, nil
}

func (r *SessionRepository) Purge(_ context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for hash, s := range r.sessions {
		if n >= limit {
			break
		}
		if s.ExpiresAt.Before(before) {
			delete(r.sessions, hash)
			n++
		}
	}
	return n, nil
}

type MemberRepository struct {
	mu         sync.RWMutex
	users      *UserRepository
	workspaces map[string]access.Workspace
	members    map[string]map[string]access.Member
}

func NewMemberRepository(users *UserRepository) *MemberRepository {
	return &MemberRepository{
		users:      users,
		workspaces: make(map[string]access.Workspace),
		members:    make(map[string]map[string]access.Member),
	}
}

func (r *MemberRepository) CreateWorkspace(_ context.Context, ws access.Workspace, owner access.Member) error {
	if !r.users.exists(owner.UserID) {
		return access.ErrUnknownUser
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workspaces[ws.ID]; ok {
		return access.ErrWorkspaceExists
	}
	r.workspaces[ws.ID] = ws
	r.members[ws.ID] = map[string]access.Member{owner.UserID: owner}
	return nil
}

func (r *MemberRepository) Role(_ context.Context, workspaceID, userID string) (access.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[workspaceID][userID]
	if !ok {
		return "", access.ErrNotMember
	}
	return m.Role, nil
}

func (r *MemberRepository) PutMember(_ context.Context, m access.Member) error {
	if !r.users.exists(m.UserID) {
		return access.ErrUnknownUser
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.members[m.WorkspaceID]
	if !ok {
		return fmt.Errorf("%w: unknown workspace %s", access.ErrInvalidInput, m.WorkspaceID)
	}
	members[m.UserID] = m
	return nil
}

func (r *MemberRepository) Memberships(_ context.Context, userID string) ([]access.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []access.Membership{}
	for wsID, members := range r.members {
		if m, ok := members[userID]; ok {
			out = append(out, access.Membership{Workspace: r.workspaces[wsID], Role: m.Role})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt) ||
			(out[i].CreatedAt.Equal(out[j].CreatedAt) && out[i].ID < out[j].ID)
	})
	return out, nil
}
