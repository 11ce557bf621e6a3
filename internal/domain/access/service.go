package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	syncdomain "or3sync/internal/domain/sync"
)

const maxNameLen = 128

type Servicer interface {
	CanAccess(ctx context.Context, identity, workspaceID string, action syncdomain.Action) (bool, error)
	CreateWorkspace(ctx context.Context, ownerID, name string) (Workspace, error)
	AddMember(ctx context.Context, actorID, workspaceID, userID string, role Role) error
	Workspaces(ctx context.Context, userID string) ([]Membership, error)
}

// Service is the membership-backed capability checker.
type Service struct {
	repo Repository
	log  *slog.Logger
	now  func() time.Time
}

var _ syncdomain.AccessChecker = (*Service)(nil)

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With("component", "access_service"),
		now:  time.Now,
	}
}

func (s *Service) CanAccess(ctx context.Context, identity, workspaceID string, action syncdomain.Action) (bool, error) {
	role, err := s.repo.Role(ctx, workspaceID, identity)
	if errors.Is(err, ErrNotMember) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load role: %w", err)
	}
	return role.Can(action), nil
}

func (s *Service) CreateWorkspace(ctx context.Context, ownerID, name string) (Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLen {
		return Workspace{}, fmt.Errorf("%w: name must be 1..%d characters", ErrInvalidInput, maxNameLen)
	}

	now := s.now().UTC()
	ws := Workspace{
		ID:        uuid.NewString(),
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: now,
	}
	owner := Member{WorkspaceID: ws.ID, UserID: ownerID, Role: RoleOwner, CreatedAt: now}
	if err := s.repo.CreateWorkspace(ctx, ws, owner); err != nil {
		return Workspace{}, fmt.Errorf("create workspace: %w", err)
	}

	s.log.Info("workspace created", "workspace_id", ws.ID, "owner_id", ownerID)
	return ws, nil
}

// AddMember grants role to userID. Only the owner may do it, and
// ownership itself is not transferable this way.
func (s *Service) AddMember(ctx context.Context, actorID, workspaceID, userID string, role Role) error {
	if !role.Valid() || role == RoleOwner {
		return fmt.Errorf("%w: role %q", ErrInvalidInput, role)
	}
	if userID == "" || userID == actorID {
		return fmt.Errorf("%w: user_id", ErrInvalidInput)
	}

	actorRole, err := s.repo.Role(ctx, workspaceID, actorID)
	if errors.Is(err, ErrNotMember) {
		return ErrNotMember
	}
	if err != nil {
		return fmt.Errorf("load role: %w", err)
	}
	if actorRole != RoleOwner {
		return ErrNotOwner
	}

	err = s.repo.PutMember(ctx, Member{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Role:        role,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("put member: %w", err)
	}

	s.log.Info("member added", "workspace_id", workspaceID, "user_id", userID, "role", role)
	return nil
}

func (s *Service) Workspaces(ctx context.Context, userID string) ([]Membership, error) {
	return s.repo.Memberships(ctx, userID)
}
