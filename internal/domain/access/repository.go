package access

import (
	"context"
	"errors"
)

var (
	ErrNotMember       = errors.New("not a workspace member")
	ErrNotOwner        = errors.New("only the owner may manage members")
	ErrInvalidInput    = errors.New("invalid input")
	ErrWorkspaceExists = errors.New("workspace already exists")
	ErrUnknownUser     = errors.New("unknown user")
)

type Repository interface {
	// CreateWorkspace stores ws and its owner membership together.
	CreateWorkspace(ctx context.Context, ws Workspace, owner Member) error
	// Role returns ErrNotMember when userID has no membership.
	Role(ctx context.Context, workspaceID, userID string) (Role, error)
	// PutMember inserts or replaces a membership.
	PutMember(ctx context.Context, m Member) error
	Memberships(ctx context.Context, userID string) ([]Membership, error)
}
