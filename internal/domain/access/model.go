// Package access owns workspaces and who may do what inside them.
package access

import (
	"time"

	syncdomain "or3sync/internal/domain/sync"
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleWriter Role = "writer"
	RoleReader Role = "reader"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleWriter, RoleReader:
		return true
	}
	return false
}

// Can reports whether the role grants action. Readers pull and
// acknowledge, writers also push, owners also collect garbage.
func (r Role) Can(action syncdomain.Action) bool {
	switch action {
	case syncdomain.ActionPull, syncdomain.ActionCursor:
		return r.Valid()
	case syncdomain.ActionPush:
		return r == RoleOwner || r == RoleWriter
	case syncdomain.ActionGC:
		return r == RoleOwner
	}
	return false
}

type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Member struct {
	WorkspaceID string    `json:"workspace_id"`
	UserID      string    `json:"user_id"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// Membership is a workspace as seen by one of its members.
type Membership struct {
	Workspace
	Role Role `json:"role"`
}
