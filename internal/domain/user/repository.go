package user

import (
	"context"
)

// Repository persists accounts. FindByLogin returns ErrNotFound for an
// unknown login and Create returns ErrLoginTaken for a duplicate one.
type Repository interface {
	Create(ctx context.Context, u User) error
	FindByLogin(ctx context.Context, login string) (User, error)
}
