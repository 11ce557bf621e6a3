package session

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidSession = errors.New("invalid session")

type Session struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
}

// Repository stores hashed tokens only. Lookup returns ErrInvalidSession
// for unknown or expired tokens.
type Repository interface {
	Create(ctx context.Context, s Session) error
	Lookup(ctx context.Context, tokenHash string, now time.Time) (string, error)
	// Purge deletes at most limit sessions that expired before the given time.
	Purge(ctx context.Context, before time.Time, limit int) (int, error)
}
