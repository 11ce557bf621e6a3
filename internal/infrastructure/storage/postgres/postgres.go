package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"or3sync/internal/domain/access"
	"or3sync/internal/domain/session"
	syncdomain "or3sync/internal/domain/sync"
	"or3sync/internal/domain/user"
	"or3sync/internal/infrastructure/migration"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

type Storage struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// Open migrates the schema at dsn and returns a pooled backend.
func Open(ctx context.Context, dsn string, log *slog.Logger) (*Storage, error) {
	if dsn == "" {
		return nil, errors.New("postgres: empty database uri")
	}
	if err := migration.NewMigration(migration.PostgresEngine(dsn), log).Up(); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Storage{pool: pool, log: log.With("component", "postgres")}, nil
}

func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

func (s *Storage) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Storage) SyncStore() syncdomain.Store {
	return NewSyncStore(s.pool, s.log)
}

func (s *Storage) Users() user.Repository {
	return NewUserRepository(s.pool, s.log)
}

func (s *Storage) Sessions() session.Repository {
	return NewSessionRepository(s.pool, s.log)
}

func (s *Storage) Members() access.Repository {
	return NewMemberRepository(s.pool, s.log)
}

func pgCode(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}
