package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"or3sync/internal/domain/access"
)

type MemberRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewMemberRepository(pool *pgxpool.Pool, log *slog.Logger) *MemberRepository {
	return &MemberRepository{
		pool: pool,
		log:  log,
	}
}

func (r *MemberRepository) CreateWorkspace(ctx context.Context, ws access.Workspace, owner access.Member) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO workspaces (id, name, owner_id, created_at) VALUES ($1, $2, $3, $4)`,
			ws.ID, ws.Name, ws.OwnerID, ws.CreatedAt)
		if err != nil {
			return mapMemberErr(err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO workspace_members (workspace_id, user_id, role, created_at) VALUES ($1, $2, $3, $4)`,
			owner.WorkspaceID, owner.UserID, string(owner.Role), owner.CreatedAt)
		return mapMemberErr(err)
	})
}

func (r *MemberRepository) Role(ctx context.Context, workspaceID, userID string) (access.Role, error) {
	var role string
	err := r.pool.QueryRow(ctx,
		`SELECT role FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`,
		workspaceID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", access.ErrNotMember
	}
	if err != nil {
		return "", fmt.Errorf("load role: %w", err)
	}
	return access.Role(role), nil
}

func (r *MemberRepository) PutMember(ctx context.Context, m access.Member) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO workspace_members (workspace_id, user_id, role, created_at)
         VALUES ($1, $2, $3, $4)
         ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		m.WorkspaceID, m.UserID, string(m.Role), m.CreatedAt)
	return mapMemberErr(err)
}

func (r *MemberRepository) Memberships(ctx context.Context, userID string) ([]access.Membership, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT w.id, w.name, w.owner_id, w.created_at, m.role
         FROM workspace_members m
         JOIN workspaces w ON w.id = m.workspace_id
         WHERE m.user_id = $1
         ORDER BY w.created_at, w.id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	out := []access.Membership{}
	for rows.Next() {
		var (
			m    access.Membership
			role string
		)
		if err := rows.Scan(&m.ID, &m.Name, &m.OwnerID, &m.CreatedAt, &role); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		m.Role = access.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func mapMemberErr(err error) error {
	if err == nil {
		return nil
	}
	code, constraint := pgCode(err)
	switch {
	case code == codeUniqueViolation:
		return access.ErrWorkspaceExists
	case code == codeForeignKeyViolation && constraint == "workspace_members_workspace_id_fkey":
		return fmt.Errorf("%w: unknown workspace", access.ErrInvalidInput)
	case code == codeForeignKeyViolation:
		return access.ErrUnknownUser
	}
	return err
}
