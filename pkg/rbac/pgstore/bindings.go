package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/gatekeeper/pkg/pg"
	"github.com/dmitrymomot/gatekeeper/pkg/rbac"
)

const bindingColumns = `user_id, role_id, is_primary, expires_at, assigned_by, assigned_at, is_active, revoked_at`

func scanBinding(row pgx.Row) (*rbac.UserRole, error) {
	var ur rbac.UserRole
	err := row.Scan(&ur.UserID, &ur.RoleID, &ur.IsPrimary, &ur.ExpiresAt, &ur.AssignedBy, &ur.AssignedAt, &ur.IsActive, &ur.RevokedAt)
	if err != nil {
		return nil, err
	}
	return &ur, nil
}

func (s *Store) GetBinding(ctx context.Context, userID, roleID uuid.UUID) (*rbac.UserRole, error) {
	ur, err := scanBinding(s.db.QueryRow(ctx,
		`SELECT `+bindingColumns+` FROM rbac_user_roles WHERE user_id = $1 AND role_id = $2`,
		userID, roleID,
	))
	return ur, classify(err, rbac.ErrBindingNotFound)
}

func (s *Store) SaveBinding(ctx context.Context, ur *rbac.UserRole) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO rbac_user_roles (`+bindingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, role_id) DO UPDATE SET
			is_primary = EXCLUDED.is_primary,
			expires_at = EXCLUDED.expires_at,
			assigned_by = EXCLUDED.assigned_by,
			assigned_at = EXCLUDED.assigned_at,
			is_active = EXCLUDED.is_active,
			revoked_at = EXCLUDED.revoked_at`,
		ur.UserID, ur.RoleID, ur.IsPrimary, ur.ExpiresAt, ur.AssignedBy, ur.AssignedAt, ur.IsActive, ur.RevokedAt,
	)
	switch {
	case pg.IsForeignKeyViolationError(err):
		return rbac.ErrRoleNotFound
	case pg.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: duplicate primary role", rbac.ErrConflict)
	}
	return classify(err, nil)
}

func (s *Store) ListUserBindings(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]rbac.UserRole, error) {
	return s.listBindings(ctx, `
		SELECT `+bindingColumns+` FROM rbac_user_roles
		WHERE user_id = $1 AND (NOT $2 OR is_active)
		ORDER BY role_id`,
		userID, activeOnly,
	)
}

func (s *Store) ListRoleBindings(ctx context.Context, roleID uuid.UUID, activeOnly bool) ([]rbac.UserRole, error) {
	return s.listBindings(ctx, `
		SELECT `+bindingColumns+` FROM rbac_user_roles
		WHERE role_id = $1 AND (NOT $2 OR is_active)
		ORDER BY user_id`,
		roleID, activeOnly,
	)
}

func (s *Store) listBindings(ctx context.Context, q string, args ...any) ([]rbac.UserRole, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, classify(err, nil)
	}
	defer rows.Close()

	var out []rbac.UserRole
	for rows.Next() {
		ur, err := scanBinding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user role: %w", err)
		}
		out = append(out, *ur)
	}
	return out, classify(rows.Err(), nil)
}

func (s *Store) CountActiveBindings(ctx context.Context, roleID uuid.UUID, now time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM rbac_user_roles
		WHERE role_id = $1 AND is_active AND (expires_at IS NULL OR expires_at > $2)`,
		roleID, now,
	).Scan(&n)
	return n, classify(err, nil)
}

func (s *Store) ExpireBindings(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE rbac_user_roles
		SET is_active = FALSE, is_primary = FALSE, revoked_at = $1
		WHERE is_active AND expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, classify(err, nil)
	}
	return int(tag.RowsAffected()), nil
}
