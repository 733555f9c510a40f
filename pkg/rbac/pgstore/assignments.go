package pgstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/gatekeeper/pkg/pg"
	"github.com/dmitrymomot/gatekeeper/pkg/rbac"
)

const assignmentColumns = `id, role_id, permission_id, granted_by, granted_at, conditions, expires_at,
	is_active, is_inherited, inherited_from_role_id, revoked_by, revoked_at, revocation_reason`

func scanAssignment(row pgx.Row) (*rbac.RolePermission, error) {
	var rp rbac.RolePermission
	err := row.Scan(
		&rp.ID, &rp.RoleID, &rp.PermissionID, &rp.GrantedBy, &rp.GrantedAt, &rp.Conditions, &rp.ExpiresAt,
		&rp.IsActive, &rp.IsInherited, &rp.InheritedFromRoleID, &rp.RevokedBy, &rp.RevokedAt, &rp.RevocationReason,
	)
	if err != nil {
		return nil, err
	}
	return &rp, nil
}

// assignmentError maps constraint violations of rbac_role_permissions.
func assignmentError(err error) error {
	switch {
	case pg.IsDuplicateKeyError(err):
		return rbac.ErrAlreadyAssigned
	case pg.IsForeignKeyViolationError(err):
		if strings.Contains(pg.ConstraintName(err), "permission") {
			return rbac.ErrPermissionNotFound
		}
		return rbac.ErrRoleNotFound
	}
	return classify(err, nil)
}

func (s *Store) InsertAssignment(ctx context.Context, rp *rbac.RolePermission) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO rbac_role_permissions (`+assignmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rp.ID, rp.RoleID, rp.PermissionID, rp.GrantedBy, rp.GrantedAt, rp.Conditions, rp.ExpiresAt,
		rp.IsActive, rp.IsInherited, rp.InheritedFromRoleID, rp.RevokedBy, rp.RevokedAt, rp.RevocationReason,
	)
	return assignmentError(err)
}

func (s *Store) UpdateAssignment(ctx context.Context, rp *rbac.RolePermission) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE rbac_role_permissions SET
			granted_by = $2, granted_at = $3, conditions = $4, expires_at = $5, is_active = $6,
			revoked_by = $7, revoked_at = $8, revocation_reason = $9
		WHERE id = $1`,
		rp.ID, rp.GrantedBy, rp.GrantedAt, rp.Conditions, rp.ExpiresAt, rp.IsActive,
		rp.RevokedBy, rp.RevokedAt, rp.RevocationReason,
	)
	if err != nil {
		return assignmentError(err)
	}
	if tag.RowsAffected() == 0 {
		return rbac.ErrAssignmentNotFound
	}
	return nil
}

func (s *Store) DeleteAssignment(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM rbac_role_permissions WHERE id = $1`, id)
	if err != nil {
		return classify(err, nil)
	}
	if tag.RowsAffected() == 0 {
		return rbac.ErrAssignmentNotFound
	}
	return nil
}

func (s *Store) GetDirectAssignment(ctx context.Context, roleID, permissionID uuid.UUID) (*rbac.RolePermission, error) {
	rp, err := scanAssignment(s.db.QueryRow(ctx, `
		SELECT `+assignmentColumns+` FROM rbac_role_permissions
		WHERE role_id = $1 AND permission_id = $2 AND NOT is_inherited`,
		roleID, permissionID,
	))
	return rp, classify(err, rbac.ErrAssignmentNotFound)
}

func (s *Store) GetActiveAssignment(ctx context.Context, roleID, permissionID uuid.UUID) (*rbac.RolePermission, error) {
	rp, err := scanAssignment(s.db.QueryRow(ctx, `
		SELECT `+assignmentColumns+` FROM rbac_role_permissions
		WHERE role_id = $1 AND permission_id = $2 AND is_active`,
		roleID, permissionID,
	))
	return rp, classify(err, rbac.ErrAssignmentNotFound)
}

func (s *Store) ListAssignments(ctx context.Context, roleIDs []uuid.UUID, f rbac.AssignmentFilter) ([]rbac.RolePermission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+assignmentColumns+` FROM rbac_role_permissions
		WHERE role_id = ANY($1)
			AND (NOT $2 OR is_active)
			AND (NOT $3 OR NOT is_inherited)
			AND (NOT $4 OR is_inherited)
		ORDER BY role_id, permission_id, id`,
		roleIDs, f.ActiveOnly, f.DirectOnly, f.InheritedOnly,
	)
	if err != nil {
		return nil, classify(err, nil)
	}
	defer rows.Close()

	var out []rbac.RolePermission
	for rows.Next() {
		rp, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, *rp)
	}
	return out, classify(rows.Err(), nil)
}

func (s *Store) DeleteInheritedAssignments(ctx context.Context, roleID uuid.UUID) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM rbac_role_permissions WHERE role_id = $1 AND is_inherited`, roleID)
	if err != nil {
		return 0, classify(err, nil)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) ExpireAssignments(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE rbac_role_permissions
		SET is_active = FALSE, revoked_at = $1, revocation_reason = $2
		WHERE is_active AND expires_at <= $1`,
		now, rbac.ReasonExpired,
	)
	if err != nil {
		return 0, classify(err, nil)
	}
	return int(tag.RowsAffected()), nil
}
