package pgstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/gatekeeper/pkg/pg"
	"github.com/dmitrymomot/gatekeeper/pkg/rbac"
)

const permissionColumns = `
	p.id, p.name, p.module, p.action, p.resource, p.description, p.access_level, p.scope,
	p.is_active, p.is_system, p.requires_permissions, p.created_at, p.updated_at, p.deleted_at,
	(SELECT count(*) FROM rbac_role_permissions rp WHERE rp.permission_id = p.id AND rp.is_active)`

func scanPermission(row pgx.Row) (*rbac.Permission, error) {
	var p rbac.Permission
	err := row.Scan(
		&p.ID, &p.Name, &p.Module, &p.Action, &p.Resource, &p.Description, &p.AccessLevel, &p.Scope,
		&p.IsActive, &p.IsSystem, &p.RequiresPermissions, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt,
		&p.UsageCount,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreatePermission(ctx context.Context, p *rbac.Permission) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO rbac_permissions (
			id, name, module, action, resource, description, access_level, scope,
			is_active, is_system, requires_permissions, created_at, updated_at, deleted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.Name, p.Module, p.Action, p.Resource, p.Description, p.AccessLevel, p.Scope,
		p.IsActive, p.IsSystem, nonNil(p.RequiresPermissions), p.CreatedAt, p.UpdatedAt, p.DeletedAt,
	)
	if pg.IsDuplicateKeyError(err) {
		return rbac.ErrPermissionExists
	}
	return classify(err, nil)
}

func (s *Store) UpdatePermission(ctx context.Context, p *rbac.Permission) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE rbac_permissions SET
			name = $2, module = $3, action = $4, resource = $5, description = $6,
			access_level = $7, scope = $8, is_active = $9, requires_permissions = $10,
			updated_at = $11, deleted_at = $12
		WHERE id = $1`,
		p.ID, p.Name, p.Module, p.Action, p.Resource, p.Description,
		p.AccessLevel, p.Scope, p.IsActive, nonNil(p.RequiresPermissions),
		p.UpdatedAt, p.DeletedAt,
	)
	if pg.IsDuplicateKeyError(err) {
		return rbac.ErrPermissionExists
	}
	if err != nil {
		return classify(err, nil)
	}
	if tag.RowsAffected() == 0 {
		return rbac.ErrPermissionNotFound
	}
	return nil
}

func (s *Store) GetPermission(ctx context.Context, id uuid.UUID) (*rbac.Permission, error) {
	p, err := scanPermission(s.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM rbac_permissions p WHERE p.id = $1`, id))
	return p, classify(err, rbac.ErrPermissionNotFound)
}

func (s *Store) GetPermissionByName(ctx context.Context, name string) (*rbac.Permission, error) {
	p, err := scanPermission(s.db.QueryRow(ctx, `
		SELECT `+permissionColumns+` FROM rbac_permissions p
		WHERE p.name = $1
		ORDER BY p.deleted_at IS NOT NULL, p.deleted_at DESC
		LIMIT 1`, name))
	return p, classify(err, rbac.ErrPermissionNotFound)
}

func (s *Store) GetPermissionsByIDs(ctx context.Context, ids []uuid.UUID) ([]rbac.Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.listPermissions(ctx, `SELECT `+permissionColumns+` FROM rbac_permissions p WHERE p.id = ANY($1) ORDER BY p.name`, ids)
}

func (s *Store) ListPermissions(ctx context.Context, f rbac.PermissionFilter) ([]rbac.Permission, error) {
	return s.listPermissions(ctx, `
		SELECT `+permissionColumns+` FROM rbac_permissions p
		WHERE ($1 = '' OR p.module = $1) AND (NOT $2 OR p.is_active)
		ORDER BY p.name`,
		f.Module, f.ActiveOnly,
	)
}

func (s *Store) listPermissions(ctx context.Context, q string, args ...any) ([]rbac.Permission, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, classify(err, nil)
	}
	defer rows.Close()

	var out []rbac.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		out = append(out, *p)
	}
	return out, classify(rows.Err(), nil)
}

func (s *Store) CountActiveAssignments(ctx context.Context, permissionID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM rbac_role_permissions WHERE permission_id = $1 AND is_active`,
		permissionID,
	).Scan(&n)
	return n, classify(err, nil)
}

func (s *Store) LockPermission(ctx context.Context, id uuid.UUID) error {
	var got uuid.UUID
	err := s.db.QueryRow(ctx, `SELECT id FROM rbac_permissions WHERE id = $1 FOR UPDATE`, id).Scan(&got)
	return classify(err, rbac.ErrPermissionNotFound)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
