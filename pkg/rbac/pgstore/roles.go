package pgstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/gatekeeper/pkg/pg"
	"github.com/dmitrymomot/gatekeeper/pkg/rbac"
)

const roleColumns = `id, name, display_name, description, parent_id, priority,
	is_system, is_active, is_default, max_users, created_at, updated_at`

func roleFields(r *rbac.Role) []any {
	return []any{
		&r.ID, &r.Name, &r.DisplayName, &r.Description, &r.ParentID, &r.Priority,
		&r.IsSystem, &r.IsActive, &r.IsDefault, &r.MaxUsers, &r.CreatedAt, &r.UpdatedAt,
	}
}

func scanRole(row pgx.Row) (*rbac.Role, error) {
	var r rbac.Role
	if err := row.Scan(roleFields(&r)...); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) CreateRole(ctx context.Context, r *rbac.Role) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO rbac_roles (`+roleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.Name, r.DisplayName, r.Description, r.ParentID, r.Priority,
		r.IsSystem, r.IsActive, r.IsDefault, r.MaxUsers, r.CreatedAt, r.UpdatedAt,
	)
	switch {
	case pg.IsDuplicateKeyError(err):
		return rbac.ErrRoleExists
	case pg.IsForeignKeyViolationError(err):
		return fmt.Errorf("%w: parent", rbac.ErrRoleNotFound)
	}
	return classify(err, nil)
}

func (s *Store) UpdateRole(ctx context.Context, r *rbac.Role) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE rbac_roles SET
			name = $2, display_name = $3, description = $4, parent_id = $5, priority = $6,
			is_active = $7, is_default = $8, max_users = $9, updated_at = $10
		WHERE id = $1`,
		r.ID, r.Name, r.DisplayName, r.Description, r.ParentID, r.Priority,
		r.IsActive, r.IsDefault, r.MaxUsers, r.UpdatedAt,
	)
	switch {
	case pg.IsDuplicateKeyError(err):
		return rbac.ErrRoleExists
	case pg.IsForeignKeyViolationError(err):
		return fmt.Errorf("%w: parent", rbac.ErrRoleNotFound)
	case err != nil:
		return classify(err, nil)
	case tag.RowsAffected() == 0:
		return rbac.ErrRoleNotFound
	}
	return nil
}

// DeleteRole relies on ON DELETE CASCADE for the role's grants, its
// bindings and inherited rows sourced from it.
func (s *Store) DeleteRole(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM rbac_roles WHERE id = $1`, id)
	if err != nil {
		return classify(err, nil)
	}
	if tag.RowsAffected() == 0 {
		return rbac.ErrRoleNotFound
	}
	return nil
}

func (s *Store) GetRole(ctx context.Context, id uuid.UUID) (*rbac.Role, error) {
	r, err := scanRole(s.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM rbac_roles WHERE id = $1`, id))
	return r, classify(err, rbac.ErrRoleNotFound)
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (*rbac.Role, error) {
	r, err := scanRole(s.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM rbac_roles WHERE name = $1`, name))
	return r, classify(err, rbac.ErrRoleNotFound)
}

func (s *Store) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	return s.listRoles(ctx, `SELECT `+roleColumns+` FROM rbac_roles ORDER BY priority DESC, name`)
}

func (s *Store) Children(ctx context.Context, id uuid.UUID) ([]rbac.Role, error) {
	return s.listRoles(ctx, `SELECT `+roleColumns+` FROM rbac_roles WHERE parent_id = $1 ORDER BY priority DESC, name`, id)
}

func (s *Store) listRoles(ctx context.Context, q string, args ...any) ([]rbac.Role, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, classify(err, nil)
	}
	defer rows.Close()

	var out []rbac.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		out = append(out, *r)
	}
	return out, classify(rows.Err(), nil)
}

// Ancestors walks parent links with a recursive CTE bounded by maxDepth.
// Each step carries the visited path; a step that lands on a visited role is
// flagged and ends the walk.
func (s *Store) Ancestors(ctx context.Context, id uuid.UUID, maxDepth int) ([]rbac.Role, error) {
	rows, err := s.db.Query(ctx, `
		WITH RECURSIVE chain AS (
			SELECT `+roleColumns+`, 0 AS depth, ARRAY[id] AS path, FALSE AS cycle
			FROM rbac_roles WHERE id = $1
			UNION ALL
			SELECT p.id, p.name, p.display_name, p.description, p.parent_id, p.priority,
				p.is_system, p.is_active, p.is_default, p.max_users, p.created_at, p.updated_at,
				c.depth + 1, c.path || p.id, p.id = ANY(c.path)
			FROM chain c
			JOIN rbac_roles p ON p.id = c.parent_id
			WHERE c.depth < $2 AND NOT c.cycle
		)
		SELECT `+roleColumns+`, cycle FROM chain ORDER BY depth`,
		id, maxDepth,
	)
	if err != nil {
		return nil, classify(err, nil)
	}
	defer rows.Close()

	var chain []rbac.Role
	for rows.Next() {
		var r rbac.Role
		var cycle bool
		if err := rows.Scan(append(roleFields(&r), &cycle)...); err != nil {
			return nil, fmt.Errorf("scan ancestor: %w", err)
		}
		if cycle {
			return nil, rbac.ErrCircularHierarchy
		}
		chain = append(chain, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, nil)
	}
	if len(chain) == 0 {
		return nil, rbac.ErrRoleNotFound
	}
	return chain, nil
}

func (s *Store) LockRole(ctx context.Context, id uuid.UUID) error {
	var got uuid.UUID
	err := s.db.QueryRow(ctx, `SELECT id FROM rbac_roles WHERE id = $1 FOR UPDATE`, id).Scan(&got)
	return classify(err, rbac.ErrRoleNotFound)
}

// hierarchyLockKey is the transaction-scoped advisory lock guarding
// parent_id changes.
const hierarchyLockKey int64 = 0x6761746568696572

func (s *Store) LockHierarchy(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, hierarchyLockKey)
	return classify(err, nil)
}
