package rbac

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the data-access boundary of the engine. Implementations must
// return the package's specific errors (ErrRoleNotFound, ErrRoleExists, ...)
// and wrap transport failures with ErrStorageUnavailable.
type Store interface {
	PermissionStore
	RoleStore
	AssignmentStore
	BindingStore

	// WithTx runs fn atomically. The Store passed to fn is bound to the
	// transaction; calling WithTx on it runs fn in the same transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	Stats(ctx context.Context, now time.Time) (Stats, error)
}

// PermissionStore persists the permission catalog. Names are unique among
// permissions that are not soft-deleted. Reads fill UsageCount.
type PermissionStore interface {
	CreatePermission(ctx context.Context, p *Permission) error
	UpdatePermission(ctx context.Context, p *Permission) error
	GetPermission(ctx context.Context, id uuid.UUID) (*Permission, error)
	// GetPermissionByName prefers the live permission; a name held only by
	// soft-deleted rows returns the most recently deleted one.
	GetPermissionByName(ctx context.Context, name string) (*Permission, error)
	GetPermissionsByIDs(ctx context.Context, ids []uuid.UUID) ([]Permission, error)
	ListPermissions(ctx context.Context, f PermissionFilter) ([]Permission, error)
	CountActiveAssignments(ctx context.Context, permissionID uuid.UUID) (int, error)

	// LockPermission serializes writers touching the permission until the
	// surrounding transaction ends.
	LockPermission(ctx context.Context, id uuid.UUID) error
}

// RoleStore persists roles and walks the hierarchy.
type RoleStore interface {
	CreateRole(ctx context.Context, r *Role) error
	UpdateRole(ctx context.Context, r *Role) error

	// DeleteRole removes the role together with its assignments, its
	// bindings and every inherited row sourced from it.
	DeleteRole(ctx context.Context, id uuid.UUID) error

	GetRole(ctx context.Context, id uuid.UUID) (*Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	Children(ctx context.Context, id uuid.UUID) ([]Role, error)

	// Ancestors returns the role followed by its ancestors, nearest first,
	// following at most maxDepth parent links. A revisited role yields
	// ErrCircularHierarchy.
	Ancestors(ctx context.Context, id uuid.UUID, maxDepth int) ([]Role, error)

	// LockRole serializes writers touching the role until the surrounding
	// transaction ends.
	LockRole(ctx context.Context, id uuid.UUID) error

	// LockHierarchy serializes every change to parent links until the
	// surrounding transaction ends. Cycle checks read other roles' parents,
	// which row locks on the moved role alone do not protect.
	LockHierarchy(ctx context.Context) error
}

// AssignmentStore persists role-permission grants.
type AssignmentStore interface {
	// InsertAssignment fails with ErrAlreadyAssigned when an active row for
	// the same (role, permission) exists, or when a direct row exists and rp
	// is direct.
	InsertAssignment(ctx context.Context, rp *RolePermission) error
	UpdateAssignment(ctx context.Context, rp *RolePermission) error
	DeleteAssignment(ctx context.Context, id uuid.UUID) error

	// GetDirectAssignment returns the direct row for the pair, active or not.
	GetDirectAssignment(ctx context.Context, roleID, permissionID uuid.UUID) (*RolePermission, error)
	// GetActiveAssignment returns the active row for the pair, direct or not.
	GetActiveAssignment(ctx context.Context, roleID, permissionID uuid.UUID) (*RolePermission, error)

	ListAssignments(ctx context.Context, roleIDs []uuid.UUID, f AssignmentFilter) ([]RolePermission, error)
	DeleteInheritedAssignments(ctx context.Context, roleID uuid.UUID) (int, error)

	// ExpireAssignments deactivates active rows whose expiry is at or before
	// now, stamping ReasonExpired.
	ExpireAssignments(ctx context.Context, now time.Time) (int, error)
}

// BindingStore persists user-role bindings.
type BindingStore interface {
	GetBinding(ctx context.Context, userID, roleID uuid.UUID) (*UserRole, error)
	// SaveBinding inserts or replaces the binding keyed by (user, role).
	SaveBinding(ctx context.Context, ur *UserRole) error
	ListUserBindings(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]UserRole, error)
	ListRoleBindings(ctx context.Context, roleID uuid.UUID, activeOnly bool) ([]UserRole, error)

	// CountActiveBindings counts active bindings of the role not expired at now.
	CountActiveBindings(ctx context.Context, roleID uuid.UUID, now time.Time) (int, error)
	ExpireBindings(ctx context.Context, now time.Time) (int, error)
}
