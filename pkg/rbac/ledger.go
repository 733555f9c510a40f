package rbac

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// AssignOptions carries grant metadata.
type AssignOptions struct {
	GrantedBy  string
	Conditions map[string]any
	ExpiresAt  *time.Time
}

// AssignOutcome reports what happened to one permission in a bulk grant.
type AssignOutcome string

const (
	OutcomeInserted    AssignOutcome = "inserted"
	OutcomeReactivated AssignOutcome = "reactivated"
	OutcomePromoted    AssignOutcome = "promoted"
	OutcomeSkipped     AssignOutcome = "skipped"
)

// Ledger grants and revokes permissions on roles and keeps materialized
// inherited rows in line with the hierarchy.
type Ledger struct {
	engine
}

// NewLedger creates a permission assignment ledger over store.
func NewLedger(store Store, opts ...Option) *Ledger {
	return &Ledger{engine: newEngine(store, opts)}
}

// AssignPermission grants permissionID directly to roleID. A previously
// revoked direct grant is reactivated in place; an active inherited row is
// superseded by the direct grant.
func (l *Ledger) AssignPermission(ctx context.Context, roleID, permissionID uuid.UUID, opts AssignOptions) (*RolePermission, error) {
	var out *RolePermission
	err := l.write(ctx, "assign_permission", func(ctx context.Context, tx Store) error {
		rp, _, err := l.assign(ctx, tx, roleID, permissionID, opts)
		if err != nil {
			return err
		}
		out = rp
		if l.opts.autoSync {
			return l.syncDescendants(ctx, tx, roleID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.opts.logger.InfoContext(ctx, "permission assigned",
		"role_id", roleID, "permission_id", permissionID, "granted_by", opts.GrantedBy)
	return out, nil
}

// BulkAssignPermissions grants several permissions in one transaction.
// Already active direct grants are reported as skipped rather than failing
// the batch; any other error aborts it.
func (l *Ledger) BulkAssignPermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID, opts AssignOptions) (map[uuid.UUID]AssignOutcome, error) {
	out := make(map[uuid.UUID]AssignOutcome, len(permissionIDs))
	err := l.write(ctx, "bulk_assign_permissions", func(ctx context.Context, tx Store) error {
		clear(out)
		for _, pid := range permissionIDs {
			if _, seen := out[pid]; seen {
				continue
			}
			_, outcome, err := l.assign(ctx, tx, roleID, pid, opts)
			if errors.Is(err, ErrAlreadyAssigned) {
				out[pid] = OutcomeSkipped
				continue
			}
			if err != nil {
				return fmt.Errorf("permission %s: %w", pid, err)
			}
			out[pid] = outcome
		}
		if l.opts.autoSync {
			return l.syncDescendants(ctx, tx, roleID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Ledger) assign(ctx context.Context, tx Store, roleID, permissionID uuid.UUID, opts AssignOptions) (*RolePermission, AssignOutcome, error) {
	now := l.now()
	if opts.ExpiresAt != nil && !opts.ExpiresAt.After(now) {
		return nil, "", ErrExpiryInPast
	}
	if err := tx.LockRole(ctx, roleID); err != nil {
		return nil, "", err
	}
	role, err := tx.GetRole(ctx, roleID)
	if err != nil {
		return nil, "", err
	}
	if !role.IsActive {
		return nil, "", fmt.Errorf("%w: role %q is inactive", ErrRoleNotFound, role.Name)
	}
	if err := tx.LockPermission(ctx, permissionID); err != nil {
		return nil, "", err
	}
	perm, err := tx.GetPermission(ctx, permissionID)
	if err != nil {
		return nil, "", err
	}
	if !perm.IsActive {
		return nil, "", fmt.Errorf("%w: permission %q is inactive", ErrPermissionNotFound, perm.Name)
	}

	outcome := OutcomeInserted
	if active, err := tx.GetActiveAssignment(ctx, roleID, permissionID); err == nil {
		if !active.IsInherited {
			return nil, "", ErrAlreadyAssigned
		}
		if err := tx.DeleteAssignment(ctx, active.ID); err != nil {
			return nil, "", err
		}
		outcome = OutcomePromoted
	} else if !errors.Is(err, ErrNotFound) {
		return nil, "", err
	}

	direct, err := tx.GetDirectAssignment(ctx, roleID, permissionID)
	switch {
	case err == nil:
		direct.GrantedBy = opts.GrantedBy
		direct.GrantedAt = now
		direct.Conditions = maps.Clone(opts.Conditions)
		direct.ExpiresAt = opts.ExpiresAt
		direct.IsActive = true
		direct.RevokedBy = ""
		direct.RevokedAt = nil
		direct.RevocationReason = ""
		if err := tx.UpdateAssignment(ctx, direct); err != nil {
			return nil, "", err
		}
		return direct, OutcomeReactivated, nil
	case errors.Is(err, ErrNotFound):
	default:
		return nil, "", err
	}

	rp := &RolePermission{
		ID:           uuid.New(),
		RoleID:       roleID,
		PermissionID: permissionID,
		GrantedBy:    opts.GrantedBy,
		GrantedAt:    now,
		Conditions:   maps.Clone(opts.Conditions),
		ExpiresAt:    opts.ExpiresAt,
		IsActive:     true,
	}
	if err := tx.InsertAssignment(ctx, rp); err != nil {
		return nil, "", err
	}
	return rp, outcome, nil
}

// RevokePermission deactivates the active direct grant of permissionID on
// roleID and stamps the revocation. Inherited rows cannot be revoked here;
// revoke the grant on the ancestor instead.
func (l *Ledger) RevokePermission(ctx context.Context, roleID, permissionID uuid.UUID, by, reason string) error {
	err := l.write(ctx, "revoke_permission", func(ctx context.Context, tx Store) error {
		if err := tx.LockRole(ctx, roleID); err != nil {
			return err
		}
		rp, err := tx.GetDirectAssignment(ctx, roleID, permissionID)
		if err != nil {
			return err
		}
		if !rp.IsActive {
			return ErrAssignmentNotFound
		}

		now := l.now()
		rp.IsActive = false
		rp.RevokedBy = by
		rp.RevokedAt = &now
		rp.RevocationReason = reason
		if err := tx.UpdateAssignment(ctx, rp); err != nil {
			return err
		}
		if l.opts.autoSync {
			return l.syncTree(ctx, tx, roleID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.opts.logger.InfoContext(ctx, "permission revoked",
		"role_id", roleID, "permission_id", permissionID, "revoked_by", by, "reason", reason)
	return nil
}

// SyncInheritedPermissions rebuilds the inherited rows of roleID: every
// inherited row is dropped, then the nearest ancestor grant of each
// permission not directly granted to the role is materialized with its
// provenance. Running it twice without intervening changes yields the same
// active set. It returns the number of inherited rows now present.
func (l *Ledger) SyncInheritedPermissions(ctx context.Context, roleID uuid.UUID) (int, error) {
	var n int
	err := l.write(ctx, "sync_inherited_permissions", func(ctx context.Context, tx Store) (err error) {
		n, err = l.syncInherited(ctx, tx, roleID)
		return err
	})
	if err != nil {
		return 0, err
	}
	l.opts.logger.DebugContext(ctx, "inherited permissions synced", "role_id", roleID, "rows", n)
	return n, nil
}

// SyncAll re-syncs every role. Roles are processed independently, each in
// its own transaction.
func (l *Ledger) SyncAll(ctx context.Context) (int, error) {
	roles, err := l.listRoles(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, r := range roles {
		n, err := l.SyncInheritedPermissions(ctx, r.ID)
		if err != nil {
			return total, fmt.Errorf("sync role %q: %w", r.Name, err)
		}
		total += n
	}
	return total, nil
}

// CleanupExpiredAssignments deactivates every active grant whose expiry has
// passed, tagging it ReasonExpired, and returns how many it touched.
func (l *Ledger) CleanupExpiredAssignments(ctx context.Context) (int, error) {
	var n int
	err := l.write(ctx, "cleanup_expired_assignments", func(ctx context.Context, tx Store) (err error) {
		n, err = tx.ExpireAssignments(ctx, l.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.opts.logger.InfoContext(ctx, "expired assignments deactivated", "count", n)
	}
	return n, nil
}

// ListRolePermissions returns the rows stored for roleID.
func (l *Ledger) ListRolePermissions(ctx context.Context, roleID uuid.UUID, includeInactive bool) ([]RolePermission, error) {
	var out []RolePermission
	err := l.read(ctx, "list_role_permissions", func(ctx context.Context) error {
		if _, err := l.store.GetRole(ctx, roleID); err != nil {
			return err
		}
		var err error
		out, err = l.store.ListAssignments(ctx, []uuid.UUID{roleID}, AssignmentFilter{ActiveOnly: !includeInactive})
		return err
	})
	return out, err
}

func (l *Ledger) syncDescendants(ctx context.Context, tx Store, roleID uuid.UUID) error {
	children, err := tx.Children(ctx, roleID)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := l.syncTree(ctx, tx, c.ID); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) listRoles(ctx context.Context) ([]Role, error) {
	var out []Role
	err := l.read(ctx, "list_roles", func(ctx context.Context) (err error) {
		out, err = l.store.ListRoles(ctx)
		return err
	})
	return out, err
}
