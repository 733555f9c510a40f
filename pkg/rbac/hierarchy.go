package rbac

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var roleNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,62}$`)

// RoleInput describes a role to create or update.
type RoleInput struct {
	Name        string
	DisplayName string
	Description string
	ParentID    *uuid.UUID
	Priority    int
	IsSystem    bool
	IsDefault   bool
	MaxUsers    *int
}

// Hierarchy manages roles and their parent links.
type Hierarchy struct {
	engine
}

// NewHierarchy creates a role hierarchy manager over store.
func NewHierarchy(store Store, opts ...Option) *Hierarchy {
	return &Hierarchy{engine: newEngine(store, opts)}
}

// CreateRole validates in and stores a new active role.
func (h *Hierarchy) CreateRole(ctx context.Context, in RoleInput) (*Role, error) {
	name, err := h.validateRoleName(in.Name, in.IsSystem)
	if err != nil {
		return nil, err
	}
	if in.MaxUsers != nil && *in.MaxUsers < 0 {
		return nil, fmt.Errorf("%w: max users must not be negative", ErrInvalidInput)
	}

	now := h.now()
	r := &Role{
		ID:          uuid.New(),
		Name:        name,
		DisplayName: displayNameOr(in.DisplayName, name),
		Description: in.Description,
		ParentID:    in.ParentID,
		Priority:    in.Priority,
		IsSystem:    in.IsSystem,
		IsActive:    true,
		IsDefault:   in.IsDefault,
		MaxUsers:    in.MaxUsers,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = h.write(ctx, "create_role", func(ctx context.Context, tx Store) error {
		if r.ParentID != nil {
			if err := tx.LockHierarchy(ctx); err != nil {
				return err
			}
			if err := tx.LockRole(ctx, *r.ParentID); err != nil {
				return err
			}
			if err := h.validateParent(ctx, tx, r.ID, *r.ParentID); err != nil {
				return err
			}
		}
		if err := tx.CreateRole(ctx, r); err != nil {
			return err
		}
		if r.ParentID != nil && h.opts.autoSync {
			_, err := h.syncInherited(ctx, tx, r.ID)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	h.opts.logger.InfoContext(ctx, "role created", "role", r.Name, "id", r.ID)
	return r, nil
}

// UpdateRole replaces the mutable fields of a role. Renames are validated
// like new names; system roles keep their name. The parent is changed
// through SetParent only.
func (h *Hierarchy) UpdateRole(ctx context.Context, id uuid.UUID, in RoleInput) (*Role, error) {
	if in.MaxUsers != nil && *in.MaxUsers < 0 {
		return nil, fmt.Errorf("%w: max users must not be negative", ErrInvalidInput)
	}

	var out *Role
	err := h.write(ctx, "update_role", func(ctx context.Context, tx Store) error {
		if err := tx.LockRole(ctx, id); err != nil {
			return err
		}
		r, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}

		if in.Name != "" && in.Name != r.Name {
			if r.IsSystem {
				return ErrSystemRole
			}
			name, err := h.validateRoleName(in.Name, false)
			if err != nil {
				return err
			}
			r.Name = name
		}
		if in.DisplayName != "" {
			r.DisplayName = in.DisplayName
		}
		r.Description = in.Description
		r.Priority = in.Priority
		r.IsDefault = in.IsDefault
		r.MaxUsers = in.MaxUsers
		r.UpdatedAt = h.now()

		if err := tx.UpdateRole(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// SetRoleActive toggles a non-system role. Inactive roles grant nothing to
// their users and pass nothing down to descendants.
func (h *Hierarchy) SetRoleActive(ctx context.Context, id uuid.UUID, active bool) error {
	return h.write(ctx, "set_role_active", func(ctx context.Context, tx Store) error {
		if err := tx.LockRole(ctx, id); err != nil {
			return err
		}
		r, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if r.IsSystem && !active {
			return ErrSystemRole
		}
		r.IsActive = active
		r.UpdatedAt = h.now()
		if err := tx.UpdateRole(ctx, r); err != nil {
			return err
		}
		if h.opts.autoSync {
			return h.syncTree(ctx, tx, id)
		}
		return nil
	})
}

// SetParent moves a role under parentID, or to the top when parentID is nil.
// The candidate parent's ancestors are walked under the hierarchy lock before
// anything is written; a move that would close a cycle or exceed the depth
// bound is rejected. The
// role and its descendants are re-synced in the same transaction.
func (h *Hierarchy) SetParent(ctx context.Context, roleID uuid.UUID, parentID *uuid.UUID) error {
	err := h.write(ctx, "set_parent", func(ctx context.Context, tx Store) error {
		if err := tx.LockHierarchy(ctx); err != nil {
			return err
		}
		if err := tx.LockRole(ctx, roleID); err != nil {
			return err
		}
		r, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if parentID != nil {
			if *parentID == roleID {
				return ErrCircularHierarchy
			}
			if err := tx.LockRole(ctx, *parentID); err != nil {
				return err
			}
			if err := h.validateParent(ctx, tx, roleID, *parentID); err != nil {
				return err
			}
		}

		r.ParentID = parentID
		r.UpdatedAt = h.now()
		if err := tx.UpdateRole(ctx, r); err != nil {
			return err
		}
		if h.opts.autoSync {
			return h.syncTree(ctx, tx, roleID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	h.opts.logger.InfoContext(ctx, "role parent changed", "role_id", roleID, "parent_id", parentID)
	return nil
}

// DeleteRole removes a non-system role. Active bindings block deletion unless
// replacementID is given, in which case they move to the replacement. The
// role's children are re-attached to its parent.
func (h *Hierarchy) DeleteRole(ctx context.Context, id uuid.UUID, replacementID *uuid.UUID, by string) error {
	if replacementID != nil && *replacementID == id {
		return fmt.Errorf("%w: replacement must differ from the deleted role", ErrInvalidInput)
	}

	moved := 0
	err := h.write(ctx, "delete_role", func(ctx context.Context, tx Store) error {
		if err := tx.LockHierarchy(ctx); err != nil {
			return err
		}
		if err := tx.LockRole(ctx, id); err != nil {
			return err
		}
		r, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if r.IsSystem {
			return ErrSystemRole
		}

		now := h.now()
		bindings, err := activeBindings(ctx, tx, r.ID, now)
		if err != nil {
			return err
		}
		if len(bindings) > 0 {
			if replacementID == nil {
				return fmt.Errorf("%w: %d users", ErrRoleInUse, len(bindings))
			}
			if moved, err = h.moveBindings(ctx, tx, bindings, *replacementID, by, now); err != nil {
				return err
			}
		}

		children, err := tx.Children(ctx, id)
		if err != nil {
			return err
		}
		for i := range children {
			children[i].ParentID = r.ParentID
			children[i].UpdatedAt = now
			if err := tx.UpdateRole(ctx, &children[i]); err != nil {
				return err
			}
		}

		if err := tx.DeleteRole(ctx, id); err != nil {
			return err
		}
		if h.opts.autoSync {
			for _, c := range children {
				if err := h.syncTree(ctx, tx, c.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	h.opts.logger.InfoContext(ctx, "role deleted", "role_id", id, "moved_bindings", moved)
	return nil
}

func (h *Hierarchy) moveBindings(ctx context.Context, tx Store, bindings []UserRole, toRole uuid.UUID, by string, now time.Time) (int, error) {
	if err := tx.LockRole(ctx, toRole); err != nil {
		return 0, err
	}
	target, err := tx.GetRole(ctx, toRole)
	if err != nil {
		return 0, err
	}
	if !target.IsActive {
		return 0, fmt.Errorf("%w: replacement role is inactive", ErrRoleNotFound)
	}

	var fresh []UserRole
	existing := make(map[uuid.UUID]*UserRole)
	for _, b := range bindings {
		cur, err := tx.GetBinding(ctx, b.UserID, toRole)
		switch {
		case err == nil && cur.IsActive && !cur.Expired(now):
			existing[b.UserID] = cur
		case err == nil || errors.Is(err, ErrNotFound):
			fresh = append(fresh, b)
		default:
			return 0, err
		}
	}
	if target.MaxUsers != nil {
		n, err := tx.CountActiveBindings(ctx, toRole, now)
		if err != nil {
			return 0, err
		}
		if n+len(fresh) > *target.MaxUsers {
			return 0, ErrRoleFull
		}
	}

	for _, b := range bindings {
		old := b
		old.IsActive = false
		old.IsPrimary = false
		old.RevokedAt = &now
		if err := tx.SaveBinding(ctx, &old); err != nil {
			return 0, err
		}
		if cur, ok := existing[b.UserID]; ok {
			if b.IsPrimary && !cur.IsPrimary {
				cur.IsPrimary = true
				if err := tx.SaveBinding(ctx, cur); err != nil {
					return 0, err
				}
			}
			continue
		}
		nb := &UserRole{
			UserID:     b.UserID,
			RoleID:     toRole,
			IsPrimary:  b.IsPrimary,
			ExpiresAt:  b.ExpiresAt,
			AssignedBy: by,
			AssignedAt: now,
			IsActive:   true,
		}
		if err := tx.SaveBinding(ctx, nb); err != nil {
			return 0, err
		}
	}
	return len(bindings), nil
}

func (h *Hierarchy) GetRole(ctx context.Context, id uuid.UUID) (*Role, error) {
	var r *Role
	err := h.read(ctx, "get_role", func(ctx context.Context) (err error) {
		r, err = h.store.GetRole(ctx, id)
		return err
	})
	return r, err
}

func (h *Hierarchy) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	var r *Role
	err := h.read(ctx, "get_role_by_name", func(ctx context.Context) (err error) {
		r, err = h.store.GetRoleByName(ctx, name)
		return err
	})
	return r, err
}

// ListRoles returns all roles, highest priority first.
func (h *Hierarchy) ListRoles(ctx context.Context) ([]Role, error) {
	var out []Role
	err := h.read(ctx, "list_roles", func(ctx context.Context) (err error) {
		out, err = h.store.ListRoles(ctx)
		return err
	})
	return out, err
}

// Ancestors returns the role and its ancestors, nearest first.
func (h *Hierarchy) Ancestors(ctx context.Context, id uuid.UUID) ([]Role, error) {
	var out []Role
	err := h.read(ctx, "ancestors", func(ctx context.Context) (err error) {
		out, err = h.store.Ancestors(ctx, id, h.opts.maxDepth)
		return err
	})
	return out, err
}

// Descendants returns every role below id, breadth-first.
func (h *Hierarchy) Descendants(ctx context.Context, id uuid.UUID) ([]Role, error) {
	var out []Role
	err := h.read(ctx, "descendants", func(ctx context.Context) error {
		out = nil
		if _, err := h.store.GetRole(ctx, id); err != nil {
			return err
		}
		levels, err := h.descendantLevels(ctx, h.store, id)
		if err != nil {
			return err
		}
		for _, level := range levels[1:] {
			for _, rid := range level {
				r, err := h.store.GetRole(ctx, rid)
				if err != nil {
					return err
				}
				out = append(out, *r)
			}
		}
		return nil
	})
	return out, err
}

func (h *Hierarchy) validateRoleName(name string, system bool) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !roleNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if _, reserved := h.opts.reservedNames[name]; reserved && !system {
		return "", fmt.Errorf("%w: %q", ErrReservedName, name)
	}
	return name, nil
}

func displayNameOr(display, name string) string {
	if display != "" {
		return display
	}
	return name
}
