package rbac

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/google/uuid"
)

var (
	identPattern          = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)
	permissionNamePattern = regexp.MustCompile(`^(\*|[a-z][a-z0-9_-]*(\.([a-z][a-z0-9_-]*|\*))+)$`)
)

// PermissionInput describes a permission to create or update.
type PermissionInput struct {
	Name                string
	Module              string
	Action              string
	Resource            string
	Description         string
	AccessLevel         AccessLevel
	Scope               Scope
	IsSystem            bool
	RequiresPermissions []string
}

// Catalog manages the set of atomic permissions.
type Catalog struct {
	engine
}

// NewCatalog creates a permission catalog over store.
func NewCatalog(store Store, opts ...Option) *Catalog {
	return &Catalog{engine: newEngine(store, opts)}
}

// CreatePermission validates in and stores a new active permission. The name
// defaults to module.action or module.action.resource.
func (c *Catalog) CreatePermission(ctx context.Context, in PermissionInput) (*Permission, error) {
	if err := normalizePermissionInput(&in); err != nil {
		return nil, err
	}

	now := c.now()
	p := &Permission{
		ID:                  uuid.New(),
		Name:                in.Name,
		Module:              in.Module,
		Action:              in.Action,
		Resource:            in.Resource,
		Description:         in.Description,
		AccessLevel:         in.AccessLevel,
		Scope:               in.Scope,
		IsActive:            true,
		IsSystem:            in.IsSystem,
		RequiresPermissions: in.RequiresPermissions,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	err := c.write(ctx, "create_permission", func(ctx context.Context, tx Store) error {
		if err := requireNames(ctx, tx, p.RequiresPermissions); err != nil {
			return err
		}
		return tx.CreatePermission(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	c.opts.logger.InfoContext(ctx, "permission created", "permission", p.Name, "id", p.ID)
	return p, nil
}

// UpdatePermission replaces the mutable fields of a non-system permission.
func (c *Catalog) UpdatePermission(ctx context.Context, id uuid.UUID, in PermissionInput) (*Permission, error) {
	if err := normalizePermissionInput(&in); err != nil {
		return nil, err
	}

	var out *Permission
	err := c.write(ctx, "update_permission", func(ctx context.Context, tx Store) error {
		p, err := tx.GetPermission(ctx, id)
		if err != nil {
			return err
		}
		if p.IsSystem {
			return ErrSystemPermission
		}
		if p.DeletedAt != nil {
			return ErrPermissionNotFound
		}
		if slices.Contains(in.RequiresPermissions, in.Name) {
			return fmt.Errorf("%w: permission cannot require itself", ErrInvalidInput)
		}
		if err := requireNames(ctx, tx, in.RequiresPermissions); err != nil {
			return err
		}

		p.Name = in.Name
		p.Module = in.Module
		p.Action = in.Action
		p.Resource = in.Resource
		p.Description = in.Description
		p.AccessLevel = in.AccessLevel
		p.Scope = in.Scope
		p.RequiresPermissions = in.RequiresPermissions
		p.UpdatedAt = c.now()
		if err := tx.UpdatePermission(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// SetPermissionActive toggles a non-system permission. Inactive permissions
// are ignored by resolution and sync but keep their assignments.
func (c *Catalog) SetPermissionActive(ctx context.Context, id uuid.UUID, active bool) error {
	return c.write(ctx, "set_permission_active", func(ctx context.Context, tx Store) error {
		p, err := tx.GetPermission(ctx, id)
		if err != nil {
			return err
		}
		if p.IsSystem {
			return ErrSystemPermission
		}
		if p.DeletedAt != nil {
			return ErrPermissionNotFound
		}
		p.IsActive = active
		p.UpdatedAt = c.now()
		return tx.UpdatePermission(ctx, p)
	})
}

// DeletePermission soft-deletes a permission that no active assignment uses.
func (c *Catalog) DeletePermission(ctx context.Context, id uuid.UUID) error {
	err := c.write(ctx, "delete_permission", func(ctx context.Context, tx Store) error {
		if err := tx.LockPermission(ctx, id); err != nil {
			return err
		}
		p, err := tx.GetPermission(ctx, id)
		if err != nil {
			return err
		}
		if p.IsSystem {
			return ErrSystemPermission
		}
		if p.DeletedAt != nil {
			return nil
		}
		n, err := tx.CountActiveAssignments(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %d active assignments", ErrPermissionInUse, n)
		}
		now := c.now()
		p.IsActive = false
		p.DeletedAt = &now
		p.UpdatedAt = now
		return tx.UpdatePermission(ctx, p)
	})
	if err == nil {
		c.opts.logger.InfoContext(ctx, "permission deleted", "id", id)
	}
	return err
}

func (c *Catalog) GetPermission(ctx context.Context, id uuid.UUID) (*Permission, error) {
	var p *Permission
	err := c.read(ctx, "get_permission", func(ctx context.Context) (err error) {
		p, err = c.store.GetPermission(ctx, id)
		return err
	})
	return p, err
}

func (c *Catalog) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	var p *Permission
	err := c.read(ctx, "get_permission_by_name", func(ctx context.Context) (err error) {
		p, err = c.store.GetPermissionByName(ctx, name)
		return err
	})
	return p, err
}

func (c *Catalog) ListPermissions(ctx context.Context, f PermissionFilter) ([]Permission, error) {
	var out []Permission
	err := c.read(ctx, "list_permissions", func(ctx context.Context) (err error) {
		out, err = c.store.ListPermissions(ctx, f)
		return err
	})
	return out, err
}

// MissingDependencies returns the RequiresPermissions of the named
// permission that granted does not cover. It never mutates anything; acting
// on the result is up to the caller.
func (c *Catalog) MissingDependencies(ctx context.Context, granted []EffectivePermission, name string) ([]string, error) {
	p, err := c.GetPermissionByName(ctx, name)
	if err != nil {
		return nil, err
	}
	names := Names(granted)
	var missing []string
	for _, req := range p.RequiresPermissions {
		if !HasPermission(names, req) {
			missing = append(missing, req)
		}
	}
	return missing, nil
}

func requireNames(ctx context.Context, tx Store, names []string) error {
	for _, n := range names {
		p, err := tx.GetPermissionByName(ctx, n)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: required permission %q", ErrPermissionNotFound, n)
			}
			return err
		}
		if p.DeletedAt != nil {
			return fmt.Errorf("%w: required permission %q is deleted", ErrPermissionNotFound, n)
		}
	}
	return nil
}

func normalizePermissionInput(in *PermissionInput) error {
	in.Module = strings.ToLower(strings.TrimSpace(in.Module))
	in.Action = strings.ToLower(strings.TrimSpace(in.Action))
	in.Resource = strings.ToLower(strings.TrimSpace(in.Resource))
	in.Name = strings.ToLower(strings.TrimSpace(in.Name))

	if !identPattern.MatchString(in.Module) || (in.Action != Wildcard && !identPattern.MatchString(in.Action)) {
		return fmt.Errorf("%w: module and action must be lowercase identifiers", ErrInvalidName)
	}
	if in.Resource != "" && !identPattern.MatchString(in.Resource) {
		return fmt.Errorf("%w: resource must be a lowercase identifier", ErrInvalidName)
	}
	if in.Name == "" {
		in.Name = in.Module + "." + in.Action
		if in.Resource != "" {
			in.Name += "." + in.Resource
		}
	}
	if !permissionNamePattern.MatchString(in.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, in.Name)
	}

	if in.AccessLevel == "" {
		in.AccessLevel = AccessBasic
	}
	if !in.AccessLevel.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAccessLevel, in.AccessLevel)
	}
	if in.Scope == "" {
		in.Scope = ScopeOwn
	}
	if !in.Scope.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidScope, in.Scope)
	}

	in.RequiresPermissions = slices.Compact(slices.Sorted(slices.Values(in.RequiresPermissions)))
	return nil
}
