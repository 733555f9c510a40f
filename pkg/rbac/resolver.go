package rbac

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

// ResolveOptions tunes resolution.
type ResolveOptions struct {
	// IncludeExpired keeps grants whose expiry has passed, whether or not
	// the expiry sweep has deactivated them yet. Revoked grants are never
	// included.
	IncludeExpired bool
}

// Resolver computes effective permission sets. Results are never cached, so
// a grant, revoke or expiry is visible to the next call.
type Resolver struct {
	engine
}

// NewResolver creates an effective permission resolver over store.
func NewResolver(store Store, opts ...Option) *Resolver {
	return &Resolver{engine: newEngine(store, opts)}
}

// ForRole resolves the permissions of one role across its ancestor chain.
func (r *Resolver) ForRole(ctx context.Context, roleID uuid.UUID, opts ResolveOptions) ([]EffectivePermission, error) {
	var out []EffectivePermission
	err := r.read(ctx, "resolve_role", func(ctx context.Context) error {
		set, err := r.resolveRole(ctx, r.store, roleID, opts, r.now())
		if err != nil {
			return err
		}
		out = sortedPermissions(set)
		return nil
	})
	return out, err
}

// ForUser resolves the union of the permissions of every active, unexpired
// role bound to userID.
func (r *Resolver) ForUser(ctx context.Context, userID uuid.UUID, opts ResolveOptions) ([]EffectivePermission, error) {
	var out []EffectivePermission
	err := r.read(ctx, "resolve_user", func(ctx context.Context) error {
		now := r.now()
		bindings, err := r.store.ListUserBindings(ctx, userID, true)
		if err != nil {
			return err
		}
		merged := make(map[uuid.UUID]EffectivePermission)
		for _, b := range bindings {
			if b.Expired(now) {
				continue
			}
			set, err := r.resolveRole(ctx, r.store, b.RoleID, opts, now)
			if errors.Is(err, ErrRoleNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			for _, ep := range set {
				merge(merged, ep)
			}
		}
		out = sortedPermissions(merged)
		return nil
	})
	return out, err
}

// Can reports whether userID holds permission, honouring "*" and "module.*"
// grants.
func (r *Resolver) Can(ctx context.Context, userID uuid.UUID, permission string) error {
	return r.CanAll(ctx, userID, permission)
}

// CanAny succeeds if userID holds at least one of permissions.
func (r *Resolver) CanAny(ctx context.Context, userID uuid.UUID, permissions ...string) error {
	if len(permissions) == 0 {
		return nil
	}
	granted, err := r.ForUser(ctx, userID, ResolveOptions{})
	if err != nil {
		return err
	}
	if !HasAnyPermission(Names(granted), permissions...) {
		return ErrInsufficientPermissions
	}
	return nil
}

// CanAll succeeds if userID holds every one of permissions.
func (r *Resolver) CanAll(ctx context.Context, userID uuid.UUID, permissions ...string) error {
	if len(permissions) == 0 {
		return nil
	}
	granted, err := r.ForUser(ctx, userID, ResolveOptions{})
	if err != nil {
		return err
	}
	if !HasAllPermissions(Names(granted), permissions...) {
		return ErrInsufficientPermissions
	}
	return nil
}

// resolveRole walks the ancestor chain of roleID with an explicit bounded
// loop (inside Store.Ancestors) and keeps, per permission, the grant from
// the nearest node. Only direct grants are read at each node: the distance
// to the node is the inheritance level, so materialized inherited rows
// would only duplicate what the walk already sees.
func (e *engine) resolveRole(ctx context.Context, s Store, roleID uuid.UUID, opts ResolveOptions, now time.Time) (map[uuid.UUID]EffectivePermission, error) {
	chain, err := s.Ancestors(ctx, roleID, e.opts.maxDepth)
	if err != nil {
		return nil, err
	}
	set := make(map[uuid.UUID]EffectivePermission)
	if len(chain) == 0 || !chain[0].IsActive {
		return set, nil
	}

	levels := make(map[uuid.UUID]int, len(chain))
	ids := make([]uuid.UUID, len(chain))
	for i, role := range chain {
		levels[role.ID] = i
		ids[i] = role.ID
	}

	rows, err := s.ListAssignments(ctx, ids, AssignmentFilter{DirectOnly: true, ActiveOnly: !opts.IncludeExpired})
	if err != nil {
		return nil, err
	}

	var permIDs []uuid.UUID
	kept := rows[:0]
	for _, rp := range rows {
		expired := rp.Expired(now)
		switch {
		case rp.IsActive && !expired:
		case opts.IncludeExpired && expired && (rp.IsActive || rp.RevocationReason == ReasonExpired):
		default:
			continue
		}
		if !chain[levels[rp.RoleID]].IsActive {
			continue
		}
		kept = append(kept, rp)
		permIDs = append(permIDs, rp.PermissionID)
	}
	if len(kept) == 0 {
		return set, nil
	}

	perms, err := s.GetPermissionsByIDs(ctx, permIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*Permission, len(perms))
	for i := range perms {
		byID[perms[i].ID] = &perms[i]
	}

	for _, rp := range kept {
		p, ok := byID[rp.PermissionID]
		if !ok || !p.IsActive {
			continue
		}
		lvl := levels[rp.RoleID]
		merge(set, EffectivePermission{
			PermissionID:     p.ID,
			Permission:       p.Name,
			Scope:            p.Scope,
			AccessLevel:      p.AccessLevel,
			Conditions:       rp.Conditions,
			IsInherited:      lvl > 0,
			SourceRoleID:     rp.RoleID,
			SourceRole:       chain[lvl].Name,
			InheritanceLevel: lvl,
			ExpiresAt:        rp.ExpiresAt,
		})
	}
	return set, nil
}

// merge keeps the better of two entries for the same permission: lower
// inheritance level, then higher access level, then source role name.
func merge(set map[uuid.UUID]EffectivePermission, ep EffectivePermission) {
	cur, ok := set[ep.PermissionID]
	if !ok || preferred(ep, cur) {
		set[ep.PermissionID] = ep
	}
}

func preferred(a, b EffectivePermission) bool {
	return cmp.Or(
		cmp.Compare(a.InheritanceLevel, b.InheritanceLevel),
		cmp.Compare(b.AccessLevel.Rank(), a.AccessLevel.Rank()),
		cmp.Compare(a.SourceRole, b.SourceRole),
		cmp.Compare(a.SourceRoleID.String(), b.SourceRoleID.String()),
	) < 0
}

func sortedPermissions(set map[uuid.UUID]EffectivePermission) []EffectivePermission {
	out := make([]EffectivePermission, 0, len(set))
	for _, ep := range set {
		out = append(out, ep)
	}
	slices.SortFunc(out, func(a, b EffectivePermission) int { return cmp.Compare(a.Permission, b.Permission) })
	return out
}
