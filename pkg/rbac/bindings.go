package rbac

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// BindOptions carries role assignment metadata.
type BindOptions struct {
	AssignedBy string
	ExpiresAt  *time.Time
	// Primary makes the new binding the user's primary role. The first
	// binding of a user becomes primary regardless.
	Primary bool
}

// Bindings assigns roles to users.
type Bindings struct {
	engine
}

// NewBindings creates a user-role binding manager over store.
func NewBindings(store Store, opts ...Option) *Bindings {
	return &Bindings{engine: newEngine(store, opts)}
}

// AssignRole binds userID to roleID. The role's MaxUsers ceiling is checked
// under the role lock so concurrent assignments cannot overshoot it.
func (b *Bindings) AssignRole(ctx context.Context, userID, roleID uuid.UUID, opts BindOptions) (*UserRole, error) {
	var out *UserRole
	err := b.write(ctx, "assign_role", func(ctx context.Context, tx Store) (err error) {
		out, err = b.assign(ctx, tx, userID, roleID, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	b.opts.logger.InfoContext(ctx, "role assigned",
		"user_id", userID, "role_id", roleID, "primary", out.IsPrimary, "assigned_by", opts.AssignedBy)
	return out, nil
}

func (b *Bindings) assign(ctx context.Context, tx Store, userID, roleID uuid.UUID, opts BindOptions) (*UserRole, error) {
	now := b.now()
	if opts.ExpiresAt != nil && !opts.ExpiresAt.After(now) {
		return nil, ErrExpiryInPast
	}
	if err := tx.LockRole(ctx, roleID); err != nil {
		return nil, err
	}
	role, err := tx.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if !role.IsActive {
		return nil, fmt.Errorf("%w: role %q is inactive", ErrRoleNotFound, role.Name)
	}

	existing, err := tx.GetBinding(ctx, userID, roleID)
	switch {
	case err == nil:
		if existing.IsActive && !existing.Expired(now) {
			return nil, ErrAlreadyBound
		}
	case errors.Is(err, ErrNotFound):
		existing = nil
	default:
		return nil, err
	}

	if role.MaxUsers != nil {
		n, err := tx.CountActiveBindings(ctx, roleID, now)
		if err != nil {
			return nil, err
		}
		if n >= *role.MaxUsers {
			return nil, fmt.Errorf("%w: %q allows %d", ErrRoleFull, role.Name, *role.MaxUsers)
		}
	}

	current, err := tx.ListUserBindings(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	hasPrimary := slices.ContainsFunc(current, func(ur UserRole) bool { return ur.IsPrimary && !ur.Expired(now) })
	primary := opts.Primary || !hasPrimary
	if primary {
		if err := setPrimary(ctx, tx, current, uuid.Nil); err != nil {
			return nil, err
		}
	}

	ur := &UserRole{
		UserID:     userID,
		RoleID:     roleID,
		IsPrimary:  primary,
		ExpiresAt:  opts.ExpiresAt,
		AssignedBy: opts.AssignedBy,
		AssignedAt: now,
		IsActive:   true,
	}
	if err := tx.SaveBinding(ctx, ur); err != nil {
		return nil, err
	}
	return ur, nil
}

// RevokeRole deactivates the binding. When it was primary, the remaining
// binding with the highest role priority becomes primary.
func (b *Bindings) RevokeRole(ctx context.Context, userID, roleID uuid.UUID, by string) error {
	err := b.write(ctx, "revoke_role", func(ctx context.Context, tx Store) error {
		ur, err := tx.GetBinding(ctx, userID, roleID)
		if err != nil {
			return err
		}
		if !ur.IsActive {
			return ErrBindingNotFound
		}

		now := b.now()
		wasPrimary := ur.IsPrimary
		ur.IsActive = false
		ur.IsPrimary = false
		ur.RevokedAt = &now
		if err := tx.SaveBinding(ctx, ur); err != nil {
			return err
		}
		if !wasPrimary {
			return nil
		}
		return b.promoteSuccessor(ctx, tx, userID, now)
	})
	if err != nil {
		return err
	}
	b.opts.logger.InfoContext(ctx, "role revoked", "user_id", userID, "role_id", roleID, "revoked_by", by)
	return nil
}

func (b *Bindings) promoteSuccessor(ctx context.Context, tx Store, userID uuid.UUID, now time.Time) error {
	remaining, err := liveUserBindings(ctx, tx, userID, now)
	if err != nil || len(remaining) == 0 {
		return err
	}

	best := -1
	var bestRole *Role
	for i, ur := range remaining {
		r, err := tx.GetRole(ctx, ur.RoleID)
		if err != nil {
			return err
		}
		if bestRole == nil || compareRoles(*r, *bestRole) < 0 {
			best, bestRole = i, r
		}
	}
	all, err := tx.ListUserBindings(ctx, userID, true)
	if err != nil {
		return err
	}
	return setPrimary(ctx, tx, all, remaining[best].RoleID)
}

// SetPrimaryRole makes roleID the only primary role of userID.
func (b *Bindings) SetPrimaryRole(ctx context.Context, userID, roleID uuid.UUID) error {
	return b.write(ctx, "set_primary_role", func(ctx context.Context, tx Store) error {
		now := b.now()
		ur, err := tx.GetBinding(ctx, userID, roleID)
		if err != nil {
			return err
		}
		if !ur.IsActive {
			return ErrBindingNotFound
		}
		if ur.Expired(now) {
			return fmt.Errorf("%w: user role", ErrExpired)
		}
		current, err := tx.ListUserBindings(ctx, userID, true)
		if err != nil {
			return err
		}
		return setPrimary(ctx, tx, current, roleID)
	})
}

// TransferUserRoles moves every live binding of fromUser to toUser in one
// transaction. Roles toUser already holds are kept as they are. toUser keeps
// its primary role if it has one; otherwise it inherits fromUser's. It
// returns the number of bindings moved.
func (b *Bindings) TransferUserRoles(ctx context.Context, fromUser, toUser uuid.UUID, by string) (int, error) {
	if fromUser == toUser {
		return 0, fmt.Errorf("%w: source and target user are the same", ErrInvalidInput)
	}

	moved := 0
	err := b.write(ctx, "transfer_user_roles", func(ctx context.Context, tx Store) error {
		moved = 0
		now := b.now()
		source, err := liveUserBindings(ctx, tx, fromUser, now)
		if err != nil {
			return err
		}
		target, err := liveUserBindings(ctx, tx, toUser, now)
		if err != nil {
			return err
		}
		held := make(map[uuid.UUID]bool, len(target))
		targetHasPrimary := false
		for _, ur := range target {
			held[ur.RoleID] = true
			targetHasPrimary = targetHasPrimary || ur.IsPrimary
		}

		var primaryRole uuid.UUID
		for _, ur := range source {
			if err := tx.LockRole(ctx, ur.RoleID); err != nil {
				return err
			}
			if ur.IsPrimary && !targetHasPrimary {
				primaryRole = ur.RoleID
			}

			old := ur
			old.IsActive = false
			old.IsPrimary = false
			old.RevokedAt = &now
			if err := tx.SaveBinding(ctx, &old); err != nil {
				return err
			}
			moved++
			if held[ur.RoleID] {
				continue
			}
			nb := &UserRole{
				UserID:     toUser,
				RoleID:     ur.RoleID,
				ExpiresAt:  ur.ExpiresAt,
				AssignedBy: by,
				AssignedAt: now,
				IsActive:   true,
			}
			if err := tx.SaveBinding(ctx, nb); err != nil {
				return err
			}
		}

		if primaryRole != uuid.Nil {
			after, err := tx.ListUserBindings(ctx, toUser, true)
			if err != nil {
				return err
			}
			return setPrimary(ctx, tx, after, primaryRole)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	b.opts.logger.InfoContext(ctx, "user roles transferred",
		"from_user_id", fromUser, "to_user_id", toUser, "count", moved, "by", by)
	return moved, nil
}

// AssignDefaultRoles binds userID to every active default role it does not
// hold yet, highest priority first. Full roles are skipped and logged.
func (b *Bindings) AssignDefaultRoles(ctx context.Context, userID uuid.UUID, by string) ([]UserRole, error) {
	var out []UserRole
	err := b.write(ctx, "assign_default_roles", func(ctx context.Context, tx Store) error {
		out = nil
		roles, err := tx.ListRoles(ctx)
		if err != nil {
			return err
		}
		for _, r := range roles {
			if !r.IsDefault || !r.IsActive {
				continue
			}
			ur, err := b.assign(ctx, tx, userID, r.ID, BindOptions{AssignedBy: by})
			switch {
			case errors.Is(err, ErrAlreadyBound):
				continue
			case errors.Is(err, ErrCapacityExceeded):
				b.opts.logger.WarnContext(ctx, "default role is full", "role", r.Name, "user_id", userID)
				continue
			case err != nil:
				return err
			}
			out = append(out, *ur)
		}
		return nil
	})
	return out, err
}

// UserRoles returns the live bindings of userID, primary first.
func (b *Bindings) UserRoles(ctx context.Context, userID uuid.UUID) ([]UserRole, error) {
	var out []UserRole
	err := b.read(ctx, "user_roles", func(ctx context.Context) (err error) {
		out, err = liveUserBindings(ctx, b.store, userID, b.now())
		return err
	})
	slices.SortStableFunc(out, func(x, y UserRole) int {
		if x.IsPrimary != y.IsPrimary {
			if x.IsPrimary {
				return -1
			}
			return 1
		}
		return 0
	})
	return out, err
}

// ActiveRoles returns the active roles bound to userID, highest priority
// first.
func (b *Bindings) ActiveRoles(ctx context.Context, userID uuid.UUID) ([]Role, error) {
	var out []Role
	err := b.read(ctx, "active_roles", func(ctx context.Context) error {
		out = nil
		bindings, err := liveUserBindings(ctx, b.store, userID, b.now())
		if err != nil {
			return err
		}
		for _, ur := range bindings {
			r, err := b.store.GetRole(ctx, ur.RoleID)
			if errors.Is(err, ErrRoleNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if r.IsActive {
				out = append(out, *r)
			}
		}
		slices.SortFunc(out, compareRoles)
		return nil
	})
	return out, err
}

// RoleUsers returns the live bindings of roleID.
func (b *Bindings) RoleUsers(ctx context.Context, roleID uuid.UUID) ([]UserRole, error) {
	var out []UserRole
	err := b.read(ctx, "role_users", func(ctx context.Context) (err error) {
		out, err = activeBindings(ctx, b.store, roleID, b.now())
		return err
	})
	return out, err
}

// CleanupExpiredBindings deactivates bindings whose expiry has passed.
func (b *Bindings) CleanupExpiredBindings(ctx context.Context) (int, error) {
	var n int
	err := b.write(ctx, "cleanup_expired_bindings", func(ctx context.Context, tx Store) (err error) {
		n, err = tx.ExpireBindings(ctx, b.now())
		return err
	})
	if err == nil && n > 0 {
		b.opts.logger.InfoContext(ctx, "expired user roles deactivated", "count", n)
	}
	return n, err
}

// setPrimary marks roleID primary among bindings and clears the flag on the
// others. uuid.Nil clears every flag. Callers pass every active binding of
// the user, expired ones included, so no stale flag survives.
func setPrimary(ctx context.Context, tx Store, bindings []UserRole, roleID uuid.UUID) error {
	// Clear before set: stores may enforce a single primary per user.
	for _, set := range []bool{false, true} {
		for i := range bindings {
			want := bindings[i].RoleID == roleID
			if want != set || bindings[i].IsPrimary == want {
				continue
			}
			bindings[i].IsPrimary = want
			if err := tx.SaveBinding(ctx, &bindings[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func liveUserBindings(ctx context.Context, s Store, userID uuid.UUID, now time.Time) ([]UserRole, error) {
	all, err := s.ListUserBindings(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(ur UserRole) bool { return ur.Expired(now) }), nil
}

func activeBindings(ctx context.Context, s Store, roleID uuid.UUID, now time.Time) ([]UserRole, error) {
	all, err := s.ListRoleBindings(ctx, roleID, true)
	if err != nil {
		return nil, err
	}
	out := slices.DeleteFunc(all, func(ur UserRole) bool { return ur.Expired(now) })
	slices.SortFunc(out, func(x, y UserRole) int { return cmp.Compare(x.UserID.String(), y.UserID.String()) })
	return out, nil
}

// ActiveRoleIDs returns the IDs of the active roles bound to userID.
func (b *Bindings) ActiveRoleIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	roles, err := b.ActiveRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(roles))
	for i, r := range roles {
		ids[i] = r.ID
	}
	return ids, nil
}
