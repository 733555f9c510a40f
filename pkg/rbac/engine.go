package rbac

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

// engine holds what every component shares: the store, the clock and the
// call discipline (timeouts, read retries, transactions).
type engine struct {
	store Store
	opts  options
}

func newEngine(store Store, opts []Option) engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return engine{store: store, opts: o}
}

func (e *engine) now() time.Time { return e.opts.now() }

// call runs fn under the query timeout and marks deadline errors as
// retryable storage failures.
func (e *engine) call(ctx context.Context, fn func(context.Context) error) error {
	if e.opts.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.queryTimeout)
		defer cancel()
	}
	err := fn(ctx)
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrStorageUnavailable) {
		return errors.Join(ErrStorageUnavailable, err)
	}
	return err
}

// read runs an idempotent read, retrying ErrStorageUnavailable with linear
// backoff.
func (e *engine) read(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= e.opts.readRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(time.Duration(attempt) * e.opts.retryBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return errors.Join(err, ctx.Err())
			case <-t.C:
			}
		}
		err = e.call(ctx, fn)
		if !errors.Is(err, ErrStorageUnavailable) {
			return err
		}
		e.opts.logger.WarnContext(ctx, "rbac read failed, retrying",
			"op", op, "attempt", attempt+1, "error", err)
	}
	return err
}

// write runs fn in a single transaction. Writes are never retried.
func (e *engine) write(ctx context.Context, op string, fn func(context.Context, Store) error) error {
	err := e.call(ctx, func(ctx context.Context) error {
		return e.store.WithTx(ctx, func(tx Store) error { return fn(ctx, tx) })
	})
	if err != nil && errors.Is(err, ErrStorageUnavailable) {
		e.opts.logger.ErrorContext(ctx, "rbac write failed", "op", op, "error", err)
	}
	return err
}

// validateParent checks that making parentID the parent of roleID keeps the
// hierarchy acyclic and within the depth bound. roleID may not exist yet.
func (e *engine) validateParent(ctx context.Context, tx Store, roleID, parentID uuid.UUID) error {
	if roleID == parentID {
		return ErrCircularHierarchy
	}

	// Walk one link past the bound so an over-deep chain is observable.
	chain, err := tx.Ancestors(ctx, parentID, e.opts.maxDepth+1)
	if err != nil {
		return err
	}
	for _, r := range chain {
		if r.ID == roleID {
			return ErrCircularHierarchy
		}
	}

	height, err := e.subtreeHeight(ctx, tx, roleID)
	if err != nil {
		return err
	}
	// len(chain)-1 links above the parent, one to the parent, height below.
	if len(chain)+height > e.opts.maxDepth {
		return ErrMaxDepthExceeded
	}
	return nil
}

// subtreeHeight returns the number of links from roleID to its deepest
// descendant. Unknown roles have height 0.
func (e *engine) subtreeHeight(ctx context.Context, tx Store, roleID uuid.UUID) (int, error) {
	levels, err := e.descendantLevels(ctx, tx, roleID)
	if err != nil {
		return 0, err
	}
	return len(levels) - 1, nil
}

// descendantLevels returns roleID's subtree breadth-first, one slice per
// level, the first holding roleID alone.
func (e *engine) descendantLevels(ctx context.Context, tx Store, roleID uuid.UUID) ([][]uuid.UUID, error) {
	levels := [][]uuid.UUID{{roleID}}
	seen := map[uuid.UUID]struct{}{roleID: {}}
	for depth := 0; depth <= e.opts.maxDepth; depth++ {
		var next []uuid.UUID
		for _, id := range levels[len(levels)-1] {
			children, err := tx.Children(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				if _, dup := seen[c.ID]; dup {
					return nil, ErrCircularHierarchy
				}
				seen[c.ID] = struct{}{}
				next = append(next, c.ID)
			}
		}
		if len(next) == 0 {
			break
		}
		levels = append(levels, next)
	}
	return levels, nil
}

// syncTree re-syncs roleID and every descendant, parents first.
func (e *engine) syncTree(ctx context.Context, tx Store, roleID uuid.UUID) error {
	levels, err := e.descendantLevels(ctx, tx, roleID)
	if err != nil {
		return err
	}
	for _, level := range levels {
		for _, id := range level {
			if _, err := e.syncInherited(ctx, tx, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// syncInherited rebuilds the inherited rows of one role from its ancestors'
// direct grants and returns how many rows it inserted.
func (e *engine) syncInherited(ctx context.Context, tx Store, roleID uuid.UUID) (int, error) {
	if err := tx.LockRole(ctx, roleID); err != nil {
		return 0, err
	}
	if _, err := tx.DeleteInheritedAssignments(ctx, roleID); err != nil {
		return 0, err
	}

	chain, err := tx.Ancestors(ctx, roleID, e.opts.maxDepth)
	if err != nil {
		return 0, err
	}
	if len(chain) < 2 {
		return 0, nil
	}

	levels := make(map[uuid.UUID]int, len(chain))
	ids := make([]uuid.UUID, len(chain))
	for i, r := range chain {
		levels[r.ID] = i
		ids[i] = r.ID
	}

	rows, err := tx.ListAssignments(ctx, ids, AssignmentFilter{ActiveOnly: true, DirectOnly: true})
	if err != nil {
		return 0, err
	}

	now := e.now()
	own := make(map[uuid.UUID]struct{})
	nearest := make(map[uuid.UUID]RolePermission)
	for _, rp := range rows {
		if rp.Expired(now) {
			continue
		}
		lvl := levels[rp.RoleID]
		if lvl == 0 {
			own[rp.PermissionID] = struct{}{}
			continue
		}
		if !chain[lvl].IsActive {
			continue
		}
		if cur, ok := nearest[rp.PermissionID]; !ok || lvl < levels[cur.RoleID] {
			nearest[rp.PermissionID] = rp
		}
	}
	for id := range own {
		delete(nearest, id)
	}
	if len(nearest) == 0 {
		return 0, nil
	}

	permIDs := make([]uuid.UUID, 0, len(nearest))
	for id := range nearest {
		permIDs = append(permIDs, id)
	}
	perms, err := tx.GetPermissionsByIDs(ctx, permIDs)
	if err != nil {
		return 0, err
	}
	slices.SortFunc(perms, func(a, b Permission) int { return cmp.Compare(a.Name, b.Name) })

	inserted := 0
	for _, p := range perms {
		if !p.IsActive {
			continue
		}
		src := nearest[p.ID]
		from := src.RoleID
		row := &RolePermission{
			ID:                  uuid.New(),
			RoleID:              roleID,
			PermissionID:        p.ID,
			GrantedBy:           src.GrantedBy,
			GrantedAt:           now,
			Conditions:          src.Conditions,
			ExpiresAt:           src.ExpiresAt,
			IsActive:            true,
			IsInherited:         true,
			InheritedFromRoleID: &from,
		}
		if err := tx.InsertAssignment(ctx, row); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}
