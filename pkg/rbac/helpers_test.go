package rbac_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gatekeeper/pkg/rbac"
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	now   time.Time
	store *rbac.MemoryStore
	svc   *rbac.Service
}

func newFixture(t *testing.T, opts ...rbac.Option) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		now:   time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		store: rbac.NewMemoryStore(),
	}
	opts = append([]rbac.Option{rbac.WithClock(func() time.Time { return f.now })}, opts...)
	f.svc = rbac.New(f.store, opts...)
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) role(name string, parent *rbac.Role) *rbac.Role {
	f.t.Helper()
	in := rbac.RoleInput{Name: name}
	if parent != nil {
		in.ParentID = &parent.ID
	}
	return f.roleWith(in)
}

func (f *fixture) roleWith(in rbac.RoleInput) *rbac.Role {
	f.t.Helper()
	r, err := f.svc.Roles.CreateRole(f.ctx, in)
	require.NoError(f.t, err)
	return r
}

func (f *fixture) perm(name string) *rbac.Permission {
	f.t.Helper()
	parts := strings.SplitN(name, ".", 3)
	in := rbac.PermissionInput{Name: name, Module: parts[0], Action: parts[1]}
	if len(parts) == 3 {
		in.Resource = parts[2]
	}
	p, err := f.svc.Catalog.CreatePermission(f.ctx, in)
	require.NoError(f.t, err)
	return p
}

func (f *fixture) grant(r *rbac.Role, p *rbac.Permission) *rbac.RolePermission {
	f.t.Helper()
	rp, err := f.svc.Ledger.AssignPermission(f.ctx, r.ID, p.ID, rbac.AssignOptions{GrantedBy: "test"})
	require.NoError(f.t, err)
	return rp
}

func (f *fixture) bind(userID uuid.UUID, r *rbac.Role) *rbac.UserRole {
	f.t.Helper()
	ur, err := f.svc.Bindings.AssignRole(f.ctx, userID, r.ID, rbac.BindOptions{AssignedBy: "test"})
	require.NoError(f.t, err)
	return ur
}

func (f *fixture) activeRows(r *rbac.Role) []rbac.RolePermission {
	f.t.Helper()
	rows, err := f.svc.Ledger.ListRolePermissions(f.ctx, r.ID, false)
	require.NoError(f.t, err)
	return rows
}

func ptr[T any](v T) *T { return &v }

// lockLog records the locks transactions take, in order.
type lockLog struct {
	mu    sync.Mutex
	locks []string
}

func (l *lockLog) add(lock string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locks = append(l.locks, lock)
}

func (l *lockLog) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.locks
	l.locks = nil
	return out
}

type lockingStore struct {
	rbac.Store
	log *lockLog
}

func (s lockingStore) WithTx(ctx context.Context, fn func(tx rbac.Store) error) error {
	return s.Store.WithTx(ctx, func(tx rbac.Store) error {
		return fn(lockingStore{Store: tx, log: s.log})
	})
}

func (s lockingStore) LockHierarchy(ctx context.Context) error {
	s.log.add("hierarchy")
	return s.Store.LockHierarchy(ctx)
}

func (s lockingStore) LockRole(ctx context.Context, id uuid.UUID) error {
	s.log.add("role:" + id.String())
	return s.Store.LockRole(ctx, id)
}

func (s lockingStore) LockPermission(ctx context.Context, id uuid.UUID) error {
	s.log.add("permission:" + id.String())
	return s.Store.LockPermission(ctx, id)
}
