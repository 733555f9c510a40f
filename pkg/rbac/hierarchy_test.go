package rbac_test

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gatekeeper/pkg/rbac"
)

func TestHierarchy_CreateRoleValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   rbac.RoleInput
		wantErr error
	}{
		{name: "valid", input: rbac.RoleInput{Name: "editor"}},
		{name: "normalized", input: rbac.RoleInput{Name: "  Editor "}},
		{name: "too short", input: rbac.RoleInput{Name: "e"}, wantErr: rbac.ErrInvalidName},
		{name: "spaces", input: rbac.RoleInput{Name: "content editor"}, wantErr: rbac.ErrInvalidName},
		{name: "reserved", input: rbac.RoleInput{Name: "root"}, wantErr: rbac.ErrReservedName},
		{name: "reserved system role", input: rbac.RoleInput{Name: "root", IsSystem: true}},
		{name: "negative max users", input: rbac.RoleInput{Name: "editor", MaxUsers: ptr(-1)}, wantErr: rbac.ErrInvalidInput},
		{name: "unknown parent", input: rbac.RoleInput{Name: "editor", ParentID: ptr(uuid.New())}, wantErr: rbac.ErrRoleNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			r, err := f.svc.Roles.CreateRole(f.ctx, tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, r.IsActive)
			assert.NotEmpty(t, r.DisplayName)
		})
	}
}

func TestHierarchy_ReservedNamesOverride(t *testing.T) {
	t.Parallel()
	f := newFixture(t, rbac.WithReservedNames("superuser"))

	_, err := f.svc.Roles.CreateRole(f.ctx, rbac.RoleInput{Name: "superuser"})
	assert.ErrorIs(t, err, rbac.ErrReservedName)
	_, err = f.svc.Roles.CreateRole(f.ctx, rbac.RoleInput{Name: "root"})
	assert.NoError(t, err)
}

func TestHierarchy_DuplicateRole(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.role("editor", nil)

	_, err := f.svc.Roles.CreateRole(f.ctx, rbac.RoleInput{Name: "editor"})
	require.ErrorIs(t, err, rbac.ErrRoleExists)
	assert.ErrorIs(t, err, rbac.ErrConflict)
}

func TestHierarchy_SetParentRejectsCycles(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := f.role("aa", nil)
	b := f.role("bb", a)
	c := f.role("cc", b)

	err := f.svc.Roles.SetParent(f.ctx, a.ID, &c.ID)
	require.ErrorIs(t, err, rbac.ErrCircularHierarchy)
	assert.ErrorIs(t, err, rbac.ErrConflict)

	assert.ErrorIs(t, f.svc.Roles.SetParent(f.ctx, a.ID, &a.ID), rbac.ErrCircularHierarchy)

	// Nothing was written.
	got, err := f.svc.Roles.GetRole(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ParentID)

	chain, err := f.svc.Roles.Ancestors(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"cc", "bb", "aa"}, roleNames(chain))
}

func TestHierarchy_MaxDepth(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var parent *rbac.Role
	for i := 0; i <= rbac.MaxInheritanceDepth; i++ {
		parent = f.role(fmt.Sprintf("r%d", i), parent)
	}

	_, err := f.svc.Roles.CreateRole(f.ctx, rbac.RoleInput{Name: "too-deep", ParentID: &parent.ID})
	require.ErrorIs(t, err, rbac.ErrMaxDepthExceeded)
	assert.ErrorIs(t, err, rbac.ErrConflict)
}

func TestHierarchy_SetParentCountsSubtreeHeight(t *testing.T) {
	t.Parallel()
	f := newFixture(t, rbac.WithMaxDepth(3))
	a := f.role("aa", nil)
	b := f.role("bb", a)
	c := f.role("cc", b)
	x := f.role("xx", nil)
	f.role("yy", x)

	assert.ErrorIs(t, f.svc.Roles.SetParent(f.ctx, x.ID, &c.ID), rbac.ErrMaxDepthExceeded)
	require.NoError(t, f.svc.Roles.SetParent(f.ctx, x.ID, &b.ID))

	desc, err := f.svc.Roles.Descendants(f.ctx, a.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bb", "cc", "xx", "yy"}, roleNames(desc))

	require.NoError(t, f.svc.Roles.SetParent(f.ctx, x.ID, nil))
	got, err := f.svc.Roles.GetRole(f.ctx, x.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ParentID)
}

func TestHierarchy_SetParentResyncsInheritedRows(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	admin := f.role("admin", nil)
	staff := f.role("staff", nil)
	p := f.perm("users.manage")
	f.grant(admin, p)

	assert.Empty(t, f.activeRows(staff))

	require.NoError(t, f.svc.Roles.SetParent(f.ctx, staff.ID, &admin.ID))
	rows := f.activeRows(staff)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsInherited)
	assert.Equal(t, admin.ID, *rows[0].InheritedFromRoleID)

	require.NoError(t, f.svc.Roles.SetParent(f.ctx, staff.ID, nil))
	assert.Empty(t, f.activeRows(staff))
}

func TestHierarchy_SystemRoleIsProtected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sys := f.roleWith(rbac.RoleInput{Name: "owner", IsSystem: true})

	_, err := f.svc.Roles.UpdateRole(f.ctx, sys.ID, rbac.RoleInput{Name: "boss"})
	assert.ErrorIs(t, err, rbac.ErrSystemRole)
	assert.ErrorIs(t, f.svc.Roles.SetRoleActive(f.ctx, sys.ID, false), rbac.ErrSystemRole)
	assert.ErrorIs(t, f.svc.Roles.DeleteRole(f.ctx, sys.ID, nil, "admin"), rbac.ErrSystemRole)

	updated, err := f.svc.Roles.UpdateRole(f.ctx, sys.ID, rbac.RoleInput{Description: "tenant owner", Priority: 100})
	require.NoError(t, err)
	assert.Equal(t, "owner", updated.Name)
	assert.Equal(t, 100, updated.Priority)
}

func TestHierarchy_DeleteRole(t *testing.T) {
	t.Parallel()

	t.Run("blocked by active users", func(t *testing.T) {
		f := newFixture(t)
		r := f.role("editor", nil)
		f.bind(uuid.New(), r)

		err := f.svc.Roles.DeleteRole(f.ctx, r.ID, nil, "admin")
		require.ErrorIs(t, err, rbac.ErrRoleInUse)
		assert.ErrorIs(t, err, rbac.ErrDependencyViolation)
	})

	t.Run("moves users to replacement", func(t *testing.T) {
		f := newFixture(t)
		old := f.role("editor", nil)
		repl := f.role("writer", nil)
		user := uuid.New()
		f.bind(user, old)

		require.NoError(t, f.svc.Roles.DeleteRole(f.ctx, old.ID, &repl.ID, "admin"))

		_, err := f.svc.Roles.GetRole(f.ctx, old.ID)
		assert.ErrorIs(t, err, rbac.ErrRoleNotFound)

		roles, err := f.svc.Bindings.UserRoles(f.ctx, user)
		require.NoError(t, err)
		require.Len(t, roles, 1)
		assert.Equal(t, repl.ID, roles[0].RoleID)
		assert.True(t, roles[0].IsPrimary)
	})

	t.Run("replacement capacity enforced", func(t *testing.T) {
		f := newFixture(t)
		old := f.role("editor", nil)
		repl := f.roleWith(rbac.RoleInput{Name: "writer", MaxUsers: ptr(1)})
		f.bind(uuid.New(), repl)
		f.bind(uuid.New(), old)

		err := f.svc.Roles.DeleteRole(f.ctx, old.ID, &repl.ID, "admin")
		assert.ErrorIs(t, err, rbac.ErrCapacityExceeded)
	})

	t.Run("children move to grandparent", func(t *testing.T) {
		f := newFixture(t)
		top := f.role("top", nil)
		mid := f.role("mid", top)
		leaf := f.role("leaf", mid)
		topPerm := f.perm("org.read")
		midPerm := f.perm("team.read")
		f.grant(top, topPerm)
		f.grant(mid, midPerm)
		require.Len(t, f.activeRows(leaf), 2)

		require.NoError(t, f.svc.Roles.DeleteRole(f.ctx, mid.ID, nil, "admin"))

		got, err := f.svc.Roles.GetRole(f.ctx, leaf.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ParentID)
		assert.Equal(t, top.ID, *got.ParentID)

		rows := f.activeRows(leaf)
		require.Len(t, rows, 1)
		assert.Equal(t, topPerm.ID, rows[0].PermissionID)
	})
}

func roleNames(rs []rbac.Role) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Name
	}
	return out
}

func TestHierarchy_ParentChangesTakeHierarchyLock(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	log := &lockLog{}
	svc := rbac.New(lockingStore{Store: rbac.NewMemoryStore(), log: log})

	top, err := svc.Roles.CreateRole(ctx, rbac.RoleInput{Name: "top"})
	require.NoError(t, err)
	assert.Empty(t, log.take(), "a root role touches no parent link")

	mid, err := svc.Roles.CreateRole(ctx, rbac.RoleInput{Name: "mid", ParentID: &top.ID})
	require.NoError(t, err)
	locks := log.take()
	require.NotEmpty(t, locks)
	assert.Equal(t, "hierarchy", locks[0])

	leaf, err := svc.Roles.CreateRole(ctx, rbac.RoleInput{Name: "leaf"})
	require.NoError(t, err)
	log.take()

	require.NoError(t, svc.Roles.SetParent(ctx, leaf.ID, &mid.ID))
	locks = log.take()
	require.NotEmpty(t, locks)
	assert.Equal(t, "hierarchy", locks[0], "taken before any role lock")

	require.NoError(t, svc.Roles.DeleteRole(ctx, mid.ID, nil, "admin"))
	locks = log.take()
	require.NotEmpty(t, locks)
	assert.Equal(t, "hierarchy", locks[0])

	leafNow, err := svc.Roles.GetRole(ctx, leaf.ID)
	require.NoError(t, err)
	assert.Equal(t, &top.ID, leafNow.ParentID)
}
