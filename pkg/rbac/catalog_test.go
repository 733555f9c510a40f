package rbac_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gatekeeper/pkg/rbac"
)

func TestCatalog_CreatePermission(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    rbac.PermissionInput
		wantName string
		wantErr  error
	}{
		{
			name:     "name derived from module and action",
			input:    rbac.PermissionInput{Module: "Billing", Action: "Read"},
			wantName: "billing.read",
		},
		{
			name:     "name derived with resource",
			input:    rbac.PermissionInput{Module: "billing", Action: "export", Resource: "invoices"},
			wantName: "billing.export.invoices",
		},
		{
			name:     "module wildcard",
			input:    rbac.PermissionInput{Module: "orders", Action: "*"},
			wantName: "orders.*",
		},
		{
			name:    "invalid module",
			input:   rbac.PermissionInput{Module: "1billing", Action: "read"},
			wantErr: rbac.ErrInvalidName,
		},
		{
			name:    "invalid explicit name",
			input:   rbac.PermissionInput{Name: "billing", Module: "billing", Action: "read"},
			wantErr: rbac.ErrInvalidName,
		},
		{
			name:    "unknown access level",
			input:   rbac.PermissionInput{Module: "billing", Action: "read", AccessLevel: "god"},
			wantErr: rbac.ErrInvalidAccessLevel,
		},
		{
			name:    "unknown scope",
			input:   rbac.PermissionInput{Module: "billing", Action: "read", Scope: "planet"},
			wantErr: rbac.ErrInvalidScope,
		},
		{
			name:    "unknown required permission",
			input:   rbac.PermissionInput{Module: "billing", Action: "refund", RequiresPermissions: []string{"billing.approve"}},
			wantErr: rbac.ErrPermissionNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p, err := f.svc.Catalog.CreatePermission(f.ctx, tt.input)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name)
			assert.True(t, p.IsActive)
			assert.Equal(t, rbac.AccessBasic, p.AccessLevel)
			assert.Equal(t, rbac.ScopeOwn, p.Scope)
		})
	}
}

func TestCatalog_DuplicateName(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.perm("billing.read")

	_, err := f.svc.Catalog.CreatePermission(f.ctx, rbac.PermissionInput{Module: "billing", Action: "read"})
	require.ErrorIs(t, err, rbac.ErrPermissionExists)
	assert.ErrorIs(t, err, rbac.ErrConflict)
}

func TestCatalog_DeletedNameCanBeReused(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	old := f.perm("billing.export")
	require.NoError(t, f.svc.Catalog.DeletePermission(f.ctx, old.ID))

	got, err := f.svc.Catalog.GetPermissionByName(f.ctx, "billing.export")
	require.NoError(t, err)
	assert.Equal(t, old.ID, got.ID)
	assert.NotNil(t, got.DeletedAt)

	fresh := f.perm("billing.export")
	assert.NotEqual(t, old.ID, fresh.ID)

	got, err = f.svc.Catalog.GetPermissionByName(f.ctx, "billing.export")
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, got.ID)
	assert.Nil(t, got.DeletedAt)

	_, err = f.svc.Catalog.CreatePermission(f.ctx, rbac.PermissionInput{Module: "billing", Action: "export"})
	assert.ErrorIs(t, err, rbac.ErrPermissionExists)
}

func TestCatalog_DeletePermission(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	r := f.role("support", nil)
	p := f.perm("tickets.close")
	f.grant(r, p)

	got, err := f.svc.Catalog.GetPermission(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsageCount)

	err = f.svc.Catalog.DeletePermission(f.ctx, p.ID)
	require.ErrorIs(t, err, rbac.ErrPermissionInUse)
	assert.ErrorIs(t, err, rbac.ErrDependencyViolation)

	require.NoError(t, f.svc.Ledger.RevokePermission(f.ctx, r.ID, p.ID, "admin", "cleanup"))
	require.NoError(t, f.svc.Catalog.DeletePermission(f.ctx, p.ID))

	got, err = f.svc.Catalog.GetPermission(f.ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.NotNil(t, got.DeletedAt)
	assert.Equal(t, 0, got.UsageCount)

	active, err := f.svc.Catalog.ListPermissions(f.ctx, rbac.PermissionFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestCatalog_DeleteAndAssignLockThePermission(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	log := &lockLog{}
	svc := rbac.New(lockingStore{Store: rbac.NewMemoryStore(), log: log})

	r, err := svc.Roles.CreateRole(ctx, rbac.RoleInput{Name: "support"})
	require.NoError(t, err)
	p, err := svc.Catalog.CreatePermission(ctx, rbac.PermissionInput{Module: "tickets", Action: "close"})
	require.NoError(t, err)
	log.take()

	_, err = svc.Ledger.AssignPermission(ctx, r.ID, p.ID, rbac.AssignOptions{GrantedBy: "admin"})
	require.NoError(t, err)
	assert.Contains(t, log.take(), "permission:"+p.ID.String())

	assert.ErrorIs(t, svc.Catalog.DeletePermission(ctx, p.ID), rbac.ErrPermissionInUse)
	locks := log.take()
	require.NotEmpty(t, locks)
	assert.Equal(t, "permission:"+p.ID.String(), locks[0], "locked before usage is counted")

	require.NoError(t, svc.Ledger.RevokePermission(ctx, r.ID, p.ID, "admin", "cleanup"))
	require.NoError(t, svc.Catalog.DeletePermission(ctx, p.ID))

	_, err = svc.Ledger.AssignPermission(ctx, r.ID, p.ID, rbac.AssignOptions{GrantedBy: "admin"})
	assert.ErrorIs(t, err, rbac.ErrPermissionNotFound, "deleted permissions cannot be granted")
}

func TestCatalog_SystemPermissionIsImmutable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p, err := f.svc.Catalog.CreatePermission(f.ctx, rbac.PermissionInput{Module: "system", Action: "admin", IsSystem: true})
	require.NoError(t, err)

	_, err = f.svc.Catalog.UpdatePermission(f.ctx, p.ID, rbac.PermissionInput{Module: "system", Action: "root"})
	assert.ErrorIs(t, err, rbac.ErrSystemPermission)
	assert.ErrorIs(t, f.svc.Catalog.DeletePermission(f.ctx, p.ID), rbac.ErrSystemPermission)
	assert.ErrorIs(t, f.svc.Catalog.SetPermissionActive(f.ctx, p.ID, false), rbac.ErrSystemPermission)
}

func TestCatalog_ListPermissionsByModule(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.perm("billing.read")
	f.perm("billing.write")
	f.perm("orders.read")

	got, err := f.svc.Catalog.ListPermissions(f.ctx, rbac.PermissionFilter{Module: "billing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"billing.read", "billing.write"}, permissionNames(got))
}

func TestCatalog_MissingDependencies(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.perm("reports.read")
	_, err := f.svc.Catalog.CreatePermission(f.ctx, rbac.PermissionInput{
		Module:              "reports",
		Action:              "export",
		RequiresPermissions: []string{"reports.read"},
	})
	require.NoError(t, err)

	missing, err := f.svc.Catalog.MissingDependencies(f.ctx, nil, "reports.export")
	require.NoError(t, err)
	assert.Equal(t, []string{"reports.read"}, missing)

	granted := []rbac.EffectivePermission{{Permission: "reports.*"}}
	missing, err = f.svc.Catalog.MissingDependencies(f.ctx, granted, "reports.export")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func permissionNames(ps []rbac.Permission) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}
