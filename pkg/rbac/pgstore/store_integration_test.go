//go:build integration

package pgstore_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dmitrymomot/gatekeeper/pkg/pg"
	"github.com/dmitrymomot/gatekeeper/pkg/rbac"
	"github.com/dmitrymomot/gatekeeper/pkg/rbac/pgstore"
)

func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("gatekeeper_test"),
		postgres.WithUsername("gatekeeper"),
		postgres.WithPassword("gatekeeper"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := pg.Config{
		ConnectionString: dsn,
		MaxOpenConns:     10,
		MaxIdleConns:     1,
		RetryAttempts:    3,
		RetryInterval:    time.Second,
		MigrationsPath:   pgstore.MigrationsDir,
		MigrationsTable:  "schema_migrations",
	}
	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pg.Migrate(ctx, pool, cfg, pgstore.Migrations, slog.New(slog.DiscardHandler)))
	return pool
}

func TestPostgresStore(t *testing.T) {
	pool := setupPool(t)
	ctx := context.Background()
	svc := rbac.New(pgstore.New(pool))

	employee, err := svc.Roles.CreateRole(ctx, rbac.RoleInput{Name: "employee"})
	require.NoError(t, err)
	manager, err := svc.Roles.CreateRole(ctx, rbac.RoleInput{Name: "manager", ParentID: &employee.ID})
	require.NoError(t, err)

	read, err := svc.Catalog.CreatePermission(ctx, rbac.PermissionInput{Module: "reports", Action: "read"})
	require.NoError(t, err)
	approve, err := svc.Catalog.CreatePermission(ctx, rbac.PermissionInput{
		Module:              "reports",
		Action:              "approve",
		AccessLevel:         rbac.AccessAdvanced,
		RequiresPermissions: []string{"reports.read"},
	})
	require.NoError(t, err)

	_, err = svc.Catalog.CreatePermission(ctx, rbac.PermissionInput{Module: "reports", Action: "read"})
	assert.ErrorIs(t, err, rbac.ErrPermissionExists)

	_, err = svc.Ledger.AssignPermission(ctx, employee.ID, read.ID, rbac.AssignOptions{
		GrantedBy:  "admin",
		Conditions: map[string]any{"department": "sales"},
	})
	require.NoError(t, err)
	_, err = svc.Ledger.AssignPermission(ctx, manager.ID, approve.ID, rbac.AssignOptions{GrantedBy: "admin"})
	require.NoError(t, err)

	t.Run("inherited rows are materialized", func(t *testing.T) {
		rows, err := svc.Ledger.ListRolePermissions(ctx, manager.ID, false)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		for _, rp := range rows {
			if rp.PermissionID == read.ID {
				assert.True(t, rp.IsInherited)
				assert.Equal(t, employee.ID, *rp.InheritedFromRoleID)
				assert.Equal(t, "sales", rp.Conditions["department"])
			}
		}
	})

	t.Run("resolution", func(t *testing.T) {
		alice := uuid.New()
		_, err := svc.Bindings.AssignRole(ctx, alice, manager.ID, rbac.BindOptions{AssignedBy: "admin"})
		require.NoError(t, err)

		set, err := svc.Resolver.ForUser(ctx, alice, rbac.ResolveOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"reports.approve", "reports.read"}, rbac.Names(set))
		assert.Equal(t, 1, set[1].InheritanceLevel)
		assert.NoError(t, svc.Resolver.Can(ctx, alice, "reports.approve"))
	})

	t.Run("cycles rejected", func(t *testing.T) {
		err := svc.Roles.SetParent(ctx, employee.ID, &manager.ID)
		assert.ErrorIs(t, err, rbac.ErrCircularHierarchy)
	})

	t.Run("permission in use", func(t *testing.T) {
		assert.ErrorIs(t, svc.Catalog.DeletePermission(ctx, read.ID), rbac.ErrPermissionInUse)
		p, err := svc.Catalog.GetPermission(ctx, read.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, p.UsageCount)
	})

	t.Run("primary role uniqueness", func(t *testing.T) {
		user := uuid.New()
		_, err := svc.Bindings.AssignRole(ctx, user, employee.ID, rbac.BindOptions{})
		require.NoError(t, err)
		_, err = svc.Bindings.AssignRole(ctx, user, manager.ID, rbac.BindOptions{})
		require.NoError(t, err)

		require.NoError(t, svc.Bindings.SetPrimaryRole(ctx, user, manager.ID))
		require.NoError(t, svc.Bindings.SetPrimaryRole(ctx, user, employee.ID))

		roles, err := svc.Bindings.UserRoles(ctx, user)
		require.NoError(t, err)
		require.Len(t, roles, 2)
		assert.True(t, roles[0].IsPrimary)
		assert.Equal(t, employee.ID, roles[0].RoleID)
		assert.False(t, roles[1].IsPrimary)
	})

	t.Run("capacity under concurrency", func(t *testing.T) {
		seats, err := svc.Roles.CreateRole(ctx, rbac.RoleInput{Name: "seats", MaxUsers: ptr(3)})
		require.NoError(t, err)

		var wg sync.WaitGroup
		var mu sync.Mutex
		ok := 0
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := svc.Bindings.AssignRole(ctx, uuid.New(), seats.ID, rbac.BindOptions{}); err == nil {
					mu.Lock()
					ok++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 3, ok)
	})

	t.Run("concurrent parent swaps never form a cycle", func(t *testing.T) {
		for i := range 10 {
			a, err := svc.Roles.CreateRole(ctx, rbac.RoleInput{Name: fmt.Sprintf("swap-a-%d", i)})
			require.NoError(t, err)
			b, err := svc.Roles.CreateRole(ctx, rbac.RoleInput{Name: fmt.Sprintf("swap-b-%d", i)})
			require.NoError(t, err)

			errs := make([]error, 2)
			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				errs[0] = svc.Roles.SetParent(ctx, a.ID, &b.ID)
			}()
			go func() {
				defer wg.Done()
				errs[1] = svc.Roles.SetParent(ctx, b.ID, &a.ID)
			}()
			wg.Wait()

			failed := 0
			for _, err := range errs {
				if err != nil {
					assert.ErrorIs(t, err, rbac.ErrCircularHierarchy)
					failed++
				}
			}
			assert.Equal(t, 1, failed)
			_, err = svc.Roles.Ancestors(ctx, a.ID)
			assert.NoError(t, err)
		}
	})

	t.Run("delete and assign of one permission serialize", func(t *testing.T) {
		holder, err := svc.Roles.CreateRole(ctx, rbac.RoleInput{Name: "holder"})
		require.NoError(t, err)

		for i := range 10 {
			p, err := svc.Catalog.CreatePermission(ctx, rbac.PermissionInput{Module: "race", Action: fmt.Sprintf("act%d", i)})
			require.NoError(t, err)

			var deleteErr, assignErr error
			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				deleteErr = svc.Catalog.DeletePermission(ctx, p.ID)
			}()
			go func() {
				defer wg.Done()
				_, assignErr = svc.Ledger.AssignPermission(ctx, holder.ID, p.ID, rbac.AssignOptions{GrantedBy: "admin"})
			}()
			wg.Wait()

			if deleteErr == nil {
				assert.ErrorIs(t, assignErr, rbac.ErrPermissionNotFound)
				continue
			}
			assert.ErrorIs(t, deleteErr, rbac.ErrPermissionInUse)
			assert.NoError(t, assignErr)
		}
	})

	t.Run("deleted names can be reused", func(t *testing.T) {
		old, err := svc.Catalog.CreatePermission(ctx, rbac.PermissionInput{Module: "legacy", Action: "export"})
		require.NoError(t, err)
		require.NoError(t, svc.Catalog.DeletePermission(ctx, old.ID))

		fresh, err := svc.Catalog.CreatePermission(ctx, rbac.PermissionInput{Module: "legacy", Action: "export"})
		require.NoError(t, err)
		assert.NotEqual(t, old.ID, fresh.ID)

		got, err := svc.Catalog.GetPermissionByName(ctx, "legacy.export")
		require.NoError(t, err)
		assert.Equal(t, fresh.ID, got.ID)

		_, err = svc.Catalog.CreatePermission(ctx, rbac.PermissionInput{Module: "legacy", Action: "export"})
		assert.ErrorIs(t, err, rbac.ErrPermissionExists)
	})

	t.Run("stats", func(t *testing.T) {
		st, err := svc.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, st.Roles)
		assert.Equal(t, 2, st.Permissions)
		assert.Equal(t, 1, st.InheritedAssignments)
	})
}

func ptr[T any](v T) *T { return &v }
