// Package rbac implements role-based access control with a role hierarchy,
// time-bounded grants and user-role bindings.
//
// The engine is split into components that share one Store:
//
//   - Catalog: the set of atomic permissions ("billing.read", "orders.*").
//   - Hierarchy: roles in a parent-pointer forest, acyclic and at most
//     MaxInheritanceDepth links deep.
//   - Ledger: grants of permissions to roles, including the materialized
//     inherited rows kept in line with the hierarchy.
//   - Resolver: the effective permission set of a role or a user, computed
//     live from the ancestor chain on every call.
//   - Bindings: roles held by users, with one primary role per user.
//
// Service bundles all of them:
//
//	store := rbac.NewMemoryStore() // or pgstore.New(pool)
//	svc := rbac.New(store, rbac.WithLogger(log))
//
//	employee, _ := svc.Roles.CreateRole(ctx, rbac.RoleInput{Name: "employee"})
//	manager, _ := svc.Roles.CreateRole(ctx, rbac.RoleInput{Name: "manager", ParentID: &employee.ID})
//
//	read, _ := svc.Catalog.CreatePermission(ctx, rbac.PermissionInput{Module: "reports", Action: "read"})
//	_, _ = svc.Ledger.AssignPermission(ctx, employee.ID, read.ID, rbac.AssignOptions{GrantedBy: "admin"})
//
//	_, _ = svc.Bindings.AssignRole(ctx, userID, manager.ID, rbac.BindOptions{})
//	if err := svc.Resolver.Can(ctx, userID, "reports.read"); err != nil {
//	    // rbac.ErrInsufficientPermissions
//	}
//
// Every error returned by the package wraps one of the kinds ErrNotFound,
// ErrConflict, ErrExpired, ErrRevoked, ErrCapacityExceeded,
// ErrDependencyViolation, ErrStorageUnavailable or ErrInvalidInput.
// Reads retry ErrStorageUnavailable; writes run in a single transaction and
// are never retried.
package rbac
