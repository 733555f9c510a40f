package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/gatekeeper/pkg/rbac"
)

// AdminPermissions are the permissions the administrative routes check.
var AdminPermissions = []string{PermRBACRead, PermRBACWrite, PermSessionsManage}

// Bootstrap makes sure AdminPermissions exist as system permissions and are
// granted to a system role named roleName, creating what is missing. It is
// safe to run on every start.
func Bootstrap(ctx context.Context, engine *rbac.Service, roleName string) (*rbac.Role, error) {
	ids := make([]uuid.UUID, 0, len(AdminPermissions))
	for _, name := range AdminPermissions {
		p, err := engine.Catalog.GetPermissionByName(ctx, name)
		if errors.Is(err, rbac.ErrNotFound) {
			module, action, _ := strings.Cut(name, ".")
			p, err = engine.Catalog.CreatePermission(ctx, rbac.PermissionInput{
				Name:        name,
				Module:      module,
				Action:      action,
				AccessLevel: rbac.AccessAdmin,
				Scope:       rbac.ScopeGlobal,
				IsSystem:    true,
			})
		}
		if err != nil {
			return nil, fmt.Errorf("bootstrap permission %s: %w", name, err)
		}
		ids = append(ids, p.ID)
	}

	role, err := engine.Roles.GetRoleByName(ctx, roleName)
	if errors.Is(err, rbac.ErrNotFound) {
		role, err = engine.Roles.CreateRole(ctx, rbac.RoleInput{
			Name:        roleName,
			DisplayName: "Administrator",
			Description: "Manages roles, permissions and sessions",
			Priority:    1000,
			IsSystem:    true,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("bootstrap role %s: %w", roleName, err)
	}

	if _, err := engine.Ledger.BulkAssignPermissions(ctx, role.ID, ids, rbac.AssignOptions{GrantedBy: "system"}); err != nil {
		return nil, fmt.Errorf("bootstrap grants: %w", err)
	}
	return role, nil
}
