package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/gatekeeper/pkg/rbac"
	"github.com/dmitrymomot/gatekeeper/pkg/session"
)

func (a *API) rbacRoutes(r chi.Router) {
	r.Use(a.auth.RequireAuth)

	r.Group(func(r chi.Router) {
		r.Use(a.auth.RequirePermission(PermRBACRead))
		r.Get("/stats", a.handle(a.stats))
		r.Get("/permissions", a.handle(a.listPermissions))
		r.Get("/permissions/{permissionID}", a.handle(a.getPermission))
		r.Get("/roles", a.handle(a.listRoles))
		r.Get("/roles/{roleID}", a.handle(a.getRole))
		r.Get("/roles/{roleID}/ancestors", a.handle(a.roleAncestors))
		r.Get("/roles/{roleID}/descendants", a.handle(a.roleDescendants))
		r.Get("/roles/{roleID}/permissions", a.handle(a.listRolePermissions))
		r.Get("/roles/{roleID}/permissions/missing", a.handle(a.missingDependencies))
		r.Get("/roles/{roleID}/effective", a.handle(a.roleEffective))
		r.Get("/roles/{roleID}/users", a.handle(a.roleUsers))
		r.Get("/users/{userID}/roles", a.handle(a.userRoles))
		r.Get("/users/{userID}/permissions", a.handle(a.userEffective))
	})

	r.Group(func(r chi.Router) {
		r.Use(a.auth.RequirePermission(PermRBACWrite))
		r.Post("/permissions", a.handle(a.createPermission))
		r.Put("/permissions/{permissionID}", a.handle(a.updatePermission))
		r.Put("/permissions/{permissionID}/active", a.handle(a.setPermissionActive))
		r.Delete("/permissions/{permissionID}", a.handle(a.deletePermission))

		r.Post("/roles", a.handle(a.createRole))
		r.Put("/roles/{roleID}", a.handle(a.updateRole))
		r.Put("/roles/{roleID}/active", a.handle(a.setRoleActive))
		r.Put("/roles/{roleID}/parent", a.handle(a.setParent))
		r.Delete("/roles/{roleID}", a.handle(a.deleteRole))

		r.Post("/roles/{roleID}/permissions", a.handle(a.grantPermissions))
		r.Delete("/roles/{roleID}/permissions/{permissionID}", a.handle(a.revokePermission))
		r.Post("/roles/{roleID}/sync", a.handle(a.syncRole))
		r.Post("/sync", a.handle(a.syncAll))
		r.Post("/cleanup", a.handle(a.cleanup))

		r.Post("/users/{userID}/roles", a.handle(a.assignRole))
		r.Post("/users/{userID}/roles/defaults", a.handle(a.assignDefaultRoles))
		r.Post("/users/{userID}/roles/transfer", a.handle(a.transferRoles))
		r.Put("/users/{userID}/primary-role", a.handle(a.setPrimaryRole))
		r.Delete("/users/{userID}/roles/{roleID}", a.handle(a.revokeRole))
	})

	r.Group(func(r chi.Router) {
		r.Use(a.auth.RequirePermission(PermSessionsManage))
		r.Get("/users/{userID}/sessions", a.handle(a.userSessions))
		r.Delete("/users/{userID}/sessions", a.handle(a.revokeUserSessions))
		r.Delete("/users/{userID}/sessions/{sessionID}", a.handle(a.revokeUserSession))
	})
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) error {
	st, err := a.rbac.Stats(r.Context())
	if err != nil {
		return err
	}
	var out statsView
	out.RBAC.Roles = st.Roles
	out.RBAC.Permissions = st.Permissions
	out.RBAC.ActiveAssignments = st.ActiveAssignments
	out.RBAC.DirectAssignments = st.DirectAssignments
	out.RBAC.InheritedAssignments = st.InheritedAssignments
	out.RBAC.ExpiredAssignments = st.ExpiredAssignments
	out.RBAC.RevokedAssignments = st.RevokedAssignments
	out.RBAC.ActiveBindings = st.ActiveBindings

	sst, err := a.sessions.Stats(r.Context())
	if err != nil {
		return err
	}
	out.Sessions = &sst
	respond(w, http.StatusOK, out)
	return nil
}

// Permissions.

type permissionRequest struct {
	Name                string   `json:"name" validate:"max=255"`
	Module              string   `json:"module" validate:"required,max=64"`
	Action              string   `json:"action" validate:"required,max=64"`
	Resource            string   `json:"resource" validate:"max=64"`
	Description         string   `json:"description" validate:"max=1024"`
	AccessLevel         string   `json:"access_level" validate:"omitempty,oneof=basic intermediate advanced admin"`
	Scope               string   `json:"scope" validate:"omitempty,oneof=own team organization global"`
	RequiresPermissions []string `json:"requires_permissions" validate:"dive,required"`
}

func (p permissionRequest) input() rbac.PermissionInput {
	return rbac.PermissionInput{
		Name:                p.Name,
		Module:              p.Module,
		Action:              p.Action,
		Resource:            p.Resource,
		Description:         p.Description,
		AccessLevel:         rbac.AccessLevel(p.AccessLevel),
		Scope:               rbac.Scope(p.Scope),
		RequiresPermissions: p.RequiresPermissions,
	}
}

type activeRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (a *API) listPermissions(w http.ResponseWriter, r *http.Request) error {
	activeOnly, err := queryBool(r, "active", false)
	if err != nil {
		return err
	}
	list, err := a.rbac.Catalog.ListPermissions(r.Context(), rbac.PermissionFilter{
		Module:     r.URL.Query().Get("module"),
		ActiveOnly: activeOnly,
	})
	if err != nil {
		return err
	}
	respondList(w, mapSlice(list, permissionOf))
	return nil
}

func (a *API) getPermission(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUUID(r, "permissionID")
	if err != nil {
		return err
	}
	p, err := a.rbac.Catalog.GetPermission(r.Context(), id)
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, permissionOf(p))
	return nil
}

func (a *API) createPermission(w http.ResponseWriter, r *http.Request) error {
	var req permissionRequest
	if err := a.decode(w, r, &req); err != nil {
		return err
	}
	p, err := a.rbac.Catalog.CreatePermission(r.Context(), req.input())
	if err != nil {
		return err
	}
	respond(w, http.StatusCreated, permissionOf(p))
	return nil
}

func (a *API) updatePermission(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUUID(r, "permissionID")
	if err != nil {
		return err
	}
	var req permissionRequest
	if err := a.decode(w, r, &req); err != nil {
		return err
	}
	p, err := a.rbac.Catalog.UpdatePermission(r.Context(), id, req.input())
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, permissionOf(p))
	return nil
}

func (a *API) setPermissionActive(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUUID(r, "permissionID")
	if err != nil {
		return err
	}
	var req activeRequest
	if err := a.decode(w, r, &req); err != nil {
		return err
	}
	if err := a.rbac.Catalog.SetPermissionActive(r.Context(), id, *req.Active); err != nil {
		return err
	}
	noContent(w)
	return nil
}

func (a *API) deletePermission(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUUID(r, "permissionID")
	if err != nil {
		return err
	}
	if err := a.rbac.Catalog.DeletePermission(r.Context(), id); err != nil {
		return err
	}
	noContent(w)
	return nil
}

// Roles.

type roleRequest struct {
	Name        string     `json:"name" validate:"required,max=63"`
	DisplayName string     `json:"display_name" validate:"max=255"`
	Description string     `json:"description" validate:"max=1024"`
	ParentID    *uuid.UUID `json:"parent_id"`
	Priority    int        `json:"priority"`
	IsDefault   bool       `json:"is_default"`
	MaxUsers    *int       `json:"max_users" validate:"omitempty,gte=0"`
}

func (q roleRequest) input() rbac.RoleInput {
	return rbac.RoleInput{
		Name:        q.Name,
		DisplayName: q.DisplayName,
		Description: q.Description,
		ParentID:    q.ParentID,
		Priority:    q.Priority,
		IsDefault:   q.IsDefault,
		MaxUsers:    q.MaxUsers,
	}
}

type parentRequest struct {
	ParentID *uuid.UUID `json:"parent_id"`
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) error {
	list, err := a.rbac.Roles.ListRoles(r.Context())
	if err != nil {
		return err
	}
	respondList(w, mapSlice(list, roleOf))
	return nil
}

func (a *API) getRole(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUUID(r, "roleID")
	if err != nil {
		return err
	}
	role, err := a.rbac.Roles.GetRole(r.Context(), id)
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, roleOf(role))
	return nil
}

func (a *API) roleAncestors(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUUID(r, "roleID")
	if err != nil {
		return err
	}
	chain, err := a.rbac.Roles.Ancestors(r.Context(), id)
	if err != nil {
		return err
	}
	respondList(w, mapSlice(chain, roleOf))
	return nil
}

func (a *API) roleDescendants(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUUID(r, "roleID")
	if err != nil {
		return err
	}
	list, err := a.rbac.Roles.Descendants(r.Context(), id)
	if err != nil {
		return err
	}
	respondList(w, mapSlice(list, roleOf))
	return nil
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) error {
	var req roleRequest
	if err := a.decode(w, r, &req); err != nil {
		return err
	}
	role, err := a.rbac.Roles.CreateRole(r.Context(), req.input())
	if err != nil {
		return err
	}
	respond(w, http.StatusCreated, roleOf(role))
	return nil
}

func (a *API) updateRole(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUUID(r, "roleID")
	if err != nil {
		return err
	}
	var req roleRequest
	if err := a.decode(w, r, &req); err != nil {
		return err
	}
	role, err := a.rbac.Roles.UpdateRole(r.Context(), id, req.input())
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, roleOf(role))
	return nil
}

func (a *API) setRoleActive(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUUID(r, "roleID")
	if err != nil {
		return err
	}
	var req activeRequest
	if err := a.decode(w, r, &req); err != nil {
		return err
	}
	if err := a.rbac.Roles.SetRoleActive(r.Context(), id, *req.Active); err != nil {
		return err
	}
	noContent(w)
	return nil
}

func (a *API) setParent(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUUID(r, "roleID")
	if err != nil {
		return err
	}
	var req parentRequest
	if err := a.decode(w, r, &req); err != nil {
		return err
	}
	if err := a.rbac.Roles.SetParent(r.Context(), id, req.ParentID); err != nil {
		return err
	}
	noContent(w)
	return nil
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUUID(r, "roleID")
	if err != nil {
		return err
	}
	replacement, err := queryUUID(r, "replacement")
	if err != nil {
		return err
	}
	if err := a.rbac.Roles.DeleteRole(r.Context(), id, replacement, actor(r.Context())); err != nil {
		return err
	}
	noContent(w)
	return nil
}

// Assignments.

type grantRequest struct {
	PermissionIDs []uuid.UUID    `json:"permission_ids" validate:"required,min=1,max=500"`
	ExpiresAt     *time.Time     `json:"expires_at"`
	Conditions    map[string]any `json:"conditions"`
}

func (a *API) listRolePermissions(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUUID(r, "roleID")
	if err != nil {
		return err
	}
	all, err := queryBool(r, "include_inactive", false)
	if err != nil {
		return err
	}
	list, err := a.rbac.Ledger.ListRolePermissions(r.Context(), id, all)
	if err != nil {
		return err
	}
	respondList(w, mapSlice(list, assignmentOf))
	return nil
}

func (a *API) grantPermissions(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUUID(r, "roleID")
	if err != nil {
		return err
	}
	var req grantRequest
	if err := a.decode(w, r, &req); err != nil {
		return err
	}
	outcomes, err := a.rbac.Ledger.BulkAssignPermissions(r.Context(), id, req.PermissionIDs, rbac.AssignOptions{
		GrantedBy:  actor(r.Context()),
		Conditions: req.Conditions,
		ExpiresAt:  req.ExpiresAt,
	})
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, outcomes)
	return nil
}

func (a *API) revokePermission(w http.ResponseWriter, r *http.Request) error {
	roleID, err := pathUUID(r, "roleID")
	if err != nil {
		return err
	}
	permID, err := pathUUID(r, "permissionID")
	if err != nil {
		return err
	}
	reason := r.URL.Query().Get("reason")
	if err := a.rbac.Ledger.RevokePermission(r.Context(), roleID, permID, actor(r.Context()), reason); err != nil {
		return err
	}
	noContent(w)
	return nil
}

func (a *API) syncRole(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUUID(r, "roleID")
	if err != nil {
		return err
	}
	n, err := a.rbac.Ledger.SyncInheritedPermissions(r.Context(), id)
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, map[string]int{"inherited": n})
	return nil
}

func (a *API) syncAll(w http.ResponseWriter, r *http.Request) error {
	n, err := a.rbac.Ledger.SyncAll(r.Context())
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, map[string]int{"inherited": n})
	return nil
}

func (a *API) cleanup(w http.ResponseWriter, r *http.Request) error {
	assignments, bindings, err := a.rbac.Cleanup(r.Context())
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, map[string]int{"assignments": assignments, "bindings": bindings})
	return nil
}

func (a *API) missingDependencies(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUUID(r, "roleID")
	if err != nil {
		return err
	}
	name := r.URL.Query().Get("permission")
	if name == "" {
		return badRequest("permission is required")
	}
	granted, err := a.rbac.Resolver.ForRole(r.Context(), id, rbac.ResolveOptions{})
	if err != nil {
		return err
	}
	missing, err := a.rbac.Catalog.MissingDependencies(r.Context(), granted, name)
	if err != nil {
		return err
	}
	respondList(w, missing)
	return nil
}

// Resolution.

func (a *API) roleEffective(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUUID(r, "roleID")
	if err != nil {
		return err
	}
	opts, err := resolveOptions(r)
	if err != nil {
		return err
	}
	set, err := a.rbac.Resolver.ForRole(r.Context(), id, opts)
	if err != nil {
		return err
	}
	respondList(w, mapSlice(set, effectiveOf))
	return nil
}

func (a *API) userEffective(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUUID(r, "userID")
	if err != nil {
		return err
	}
	opts, err := resolveOptions(r)
	if err != nil {
		return err
	}
	set, err := a.rbac.Resolver.ForUser(r.Context(), id, opts)
	if err != nil {
		return err
	}
	respondList(w, mapSlice(set, effectiveOf))
	return nil
}

func resolveOptions(r *http.Request) (rbac.ResolveOptions, error) {
	expired, err := queryBool(r, "include_expired", false)
	return rbac.ResolveOptions{IncludeExpired: expired}, err
}

// Bindings.

type bindRequest struct {
	RoleID    uuid.UUID  `json:"role_id" validate:"required"`
	ExpiresAt *time.Time `json:"expires_at"`
	Primary   bool       `json:"primary"`
}

type primaryRequest struct {
	RoleID uuid.UUID `json:"role_id" validate:"required"`
}

type transferRequest struct {
	ToUserID uuid.UUID `json:"to_user_id" validate:"required"`
}

func (a *API) userRoles(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUUID(r, "userID")
	if err != nil {
		return err
	}
	list, err := a.rbac.Bindings.UserRoles(r.Context(), id)
	if err != nil {
		return err
	}
	respondList(w, mapSlice(list, bindingOf))
	return nil
}

func (a *API) roleUsers(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUUID(r, "roleID")
	if err != nil {
		return err
	}
	list, err := a.rbac.Bindings.RoleUsers(r.Context(), id)
	if err != nil {
		return err
	}
	respondList(w, mapSlice(list, bindingOf))
	return nil
}

func (a *API) assignRole(w http.ResponseWriter, r *http.Request) error {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		return err
	}
	var req bindRequest
	if err := a.decode(w, r, &req); err != nil {
		return err
	}
	b, err := a.rbac.Bindings.AssignRole(r.Context(), userID, req.RoleID, rbac.BindOptions{
		AssignedBy: actor(r.Context()),
		ExpiresAt:  req.ExpiresAt,
		Primary:    req.Primary,
	})
	if err != nil {
		return err
	}
	respond(w, http.StatusCreated, bindingOf(b))
	return nil
}

func (a *API) assignDefaultRoles(w http.ResponseWriter, r *http.Request) error {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		return err
	}
	list, err := a.rbac.Bindings.AssignDefaultRoles(r.Context(), userID, actor(r.Context()))
	if err != nil {
		return err
	}
	respondList(w, mapSlice(list, bindingOf))
	return nil
}

func (a *API) transferRoles(w http.ResponseWriter, r *http.Request) error {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		return err
	}
	var req transferRequest
	if err := a.decode(w, r, &req); err != nil {
		return err
	}
	n, err := a.rbac.Bindings.TransferUserRoles(r.Context(), userID, req.ToUserID, actor(r.Context()))
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, map[string]int{"moved": n})
	return nil
}

func (a *API) setPrimaryRole(w http.ResponseWriter, r *http.Request) error {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		return err
	}
	var req primaryRequest
	if err := a.decode(w, r, &req); err != nil {
		return err
	}
	if err := a.rbac.Bindings.SetPrimaryRole(r.Context(), userID, req.RoleID); err != nil {
		return err
	}
	noContent(w)
	return nil
}

func (a *API) revokeRole(w http.ResponseWriter, r *http.Request) error {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		return err
	}
	roleID, err := pathUUID(r, "roleID")
	if err != nil {
		return err
	}
	if err := a.rbac.Bindings.RevokeRole(r.Context(), userID, roleID, actor(r.Context())); err != nil {
		return err
	}
	noContent(w)
	return nil
}

// Session administration.

func (a *API) userSessions(w http.ResponseWriter, r *http.Request) error {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		return err
	}
	activeOnly, err := queryBool(r, "active", true)
	if err != nil {
		return err
	}
	list, err := a.auth.GetUserSessions(r.Context(), userID, activeOnly)
	if err != nil {
		return err
	}
	respondList(w, sessionsOf(list, a.sessions.Now(), uuid.Nil))
	return nil
}

func (a *API) revokeUserSessions(w http.ResponseWriter, r *http.Request) error {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		return err
	}
	n, err := a.auth.RevokeAllSessions(r.Context(), userID, nil, session.ReasonRevoked)
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, map[string]int{"revoked": n})
	return nil
}

func (a *API) revokeUserSession(w http.ResponseWriter, r *http.Request) error {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		return err
	}
	sessionID, err := pathUUID(r, "sessionID")
	if err != nil {
		return err
	}
	if err := a.auth.RevokeSession(r.Context(), userID, sessionID, session.ReasonRevoked); err != nil {
		return err
	}
	noContent(w)
	return nil
}
