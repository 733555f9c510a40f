package httpapi_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type idView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func TestAdminRoutesRequirePermissions(t *testing.T) {
	t.Parallel()
	s := newServer(t, nil)
	s.user("viewer@example.com", s.viewer)
	token := s.login("viewer@example.com")

	tests := []struct {
		method, path string
		body         any
	}{
		{http.MethodGet, "/v1/rbac/roles", nil},
		{http.MethodPost, "/v1/rbac/roles", map[string]any{"name": "editor"}},
		{http.MethodGet, "/v1/rbac/users/" + s.users["viewer@example.com"].String() + "/sessions", nil},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			res := s.do(tt.method, tt.path, token, tt.body)
			assert.Equal(t, http.StatusForbidden, res.Code)
			require.NotNil(t, res.Error)
			assert.Equal(t, "forbidden", res.Error.Code)
		})
	}

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/rbac/roles", "", nil).Code)
}

func TestAdminManagesHierarchy(t *testing.T) {
	t.Parallel()
	s := newServer(t, nil)
	s.user("root@example.com", s.admin)
	token := s.login("root@example.com")

	res := s.do(http.MethodPost, "/v1/rbac/roles", token, map[string]any{"name": "employee"})
	require.Equal(t, http.StatusCreated, res.Code)
	employee := decodeData[idView](t, res)

	res = s.do(http.MethodPost, "/v1/rbac/roles", token, map[string]any{"name": "manager", "parent_id": employee.ID})
	require.Equal(t, http.StatusCreated, res.Code)
	manager := decodeData[idView](t, res)

	res = s.do(http.MethodPost, "/v1/rbac/roles", token, map[string]any{"name": "employee"})
	assert.Equal(t, http.StatusConflict, res.Code)

	res = s.do(http.MethodPut, "/v1/rbac/roles/"+employee.ID+"/parent", token, map[string]any{"parent_id": manager.ID})
	require.Equal(t, http.StatusConflict, res.Code, "cycle")

	res = s.do(http.MethodPost, "/v1/rbac/permissions", token, map[string]any{
		"module": "timesheets", "action": "submit", "access_level": "basic", "scope": "own",
	})
	require.Equal(t, http.StatusCreated, res.Code)
	perm := decodeData[idView](t, res)
	assert.Equal(t, "timesheets.submit", perm.Name)

	res = s.do(http.MethodPost, "/v1/rbac/permissions", token, map[string]any{"module": "x", "action": "y", "scope": "galaxy"})
	require.Equal(t, http.StatusUnprocessableEntity, res.Code)
	assert.Contains(t, res.Error.Details, "scope")

	res = s.do(http.MethodPost, "/v1/rbac/roles/"+employee.ID+"/permissions", token, map[string]any{"permission_ids": []string{perm.ID}})
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"`+perm.ID+`":"inserted"}`, string(res.Data))

	res = s.do(http.MethodGet, "/v1/rbac/roles/"+manager.ID+"/effective", token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	effective := decodeData[[]struct {
		Permission       string `json:"permission"`
		IsInherited      bool   `json:"is_inherited"`
		InheritanceLevel int    `json:"inheritance_level"`
		SourceRole       string `json:"source_role"`
	}](t, res)
	require.Len(t, effective, 1)
	assert.Equal(t, "timesheets.submit", effective[0].Permission)
	assert.True(t, effective[0].IsInherited)
	assert.Equal(t, 1, effective[0].InheritanceLevel)
	assert.Equal(t, "employee", effective[0].SourceRole)

	res = s.do(http.MethodDelete, "/v1/rbac/permissions/"+perm.ID, token, nil)
	assert.Equal(t, http.StatusConflict, res.Code, "permission in use")

	res = s.do(http.MethodDelete, "/v1/rbac/roles/"+employee.ID+"/permissions/"+perm.ID+"?reason=cleanup", token, nil)
	assert.Equal(t, http.StatusNoContent, res.Code)
	res = s.do(http.MethodDelete, "/v1/rbac/roles/"+employee.ID+"/permissions/"+perm.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = s.do(http.MethodGet, "/v1/rbac/roles/not-a-uuid", token, nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestAdminManagesBindings(t *testing.T) {
	t.Parallel()
	s := newServer(t, nil)
	s.user("root@example.com", s.admin)
	token := s.login("root@example.com")
	target := s.user("frank", s.viewer)

	res := s.do(http.MethodPost, "/v1/rbac/roles", token, map[string]any{"name": "auditor", "max_users": 1})
	require.Equal(t, http.StatusCreated, res.Code)
	auditor := decodeData[idView](t, res)

	userPath := "/v1/rbac/users/" + target.String()
	res = s.do(http.MethodPost, userPath+"/roles", token, map[string]any{"role_id": auditor.ID, "primary": true})
	require.Equal(t, http.StatusCreated, res.Code)

	res = s.do(http.MethodPost, "/v1/rbac/users/"+s.user("gina", s.viewer).String()+"/roles", token, map[string]any{"role_id": auditor.ID})
	assert.Equal(t, http.StatusConflict, res.Code, "max users reached")

	res = s.do(http.MethodGet, userPath+"/roles", token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	bindings := decodeData[[]struct {
		RoleID    string `json:"role_id"`
		IsPrimary bool   `json:"is_primary"`
	}](t, res)
	require.Len(t, bindings, 2)
	primaries := 0
	for _, b := range bindings {
		if b.IsPrimary {
			primaries++
			assert.Equal(t, auditor.ID, b.RoleID)
		}
	}
	assert.Equal(t, 1, primaries)

	res = s.do(http.MethodPut, userPath+"/primary-role", token, map[string]any{"role_id": s.viewer.ID.String()})
	assert.Equal(t, http.StatusNoContent, res.Code)

	res = s.do(http.MethodGet, userPath+"/permissions", token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.EqualValues(t, 1, res.Meta["total"])

	res = s.do(http.MethodDelete, userPath+"/roles/"+auditor.ID, token, nil)
	assert.Equal(t, http.StatusNoContent, res.Code)

	res = s.do(http.MethodGet, "/v1/rbac/stats", token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	stats := decodeData[struct {
		RBAC struct {
			Roles int `json:"roles"`
		} `json:"rbac"`
		Sessions struct {
			Active int `json:"active"`
		} `json:"sessions"`
	}](t, res)
	assert.Equal(t, 3, stats.RBAC.Roles)
	assert.Equal(t, 1, stats.Sessions.Active)
}

func TestAdminRevokesUserSessions(t *testing.T) {
	t.Parallel()
	s := newServer(t, nil)
	s.user("root@example.com", s.admin)
	admin := s.login("root@example.com")
	userID := s.user("hank", s.viewer)
	victim := s.login("hank")

	path := "/v1/rbac/users/" + userID.String() + "/sessions"
	res := s.do(http.MethodGet, path, admin, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.EqualValues(t, 1, res.Meta["total"])

	res = s.do(http.MethodDelete, path, admin, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"revoked":1}`, string(res.Data))

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/auth/me", victim, nil).Code)
}
