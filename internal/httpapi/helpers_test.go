package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gatekeeper/internal/httpapi"
	"github.com/dmitrymomot/gatekeeper/pkg/jwt"
	"github.com/dmitrymomot/gatekeeper/pkg/loginguard"
	"github.com/dmitrymomot/gatekeeper/pkg/ratelimit"
	"github.com/dmitrymomot/gatekeeper/pkg/rbac"
	"github.com/dmitrymomot/gatekeeper/pkg/session"
	"github.com/dmitrymomot/gatekeeper/svc/auth"
)

const password = "correct horse battery staple"

type server struct {
	t       *testing.T
	handler http.Handler
	engine  *rbac.Service
	users   map[string]uuid.UUID
	viewer  *rbac.Role
	admin   *rbac.Role
}

func newServer(t *testing.T, mutate func(*httpapi.Config)) *server {
	t.Helper()
	ctx := t.Context()
	s := &server{t: t, users: make(map[string]uuid.UUID)}

	tokens, err := jwt.New(jwt.Config{
		AccessSecret:  "access-secret-0123456789abcdefghij",
		RefreshSecret: "refresh-secret-0123456789abcdefghi",
		Issuer:        "gatekeeper",
		AccessTTL:     15 * time.Minute,
	})
	require.NoError(t, err)

	sessions := session.NewManager(session.NewMemoryStore())
	t.Cleanup(func() { _ = sessions.Close(context.Background()) })

	s.engine = rbac.New(rbac.NewMemoryStore())
	s.admin, err = httpapi.Bootstrap(ctx, s.engine, "admin")
	require.NoError(t, err)

	s.viewer, err = s.engine.Roles.CreateRole(ctx, rbac.RoleInput{Name: "viewer"})
	require.NoError(t, err)
	read, err := s.engine.Catalog.CreatePermission(ctx, rbac.PermissionInput{Module: "reports", Action: "read"})
	require.NoError(t, err)
	_, err = s.engine.Ledger.AssignPermission(ctx, s.viewer.ID, read.ID, rbac.AssignOptions{GrantedBy: "test"})
	require.NoError(t, err)

	guard, err := loginguard.New(ratelimit.NewMemoryStore(), loginguard.Config{
		MaxAttempts:     3,
		Window:          time.Minute,
		LockoutDuration: time.Minute,
		KeyPrefix:       "login",
	})
	require.NoError(t, err)

	verifier := auth.VerifierFunc(func(_ context.Context, identifier, secret string) (uuid.UUID, error) {
		id, ok := s.users[identifier]
		if !ok || secret != password {
			return uuid.Nil, auth.ErrInvalidCredentials
		}
		return id, nil
	})
	svc, err := auth.New(auth.DefaultConfig(), tokens, sessions, s.engine, verifier,
		auth.WithGuard(guard),
		auth.WithErrorHandler(httpapi.ErrorHandler(nil)),
	)
	require.NoError(t, err)

	cfg := httpapi.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	s.handler, err = httpapi.New(cfg, httpapi.Deps{
		Auth:     svc,
		RBAC:     s.engine,
		Sessions: sessions,
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	return s
}

// user registers identifier bound to role.
func (s *server) user(identifier string, role *rbac.Role) uuid.UUID {
	s.t.Helper()
	id := uuid.New()
	s.users[identifier] = id
	_, err := s.engine.Bindings.AssignRole(s.t.Context(), id, role.ID, rbac.BindOptions{AssignedBy: "test"})
	require.NoError(s.t, err)
	return id
}

type response struct {
	Code   int
	Header http.Header
	Data   json.RawMessage
	Meta   map[string]any
	Error  *struct {
		Code    string              `json:"code"`
		Message string              `json:"message"`
		Details map[string][]string `json:"details"`
	}
}

func (s *server) do(method, path, token string, body any) response {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	res := response{Code: rec.Code, Header: rec.Header()}
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &res))
	}
	return res
}

func (s *server) login(identifier string) string {
	s.t.Helper()
	res := s.do(http.MethodPost, "/v1/auth/login", "", map[string]any{"identifier": identifier, "secret": password})
	require.Equal(s.t, http.StatusOK, res.Code)
	var out struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(s.t, json.Unmarshal(res.Data, &out))
	require.NotEmpty(s.t, out.AccessToken)
	return out.AccessToken
}

func decodeData[T any](t *testing.T, res response) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(res.Data, &out))
	return out
}
