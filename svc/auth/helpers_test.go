package auth_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gatekeeper/pkg/jwt"
	"github.com/dmitrymomot/gatekeeper/pkg/loginguard"
	"github.com/dmitrymomot/gatekeeper/pkg/ratelimit"
	"github.com/dmitrymomot/gatekeeper/pkg/rbac"
	"github.com/dmitrymomot/gatekeeper/pkg/session"
	"github.com/dmitrymomot/gatekeeper/svc/auth"
)

const (
	secret    = "correct horse battery staple"
	clientIP  = "203.0.113.7"
	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	clock    *clock
	svc      *auth.Service
	tokens   *jwt.Service
	sessions *session.Manager
	engine   *rbac.Service
	users    map[string]uuid.UUID
	viewer   *rbac.Role
	report   *rbac.Permission
}

func newHarness(t *testing.T, mutate func(*auth.Config), opts ...auth.Option) *harness {
	t.Helper()
	return newHarnessWithStore(t, session.NewMemoryStore(), mutate, opts...)
}

func newHarnessWithStore(t *testing.T, store session.Store, mutate func(*auth.Config), opts ...auth.Option) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		ctx:   t.Context(),
		clock: &clock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)},
		users: make(map[string]uuid.UUID),
	}

	tokens, err := jwt.New(jwt.Config{
		AccessSecret:  "access-secret-0123456789abcdefghij",
		RefreshSecret: "refresh-secret-0123456789abcdefghi",
		Issuer:        "gatekeeper",
		AccessTTL:     15 * time.Minute,
	}, jwt.WithClock(h.clock.Now))
	require.NoError(t, err)
	h.tokens = tokens

	h.sessions = session.NewManager(store, session.WithClock(h.clock.Now))
	t.Cleanup(func() { _ = h.sessions.Close(context.Background()) })

	h.engine = rbac.New(rbac.NewMemoryStore(), rbac.WithClock(h.clock.Now))
	h.viewer, err = h.engine.Roles.CreateRole(h.ctx, rbac.RoleInput{Name: "viewer"})
	require.NoError(t, err)
	h.report, err = h.engine.Catalog.CreatePermission(h.ctx, rbac.PermissionInput{Module: "reports", Action: "read"})
	require.NoError(t, err)
	_, err = h.engine.Ledger.AssignPermission(h.ctx, h.viewer.ID, h.report.ID, rbac.AssignOptions{GrantedBy: "test"})
	require.NoError(t, err)

	guard, err := loginguard.New(ratelimit.NewMemoryStore(), loginguard.Config{
		MaxAttempts:     3,
		Window:          15 * time.Minute,
		LockoutDuration: 15 * time.Minute,
		KeyPrefix:       "login",
	}, loginguard.WithClock(h.clock.Now))
	require.NoError(t, err)

	cfg := auth.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	verifier := auth.VerifierFunc(func(_ context.Context, identifier, got string) (uuid.UUID, error) {
		id, ok := h.users[identifier]
		if !ok || got != secret {
			return uuid.Nil, auth.ErrInvalidCredentials
		}
		return id, nil
	})
	h.svc, err = auth.New(cfg, tokens, h.sessions, h.engine, verifier, append([]auth.Option{auth.WithGuard(guard)}, opts...)...)
	require.NoError(t, err)
	return h
}

// user registers identifier bound to the viewer role.
func (h *harness) user(identifier string) uuid.UUID {
	h.t.Helper()
	id := uuid.New()
	h.users[identifier] = id
	_, err := h.engine.Bindings.AssignRole(h.ctx, id, h.viewer.ID, rbac.BindOptions{AssignedBy: "test"})
	require.NoError(h.t, err)
	return id
}

func (h *harness) login(identifier string, rememberMe bool) *auth.Result {
	h.t.Helper()
	res, err := h.svc.Login(h.ctx, loginInput(identifier, secret, rememberMe))
	require.NoError(h.t, err)
	return res
}

func loginInput(identifier, password string, rememberMe bool) auth.LoginInput {
	return auth.LoginInput{
		Identifier: identifier,
		Secret:     password,
		RememberMe: rememberMe,
		Device:     auth.Device{IPAddress: clientIP, UserAgent: userAgent},
	}
}

// hookedStore runs a hook after every Get, letting a test interleave other
// writes between the read and the write of a refresh.
type hookedStore struct {
	*session.MemoryStore
	afterGet atomic.Pointer[func()]
}

func newHookedStore() *hookedStore {
	return &hookedStore{MemoryStore: session.NewMemoryStore()}
}

func (s *hookedStore) Get(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	got, err := s.MemoryStore.Get(ctx, id)
	if hook := s.afterGet.Load(); hook != nil {
		(*hook)()
	}
	return got, err
}

func (s *hookedStore) onGet(fn func()) {
	if fn == nil {
		s.afterGet.Store(nil)
		return
	}
	s.afterGet.Store(&fn)
}
