package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gatekeeper/pkg/session"
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

func newManager(t *testing.T, store session.Store, cfg session.Config) (*session.Manager, *clock) {
	t.Helper()
	c := &clock{now: epoch}
	m := session.NewManager(store, session.WithConfig(cfg), session.WithClock(c.Now))
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, c
}

func TestManagerValidate(t *testing.T) {
	t.Parallel()
	m, c := newManager(t, session.NewMemoryStore(), session.DefaultConfig())
	ctx := t.Context()

	s := newSession(uuid.New(), time.Time{}, 0)
	s.CreatedAt, s.LastActivityAt = time.Time{}, time.Time{}
	s.ExpiresAt = epoch.Add(time.Hour)
	require.NoError(t, m.Create(ctx, s))
	assert.True(t, s.CreatedAt.Equal(epoch))

	got, err := m.Validate(ctx, s.ID, s.TokenID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	_, err = m.Validate(ctx, s.ID, "another-jti")
	assert.ErrorIs(t, err, session.ErrTokenMismatch)

	_, err = m.Validate(ctx, uuid.New(), s.TokenID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	c.Advance(time.Hour)
	_, err = m.Validate(ctx, s.ID, s.TokenID)
	assert.ErrorIs(t, err, session.ErrSessionExpired)
}

func TestManagerCreateRejectsPastExpiry(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t, session.NewMemoryStore(), session.DefaultConfig())

	s := newSession(uuid.New(), epoch.Add(-2*time.Hour), time.Hour)
	assert.ErrorIs(t, m.Create(t.Context(), s), session.ErrSessionExpired)
}

func TestManagerRevoke(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t, session.NewMemoryStore(), session.DefaultConfig())
	ctx := t.Context()

	user := uuid.New()
	current := newSession(user, epoch, time.Hour)
	other1 := newSession(user, epoch.Add(time.Second), time.Hour)
	other2 := newSession(user, epoch.Add(2*time.Second), time.Hour)
	foreign := newSession(uuid.New(), epoch, time.Hour)
	for _, s := range []*session.Session{current, other1, other2, foreign} {
		require.NoError(t, m.Create(ctx, s))
	}

	t.Run("single", func(t *testing.T) {
		changed, err := m.Revoke(ctx, other1.ID, session.ReasonRevoked)
		require.NoError(t, err)
		assert.True(t, changed)

		_, err = m.Validate(ctx, other1.ID, other1.TokenID)
		assert.ErrorIs(t, err, session.ErrSessionRevoked)
	})

	t.Run("all but current", func(t *testing.T) {
		n, err := m.RevokeUser(ctx, user, current.ID, session.ReasonLogoutAll)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		active, err := m.ListByUser(ctx, user, true)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, current.ID, active[0].ID)

		all, err := m.ListByUser(ctx, user, false)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("all", func(t *testing.T) {
		n, err := m.RevokeUser(ctx, user, uuid.Nil, session.ReasonLogoutAll)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = m.Validate(ctx, foreign.ID, foreign.TokenID)
		assert.NoError(t, err, "other users keep their sessions")
	})
}

func TestManagerExpireAndPurge(t *testing.T) {
	t.Parallel()
	cfg := session.DefaultConfig()
	cfg.Retention = time.Hour
	m, c := newManager(t, session.NewMemoryStore(), cfg)
	ctx := t.Context()

	s := newSession(uuid.New(), epoch, 10*time.Minute)
	require.NoError(t, m.Create(ctx, s))

	c.Advance(10 * time.Minute)
	n, err := m.ExpireSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Expired)
	assert.Zero(t, st.Active)

	n, err = m.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "still within retention")

	c.Advance(2 * time.Hour)
	n, err = m.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestManagerTouch(t *testing.T) {
	t.Parallel()
	store := session.NewMemoryStore()
	cfg := session.DefaultConfig()
	cfg.TouchThreshold = time.Minute
	m, c := newManager(t, store, cfg)
	ctx := t.Context()

	s := newSession(uuid.New(), epoch, time.Hour)
	require.NoError(t, m.Create(ctx, s))

	assert.False(t, m.Touch(s, s.IPAddress), "within threshold")

	c.Advance(2 * time.Minute)
	assert.True(t, m.Touch(s, s.IPAddress))

	assert.Eventually(t, func() bool {
		got, err := store.Get(ctx, s.ID)
		return err == nil && got.LastActivityAt.Equal(epoch.Add(2*time.Minute))
	}, time.Second, 5*time.Millisecond)

	s.LastActivityAt = c.Now()
	assert.True(t, m.Touch(s, "192.168.1.1"), "a new IP is recorded even within threshold")

	require.NoError(t, m.TouchNow(ctx, s.ID, ""))
}

type blockingStore struct {
	*session.MemoryStore
	release chan struct{}
}

func (b *blockingStore) Touch(ctx context.Context, id uuid.UUID, at time.Time, ip string) error {
	<-b.release
	return b.MemoryStore.Touch(ctx, id, at, ip)
}

func TestManagerTouchNeverBlocks(t *testing.T) {
	t.Parallel()
	store := &blockingStore{MemoryStore: session.NewMemoryStore(), release: make(chan struct{})}
	cfg := session.DefaultConfig()
	cfg.ActivityBuffer = 1
	cfg.TouchThreshold = 0
	m, _ := newManager(t, store, cfg)

	queued := 0
	for range 10 {
		s := newSession(uuid.New(), epoch.Add(-time.Minute), time.Hour)
		require.NoError(t, store.Create(t.Context(), s))
		if m.Touch(s, "") {
			queued++
		}
	}
	assert.LessOrEqual(t, queued, 2)
	assert.GreaterOrEqual(t, m.Dropped(), int64(8))

	close(store.release)
	require.NoError(t, m.Close(t.Context()))
	assert.False(t, m.Touch(newSession(uuid.New(), epoch, time.Hour), "10.0.0.9"), "closed manager ignores touches")
}

func TestContext(t *testing.T) {
	t.Parallel()
	_, ok := session.FromContext(t.Context())
	assert.False(t, ok)

	s := newSession(uuid.New(), epoch, time.Hour)
	got, ok := session.FromContext(session.WithSession(t.Context(), s))
	require.True(t, ok)
	assert.Same(t, s, got)
}
