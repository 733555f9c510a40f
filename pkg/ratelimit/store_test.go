package ratelimit_test

import (
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gatekeeper/pkg/ratelimit"
)

var epoch = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func stores(t *testing.T) map[string]ratelimit.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]ratelimit.Store{
		"memory": ratelimit.NewMemoryStore(),
		"redis":  ratelimit.NewRedisStore(client, "test:"),
	}
}

func TestSlidingWindow(t *testing.T) {
	t.Parallel()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			window := 10 * time.Minute

			for i, offset := range []time.Duration{0, time.Minute, 2 * time.Minute} {
				n, err := store.Increment(ctx, "k", epoch.Add(offset), window)
				require.NoError(t, err)
				assert.Equal(t, int64(i+1), n)
			}

			n, err := store.Get(ctx, "k", epoch.Add(2*time.Minute), window)
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)

			// The first event leaves the window exactly window after it.
			n, err = store.Get(ctx, "k", epoch.Add(window), window)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			n, err = store.Increment(ctx, "k", epoch.Add(window+90*time.Second), window)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n, "events at 2m and 11m30s")

			n, err = store.Get(ctx, "other", epoch, window)
			require.NoError(t, err)
			assert.Zero(t, n)

			require.NoError(t, store.Reset(ctx, "k"))
			n, err = store.Get(ctx, "k", epoch.Add(window+90*time.Second), window)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestSameInstantEventsCountSeparately(t *testing.T) {
	t.Parallel()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for range 3 {
				_, err := store.Increment(t.Context(), "burst", epoch, time.Minute)
				require.NoError(t, err)
			}
			n, err := store.Get(t.Context(), "burst", epoch, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)
		})
	}
}

func TestInvalidArguments(t *testing.T) {
	t.Parallel()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Increment(t.Context(), "", epoch, time.Minute)
			assert.ErrorIs(t, err, ratelimit.ErrKeyRequired)
			_, err = store.Increment(t.Context(), "k", epoch, 0)
			assert.ErrorIs(t, err, ratelimit.ErrInvalidWindow)
			_, err = store.Get(t.Context(), "k", epoch, -time.Second)
			assert.ErrorIs(t, err, ratelimit.ErrInvalidWindow)
			assert.ErrorIs(t, store.Lock(t.Context(), "k", epoch, epoch), ratelimit.ErrInvalidLockTTL)
		})
	}
}

func TestLocks(t *testing.T) {
	t.Parallel()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			until, err := store.LockedUntil(ctx, "user", epoch)
			require.NoError(t, err)
			assert.True(t, until.IsZero())

			require.NoError(t, store.Lock(ctx, "user", epoch, epoch.Add(15*time.Minute)))
			until, err = store.LockedUntil(ctx, "user", epoch.Add(time.Minute))
			require.NoError(t, err)
			assert.True(t, until.Equal(epoch.Add(15*time.Minute)))

			until, err = store.LockedUntil(ctx, "user", epoch.Add(15*time.Minute))
			require.NoError(t, err)
			assert.True(t, until.IsZero(), "lock ends at its deadline")

			require.NoError(t, store.Unlock(ctx, "user"))
			until, err = store.LockedUntil(ctx, "user", epoch.Add(time.Minute))
			require.NoError(t, err)
			assert.True(t, until.IsZero())
		})
	}
}

func TestMemoryStoreConcurrentIncrements(t *testing.T) {
	t.Parallel()
	store := ratelimit.NewMemoryStore()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Increment(t.Context(), "hot", epoch, time.Minute)
		}()
	}
	wg.Wait()

	n, err := store.Get(t.Context(), "hot", epoch, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)
}

func TestMemoryStoreSweep(t *testing.T) {
	t.Parallel()
	store := ratelimit.NewMemoryStore()
	ctx := t.Context()

	_, err := store.Increment(ctx, "stale", epoch, time.Minute)
	require.NoError(t, err)
	_, err = store.Increment(ctx, "fresh", epoch.Add(5*time.Minute), time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Lock(ctx, "done", epoch, epoch.Add(time.Minute)))

	assert.Equal(t, 2, store.Sweep(epoch.Add(5*time.Minute)))

	n, err := store.Get(ctx, "fresh", epoch.Add(5*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		parts []string
		want  string
	}{
		{"empty", nil, ""},
		{"skips blanks", []string{"", "ip", ""}, "ip"},
		{"joined", []string{"login", "10.0.0.1", "alice@example.com"}, "login:10.0.0.1:alice@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ratelimit.Key(tt.parts...))
		})
	}

	long := ratelimit.Key("login", "10.0.0.1", string(make([]byte, 200)))
	assert.Len(t, long, 32)
	assert.Equal(t, long, ratelimit.Key("login", "10.0.0.1", string(make([]byte, 200))))
	assert.NotEqual(t, long, ratelimit.Key("login", "10.0.0.2", string(make([]byte, 200))))
}
