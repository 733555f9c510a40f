package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gatekeeper/pkg/logger"
	"github.com/dmitrymomot/gatekeeper/pkg/rbac"
	"github.com/dmitrymomot/gatekeeper/pkg/requestid"
	"github.com/dmitrymomot/gatekeeper/pkg/session"
	"github.com/dmitrymomot/gatekeeper/svc/auth"
)

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	cfg := auth.DefaultSweeperConfig()
	cfg.Sessions = "every now and then"
	_, err := auth.NewSweeper(cfg, session.NewManager(session.NewMemoryStore()), nil)
	assert.ErrorIs(t, err, auth.ErrInvalidConfig)
}

func TestSweeperRunOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	userID := h.user("uma")
	res := h.login("uma", false)

	temp, err := h.engine.Roles.CreateRole(h.ctx, rbac.RoleInput{Name: "contractor"})
	require.NoError(t, err)
	until := h.clock.Now().Add(time.Hour)
	_, err = h.engine.Bindings.AssignRole(h.ctx, userID, temp.ID, rbac.BindOptions{AssignedBy: "test", ExpiresAt: &until})
	require.NoError(t, err)

	calls := 0
	sw, err := auth.NewSweeper(auth.DefaultSweeperConfig(), h.sessions, h.engine,
		auth.WithJob("extra", "@every 1h", func(context.Context) (int, error) {
			calls++
			return 7, nil
		}),
	)
	require.NoError(t, err)

	h.clock.Advance(25 * time.Hour)
	counts, err := sw.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["expire_sessions"])
	assert.Equal(t, 1, counts["expire_bindings"])
	assert.Equal(t, 0, counts["expire_assignments"])
	assert.Equal(t, 7, counts["extra"])
	assert.Equal(t, 1, calls)

	stored, err := h.sessions.Get(h.ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateExpired, stored.State(h.clock.Now()))

	again, err := sw.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, again["expire_sessions"])
	assert.Zero(t, again["expire_bindings"])
}

func TestSweeperRunOnceJoinsErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	ran := false
	sw, err := auth.NewSweeper(auth.DefaultSweeperConfig(), nil, nil,
		auth.WithJob("fails", "@every 1m", func(context.Context) (int, error) { return 0, boom }),
		auth.WithJob("after", "@every 1m", func(context.Context) (int, error) {
			ran = true
			return 2, nil
		}),
	)
	require.NoError(t, err)

	counts, err := sw.RunOnce(t.Context())
	require.ErrorIs(t, err, boom)
	assert.True(t, ran)
	assert.Equal(t, 2, counts["after"])
}

func TestSweeperRunsCarryRequestID(t *testing.T) {
	t.Parallel()
	buf := &bytes.Buffer{}
	log := logger.New(
		logger.WithOutput(buf),
		logger.WithLevel(slog.LevelDebug),
		logger.WithRequestScope(logger.RequestScope{RequestID: requestid.FromContext}),
	)

	var ids []string
	record := func(err error) auth.Job {
		return func(ctx context.Context) (int, error) {
			ids = append(ids, requestid.FromContext(ctx))
			return 0, err
		}
	}
	sw, err := auth.NewSweeper(auth.DefaultSweeperConfig(), nil, nil,
		auth.WithSweeperLogger(log),
		auth.WithJob("first", "@every 1h", record(nil)),
		auth.WithJob("second", "@every 1h", record(errors.New("store down"))),
	)
	require.NoError(t, err)

	_, err = sw.RunOnce(t.Context())
	require.Error(t, err)
	require.Len(t, ids, 2)
	require.NotEmpty(t, ids[0])
	assert.NotEqual(t, ids[0], ids[1], "each run gets its own id")

	logged := map[string]string{}
	for line := range bytes.SplitSeq(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if job, ok := entry["job"].(string); ok {
			logged[job], _ = entry["request_id"].(string)
		}
	}
	assert.Equal(t, map[string]string{"first": ids[0], "second": ids[1]}, logged)

	ids = nil
	_, err = sw.RunOnce(requestid.WithContext(t.Context(), "manual-sweep"))
	require.Error(t, err)
	assert.Equal(t, []string{"manual-sweep", "manual-sweep"}, ids)
}

func TestSweeperStartStop(t *testing.T) {
	t.Parallel()
	sw, err := auth.NewSweeper(auth.DefaultSweeperConfig(), nil, nil)
	require.NoError(t, err)
	sw.Start()
	sw.Start()

	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	require.NoError(t, sw.Stop(ctx))
	require.NoError(t, sw.Stop(ctx))
}
