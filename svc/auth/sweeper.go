package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/gatekeeper/pkg/logger"
	"github.com/dmitrymomot/gatekeeper/pkg/rbac"
	"github.com/dmitrymomot/gatekeeper/pkg/requestid"
	"github.com/dmitrymomot/gatekeeper/pkg/session"
)

// SweeperConfig holds cron specs for the expiry jobs. Any spec accepted by
// robfig/cron works, including "@every 1m".
type SweeperConfig struct {
	Sessions string        `env:"SWEEP_SESSIONS" envDefault:"@every 1m"`
	RBAC     string        `env:"SWEEP_RBAC" envDefault:"@every 5m"`
	Purge    string        `env:"SWEEP_PURGE" envDefault:"@hourly"`
	Timeout  time.Duration `env:"SWEEP_TIMEOUT" envDefault:"30s"`
}

func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Sessions: "@every 1m",
		RBAC:     "@every 5m",
		Purge:    "@hourly",
		Timeout:  30 * time.Second,
	}
}

// Job is one sweep step. It returns how many records it changed.
type Job func(ctx context.Context) (int, error)

type sweepJob struct {
	name string
	spec string
	run  Job
}

// Sweeper runs expiry and cleanup jobs on cron schedules.
type Sweeper struct {
	cron    *cron.Cron
	jobs    []sweepJob
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
}

type SweeperOption func(*Sweeper)

func WithSweeperLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithJob adds a job to the schedule, such as sweeping an in-memory rate
// limit store.
func WithJob(name, spec string, run Job) SweeperOption {
	return func(s *Sweeper) {
		s.jobs = append(s.jobs, sweepJob{name: name, spec: spec, run: run})
	}
}

// NewSweeper schedules session expiry and purge on sessions and assignment
// and binding expiry on engine. Either may be nil to skip its jobs.
func NewSweeper(cfg SweeperConfig, sessions *session.Manager, engine *rbac.Service, opts ...SweeperOption) (*Sweeper, error) {
	s := &Sweeper{
		timeout: cfg.Timeout,
		logger:  slog.New(slog.DiscardHandler),
	}
	if s.timeout <= 0 {
		s.timeout = DefaultSweeperConfig().Timeout
	}
	if sessions != nil {
		s.jobs = append(s.jobs,
			sweepJob{name: "expire_sessions", spec: cfg.Sessions, run: sessions.ExpireSessions},
			sweepJob{name: "purge_sessions", spec: cfg.Purge, run: sessions.Purge},
		)
	}
	if engine != nil {
		s.jobs = append(s.jobs,
			sweepJob{name: "expire_assignments", spec: cfg.RBAC, run: engine.Ledger.CleanupExpiredAssignments},
			sweepJob{name: "expire_bindings", spec: cfg.RBAC, run: engine.Bindings.CleanupExpiredBindings},
		)
	}
	for _, opt := range opts {
		opt(s)
	}

	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})),
		cron.WithLogger(cronLogger{s.logger}),
	)
	for _, j := range s.jobs {
		if _, err := s.cron.AddFunc(j.spec, func() { s.run(context.Background(), j) }); err != nil {
			return nil, fmt.Errorf("%w: job %s schedule %q: %v", ErrInvalidConfig, j.name, j.spec, err)
		}
	}
	return s, nil
}

// Start begins running the schedule in the background.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.cron.Start()
		s.started = true
	}
}

// Stop halts the schedule and waits for running jobs or for ctx to end.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce runs every job immediately, in order, and returns the per-job
// counts. It keeps going after a failure and joins the errors.
func (s *Sweeper) RunOnce(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int, len(s.jobs))
	var errs []error
	for _, j := range s.jobs {
		n, err := s.run(ctx, j)
		out[j.name] = n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", j.name, err))
		}
	}
	return out, errors.Join(errs...)
}

// run executes one job under the sweep timeout. Each run gets its own
// request id unless ctx already carries one.
func (s *Sweeper) run(ctx context.Context, j sweepJob) (int, error) {
	ctx, _ = requestid.Ensure(ctx)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	n, err := j.run(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep job failed", "job", j.name, logger.Error(err))
		return n, err
	}
	s.logger.DebugContext(ctx, "sweep job done", "job", j.name, "count", n, "duration", time.Since(start))
	return n, nil
}

// cronLogger routes robfig/cron logs to slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
