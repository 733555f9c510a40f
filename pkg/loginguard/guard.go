package loginguard

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dmitrymomot/gatekeeper/pkg/ratelimit"
)

// Scope names the key a limit applies to.
type Scope string

const (
	ScopeIP           Scope = "ip"
	ScopeIPIdentifier Scope = "ip_identifier"
)

// Attempt identifies a login attempt.
type Attempt struct {
	IP         string
	Identifier string
}

// Status is the failure state of an attempt's keys after a call.
type Status struct {
	Failures    int64
	IPFailures  int64
	Remaining   int64
	Locked      bool
	LockedUntil time.Time
}

// LockoutFunc observes new lockouts.
type LockoutFunc func(ctx context.Context, a Attempt, scope Scope, until time.Time)

// Guard counts failed logins per IP and per IP+identifier over a sliding
// window and locks keys out once a limit is reached. State lives in the
// injected store, so several instances can share it.
type Guard struct {
	store     ratelimit.Store
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger
	onLockout LockoutFunc
}

type Option func(*Guard)

func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithLockoutHook registers fn to run whenever a key gets locked.
func WithLockoutHook(fn LockoutFunc) Option {
	return func(g *Guard) { g.onLockout = fn }
}

func New(store ratelimit.Store, cfg Config, opts ...Option) (*Guard, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	g := &Guard{
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Check returns a *LockedError when the IP or the IP+identifier pair is
// locked out. It records nothing.
func (g *Guard) Check(ctx context.Context, a Attempt) error {
	if a.IP == "" {
		return ErrMissingAddress
	}
	now := g.now()
	for _, k := range g.keys(a) {
		until, err := g.store.LockedUntil(ctx, k.key, now)
		if err != nil {
			return err
		}
		if !until.IsZero() {
			return &LockedError{Scope: k.scope, Until: until, RetryAfter: until.Sub(now)}
		}
	}
	return nil
}

// RecordFailure counts one failure against both keys of a and locks any key
// whose count reaches its limit.
func (g *Guard) RecordFailure(ctx context.Context, a Attempt) (Status, error) {
	if a.IP == "" {
		return Status{}, ErrMissingAddress
	}
	now := g.now()
	var st Status
	for _, k := range g.keys(a) {
		n, err := g.store.Increment(ctx, k.key, now, g.cfg.Window)
		if err != nil {
			return st, err
		}
		if k.scope == ScopeIP {
			st.IPFailures = n
		} else {
			st.Failures = n
			st.Remaining = max(int64(g.cfg.MaxAttempts)-n, 0)
		}
		if n < k.limit {
			continue
		}

		until := now.Add(g.cfg.LockoutDuration)
		if err := g.store.Lock(ctx, k.key, now, until); err != nil {
			return st, err
		}
		st.Locked = true
		st.LockedUntil = until
		g.logger.WarnContext(ctx, "login locked out",
			"scope", k.scope, "ip", a.IP, "failures", n, "until", until)
		if g.onLockout != nil {
			g.onLockout(ctx, a, k.scope, until)
		}
	}
	return st, nil
}

// Reset clears the IP+identifier counter and lock after a successful login.
// The IP-wide counter and lock are left in place.
func (g *Guard) Reset(ctx context.Context, a Attempt) error {
	key := g.pairKey(a)
	if err := g.store.Reset(ctx, key); err != nil {
		return err
	}
	return g.store.Unlock(ctx, key)
}

// Status reports current counts without recording anything.
func (g *Guard) Status(ctx context.Context, a Attempt) (Status, error) {
	now := g.now()
	var st Status
	for _, k := range g.keys(a) {
		n, err := g.store.Get(ctx, k.key, now, g.cfg.Window)
		if err != nil {
			return st, err
		}
		if k.scope == ScopeIP {
			st.IPFailures = n
		} else {
			st.Failures = n
			st.Remaining = max(int64(g.cfg.MaxAttempts)-n, 0)
		}
		until, err := g.store.LockedUntil(ctx, k.key, now)
		if err != nil {
			return st, err
		}
		if !until.IsZero() && until.After(st.LockedUntil) {
			st.Locked = true
			st.LockedUntil = until
		}
	}
	return st, nil
}

type guardKey struct {
	scope Scope
	key   string
	limit int64
}

// keys lists the pair key first so its count is reported even when the IP
// limit is disabled.
func (g *Guard) keys(a Attempt) []guardKey {
	keys := []guardKey{{scope: ScopeIPIdentifier, key: g.pairKey(a), limit: int64(g.cfg.MaxAttempts)}}
	if g.cfg.IPMaxAttempts > 0 {
		keys = append(keys, guardKey{
			scope: ScopeIP,
			key:   ratelimit.Key(g.cfg.KeyPrefix, string(ScopeIP), a.IP),
			limit: int64(g.cfg.IPMaxAttempts),
		})
	}
	return keys
}

func (g *Guard) pairKey(a Attempt) string {
	return ratelimit.Key(g.cfg.KeyPrefix, string(ScopeIPIdentifier), a.IP, normalizeIdentifier(a.Identifier))
}

func normalizeIdentifier(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
