package rbac

import (
	"log/slog"
	"time"
)

// Config holds engine settings loaded from the environment.
type Config struct {
	MaxDepth         int           `env:"RBAC_MAX_DEPTH" envDefault:"10"`
	QueryTimeout     time.Duration `env:"RBAC_QUERY_TIMEOUT" envDefault:"5s"`
	AutoSync         bool          `env:"RBAC_AUTO_SYNC" envDefault:"true"`
	ReadRetries      int           `env:"RBAC_READ_RETRIES" envDefault:"2"`
	ReadRetryBackoff time.Duration `env:"RBAC_READ_RETRY_BACKOFF" envDefault:"50ms"`
	ReservedNames    []string      `env:"RBAC_RESERVED_NAMES" envSeparator:","`
}

// DefaultReservedNames cannot be used for non-system roles.
var DefaultReservedNames = []string{"root", "system", "anonymous", "everyone", "public", "owner"}

// Option configures the engine components.
type Option func(*options)

type options struct {
	now           func() time.Time
	logger        *slog.Logger
	maxDepth      int
	queryTimeout  time.Duration
	autoSync      bool
	readRetries   int
	retryBackoff  time.Duration
	reservedNames map[string]struct{}
}

func defaultOptions() options {
	o := options{
		now:          time.Now,
		logger:       slog.New(slog.DiscardHandler),
		maxDepth:     MaxInheritanceDepth,
		queryTimeout: 5 * time.Second,
		autoSync:     true,
		readRetries:  2,
		retryBackoff: 50 * time.Millisecond,
	}
	o.reservedNames = toSet(DefaultReservedNames)
	return o
}

// WithConfig applies cfg. Zero durations and depths keep their defaults.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		if cfg.MaxDepth > 0 {
			o.maxDepth = cfg.MaxDepth
		}
		if cfg.QueryTimeout > 0 {
			o.queryTimeout = cfg.QueryTimeout
		}
		o.autoSync = cfg.AutoSync
		if cfg.ReadRetries >= 0 {
			o.readRetries = cfg.ReadRetries
		}
		if cfg.ReadRetryBackoff > 0 {
			o.retryBackoff = cfg.ReadRetryBackoff
		}
		if len(cfg.ReservedNames) > 0 {
			o.reservedNames = toSet(cfg.ReservedNames)
		}
	}
}

// WithClock injects the time source used for every expiry comparison.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMaxDepth overrides MaxInheritanceDepth. Non-positive values are ignored.
func WithMaxDepth(depth int) Option {
	return func(o *options) {
		if depth > 0 {
			o.maxDepth = depth
		}
	}
}

// WithQueryTimeout bounds every store call. Zero disables the bound.
func WithQueryTimeout(d time.Duration) Option {
	return func(o *options) { o.queryTimeout = d }
}

// WithAutoSync controls whether grant, revoke and re-parent operations
// re-sync inherited permissions of affected descendants in the same
// transaction.
func WithAutoSync(enabled bool) Option {
	return func(o *options) { o.autoSync = enabled }
}

// WithReadRetry sets how many times a read is retried after
// ErrStorageUnavailable and the base backoff between attempts.
func WithReadRetry(attempts int, backoff time.Duration) Option {
	return func(o *options) {
		if attempts >= 0 {
			o.readRetries = attempts
		}
		if backoff > 0 {
			o.retryBackoff = backoff
		}
	}
}

// WithReservedNames replaces the reserved role name list.
func WithReservedNames(names ...string) Option {
	return func(o *options) { o.reservedNames = toSet(names) }
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
