package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Environment names a deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// ParseEnvironment maps an APP_ENV value onto an Environment. The short forms
// "prod" and "stage" are accepted; anything unknown is Development.
func ParseEnvironment(s string) Environment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(Production), "prod":
		return Production
	case string(Staging), "stage":
		return Staging
	default:
		return Development
	}
}

// Config holds environment-driven logger settings. Level and Format override
// the environment preset when set.
type Config struct {
	Level     string `env:"LOG_LEVEL"`
	Format    Format `env:"LOG_FORMAT"`
	AddSource bool   `env:"LOG_ADD_SOURCE" envDefault:"false"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	Service   string `env:"SERVICE_NAME" envDefault:"gatekeeper"`
}

// Format represents logger output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

type preset struct {
	level  slog.Level
	format Format
}

var presets = map[Environment]preset{
	Development: {level: slog.LevelDebug, format: FormatText},
	Staging:     {level: slog.LevelInfo, format: FormatJSON},
	Production:  {level: slog.LevelInfo, format: FormatJSON},
}

// Option configures logger creation.
type Option func(*config)

func WithLevel(l slog.Level) Option {
	return func(c *config) { c.level = l }
}

// WithFormat sets the output format. It panics on an unknown format.
func WithFormat(f Format) Option {
	return func(c *config) {
		switch f {
		case FormatJSON, FormatText:
			c.format = f
		default:
			panic(fmt.Errorf("invalid log format %q: must be %q or %q", f, FormatJSON, FormatText))
		}
	}
}

// WithOutput sets the destination writer. Nil is ignored.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		if w != nil {
			c.output = w
		}
	}
}

// WithSource records the caller's file and line on every record.
func WithSource(enabled bool) Option {
	return func(c *config) { c.addSource = enabled }
}

// WithAttr adds static attributes to every record.
func WithAttr(attrs ...slog.Attr) Option {
	return func(c *config) {
		c.attrs = append(c.attrs, attrs...)
	}
}

// WithEnvironment applies the level and format preset of env and tags every
// record with service and env. An empty service tags env only.
func WithEnvironment(env Environment, service string) Option {
	return func(c *config) {
		p, ok := presets[env]
		if !ok {
			env, p = Development, presets[Development]
		}
		c.level = p.level
		c.format = p.format
		if service != "" {
			c.attrs = append(c.attrs, slog.String("service", service))
		}
		c.attrs = append(c.attrs, slog.String("env", string(env)))
	}
}

// WithContextExtractors registers per-record context extractors. Nil
// extractors are skipped.
func WithContextExtractors(extractors ...ContextExtractor) Option {
	return func(c *config) {
		for _, ex := range extractors {
			if ex != nil {
				c.extractors = append(c.extractors, ex)
			}
		}
	}
}

// RequestScope holds the context accessors for the identifiers attached to
// every record logged with a request context. Nil accessors are skipped.
type RequestScope struct {
	RequestID func(context.Context) string
	UserID    func(context.Context) uuid.UUID
	SessionID func(context.Context) uuid.UUID
}

// WithRequestScope adds request_id, user_id and session_id to records whose
// context carries them.
func WithRequestScope(s RequestScope) Option {
	return func(c *config) {
		if s.RequestID != nil {
			c.extractors = append(c.extractors, Extract("request_id", s.RequestID))
		}
		if s.UserID != nil {
			c.extractors = append(c.extractors, Extract("user_id", s.UserID))
		}
		if s.SessionID != nil {
			c.extractors = append(c.extractors, Extract("session_id", s.SessionID))
		}
	}
}

// FromConfig builds a logger from cfg. The environment preset is applied
// first; an explicit level or format in cfg then overrides it. Extra opts are
// applied last.
func FromConfig(cfg Config, opts ...Option) (*slog.Logger, error) {
	base := []Option{
		WithEnvironment(ParseEnvironment(cfg.Env), cfg.Service),
		WithSource(cfg.AddSource),
	}
	if cfg.Level != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(strings.TrimSpace(cfg.Level))); err != nil {
			return nil, fmt.Errorf("logger: invalid level %q: %w", cfg.Level, err)
		}
		base = append(base, WithLevel(lvl))
	}
	switch cfg.Format {
	case "":
	case FormatJSON, FormatText:
		base = append(base, WithFormat(cfg.Format))
	default:
		return nil, fmt.Errorf("logger: invalid format %q", cfg.Format)
	}
	return New(append(base, opts...)...), nil
}

type config struct {
	level      slog.Level
	format     Format
	addSource  bool
	output     io.Writer
	attrs      []slog.Attr
	extractors []ContextExtractor
}

// New builds a logger whose handler adds context attributes on every record.
// Without options it writes JSON at info level to stdout.
func New(opts ...Option) *slog.Logger {
	cfg := &config{
		level:  slog.LevelInfo,
		format: FormatJSON,
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.level, AddSource: cfg.addSource}
	var handler slog.Handler
	if cfg.format == FormatText {
		handler = slog.NewTextHandler(cfg.output, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(cfg.output, handlerOpts)
	}
	if len(cfg.attrs) > 0 {
		handler = handler.WithAttrs(cfg.attrs)
	}
	return slog.New(NewLogHandlerDecorator(handler, cfg.extractors...))
}
