package httpserver

import "time"

const (
	defaultAddr            = ":8080"
	defaultShutdownTimeout = 5 * time.Second
)

// Config holds listener settings. A zero timeout disables that limit, except
// ShutdownTimeout, which falls back to five seconds.
type Config struct {
	Addr              string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout   time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"5s"`
	// MaxHeaderBytes caps request header size; bearer tokens with an
	// embedded permission snapshot need room. Zero uses net/http's default.
	MaxHeaderBytes int `env:"HTTP_MAX_HEADER_BYTES" envDefault:"65536"`
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	c.ReadTimeout = max(c.ReadTimeout, 0)
	c.ReadHeaderTimeout = max(c.ReadHeaderTimeout, 0)
	c.WriteTimeout = max(c.WriteTimeout, 0)
	c.IdleTimeout = max(c.IdleTimeout, 0)
	c.MaxHeaderBytes = max(c.MaxHeaderBytes, 0)
	return c
}

// NewFromConfig builds a Server from cfg, then applies opts.
func NewFromConfig(cfg Config, opts ...Option) *Server {
	c := &config{Config: cfg.withDefaults(), logger: discard}
	for _, opt := range opts {
		opt(c)
	}
	return &Server{cfg: c}
}

// New builds a Server with default settings and opts.
func New(opts ...Option) *Server {
	return NewFromConfig(Config{}, opts...)
}
