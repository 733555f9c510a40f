package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unrolled/secure"

	"github.com/dmitrymomot/gatekeeper/pkg/clientip"
	"github.com/dmitrymomot/gatekeeper/pkg/fingerprint"
	"github.com/dmitrymomot/gatekeeper/pkg/httpserver"
	"github.com/dmitrymomot/gatekeeper/pkg/rbac"
	"github.com/dmitrymomot/gatekeeper/pkg/requestid"
	"github.com/dmitrymomot/gatekeeper/pkg/session"
	"github.com/dmitrymomot/gatekeeper/svc/auth"
)

// Permissions guarding the administrative routes.
const (
	PermRBACRead       = "rbac.read"
	PermRBACWrite      = "rbac.write"
	PermSessionsManage = "sessions.manage"
)

// Config holds HTTP API settings.
type Config struct {
	// AuthRateLimit is the number of login and refresh requests allowed per
	// client IP within AuthRateWindow.
	AuthRateLimit  int           `env:"HTTP_AUTH_RATE_LIMIT" envDefault:"20"`
	AuthRateWindow time.Duration `env:"HTTP_AUTH_RATE_WINDOW" envDefault:"1m"`
	TrustedProxies []string      `env:"HTTP_TRUSTED_PROXIES" envSeparator:","`
	RequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"30s"`
	ReadyTimeout   time.Duration `env:"HTTP_READY_TIMEOUT" envDefault:"2s"`
	SSLRedirect    bool          `env:"HTTP_SSL_REDIRECT" envDefault:"false"`
}

func DefaultConfig() Config {
	return Config{
		AuthRateLimit:  20,
		AuthRateWindow: time.Minute,
		RequestTimeout: 30 * time.Second,
		ReadyTimeout:   2 * time.Second,
	}
}

// Deps are the services the API exposes.
type Deps struct {
	Auth     *auth.Service
	RBAC     *rbac.Service
	Sessions *session.Manager
	Logger   *slog.Logger

	// Registry collects request metrics and backs /metrics. Nil disables
	// both.
	Registry *prometheus.Registry
	Checks   []httpserver.Check
}

// API is the JSON/HTTP surface of the engine.
type API struct {
	cfg      Config
	auth     *auth.Service
	rbac     *rbac.Service
	sessions *session.Manager
	logger   *slog.Logger
	validate *validator.Validate
	fail     func(http.ResponseWriter, *http.Request, error)
	requests *requestMetrics
}

// New builds the router.
func New(cfg Config, deps Deps) (http.Handler, error) {
	if deps.Auth == nil || deps.RBAC == nil || deps.Sessions == nil {
		return nil, errors.New("httpapi: auth, rbac and sessions are required")
	}
	if cfg.AuthRateWindow <= 0 {
		cfg.AuthRateWindow = DefaultConfig().AuthRateWindow
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultConfig().ReadyTimeout
	}
	log := deps.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	ips, err := clientip.New(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("httpapi: trusted proxies: %w", err)
	}

	a := &API{
		cfg:      cfg,
		auth:     deps.Auth,
		rbac:     deps.RBAC,
		sessions: deps.Sessions,
		logger:   log,
		validate: newValidator(),
		fail:     ErrorHandler(log),
	}
	if deps.Registry != nil {
		a.requests = newRequestMetrics(deps.Registry)
	}

	r := chi.NewRouter()
	r.Use(
		requestid.Middleware,
		ips.Middleware,
		fingerprint.Middleware,
		a.recoverer,
		a.accessLog,
		a.secureHeaders(),
	)
	if a.requests != nil {
		r.Use(a.requests.middleware)
	}
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/livez", httpserver.LivenessHandler())
	r.Get("/readyz", httpserver.ReadinessHandler(log, cfg.ReadyTimeout, deps.Checks...))
	if deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", a.authRoutes)
		r.Route("/rbac", a.rbacRoutes)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.fail(w, r, fmt.Errorf("%w: route", rbac.ErrNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, envelope{Error: &errorDetail{
			Code:    "method_not_allowed",
			Message: http.StatusText(http.StatusMethodNotAllowed),
		}})
	})
	return r, nil
}

// handle adapts an error-returning handler.
func (a *API) handle(fn func(http.ResponseWriter, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			a.fail(w, r, err)
		}
	}
}

func (a *API) authLimiter() func(http.Handler) http.Handler {
	if a.cfg.AuthRateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(a.cfg.AuthRateLimit, a.cfg.AuthRateWindow,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if ip := clientip.FromContext(r.Context()); ip != "" {
				return ip, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, envelope{Error: &errorDetail{
				Code:      "rate_limited",
				Message:   "too many requests",
				RequestID: requestid.FromContext(r.Context()),
			}})
		}),
	)
}

func (a *API) secureHeaders() func(http.Handler) http.Handler {
	sm := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           a.cfg.SSLRedirect,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		STSSeconds:            31536000,
		STSIncludeSubdomains:  true,
	})
	return sm.Handler
}

func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.fail(w, r, fmt.Errorf("panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.LogAttrs(r.Context(), slog.LevelDebug, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

// actor names the authenticated caller in audit fields.
func actor(ctx context.Context) string {
	if id := auth.UserIDFromContext(ctx); id != uuid.Nil {
		return id.String()
	}
	return "system"
}
