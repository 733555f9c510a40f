// Command gatekeeper serves the authentication and authorization HTTP API.
//
// Storage backends are picked from the environment: GATEKEEPER_RBAC_STORE
// selects postgres or memory for roles, permissions and credentials;
// GATEKEEPER_SESSION_STORE selects redis or memory for sessions and login
// attempt counters. Memory backends are meant for local development.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/gatekeeper/internal/credstore"
	"github.com/dmitrymomot/gatekeeper/internal/httpapi"
	"github.com/dmitrymomot/gatekeeper/pkg/config"
	"github.com/dmitrymomot/gatekeeper/pkg/httpserver"
	"github.com/dmitrymomot/gatekeeper/pkg/jwt"
	"github.com/dmitrymomot/gatekeeper/pkg/logger"
	"github.com/dmitrymomot/gatekeeper/pkg/loginguard"
	"github.com/dmitrymomot/gatekeeper/pkg/pg"
	"github.com/dmitrymomot/gatekeeper/pkg/ratelimit"
	"github.com/dmitrymomot/gatekeeper/pkg/rbac"
	"github.com/dmitrymomot/gatekeeper/pkg/rbac/pgstore"
	"github.com/dmitrymomot/gatekeeper/pkg/redis"
	"github.com/dmitrymomot/gatekeeper/pkg/requestid"
	"github.com/dmitrymomot/gatekeeper/pkg/session"
	"github.com/dmitrymomot/gatekeeper/pkg/useragent"
	"github.com/dmitrymomot/gatekeeper/svc/auth"
)

type appConfig struct {
	RBACStore    string `env:"GATEKEEPER_RBAC_STORE" envDefault:"postgres"`
	SessionStore string `env:"GATEKEEPER_SESSION_STORE" envDefault:"redis"`

	// AdminRole is created on startup with every administrative permission.
	AdminRole string `env:"GATEKEEPER_ADMIN_ROLE" envDefault:"admin"`
	// AdminIdentifier and AdminSecret register the first administrator
	// when both are set. An existing identifier keeps its password.
	AdminIdentifier string `env:"GATEKEEPER_ADMIN_IDENTIFIER"`
	AdminSecret     string `env:"GATEKEEPER_ADMIN_SECRET"`

	UserAgentCacheSize int           `env:"GATEKEEPER_UA_CACHE_SIZE" envDefault:"1024"`
	UserAgentCacheTTL  time.Duration `env:"GATEKEEPER_UA_CACHE_TTL" envDefault:"1h"`
}

const (
	backendPostgres = "postgres"
	backendRedis    = "redis"
	backendMemory   = "memory"
)

func main() {
	if err := run(); err != nil {
		slog.Default().Error("gatekeeper stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		appCfg     appConfig
		logCfg     logger.Config
		jwtCfg     jwt.Config
		rbacCfg    rbac.Config
		sessionCfg session.Config
		guardCfg   loginguard.Config
		authCfg    auth.Config
		sweepCfg   auth.SweeperConfig
		serverCfg  httpserver.Config
		apiCfg     httpapi.Config
	)
	for _, load := range []func() error{
		func() error { return config.Load(&appCfg) },
		func() error { return config.Load(&logCfg) },
		func() error { return config.Load(&jwtCfg) },
		func() error { return config.Load(&rbacCfg) },
		func() error { return config.Load(&sessionCfg) },
		func() error { return config.Load(&guardCfg) },
		func() error { return config.Load(&authCfg) },
		func() error { return config.Load(&sweepCfg) },
		func() error { return config.Load(&serverCfg) },
		func() error { return config.Load(&apiCfg) },
	} {
		if err := load(); err != nil {
			return err
		}
	}

	log, err := logger.FromConfig(logCfg, logger.WithRequestScope(logger.RequestScope{
		RequestID: requestid.FromContext,
		UserID:    auth.UserIDFromContext,
		SessionID: auth.SessionIDFromContext,
	}))
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var checks []httpserver.Check

	// rbac engine and credentials
	var (
		rbacStore rbac.Store
		creds     credstore.Store
	)
	switch appCfg.RBACStore {
	case backendPostgres:
		pool, err := connectPostgres(ctx, log)
		if err != nil {
			return err
		}
		defer pool.Close()
		rbacStore = pgstore.New(pool)
		creds = credstore.NewPostgres(pool)
		checks = append(checks, httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)})
	case backendMemory:
		log.WarnContext(ctx, "using in-memory rbac and credential stores")
		rbacStore = rbac.NewMemoryStore()
		creds = credstore.NewMemory()
	default:
		return fmt.Errorf("unknown rbac store %q", appCfg.RBACStore)
	}
	engine := rbac.New(rbacStore, rbac.WithConfig(rbacCfg), rbac.WithLogger(log))

	// sessions and login attempt counters
	var (
		sessionStore session.Store
		counters     ratelimit.Store
		sweepJobs    []auth.SweeperOption
	)
	switch appCfg.SessionStore {
	case backendRedis:
		client, err := connectRedis(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.WarnContext(ctx, "redis close", logger.Error(err))
			}
		}()
		sessionStore = session.NewRedisStore(client,
			session.WithKeyPrefix(sessionCfg.RedisPrefix),
			session.WithRetention(sessionCfg.Retention),
		)
		counters = ratelimit.NewRedisStore(client, sessionCfg.RedisPrefix+"ratelimit:")
		checks = append(checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)})
	case backendMemory:
		log.WarnContext(ctx, "using in-memory session and attempt stores")
		sessionStore = session.NewMemoryStore()
		mem := ratelimit.NewMemoryStore()
		counters = mem
		sweepJobs = append(sweepJobs, auth.WithJob("sweep_attempts", sweepCfg.Sessions, func(context.Context) (int, error) {
			return mem.Sweep(time.Now()), nil
		}))
	default:
		return fmt.Errorf("unknown session store %q", appCfg.SessionStore)
	}
	sessions := session.NewManager(sessionStore, session.WithConfig(sessionCfg), session.WithLogger(log))

	tokens, err := jwt.New(jwtCfg)
	if err != nil {
		return err
	}

	metrics := auth.NewMetrics(registry)
	guard, err := loginguard.New(counters, guardCfg,
		loginguard.WithLogger(log),
		loginguard.WithLockoutHook(func(_ context.Context, _ loginguard.Attempt, scope loginguard.Scope, _ time.Time) {
			metrics.Lockout(string(scope))
		}),
	)
	if err != nil {
		return err
	}

	service, err := auth.New(authCfg, tokens, sessions, engine, auth.NewBcryptVerifier(creds.Lookup),
		auth.WithLogger(log),
		auth.WithGuard(guard),
		auth.WithMetrics(metrics),
		auth.WithUserAgentParser(useragent.NewParser(appCfg.UserAgentCacheSize, appCfg.UserAgentCacheTTL)),
		auth.WithErrorHandler(httpapi.ErrorHandler(log)),
	)
	if err != nil {
		return err
	}

	if err := bootstrapAdmin(ctx, appCfg, engine, creds, log); err != nil {
		return err
	}

	handler, err := httpapi.New(apiCfg, httpapi.Deps{
		Auth:     service,
		RBAC:     engine,
		Sessions: sessions,
		Logger:   log,
		Registry: registry,
		Checks:   checks,
	})
	if err != nil {
		return err
	}

	sweeper, err := auth.NewSweeper(sweepCfg, sessions, engine,
		append(sweepJobs, auth.WithSweeperLogger(log))...)
	if err != nil {
		return err
	}

	server := httpserver.NewFromConfig(serverCfg,
		httpserver.WithLogger(log),
		httpserver.WithStartHook(func(string) { sweeper.Start() }),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx, handler) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), serverCfg.ShutdownTimeout)
		defer cancel()
		return errors.Join(sweeper.Stop(shutdownCtx), sessions.Close(shutdownCtx))
	})
	return g.Wait()
}

func connectPostgres(ctx context.Context, log *slog.Logger) (*pgxpool.Pool, error) {
	var cfg pg.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	pool, err := pg.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rbacMigrations := cfg
	rbacMigrations.MigrationsPath = pgstore.MigrationsDir
	if err := pg.Migrate(ctx, pool, rbacMigrations, pgstore.Migrations, log); err != nil {
		pool.Close()
		return nil, fmt.Errorf("rbac schema: %w", err)
	}

	credMigrations := cfg
	credMigrations.MigrationsPath = credstore.MigrationsDir
	credMigrations.MigrationsTable = cfg.MigrationsTable + "_credentials"
	if err := pg.Migrate(ctx, pool, credMigrations, credstore.Migrations, log); err != nil {
		pool.Close()
		return nil, fmt.Errorf("credential schema: %w", err)
	}
	return pool, nil
}

func connectRedis(ctx context.Context) (*goredis.Client, error) {
	var cfg redis.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	return redis.Connect(ctx, cfg)
}

func bootstrapAdmin(ctx context.Context, cfg appConfig, engine *rbac.Service, creds credstore.Store, log *slog.Logger) error {
	role, err := httpapi.Bootstrap(ctx, engine, cfg.AdminRole)
	if err != nil {
		return fmt.Errorf("bootstrap admin role: %w", err)
	}
	if cfg.AdminIdentifier == "" || cfg.AdminSecret == "" {
		return nil
	}

	userID, err := credstore.Ensure(ctx, creds, cfg.AdminIdentifier, cfg.AdminSecret)
	if err != nil {
		return fmt.Errorf("bootstrap admin user: %w", err)
	}
	_, err = engine.Bindings.AssignRole(ctx, userID, role.ID, rbac.BindOptions{AssignedBy: "system", Primary: true})
	switch {
	case err == nil:
		log.InfoContext(ctx, "administrator bound", logger.UserID(userID), logger.RoleID(role.ID))
	case errors.Is(err, rbac.ErrAlreadyBound):
	default:
		return fmt.Errorf("bind admin role: %w", err)
	}
	return nil
}
