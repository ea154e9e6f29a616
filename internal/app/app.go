package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"nexsync-auth/internal/auth"
	"nexsync-auth/internal/config"
	"nexsync-auth/internal/database"
	"nexsync-auth/internal/event"
	"nexsync-auth/internal/handler"
	"nexsync-auth/internal/metrics"
	"nexsync-auth/internal/middleware"
	"nexsync-auth/internal/repository"
	"nexsync-auth/internal/router"
	"nexsync-auth/internal/service"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	server       *http.Server
	cleanupFuncs []func()
}

func New(ctx context.Context, cfg *config.Config, version string) (*App, error) {
	a := &App{}

	store, err := a.openStore(ctx, cfg)
	if err != nil {
		a.cleanup()
		return nil, err
	}

	dependencies := map[string]handler.Pinger{"store": store}

	var rateBackend middleware.RateBackend
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			slog.Warn("unable to reach redis; rate limiting fails open until it is back", "addr", cfg.RedisAddr, "error", err)
		} else {
			slog.Info("connected to redis", "addr", cfg.RedisAddr)
		}
		rateBackend = middleware.NewRedisRateBackend(client)
		dependencies["redis"] = redisPinger{client: client}
		a.cleanupFuncs = append(a.cleanupFuncs, func() { _ = client.Close() })
	}

	tokens, err := auth.NewTokenManager(cfg.JWTSecret,
		auth.WithIssuer(cfg.TokenIssuer),
		auth.WithLeeway(cfg.TokenLeeway),
	)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize token manager: %w", err)
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	bus := event.NewBus()
	var auditHandler *handler.AuditHandler
	if cfg.AuditLogPath != "" {
		auditService, err := service.NewAuditService(cfg.AuditLogPath)
		if err != nil {
			a.cleanup()
			return nil, fmt.Errorf("failed to initialize audit log: %w", err)
		}
		a.startAudit(auditService, bus)
		auditHandler = handler.NewAuditHandler(auditService)
	}

	authService, err := service.NewAuthService(store, auth.NewDefaultPasswordHasher(), tokens, cfg.TokenTTL, m, bus)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize auth service: %w", err)
	}

	if cfg.BootstrapAdminEmail != "" {
		admin, created, err := authService.BootstrapAdmin(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminName, cfg.BootstrapAdminPassword)
		if err != nil {
			a.cleanup()
			return nil, fmt.Errorf("failed to bootstrap admin account: %w", err)
		}
		if !created {
			slog.Info("bootstrap admin already present", "account_id", admin.ID)
		}
	}

	appRouter := router.New(cfg,
		middleware.NewAuthMiddleware(authService),
		middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM, rateBackend, cfg.TrustedProxies...),
		m,
		router.Handlers{
			Auth:    handler.NewAuthHandler(authService),
			Account: handler.NewAccountHandler(authService),
			Health:  handler.NewHealthHandler(version, dependencies),
			Audit:   auditHandler,
		},
	)

	a.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config) (repository.AccountStore, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		slog.Warn("using in-memory account store; accounts are lost on restart")
		return repository.NewMemoryAccountRepository(), nil
	}

	if cfg.DBAutoMigrate {
		if err := database.EnsureSchema(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}
	}

	slog.Info("connecting to PostgreSQL")
	db, err := database.New(ctx, database.Options{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.cleanupFuncs = append(a.cleanupFuncs, db.Close)

	return repository.NewAccountRepository(db.Pool), nil
}

// startAudit records bus events until cleanup unsubscribes.
func (a *App) startAudit(audit *service.AuditService, bus event.Bus) {
	events, unsubscribe := bus.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		audit.Consume(context.Background(), events)
	}()

	a.cleanupFuncs = append(a.cleanupFuncs, func() {
		unsubscribe()
		<-done
	})
}

// Close releases everything New acquired. Run calls it on exit.
func (a *App) Close() {
	a.cleanup()
}

// Handler exposes the routed handler for in-process tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		a.cleanup()
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := a.server.Shutdown(shutdownCtx)
	a.cleanup()
	if err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

func (a *App) cleanup() {
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i]()
	}
	a.cleanupFuncs = nil
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
