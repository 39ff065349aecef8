// Package app wires the autoscale control plane's collaborators together and
// drives the "api" and "worker" runtime modes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/otterscale/autoscale/internal/auth"
	"github.com/otterscale/autoscale/internal/audit"
	"github.com/otterscale/autoscale/internal/clock"
	"github.com/otterscale/autoscale/internal/config"
	"github.com/otterscale/autoscale/internal/httpserver"
	"github.com/otterscale/autoscale/internal/platform"
	"github.com/otterscale/autoscale/internal/telemetry"
	"github.com/otterscale/autoscale/pkg/admin"
	"github.com/otterscale/autoscale/pkg/authtoken"
	"github.com/otterscale/autoscale/pkg/capability"
	"github.com/otterscale/autoscale/pkg/converge"
	"github.com/otterscale/autoscale/pkg/fleetconverge"
	"github.com/otterscale/autoscale/pkg/groupapi"
	"github.com/otterscale/autoscale/pkg/lock"
	"github.com/otterscale/autoscale/pkg/policy"
	"github.com/otterscale/autoscale/pkg/schedule"
	"github.com/otterscale/autoscale/pkg/scheduledrain"
	"github.com/otterscale/autoscale/pkg/servercache"
	"github.com/otterscale/autoscale/pkg/slack"
	"github.com/otterscale/autoscale/pkg/store"
	"github.com/otterscale/autoscale/pkg/tenantconfig"
)

// Run is the main application entry point: given the config main has
// already loaded, it connects to infrastructure and starts the runtime mode
// cfg.Mode selects.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting autoscale", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	var rdb *redis.Client
	var locker lock.Locker
	switch cfg.LockBackend {
	case "inprocess":
		locker = lock.NewInProcessLock()
		logger.Info("group lock: in-process")
	default:
		client, err := platform.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Error("closing redis", "error", err)
			}
		}()
		rdb = client
		locker = lock.NewRedisLock(client, "autoscale:lock:")
		logger.Info("group lock: redis", "url", cfg.RedisURL)
	}

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	collaborators, err := buildCollaborators(db, locker, cfg, logger)
	if err != nil {
		return err
	}

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg, auditWriter, collaborators)
	case "worker":
		return runWorker(ctx, logger, collaborators)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// collaborators holds every domain package wired against the shared pool,
// lock, and clock — shared between the "api" and "worker" modes.
type collaborators struct {
	store        *store.Store
	schedule     *schedule.Store
	capIndex     *capability.Index
	serverCache  *servercache.Store
	executor     *policy.Executor
	dispatcher   *converge.Dispatcher
	drainWorker  *scheduledrain.Worker
	notifier     *slack.Notifier
	authService  *authtoken.Service
	quotaService *tenantconfig.Service
}

func buildCollaborators(db *pgxpool.Pool, locker lock.Locker, cfg *config.Config, logger *slog.Logger) (*collaborators, error) {
	clk := clock.System{}

	quotaService := tenantconfig.NewService(db, logger)

	defaults := store.QuotaLimits{
		MaxGroups:            cfg.LimitsMaxGroups,
		MaxPoliciesPerGroup:  cfg.LimitsMaxPoliciesPerGroup,
		MaxWebhooksPerPolicy: cfg.LimitsMaxWebhooksPerPolicy,
		Pagination:           cfg.LimitsPagination,
	}

	buildTimeout, err := time.ParseDuration(cfg.ConvergerBuildTimeout)
	if err != nil {
		return nil, fmt.Errorf("parsing converger build timeout %q: %w", cfg.ConvergerBuildTimeout, err)
	}
	convergerInterval, err := time.ParseDuration(cfg.ConvergerInterval)
	if err != nil {
		return nil, fmt.Errorf("parsing converger interval %q: %w", cfg.ConvergerInterval, err)
	}

	st := store.NewStore(db, locker, clk, defaults, quotaService, buildTimeout, cfg.CapabilityVersion)
	schedStore := schedule.NewStore(db, cfg.ScheduleBuckets, clk)
	capIndex := capability.NewIndex(db)
	cache := servercache.NewStore(db)
	executor := policy.NewExecutor(st)
	notifier := slack.NewNotifier(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)

	fulfiller := fleetconverge.NewFulfiller(cache, clk)
	dispatcher := converge.NewDispatcher(st, fulfiller, notifier, logger, convergerInterval, defaults.Pagination,
		telemetry.GroupStatusTransitionsTotal, telemetry.ConvergenceFailuresTotal)

	drainWorker := scheduledrain.NewWorker(schedStore, executor, clk, logger, cfg.ScheduleBuckets, convergerInterval, defaults.Pagination,
		telemetry.ScheduledEventsFiredTotal)

	authService := authtoken.NewService(authtoken.NewStore(db), logger)

	return &collaborators{
		store: st, schedule: schedStore, capIndex: capIndex, serverCache: cache,
		executor: executor, dispatcher: dispatcher, drainWorker: drainWorker,
		notifier: notifier, authService: authService, quotaService: quotaService,
	}, nil
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, auditWriter *audit.Writer, c *collaborators) error {
	authn := c.authService
	authMiddleware := auth.Middleware(authn)
	tenantGuard := auth.TenantFromPath("tenant")

	srv := httpserver.NewServer(httpserver.Config{CORSAllowedOrigins: cfg.CORSAllowedOrigins}, logger, db, rdb, metricsReg, authMiddleware, tenantGuard)

	groupHandler := groupapi.NewHandler(logger, auditWriter, c.store, c.executor)
	srv.APIRouter.Mount("/groups", groupHandler.Routes())

	anonHandler := groupapi.NewAnonymousHandler(logger, c.capIndex, c.executor)
	srv.AnonymousRouter.Mount("/", anonHandler.Routes())

	apiKeyHandler := authtoken.NewHandler(logger, auditWriter, c.authService)
	srv.APIRouter.Route("/api-keys", func(r chi.Router) {
		r.Use(auth.RequireRole(auth.RoleAdmin))
		r.Mount("/", apiKeyHandler.Routes())
	})

	quotaHandler := tenantconfig.NewHandler(logger, auditWriter, db)
	adminHandler := admin.NewHandler(logger, db)
	srv.APIRouter.Route("/admin", func(r chi.Router) {
		r.Mount("/config", quotaHandler.Routes())
		r.Mount("/", adminHandler.Routes())
	})

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, logger *slog.Logger, c *collaborators) error {
	logger.Info("worker started")

	errCh := make(chan error, 2)
	go func() { errCh <- c.dispatcher.Run(ctx) }()
	go func() { errCh <- c.drainWorker.Run(ctx) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}
