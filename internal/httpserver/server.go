package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Server holds the HTTP server dependencies. Domain handlers are mounted on
// APIRouter (tenant-scoped, behind authMiddleware) and AnonymousRouter (the
// capability execute path, no authentication) by the caller after NewServer
// returns.
type Server struct {
	Router          *chi.Mux
	APIRouter       chi.Router
	AnonymousRouter chi.Router
	Logger          *slog.Logger
	DB              *pgxpool.Pool
	Redis           *redis.Client // nil when the deployment uses InProcessLock instead of RedisLock
	Metrics         *prometheus.Registry
	startedAt       time.Time
}

// Config is the subset of application configuration the HTTP server needs.
type Config struct {
	CORSAllowedOrigins []string
}

// NewServer creates an HTTP server with middleware, health/metrics endpoints,
// and the "/v1.0" route tree: "/v1.0/execute" (AnonymousRouter, unauthenticated)
// and "/v1.0/{tenant}" (APIRouter, wrapped in authMiddleware).
func NewServer(cfg Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, authMiddlewares ...func(http.Handler) http.Handler) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		DB:        db,
		Redis:     rdb,
		Metrics:   metricsReg,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (unauthenticated)
	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)

	// Prometheus metrics (unauthenticated)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.Router.Route("/v1.0", func(r chi.Router) {
		anon := chi.NewRouter()
		r.Mount("/execute", anon)
		s.AnonymousRouter = anon

		r.Route("/{tenant}", func(r chi.Router) {
			for _, mw := range authMiddlewares {
				r.Use(mw)
			}
			s.APIRouter = r
		})
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz pings Postgres, and Redis too when the deployment is wired
// with RedisLock rather than the single-process InProcessLock.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("readiness check: database ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "database not ready")
		return
	}

	if s.Redis != nil {
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			s.Logger.Error("readiness check: redis ping failed", "error", err)
			RespondError(w, http.StatusServiceUnavailable, "unavailable", "redis not ready")
			return
		}
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}
