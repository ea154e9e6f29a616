package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"nexsync-auth/internal/config"
	"nexsync-auth/internal/handler"
	"nexsync-auth/internal/metrics"
	"nexsync-auth/internal/middleware"
	"nexsync-auth/internal/model"
)

type Handlers struct {
	Auth    *handler.AuthHandler
	Account *handler.AccountHandler
	Health  *handler.HealthHandler
	// Audit is optional; /admin/audit is mounted only when set.
	Audit *handler.AuditHandler
}

func New(
	cfg *config.Config,
	authMiddleware *middleware.AuthMiddleware,
	rateLimit *middleware.RateLimitMiddleware,
	m *metrics.Metrics,
	h Handlers,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.Metrics(m))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimit.Handler)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"code":"NOT_FOUND","message":"Route not found"}`))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = w.Write([]byte(`{"success":false,"code":"METHOD_NOT_ALLOWED","message":"Method not allowed"}`))
	})

	r.Get("/health", h.Health.Live)
	r.Get("/health/ready", h.Health.Ready)
	if cfg.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Group(func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Route("/auth", func(auth chi.Router) {
			auth.Post("/register", h.Auth.Register)
			auth.Post("/login", h.Auth.Login)
			auth.With(authMiddleware.RequireAuth).Get("/check-auth", h.Auth.CheckAuth)
		})

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(authMiddleware.RequireAuth, authMiddleware.RequireRoles(model.RoleAdmin))
			admin.Get("/accounts/{id}", h.Account.Get)
			if h.Audit != nil {
				admin.Get("/audit", h.Audit.List)
			}
		})
	})

	return r
}
