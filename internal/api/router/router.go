package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wei840222/pingu-bot/internal/http/handlers"
	httpmiddleware "github.com/wei840222/pingu-bot/internal/http/middleware"
	"github.com/wei840222/pingu-bot/internal/messaging"
	"github.com/wei840222/pingu-bot/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger           *logging.Logger
	MessagingHandler *messaging.Handler
	MetricsHandler   http.Handler

	// Admin run inspection (optional)
	AdminRuns       *handlers.AdminRunsHandler
	AdminAuthSecret string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	if cfg == nil || cfg.MessagingHandler == nil {
		panic("router: messaging handler cannot be nil")
	}
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	// Public endpoints (webhook, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", cfg.MessagingHandler.HealthCheck)
		public.Post("/callback", cfg.MessagingHandler.Callback)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	if cfg.AdminRuns != nil && cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Use(middleware.Compress(5))
			admin.Get("/runs", cfg.AdminRuns.ListRuns)
			admin.Get("/runs/{runID}", cfg.AdminRuns.GetRun)
		})
	}

	return r
}
