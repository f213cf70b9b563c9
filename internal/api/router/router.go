package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/carebook/clinic-scheduler/internal/http/handlers"
	httpmiddleware "github.com/carebook/clinic-scheduler/internal/http/middleware"
	"github.com/carebook/clinic-scheduler/internal/notify"
	"github.com/carebook/clinic-scheduler/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Scheduling         *handlers.SchedulingHandler
	GatewayWebhooks    *handlers.GatewayWebhookHandler
	Hub                *notify.Hub
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Per-tenant API rate limit; zero disables it.
	APIRatePerSecond float64
	APIBurst         int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", cfg.Scheduling.HealthCheck)
		if cfg.GatewayWebhooks != nil {
			public.Post("/webhooks/gateway/messages", cfg.GatewayWebhooks.HandleMessages)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Hub != nil {
			public.Get("/ws", cfg.Hub.HandleWS)
		}
	})

	// Org-scoped API
	r.Route("/api", func(api chi.Router) {
		api.Use(requireOrgID)
		if cfg.APIRatePerSecond > 0 {
			api.Use(httpmiddleware.RateLimitPerOrg(cfg.APIRatePerSecond, cfg.APIBurst))
		}
		api.Post("/match", cfg.Scheduling.Match)
		api.Post("/proposals", cfg.Scheduling.Propose)
		api.Post("/slots/reorder", cfg.Scheduling.Reorder)
		api.Get("/appointments/{appointmentID}", cfg.Scheduling.GetAppointment)
	})

	return r
}
