package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-automation/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-automation/internal/http/middleware"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger    *logging.Logger
	Webhooks  *handlers.WebhookHandler
	Triggers  *handlers.TriggerHandler
	Dashboard http.Handler
	Health    http.Handler
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler

	// AdminAuthSecret enables AdminJWT on /trigger and /dashboard.
	AdminAuthSecret string
	// WebhookSecret enables X-Webhook-Signature checks on /webhook.
	WebhookSecret      string
	CORSAllowedOrigins []string
	// WebhookLimiter rate limits /webhook per client IP when set.
	WebhookLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Get("/health", cfg.Health.ServeHTTP)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	if cfg.Webhooks != nil {
		r.Route("/webhook", func(wh chi.Router) {
			if cfg.WebhookLimiter != nil {
				wh.Use(httpmiddleware.RateLimit(cfg.WebhookLimiter))
			}
			wh.Use(httpmiddleware.WebhookSignature(cfg.WebhookSecret))
			wh.Post("/intake", cfg.Webhooks.Intake)
			wh.Post("/booking", cfg.Webhooks.Booking)
		})
	}

	r.Group(func(admin chi.Router) {
		if cfg.AdminAuthSecret != "" {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
		}
		admin.Use(middleware.Compress(5))
		if cfg.Triggers != nil {
			admin.Route("/trigger", func(tr chi.Router) {
				tr.Post("/reminders", cfg.Triggers.Reminders)
				tr.Post("/follow-ups", cfg.Triggers.FollowUps)
				tr.Post("/weekly-report", cfg.Triggers.WeeklyReport)
				tr.Post("/custom-report", cfg.Triggers.CustomReport)
				tr.Post("/custom-reminder", cfg.Triggers.CustomReminder)
			})
		}
		if cfg.Dashboard != nil {
			admin.Get("/dashboard", cfg.Dashboard.ServeHTTP)
		}
	})

	return r
}
