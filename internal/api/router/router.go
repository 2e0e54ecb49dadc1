package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/theramatch/booking-platform/internal/http/handlers"
	httpmiddleware "github.com/theramatch/booking-platform/internal/http/middleware"
	"github.com/theramatch/booking-platform/internal/webhook"
	"github.com/theramatch/booking-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger *logging.Logger

	WebhookHandler      *webhook.Handler
	AvailabilityHandler *handlers.AvailabilityHandler
	ReservationsHandler *handlers.ReservationsHandler
	MetricsHandler      http.Handler

	CORSAllowedOrigins []string

	// Rate limit for the user-facing /api surface; zero disables it.
	APIRateLimit float64
	APIRateBurst int
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

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

	// Public endpoints (provider webhooks, health, metrics). The webhook route
	// authenticates itself via the body signature, so it stays outside the
	// user-facing rate limit: provider redelivery bursts are legitimate.
	r.Group(func(public chi.Router) {
		public.Get("/health", handlers.Health)
		if cfg.WebhookHandler != nil {
			public.Post("/webhooks/acuity", cfg.WebhookHandler.Handle)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// User-facing booking API.
	r.Route("/api", func(api chi.Router) {
		if cfg.APIRateLimit > 0 {
			api.Use(httpmiddleware.RateLimit(cfg.APIRateLimit, cfg.APIRateBurst))
		}
		if cfg.AvailabilityHandler != nil {
			api.Get("/availability", cfg.AvailabilityHandler.GetSlots)
		}
		if cfg.ReservationsHandler != nil {
			api.Post("/reservations", cfg.ReservationsHandler.Create)
		}
	})

	return r
}
