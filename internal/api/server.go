package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/albapepper/salah/internal/api/handler"
	"github.com/albapepper/salah/internal/config"
)

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(deps handler.Deps, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LogMiddleware(logger))
	r.Use(TimingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5)) // gzip

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Content-Type", "If-None-Match", "Cache-Control"},
		ExposedHeaders:   []string{"X-Process-Time", "X-Cache", "ETag"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	h := handler.New(deps)

	// --- Routes ---

	r.Get("/", h.Root)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/db", h.HealthCheckDB)
		r.Get("/cache", h.HealthCheckCache)
	})

	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/docs/doc.json")))

	r.Route("/api/v1", func(r chi.Router) {
		// Countdown and schedule
		r.Get("/countdown", h.GetCountdown)
		r.Post("/recalculate", h.PostRecalculate)
		r.Get("/schedule", h.GetSchedule)

		// Location and preferences
		r.Put("/location", h.PutLocation)
		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.PutSettings)

		// Alerts
		r.Get("/alerts", h.GetAlerts)
		r.Delete("/alerts", h.DeleteAlerts)

		// Completion log
		r.Route("/completions", func(r chi.Router) {
			r.Get("/", h.ListCompletions)
			r.Get("/week", h.GetWeek)
			r.Put("/{date}/{kind}", h.PutCompletion)
			r.Post("/{date}/{kind}/toggle", h.ToggleCompletion)
		})

		// Statistics
		r.Get("/stats", h.GetStats)
		r.Get("/stats/streaks", h.GetStreaks)
		r.Get("/summary", h.GetSummary)
	})

	return r
}
