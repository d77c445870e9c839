// Package api serves the derived views and user actions to the external
// renderer over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"

	"github.com/rewired-gh/quakewatch/internal/alert"
	"github.com/rewired-gh/quakewatch/internal/config"
	"github.com/rewired-gh/quakewatch/internal/history"
	"github.com/rewired-gh/quakewatch/internal/metrics"
	"github.com/rewired-gh/quakewatch/internal/settings"
	"github.com/rewired-gh/quakewatch/internal/snapshot"
)

// Deps are the services behind the routes. Hub and Metrics are optional.
type Deps struct {
	Snapshot *snapshot.Store
	Ledger   *history.Ledger
	Settings *settings.Manager
	Tracker  *alert.Tracker
	Tsunami  *alert.TsunamiWatch
	Poller   Poller
	Hub      http.Handler
	Metrics  *metrics.Metrics
}

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(deps Deps, cfg config.ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	h := &Handler{
		snapshot: deps.Snapshot,
		ledger:   deps.Ledger,
		settings: deps.Settings,
		tracker:  deps.Tracker,
		tsunami:  deps.Tsunami,
		poller:   deps.Poller,
	}

	// --- Routes ---
	r.Get("/health", h.HealthCheck)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	if deps.Hub != nil {
		r.Method(http.MethodGet, "/ws", deps.Hub)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/quakes", h.ListQuakes)
		r.Get("/quakes/{id}", h.GetQuake)
		r.Get("/history", h.GetHistory)
		r.Get("/statistics", h.GetStatistics)
		r.Get("/alerts", h.ListAlerts)

		r.Get("/tsunami", h.ListTsunamiWarnings)
		r.Post("/tsunami/{id}/dismiss", h.DismissTsunamiWarning)

		r.Get("/settings", h.GetSettings)
		r.Patch("/settings", h.PatchSettings)
		r.Put("/settings/location", h.PutLocation)

		r.Post("/poll", h.TriggerPoll)
		r.Get("/status", h.GetStatus)
	})

	return r
}

// NewServer wraps the router in an http.Server using the configured timeouts.
func NewServer(handler http.Handler, cfg config.ServerConfig) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
