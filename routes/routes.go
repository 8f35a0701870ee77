package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/upb/risk-enforcer/app"
	"github.com/upb/risk-enforcer/handlers"
	"github.com/upb/risk-enforcer/middleware"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	h := handlers.NewHandlers(deps)

	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-Secret"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Probes and metrics are served without the shared secret
	r.Get("/healthz", h.Health.HandleHealth)
	r.Get("/readyz", h.Health.HandleReadiness)
	r.Handle("/metrics", promhttp.HandlerFor(deps.MetricsRegistry, promhttp.HandlerOpts{}))

	internalAuth := middleware.InternalAuth(deps.Config.InternalAuth.Secret, deps.Logger)

	// Enforcement trigger for the external scheduler
	r.Route("/internal", func(r chi.Router) {
		r.Use(internalAuth)
		r.Post("/enforce-risk", h.Enforce.HandleEnforce)
	})

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(internalAuth)

		// Policy management
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.Policies.HandleListPolicies)
			r.Post("/", h.Policies.HandleCreatePolicy)
			r.Get("/{id}", h.Policies.HandleGetPolicy)
			r.Put("/{id}", h.Policies.HandleUpdatePolicy)
			r.Delete("/{id}", h.Policies.HandleDeletePolicy)
		})

		// Breach records (read-only)
		r.Route("/breaches", func(r chi.Router) {
			r.Get("/", h.Breaches.HandleListBreaches)
			r.Get("/{id}", h.Breaches.HandleGetBreach)
		})

		// Audit trail (read-only)
		r.Route("/audit", func(r chi.Router) {
			r.Get("/entries", h.Audit.HandleListAuditEntries)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
