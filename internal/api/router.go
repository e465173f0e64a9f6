package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/alertflow/internal/api/alerts"
	"github.com/good-yellow-bee/alertflow/internal/api/middleware"
	"github.com/good-yellow-bee/alertflow/internal/api/rules"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestLogger(s.config.Verbose))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer)
	r.Use(middleware.PrometheusMiddleware)

	alertHandler := alerts.NewHandler(s.service, s.feed, s.storage.AuditLog())
	ruleHandler := rules.NewHandler(s.service)

	// API v1 routes, all tenant-scoped
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireTenant)

		r.Route("/alerts", func(r chi.Router) {
			r.Post("/", alertHandler.Create)
			r.Post("/ml", alertHandler.CreateFromML)
			r.Post("/evaluate", alertHandler.Evaluate)
			r.Get("/", alertHandler.List)
			r.Get("/feed", alertHandler.Feed)
			r.Get("/stats", alertHandler.Stats)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", alertHandler.GetByID)
				r.Post("/acknowledge", alertHandler.Acknowledge)
				r.Post("/resolve", alertHandler.Resolve)
				r.Post("/dismiss", alertHandler.Dismiss)
				r.Get("/notifications", alertHandler.Notifications)
				r.Get("/audit", alertHandler.AuditTrail)
			})
		})

		r.Route("/rules", func(r chi.Router) {
			r.Post("/", ruleHandler.Create)
			r.Get("/", ruleHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", ruleHandler.GetByID)
				r.Put("/", ruleHandler.Update)
				r.Delete("/", ruleHandler.Disable)
			})
		})

		r.Get("/audit", alertHandler.TenantAudit)
	})

	// Health probes (public, no tenant required)
	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/live", s.healthHandler.Live)
	r.Get("/health/ready", s.healthHandler.Ready)

	return r
}
