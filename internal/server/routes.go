package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dwsmith1983/tripwire/internal/server/handlers"
)

func (s *Server) registerRoutes(r chi.Router) {
	h := handlers.New(s.opts.Engine, s.opts.Metrics, s.opts.Tracker, s.opts.Store)
	h.SetLogger(s.logger)

	// Prometheus exposition
	r.Handle("/metrics", s.prometheusHandler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))
		r.Use(RequestTimingMiddleware(s.opts.Metrics))

		// Health
		r.Get("/health", h.Health)

		// Metrics
		r.Get("/metrics", h.ListMetrics)
		r.Get("/metrics/{name}", h.GetMetric)
		r.Post("/metrics/{name}", h.RecordMetric)

		// Alerts
		r.Get("/alerts", h.ListAlerts)
		r.Post("/alerts", h.TriggerAlert)
		r.Get("/alerts/stats", h.AlertStats)
		r.Get("/alerts/dashboard", h.Dashboard)
		r.Get("/alerts/{alertID}", h.GetAlert)
		r.Post("/alerts/{alertID}/acknowledge", h.AcknowledgeAlert)
		r.Post("/alerts/{alertID}/resolve", h.ResolveAlert)

		// Suppressions and rules
		r.Get("/suppressions", h.ListSuppressions)
		r.Post("/suppressions", h.CreateSuppression)
		r.Get("/rules", h.ListRules)

		// Errors
		r.Post("/errors", h.TrackError)
		r.Get("/errors/stats", h.ErrorStats)
		r.Get("/errors/patterns", h.ErrorPatterns)
		r.Get("/errors/report", h.ErrorReport)
	})
}
