package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/status", s.handleStatus)

		r.Route("/variables", func(r chi.Router) {
			r.Get("/", s.handleListVariables)
			r.Get("/definitions", s.handleListDefinitions)
			r.Get("/{id}", s.handleGetVariable)
		})

		r.Route("/services", func(r chi.Router) {
			r.Get("/", s.handleListServices)
			r.Get("/choices", s.handleServiceChoices)
			r.Get("/{name}/status", s.handleGetServiceStatus)
		})

		r.Get("/server", s.handleGetServer)
		r.Post("/refresh", s.handleRefresh)
		r.Put("/polling", s.handleSetPolling)

		r.Post("/commands/{kind}", s.handleCommand)
		r.Post("/conditions/{kind}", s.handleCondition)

		r.Route("/feedbacks", func(r chi.Router) {
			r.Get("/", s.handleListFeedbacks)
			r.Put("/{id}", s.handleWatchFeedback)
			r.Delete("/{id}", s.handleUnwatchFeedback)
		})

		r.Get("/audit", s.handleListAuditLogs)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"device":  s.registry.Status().State,
	})
}
