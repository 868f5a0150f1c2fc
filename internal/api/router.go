package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// healthCheckTimeout bounds each dependency probe in /api/v1/health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(s.accessLog)
	r.Use(s.recoverPanics)
	r.Use(newCORSPolicy(s.cfg.CORS).handler)
	r.Use(middleware.RequestSize(maxRequestBodySize))
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Handle(s.metricsPath, s.metrics.Handler())
	}

	// WebSocket (auth via ticket, validated in handler)
	r.Get(s.wsCfg.Path, s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.requireBearer)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/effects", func(r chi.Router) {
				r.Post("/", s.handleIngestEffect)
				r.Get("/{id}", s.handleGetEffect)
			})

			r.Route("/timeline", func(r chi.Router) {
				r.Get("/", s.handleSnapshot)
				r.Post("/play", s.handleTimelineAction(s.engine.Play))
				r.Post("/pause", s.handleTimelineAction(s.engine.Pause))
				r.Post("/stop", s.handleTimelineAction(s.engine.Stop))
				r.Post("/seek", s.handleSeek)
				r.Post("/cancel", s.handleCancelPending)
			})

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/", s.handleCreateDevice)
				r.Get("/stats", s.handleDeviceStats)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Delete("/", s.handleDeleteDevice)
					r.Get("/history", s.handleGetDeviceHistory)
					r.Post("/reconnect", s.handleReconnectDevice)
				})
			})

			r.Route("/groups", func(r chi.Router) {
				r.Get("/", s.handleListGroups)
				r.Post("/", s.handleCreateGroup)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetGroup)
					r.Delete("/", s.handleDeleteGroup)
					r.Put("/members", s.handleSetGroupMembers)
				})
			})

			r.Get("/activity", s.handleQueryActivity)
			r.Get("/stats", s.handleStats)
		})
	})

	return r
}

// handleHealth reports server status and the result of each dependency probe.
// Any failing probe turns the response into 503 with status "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(s.checks))

	for _, hc := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := hc.Check(ctx)
		cancel()
		if err != nil {
			checks[hc.Name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[hc.Name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"checks":         checks,
		"websocket":      map[string]int{"clients": s.hub.ClientCount()},
	})
}

// handleStats returns engine counters and per-device health.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}
