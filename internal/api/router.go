package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-live/internal/manager"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)

	if s.metrics != nil && s.metricsPath != "" {
		r.Method(http.MethodGet, s.metricsPath, s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)

		r.Route("/signals", func(r chi.Router) {
			r.Get("/", s.handleListSignals)
			r.Get("/{id}", s.handleGetSignal)
			r.Get("/{id}/history", s.handleSignalHistory)
		})

		r.Get("/stream", s.handleStream)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status    string           `json:"status"`
	Version   string           `json:"version"`
	Connected int              `json:"connected"`
	Total     int              `json:"total"`
	Adapters  []manager.Health `json:"adapters"`
}

// handleHealth reports adapter health. The status is "healthy" when every
// adapter is connected and "degraded" otherwise. Both answer 200.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	adapters := s.health.Health()
	resp := healthResponse{
		Status:   "healthy",
		Version:  s.version,
		Total:    len(adapters),
		Adapters: adapters,
	}
	for _, h := range adapters {
		if h.Connected {
			resp.Connected++
		}
	}
	if resp.Connected < resp.Total {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}
