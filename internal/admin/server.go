// Package admin serves the environment server's HTTP status endpoints.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cartridge/rollout/internal/env"
)

// SessionCounter reports open environment sessions.
type SessionCounter interface {
	Sessions() int
}

// Server wires HTTP handlers to the environment server.
type Server struct {
	sessions SessionCounter
	logger   zerolog.Logger
}

// NewServer constructs a Server instance.
func NewServer(sessions SessionCounter, logger zerolog.Logger) *Server {
	return &Server{sessions: sessions, logger: logger}
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(CorrelationID)
	r.Use(RequestLogger(s.logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/environments", s.handleEnvironments)
		r.Get("/sessions", s.handleSessions)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEnvironments(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{"environments": env.Names()})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]int{"open": s.sessions.Sessions()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}
