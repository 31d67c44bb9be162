package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/clustercoder/bubbleOne/internal/audit"
	"github.com/clustercoder/bubbleOne/internal/core"
	"github.com/clustercoder/bubbleOne/internal/engine"
	"github.com/clustercoder/bubbleOne/internal/planner"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Server is the bubbleOne HTTP API server.
type Server struct {
	engine  *engine.Engine
	worker  *engine.Worker
	planner planner.Planner
	ledger  *audit.Ledger
	hub     *audit.Hub
	log     *slog.Logger
	router  chi.Router
	version string
	started time.Time
}

// New creates a Server. corsOrigins lists the browser origins allowed to
// call the API; empty allows any origin.
func New(e *engine.Engine, w *engine.Worker, version string, corsOrigins []string) *Server {
	s := &Server{
		engine:  e,
		worker:  w,
		log:     slog.Default(),
		version: version,
		started: time.Now(),
	}
	s.routes(corsOrigins)
	return s
}

// SetPlanner sets the planner behind the process-contact endpoint.
func (s *Server) SetPlanner(p planner.Planner) { s.planner = p }

// SetLedger enables the audit verification endpoint.
func (s *Server) SetLedger(l *audit.Ledger) { s.ledger = l }

// SetHub enables the live event stream.
func (s *Server) SetHub(h *audit.Hub) { s.hub = h }

// SetLogger replaces the default logger.
func (s *Server) SetLogger(log *slog.Logger) { s.log = log }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(corsOrigins []string) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/v1", func(r chi.Router) {
			r.Post("/ingest", s.handleIngest)
			r.Get("/dashboard", s.handleDashboard)
			r.Post("/contacts/{hash}/draft", s.handleDraft)
			r.Post("/contacts/{hash}/auto-nudge", s.handleAutoNudge)
			r.Post("/actions/{id}/send", s.handleSendAction)
			r.Post("/actions/{id}/ignore", s.handleIgnoreAction)
			r.Post("/worker/tick", s.handleTick)
			r.Post("/process-contact", s.handleProcessContact)
			r.Get("/audit/verify", s.handleAuditVerify)
			r.Get("/stream", s.handleStream)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.engine.DB.Ping(); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.engine.DB.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := map[string]any{"error": err.Error()}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrActionTerminal):
		status = http.StatusConflict
	case errors.Is(err, core.ErrUpstreamUnavailable):
		status = http.StatusServiceUnavailable
		body["retry"] = true
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, body)
}

func unavailable(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": what + " not configured"})
}
