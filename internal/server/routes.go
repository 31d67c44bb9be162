package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/clustercoder/bubbleOne/internal/core"
	"github.com/clustercoder/bubbleOne/internal/engine"
	"github.com/clustercoder/bubbleOne/internal/planner"
	"github.com/go-chi/chi/v5"
)

// decode reads a JSON body into v. Failures wrap core.ErrInvalidInput.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid json: %v: %w", err, core.ErrInvalidInput)
	}
	return nil
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req engine.IngestRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.engine.Ingest(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.engine.Dashboard()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.CreateDraft(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleAutoNudge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Enabled == nil {
		s.writeError(w, r, fmt.Errorf("enabled is required: %w", core.ErrInvalidInput))
		return
	}

	res, err := s.engine.ToggleAutoNudge(r.Context(), chi.URLParam(r, "hash"), *req.Enabled)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSendAction(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.SendAction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleIgnoreAction(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.IgnoreAction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	if s.worker == nil {
		unavailable(w, "worker")
		return
	}

	// A client that hangs up must not cut the daily recompute short.
	report, err := s.worker.Tick(context.WithoutCancel(r.Context()))
	resp := struct {
		engine.TickReport
		Error string `json:"error,omitempty"`
	}{TickReport: report}
	if err != nil {
		s.log.Warn("manual tick finished with errors", "err", err)
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProcessContact(w http.ResponseWriter, r *http.Request) {
	if s.planner == nil {
		unavailable(w, "planner")
		return
	}

	var req planner.Request
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}

	out := s.planner.ProcessContact(r.Context(), req)
	if err := out.Err(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out.Result)
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		unavailable(w, "audit ledger")
		return
	}

	v, err := s.ledger.Verify()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		unavailable(w, "event stream")
		return
	}
	s.hub.ServeHTTP(w, r)
}
