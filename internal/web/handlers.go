package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stewardlabs/steward/internal/core"
)

// runStatusResponse pairs the pipeline state with its liveness document.
type runStatusResponse struct {
	State     *core.PipelineState   `json:"state"`
	Heartbeat *core.HeartbeatStatus `json:"heartbeat,omitempty"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if summaries == nil {
		summaries = []core.RunSummary{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": summaries})
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	state, err := s.store.LoadState(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	hb, err := s.store.LoadHeartbeat(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, runStatusResponse{State: state, Heartbeat: hb})
}

func (s *Server) handleRunSnapshots(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	snapshots, err := s.store.ListSnapshots(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if snapshots == nil {
		snapshots = []*core.Snapshot{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "snapshots": snapshots})
}

func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		limit = n
	}

	events, err := s.store.ListEventsByTask(r.Context(), taskID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []*core.Event{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"task_id": taskID, "events": events})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", slog.String("error", err.Error()))
	}
}

// writeError maps domain error codes to HTTP statuses. Corrupt documents
// surface as 502 so callers can tell a damaged store from a missing run.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"

	var domErr *core.DomainError
	if errors.As(err, &domErr) {
		code = domErr.Code
		switch domErr.Code {
		case core.CodeRunNotFound, "NOT_FOUND":
			status = http.StatusNotFound
		case core.CodeStateCorrupted:
			status = http.StatusBadGateway
		}
	}

	s.writeJSON(w, status, map[string]string{"error": err.Error(), "code": code})
}
