package adminapi

import (
	"net/http"
	"strings"

	"github.com/agenttunnel/gateway/internal/store"
)

type startRunRequest struct {
	Pipeline string `json:"pipeline"` // tunnel name
	Agent    string `json:"agent"`
}

// startRunResponse wraps the new run with the first expected command
// (§4.3: "Return run_id and the first expected command"), so the caller
// doesn't have to re-fetch the tunnel just to learn what to send next.
type startRunResponse struct {
	store.Run
	NextCommand *string `json:"next_command"`
}

// StartRun handles POST /orchestrator/pipeline/start.
func (s *Server) StartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Pipeline) == "" {
		writeError(w, http.StatusBadRequest, "pipeline is required")
		return
	}
	if strings.TrimSpace(req.Agent) == "" {
		req.Agent = "unknown"
	}

	run, err := s.pipelines.StartRun(r.Context(), req.Pipeline, req.Agent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := startRunResponse{Run: run}
	if tunnel, terr := s.tunnels.Get(run.PipelineName); terr == nil && run.CurrentStep < len(tunnel.Pipeline.Steps) {
		cmd := tunnel.Pipeline.Steps[run.CurrentStep].Command
		resp.NextCommand = &cmd
	}
	writeJSON(w, http.StatusCreated, envelope{Data: resp})
}

// RunStatus handles GET /orchestrator/pipeline/status?run_id=X.
func (s *Server) RunStatus(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}
	run, err := s.pipelines.Status(runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: run})
}

// ListRuns handles GET /orchestrator/pipeline/runs.
func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.pipelines.List()
	writeJSON(w, http.StatusOK, envelope{Data: runs, Count: len(runs)})
}

type resetRunRequest struct {
	RunID string `json:"run_id"`
}

// AbortRun handles POST /orchestrator/pipeline/reset.
func (s *Server) AbortRun(w http.ResponseWriter, r *http.Request) {
	var req resetRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.RunID) == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}
	run, err := s.pipelines.AbortRun(r.Context(), req.RunID)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: run})
}
