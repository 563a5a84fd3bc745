package httpapi

import (
	"io"
	"net/http"
	"strconv"

	"github.com/agenttunnel/gateway/internal/adminapi"
	"github.com/agenttunnel/gateway/internal/auth"
	"github.com/agenttunnel/gateway/internal/gwerrors"
	"github.com/agenttunnel/gateway/internal/policy"
	"github.com/agenttunnel/gateway/internal/ratelimit"
	"github.com/agenttunnel/gateway/internal/store"
)

type allowResponse struct {
	Success     bool    `json:"success"`
	Reason      string  `json:"reason,omitempty"`
	RunStatus   string  `json:"run_status,omitempty"`
	NextCommand *string `json:"next_command"`
}

// Proxy handles POST /validate and POST / (§4.5, §8 scenarios 1-5): the
// worker policy-evaluation endpoint. Both paths are accepted per the
// open question in §9 rather than canonicalized to one, since nothing
// downstream cares which spelling a caller used.
func (s *Server) Proxy(w http.ResponseWriter, r *http.Request) {
	caller, result, err := s.auth.Authenticate(r.Context(), r)
	setRateLimitHeaders(w, result)
	if err != nil {
		s.renderAuthError(w, err)
		return
	}
	s.evaluateAndRespond(w, r, caller)
}

// requireOrchestrator authenticates the request and, if the caller is
// orchestrator-tier, dispatches to next with no policy check (§4.5). A
// worker credential hitting an /orchestrator/* path is policy-evaluated
// exactly as it would be against any other path — it has no special
// carve-out, so it is normally denied by its tunnel's method/path rules
// (§8 scenario 6).
func (s *Server) requireOrchestrator(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, result, err := s.auth.Authenticate(r.Context(), r)
		setRateLimitHeaders(w, result)
		if err != nil {
			s.renderAuthError(w, err)
			return
		}
		if caller.Tier != store.TierOrchestrator {
			s.evaluateAndRespond(w, r, caller)
			return
		}
		ctx := adminapi.WithCaller(r.Context(), caller.Name)
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) evaluateAndRespond(w http.ResponseWriter, r *http.Request, caller auth.Caller) {
	tunnelName := caller.Tunnel
	if tunnelName == "" {
		tunnelName = s.publicViewerTunnel
	}

	body, err := readBody(w, r, s.maxBodyBytes)
	if err != nil {
		writeDecisionError(w, gwerrors.New(gwerrors.ErrBodyRead, "Body read error"))
		return
	}

	decision := s.evaluator.Evaluate(r.Context(), policy.Request{
		TunnelName: tunnelName,
		AgentName:  caller.Name,
		Method:     r.Method,
		Path:       r.URL.Path,
		Body:       body,
	})

	if !decision.Allowed {
		writeDecisionError(w, decision.Err)
		return
	}

	resp := allowResponse{Success: true}

	if decision.IsPipeline {
		run, err := s.pipelines.ConfirmStep(r.Context(), decision.RunID, decision.Command)
		if err != nil {
			decErr, ok := err.(*gwerrors.DecisionError)
			if !ok {
				decErr = gwerrors.New(err, err.Error())
			}
			writeDecisionError(w, decErr)
			return
		}
		resp.RunStatus = string(run.Status)
		if run.Status == store.RunInProgress {
			tunnel, terr := s.tunnels.Get(run.PipelineName)
			if terr == nil && run.CurrentStep < len(tunnel.Pipeline.Steps) {
				cmd := tunnel.Pipeline.Steps[run.CurrentStep].Command
				resp.NextCommand = &cmd
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) renderAuthError(w http.ResponseWriter, err error) {
	decErr, ok := err.(*gwerrors.DecisionError)
	if !ok {
		decErr = gwerrors.New(err, err.Error())
	}
	writeDecisionError(w, decErr)
}

// setRateLimitHeaders writes X-RateLimit-* on every authenticated
// response, success or failure, per §4.1 — a denial still reports the
// caller's remaining budget.
func setRateLimitHeaders(w http.ResponseWriter, result ratelimit.Result) {
	if result.Limit == 0 && result.ResetAt.IsZero() {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", result.ResetAt.Format("2006-01-02T15:04:05Z07:00"))
}

func readBody(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, error) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
