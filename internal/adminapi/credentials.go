package adminapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/agenttunnel/gateway/internal/store"
)

type createCredentialRequest struct {
	Name       string     `json:"name"`
	Tunnel     string     `json:"tunnel"`
	Tier       store.Tier `json:"tier"`
	DailyLimit int        `json:"daily_limit"`
}

// createdCredential is the creation-only response shape: unlike every
// other credential read path, it carries the plaintext key, since this
// is the one and only time that secret is ever returned to a caller.
type createdCredential struct {
	Key        string     `json:"key"`
	Name       string     `json:"name"`
	Tier       store.Tier `json:"tier"`
	Tunnel     string     `json:"tunnel,omitempty"`
	DailyLimit int        `json:"dailyLimit"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"createdAt"`
	CreatedBy  string     `json:"createdBy,omitempty"`
}

// listedCredential is the list-endpoint shape: the stored credential plus
// its redacted key, which store.Credential itself never serializes.
type listedCredential struct {
	Key string `json:"key"`
	store.Credential
}

// ListCredentials handles GET /orchestrator/agents, optionally filtered by
// ?tunnel= (§9's supplemented filter). Keys are always redacted.
func (s *Server) ListCredentials(w http.ResponseWriter, r *http.Request) {
	tunnelFilter := r.URL.Query().Get("tunnel")
	creds := s.credentials.List(tunnelFilter)
	out := make([]listedCredential, 0, len(creds))
	for _, c := range creds {
		out = append(out, listedCredential{Key: c.Key, Credential: c})
	}
	writeJSON(w, http.StatusOK, envelope{Data: out, Count: len(out)})
}

// CreateCredential handles POST /orchestrator/agents/create (§4.4): issues
// a worker credential bound to tunnel, which must already exist. The
// response is the only time the plaintext key is ever returned. Daily
// limit and tier default to the worker configuration when not supplied,
// so the minimal request body named in §4.4 — {name, tunnel} — still
// works.
func (s *Server) CreateCredential(w http.ResponseWriter, r *http.Request) {
	var req createCredentialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Tier == "" {
		req.Tier = store.TierWorker
	}
	if req.Tier != store.TierOrchestrator && req.Tier != store.TierWorker {
		writeError(w, http.StatusBadRequest, "tier must be orchestrator or worker")
		return
	}
	if req.Tier == store.TierWorker && strings.TrimSpace(req.Tunnel) == "" {
		writeError(w, http.StatusBadRequest, "tunnel is required for worker credentials")
		return
	}
	if req.Tier == store.TierWorker {
		if _, err := s.tunnels.Get(req.Tunnel); err != nil {
			writeError(w, http.StatusNotFound, "tunnel not found")
			return
		}
	}
	if req.DailyLimit <= 0 {
		req.DailyLimit = s.defaultDailyLimit(req.Tier)
	}

	createdBy := "orchestrator"
	if caller, ok := CallerFromContext(r.Context()); ok {
		createdBy = caller
	}

	cred, err := s.credentials.Create(req.Name, req.Tier, req.Tunnel, req.DailyLimit, createdBy)
	if err != nil {
		s.log.Error("creating credential", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to save credential")
		return
	}

	writeJSON(w, http.StatusCreated, envelope{Data: createdCredential{
		Key:        cred.Key,
		Name:       cred.Name,
		Tier:       cred.Tier,
		Tunnel:     cred.Tunnel,
		DailyLimit: cred.DailyLimit,
		Active:     cred.Active,
		CreatedAt:  cred.CreatedAt,
		CreatedBy:  cred.CreatedBy,
	}})
}

func (s *Server) defaultDailyLimit(tier store.Tier) int {
	if tier == store.TierOrchestrator {
		return s.orchestratorDailyLimit
	}
	return s.workerDailyLimit
}

type deleteCredentialRequest struct {
	Key string `json:"key"`
}

// DeleteCredential handles POST /orchestrator/agents/delete.
func (s *Server) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	var req deleteCredentialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.credentials.Delete(req.Key); err != nil {
		writeError(w, http.StatusNotFound, "credential not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
