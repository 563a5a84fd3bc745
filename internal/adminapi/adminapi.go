// Package adminapi implements the Orchestrator API (§4.5, §6.4): the
// management surface orchestrator-tier credentials use to provision
// tunnels and credentials and to inspect pipeline runs. Every handler
// follows the same decode-validate-call-encode shape the gateway's proxy
// path uses, just aimed at internal/store instead of the policy evaluator.
package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/agenttunnel/gateway/internal/gwlog"
	"github.com/agenttunnel/gateway/internal/pipeline"
	"github.com/agenttunnel/gateway/internal/store"
)

// Server holds the dependencies the Orchestrator API handlers need.
type Server struct {
	credentials *store.CredentialStore
	tunnels     *store.TunnelRegistry
	pipelines   *pipeline.Machine
	log         gwlog.Logger

	workerDailyLimit       int
	orchestratorDailyLimit int
}

// New builds an adminapi Server. workerDailyLimit/orchestratorDailyLimit
// seed credentials created without an explicit daily_limit.
func New(credentials *store.CredentialStore, tunnels *store.TunnelRegistry, pipelines *pipeline.Machine, log gwlog.Logger, workerDailyLimit, orchestratorDailyLimit int) *Server {
	return &Server{
		credentials:            credentials,
		tunnels:                tunnels,
		pipelines:              pipelines,
		log:                    log.WithComponent("adminapi"),
		workerDailyLimit:       workerDailyLimit,
		orchestratorDailyLimit: orchestratorDailyLimit,
	}
}

// envelope is the uniform response shape for list endpoints (§9).
type envelope struct {
	Data  interface{} `json:"data"`
	Count int         `json:"count,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
