package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/agenttunnel/gateway/internal/adminapi"
	"github.com/agenttunnel/gateway/internal/auth"
	"github.com/agenttunnel/gateway/internal/gwlog"
	"github.com/agenttunnel/gateway/internal/pipeline"
	"github.com/agenttunnel/gateway/internal/policy"
	"github.com/agenttunnel/gateway/internal/store"
)

// Server holds every dependency the HTTP surface needs and builds the
// routed, middleware-wrapped handler the gateway's listener serves.
type Server struct {
	auth        *auth.Authenticator
	evaluator   *policy.Evaluator
	pipelines   *pipeline.Machine
	admin       *adminapi.Server
	credentials *store.CredentialStore
	tunnels     *store.TunnelRegistry
	log         gwlog.Logger

	publicViewerTunnel string
	maxBodyBytes       int64
	startedAt          time.Time
}

// New builds the HTTP Server.
func New(
	authenticator *auth.Authenticator,
	evaluator *policy.Evaluator,
	pipelines *pipeline.Machine,
	admin *adminapi.Server,
	credentials *store.CredentialStore,
	tunnels *store.TunnelRegistry,
	log gwlog.Logger,
	publicViewerTunnel string,
	maxBodyBytes int64,
) *Server {
	return &Server{
		auth:               authenticator,
		evaluator:          evaluator,
		pipelines:          pipelines,
		admin:              admin,
		credentials:        credentials,
		tunnels:            tunnels,
		log:                log.WithComponent("httpapi"),
		publicViewerTunnel: publicViewerTunnel,
		maxBodyBytes:       maxBodyBytes,
		startedAt:          time.Now(),
	}
}

// Handler assembles the routed mux wrapped in the gateway's fixed
// middleware stack: CORS outermost, then request logging, then panic
// recovery, then the route handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", s.Status)

	mux.HandleFunc("POST /validate", s.Proxy)
	mux.HandleFunc("POST /{$}", s.Proxy)

	mux.HandleFunc("GET /orchestrator/tunnels", s.requireOrchestrator(s.admin.ListTunnels))
	mux.HandleFunc("POST /orchestrator/tunnels/create", s.requireOrchestrator(s.admin.CreateTunnel))
	mux.HandleFunc("POST /orchestrator/tunnels/update", s.requireOrchestrator(s.admin.UpdateTunnel))
	mux.HandleFunc("POST /orchestrator/tunnels/delete", s.requireOrchestrator(s.admin.DeleteTunnel))

	mux.HandleFunc("GET /orchestrator/agents", s.requireOrchestrator(s.admin.ListCredentials))
	mux.HandleFunc("POST /orchestrator/agents/create", s.requireOrchestrator(s.admin.CreateCredential))
	mux.HandleFunc("POST /orchestrator/agents/delete", s.requireOrchestrator(s.admin.DeleteCredential))

	mux.HandleFunc("POST /orchestrator/pipeline/start", s.requireOrchestrator(s.admin.StartRun))
	mux.HandleFunc("GET /orchestrator/pipeline/status", s.requireOrchestrator(s.admin.RunStatus))
	mux.HandleFunc("GET /orchestrator/pipeline/runs", s.requireOrchestrator(s.admin.ListRuns))
	mux.HandleFunc("POST /orchestrator/pipeline/reset", s.requireOrchestrator(s.admin.AbortRun))

	return Chain(mux, CORS, RequestLogging(s.log), Recovery(s.log))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
