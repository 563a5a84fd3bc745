// Package policy implements the Policy Evaluator (§4.2): a fixed, ordered
// sequence of checks run against every proxied request. The order is an
// invariant, not an implementation detail — a caller that fails an earlier
// check must never see a later check's denial reason, since that would
// leak information about tunnel internals past what the failed check
// should reveal.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/agenttunnel/gateway/internal/gwerrors"
	"github.com/agenttunnel/gateway/internal/pipeline"
	"github.com/agenttunnel/gateway/internal/store"
	"github.com/agenttunnel/gateway/internal/telemetry"
)

// Request is everything the evaluator needs to reach a decision for one
// proxied call.
type Request struct {
	TunnelName string
	AgentName  string
	Method     string
	Path       string
	Body       []byte // raw request body; may be empty
}

// Decision is the uniform result of evaluating a Request (§4.2). When
// IsPipeline and Allowed are both true, RunID and Command identify the
// step ValidateStep approved; the caller (internal/httpapi) is responsible
// for calling the Pipeline State Machine's ConfirmStep afterward — the
// evaluator never commits a pipeline advance itself.
type Decision struct {
	Allowed    bool
	Tunnel     store.Tunnel
	Command    string // extracted from payload.command, falling back to payload.url
	IsPipeline bool
	RunID      string
	PipelineRun store.Run
	Err        *gwerrors.DecisionError
}

// payload is the shape the evaluator parses out of a JSON request body.
// Extra fields are ignored and never echoed by the evaluator itself — the
// caller of Evaluate owns preserving the rest of the body if it wants to
// echo it back (§9: "preserve them in any echo responses").
type payload struct {
	Command string `json:"command"`
	URL     string `json:"url"`
	RunID   string `json:"run_id"`
}

// Evaluator runs the ordered check against the Tunnel Registry, consulting
// the Pipeline State Machine for pipeline-mode tunnels.
type Evaluator struct {
	tunnels   *store.TunnelRegistry
	pipelines *pipeline.Machine
	telemetry *telemetry.Provider
}

// New builds an Evaluator.
func New(tunnels *store.TunnelRegistry, pipelines *pipeline.Machine, tp *telemetry.Provider) *Evaluator {
	return &Evaluator{tunnels: tunnels, pipelines: pipelines, telemetry: tp}
}

// Evaluate runs the fixed five-step check; the first failure wins.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) Decision {
	tunnel, err := e.tunnels.Get(req.TunnelName)
	if err != nil {
		return e.deny(ctx, gwerrors.New(gwerrors.ErrTunnelUnknown, "Invalid Tunnel Config").WithTunnel(req.TunnelName, req.AgentName))
	}

	if !methodAllowed(tunnel, req.Method) {
		reason := fmt.Sprintf("Method %s not allowed", req.Method)
		return e.deny(ctx, gwerrors.New(gwerrors.ErrMethodNotAllowed, reason).WithTunnel(req.TunnelName, req.AgentName))
	}

	if !pathAllowed(tunnel, req.Path) {
		reason := fmt.Sprintf("Path %s not allowed", req.Path)
		return e.deny(ctx, gwerrors.New(gwerrors.ErrPathNotAllowed, reason).WithTunnel(req.TunnelName, req.AgentName))
	}

	// Body policy applies only to POST/PUT; every other method is allowed
	// once method and path pass.
	if req.Method != http.MethodPost && req.Method != http.MethodPut {
		return Decision{Allowed: true, Tunnel: tunnel}
	}

	var p payload
	if len(req.Body) > 0 {
		if err := json.Unmarshal(req.Body, &p); err != nil {
			return e.deny(ctx, gwerrors.New(gwerrors.ErrBadJSON, "Invalid JSON payload").WithTunnel(req.TunnelName, req.AgentName))
		}
	}
	command := p.Command
	if command == "" {
		command = p.URL
	}

	if tunnel.IsPipeline() && p.RunID != "" {
		run, err := e.pipelines.ValidateStep(ctx, p.RunID, command)
		if err != nil {
			decErr, ok := err.(*gwerrors.DecisionError)
			if !ok {
				decErr = gwerrors.New(err, err.Error())
			}
			decErr.WithTunnel(req.TunnelName, req.AgentName)
			return e.deny(ctx, decErr)
		}
		return Decision{Allowed: true, Tunnel: tunnel, IsPipeline: true, RunID: p.RunID, Command: command, PipelineRun: run}
	}

	if tunnel.CommandWhitelistMode == store.ModeStrict {
		if len(tunnel.AllowedCommands) == 0 {
			return e.deny(ctx, gwerrors.New(gwerrors.ErrStrictModeEmpty, "No commands allowed in strict mode").WithTunnel(req.TunnelName, req.AgentName))
		}
		if !whitelisted(command, tunnel.AllowedCommands) {
			reason := fmt.Sprintf("Command '%s' not in whitelist", command)
			return e.deny(ctx, gwerrors.New(gwerrors.ErrCommandNotWhitelisted, reason).WithTunnel(req.TunnelName, req.AgentName))
		}
	}

	if kw, found := forbiddenKeyword(command, tunnel.ForbiddenKeywords); found {
		reason := fmt.Sprintf("Forbidden keyword '%s' detected", kw)
		return e.deny(ctx, gwerrors.New(gwerrors.ErrForbiddenKeyword, reason).WithTunnel(req.TunnelName, req.AgentName))
	}

	return Decision{Allowed: true, Tunnel: tunnel, Command: command}
}

func (e *Evaluator) deny(ctx context.Context, err *gwerrors.DecisionError) Decision {
	telemetry.AddEvent(ctx, "policy.denied")
	return Decision{Allowed: false, Err: err}
}

func methodAllowed(t store.Tunnel, method string) bool {
	for _, m := range t.AllowedMethods {
		if m == "*" || strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func pathAllowed(t store.Tunnel, path string) bool {
	if len(t.AllowedPaths) == 0 {
		return true
	}
	for _, prefix := range t.AllowedPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// whitelisted implements §4.2's prefix-with-space-guard match: the command
// matches an allowed entry if it is exactly equal, or begins with the
// entry followed by a space (so an allow-"ls" policy permits "ls -la" but
// not "ls-evil").
func whitelisted(command string, allowed []string) bool {
	command = strings.TrimSpace(command)
	for _, c := range allowed {
		c = strings.TrimSpace(c)
		if command == c || strings.HasPrefix(command, c+" ") {
			return true
		}
	}
	return false
}

func forbiddenKeyword(command string, keywords []string) (string, bool) {
	lower := strings.ToLower(command)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}
