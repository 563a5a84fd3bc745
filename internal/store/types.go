// Package store holds the gateway's three persisted collections: the
// Credential Store, the Tunnel Registry, and the Pipeline Run Store (§3).
// All three are JSON files, rewritten atomically (write-temp, rename) on
// every mutation so the config watcher never observes a torn read.
package store

import "time"

// Tier distinguishes the two credential tiers (§3, §4.5).
type Tier string

const (
	TierOrchestrator Tier = "orchestrator"
	TierWorker       Tier = "worker"
)

// WhitelistMode controls whether the Policy Evaluator enforces the command
// whitelist (§4.2).
type WhitelistMode string

const (
	ModeStrict WhitelistMode = "strict"
	ModeLax    WhitelistMode = "lax"
)

// RunStatus is the lifecycle state of a Pipeline Run (§3).
type RunStatus string

const (
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunAborted    RunStatus = "aborted"
	RunFailed     RunStatus = "failed"
)

// Credential is one entry of the Credential Store (§3, §6.1).
type Credential struct {
	Key        string    `json:"-"` // map key in the persisted file; never serialized into the value
	Name       string    `json:"name"`
	Tier       Tier      `json:"tier"`
	Tunnel     string    `json:"tunnel,omitempty"`
	DailyLimit int       `json:"dailyLimit"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
	CreatedBy  string    `json:"createdBy,omitempty"`
}

// Redacted returns a copy with the key truncated to the first 8 characters
// followed by an ellipsis, per §9's redaction rule. A key of 8 characters
// or fewer is therefore kept whole, with the ellipsis appended.
func (c Credential) Redacted() Credential {
	r := c
	r.Key = redactKey(c.Key)
	return r
}

func redactKey(key string) string {
	if len(key) <= 8 {
		return key + "..."
	}
	return key[:8] + "..."
}

// PipelineStepDef is one ordered step of a pipeline tunnel (§3, §6.2).
type PipelineStepDef struct {
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
}

// Pipeline is the optional ordered command sequence attached to a tunnel.
type Pipeline struct {
	Steps []PipelineStepDef `json:"steps"`
}

// Tunnel is one entry of the Tunnel Registry (§3, §6.2).
type Tunnel struct {
	Name                 string        `json:"-"` // map key in the persisted file
	Description          string        `json:"description,omitempty"`
	AllowedMethods       []string      `json:"allowed_methods"`
	AllowedPaths         []string      `json:"allowed_paths"`
	AllowedCommands      []string      `json:"allowed_commands"`
	ForbiddenKeywords    []string      `json:"forbidden_keywords"`
	CommandWhitelistMode WhitelistMode `json:"command_whitelist_mode"`
	Pipeline             *Pipeline     `json:"pipeline,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// IsPipeline reports whether this tunnel is pipeline-mode (§3: "a tunnel may
// be either policy ... or pipeline").
func (t Tunnel) IsPipeline() bool {
	return t.Pipeline != nil && len(t.Pipeline.Steps) > 0
}

// StepRecord is one confirmed step in a Pipeline Run's append-only log (§3).
type StepRecord struct {
	StepNumber  int       `json:"step_number"` // 1-based
	Command     string    `json:"command"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// Run is one live or terminal Pipeline Run (§3, §6.3).
type Run struct {
	ID             string       `json:"run_id"`
	PipelineName   string       `json:"pipeline_name"` // tunnel name at start-time
	AgentName      string       `json:"agent_name"`
	StartedAt      time.Time    `json:"started_at"`
	CurrentStep    int          `json:"current_step"` // zero-based index of next expected step
	Status         RunStatus    `json:"status"`
	StepsCompleted []StepRecord `json:"steps_completed"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	AbortedAt      *time.Time   `json:"aborted_at,omitempty"`
}
