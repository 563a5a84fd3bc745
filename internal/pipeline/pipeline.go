// Package pipeline implements the Pipeline State Machine (§4.3, §5): an
// ordered, stateful sequence of commands an agent must step through one
// confirmed command at a time. ValidateStep and ConfirmStep are
// deliberately separate methods rather than one "try and maybe commit"
// call — ValidateStep has no side effects, and ConfirmStep is the only
// place a step is ever recorded as done, so there is no code path that can
// skip a step without going through the one function that commits it.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agenttunnel/gateway/internal/gwerrors"
	"github.com/agenttunnel/gateway/internal/store"
	"github.com/agenttunnel/gateway/internal/telemetry"
)

// Machine runs pipeline runs against the Pipeline Run Store and the Tunnel
// Registry (a pipeline tunnel's step list is re-read on every ConfirmStep,
// so edits to the tunnel never retroactively change an in-flight run's
// already-confirmed history, only the steps still ahead of it).
type Machine struct {
	runs      *store.RunStore
	tunnels   *store.TunnelRegistry
	telemetry *telemetry.Provider
}

// New builds a Machine.
func New(runs *store.RunStore, tunnels *store.TunnelRegistry, tp *telemetry.Provider) *Machine {
	return &Machine{runs: runs, tunnels: tunnels, telemetry: tp}
}

// StartRun begins a new run of the named pipeline tunnel for agentName.
// The tunnel must exist, be pipeline-mode, and have at least one step.
func (m *Machine) StartRun(ctx context.Context, tunnelName, agentName string) (store.Run, error) {
	tunnel, err := m.tunnels.Get(tunnelName)
	if err != nil {
		return store.Run{}, gwerrors.New(gwerrors.ErrTunnelUnknown, "tunnel does not exist").WithTunnel(tunnelName, agentName)
	}
	if !tunnel.IsPipeline() {
		return store.Run{}, gwerrors.New(gwerrors.ErrPipelineNoSteps, "tunnel has no pipeline steps").WithTunnel(tunnelName, agentName)
	}

	run := store.Run{
		ID:           "run_" + uuid.NewString(),
		PipelineName: tunnelName,
		AgentName:    agentName,
		StartedAt:    time.Now().UTC(),
		CurrentStep:  0,
		Status:       store.RunInProgress,
	}
	if err := m.runs.Save(run); err != nil {
		return store.Run{}, gwerrors.Wrap("saving new pipeline run", err)
	}

	telemetry.AddEvent(ctx, "pipeline.started")
	return run, nil
}

// ValidateStep checks whether command is the next expected step of runID,
// without recording anything — except the one self-healing coercion §4.3
// calls out explicitly: a run whose current_step has already reached the
// end of the pipeline (reachable when the tunnel's step list was shortened
// after the run started, or if ConfirmStep's own completion transition was
// somehow missed) is marked completed in passing. That is
// bookkeeping, not an advance: no step index or history changes.
func (m *Machine) ValidateStep(ctx context.Context, runID, command string) (store.Run, error) {
	unlock := m.runs.Lock(runID)
	defer unlock()

	run, err := m.runs.Get(runID)
	if err != nil {
		return store.Run{}, gwerrors.New(gwerrors.ErrPipelineRunMissing, fmt.Sprintf("Pipeline run '%s' not found", runID))
	}
	if err := terminalStatusError(run); err != nil {
		return run, err
	}

	tunnel, err := m.resolveTunnel(run)
	if err != nil {
		return run, err
	}

	if run.CurrentStep >= len(tunnel.Pipeline.Steps) {
		run.Status = store.RunCompleted
		now := time.Now().UTC()
		run.CompletedAt = &now
		if err := m.runs.Save(run); err != nil {
			return store.Run{}, gwerrors.Wrap("coercing completed pipeline run", err)
		}
		return run, gwerrors.New(gwerrors.ErrPipelineTerminal, "All pipeline steps already completed").WithTunnel(run.PipelineName, run.AgentName)
	}

	if err := m.checkStep(run, tunnel, command); err != nil {
		return run, err
	}
	return run, nil
}

// ConfirmStep is the sole commit point for a pipeline step. It re-runs the
// same check ValidateStep does and, only if it still passes, appends the
// step to the run's history and advances CurrentStep. Completing the
// final step transitions the run to Completed.
func (m *Machine) ConfirmStep(ctx context.Context, runID, command string) (store.Run, error) {
	unlock := m.runs.Lock(runID)
	defer unlock()

	run, err := m.runs.Get(runID)
	if err != nil {
		return store.Run{}, gwerrors.New(gwerrors.ErrPipelineRunMissing, fmt.Sprintf("Pipeline run '%s' not found", runID))
	}
	if err := terminalStatusError(run); err != nil {
		return run, err
	}

	tunnel, err := m.resolveTunnel(run)
	if err != nil {
		return run, err
	}

	if err := m.checkStep(run, tunnel, command); err != nil {
		return run, err
	}

	now := time.Now().UTC()
	run.StepsCompleted = append(run.StepsCompleted, store.StepRecord{
		StepNumber:  run.CurrentStep + 1,
		Command:     command,
		ConfirmedAt: now,
	})
	run.CurrentStep++

	if run.CurrentStep >= len(tunnel.Pipeline.Steps) {
		run.Status = store.RunCompleted
		run.CompletedAt = &now
	}

	if err := m.runs.Save(run); err != nil {
		return store.Run{}, gwerrors.Wrap("saving confirmed pipeline step", err)
	}

	telemetry.AddEvent(ctx, "pipeline.step_confirmed")
	if run.Status == store.RunCompleted {
		telemetry.AddEvent(ctx, "pipeline.completed")
	}
	return run, nil
}

// AbortRun terminates an in-progress run early. Terminal runs cannot be
// aborted twice.
func (m *Machine) AbortRun(ctx context.Context, runID string) (store.Run, error) {
	unlock := m.runs.Lock(runID)
	defer unlock()

	run, err := m.runs.Get(runID)
	if err != nil {
		return store.Run{}, err
	}
	if run.Status != store.RunInProgress {
		return run, gwerrors.New(gwerrors.ErrPipelineTerminal, "run is already terminal")
	}

	now := time.Now().UTC()
	run.Status = store.RunAborted
	run.AbortedAt = &now

	if err := m.runs.Save(run); err != nil {
		return store.Run{}, gwerrors.Wrap("saving aborted pipeline run", err)
	}

	telemetry.AddEvent(ctx, "pipeline.aborted")
	return run, nil
}

// Status returns the current state of a run without mutating it.
func (m *Machine) Status(runID string) (store.Run, error) {
	return m.runs.Get(runID)
}

// List returns every run, newest first.
func (m *Machine) List() []store.Run {
	return m.runs.List()
}

// terminalStatusError returns the terminal-status error for run (§4.3
// decisions 2/3), or nil if run is still in progress. This must be checked
// before resolveTunnel: a run that finished before its tunnel was deleted
// still reports its terminal status, not config-gone.
func terminalStatusError(run store.Run) error {
	switch run.Status {
	case store.RunCompleted:
		return gwerrors.New(gwerrors.ErrPipelineTerminal, "already completed").WithTunnel(run.PipelineName, run.AgentName)
	case store.RunAborted:
		return gwerrors.New(gwerrors.ErrPipelineTerminal, "run has been aborted").WithTunnel(run.PipelineName, run.AgentName)
	case store.RunFailed:
		return gwerrors.New(gwerrors.ErrPipelineTerminal, "run has failed").WithTunnel(run.PipelineName, run.AgentName)
	}
	return nil
}

// resolveTunnel fetches run's originating tunnel (§4.3 decision 4). Callers
// must have already checked terminalStatusError so a terminal run whose
// tunnel was since deleted or edited out of pipeline mode still reports its
// terminal status rather than config-gone.
func (m *Machine) resolveTunnel(run store.Run) (store.Tunnel, error) {
	tunnel, err := m.tunnels.Get(run.PipelineName)
	if err != nil {
		return store.Tunnel{}, gwerrors.New(gwerrors.ErrPipelineConfigGone, "Pipeline config no longer exists")
	}
	if !tunnel.IsPipeline() {
		return store.Tunnel{}, gwerrors.New(gwerrors.ErrPipelineConfigGone, "Pipeline config no longer exists")
	}
	return tunnel, nil
}

// checkStep verifies an in-progress run is not yet complete and that
// command matches the next expected step. Caller must hold the run's lock
// and have already resolved run's status and tunnel.
func (m *Machine) checkStep(run store.Run, tunnel store.Tunnel, command string) error {
	if run.CurrentStep >= len(tunnel.Pipeline.Steps) {
		return gwerrors.New(gwerrors.ErrPipelineTerminal, "All pipeline steps already completed").WithTunnel(run.PipelineName, run.AgentName)
	}

	expected := strings.TrimSpace(tunnel.Pipeline.Steps[run.CurrentStep].Command)
	if strings.TrimSpace(command) != expected {
		return gwerrors.New(gwerrors.ErrPipelineWrongStep, fmt.Sprintf("expected step %q, received %q", expected, command)).
			WithTunnel(run.PipelineName, run.AgentName).
			WithExpected(expected, command)
	}
	return nil
}
