package pipeline_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agenttunnel/gateway/internal/gwerrors"
	"github.com/agenttunnel/gateway/internal/pipeline"
	"github.com/agenttunnel/gateway/internal/store"
	"github.com/agenttunnel/gateway/internal/telemetry"
)

func deployTunnel() store.Tunnel {
	return store.Tunnel{
		Name: "Deploy",
		Pipeline: &store.Pipeline{
			Steps: []store.PipelineStepDef{
				{Command: "git pull"},
				{Command: "make build"},
				{Command: "make deploy"},
			},
		},
	}
}

func newMachine(t *testing.T, runsPath string, tunnels map[string]store.Tunnel) *pipeline.Machine {
	t.Helper()

	registry, err := store.LoadTunnelRegistry(filepath.Join(t.TempDir(), "tunnels.json"))
	require.NoError(t, err)
	registry.ReplaceAll(tunnels)

	runs, err := store.LoadRunStore(runsPath)
	require.NoError(t, err)

	return pipeline.New(runs, registry, telemetry.NoOp())
}

// Sequence integrity: steps must be confirmed in the declared order.
func TestPipeline_SequenceIntegrity(t *testing.T) {
	ctx := context.Background()
	runsPath := filepath.Join(t.TempDir(), "runs.json")
	machine := newMachine(t, runsPath, map[string]store.Tunnel{"Deploy": deployTunnel()})

	run, err := machine.StartRun(ctx, "Deploy", "agent-1")
	require.NoError(t, err)

	_, err = machine.ValidateStep(ctx, run.ID, "git pull")
	require.NoError(t, err)

	confirmed, err := machine.ConfirmStep(ctx, run.ID, "git pull")
	require.NoError(t, err)
	require.Equal(t, 1, confirmed.CurrentStep)
	require.Equal(t, store.RunInProgress, confirmed.Status)
}

// No-skip: confirming a later step before its predecessor is denied.
func TestPipeline_NoSkip(t *testing.T) {
	ctx := context.Background()
	runsPath := filepath.Join(t.TempDir(), "runs.json")
	machine := newMachine(t, runsPath, map[string]store.Tunnel{"Deploy": deployTunnel()})

	run, err := machine.StartRun(ctx, "Deploy", "agent-1")
	require.NoError(t, err)

	_, err = machine.ConfirmStep(ctx, run.ID, "make build")
	require.Error(t, err)

	var decErr *gwerrors.DecisionError
	require.ErrorAs(t, err, &decErr)
	require.True(t, errors.Is(decErr, gwerrors.ErrPipelineWrongStep))
	require.Equal(t, "git pull", decErr.ExpectedCommand)
	require.Equal(t, "make build", decErr.ReceivedCommand)
}

// Terminality: a completed run rejects any further step.
func TestPipeline_Terminality(t *testing.T) {
	ctx := context.Background()
	runsPath := filepath.Join(t.TempDir(), "runs.json")
	machine := newMachine(t, runsPath, map[string]store.Tunnel{"Deploy": deployTunnel()})

	run, err := machine.StartRun(ctx, "Deploy", "agent-1")
	require.NoError(t, err)

	for _, cmd := range []string{"git pull", "make build", "make deploy"} {
		_, err := machine.ConfirmStep(ctx, run.ID, cmd)
		require.NoError(t, err)
	}

	final, err := machine.Status(run.ID)
	require.NoError(t, err)
	require.Equal(t, store.RunCompleted, final.Status)

	_, err = machine.ConfirmStep(ctx, run.ID, "make deploy")
	require.Error(t, err)
	var decErr *gwerrors.DecisionError
	require.ErrorAs(t, err, &decErr)
	require.Equal(t, "already completed", decErr.Reason)
}

// Crash safety: a run store reloaded from disk (simulating a restart)
// preserves exactly the confirmed history, and the next step is still
// enforced correctly.
func TestPipeline_CrashSafety(t *testing.T) {
	ctx := context.Background()
	runsPath := filepath.Join(t.TempDir(), "runs.json")
	tunnels := map[string]store.Tunnel{"Deploy": deployTunnel()}

	first := newMachine(t, runsPath, tunnels)
	run, err := first.StartRun(ctx, "Deploy", "agent-1")
	require.NoError(t, err)
	_, err = first.ConfirmStep(ctx, run.ID, "git pull")
	require.NoError(t, err)

	// Simulate a process restart: a brand new RunStore loaded from the same
	// persisted file must see exactly one confirmed step.
	reloaded := newMachine(t, runsPath, tunnels)
	status, err := reloaded.Status(run.ID)
	require.NoError(t, err)
	require.Equal(t, 1, status.CurrentStep)
	require.Len(t, status.StepsCompleted, 1)

	_, err = reloaded.ConfirmStep(ctx, run.ID, "make build")
	require.NoError(t, err)
}

// Happy path: a full run confirms every step in order and reaches Completed.
func TestPipeline_HappyPath(t *testing.T) {
	ctx := context.Background()
	runsPath := filepath.Join(t.TempDir(), "runs.json")
	machine := newMachine(t, runsPath, map[string]store.Tunnel{"Deploy": deployTunnel()})

	run, err := machine.StartRun(ctx, "Deploy", "agent-1")
	require.NoError(t, err)

	var last store.Run
	for _, cmd := range []string{"git pull", "make build", "make deploy"} {
		last, err = machine.ConfirmStep(ctx, run.ID, cmd)
		require.NoError(t, err)
	}

	require.Equal(t, store.RunCompleted, last.Status)
	require.NotNil(t, last.CompletedAt)
	require.Len(t, last.StepsCompleted, 3)
}

// Skip denied via ValidateStep (the read-only path used by the policy
// evaluator) leaves the run state untouched.
func TestPipeline_ValidateStepSkipDenied(t *testing.T) {
	ctx := context.Background()
	runsPath := filepath.Join(t.TempDir(), "runs.json")
	machine := newMachine(t, runsPath, map[string]store.Tunnel{"Deploy": deployTunnel()})

	run, err := machine.StartRun(ctx, "Deploy", "agent-1")
	require.NoError(t, err)

	_, err = machine.ValidateStep(ctx, run.ID, "make deploy")
	require.Error(t, err)

	unchanged, err := machine.Status(run.ID)
	require.NoError(t, err)
	require.Equal(t, 0, unchanged.CurrentStep)
	require.Empty(t, unchanged.StepsCompleted)
}

// A terminal run's tunnel being deleted out from under it must not mask
// the terminal status: the run is still reported completed/aborted, not
// "Pipeline config no longer exists".
func TestPipeline_TerminalStatusWinsOverConfigGone(t *testing.T) {
	ctx := context.Background()
	runsPath := filepath.Join(t.TempDir(), "runs.json")

	registry, err := store.LoadTunnelRegistry(filepath.Join(t.TempDir(), "tunnels.json"))
	require.NoError(t, err)
	registry.ReplaceAll(map[string]store.Tunnel{"Deploy": deployTunnel()})

	runs, err := store.LoadRunStore(runsPath)
	require.NoError(t, err)
	machine := pipeline.New(runs, registry, telemetry.NoOp())

	run, err := machine.StartRun(ctx, "Deploy", "agent-1")
	require.NoError(t, err)

	aborted, err := machine.AbortRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, store.RunAborted, aborted.Status)

	require.NoError(t, registry.Delete("Deploy"))

	_, err = machine.ConfirmStep(ctx, run.ID, "git pull")
	require.Error(t, err)
	var decErr *gwerrors.DecisionError
	require.ErrorAs(t, err, &decErr)
	require.Equal(t, "run has been aborted", decErr.Reason)

	_, err = machine.ValidateStep(ctx, run.ID, "git pull")
	require.Error(t, err)
	require.ErrorAs(t, err, &decErr)
	require.Equal(t, "run has been aborted", decErr.Reason)
}

func TestPipeline_AbortRun(t *testing.T) {
	ctx := context.Background()
	runsPath := filepath.Join(t.TempDir(), "runs.json")
	machine := newMachine(t, runsPath, map[string]store.Tunnel{"Deploy": deployTunnel()})

	run, err := machine.StartRun(ctx, "Deploy", "agent-1")
	require.NoError(t, err)

	aborted, err := machine.AbortRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, store.RunAborted, aborted.Status)

	_, err = machine.AbortRun(ctx, run.ID)
	require.Error(t, err)
}
