package policy_test

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agenttunnel/gateway/internal/pipeline"
	"github.com/agenttunnel/gateway/internal/policy"
	"github.com/agenttunnel/gateway/internal/store"
	"github.com/agenttunnel/gateway/internal/telemetry"
)

func newEvaluator(t *testing.T, tunnels map[string]store.Tunnel) (*policy.Evaluator, *store.TunnelRegistry) {
	t.Helper()
	dir := t.TempDir()

	registry, err := store.LoadTunnelRegistry(filepath.Join(dir, "tunnels.json"))
	require.NoError(t, err)
	registry.ReplaceAll(tunnels)

	runs, err := store.LoadRunStore(filepath.Join(dir, "runs.json"))
	require.NoError(t, err)

	machine := pipeline.New(runs, registry, telemetry.NoOp())
	return policy.New(registry, machine, telemetry.NoOp()), registry
}

func devOpsTunnel() store.Tunnel {
	return store.Tunnel{
		Name:                 "DevOps",
		AllowedMethods:       []string{"POST"},
		AllowedCommands:      []string{"ls", "pwd"},
		CommandWhitelistMode: store.ModeStrict,
	}
}

// Scenario 1: happy policy.
func TestEvaluate_HappyPolicy(t *testing.T) {
	evaluator, _ := newEvaluator(t, map[string]store.Tunnel{"DevOps": devOpsTunnel()})

	decision := evaluator.Evaluate(context.Background(), policy.Request{
		TunnelName: "DevOps",
		Method:     http.MethodPost,
		Path:       "/validate",
		Body:       []byte(`{"command":"ls -la"}`),
	})

	require.True(t, decision.Allowed)
	require.Equal(t, "ls -la", decision.Command)
}

// Scenario 2: whitelist miss.
func TestEvaluate_WhitelistMiss(t *testing.T) {
	evaluator, _ := newEvaluator(t, map[string]store.Tunnel{"DevOps": devOpsTunnel()})

	decision := evaluator.Evaluate(context.Background(), policy.Request{
		TunnelName: "DevOps",
		Method:     http.MethodPost,
		Path:       "/validate",
		Body:       []byte(`{"command":"rm -rf /"}`),
	})

	require.False(t, decision.Allowed)
	require.Contains(t, decision.Err.Reason, "rm -rf /")
	require.Contains(t, decision.Err.Reason, "not in whitelist")
}

// Scenario 3: keyword block.
func TestEvaluate_KeywordBlock(t *testing.T) {
	tunnel := store.Tunnel{
		Name:                 "Shell",
		AllowedMethods:       []string{"POST"},
		CommandWhitelistMode: store.ModeLax,
		ForbiddenKeywords:    []string{"sudo"},
	}
	evaluator, _ := newEvaluator(t, map[string]store.Tunnel{"Shell": tunnel})

	decision := evaluator.Evaluate(context.Background(), policy.Request{
		TunnelName: "Shell",
		Method:     http.MethodPost,
		Path:       "/validate",
		Body:       []byte(`{"command":"SUDO ls"}`),
	})

	require.False(t, decision.Allowed)
	require.Contains(t, decision.Err.Reason, "sudo")
}

func TestEvaluate_UnknownTunnel(t *testing.T) {
	evaluator, _ := newEvaluator(t, map[string]store.Tunnel{})

	decision := evaluator.Evaluate(context.Background(), policy.Request{
		TunnelName: "Nope",
		Method:     http.MethodGet,
		Path:       "/",
	})

	require.False(t, decision.Allowed)
	require.Equal(t, "Invalid Tunnel Config", decision.Err.Reason)
}

func TestEvaluate_StrictModeEmptyDeniesAll(t *testing.T) {
	tunnel := store.Tunnel{
		Name:                 "Empty",
		AllowedMethods:       []string{"POST"},
		CommandWhitelistMode: store.ModeStrict,
	}
	evaluator, _ := newEvaluator(t, map[string]store.Tunnel{"Empty": tunnel})

	decision := evaluator.Evaluate(context.Background(), policy.Request{
		TunnelName: "Empty",
		Method:     http.MethodPost,
		Path:       "/",
		Body:       []byte(`{"command":"anything"}`),
	})

	require.False(t, decision.Allowed)
	require.Equal(t, "No commands allowed in strict mode", decision.Err.Reason)
}

// Deterministic evaluation: identical inputs against a fixed snapshot
// yield identical outputs.
func TestEvaluate_Deterministic(t *testing.T) {
	evaluator, _ := newEvaluator(t, map[string]store.Tunnel{"DevOps": devOpsTunnel()})

	req := policy.Request{
		TunnelName: "DevOps",
		Method:     http.MethodPost,
		Path:       "/validate",
		Body:       []byte(`{"command":"pwd"}`),
	}

	first := evaluator.Evaluate(context.Background(), req)
	second := evaluator.Evaluate(context.Background(), req)

	require.Equal(t, first.Allowed, second.Allowed)
	require.Equal(t, first.Command, second.Command)
}
