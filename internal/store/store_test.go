package store_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agenttunnel/gateway/internal/store"
)

func TestCredentialStore_CreateLookupRevoke(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s, err := store.LoadCredentialStore(path)
	require.NoError(t, err)

	cred, err := s.Create("agent-1", store.TierWorker, "DevOps", 100, "tester")
	require.NoError(t, err)
	require.FileExists(t, path)

	found, err := s.Lookup(cred.Key)
	require.NoError(t, err)
	require.True(t, found.Active)

	require.NoError(t, s.Revoke(cred.Key))
	revoked, err := s.Lookup(cred.Key)
	require.NoError(t, err)
	require.False(t, revoked.Active)
}

func TestCredentialStore_PersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	first, err := store.LoadCredentialStore(path)
	require.NoError(t, err)

	cred, err := first.Create("agent-1", store.TierWorker, "DevOps", 100, "tester")
	require.NoError(t, err)

	second, err := store.LoadCredentialStore(path)
	require.NoError(t, err)

	found, err := second.Lookup(cred.Key)
	require.NoError(t, err)
	require.Equal(t, "agent-1", found.Name)
}

func TestCredentialStore_Redacted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s, err := store.LoadCredentialStore(path)
	require.NoError(t, err)

	_, err = s.Create("agent-1", store.TierWorker, "DevOps", 100, "tester")
	require.NoError(t, err)

	listed := s.List("")
	require.Len(t, listed, 1)
	require.True(t, len(listed[0].Key) < 40)
	require.Contains(t, listed[0].Key, "...")
}

func TestTunnelRegistry_PutPreservesCreatedAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunnels.json")
	r, err := store.LoadTunnelRegistry(path)
	require.NoError(t, err)

	require.NoError(t, r.Put(store.Tunnel{Name: "DevOps"}))
	first, err := r.Get("DevOps")
	require.NoError(t, err)

	require.NoError(t, r.Put(store.Tunnel{Name: "DevOps", Description: "updated"}))
	second, err := r.Get("DevOps")
	require.NoError(t, err)

	require.Equal(t, first.CreatedAt, second.CreatedAt)
	require.Equal(t, "updated", second.Description)
}

func TestRunStore_LockSerializesPerRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	s, err := store.LoadRunStore(path)
	require.NoError(t, err)

	unlockA := s.Lock("run-1")
	released := make(chan struct{})
	go func() {
		unlockB := s.Lock("run-1")
		close(released)
		unlockB()
	}()

	select {
	case <-released:
		t.Fatal("second Lock on the same run id should not have proceeded yet")
	default:
	}
	unlockA()
	<-released
}

func TestRunStore_SavePersistsAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	s, err := store.LoadRunStore(path)
	require.NoError(t, err)

	run := store.Run{ID: "run-1", PipelineName: "Deploy", Status: store.RunInProgress}
	require.NoError(t, s.Save(run))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "temp file left behind: %s", e.Name())
	}

	reloaded, err := store.LoadRunStore(path)
	require.NoError(t, err)
	got, err := reloaded.Get("run-1")
	require.NoError(t, err)
	require.Equal(t, store.RunInProgress, got.Status)
}
