package ratelimit_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agenttunnel/gateway/internal/ratelimit"
)

// Monotonicity: Remaining only ever decreases for a fixed limit, and the
// limiter starts denying once the cap is reached.
func TestInMemoryLimiter_Monotonicity(t *testing.T) {
	limiter, err := ratelimit.NewInMemoryLimiter(filepath.Join(t.TempDir(), "rl.json"), 100)
	require.NoError(t, err)
	defer limiter.Close()

	ctx := context.Background()
	const limit = 3
	var last = limit + 1

	for i := 0; i < limit; i++ {
		result, err := limiter.Increment(ctx, "key-1", limit)
		require.NoError(t, err)
		require.True(t, result.Allowed)
		require.Less(t, result.Remaining, last)
		last = result.Remaining
	}

	overLimit, err := limiter.Increment(ctx, "key-1", limit)
	require.NoError(t, err)
	require.False(t, overLimit.Allowed)
	require.Equal(t, 0, overLimit.Remaining)
}

func TestInMemoryLimiter_KeysAreIndependent(t *testing.T) {
	limiter, err := ratelimit.NewInMemoryLimiter(filepath.Join(t.TempDir(), "rl.json"), 100)
	require.NoError(t, err)
	defer limiter.Close()

	ctx := context.Background()
	_, err = limiter.Increment(ctx, "key-a", 1)
	require.NoError(t, err)

	result, err := limiter.Increment(ctx, "key-b", 1)
	require.NoError(t, err)
	require.True(t, result.Allowed)
}

// Persistence survives a restart: a fresh limiter pointed at the same file
// picks up where the last one left off once a flush has occurred.
func TestInMemoryLimiter_PersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rl.json")
	ctx := context.Background()

	first, err := ratelimit.NewInMemoryLimiter(path, 1)
	require.NoError(t, err)
	_, err = first.Increment(ctx, "key-1", 100)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := ratelimit.NewInMemoryLimiter(path, 1)
	require.NoError(t, err)
	defer second.Close()

	usage, err := second.Usage(ctx, "key-1")
	require.NoError(t, err)
	require.Equal(t, 1, usage)
}
