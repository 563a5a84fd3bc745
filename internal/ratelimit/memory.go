package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// InMemoryLimiter keeps per-key-per-day counters in a process-local map.
// It is the default backend for a single-instance deployment. Counters are
// flushed to disk every persistEvery increments (not every one — a daily
// counter surviving a crash a few requests stale is an acceptable
// trade-off against fsyncing on every single request) so a restart doesn't
// silently reset everyone's quota.
type InMemoryLimiter struct {
	mu           sync.Mutex
	counts       map[string]int
	persistPath  string
	persistEvery int
	sinceFlush   int
}

// NewInMemoryLimiter builds an InMemoryLimiter, restoring counters from
// persistPath if it exists. persistPath may be empty, disabling
// persistence entirely (counters reset on restart).
func NewInMemoryLimiter(persistPath string, persistEvery int) (*InMemoryLimiter, error) {
	if persistEvery <= 0 {
		persistEvery = 100
	}
	l := &InMemoryLimiter{
		counts:       make(map[string]int),
		persistPath:  persistPath,
		persistEvery: persistEvery,
	}

	if persistPath == "" {
		return l, nil
	}
	data, err := os.ReadFile(persistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("reading rate limit counters: %w", err)
	}
	if err := json.Unmarshal(data, &l.counts); err != nil {
		return nil, fmt.Errorf("parsing rate limit counters: %w", err)
	}
	return l, nil
}

func (l *InMemoryLimiter) Increment(_ context.Context, key string, limit int) (Result, error) {
	now := time.Now()
	bucket := dayKey(key, now)

	l.mu.Lock()
	l.counts[bucket]++
	count := l.counts[bucket]
	l.sinceFlush++
	shouldFlush := l.sinceFlush >= l.persistEvery
	if shouldFlush {
		l.sinceFlush = 0
	}
	snapshot := l.snapshotLocked()
	l.mu.Unlock()

	if shouldFlush {
		if err := l.flush(snapshot); err != nil {
			return Result{}, err
		}
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt(now),
	}, nil
}

func (l *InMemoryLimiter) Usage(_ context.Context, key string) (int, error) {
	now := time.Now()
	bucket := dayKey(key, now)

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[bucket], nil
}

// Flush forces a persistence write regardless of the since-last-flush
// count. Called by the gateway on graceful shutdown.
func (l *InMemoryLimiter) Flush() error {
	l.mu.Lock()
	snapshot := l.snapshotLocked()
	l.sinceFlush = 0
	l.mu.Unlock()
	return l.flush(snapshot)
}

func (l *InMemoryLimiter) snapshotLocked() map[string]int {
	out := make(map[string]int, len(l.counts))
	for k, v := range l.counts {
		out[k] = v
	}
	return out
}

func (l *InMemoryLimiter) flush(snapshot map[string]int) error {
	if l.persistPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding rate limit counters: %w", err)
	}
	tmp := l.persistPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing rate limit counters: %w", err)
	}
	return os.Rename(tmp, l.persistPath)
}

func (l *InMemoryLimiter) Close() error {
	return l.Flush()
}
