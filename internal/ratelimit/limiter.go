// Package ratelimit tracks each credential's daily usage against its
// configured cap (§3, §4.1). Two backends implement the same interface: an
// in-memory counter for single-instance deployments, and a Redis-backed
// counter (mirroring the framework's convention of reserving Redis DB
// index 1 for rate limiting, DB 0 being left for service discovery) for
// multi-instance ones where counters must be shared.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of a single Increment call, enough to render the
// X-RateLimit-* response headers (§9).
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter enforces a per-key daily cap. Keys are credential API keys; the
// day boundary is UTC midnight.
type Limiter interface {
	// Increment records one unit of usage against key and reports whether
	// the caller is still within limit. It always increments, even when
	// the result is Allowed=false, matching the "count first, decide
	// after" semantics a fixed daily cap implies — a rejected request
	// still consumed its slot, since the caller already reached the
	// gateway and the decision was made here.
	Increment(ctx context.Context, key string, limit int) (Result, error)

	// Usage reports current usage for key without incrementing it.
	Usage(ctx context.Context, key string) (int, error)

	// Close releases any held resources (Redis connections, a persistence
	// goroutine). Safe to call on a Limiter that holds none.
	Close() error
}

// dayKey returns the UTC calendar day bucket a usage counter belongs to.
func dayKey(key string, now time.Time) string {
	return key + ":" + now.UTC().Format("2006-01-02")
}

func resetAt(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
