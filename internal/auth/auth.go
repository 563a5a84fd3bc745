// Package auth implements the Authenticator (§4.1): it validates the
// x-api-key header against the Credential Store and enforces the daily
// usage cap via internal/ratelimit, producing a single Caller record the
// rest of the request pipeline treats as ground truth for "who is this
// and what are they allowed to spend."
package auth

import (
	"context"
	"net/http"

	"github.com/agenttunnel/gateway/internal/gwerrors"
	"github.com/agenttunnel/gateway/internal/ratelimit"
	"github.com/agenttunnel/gateway/internal/store"
)

// Caller is the authenticated identity attached to a request once it
// clears the Authenticator.
type Caller struct {
	Name      string
	Tier      store.Tier
	Tunnel    string
	DailyCap  int
	Used      int
	Remaining int
}

// Authenticator validates the x-api-key header (§4.1).
type Authenticator struct {
	credentials *store.CredentialStore
	limiter     ratelimit.Limiter
}

// New builds an Authenticator.
func New(credentials *store.CredentialStore, limiter ratelimit.Limiter) *Authenticator {
	return &Authenticator{credentials: credentials, limiter: limiter}
}

// Authenticate implements the four-outcome contract of §4.1 in order:
// missing header, unknown key, revoked key, then the rate limit. A caller
// that passes all four gets back a Caller and a ratelimit.Result it can
// use to render X-RateLimit-* headers regardless of outcome.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (Caller, ratelimit.Result, error) {
	key := r.Header.Get("x-api-key")
	if key == "" {
		return Caller{}, ratelimit.Result{}, gwerrors.New(gwerrors.ErrAuthMissing, "Missing x-api-key header")
	}

	cred, err := a.credentials.Lookup(key)
	if err != nil {
		return Caller{}, ratelimit.Result{}, gwerrors.New(gwerrors.ErrAuthInvalid, "Invalid API key")
	}
	if !cred.Active {
		return Caller{}, ratelimit.Result{}, gwerrors.New(gwerrors.ErrAuthRevoked, "API key has been revoked")
	}

	result, err := a.limiter.Increment(ctx, key, cred.DailyLimit)
	if err != nil {
		return Caller{}, ratelimit.Result{}, gwerrors.Wrap("rate limit check", err)
	}
	caller := Caller{
		Name:      cred.Name,
		Tier:      cred.Tier,
		Tunnel:    cred.Tunnel,
		DailyCap:  cred.DailyLimit,
		Used:      cred.DailyLimit - result.Remaining,
		Remaining: result.Remaining,
	}
	if !result.Allowed {
		return caller, result, gwerrors.New(gwerrors.ErrRateLimited, "daily rate limit exceeded").WithTunnel(cred.Tunnel, cred.Name)
	}

	return caller, result, nil
}
