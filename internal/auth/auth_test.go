package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agenttunnel/gateway/internal/auth"
	"github.com/agenttunnel/gateway/internal/gwerrors"
	"github.com/agenttunnel/gateway/internal/ratelimit"
	"github.com/agenttunnel/gateway/internal/store"
)

func newAuthenticator(t *testing.T) (*auth.Authenticator, *store.CredentialStore) {
	t.Helper()
	dir := t.TempDir()

	credentials, err := store.LoadCredentialStore(filepath.Join(dir, "credentials.json"))
	require.NoError(t, err)

	limiter, err := ratelimit.NewInMemoryLimiter(filepath.Join(dir, "ratelimit.json"), 100)
	require.NoError(t, err)
	t.Cleanup(func() { limiter.Close() })

	return auth.New(credentials, limiter), credentials
}

func request(key string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/validate", nil)
	if key != "" {
		r.Header.Set("x-api-key", key)
	}
	return r
}

// Authenticate is total: every request reaches exactly one of the four
// documented outcomes (missing, unknown, revoked, rate-limited) or success.
func TestAuthenticate_MissingHeader(t *testing.T) {
	authenticator, _ := newAuthenticator(t)

	_, _, err := authenticator.Authenticate(context.Background(), request(""))
	require.ErrorIs(t, err, gwerrors.ErrAuthMissing)
}

func TestAuthenticate_UnknownKey(t *testing.T) {
	authenticator, _ := newAuthenticator(t)

	_, _, err := authenticator.Authenticate(context.Background(), request("nope"))
	require.ErrorIs(t, err, gwerrors.ErrAuthInvalid)
}

func TestAuthenticate_RevokedKey(t *testing.T) {
	authenticator, credentials := newAuthenticator(t)

	cred, err := credentials.Create("agent-1", store.TierWorker, "DevOps", 10, "tester")
	require.NoError(t, err)
	require.NoError(t, credentials.Revoke(cred.Key))

	_, _, err = authenticator.Authenticate(context.Background(), request(cred.Key))
	require.ErrorIs(t, err, gwerrors.ErrAuthRevoked)
}

func TestAuthenticate_Success(t *testing.T) {
	authenticator, credentials := newAuthenticator(t)

	cred, err := credentials.Create("agent-1", store.TierWorker, "DevOps", 10, "tester")
	require.NoError(t, err)

	caller, result, err := authenticator.Authenticate(context.Background(), request(cred.Key))
	require.NoError(t, err)
	require.Equal(t, "agent-1", caller.Name)
	require.Equal(t, 9, result.Remaining)
}

func TestAuthenticate_RateLimited(t *testing.T) {
	authenticator, credentials := newAuthenticator(t)

	cred, err := credentials.Create("agent-1", store.TierWorker, "DevOps", 1, "tester")
	require.NoError(t, err)

	_, _, err = authenticator.Authenticate(context.Background(), request(cred.Key))
	require.NoError(t, err)

	_, _, err = authenticator.Authenticate(context.Background(), request(cred.Key))
	require.ErrorIs(t, err, gwerrors.ErrRateLimited)
}
