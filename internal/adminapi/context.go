package adminapi

import "context"

type callerKey struct{}

// WithCaller attaches the authenticated caller's name to ctx, set by
// internal/httpapi once a request clears the Authenticator.
func WithCaller(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, callerKey{}, name)
}

// CallerFromContext retrieves the caller name set by WithCaller.
func CallerFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(callerKey{}).(string)
	return name, ok
}
