package types

import "context"

// Context Keys
type contextKey string

const (
	identityKey  contextKey = "identity"
	requestIDKey contextKey = "request_id"
	sessionKey   contextKey = "session_token"
)

// WithIdentity stores the session Identity in the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity retrieves the session Identity from the context.
func GetIdentity(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithSessionToken stores the opaque session token in the context.
func WithSessionToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, sessionKey, token)
}

// GetSessionToken retrieves the opaque session token from the context.
func GetSessionToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(sessionKey).(string)
	return token, ok && token != ""
}
