// Package session holds the authenticated identity of a WeatherDesk client.
//
// The identity is persisted as two keys (role and username) in a simple
// key-value Store. A Session value is created explicitly on load or login and
// torn down on logout or self-deletion; nothing reads the store ambiently.
// Writers are serialized by the caller, so last-writer-wins is acceptable.
package session

import "context"

// Persisted keys.
const (
	KeyRole     = "role"
	KeyUsername = "username"
)

// Store is a flat key-value store for session state.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Clear removes every key.
	Clear(ctx context.Context) error
}

// Backend hands out a Store scoped to one opaque session token. Server-side
// front ends use it to keep many browser sessions apart.
type Backend interface {
	For(token string) Store
}
