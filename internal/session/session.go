package session

import (
	"context"
	"errors"
	"strings"

	"weatherdesk/internal/types"
)

// ErrNoSession means the store holds no usable identity. Front ends send the
// client to the login entry point when they see it.
var ErrNoSession = errors.New("no active session")

func noSession(reason string, cause error) error {
	err := cause
	if err == nil {
		err = ErrNoSession
	} else {
		err = errors.Join(ErrNoSession, cause)
	}
	return types.NewAppError(types.ErrCodeAuthSessionMissing, reason, err)
}

// Session is the loaded identity bound to the store it came from.
type Session struct {
	store    Store
	identity types.Identity
	ended    bool
}

// Load reads the identity from store. A missing username or a role outside
// the closed set yields ErrNoSession.
func Load(ctx context.Context, store Store) (*Session, error) {
	role, ok, err := store.Get(ctx, KeyRole)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to read session", err)
	}
	if !ok || role == "" {
		return nil, noSession("not logged in", nil)
	}
	username, ok, err := store.Get(ctx, KeyUsername)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to read session", err)
	}
	if !ok || strings.TrimSpace(username) == "" {
		return nil, noSession("not logged in", nil)
	}

	parsed, err := types.ParseRole(role)
	if err != nil {
		return nil, noSession("session role is not recognized", err)
	}

	return &Session{
		store:    store,
		identity: types.Identity{Username: username, Role: parsed},
	}, nil
}

// Begin persists identity into store and returns the live session. Keys from
// any previous session are cleared first.
func Begin(ctx context.Context, store Store, identity types.Identity) (*Session, error) {
	if strings.TrimSpace(identity.Username) == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "username is required", nil)
	}
	if _, err := types.ParseRole(string(identity.Role)); err != nil {
		return nil, err
	}

	if err := store.Clear(ctx); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to reset session", err)
	}
	if err := store.Set(ctx, KeyRole, string(identity.Role)); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to persist session", err)
	}
	if err := store.Set(ctx, KeyUsername, identity.Username); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to persist session", err)
	}

	return &Session{store: store, identity: identity}, nil
}

// Identity returns the principal. It does not change for the session lifetime.
func (s *Session) Identity() types.Identity {
	return s.identity
}

// Active reports whether End has not been called.
func (s *Session) Active() bool {
	return !s.ended
}

// End clears the store wholesale. It is used by logout and self-deletion and
// is safe to call more than once.
func (s *Session) End(ctx context.Context) error {
	if s.ended {
		return nil
	}
	if err := s.store.Clear(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to clear session", err)
	}
	s.ended = true
	return nil
}
