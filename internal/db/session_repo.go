package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"weatherdesk/internal/session"
	"weatherdesk/internal/types"
)

// sessionSchema is applied at startup. One row per (token, key).
const sessionSchema = `CREATE TABLE IF NOT EXISTS session_values (
	token      TEXT        NOT NULL,
	key        TEXT        NOT NULL,
	value      TEXT        NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (token, key)
)`

// SessionRepository stores browser sessions for the dashboard server. Each
// session token owns an independent key space that expires after ttl.
type SessionRepository struct {
	db    DBTX
	ttl   time.Duration
	clock types.Clock
}

var _ session.Backend = (*SessionRepository)(nil)

// NewSessionRepository creates a SessionRepository. A nil clock uses wall time.
func NewSessionRepository(db DBTX, ttl time.Duration, clock types.Clock) *SessionRepository {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &SessionRepository{db: db, ttl: ttl, clock: clock}
}

// EnsureSchema creates the session table if it does not exist.
func (r *SessionRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, sessionSchema); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create session schema", err)
	}
	return nil
}

// For returns the key-value view of one session token.
func (r *SessionRepository) For(token string) session.Store {
	return &SessionStore{repo: r, token: token}
}

// DeleteExpired purges expired rows across all tokens and returns how many
// were removed.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM session_values WHERE expires_at <= $1`,
		r.clock.Now().UTC(),
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge expired sessions", err)
	}
	return tag.RowsAffected(), nil
}

// SessionStore implements session.Store for a single token.
type SessionStore struct {
	repo  *SessionRepository
	token string
}

var _ session.Store = (*SessionStore)(nil)

func (s *SessionStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.repo.db.QueryRow(ctx,
		`SELECT value FROM session_values
		 WHERE token = $1 AND key = $2 AND expires_at > $3`,
		s.token,
		key,
		s.repo.clock.Now().UTC(),
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, types.NewAppError(types.ErrCodeInternalDB, "failed to read session value", err)
	}
	return value, true, nil
}

// Set upserts key and slides the expiry of that row.
func (s *SessionStore) Set(ctx context.Context, key, value string) error {
	_, err := s.repo.db.Exec(ctx,
		`INSERT INTO session_values (token, key, value, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (token, key)
		 DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		s.token,
		key,
		value,
		s.repo.clock.Now().UTC().Add(s.repo.ttl),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to write session value", err)
	}
	return nil
}

func (s *SessionStore) Clear(ctx context.Context) error {
	_, err := s.repo.db.Exec(ctx, `DELETE FROM session_values WHERE token = $1`, s.token)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to clear session", err)
	}
	return nil
}
