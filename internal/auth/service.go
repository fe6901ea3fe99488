// Package auth implements login, signup and logout against the directory
// service and records the resulting identity in the session store.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"weatherdesk/internal/external"
	"weatherdesk/internal/session"
	"weatherdesk/internal/types"
)

// Directory is the account side of the directory service.
type Directory interface {
	Login(ctx context.Context, username, password string) (*external.LoginResult, error)
	Signup(ctx context.Context, username, password string) error
}

// Service runs the auth flows. A nil throttle disables brute force
// protection.
type Service struct {
	directory Directory
	throttle  *Throttle
	logger    *slog.Logger
}

func NewService(directory Directory, throttle *Throttle, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{directory: directory, throttle: throttle, logger: logger}
}

// Credentials is the login and signup input. IP is the client address used
// for throttling and may be empty.
type Credentials struct {
	Username string
	Password string
	IP       string
}

func (c Credentials) validate() error {
	var missing []string
	if strings.TrimSpace(c.Username) == "" {
		missing = append(missing, "username")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"username and password are required", nil,
			map[string]any{"fields": missing})
	}
	return nil
}

// Login authenticates with the directory and begins a session in store. On
// any failure the store is left as it was.
func (s *Service) Login(ctx context.Context, store session.Store, creds Credentials) (*session.Session, error) {
	if err := creds.validate(); err != nil {
		return nil, err
	}
	username := strings.TrimSpace(creds.Username)

	if s.throttle != nil && !s.throttle.Allowed(username, creds.IP) {
		s.logger.WarnContext(ctx, "login throttled", "username", username, "ip", creds.IP)
		return nil, types.NewAppError(types.ErrCodeAuthThrottled,
			"too many failed login attempts, try again later", nil)
	}

	res, err := s.directory.Login(ctx, username, creds.Password)
	if err != nil {
		if types.IsCode(err, types.ErrCodeAuthInvalidCreds) && s.throttle != nil {
			s.throttle.RecordFailure(username, creds.IP)
		}
		s.logger.InfoContext(ctx, "login failed", "username", username, "code", string(types.CodeOf(err)))
		return nil, err
	}

	role, err := types.ParseRole(res.Role)
	if err != nil {
		s.logger.WarnContext(ctx, "directory returned unknown role", "username", username, "role", res.Role)
		return nil, err
	}
	if res.Username != "" {
		username = res.Username
	}

	if s.throttle != nil {
		s.throttle.RecordSuccess(username)
	}

	sess, err := session.Begin(ctx, store, types.Identity{Username: username, Role: role})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "login succeeded", "username", username, "role", string(role))
	return sess, nil
}

// Signup registers a new account. The directory's rejection (duplicate or
// malformed input) surfaces as auth_signup_rejected with its message.
func (s *Service) Signup(ctx context.Context, creds Credentials) error {
	if err := creds.validate(); err != nil {
		return err
	}
	username := strings.TrimSpace(creds.Username)

	err := s.directory.Signup(ctx, username, creds.Password)
	if err == nil {
		s.logger.InfoContext(ctx, "signup succeeded", "username", username)
		return nil
	}

	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Code == types.ErrCodeUpstreamDirectory {
		if status, _ := appErr.Details["status"].(int); status == 400 {
			return types.NewAppErrorWithDetails(types.ErrCodeAuthSignupRejected, appErr.Message, err,
				map[string]any{"username": username})
		}
	}
	return err
}

// Logout ends sess. It is safe on an already-ended session.
func (s *Service) Logout(ctx context.Context, sess *session.Session) error {
	if sess == nil {
		return nil
	}
	id := sess.Identity()
	if err := sess.End(ctx); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "logout", "username", id.Username)
	return nil
}
