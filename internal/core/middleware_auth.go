package core

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"weatherdesk/internal/policy"
	"weatherdesk/internal/session"
	"weatherdesk/internal/types"
)

// sessionKeyCSRF holds the per-session CSRF token next to role and username.
const sessionKeyCSRF = "csrf_token"

type sessionCtxKey struct{}

// requestSession is what SessionMiddleware resolves for one request.
type requestSession struct {
	token   string
	store   session.Store
	session *session.Session
	csrf    string
}

// SessionFrom returns the request's active session and its store.
func SessionFrom(ctx context.Context) (*session.Session, session.Store, bool) {
	rs, ok := ctx.Value(sessionCtxKey{}).(*requestSession)
	if !ok || rs.session == nil || !rs.session.Active() {
		return nil, nil, false
	}
	return rs.session, rs.store, true
}

// CSRFToken returns the CSRF token bound to the request's session, so a
// reloaded front end can recover it.
func CSRFToken(ctx context.Context) string {
	rs, ok := ctx.Value(sessionCtxKey{}).(*requestSession)
	if !ok {
		return ""
	}
	return rs.csrf
}

// SessionMiddleware resolves the session cookie. A missing cookie, unknown
// token or malformed record leaves the request anonymous; it never rejects.
// RequireSession does that per route.
func (s *Server) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(s.cookieName())
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		token := cookie.Value
		store := s.Sessions.For(token)

		sess, err := session.Load(ctx, store)
		if err != nil {
			if !errors.Is(err, session.ErrNoSession) {
				s.Logger.WarnContext(ctx, "session lookup failed", "error", err)
			}
			next.ServeHTTP(w, r)
			return
		}

		csrf, _, err := store.Get(ctx, sessionKeyCSRF)
		if err != nil {
			s.Logger.WarnContext(ctx, "csrf token lookup failed", "error", err)
		}

		ctx = types.WithSessionToken(ctx, token)
		ctx = types.WithIdentity(ctx, sess.Identity())
		ctx = context.WithValue(ctx, sessionCtxKey{}, &requestSession{
			token:   token,
			store:   store,
			session: sess,
			csrf:    csrf,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireSession rejects anonymous requests with auth_session_missing; the
// front end redirects to its login entry point on that code.
func (s *Server) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := SessionFrom(r.Context()); !ok {
			Error(w, r, types.NewAppError(types.ErrCodeAuthSessionMissing, "sign in required", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireCapability rejects sessions whose role lacks c. It implies
// RequireSession.
func (s *Server) RequireCapability(c policy.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return s.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := types.GetIdentity(r.Context())
			if err := s.Policy.Authorize(id.Role, c); err != nil {
				Error(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// NewSessionStore allocates a fresh token and its empty store. The token is
// only issued to the client by IssueSession, after login succeeds.
func (s *Server) NewSessionStore() (string, session.Store) {
	token := uuid.NewString()
	return token, s.Sessions.For(token)
}

// IssueSession stores a CSRF token for the new session and sets the session
// cookie. The CSRF token is returned for the login response body.
func (s *Server) IssueSession(w http.ResponseWriter, r *http.Request, token string, store session.Store) (string, error) {
	csrf := uuid.NewString()
	if err := store.Set(r.Context(), sessionKeyCSRF, csrf); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to store session", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName(),
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.sessionTTL() / time.Second),
		HttpOnly: true,
		Secure:   s.Config.Session.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return csrf, nil
}

// ClearSession expires the session cookie.
func (s *Server) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.Config.Session.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) cookieName() string {
	if s.Config != nil && s.Config.Session.CookieName != "" {
		return s.Config.Session.CookieName
	}
	return "weatherdesk_session"
}

func (s *Server) sessionTTL() time.Duration {
	if s.Config != nil && s.Config.Session.TTL > 0 {
		return s.Config.Session.TTL
	}
	return 12 * time.Hour
}
