package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"weatherdesk/internal/auth"
	"weatherdesk/internal/core"
	"weatherdesk/internal/policy"
	"weatherdesk/internal/session"
	"weatherdesk/internal/types"
)

// AuthService is the auth flow contract. *auth.Service implements it.
type AuthService interface {
	Login(ctx context.Context, store session.Store, creds auth.Credentials) (*session.Session, error)
	Signup(ctx context.Context, creds auth.Credentials) error
	Logout(ctx context.Context, sess *session.Session) error
}

// SessionIssuer mints and expires session cookies.
type SessionIssuer interface {
	NewSessionStore() (string, session.Store)
	IssueSession(w http.ResponseWriter, r *http.Request, token string, store session.Store) (string, error)
	ClearSession(w http.ResponseWriter)
}

var _ SessionIssuer = (*core.Server)(nil)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SessionResponse describes the signed-in account.
type SessionResponse struct {
	Identity     types.Identity `json:"identity"`
	Capabilities []string       `json:"capabilities"`
	CSRFToken    string         `json:"csrf_token"`
}

// AuthHandler serves /v1/auth.
type AuthHandler struct {
	service AuthService
	issuer  SessionIssuer
	guard   Guard
	policy  *policy.Enforcer
	logger  *slog.Logger
}

func NewAuthHandler(svc AuthService, issuer SessionIssuer, guard Guard, pol *policy.Enforcer, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{service: svc, issuer: issuer, guard: guard, policy: pol, logger: logger}
}

// RegisterRoutes mounts login, signup and logout (public) and the current
// session (signed in).
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.HandleLogin)
		r.Post("/signup", h.HandleSignup)
		r.Post("/logout", h.HandleLogout)
		r.With(h.guard.RequireSession).Get("/session", h.HandleSession)
	})
}

// HandleLogin handles POST /v1/auth/login. The cookie is only issued once
// the directory accepted the credentials and the identity was stored.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	token, store := h.issuer.NewSessionStore()
	sess, err := h.service.Login(r.Context(), store, auth.Credentials{
		Username: req.Username,
		Password: req.Password,
		IP:       core.ClientIP(r),
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	csrf, err := h.issuer.IssueSession(w, r, token, store)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "issue session failed", "error", err)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.describe(sess.Identity(), csrf)})
}

// HandleSignup handles POST /v1/auth/signup. It does not sign the new
// account in.
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.service.Signup(r.Context(), auth.Credentials{
		Username: req.Username,
		Password: req.Password,
		IP:       core.ClientIP(r),
	}); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: map[string]string{"username": req.Username}})
}

// HandleLogout handles POST /v1/auth/logout. It always expires the cookie,
// even without a live session.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if sess, _, ok := core.SessionFrom(r.Context()); ok {
		if err := h.service.Logout(r.Context(), sess); err != nil {
			core.Error(w, r, err)
			return
		}
	}
	h.issuer.ClearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleSession handles GET /v1/auth/session.
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := sessionOf(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.describe(sess.Identity(), core.CSRFToken(r.Context()))})
}

func (h *AuthHandler) describe(id types.Identity, csrf string) SessionResponse {
	caps := h.policy.Capabilities(id.Role)
	names := make([]string, 0, len(caps))
	for _, c := range caps {
		names = append(names, c.String())
	}
	return SessionResponse{Identity: id, Capabilities: names, CSRFToken: csrf}
}
