package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"weatherdesk/internal/access"
	"weatherdesk/internal/core"
	"weatherdesk/internal/policy"
	"weatherdesk/internal/types"
)

// AccessStatusResponse is the caller's own access state.
type AccessStatusResponse struct {
	Username   string             `json:"username"`
	Status     types.AccessStatus `json:"status"`
	CanPredict bool               `json:"can_predict"`
}

// UsersResponse is the admin aggregate.
type UsersResponse struct {
	Users   []types.UserRecord `json:"users"`
	Pending []string           `json:"pending"`
}

type toggleRequest struct {
	Access *bool `json:"access" validate:"required"`
}

// AccessHandler serves the access lifecycle: a user's own request and revoke
// and the admin's user management.
type AccessHandler struct {
	managers  AccessFactory
	guard     Guard
	issuer    SessionIssuer
	validator *core.Validator
	logger    *slog.Logger
}

func NewAccessHandler(managers AccessFactory, guard Guard, issuer SessionIssuer, v *core.Validator, logger *slog.Logger) *AccessHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessHandler{managers: managers, guard: guard, issuer: issuer, validator: v, logger: logger}
}

// RegisterRoutes mounts /access, /admin/users and /users. Destructive
// routes take ?confirm=true.
func (h *AccessHandler) RegisterRoutes(r chi.Router) {
	r.Route("/access", func(r chi.Router) {
		r.With(h.guard.RequireCapability(policy.ReadOwnStatus)).Get("/status", h.HandleStatus)
		r.With(h.guard.RequireCapability(policy.RequestAccess)).Post("/request", h.HandleRequest)
		r.With(h.guard.RequireCapability(policy.RevokeOwn)).Post("/revoke", h.HandleRevokeOwn)
	})

	r.Route("/admin/users", func(r chi.Router) {
		r.With(h.guard.RequireCapability(policy.ListUsers)).Get("/", h.HandleListUsers)
		r.With(h.guard.RequireCapability(policy.ApproveUser)).Post("/{username}/approve", h.HandleApprove)
		r.With(h.guard.RequireCapability(policy.ToggleUser)).Put("/{username}/access", h.HandleToggle)
		r.With(h.guard.RequireCapability(policy.RevokeUser)).Post("/{username}/revoke", h.HandleRevoke)
	})

	// Self-deletion and admin deletion share the route; the manager decides
	// which rule applies.
	r.With(h.guard.RequireSession).Delete("/users/{username}", h.HandleDelete)
}

func (h *AccessHandler) manager(r *http.Request, confirm access.Confirmer) (*access.Manager, types.Identity, error) {
	sess, err := sessionOf(r)
	if err != nil {
		return nil, types.Identity{}, err
	}
	return h.managers(sess, confirm), sess.Identity(), nil
}

// HandleStatus handles GET /v1/access/status.
func (h *AccessHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	mgr, id, err := h.manager(r, nil)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.writeStatus(w, r, mgr, id)
}

// HandleRequest handles POST /v1/access/request.
func (h *AccessHandler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	mgr, id, err := h.manager(r, nil)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := mgr.RequestAccess(r.Context()); err != nil {
		core.Error(w, r, err)
		return
	}
	h.writeStatus(w, r, mgr, id)
}

// HandleRevokeOwn handles POST /v1/access/revoke?confirm=true.
func (h *AccessHandler) HandleRevokeOwn(w http.ResponseWriter, r *http.Request) {
	mgr, id, err := h.manager(r, confirmed(r))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := mgr.Revoke(r.Context(), id.Username); err != nil {
		core.Error(w, r, err)
		return
	}
	h.writeStatus(w, r, mgr, id)
}

// writeStatus answers with the manager's view after any mutation. CanPredict
// loads the status if nothing has yet.
func (h *AccessHandler) writeStatus(w http.ResponseWriter, r *http.Request, mgr *access.Manager, id types.Identity) {
	canPredict, err := mgr.CanPredict(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: AccessStatusResponse{
		Username:   id.Username,
		Status:     mgr.Status(),
		CanPredict: canPredict,
	}})
}

// HandleListUsers handles GET /v1/admin/users.
func (h *AccessHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	mgr, _, err := h.manager(r, nil)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := mgr.Load(r.Context()); err != nil {
		core.Error(w, r, err)
		return
	}
	h.writeUsers(w, r, mgr)
}

// HandleApprove handles POST /v1/admin/users/{username}/approve.
func (h *AccessHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	h.mutateUser(w, r, nil, func(mgr *access.Manager, username string) error {
		return mgr.Approve(r.Context(), username)
	})
}

// HandleToggle handles PUT /v1/admin/users/{username}/access with
// {"access": bool}.
func (h *AccessHandler) HandleToggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	h.mutateUser(w, r, nil, func(mgr *access.Manager, username string) error {
		return mgr.ToggleAccess(r.Context(), username, *req.Access)
	})
}

// HandleRevoke handles POST /v1/admin/users/{username}/revoke?confirm=true.
func (h *AccessHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	h.mutateUser(w, r, confirmed(r), func(mgr *access.Manager, username string) error {
		return mgr.Revoke(r.Context(), username)
	})
}

// mutateUser runs an admin mutation and answers with the refreshed
// aggregate.
func (h *AccessHandler) mutateUser(w http.ResponseWriter, r *http.Request, confirm access.Confirmer, op func(*access.Manager, string) error) {
	username, err := usernameParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	mgr, _, err := h.manager(r, confirm)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := op(mgr, username); err != nil {
		core.Error(w, r, err)
		return
	}
	h.writeUsers(w, r, mgr)
}

func (h *AccessHandler) writeUsers(w http.ResponseWriter, r *http.Request, mgr *access.Manager) {
	users := mgr.Users()
	if users == nil {
		users = []types.UserRecord{}
	}
	pending := mgr.Pending()
	if pending == nil {
		pending = []string{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: UsersResponse{Users: users, Pending: pending}})
}

// HandleDelete handles DELETE /v1/users/{username}?confirm=true. Deleting
// one's own account also ends the session and expires its cookie.
func (h *AccessHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	username, err := usernameParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	mgr, id, err := h.manager(r, confirmed(r))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := mgr.DeleteUser(r.Context(), username); err != nil {
		core.Error(w, r, err)
		return
	}

	if username == id.Username {
		h.issuer.ClearSession(w)
	}
	w.WriteHeader(http.StatusNoContent)
}
