// Package access owns the lifecycle of LLM forecast access grants:
// none -> pending -> approved, with revoke and account deletion paths, and
// the admin's aggregate view of every account.
//
// Every mutation is persisted by the directory first. Local state moves only
// after the directory accepts the change, so a failed call never shows up as
// a success.
package access

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"weatherdesk/internal/policy"
	"weatherdesk/internal/session"
	"weatherdesk/internal/types"
)

// Directory is the subset of the directory service the manager needs.
type Directory interface {
	ListUsers(ctx context.Context) ([]types.UserRecord, error)
	ListPending(ctx context.Context) ([]string, error)
	AccessStatus(ctx context.Context, username string) (types.AccessStatus, error)
	RequestAccess(ctx context.Context, username string) error
	RevokeAccess(ctx context.Context, username string) error
	ToggleAccess(ctx context.Context, username string, access bool) error
	DeleteUser(ctx context.Context, username string) error
}

// EventPublisher receives an event after each successful mutation.
type EventPublisher interface {
	Publish(ctx context.Context, evt types.AccessEvent) error
}

// Manager mediates access grants for one session.
type Manager struct {
	directory Directory
	session   *session.Session
	policy    *policy.Enforcer
	confirm   Confirmer
	events    EventPublisher
	clock     types.Clock
	logger    *slog.Logger

	mu      sync.Mutex
	loaded  bool
	status  types.AccessStatus // own status, user role only
	users   []types.UserRecord // admin aggregate
	pending []string           // admin pending-notification set, directory order
}

// NewManager wires a Manager for sess. A nil confirmer declines every
// destructive action; a nil publisher drops events.
func NewManager(
	directory Directory,
	sess *session.Session,
	pol *policy.Enforcer,
	confirm Confirmer,
	events EventPublisher,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if confirm == nil {
		confirm = Confirmed(false)
	}
	return &Manager{
		directory: directory,
		session:   sess,
		policy:    pol,
		confirm:   confirm,
		events:    events,
		clock:     types.RealClock{},
		logger:    logger,
		status:    types.AccessNone,
	}
}

func (m *Manager) identity() types.Identity {
	return m.session.Identity()
}

// Load refreshes local state from the directory. Users get their own status;
// admins get the full user list and pending set, fetched concurrently and
// rebuilt from scratch; debuggers have nothing to load.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(ctx)
}

func (m *Manager) loadLocked(ctx context.Context) error {
	id := m.identity()
	switch id.Role {
	case types.RoleUser:
		status, err := m.directory.AccessStatus(ctx, id.Username)
		if err != nil {
			return m.remoteFailure(ctx, "load access status", id.Username, err)
		}
		m.status = status

	case types.RoleAdmin:
		var (
			users   []types.UserRecord
			pending []string
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			users, err = m.directory.ListUsers(gctx)
			return err
		})
		g.Go(func() error {
			var err error
			pending, err = m.directory.ListPending(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			return m.remoteFailure(ctx, "load admin aggregate", "", err)
		}
		m.users = users
		m.pending = reconcilePending(users, pending)

	case types.RoleDebugger:
	}

	m.loaded = true
	return nil
}

// reconcilePending keeps only pending entries that name a known account that
// is not already approved. The user list is the authority; a stale pending
// list (for example after a partially failed admin action) cannot resurrect
// a notification for an approved or deleted account.
func reconcilePending(users []types.UserRecord, pending []string) []string {
	known := make(map[string]types.UserRecord, len(users))
	for _, u := range users {
		known[u.Username] = u
	}
	out := make([]string, 0, len(pending))
	seen := make(map[string]bool, len(pending))
	for _, name := range pending {
		u, ok := known[name]
		if !ok || u.HasLLMAccess || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func (m *Manager) ensureLoaded(ctx context.Context) error {
	if m.loaded {
		return nil
	}
	return m.loadLocked(ctx)
}

// Status returns the session user's last-known access status.
func (m *Manager) Status() types.AccessStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Users returns a copy of the admin aggregate.
func (m *Manager) Users() []types.UserRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.users)
}

// Pending returns a copy of the pending-notification set.
func (m *Manager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.pending)
}

// RequestAccess moves the session user from none to pending. A second
// request while pending or approved is rejected without a remote call.
func (m *Manager) RequestAccess(ctx context.Context) error {
	id := m.identity()
	if err := m.policy.Authorize(id.Role, policy.RequestAccess); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLoaded(ctx); err != nil {
		return err
	}

	switch m.status {
	case types.AccessPending:
		return types.NewAppError(types.ErrCodeConflictAccessRequested, "access has already been requested", nil)
	case types.AccessApproved:
		return types.NewAppError(types.ErrCodeConflictAccessApproved, "access is already approved", nil)
	}

	if err := m.directory.RequestAccess(ctx, id.Username); err != nil {
		return m.remoteFailure(ctx, "request access", id.Username, err)
	}
	m.status = types.AccessPending
	m.emit(ctx, types.ActionAccessRequested, id.Username, types.AccessPending)
	return nil
}

// Approve grants access to username. Approving straight from none is allowed
// for ad-hoc grants.
func (m *Manager) Approve(ctx context.Context, username string) error {
	id := m.identity()
	if err := m.policy.Authorize(id.Role, policy.ApproveUser); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.target(ctx, username)
	if err != nil {
		return err
	}
	if rec.HasLLMAccess {
		return types.NewAppError(types.ErrCodeConflictAccessApproved, "access is already approved", nil)
	}

	if err := m.directory.ToggleAccess(ctx, username, true); err != nil {
		return m.remoteFailure(ctx, "approve access", username, err)
	}
	m.setAccess(username, true)
	m.emit(ctx, types.ActionAccessApproved, username, types.AccessApproved)
	return nil
}

// Revoke returns username from approved to none. Users may revoke only
// themselves; admins may revoke anyone approved. Confirmation is required.
func (m *Manager) Revoke(ctx context.Context, username string) error {
	id := m.identity()

	m.mu.Lock()
	defer m.mu.Unlock()

	switch id.Role {
	case types.RoleUser:
		if username != id.Username {
			return types.NewAppError(types.ErrCodePermissionRole, "users can only revoke their own access", nil)
		}
		if err := m.policy.Authorize(id.Role, policy.RevokeOwn); err != nil {
			return err
		}
		if err := m.ensureLoaded(ctx); err != nil {
			return err
		}
		if m.status != types.AccessApproved {
			return notApproved()
		}
	default:
		if err := m.policy.Authorize(id.Role, policy.RevokeUser); err != nil {
			return err
		}
		rec, err := m.target(ctx, username)
		if err != nil {
			return err
		}
		if !rec.HasLLMAccess {
			return notApproved()
		}
	}

	if err := m.confirmAction(ctx, "Revoke LLM forecast access for "+username+"?"); err != nil {
		return err
	}
	if err := m.directory.RevokeAccess(ctx, username); err != nil {
		return m.remoteFailure(ctx, "revoke access", username, err)
	}

	if id.Role == types.RoleUser {
		m.status = types.AccessNone
	} else {
		m.setAccess(username, false)
	}
	m.emit(ctx, types.ActionAccessRevoked, username, types.AccessNone)
	return nil
}

// ToggleAccess sets access directly. true means approved and false means
// none; either way the account leaves the pending set.
func (m *Manager) ToggleAccess(ctx context.Context, username string, desired bool) error {
	id := m.identity()
	if err := m.policy.Authorize(id.Role, policy.ToggleUser); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.target(ctx, username); err != nil {
		return err
	}

	// The directory's toggle leaves the request flag set when turning access
	// off, which would keep the account pending. Revoke clears both flags.
	var err error
	if desired {
		err = m.directory.ToggleAccess(ctx, username, true)
	} else {
		err = m.directory.RevokeAccess(ctx, username)
	}
	if err != nil {
		return m.remoteFailure(ctx, "toggle access", username, err)
	}

	m.setAccess(username, desired)
	status := types.AccessNone
	if desired {
		status = types.AccessApproved
	}
	m.emit(ctx, types.ActionAccessToggled, username, status)
	return nil
}

// DeleteUser removes an account and its access record. Users may delete only
// themselves, which also ends the session. Admins may delete any account
// whose role is not protected. Confirmation is required.
func (m *Manager) DeleteUser(ctx context.Context, username string) error {
	id := m.identity()
	self := username == id.Username

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case id.Role == types.RoleUser:
		if !self {
			return types.NewAppError(types.ErrCodePermissionRole, "users can only delete their own account", nil)
		}
		if err := m.policy.Authorize(id.Role, policy.DeleteOwn); err != nil {
			return err
		}
	default:
		if err := m.policy.Authorize(id.Role, policy.DeleteUser); err != nil {
			return err
		}
		if self {
			return protected(username)
		}
		rec, err := m.target(ctx, username)
		if err != nil {
			return err
		}
		if rec.Role.Protected() {
			return protected(username)
		}
	}

	if err := m.confirmAction(ctx, "Delete account "+username+"? This cannot be undone."); err != nil {
		return err
	}
	if err := m.directory.DeleteUser(ctx, username); err != nil {
		return m.remoteFailure(ctx, "delete user", username, err)
	}

	m.emit(ctx, types.ActionUserDeleted, username, "")

	if self {
		m.status = types.AccessNone
		if err := m.session.End(ctx); err != nil {
			return err
		}
		return nil
	}

	m.users = slices.DeleteFunc(m.users, func(u types.UserRecord) bool { return u.Username == username })
	m.pending = slices.DeleteFunc(m.pending, func(p string) bool { return p == username })
	return nil
}

// CanPredict reports whether the session may run LLM forecasts: admins
// always, users once approved, debuggers never.
func (m *Manager) CanPredict(ctx context.Context) (bool, error) {
	id := m.identity()
	if !m.policy.Allowed(id.Role, policy.Predict) {
		return false, nil
	}
	switch id.Role {
	case types.RoleAdmin:
		return true, nil
	case types.RoleUser:
		m.mu.Lock()
		defer m.mu.Unlock()
		if err := m.ensureLoaded(ctx); err != nil {
			return false, err
		}
		return m.status == types.AccessApproved, nil
	default:
		return false, nil
	}
}

// RequirePredict is CanPredict as a guard.
func (m *Manager) RequirePredict(ctx context.Context) error {
	ok, err := m.CanPredict(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewAppError(types.ErrCodePermissionFeature, "LLM forecast access has not been granted", nil)
	}
	return nil
}

// target returns a copy of the aggregate row for username, loading the
// aggregate if needed. Only user accounts carry access requests.
func (m *Manager) target(ctx context.Context, username string) (types.UserRecord, error) {
	if err := m.ensureLoaded(ctx); err != nil {
		return types.UserRecord{}, err
	}
	i := slices.IndexFunc(m.users, func(u types.UserRecord) bool { return u.Username == username })
	if i < 0 {
		return types.UserRecord{}, types.NewAppErrorWithDetails(types.ErrCodeNotFoundUser, "user not found", nil,
			map[string]any{"username": username})
	}
	return m.users[i], nil
}

// setAccess applies an accepted access change to the aggregate and keeps
// HasLLMAccess and the pending set in lockstep.
func (m *Manager) setAccess(username string, access bool) {
	for i := range m.users {
		if m.users[i].Username == username {
			m.users[i].HasLLMAccess = access
			m.users[i].AccessRequested = false
		}
	}
	m.pending = slices.DeleteFunc(m.pending, func(p string) bool { return p == username })
}

func (m *Manager) confirmAction(ctx context.Context, prompt string) error {
	ok, err := m.confirm.Confirm(ctx, prompt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "confirmation failed", err)
	}
	if !ok {
		return types.NewAppError(types.ErrCodeConfirmationDeclined, "action was not confirmed", nil)
	}
	return nil
}

// remoteFailure logs a failed directory call and passes the error through.
// Local state has not been touched at this point.
func (m *Manager) remoteFailure(ctx context.Context, op, target string, err error) error {
	m.logger.WarnContext(ctx, "access operation failed",
		"op", op,
		"actor", m.identity().Username,
		"target", target,
		"error", err,
	)
	return err
}

// emit publishes best-effort; a failed publish is logged and never fails the
// mutation that already succeeded.
func (m *Manager) emit(ctx context.Context, action types.AccessAction, target string, status types.AccessStatus) {
	if m.events == nil {
		return
	}
	evt := types.AccessEvent{
		Action:     action,
		Actor:      m.identity(),
		Target:     target,
		Status:     status,
		OccurredAt: m.clock.Now(),
	}
	if err := m.events.Publish(ctx, evt); err != nil {
		m.logger.WarnContext(ctx, "failed to publish access event",
			"action", string(action),
			"target", target,
			"error", err,
		)
	}
}

func notApproved() error {
	return types.NewAppError(types.ErrCodeConflictAccessNotActive, "access is not currently approved", nil)
}

func protected(username string) error {
	return types.NewAppErrorWithDetails(types.ErrCodePermissionProtected, "this account cannot be deleted", nil,
		map[string]any{"username": username})
}
