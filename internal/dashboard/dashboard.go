// Package dashboard assembles the role-specific landing view and the weather
// panel shown to every signed-in account.
package dashboard

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"weatherdesk/internal/policy"
	"weatherdesk/internal/types"
)

// AccessState is the part of the access manager the dashboard reads.
type AccessState interface {
	Load(ctx context.Context) error
	Users() []types.UserRecord
	Pending() []string
	Status() types.AccessStatus
	CanPredict(ctx context.Context) (bool, error)
}

// AuditSource reads the directory audit log.
type AuditSource interface {
	AuditLogs(ctx context.Context) ([]types.AuditEntry, error)
}

// View is the landing view. Exactly one of Admin, User and Debugger is set,
// matching Identity.Role.
type View struct {
	Identity     types.Identity `json:"identity"`
	Capabilities []string       `json:"capabilities"`
	Admin        *AdminView     `json:"admin,omitempty"`
	User         *UserView      `json:"user,omitempty"`
	Debugger     *DebuggerView  `json:"debugger,omitempty"`
}

// AdminView lists managed accounts. Admin rows are not shown.
type AdminView struct {
	Users   []types.UserRecord `json:"users"`
	Pending []string           `json:"pending"`
}

// UserView carries the user's own access state.
type UserView struct {
	Status     types.AccessStatus `json:"status"`
	CanPredict bool               `json:"can_predict"`
}

// DebuggerView is the audit log, newest first.
type DebuggerView struct {
	Logs []types.AuditEntry `json:"logs"`
}

// Loader builds Views.
type Loader struct {
	audit  AuditSource
	policy *policy.Enforcer
	logger *slog.Logger
}

func NewLoader(audit AuditSource, pol *policy.Enforcer, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{audit: audit, policy: pol, logger: logger}
}

// Load refreshes access state and returns the view for id's role.
func (l *Loader) Load(ctx context.Context, id types.Identity, state AccessState) (*View, error) {
	caps := l.policy.Capabilities(id.Role)
	view := &View{
		Identity:     id,
		Capabilities: make([]string, len(caps)),
	}
	for i, c := range caps {
		view.Capabilities[i] = c.String()
	}

	switch id.Role {
	case types.RoleAdmin:
		if err := state.Load(ctx); err != nil {
			return nil, err
		}
		users := slices.DeleteFunc(state.Users(), func(u types.UserRecord) bool {
			return u.Role == types.RoleAdmin
		})
		view.Admin = &AdminView{Users: users, Pending: state.Pending()}

	case types.RoleUser:
		if err := state.Load(ctx); err != nil {
			return nil, err
		}
		ok, err := state.CanPredict(ctx)
		if err != nil {
			return nil, err
		}
		view.User = &UserView{Status: state.Status(), CanPredict: ok}

	case types.RoleDebugger:
		logs, err := l.audit.AuditLogs(ctx)
		if err != nil {
			l.logger.WarnContext(ctx, "failed to load audit log", "error", err)
			return nil, err
		}
		view.Debugger = &DebuggerView{Logs: newestFirst(logs)}

	default:
		return nil, types.NewAppError(types.ErrCodeAuthUnknownRole, "unknown role", nil)
	}
	return view, nil
}

// newestFirst orders entries by descending timestamp. The directory appends
// chronologically, so entries sharing a timestamp keep reverse append order.
func newestFirst(logs []types.AuditEntry) []types.AuditEntry {
	out := slices.Clone(logs)
	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b types.AuditEntry) int {
		return strings.Compare(b.Timestamp, a.Timestamp)
	})
	return out
}
