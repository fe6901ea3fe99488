// Package policy decides which capabilities each role can reach. The role
// set is closed; the capability table lives here and nowhere else.
package policy

import (
	_ "embed"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"weatherdesk/internal/types"
)

//go:embed model.conf
var casbinModelContent string

// Capability is an (object, action) pair checked against the caller's role.
type Capability struct {
	Object string
	Action string
}

func (c Capability) String() string {
	return c.Object + ":" + c.Action
}

// Capabilities reachable from the dashboard and CLI.
var (
	ViewDashboard = Capability{"dashboard", "view"}
	ReadWeather   = Capability{"weather", "read"}
	ReadOwnStatus = Capability{"access", "status"}
	RequestAccess = Capability{"access", "request"}
	RevokeOwn     = Capability{"access", "revoke"}
	DeleteOwn     = Capability{"account", "delete"}
	ListUsers     = Capability{"users", "list"}
	ApproveUser   = Capability{"users", "approve"}
	RevokeUser    = Capability{"users", "revoke"}
	ToggleUser    = Capability{"users", "toggle"}
	DeleteUser    = Capability{"users", "delete"}
	Predict       = Capability{"forecast", "predict"}
	SampleGrid    = Capability{"forecast", "grid"}
	ReadAuditLog  = Capability{"audit", "read"}
)

// grants is the full policy. Predict for users is further gated on an
// approved access request by the access manager.
var grants = map[types.Role][]Capability{
	types.RoleAdmin: {
		ViewDashboard, ReadWeather,
		ListUsers, ApproveUser, RevokeUser, ToggleUser, DeleteUser,
		Predict, SampleGrid,
	},
	types.RoleUser: {
		ViewDashboard, ReadWeather,
		ReadOwnStatus, RequestAccess, RevokeOwn, DeleteOwn,
		Predict, SampleGrid,
	},
	types.RoleDebugger: {
		ViewDashboard, ReadWeather,
		ReadAuditLog,
	},
}

// Enforcer answers capability checks. It is safe for concurrent use.
type Enforcer struct {
	e *casbin.SyncedEnforcer
}

// New builds the enforcer from the embedded model and the static grants.
func New() (*Enforcer, error) {
	m, err := model.NewModelFromString(casbinModelContent)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}

	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}

	var rules [][]string
	for _, role := range types.AllRoles {
		for _, c := range grants[role] {
			rules = append(rules, []string{string(role), c.Object, c.Action})
		}
	}
	if _, err := e.AddPolicies(rules); err != nil {
		return nil, fmt.Errorf("load casbin policies: %w", err)
	}

	return &Enforcer{e: e}, nil
}

// MustNew is New for process startup, where a broken embedded policy is a
// programming error.
func MustNew() *Enforcer {
	p, err := New()
	if err != nil {
		panic(err)
	}
	return p
}

// Allowed reports whether role holds capability c.
func (p *Enforcer) Allowed(role types.Role, c Capability) bool {
	ok, err := p.e.Enforce(string(role), c.Object, c.Action)
	return err == nil && ok
}

// Authorize returns a permission error when role lacks c.
func (p *Enforcer) Authorize(role types.Role, c Capability) error {
	if p.Allowed(role, c) {
		return nil
	}
	return types.NewAppErrorWithDetails(types.ErrCodePermissionRole,
		"this action is not available to your role", nil,
		map[string]any{"role": string(role), "capability": c.String()})
}

// Capabilities lists what role can do, in table order.
func (p *Enforcer) Capabilities(role types.Role) []Capability {
	var out []Capability
	for _, c := range grants[role] {
		if p.Allowed(role, c) {
			out = append(out, c)
		}
	}
	return out
}
