package types

import "strings"

// Role is the closed set of identity roles. Role-specific behavior is dispatched
// from a single switch per concern; adding a role means updating ParseRole and
// every switch that lists AllRoles.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleUser     Role = "user"
	RoleDebugger Role = "debugger"
)

// AllRoles lists every valid Role in a stable order.
var AllRoles = []Role{RoleAdmin, RoleUser, RoleDebugger}

// ParseRole converts a persisted or wire role string into a Role. Any value
// outside the closed set is rejected; callers treat that as "not logged in".
func ParseRole(s string) (Role, error) {
	switch Role(strings.TrimSpace(s)) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleUser:
		return RoleUser, nil
	case RoleDebugger:
		return RoleDebugger, nil
	}
	return "", NewAppErrorWithDetails(ErrCodeAuthUnknownRole, "unknown role", nil,
		map[string]any{"role": s})
}

// Protected reports whether accounts with this role can never be deleted.
func (r Role) Protected() bool {
	return r == RoleAdmin || r == RoleDebugger
}

// AccessStatus is the lifecycle state of an access request for the LLM
// forecast feature.
type AccessStatus string

const (
	AccessNone     AccessStatus = "none"
	AccessPending  AccessStatus = "pending"
	AccessApproved AccessStatus = "approved"
)

// ParseAccessStatus converts a wire status. Unknown values collapse to none,
// matching the directory's behavior for unknown users.
func ParseAccessStatus(s string) AccessStatus {
	switch AccessStatus(s) {
	case AccessPending:
		return AccessPending
	case AccessApproved:
		return AccessApproved
	default:
		return AccessNone
	}
}

// Property identifies the physical variable a forecast is produced for.
type Property string

const (
	PropertyT2M  Property = "T2M"  // temperature at 2m, °C
	PropertyRH2M Property = "RH2M" // relative humidity at 2m, %
	PropertyWS2M Property = "WS2M" // wind speed, km/h
)

// AllProperties lists every routable Property.
var AllProperties = []Property{PropertyT2M, PropertyRH2M, PropertyWS2M}

// Valid reports whether p is one of the routable properties.
func (p Property) Valid() bool {
	switch p {
	case PropertyT2M, PropertyRH2M, PropertyWS2M:
		return true
	}
	return false
}

// AccessAction names an access lifecycle event.
type AccessAction string

const (
	ActionAccessRequested AccessAction = "access.requested"
	ActionAccessApproved  AccessAction = "access.approved"
	ActionAccessRevoked   AccessAction = "access.revoked"
	ActionAccessToggled   AccessAction = "access.toggled"
	ActionUserDeleted     AccessAction = "user.deleted"
)
