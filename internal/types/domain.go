package types

import (
	"encoding/json"
	"time"
)

// Identity is the authenticated principal of a session. It is immutable once
// the session is loaded.
type Identity struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// AccessRequest is the per-user access record for the LLM forecast feature.
type AccessRequest struct {
	Username string       `json:"username"`
	Status   AccessStatus `json:"status"`
}

// UserRecord is the admin aggregate row for one account.
type UserRecord struct {
	Username        string `json:"username"`
	Role            Role   `json:"role"`
	HasLLMAccess    bool   `json:"has_llm_access"`
	AccessRequested bool   `json:"access_requested"`
}

// Status derives the AccessRequest status from the record flags. Approval
// always wins over a stale request flag.
func (u UserRecord) Status() AccessStatus {
	switch {
	case u.HasLLMAccess:
		return AccessApproved
	case u.AccessRequested:
		return AccessPending
	default:
		return AccessNone
	}
}

// ForecastQuery is a request for a multi-day forecast of one property at a
// point. Lat and Lon are pointers so that "absent" is distinguishable from 0.
type ForecastQuery struct {
	Lat      *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon      *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
	Property Property `json:"property" validate:"required,oneof=T2M RH2M WS2M"`
}

// ForecastPoint is one forecast day.
type ForecastPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// ForecastResult is the ordered (chronological, as sent by the service)
// sequence of forecast days.
type ForecastResult []ForecastPoint

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Band is a color-coded magnitude class for a grid value.
type Band struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Color string `json:"color"`
}

// GridPoint is one sampled lattice position.
type GridPoint struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Value float64 `json:"value"`
	Band  Band    `json:"band"`
}

// AuditEntry is one record of the directory's audit log.
type AuditEntry struct {
	Timestamp string          `json:"timestamp"`
	Username  string          `json:"username"`
	Action    string          `json:"action"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// AccessEvent describes a successful access lifecycle mutation.
type AccessEvent struct {
	ID         string       `json:"id"`
	Action     AccessAction `json:"action"`
	Actor      Identity     `json:"actor"`
	Target     string       `json:"target"`
	Status     AccessStatus `json:"status,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}
