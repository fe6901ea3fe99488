package types

import "time"

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// ResponseMeta contains non-blocking metadata returned with API responses.
type ResponseMeta struct {
	Warnings []string `json:"warnings,omitempty"`
}
