package auth

import (
	"sync"
	"time"

	"weatherdesk/internal/types"
)

// ThrottleConfig holds the thresholds for brute force protection.
type ThrottleConfig struct {
	// IPBlockThreshold is the number of failed logins from one address within
	// Window before that address is refused.
	IPBlockThreshold int

	// UsernameBlockThreshold is the number of failed logins for one username
	// within Window before that username is refused.
	UsernameBlockThreshold int

	Window time.Duration
}

// DefaultThrottleConfig returns the production thresholds.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		IPBlockThreshold:       100,
		UsernameBlockThreshold: 5,
		Window:                 15 * time.Minute,
	}
}

// Throttle counts recent failed logins per username and per client address
// in process memory. It is advisory; the directory remains the authority on
// credentials.
type Throttle struct {
	cfg   ThrottleConfig
	clock types.Clock

	mu         sync.Mutex
	byUsername map[string][]time.Time
	byIP       map[string][]time.Time
}

func NewThrottle(cfg ThrottleConfig, clock types.Clock) *Throttle {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Throttle{
		cfg:        cfg,
		clock:      clock,
		byUsername: make(map[string][]time.Time),
		byIP:       make(map[string][]time.Time),
	}
}

// Allowed reports whether a login for username from ip may proceed. An empty
// ip is not tracked.
func (t *Throttle) Allowed(username, ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	since := t.clock.Now().Add(-t.cfg.Window)
	if t.recent(t.byUsername, username, since) >= t.cfg.UsernameBlockThreshold {
		return false
	}
	if ip != "" && t.recent(t.byIP, ip, since) >= t.cfg.IPBlockThreshold {
		return false
	}
	return true
}

// RecordFailure counts one failed login.
func (t *Throttle) RecordFailure(username, ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.byUsername[username] = append(t.byUsername[username], now)
	if ip != "" {
		t.byIP[ip] = append(t.byIP[ip], now)
	}
}

// RecordSuccess forgets the username's failures. Address failures are kept
// so one valid account cannot launder a spraying client.
func (t *Throttle) RecordSuccess(username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byUsername, username)
}

// recent prunes entries older than since and returns how many remain.
func (t *Throttle) recent(m map[string][]time.Time, key string, since time.Time) int {
	attempts := m[key]
	kept := attempts[:0]
	for _, at := range attempts {
		if at.After(since) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(m, key)
		return 0
	}
	m[key] = kept
	return len(kept)
}
