package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottle(t *testing.T) {
	clock := &fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	th := NewThrottle(ThrottleConfig{IPBlockThreshold: 3, UsernameBlockThreshold: 2, Window: 10 * time.Minute}, clock)

	assert.True(t, th.Allowed("alice", "1.1.1.1"))
	th.RecordFailure("alice", "1.1.1.1")
	th.RecordFailure("alice", "1.1.1.1")
	assert.False(t, th.Allowed("alice", "2.2.2.2"), "username block applies from any address")

	th.RecordSuccess("alice")
	assert.True(t, th.Allowed("alice", "1.1.1.1"))

	th.RecordFailure("bob", "1.1.1.1")
	assert.False(t, th.Allowed("carol", "1.1.1.1"), "address block applies to any username")
	assert.True(t, th.Allowed("carol", ""), "untracked address")

	clock.now = clock.now.Add(11 * time.Minute)
	assert.True(t, th.Allowed("carol", "1.1.1.1"))
}

func TestDefaultThrottleConfig(t *testing.T) {
	cfg := DefaultThrottleConfig()
	assert.Equal(t, 5, cfg.UsernameBlockThreshold)
	assert.Equal(t, 100, cfg.IPBlockThreshold)
	assert.Equal(t, 15*time.Minute, cfg.Window)
}
