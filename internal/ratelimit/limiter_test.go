// SPDX-License-Identifier: MIT

package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDisabledLimiterAllowsEverything(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.GlobalRate = 1
	cfg.GlobalBurst = 1
	l := New(cfg)

	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("10.0.0.1"))
	}
}

func TestPerIPLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GlobalRate = 1000
	cfg.GlobalBurst = 1000
	cfg.PerIPRate = 1
	cfg.PerIPBurst = 2
	l := New(cfg)

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"), "third request should exceed the burst")

	// A different client has its own bucket.
	assert.True(t, l.Allow("10.0.0.2"))
}

func TestGlobalLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GlobalRate = 1
	cfg.GlobalBurst = 1
	cfg.PerIPRate = 1000
	cfg.PerIPBurst = 1000
	l := New(cfg)

	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.2"), "global bucket is shared across clients")
}

func TestUpdateResetsBuckets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PerIPRate = 1
	cfg.PerIPBurst = 1
	l := New(cfg)

	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))

	cfg.PerIPBurst = 5
	l.Update(cfg)
	assert.True(t, l.Allow("10.0.0.1"), "reload should grant the new burst")
}

func TestCleanupDropsStaleBuckets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PerIPRate = 1
	cfg.PerIPBurst = 1
	cfg.CleanupInterval = time.Nanosecond
	l := New(cfg)

	assert.True(t, l.Allow("10.0.0.1"))
	time.Sleep(time.Millisecond)
	// The exhausted bucket is gone after cleanup, so the client gets a
	// fresh burst.
	assert.True(t, l.Allow("10.0.0.1"))
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.7:1234"
	assert.Equal(t, "192.0.2.7", GetClientIP(r))

	r.Header.Set("X-Real-IP", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", GetClientIP(r))

	r.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	assert.Equal(t, "198.51.100.4", GetClientIP(r))
}
