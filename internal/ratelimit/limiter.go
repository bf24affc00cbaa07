// SPDX-License-Identifier: MIT

// Package ratelimit guards the control API against request storms with a
// global token bucket plus one bucket per client IP.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ManuGH/rtsp2go/internal/metrics"
)

// Config holds rate limiting configuration.
type Config struct {
	// Enabled turns the limiter into a pass-through when false.
	Enabled bool

	// GlobalRate and GlobalBurst bound the whole API surface.
	GlobalRate  rate.Limit
	GlobalBurst int

	// PerIPRate and PerIPBurst bound each client.
	PerIPRate  rate.Limit
	PerIPBurst int

	// CleanupInterval controls how often stale per-IP buckets are dropped.
	CleanupInterval time.Duration
}

// DefaultConfig returns limits sized for a single-stream control plane.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		GlobalRate:      20,
		GlobalBurst:     40,
		PerIPRate:       10,
		PerIPBurst:      20,
		CleanupInterval: 5 * time.Minute,
	}
}

// Limiter enforces the configured limits. Safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	global *rate.Limiter
	perIP  map[string]*rate.Limiter

	lastCleanup time.Time
}

// New creates a limiter with the given config.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:         cfg,
		global:      rate.NewLimiter(cfg.GlobalRate, cfg.GlobalBurst),
		perIP:       make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}
}

// Allow reports whether a request from clientIP may proceed.
func (l *Limiter) Allow(clientIP string) bool {
	l.mu.Lock()
	enabled := l.cfg.Enabled
	global := l.global
	l.mu.Unlock()

	if !enabled {
		return true
	}

	if !global.Allow() {
		metrics.IncRateLimitRejection("global")
		return false
	}

	if !l.ipLimiter(clientIP).Allow() {
		metrics.IncRateLimitRejection("per_ip")
		return false
	}

	l.maybeCleanup()
	return true
}

// Update applies new limits on config reload. Existing per-IP buckets are
// dropped so the new rate takes effect immediately.
func (l *Limiter) Update(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
	l.global = rate.NewLimiter(cfg.GlobalRate, cfg.GlobalBurst)
	l.perIP = make(map[string]*rate.Limiter)
}

func (l *Limiter) ipLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.perIP[ip]
	if !ok {
		limiter = rate.NewLimiter(l.cfg.PerIPRate, l.cfg.PerIPBurst)
		l.perIP[ip] = limiter
	}
	return limiter
}

// maybeCleanup drops all per-IP buckets once the interval has passed. Losing
// a bucket only grants a client one fresh burst.
func (l *Limiter) maybeCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastCleanup) < l.cfg.CleanupInterval {
		return
	}
	l.perIP = make(map[string]*rate.Limiter)
	l.lastCleanup = time.Now()
}

// GetClientIP extracts the originating client IP from the request, honouring
// X-Forwarded-For and X-Real-IP set by reverse proxies.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// The first entry is the original client.
		first := xff
		if idx := strings.Index(xff, ","); idx >= 0 {
			first = xff[:idx]
		}
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
