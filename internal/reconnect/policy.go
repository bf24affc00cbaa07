// SPDX-License-Identifier: MIT

// Package reconnect implements the bounded retry policy applied after stream
// errors during active playback: a fixed number of attempts with a fixed
// backoff between them.
package reconnect

import (
	"sync"
	"time"

	"github.com/ManuGH/rtsp2go/internal/metrics"
)

// Decision is the policy's answer to one observed failure.
type Decision struct {
	// Attempt is the 1-based number of this attempt.
	Attempt int
	// Retry reports whether a retry should be issued.
	Retry bool
	// GiveUp is true exactly once per failure run: on the failure that
	// exhausts the attempt budget. Later failures in the same run report
	// neither Retry nor GiveUp.
	GiveUp bool
	// Backoff is the delay to wait before reissuing play. Zero when
	// Retry is false.
	Backoff time.Duration
}

// Policy tracks consecutive failures since the last confirmed recovery.
// The counter is deliberately not reset when a retry is issued: only an
// observed transition back to playing (or an explicit stop) clears it,
// which keeps "we tried" separate from "we recovered".
type Policy struct {
	mu          sync.Mutex
	attempts    int
	exhausted   bool
	maxAttempts int
	backoff     time.Duration
}

// Option configuration pattern
type Option func(*Policy)

// WithBackoff overrides the fixed delay between attempts.
func WithBackoff(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.backoff = d
		}
	}
}

// New creates a policy with the given attempt budget.
func New(maxAttempts int, opts ...Option) *Policy {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	p := &Policy{
		maxAttempts: maxAttempts,
		backoff:     2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fail records one observed failure and decides whether to retry. The
// attempt counter stops at maxAttempts+1: failures that race in after
// exhaustion neither retry nor re-report the give-up.
func (p *Policy) Fail() Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exhausted {
		return Decision{Attempt: p.attempts}
	}

	p.attempts++
	if p.attempts > p.maxAttempts {
		p.exhausted = true
		metrics.IncReconnectExhausted()
		return Decision{Attempt: p.attempts, GiveUp: true}
	}
	metrics.IncReconnectAttempt()
	return Decision{Attempt: p.attempts, Retry: true, Backoff: p.backoff}
}

// Reset clears the failure counter and the exhaustion latch. Called when
// the session observes the pipeline reach playing again, and on explicit
// stop.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts = 0
	p.exhausted = false
}

// Attempts returns the current consecutive-failure count.
func (p *Policy) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// MaxAttempts returns the configured attempt budget.
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// Backoff returns the configured delay between attempts.
func (p *Policy) Backoff() time.Duration {
	return p.backoff
}
