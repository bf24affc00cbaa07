// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"time"
)

// DefaultPollInterval is the position sampling period.
const DefaultPollInterval = 500 * time.Millisecond

// Poller periodically samples pipeline position and duration while playback
// intent is on. It is strictly read-only: it never issues control calls.
type Poller struct {
	sess     *Session
	interval time.Duration
}

// NewPoller creates a poller for the session. Non-positive intervals fall
// back to the default.
func NewPoller(sess *Session, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{sess: sess, interval: interval}
}

// Run ticks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.tick()
		}
	}
}

// tick samples once. Skipped entirely while intent is off so a paused or
// stopped pipeline is left alone.
func (p *Poller) tick() {
	if !p.sess.IsPlaying() {
		return
	}
	pos, posOK := p.sess.pipe.Position()
	dur, durOK := p.sess.pipe.Duration()
	if !posOK && !durOK {
		return
	}
	p.sess.updatePosition(pos, posOK, dur, durOK)
}
