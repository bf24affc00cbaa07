// SPDX-License-Identifier: MIT

package pipeline

import (
	"sync"
	"time"
)

// StateCall records one SetState invocation with its wall-clock time, so
// tests can assert both the order and the spacing of transitions.
type StateCall struct {
	State State
	At    time.Time
}

// Fake is an in-memory Handle for tests. It records every control call,
// lets tests script rejections, and lets tests inject raw notifications
// as if the engine had emitted them.
type Fake struct {
	mu      sync.Mutex
	state   State
	pos     time.Duration
	posOK   bool
	dur     time.Duration
	durOK   bool
	calls   []StateCall
	seeks   []time.Duration
	failSet map[State]error
	seekErr error
	closed  bool

	notifCh chan Notification
}

var _ Handle = (*Fake)(nil)

// NewFake returns a Fake in the null state with an unknown position.
func NewFake() *Fake {
	return &Fake{
		state:   StateNull,
		failSet: make(map[State]error),
		notifCh: make(chan Notification, 64),
	}
}

func (f *Fake) SetState(s State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if err := f.failSet[s]; err != nil {
		return err
	}
	f.state = s
	f.calls = append(f.calls, StateCall{State: s, At: time.Now()})
	return nil
}

func (f *Fake) Seek(pos time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if f.seekErr != nil {
		return f.seekErr
	}
	f.seeks = append(f.seeks, pos)
	f.pos = pos
	return nil
}

func (f *Fake) Position() (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos, f.posOK
}

func (f *Fake) Duration() (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dur, f.durOK
}

func (f *Fake) Notifications() <-chan Notification {
	return f.notifCh
}

// Close shuts the notification stream down. Safe to call twice.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.notifCh)
	return nil
}

// Emit injects a raw notification as the engine would.
func (f *Fake) Emit(n Notification) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return
	}
	f.notifCh <- n
}

// SetPosition scripts the position query result.
func (f *Fake) SetPosition(pos time.Duration, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos, f.posOK = pos, ok
}

// SetDuration scripts the duration query result.
func (f *Fake) SetDuration(dur time.Duration, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dur, f.durOK = dur, ok
}

// FailSetState makes every SetState(s) return err until cleared with nil.
func (f *Fake) FailSetState(s State, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failSet, s)
		return
	}
	f.failSet[s] = err
}

// FailSeek makes Seek return err until cleared with nil.
func (f *Fake) FailSeek(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seekErr = err
}

// StateCalls returns a copy of all recorded SetState calls.
func (f *Fake) StateCalls() []StateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]StateCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// States returns just the ordered states of all recorded SetState calls.
func (f *Fake) States() []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]State, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.State
	}
	return out
}

// Seeks returns a copy of all recorded seek targets.
func (f *Fake) Seeks() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.seeks))
	copy(out, f.seeks)
	return out
}

// Current returns the engine state as last set.
func (f *Fake) Current() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}
