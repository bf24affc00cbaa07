// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
)

// Graph event names. Intent events come from callers; the rest are fired
// while applying drained pipeline events.
const (
	evPlay            = "play"
	evPause           = "pause"
	evResume          = "resume"
	evStop            = "stop"
	evStreamReady     = "stream_ready"
	evPipelinePlaying = "pipeline_playing"
	evBuffering       = "buffering"
	evBufferingDone   = "buffering_done"
	evReconnect       = "reconnect"
	evEOS             = "eos"
	evFail            = "fail"
)

// stateGraph wraps the legal-transition table. It is not safe for concurrent
// use on its own; the session serialises access through its lock.
type stateGraph struct {
	m *fsm.FSM
}

func newStateGraph() *stateGraph {
	var (
		uninit  = string(StateUninitialized)
		ready   = string(StateReady)
		playing = string(StatePlaying)
		paused  = string(StatePaused)
		buff    = string(StateBuffering)
		reconn  = string(StateReconnecting)
		stopped = string(StateStopped)
		failed  = string(StateFailed)
	)

	return &stateGraph{m: fsm.NewFSM(
		uninit,
		fsm.Events{
			// Failed is entered only through fail and left only through
			// stop, so play is legal from every state but failed.
			{Name: evPlay, Src: []string{uninit, ready, playing, paused, buff, reconn, stopped}, Dst: playing},
			// Pause accepts reconnecting so a user can park the session
			// during a reconnect storm; the abandoned retry sees the
			// cleared intent flag and backs off.
			{Name: evPause, Src: []string{playing, buff, reconn, paused}, Dst: paused},
			{Name: evResume, Src: []string{paused, buff, playing}, Dst: playing},
			{Name: evStop, Src: []string{uninit, ready, playing, paused, buff, reconn, stopped, failed}, Dst: stopped},

			// Pipeline-driven transitions. Stopped and failed are resting
			// states: late pipeline events cannot pull the session out of
			// them (stop and fail below are the exceptions).
			{Name: evStreamReady, Src: []string{uninit, ready}, Dst: ready},
			{Name: evPipelinePlaying, Src: []string{uninit, ready, playing, paused, buff, reconn}, Dst: playing},
			{Name: evBuffering, Src: []string{playing, buff}, Dst: buff},
			{Name: evBufferingDone, Src: []string{buff, playing}, Dst: playing},
			{Name: evReconnect, Src: []string{playing, buff, reconn}, Dst: reconn},
			{Name: evEOS, Src: []string{ready, playing, paused, buff, reconn}, Dst: stopped},
			// Stopped is excluded: stop forces the session to stay stopped
			// even when a stale error drains afterwards.
			{Name: evFail, Src: []string{uninit, ready, playing, paused, buff, reconn}, Dst: failed},
		},
		fsm.Callbacks{},
	)}
}

// fire attempts a transition. Re-entering the current state is a tolerated
// no-op; transitions the table forbids return ErrInvalidTransition.
func (g *stateGraph) fire(event string) error {
	err := g.m.Event(context.Background(), event)
	if err == nil {
		return nil
	}
	var noop fsm.NoTransitionError
	if errors.As(err, &noop) {
		return nil
	}
	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		return fmt.Errorf("%w: %s while %s", ErrInvalidTransition, event, g.m.Current())
	}
	return err
}

// can reports whether the event is legal in the current state.
func (g *stateGraph) can(event string) bool {
	return g.m.Can(event)
}

// state returns the current state name.
func (g *stateGraph) state() State {
	return State(g.m.Current())
}
