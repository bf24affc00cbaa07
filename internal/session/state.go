// SPDX-License-Identifier: MIT

package session

import (
	"time"

	"github.com/ManuGH/rtsp2go/internal/pipeline"
)

// State is the observer-visible lifecycle of a playback session.
// Buffering and Reconnecting are parameterised; the parameters live in the
// Snapshot next to the state name.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
	StatePlaying       State = "playing"
	StatePaused        State = "paused"
	StateBuffering     State = "buffering"
	StateReconnecting  State = "reconnecting"
	StateStopped       State = "stopped"
	StateFailed        State = "failed"
)

// IsTerminal returns true if the state only exits through an explicit stop.
func (s State) IsTerminal() bool {
	return s == StateFailed
}

// PositionInfo is the last polled playback position. Duration stays 0 until
// the engine reports it; position never exceeds a known duration.
type PositionInfo struct {
	PositionSeconds uint64 `json:"position_seconds"`
	DurationSeconds uint64 `json:"duration_seconds"`
}

// Fraction returns position/duration in [0,1], or 0 while the duration is
// unknown.
func (p PositionInfo) Fraction() float64 {
	if p.DurationSeconds == 0 {
		return 0
	}
	f := float64(p.PositionSeconds) / float64(p.DurationSeconds)
	if f > 1 {
		return 1
	}
	return f
}

// Snapshot is a consistent point-in-time copy of the observable session
// state. All fields are value copies; mutating a Snapshot has no effect on
// the session.
type Snapshot struct {
	ID    string `json:"id"`
	State State  `json:"state"`

	// BufferPercent carries the Buffering parameter (0..100).
	BufferPercent int `json:"buffer_percent,omitempty"`
	// ReconnectAttempt carries the Reconnecting parameter (1-based).
	ReconnectAttempt int `json:"reconnect_attempt,omitempty"`
	// FailureReason carries the Failed parameter.
	FailureReason string `json:"failure_reason,omitempty"`

	IsPlaying bool                `json:"is_playing"`
	Video     *pipeline.VideoInfo `json:"video,omitempty"`
	Position  PositionInfo        `json:"position"`
	UpdatedAt time.Time           `json:"updated_at"`
}
