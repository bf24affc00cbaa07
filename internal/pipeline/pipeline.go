// SPDX-License-Identifier: MIT

// Package pipeline defines the contract between the playback session and the
// underlying media engine. The engine is opaque: the session drives it through
// coarse state transitions and consumes its notification stream.
package pipeline

import (
	"errors"
	"time"
)

// State is the coarse engine state the session can request or observe.
type State string

const (
	StateNull    State = "null"
	StateReady   State = "ready"
	StatePaused  State = "paused"
	StatePlaying State = "playing"
)

// NotificationKind discriminates raw engine notifications.
type NotificationKind string

const (
	NoteEndOfStream  NotificationKind = "end_of_stream"
	NoteError        NotificationKind = "error"
	NoteStreamStart  NotificationKind = "stream_start"
	NoteBuffering    NotificationKind = "buffering"
	NoteStateChanged NotificationKind = "state_changed"
	NoteVideoInfo    NotificationKind = "video_info"
)

// VideoInfo describes the negotiated video stream.
type VideoInfo struct {
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Framerate float64 `json:"framerate"`
	Codec     string  `json:"codec"`
}

// Notification is one raw engine event. Only the fields matching Kind are set.
type Notification struct {
	Kind    NotificationKind
	Message string // NoteError: human-readable error
	Debug   string // NoteError: engine-specific detail
	Percent int    // NoteBuffering: 0..100

	OldState State // NoteStateChanged
	NewState State // NoteStateChanged

	Video *VideoInfo // NoteVideoInfo
}

// ErrClosed is returned by operations on a closed pipeline.
var ErrClosed = errors.New("pipeline is closed")

// Handle is the narrow surface the session owns for its entire lifetime.
// A Handle is not required to be safe for concurrent SetState calls from
// multiple goroutines; the session serialises control operations.
// Position and Duration must be safe to call concurrently with control calls.
type Handle interface {
	// SetState requests a coarse state transition. Requesting the current
	// state must succeed (idempotent no-op).
	SetState(s State) error

	// Seek jumps to an absolute position with a flushing key-unit seek.
	Seek(pos time.Duration) error

	// Position reports the current playback position, if known.
	Position() (time.Duration, bool)

	// Duration reports the total stream duration, if known.
	// Live streams without a fixed end report false.
	Duration() (time.Duration, bool)

	// Notifications returns the raw engine event stream. The channel is
	// closed when the pipeline shuts down for good.
	Notifications() <-chan Notification

	// Close releases the engine. SetState and Seek fail afterwards.
	Close() error
}
