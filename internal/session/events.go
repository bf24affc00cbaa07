// SPDX-License-Identifier: MIT

package session

import (
	"fmt"

	"github.com/ManuGH/rtsp2go/internal/pipeline"
)

// EventType identifies a session event produced by the bridge.
type EventType string

const (
	EventEndOfStream      EventType = "end_of_stream"
	EventError            EventType = "error"
	EventStreamStarted    EventType = "stream_started"
	EventBuffering        EventType = "buffering"
	EventStateChanged     EventType = "state_changed"
	EventVideoInfo        EventType = "video_info"
	EventReconnectAttempt EventType = "reconnect_attempt"
	EventConnectionFailed EventType = "connection_failed"
)

// Event is one unit of work for DrainEvents. Only the fields relevant to the
// Type are populated.
type Event struct {
	Type EventType

	// Message and Debug describe an Error event. Recovering records the
	// bridge's decision at observation time: true when the error was
	// handed to the reconnect loop, so draining it must not fail the
	// session even if intent changed in between.
	Message    string
	Debug      string
	Recovering bool

	// Percent is the Buffering fill level (0..100).
	Percent int

	// OldState and NewState describe a StateChanged event in engine terms.
	OldState pipeline.State
	NewState pipeline.State

	// Video describes a VideoInfo event.
	Video *pipeline.VideoInfo

	// Attempt is the 1-based ReconnectAttempt counter.
	Attempt int
}

// String renders a compact form for logs.
func (e Event) String() string {
	switch e.Type {
	case EventError:
		return fmt.Sprintf("%s(%s)", e.Type, e.Message)
	case EventBuffering:
		return fmt.Sprintf("%s(%d%%)", e.Type, e.Percent)
	case EventStateChanged:
		return fmt.Sprintf("%s(%s->%s)", e.Type, e.OldState, e.NewState)
	case EventReconnectAttempt:
		return fmt.Sprintf("%s(%d)", e.Type, e.Attempt)
	default:
		return string(e.Type)
	}
}

// critical events must never be coalesced or dropped.
func (e Event) critical() bool {
	switch e.Type {
	case EventError, EventEndOfStream, EventConnectionFailed:
		return true
	}
	return false
}
