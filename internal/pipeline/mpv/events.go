// SPDX-License-Identifier: MIT

package mpv

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/ManuGH/rtsp2go/internal/log"
	"github.com/ManuGH/rtsp2go/internal/pipeline"
)

// observedProperties are registered with mpv so property changes arrive as
// asynchronous events on the persistent connection.
var observedProperties = []struct {
	id   int
	name string
}{
	{1, "pause"},
	{2, "paused-for-cache"},
	{3, "cache-buffering-state"},
}

// rawEvent is one newline-delimited JSON event from mpv.
type rawEvent struct {
	Event     string      `json:"event"`
	Name      string      `json:"name"`
	Data      interface{} `json:"data"`
	Reason    string      `json:"reason"`
	FileError string      `json:"file_error"`
}

// eventListener owns the persistent IPC connection that receives mpv events
// for one process instance and translates them into raw pipeline
// notifications.
type eventListener struct {
	handle     *Handle
	socketPath string
	exited     <-chan struct{}

	mu     sync.Mutex
	conn   net.Conn
	stopCh chan struct{}

	// lastPaused tracks the pause property so toggles map onto
	// old-state/new-state pairs.
	lastPaused bool
}

func newEventListener(h *Handle, socketPath string, exited <-chan struct{}) *eventListener {
	return &eventListener{
		handle:     h,
		socketPath: socketPath,
		exited:     exited,
		stopCh:     make(chan struct{}),
	}
}

// start registers the property observers and launches the read loop.
func (el *eventListener) start() error {
	for _, prop := range observedProperties {
		if _, err := doSendCommand(el.socketPath, []interface{}{"observe_property", prop.id, prop.name}); err != nil {
			return fmt.Errorf("observe %s: %w", prop.name, err)
		}
	}

	conn, err := net.Dial("unix", el.socketPath)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	el.mu.Lock()
	el.conn = conn
	el.mu.Unlock()

	go el.readLoop()
	return nil
}

// stop tears the listener down without reporting the resulting read error as
// a stream failure.
func (el *eventListener) stop() {
	el.mu.Lock()
	defer el.mu.Unlock()
	select {
	case <-el.stopCh:
	default:
		close(el.stopCh)
	}
	if el.conn != nil {
		_ = el.conn.Close()
	}
}

// readLoop consumes newline-delimited JSON events until the connection dies.
// stop closes the connection to break the blocking read; any other death of
// the connection means the mpv process is gone and surfaces as a stream
// error so the session's reconnect policy can take over.
func (el *eventListener) readLoop() {
	logger := log.WithComponent("mpv")

	el.mu.Lock()
	conn := el.conn
	el.mu.Unlock()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 256*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		el.processLine(line)
	}

	select {
	case <-el.stopCh:
		return
	default:
	}
	if el.handle.processExited(el.exited) {
		logger.Warn().Str(log.FieldEvent, "mpv.exited").
			Msg("mpv process exited unexpectedly")
		el.handle.emit(pipeline.Notification{
			Kind:    pipeline.NoteError,
			Message: "mpv exited unexpectedly",
		})
	}
}

// processLine parses one event line and forwards the translation.
func (el *eventListener) processLine(line string) {
	var ev rawEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return
	}
	if ev.Event == "" {
		// Command replies can leak onto this connection; ignore them.
		return
	}
	for _, n := range el.translate(ev) {
		el.handle.emit(n)
	}
}

// translate maps one mpv event onto zero or more raw pipeline notifications.
func (el *eventListener) translate(ev rawEvent) []pipeline.Notification {
	switch ev.Event {
	case "file-loaded":
		el.mu.Lock()
		el.lastPaused = false
		el.mu.Unlock()
		out := []pipeline.Notification{{Kind: pipeline.NoteStreamStart}}
		if v := el.handle.queryVideoInfo(); v != nil {
			out = append(out, pipeline.Notification{Kind: pipeline.NoteVideoInfo, Video: v})
		}
		out = append(out, pipeline.Notification{
			Kind:     pipeline.NoteStateChanged,
			OldState: pipeline.StateReady,
			NewState: pipeline.StatePlaying,
		})
		return out

	case "end-file":
		switch ev.Reason {
		case "eof":
			return []pipeline.Notification{{Kind: pipeline.NoteEndOfStream}}
		case "error":
			msg := ev.FileError
			if msg == "" {
				msg = "playback failed"
			}
			return []pipeline.Notification{{
				Kind:    pipeline.NoteError,
				Message: msg,
				Debug:   fmt.Sprintf("end-file reason=%s", ev.Reason),
			}}
		default:
			// quit / stop / redirect are orderly or handled elsewhere
			return nil
		}

	case "property-change":
		return el.translateProperty(ev)
	}
	return nil
}

func (el *eventListener) translateProperty(ev rawEvent) []pipeline.Notification {
	switch ev.Name {
	case "pause":
		paused, ok := ev.Data.(bool)
		if !ok {
			return nil
		}
		el.mu.Lock()
		changed := paused != el.lastPaused
		el.lastPaused = paused
		el.mu.Unlock()
		if !changed {
			return nil
		}
		if paused {
			return []pipeline.Notification{{
				Kind:     pipeline.NoteStateChanged,
				OldState: pipeline.StatePlaying,
				NewState: pipeline.StatePaused,
			}}
		}
		return []pipeline.Notification{{
			Kind:     pipeline.NoteStateChanged,
			OldState: pipeline.StatePaused,
			NewState: pipeline.StatePlaying,
		}}

	case "cache-buffering-state":
		percent, ok := ev.Data.(float64)
		if !ok {
			return nil
		}
		p := int(percent)
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		return []pipeline.Notification{{Kind: pipeline.NoteBuffering, Percent: p}}

	case "paused-for-cache":
		// The buffering percent stream covers this; an explicit "stalled on
		// cache" with no percent yet maps to an empty buffer.
		stalled, ok := ev.Data.(bool)
		if !ok || !stalled {
			return nil
		}
		return []pipeline.Notification{{Kind: pipeline.NoteBuffering, Percent: 0}}
	}
	return nil
}

// queryVideoInfo reads the negotiated stream parameters. Nil when mpv does
// not know them yet; the next renegotiation delivers them again.
func (h *Handle) queryVideoInfo() *pipeline.VideoInfo {
	width, wok, _ := h.getFloatProperty("width")
	height, hok, _ := h.getFloatProperty("height")
	if !wok || !hok {
		return nil
	}
	fps, _, _ := h.getFloatProperty("container-fps")
	codec := h.getStringProperty("video-format")
	return &pipeline.VideoInfo{
		Width:     int(width),
		Height:    int(height),
		Framerate: fps,
		Codec:     codec,
	}
}

