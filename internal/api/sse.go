// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/rtsp2go/internal/log"
	"github.com/ManuGH/rtsp2go/internal/session"
)

const (
	// subscriberBuffer absorbs short consumer stalls. A subscriber that
	// stays behind longer than that is dropped, never blocks publishing.
	subscriberBuffer = 16

	heartbeatInterval = 15 * time.Second
)

// Broadcaster fans session snapshots out to SSE subscribers. Publishing
// never blocks: slow subscribers lose intermediate snapshots and always
// see the latest state on the next frame.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan session.Snapshot]struct{}
	last   *session.Snapshot
	closed bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan session.Snapshot]struct{})}
}

// Publish delivers a snapshot to every subscriber, dropping it for any
// subscriber whose buffer is full.
func (b *Broadcaster) Publish(snap session.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.last = &snap
	for ch := range b.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Subscribe registers a new subscriber and returns its channel, the last
// published snapshot (nil if none yet), and an unsubscribe func.
func (b *Broadcaster) Subscribe() (<-chan session.Snapshot, *session.Snapshot, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan session.Snapshot, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, b.last, func() {}
	}
	b.subs[ch] = struct{}{}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
	return ch, b.last, cancel
}

// Close terminates all subscriptions. Subsequent Publish calls are no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}

func (b *Broadcaster) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// handleEvents streams session snapshots as server-sent events. The client
// gets the current state immediately, then one event per state change, with
// comment heartbeats keeping intermediaries from timing out the connection.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeInternalError(w)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	logger := log.WithComponentFromContext(r.Context(), "api")

	ch, last, cancel := s.events.Subscribe()
	defer cancel()

	logger.Debug().Str(log.FieldEvent, "api.sse_subscribed").Msg("SSE subscriber connected")

	// First frame: the state as of right now, so clients never start blind.
	if last != nil {
		if err := writeSSE(w, *last); err != nil {
			return
		}
	} else {
		if err := writeSSE(w, s.controller.Snapshot()); err != nil {
			return
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug().Str(log.FieldEvent, "api.sse_disconnected").Msg("SSE subscriber disconnected")
			return
		case snap, open := <-ch:
			if !open {
				// Broadcaster closed: server is shutting down.
				return
			}
			if err := writeSSE(w, snap); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, snap session.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
	return err
}
