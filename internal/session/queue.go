// SPDX-License-Identifier: MIT

package session

import (
	"sync"

	"github.com/ManuGH/rtsp2go/internal/metrics"
)

// eventQueue is an unbounded FIFO between the bridge goroutine and
// DrainEvents. Push never blocks; Drain swaps the backlog out under the lock
// so consumers see a stable batch.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
}

func newEventQueue() *eventQueue {
	return &eventQueue{events: make([]Event, 0, 16)}
}

// Push appends an event. Consecutive Buffering events with the same percent
// collapse into one; distinct percents are all kept so a 40 followed by a 100
// still drives a pause and a resume. Critical events are always appended.
func (q *eventQueue) Push(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !ev.critical() && ev.Type == EventBuffering && len(q.events) > 0 {
		last := q.events[len(q.events)-1]
		if last.Type == EventBuffering && last.Percent == ev.Percent {
			metrics.IncEventCoalesced(string(ev.Type))
			return
		}
	}

	q.events = append(q.events, ev)
	metrics.IncEventEnqueued(string(ev.Type))
	metrics.SetQueueDepth(len(q.events))
}

// Drain returns every queued event in arrival order and empties the queue.
// It never blocks on producers; an empty queue yields a nil slice.
func (q *eventQueue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil
	}
	batch := q.events
	q.events = make([]Event, 0, 16)
	metrics.SetQueueDepth(0)
	for _, ev := range batch {
		metrics.IncEventDrained(string(ev.Type))
	}
	return batch
}

// Len reports the current backlog size.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
