package engine

import (
	"context"
	"sync"

	"github.com/c3founder/roampdf/internal/channel"
	"github.com/c3founder/roampdf/internal/protocol"
)

// EventKind distinguishes queued event kinds.
type EventKind int

const (
	// KindMessage is an inbound protocol message from a surface.
	KindMessage EventKind = iota + 1
	// KindAttach registers a new surface and pushes its initial load.
	KindAttach
	// KindDetach removes a surface whose channel is gone.
	KindDetach
	// KindFocus marks a surface as the active one.
	KindFocus
	// KindTask runs a scheduled closure on the loop. The deletion
	// watcher and the activation scheduler use it so their store
	// mutations stay inside the single writer.
	KindTask
)

// Event wraps one unit of work for the engine loop.
type Event struct {
	Kind     EventKind
	Instance string
	Message  protocol.Inbound
	Surface  Surface
	Sender   channel.Sender
	Task     func(ctx context.Context)
}

// eventQueue is a thread-safe unbounded FIFO queue. Unbounded so grace
// period callbacks can always enqueue without blocking a timer
// goroutine; in practice the loop drains far faster than hosts produce.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered size 1; coalesces wakeups
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event. Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.events = append(q.events, e)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]
	q.events = q.events[1:]
	return e, true
}

// Wait returns the wakeup channel for use in a select with ctx.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Close rejects further enqueues and wakes the loop so it can drain.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Len returns the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether the queue no longer accepts events.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
