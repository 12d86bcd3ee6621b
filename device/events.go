// Package device runs the device side of a pinion link: the session
// loop that applies controller messages to the hardware, and the
// per-transport listeners that feed it one connection at a time.
package device

import (
	"pinion/protocol"
)

// DefaultEventQueueCap bounds the boot-time input event queue.
const DefaultEventQueueCap = 64

// EventQueue carries input level events from edge callbacks into the
// session loop. It lives for the whole process: transports come and
// go, the queue does not. Enqueue never blocks; when the queue is full
// the event is dropped.
type EventQueue struct {
	ch chan protocol.IOLevelChanged
}

// NewEventQueue returns a queue holding at most capacity events.
func NewEventQueue(capacity int) *EventQueue {
	if capacity <= 0 {
		capacity = DefaultEventQueueCap
	}
	return &EventQueue{ch: make(chan protocol.IOLevelChanged, capacity)}
}

// Enqueue adds an event without blocking. It reports whether the event
// was accepted.
func (q *EventQueue) Enqueue(ev protocol.IOLevelChanged) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		return false
	}
}

// Clear drops any events queued before the current connection, so a
// new controller never sees edges from before it connected.
func (q *EventQueue) Clear() {
	for {
		select {
		case <-q.ch:
		default:
			return
		}
	}
}

// C is the receive side the session loop selects on.
func (q *EventQueue) C() <-chan protocol.IOLevelChanged {
	return q.ch
}
