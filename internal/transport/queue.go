package transport

import "sync"

// EventQueue is an unbounded FIFO of events. Push never blocks, so
// transport callbacks can report events while the consumer is itself
// busy sending on the same connection.
type EventQueue struct {
	in   chan Event
	out  chan Event
	done chan struct{}
	once sync.Once
}

func NewEventQueue() *EventQueue {
	q := &EventQueue{
		in:   make(chan Event),
		out:  make(chan Event),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// Push appends ev. Events pushed after Close are dropped.
func (q *EventQueue) Push(ev Event) {
	select {
	case q.in <- ev:
	case <-q.done:
	}
}

// Out yields events in push order and is closed once the queue is closed
// and drained.
func (q *EventQueue) Out() <-chan Event {
	return q.out
}

// Close stops accepting events. Already queued events are still delivered.
func (q *EventQueue) Close() {
	q.once.Do(func() { close(q.done) })
}

func (q *EventQueue) run() {
	var pending []Event
	for {
		var out chan Event
		var next Event
		if len(pending) > 0 {
			out = q.out
			next = pending[0]
		}

		select {
		case ev := <-q.in:
			pending = append(pending, ev)
		case out <- next:
			pending = pending[1:]
		case <-q.done:
			for _, ev := range pending {
				q.out <- ev
			}
			close(q.out)
			return
		}
	}
}
