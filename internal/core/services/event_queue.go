package services

import "sync"

// eventQueue delivers events to a handler on a dedicated goroutine, in push
// order. push never blocks, so it is safe to call with a lock held.
type eventQueue[T any] struct {
	handler func(T)

	mu      sync.Mutex
	pending []T
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

func newEventQueue[T any](handler func(T)) *eventQueue[T] {
	q := &eventQueue[T]{
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *eventQueue[T]) push(ev T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, ev)
	q.mu.Unlock()
	q.notify()
}

// close stops accepting events. Events already queued are still delivered.
func (q *eventQueue[T]) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

func (q *eventQueue[T]) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue[T]) run() {
	defer close(q.done)
	for range q.wake {
		for {
			q.mu.Lock()
			if len(q.pending) == 0 {
				closed := q.closed
				q.mu.Unlock()
				if closed {
					return
				}
				break
			}
			ev := q.pending[0]
			q.pending[0] = *new(T)
			q.pending = q.pending[1:]
			q.mu.Unlock()

			if q.handler != nil {
				q.handler(ev)
			}
		}
	}
}
