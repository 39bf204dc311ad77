package filter

import "context"

// EventLoop runs posted callbacks one at a time on a single goroutine.
// Everything that touches a stream's filters goes through its loop.
type EventLoop struct {
	ch   chan func()
	done chan struct{}
}

// NewEventLoop creates an event loop with the given queue depth.
func NewEventLoop(queue int) *EventLoop {
	return &EventLoop{
		ch:   make(chan func(), queue),
		done: make(chan struct{}),
	}
}

// Post queues fn for execution. Callbacks posted after the loop stopped
// are dropped.
func (l *EventLoop) Post(fn func()) {
	select {
	case l.ch <- fn:
	case <-l.done:
	}
}

// Run executes callbacks until ctx is cancelled.
func (l *EventLoop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case fn := <-l.ch:
			fn()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Done is closed once the loop has stopped.
func (l *EventLoop) Done() <-chan struct{} { return l.done }
