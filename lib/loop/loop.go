// Package loop implements the page-side execution context: a FIFO queue of tasks drained by a single goroutine.
//
// Tasks never run in parallel with each other. Posting never blocks, so a running task may post further tasks
// (deferred "next tick" work) without deadlocking the loop.
package loop

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrStopped is returned when posting to a loop that has been stopped.
var ErrStopped = errors.New("loop stopped")

// Loop is an unbounded FIFO task queue run by Run.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
	log     zerolog.Logger
}

// New returns a loop ready to accept tasks. Tasks posted before Run starts are kept in order.
func New(log zerolog.Logger) *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		log:  log,
	}
}

// Post enqueues f to run after every task already queued.
func (l *Loop) Post(f func()) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()

		return ErrStopped
	}
	l.queue = append(l.queue, f)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}

	return nil
}

// Run drains the queue until ctx is done or Stop is called. Tasks still queued at that point are discarded.
func (l *Loop) Run(ctx context.Context) error {
	for {
		for {
			tasks := l.take()
			if tasks == nil {
				break
			}
			for _, f := range tasks {
				l.run(f)
			}
		}

		if l.isStopped() {
			return ErrStopped
		}

		select {
		case <-ctx.Done():
			l.Stop()

			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Stop makes Run return and rejects further posts.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.queue = nil
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of queued tasks.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.queue)
}

func (l *Loop) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped || len(l.queue) == 0 {
		return nil
	}
	tasks := l.queue
	l.queue = nil

	return tasks
}

func (l *Loop) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.stopped
}

// run executes one task; a panicking task is logged and the loop keeps going.
func (l *Loop) run(f func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Msg("loop task panicked")
		}
	}()
	f()
}
