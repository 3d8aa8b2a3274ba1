package loop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// TestOrder checks tasks run in posting order, including tasks posted from a running task.
func TestOrder(t *testing.T) {
	l := New(zerolog.Nop())

	var got []int
	done := make(chan struct{})

	_ = l.Post(func() {
		got = append(got, 1)
		_ = l.Post(func() {
			got = append(got, 3)
			close(done)
		})
	})
	_ = l.Post(func() { got = append(got, 2) })

	if l.Len() != 2 {
		t.Errorf("expected 2 queued tasks, got %d", l.Len())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = l.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tasks did not run")
	}

	exp := []int{1, 2, 3}
	for i := range exp {
		if got[i] != exp[i] {
			t.Fatalf("tasks ran in order %v expected %v", got, exp)
		}
	}
}

// TestPanic checks a panicking task does not stop the loop.
func TestPanic(t *testing.T) {
	l := New(zerolog.Nop())
	done := make(chan struct{})

	_ = l.Post(func() { panic("boom") })
	_ = l.Post(func() { close(done) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = l.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop stopped after a panicking task")
	}
}

// TestStop checks Run returns and posting fails once stopped.
func TestStop(t *testing.T) {
	l := New(zerolog.Nop())
	ret := make(chan error, 1)

	go func() { ret <- l.Run(context.Background()) }()

	l.Stop()

	select {
	case err := <-ret:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("Run returned %v expected %v", err, ErrStopped)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}

	if err := l.Post(func() {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Post returned %v expected %v", err, ErrStopped)
	}
}

// TestCancel checks Run returns the context error.
func TestCancel(t *testing.T) {
	l := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	ret := make(chan error, 1)

	go func() { ret <- l.Run(ctx) }()

	cancel()

	select {
	case err := <-ret:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v expected %v", err, context.Canceled)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
