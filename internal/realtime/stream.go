package realtime

import (
	"context"
	"iter"
	"sync"
)

// Stream is an unbounded, single-consumer queue fed by the transport. Push
// never blocks so the read loop cannot stall on a slow consumer; Next blocks
// until a value arrives, the stream is closed and drained, or ctx ends.
type Stream[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	notify chan struct{}
}

func NewStream[T any]() *Stream[T] {
	return &Stream[T]{notify: make(chan struct{}, 1)}
}

// Push appends v. It reports false if the stream was already closed.
func (s *Stream[T]) Push(v T) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.items = append(s.items, v)
	s.mu.Unlock()
	s.wake()
	return true
}

// Close marks the end of the stream. Buffered values remain readable.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

func (s *Stream[T]) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next returns the next value. ok is false once the stream is closed and
// drained, or when ctx ends first.
func (s *Stream[T]) Next(ctx context.Context) (v T, ok bool) {
	for {
		s.mu.Lock()
		if len(s.items) > 0 {
			v = s.items[0]
			var zero T
			s.items[0] = zero
			s.items = s.items[1:]
			s.mu.Unlock()
			return v, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return v, false
		}
		select {
		case <-ctx.Done():
			return v, false
		case <-s.notify:
		}
	}
}

// All ranges over the remaining values until the stream ends or ctx is done.
func (s *Stream[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, ok := s.Next(ctx)
			if !ok || !yield(v) {
				return
			}
		}
	}
}

// StreamOf returns a closed stream holding vs.
func StreamOf[T any](vs ...T) *Stream[T] {
	s := NewStream[T]()
	for _, v := range vs {
		s.Push(v)
	}
	s.Close()
	return s
}

// signal is a one-shot completion latch.
type signal struct {
	once sync.Once
	ch   chan struct{}
}

func newSignal() *signal { return &signal{ch: make(chan struct{})} }

func (s *signal) fire() bool {
	fired := false
	s.once.Do(func() {
		close(s.ch)
		fired = true
	})
	return fired
}

func (s *signal) wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
