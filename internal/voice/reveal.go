package voice

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultRevealInterval = time.Second / 22
	DefaultRevealIdle     = 50 * time.Millisecond
)

// revealBuffer is the text shared by the transcript and reveal tasks.
type revealBuffer struct {
	mu        sync.Mutex
	pending   []rune
	receiving bool
}

func newRevealBuffer() *revealBuffer {
	return &revealBuffer{receiving: true}
}

func (b *revealBuffer) push(s string) {
	b.mu.Lock()
	b.pending = append(b.pending, []rune(s)...)
	b.mu.Unlock()
}

// finish marks the transcript as fully received.
func (b *revealBuffer) finish() {
	b.mu.Lock()
	b.receiving = false
	b.mu.Unlock()
}

// next pops one character. more is false once nothing is pending and the
// transcript is finished.
func (b *revealBuffer) next() (r rune, ok, more bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) > 0 {
		r = b.pending[0]
		b.pending = b.pending[1:]
		return r, true, true
	}
	return 0, false, b.receiving
}

func (b *revealBuffer) drain() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := string(b.pending)
	b.pending = nil
	return s
}

// revealer paces buffered text at one character per interval, independent of
// how bursty the network delivery is.
type revealer struct {
	interval time.Duration
	idle     time.Duration
}

// run emits characters until the buffer is finished and empty. When ctx ends
// it emits whatever is still pending at once and returns.
func (rv revealer) run(ctx context.Context, buf *revealBuffer, emit func(string)) {
	for {
		r, ok, more := buf.next()
		if !more {
			return
		}
		wait := rv.idle
		if ok {
			emit(string(r))
			wait = rv.interval
		}
		if !pause(ctx, wait) {
			if rest := buf.drain(); rest != "" {
				emit(rest)
			}
			return
		}
	}
}

func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
