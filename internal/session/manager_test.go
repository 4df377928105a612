package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClient struct {
	id           string
	mu           sync.Mutex
	disconnected int
	closed       int
}

func (f *fakeClient) ID() string { return f.id }

func (f *fakeClient) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected++
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeClient) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected, f.closed
}

func TestManagerRegisterGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	c := &fakeClient{id: "c1"}
	s := m.Register(c, "u1")
	if s.ID != "c1" || s.Status != StatusActive {
		t.Fatalf("Register() = %+v", s)
	}

	got, err := m.Get("c1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u1" {
		t.Fatalf("unexpected session state: %+v", got)
	}
	if client, err := m.Client("c1"); err != nil || client != c {
		t.Fatalf("Client() = %v, %v", client, err)
	}

	ended, err := m.End("c1")
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if d, cl := c.counts(); d != 1 || cl != 1 {
		t.Fatalf("disconnect/close = %d/%d, want 1/1", d, cl)
	}
	if _, err := m.Get("c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after End error = %v, want %v", err, ErrNotFound)
	}
	if _, err := m.End("c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("End() twice error = %v, want %v", err, ErrNotFound)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	idle := &fakeClient{id: "idle"}
	m.Register(idle, "")

	expired := make(chan Session, 1)
	m.SetExpireHook(func(s Session) { expired <- s })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case s := <-expired:
		if s.ID != "idle" || s.Status != StatusEnded {
			t.Fatalf("expired = %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("session never expired")
	}
	if _, err := m.Get("idle"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want %v", err, ErrNotFound)
	}
	if d, _ := idle.counts(); d != 1 {
		t.Fatalf("disconnects = %d, want 1", d)
	}
}

func TestManagerTouchKeepsSessionAlive(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	m := NewManager(time.Minute)
	m.now = func() time.Time { return now }
	m.Register(&fakeClient{id: "c"}, "")

	now = now.Add(50 * time.Second)
	if err := m.Touch("c"); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	now = now.Add(50 * time.Second)
	m.expireInactive()
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", m.ActiveCount())
	}
	now = now.Add(time.Minute)
	m.expireInactive()
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}
