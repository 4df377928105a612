package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ent0n29/personatwin/internal/chat"
)

func TestNewWithoutURLIsInMemory(t *testing.T) {
	c, err := New(context.Background(), "  ")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := c.(*Memory); !ok {
		t.Fatalf("New() = %T, want *Memory", c)
	}
}

func TestNewRejectsBadRedisURL(t *testing.T) {
	if _, err := New(context.Background(), "://nope"); err == nil {
		t.Fatalf("New() error = nil, want parse error")
	}
}

func TestMemorySessionLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	if _, err := m.GetSession(ctx, "s1"); !errors.Is(err, ErrMiss) {
		t.Fatalf("GetSession() error = %v, want %v", err, ErrMiss)
	}
	if err := m.SetSession(ctx, Session{SessionID: "s1", ClientID: "c1"}); err != nil {
		t.Fatalf("SetSession() error = %v", err)
	}

	now = now.Add(30 * time.Minute)
	if err := m.TouchSession(ctx, "s1"); err != nil {
		t.Fatalf("TouchSession() error = %v", err)
	}
	now = now.Add(45 * time.Minute)
	got, err := m.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession() after touch error = %v", err)
	}
	if got.ClientID != "c1" || !got.LastActivity.Equal(now.Add(-45*time.Minute)) {
		t.Fatalf("session = %+v", got)
	}

	now = now.Add(SessionTTL)
	if _, err := m.GetSession(ctx, "s1"); !errors.Is(err, ErrMiss) {
		t.Fatalf("GetSession() after ttl error = %v, want %v", err, ErrMiss)
	}
	if err := m.TouchSession(ctx, "s1"); !errors.Is(err, ErrMiss) {
		t.Fatalf("TouchSession() on expired error = %v, want %v", err, ErrMiss)
	}
}

func TestMemoryDeleteSession(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.SetSession(ctx, Session{SessionID: "s"})
	if err := m.DeleteSession(ctx, "s"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, err := m.GetSession(ctx, "s"); !errors.Is(err, ErrMiss) {
		t.Fatalf("GetSession() error = %v, want %v", err, ErrMiss)
	}
}

func TestMemoryConversationAppend(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	msg := chat.Message{ID: "m1", Kind: chat.KindUser, Content: "hi", Done: true}
	if err := m.AppendConversationMessage(ctx, "c1", msg); !errors.Is(err, ErrMiss) {
		t.Fatalf("AppendConversationMessage() uncached error = %v, want %v", err, ErrMiss)
	}
	if err := m.SetConversation(ctx, Conversation{ConversationID: "c1", Title: "New Conversation"}); err != nil {
		t.Fatalf("SetConversation() error = %v", err)
	}
	for _, id := range []string{"m1", "m2"} {
		msg.ID = id
		if err := m.AppendConversationMessage(ctx, "c1", msg); err != nil {
			t.Fatalf("AppendConversationMessage() error = %v", err)
		}
	}
	got, err := m.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if got.Title != "New Conversation" || len(got.Messages) != 2 || got.Messages[1].ID != "m2" {
		t.Fatalf("conversation = %+v", got)
	}
}
