package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/personatwin/internal/cache"
	"github.com/ent0n29/personatwin/internal/chat"
)

func TestInMemoryStoreConversations(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	first, err := s.CreateConversation(ctx, Conversation{SessionID: "client-a"})
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	if first.Title != DefaultConversationTitle || first.ID == "" {
		t.Fatalf("conversation = %+v", first)
	}
	time.Sleep(2 * time.Millisecond)
	second, _ := s.CreateConversation(ctx, Conversation{SessionID: "client-b", Title: "Other"})

	msg := MessageRecord{ID: "m1", ConversationID: first.ID, Role: "user", Content: "hi"}
	time.Sleep(2 * time.Millisecond)
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage() error = %v", err)
	}
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage() duplicate error = %v", err)
	}
	if err := s.SaveMessage(ctx, MessageRecord{ConversationID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SaveMessage() unknown conversation error = %v, want %v", err, ErrNotFound)
	}

	got, err := s.GetConversation(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "hi" {
		t.Fatalf("messages = %+v, want one", got.Messages)
	}

	all, _ := s.ListConversations(ctx, "", 10)
	if len(all) != 2 || all[0].ID != first.ID || all[1].ID != second.ID {
		t.Fatalf("ListConversations() = %+v, want most recently updated first", all)
	}
	onlyB, _ := s.ListConversations(ctx, "client-b", 10)
	if len(onlyB) != 1 || onlyB[0].ID != second.ID {
		t.Fatalf("ListConversations(client-b) = %+v", onlyB)
	}
	if _, err := s.GetConversation(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetConversation() error = %v, want %v", err, ErrNotFound)
	}
}

// flakyStore fails SaveMessage while failing is set.
type flakyStore struct {
	*InMemoryStore
	mu      sync.Mutex
	failing bool
	calls   int
}

func (f *flakyStore) SaveMessage(ctx context.Context, m MessageRecord) error {
	f.mu.Lock()
	f.calls++
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return errors.New("db unavailable")
	}
	return f.InMemoryStore.SaveMessage(ctx, m)
}

func (f *flakyStore) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func closeRecorder(t *testing.T, r *Recorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestRecorderPersistsConversationMessages(t *testing.T) {
	store := NewInMemoryStore()
	c := cache.NewMemory()
	r := NewRecorder(store, c, nil, RecorderOptions{Backoff: time.Millisecond})

	now := time.Now().UTC()
	r.MessageCompleted("client", chat.Message{ID: "u1", Kind: chat.KindUser, Content: "mail me at jane@example.com", Timestamp: now, Done: true})
	r.MessageCompleted("client", chat.Message{ID: "s1", Kind: chat.KindStatus, Content: "Searching knowledge base", Timestamp: now, Done: true})
	r.MessageCompleted("client", chat.Message{ID: "a1", Kind: chat.KindAssistant, Content: "Sure.", Timestamp: now, Done: true})
	closeRecorder(t, r)

	convID, ok := r.ConversationID("client")
	if !ok {
		t.Fatalf("no conversation created")
	}
	msgs, err := store.ListMessages(context.Background(), convID)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %+v, want user and assistant only", msgs)
	}
	if !msgs[0].PIIRedacted || strings.Contains(msgs[0].Content, "jane@example.com") {
		t.Fatalf("user message = %+v, want redacted", msgs[0])
	}

	cached, err := c.GetConversation(context.Background(), convID)
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if len(cached.Messages) != 2 || cached.Messages[1].ID != "a1" {
		t.Fatalf("cached messages = %+v", cached.Messages)
	}
}

func TestRecorderRetriesThenParksFailures(t *testing.T) {
	store := &flakyStore{InMemoryStore: NewInMemoryStore(), failing: true}
	r := NewRecorder(store, nil, nil, RecorderOptions{MaxRetries: 2, Backoff: time.Millisecond})

	r.Record("client", chat.Message{ID: "u1", Kind: chat.KindUser, Content: "hello", Done: true})
	closeRecorder(t, r)

	failed := r.FailedOperations()
	if len(failed) != 1 {
		t.Fatalf("failed = %+v, want one operation", failed)
	}
	// Two retried attempts plus one replay after the queue drained.
	if failed[0].Kind != OpSaveMessage || failed[0].Attempts != 3 || failed[0].Err == "" {
		t.Fatalf("failed op = %+v", failed[0])
	}
	if store.calls != 3 {
		t.Fatalf("SaveMessage calls = %d, want 3", store.calls)
	}

	store.setFailing(false)
	if got := r.RetryFailed(context.Background()); got != 1 {
		t.Fatalf("RetryFailed() = %d, want 1", got)
	}
	if len(r.FailedOperations()) != 0 {
		t.Fatalf("failed list not cleared")
	}
	convID, _ := r.ConversationID("client")
	msgs, _ := store.ListMessages(context.Background(), convID)
	if len(msgs) != 1 || msgs[0].ID != "u1" {
		t.Fatalf("messages after retry = %+v", msgs)
	}
}

func TestRecorderReplaysFailuresInBackground(t *testing.T) {
	store := &flakyStore{InMemoryStore: NewInMemoryStore(), failing: true}
	r := NewRecorder(store, nil, nil, RecorderOptions{
		MaxRetries:    1,
		Backoff:       time.Millisecond,
		RetryInterval: 10 * time.Millisecond,
	})
	defer closeRecorder(t, r)

	r.Record("client", chat.Message{ID: "u1", Kind: chat.KindUser, Content: "first", Done: true})
	r.Record("client", chat.Message{ID: "u2", Kind: chat.KindUser, Content: "second", Done: true})

	deadline := time.Now().Add(2 * time.Second)
	for r.FailedCount() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("FailedCount() = %d, want 2", r.FailedCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	store.setFailing(false)
	for r.FailedCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("failed operations never replayed: %+v", r.FailedOperations())
		}
		time.Sleep(5 * time.Millisecond)
	}

	convID, ok := r.ConversationID("client")
	if !ok {
		t.Fatalf("no conversation created")
	}
	msgs, err := store.ListMessages(context.Background(), convID)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "u1" || msgs[1].ID != "u2" {
		t.Fatalf("messages = %+v, want u1 then u2", msgs)
	}
	convs, err := store.ListConversations(context.Background(), "client", 0)
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("conversations = %d, want 1", len(convs))
	}
}

func TestRecorderSessionLifecycle(t *testing.T) {
	store := NewInMemoryStore()
	c := cache.NewMemory()
	r := NewRecorder(store, c, nil, RecorderOptions{Backoff: time.Millisecond})

	started := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	r.SessionStarted(SessionRecord{ID: "sess_1", ClientID: "client", Model: "m", StartedAt: started})

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := c.GetSession(context.Background(), "sess_1"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never cached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	r.SessionEnded("client", "sess_1")
	closeRecorder(t, r)

	rec, ok := store.Session("sess_1")
	if !ok {
		t.Fatalf("session not stored")
	}
	if rec.EndedAt == nil || !rec.StartedAt.Equal(started) || rec.ConversationID == "" {
		t.Fatalf("session record = %+v", rec)
	}
	if _, err := c.GetSession(context.Background(), "sess_1"); !errors.Is(err, cache.ErrMiss) {
		t.Fatalf("GetSession() after end error = %v, want %v", err, cache.ErrMiss)
	}
}

func TestRecorderDropsAfterClose(t *testing.T) {
	store := NewInMemoryStore()
	r := NewRecorder(store, nil, nil, RecorderOptions{})
	closeRecorder(t, r)
	r.Record("client", chat.Message{ID: "late", Kind: chat.KindUser, Content: "x"})
	if _, ok := r.ConversationID("client"); ok {
		t.Fatalf("conversation created after close")
	}
	closeRecorder(t, r)
}

func TestNewStoreWithoutURLIsInMemory(t *testing.T) {
	if got := Backend("  "); got != BackendMemory {
		t.Fatalf("Backend(blank) = %q, want %q", got, BackendMemory)
	}
	if got := Backend("postgres://localhost/twin"); got != BackendPostgres {
		t.Fatalf("Backend(url) = %q, want %q", got, BackendPostgres)
	}
	st, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := st.(*InMemoryStore); !ok {
		t.Fatalf("NewStore() = %T, want *InMemoryStore", st)
	}
}

func TestRoleMapping(t *testing.T) {
	if got := RoleFor(chat.KindStatus); got != "system" {
		t.Fatalf("RoleFor(status) = %q, want system", got)
	}
	if got := RoleFor(chat.KindAssistant); got != "assistant" {
		t.Fatalf("RoleFor(assistant) = %q, want assistant", got)
	}
	if got := KindFor("system"); got != chat.KindStatus {
		t.Fatalf("KindFor(system) = %q, want status", got)
	}
	if got := KindFor("tool"); got != chat.KindStatus {
		t.Fatalf("KindFor(tool) = %q, want status", got)
	}
	if got := KindFor("user"); got != chat.KindUser {
		t.Fatalf("KindFor(user) = %q, want user", got)
	}
}

// coldCache drops the first SetConversation, as if the entry had expired.
type coldCache struct {
	*cache.Memory
	mu      sync.Mutex
	dropped bool
}

func (c *coldCache) SetConversation(ctx context.Context, conv cache.Conversation) error {
	c.mu.Lock()
	drop := !c.dropped
	c.dropped = true
	c.mu.Unlock()
	if drop {
		return nil
	}
	return c.Memory.SetConversation(ctx, conv)
}

func TestRecorderRecachesExpiredConversation(t *testing.T) {
	store := NewInMemoryStore()
	c := &coldCache{Memory: cache.NewMemory()}
	r := NewRecorder(store, c, nil, RecorderOptions{Backoff: time.Millisecond})

	now := time.Now().UTC()
	r.MessageCompleted("client", chat.Message{ID: "u1", Kind: chat.KindUser, Content: "hello", Timestamp: now, Done: true})
	r.MessageCompleted("client", chat.Message{ID: "a1", Kind: chat.KindAssistant, Content: "hi there", Timestamp: now, Done: true})
	closeRecorder(t, r)

	convID, _ := r.ConversationID("client")
	cached, err := c.GetConversation(context.Background(), convID)
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if len(cached.Messages) != 2 {
		t.Fatalf("cached messages = %+v, want 2", cached.Messages)
	}
	if cached.Messages[0].Kind != chat.KindUser || !cached.Messages[0].Done {
		t.Fatalf("recached message = %+v", cached.Messages[0])
	}
}
