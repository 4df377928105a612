package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ent0n29/personatwin/internal/chat"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process Cache with the same TTL semantics as Redis.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *Memory) set(key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[key] = memoryEntry{value: raw, expires: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *Memory) get(key string, v any) error {
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok && !m.now().Before(e.expires) {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return ErrMiss
	}
	return json.Unmarshal(e.value, v)
}

func (m *Memory) del(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

func (m *Memory) SetSession(_ context.Context, s Session) error {
	s.LastActivity = m.now().UTC()
	return m.set(SessionPrefix+s.SessionID, s, SessionTTL)
}

func (m *Memory) GetSession(_ context.Context, sessionID string) (Session, error) {
	var s Session
	err := m.get(SessionPrefix+sessionID, &s)
	return s, err
}

func (m *Memory) TouchSession(ctx context.Context, sessionID string) error {
	s, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	return m.SetSession(ctx, s)
}

func (m *Memory) DeleteSession(_ context.Context, sessionID string) error {
	m.del(SessionPrefix + sessionID)
	return nil
}

func (m *Memory) SetConversation(_ context.Context, c Conversation) error {
	c.LastUpdated = m.now().UTC()
	return m.set(ConversationPrefix+c.ConversationID, c, ConversationTTL)
}

func (m *Memory) AppendConversationMessage(ctx context.Context, conversationID string, msg chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ConversationPrefix + conversationID
	e, ok := m.entries[key]
	if !ok || !m.now().Before(e.expires) {
		return ErrMiss
	}
	var c Conversation
	if err := json.Unmarshal(e.value, &c); err != nil {
		return err
	}
	c.Messages = append(c.Messages, msg)
	c.LastUpdated = m.now().UTC()
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	m.entries[key] = memoryEntry{value: raw, expires: m.now().Add(ConversationTTL)}
	return nil
}

func (m *Memory) GetConversation(_ context.Context, conversationID string) (Conversation, error) {
	var c Conversation
	err := m.get(ConversationPrefix+conversationID, &c)
	return c, err
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
