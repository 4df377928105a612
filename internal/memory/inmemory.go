package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	messages      map[string][]MessageRecord
	messageIDs    map[string]struct{}
	sessions      map[string]SessionRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]MessageRecord),
		messageIDs:    make(map[string]struct{}),
		sessions:      make(map[string]SessionRecord),
	}
}

func (s *InMemoryStore) CreateConversation(_ context.Context, c Conversation) (Conversation, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Title == "" {
		c.Title = DefaultConversationTitle
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	c.Messages = nil

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := c
	s.conversations[c.ID] = &stored
	return c, nil
}

func (s *InMemoryStore) GetConversation(_ context.Context, id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	out := *c
	out.Messages = slices.Clone(s.messages[id])
	return out, nil
}

func (s *InMemoryStore) ListConversations(_ context.Context, sessionID string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		if sessionID != "" && c.SessionID != sessionID {
			continue
		}
		out = append(out, *c)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Conversation) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) SaveMessage(_ context.Context, m MessageRecord) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[m.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if _, dup := s.messageIDs[m.ID]; dup {
		return nil
	}
	s.messageIDs[m.ID] = struct{}{}
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], m)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) ListMessages(_ context.Context, conversationID string) ([]MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(s.messages[conversationID]), nil
}

func (s *InMemoryStore) SaveSession(_ context.Context, rec SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.ID] = rec
	return nil
}

// Session returns a stored session record.
func (s *InMemoryStore) Session(id string) (SessionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	return rec, ok
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
