// Package chat holds the ordered message log rendered to the user.
package chat

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a Message.
type Kind string

const (
	KindUser      Kind = "user"
	KindAssistant Kind = "assistant"
	KindStatus    Kind = "status"
	KindError     Kind = "error"
	KindDebug     Kind = "debug"
	KindSpecial   Kind = "special"
)

var ErrUnknownMessage = errors.New("chat: unknown message")

// Message is one entry of the conversation log. Done is false while an
// assistant message is still being revealed.
type Message struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Done      bool      `json:"done"`
}

type ChangeKind string

const (
	ChangeAppended  ChangeKind = "appended"
	ChangeUpdated   ChangeKind = "updated"
	ChangeCompleted ChangeKind = "completed"
)

// Change is delivered to subscribers after every mutation.
type Change struct {
	Kind    ChangeKind
	Message Message
}

// Final reports whether the change carries a message that will not change
// again.
func (c Change) Final() bool {
	return c.Message.Done && (c.Kind == ChangeAppended || c.Kind == ChangeCompleted)
}

// Store is a concurrency-safe, append-mostly message log.
type Store struct {
	mu       sync.RWMutex
	messages []Message
	index    map[string]int

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Change)
}

func NewStore() *Store {
	return &Store{index: make(map[string]int), subs: make(map[int]func(Change))}
}

// Append adds a finished message and returns it with ID and timestamp set.
func (s *Store) Append(kind Kind, content string) Message {
	return s.append(Message{Kind: kind, Content: content, Done: true})
}

// Begin adds an empty message that is filled with AppendContent and sealed
// with Complete.
func (s *Store) Begin(kind Kind) Message {
	return s.append(Message{Kind: kind})
}

func (s *Store) append(msg Message) Message {
	msg.ID = uuid.NewString()
	msg.Timestamp = time.Now().UTC()
	s.mu.Lock()
	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeAppended, Message: msg})
	return msg
}

// AppendContent extends the content of message id by delta.
func (s *Store) AppendContent(id, delta string) error {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownMessage
	}
	s.messages[i].Content += delta
	msg := s.messages[i]
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeUpdated, Message: msg})
	return nil
}

// Complete seals message id. Completing twice is a no-op.
func (s *Store) Complete(id string) error {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownMessage
	}
	if s.messages[i].Done {
		s.mu.Unlock()
		return nil
	}
	s.messages[i].Done = true
	msg := s.messages[i]
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeCompleted, Message: msg})
	return nil
}

// Get returns message id.
func (s *Store) Get(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return Message{}, false
	}
	return s.messages[i], true
}

// Messages returns a snapshot of the log in append order.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.messages...)
}

// Conversation returns only user and assistant messages.
func (s *Store) Conversation() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, 0, len(s.messages))
	for _, m := range s.messages {
		if m.Kind == KindUser || m.Kind == KindAssistant {
			out = append(out, m)
		}
	}
	return out
}

// Count returns the number of messages of kind.
func (s *Store) Count(kind Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.messages {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

// Subscribe registers fn for every subsequent change. fn runs on the
// mutating goroutine and must not block. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) publish(c Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}
