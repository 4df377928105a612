package memory

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/personatwin/internal/chat"
)

var ErrNotFound = errors.New("memory: not found")

// DefaultConversationTitle names conversations created implicitly.
const DefaultConversationTitle = "New Conversation"

// Conversation groups the persisted messages of one client. SessionID is the
// client's stable id, not the realtime session id.
type Conversation struct {
	ID        string            `json:"id"`
	SessionID string            `json:"sessionId"`
	Title     string            `json:"title"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Messages  []MessageRecord   `json:"messages,omitempty"`
}

// MessageRecord is one persisted user, assistant or error message.
type MessageRecord struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	PIIRedacted    bool      `json:"piiRedacted"`
	CreatedAt      time.Time `json:"createdAt"`
}

// RoleFor maps a message kind to its stored role. Status messages are
// stored as system.
func RoleFor(k chat.Kind) string {
	if k == chat.KindStatus {
		return "system"
	}
	return string(k)
}

// KindFor is the inverse of RoleFor. Unknown roles read back as status.
func KindFor(role string) chat.Kind {
	switch k := chat.Kind(role); k {
	case chat.KindUser, chat.KindAssistant, chat.KindError, chat.KindDebug, chat.KindSpecial:
		return k
	default:
		return chat.KindStatus
	}
}

// ChatMessage converts the record back into a completed message.
func (m MessageRecord) ChatMessage() chat.Message {
	return chat.Message{
		ID:        m.ID,
		Kind:      KindFor(m.Role),
		Content:   m.Content,
		Timestamp: m.CreatedAt,
		Done:      true,
	}
}

// SessionRecord is the metadata of one realtime session.
type SessionRecord struct {
	ID             string     `json:"id"`
	ClientID       string     `json:"clientId"`
	ConversationID string     `json:"conversationId,omitempty"`
	Model          string     `json:"model,omitempty"`
	AgentID        string     `json:"agentId,omitempty"`
	Voice          string     `json:"voice,omitempty"`
	StartedAt      time.Time  `json:"startedAt"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
}

// Store persists conversations, messages and session metadata.
type Store interface {
	CreateConversation(ctx context.Context, c Conversation) (Conversation, error)
	// GetConversation returns the conversation with its messages in order.
	GetConversation(ctx context.Context, id string) (Conversation, error)
	// ListConversations returns the most recently updated conversations,
	// optionally restricted to one session id.
	ListConversations(ctx context.Context, sessionID string, limit int) ([]Conversation, error)
	// SaveMessage is idempotent on the message id.
	SaveMessage(ctx context.Context, m MessageRecord) error
	ListMessages(ctx context.Context, conversationID string) ([]MessageRecord, error)
	// SaveSession inserts or updates a session by id.
	SaveSession(ctx context.Context, s SessionRecord) error
	Ping(ctx context.Context) error
	Close() error
}
