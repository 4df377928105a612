// Package cache keeps short-lived session and conversation snapshots.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ent0n29/personatwin/internal/chat"
)

var ErrMiss = errors.New("cache: miss")

const (
	SessionPrefix      = "session:"
	ConversationPrefix = "conversation:"

	SessionTTL      = time.Hour
	ConversationTTL = 2 * time.Hour
)

// Session is the cached view of a live voice session.
type Session struct {
	SessionID      string            `json:"sessionId"`
	ClientID       string            `json:"clientId,omitempty"`
	ConversationID string            `json:"conversationId,omitempty"`
	LastActivity   time.Time         `json:"lastActivity"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Conversation is the cached tail of a conversation.
type Conversation struct {
	ConversationID string            `json:"conversationId"`
	Title          string            `json:"title,omitempty"`
	Messages       []chat.Message    `json:"messages"`
	LastUpdated    time.Time         `json:"lastUpdated"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Cache stores sessions under SessionPrefix and conversations under
// ConversationPrefix. Lookups of absent or expired keys return ErrMiss.
type Cache interface {
	SetSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, sessionID string) (Session, error)
	// TouchSession refreshes LastActivity and the TTL of an existing session.
	TouchSession(ctx context.Context, sessionID string) error
	DeleteSession(ctx context.Context, sessionID string) error

	SetConversation(ctx context.Context, c Conversation) error
	// AppendConversationMessage adds msg to a cached conversation. It returns
	// ErrMiss when the conversation is not cached.
	AppendConversationMessage(ctx context.Context, conversationID string, msg chat.Message) error
	GetConversation(ctx context.Context, conversationID string) (Conversation, error)

	Ping(ctx context.Context) error
	Close() error
}

// New returns a Redis cache when redisURL is set, otherwise an in-process one.
func New(ctx context.Context, redisURL string) (Cache, error) {
	if strings.TrimSpace(redisURL) == "" {
		return NewMemory(), nil
	}
	return NewRedis(ctx, redisURL)
}
