// Package realtime defines the duplex session contract with the realtime
// inference service and a websocket implementation of it.
package realtime

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("realtime: connection closed")

// Target selects the endpoint and the model or agent to address.
type Target struct {
	Endpoint   string
	APIVersion string
	Model      string
	// AgentID switches to agent addressing when set.
	AgentID      string
	AgentProject string
}

// Credentials authenticate the connection. BearerToken wins when both are set.
type Credentials struct {
	APIKey      string
	BearerToken string
}

// Dialer opens realtime sessions.
type Dialer interface {
	Dial(ctx context.Context, target Target, creds Credentials) (Conn, error)
}

// Conn is one open realtime session.
type Conn interface {
	Configure(ctx context.Context, opts SessionOptions) (SessionInfo, error)
	// Events is consumed by exactly one reader for the life of the session.
	Events() *Stream[ServerEvent]
	// SpeechStarted fires when the service detects the user talking. It is
	// delivered outside Events so it is never queued behind a response.
	SpeechStarted() <-chan struct{}
	SendItem(ctx context.Context, item ConversationItem) error
	SendAudio(ctx context.Context, pcm []byte) error
	// CommitAudio closes the pending input buffer as one user turn.
	CommitAudio(ctx context.Context) (*InputAudioItem, error)
	GenerateResponse(ctx context.Context, opts ResponseOptions) error
	Close() error
}
