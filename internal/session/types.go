package session

import (
	"context"
	"time"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Client is a live conversation owned by the manager.
type Client interface {
	ID() string
	Disconnect(ctx context.Context) error
	Close() error
}

// Session is a snapshot of a registered client.
type Session struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id,omitempty"`
	Status         Status    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}
