package memory

import (
	"context"
	"fmt"
	"log"
	"strings"
)

const (
	BackendMemory   = "in-memory"
	BackendPostgres = "postgres"
)

// Backend names the store NewStore opens for databaseURL.
func Backend(databaseURL string) string {
	if strings.TrimSpace(databaseURL) == "" {
		return BackendMemory
	}
	return BackendPostgres
}

// NewStore opens the conversation store for databaseURL. Without a URL,
// conversations live in process memory and are lost on restart.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if Backend(databaseURL) == BackendMemory {
		log.Printf("memory: DATABASE_URL not set, conversations are kept in process memory")
		return NewInMemoryStore(), nil
	}
	st, err := NewPostgresStore(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	return st, nil
}
