// Package session tracks the live clients of the server and expires idle
// ones.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

type entry struct {
	Session
	client Client
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*entry
	inactivityTimeout time.Duration
	onExpire          func(Session)
	now               func() time.Time
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*entry),
		inactivityTimeout: inactivityTimeout,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) SetExpireHook(hook func(Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Register adds c under c.ID().
func (m *Manager) Register(c Client, userID string) Session {
	now := m.now()
	e := &entry{
		Session: Session{
			ID:             c.ID(),
			UserID:         userID,
			Status:         StatusActive,
			StartedAt:      now,
			LastActivityAt: now,
		},
		client: c,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[e.ID] = e
	return e.Session
}

func (m *Manager) Get(sessionID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return e.Session, nil
}

// Client returns the live client registered under sessionID.
func (m *Manager) Client(sessionID string) (Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return e.client, nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.LastActivityAt = m.now()
	return nil
}

// End unregisters sessionID and closes its client.
func (m *Manager) End(sessionID string) (Session, error) {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return Session{}, ErrNotFound
	}
	closeClient(e.client)
	e.Status = StatusEnded
	return e.Session, nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll ends every registered session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*entry)
	m.mu.Unlock()
	for _, e := range all {
		closeClient(e.client)
	}
}

func (m *Manager) expireInactive() {
	now := m.now()
	var expired []*entry

	m.mu.Lock()
	for id, e := range m.sessions {
		if now.Sub(e.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		delete(m.sessions, id)
		e.Status = StatusEnded
		expired = append(expired, e)
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, e := range expired {
		log.Printf("session: %s expired after %v idle", e.ID, now.Sub(e.LastActivityAt))
		closeClient(e.client)
		if hook != nil {
			hook(e.Session)
		}
	}
}

func closeClient(c Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Disconnect(ctx); err != nil {
		log.Printf("session: disconnect %s: %v", c.ID(), err)
	}
	if err := c.Close(); err != nil {
		log.Printf("session: close %s: %v", c.ID(), err)
	}
}
