// Package proactive nudges a quiet conversation: it greets on start and
// fires an inactivity callback whenever no activity was seen for a full
// interval.
package proactive

import (
	"context"
	"log"
	"sync"
	"time"
)

const DefaultInterval = 10 * time.Second

// Scheduler is a timer-only component; it knows nothing about transports.
type Scheduler struct {
	onGreeting func(context.Context)
	onInactive func(context.Context)
	interval   time.Duration

	mu           sync.Mutex
	lastActivity time.Time
	lastReason   string
	startedAt    time.Time
	cancel       context.CancelFunc
	nudges       int
}

// New builds a scheduler. A non-positive interval selects DefaultInterval.
func New(onGreeting, onInactive func(context.Context), interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		onGreeting:   onGreeting,
		onInactive:   onInactive,
		interval:     interval,
		lastActivity: time.Now(),
	}
}

func (s *Scheduler) Interval() time.Duration { return s.interval }

// Start fires the greeting and begins inactivity checks. The first check
// happens one full interval after Start. Starting a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	now := time.Now()
	s.lastActivity = now
	s.startedAt = now
	s.mu.Unlock()

	go s.run(runCtx, now.Add(s.interval))
}

func (s *Scheduler) run(ctx context.Context, firstCheck time.Time) {
	timer := time.NewTimer(time.Until(firstCheck))
	defer timer.Stop()

	if s.onGreeting != nil {
		s.onGreeting(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		now := time.Now()
		s.mu.Lock()
		fire := now.Sub(s.lastActivity) >= s.interval
		if fire {
			s.lastActivity = now
			s.nudges++
		}
		s.mu.Unlock()

		if fire && s.onInactive != nil && ctx.Err() == nil {
			s.onInactive(ctx)
		}

		s.mu.Lock()
		next := time.Until(s.lastActivity.Add(s.interval))
		s.mu.Unlock()
		if next < time.Millisecond {
			next = time.Millisecond
		}
		timer.Reset(next)
	}
}

// UpdateActivity resets the idle clock. reason is logged when it differs
// from the previous one; streams of audio chunks log once.
func (s *Scheduler) UpdateActivity(reason string) {
	s.mu.Lock()
	s.lastActivity = time.Now()
	changed := reason != "" && reason != s.lastReason
	if reason != "" {
		s.lastReason = reason
	}
	s.mu.Unlock()
	if changed {
		log.Printf("proactive: activity %s", reason)
	}
}

// Stop cancels every pending check. It is safe to call repeatedly and from
// within a callback.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Running reports whether Start was called without a matching Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Stats is a point-in-time view of the idle clock.
type Stats struct {
	LastActivity time.Time
	Idle         time.Duration
	Active       bool
	Nudges       int
	Uptime       time.Duration
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	idle := time.Since(s.lastActivity)
	st := Stats{
		LastActivity: s.lastActivity,
		Idle:         idle,
		Active:       idle <= s.interval,
		Nudges:       s.nudges,
	}
	if !s.startedAt.IsZero() {
		st.Uptime = time.Since(s.startedAt)
	}
	return st
}
