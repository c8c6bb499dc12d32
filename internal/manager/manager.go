package manager

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"loopd/internal/genloop"
)

type Manager struct {
	mu        sync.RWMutex
	state     State
	defaults  genloop.Params
	factory   RuntimeFactory
	cacheDir  string
	publisher genloop.EventPublisher
	log       zerolog.Logger

	sessions map[string]*Session
	// caches maps a cache file path to the live session holding it.
	caches map[string]string

	// Admission
	slots        chan struct{}
	maxSessions  int
	maxWait      time.Duration
	drainTimeout time.Duration

	startTime time.Time
	started   atomic.Uint64
	finished  atomic.Uint64
}

// New builds a Manager with package defaults for everything but the
// runtime factory and default loop parameters.
func New(factory RuntimeFactory, defaults genloop.Params) *Manager {
	return NewWithConfig(ManagerConfig{
		Defaults: defaults,
		Factory:  factory,
	})
}

// Ready reports whether new sessions are accepted.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady && m.factory != nil
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s := m.sessions[id]
	m.mu.RUnlock()
	if s == nil {
		return nil, ErrSessionNotFound(id)
	}
	return s, nil
}

// list returns sessions sorted by creation time.
func (m *Manager) list() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].created.Equal(out[j].created) {
			return out[i].ID < out[j].ID
		}
		return out[i].created.Before(out[j].created)
	})
	return out
}

// Close stops accepting sessions, stops every running loop and waits for
// them to finish, bounded by ctx.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.state = StateDraining
	m.mu.Unlock()
	sessions := m.list()
	for _, s := range sessions {
		s.stop()
	}
	for _, s := range sessions {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
