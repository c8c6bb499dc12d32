package manager

import (
	"context"
	"time"
)

// beginSession reserves one of the running-session slots, waiting up to
// maxWait. Returns a release func to be called when the loop ends.
func (m *Manager) beginSession(ctx context.Context) (func(), error) {
	m.mu.RLock()
	draining := m.state == StateDraining
	m.mu.RUnlock()
	// If draining, reject new work to allow graceful shutdown
	if draining {
		return func() {}, tooBusyError{reason: "shutting down"}
	}

	// Fast path: respect an already-canceled context
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}

	timer := time.NewTimer(m.maxWait)
	defer timer.Stop()
	select {
	case m.slots <- struct{}{}:
		return func() { <-m.slots }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		return func() {}, tooBusyError{reason: "no free session slot"}
	}
}

// lockCache claims path for session id. An empty path needs no lock.
func (m *Manager) lockCache(path, id string) error {
	if path == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.caches[path]; ok {
		return cacheInUseError{cache: path, owner: owner}
	}
	m.caches[path] = id
	return nil
}

func (m *Manager) unlockCache(path, id string) {
	if path == "" {
		return
	}
	m.mu.Lock()
	if m.caches[path] == id {
		delete(m.caches, path)
	}
	m.mu.Unlock()
}
