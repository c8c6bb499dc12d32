package manager

import (
	"time"

	"loopd/internal/registry"
	"loopd/pkg/types"
)

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	sessions := m.list()
	m.mu.RLock()
	resp := types.StatusResponse{
		State:       string(m.state),
		Active:      len(m.slots),
		MaxSessions: m.maxSessions,
	}
	m.mu.RUnlock()
	resp.Sessions = make([]types.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, s.info())
	}
	resp.StartedTotal = m.started.Load()
	resp.FinishedTotal = m.finished.Load()
	resp.UptimeSeconds = int64(time.Since(m.startTime).Seconds())
	resp.ServerTimeUnix = time.Now().Unix()
	return resp
}

// ListCaches lists the session cache files and which live session, if
// any, holds each one.
func (m *Manager) ListCaches() ([]types.CacheInfo, error) {
	if m.cacheDir == "" {
		return []types.CacheInfo{}, nil
	}
	caches, err := registry.Scan(m.cacheDir)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range caches {
		caches[i].InUseBy = m.caches[caches[i].Path]
	}
	return caches, nil
}
