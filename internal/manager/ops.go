package manager

import (
	"context"
	"time"

	"loopd/internal/genloop"
	"loopd/pkg/types"
)

// Info describes one session.
func (m *Manager) Info(id string) (types.SessionInfo, error) {
	s, err := m.Get(id)
	if err != nil {
		return types.SessionInfo{}, err
	}
	return s.info(), nil
}

// SupplyInput hands text to a session waiting for input. "" and "\n"
// resume generation without adding tokens.
func (m *Manager) SupplyInput(id, text string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.supply(text)
}

// Poll returns output produced after offset. With wait > 0 it long-polls
// until there is new output, the session ends or waits for input, or wait
// elapses.
func (m *Manager) Poll(ctx context.Context, id string, offset int, wait time.Duration) (types.OutputResponse, error) {
	s, err := m.Get(id)
	if err != nil {
		return types.OutputResponse{}, err
	}
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		s.waitFor(ctx, offset, true, timer.C)
	}
	return s.output(offset), nil
}

// Stream calls fn for every chunk from offset on until the session ends or
// ctx is done. The final response (with Done set) is returned.
func (m *Manager) Stream(ctx context.Context, id string, offset int, fn func(types.OutputChunk) error) (types.OutputResponse, error) {
	s, err := m.Get(id)
	if err != nil {
		return types.OutputResponse{}, err
	}
	for {
		s.waitFor(ctx, offset, false, nil)
		if err := ctx.Err(); err != nil {
			return types.OutputResponse{}, err
		}
		out := s.output(offset)
		for _, c := range out.Chunks {
			if err := fn(c); err != nil {
				return out, err
			}
		}
		offset = out.Next
		if out.Done {
			return out, nil
		}
	}
}

// Stop asks the session to end at its next boundary.
func (m *Manager) Stop(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.stop()
	return nil
}

// Interrupt hands control back to the caller of an interactive session.
// It reports hard when the session was stopped instead.
func (m *Manager) Interrupt(id string) (bool, error) {
	s, err := m.Get(id)
	if err != nil {
		return false, err
	}
	return s.interrupt(), nil
}

// Remove stops a session, waits up to the drain timeout for its loop to
// end and forgets it. The cache lock is held until the loop really ends.
func (m *Manager) Remove(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.stop()
	timer := time.NewTimer(m.drainTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
		m.log.Warn().Str("session", id).Dur("timeout", m.drainTimeout).Msg("session did not stop in time; removing anyway")
	}
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	m.publisher.Publish(genloop.Event{Name: EventSessionRemoved, Fields: map[string]any{"session": id}})
	return nil
}
