package manager

import (
	"context"
	"sync"
	"time"

	"loopd/internal/genloop"
	"loopd/pkg/types"
)

// Session is one generation loop running on its own goroutine, plus the
// output it produced so far. Output is kept until the session is removed.
type Session struct {
	ID      string
	Cache   string
	created time.Time

	cachePath string
	loop      *genloop.Loop
	cancel    context.CancelFunc
	// input has room for exactly one pending text; see supply.
	input chan string
	done  chan struct{}

	mu      sync.Mutex
	chunks  []genloop.Chunk
	notify  chan struct{} // closed and replaced on every change
	waiting bool
	ended   bool
	result  genloop.Result
	err     error
}

func newSession(id, cache, path string) *Session {
	return &Session{
		ID:        id,
		Cache:     cache,
		created:   time.Now(),
		cachePath: path,
		input:     make(chan string, 1),
		done:      make(chan struct{}),
		notify:    make(chan struct{}),
	}
}

// ReadInput implements genloop.InputSource. It marks the session as
// waiting, wakes pollers and blocks until supply or cancellation.
func (s *Session) ReadInput(ctx context.Context) (string, error) {
	s.mu.Lock()
	s.waiting = true
	s.broadcastLocked()
	s.mu.Unlock()

	select {
	case text := <-s.input:
		return text, nil
	case <-ctx.Done():
		s.mu.Lock()
		s.waiting = false
		s.mu.Unlock()
		return "", ctx.Err()
	}
}

// supply hands text to a loop blocked in ReadInput.
func (s *Session) supply(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.waiting {
		return notAwaitingError{id: s.ID, state: s.stateLocked()}
	}
	s.waiting = false
	s.input <- text
	return nil
}

func (s *Session) append(c genloop.Chunk) {
	s.mu.Lock()
	s.chunks = append(s.chunks, c)
	s.broadcastLocked()
	s.mu.Unlock()
}

func (s *Session) finish(res genloop.Result, err error) {
	s.mu.Lock()
	s.ended = true
	s.waiting = false
	s.result = res
	s.err = err
	s.broadcastLocked()
	s.mu.Unlock()
	close(s.done)
}

func (s *Session) broadcastLocked() {
	close(s.notify)
	s.notify = make(chan struct{})
}

func (s *Session) stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// interrupt forwards to the loop. A hard interrupt stops the session.
func (s *Session) interrupt() bool {
	hard := s.loop.Interrupt()
	if hard {
		s.stop()
	}
	return hard
}

// waitFor blocks until there is output past offset, the session ended,
// or, with orAwaiting, the loop waits for input. It gives up when ctx is
// done or timeout fires (a nil timeout never fires).
func (s *Session) waitFor(ctx context.Context, offset int, orAwaiting bool, timeout <-chan time.Time) {
	for {
		s.mu.Lock()
		ready := len(s.chunks) > offset || s.ended || (orAwaiting && s.waiting)
		notify := s.notify
		s.mu.Unlock()
		if ready {
			return
		}
		select {
		case <-notify:
		case <-ctx.Done():
			return
		case <-timeout:
			return
		}
	}
}

// output returns the chunks past offset and the offset after them.
func (s *Session) output(offset int) types.OutputResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset < 0 {
		offset = 0
	}
	if offset > len(s.chunks) {
		offset = len(s.chunks)
	}
	out := make([]types.OutputChunk, 0, len(s.chunks)-offset)
	for _, c := range s.chunks[offset:] {
		out = append(out, types.OutputChunk{Kind: string(c.Kind), Text: c.Text})
	}
	return types.OutputResponse{
		Session: s.infoLocked(),
		Chunks:  out,
		Next:    len(s.chunks),
		Done:    s.ended,
	}
}

func (s *Session) info() types.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

func (s *Session) infoLocked() types.SessionInfo {
	info := types.SessionInfo{
		ID:          s.ID,
		State:       s.stateLocked(),
		Cache:       s.Cache,
		CreatedUnix: s.created.Unix(),
	}
	if s.loop != nil {
		info.Generated = s.loop.Stats().SampledTokens
	}
	if s.ended {
		info.Reason = string(s.result.Reason)
		info.NPast = s.result.NPast
		if s.err != nil {
			info.Error = s.err.Error()
		}
	}
	return info
}

func (s *Session) stateLocked() string {
	switch {
	case s.ended:
		return genloop.StateTerminated.String()
	case s.waiting:
		return genloop.StateAwaitInput.String()
	case s.loop == nil:
		return genloop.StateStarting.String()
	default:
		return s.loop.State().String()
	}
}
