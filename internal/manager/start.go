package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"loopd/internal/genloop"
	"loopd/internal/registry"
	"loopd/pkg/types"
)

// Manager-level event names, published next to the loop's own events.
const (
	EventSessionStarted = "session_started"
	EventSessionEnded   = "session_ended"
	EventSessionRemoved = "session_removed"
)

// Start admits a new session and runs its loop in the background. Errors
// found before the loop starts are returned here; errors from the loop
// itself (a corrupt cache, a decode failure) end the session and are
// reported by Poll and Status.
func (m *Manager) Start(ctx context.Context, req types.StartRequest) (types.SessionInfo, error) {
	if m.factory == nil {
		return types.SessionInfo{}, ErrDependencyUnavailable("no model runtime configured")
	}
	if req.NCtx > 0 {
		if n, changed := genloop.ClampContextSize(req.NCtx); changed {
			m.log.Warn().Int("n_ctx", req.NCtx).Int("min", n).Msg("context size raised to minimum")
			req.NCtx = n
		}
	}
	p, err := m.params(req)
	if err != nil {
		return types.SessionInfo{}, err
	}

	id := uuid.NewString()
	var path string
	if req.Cache != "" {
		if m.cacheDir == "" {
			return types.SessionInfo{}, invalidRequestError{msg: "session caches are disabled"}
		}
		path, err = registry.Path(m.cacheDir, req.Cache)
		if err != nil {
			return types.SessionInfo{}, invalidRequestError{msg: err.Error()}
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return types.SessionInfo{}, fmt.Errorf("cache dir: %w", err)
		}
		p.PromptCachePath = path
	}

	if err := m.lockCache(path, id); err != nil {
		return types.SessionInfo{}, err
	}
	release, err := m.beginSession(ctx)
	if err != nil {
		m.unlockCache(path, id)
		return types.SessionInfo{}, err
	}
	ok := false
	defer func() {
		if !ok {
			release()
			m.unlockCache(path, id)
		}
	}()

	rt, smpl, err := m.factory.NewRuntime(ctx, req)
	if err != nil {
		return types.SessionInfo{}, ErrDependencyUnavailable("model runtime: " + err.Error())
	}

	s := newSession(id, req.Cache, path)
	logger := m.log.With().Str("session", id).Logger()
	loop, err := genloop.New(p, genloop.Deps{
		Runtime: rt,
		Sampler: smpl,
		Logger:  &logger,
		Events:  sessionPublisher{id: id, next: m.publisher},
		Input:   s,
		Sink:    s.append,
	})
	if err != nil {
		if errors.Is(err, genloop.ErrInvalidParams) {
			return types.SessionInfo{}, invalidRequestError{msg: err.Error()}
		}
		return types.SessionInfo{}, err
	}
	s.loop = loop

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	m.started.Add(1)
	ok = true

	logger.Info().Str("cache", req.Cache).Int("n_predict", p.NPredict).Bool("interactive", p.Interactive).Msg("session started")
	m.publisher.Publish(genloop.Event{Name: EventSessionStarted, Fields: map[string]any{"session": id}})
	go m.run(runCtx, s, release)
	return s.info(), nil
}

// run owns the loop for its whole life. The admission slot and cache lock
// are released before the session is marked finished, so a caller that saw
// the session end can immediately reuse both.
func (m *Manager) run(ctx context.Context, s *Session, release func()) {
	var (
		res genloop.Result
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("loop panic: %v", r)
			}
		}()
		res, err = s.loop.Run(ctx)
	}()
	s.cancel()
	m.unlockCache(s.cachePath, s.ID)
	release()
	m.finished.Add(1)

	ev := m.log.Info()
	if err != nil {
		ev = m.log.Warn().Err(err)
	}
	ev.Str("session", s.ID).Str("reason", string(res.Reason)).Int("n_past", res.NPast).Msg("session ended")
	m.publisher.Publish(genloop.Event{Name: EventSessionEnded, Fields: map[string]any{
		"session": s.ID,
		"reason":  string(res.Reason),
		"failed":  err != nil,
	}})
	s.finish(res, err)
}

// params applies a request on top of the configured defaults.
func (m *Manager) params(req types.StartRequest) (genloop.Params, error) {
	p := m.defaults
	p.Antiprompts = append([]string(nil), m.defaults.Antiprompts...)
	p.Prompt = req.Prompt
	if req.NPredict != nil {
		p.NPredict = *req.NPredict
	}
	if req.NKeep != nil {
		p.NKeep = *req.NKeep
	}
	if req.NBatch > 0 {
		p.NBatch = req.NBatch
	}
	if req.GrpAttnN > 0 {
		p.GrpAttnN = req.GrpAttnN
	}
	if req.GrpAttnW > 0 {
		p.GrpAttnW = req.GrpAttnW
	}
	if req.CtxShift != nil {
		p.CtxShift = *req.CtxShift
	}
	if len(req.Antiprompts) > 0 {
		p.Antiprompts = append([]string(nil), req.Antiprompts...)
	}
	if req.Interactive {
		p.Interactive = true
	}
	if req.InteractiveFirst {
		p.InteractiveFirst = true
	}
	if req.Conversation {
		p.Conversation = true
	}
	if req.InputPrefix != "" {
		p.InputPrefix = req.InputPrefix
	}
	if req.InputSuffix != "" {
		p.InputSuffix = req.InputSuffix
	}
	if req.Special {
		p.Special = true
	}
	// caches are addressed by id only; a configured path would be shared
	// by every session
	p.PromptCachePath = ""
	p.PromptCacheRO = req.CacheReadOnly
	p.PromptCacheAll = req.CacheAll
	if err := p.Validate(); err != nil {
		return p, invalidRequestError{msg: err.Error()}
	}
	return p, nil
}
