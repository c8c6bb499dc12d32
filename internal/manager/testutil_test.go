package manager

import (
	"context"
	"strings"
	"testing"
	"time"

	"loopd/internal/genloop"
	"loopd/internal/llm"
	"loopd/internal/sim"
	"loopd/pkg/types"
)

// newTestManager builds a manager on the simulated runtime and closes it
// on cleanup. Zero fields in cfg get test-friendly values.
func newTestManager(t *testing.T, cfg ManagerConfig, model sim.Config) *Manager {
	t.Helper()
	if cfg.Factory == nil {
		cfg.Factory = SimFactory{Config: model}
	}
	if cfg.Defaults.NBatch == 0 {
		cfg.Defaults = genloop.DefaultParams()
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = 2 * time.Second
	}
	m := NewWithConfig(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

// eventually polls cond until it holds or two seconds pass.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// waitDone long-polls until the session ended and returns all its output.
func waitDone(t *testing.T, m *Manager, id string) types.OutputResponse {
	t.Helper()
	var last types.OutputResponse
	eventually(t, "session "+id+" to end", func() bool {
		resp, err := m.Poll(testCtx(t), id, 0, 50*time.Millisecond)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		last = resp
		return resp.Done
	})
	return last
}

func isWaiting(t *testing.T, m *Manager, id string) bool {
	t.Helper()
	s, err := m.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting
}

func text(resp types.OutputResponse, kind genloop.ChunkKind) string {
	var b strings.Builder
	for _, c := range resp.Chunks {
		if c.Kind == string(kind) {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

func intp(n int) *int { return &n }

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

// factoryFunc adapts a function to RuntimeFactory.
type factoryFunc func(context.Context, types.StartRequest) (llm.Runtime, llm.Sampler, error)

func (f factoryFunc) NewRuntime(ctx context.Context, req types.StartRequest) (llm.Runtime, llm.Sampler, error) {
	return f(ctx, req)
}

type panicSampler struct{}

func (panicSampler) Sample() llm.Token      { panic("sampler exploded") }
func (panicSampler) Accept(llm.Token, bool) {}
func (panicSampler) Reset()                 {}
