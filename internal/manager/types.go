package manager

import (
	"context"

	"loopd/internal/llm"
	"loopd/internal/sim"
	"loopd/pkg/types"
)

// State represents lifecycle state of the manager.
type State string

const (
	StateReady    State = "ready"
	StateDraining State = "draining"
)

// RuntimeFactory builds a fresh model runtime and sampler for one session.
type RuntimeFactory interface {
	NewRuntime(ctx context.Context, req types.StartRequest) (llm.Runtime, llm.Sampler, error)
}

// SimFactory serves every session from the simulated runtime. Requests may
// override the context size and the sampler script.
type SimFactory struct {
	Config sim.Config
}

func (f SimFactory) NewRuntime(_ context.Context, req types.StartRequest) (llm.Runtime, llm.Sampler, error) {
	cfg := f.Config
	if req.NCtx > 0 {
		cfg.NCtx = req.NCtx
	}
	if req.Script != nil {
		cfg.Script = *req.Script
	}
	rt, s, err := sim.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return rt, s, nil
}
