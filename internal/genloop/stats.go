package genloop

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Stats is a snapshot of loop counters.
type Stats struct {
	PromptTokens  int64 `json:"prompt_tokens"`  // decoded from the pending queue
	ReusedTokens  int64 `json:"reused_tokens"`  // skipped thanks to the session file
	SampledTokens int64 `json:"sampled_tokens"` // produced by the sampler
	DecodeCalls   int64 `json:"decode_calls"`
	ContextShifts int64 `json:"context_shifts"`
	SelfExtends   int64 `json:"self_extends"`
	Truncations   int64 `json:"truncations"`
	Inputs        int64 `json:"inputs"`

	Elapsed time.Duration `json:"elapsed"`
}

type counters struct {
	prompt, reused, sampled, decodes atomic.Int64
	shifts, extends, truncs, inputs  atomic.Int64
	start                            atomic.Int64
}

func (c *counters) snapshot() Stats {
	s := Stats{
		PromptTokens:  c.prompt.Load(),
		ReusedTokens:  c.reused.Load(),
		SampledTokens: c.sampled.Load(),
		DecodeCalls:   c.decodes.Load(),
		ContextShifts: c.shifts.Load(),
		SelfExtends:   c.extends.Load(),
		Truncations:   c.truncs.Load(),
		Inputs:        c.inputs.Load(),
	}
	if st := c.start.Load(); st > 0 {
		s.Elapsed = time.Since(time.Unix(0, st))
	}
	return s
}

// TokensPerSecond is the sampling rate over Elapsed.
func (s Stats) TokensPerSecond() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.SampledTokens) / s.Elapsed.Seconds()
}

// Log writes the counters as one structured line.
func (s Stats) Log(l zerolog.Logger) {
	l.Info().
		Int64("prompt_tokens", s.PromptTokens).
		Int64("reused_tokens", s.ReusedTokens).
		Int64("sampled_tokens", s.SampledTokens).
		Int64("decode_calls", s.DecodeCalls).
		Int64("context_shifts", s.ContextShifts).
		Int64("self_extends", s.SelfExtends).
		Int64("truncations", s.Truncations).
		Int64("inputs", s.Inputs).
		Dur("elapsed", s.Elapsed).
		Float64("tokens_per_sec", s.TokensPerSecond()).
		Msg("generation stats")
}
