package genloop

import (
	"fmt"
	"strings"
)

// MinContextSize is the smallest context the loop will run with.
const MinContextSize = 8

// Params configures one generation session.
type Params struct {
	Prompt string `json:"prompt" yaml:"prompt" toml:"prompt"`

	// NKeep < 0 keeps the whole prompt across context shifts.
	NKeep  int `json:"n_keep" yaml:"n_keep" toml:"n_keep"`
	NBatch int `json:"n_batch" yaml:"n_batch" toml:"n_batch"`
	// NPredict: N tokens, -1 infinite, -2 stop when the context is full.
	NPredict int `json:"n_predict" yaml:"n_predict" toml:"n_predict"`

	GrpAttnN int  `json:"grp_attn_n" yaml:"grp_attn_n" toml:"grp_attn_n"`
	GrpAttnW int  `json:"grp_attn_w" yaml:"grp_attn_w" toml:"grp_attn_w"`
	CtxShift bool `json:"ctx_shift" yaml:"ctx_shift" toml:"ctx_shift"`

	Antiprompts        []string `json:"antiprompts" yaml:"antiprompts" toml:"antiprompts"`
	Interactive        bool     `json:"interactive" yaml:"interactive" toml:"interactive"`
	InteractiveFirst   bool     `json:"interactive_first" yaml:"interactive_first" toml:"interactive_first"`
	Conversation       bool     `json:"conversation" yaml:"conversation" toml:"conversation"`
	EnableChatTemplate bool     `json:"enable_chat_template" yaml:"enable_chat_template" toml:"enable_chat_template"`
	InputPrefix        string   `json:"input_prefix" yaml:"input_prefix" toml:"input_prefix"`
	InputSuffix        string   `json:"input_suffix" yaml:"input_suffix" toml:"input_suffix"`
	InputPrefixBOS     bool     `json:"input_prefix_bos" yaml:"input_prefix_bos" toml:"input_prefix_bos"`

	PromptCachePath string `json:"prompt_cache" yaml:"prompt_cache" toml:"prompt_cache"`
	PromptCacheRO   bool   `json:"prompt_cache_ro" yaml:"prompt_cache_ro" toml:"prompt_cache_ro"`
	PromptCacheAll  bool   `json:"prompt_cache_all" yaml:"prompt_cache_all" toml:"prompt_cache_all"`

	Escape        bool `json:"escape" yaml:"escape" toml:"escape"`
	Special       bool `json:"special" yaml:"special" toml:"special"`
	DisplayPrompt bool `json:"display_prompt" yaml:"display_prompt" toml:"display_prompt"`
	VerbosePrompt bool `json:"verbose_prompt" yaml:"verbose_prompt" toml:"verbose_prompt"`
}

// DefaultParams mirrors the defaults of the llama.cpp command line.
func DefaultParams() Params {
	return Params{
		NKeep:              0,
		NBatch:             2048,
		NPredict:           -1,
		GrpAttnN:           1,
		GrpAttnW:           512,
		CtxShift:           true,
		EnableChatTemplate: true,
		Escape:             true,
		DisplayPrompt:      true,
	}
}

// Validate rejects parameter combinations the loop cannot run with. It is
// called when a Loop is built so bad self-extend settings never reach the
// generation phase.
func (p Params) Validate() error {
	if p.NBatch <= 0 {
		return fmt.Errorf("%w: n_batch must be positive, got %d", ErrInvalidParams, p.NBatch)
	}
	if p.NPredict < -2 {
		return fmt.Errorf("%w: n_predict must be >= -2, got %d", ErrInvalidParams, p.NPredict)
	}
	if p.GrpAttnN <= 0 {
		return fmt.Errorf("%w: grp_attn_n must be positive, got %d", ErrInvalidParams, p.GrpAttnN)
	}
	if p.GrpAttnN != 1 {
		if p.GrpAttnW <= 0 {
			return fmt.Errorf("%w: grp_attn_w must be positive, got %d", ErrInvalidParams, p.GrpAttnW)
		}
		if p.GrpAttnW%p.GrpAttnN != 0 {
			return fmt.Errorf("%w: grp_attn_w (%d) must be a multiple of grp_attn_n (%d)", ErrInvalidParams, p.GrpAttnW, p.GrpAttnN)
		}
	}
	for i, a := range p.Antiprompts {
		if a == "" {
			return fmt.Errorf("%w: antiprompt %d is empty", ErrInvalidParams, i)
		}
	}
	return nil
}

// normalize resolves implied flags: conversation implies interactive-first,
// which implies interactive. A custom input prefix or suffix turns the chat
// template off in conversation mode. With Escape set, escape sequences in
// the prompt, prefix, suffix and antiprompts are processed.
func (p Params) normalize() (Params, []string) {
	var notes []string
	if p.Conversation {
		p.InteractiveFirst = true
		if p.EnableChatTemplate && (p.InputPrefix != "" || p.InputSuffix != "") {
			p.EnableChatTemplate = false
			notes = append(notes, "in-suffix/prefix is specified, chat template will be disabled")
		}
	}
	if p.InteractiveFirst {
		p.Interactive = true
	}
	if p.Escape {
		p.Prompt = ProcessEscapes(p.Prompt)
		p.InputPrefix = ProcessEscapes(p.InputPrefix)
		p.InputSuffix = ProcessEscapes(p.InputSuffix)
		aps := make([]string, len(p.Antiprompts))
		for i, a := range p.Antiprompts {
			aps[i] = ProcessEscapes(a)
		}
		p.Antiprompts = aps
	}
	return p, notes
}

// formatChat reports whether user turns are wrapped with the chat template.
func (p Params) formatChat() bool { return p.Conversation && p.EnableChatTemplate }

// ClampContextSize raises a requested context below MinContextSize. The
// second result is true when the value was changed. Zero means "model
// default" and is returned untouched.
func ClampContextSize(n int) (int, bool) {
	if n != 0 && n < MinContextSize {
		return MinContextSize, true
	}
	return n, false
}

func (p Params) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "n_batch = %d, n_predict = %d, n_keep = %d", p.NBatch, p.NPredict, p.NKeep)
	if p.GrpAttnN != 1 {
		fmt.Fprintf(&b, ", grp_attn_n = %d, grp_attn_w = %d", p.GrpAttnN, p.GrpAttnW)
	}
	if p.Interactive {
		b.WriteString(", interactive")
	}
	return b.String()
}
