package sim

import "loopd/internal/llm"

// Sampler replays a fixed token script. Once the script is exhausted it
// returns EOS, or starts over when Repeat is set.
type Sampler struct {
	Script []llm.Token
	Repeat bool

	next     int
	accepted []llm.Token
	grammar  int
	resets   int
}

var _ llm.Sampler = (*Sampler)(nil)

// NewSampler builds a sampler that emits text tokenized by rt (special
// token text is recognized, so a script may end in "</s>").
func NewSampler(rt llm.Vocab, text string, repeat bool) (*Sampler, error) {
	toks, err := rt.Tokenize(text, false, true)
	if err != nil {
		return nil, err
	}
	return &Sampler{Script: toks, Repeat: repeat}, nil
}

// Open builds a runtime and a sampler replaying cfg.Script.
func Open(cfg Config) (*Runtime, *Sampler, error) {
	rt := New(cfg)
	s, err := NewSampler(rt, cfg.Script, cfg.Repeat)
	if err != nil {
		return nil, nil, err
	}
	return rt, s, nil
}

func (s *Sampler) Sample() llm.Token {
	if s.next >= len(s.Script) {
		if !s.Repeat || len(s.Script) == 0 {
			return TokEOS
		}
		s.next = 0
	}
	t := s.Script[s.next]
	s.next++
	return t
}

func (s *Sampler) Accept(tok llm.Token, applyGrammar bool) {
	s.accepted = append(s.accepted, tok)
	if applyGrammar {
		s.grammar++
	}
}

func (s *Sampler) Reset() { s.resets++ }

// Accepted returns every token passed to Accept.
func (s *Sampler) Accepted() []llm.Token { return append([]llm.Token(nil), s.accepted...) }

// Resets reports how many times Reset was called.
func (s *Sampler) Resets() int { return s.resets }

// GrammarAccepts counts Accept calls with applyGrammar set (sampled tokens).
func (s *Sampler) GrammarAccepts() int { return s.grammar }
