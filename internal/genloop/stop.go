package genloop

import (
	"fmt"
	"strings"

	"loopd/internal/llm"
)

// recentWindow is how many accepted tokens the antiprompt search looks at.
const recentWindow = 32

// StopEvaluator detects antiprompts in recent output. Text matches are exact
// and case-sensitive; a single-token antiprompt also matches on token id.
type StopEvaluator struct {
	patterns []string
	ids      [][]llm.Token
	padding  int
}

// NewStopEvaluator tokenizes the antiprompts with v. Interactive sessions
// search with no padding; otherwise the window is widened by two bytes
// because the pattern may be followed by part of the next token.
func NewStopEvaluator(v llm.Vocab, antiprompts []string, interactive bool) (*StopEvaluator, error) {
	s := &StopEvaluator{patterns: append([]string(nil), antiprompts...)}
	if !interactive {
		s.padding = 2
	}
	for _, a := range antiprompts {
		toks, err := v.Tokenize(a, false, true)
		if err != nil {
			return nil, fmt.Errorf("tokenize antiprompt %q: %w", a, err)
		}
		s.ids = append(s.ids, toks)
	}
	return s, nil
}

// Empty reports whether there is nothing to look for.
func (s *StopEvaluator) Empty() bool { return len(s.patterns) == 0 }

// First returns the first configured antiprompt, or "".
func (s *StopEvaluator) First() string {
	if len(s.patterns) == 0 {
		return ""
	}
	return s.patterns[0]
}

// SearchStart is where the search for a pattern of length plen begins in
// text of length n.
func SearchStart(n, plen, padding int) int {
	if n > plen+padding {
		return n - (plen + padding)
	}
	return 0
}

// Match checks recent (the rendered tail of accepted tokens) and last (the
// last accepted token). It returns the matching antiprompt; text matches
// are tried first, in declaration order.
func (s *StopEvaluator) Match(recent string, last llm.Token) (string, bool) {
	for _, p := range s.patterns {
		start := SearchStart(len(recent), len(p), s.padding)
		if strings.Contains(recent[start:], p) {
			return p, true
		}
	}
	for i, ids := range s.ids {
		if len(ids) == 1 && ids[0] == last {
			return s.patterns[i], true
		}
	}
	return "", false
}

// tokenRing keeps the last recentWindow accepted tokens. It survives
// sampler resets.
type tokenRing struct {
	buf []llm.Token
}

func (r *tokenRing) push(t llm.Token) {
	if len(r.buf) == recentWindow {
		copy(r.buf, r.buf[1:])
		r.buf[len(r.buf)-1] = t
		return
	}
	r.buf = append(r.buf, t)
}

func (r *tokenRing) last() llm.Token {
	if len(r.buf) == 0 {
		return llm.NullToken
	}
	return r.buf[len(r.buf)-1]
}

func (r *tokenRing) render(v llm.Vocab) string {
	var b strings.Builder
	for _, t := range r.buf {
		b.WriteString(v.TokenToPiece(t, true))
	}
	return b.String()
}
