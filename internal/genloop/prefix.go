package genloop

import "loopd/internal/llm"

// MatchClass classifies how much of a restored session a prompt can reuse.
type MatchClass int

const (
	MatchNone        MatchClass = iota // nothing reusable
	MatchFullSession                   // no prompt given, the session is the prompt
	MatchExact                         // the whole prompt is cached
	MatchLow                           // under half of the prompt is cached
	MatchPartial                       // at least half of the prompt is cached
)

func (c MatchClass) String() string {
	switch c {
	case MatchNone:
		return "none"
	case MatchFullSession:
		return "full_session"
	case MatchExact:
		return "exact"
	case MatchLow:
		return "low"
	case MatchPartial:
		return "partial"
	default:
		return "unknown"
	}
}

// PrefixMatch is the outcome of comparing a session against a prompt.
type PrefixMatch struct {
	N     int
	Class MatchClass
}

// MatchPrefix returns the length of the longest common prefix of a and b.
func MatchPrefix(a, b []llm.Token) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// ClassifyMatch compares the restored session tokens with the tokenized
// prompt. promptEmpty is true when no prompt text was supplied, in which
// case the session itself may have become the prompt.
func ClassifyMatch(sess, prompt []llm.Token, promptEmpty bool) PrefixMatch {
	if len(sess) == 0 {
		return PrefixMatch{}
	}
	n := MatchPrefix(sess, prompt)
	switch {
	case promptEmpty && n == len(prompt):
		return PrefixMatch{N: n, Class: MatchFullSession}
	case n >= len(prompt):
		return PrefixMatch{N: n, Class: MatchExact}
	case n == 0:
		return PrefixMatch{N: 0, Class: MatchNone}
	case n < len(prompt)/2:
		return PrefixMatch{N: n, Class: MatchLow}
	default:
		return PrefixMatch{N: n, Class: MatchPartial}
	}
}
