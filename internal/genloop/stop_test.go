package genloop

import (
	"testing"

	"github.com/stretchr/testify/require"

	"loopd/internal/llm"
	"loopd/internal/sim"
)

func TestSearchStart(t *testing.T) {
	require.Equal(t, 4, SearchStart(8, 4, 0))
	require.Equal(t, 2, SearchStart(8, 4, 2))
	require.Equal(t, 0, SearchStart(5, 4, 2))
	require.Equal(t, 0, SearchStart(0, 4, 0))
}

func TestStopEvaluator_PaddingWindows(t *testing.T) {
	rt := sim.New(sim.Config{})
	const tail = "xxSTOPab"

	inter, err := NewStopEvaluator(rt, []string{"STOP"}, true)
	require.NoError(t, err)
	_, ok := inter.Match(tail, 'b')
	require.False(t, ok, "interactive search starts at len-4")

	batch, err := NewStopEvaluator(rt, []string{"STOP"}, false)
	require.NoError(t, err)
	ap, ok := batch.Match(tail, 'b')
	require.True(t, ok, "non-interactive search widens by two")
	require.Equal(t, "STOP", ap)
}

func TestStopEvaluator_CaseSensitive(t *testing.T) {
	rt := sim.New(sim.Config{})
	s, err := NewStopEvaluator(rt, []string{"User:"}, true)
	require.NoError(t, err)
	_, ok := s.Match("hello user:", ':')
	require.False(t, ok)
	_, ok = s.Match("hello User:", ':')
	require.True(t, ok)
}

func TestStopEvaluator_DeclarationOrder(t *testing.T) {
	rt := sim.New(sim.Config{})
	s, err := NewStopEvaluator(rt, []string{"B:", "A: B:"}, true)
	require.NoError(t, err)
	ap, ok := s.Match("A: B:", ':')
	require.True(t, ok)
	require.Equal(t, "B:", ap)
}

func TestStopEvaluator_SingleTokenMatch(t *testing.T) {
	rt := sim.New(sim.Config{})
	s, err := NewStopEvaluator(rt, []string{"<|im_end|>", "ab"}, true)
	require.NoError(t, err)

	// text window does not contain it, the id still matches
	ap, ok := s.Match("zzz", sim.TokIMEnd)
	require.True(t, ok)
	require.Equal(t, "<|im_end|>", ap)

	// multi-token antiprompts never match on id alone
	_, ok = s.Match("zzz", llm.Token('b'))
	require.False(t, ok)
}

func TestTokenRing(t *testing.T) {
	rt := sim.New(sim.Config{})
	var r tokenRing
	require.Equal(t, llm.NullToken, r.last())
	for i := 0; i < 40; i++ {
		r.push(llm.Token('a' + i%26))
	}
	require.Len(t, r.buf, recentWindow)
	require.Equal(t, llm.Token('a'+39%26), r.last())
	require.Len(t, r.render(rt), recentWindow)
}
