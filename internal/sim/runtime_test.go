package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"loopd/internal/llm"
)

func TestTokenize_BytesAndSpecials(t *testing.T) {
	rt := New(Config{NCtx: 64, AddBOS: true})

	toks, err := rt.Tokenize("hi</s>", true, true)
	require.NoError(t, err)
	require.Equal(t, []llm.Token{TokBOS, 'h', 'i', TokEOS}, toks)

	toks, err = rt.Tokenize("hi</s>", false, false)
	require.NoError(t, err)
	require.Len(t, toks, 6)
	require.Equal(t, llm.Token('<'), toks[2])
}

func TestTokenToPiece(t *testing.T) {
	rt := New(Config{})
	require.Equal(t, "a", rt.TokenToPiece('a', false))
	require.Equal(t, "", rt.TokenToPiece(TokIMEnd, false))
	require.Equal(t, "<|im_end|>", rt.TokenToPiece(TokIMEnd, true))
	require.True(t, rt.IsEOG(TokEOS))
	require.True(t, rt.IsEOG(TokIMEnd))
	require.False(t, rt.IsEOG(TokBOS))
}

func TestDecode_CapacityAndPositions(t *testing.T) {
	rt := New(Config{NCtx: 4})
	require.NoError(t, rt.Decode([]llm.Token{1, 2, 3}, 0))
	require.Equal(t, []int{0, 1, 2}, rt.Positions())
	require.Error(t, rt.Decode([]llm.Token{4, 5}, 3))
	require.NoError(t, rt.Decode([]llm.Token{4}, 3))
	require.Len(t, rt.Decodes(), 2)
	require.Error(t, rt.Decode(nil, 0))
}

func TestDecode_InjectedFailure(t *testing.T) {
	rt := New(Config{NCtx: 16})
	boom := errors.New("boom")
	rt.FailDecodeAt(2, boom)
	require.NoError(t, rt.Decode([]llm.Token{1}, 0))
	require.ErrorIs(t, rt.Decode([]llm.Token{2}, 1), boom)
}

func TestKVOps(t *testing.T) {
	rt := New(Config{NCtx: 16})
	require.NoError(t, rt.Decode([]llm.Token{10, 11, 12, 13, 14, 15, 16, 17}, 0))

	// drop [2,4) and pull the tail left by 2
	rt.SeqRemove(0, 2, 4)
	rt.SeqAdd(0, 4, 8, -2)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5}, rt.Positions())
	cells := rt.Cells()
	require.Equal(t, llm.Token(14), cells[2].Tok)

	rt.SeqDiv(0, 2, 6, 2)
	require.Equal(t, []int{0, 1, 1, 1, 2, 2}, rt.Positions())

	rt.SeqRemove(-1, 2, -1)
	require.Equal(t, []int{0, 1, 1, 1}, rt.Positions())
}

func TestState_RoundTrip(t *testing.T) {
	a := New(Config{NCtx: 8})
	require.NoError(t, a.Decode([]llm.Token{'a', 'b', 'c'}, 0))
	st, err := a.StateBytes()
	require.NoError(t, err)

	b := New(Config{NCtx: 8})
	require.NoError(t, b.SetStateBytes(st))
	require.Equal(t, a.Cells(), b.Cells())

	small := New(Config{NCtx: 2})
	require.Error(t, small.SetStateBytes(st))
	require.Error(t, b.SetStateBytes([]byte{1, 2}))
}

func TestEncode(t *testing.T) {
	rt := New(Config{NCtx: 8})
	require.Error(t, rt.Encode([]llm.Token{1}))

	enc := New(Config{NCtx: 8, Encoder: true})
	require.NoError(t, enc.Encode([]llm.Token{1, 2}))
	require.Equal(t, []llm.Token{1, 2}, enc.Encoded())
	require.Equal(t, llm.NullToken, enc.DecoderStart())
}

func TestSampler_ScriptThenEOS(t *testing.T) {
	rt := New(Config{})
	s, err := NewSampler(rt, "ok", false)
	require.NoError(t, err)
	require.Equal(t, llm.Token('o'), s.Sample())
	require.Equal(t, llm.Token('k'), s.Sample())
	require.Equal(t, TokEOS, s.Sample())
	require.Equal(t, TokEOS, s.Sample())

	r, err := NewSampler(rt, "ab", true)
	require.NoError(t, err)
	got := []llm.Token{r.Sample(), r.Sample(), r.Sample()}
	require.Equal(t, []llm.Token{'a', 'b', 'a'}, got)

	r.Accept('a', true)
	r.Accept('b', false)
	r.Reset()
	require.Equal(t, []llm.Token{'a', 'b'}, r.Accepted())
	require.Equal(t, 1, r.GrammarAccepts())
	require.Equal(t, 1, r.Resets())
}

func TestDecode_OverwritesPosition(t *testing.T) {
	rt := New(Config{NCtx: 3})
	require.NoError(t, rt.Decode([]llm.Token{1, 2, 3}, 0))
	require.NoError(t, rt.Decode([]llm.Token{9}, 2))
	cells := rt.Cells()
	require.Len(t, cells, 3)
	require.Equal(t, llm.Token(9), cells[2].Tok)
}

func TestOpen(t *testing.T) {
	rt, s, err := Open(Config{NCtx: 32, Script: "hi</s>"})
	require.NoError(t, err)
	require.Equal(t, 32, rt.NCtx())
	require.Equal(t, []llm.Token{'h', 'i', TokEOS}, s.Script)
}
