package genloop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParams_Validate(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Params)
		ok   bool
	}{
		{"defaults", func(*Params) {}, true},
		{"zero batch", func(p *Params) { p.NBatch = 0 }, false},
		{"n_predict below -2", func(p *Params) { p.NPredict = -3 }, false},
		{"stop at context", func(p *Params) { p.NPredict = -2 }, true},
		{"ga_n zero", func(p *Params) { p.GrpAttnN = 0 }, false},
		{"ga_w not a multiple", func(p *Params) { p.GrpAttnN = 4; p.GrpAttnW = 10 }, false},
		{"ga_w multiple", func(p *Params) { p.GrpAttnN = 4; p.GrpAttnW = 512 }, true},
		{"ga_w zero", func(p *Params) { p.GrpAttnN = 2; p.GrpAttnW = 0 }, false},
		{"ga_w ignored when ga_n is 1", func(p *Params) { p.GrpAttnW = 7 }, true},
		{"empty antiprompt", func(p *Params) { p.Antiprompts = []string{"ok", ""} }, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := DefaultParams()
			c.mod(&p)
			err := p.Validate()
			if c.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalidParams)
			}
		})
	}
}

func TestParams_Normalize(t *testing.T) {
	p := DefaultParams()
	p.Conversation = true
	n, notes := p.normalize()
	require.True(t, n.InteractiveFirst)
	require.True(t, n.Interactive)
	require.True(t, n.formatChat())
	require.Empty(t, notes)

	p.InputPrefix = "Q: "
	n, notes = p.normalize()
	require.False(t, n.formatChat())
	require.Len(t, notes, 1)

	p = DefaultParams()
	p.InteractiveFirst = true
	n, _ = p.normalize()
	require.True(t, n.Interactive)
	require.False(t, n.Conversation)
}

func TestParams_NormalizeEscapes(t *testing.T) {
	p := DefaultParams()
	p.Prompt = `a\nb`
	p.Antiprompts = []string{`x\ty`}
	n, _ := p.normalize()
	require.Equal(t, "a\nb", n.Prompt)
	require.Equal(t, []string{"x\ty"}, n.Antiprompts)
	require.Equal(t, []string{`x\ty`}, p.Antiprompts, "caller slice untouched")

	p.Escape = false
	n, _ = p.normalize()
	require.Equal(t, `a\nb`, n.Prompt)
}

func TestClampContextSize(t *testing.T) {
	n, changed := ClampContextSize(4)
	require.Equal(t, MinContextSize, n)
	require.True(t, changed)

	n, changed = ClampContextSize(0)
	require.Zero(t, n)
	require.False(t, changed)

	n, changed = ClampContextSize(512)
	require.Equal(t, 512, n)
	require.False(t, changed)
}

func TestParams_String(t *testing.T) {
	p := DefaultParams()
	require.Equal(t, "n_batch = 2048, n_predict = -1, n_keep = 0", p.String())
	p.GrpAttnN, p.GrpAttnW = 4, 512
	p.Interactive = true
	require.Equal(t, "n_batch = 2048, n_predict = -1, n_keep = 0, grp_attn_n = 4, grp_attn_w = 512, interactive", p.String())
}
