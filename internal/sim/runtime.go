// Package sim is a deterministic, dependency-free model runtime. Its
// tokenizer is byte level with a handful of special tokens, its KV cache
// tracks positions exactly like a real attention cache does, and its sampler
// replays a script. It exists so the generation loop can run end to end
// (CLI, server, tests) without native model code.
package sim

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"

	"loopd/internal/llm"
)

// Special token ids. Ids below 256 are raw bytes.
const (
	TokBOS     llm.Token = 256
	TokEOS     llm.Token = 257
	TokIMStart llm.Token = 258
	TokIMEnd   llm.Token = 259

	vocabSize = 260
)

var specials = []struct {
	id   llm.Token
	text string
}{
	{TokIMStart, "<|im_start|>"},
	{TokIMEnd, "<|im_end|>"},
	{TokBOS, "<s>"},
	{TokEOS, "</s>"},
}

// Config describes the simulated model.
type Config struct {
	NCtx      int  `json:"n_ctx" yaml:"n_ctx" toml:"n_ctx"`
	NCtxTrain int  `json:"n_ctx_train" yaml:"n_ctx_train" toml:"n_ctx_train"`
	AddBOS    bool `json:"add_bos" yaml:"add_bos" toml:"add_bos"`
	Encoder   bool `json:"encoder" yaml:"encoder" toml:"encoder"`

	// Script is what the sampler replays, Repeat loops it.
	Script string `json:"script" yaml:"script" toml:"script"`
	Repeat bool   `json:"repeat" yaml:"repeat" toml:"repeat"`
}

// Cell is one occupied KV cache slot.
type Cell struct {
	Pos int
	Tok llm.Token
}

// DecodeCall records one Decode invocation.
type DecodeCall struct {
	Pos    int
	Tokens []llm.Token
}

// Runtime implements llm.Runtime.
type Runtime struct {
	cfg     Config
	cells   []Cell
	decodes []DecodeCall
	encoded []llm.Token
	failAt  int
	failErr error
}

var _ llm.Runtime = (*Runtime)(nil)

// New builds a runtime. NCtx defaults to 512 and NCtxTrain to NCtx.
func New(cfg Config) *Runtime {
	if cfg.NCtx <= 0 {
		cfg.NCtx = 512
	}
	if cfg.NCtxTrain <= 0 {
		cfg.NCtxTrain = cfg.NCtx
	}
	return &Runtime{cfg: cfg}
}

// FailDecodeAt makes the call-th Decode (1-based) fail with err.
func (r *Runtime) FailDecodeAt(call int, err error) {
	r.failAt = call
	r.failErr = err
}

// Cells returns a copy of the cache ordered by position.
func (r *Runtime) Cells() []Cell {
	out := append([]Cell(nil), r.cells...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Pos < out[j].Pos })
	return out
}

// Positions returns the sorted positions held in the cache.
func (r *Runtime) Positions() []int {
	cells := r.Cells()
	out := make([]int, len(cells))
	for i, c := range cells {
		out[i] = c.Pos
	}
	return out
}

// Decodes returns every Decode call made so far.
func (r *Runtime) Decodes() []DecodeCall { return append([]DecodeCall(nil), r.decodes...) }

// Encoded returns the last encoder input.
func (r *Runtime) Encoded() []llm.Token { return append([]llm.Token(nil), r.encoded...) }

// Vocab

func (r *Runtime) Tokenize(text string, addSpecial, parseSpecial bool) ([]llm.Token, error) {
	out := make([]llm.Token, 0, len(text)+1)
	if addSpecial && r.cfg.AddBOS {
		out = append(out, TokBOS)
	}
	for i := 0; i < len(text); {
		if parseSpecial {
			if id, n := matchSpecial(text[i:]); n > 0 {
				out = append(out, id)
				i += n
				continue
			}
		}
		out = append(out, llm.Token(text[i]))
		i++
	}
	return out, nil
}

func matchSpecial(s string) (llm.Token, int) {
	for _, sp := range specials {
		if strings.HasPrefix(s, sp.text) {
			return sp.id, len(sp.text)
		}
	}
	return 0, 0
}

func (r *Runtime) TokenToPiece(tok llm.Token, special bool) string {
	if tok >= 0 && tok < 256 {
		return string([]byte{byte(tok)})
	}
	if !special {
		return ""
	}
	for _, sp := range specials {
		if sp.id == tok {
			return sp.text
		}
	}
	return ""
}

func (r *Runtime) IsEOG(tok llm.Token) bool { return tok == TokEOS || tok == TokIMEnd }
func (r *Runtime) BOS() llm.Token           { return TokBOS }
func (r *Runtime) EOS() llm.Token           { return TokEOS }
func (r *Runtime) EOT() llm.Token           { return TokIMEnd }
func (r *Runtime) AddBOS() bool             { return r.cfg.AddBOS }

// Context

func (r *Runtime) NCtx() int      { return r.cfg.NCtx }
func (r *Runtime) NCtxTrain() int { return r.cfg.NCtxTrain }

func (r *Runtime) Decode(batch []llm.Token, pos int) error {
	if len(batch) == 0 {
		return errors.New("empty batch")
	}
	if pos < 0 {
		return fmt.Errorf("negative position %d", pos)
	}
	call := len(r.decodes) + 1
	if r.failAt > 0 && call == r.failAt {
		return r.failErr
	}
	for _, t := range batch {
		if t < 0 || t >= vocabSize {
			return fmt.Errorf("token %d out of vocabulary", t)
		}
	}
	// a position decoded again replaces what the cache held there
	overwritten := 0
	for _, c := range r.cells {
		if inRange(c.Pos, pos, pos+len(batch)) {
			overwritten++
		}
	}
	if used := len(r.cells) - overwritten; used+len(batch) > r.cfg.NCtx {
		return fmt.Errorf("kv cache full: %d used + %d new > %d", used, len(batch), r.cfg.NCtx)
	}
	r.SeqRemove(0, pos, pos+len(batch))
	for i, t := range batch {
		r.cells = append(r.cells, Cell{Pos: pos + i, Tok: t})
	}
	r.decodes = append(r.decodes, DecodeCall{Pos: pos, Tokens: append([]llm.Token(nil), batch...)})
	return nil
}

func (r *Runtime) HasEncoder() bool { return r.cfg.Encoder }

func (r *Runtime) Encode(batch []llm.Token) error {
	if !r.cfg.Encoder {
		return errors.New("model has no encoder")
	}
	if len(batch) == 0 {
		return errors.New("empty encoder input")
	}
	r.encoded = append(r.encoded[:0], batch...)
	return nil
}

func (r *Runtime) DecoderStart() llm.Token { return llm.NullToken }

func inRange(pos, p0, p1 int) bool {
	if p0 < 0 {
		p0 = 0
	}
	return pos >= p0 && (p1 < 0 || pos < p1)
}

func (r *Runtime) SeqRemove(seq, p0, p1 int) bool {
	kept := r.cells[:0]
	for _, c := range r.cells {
		if !inRange(c.Pos, p0, p1) {
			kept = append(kept, c)
		}
	}
	r.cells = kept
	return true
}

func (r *Runtime) SeqAdd(seq, p0, p1, delta int) {
	if delta == 0 || p0 == p1 {
		return
	}
	for i := range r.cells {
		if inRange(r.cells[i].Pos, p0, p1) {
			r.cells[i].Pos += delta
		}
	}
}

func (r *Runtime) SeqDiv(seq, p0, p1, d int) {
	if d == 1 || p0 == p1 {
		return
	}
	for i := range r.cells {
		if inRange(r.cells[i].Pos, p0, p1) {
			r.cells[i].Pos /= d
		}
	}
}

// StateBytes layout: n_ctx u32 | n_cells u32 | (pos i32, tok i32)*.
func (r *Runtime) StateBytes() ([]byte, error) {
	var buf bytes.Buffer
	le := binary.LittleEndian
	_ = binary.Write(&buf, le, uint32(r.cfg.NCtx))
	_ = binary.Write(&buf, le, uint32(len(r.cells)))
	for _, c := range r.cells {
		_ = binary.Write(&buf, le, int32(c.Pos))
		_ = binary.Write(&buf, le, int32(c.Tok))
	}
	return buf.Bytes(), nil
}

func (r *Runtime) SetStateBytes(state []byte) error {
	rd := bytes.NewReader(state)
	le := binary.LittleEndian
	var nCtx, n uint32
	if err := binary.Read(rd, le, &nCtx); err != nil {
		return fmt.Errorf("state header: %w", err)
	}
	if err := binary.Read(rd, le, &n); err != nil {
		return fmt.Errorf("state header: %w", err)
	}
	if int(n) > r.cfg.NCtx {
		return fmt.Errorf("state holds %d cells, context has %d", n, r.cfg.NCtx)
	}
	if rd.Len() != int(n)*8 {
		return fmt.Errorf("state size mismatch: %d cells, %d bytes", n, rd.Len())
	}
	cells := make([]Cell, n)
	for i := range cells {
		var pos, tok int32
		_ = binary.Read(rd, le, &pos)
		_ = binary.Read(rd, le, &tok)
		if tok < 0 || tok >= vocabSize {
			return fmt.Errorf("state cell %d: token %d out of vocabulary", i, tok)
		}
		cells[i] = Cell{Pos: int(pos), Tok: llm.Token(tok)}
	}
	r.cells = cells
	return nil
}
