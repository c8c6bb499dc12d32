package genloop

import (
	"fmt"

	"loopd/internal/llm"
)

// Window tracks how many positions have been committed to the model state
// (n_past) and keeps that number below the context capacity, either by
// discarding half of the evictable positions (context shift) or by
// compressing older positions (self-extend). It never touches pending or
// generated tokens, only the KV cache and the counters.
type Window struct {
	kv    llm.KVCache
	nCtx  int
	nKeep int

	gaN int
	gaW int
	gaI int

	nPast int
}

// ShiftEvent describes one context shift.
type ShiftEvent struct {
	NPast    int // before the shift
	NLeft    int
	NDiscard int
}

// ExtendEvent describes one self-extend step.
type ExtendEvent struct {
	NPastOld int
	NPast    int
	GaI      int // after the step
	IB, BD   int
	DD       int
}

// NewWindow returns a window over kv with capacity nCtx. gaN == 1 selects
// context shifting, anything else self-extend with window gaW.
func NewWindow(kv llm.KVCache, nCtx, nKeep, gaN, gaW int) *Window {
	return &Window{kv: kv, nCtx: nCtx, nKeep: nKeep, gaN: gaN, gaW: gaW}
}

func (w *Window) NPast() int { return w.nPast }
func (w *Window) NCtx() int  { return w.nCtx }
func (w *Window) NKeep() int { return w.nKeep }
func (w *Window) GaI() int   { return w.gaI }

// SelfExtending reports whether the window uses self-extend instead of
// context shifting.
func (w *Window) SelfExtending() bool { return w.gaN != 1 }

// Advance commits n freshly decoded (or reused) positions.
func (w *Window) Advance(n int) { w.nPast += n }

// Overflows reports whether decoding n more tokens would reach capacity.
func (w *Window) Overflows(n int) bool { return w.nPast+n >= w.nCtx }

// Shift evicts [n_keep, n_keep+n_discard) and moves [n_keep+n_discard,
// n_past) left by n_discard, where n_discard is half of the positions after
// n_keep. It fails when there is nothing to discard.
func (w *Window) Shift() (ShiftEvent, error) {
	nLeft := w.nPast - w.nKeep
	nDiscard := nLeft / 2
	ev := ShiftEvent{NPast: w.nPast, NLeft: nLeft, NDiscard: nDiscard}
	if nDiscard <= 0 {
		return ev, fmt.Errorf("%w: nothing to discard (n_past = %d, n_keep = %d)", ErrContextFull, w.nPast, w.nKeep)
	}
	w.kv.SeqRemove(0, w.nKeep, w.nKeep+nDiscard)
	w.kv.SeqAdd(0, w.nKeep+nDiscard, w.nPast, -nDiscard)
	w.nPast -= nDiscard
	return ev, nil
}

// SelfExtend applies as many grouped-attention steps as needed until n_past
// falls below ga_i + ga_w. Each step translates, compresses by ga_n and
// translates again.
func (w *Window) SelfExtend() []ExtendEvent {
	var out []ExtendEvent
	for w.nPast >= w.gaI+w.gaW {
		ib := (w.gaN * w.gaI) / w.gaW
		bd := (w.gaW / w.gaN) * (w.gaN - 1)
		dd := (w.gaW / w.gaN) - ib*bd - w.gaW

		w.kv.SeqAdd(0, w.gaI, w.nPast, ib*bd)
		w.kv.SeqDiv(0, w.gaI+ib*bd, w.gaI+ib*bd+w.gaW, w.gaN)
		w.kv.SeqAdd(0, w.gaI+ib*bd+w.gaW, w.nPast+ib*bd, dd)

		old := w.nPast
		w.nPast -= bd
		w.gaI += w.gaW / w.gaN
		out = append(out, ExtendEvent{NPastOld: old, NPast: w.nPast, GaI: w.gaI, IB: ib, BD: bd, DD: dd})
	}
	return out
}
