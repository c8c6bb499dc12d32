package genloop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"loopd/internal/llm"
	"loopd/internal/session"
)

// Deps are the collaborators a Loop drives.
type Deps struct {
	Runtime llm.Runtime
	Sampler llm.Sampler
	// Chat formats conversation turns; ChatML when nil.
	Chat   ChatFormatter
	Logger *zerolog.Logger
	Events EventPublisher
	// Input is consulted in AWAIT_INPUT. A nil source stops the session
	// the first time input is needed.
	Input InputSource
	// Sink receives rendered output as it is produced.
	Sink func(Chunk)
}

// Loop is one generation session.
type Loop struct {
	p      Params
	rt     llm.Runtime
	smpl   llm.Sampler
	log    zerolog.Logger
	events EventPublisher
	input  InputSource
	sink   func(Chunk)

	win   *Window
	cache sessionCache
	stop  *StopEvaluator
	chat  chatHistory

	pending      []llm.Token // queued input, consumed from the front
	consumed     int
	batch        []llm.Token // tokens to decode on the next iteration
	batchSampled bool
	generated    []llm.Token
	recent       tokenRing
	assistant    strings.Builder

	remain     int
	antiprompt bool
	inputEcho  bool
	display    bool
	needSave   bool

	interacting atomic.Bool
	insertEOT   atomic.Bool
	state       atomic.Int32
	ran         atomic.Bool
	stats       counters
}

// New validates p and builds a loop. Self-extend settings are checked here,
// before any token is processed.
func New(p Params, d Deps) (*Loop, error) {
	if d.Runtime == nil || d.Sampler == nil {
		return nil, fmt.Errorf("%w: runtime and sampler are required", ErrInvalidParams)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p, notes := p.normalize()
	l := &Loop{
		p:      p,
		rt:     d.Runtime,
		smpl:   d.Sampler,
		log:    zerolog.Nop(),
		events: d.Events,
		input:  d.Input,
		sink:   d.Sink,
	}
	if d.Logger != nil {
		l.log = *d.Logger
	}
	if l.events == nil {
		l.events = noopPublisher{}
	}
	if l.sink == nil {
		l.sink = func(Chunk) {}
	}
	f := d.Chat
	if f == nil {
		f = ChatML{}
	}
	l.chat = chatHistory{f: f}
	for _, n := range notes {
		l.log.Warn().Msg(n)
	}
	return l, nil
}

// Params returns the normalized parameters. NKeep is resolved once Run has
// started.
func (l *Loop) Params() Params { return l.p }

// State is safe to call from any goroutine.
func (l *Loop) State() State { return State(l.state.Load()) }

// Stats is safe to call from any goroutine.
func (l *Loop) Stats() Stats { return l.stats.snapshot() }

// Interrupt asks the loop to hand control back to the caller. In an
// interactive session that is not already waiting for input it only flips
// flags, which the loop picks up at its next boundary, and returns false.
// Any other interrupt is hard: the caller should flush stats and abort
// (exit 130 on a console, stop the session on a server).
func (l *Loop) Interrupt() (hard bool) {
	if l.p.Interactive && l.interacting.CompareAndSwap(false, true) {
		l.insertEOT.Store(true)
		return false
	}
	return true
}

// Run drives the session until it terminates. A cancelled ctx stops the
// loop at the next CHECK_STOP or AWAIT_INPUT boundary with ReasonStopped;
// a decode in flight is never preempted.
func (l *Loop) Run(ctx context.Context) (res Result, err error) {
	if !l.ran.CompareAndSwap(false, true) {
		return Result{}, errors.New("genloop: Run called twice")
	}
	l.stats.start.Store(time.Now().UnixNano())
	defer func() {
		l.setState(StateTerminated)
		res.Stats = l.stats.snapshot()
		if err != nil {
			l.log.Error().Err(err).Msg("generation failed")
			l.publish(EventFailed, map[string]any{"error": err.Error()})
			return
		}
		l.log.Info().
			Str("reason", string(res.Reason)).
			Int("n_past", res.NPast).
			Int("generated", len(res.Generated)).
			Msg("generation finished")
		l.publish(EventFinished, map[string]any{"reason": string(res.Reason)})
	}()

	if err := l.prepare(); err != nil {
		return Result{}, err
	}
	reason, err := l.loop(ctx)
	if err != nil {
		return l.result(""), err
	}
	if l.cache.path != "" && l.p.PromptCacheAll && !l.p.PromptCacheRO {
		l.log.Info().Str("path", l.cache.path).Msg("saving final output to session file")
		if err := l.save("final"); err != nil {
			return l.result(reason), err
		}
	}
	return l.result(reason), nil
}

func (l *Loop) prepare() error {
	nCtx := l.rt.NCtx()
	if train := l.rt.NCtxTrain(); train > 0 && nCtx > train {
		l.log.Warn().Int("n_ctx_train", train).Int("n_ctx", nCtx).Msg("model was trained on a smaller context")
	}

	var sess []llm.Token
	if path := l.p.PromptCachePath; path != "" {
		l.log.Info().Str("path", path).Msg("attempting to load saved session")
		rec, st, err := session.Load(path, nCtx)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrSessionLoad, path, err)
		}
		switch st {
		case session.StatusMissing:
			l.log.Info().Msg("session file does not exist, will create")
		case session.StatusEmpty:
			l.log.Info().Msg("session file is empty, a new session will be initialized")
		default:
			if err := l.rt.SetStateBytes(rec.State); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrSessionLoad, path, err)
			}
			sess = append([]llm.Token(nil), rec.Tokens...)
			l.log.Info().Int("tokens", len(sess)).Msg("loaded a session")
		}
		l.publish(EventSessionLoaded, map[string]any{"status": st.String(), "tokens": len(sess)})
		l.cache = sessionCache{path: path, tokens: sess}
	}

	addBOS := l.rt.AddBOS()
	prompt := l.p.Prompt
	if l.p.formatChat() && prompt != "" {
		prompt = l.chat.add("system", prompt)
	}
	if l.p.InteractiveFirst || l.p.Prompt != "" || len(sess) == 0 {
		toks, err := l.rt.Tokenize(prompt, true, true)
		if err != nil {
			return fmt.Errorf("tokenize prompt: %w", err)
		}
		l.pending = toks
	} else {
		l.log.Info().Msg("using session tokens as prompt")
		l.pending = append([]llm.Token(nil), sess...)
	}
	if len(l.pending) == 0 {
		if !addBOS {
			return ErrEmptyPrompt
		}
		l.pending = append(l.pending, l.rt.BOS())
		l.log.Info().Msg("prompt was empty, added BOS")
	}
	if len(l.pending) > nCtx-4 {
		return fmt.Errorf("%w: %d tokens, max %d", ErrPromptTooLong, len(l.pending), nCtx-4)
	}

	nMatching := 0
	if len(sess) > 0 {
		m := ClassifyMatch(sess, l.pending, l.p.Prompt == "")
		nMatching = m.N
		ev := l.log.Info().Int("matched", m.N).Int("prompt_tokens", len(l.pending)).Stringer("class", m.Class)
		switch m.Class {
		case MatchFullSession:
			ev.Msg("using full prompt from session file")
		case MatchExact:
			ev.Msg("session file has exact match for prompt")
		case MatchLow, MatchNone:
			ev.Msg("session file has low similarity to prompt, will mostly be reevaluated")
		default:
			ev.Msg("session file matches prompt prefix")
		}
		// drop positions the new prompt does not confirm
		l.rt.SeqRemove(-1, nMatching, -1)
	}
	// force the last prompt token to be decoded again so its logits are fresh
	if nMatching == len(l.pending) && len(l.cache.tokens) > len(l.pending) {
		l.cache.truncate(len(l.pending) - 1)
	}

	nKeep := l.p.NKeep
	if nKeep < 0 || nKeep > len(l.pending) {
		nKeep = len(l.pending)
	} else {
		if addBOS {
			nKeep++
		}
		nKeep = min(nKeep, len(l.pending))
	}
	l.p.NKeep = nKeep

	if l.p.VerbosePrompt {
		l.dumpPrompt(nKeep)
	}

	stop, err := NewStopEvaluator(l.rt, l.p.Antiprompts, l.p.Interactive)
	if err != nil {
		return err
	}
	l.stop = stop
	l.win = NewWindow(l.rt, nCtx, nKeep, l.p.GrpAttnN, l.p.GrpAttnW)
	if l.p.InteractiveFirst {
		l.interacting.Store(true)
	}
	l.needSave = l.p.PromptCachePath != "" && nMatching < len(l.pending)
	l.remain = l.p.NPredict
	l.inputEcho = true
	l.display = l.p.DisplayPrompt

	l.log.Info().
		Int("n_ctx", nCtx).
		Int("n_batch", l.p.NBatch).
		Int("n_predict", l.p.NPredict).
		Int("n_keep", nKeep).
		Bool("self_extend", l.win.SelfExtending()).
		Str("params", l.p.String()).
		Msg("generate")

	if l.rt.HasEncoder() {
		if err := l.rt.Encode(l.pending); err != nil {
			return fmt.Errorf("%w: %w", ErrEncode, err)
		}
		start := l.rt.DecoderStart()
		if start == llm.NullToken {
			start = l.rt.BOS()
		}
		l.pending = []llm.Token{start}
	}
	return nil
}

func (l *Loop) loop(ctx context.Context) (StopReason, error) {
	for (l.remain != 0 && !l.antiprompt) || l.p.Interactive {
		l.log.Debug().
			Int("n_past", l.win.NPast()).
			Int("pending", len(l.pending)-l.consumed).
			Int("n_remain", l.remain).
			Msg("iteration")

		if len(l.batch) > 0 {
			reason, err := l.evaluate()
			if err != nil || reason != "" {
				return reason, err
			}
		}

		l.batch = l.batch[:0]
		if len(l.pending) <= l.consumed && !l.interacting.Load() {
			l.setState(StateSample)
			l.sampleOne()
		} else {
			l.setState(StateDrainPending)
			l.drainPending()
		}

		if l.inputEcho && l.display {
			kind := KindPrompt
			if l.batchSampled {
				kind = KindOutput
			}
			l.emit(kind, l.render(l.batch, l.p.Special))
		}
		if l.inputEcho && len(l.pending) == l.consumed {
			l.display = true
		}

		l.setState(StateCheckStop)
		if ctx.Err() != nil {
			return ReasonStopped, nil
		}
		if len(l.pending) <= l.consumed {
			reason, err := l.checkStop(ctx)
			if err != nil || reason != "" {
				return reason, err
			}
		}

		if len(l.batch) > 0 && l.rt.IsEOG(l.batch[len(l.batch)-1]) && !l.p.Interactive {
			l.emit(KindMarker, " [end of text]\n")
			return ReasonEOG, nil
		}

		// interactive sessions hand control back instead of running out
		if l.p.Interactive && l.remain <= 0 && l.p.NPredict >= 0 {
			l.remain = l.p.NPredict
			l.interacting.Store(true)
			l.publish(EventBudgetReset, nil)
		}
	}
	if l.antiprompt {
		return ReasonAntiprompt, nil
	}
	return ReasonBudget, nil
}

// evaluate decodes l.batch after making room for it.
func (l *Loop) evaluate() (StopReason, error) {
	if maxBatch := l.win.NCtx() - 4; len(l.batch) > maxBatch {
		skipped := len(l.batch) - maxBatch
		l.batch = l.batch[:maxBatch]
		l.emit(KindNotice, fmt.Sprintf("<<input too long: skipped %d token%s>>", skipped, plural(skipped)))
		l.log.Warn().Int("skipped", skipped).Msg("input too long, truncated")
		l.stats.truncs.Add(1)
		l.publish(EventTruncated, map[string]any{"skipped": skipped})
	}

	if !l.win.SelfExtending() {
		if l.win.Overflows(len(l.batch)) {
			if !l.p.CtxShift {
				return "", fmt.Errorf("%w: n_past = %d, n_ctx = %d", ErrContextFull, l.win.NPast(), l.win.NCtx())
			}
			if l.p.NPredict == -2 {
				l.log.Info().Int("n_past", l.win.NPast()).Msg("context full and n_predict == -2, stopping")
				return ReasonContextLimit, nil
			}
			ev, err := l.win.Shift()
			if err != nil {
				return "", err
			}
			l.log.Info().
				Int("n_past", ev.NPast).
				Int("n_left", ev.NLeft).
				Int("n_ctx", l.win.NCtx()).
				Int("n_keep", l.win.NKeep()).
				Int("n_discard", ev.NDiscard).
				Int("n_past_after", l.win.NPast()).
				Msg("context full, shifting")
			l.cache.detach()
			l.stats.shifts.Add(1)
			l.publish(EventContextShift, map[string]any{"n_discard": ev.NDiscard, "n_past": l.win.NPast()})
		}
	} else {
		for _, ev := range l.win.SelfExtend() {
			l.log.Info().
				Int("n_past_old", ev.NPastOld).
				Int("n_past", ev.NPast).
				Int("ga_i", ev.GaI).
				Int("ib", ev.IB).
				Int("bd", ev.BD).
				Int("dd", ev.DD).
				Msg("self-extend")
			l.stats.extends.Add(1)
			l.publish(EventSelfExtend, map[string]any{"ga_i": ev.GaI, "n_past": ev.NPast})
		}
	}

	rest, reused := l.cache.reuse(l.batch)
	if reused > 0 {
		l.win.Advance(reused)
		l.stats.reused.Add(int64(reused))
	}
	l.batch = rest

	for i := 0; i < len(l.batch); i += l.p.NBatch {
		n := min(len(l.batch)-i, l.p.NBatch)
		if err := l.rt.Decode(l.batch[i:i+n], l.win.NPast()); err != nil {
			return "", fmt.Errorf("%w: at n_past %d: %w", ErrDecode, l.win.NPast(), err)
		}
		l.win.Advance(n)
		l.stats.decodes.Add(1)
	}
	if !l.batchSampled && len(l.batch) > 0 {
		l.stats.prompt.Add(int64(len(l.batch)))
		l.publish(EventPromptDecoded, map[string]any{"tokens": len(l.batch)})
	}
	l.cache.record(l.batch)
	return "", nil
}

func (l *Loop) sampleOne() {
	l.checkpoint()

	id := l.smpl.Sample()
	l.smpl.Accept(id, true)
	l.recent.push(id)
	l.batch = append(l.batch, id)
	l.batchSampled = true
	l.generated = append(l.generated, id)
	l.inputEcho = true
	l.remain--

	l.stats.sampled.Add(1)
	l.publish(EventTokenSampled, nil)
}

// drainPending moves up to n_batch queued tokens into the batch. They are
// accepted by the sampler without grammar so penalties see the prompt.
func (l *Loop) drainPending() {
	l.batchSampled = false
	for len(l.pending) > l.consumed {
		t := l.pending[l.consumed]
		l.batch = append(l.batch, t)
		l.smpl.Accept(t, false)
		l.recent.push(t)
		l.consumed++
		if len(l.batch) >= l.p.NBatch {
			break
		}
	}
}

// checkStop runs once the pending queue is drained.
func (l *Loop) checkStop(ctx context.Context) (StopReason, error) {
	last := l.recent.last()

	if !l.stop.Empty() {
		l.antiprompt = false
		if ap, ok := l.stop.Match(l.recent.render(l.rt), last); ok {
			if l.p.Interactive {
				l.interacting.Store(true)
			}
			l.antiprompt = true
			l.log.Info().Str("antiprompt", ap).Msg("found antiprompt")
			l.emit(KindNotice, "antiprompt: "+ap)
			l.publish(EventAntiprompt, map[string]any{"antiprompt": ap})
		}
	}

	if last != llm.NullToken && l.rt.IsEOG(last) {
		l.log.Info().Msg("found an EOG token")
		l.emit(KindNotice, "end of generation")
		l.publish(EventEOG, nil)
		if l.p.Interactive {
			if !l.stop.Empty() {
				toks, err := l.rt.Tokenize(l.stop.First(), false, true)
				if err != nil {
					return "", fmt.Errorf("tokenize antiprompt: %w", err)
				}
				l.pending = append(l.pending, toks...)
				l.antiprompt = true
			}
			if l.p.formatChat() {
				l.chat.add("assistant", l.assistant.String())
			}
			l.interacting.Store(true)
			l.emit(KindMarker, "\n")
		}
	}

	if l.p.Conversation && last != llm.NullToken {
		l.assistant.WriteString(l.rt.TokenToPiece(last, false))
	}

	if l.win.NPast() > 0 && l.interacting.Load() {
		reason, err := l.await(ctx)
		if err != nil || reason != "" {
			return reason, err
		}
	}

	if l.win.NPast() > 0 {
		if l.interacting.Load() {
			l.smpl.Reset()
		}
		l.interacting.Store(false)
	}
	return "", nil
}

// await is the AWAIT_INPUT state.
func (l *Loop) await(ctx context.Context) (StopReason, error) {
	l.setState(StateAwaitInput)
	l.log.Debug().Msg("waiting for user input")
	l.publish(EventAwaitInput, nil)

	if l.p.Conversation {
		l.emit(KindMarker, "\n> ")
	}
	if l.p.InputPrefixBOS {
		l.pending = append(l.pending, l.rt.BOS())
	}
	if l.p.InputPrefix != "" && !l.p.Conversation {
		l.emit(KindMarker, l.p.InputPrefix)
	}
	if l.input == nil {
		return ReasonStopped, nil
	}

	text, err := l.input.ReadInput(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ReasonStopped, nil
		}
		return "", fmt.Errorf("read input: %w", err)
	}
	l.setState(StateCheckStop)

	if isResume(text) {
		l.log.Debug().Msg("empty input, passing control back")
	} else if err := l.queueInput(text); err != nil {
		return "", err
	}
	l.inputEcho = false
	return "", nil
}

// queueInput tokenizes caller text onto the pending queue: end-of-turn if
// the caller cut the model off, then prefix, text and suffix.
func (l *Loop) queueInput(text string) error {
	if l.p.InputSuffix != "" && !l.p.Conversation {
		l.emit(KindMarker, l.p.InputSuffix)
	}
	orig := len(l.pending)
	if l.p.Escape {
		text = ProcessEscapes(text)
	}
	format := l.p.formatChat()
	if format {
		text = l.chat.add("user", text)
	}

	pfx, err := l.rt.Tokenize(l.p.InputPrefix, false, true)
	if err != nil {
		return fmt.Errorf("tokenize input prefix: %w", err)
	}
	inp, err := l.rt.Tokenize(text, false, format)
	if err != nil {
		return fmt.Errorf("tokenize input: %w", err)
	}
	sfx, err := l.rt.Tokenize(l.p.InputSuffix, false, true)
	if err != nil {
		return fmt.Errorf("tokenize input suffix: %w", err)
	}

	if format && l.insertEOT.Load() {
		eot := l.rt.EOT()
		if eot == llm.NullToken {
			eot = l.rt.EOS()
		}
		l.pending = append(l.pending, eot)
		l.insertEOT.Store(false)
	}
	l.pending = append(l.pending, pfx...)
	l.pending = append(l.pending, inp...)
	l.pending = append(l.pending, sfx...)

	l.emit(KindInput, l.render(l.pending[orig:], true))
	l.assistant.Reset()
	l.remain -= len(inp)
	l.stats.inputs.Add(1)
	l.log.Debug().Int("tokens", len(l.pending)-orig).Int("n_remain", l.remain).Msg("queued input")
	return nil
}

func (l *Loop) checkpoint() {
	if l.cache.path != "" && l.needSave && !l.p.PromptCacheRO {
		l.needSave = false
		if err := l.save("checkpoint"); err != nil {
			l.log.Warn().Err(err).Msg("checkpoint save failed")
		}
	}
}

func (l *Loop) save(kind string) error {
	state, err := l.rt.StateBytes()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSessionSave, err)
	}
	rec := session.Record{NCtx: l.win.NCtx(), Tokens: l.cache.tokens, State: state}
	if err := session.Save(l.cache.path, rec); err != nil {
		return fmt.Errorf("%w: %w", ErrSessionSave, err)
	}
	l.log.Info().Str("path", l.cache.path).Str("kind", kind).Int("tokens", len(rec.Tokens)).Msg("saved session")
	l.publish(EventSessionSaved, map[string]any{"kind": kind, "tokens": len(rec.Tokens)})
	return nil
}

func (l *Loop) dumpPrompt(nKeep int) {
	l.log.Debug().Str("prompt", l.p.Prompt).Int("tokens", len(l.pending)).Msg("prompt")
	for _, t := range l.pending {
		l.log.Debug().Int32("id", int32(t)).Str("piece", l.rt.TokenToPiece(t, true)).Msg("prompt token")
	}
	if nKeep > 0 {
		l.log.Debug().Str("static", l.render(l.pending[:nKeep], true)).Msg("static prompt based on n_keep")
	}
	for _, a := range l.p.Antiprompts {
		l.log.Debug().Str("antiprompt", a).Msg("reverse prompt")
	}
}

func (l *Loop) result(reason StopReason) Result {
	r := Result{
		Reason:    reason,
		Generated: append([]llm.Token(nil), l.generated...),
		Text:      l.render(l.generated, l.p.Special),
	}
	if l.win != nil {
		r.NPast = l.win.NPast()
	}
	return r
}

func (l *Loop) render(toks []llm.Token, special bool) string {
	var b strings.Builder
	for _, t := range toks {
		b.WriteString(l.rt.TokenToPiece(t, special))
	}
	return b.String()
}

func (l *Loop) emit(kind ChunkKind, text string) {
	if text != "" {
		l.sink(Chunk{Kind: kind, Text: text})
	}
}

func (l *Loop) setState(s State) { l.state.Store(int32(s)) }

func (l *Loop) publish(name string, fields map[string]any) {
	l.events.Publish(Event{Name: name, Fields: fields})
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
