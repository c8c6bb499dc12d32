package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"loopd/internal/common/fsutil"
	"loopd/internal/genloop"
	"loopd/internal/sim"
)

// errInterrupted reports a hard console interrupt (exit status 130).
var errInterrupted = exitError{code: 130, msg: "interrupted"}

// runFlags are the llama-cli style overrides of `loopd run`. Only flags the
// user set replace config values.
type runFlags struct {
	prompt, promptFile string
	nPredict, nKeep    int
	nBatch, nCtx       int
	grpAttnN, grpAttnW int
	noCtxShift         bool
	antiprompts        []string
	interactive        bool
	interactiveFirst   bool
	conversation       bool
	noChatTemplate     bool
	inPrefix, inSuffix string
	inPrefixBOS        bool
	promptCache        string
	promptCacheRO      bool
	promptCacheAll     bool
	noEscape           bool
	special            bool
	noDisplayPrompt    bool
	verbosePrompt      bool
	script             string
	repeat             bool
}

func newRunCmd(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one generation session on the console",
		Example: "  loopd run -p 'Once upon a time' -n 64\n" +
			"  loopd run -i -r 'User:' --in-prefix ' ' -p 'User: hi'\n" +
			"  loopd run --cnv -p 'You are terse.' --prompt-cache ~/.cache/loopd/chat.session",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, model, err := f.apply(cmd, a.cfg.Generation, a.cfg.Model)
			if err != nil {
				return err
			}
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt)
			defer signal.Stop(sigs)
			return runConsole(cmd.Context(), a, p, model, sigs, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.prompt, "prompt", "p", "", "Prompt to start generation with")
	fl.StringVarP(&f.promptFile, "file", "f", "", "Read the prompt from a file")
	fl.IntVarP(&f.nPredict, "n-predict", "n", -1, "Tokens to predict (-1 = no limit, -2 = until context is full)")
	fl.IntVar(&f.nKeep, "keep", 0, "Prompt tokens kept on context shift (-1 = all)")
	fl.IntVarP(&f.nBatch, "batch-size", "b", 2048, "Maximum tokens per decode call")
	fl.IntVarP(&f.nCtx, "ctx-size", "c", 0, "Context size (0 = from config)")
	fl.IntVar(&f.grpAttnN, "grp-attn-n", 1, "Self-extend group factor")
	fl.IntVar(&f.grpAttnW, "grp-attn-w", 512, "Self-extend group width")
	fl.BoolVar(&f.noCtxShift, "no-context-shift", false, "End generation instead of shifting the context")
	fl.StringArrayVarP(&f.antiprompts, "reverse-prompt", "r", nil, "Hand control back when this text is generated (repeatable)")
	fl.BoolVarP(&f.interactive, "interactive", "i", false, "Interactive mode")
	fl.BoolVar(&f.interactiveFirst, "interactive-first", false, "Wait for input before generating")
	fl.BoolVar(&f.conversation, "conversation", false, "Conversation mode with a chat template")
	fl.BoolVar(&f.noChatTemplate, "no-chat-template", false, "Do not apply the chat template in conversation mode")
	fl.StringVar(&f.inPrefix, "in-prefix", "", "Text placed before every input")
	fl.StringVar(&f.inSuffix, "in-suffix", "", "Text placed after every input")
	fl.BoolVar(&f.inPrefixBOS, "in-prefix-bos", false, "Prefix every input with BOS")
	fl.StringVar(&f.promptCache, "prompt-cache", "", "Session file to load and save the prompt state")
	fl.BoolVar(&f.promptCacheRO, "prompt-cache-ro", false, "Load the session file but never write it")
	fl.BoolVar(&f.promptCacheAll, "prompt-cache-all", false, "Save generated tokens to the session file too")
	fl.BoolVar(&f.noEscape, "no-escape", false, "Do not process escape sequences in prompts and antiprompts")
	fl.BoolVar(&f.special, "special", false, "Render special tokens")
	fl.BoolVar(&f.noDisplayPrompt, "no-display-prompt", false, "Do not echo the prompt")
	fl.BoolVar(&f.verbosePrompt, "verbose-prompt", false, "Log prompt tokens before generation")
	fl.StringVar(&f.script, "script", "", "Text the simulated model generates")
	fl.BoolVar(&f.repeat, "repeat", false, "Loop the simulated model script")
	// llama-cli spelling
	fl.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		if name == "cnv" {
			name = "conversation"
		}
		return pflag.NormalizedName(name)
	})
	return cmd
}

// apply overlays the flags the user set onto the configured parameters.
func (f *runFlags) apply(cmd *cobra.Command, p genloop.Params, model sim.Config) (genloop.Params, sim.Config, error) {
	set := cmd.Flags().Changed
	if set("prompt") {
		p.Prompt = f.prompt
	}
	if set("file") {
		path, err := fsutil.ExpandHome(f.promptFile)
		if err != nil {
			return p, model, err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return p, model, fmt.Errorf("read prompt file: %w", err)
		}
		p.Prompt = string(b)
	}
	if set("n-predict") {
		p.NPredict = f.nPredict
	}
	if set("keep") {
		p.NKeep = f.nKeep
	}
	if set("batch-size") {
		p.NBatch = f.nBatch
	}
	if set("grp-attn-n") {
		p.GrpAttnN = f.grpAttnN
	}
	if set("grp-attn-w") {
		p.GrpAttnW = f.grpAttnW
	}
	if f.noCtxShift {
		p.CtxShift = false
	}
	if set("reverse-prompt") {
		p.Antiprompts = append([]string(nil), f.antiprompts...)
	}
	if f.interactive {
		p.Interactive = true
	}
	if f.interactiveFirst {
		p.InteractiveFirst = true
	}
	if f.conversation {
		p.Conversation = true
	}
	if f.noChatTemplate {
		p.EnableChatTemplate = false
	}
	if set("in-prefix") {
		p.InputPrefix = f.inPrefix
	}
	if set("in-suffix") {
		p.InputSuffix = f.inSuffix
	}
	if f.inPrefixBOS {
		p.InputPrefixBOS = true
	}
	if set("prompt-cache") {
		path, err := fsutil.ExpandHome(f.promptCache)
		if err != nil {
			return p, model, err
		}
		p.PromptCachePath = path
	}
	if f.promptCacheRO {
		p.PromptCacheRO = true
	}
	if f.promptCacheAll {
		p.PromptCacheAll = true
	}
	if f.noEscape {
		p.Escape = false
	}
	if f.special {
		p.Special = true
	}
	if f.noDisplayPrompt {
		p.DisplayPrompt = false
	}
	if f.verbosePrompt {
		p.VerbosePrompt = true
	}
	if set("ctx-size") && f.nCtx > 0 {
		model.NCtx = f.nCtx
	}
	if set("script") {
		model.Script = f.script
	}
	if f.repeat {
		model.Repeat = true
	}
	return p, model, nil
}

// consoleSink prints output as it is produced. Input is not echoed, the
// user already sees what they typed; notices go to stderr.
func consoleSink(out, errOut io.Writer) func(genloop.Chunk) {
	return func(c genloop.Chunk) {
		switch c.Kind {
		case genloop.KindInput:
		case genloop.KindNotice:
			fmt.Fprintln(errOut, strings.TrimSpace(c.Text))
		default:
			fmt.Fprint(out, c.Text)
		}
	}
}

// runConsole runs one session. Interrupts arrive on sigs; a hard one
// cancels the run, and the stats are printed once Run has returned so only
// this goroutine writes to out.
func runConsole(ctx context.Context, a *app, p genloop.Params, model sim.Config, sigs <-chan os.Signal, in io.Reader, out, errOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if n, changed := genloop.ClampContextSize(model.NCtx); changed {
		a.log.Warn().Int("n_ctx", n).Msg("context size raised to the minimum")
		model.NCtx = n
	}
	rt, smpl, err := sim.Open(model)
	if err != nil {
		return err
	}
	loop, err := genloop.New(p, genloop.Deps{
		Runtime: rt,
		Sampler: smpl,
		Logger:  &a.log,
		Input:   newConsoleInput(in),
		Sink:    consoleSink(out, errOut),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var hard atomic.Bool
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-sigs:
				if loop.Interrupt() {
					hard.Store(true)
					cancel()
					return
				}
			case <-done:
				return
			}
		}
	}()

	res, err := loop.Run(ctx)
	fmt.Fprintln(out)
	loop.Stats().Log(a.log)
	if hard.Load() {
		return errInterrupted
	}
	if err != nil {
		return err
	}
	a.log.Debug().Str("reason", string(res.Reason)).Int("n_past", res.NPast).Int("generated", len(res.Generated)).Msg("session finished")
	return nil
}
