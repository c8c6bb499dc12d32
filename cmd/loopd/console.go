package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"loopd/internal/genloop"
)

// readConsole reads one user input. A line ending in `\` toggles
// multi-line mode (the backslash is dropped); a line ending in `/` ends the
// input without its trailing newline, handing control back as-is.
func readConsole(r *bufio.Reader) (string, error) {
	var b strings.Builder
	multiline := false
	for {
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		eof := err != nil
		if eof && line == "" {
			if b.Len() == 0 {
				return "", io.EOF
			}
			return b.String(), nil
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.HasSuffix(line, "/") {
			b.WriteString(strings.TrimSuffix(line, "/"))
			return b.String(), nil
		}
		if strings.HasSuffix(line, `\`) {
			line = strings.TrimSuffix(line, `\`)
			multiline = !multiline
		}
		b.WriteString(line)
		b.WriteByte('\n')
		if !multiline || eof {
			return b.String(), nil
		}
	}
}

type readResult struct {
	text string
	err  error
}

// consoleInput is the InputSource of `loopd run`. A read that is still
// outstanding when ctx ends is picked up by the next call, so the reader
// is never used from two goroutines. Prompts and prefixes are printed by
// the loop itself.
type consoleInput struct {
	r       *bufio.Reader
	pending chan readResult
}

var _ genloop.InputSource = (*consoleInput)(nil)

func newConsoleInput(r io.Reader) *consoleInput {
	return &consoleInput{r: bufio.NewReader(r)}
}

func (c *consoleInput) ReadInput(ctx context.Context) (string, error) {
	if c.pending == nil {
		ch := make(chan readResult, 1)
		go func() {
			text, err := readConsole(c.r)
			ch <- readResult{text: text, err: err}
		}()
		c.pending = ch
	}
	select {
	case res := <-c.pending:
		c.pending = nil
		return res.text, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
