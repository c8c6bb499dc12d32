package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestReadConsole(t *testing.T) {
	cases := []struct {
		name, in string
		want     []string
	}{
		{"single line", "hello\n", []string{"hello\n"}},
		{"empty line resumes", "\n", []string{"\n"}},
		{"backslash continues", "one\\\ntwo\\\nthree\n", []string{"one\ntwo\n", "three\n"}},
		{"slash returns without newline", "no newline/\n", []string{"no newline"}},
		{"slash ends multi-line", "a\\\nb/\n", []string{"a\nb"}},
		{"crlf", "win\r\n", []string{"win\n"}},
		{"eof without newline", "tail", []string{"tail\n"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := bufio.NewReader(strings.NewReader(c.in))
			for i, want := range c.want {
				got, err := readConsole(r)
				if err != nil {
					t.Fatalf("read %d: %v", i, err)
				}
				if got != want {
					t.Fatalf("read %d: got %q want %q", i, got, want)
				}
			}
			if _, err := readConsole(r); !errors.Is(err, io.EOF) {
				t.Fatalf("expected EOF, got %v", err)
			}
		})
	}
}

func TestConsoleInput_PendingReadSurvivesCancel(t *testing.T) {
	pr, pw := io.Pipe()
	in := newConsoleInput(pr)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := in.ReadInput(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}

	go func() { _, _ = pw.Write([]byte("late\n")) }()
	got, err := in.ReadInput(context.Background())
	if err != nil || got != "late\n" {
		t.Fatalf("got %q, %v", got, err)
	}
}
