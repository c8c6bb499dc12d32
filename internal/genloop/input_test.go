package genloop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProcessEscapes(t *testing.T) {
	cases := map[string]string{
		`plain`:        "plain",
		`a\nb`:         "a\nb",
		`\t\r`:         "\t\r",
		`\'\"\\`:       `'"\`,
		`\x41\x62c`:    "Abc",
		`\xZZ`:         `\xZZ`,
		`\x4`:          `\x4`,
		`\q`:           `\q`,
		`trailing\`:    `trailing\`,
		`multi\\nline`: `multi\nline`,
	}
	for in, want := range cases {
		require.Equal(t, want, ProcessEscapes(in), "input %q", in)
	}
}

func TestIsResume(t *testing.T) {
	require.True(t, isResume(""))
	require.True(t, isResume("\n"))
	require.False(t, isResume("a\n"))
	require.False(t, isResume(" "))
}

func TestChatML(t *testing.T) {
	f := ChatML{}
	require.Equal(t, "<|im_start|>system\nbe nice<|im_end|>\n", f.Format(ChatMessage{Role: "system", Content: "be nice"}, false))
	require.Equal(t,
		"<|im_start|>user\nhi<|im_end|>\n<|im_start|>assistant\n",
		f.Format(ChatMessage{Role: "user", Content: "hi"}, true))

	h := chatHistory{f: f}
	require.Contains(t, h.add("user", "hi"), "<|im_start|>assistant\n")
	require.NotContains(t, h.add("assistant", "hello"), "<|im_start|>assistant\n<|im_start|>")
}
