package genloop

import (
	"context"
	"strings"
)

// InputSource supplies caller text while the loop awaits input. It should
// return io.EOF, or the context error, when the caller is done; either ends
// the session with ReasonStopped.
type InputSource interface {
	ReadInput(ctx context.Context) (string, error)
}

// InputFunc adapts a function to InputSource.
type InputFunc func(ctx context.Context) (string, error)

func (f InputFunc) ReadInput(ctx context.Context) (string, error) { return f(ctx) }

// isResume reports whether supplied text only hands control back.
func isResume(text string) bool { return text == "" || text == "\n" }

// ProcessEscapes expands \n, \r, \t, \', \", \\ and \xHH. Unknown escapes
// are kept as written.
func ProcessEscapes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '\'':
			b.WriteByte('\'')
		case '"':
			b.WriteByte('"')
		case '\\':
			b.WriteByte('\\')
		case 'x':
			if i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
				b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
				i += 2
			} else {
				b.WriteString(`\x`)
			}
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
