package genloop

import "loopd/internal/llm"

// sessionCache mirrors the tokens whose state lives in the KV cache and in
// the session file at path. consumed counts how many of them the loop has
// walked past while feeding the prompt.
type sessionCache struct {
	path     string
	tokens   []llm.Token
	consumed int
}

// reuse skips the leading tokens of batch that the restored session already
// holds. The first mismatch truncates the session so later tokens are
// decoded and appended normally. It returns the tokens still to decode and
// how many were skipped.
func (c *sessionCache) reuse(batch []llm.Token) ([]llm.Token, int) {
	if c.consumed >= len(c.tokens) {
		return batch, 0
	}
	i := 0
	for ; i < len(batch); i++ {
		if batch[i] != c.tokens[c.consumed] {
			c.tokens = c.tokens[:c.consumed]
			break
		}
		c.consumed++
		if c.consumed >= len(c.tokens) {
			i++
			break
		}
	}
	return batch[i:], i
}

// record appends decoded tokens while a session path is active.
func (c *sessionCache) record(batch []llm.Token) {
	if c.path == "" || len(batch) == 0 {
		return
	}
	c.tokens = append(c.tokens, batch...)
	c.consumed = len(c.tokens)
}

// detach drops the session path; cached positions no longer match the file.
func (c *sessionCache) detach() { c.path = "" }

// truncate keeps the first n tokens.
func (c *sessionCache) truncate(n int) {
	if n < len(c.tokens) {
		c.tokens = c.tokens[:n]
	}
}
