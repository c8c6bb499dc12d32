package genloop

import "errors"

// Fatal conditions. Each one terminates Run with a non-nil error; callers
// test with errors.Is.
var (
	ErrInvalidParams = errors.New("invalid generation parameters")
	ErrEmptyPrompt   = errors.New("empty prompt and model adds no BOS token")
	ErrPromptTooLong = errors.New("prompt too long")
	ErrSessionLoad   = errors.New("failed to load session file")
	ErrSessionSave   = errors.New("failed to save session file")
	ErrContextFull   = errors.New("context full and context shift is disabled")
	ErrDecode        = errors.New("decode failed")
	ErrEncode        = errors.New("encode failed")
)
