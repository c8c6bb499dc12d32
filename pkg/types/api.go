package types

// StartRequest is the body of POST /sessions. Pointer fields distinguish
// "unset" (server default) from an explicit zero.
type StartRequest struct {
	// Prompt text. May be empty when a cache holds the prompt or the session
	// starts by waiting for input.
	// example: You are a helpful assistant.
	Prompt string `json:"prompt" example:"You are a helpful assistant."`
	// Tokens to generate: N, -1 for no limit, -2 to stop when the context fills.
	// example: 128
	NPredict *int `json:"n_predict,omitempty" example:"128"`
	// Prompt tokens kept across context shifts; -1 keeps the whole prompt.
	// example: 0
	NKeep *int `json:"n_keep,omitempty" example:"0"`
	// Maximum tokens decoded per call.
	// example: 512
	NBatch int `json:"n_batch,omitempty" example:"512"`
	// Self-extend group factor and width.
	// example: 1
	GrpAttnN int `json:"grp_attn_n,omitempty" example:"1"`
	// example: 512
	GrpAttnW int `json:"grp_attn_w,omitempty" example:"512"`
	// Set to false to end the session instead of shifting the context.
	// example: true
	CtxShift *bool `json:"ctx_shift,omitempty" example:"true"`
	// Strings that hand control back (interactive) or end generation.
	// example: ["User:"]
	Antiprompts []string `json:"antiprompts,omitempty" example:"[\"User:\"]"`
	// Wait for input at antiprompts and end of generation.
	// example: true
	Interactive bool `json:"interactive,omitempty" example:"true"`
	// Wait for input before generating anything.
	// example: false
	InteractiveFirst bool `json:"interactive_first,omitempty" example:"false"`
	// Chat mode: the prompt is the system message and inputs are user turns.
	// example: false
	Conversation bool `json:"conversation,omitempty" example:"false"`
	// Text placed before and after every input.
	// example: User:
	InputPrefix string `json:"input_prefix,omitempty" example:"User:"`
	// example: Assistant:
	InputSuffix string `json:"input_suffix,omitempty" example:"Assistant:"`
	// Session cache id. The cache file lives under the server's cache dir.
	// example: assistant
	Cache string `json:"cache,omitempty" example:"assistant"`
	// Never write the cache.
	// example: false
	CacheReadOnly bool `json:"cache_ro,omitempty" example:"false"`
	// Save generated tokens to the cache too, not only the prompt.
	// example: false
	CacheAll bool `json:"cache_all,omitempty" example:"false"`
	// Render special tokens in output.
	// example: false
	Special bool `json:"special,omitempty" example:"false"`
	// Context size override for this session.
	// example: 2048
	NCtx int `json:"n_ctx,omitempty" example:"2048"`
	// Sampler script override for the simulated runtime.
	// example: Hello there.</s>
	Script *string `json:"script,omitempty" example:"Hello there.</s>"`
}

// SessionInfo describes a session.
type SessionInfo struct {
	// example: 6f1c1b2a-7d7e-4a38-9a0e-1e8f0f3c2b11
	ID string `json:"id" example:"6f1c1b2a-7d7e-4a38-9a0e-1e8f0f3c2b11"`
	// Loop state: starting, drain_pending, sample, check_stop, await_input, terminated.
	// example: await_input
	State string `json:"state" example:"await_input"`
	// Session cache id, if any.
	// example: assistant
	Cache string `json:"cache,omitempty" example:"assistant"`
	// Creation time (unix seconds).
	// example: 1700000000
	CreatedUnix int64 `json:"created_unix" example:"1700000000"`
	// Why the session ended; empty while running.
	// example: eog
	Reason string `json:"reason,omitempty" example:"eog"`
	// Fatal error, if the session failed.
	Error string `json:"error,omitempty"`
	// Tokens sampled so far.
	// example: 42
	Generated int64 `json:"generated" example:"42"`
	// Context positions in use when the session ended.
	// example: 120
	NPast int `json:"n_past,omitempty" example:"120"`
}

// OutputChunk is one piece of rendered output.
type OutputChunk struct {
	// prompt, output, input, marker or notice.
	// example: output
	Kind string `json:"kind" example:"output"`
	// example: Hello
	Text string `json:"text" example:"Hello"`
}

// OutputResponse is returned by GET /sessions/{id}/output.
type OutputResponse struct {
	Session SessionInfo   `json:"session"`
	Chunks  []OutputChunk `json:"chunks"`
	// Offset to pass on the next poll.
	// example: 17
	Next int `json:"next" example:"17"`
	// True once the session terminated and every chunk was delivered.
	// example: false
	Done bool `json:"done" example:"false"`
}

// InputRequest is the body of POST /sessions/{id}/input.
type InputRequest struct {
	// Text for the model. "" or "\n" resume generation without adding tokens.
	// example: What is the capital of France?\n
	Text string `json:"text" example:"What is the capital of France?\\n"`
}

// InterruptResponse reports whether an interrupt ended the session.
type InterruptResponse struct {
	// example: false
	Hard bool `json:"hard" example:"false"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall manager state (ready, draining).
	// example: ready
	State string `json:"state" example:"ready"`
	// Known sessions, running or finished but not removed.
	Sessions []SessionInfo `json:"sessions"`
	// Sessions holding an admission slot.
	// example: 1
	Active int `json:"active" example:"1"`
	// Maximum concurrently running sessions.
	// example: 4
	MaxSessions int `json:"max_sessions" example:"4"`
	// example: 10
	StartedTotal uint64 `json:"started_total" example:"10"`
	// example: 9
	FinishedTotal uint64 `json:"finished_total" example:"9"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// CachesResponse wraps GET /caches.
type CachesResponse struct {
	Caches []CacheInfo `json:"caches"`
}
