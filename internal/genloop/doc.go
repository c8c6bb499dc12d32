// Package genloop drives a fixed-size model context through an unbounded
// generation session. It decides, token by token, what to feed the model,
// when to evict old positions, when to reuse a persisted session prefix and
// when to hand control back to the caller.
//
// Files by concern:
//
//   - loop.go: the Loop state machine (DRAIN_PENDING, SAMPLE, CHECK_STOP,
//     AWAIT_INPUT, TERMINATED) and session start-up.
//   - window.go: position bookkeeping, context shift and self-extend.
//   - prefix.go, cache.go: matching a restored session against the prompt
//     and reusing it while the prompt is decoded.
//   - stop.go: antiprompt and end-of-generation detection.
//   - input.go, chat.go: turning caller text into pending tokens.
//   - params.go: Params, defaults and start-time validation.
//   - events.go, stats.go: observation hooks for metrics and logs.
//
// A Loop is single-use and not safe for concurrent use, except for Interrupt,
// State and Stats which may be called from any goroutine.
package genloop
