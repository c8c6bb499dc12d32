package genloop

import "loopd/internal/llm"

// State is the loop's position in its state machine.
type State int32

const (
	StateStarting State = iota
	StateDrainPending
	StateSample
	StateCheckStop
	StateAwaitInput
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateDrainPending:
		return "drain_pending"
	case StateSample:
		return "sample"
	case StateCheckStop:
		return "check_stop"
	case StateAwaitInput:
		return "await_input"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// StopReason says why a session ended without error.
type StopReason string

const (
	ReasonBudget       StopReason = "budget"
	ReasonEOG          StopReason = "eog"
	ReasonAntiprompt   StopReason = "antiprompt"
	ReasonContextLimit StopReason = "context_limit"
	ReasonStopped      StopReason = "stopped"
)

// ChunkKind tags output chunks.
type ChunkKind string

const (
	KindPrompt ChunkKind = "prompt" // echoed prompt tokens
	KindOutput ChunkKind = "output" // sampled tokens
	KindInput  ChunkKind = "input"  // caller input as it was queued
	KindMarker ChunkKind = "marker" // console decorations: prefixes, "[end of text]"
	KindNotice ChunkKind = "notice" // truncation, antiprompt, end of generation
)

// Chunk is a piece of rendered output.
type Chunk struct {
	Kind ChunkKind `json:"kind"`
	Text string    `json:"text"`
}

// Result is returned by Run on normal termination.
type Result struct {
	Reason    StopReason
	Generated []llm.Token
	Text      string
	NPast     int
	Stats     Stats
}
