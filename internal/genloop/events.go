package genloop

import "sync"

// Event names published by the loop.
const (
	EventSessionLoaded = "session_loaded"
	EventSessionSaved  = "session_saved"
	EventPromptDecoded = "prompt_decoded"
	EventTokenSampled  = "token_sampled"
	EventContextShift  = "context_shift"
	EventSelfExtend    = "self_extend"
	EventTruncated     = "input_truncated"
	EventAntiprompt    = "antiprompt"
	EventEOG           = "eog"
	EventAwaitInput    = "await_input"
	EventBudgetReset   = "budget_reset"
	EventFinished      = "finished"
	EventFailed        = "failed"
)

// Event is an observation emitted by the loop.
// Minimal and stable: a name plus optional fields.
type Event struct {
	Name   string
	Fields map[string]any
}

// EventPublisher receives loop events. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// MemoryPublisher stores events in-memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Count returns how many events named name were published.
func (p *MemoryPublisher) Count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Name == name {
			n++
		}
	}
	return n
}
