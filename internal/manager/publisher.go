package manager

import "loopd/internal/genloop"

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(genloop.Event) {}

// sessionPublisher tags every event with the session id before passing it
// on. The loop's field maps are never mutated.
type sessionPublisher struct {
	id   string
	next genloop.EventPublisher
}

func (p sessionPublisher) Publish(e genloop.Event) {
	fields := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields["session"] = p.id
	p.next.Publish(genloop.Event{Name: e.Name, Fields: fields})
}

// Fanout publishes to every publisher in order.
type Fanout []genloop.EventPublisher

func (f Fanout) Publish(e genloop.Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(e)
		}
	}
}
