package emit

import (
	"context"
	"sync"
)

// BufferedEmitter stores events in memory, grouped by function-tag, for
// tests and for ad-hoc post-evaluation inspection.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // tag -> events
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.Tag] = append(b.events[event.Tag], event)
}

func (b *BufferedEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		b.Emit(e)
	}
	return nil
}

func (b *BufferedEmitter) Flush(context.Context) error { return nil }

// History returns a copy of the events recorded for tag, in emission order.
func (b *BufferedEmitter) History(tag string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	events := b.events[tag]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// All returns a copy of every event recorded so far, across all tags, in an
// unspecified order (map iteration order).
func (b *BufferedEmitter) All() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, evs := range b.events {
		out = append(out, evs...)
	}
	return out
}

// Clear removes stored events for tag, or every event if tag is empty.
func (b *BufferedEmitter) Clear(tag string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tag == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, tag)
}
