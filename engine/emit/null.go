package emit

import "context"

// NullEmitter discards every event. It is the Engine's default, since
// observability is opt-in (spec.md Non-goals: "No built-in dashboard or
// observability backend").
type NullEmitter struct{}

// NewNullEmitter returns an Emitter that discards everything.
func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

func (NullEmitter) Emit(Event) {}

func (NullEmitter) EmitBatch(context.Context, []Event) error { return nil }

func (NullEmitter) Flush(context.Context) error { return nil }
