package emit

import "context"

// Emitter receives Event values from the engine. Implementations must not
// block the evaluation path for long: Emit is called from worker
// goroutines mid-evaluation, so a slow backend should buffer internally
// rather than make the caller wait.
type Emitter interface {
	// Emit delivers one event. It must not panic.
	Emit(event Event)

	// EmitBatch delivers events together, for backends where per-event
	// calls are wasteful (span exporters, remote sinks). Order is
	// preserved.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until any buffered events have been delivered, or ctx
	// is done.
	Flush(ctx context.Context) error
}
