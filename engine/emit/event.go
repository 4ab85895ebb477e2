// Package emit provides pluggable observability for the evaluation engine.
package emit

// Event is an observability event describing one thing that happened to a
// node during evaluation: a state transition, a restart, a commit, or a
// PostEvent call made by an Evaluator Function itself.
//
// Events are diagnostic only — nothing about them is part of the memoized
// graph, and an Emitter is free to drop events under load.
type Event struct {
	// ContextID identifies the Evaluate call this event belongs to — the
	// teacher's RunID, generalized from "one workflow run" to "one
	// Evaluate call", since a single long-lived Engine services many of
	// them over its lifetime and events from concurrent calls must stay
	// distinguishable in a shared log. Environment.PostEvent fills it in
	// when an Evaluator leaves it empty.
	ContextID string

	// Tag is the function-tag of the node this event concerns, empty for
	// engine-wide events (e.g. "evaluate-complete").
	Tag string

	// KeyString is key.Key.String() for the node this event concerns.
	KeyString string

	// Msg is a short, stable label: "created", "restarted", "committed",
	// "change-pruned", "cycle-detected", "evaluate-complete", or an
	// Evaluator-supplied message via Environment.PostEvent.
	Msg string

	// Meta carries event-specific structured detail, e.g. the commit
	// status, a cycle's size, the number of roots, or fields an Evaluator
	// attached to its own PostEvent.
	Meta map[string]any
}
