package engine

import "github.com/latticebuild/evalengine/engine/key"

// GraphInspectionListener observes committed nodes without participating
// in evaluation. It exists purely for tooling — a live dependency-graph
// viewer, a test assertion helper — and must never be used to feed
// information back into an Evaluator Function (SPEC_FULL.md section 5).
type GraphInspectionListener interface {
	// NodeCommitted is called after a node reaches Done, with its final
	// state and the deps it ended up declaring.
	NodeCommitted(k *key.Key, value any, err error, deps []*key.Key)
}

// Snapshot returns a point-in-time, read-only view of every node entry
// currently tracked by the engine.
func (e *Engine) Snapshot() []NodeSnapshot {
	raw := e.store.Snapshot()
	out := make([]NodeSnapshot, len(raw))
	for i, s := range raw {
		out[i] = s.public()
	}
	return out
}

// NodeSnapshot is the public, copy-safe view of one Node Entry.
type NodeSnapshot struct {
	Key   *key.Key
	State string
	Deps  []*key.Key
	Rdeps []*key.Key
}
