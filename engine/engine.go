// Package engine implements the core incremental evaluation graph: a
// keyed memoization cache whose nodes may depend on each other, with
// change-pruning re-validation and parallel evaluation (spec.md).
package engine

import (
	"context"

	"github.com/latticebuild/evalengine/engine/key"
)

// Engine is the top-level handle a caller constructs once and reuses
// across many Evaluate calls and invalidations. It owns the Key Interner,
// the Node Store, the function-tag Registry, and the Runtime that drives
// evaluation.
type Engine struct {
	interner *key.Interner
	store    *NodeStore
	registry *Registry
	rt       *Runtime
}

// New creates an Engine. Evaluator Functions must be registered via
// Register before the tags they handle are ever evaluated.
func New(opts ...Option) *Engine {
	interner := key.NewInterner()
	store := NewNodeStore()
	registry := NewRegistry()
	rt := newRuntime(store, interner, registry, opts...)
	return &Engine{interner: interner, store: store, registry: registry, rt: rt}
}

// Register associates a function-tag with its Evaluator and an optional
// value-equality function used for change pruning.
func (e *Engine) Register(tag string, ev Evaluator, eq Equality) {
	e.registry.Register(tag, ev, eq)
}

// Intern returns the canonical Key for (tag, arg), creating the weak
// interner entry on first use.
func (e *Engine) Intern(tag string, arg key.Arg, caps key.Capability) *key.Key {
	return e.interner.Intern(tag, arg, caps)
}

// Evaluate brings every key in roots to a fixed point and returns each
// root's committed value. If keepGoing was not configured, Evaluate
// returns as soon as any root or transitive dependency commits an error.
func (e *Engine) Evaluate(ctx context.Context, roots ...*key.Key) (map[*key.Key]any, error) {
	return e.rt.Evaluate(ctx, roots)
}

// SignalExternal wakes a node suspended via Environment.AddExternalDep.
// Evaluators using the worker-thread pattern (engine/workerthread.go) call
// this from the goroutine doing the actual out-of-band work.
func (e *Engine) SignalExternal(k *key.Key) {
	e.rt.SignalExternal(k)
}

// Invalidate marks each of keys Dirty as DirtyChange — "this external
// input is now known to have changed" — and transitively marks every
// reverse dependency DirtyAffected, per spec.md section 6. A subsequent
// Evaluate re-validates or rebuilds exactly the nodes this could have
// affected.
func (e *Engine) Invalidate(keys ...*key.Key) {
	e.store.MarkAffected(keys)
}

// MarkAffected marks each of keys (and their transitive reverse
// dependencies) Dirty as DirtyAffected without asserting that the keys
// themselves changed value — weaker than Invalidate, for when only the
// possibility of a change is known (spec.md section 6).
func (e *Engine) MarkAffected(keys ...*key.Key) {
	e.store.markAffectedOnly(keys)
}

// DeleteIf removes Node Entries matching pred from the store entirely —
// used to garbage-collect keys that will never be requested again (e.g.
// a deleted file's key). Entries currently Evaluating are left alone.
func (e *Engine) DeleteIf(pred func(k *key.Key, snap NodeSnapshot) bool) {
	e.store.DeleteIf(func(k *key.Key, entry *NodeEntry) bool {
		return pred(k, entry.snapshot().public())
	})
}

// ShrinkInterner drops weak interner entries whose Key has already been
// garbage collected. The Engine does not call this automatically except
// when WithIdleGC's rate limiter allows it between Evaluate calls; callers
// driving a long-lived Engine outside of discrete Evaluate calls may want
// to call it directly on their own idle signal.
func (e *Engine) ShrinkInterner() {
	if e.rt.idleGC == nil || e.rt.idleGC.Allow() {
		e.interner.Shrink()
	}
}

// Len reports how many Node Entries the store currently tracks.
func (e *Engine) Len() int { return e.store.Len() }

func (s snapshot) public() NodeSnapshot {
	return NodeSnapshot{Key: s.Key, State: s.State, Deps: s.Deps, Rdeps: s.Rdeps}
}
