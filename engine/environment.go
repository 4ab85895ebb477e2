package engine

import (
	"context"

	"github.com/latticebuild/evalengine/engine/emit"
	"github.com/latticebuild/evalengine/engine/key"
)

// depSnapshot is a (key, committed value) pair observed by an Environment
// during one evaluator invocation. The final successful invocation's
// snapshot list becomes the node's committed deps, and is retained so a
// future CHECK_DEPENDENCIES walk can detect whether each dep's value has
// changed since.
type depSnapshot struct {
	Key   *key.Key
	Value any
}

// Environment is the per-call handle an Evaluator Function uses to declare
// its input keys and read their values (spec.md section 6). A fresh
// Environment is constructed for every invocation (including every
// restart); Evaluator Functions must not retain one past the call that
// created it.
type Environment struct {
	rt        *Runtime
	ctx       context.Context
	self      *key.Key
	selfEntry *NodeEntry
	group     int

	missing      bool
	hasFailedDep bool
	firstDepErr  error
	snapshot     []depSnapshot
	depErrors    map[*key.Key]*EvalError
}

func newEnvironment(ctx context.Context, rt *Runtime, entry *NodeEntry) *Environment {
	return &Environment{
		rt:        rt,
		ctx:       ctx,
		self:      entry.Key(),
		selfEntry: entry,
		group:     entry.openGroup(),
		depErrors: make(map[*key.Key]*EvalError),
	}
}

// Context returns the evaluation's context, for cancellation checks and
// deadlines. Evaluators must not hold locks across a suspension point that
// observes this context's cancellation (spec.md section 5).
func (e *Environment) Context() context.Context { return e.ctx }

// declare is the shared primitive behind GetValue/GetValues/GetValueOrThrow:
// it ensures a Node Entry exists for dep, registers self as its reverse
// dep, and reports the dep's committed state if any.
func (e *Environment) declare(dep *key.Key) (value any, evalErr *EvalError, done bool) {
	depEntry, res := e.rt.declareDep(e.ctx, dep, e.self)
	if res == resultAlreadyDone {
		val, errv, _, _ := depEntry.readDone()
		e.selfEntry.recordDeclaredDep(e.group, dep, true)
		if errv != nil {
			e.depErrors[dep] = errv
		}
		e.snapshot = append(e.snapshot, depSnapshot{Key: dep, Value: val})
		return val, errv, true
	}
	e.selfEntry.recordDeclaredDep(e.group, dep, false)
	return nil, nil, false
}

// GetValue declares dep as an input of the current node and returns its
// value if already computed. If dep is not yet Done, it returns
// (nil, false) and marks the current evaluation as needing a restart.
//
// If dep committed only an error, GetValue reports it missing rather than
// handing back a zero value; if dep committed a value alongside an error,
// GetValue returns that value (the Open Question 1 decision in DESIGN.md).
// Unlike an unresolved dep, a failed one can never become Done with a
// value on a later restart, so the runtime treats hasFailedDep as
// terminal: the current node fails with the same cause rather than
// restarting forever. Callers that want to recover from a dependency's
// error themselves must use GetValueOrThrow instead.
func (e *Environment) GetValue(dep *key.Key) (any, bool) {
	val, errv, done := e.declare(dep)
	if !done {
		e.missing = true
		return nil, false
	}
	if errv != nil && val == nil {
		e.missing = true
		if !e.hasFailedDep {
			e.hasFailedDep = true
			e.firstDepErr = errv
		}
		return nil, false
	}
	return val, true
}

// GetValues declares every key in group concurrently (spec.md: "all keys
// in the group are declared concurrently, then the environment returns
// values_missing if any are not Done"). The returned map always contains
// every key; values for not-yet-Done deps are nil.
func (e *Environment) GetValues(group []*key.Key) (values map[*key.Key]any, allPresent bool) {
	values = make(map[*key.Key]any, len(group))
	allPresent = true
	for _, dep := range group {
		val, errv, done := e.declare(dep)
		values[dep] = val
		if !done {
			allPresent = false
			e.missing = true
			continue
		}
		if errv != nil && val == nil {
			allPresent = false
			e.missing = true
			if !e.hasFailedDep {
				e.hasFailedDep = true
				e.firstDepErr = errv
			}
			continue
		}
	}
	return values, allPresent
}

// GetValueOrThrow declares dep and returns its error if the evaluator
// reported one, regardless of whether a value also accompanies it. If dep
// is not yet Done, ok is false and the evaluation needs a restart.
func (e *Environment) GetValueOrThrow(dep *key.Key) (value any, err error, ok bool) {
	val, errv, done := e.declare(dep)
	if !done {
		e.missing = true
		return nil, nil, false
	}
	if errv != nil {
		return val, errv.Cause, true
	}
	return val, nil, true
}

// ValuesMissing reports whether any dep declared so far in this invocation
// was not yet Done.
func (e *Environment) ValuesMissing() bool { return e.missing }

// AddExternalDep suspends the current node on an out-of-band event rather
// than a declared key (spec.md section 4.4, used by long-running I/O such
// as repository fetches). The node stays Evaluating until
// Runtime.SignalExternal(key) is called.
func (e *Environment) AddExternalDep() {
	e.selfEntry.markExternal()
	e.missing = true
}

// PostEvent emits an out-of-band observability event through the Engine's
// configured emitter, for diagnostics that should not be part of the
// memoized value itself (spec.md section 4.4, get_listener/post_event).
// An event with an empty ContextID is stamped with the current Evaluate
// call's run ID.
func (e *Environment) PostEvent(ev emit.Event) {
	if e.rt.emitter != nil {
		if ev.ContextID == "" {
			ev.ContextID = runIDFrom(e.ctx)
		}
		e.rt.emitter.Emit(ev)
	}
}

// GetState returns the per-key compute-state object for the current node,
// creating it with factory on first use and preserving it across restarts
// within this evaluation (spec.md section 6, get_state). Used by the
// worker-thread pattern (engine/workerthread.go) to thread a running
// goroutine's handle across suspension points.
func (e *Environment) GetState(factory func() any) any {
	return e.selfEntry.getOrInitState(factory)
}
