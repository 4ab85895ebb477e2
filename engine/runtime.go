package engine

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/latticebuild/evalengine/engine/emit"
	"github.com/latticebuild/evalengine/engine/key"
	"github.com/latticebuild/evalengine/engine/metrics"
)

// ctxKey namespaces context.Context values the Runtime stashes for its own
// use, so as not to collide with keys an embedding application might set on
// the same context.
type ctxKey int

// runIDKey holds the current Evaluate call's run ID (ctxKey avoids
// colliding with caller-set context values on the same context.Context).
const runIDKey ctxKey = iota

// runIDFrom reports the run ID stashed on ctx by Evaluate, or "" if ctx
// did not originate from an Evaluate call (e.g. a directly-constructed
// Environment in a test).
func runIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// Runtime is the parallel evaluator driver: a fixed worker pool draining a
// bounded frontier, implementing the restart protocol, change pruning, and
// deadlock-triggered cycle detection described in spec.md section 4.4.
type Runtime struct {
	store    *NodeStore
	interner *key.Interner
	registry *Registry
	emitter  emit.Emitter
	metrics  *metrics.Metrics

	numWorkers int
	queueDepth int
	keepGoing  bool
	idleGC     *rate.Limiter

	frOnce   sync.Once
	fr       *frontier
	listener GraphInspectionListener

	// outstanding counts Node Entries currently in the Evaluating lifecycle
	// state, across the whole store; a single Runtime may back concurrent
	// Evaluate calls which all share this counter. It only ever reaches
	// zero when every scheduled node has committed.
	outstanding int64
	// busy counts workers currently running a node's evaluator or
	// CHECK_DEPENDENCIES step, as opposed to blocked waiting on the
	// frontier. Used by the deadlock monitor to recognize "nothing can
	// make progress right now".
	busy int64
}

// RuntimeOption configures a Runtime at construction time.
type RuntimeOption func(*Runtime)

func newRuntime(store *NodeStore, interner *key.Interner, registry *Registry, opts ...RuntimeOption) *Runtime {
	rt := &Runtime{
		store:      store,
		interner:   interner,
		registry:   registry,
		emitter:    emit.NewNullEmitter(),
		numWorkers: 8,
		queueDepth: 1024,
		idleGC:     rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Runtime) emit(ctx context.Context, k *key.Key, msg string, meta map[string]any) {
	if rt.emitter == nil {
		return
	}
	rt.emitter.Emit(emit.Event{ContextID: runIDFrom(ctx), Tag: k.Tag(), KeyString: k.String(), Msg: msg, Meta: meta})
}

// declareDep ensures a Node Entry exists for dep, links rdep (nil for a
// root request) as its reverse dependency, and enqueues it if this is the
// call that discovers it needs evaluating. Shared by Environment.declare
// and the CHECK_DEPENDENCIES walk.
func (rt *Runtime) declareDep(ctx context.Context, dep *key.Key, rdep *key.Key) (*NodeEntry, addRdepResult) {
	entry := rt.store.CreateIfAbsent(dep)
	res := entry.addReverseDepAndCheckIfDone(rdep)
	if res == resultNeedsScheduling {
		atomic.AddInt64(&rt.outstanding, 1)
		rt.emit(ctx, dep, "created", nil)
		rt.frontier().push(dep)
	}
	return entry, res
}

// frontier lazily constructs the shared ready queue: Runtime values are
// built before options (and so the desired channel depth) are known to be
// final, so the frontier itself is allocated on first use.
func (rt *Runtime) frontier() *frontier {
	rt.frOnce.Do(func() {
		rt.fr = newFrontier(rt.queueDepth)
	})
	return rt.fr
}

// Evaluate runs the engine to a fixed point for roots: every root reaches
// Done (a committed value or error), and every node transitively reached
// is fully re-validated or rebuilt as needed. It blocks until completion,
// cancellation, or an unrecoverable deadlock (a dependency cycle).
func (rt *Runtime) Evaluate(ctx context.Context, roots []*key.Key) (map[*key.Key]any, error) {
	ctx = context.WithValue(ctx, runIDKey, uuid.NewString())

	entries := make([]*NodeEntry, len(roots))
	for i, k := range roots {
		entry, _ := rt.declareDep(ctx, k, nil)
		entries[i] = entry
	}

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < rt.numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.worker(workerCtx)
		}()
	}

	done := make(chan struct{})
	go func() {
		rt.monitor(workerCtx)
		close(done)
	}()

	results := make(map[*key.Key]any, len(roots))
	var firstErr error
	for i, entry := range entries {
		val, evalErr, isDone, wait := entry.readDone()
		for !isDone {
			select {
			case <-wait:
				val, evalErr, isDone, wait = entry.readDone()
			case <-ctx.Done():
				cancel()
				wg.Wait()
				return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
			case <-done:
				// Monitor gave up (deadlock resolved by failing the
				// relevant nodes); re-check readDone one more time.
				val, evalErr, isDone, wait = entry.readDone()
				if !isDone {
					cancel()
					wg.Wait()
					return nil, ErrNoProgress
				}
			}
		}
		if evalErr != nil {
			if firstErr == nil {
				firstErr = evalErr
			}
			if !rt.keepGoing {
				cancel()
				wg.Wait()
				return nil, firstErr
			}
		}
		results[roots[i]] = val
	}

	cancel()
	wg.Wait()
	if rt.interner != nil && (rt.idleGC == nil || rt.idleGC.Allow()) {
		rt.interner.Shrink()
	}
	if rt.emitter != nil {
		rt.emitter.Emit(emit.Event{ContextID: runIDFrom(ctx), Msg: "evaluate-complete", Meta: map[string]any{"roots": len(roots)}})
	}
	return results, firstErr
}

// worker pulls keys off the frontier until ctx is cancelled.
func (rt *Runtime) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case k, ok := <-rt.frontier().pop():
			if !ok {
				return
			}
			atomic.AddInt64(&rt.busy, 1)
			rt.process(ctx, k)
			atomic.AddInt64(&rt.busy, -1)
		}
	}
}

// process dispatches k to the right step based on its Node Entry's current
// phase: a fresh/changed node goes straight to the evaluator, a dirty node
// under re-validation continues its CHECK_DEPENDENCIES walk.
func (rt *Runtime) process(ctx context.Context, k *key.Key) {
	entry, ok := rt.store.Get(k)
	if !ok {
		return
	}
	entry.mu.Lock()
	state := entry.state
	var sub dirtySubState
	if entry.eval != nil {
		sub = entry.eval.subState
	}
	entry.mu.Unlock()

	if state != stateEvaluating {
		return
	}
	if sub == subCheckDependencies {
		rt.stepCheckDependencies(ctx, k, entry)
		return
	}
	rt.invokeEvaluator(ctx, k, entry)
}

func (rt *Runtime) stepCheckDependencies(ctx context.Context, k *key.Key, entry *NodeEntry) {
	for {
		snap := entry.resumeOrNextCheckDep()
		if snap == nil {
			rdeps := entry.commitUnchanged()
			rt.metrics.IncChangePruned(k.Tag())
			rt.emit(ctx, k, "change-pruned", nil)
			rt.afterCommit(k, rdeps)
			return
		}

		depEntry, res := rt.declareDep(ctx, snap.Key, k)
		switch res {
		case resultAlreadyDone:
			val, errv, _, _ := depEntry.readDone()
			if errv == nil && rt.valuesEqual(snap.Key.Tag(), snap.Value, val) {
				continue
			}
			entry.markNeedsRebuilding()
			rt.invokeEvaluator(ctx, k, entry)
			return
		default: // resultNeedsScheduling or resultAlreadyEvaluating
			entry.beginCheckWait(*snap)
			if !entry.markAwaitingRestart() {
				// The dep resolved in the gap between declareDep and here;
				// loop will pick the same snapshot back up via pendingCheck.
				continue
			}
			return
		}
	}
}

func (rt *Runtime) valuesEqual(tag string, a, b any) bool {
	if reg, ok := rt.registry.lookup(tag); ok {
		return reg.equal(a, b)
	}
	return reflect.DeepEqual(a, b)
}

func (rt *Runtime) invokeEvaluator(ctx context.Context, k *key.Key, entry *NodeEntry) {
	reg, ok := rt.registry.lookup(k.Tag())
	if !ok {
		rdeps := entry.setValue(nil, &EvalError{Key: k, Cause: ErrMissingEvaluator}, nil, nil)
		rt.afterCommit(k, rdeps)
		return
	}

	env := newEnvironment(ctx, rt, entry)
	start := time.Now()
	result := reg.evaluator.Compute(ctx, k, env)

	if env.hasFailedDep {
		// A declared dependency already failed and cannot un-fail on a
		// later restart, so there is no point waiting for the rest of this
		// invocation's other deps: fail now with the same cause, committing
		// whatever deps were actually declared before the failure so the
		// next CHECK_DEPENDENCIES walk starts from an accurate list.
		evalErr := &EvalError{Key: k, Cause: env.firstDepErr}
		committedDeps := make([]*key.Key, len(env.snapshot))
		committedValues := make([]any, len(env.snapshot))
		for i, s := range env.snapshot {
			committedDeps[i] = s.Key
			committedValues[i] = s.Value
		}
		prior := entry.priorCommittedDeps()
		for _, staleKey := range releaseStaleDeps(prior, committedDeps) {
			if staleEntry, ok := rt.store.Get(staleKey); ok {
				staleEntry.removeRdep(k)
			}
		}
		rdeps := entry.setValue(nil, evalErr, committedDeps, committedValues)
		rt.emit(ctx, k, "committed", map[string]any{"status": "error"})
		rt.afterCommit(k, rdeps)
		return
	}

	if result.Restart || env.missing {
		rt.metrics.IncRestart(k.Tag())
		rt.emit(ctx, k, "restarted", nil)
		stillWaiting := entry.markAwaitingRestart()
		if !stillWaiting {
			rt.frontier().push(k)
		}
		return
	}

	var evalErr *EvalError
	if result.Err != nil {
		evalErr = &EvalError{Key: k, Cause: result.Err}
	}

	committedDeps := make([]*key.Key, len(env.snapshot))
	committedValues := make([]any, len(env.snapshot))
	for i, s := range env.snapshot {
		committedDeps[i] = s.Key
		committedValues[i] = s.Value
	}

	prior := entry.priorCommittedDeps()
	for _, staleKey := range releaseStaleDeps(prior, committedDeps) {
		if staleEntry, ok := rt.store.Get(staleKey); ok {
			staleEntry.removeRdep(k)
		}
	}

	rdeps := entry.setValue(result.Value, evalErr, committedDeps, committedValues)
	status := "success"
	if evalErr != nil {
		status = "error"
	}
	rt.metrics.ObserveLatency(k.Tag(), status, time.Since(start))
	rt.emit(ctx, k, "committed", nil)
	rt.afterCommit(k, rdeps)
}

// afterCommit wakes every rdep that was waiting on k and decrements the
// outstanding counter now that k has reached Done.
func (rt *Runtime) afterCommit(k *key.Key, rdeps []*key.Key) {
	atomic.AddInt64(&rt.outstanding, -1)
	if rt.listener != nil {
		if entry, ok := rt.store.Get(k); ok {
			val, evalErr, _, _ := entry.readDone()
			var errv error
			if evalErr != nil {
				errv = evalErr.Cause
			}
			rt.listener.NodeCommitted(k, val, errv, entry.priorCommittedDeps())
		}
	}
	for _, rdepKey := range rdeps {
		rdepEntry, ok := rt.store.Get(rdepKey)
		if !ok {
			continue
		}
		if rdepEntry.signalDep(k) {
			rt.frontier().push(rdepKey)
		}
	}
}

// SignalExternal wakes a node suspended on Environment.AddExternalDep.
func (rt *Runtime) SignalExternal(k *key.Key) {
	entry, ok := rt.store.Get(k)
	if !ok {
		return
	}
	if entry.signalExternal() {
		rt.frontier().push(k)
	}
}

// monitor watches for a stalled evaluation (frontier empty, no worker
// busy, yet nodes remain Evaluating) and runs the cycle detector when it
// sees that state persist across consecutive checks, to rule out a
// transient lull between one node committing and its rdep being re-queued.
func (rt *Runtime) monitor(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	stalled := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt64(&rt.outstanding) == 0 {
				stalled = 0
				continue
			}
			if len(rt.frontier().ch) > 0 || atomic.LoadInt64(&rt.busy) > 0 {
				stalled = 0
				continue
			}
			stalled++
			if stalled < 3 {
				continue
			}
			stalled = 0
			rt.breakDeadlock(ctx)
		}
	}
}

// breakDeadlock runs cycle detection over every currently Evaluating node
// and fails each member of any cycle found with a CycleError, unblocking
// their rdeps so Evaluate can return an error instead of hanging forever.
func (rt *Runtime) breakDeadlock(ctx context.Context) {
	cycles := detectCycles(rt.store)
	if len(cycles) == 0 {
		return
	}
	rt.metrics.IncCycleDetected()
	for _, cycle := range cycles {
		for _, k := range cycle {
			entry, ok := rt.store.Get(k)
			if !ok {
				continue
			}
			if reg, ok := rt.registry.lookup(k.Tag()); ok {
				reg.evaluator.CleanUpState(k)
			}
			entry.clearComputeState()
			rdeps, did := entry.failWithCycle(cycle)
			if !did {
				continue
			}
			rt.emit(ctx, k, "cycle-detected", map[string]any{"size": len(cycle)})
			rt.afterCommit(k, rdeps)
		}
	}
}
