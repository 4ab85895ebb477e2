package engine

import (
	"sync"

	"github.com/latticebuild/evalengine/engine/key"
)

// lifecycleState is the Node Entry's coarse state (spec.md section 3,
// "Lifecycle states"). "Non-existent" has no Go representation: it is the
// absence of an entry in the Node Store.
type lifecycleState int32

const (
	stateJustCreated lifecycleState = iota
	stateEvaluating
	stateDone
	stateDirty
)

func (s lifecycleState) String() string {
	switch s {
	case stateJustCreated:
		return "just-created"
	case stateEvaluating:
		return "evaluating"
	case stateDone:
		return "done"
	case stateDirty:
		return "dirty"
	default:
		return "unknown"
	}
}

// DirtyType distinguishes why a Done node was transitioned back to Dirty.
type DirtyType int

const (
	// DirtyChange means the node's own recorded inputs changed: it must be
	// rebuilt (its evaluator re-invoked), skipping the CheckDependencies
	// walk that would otherwise try to prove nothing changed.
	DirtyChange DirtyType = iota
	// DirtyAffected means some transitive input changed; the node must be
	// re-validated, but re-evaluation may be skipped entirely by change
	// pruning if its direct deps all turn out unchanged.
	DirtyAffected
)

// dirtySubState is the sub-state machine a node walks through while
// Evaluating as a result of having been marked dirty (spec.md section 4.3).
type dirtySubState int

const (
	subCheckDependencies dirtySubState = iota
	subNeedsRebuilding
	subRebuilding
)

// addRdepResult is returned by addReverseDepAndCheckIfDone, telling the
// caller what to do next with the entry it just declared a dependency on.
type addRdepResult int

const (
	// resultAlreadyDone means the entry already holds a committed value;
	// the caller should signal its own waiting node immediately.
	resultAlreadyDone addRdepResult = iota
	// resultNeedsScheduling means the caller just transitioned this entry
	// from JustCreated/Dirty into Evaluating and owns scheduling it.
	resultNeedsScheduling
	// resultAlreadyEvaluating means another in-flight evaluation will
	// eventually signal the caller; no action needed now.
	resultAlreadyEvaluating
)

// evalState tracks everything needed while a node is in the Evaluating
// lifecycle state, whether it is a brand-new node (never built before) or a
// Dirty node being re-validated. This is the spec's "dirty_state": "non-null
// iff the node is evaluating or has been marked dirty".
type evalState struct {
	subState dirtySubState
	dirty    DirtyType // meaningful only when this entry was Done before

	// priorValue/priorDeps/priorErr are the last committed build's outputs,
	// retained for change pruning (I3) and for the CheckDependencies walk,
	// which re-requests each previously declared dep one at a time and
	// compares its current value against the snapshot taken when this node
	// last committed.
	priorValue any
	priorErr   *EvalError
	priorDeps  []depSnapshot // flat, exactly as committed last build
	nextIdx    int           // CheckDependencies: index of next prior dep to re-request

	// pendingCheck is the single prior dep currently being re-validated
	// during CHECK_DEPENDENCIES, set while waiting for it to become Done and
	// consumed (and re-examined) on resume.
	pendingCheck *depSnapshot

	// groups accumulates the deps declared by the current evaluator
	// invocation sequence (append-only across restarts within one build).
	groups [][]*key.Key

	// pending is the set of currently-outstanding declared deps (declared
	// in this or an earlier restart of the same build, not yet Done). The
	// node becomes retry-ready when this set empties (or, for
	// partial-reevaluation keys, on any single signal), matching the
	// spec's "unsignaled-dep count".
	pending map[*key.Key]struct{}

	// awaitingRestart is true while the node sits idle waiting on deps; it
	// guards against enqueuing the same node twice from concurrent signals.
	awaitingRestart bool

	// scheduledOnce guards the "NEEDS_SCHEDULING exactly once per
	// evaluation" contract.
	scheduledOnce bool

	// external is true while the node is suspended on add_external_dep,
	// waiting for an out-of-band SignalExternal call rather than a key.
	external bool
}

// NodeEntry is the Engine's per-key record: value, declared deps, reverse
// deps, and lifecycle/dirty state. All mutating operations are synchronized
// on the entry's own mutex (spec.md section 5, "per-entry monitor").
type NodeEntry struct {
	mu sync.Mutex

	key   *key.Key
	state lifecycleState

	value any
	err   *EvalError
	// deps/depValues are the flattened, committed dependency list of the
	// last successful build and the value each dep held at that time, kept
	// in lockstep. deps backs dep/rdep symmetry bookkeeping on invalidation;
	// the pair backs the next CheckDependencies walk's per-dep comparison.
	deps      []*key.Key
	depValues []any
	rdeps     map[*key.Key]struct{}

	eval *evalState

	// computeState is the evaluator-owned handle created via
	// Environment.GetState (e.g. a worker-thread's goroutine handle). It
	// survives restarts of the same build and is cleared only when the
	// runtime calls Evaluator.CleanUpState for this key.
	computeState any

	// doneCh is closed exactly once, when the entry commits (transitions to
	// Done). Callers waiting on a root value select on this channel. It is
	// replaced (a fresh channel allocated) whenever the entry leaves Done
	// for Dirty, so late waiters from a prior build never observe a stale
	// close.
	doneCh chan struct{}
}

func newNodeEntry(k *key.Key) *NodeEntry {
	return &NodeEntry{
		key:    k,
		state:  stateJustCreated,
		rdeps:  make(map[*key.Key]struct{}),
		doneCh: make(chan struct{}),
	}
}

// Key returns the key this entry is associated with.
func (n *NodeEntry) Key() *key.Key { return n.key }

// getOrInitState returns the node's compute-state, creating it with factory
// on first use (Environment.GetState).
func (n *NodeEntry) getOrInitState(factory func() any) any {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.computeState == nil {
		n.computeState = factory()
	}
	return n.computeState
}

// clearComputeState discards any compute-state without invoking it, used
// when the cycle detector abandons an evaluation, after the evaluator's own
// CleanUpState has run.
func (n *NodeEntry) clearComputeState() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.computeState = nil
}

// snapshot is a lock-free-to-read copy used by Engine.Snapshot (read-only
// inspection) and by tests.
type snapshot struct {
	Key   *key.Key
	State string
	Deps  []*key.Key
	Rdeps []*key.Key
}

func (n *NodeEntry) snapshot() snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	rdeps := make([]*key.Key, 0, len(n.rdeps))
	for k := range n.rdeps {
		rdeps = append(rdeps, k)
	}
	deps := append([]*key.Key(nil), n.deps...)
	return snapshot{Key: n.key, State: n.state.String(), Deps: deps, Rdeps: rdeps}
}

// addReverseDepAndCheckIfDone registers rdep (nil for a top-level root
// request) as an interested party on n, and reports what the caller must do
// next. It always records the rdep before inspecting state, so dep/rdep
// symmetry (I1) holds the instant a declared dependency becomes visible.
func (n *NodeEntry) addReverseDepAndCheckIfDone(rdep *key.Key) addRdepResult {
	n.mu.Lock()
	defer n.mu.Unlock()

	if rdep != nil {
		n.rdeps[rdep] = struct{}{}
	}

	switch n.state {
	case stateDone:
		return resultAlreadyDone
	case stateEvaluating:
		if n.eval.scheduledOnce {
			return resultAlreadyEvaluating
		}
		n.eval.scheduledOnce = true
		return resultNeedsScheduling
	case stateJustCreated:
		n.state = stateEvaluating
		n.eval = &evalState{subState: subNeedsRebuilding, scheduledOnce: true}
		return resultNeedsScheduling
	case stateDirty:
		n.state = stateEvaluating
		n.eval.scheduledOnce = true
		n.eval.priorDeps = zipDepSnapshots(n.deps, n.depValues)
		n.eval.priorValue = n.value
		n.eval.priorErr = n.err
		return resultNeedsScheduling
	default:
		panicInvariant("addReverseDepAndCheckIfDone: unexpected state %v", n.state)
		return resultAlreadyEvaluating
	}
}

// openGroup opens a new dep group for the current evaluator
// invocation and returns the group index the caller should append to.
func (n *NodeEntry) openGroup() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.eval.groups = append(n.eval.groups, nil)
	return len(n.eval.groups) - 1
}

// recordDeclaredDep appends depKey to the given group (append-only during
// an evaluation) and, if depKey is not already Done and not already being
// waited on from an earlier restart of this same build, adds it to the
// pending set.
func (n *NodeEntry) recordDeclaredDep(group int, depKey *key.Key, depDone bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.eval.groups[group] = append(n.eval.groups[group], depKey)
	if !depDone {
		if n.eval.pending == nil {
			n.eval.pending = make(map[*key.Key]struct{})
		}
		n.eval.pending[depKey] = struct{}{}
	}
}

// markAwaitingRestart flips the node into "idle, waiting for deps" and
// reports whether it actually has anything left to wait for (it may not,
// if every declared dep resolved synchronously between declaration and
// this call — the caller should re-enqueue immediately in that case).
func (n *NodeEntry) markAwaitingRestart() (stillWaiting bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.eval.pending) == 0 && !n.eval.external {
		return false
	}
	n.eval.awaitingRestart = true
	return true
}

// signalDep removes depKey from the pending set and reports whether the
// node should be re-enqueued now: either all outstanding deps from this
// build round have resolved, or the node tolerates partial reevaluation and
// was sitting idle.
func (n *NodeEntry) signalDep(depKey *key.Key) (readyToRetry bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.eval == nil {
		return false
	}
	delete(n.eval.pending, depKey)
	ready := len(n.eval.pending) == 0 || n.key.Capabilities().Has(key.CapSupportsPartialReevaluation)
	if ready && n.eval.awaitingRestart {
		n.eval.awaitingRestart = false
		return true
	}
	return false
}

// signalExternal wakes a node suspended on add_external_dep.
func (n *NodeEntry) signalExternal() (readyToRetry bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.eval == nil || !n.eval.external {
		return false
	}
	n.eval.external = false
	if n.eval.awaitingRestart && len(n.eval.pending) == 0 {
		n.eval.awaitingRestart = false
		return true
	}
	return false
}

// markExternal records that the current evaluation is suspended on an
// out-of-band event rather than a declared key.
func (n *NodeEntry) markExternal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.eval.external = true
}

// currentGroups returns a copy of the dep groups declared so far this
// evaluation, one inner slice per group, in declaration order.
func (n *NodeEntry) currentGroups() [][]*key.Key {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([][]*key.Key, len(n.eval.groups))
	copy(out, n.eval.groups)
	return out
}

// zipDepSnapshots pairs a committed dep list with the values recorded for
// it at commit time, for re-validation during a future CHECK_DEPENDENCIES
// walk. The two slices are always kept the same length by setValue.
func zipDepSnapshots(deps []*key.Key, values []any) []depSnapshot {
	if len(deps) == 0 {
		return nil
	}
	out := make([]depSnapshot, len(deps))
	for i, k := range deps {
		out[i] = depSnapshot{Key: k, Value: values[i]}
	}
	return out
}

// resumeOrNextCheckDep returns the prior dep the CHECK_DEPENDENCIES walk
// should look at right now: one left over from before a suspension
// (pendingCheck), or else the next unvisited entry in priorDeps. Returns
// nil once every previously declared dep has been visited.
func (n *NodeEntry) resumeOrNextCheckDep() *depSnapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.eval.pendingCheck != nil {
		d := n.eval.pendingCheck
		n.eval.pendingCheck = nil
		return d
	}
	if n.eval.nextIdx >= len(n.eval.priorDeps) {
		return nil
	}
	d := n.eval.priorDeps[n.eval.nextIdx]
	n.eval.nextIdx++
	return &d
}

// beginCheckWait records dep as the single dependency CHECK_DEPENDENCIES is
// currently suspended on, so a later resume can re-examine the same prior
// snapshot instead of advancing to the next one.
func (n *NodeEntry) beginCheckWait(dep depSnapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.eval.pendingCheck = &dep
	n.eval.pending = map[*key.Key]struct{}{dep.Key: {}}
}

// markNeedsRebuilding transitions CHECK_DEPENDENCIES -> NEEDS_REBUILDING:
// at least one prior dep changed, so the evaluator function must actually
// run.
func (n *NodeEntry) markNeedsRebuilding() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.eval.subState = subNeedsRebuilding
	n.eval.dirty = DirtyChange
}

// subState reports the current dirty sub-state; used by the runtime to
// decide whether to invoke the evaluator function or keep walking prior
// deps.
func (n *NodeEntry) subState() dirtySubState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.eval.subState
}

// commitUnchanged implements change pruning / the CHECK_DEPENDENCIES "all
// deps signal unchanged" path: the node becomes Done again with its prior
// value, without invoking the evaluator function, and its rdeps are not
// re-signaled as changed (I3). It returns the rdeps to wake for completion
// (they still need ALREADY_DONE-style signaling, just not a "changed"
// propagation).
func (n *NodeEntry) commitUnchanged() []*key.Key {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.value = n.eval.priorValue
	n.err = n.eval.priorErr
	// deps are unchanged by definition here; leave n.deps as-is.
	n.state = stateDone
	n.eval = nil
	rdeps := n.rdepsLocked()
	close(n.doneCh)
	return rdeps
}

// setValue commits a freshly computed value/error as this node's result and
// returns the rdeps that must be signaled. Declared-but-unused prior deps
// (deps that were part of a previous build but were not re-declared this
// time, i.e. a retracted dep) are dropped from rdeps bookkeeping by the
// caller via releaseStaleDeps before calling setValue. committedDeps and
// committedValues must be the same length and in lockstep order; they
// become next build's CHECK_DEPENDENCIES comparison snapshot.
func (n *NodeEntry) setValue(value any, err *EvalError, committedDeps []*key.Key, committedValues []any) []*key.Key {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.value = value
	n.err = err
	n.deps = committedDeps
	n.depValues = committedValues
	n.state = stateDone
	n.eval = nil
	rdeps := n.rdepsLocked()
	close(n.doneCh)
	return rdeps
}

// priorCommittedDeps returns the dep list from the last commit, read before
// a new commit overwrites it, so the caller can compute retracted deps via
// releaseStaleDeps.
func (n *NodeEntry) priorCommittedDeps() []*key.Key {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*key.Key(nil), n.deps...)
}

// waitEdges returns the keys this node is currently blocked on: the
// declared-but-unsignaled deps of an in-progress evaluation, or the single
// prior dep a CHECK_DEPENDENCIES walk is re-validating, or nothing if the
// node is not Evaluating. Used by the cycle detector to build the
// wait-for graph over stalled nodes.
func (n *NodeEntry) waitEdges() []*key.Key {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != stateEvaluating || n.eval == nil {
		return nil
	}
	if n.eval.pendingCheck != nil {
		return []*key.Key{n.eval.pendingCheck.Key}
	}
	out := make([]*key.Key, 0, len(n.eval.pending))
	for k := range n.eval.pending {
		out = append(out, k)
	}
	return out
}

// failWithCycle forcibly commits this node with a CycleError, if it is
// still Evaluating. It reports the rdeps to signal and whether it actually
// performed the transition (false if another goroutine already resolved
// this node by the time the cycle detector reached it).
func (n *NodeEntry) failWithCycle(members []*key.Key) (rdeps []*key.Key, did bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != stateEvaluating {
		return nil, false
	}
	n.err = &EvalError{Key: n.key, Cause: &CycleError{Members: members}}
	n.value = nil
	n.state = stateDone
	n.eval = nil
	rdeps = n.rdepsLocked()
	close(n.doneCh)
	return rdeps, true
}

func (n *NodeEntry) rdepsLocked() []*key.Key {
	out := make([]*key.Key, 0, len(n.rdeps))
	for k := range n.rdeps {
		out = append(out, k)
	}
	return out
}

// readDone returns the committed value/error if the entry is Done, plus a
// channel to wait on otherwise (never both).
func (n *NodeEntry) readDone() (value any, evalErr *EvalError, done bool, wait chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == stateDone {
		return n.value, n.err, true, nil
	}
	return nil, nil, false, n.doneCh
}

// markDirty transitions Done -> Dirty, retaining the prior value for change
// pruning, and reports whether the entry was Done (and so was actually
// transitioned).
func (n *NodeEntry) markDirty(dt DirtyType) (wasDone bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != stateDone {
		return false
	}
	n.state = stateDirty
	n.doneCh = make(chan struct{})
	// A DirtyChange node goes straight to its evaluator; a DirtyAffected node
	// first walks its prior deps. The prior value and deps are filled in by
	// addReverseDepAndCheckIfDone's stateDirty branch when it is requested.
	sub := subCheckDependencies
	if dt == DirtyChange {
		sub = subNeedsRebuilding
	}
	n.eval = &evalState{subState: sub, dirty: dt}
	return true
}

// removeRdep drops rdep from this entry's reverse-dep set, restoring I1
// after a retracted dependency or after invalidation cleanup.
func (n *NodeEntry) removeRdep(rdep *key.Key) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.rdeps, rdep)
}

// releaseStaleDeps computes which of the previously committed deps were not
// re-declared in the current evaluation (a "retracted dep") so the caller
// can remove this node from their rdep sets before committing the new
// value, keeping I1 correct across a build in which a node asks for fewer
// deps than it used to.
func releaseStaleDeps(prior, current []*key.Key) []*key.Key {
	if len(prior) == 0 {
		return nil
	}
	cur := make(map[*key.Key]struct{}, len(current))
	for _, k := range current {
		cur[k] = struct{}{}
	}
	var stale []*key.Key
	for _, k := range prior {
		if _, ok := cur[k]; !ok {
			stale = append(stale, k)
		}
	}
	return stale
}
