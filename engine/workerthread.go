package engine

import (
	"context"
	"sync"

	"github.com/latticebuild/evalengine/engine/key"
)

// WorkerThread is a reusable pattern for an Evaluator Function that wraps
// a single long-running, blocking operation (a network fetch, a
// subprocess) that should run at most once per build even though the
// evaluator itself may be invoked again on every restart.
//
// Typical usage inside an Evaluator.Compute:
//
//	wt := env.GetState(func() any { return NewWorkerThread() }).(*WorkerThread)
//	if done, value, err := wt.Result(); done {
//	    return ComputeResult{Value: value, Err: err}
//	}
//	wt.Start(func() (any, error) { return doSlowFetch(ctx) }, func() {
//	    runtimeSignal(k) // call Engine.SignalExternal(k) when work completes
//	})
//	env.AddExternalDep()
//	return ComputeResult{Restart: true}
type WorkerThread struct {
	mu      sync.Mutex
	started bool
	done    bool
	value   any
	err     error
}

// NewWorkerThread returns an idle WorkerThread, suitable as the factory
// passed to Environment.GetState.
func NewWorkerThread() *WorkerThread { return &WorkerThread{} }

// Result reports whether the wrapped operation has finished, and its
// outcome if so.
func (w *WorkerThread) Result() (done bool, value any, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done, w.value, w.err
}

// Start launches fn in a new goroutine exactly once — later calls while
// the first is still running, or after it has completed, are no-ops.
// onDone is called after fn's result is recorded, from fn's own
// goroutine; it should notify the engine via Engine.SignalExternal so the
// suspended node is re-queued.
func (w *WorkerThread) Start(fn func() (any, error), onDone func()) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	go func() {
		value, err := fn()
		w.mu.Lock()
		w.done = true
		w.value = value
		w.err = err
		w.mu.Unlock()
		onDone()
	}()
}

// SignalOnDone returns an onDone callback bound to a specific engine and
// key, for the common case of Start(fn, engine.SignalOnDone(ctx, e, k)).
// The callback does nothing once ctx is done.
func SignalOnDone(ctx context.Context, e *Engine, k *key.Key) func() {
	return func() {
		select {
		case <-ctx.Done():
			return
		default:
			e.SignalExternal(k)
		}
	}
}
