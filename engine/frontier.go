package engine

import "github.com/latticebuild/evalengine/engine/key"

// frontier is the Runtime's ready queue: node keys that are runnable right
// now (newly created, newly dirty, or newly re-signaled) and waiting for a
// worker. spec.md is explicit that "no ordering is guaranteed between
// unrelated nodes", so unlike the teacher's OrderKey-ordered heap
// (deterministic replay of a DAG with real scheduling priorities), this is
// a plain bounded FIFO channel: backpressure on a full frontier is the only
// scheduling property the engine promises.
type frontier struct {
	ch chan *key.Key
}

func newFrontier(depth int) *frontier {
	if depth <= 0 {
		depth = 1
	}
	return &frontier{ch: make(chan *key.Key, depth)}
}

// push enqueues k, blocking if the frontier is full. Callers must not hold
// a NodeEntry lock while calling push: a full bounded channel can block
// until a worker drains it, and that worker may need the same lock to make
// progress.
func (f *frontier) push(k *key.Key) {
	f.ch <- k
}

// tryPush enqueues k without blocking, reporting whether it fit. Used by
// signal paths that run on a worker goroutine's own stack and must not
// deadlock against a full frontier; callers fall back to a buffered
// "pending ready" list drained opportunistically (see runtime.go).
func (f *frontier) tryPush(k *key.Key) bool {
	select {
	case f.ch <- k:
		return true
	default:
		return false
	}
}

func (f *frontier) pop() <-chan *key.Key { return f.ch }

func (f *frontier) close() { close(f.ch) }
