package engine

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/latticebuild/evalengine/engine/emit"
	"github.com/latticebuild/evalengine/engine/metrics"
)

// Option configures an Engine at construction time, following the same
// functional-options shape as the teacher's graph.Option.
type Option func(*Runtime)

// WithNumWorkers sets the size of the worker pool draining the frontier.
// Default: 8.
func WithNumWorkers(n int) Option {
	return func(rt *Runtime) {
		if n > 0 {
			rt.numWorkers = n
		}
	}
}

// WithQueueDepth sets the frontier's channel capacity. Enqueuing a key
// beyond this depth blocks the calling goroutine (backpressure), per
// spec.md section 5. Default: 1024.
func WithQueueDepth(n int) Option {
	return func(rt *Runtime) {
		if n > 0 {
			rt.queueDepth = n
		}
	}
}

// WithKeepGoing controls whether Evaluate stops at the first node error
// (the default) or keeps evaluating everything reachable and reports the
// first error encountered only after the whole graph settles.
func WithKeepGoing(keepGoing bool) Option {
	return func(rt *Runtime) { rt.keepGoing = keepGoing }
}

// WithEmitter attaches an observability sink. Default: emit.NewNullEmitter().
func WithEmitter(e emit.Emitter) Option {
	return func(rt *Runtime) {
		if e != nil {
			rt.emitter = e
		}
	}
}

// WithMetrics attaches a Prometheus metrics collector. Default: nil
// (disabled; all Metrics methods are safe to call on a nil receiver).
func WithMetrics(m *metrics.Metrics) Option {
	return func(rt *Runtime) { rt.metrics = m }
}

// WithIdleGC sets the rate at which the engine is permitted to shrink its
// Key Interner between evaluations (SPEC_FULL.md section 5, idle-period
// GC). Default: once per second.
func WithIdleGC(every time.Duration) Option {
	return func(rt *Runtime) {
		if every > 0 {
			rt.idleGC = rate.NewLimiter(rate.Every(every), 1)
		}
	}
}

// WithGraphInspectionListener attaches a read-only observer notified after
// every node commit (SPEC_FULL.md section 5).
func WithGraphInspectionListener(l GraphInspectionListener) Option {
	return func(rt *Runtime) { rt.listener = l }
}
