package demo

import (
	"context"
	"time"

	"github.com/latticebuild/evalengine/engine"
	"github.com/latticebuild/evalengine/engine/key"
)

// SlowFetchTag identifies SlowFetch, an evaluator that simulates a
// blocking I/O call (a repository fetch, an archive download) using the
// worker-thread handoff pattern (engine/workerthread.go) instead of
// blocking its own worker goroutine for the duration.
const SlowFetchTag = "demo.slowfetch"

// slowFetchEngine is the *engine.Engine SlowFetch signals back on
// completion; set by Register.
var slowFetchEngine *engine.Engine

// SlowFetch simulates fetching its argument's name after a short delay,
// suspending via AddExternalDep/WorkerThread rather than blocking the
// calling worker for the delay's duration.
var SlowFetch = engine.EvaluatorFunc(func(ctx context.Context, k *key.Key, env *engine.Environment) engine.ComputeResult {
	wt := env.GetState(func() any { return engine.NewWorkerThread() }).(*engine.WorkerThread)
	if done, value, err := wt.Result(); done {
		return engine.ComputeResult{Value: value, Err: err}
	}
	name := string(k.Arg().(StringArg))
	wt.Start(func() (any, error) {
		select {
		case <-time.After(5 * time.Millisecond):
			return "fetched:" + name, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, engine.SignalOnDone(ctx, slowFetchEngine, k))
	env.AddExternalDep()
	return engine.ComputeResult{Restart: true}
})

// StringArg is a key.Arg wrapping a bare string, for evaluators whose
// argument already is a natural identifier.
type StringArg = key.StringArg

// SlowFetchKey interns a SlowFetch key for name.
func SlowFetchKey(name string) *key.Key {
	return internerFor.Intern(SlowFetchTag, key.StringArg(name), 0)
}
