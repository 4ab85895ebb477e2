package engine_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/latticebuild/evalengine/engine"
	"github.com/latticebuild/evalengine/engine/key"
)

// partialSumArg names the partial-reevaluation node under test; partialLeafArg
// names one of its two concurrently-declared leaves.
type partialSumArg string

func (a partialSumArg) CacheKey() string { return string(a) }

const (
	partialSumTag  = "partial.sum"
	partialLeafTag = "partial.leaf"
)

// TestPartialReevaluationNeverRunsTheSameNodeConcurrently exercises Open
// Question 2's decision: a supports_partial_reevaluation evaluator may be
// restarted while some of its declared deps are still in flight, but the
// runtime still only ever has one invocation of that node's function
// running at a time (single-flight per node), so the function itself needs
// no internal locking to stay correct across restarts triggered by
// independently-resolving deps.
func TestPartialReevaluationNeverRunsTheSameNodeConcurrently(t *testing.T) {
	e := engine.New(engine.WithNumWorkers(8))

	var running int32
	var overlapped int32

	leafKey := func(name string) *key.Key {
		return e.Intern(partialLeafTag, key.StringArg(name), 0)
	}
	e.Register(partialLeafTag, engine.EvaluatorFunc(func(ctx context.Context, k *key.Key, env *engine.Environment) engine.ComputeResult {
		// Each leaf sleeps a little so the two leaves of one sum resolve at
		// different times, forcing at least one restart of the sum node.
		time.Sleep(2 * time.Millisecond)
		return engine.ComputeResult{Value: 1}
	}), nil)

	e.Register(partialSumTag, engine.EvaluatorFunc(func(ctx context.Context, k *key.Key, env *engine.Environment) engine.ComputeResult {
		if !atomic.CompareAndSwapInt32(&running, 0, 1) {
			atomic.AddInt32(&overlapped, 1)
		}
		defer atomic.StoreInt32(&running, 0)

		a, aok := env.GetValue(leafKey(string(k.Arg().(partialSumArg)) + ".a"))
		b, bok := env.GetValue(leafKey(string(k.Arg().(partialSumArg)) + ".b"))
		if !aok || !bok {
			return engine.ComputeResult{Restart: true}
		}
		return engine.ComputeResult{Value: a.(int) + b.(int)}
	}), nil)

	sumKey := e.Intern(partialSumTag, partialSumArg("s1"), key.CapSupportsPartialReevaluation)

	results, err := e.Evaluate(context.Background(), sumKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[sumKey] != 2 {
		t.Fatalf("expected sum 2, got %v", results[sumKey])
	}
	if atomic.LoadInt32(&overlapped) != 0 {
		t.Fatalf("expected the runtime to never invoke the same node's function concurrently, saw %d overlaps", overlapped)
	}
}
