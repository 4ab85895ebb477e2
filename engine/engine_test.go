package engine_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/latticebuild/evalengine/engine"
	"github.com/latticebuild/evalengine/engine/demo"
	"github.com/latticebuild/evalengine/engine/emit"
	"github.com/latticebuild/evalengine/engine/key"
)

func newTestEngine() *engine.Engine {
	e := engine.New(engine.WithNumWorkers(4))
	demo.Register(e)
	return e
}

func TestEvaluateChainComputesThroughDeps(t *testing.T) {
	e := newTestEngine()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	results, err := e.Evaluate(ctx, demo.Key(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := results[demo.Key(5)]; got != 5 {
		t.Fatalf("expected Chain(5) == 5, got %v", got)
	}
}

func TestEvaluateFanInSumsConcurrentDeps(t *testing.T) {
	e := newTestEngine()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	results, err := e.Evaluate(ctx, demo.FanInKey(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// FanOut(0)+FanOut(1)+FanOut(2)+FanOut(3) == 0+1+2+3
	if got := results[demo.FanInKey(0)]; got != 6 {
		t.Fatalf("expected FanIn(0) == 6, got %v", got)
	}
}

func TestEvaluateIsRepeatableWithoutInvalidate(t *testing.T) {
	e := newTestEngine()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := e.Evaluate(ctx, demo.Key(3))
	if err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	second, err := e.Evaluate(ctx, demo.Key(3))
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	if first[demo.Key(3)] != second[demo.Key(3)] {
		t.Fatalf("expected repeated evaluate with no invalidation to agree: %v != %v",
			first[demo.Key(3)], second[demo.Key(3)])
	}
}

func TestEvaluateStampsEveryEventWithAPerCallContextID(t *testing.T) {
	buf := emit.NewBufferedEmitter()
	e := engine.New(engine.WithNumWorkers(4), engine.WithEmitter(buf))
	demo.Register(e)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := e.Evaluate(ctx, demo.Key(2)); err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	firstRun := contextIDs(t, buf.All())

	buf.Clear("")
	if _, err := e.Evaluate(ctx, demo.Key(2)); err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	secondRun := contextIDs(t, buf.All())

	if firstRun == secondRun {
		t.Fatalf("expected distinct ContextIDs across separate Evaluate calls, both got %q", firstRun)
	}
}

// contextIDs asserts every event in events shares one ContextID and returns it.
func contextIDs(t *testing.T, events []emit.Event) string {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("expected at least one event")
	}
	want := events[0].ContextID
	if want == "" {
		t.Fatal("expected a non-empty ContextID")
	}
	for _, ev := range events {
		if ev.ContextID != want {
			t.Fatalf("expected every event in one Evaluate call to share a ContextID, got %q and %q", want, ev.ContextID)
		}
	}
	return want
}

func TestEvaluateDetectsCycle(t *testing.T) {
	e := newTestEngine()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := e.Evaluate(ctx, demo.CycleKey(0))
	if err == nil {
		t.Fatalf("expected a cycle error, got nil")
	}
	var cycleErr *engine.CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *engine.CycleError, got %T: %v", err, err)
	}
	if len(cycleErr.Members) == 0 {
		t.Fatalf("expected at least one cycle member")
	}
}

func TestInvalidateTriggersRebuild(t *testing.T) {
	e := engine.New(engine.WithNumWorkers(2))
	var calls int64
	const tag = "test.counter"
	e.Register(tag, engine.EvaluatorFunc(func(ctx context.Context, k *key.Key, env *engine.Environment) engine.ComputeResult {
		return engine.ComputeResult{Value: atomic.AddInt64(&calls, 1)}
	}), nil)
	k := e.Intern(tag, key.StringArg("only"), 0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := e.Evaluate(ctx, k)
	if err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	if first[k] != int64(1) {
		t.Fatalf("expected first build to invoke the evaluator once, got %v", first[k])
	}

	second, err := e.Evaluate(ctx, k)
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	if second[k] != int64(1) {
		t.Fatalf("expected an unchanged re-evaluate to skip the evaluator, got %v", second[k])
	}

	e.Invalidate(k)
	third, err := e.Evaluate(ctx, k)
	if err != nil {
		t.Fatalf("third evaluate: %v", err)
	}
	if third[k] != int64(2) {
		t.Fatalf("expected Invalidate to force a rebuild, got %v", third[k])
	}
}

func TestMarkAffectedPropagatesToReverseDeps(t *testing.T) {
	e := newTestEngine()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := e.Evaluate(ctx, demo.Key(4)); err != nil {
		t.Fatalf("initial evaluate: %v", err)
	}

	e.MarkAffected(demo.Key(0))

	snaps := e.Snapshot()
	found := false
	for _, s := range snaps {
		if s.Key == demo.Key(4) {
			found = true
			if s.State != "dirty" {
				t.Fatalf("expected Chain(4) to be marked dirty by its transitive dependency on Chain(0), got %q", s.State)
			}
		}
	}
	if !found {
		t.Fatalf("expected Chain(4) to still be tracked in the store")
	}

	results, err := e.Evaluate(ctx, demo.Key(4))
	if err != nil {
		t.Fatalf("re-evaluate: %v", err)
	}
	if results[demo.Key(4)] != 4 {
		t.Fatalf("expected re-evaluate after MarkAffected to reproduce the same value, got %v", results[demo.Key(4)])
	}
}
