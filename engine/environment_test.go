package engine

import (
	"context"
	"testing"

	"github.com/latticebuild/evalengine/engine/key"
)

func newTestRuntime() *Runtime {
	return newRuntime(NewNodeStore(), key.NewInterner(), NewRegistry())
}

func newEvaluatingEnv(t *testing.T, rt *Runtime, self *key.Key) *Environment {
	t.Helper()
	entry := rt.store.CreateIfAbsent(self)
	entry.addReverseDepAndCheckIfDone(nil)
	return newEnvironment(context.Background(), rt, entry)
}

func TestGetValueReportsMissingForAnUnresolvedDep(t *testing.T) {
	rt := newTestRuntime()
	self := testKey(t, "self", "a")
	dep := testKey(t, "dep", "a")

	env := newEvaluatingEnv(t, rt, self)
	if _, ok := env.GetValue(dep); ok {
		t.Fatalf("expected GetValue to report a never-built dep as missing")
	}
	if !env.ValuesMissing() {
		t.Fatalf("expected ValuesMissing to be true after a missing GetValue")
	}
}

func TestGetValueReturnsCommittedValue(t *testing.T) {
	rt := newTestRuntime()
	self := testKey(t, "self", "a")
	dep := testKey(t, "dep", "a")

	depEntry := rt.store.CreateIfAbsent(dep)
	depEntry.addReverseDepAndCheckIfDone(nil)
	depEntry.setValue("dep-value", nil, nil, nil)

	env := newEvaluatingEnv(t, rt, self)
	val, ok := env.GetValue(dep)
	if !ok || val != "dep-value" {
		t.Fatalf("expected GetValue to return the committed value, got (%v, %v)", val, ok)
	}
	if env.ValuesMissing() {
		t.Fatalf("expected ValuesMissing to stay false when every declared dep resolved")
	}
}

func TestGetValueTreatsDepWithOnlyAnErrorAsMissing(t *testing.T) {
	rt := newTestRuntime()
	self := testKey(t, "self", "a")
	dep := testKey(t, "dep", "a")

	depEntry := rt.store.CreateIfAbsent(dep)
	depEntry.addReverseDepAndCheckIfDone(nil)
	depEntry.setValue(nil, &EvalError{Key: dep, Cause: ErrCancelled}, nil, nil)

	env := newEvaluatingEnv(t, rt, self)
	if _, ok := env.GetValue(dep); ok {
		t.Fatalf("expected GetValue to report a dep that committed only an error as missing")
	}
	if !env.hasFailedDep {
		t.Fatalf("expected hasFailedDep to be recorded so the runtime can fail fast")
	}
}

func TestGetValueOrThrowSurfacesTheErrorAlongsideAnyValue(t *testing.T) {
	rt := newTestRuntime()
	self := testKey(t, "self", "a")
	dep := testKey(t, "dep", "a")

	depEntry := rt.store.CreateIfAbsent(dep)
	depEntry.addReverseDepAndCheckIfDone(nil)
	depEntry.setValue("partial", &EvalError{Key: dep, Cause: ErrCancelled}, nil, nil)

	env := newEvaluatingEnv(t, rt, self)
	val, err, ok := env.GetValueOrThrow(dep)
	if !ok {
		t.Fatalf("expected GetValueOrThrow to report ok for a Done dep")
	}
	if err != ErrCancelled {
		t.Fatalf("expected GetValueOrThrow to surface the dep's error, got %v", err)
	}
	if val != "partial" {
		t.Fatalf("expected GetValueOrThrow to still return the value alongside the error, got %v", val)
	}
}

func TestGetValuesDeclaresEveryKeyAndReportsPartialPresence(t *testing.T) {
	rt := newTestRuntime()
	self := testKey(t, "self", "a")
	done := testKey(t, "dep", "done")
	missing := testKey(t, "dep", "missing")

	doneEntry := rt.store.CreateIfAbsent(done)
	doneEntry.addReverseDepAndCheckIfDone(nil)
	doneEntry.setValue("v", nil, nil, nil)

	env := newEvaluatingEnv(t, rt, self)
	values, allPresent := env.GetValues([]*key.Key{done, missing})
	if allPresent {
		t.Fatalf("expected allPresent to be false when one dep is missing")
	}
	if len(values) != 2 {
		t.Fatalf("expected the returned map to contain both keys, got %d", len(values))
	}
	if values[done] != "v" {
		t.Fatalf("expected the done dep's value to be present, got %v", values[done])
	}
	if values[missing] != nil {
		t.Fatalf("expected the missing dep's value to be nil, got %v", values[missing])
	}
}

func TestAddExternalDepMarksMissingAndSelfEntryExternal(t *testing.T) {
	rt := newTestRuntime()
	self := testKey(t, "self", "a")
	env := newEvaluatingEnv(t, rt, self)

	env.AddExternalDep()
	if !env.ValuesMissing() {
		t.Fatalf("expected AddExternalDep to mark the evaluation as missing")
	}

	entry, _ := rt.store.Get(self)
	entry.mu.Lock()
	external := entry.eval.external
	entry.mu.Unlock()
	if !external {
		t.Fatalf("expected the node entry's eval state to record external=true")
	}
}

func TestGetStatePreservesTheSameHandleAcrossCalls(t *testing.T) {
	rt := newTestRuntime()
	self := testKey(t, "self", "a")
	env := newEvaluatingEnv(t, rt, self)

	calls := 0
	factory := func() any { calls++; return "state" }

	first := env.GetState(factory)
	second := env.GetState(factory)
	if first != second {
		t.Fatalf("expected GetState to return the same handle across calls within one evaluation")
	}
	if calls != 1 {
		t.Fatalf("expected the factory to run exactly once, got %d calls", calls)
	}
}
