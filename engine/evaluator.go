package engine

import (
	"context"

	"github.com/latticebuild/evalengine/engine/key"
)

// ComputeResult is what an Evaluator Function returns for one invocation.
// Exactly one of "produced a value/error" or Restart is true in spirit:
// Restart is set whenever the function observed a missing dependency and
// could not complete, regardless of whether Value/Err also hold partial
// data (partial-reevaluation evaluators may legitimately return both).
type ComputeResult struct {
	Value   any
	Err     error
	Restart bool
}

// Evaluator is the registry-dispatched implementation for one function-tag
// (design note "Dynamic dispatch over evaluators": a registry mapping
// function-tag to evaluator, all evaluators sharing one capability set).
type Evaluator interface {
	// Compute runs one invocation of the evaluator for k. It may be called
	// more than once for the same key across restarts; see ComputeResult
	// for how an invocation asks to be restarted.
	Compute(ctx context.Context, k *key.Key, env *Environment) ComputeResult

	// CleanUpState releases any per-key compute-state (see
	// Environment.GetState) when the runtime abandons this node's
	// evaluation because the cycle detector found a cycle through it. It
	// is not called when the top-level Evaluate call is cancelled.
	// Evaluators with no persistent state can embed NoCleanup to satisfy
	// this trivially.
	CleanUpState(k *key.Key)
}

// NoCleanup is embeddable by Evaluator implementations that keep no
// per-key compute-state and so have nothing to release.
type NoCleanup struct{}

// CleanUpState implements Evaluator.
func (NoCleanup) CleanUpState(*key.Key) {}

// EvaluatorFunc adapts a plain function to the Evaluator interface for
// evaluators with no compute-state to clean up, mirroring the teacher's
// NodeFunc adapter.
type EvaluatorFunc func(ctx context.Context, k *key.Key, env *Environment) ComputeResult

// Compute implements Evaluator.
func (f EvaluatorFunc) Compute(ctx context.Context, k *key.Key, env *Environment) ComputeResult {
	return f(ctx, k, env)
}

// CleanUpState implements Evaluator.
func (EvaluatorFunc) CleanUpState(*key.Key) {}

// Equality is the caller-supplied value-equality function for a
// function-tag's committed values, used only for change pruning (spec.md
// section 3, "Value"). If a tag registers no Equality, values are compared
// with reflect.DeepEqual.
type Equality func(a, b any) bool
