// Package demo holds small Evaluator Functions exercised by the engine's
// own integration tests: a dependency chain, a fan-out/join, an
// intentional cycle, and a worker-thread-backed slow fetch. None of these
// are meant to be imported by real callers; they exist to give
// engine_test.go concrete, readable evaluators to build graphs out of.
package demo

import (
	"context"
	"fmt"

	"github.com/latticebuild/evalengine/engine"
	"github.com/latticebuild/evalengine/engine/key"
)

// IntArg is a key.Arg for evaluators keyed by a small integer, such as
// Chain's position in its sequence.
type IntArg int

// CacheKey implements key.Arg.
func (a IntArg) CacheKey() string { return fmt.Sprintf("%d", int(a)) }

// ChainTag identifies Chain's function-tag: Chain(n) depends on
// Chain(n-1) and adds one, bottoming out at Chain(0) == 0. A deep chain
// exercises the restart protocol once per link.
const ChainTag = "demo.chain"

// Chain computes key.Key Intern(ChainTag, IntArg(n)) as n, by depending on
// n-1 the first time it's asked and adding one to the result.
var Chain = engine.EvaluatorFunc(func(ctx context.Context, k *key.Key, env *engine.Environment) engine.ComputeResult {
	n := int(k.Arg().(IntArg))
	if n == 0 {
		return engine.ComputeResult{Value: 0}
	}
	prev := Key(n - 1)
	val, ok := env.GetValue(prev)
	if !ok {
		return engine.ComputeResult{Restart: true}
	}
	return engine.ComputeResult{Value: val.(int) + 1}
})

// Key interns the Chain key for position n against interner.
func Key(n int) *key.Key { return internerFor.Intern(ChainTag, IntArg(n), 0) }

// internerFor is set by Register so Key can be called without threading an
// *engine.Engine through every call site in tests.
var internerFor *engine.Engine

// Register associates Chain (and the other evaluators in this package)
// with e's registry and remembers e for Key/FanOutKey/CycleKey.
func Register(e *engine.Engine) {
	internerFor = e
	slowFetchEngine = e
	e.Register(ChainTag, Chain, nil)
	e.Register(FanOutTag, FanOut, nil)
	e.Register(FanInTag, FanIn, nil)
	e.Register(CycleTag, Cycle, nil)
	e.Register(SlowFetchTag, SlowFetch, nil)
}

// FanOutTag identifies a leaf evaluator with no deps, used as one of
// FanIn's several concurrently-declared inputs.
const FanOutTag = "demo.fanout"

// FanOut computes its own argument's int value directly, with no deps —
// FanIn declares several of these in one GetValues call.
var FanOut = engine.EvaluatorFunc(func(ctx context.Context, k *key.Key, env *engine.Environment) engine.ComputeResult {
	return engine.ComputeResult{Value: int(k.Arg().(IntArg))}
})

// FanOutKey interns a FanOut leaf for value n.
func FanOutKey(n int) *key.Key { return internerFor.Intern(FanOutTag, IntArg(n), 0) }

// FanInTag identifies FanIn, the join over a fixed width of FanOut leaves.
const FanInTag = "demo.fanin"

// fanInWidth is how many FanOut leaves FanIn sums.
const fanInWidth = 4

// FanIn sums fanInWidth FanOut leaves, declared as one dep group so they
// may be evaluated concurrently (spec.md section 6, get_values).
var FanIn = engine.EvaluatorFunc(func(ctx context.Context, k *key.Key, env *engine.Environment) engine.ComputeResult {
	base := int(k.Arg().(IntArg))
	deps := make([]*key.Key, fanInWidth)
	for i := range deps {
		deps[i] = FanOutKey(base + i)
	}
	values, ok := env.GetValues(deps)
	if !ok {
		return engine.ComputeResult{Restart: true}
	}
	sum := 0
	for _, dep := range deps {
		sum += values[dep].(int)
	}
	return engine.ComputeResult{Value: sum}
})

// FanInKey interns a FanIn join rooted at base.
func FanInKey(base int) *key.Key { return internerFor.Intern(FanInTag, IntArg(base), 0) }

// CycleTag identifies Cycle, an evaluator whose key n depends on key n+1
// modulo a fixed ring size — used to build a graph with no possible
// topological order so the runtime's deadlock-triggered cycle detector
// has something to find.
const CycleTag = "demo.cycle"

const cycleRingSize = 3

// Cycle depends on the next node in a fixed-size ring, guaranteeing a
// cycle regardless of which member is requested first.
var Cycle = engine.EvaluatorFunc(func(ctx context.Context, k *key.Key, env *engine.Environment) engine.ComputeResult {
	n := int(k.Arg().(IntArg))
	next := CycleKey((n + 1) % cycleRingSize)
	val, ok := env.GetValue(next)
	if !ok {
		return engine.ComputeResult{Restart: true}
	}
	return engine.ComputeResult{Value: val.(int) + 1}
})

// CycleKey interns a Cycle ring member.
func CycleKey(n int) *key.Key { return internerFor.Intern(CycleTag, IntArg(n), 0) }
