package engine

import "github.com/latticebuild/evalengine/engine/key"

// color is a node's DFS visitation state in the wait-for graph.
type color int

const (
	white color = iota // unvisited
	gray               // on the current DFS stack
	black              // fully explored
)

// detectCycles builds the wait-for graph over every currently Evaluating
// Node Entry (an edge k -> d means k is blocked on d) and runs recursive
// DFS cycle detection over it, spec.md section 4.5. It is only meaningful
// to call this when the frontier is empty and no worker is running: a
// cycle is the only way a set of Evaluating nodes can be simultaneously
// stuck with nothing left to schedule.
func detectCycles(store *NodeStore) [][]*key.Key {
	entries := liveEvaluating(store)
	colors := make(map[*key.Key]color, len(entries))
	onStack := make(map[*key.Key]int) // key -> index in the current stack
	var stack []*key.Key
	var cycles [][]*key.Key

	var visit func(k *key.Key)
	visit = func(k *key.Key) {
		if colors[k] == black {
			return
		}
		if colors[k] == gray {
			start := onStack[k]
			cycle := append([]*key.Key(nil), stack[start:]...)
			cycles = append(cycles, cycle)
			return
		}
		entry, ok := entries[k]
		if !ok {
			colors[k] = black
			return
		}
		colors[k] = gray
		onStack[k] = len(stack)
		stack = append(stack, k)
		for _, dep := range entry.waitEdges() {
			visit(dep)
		}
		stack = stack[:len(stack)-1]
		delete(onStack, k)
		colors[k] = black
	}

	for k := range entries {
		if colors[k] == white {
			visit(k)
		}
	}
	return cycles
}

func liveEvaluating(store *NodeStore) map[*key.Key]*NodeEntry {
	out := make(map[*key.Key]*NodeEntry)
	for _, snap := range store.Snapshot() {
		entry, ok := store.Get(snap.Key)
		if !ok {
			continue
		}
		entry.mu.Lock()
		evaluating := entry.state == stateEvaluating
		entry.mu.Unlock()
		if evaluating {
			out[snap.Key] = entry
		}
	}
	return out
}
