package engine

import (
	"sync"

	"github.com/latticebuild/evalengine/engine/key"
)

// NodeStore is the thread-safe table mapping a Key to its Node Entry. The
// store owns all Node Entries exclusively; callers never construct one
// directly. Per-entry state is protected by NodeEntry's own mutex, not by
// the store, so the store's only job is atomic get-or-create and the
// graph-wide invalidation walk.
type NodeStore struct {
	entries sync.Map // map[*key.Key]*NodeEntry
}

// NewNodeStore creates an empty Node Store.
func NewNodeStore() *NodeStore {
	return &NodeStore{}
}

// CreateIfAbsent returns the canonical Node Entry for k, creating one in
// the Just-created lifecycle state if none exists yet.
func (s *NodeStore) CreateIfAbsent(k *key.Key) *NodeEntry {
	if v, ok := s.entries.Load(k); ok {
		return v.(*NodeEntry)
	}
	entry := newNodeEntry(k)
	actual, _ := s.entries.LoadOrStore(k, entry)
	return actual.(*NodeEntry)
}

// Get returns the entry for k, if one exists.
func (s *NodeStore) Get(k *key.Key) (*NodeEntry, bool) {
	v, ok := s.entries.Load(k)
	if !ok {
		return nil, false
	}
	return v.(*NodeEntry), true
}

// MarkAffected transitions each of keys from Done to Dirty (DirtyChange, a
// reported external change), then performs a breadth-first walk over their
// reverse deps, marking each transitively reached node Dirty as
// DirtyAffected. Nodes already Dirty or not yet built are left alone: a
// node that hasn't produced a value has nothing to invalidate.
func (s *NodeStore) MarkAffected(keys []*key.Key) {
	queue := make([]*key.Key, 0, len(keys))
	for _, k := range keys {
		if entry, ok := s.Get(k); ok {
			if entry.markDirty(DirtyChange) {
				queue = append(queue, k)
			}
		}
	}
	s.propagateAffected(queue)
}

// markAffectedOnly marks keys (and their transitive rdeps) Dirty as
// DirtyAffected without asserting the keys themselves changed value. This
// backs the Engine.MarkAffected entry point (spec.md section 6), which is
// weaker than Invalidate.
func (s *NodeStore) markAffectedOnly(keys []*key.Key) {
	queue := make([]*key.Key, 0, len(keys))
	for _, k := range keys {
		if entry, ok := s.Get(k); ok {
			if entry.markDirty(DirtyAffected) {
				queue = append(queue, k)
			}
		}
	}
	s.propagateAffected(queue)
}

func (s *NodeStore) propagateAffected(seed []*key.Key) {
	visited := make(map[*key.Key]struct{}, len(seed))
	queue := append([]*key.Key(nil), seed...)
	for _, k := range seed {
		visited[k] = struct{}{}
	}
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		entry, ok := s.Get(k)
		if !ok {
			continue
		}
		snap := entry.snapshot()
		for _, rdepKey := range snap.Rdeps {
			if _, seen := visited[rdepKey]; seen {
				continue
			}
			rdepEntry, ok := s.Get(rdepKey)
			if !ok {
				continue
			}
			if rdepEntry.markDirty(DirtyAffected) {
				visited[rdepKey] = struct{}{}
				queue = append(queue, rdepKey)
			}
		}
	}
}

// DeleteIf removes entries matching pred. A node is only actually dropped
// if it is not Evaluating (removing an in-flight node would violate I1/I2
// for whichever rdeps are waiting on it); callers that need to prune
// in-flight nodes should wait for the current evaluate() to finish first.
func (s *NodeStore) DeleteIf(pred func(k *key.Key, e *NodeEntry) bool) {
	s.entries.Range(func(k, v any) bool {
		entry := v.(*NodeEntry)
		entry.mu.Lock()
		evaluating := entry.state == stateEvaluating
		entry.mu.Unlock()
		if evaluating {
			return true
		}
		if pred(k.(*key.Key), entry) {
			s.entries.Delete(k)
		}
		return true
	})
}

// Len reports the number of entries currently tracked, for diagnostics.
func (s *NodeStore) Len() int {
	n := 0
	s.entries.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Snapshot returns a point-in-time view of every tracked node, for the
// read-only graph inspection listener (SPEC_FULL section 5).
func (s *NodeStore) Snapshot() []snapshot {
	var out []snapshot
	s.entries.Range(func(_, v any) bool {
		out = append(out, v.(*NodeEntry).snapshot())
		return true
	})
	return out
}
