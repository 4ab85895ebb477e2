package key

import (
	"sync"
	"weak"
)

// Interner deduplicates Keys so that value-equal (tag, arg) pairs always
// resolve to the same *Key, enabling pointer-equality comparisons and
// pointer-keyed maps on the hot path (node lookup, dep-set membership).
//
// Interning uses weak references (weak.Pointer, Go 1.24+): a Key that is
// not referenced anywhere else (no live Node Entry, no evaluator holding
// it) can be collected, and the Interner's own table entry is reclaimed on
// the next Shrink. A Key reachable through a Node Store entry is therefore
// guaranteed to stay reachable here too, since the Node Store holds the
// same pointer as a map key.
//
// Interner is safe for concurrent use.
type Interner struct {
	mu    sync.Mutex
	table map[string]weak.Pointer[Key]
}

// NewInterner creates an empty Interner.
func NewInterner() *Interner {
	return &Interner{table: make(map[string]weak.Pointer[Key])}
}

// Intern returns the canonical Key for (tag, arg), creating one if this is
// the first time this (tag, arg) pair has been seen (or if the previous
// Key for it has since been collected). Capabilities are fixed when the Key
// for a (tag, arg) pair is created: later calls for the same pair with a
// different caps value are a caller bug (capabilities are a property of
// the function-tag, not of a single call site) and the caps the live Key
// was created with win. Each distinct arg, and a Key recreated after
// collection, takes the caps of the call that creates it.
func (in *Interner) Intern(tag string, arg Arg, caps Capability) *Key {
	ck := internKey(tag, arg)

	in.mu.Lock()
	defer in.mu.Unlock()

	if wp, ok := in.table[ck]; ok {
		if k := wp.Value(); k != nil {
			return k
		}
	}

	k := &Key{tag: tag, arg: arg, cacheKey: ck, caps: caps}
	in.table[ck] = weak.Make(k)
	return k
}

// Shrink drops table entries whose Key has already been garbage collected.
// It is safe, but pointless, to call Shrink at any time; the Engine calls
// it during idle periods between evaluate() invocations (see runtime's
// idle-task handling).
func (in *Interner) Shrink() {
	in.mu.Lock()
	defer in.mu.Unlock()
	for ck, wp := range in.table {
		if wp.Value() == nil {
			delete(in.table, ck)
		}
	}
}

// Len returns the number of live entries in the interning table, including
// entries whose Key may have just become collectible but has not yet been
// reclaimed by Shrink. Exposed for tests and diagnostics.
func (in *Interner) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.table)
}
