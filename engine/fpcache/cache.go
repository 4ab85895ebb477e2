package fpcache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/latticebuild/evalengine/engine/fpcache/remote"
	"github.com/latticebuild/evalengine/engine/metrics"
)

// cacheKey is the deserialization-cache lookup key: a fingerprint plus the
// distinguisher that disambiguates coincidentally-identical payloads of
// different logical shapes.
type cacheKey struct {
	fp   Fingerprint
	dist Distinguisher
}

// DecodeFunc turns a stored payload back into a live value. Supplied by the
// caller, since the cache itself has no notion of the value's Go type.
type DecodeFunc func(payload []byte) (any, error)

// Cache is the Fingerprint Value Cache (spec.md section 4.5): a bidirectional
// map between content fingerprints and live values, with in-flight
// deduplication so concurrent requests for the same fingerprint or the same
// value share one remote round trip instead of racing independent ones.
//
// Entries live in plain maps guarded by a mutex and hold strong references
// to their values; they are not weak references. The Cache never evicts an
// entry, so it grows for as long as it is used, and Engine.DeleteIf does
// not touch it.
type Cache struct {
	mu     sync.RWMutex
	fp2val map[cacheKey]any
	val2fp map[any]Fingerprint

	remote  remote.Cache
	metrics *metrics.Metrics

	getGroup singleflight.Group
	putGroup singleflight.Group
}

// New creates a Cache. backend may be nil, in which case the cache holds
// only process-local entries and every miss is a genuine miss.
func New(backend remote.Cache, m *metrics.Metrics) *Cache {
	return &Cache{
		fp2val:  make(map[cacheKey]any),
		val2fp:  make(map[any]Fingerprint),
		remote:  backend,
		metrics: m,
	}
}

// GetOrClaimPut fingerprints value under dist and ensures it is stored,
// either because a prior call already stored it (a cache hit, returned
// immediately) or because this call — alone, or joined by any concurrent
// callers requesting the same fingerprint — performs the store exactly
// once via singleflight.
//
// On success the reverse map is populated, so a subsequent GetOrClaimGet
// for the returned fingerprint resolves locally without touching the
// remote backend.
func (c *Cache) GetOrClaimPut(ctx context.Context, value any, dist Distinguisher) (Fingerprint, error) {
	if fp, ok := c.lookupValue(value); ok {
		c.metrics.IncFPCacheHit("serialize")
		return fp, nil
	}

	fp, canon, err := Compute(value, dist)
	if err != nil {
		return "", err
	}

	result, err, _ := c.putGroup.Do(string(fp), func() (any, error) {
		if existing, ok := c.lookupValue(value); ok {
			return existing, nil
		}
		if c.remote != nil {
			if putErr := c.remote.Put(ctx, string(fp), canon); putErr != nil {
				return nil, fmt.Errorf("fpcache: put: %w", putErr)
			}
		}
		c.store(cacheKey{fp: fp, dist: dist}, value, fp)
		return fp, nil
	})
	if err != nil {
		c.metrics.IncFPCacheMiss("serialize")
		return "", err
	}
	c.metrics.IncFPCacheMiss("serialize")
	return result.(Fingerprint), nil
}

// GetOrClaimGet resolves fingerprint back to a value, either from a local
// entry (a prior put or get already populated it) or by fetching the
// payload from the remote backend and decoding it with decode. Concurrent
// callers for the same (fingerprint, dist) share one fetch via singleflight.
func (c *Cache) GetOrClaimGet(ctx context.Context, fp Fingerprint, dist Distinguisher, decode DecodeFunc) (any, error) {
	key := cacheKey{fp: fp, dist: dist}
	if v, ok := c.lookupFingerprint(key); ok {
		c.metrics.IncFPCacheHit("deserialize")
		return v, nil
	}

	result, err, _ := c.getGroup.Do(string(fp)+string(dist), func() (any, error) {
		if v, ok := c.lookupFingerprint(key); ok {
			return v, nil
		}
		if c.remote == nil {
			return nil, fmt.Errorf("fpcache: no remote backend configured, fingerprint %s not found locally", fp)
		}
		payload, found, err := c.remote.Get(ctx, string(fp))
		if err != nil {
			return nil, fmt.Errorf("fpcache: get: %w", err)
		}
		if !found {
			return nil, fmt.Errorf("fpcache: fingerprint %s not found", fp)
		}
		value, err := decode(payload)
		if err != nil {
			return nil, fmt.Errorf("fpcache: decode: %w", err)
		}
		c.store(key, value, fp)
		return value, nil
	})
	if err != nil {
		c.metrics.IncFPCacheMiss("deserialize")
		return nil, err
	}
	c.metrics.IncFPCacheMiss("deserialize")
	return result, nil
}

func (c *Cache) lookupValue(value any) (Fingerprint, bool) {
	if !isComparable(value) {
		return "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	fp, ok := c.val2fp[value]
	return fp, ok
}

func (c *Cache) lookupFingerprint(key cacheKey) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.fp2val[key]
	return v, ok
}

func (c *Cache) store(key cacheKey, value any, fp Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fp2val[key] = value
	if isComparable(value) {
		c.val2fp[value] = fp
	}
}

// isComparable reports whether value can safely be used as a Go map key.
// Evaluator values that are slices, maps, or funcs skip the serialization
// cache's reverse lookup (they can still be fingerprinted and put; only the
// "have I already seen this exact value" fast path is unavailable).
func isComparable(value any) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	m := map[any]struct{}{}
	m[value] = struct{}{}
	return true
}
