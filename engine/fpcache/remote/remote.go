// Package remote defines the storage backends the Fingerprint Value Cache
// falls back to on a miss, and persists to on a commit: a remote action
// cache keyed purely by fingerprint, content-addressed and backend-agnostic
// (spec.md section 4.5, "may be backed by a remote cache").
package remote

import "context"

// Getter retrieves a previously stored fingerprinted payload.
type Getter interface {
	Get(ctx context.Context, fingerprint string) (payload []byte, found bool, err error)
}

// Putter stores a fingerprinted payload. Put is expected to be idempotent:
// storing the same fingerprint twice with the same payload must not error.
type Putter interface {
	Put(ctx context.Context, fingerprint string, payload []byte) error
}

// Cache is the full surface a remote backend exposes to fpcache.Cache.
type Cache interface {
	Getter
	Putter
}
