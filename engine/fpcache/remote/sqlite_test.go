package remote

import (
	"context"
	"testing"
)

func TestSQLiteCacheRoundTrips(t *testing.T) {
	c, err := NewSQLiteCache(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteCache: %v", err)
	}
	defer c.Close()

	ctx := context.Background()

	if _, found, err := c.Get(ctx, "missing"); err != nil || found {
		t.Fatalf("expected a miss on an empty database, got found=%v err=%v", found, err)
	}

	if err := c.Put(ctx, "fp1", []byte("hello world")); err != nil {
		t.Fatalf("put: %v", err)
	}

	payload, found, err := c.Get(ctx, "fp1")
	if err != nil || !found {
		t.Fatalf("expected a hit after put, got found=%v err=%v", found, err)
	}
	if string(payload) != "hello world" {
		t.Fatalf("expected payload %q, got %q", "hello world", payload)
	}
}

func TestSQLiteCachePutIsIdempotent(t *testing.T) {
	c, err := NewSQLiteCache(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteCache: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Put(ctx, "fp1", []byte("v1")); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if err := c.Put(ctx, "fp1", []byte("v1")); err != nil {
		t.Fatalf("second put of the same fingerprint must not error: %v", err)
	}

	payload, found, err := c.Get(ctx, "fp1")
	if err != nil || !found {
		t.Fatalf("expected entry to survive a duplicate put, found=%v err=%v", found, err)
	}
	if string(payload) != "v1" {
		t.Fatalf("expected original payload %q, got %q", "v1", payload)
	}
}
